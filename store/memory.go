package store

import (
	"encoding/hex"
	"fmt"
	"sync"
)

// Memory keeps everything in process. Intended for tests and ephemeral
// gateways; a restart loses all sessions.
type Memory struct {
	mu sync.RWMutex

	creds      map[string][]byte
	preKeys    map[string]map[uint32]PreKey
	sessions   map[string]map[string][]byte
	identities map[string]map[string][]byte
	senderKeys map[string]map[string][]byte
	syncKeys   map[string]map[string][]byte
	versions   map[string]map[string]uint64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		creds:      make(map[string][]byte),
		preKeys:    make(map[string]map[uint32]PreKey),
		sessions:   make(map[string]map[string][]byte),
		identities: make(map[string]map[string][]byte),
		senderKeys: make(map[string]map[string][]byte),
		syncKeys:   make(map[string]map[string][]byte),
		versions:   make(map[string]map[string]uint64),
	}
}

func (m *Memory) LoadCreds(sessionID string) (*AuthCreds, error) {
	m.mu.RLock()
	raw, ok := m.creds[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeCreds(raw)
}

func (m *Memory) SaveCreds(sessionID string, creds *AuthCreds) error {
	raw, err := encodeCreds(creds)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.creds[sessionID] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteCreds(sessionID string) error {
	m.mu.Lock()
	delete(m.creds, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutPreKeys(sessionID string, keys []PreKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.preKeys[sessionID]
	if bucket == nil {
		bucket = make(map[uint32]PreKey)
		m.preKeys[sessionID] = bucket
	}
	for _, k := range keys {
		bucket[k.KeyID] = k
	}
	return nil
}

func (m *Memory) GetPreKey(sessionID string, keyID uint32) (*PreKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.preKeys[sessionID][keyID]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (m *Memory) MarkPreKeyUsed(sessionID string, keyID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.preKeys[sessionID][keyID]
	if !ok {
		return fmt.Errorf("store: pre-key %d not found for session %s", keyID, sessionID)
	}
	k.Used = true
	m.preKeys[sessionID][keyID] = k
	return nil
}

func (m *Memory) CountUnusedPreKeys(sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, k := range m.preKeys[sessionID] {
		if !k.Used {
			count++
		}
	}
	return count, nil
}

func (m *Memory) PutSession(sessionID, jid string, device uint16, record []byte) error {
	m.putBlob(m.sessions, sessionID, deviceKey(jid, device), record)
	return nil
}

func (m *Memory) GetSession(sessionID, jid string, device uint16) ([]byte, error) {
	return m.getBlob(m.sessions, sessionID, deviceKey(jid, device)), nil
}

func (m *Memory) PutIdentity(sessionID, jid string, device uint16, key []byte) error {
	m.putBlob(m.identities, sessionID, deviceKey(jid, device), key)
	return nil
}

func (m *Memory) GetIdentity(sessionID, jid string, device uint16) ([]byte, error) {
	return m.getBlob(m.identities, sessionID, deviceKey(jid, device)), nil
}

func (m *Memory) PutSenderKey(sessionID, groupID, senderID string, record []byte) error {
	m.putBlob(m.senderKeys, sessionID, groupID+"/"+senderID, record)
	return nil
}

func (m *Memory) GetSenderKey(sessionID, groupID, senderID string) ([]byte, error) {
	return m.getBlob(m.senderKeys, sessionID, groupID+"/"+senderID), nil
}

func (m *Memory) PutAppStateSyncKey(sessionID string, keyID, data []byte) error {
	m.putBlob(m.syncKeys, sessionID, hex.EncodeToString(keyID), data)
	return nil
}

func (m *Memory) GetAppStateSyncKey(sessionID string, keyID []byte) ([]byte, error) {
	return m.getBlob(m.syncKeys, sessionID, hex.EncodeToString(keyID)), nil
}

func (m *Memory) PutAppStateVersion(sessionID, name string, version uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.versions[sessionID]
	if bucket == nil {
		bucket = make(map[string]uint64)
		m.versions[sessionID] = bucket
	}
	bucket[name] = version
	return nil
}

func (m *Memory) GetAppStateVersion(sessionID, name string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[sessionID][name]
	return v, ok, nil
}

func (m *Memory) RemoveAll(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, sessionID)
	delete(m.preKeys, sessionID)
	delete(m.sessions, sessionID)
	delete(m.identities, sessionID)
	delete(m.senderKeys, sessionID)
	delete(m.syncKeys, sessionID)
	delete(m.versions, sessionID)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) putBlob(table map[string]map[string][]byte, sessionID, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := table[sessionID]
	if bucket == nil {
		bucket = make(map[string][]byte)
		table[sessionID] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
}

func (m *Memory) getBlob(table map[string]map[string][]byte, sessionID, key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := table[sessionID][key]
	if !ok {
		return nil
	}
	return append([]byte(nil), value...)
}

func deviceKey(jid string, device uint16) string {
	return fmt.Sprintf("%s:%d", jid, device)
}
