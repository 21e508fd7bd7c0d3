package store

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

// Key schema, one table per prefix:
//
//	instance/<id>                       credentials (JSON)
//	preKey/<id>/<keyId BE4>             one-time pre-key (JSON)
//	session/<id>/<jid>:<device>         Signal session record (raw)
//	identity/<id>/<jid>:<device>        trusted identity key (raw)
//	senderKey/<id>/<group>/<sender>     group sender key (raw)
//	appStateKey/<id>/<keyId hex>        app-state sync key (raw)
//	appStateVersion/<id>/<name>         collection version (BE8)
const (
	prefixInstance        = "instance/"
	prefixPreKey          = "preKey/"
	prefixSession         = "session/"
	prefixIdentity        = "identity/"
	prefixSenderKey       = "senderKey/"
	prefixAppStateKey     = "appStateKey/"
	prefixAppStateVersion = "appStateVersion/"
)

// Pebble is the durable store, one LSM database for every session.
type Pebble struct {
	db  *pebble.DB
	log *logrus.Entry
}

var _ Store = (*Pebble)(nil)

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open pebble at %s: %w", path, err)
	}
	return &Pebble{
		db:  db,
		log: logrus.WithField("store", path),
	}, nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}

func (p *Pebble) LoadCreds(sessionID string) (*AuthCreds, error) {
	raw, err := p.get(instanceKey(sessionID))
	if err != nil || raw == nil {
		return nil, err
	}
	return decodeCreds(raw)
}

func (p *Pebble) SaveCreds(sessionID string, creds *AuthCreds) error {
	raw, err := encodeCreds(creds)
	if err != nil {
		return err
	}
	if err := p.db.Set(instanceKey(sessionID), raw, pebble.Sync); err != nil {
		return fmt.Errorf("store: save creds: %w", err)
	}
	return nil
}

func (p *Pebble) DeleteCreds(sessionID string) error {
	if err := p.db.Delete(instanceKey(sessionID), pebble.Sync); err != nil {
		return fmt.Errorf("store: delete creds: %w", err)
	}
	return nil
}

func (p *Pebble) PutPreKeys(sessionID string, keys []PreKey) error {
	batch := p.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		raw, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("store: encode pre-key %d: %w", k.KeyID, err)
		}
		if err := batch.Set(preKeyKey(sessionID, k.KeyID), raw, nil); err != nil {
			return fmt.Errorf("store: batch pre-key %d: %w", k.KeyID, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("store: commit pre-keys: %w", err)
	}
	return nil
}

func (p *Pebble) GetPreKey(sessionID string, keyID uint32) (*PreKey, error) {
	raw, err := p.get(preKeyKey(sessionID, keyID))
	if err != nil || raw == nil {
		return nil, err
	}
	var k PreKey
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("store: decode pre-key %d: %w", keyID, err)
	}
	return &k, nil
}

func (p *Pebble) MarkPreKeyUsed(sessionID string, keyID uint32) error {
	k, err := p.GetPreKey(sessionID, keyID)
	if err != nil {
		return err
	}
	if k == nil {
		return fmt.Errorf("store: pre-key %d not found for session %s", keyID, sessionID)
	}
	k.Used = true
	raw, err := json.Marshal(k)
	if err != nil {
		return fmt.Errorf("store: encode pre-key %d: %w", keyID, err)
	}
	if err := p.db.Set(preKeyKey(sessionID, keyID), raw, pebble.Sync); err != nil {
		return fmt.Errorf("store: mark pre-key used: %w", err)
	}
	return nil
}

func (p *Pebble) CountUnusedPreKeys(sessionID string) (int, error) {
	prefix := []byte(prefixPreKey + sessionID + "/")
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("store: pre-key iterator: %w", err)
	}
	defer iter.Close()
	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var k PreKey
		if err := json.Unmarshal(iter.Value(), &k); err != nil {
			p.log.WithError(err).Warn("skipping undecodable pre-key record")
			continue
		}
		if !k.Used {
			count++
		}
	}
	return count, iter.Error()
}

func (p *Pebble) PutSession(sessionID, jid string, device uint16, record []byte) error {
	return p.set(blobKey(prefixSession, sessionID, deviceKey(jid, device)), record)
}

func (p *Pebble) GetSession(sessionID, jid string, device uint16) ([]byte, error) {
	return p.get(blobKey(prefixSession, sessionID, deviceKey(jid, device)))
}

func (p *Pebble) PutIdentity(sessionID, jid string, device uint16, key []byte) error {
	return p.set(blobKey(prefixIdentity, sessionID, deviceKey(jid, device)), key)
}

func (p *Pebble) GetIdentity(sessionID, jid string, device uint16) ([]byte, error) {
	return p.get(blobKey(prefixIdentity, sessionID, deviceKey(jid, device)))
}

func (p *Pebble) PutSenderKey(sessionID, groupID, senderID string, record []byte) error {
	return p.set(blobKey(prefixSenderKey, sessionID, groupID+"/"+senderID), record)
}

func (p *Pebble) GetSenderKey(sessionID, groupID, senderID string) ([]byte, error) {
	return p.get(blobKey(prefixSenderKey, sessionID, groupID+"/"+senderID))
}

func (p *Pebble) PutAppStateSyncKey(sessionID string, keyID, data []byte) error {
	return p.set(blobKey(prefixAppStateKey, sessionID, hex.EncodeToString(keyID)), data)
}

func (p *Pebble) GetAppStateSyncKey(sessionID string, keyID []byte) ([]byte, error) {
	return p.get(blobKey(prefixAppStateKey, sessionID, hex.EncodeToString(keyID)))
}

func (p *Pebble) PutAppStateVersion(sessionID, name string, version uint64) error {
	var value [8]byte
	binary.BigEndian.PutUint64(value[:], version)
	return p.set(blobKey(prefixAppStateVersion, sessionID, name), value[:])
}

func (p *Pebble) GetAppStateVersion(sessionID, name string) (uint64, bool, error) {
	raw, err := p.get(blobKey(prefixAppStateVersion, sessionID, name))
	if err != nil || raw == nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("store: app-state version for %s is %d bytes", name, len(raw))
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// RemoveAll deletes the credential record and every per-session table
// in one atomic batch.
func (p *Pebble) RemoveAll(sessionID string) error {
	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(instanceKey(sessionID), nil); err != nil {
		return fmt.Errorf("store: delete creds: %w", err)
	}
	for _, prefix := range []string{
		prefixPreKey, prefixSession, prefixIdentity,
		prefixSenderKey, prefixAppStateKey, prefixAppStateVersion,
	} {
		start := []byte(prefix + sessionID + "/")
		if err := batch.DeleteRange(start, upperBound(start), nil); err != nil {
			return fmt.Errorf("store: delete %s table: %w", prefix, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("store: commit removal: %w", err)
	}
	p.log.WithField("session_id", sessionID).Info("removed all session state")
	return nil
}

func (p *Pebble) get(key []byte) ([]byte, error) {
	raw, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	value := append([]byte(nil), raw...)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("store: release %s: %w", key, err)
	}
	return value, nil
}

func (p *Pebble) set(key, value []byte) error {
	if err := p.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

func instanceKey(sessionID string) []byte {
	return []byte(prefixInstance + sessionID)
}

func preKeyKey(sessionID string, keyID uint32) []byte {
	key := make([]byte, 0, len(prefixPreKey)+len(sessionID)+5)
	key = append(key, prefixPreKey...)
	key = append(key, sessionID...)
	key = append(key, '/')
	return binary.BigEndian.AppendUint32(key, keyID)
}

func blobKey(prefix, sessionID, rest string) []byte {
	return []byte(prefix + sessionID + "/" + rest)
}

// upperBound returns the smallest key greater than every key with the
// given prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
