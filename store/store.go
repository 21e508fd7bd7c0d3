package store

// Store is the durable container shared by every session. All loads
// return (nil, nil) — or the zero value with found=false — when no
// record exists; absence is not an error. Writes are atomic per call
// and serialized per session key by the implementation.
type Store interface {
	// LoadCreds returns the credential record, or (nil, nil) when the
	// session has never been saved.
	LoadCreds(sessionID string) (*AuthCreds, error)
	// SaveCreds validates and atomically replaces the credential
	// record.
	SaveCreds(sessionID string, creds *AuthCreds) error
	// DeleteCreds removes the credential record only; key tables stay.
	DeleteCreds(sessionID string) error

	// PutPreKeys stores a batch of one-time pre-keys.
	PutPreKeys(sessionID string, keys []PreKey) error
	// GetPreKey returns one pre-key, or (nil, nil) when absent.
	GetPreKey(sessionID string, keyID uint32) (*PreKey, error)
	// MarkPreKeyUsed flags a pre-key as consumed without deleting it.
	MarkPreKeyUsed(sessionID string, keyID uint32) error
	// CountUnusedPreKeys reports how many stored pre-keys are still
	// available.
	CountUnusedPreKeys(sessionID string) (int, error)

	// PutSession stores a per-peer Signal session record.
	PutSession(sessionID, jid string, device uint16, record []byte) error
	// GetSession returns a session record, or (nil, nil) when absent.
	GetSession(sessionID, jid string, device uint16) ([]byte, error)

	// PutIdentity stores a trusted identity key for a peer device.
	PutIdentity(sessionID, jid string, device uint16, key []byte) error
	// GetIdentity returns an identity key, or (nil, nil) when absent.
	GetIdentity(sessionID, jid string, device uint16) ([]byte, error)

	// PutSenderKey stores a group sender-key record.
	PutSenderKey(sessionID, groupID, senderID string, record []byte) error
	// GetSenderKey returns a sender-key record, or (nil, nil) when
	// absent.
	GetSenderKey(sessionID, groupID, senderID string) ([]byte, error)

	// PutAppStateSyncKey stores an app-state sync key blob.
	PutAppStateSyncKey(sessionID string, keyID, data []byte) error
	// GetAppStateSyncKey returns a sync key blob, or (nil, nil) when
	// absent.
	GetAppStateSyncKey(sessionID string, keyID []byte) ([]byte, error)

	// PutAppStateVersion records the per-collection app-state version.
	PutAppStateVersion(sessionID, name string, version uint64) error
	// GetAppStateVersion returns the recorded version, or (0, false)
	// when the collection has never synced.
	GetAppStateVersion(sessionID, name string) (uint64, bool, error)

	// RemoveAll deletes the credential record and cascades across every
	// per-session table.
	RemoveAll(sessionID string) error

	// Close releases the underlying resources.
	Close() error
}

// Keys scopes a Store to one session's key tables; sessions hold a Keys
// instead of threading their id through every call.
type Keys struct {
	store     Store
	sessionID string
}

// NewKeys binds a store to a session id.
func NewKeys(s Store, sessionID string) *Keys {
	return &Keys{store: s, sessionID: sessionID}
}

func (k *Keys) PutPreKeys(keys []PreKey) error {
	return k.store.PutPreKeys(k.sessionID, keys)
}

func (k *Keys) GetPreKey(keyID uint32) (*PreKey, error) {
	return k.store.GetPreKey(k.sessionID, keyID)
}

func (k *Keys) MarkPreKeyUsed(keyID uint32) error {
	return k.store.MarkPreKeyUsed(k.sessionID, keyID)
}

func (k *Keys) CountUnusedPreKeys() (int, error) {
	return k.store.CountUnusedPreKeys(k.sessionID)
}

func (k *Keys) PutSession(jid string, device uint16, record []byte) error {
	return k.store.PutSession(k.sessionID, jid, device, record)
}

func (k *Keys) GetSession(jid string, device uint16) ([]byte, error) {
	return k.store.GetSession(k.sessionID, jid, device)
}

func (k *Keys) PutIdentity(jid string, device uint16, key []byte) error {
	return k.store.PutIdentity(k.sessionID, jid, device, key)
}

func (k *Keys) GetIdentity(jid string, device uint16) ([]byte, error) {
	return k.store.GetIdentity(k.sessionID, jid, device)
}

func (k *Keys) PutSenderKey(groupID, senderID string, record []byte) error {
	return k.store.PutSenderKey(k.sessionID, groupID, senderID, record)
}

func (k *Keys) GetSenderKey(groupID, senderID string) ([]byte, error) {
	return k.store.GetSenderKey(k.sessionID, groupID, senderID)
}

func (k *Keys) PutAppStateSyncKey(keyID, data []byte) error {
	return k.store.PutAppStateSyncKey(k.sessionID, keyID, data)
}

func (k *Keys) GetAppStateSyncKey(keyID []byte) ([]byte, error) {
	return k.store.GetAppStateSyncKey(k.sessionID, keyID)
}

func (k *Keys) PutAppStateVersion(name string, version uint64) error {
	return k.store.PutAppStateVersion(k.sessionID, name, version)
}

func (k *Keys) GetAppStateVersion(name string) (uint64, bool, error) {
	return k.store.GetAppStateVersion(k.sessionID, name)
}
