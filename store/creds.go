package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/walink/crypto"
)

var (
	// ErrInvalidCreds indicates a credential record that violates one of
	// the structural invariants and must not be persisted.
	ErrInvalidCreds = errors.New("store: invalid credentials")
)

// MaxRegistrationID bounds the registration id range (1..16383).
const MaxRegistrationID = 16383

// Contact identifies the account this session is linked to.
type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	LID  string `json:"lid,omitempty"`
}

// SignedPreKey is the medium-term pre-key, signed by the identity key
// over the DJB-prefixed public (0x05 || pub).
type SignedPreKey struct {
	KeyID     uint32         `json:"keyId"`
	KeyPair   crypto.KeyPair `json:"keyPair"`
	Signature [64]byte       `json:"-"`
}

type signedPreKeyJSON struct {
	KeyID     uint32         `json:"keyId"`
	KeyPair   crypto.KeyPair `json:"keyPair"`
	Signature []byte         `json:"signature"`
}

// MarshalJSON writes the signature as a base64 buffer like the key
// halves.
func (s SignedPreKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(signedPreKeyJSON{
		KeyID:     s.KeyID,
		KeyPair:   s.KeyPair,
		Signature: s.Signature[:],
	})
}

// UnmarshalJSON enforces the 64-byte signature length.
func (s *SignedPreKey) UnmarshalJSON(data []byte) error {
	var raw signedPreKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Signature) != 64 {
		return fmt.Errorf("signed pre-key signature must be 64 bytes, got %d", len(raw.Signature))
	}
	s.KeyID = raw.KeyID
	s.KeyPair = raw.KeyPair
	copy(s.Signature[:], raw.Signature)
	return nil
}

// PreKey is a one-time pre-key. Used keys stay on disk until retention
// removes them.
type PreKey struct {
	KeyID   uint32         `json:"keyId"`
	KeyPair crypto.KeyPair `json:"keyPair"`
	Used    bool           `json:"used,omitempty"`
}

// SignalIdentity records a trusted identity key for a peer device. Key
// is the 33-byte DJB-prefixed public.
type SignalIdentity struct {
	JID    string `json:"jid"`
	Device uint16 `json:"device"`
	Key    []byte `json:"key"`
}

// AuthCreds is the durable cryptographic state of one session. A fresh
// record is unregistered; pair-success fills in Me and flips Registered.
type AuthCreds struct {
	NoiseKey                 crypto.KeyPair   `json:"noiseKey"`
	SignedIdentityKey        crypto.KeyPair   `json:"signedIdentityKey"`
	SignedPreKey             SignedPreKey     `json:"signedPreKey"`
	RegistrationID           uint32           `json:"registrationId"`
	AdvSecretKey             [32]byte         `json:"-"`
	PairingEphemeralKey      crypto.KeyPair   `json:"pairingEphemeralKey"`
	NextPreKeyID             uint32           `json:"nextPreKeyId"`
	FirstUnuploadedPreKeyID  uint32           `json:"firstUnuploadedPreKeyId"`
	ServerHasPreKeys         bool             `json:"serverHasPreKeys"`
	Me                       *Contact         `json:"me,omitempty"`
	Platform                 string           `json:"platform,omitempty"`
	Registered               bool             `json:"registered"`
	CompanionKey             []byte           `json:"companionKey,omitempty"`
	LastAccountSyncTimestamp int64            `json:"lastAccountSyncTimestamp,omitempty"`
	SignalIdentities         []SignalIdentity `json:"signalIdentities,omitempty"`
}

// MarshalJSON keeps the ADV secret in the same base64 buffer form as
// every other key.
func (c AuthCreds) MarshalJSON() ([]byte, error) {
	type alias AuthCreds
	return json.Marshal(struct {
		alias
		AdvSecretKey []byte `json:"advSecretKey"`
	}{alias: alias(c), AdvSecretKey: c.AdvSecretKey[:]})
}

// UnmarshalJSON enforces the 32-byte ADV secret.
func (c *AuthCreds) UnmarshalJSON(data []byte) error {
	type alias AuthCreds
	var raw struct {
		alias
		AdvSecretKey []byte `json:"advSecretKey"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.AdvSecretKey) != 32 {
		return fmt.Errorf("adv secret must be 32 bytes, got %d", len(raw.AdvSecretKey))
	}
	*c = AuthCreds(raw.alias)
	copy(c.AdvSecretKey[:], raw.AdvSecretKey)
	return nil
}

// NewCreds generates a fresh unregistered credential set: noise and
// identity key pairs, a signed pre-key with id 1, a random registration
// id in 1..16383 and a random ADV secret.
func NewCreds() (*AuthCreds, error) {
	noiseKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("store: generate noise key: %w", err)
	}
	identityKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("store: generate identity key: %w", err)
	}
	pairingKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("store: generate pairing key: %w", err)
	}
	signedPreKey, err := NewSignedPreKey(1, identityKey)
	if err != nil {
		return nil, err
	}

	regidBytes, err := crypto.RandomBytes(2)
	if err != nil {
		return nil, fmt.Errorf("store: registration id: %w", err)
	}
	regid := (uint32(regidBytes[0])<<8|uint32(regidBytes[1]))%MaxRegistrationID + 1

	advSecret, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("store: adv secret: %w", err)
	}

	creds := &AuthCreds{
		NoiseKey:                *noiseKey,
		SignedIdentityKey:       *identityKey,
		SignedPreKey:            *signedPreKey,
		RegistrationID:          regid,
		PairingEphemeralKey:     *pairingKey,
		NextPreKeyID:            1,
		FirstUnuploadedPreKeyID: 1,
	}
	copy(creds.AdvSecretKey[:], advSecret)
	return creds, nil
}

// NewSignedPreKey generates a key pair and signs its DJB-prefixed
// public with the identity key.
func NewSignedPreKey(keyID uint32, identity *crypto.KeyPair) (*SignedPreKey, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("store: generate signed pre-key: %w", err)
	}
	prefixed := append([]byte{0x05}, kp.Pub[:]...)
	sig, err := crypto.Sign(identity.Priv, prefixed)
	if err != nil {
		return nil, fmt.Errorf("store: sign pre-key: %w", err)
	}
	return &SignedPreKey{KeyID: keyID, KeyPair: *kp, Signature: sig}, nil
}

// Validate checks the structural invariants before a save.
func (c *AuthCreds) Validate() error {
	if c.RegistrationID == 0 || c.RegistrationID > MaxRegistrationID {
		return fmt.Errorf("%w: registration id %d out of range", ErrInvalidCreds, c.RegistrationID)
	}
	if c.NextPreKeyID < c.FirstUnuploadedPreKeyID {
		return fmt.Errorf("%w: nextPreKeyId %d < firstUnuploadedPreKeyId %d",
			ErrInvalidCreds, c.NextPreKeyID, c.FirstUnuploadedPreKeyID)
	}
	if c.Registered && (c.Me == nil || c.Me.ID == "") {
		return fmt.Errorf("%w: registered without an account id", ErrInvalidCreds)
	}
	if c.CompanionKey != nil && len(c.CompanionKey) != 32 {
		return fmt.Errorf("%w: companion key must be 32 bytes", ErrInvalidCreds)
	}
	return nil
}

// encodeCreds validates and serializes a credential record for
// storage.
func encodeCreds(c *AuthCreds) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidCreds)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("store: encode creds: %w", err)
	}
	return raw, nil
}

func decodeCreds(raw []byte) (*AuthCreds, error) {
	var c AuthCreds
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("store: decode creds: %w", err)
	}
	return &c, nil
}

// Clone returns an independent copy: the Me contact and every byte
// slice are detached, so mutating the clone never touches the live
// record.
func (c *AuthCreds) Clone() *AuthCreds {
	if c == nil {
		return nil
	}
	out := *c
	if c.Me != nil {
		me := *c.Me
		out.Me = &me
	}
	if c.CompanionKey != nil {
		out.CompanionKey = append([]byte(nil), c.CompanionKey...)
	}
	if c.SignalIdentities != nil {
		out.SignalIdentities = make([]SignalIdentity, len(c.SignalIdentities))
		for i, ident := range c.SignalIdentities {
			ident.Key = append([]byte(nil), ident.Key...)
			out.SignalIdentities[i] = ident
		}
	}
	return &out
}

// Complete reports whether the record can drive a reconnect: a linked
// account id plus live noise and identity keys.
func (c *AuthCreds) Complete() bool {
	if c == nil || c.Me == nil || c.Me.ID == "" {
		return false
	}
	var zero [32]byte
	return c.NoiseKey.Priv != zero && c.SignedIdentityKey.Priv != zero
}
