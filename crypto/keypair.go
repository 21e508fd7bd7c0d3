package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair represents a Curve25519 key pair used for the Noise handshake,
// the device identity, and pre-keys. Instances are immutable once created.
type KeyPair struct {
	Pub  [32]byte
	Priv [32]byte
}

// GenerateKeyPair creates a new random Curve25519 key pair. The private
// key is clamped per RFC 7748 before the public key is derived, so the
// stored form can be fed straight back into FromPrivateKey.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	clampPrivateKey(&priv)
	return FromPrivateKey(priv)
}

// FromPrivateKey derives the key pair for an existing private key.
func FromPrivateKey(priv [32]byte) (*KeyPair, error) {
	if isZeroKey(priv) {
		return nil, errors.New("invalid private key: all zeros")
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{Priv: priv}
	copy(kp.Pub[:], pub)
	return kp, nil
}

type keyPairJSON struct {
	Pub  []byte `json:"public"`
	Priv []byte `json:"private"`
}

// MarshalJSON encodes both halves as base64, the form credential files
// use.
func (kp KeyPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(keyPairJSON{Pub: kp.Pub[:], Priv: kp.Priv[:]})
}

// UnmarshalJSON decodes the base64 form, enforcing 32-byte halves.
func (kp *KeyPair) UnmarshalJSON(data []byte) error {
	var raw keyPairJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Pub) != 32 || len(raw.Priv) != 32 {
		return fmt.Errorf("key pair halves must be 32 bytes, got %d/%d", len(raw.Pub), len(raw.Priv))
	}
	copy(kp.Pub[:], raw.Pub)
	copy(kp.Priv[:], raw.Priv)
	return nil
}

// SharedSecret performs X25519 Diffie-Hellman agreement between our
// private key and the peer's public key.
func SharedSecret(priv, pub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, err
	}
	return shared, nil
}

// RandomBytes returns n bytes of cryptographically secure randomness.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// clampPrivateKey applies the RFC 7748 scalar clamping in place.
func clampPrivateKey(priv *[32]byte) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
