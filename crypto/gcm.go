package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// GCMIVSize is the nonce length AES-256-GCM is used with everywhere in
// the protocol.
const GCMIVSize = 12

// NewGCM builds an AES-256-GCM AEAD for the given 32-byte key.
func NewGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// AESGCMEncrypt seals plaintext with key/iv/aad.
func AESGCMEncrypt(key, iv, aad, plaintext []byte) ([]byte, error) {
	aead, err := NewGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("aes-gcm iv must be %d bytes, got %d", aead.NonceSize(), len(iv))
	}
	return aead.Seal(nil, iv, plaintext, aad), nil
}

// AESGCMDecrypt opens ciphertext with key/iv/aad. The error from a tag
// mismatch is returned unwrapped so callers can treat it uniformly.
func AESGCMDecrypt(key, iv, aad, ciphertext []byte) ([]byte, error) {
	aead, err := NewGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("aes-gcm iv must be %d bytes, got %d", aead.NonceSize(), len(iv))
	}
	return aead.Open(nil, iv, ciphertext, aad)
}
