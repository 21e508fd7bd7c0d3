package crypto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF expands ikm into length bytes of key material using HKDF-SHA256
// with the given salt and info. A nil salt and empty info match the
// Noise key-mixing convention.
func HKDF(ikm []byte, length int, salt, info []byte) ([]byte, error) {
	out := make([]byte, length)
	r := hkdf.New(sha256.New, ikm, salt, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HMACSHA256 computes HMAC-SHA256 over data with key.
func HMACSHA256(key []byte, data ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, d := range data {
		mac.Write(d)
	}
	return mac.Sum(nil)
}

// HMACEqual compares two MACs in constant time.
func HMACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// MD5 returns the MD5 digest of data. Only used for the client payload
// build hash; nothing security relevant depends on it.
func MD5(data []byte) []byte {
	sum := md5.Sum(data)
	return sum[:]
}
