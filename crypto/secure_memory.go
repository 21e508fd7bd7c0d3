package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe overwrites a sensitive buffer with zeros. Handshake shared
// secrets and spent ephemeral keys pass through here so they do not
// linger on the heap once the transport keys are derived.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	// Keep both buffers reachable so the zeroing is not optimized out.
	runtime.KeepAlive(data)
	runtime.KeepAlive(zeros)

	return nil
}

// ZeroBytes wipes data, ignoring the nil-slice error.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKeyPair scrubs the private half of a spent key pair. The public
// half is not secret and stays intact.
func WipeKeyPair(kp *KeyPair) error {
	if kp == nil {
		return errors.New("cannot wipe nil KeyPair")
	}
	return SecureWipe(kp.Priv[:])
}
