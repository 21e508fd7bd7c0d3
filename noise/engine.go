package noise

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/walink/crypto"
)

// Mode is the protocol name hashed into the initial handshake state.
const Mode = "Noise_XX_25519_AESGCM_SHA256"

var (
	// ErrDecrypt indicates an AEAD open failure: either a tampered
	// frame or a counter that drifted from the peer's.
	ErrDecrypt = errors.New("noise: decrypt failed")
)

// Role selects which half of the final key split an engine takes.
type Role uint8

const (
	// Initiator is the connecting client.
	Initiator Role = iota
	// Responder mirrors the server side; used by test harnesses.
	Responder
)

// Engine holds the cipher state of one connection. Counters start at
// zero, reset on every key mix, and advance once per successful cipher
// operation; before finishInit both directions share the write counter.
type Engine struct {
	role         Role
	hash         []byte
	salt         []byte
	encKey       cipher.AEAD
	decKey       cipher.AEAD
	writeCounter uint32
	readCounter  uint32
	finished     bool
}

// NewEngine initializes the handshake state from the protocol name and
// mixes in the connection header. The initiator must authenticate its
// ephemeral public key before sending ClientHello.
func NewEngine(role Role, header []byte) (*Engine, error) {
	var hash []byte
	if len(Mode) == 32 {
		hash = []byte(Mode)
	} else {
		hash = crypto.SHA256([]byte(Mode))
	}
	e := &Engine{
		role: role,
		hash: hash,
		salt: append([]byte(nil), hash...),
	}
	if err := e.setKeys(hash, hash); err != nil {
		return nil, err
	}
	e.Authenticate(header)
	return e, nil
}

func (e *Engine) setKeys(enc, dec []byte) error {
	var err error
	if e.encKey, err = crypto.NewGCM(enc); err != nil {
		return fmt.Errorf("noise: install write key: %w", err)
	}
	if e.decKey, err = crypto.NewGCM(dec); err != nil {
		return fmt.Errorf("noise: install read key: %w", err)
	}
	return nil
}

// Authenticate folds data into the running handshake hash. It is a
// no-op once the transport phase has begun.
func (e *Engine) Authenticate(data []byte) {
	if e.finished {
		return
	}
	e.hash = crypto.SHA256(append(append([]byte(nil), e.hash...), data...))
}

// MixIntoKey derives a new shared key from DH output, replacing both
// cipher directions and resetting the counters.
func (e *Engine) MixIntoKey(data []byte) error {
	out, err := crypto.HKDF(data, 64, e.salt, nil)
	if err != nil {
		return fmt.Errorf("noise: key mix: %w", err)
	}
	e.salt = out[:32]
	if err := e.setKeys(out[32:], out[32:]); err != nil {
		return err
	}
	e.readCounter = 0
	e.writeCounter = 0
	return nil
}

// Encrypt seals plaintext with the write key. The running hash is the
// associated data during the handshake; afterwards it is empty.
func (e *Engine) Encrypt(plaintext []byte) []byte {
	ciphertext := e.encKey.Seal(nil, generateIV(e.writeCounter), plaintext, e.hash)
	e.writeCounter++
	e.Authenticate(ciphertext)
	return ciphertext
}

// Decrypt opens ciphertext with the read key. During the handshake the
// shared write counter sequences both directions; afterwards the read
// counter advances independently.
func (e *Engine) Decrypt(ciphertext []byte) ([]byte, error) {
	var counter uint32
	if e.finished {
		counter = e.readCounter
	} else {
		counter = e.writeCounter
	}
	plaintext, err := e.decKey.Open(nil, generateIV(counter), ciphertext, e.hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if e.finished {
		e.readCounter++
	} else {
		e.writeCounter++
	}
	e.Authenticate(ciphertext)
	return plaintext, nil
}

// FinishInit derives the transport keys, clears the handshake hash and
// starts independent read/write counters. The initiator writes with the
// first derived half; the responder with the second.
func (e *Engine) FinishInit() error {
	out, err := crypto.HKDF(nil, 64, e.salt, nil)
	if err != nil {
		return fmt.Errorf("noise: finish init: %w", err)
	}
	enc, dec := out[:32], out[32:]
	if e.role == Responder {
		enc, dec = dec, enc
	}
	if err := e.setKeys(enc, dec); err != nil {
		return err
	}
	e.hash = nil
	e.readCounter = 0
	e.writeCounter = 0
	e.finished = true
	return nil
}

// IsFinished reports whether the transport phase has begun.
func (e *Engine) IsFinished() bool {
	return e.finished
}

// generateIV builds the 96-bit GCM IV: eight zero bytes followed by the
// big-endian message counter.
func generateIV(counter uint32) []byte {
	iv := make([]byte, crypto.GCMIVSize)
	binary.BigEndian.PutUint32(iv[8:], counter)
	return iv
}
