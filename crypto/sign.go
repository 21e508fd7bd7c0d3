package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"
)

// SignatureSize is the length of an XEdDSA signature in bytes.
const SignatureSize = 64

// Sign produces an XEdDSA signature over message with a Curve25519
// private key. The Ed25519 public point is derived from the clamped
// Montgomery scalar and its sign bit is carried in the top bit of the
// final signature byte, so verifiers only ever need the Curve25519
// public key.
func Sign(priv [32]byte, message []byte) ([64]byte, error) {
	var random [64]byte
	if _, err := rand.Read(random[:]); err != nil {
		return [64]byte{}, err
	}
	return signWithRandom(priv, message, random)
}

func signWithRandom(priv [32]byte, message []byte, random [64]byte) ([64]byte, error) {
	var sig [64]byte

	a, err := edwards25519.NewScalar().SetBytesWithClamping(priv[:])
	if err != nil {
		return sig, fmt.Errorf("invalid signing key: %w", err)
	}
	A := (&edwards25519.Point{}).ScalarBaseMult(a)
	pub := A.Bytes()
	signBit := pub[31] & 0x80

	// r = H(priv || message || Z) reduced mod L. The random suffix keeps
	// the nonce unique even for identical messages.
	h := sha512.New()
	h.Write(priv[:])
	h.Write(message)
	h.Write(random[:])
	var rDigest [64]byte
	h.Sum(rDigest[:0])
	r, err := edwards25519.NewScalar().SetUniformBytes(rDigest[:])
	if err != nil {
		return sig, err
	}
	R := (&edwards25519.Point{}).ScalarBaseMult(r).Bytes()

	// k = H(R || A || message) reduced mod L, as in standard Ed25519.
	h.Reset()
	h.Write(R)
	h.Write(pub)
	h.Write(message)
	var kDigest [64]byte
	h.Sum(kDigest[:0])
	k, err := edwards25519.NewScalar().SetUniformBytes(kDigest[:])
	if err != nil {
		return sig, err
	}

	s := edwards25519.NewScalar().MultiplyAdd(k, a, r)

	copy(sig[:32], R)
	copy(sig[32:], s.Bytes())
	sig[63] &= 0x7f
	sig[63] |= signBit
	return sig, nil
}

// Verify checks an XEdDSA signature made by the Curve25519 key pub.
func Verify(pub [32]byte, message []byte, sig [64]byte) bool {
	edPub, err := montgomeryToEdwards(pub, sig[63]&0x80)
	if err != nil {
		return false
	}
	var clean [64]byte
	copy(clean[:], sig[:])
	clean[63] &= 0x7f
	return ed25519.Verify(ed25519.PublicKey(edPub[:]), message, clean[:])
}

// montgomeryToEdwards converts a Curve25519 public key u to the Ed25519
// encoding y = (u-1)/(u+1) with the supplied sign bit.
func montgomeryToEdwards(pub [32]byte, signBit byte) ([32]byte, error) {
	var out [32]byte
	u, err := new(field.Element).SetBytes(pub[:])
	if err != nil {
		return out, err
	}
	one := new(field.Element).One()
	denom := new(field.Element).Add(u, one)
	if denom.Equal(new(field.Element).Zero()) == 1 {
		return out, errors.New("invalid curve point")
	}
	denom.Invert(denom)
	num := new(field.Element).Subtract(u, one)
	y := new(field.Element).Multiply(num, denom)
	copy(out[:], y.Bytes())
	out[31] |= signBit
	return out, nil
}
