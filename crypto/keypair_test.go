package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	if isZeroKey(kp.Pub) {
		t.Error("public key is all zeros")
	}
	if isZeroKey(kp.Priv) {
		t.Error("private key is all zeros")
	}

	// Clamping must hold so the stored key round-trips.
	if kp.Priv[0]&7 != 0 {
		t.Error("private key low bits not cleared")
	}
	if kp.Priv[31]&128 != 0 || kp.Priv[31]&64 == 0 {
		t.Error("private key high bits not clamped")
	}

	again, err := FromPrivateKey(kp.Priv)
	if err != nil {
		t.Fatalf("FromPrivateKey failed: %v", err)
	}
	if again.Pub != kp.Pub {
		t.Error("public key not reproducible from private key")
	}
}

func TestFromPrivateKeyRejectsZero(t *testing.T) {
	var zero [32]byte
	if _, err := FromPrivateKey(zero); err == nil {
		t.Fatal("expected error for all-zero private key")
	}
}

func TestSharedSecretAgreement(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	ab, err := SharedSecret(alice.Priv, bob.Pub)
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	ba, err := SharedSecret(bob.Priv, alice.Pub)
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}

	if !bytes.Equal(ab, ba) {
		t.Error("shared secrets do not agree")
	}
	if len(ab) != 32 {
		t.Errorf("shared secret length = %d, want 32", len(ab))
	}
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two random draws returned identical bytes")
	}
}

func TestWipeKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if err := WipeKeyPair(kp); err != nil {
		t.Fatalf("WipeKeyPair failed: %v", err)
	}
	if !isZeroKey(kp.Priv) {
		t.Error("private key not wiped")
	}
	if err := WipeKeyPair(nil); err == nil {
		t.Error("expected error wiping nil key pair")
	}
}
