// Package crypto implements the cryptographic primitives used by the
// walink connection engine.
//
// Everything the engine needs is a pure function or an immutable value:
// Curve25519 key pairs and Diffie-Hellman agreement, XEdDSA signatures
// over Curve25519 keys, HKDF-SHA256 expansion, AES-256-GCM sealing, and
// the small hash helpers (SHA-256, HMAC-SHA256, MD5) the pairing and
// handshake paths depend on.
//
// # Key Pairs
//
//	pair, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	shared, err := crypto.SharedSecret(pair.Priv, peerPub)
//
// Private keys are clamped at generation per RFC 7748, so a stored key
// loaded back with FromPrivateKey behaves identically.
//
// # Signatures
//
// Sign and Verify implement XEdDSA: a Curve25519 key signs by deriving
// the corresponding Ed25519 point and carrying its sign bit in the last
// byte of the signature. This is the scheme WA uses for signed pre-keys
// and device identity exchanges.
//
//	sig, err := crypto.Sign(identity.Priv, payload)
//	ok := crypto.Verify(identity.Pub, payload, sig)
//
// # Secure Memory Handling
//
// Sensitive intermediate material should be wiped once it leaves scope:
//
//	defer crypto.ZeroBytes(shared)
//	defer crypto.WipeKeyPair(ephemeral)
package crypto
