// Package noise implements the Noise_XX_25519_AESGCM_SHA256 variant
// used by the WA transport, plus the initiator-side handshake driver.
//
// The variant differs from textbook Noise in three ways that make the
// stock framework libraries unusable here:
//
//   - AES-GCM IVs are 12 zero bytes with a 32-bit big-endian message
//     counter in the last four; standard Noise packs a 64-bit nonce.
//   - The running handshake hash is the AAD for every handshake-phase
//     cipher operation, and ciphertexts are mixed back into the hash.
//   - Before finishInit both directions share one key and one write
//     counter; independent read/write keys only exist afterwards.
//
// Message flow (initiator side):
//
//	Client                                 Server
//	──────                                 ──────
//	-> ClientHello  (ephemeral)
//	                                       <- ServerHello (e, es, s, ss)
//	-> ClientFinish (s, se, payload)
//	[finishInit: transport keys derived]
//
// An Engine instance belongs to a single connection and is not safe
// for concurrent use; the owning session serializes all calls.
package noise
