// Package store persists per-session credentials and Signal key
// material.
//
// Store is the durable container shared by every session; Keys scopes
// it to one session's key tables. Loads return (nil, nil) when a record
// is absent; writes are atomic per call, and SaveCreds validates the
// credential invariants before anything hits disk.
//
// Two implementations ship: Memory for tests and ephemeral gateways,
// and Pebble on cockroachdb/pebble for production use.
package store
