// Package waproto implements the protobuf messages exchanged during the
// handshake and pairing phases: HandshakeMessage and its hello/finish
// bodies, ClientPayload with its registration and login shapes, the
// server certificate chain, and the ADV device-identity envelope.
//
// The messages are hand-coded over encoding/protowire rather than
// generated; the schema surface the gateway needs is small and fixed.
// All scalar fields use pointer types so that absent and zero values
// stay distinguishable on the wire.
package waproto
