// Package transport maintains the WebSocket connection and the frame
// layer on top of it.
//
// Every connection starts with a four-byte header identifying the
// protocol revision; after that, the stream in both directions is a
// sequence of frames, each a 3-byte big-endian length followed by that
// many payload bytes. Frames do not align with WebSocket messages: one
// message may carry several frames and a frame may span messages, so
// the reader keeps a rolling buffer.
//
// Inbound frames are delivered on a channel that closes when the
// connection dies; the close code the server supplied (or 1006 when it
// vanished without one) is available from CloseInfo afterwards.
package transport
