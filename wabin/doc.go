// Package wabin implements the token-compressed binary XML encoding the
// WA wire protocol wraps every post-handshake frame in.
//
// A frame decodes into a Node: a tag, a flat map of string attributes,
// and content that is either absent, raw bytes, or an ordered list of
// child nodes. Frequent tags and attribute strings are interned through
// a fixed single-byte token table and four secondary double-byte
// dictionaries; everything else travels as length-prefixed literals,
// packed nibble/hex strings, or structured JID forms.
//
// Marshal and Unmarshal are exact inverses for any node the encoder can
// produce:
//
//	payload, err := wabin.Marshal(node)
//	back, err := wabin.Unmarshal(payload)
//	// back is deeply equal to node
//
// Unknown tokens on the inbound path are an error; unknown strings on
// the outbound path degrade to literal form.
package wabin
