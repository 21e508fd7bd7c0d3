package wabin

import (
	"fmt"
	"sort"
	"strings"
)

// Marshal encodes one stanza into a frame payload ready for encryption.
// The leading flag byte is zero; outbound frames are never compressed.
func Marshal(n *Node) ([]byte, error) {
	e := &encoder{buf: make([]byte, 1, 256)}
	if err := e.writeNode(n); err != nil {
		return nil, err
	}
	return e.buf, nil
}

type encoder struct {
	buf []byte
}

func (e *encoder) pushByte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) pushBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) pushIntBE(v, n int) {
	for i := n - 1; i >= 0; i-- {
		e.pushByte(byte(v >> (8 * i)))
	}
}

func (e *encoder) writeListStart(size int) {
	switch {
	case size == 0:
		e.pushByte(tokenListEmpty)
	case size < 256:
		e.pushByte(tokenList8)
		e.pushByte(byte(size))
	default:
		e.pushByte(tokenList16)
		e.pushIntBE(size, 2)
	}
}

func (e *encoder) writeNode(n *Node) error {
	if n == nil || n.Tag == "" {
		return fmt.Errorf("%w: missing tag", ErrInvalidNode)
	}
	size := 1 + 2*len(n.Attrs)
	if n.Content != nil {
		size++
	}
	e.writeListStart(size)
	e.writeString(n.Tag)

	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("%w: empty attr key in <%s>", ErrInvalidNode, n.Tag)
		}
		e.writeString(k)
		e.writeString(n.Attrs[k])
	}

	switch content := n.Content.(type) {
	case nil:
	case []byte:
		e.writeBytes(content)
	case []Node:
		e.writeListStart(len(content))
		for i := range content {
			if err := e.writeNode(&content[i]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("wabin: cannot encode content of type %T in <%s>", n.Content, n.Tag)
	}
	return nil
}

func (e *encoder) writeString(s string) {
	if idx, ok := tokenLookup[s]; ok {
		if idx.dict < 0 {
			e.pushByte(idx.index)
		} else {
			e.pushByte(dictionary0 + byte(idx.dict))
			e.pushByte(idx.index)
		}
		return
	}
	if s == "" {
		e.pushByte(tokenListEmpty)
		return
	}
	if strings.ContainsRune(s, '@') {
		if jid, err := ParseJID(s); err == nil && jidEncodable(jid) {
			e.writeJID(jid)
			return
		}
	}
	switch {
	case nibblePackable(s):
		e.writePacked(s, tokenNibble8)
	case hexPackable(s):
		e.writePacked(s, tokenHex8)
	default:
		e.writeBytes([]byte(s))
	}
}

// jidEncodable reports whether the compact JID forms reproduce the
// string exactly. Device suffixes only exist on the user servers, and
// an empty user would collapse to a bare server on re-parse.
func jidEncodable(jid JID) bool {
	if jid.User == "" || jid.Server == "" {
		return false
	}
	if jid.Device > 0 {
		if jid.Device > 255 {
			return false
		}
		return jid.Server == DefaultUserServer || jid.Server == HiddenUserServer
	}
	return true
}

func (e *encoder) writeJID(jid JID) {
	if jid.Device > 0 {
		e.pushByte(tokenADJID)
		var agent byte
		if jid.Server == HiddenUserServer {
			agent = 1
		}
		e.pushByte(agent)
		e.pushByte(byte(jid.Device))
		e.writeString(jid.User)
		return
	}
	e.pushByte(tokenJIDPair)
	e.writeString(jid.User)
	e.writeString(jid.Server)
}

func (e *encoder) writeBytes(b []byte) {
	switch {
	case len(b) < 256:
		e.pushByte(tokenBinary8)
		e.pushByte(byte(len(b)))
	case len(b) < 1<<20:
		e.pushByte(tokenBinary20)
		e.pushIntBE(len(b), 3)
	default:
		e.pushByte(tokenBinary32)
		e.pushIntBE(len(b), 4)
	}
	e.pushBytes(b)
}

// writePacked stores two characters per byte. The start byte holds the
// rounded byte count in the low seven bits; the high bit marks an odd
// source length padded with 0xf.
func (e *encoder) writePacked(s string, token byte) {
	e.pushByte(token)
	start := byte((len(s) + 1) / 2)
	if len(s)%2 != 0 {
		start |= 0x80
	}
	e.pushByte(start)
	var hi byte
	for i := 0; i < len(s); i++ {
		v := packByte(token, s[i])
		if i%2 == 0 {
			hi = v << 4
		} else {
			e.pushByte(hi | v)
		}
	}
	if len(s)%2 != 0 {
		e.pushByte(hi | 0x0f)
	}
}

func packByte(token, c byte) byte {
	if c >= '0' && c <= '9' {
		return c - '0'
	}
	if token == tokenNibble8 {
		if c == '-' {
			return 10
		}
		return 11
	}
	return 10 + c - 'A'
}

func nibblePackable(s string) bool {
	if len(s) == 0 || len(s) > packedMax {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && c != '-' && c != '.' {
			return false
		}
	}
	return true
}

func hexPackable(s string) bool {
	if len(s) == 0 || len(s) > packedMax {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
