package wabin

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidNode is returned when the payload is structurally not a
	// stanza (zero-size list, non-string tag, truncated attributes).
	ErrInvalidNode = errors.New("wabin: invalid node")
	// ErrInvalidToken is returned when a token byte has no meaning in
	// the position it appears in.
	ErrInvalidToken = errors.New("wabin: invalid token")
	// ErrUnexpectedEOF is returned when the payload ends mid-structure.
	ErrUnexpectedEOF = errors.New("wabin: unexpected end of data")
	// ErrTrailingData is returned when bytes remain after the root node.
	ErrTrailingData = errors.New("wabin: leftover data after node")
)

// Unmarshal decodes one stanza from a decrypted frame payload. The
// first byte carries frame flags; bit 0x02 marks a zlib-compressed
// body. Exactly one node must occupy the payload.
func Unmarshal(data []byte) (*Node, error) {
	if len(data) == 0 {
		return nil, ErrUnexpectedEOF
	}
	body := data[1:]
	if data[0]&2 != 0 {
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("wabin: bad zlib header: %w", err)
		}
		body, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("wabin: decompress: %w", err)
		}
	}
	d := &decoder{data: body}
	node, err := d.readNode()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(d.data)-d.pos)
	}
	return node, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, ErrUnexpectedEOF
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, ErrUnexpectedEOF
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// readIntBE reads an n-byte big-endian unsigned integer, n <= 4.
func (d *decoder) readIntBE(n int) (int, error) {
	b, err := d.readBytes(n)
	if err != nil {
		return 0, err
	}
	var v int
	for _, x := range b {
		v = v<<8 | int(x)
	}
	return v, nil
}

// readInt20 reads the 20-bit length form used by Binary20: the top
// nibble of the first byte is masked off.
func (d *decoder) readInt20() (int, error) {
	b, err := d.readBytes(3)
	if err != nil {
		return 0, err
	}
	return int(b[0]&0x0f)<<16 | int(b[1])<<8 | int(b[2]), nil
}

func (d *decoder) readListSize(token byte) (int, error) {
	switch token {
	case tokenListEmpty:
		return 0, nil
	case tokenList8:
		v, err := d.readByte()
		return int(v), err
	case tokenList16:
		return d.readIntBE(2)
	default:
		return 0, fmt.Errorf("%w: 0x%02x is not a list size", ErrInvalidToken, token)
	}
}

func (d *decoder) readNode() (*Node, error) {
	token, err := d.readByte()
	if err != nil {
		return nil, err
	}
	size, err := d.readListSize(token)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-size list as node", ErrInvalidNode)
	}

	tag, err := d.readString()
	if err != nil {
		return nil, fmt.Errorf("wabin: read tag: %w", err)
	}
	if tag == "" {
		return nil, fmt.Errorf("%w: empty tag", ErrInvalidNode)
	}
	node := &Node{Tag: tag}

	attrCount := (size - 1) >> 1
	if attrCount > 0 {
		node.Attrs = make(map[string]string, attrCount)
		for i := 0; i < attrCount; i++ {
			key, err := d.readString()
			if err != nil {
				return nil, fmt.Errorf("wabin: read attr key: %w", err)
			}
			if key == "" {
				return nil, fmt.Errorf("%w: empty attr key in <%s>", ErrInvalidNode, tag)
			}
			value, err := d.readString()
			if err != nil {
				return nil, fmt.Errorf("wabin: read attr %q: %w", key, err)
			}
			node.Attrs[key] = value
		}
	}

	if size%2 == 1 {
		return node, nil
	}
	node.Content, err = d.readContent()
	if err != nil {
		return nil, fmt.Errorf("wabin: read content of <%s>: %w", tag, err)
	}
	return node, nil
}

func (d *decoder) readContent() (interface{}, error) {
	token, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch token {
	case tokenListEmpty, tokenList8, tokenList16:
		size, err := d.readListSize(token)
		if err != nil {
			return nil, err
		}
		children := make([]Node, size)
		for i := 0; i < size; i++ {
			child, err := d.readNode()
			if err != nil {
				return nil, err
			}
			children[i] = *child
		}
		return children, nil
	case tokenBinary8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.copyBytes(int(n))
	case tokenBinary20:
		n, err := d.readInt20()
		if err != nil {
			return nil, err
		}
		return d.copyBytes(n)
	case tokenBinary32:
		n, err := d.readIntBE(4)
		if err != nil {
			return nil, err
		}
		return d.copyBytes(n)
	default:
		s, err := d.readStringToken(token)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
}

// copyBytes detaches content from the decode buffer so the caller may
// retain it past the frame's lifetime.
func (d *decoder) copyBytes(n int) ([]byte, error) {
	b, err := d.readBytes(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *decoder) readString() (string, error) {
	token, err := d.readByte()
	if err != nil {
		return "", err
	}
	return d.readStringToken(token)
}

func (d *decoder) readStringToken(token byte) (string, error) {
	switch {
	case token == tokenListEmpty:
		return "", nil
	case token > 2 && token < dictionary0:
		tok, ok := singleByteToken(token)
		if !ok {
			return "", fmt.Errorf("%w: single-byte token 0x%02x", ErrInvalidToken, token)
		}
		return tok, nil
	case token >= dictionary0 && token <= dictionary3:
		idx, err := d.readByte()
		if err != nil {
			return "", err
		}
		tok, ok := doubleByteToken(token-dictionary0, idx)
		if !ok {
			return "", fmt.Errorf("%w: double-byte token %d/%d", ErrInvalidToken, token-dictionary0, idx)
		}
		return tok, nil
	case token == tokenJIDPair:
		return d.readJIDPair()
	case token == tokenADJID:
		return d.readADJID()
	case token == tokenBinary8:
		n, err := d.readByte()
		if err != nil {
			return "", err
		}
		b, err := d.readBytes(int(n))
		return string(b), err
	case token == tokenBinary20:
		n, err := d.readInt20()
		if err != nil {
			return "", err
		}
		b, err := d.readBytes(n)
		return string(b), err
	case token == tokenBinary32:
		n, err := d.readIntBE(4)
		if err != nil {
			return "", err
		}
		b, err := d.readBytes(n)
		return string(b), err
	case token == tokenNibble8 || token == tokenHex8:
		return d.readPacked(token)
	default:
		return "", fmt.Errorf("%w: 0x%02x in string position", ErrInvalidToken, token)
	}
}

func (d *decoder) readJIDPair() (string, error) {
	user, err := d.readString()
	if err != nil {
		return "", err
	}
	server, err := d.readString()
	if err != nil {
		return "", err
	}
	if server == "" {
		return "", fmt.Errorf("%w: JID pair without server", ErrInvalidNode)
	}
	return NewJID(user, server).String(), nil
}

func (d *decoder) readADJID() (string, error) {
	agent, err := d.readByte()
	if err != nil {
		return "", err
	}
	device, err := d.readByte()
	if err != nil {
		return "", err
	}
	user, err := d.readString()
	if err != nil {
		return "", err
	}
	server := DefaultUserServer
	if agent == 1 {
		server = HiddenUserServer
	}
	return NewADJID(user, uint16(device), server).String(), nil
}

// readPacked expands nibble- or hex-packed strings. The start byte
// carries the packed byte count in the low 7 bits; the high bit marks
// an odd-length string whose final half-byte is padding.
func (d *decoder) readPacked(token byte) (string, error) {
	start, err := d.readByte()
	if err != nil {
		return "", err
	}
	packed, err := d.readBytes(int(start & 0x7f))
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, len(packed)*2)
	for _, b := range packed {
		hi, err := unpackByte(token, b>>4)
		if err != nil {
			return "", err
		}
		lo, err := unpackByte(token, b&0x0f)
		if err != nil {
			return "", err
		}
		out = append(out, hi, lo)
	}
	if start&0x80 != 0 && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return string(out), nil
}

func unpackByte(token, v byte) (byte, error) {
	if token == tokenNibble8 {
		switch {
		case v <= 9:
			return '0' + v, nil
		case v == 10:
			return '-', nil
		case v == 11:
			return '.', nil
		case v == 15:
			return 0, nil
		}
		return 0, fmt.Errorf("%w: nibble value %d", ErrInvalidToken, v)
	}
	switch {
	case v <= 9:
		return '0' + v, nil
	default:
		return 'A' + v - 10, nil
	}
}
