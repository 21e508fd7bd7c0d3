package wabin

import (
	"bytes"
	"compress/zlib"
	"errors"
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, node *Node) *Node {
	t.Helper()
	data, err := Marshal(node)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if data[0] != 0 {
		t.Fatalf("flag byte = 0x%02x, want 0x00", data[0])
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return decoded
}

func TestRoundTripIQ(t *testing.T) {
	node := &Node{
		Tag: "iq",
		Attrs: map[string]string{
			"id":    "123-1",
			"to":    "s.whatsapp.net",
			"type":  "get",
			"xmlns": "w:p",
		},
		Content: []Node{{Tag: "ping"}},
	}
	decoded := roundTrip(t, node)
	if !reflect.DeepEqual(node, decoded) {
		t.Errorf("round trip mismatch:\n got %s\nwant %s", decoded.XMLString(), node.XMLString())
	}
}

func TestRoundTripJIDAttributes(t *testing.T) {
	cases := []string{
		"5511999999999@s.whatsapp.net",
		"5511999999999@s.whatsapp.net:2",
		"123456789@lid",
		"123456789@lid:7",
		"12036304@g.us",
		"status@broadcast",
	}
	for _, jid := range cases {
		node := &Node{
			Tag:     "presence",
			Attrs:   map[string]string{"from": jid},
			Content: nil,
		}
		decoded := roundTrip(t, node)
		if got := decoded.AttrOr("from", ""); got != jid {
			t.Errorf("JID %q decoded as %q", jid, got)
		}
	}
}

func TestRoundTripPackedStrings(t *testing.T) {
	cases := []string{
		"1234-5678.90", // nibble alphabet, even length
		"123",          // odd length, exercises the pad flag
		"ABCDEF0123",   // hex alphabet
		"F",            // single hex char
		"lowercase-is-not_packed",
	}
	for _, s := range cases {
		node := &Node{Tag: "ack", Attrs: map[string]string{"id": s}}
		decoded := roundTrip(t, node)
		if got := decoded.AttrOr("id", ""); got != s {
			t.Errorf("packed string %q decoded as %q", s, got)
		}
	}
}

func TestRoundTripBinaryContent(t *testing.T) {
	small := []byte{0x08, 0x01, 0x12, 0x03}
	large := make([]byte, 300)
	for i := range large {
		large[i] = byte(i)
	}
	for _, payload := range [][]byte{small, large} {
		node := &Node{Tag: "enc", Content: payload}
		decoded := roundTrip(t, node)
		if !bytes.Equal(decoded.ContentBytes(), payload) {
			t.Errorf("binary content of %d bytes did not survive", len(payload))
		}
	}
}

func TestRoundTripLargeChildList(t *testing.T) {
	children := make([]Node, 300)
	for i := range children {
		children[i] = Node{Tag: "item", Attrs: map[string]string{"index": "7"}}
	}
	node := &Node{Tag: "list", Content: children}
	decoded := roundTrip(t, node)
	got := decoded.GetChildren()
	if len(got) != len(children) {
		t.Fatalf("child count = %d, want %d", len(got), len(children))
	}
	if !reflect.DeepEqual(got[299], children[299]) {
		t.Errorf("last child mismatch: %+v", got[299])
	}
}

func TestRoundTripEmptyAttrValue(t *testing.T) {
	node := &Node{Tag: "presence", Attrs: map[string]string{"name": ""}}
	decoded := roundTrip(t, node)
	v, ok := decoded.GetAttr("name")
	if !ok || v != "" {
		t.Errorf("empty attr value decoded as (%q, %v)", v, ok)
	}
}

func TestRoundTripDeepNesting(t *testing.T) {
	node := &Node{
		Tag:   "iq",
		Attrs: map[string]string{"id": "2", "type": "result"},
		Content: []Node{{
			Tag: "pair-success",
			Content: []Node{
				{Tag: "device", Attrs: map[string]string{"jid": "5511999@s.whatsapp.net:1"}},
				{Tag: "device-identity", Content: []byte{0xde, 0xad, 0xbe, 0xef}},
				{Tag: "platform", Attrs: map[string]string{"name": "smba"}},
			},
		}},
	}
	decoded := roundTrip(t, node)
	if !reflect.DeepEqual(node, decoded) {
		t.Errorf("round trip mismatch:\n got %s\nwant %s", decoded.XMLString(), node.XMLString())
	}
}

func TestUnmarshalZlibFlag(t *testing.T) {
	node := &Node{Tag: "success", Attrs: map[string]string{"location": "frc"}}
	plain, err := Marshal(node)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var buf bytes.Buffer
	buf.WriteByte(2)
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(plain[1:]); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close compressor: %v", err)
	}

	decoded, err := Unmarshal(buf.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal compressed frame: %v", err)
	}
	if !reflect.DeepEqual(node, decoded) {
		t.Errorf("compressed round trip mismatch: %s", decoded.XMLString())
	}
}

func TestUnmarshalRejectsUnknownToken(t *testing.T) {
	// 240 sits in the gap between the dictionary tokens and ADJID.
	data := []byte{0x00, tokenList8, 1, 240}
	_, err := Unmarshal(data)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestUnmarshalRejectsTruncatedFrame(t *testing.T) {
	node := &Node{Tag: "iq", Attrs: map[string]string{"id": "9"}, Content: []Node{{Tag: "ping"}}}
	data, err := Marshal(node)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	_, err = Unmarshal(data[:len(data)-2])
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestUnmarshalRejectsTrailingData(t *testing.T) {
	node := &Node{Tag: "ping"}
	data, err := Marshal(node)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	_, err = Unmarshal(append(data, 0x00))
	if !errors.Is(err, ErrTrailingData) {
		t.Errorf("err = %v, want ErrTrailingData", err)
	}
}

func TestUnmarshalRejectsZeroSizeNode(t *testing.T) {
	_, err := Unmarshal([]byte{0x00, tokenListEmpty})
	if !errors.Is(err, ErrInvalidNode) {
		t.Errorf("err = %v, want ErrInvalidNode", err)
	}
}

func TestMarshalRejectsBadContentType(t *testing.T) {
	node := &Node{Tag: "iq", Content: 42}
	if _, err := Marshal(node); err == nil {
		t.Error("expected error for int content")
	}
}

func TestStringContentToken(t *testing.T) {
	// Servers may send token strings as node content; they surface as
	// bytes.
	idx, ok := tokenLookup["active"]
	if !ok || idx.dict != -1 {
		t.Fatal("token table is missing a single-byte entry for active")
	}
	data := []byte{0x00, tokenList8, 2, tokenLookup["presence"].index, idx.index}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Tag != "presence" || decoded.ContentString() != "active" {
		t.Errorf("decoded <%s>%q", decoded.Tag, decoded.ContentString())
	}
}

func TestNodeHelpers(t *testing.T) {
	node := &Node{
		Tag:   "notification",
		Attrs: map[string]string{"type": "encrypt"},
		Content: []Node{
			{Tag: "count", Attrs: map[string]string{"value": "9"}},
			{Tag: "item"},
			{Tag: "item"},
		},
	}
	if child, ok := node.GetChildByTag("count"); !ok || child.AttrOr("value", "") != "9" {
		t.Error("GetChildByTag(count) failed")
	}
	if _, ok := node.GetChildByTag("missing"); ok {
		t.Error("GetChildByTag(missing) reported a child")
	}
	if got := node.GetChildrenByTag("item"); len(got) != 2 {
		t.Errorf("GetChildrenByTag(item) = %d children", len(got))
	}
	if node.AttrOr("type", "") != "encrypt" || node.AttrOr("absent", "d") != "d" {
		t.Error("AttrOr mismatch")
	}
	if node.ContentBytes() != nil {
		t.Error("ContentBytes on list content should be nil")
	}
}
