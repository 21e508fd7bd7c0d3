package waproto

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Bool returns a pointer to v, for optional-field literals.
func Bool(v bool) *bool { return &v }

// Uint32 returns a pointer to v, for optional-field literals.
func Uint32(v uint32) *uint32 { return &v }

// Uint64 returns a pointer to v, for optional-field literals.
func Uint64(v uint64) *uint64 { return &v }

// Int32 returns a pointer to v, for optional-field literals.
func Int32(v int32) *int32 { return &v }

// String returns a pointer to v, for optional-field literals.
func String(v string) *string { return &v }

// walkFields drives an unmarshal loop. fn inspects one field and
// returns the number of value bytes it consumed; returning 0 means the
// field is not recognized and its value is skipped.
func walkFields(buf []byte, fn func(num protowire.Number, typ protowire.Type, data []byte) (int, error)) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]
		consumed, err := fn(num, typ, buf)
		if err != nil {
			return err
		}
		if consumed == 0 {
			consumed = protowire.ConsumeFieldValue(num, typ, buf)
			if consumed < 0 {
				return protowire.ParseError(consumed)
			}
		}
		buf = buf[consumed:]
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	return appendVarintField(b, num, protowire.EncodeBool(v))
}
