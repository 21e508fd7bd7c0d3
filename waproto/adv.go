package waproto

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ADVSignedDeviceIdentityHMAC is the device-identity envelope delivered
// inside pair-success. The HMAC is keyed with the session's ADV secret.
type ADVSignedDeviceIdentityHMAC struct {
	Details []byte // 1
	HMAC    []byte // 2
}

// ADVSignedDeviceIdentity carries the identity details plus the
// primary's account signature; the companion adds DeviceSignature and
// strips AccountSignatureKey before replying.
type ADVSignedDeviceIdentity struct {
	Details             []byte // 1
	AccountSignatureKey []byte // 2
	AccountSignature    []byte // 3
	DeviceSignature     []byte // 4
}

// ADVDeviceIdentity is the decoded form of the identity details.
type ADVDeviceIdentity struct {
	RawID     *uint32 // 1
	Timestamp *uint64 // 2
	KeyIndex  *uint32 // 3
}

func (m *ADVSignedDeviceIdentityHMAC) Marshal() []byte {
	var b []byte
	if m.Details != nil {
		b = appendBytesField(b, 1, m.Details)
	}
	if m.HMAC != nil {
		b = appendBytesField(b, 2, m.HMAC)
	}
	return b
}

func (m *ADVSignedDeviceIdentityHMAC) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 1:
			m.Details = cloneBytes(v)
		case 2:
			m.HMAC = cloneBytes(v)
		default:
			return 0, nil
		}
		return n, nil
	})
}

func (m *ADVSignedDeviceIdentity) Marshal() []byte {
	var b []byte
	if m.Details != nil {
		b = appendBytesField(b, 1, m.Details)
	}
	if m.AccountSignatureKey != nil {
		b = appendBytesField(b, 2, m.AccountSignatureKey)
	}
	if m.AccountSignature != nil {
		b = appendBytesField(b, 3, m.AccountSignature)
	}
	if m.DeviceSignature != nil {
		b = appendBytesField(b, 4, m.DeviceSignature)
	}
	return b
}

func (m *ADVSignedDeviceIdentity) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 1:
			m.Details = cloneBytes(v)
		case 2:
			m.AccountSignatureKey = cloneBytes(v)
		case 3:
			m.AccountSignature = cloneBytes(v)
		case 4:
			m.DeviceSignature = cloneBytes(v)
		default:
			return 0, nil
		}
		return n, nil
	})
}

func (m *ADVDeviceIdentity) Marshal() []byte {
	var b []byte
	if m.RawID != nil {
		b = appendVarintField(b, 1, uint64(*m.RawID))
	}
	if m.Timestamp != nil {
		b = appendVarintField(b, 2, *m.Timestamp)
	}
	if m.KeyIndex != nil {
		b = appendVarintField(b, 3, uint64(*m.KeyIndex))
	}
	return b
}

func (m *ADVDeviceIdentity) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if typ != protowire.VarintType {
			return 0, nil
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 1:
			m.RawID = Uint32(uint32(v))
		case 2:
			m.Timestamp = Uint64(v)
		case 3:
			m.KeyIndex = Uint32(uint32(v))
		default:
			return 0, nil
		}
		return n, nil
	})
}
