package waproto

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// PlatformType classifies the companion host inside DeviceProps.
type PlatformType int32

const (
	PlatformTypeWebBrowser PlatformType = 0
	PlatformTypeAppStore   PlatformType = 1
	PlatformTypeWinStore   PlatformType = 2
	PlatformTypeDarwin     PlatformType = 3
	PlatformTypeWin32      PlatformType = 4
)

// PlatformTypeFor maps a configured OS name to the platform type sent
// during registration.
func PlatformTypeFor(osName string) PlatformType {
	switch osName {
	case "Mac OS":
		return PlatformTypeDarwin
	case "Windows":
		return PlatformTypeWin32
	default:
		return PlatformTypeWebBrowser
	}
}

// DeviceProps describes the companion device. Its encoded form rides
// inside DevicePairingRegistrationData and is signed by the primary
// during pairing.
type DeviceProps struct {
	OS              *string       // 1
	Version         *AppVersion   // 2
	PlatformType    *PlatformType // 3
	RequireFullSync *bool         // 4
}

func (m *DeviceProps) Marshal() []byte {
	var b []byte
	if m.OS != nil {
		b = appendStringField(b, 1, *m.OS)
	}
	if m.Version != nil {
		b = appendBytesField(b, 2, m.Version.Marshal())
	}
	if m.PlatformType != nil {
		b = appendVarintField(b, 3, uint64(*m.PlatformType))
	}
	if m.RequireFullSync != nil {
		b = appendBoolField(b, 4, *m.RequireFullSync)
	}
	return b
}

func (m *DeviceProps) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.OS = String(string(v))
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Version = &AppVersion{}
			return n, m.Version.Unmarshal(v)
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			p := PlatformType(v)
			m.PlatformType = &p
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.RequireFullSync = Bool(protowire.DecodeBool(v))
			return n, nil
		}
		return 0, nil
	})
}
