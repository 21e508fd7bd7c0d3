package waproto

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Platform identifies the client family inside UserAgent.
type Platform int32

const (
	PlatformAndroid Platform = 0
	PlatformIOS     Platform = 1
	PlatformWeb     Platform = 14
)

// ReleaseChannel identifies the build channel inside UserAgent.
type ReleaseChannel int32

const (
	ReleaseChannelRelease ReleaseChannel = 0
	ReleaseChannelBeta    ReleaseChannel = 1
	ReleaseChannelAlpha   ReleaseChannel = 2
	ReleaseChannelDebug   ReleaseChannel = 3
)

// WebSubPlatform identifies the host flavor inside WebInfo.
type WebSubPlatform int32

const (
	WebSubPlatformWebBrowser WebSubPlatform = 0
	WebSubPlatformAppStore   WebSubPlatform = 1
	WebSubPlatformWinStore   WebSubPlatform = 2
	WebSubPlatformDarwin     WebSubPlatform = 3
	WebSubPlatformWin32      WebSubPlatform = 4
)

// ClientPayload is the encrypted body of ClientFinish. Registration
// sessions carry DevicePairingData; logged-in sessions carry Username,
// Device and Pull.
type ClientPayload struct {
	Username          *uint64                        // 1
	Passive           *bool                          // 3
	UserAgent         *UserAgent                     // 5
	WebInfo           *WebInfo                       // 6
	SessionID         *int32                         // 9, sfixed32
	Device            *uint32                        // 18
	DevicePairingData *DevicePairingRegistrationData // 19
	Pull              *bool                          // 33
}

// UserAgent describes the connecting client build.
type UserAgent struct {
	Platform                    *Platform       // 1
	AppVersion                  *AppVersion     // 2
	Mcc                         *string         // 3
	Mnc                         *string         // 4
	OSVersion                   *string         // 5
	Manufacturer                *string         // 6
	Device                      *string         // 7
	OSBuildNumber               *string         // 8
	ReleaseChannel              *ReleaseChannel // 12
	LocaleLanguageISO6391       *string         // 13
	LocaleCountryISO31661Alpha2 *string         // 14
}

// AppVersion is a dotted version split into up to five components.
type AppVersion struct {
	Primary    *uint32 // 1
	Secondary  *uint32 // 2
	Tertiary   *uint32 // 3
	Quaternary *uint32 // 4
	Quinary    *uint32 // 5
}

// WebInfo qualifies web-platform connections.
type WebInfo struct {
	RefToken       *string         // 1
	Version        *string         // 2
	WebSubPlatform *WebSubPlatform // 4
}

// DevicePairingRegistrationData is the registration half of
// ClientPayload: the companion's public key material, offered before
// the server has any record of the device.
type DevicePairingRegistrationData struct {
	ERegid      []byte // 1, registration id, 4-byte big endian
	EKeytype    []byte // 2, always {0x05}
	EIdent      []byte // 3, signed identity public key
	ESkeyID     []byte // 4, signed pre-key id, 3-byte big endian
	ESkeyVal    []byte // 5, signed pre-key public key
	ESkeySig    []byte // 6, signed pre-key signature
	BuildHash   []byte // 7, MD5 of the dotted version string
	DeviceProps []byte // 8, encoded DeviceProps
}

func (m *ClientPayload) Marshal() []byte {
	var b []byte
	if m.Username != nil {
		b = appendVarintField(b, 1, *m.Username)
	}
	if m.Passive != nil {
		b = appendBoolField(b, 3, *m.Passive)
	}
	if m.UserAgent != nil {
		b = appendBytesField(b, 5, m.UserAgent.Marshal())
	}
	if m.WebInfo != nil {
		b = appendBytesField(b, 6, m.WebInfo.Marshal())
	}
	if m.SessionID != nil {
		b = protowire.AppendTag(b, 9, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(*m.SessionID))
	}
	if m.Device != nil {
		b = appendVarintField(b, 18, uint64(*m.Device))
	}
	if m.DevicePairingData != nil {
		b = appendBytesField(b, 19, m.DevicePairingData.Marshal())
	}
	if m.Pull != nil {
		b = appendBoolField(b, 33, *m.Pull)
	}
	return b
}

func (m *ClientPayload) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Username = Uint64(v)
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Passive = Bool(protowire.DecodeBool(v))
			return n, nil
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.UserAgent = &UserAgent{}
			return n, m.UserAgent.Unmarshal(v)
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.WebInfo = &WebInfo{}
			return n, m.WebInfo.Unmarshal(v)
		case num == 9 && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.SessionID = Int32(int32(v))
			return n, nil
		case num == 18 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Device = Uint32(uint32(v))
			return n, nil
		case num == 19 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.DevicePairingData = &DevicePairingRegistrationData{}
			return n, m.DevicePairingData.Unmarshal(v)
		case num == 33 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Pull = Bool(protowire.DecodeBool(v))
			return n, nil
		}
		return 0, nil
	})
}

func (m *UserAgent) Marshal() []byte {
	var b []byte
	if m.Platform != nil {
		b = appendVarintField(b, 1, uint64(*m.Platform))
	}
	if m.AppVersion != nil {
		b = appendBytesField(b, 2, m.AppVersion.Marshal())
	}
	if m.Mcc != nil {
		b = appendStringField(b, 3, *m.Mcc)
	}
	if m.Mnc != nil {
		b = appendStringField(b, 4, *m.Mnc)
	}
	if m.OSVersion != nil {
		b = appendStringField(b, 5, *m.OSVersion)
	}
	if m.Manufacturer != nil {
		b = appendStringField(b, 6, *m.Manufacturer)
	}
	if m.Device != nil {
		b = appendStringField(b, 7, *m.Device)
	}
	if m.OSBuildNumber != nil {
		b = appendStringField(b, 8, *m.OSBuildNumber)
	}
	if m.ReleaseChannel != nil {
		b = appendVarintField(b, 12, uint64(*m.ReleaseChannel))
	}
	if m.LocaleLanguageISO6391 != nil {
		b = appendStringField(b, 13, *m.LocaleLanguageISO6391)
	}
	if m.LocaleCountryISO31661Alpha2 != nil {
		b = appendStringField(b, 14, *m.LocaleCountryISO31661Alpha2)
	}
	return b
}

func (m *UserAgent) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			switch num {
			case 1:
				p := Platform(v)
				m.Platform = &p
			case 12:
				c := ReleaseChannel(v)
				m.ReleaseChannel = &c
			default:
				return 0, nil
			}
			return n, nil
		}
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 2:
			m.AppVersion = &AppVersion{}
			return n, m.AppVersion.Unmarshal(v)
		case 3:
			m.Mcc = String(string(v))
		case 4:
			m.Mnc = String(string(v))
		case 5:
			m.OSVersion = String(string(v))
		case 6:
			m.Manufacturer = String(string(v))
		case 7:
			m.Device = String(string(v))
		case 8:
			m.OSBuildNumber = String(string(v))
		case 13:
			m.LocaleLanguageISO6391 = String(string(v))
		case 14:
			m.LocaleCountryISO31661Alpha2 = String(string(v))
		default:
			return 0, nil
		}
		return n, nil
	})
}

func (m *AppVersion) Marshal() []byte {
	var b []byte
	fields := []*uint32{m.Primary, m.Secondary, m.Tertiary, m.Quaternary, m.Quinary}
	for i, f := range fields {
		if f != nil {
			b = appendVarintField(b, protowire.Number(i+1), uint64(*f))
		}
	}
	return b
}

func (m *AppVersion) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if typ != protowire.VarintType || num < 1 || num > 5 {
			return 0, nil
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 1:
			m.Primary = Uint32(uint32(v))
		case 2:
			m.Secondary = Uint32(uint32(v))
		case 3:
			m.Tertiary = Uint32(uint32(v))
		case 4:
			m.Quaternary = Uint32(uint32(v))
		case 5:
			m.Quinary = Uint32(uint32(v))
		}
		return n, nil
	})
}

func (m *WebInfo) Marshal() []byte {
	var b []byte
	if m.RefToken != nil {
		b = appendStringField(b, 1, *m.RefToken)
	}
	if m.Version != nil {
		b = appendStringField(b, 2, *m.Version)
	}
	if m.WebSubPlatform != nil {
		b = appendVarintField(b, 4, uint64(*m.WebSubPlatform))
	}
	return b
}

func (m *WebInfo) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.RefToken = String(string(v))
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Version = String(string(v))
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			p := WebSubPlatform(v)
			m.WebSubPlatform = &p
			return n, nil
		}
		return 0, nil
	})
}

func (m *DevicePairingRegistrationData) Marshal() []byte {
	var b []byte
	fields := [][]byte{m.ERegid, m.EKeytype, m.EIdent, m.ESkeyID, m.ESkeyVal, m.ESkeySig, m.BuildHash, m.DeviceProps}
	for i, f := range fields {
		if f != nil {
			b = appendBytesField(b, protowire.Number(i+1), f)
		}
	}
	return b
}

func (m *DevicePairingRegistrationData) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if typ != protowire.BytesType || num < 1 || num > 8 {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		fields := []*[]byte{&m.ERegid, &m.EKeytype, &m.EIdent, &m.ESkeyID, &m.ESkeyVal, &m.ESkeySig, &m.BuildHash, &m.DeviceProps}
		*fields[num-1] = cloneBytes(v)
		return n, nil
	})
}
