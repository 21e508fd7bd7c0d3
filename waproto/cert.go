package waproto

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// CertChain is the decrypted ServerHello payload: the server's noise
// certificate and its intermediate.
type CertChain struct {
	Leaf         *NoiseCertificate // 1
	Intermediate *NoiseCertificate // 2
}

// NoiseCertificate wraps serialized certificate details and a signature
// over them.
type NoiseCertificate struct {
	Details   []byte // 1
	Signature []byte // 2
}

// NoiseCertificateDetails is the decoded form of NoiseCertificate
// details. A zero IssuerSerial marks the primary trust root.
type NoiseCertificateDetails struct {
	Serial       *uint32 // 1
	IssuerSerial *uint32 // 2
	Key          []byte  // 3
}

func (m *CertChain) Marshal() []byte {
	var b []byte
	if m.Leaf != nil {
		b = appendBytesField(b, 1, m.Leaf.Marshal())
	}
	if m.Intermediate != nil {
		b = appendBytesField(b, 2, m.Intermediate.Marshal())
	}
	return b
}

func (m *CertChain) Unmarshal(data []byte) error {
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
			m.Leaf = &NoiseCertificate{}
			return n, m.Leaf.Unmarshal(v)
		case 2:
			m.Intermediate = &NoiseCertificate{}
			return n, m.Intermediate.Unmarshal(v)
		}
		return 0, nil
	})
}

func (m *NoiseCertificate) Marshal() []byte {
	var b []byte
	if m.Details != nil {
		b = appendBytesField(b, 1, m.Details)
	}
	if m.Signature != nil {
		b = appendBytesField(b, 2, m.Signature)
	}
	return b
}

func (m *NoiseCertificate) Unmarshal(data []byte) error {
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
			m.Signature = cloneBytes(v)
		default:
			return 0, nil
		}
		return n, nil
	})
}

func (m *NoiseCertificateDetails) Marshal() []byte {
	var b []byte
	if m.Serial != nil {
		b = appendVarintField(b, 1, uint64(*m.Serial))
	}
	if m.IssuerSerial != nil {
		b = appendVarintField(b, 2, uint64(*m.IssuerSerial))
	}
	if m.Key != nil {
		b = appendBytesField(b, 3, m.Key)
	}
	return b
}

func (m *NoiseCertificateDetails) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Serial = Uint32(uint32(v))
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.IssuerSerial = Uint32(uint32(v))
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Key = cloneBytes(v)
			return n, nil
		}
		return 0, nil
	})
}
