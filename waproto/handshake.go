package waproto

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// HandshakeMessage is the frame body exchanged while the Noise channel
// is being established. Exactly one of the three bodies is set.
type HandshakeMessage struct {
	ClientHello  *ClientHello
	ServerHello  *ServerHello
	ClientFinish *ClientFinish
}

// ClientHello opens the handshake with the local ephemeral key.
type ClientHello struct {
	Ephemeral []byte
	Static    []byte
	Payload   []byte
}

// ServerHello carries the server ephemeral plus the encrypted static
// key and certificate payload.
type ServerHello struct {
	Ephemeral []byte
	Static    []byte
	Payload   []byte
}

// ClientFinish closes the handshake with the encrypted local static key
// and the encrypted ClientPayload.
type ClientFinish struct {
	Static  []byte
	Payload []byte
}

func (m *HandshakeMessage) Marshal() []byte {
	var b []byte
	if m.ClientHello != nil {
		b = appendBytesField(b, 2, m.ClientHello.Marshal())
	}
	if m.ServerHello != nil {
		b = appendBytesField(b, 3, m.ServerHello.Marshal())
	}
	if m.ClientFinish != nil {
		b = appendBytesField(b, 4, m.ClientFinish.Marshal())
	}
	return b
}

func (m *HandshakeMessage) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 2:
			m.ClientHello = &ClientHello{}
			return n, m.ClientHello.Unmarshal(v)
		case 3:
			m.ServerHello = &ServerHello{}
			return n, m.ServerHello.Unmarshal(v)
		case 4:
			m.ClientFinish = &ClientFinish{}
			return n, m.ClientFinish.Unmarshal(v)
		}
		return 0, nil
	})
}

func (m *ClientHello) Marshal() []byte {
	var b []byte
	if m.Ephemeral != nil {
		b = appendBytesField(b, 1, m.Ephemeral)
	}
	if m.Static != nil {
		b = appendBytesField(b, 2, m.Static)
	}
	if m.Payload != nil {
		b = appendBytesField(b, 3, m.Payload)
	}
	return b
}

func (m *ClientHello) Unmarshal(data []byte) error {
	return unmarshalHelloBody(data, &m.Ephemeral, &m.Static, &m.Payload)
}

func (m *ServerHello) Marshal() []byte {
	var b []byte
	if m.Ephemeral != nil {
		b = appendBytesField(b, 1, m.Ephemeral)
	}
	if m.Static != nil {
		b = appendBytesField(b, 2, m.Static)
	}
	if m.Payload != nil {
		b = appendBytesField(b, 3, m.Payload)
	}
	return b
}

func (m *ServerHello) Unmarshal(data []byte) error {
	return unmarshalHelloBody(data, &m.Ephemeral, &m.Static, &m.Payload)
}

func unmarshalHelloBody(data []byte, ephemeral, static, payload *[]byte) error {
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
			*ephemeral = cloneBytes(v)
		case 2:
			*static = cloneBytes(v)
		case 3:
			*payload = cloneBytes(v)
		default:
			return 0, nil
		}
		return n, nil
	})
}

func (m *ClientFinish) Marshal() []byte {
	var b []byte
	if m.Static != nil {
		b = appendBytesField(b, 1, m.Static)
	}
	if m.Payload != nil {
		b = appendBytesField(b, 2, m.Payload)
	}
	return b
}

func (m *ClientFinish) Unmarshal(data []byte) error {
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
			m.Static = cloneBytes(v)
		case 2:
			m.Payload = cloneBytes(v)
		default:
			return 0, nil
		}
		return n, nil
	})
}
