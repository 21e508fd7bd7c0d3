package noise

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walink/crypto"
	"github.com/opd-ai/walink/waproto"
)

var (
	// ErrHandshakeClosed indicates the connection dropped mid-handshake.
	ErrHandshakeClosed = errors.New("noise: connection closed during handshake")
	// ErrBadServerHello indicates a ServerHello with missing or
	// mis-sized fields.
	ErrBadServerHello = errors.New("noise: malformed ServerHello")
	// ErrCertChain indicates the decrypted certificate chain did not
	// check out against the expected issuer.
	ErrCertChain = errors.New("noise: server certificate rejected")
)

// certIssuerSerial is the issuer serial every genuine intermediate
// certificate carries.
const certIssuerSerial = 0

// FrameConn is the transport surface the handshake needs: ordered
// frame send plus the inbound frame stream.
type FrameConn interface {
	SendFrame(payload []byte) error
	Frames() <-chan []byte
}

// Handshake runs the initiator side of the XX pattern and returns an
// engine ready for transport-phase Encrypt/Decrypt. payload is the
// marshaled ClientPayload; the caller bounds the exchange through ctx.
func Handshake(ctx context.Context, conn FrameConn, header []byte, static, ephemeral *crypto.KeyPair, payload []byte) (*Engine, error) {
	engine, err := NewEngine(Initiator, header)
	if err != nil {
		return nil, err
	}
	engine.Authenticate(ephemeral.Pub[:])

	hello := &waproto.HandshakeMessage{
		ClientHello: &waproto.ClientHello{Ephemeral: ephemeral.Pub[:]},
	}
	if err := conn.SendFrame(hello.Marshal()); err != nil {
		return nil, fmt.Errorf("noise: send ClientHello: %w", err)
	}
	logrus.WithField("ephemeral", fmt.Sprintf("%x", ephemeral.Pub[:4])).
		Debug("sent ClientHello")

	var frame []byte
	select {
	case f, ok := <-conn.Frames():
		if !ok {
			return nil, ErrHandshakeClosed
		}
		frame = f
	case <-ctx.Done():
		return nil, fmt.Errorf("noise: waiting for ServerHello: %w", ctx.Err())
	}

	var resp waproto.HandshakeMessage
	if err := resp.Unmarshal(frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadServerHello, err)
	}
	hello2 := resp.ServerHello
	if hello2 == nil || len(hello2.Ephemeral) != 32 || len(hello2.Static) == 0 || len(hello2.Payload) == 0 {
		return nil, ErrBadServerHello
	}

	engine.Authenticate(hello2.Ephemeral)
	var serverEphemeral [32]byte
	copy(serverEphemeral[:], hello2.Ephemeral)

	if err := mixDH(engine, ephemeral.Priv, serverEphemeral); err != nil {
		return nil, err
	}
	staticDec, err := engine.Decrypt(hello2.Static)
	if err != nil {
		return nil, fmt.Errorf("noise: open server static: %w", err)
	}
	if len(staticDec) != 32 {
		return nil, fmt.Errorf("%w: static key is %d bytes", ErrBadServerHello, len(staticDec))
	}
	var serverStatic [32]byte
	copy(serverStatic[:], staticDec)

	if err := mixDH(engine, ephemeral.Priv, serverStatic); err != nil {
		return nil, err
	}
	// That was the ephemeral's last mix; scrub its private half.
	_ = crypto.WipeKeyPair(ephemeral)
	certRaw, err := engine.Decrypt(hello2.Payload)
	if err != nil {
		return nil, fmt.Errorf("noise: open certificate payload: %w", err)
	}
	if err := verifyCertChain(certRaw); err != nil {
		return nil, err
	}

	keyEnc := engine.Encrypt(static.Pub[:])
	if err := mixDH(engine, static.Priv, serverEphemeral); err != nil {
		return nil, err
	}
	finish := &waproto.HandshakeMessage{
		ClientFinish: &waproto.ClientFinish{
			Static:  keyEnc,
			Payload: engine.Encrypt(payload),
		},
	}
	if err := conn.SendFrame(finish.Marshal()); err != nil {
		return nil, fmt.Errorf("noise: send ClientFinish: %w", err)
	}
	if err := engine.FinishInit(); err != nil {
		return nil, err
	}
	logrus.Debug("handshake complete, transport keys installed")
	return engine, nil
}

func mixDH(engine *Engine, priv, pub [32]byte) error {
	shared, err := crypto.SharedSecret(priv, pub)
	if err != nil {
		return fmt.Errorf("noise: dh: %w", err)
	}
	err = engine.MixIntoKey(shared)
	crypto.ZeroBytes(shared)
	return err
}

// verifyCertChain decodes the decrypted ServerHello payload and checks
// the intermediate certificate against the known issuer serial.
func verifyCertChain(raw []byte) error {
	var chain waproto.CertChain
	if err := chain.Unmarshal(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCertChain, err)
	}
	if chain.Intermediate == nil || chain.Intermediate.Details == nil {
		return fmt.Errorf("%w: missing intermediate certificate", ErrCertChain)
	}
	var details waproto.NoiseCertificateDetails
	if err := details.Unmarshal(chain.Intermediate.Details); err != nil {
		return fmt.Errorf("%w: bad certificate details: %v", ErrCertChain, err)
	}
	if details.IssuerSerial == nil || *details.IssuerSerial != certIssuerSerial {
		return fmt.Errorf("%w: issuer serial mismatch", ErrCertChain)
	}
	return nil
}
