package walink

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/opd-ai/walink/crypto"
	"github.com/opd-ai/walink/metrics"
	"github.com/opd-ai/walink/store"
	"github.com/opd-ai/walink/wabin"
	"github.com/opd-ai/walink/waproto"
)

var (
	// ErrPairHMAC indicates the device identity envelope failed its
	// ADV-secret HMAC check; the pairing offer is not genuine.
	ErrPairHMAC = errors.New("walink: device identity HMAC mismatch")
	// ErrPairSignature indicates the primary's account signature over
	// the device identity did not verify.
	ErrPairSignature = errors.New("walink: account signature rejected")
	// ErrPairMalformed indicates a pair stanza missing required
	// children.
	ErrPairMalformed = errors.New("walink: malformed pair stanza")
)

// handlePairDevice acks the server's QR offer, surfaces the full
// payload list and starts the internal rotation.
func (s *Session) handlePairDevice(n *wabin.Node) {
	ack := &wabin.Node{
		Tag: "iq",
		Attrs: map[string]string{
			"id":   n.AttrOr("id", ""),
			"type": "result",
			"to":   n.AttrOr("from", ServerJID),
		},
	}
	if err := s.sendNode(ack); err != nil {
		s.log.WithError(err).Warn("pair-device ack failed")
	}

	pairNode, ok := n.GetChildByTag("pair-device")
	if !ok {
		s.log.Warn("pair-device stanza without pair-device child")
		return
	}
	var qrs []string
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()
	for _, ref := range pairNode.GetChildrenByTag("ref") {
		qrs = append(qrs, qrPayload(ref.ContentString(), creds))
	}
	if len(qrs) == 0 {
		s.log.Warn("pair-device stanza carried no refs")
		return
	}
	metrics.QRCodesIssued.Add(float64(len(qrs)))
	s.log.WithField("refs", len(qrs)).Info("pairing refs received")

	stop := make(chan struct{})
	s.mu.Lock()
	s.flags.qrStopped = false
	if s.qrStop != nil {
		close(s.qrStop)
	}
	s.qrStop = stop
	s.mu.Unlock()

	s.emit(ConnectionUpdate{
		Connection: ConnectionConnecting,
		QR:         qrs[0],
		QRRefs:     qrs,
		IsNewLogin: true,
	})

	s.wg.Add(1)
	go s.rotateQR(qrs, stop)
}

// qrPayload joins one server ref with the session's public material:
// ref, noise public, identity public and ADV secret, comma separated
// and base64 encoded.
func qrPayload(ref string, creds *store.AuthCreds) string {
	return ref + "," +
		base64.StdEncoding.EncodeToString(creds.NoiseKey.Pub[:]) + "," +
		base64.StdEncoding.EncodeToString(creds.SignedIdentityKey.Pub[:]) + "," +
		base64.StdEncoding.EncodeToString(creds.AdvSecretKey[:])
}

// rotateQR advances the current QR every QRTimeout. When the list runs
// out the session emits QRExpired and closes; a fresh connect fetches
// a new list.
func (s *Session) rotateQR(qrs []string, stop chan struct{}) {
	defer s.wg.Done()
	for i := 1; ; i++ {
		select {
		case <-stop:
			return
		case <-s.clock.After(s.opts.QRTimeout):
		}
		if i >= len(qrs) {
			s.log.Info("all pairing refs expired")
			s.emit(QRExpired{})
			s.mu.Lock()
			conn := s.conn
			cancel := s.cancel
			s.state = StateClosing
			s.mu.Unlock()
			if conn != nil {
				_ = conn.Close(1000)
			}
			if cancel != nil {
				cancel()
			}
			s.transitionClosed()
			s.emitClose(&Disconnect{Error: errors.New("walink: QR refs exhausted"), Code: 1000})
			return
		}
		s.emit(ConnectionUpdate{
			Connection: ConnectionConnecting,
			QR:         qrs[i],
		})
	}
}

// stopQR halts the rotation if one is running.
func (s *Session) stopQR() {
	s.mu.Lock()
	if s.qrStop != nil {
		close(s.qrStop)
		s.qrStop = nil
	}
	s.flags.qrStopped = true
	s.mu.Unlock()
}

// GenerateNewQR clears the current QR and leaves the session ready for
// the next server-driven pair-device cycle.
func (s *Session) GenerateNewQR() error {
	if s.State() != StateAwaitingPair {
		return ErrNotPairing
	}
	s.stopQR()
	s.mu.Lock()
	s.flags.qrStopped = false
	s.mu.Unlock()
	s.emit(ConnectionUpdate{Connection: ConnectionConnecting, QR: ""})
	return nil
}

// handlePairSuccess finalizes the registration: verify the device
// identity envelope, counter-sign it, persist the new account
// credentials and reply to the server.
func (s *Session) handlePairSuccess(n *wabin.Node) {
	s.mu.Lock()
	if s.flags.pairSuccessHandled {
		s.mu.Unlock()
		return
	}
	creds := s.creds
	s.mu.Unlock()

	reply, err := s.configureSuccessfulPairing(n, creds)
	if err != nil {
		s.log.WithError(err).Error("pairing finalization failed")
		s.emit(CredsError{Err: err})
		s.closeConnection(&Disconnect{Error: err, Code: 401}, false, 0)
		return
	}

	s.mu.Lock()
	s.flags.pairSuccessHandled = true
	s.state = StateAuthenticated
	s.mu.Unlock()
	s.stopQR()

	if err := s.sendNode(reply); err != nil {
		s.log.WithError(err).Warn("pair-success reply failed")
	}
	go func() {
		if err := s.uploadPreKeysIfNeeded(context.Background()); err != nil {
			s.log.WithError(err).Warn("pre-key upload failed")
		}
	}()
	// Runs off the read loop: sendIQ must not block stanza dispatch.
	go s.sendPassiveActive(context.Background())
	s.emit(ConnectionUpdate{
		Connection: ConnectionConnecting,
		QR:         "",
		IsNewLogin: true,
	})
	s.log.WithField("jid", creds.Me.ID).Info("device paired")
}

// configureSuccessfulPairing validates the server-supplied device
// identity, updates creds in place, persists them and builds the reply
// stanza. The creds write is durable before the reply is returned.
func (s *Session) configureSuccessfulPairing(n *wabin.Node, creds *store.AuthCreds) (*wabin.Node, error) {
	pairNode, ok := n.GetChildByTag("pair-success")
	if !ok {
		return nil, fmt.Errorf("%w: no pair-success child", ErrPairMalformed)
	}
	identityNode, ok := pairNode.GetChildByTag("device-identity")
	if !ok {
		return nil, fmt.Errorf("%w: no device-identity", ErrPairMalformed)
	}
	deviceNode, ok := pairNode.GetChildByTag("device")
	if !ok {
		return nil, fmt.Errorf("%w: no device", ErrPairMalformed)
	}
	deviceJID := deviceNode.AttrOr("jid", "")
	if deviceJID == "" {
		return nil, fmt.Errorf("%w: device without jid", ErrPairMalformed)
	}

	var envelope waproto.ADVSignedDeviceIdentityHMAC
	if err := envelope.Unmarshal(identityNode.ContentBytes()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairMalformed, err)
	}
	mac := crypto.HMACSHA256(creds.AdvSecretKey[:], envelope.Details)
	if !crypto.HMACEqual(mac, envelope.HMAC) {
		return nil, ErrPairHMAC
	}

	var identity waproto.ADVSignedDeviceIdentity
	if err := identity.Unmarshal(envelope.Details); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairMalformed, err)
	}
	if len(identity.AccountSignatureKey) != 32 || len(identity.AccountSignature) != 64 {
		return nil, fmt.Errorf("%w: bad account signature material", ErrPairMalformed)
	}

	identityPub := creds.SignedIdentityKey.Pub
	accountMsg := concatBytes([]byte{0x06, 0x00}, identity.Details, identityPub[:])
	var accountKey [32]byte
	copy(accountKey[:], identity.AccountSignatureKey)
	var accountSig [64]byte
	copy(accountSig[:], identity.AccountSignature)
	if !crypto.Verify(accountKey, accountMsg, accountSig) {
		return nil, ErrPairSignature
	}

	deviceMsg := concatBytes([]byte{0x06, 0x01}, identity.Details, identityPub[:], identity.AccountSignatureKey)
	deviceSig, err := crypto.Sign(creds.SignedIdentityKey.Priv, deviceMsg)
	if err != nil {
		return nil, fmt.Errorf("walink: device signature: %w", err)
	}
	identity.DeviceSignature = deviceSig[:]

	var details waproto.ADVDeviceIdentity
	if err := details.Unmarshal(identity.Details); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairMalformed, err)
	}

	platform := "smba"
	if platformNode, ok := pairNode.GetChildByTag("platform"); ok {
		if name := platformNode.AttrOr("name", ""); name != "" {
			platform = name
		}
	}
	bizName := ""
	if bizNode, ok := pairNode.GetChildByTag("biz"); ok {
		bizName = bizNode.AttrOr("name", "")
	}

	s.mu.Lock()
	creds.Me = &store.Contact{
		ID:   deviceJID,
		Name: bizName,
		LID:  deviceNode.AttrOr("lid", ""),
	}
	creds.Platform = platform
	creds.Registered = true
	creds.LastAccountSyncTimestamp = s.clock.Now().Unix()
	creds.CompanionKey = append([]byte(nil), identity.AccountSignatureKey...)

	// Keep only identities that belong to the freshly assigned jid and
	// make sure the local identity is recorded for device 0.
	prefixedIdentity := append([]byte{0x05}, identityPub[:]...)
	kept := creds.SignalIdentities[:0]
	for _, ident := range creds.SignalIdentities {
		if ident.JID == deviceJID {
			kept = append(kept, ident)
		}
	}
	creds.SignalIdentities = kept
	found := false
	for _, ident := range creds.SignalIdentities {
		if ident.JID == deviceJID && ident.Device == 0 && bytes.Equal(ident.Key, prefixedIdentity) {
			found = true
			break
		}
	}
	if !found {
		creds.SignalIdentities = append(creds.SignalIdentities, store.SignalIdentity{
			JID:    deviceJID,
			Device: 0,
			Key:    prefixedIdentity,
		})
	}
	s.mu.Unlock()

	if err := s.saveCreds(); err != nil {
		return nil, err
	}

	jid, err := wabin.ParseJID(deviceJID)
	if err == nil {
		if err := s.keys.PutIdentity(jid.ToNonAD().String(), 0, prefixedIdentity); err != nil {
			s.log.WithError(err).Warn("identity store write failed")
		}
	}

	// The reply carries the counter-signed identity without the
	// account signature key.
	identity.AccountSignatureKey = nil
	reply := &wabin.Node{
		Tag: "iq",
		Attrs: map[string]string{
			"id":   n.AttrOr("id", ""),
			"type": "result",
			"to":   ServerJID,
		},
		Content: []wabin.Node{{
			Tag: "pair-device-sign",
			Content: []wabin.Node{{
				Tag: "device-identity",
				Attrs: map[string]string{
					"key-index": fmt.Sprintf("%d", keyIndexOf(&details)),
				},
				Content: identity.Marshal(),
			}},
		}},
	}
	return reply, nil
}

func keyIndexOf(details *waproto.ADVDeviceIdentity) uint32 {
	if details.KeyIndex != nil {
		return *details.KeyIndex
	}
	return 0
}

func concatBytes(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
