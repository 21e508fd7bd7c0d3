package walink

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walink/crypto"
	"github.com/opd-ai/walink/store"
	"github.com/opd-ai/walink/wabin"
	"github.com/opd-ai/walink/waproto"
)

func pairDeviceStanza(id string, refs ...string) *wabin.Node {
	refNodes := make([]wabin.Node, 0, len(refs))
	for _, r := range refs {
		refNodes = append(refNodes, wabin.Node{Tag: "ref", Content: []byte(r)})
	}
	return &wabin.Node{
		Tag: "iq",
		Attrs: map[string]string{
			"id":   id,
			"type": "set",
			"from": ServerJID,
		},
		Content: []wabin.Node{{Tag: "pair-device", Content: refNodes}},
	}
}

// pairSuccessStanza builds a verifiable pair-success: a primary-side
// account key signs the device identity, and the envelope is sealed
// with the session's ADV secret.
func pairSuccessStanza(t *testing.T, creds *store.AuthCreds, id, jid string) (*wabin.Node, *crypto.KeyPair) {
	t.Helper()
	accountKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	details := (&waproto.ADVDeviceIdentity{
		RawID:     waproto.Uint32(42),
		Timestamp: waproto.Uint64(uint64(time.Now().Unix())),
		KeyIndex:  waproto.Uint32(1),
	}).Marshal()

	identityPub := creds.SignedIdentityKey.Pub
	accountMsg := concatBytes([]byte{0x06, 0x00}, details, identityPub[:])
	accountSig, err := crypto.Sign(accountKey.Priv, accountMsg)
	require.NoError(t, err)

	identity := &waproto.ADVSignedDeviceIdentity{
		Details:             details,
		AccountSignatureKey: accountKey.Pub[:],
		AccountSignature:    accountSig[:],
	}
	raw := identity.Marshal()
	envelope := &waproto.ADVSignedDeviceIdentityHMAC{
		Details: raw,
		HMAC:    crypto.HMACSHA256(creds.AdvSecretKey[:], raw),
	}

	return &wabin.Node{
		Tag: "iq",
		Attrs: map[string]string{
			"id":   id,
			"type": "set",
			"from": ServerJID,
		},
		Content: []wabin.Node{{
			Tag: "pair-success",
			Content: []wabin.Node{
				{Tag: "device-identity", Content: envelope.Marshal()},
				{Tag: "device", Attrs: map[string]string{"jid": jid}},
				{Tag: "biz", Attrs: map[string]string{"name": "Acme"}},
			},
		}},
	}, accountKey
}

func TestPairDeviceQRFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	assert.Equal(t, StateAwaitingPair, h.session.State())
	payload := h.server.payload()
	require.NotNil(t, payload)
	require.NotNil(t, payload.DevicePairingData)
	assert.Nil(t, payload.Username)

	h.server.send(pairDeviceStanza("P1", "ref-0", "ref-1", "ref-2"))

	ack := h.server.expect(func(n *wabin.Node) bool {
		return n.Tag == "iq" && n.AttrOr("id", "") == "P1"
	})
	assert.Equal(t, "result", ack.AttrOr("type", ""))

	update := nextEvent[ConnectionUpdate](t, h.events)
	for update.QR == "" {
		update = nextEvent[ConnectionUpdate](t, h.events)
	}
	require.Len(t, update.QRRefs, 3)
	assert.True(t, update.IsNewLogin)

	creds := h.session.Creds()
	require.NotNil(t, creds)
	want := "ref-0," +
		base64.StdEncoding.EncodeToString(creds.NoiseKey.Pub[:]) + "," +
		base64.StdEncoding.EncodeToString(creds.SignedIdentityKey.Pub[:]) + "," +
		base64.StdEncoding.EncodeToString(creds.AdvSecretKey[:])
	assert.Equal(t, want, update.QR)

	// Each rotation advances to the next ref.
	time.Sleep(50 * time.Millisecond)
	h.clock.Advance(21 * time.Second)
	rotated := nextEvent[ConnectionUpdate](t, h.events)
	for rotated.QR == "" {
		rotated = nextEvent[ConnectionUpdate](t, h.events)
	}
	assert.Contains(t, rotated.QR, "ref-1,")
}

func TestQRExhaustionClosesSession(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.server.send(pairDeviceStanza("P1", "ref-0", "ref-1"))
	update := nextEvent[ConnectionUpdate](t, h.events)
	for update.QR == "" {
		update = nextEvent[ConnectionUpdate](t, h.events)
	}

	time.Sleep(50 * time.Millisecond)
	h.clock.Advance(21 * time.Second)
	rotated := nextEvent[ConnectionUpdate](t, h.events)
	for rotated.QR == "" {
		rotated = nextEvent[ConnectionUpdate](t, h.events)
	}

	time.Sleep(50 * time.Millisecond)
	h.clock.Advance(21 * time.Second)
	nextEvent[QRExpired](t, h.events)

	closed := nextEvent[ConnectionUpdate](t, h.events)
	for closed.Connection != ConnectionClose {
		closed = nextEvent[ConnectionUpdate](t, h.events)
	}
	assert.Equal(t, StateClosed, h.session.State())

	// An unpaired session does not come back on its own.
	h.clock.Advance(time.Minute)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.dials())
}

func TestPairSuccessRegistersDevice(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.server.send(pairDeviceStanza("P1", "ref-0", "ref-1"))
	update := nextEvent[ConnectionUpdate](t, h.events)
	for update.QR == "" {
		update = nextEvent[ConnectionUpdate](t, h.events)
	}

	creds := h.session.Creds()
	stanza, accountKey := pairSuccessStanza(t, creds, "P2", "5511999@s.whatsapp.net:7")
	h.server.send(stanza)

	reply := h.server.expect(func(n *wabin.Node) bool {
		return n.Tag == "iq" && n.AttrOr("id", "") == "P2"
	})
	assert.Equal(t, "result", reply.AttrOr("type", ""))
	sign, ok := reply.GetChildByTag("pair-device-sign")
	require.True(t, ok)
	identityNode, ok := sign.GetChildByTag("device-identity")
	require.True(t, ok)
	assert.Equal(t, "1", identityNode.AttrOr("key-index", ""))

	var signed waproto.ADVSignedDeviceIdentity
	require.NoError(t, signed.Unmarshal(identityNode.ContentBytes()))
	assert.Nil(t, signed.AccountSignatureKey, "reply must strip the account signature key")
	require.Len(t, signed.DeviceSignature, 64)

	deviceMsg := concatBytes([]byte{0x06, 0x01}, signed.Details, creds.SignedIdentityKey.Pub[:], accountKey.Pub[:])
	var deviceSig [64]byte
	copy(deviceSig[:], signed.DeviceSignature)
	assert.True(t, crypto.Verify(creds.SignedIdentityKey.Pub, deviceMsg, deviceSig))

	// Credentials were rewritten and persisted before the reply.
	updated := h.session.Creds()
	require.NotNil(t, updated.Me)
	assert.Equal(t, "5511999@s.whatsapp.net:7", updated.Me.ID)
	assert.Equal(t, "Acme", updated.Me.Name)
	assert.True(t, updated.Registered)
	assert.Equal(t, "smba", updated.Platform)
	assert.Equal(t, accountKey.Pub[:], updated.CompanionKey)

	saved, err := h.store.LoadCreds("test")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, saved.Registered)

	credsEvt := nextEvent[CredsUpdate](t, h.events)
	assert.True(t, credsEvt.Creds.Registered)

	// The follow-up success opens the stream.
	h.server.send(&wabin.Node{Tag: "success"})
	open := nextEvent[ConnectionUpdate](t, h.events)
	for open.Connection != ConnectionOpen {
		open = nextEvent[ConnectionUpdate](t, h.events)
	}
	assert.Equal(t, StateOpen, h.session.State())
}

func TestSuccessIgnoredBeforePairSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	// A success on a never-paired session must not open the stream.
	h.server.send(&wabin.Node{Tag: "success"})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateAwaitingPair, h.session.State())
}

func TestPairSuccessBadHMAC(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	creds := h.session.Creds()
	forged := *creds
	forged.AdvSecretKey[0] ^= 0xff
	stanza, _ := pairSuccessStanza(t, &forged, "P2", "5511999@s.whatsapp.net:7")
	h.server.send(stanza)

	credsErr := nextEvent[CredsError](t, h.events)
	assert.ErrorIs(t, credsErr.Err, ErrPairHMAC)

	closed := nextEvent[ConnectionUpdate](t, h.events)
	for closed.Connection != ConnectionClose {
		closed = nextEvent[ConnectionUpdate](t, h.events)
	}
	assert.Equal(t, StateClosed, h.session.State())
	assert.False(t, h.session.Creds().Registered)
}

func TestGenerateNewQR(t *testing.T) {
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.session.GenerateNewQR(), ErrNotPairing)

	h.connect(t)
	require.Equal(t, StateAwaitingPair, h.session.State())
	require.NoError(t, h.session.GenerateNewQR())

	update := nextEvent[ConnectionUpdate](t, h.events)
	assert.Equal(t, ConnectionConnecting, update.Connection)
	assert.Empty(t, update.QR)
}
