package walink

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walink/store"
	"github.com/opd-ai/walink/wabin"
)

// answerPreKeyUpload waits for the encrypt IQ, validates its shape and
// acks it.
func answerPreKeyUpload(t *testing.T, h *testHarness, wantFirstID uint32) {
	t.Helper()
	iq := h.server.expect(func(n *wabin.Node) bool {
		return n.Tag == "iq" && n.AttrOr("xmlns", "") == "encrypt"
	})
	assert.Equal(t, "set", iq.AttrOr("type", ""))

	creds := h.session.Creds()

	reg, ok := iq.GetChildByTag("registration")
	require.True(t, ok)
	require.Len(t, reg.ContentBytes(), 4)
	assert.Equal(t, creds.RegistrationID, binary.BigEndian.Uint32(reg.ContentBytes()))

	typ, ok := iq.GetChildByTag("type")
	require.True(t, ok)
	assert.Equal(t, []byte{0x05}, typ.ContentBytes())

	ident, ok := iq.GetChildByTag("identity")
	require.True(t, ok)
	assert.Equal(t, creds.SignedIdentityKey.Pub[:], ident.ContentBytes())

	list, ok := iq.GetChildByTag("list")
	require.True(t, ok)
	keys := list.GetChildrenByTag("key")
	require.Len(t, keys, preKeyBatchSize)
	firstID, ok := keys[0].GetChildByTag("id")
	require.True(t, ok)
	assert.Equal(t, be24(wantFirstID), firstID.ContentBytes())

	skey, ok := iq.GetChildByTag("skey")
	require.True(t, ok)
	skeyID, ok := skey.GetChildByTag("id")
	require.True(t, ok)
	assert.Equal(t, be24(creds.SignedPreKey.KeyID), skeyID.ContentBytes())
	sig, ok := skey.GetChildByTag("signature")
	require.True(t, ok)
	assert.Len(t, sig.ContentBytes(), 64)

	h.server.send(&wabin.Node{
		Tag:   "iq",
		Attrs: map[string]string{"id": iq.AttrOr("id", ""), "type": "result", "from": ServerJID},
	})
}

func TestPreKeyUploadOnFirstSuccess(t *testing.T) {
	creds := registeredCreds(t, "5511999@s.whatsapp.net")
	creds.ServerHasPreKeys = false
	st := store.NewMemory()
	require.NoError(t, st.SaveCreds("test", creds))

	h := newHarness(t, st)
	h.connect(t)
	h.server.send(&wabin.Node{Tag: "success"})

	answerPreKeyUpload(t, h, 1)

	assert.Eventually(t, func() bool {
		c := h.session.Creds()
		return c.ServerHasPreKeys && c.FirstUnuploadedPreKeyID == preKeyBatchSize+1
	}, 3*time.Second, 20*time.Millisecond)

	// Every generated key is durable before the bundle went out.
	keys := store.NewKeys(h.store, "test")
	count, err := keys.CountUnusedPreKeys()
	require.NoError(t, err)
	assert.Equal(t, preKeyBatchSize, count)
	last, err := keys.GetPreKey(preKeyBatchSize)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, uint32(preKeyBatchSize), last.KeyID)
}

func TestPreKeyUploadSkippedWhenServerStocked(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.SaveCreds("test", registeredCreds(t, "5511999@s.whatsapp.net")))

	h := newHarness(t, st)
	h.connect(t)
	h.server.send(&wabin.Node{Tag: "success"})

	h.server.expect(func(n *wabin.Node) bool {
		return n.Tag == "iq" && n.AttrOr("xmlns", "") == "passive"
	})
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, h.conn.sent, "no upload when the server already holds pre-keys")
}

func TestMarkPreKeyUsedRefillsWhenLow(t *testing.T) {
	creds := registeredCreds(t, "5511999@s.whatsapp.net")
	creds.ServerHasPreKeys = false
	st := store.NewMemory()
	require.NoError(t, st.SaveCreds("test", creds))

	h := newHarness(t, st)
	h.connect(t)
	h.server.send(&wabin.Node{Tag: "success"})
	answerPreKeyUpload(t, h, 1)
	assert.Eventually(t, func() bool {
		return h.session.Creds().FirstUnuploadedPreKeyID == preKeyBatchSize+1
	}, 3*time.Second, 20*time.Millisecond)

	// Burn through the pool until only a handful remain.
	keys := store.NewKeys(h.store, "test")
	for id := uint32(1); id <= preKeyBatchSize-preKeyRefillThreshold; id++ {
		require.NoError(t, keys.MarkPreKeyUsed(id))
	}

	done := make(chan error, 1)
	go func() {
		done <- h.session.MarkPreKeyUsed(context.Background(), preKeyBatchSize-preKeyRefillThreshold+1)
	}()

	// Dropping below the threshold triggers a fresh batch.
	answerPreKeyUpload(t, h, preKeyBatchSize+1)
	require.NoError(t, <-done)

	c := h.session.Creds()
	assert.Equal(t, uint32(2*preKeyBatchSize+1), c.FirstUnuploadedPreKeyID)
	assert.Equal(t, c.NextPreKeyID, c.FirstUnuploadedPreKeyID)
}

func TestUploadPreKeysInFlightGuard(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.SaveCreds("test", registeredCreds(t, "5511999@s.whatsapp.net")))

	h := newHarness(t, st)
	h.connect(t)

	h.session.mu.Lock()
	h.session.flags.preKeyUploadInFlight = true
	h.session.mu.Unlock()

	// A second upload while one is pending is a silent no-op.
	require.NoError(t, h.session.uploadPreKeys(context.Background()))
}
