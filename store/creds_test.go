package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walink/crypto"
)

func TestNewCredsInvariants(t *testing.T) {
	creds, err := NewCreds()
	require.NoError(t, err)

	assert.False(t, creds.Registered)
	assert.Nil(t, creds.Me)
	assert.GreaterOrEqual(t, creds.RegistrationID, uint32(1))
	assert.LessOrEqual(t, creds.RegistrationID, uint32(MaxRegistrationID))
	assert.Equal(t, uint32(1), creds.NextPreKeyID)
	assert.Equal(t, uint32(1), creds.FirstUnuploadedPreKeyID)
	require.NoError(t, creds.Validate())

	// The signed pre-key signature must verify over the DJB-prefixed
	// public with the identity key.
	prefixed := append([]byte{0x05}, creds.SignedPreKey.KeyPair.Pub[:]...)
	assert.True(t, crypto.Verify(creds.SignedIdentityKey.Pub, prefixed, creds.SignedPreKey.Signature))
}

func TestCredsJSONRoundTrip(t *testing.T) {
	creds, err := NewCreds()
	require.NoError(t, err)
	creds.Me = &Contact{ID: "5511999@s.whatsapp.net", Name: "test", LID: "987@lid"}
	creds.Registered = true
	creds.Platform = "smba"
	creds.CompanionKey = make([]byte, 32)
	creds.SignalIdentities = []SignalIdentity{{
		JID:    "5511999@s.whatsapp.net",
		Device: 0,
		Key:    append([]byte{0x05}, creds.SignedIdentityKey.Pub[:]...),
	}}

	raw, err := json.Marshal(creds)
	require.NoError(t, err)

	var loaded AuthCreds
	require.NoError(t, json.Unmarshal(raw, &loaded))
	assert.Equal(t, *creds, loaded)
}

func TestCredsValidate(t *testing.T) {
	creds, err := NewCreds()
	require.NoError(t, err)

	creds.Registered = true
	err = creds.Validate()
	assert.ErrorIs(t, err, ErrInvalidCreds, "registered without me.id must fail")

	creds.Me = &Contact{ID: "1@s.whatsapp.net"}
	assert.NoError(t, creds.Validate())

	creds.FirstUnuploadedPreKeyID = creds.NextPreKeyID + 1
	assert.ErrorIs(t, creds.Validate(), ErrInvalidCreds)
}

func TestCredsClone(t *testing.T) {
	creds, err := NewCreds()
	require.NoError(t, err)
	creds.Me = &Contact{ID: "5511999@s.whatsapp.net", Name: "test"}
	creds.Registered = true
	creds.CompanionKey = make([]byte, 32)
	creds.SignalIdentities = []SignalIdentity{{
		JID:    "5511999@s.whatsapp.net",
		Device: 0,
		Key:    append([]byte{0x05}, creds.SignedIdentityKey.Pub[:]...),
	}}

	clone := creds.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, *creds, *clone)

	clone.Me.ID = "other@s.whatsapp.net"
	clone.CompanionKey[0] = 0xff
	clone.SignalIdentities[0].Key[0] = 0xff

	assert.Equal(t, "5511999@s.whatsapp.net", creds.Me.ID)
	assert.Equal(t, byte(0), creds.CompanionKey[0])
	assert.Equal(t, byte(0x05), creds.SignalIdentities[0].Key[0])

	var nilCreds *AuthCreds
	assert.Nil(t, nilCreds.Clone())
}

func TestCredsComplete(t *testing.T) {
	creds, err := NewCreds()
	require.NoError(t, err)
	assert.False(t, creds.Complete(), "no linked account yet")

	creds.Me = &Contact{ID: "1@s.whatsapp.net"}
	assert.True(t, creds.Complete())

	var nilCreds *AuthCreds
	assert.False(t, nilCreds.Complete())
}
