package walink

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/opd-ai/walink/crypto"
	"github.com/opd-ai/walink/store"
	"github.com/opd-ai/walink/wabin"
	"github.com/opd-ai/walink/waproto"
)

// buildClientPayload composes the encrypted half of ClientFinish. An
// unregistered session offers its key material for pairing; a
// registered one logs straight in with the linked account id.
func buildClientPayload(creds *store.AuthCreds, opts *Options) (*waproto.ClientPayload, error) {
	payload := &waproto.ClientPayload{
		Passive: waproto.Bool(false),
		UserAgent: &waproto.UserAgent{
			Platform: platformPtr(waproto.PlatformWeb),
			AppVersion: &waproto.AppVersion{
				Primary:   waproto.Uint32(opts.Version[0]),
				Secondary: waproto.Uint32(opts.Version[1]),
				Tertiary:  waproto.Uint32(opts.Version[2]),
			},
			ReleaseChannel:              releaseChannelPtr(waproto.ReleaseChannelRelease),
			LocaleLanguageISO6391:       waproto.String("en"),
			LocaleCountryISO31661Alpha2: waproto.String(opts.Country),
		},
		WebInfo: &waproto.WebInfo{
			WebSubPlatform: webSubPlatformPtr(waproto.WebSubPlatformWebBrowser),
		},
	}

	if !creds.Registered {
		payload.Pull = waproto.Bool(false)
		payload.DevicePairingData = registrationData(creds, opts)
		return payload, nil
	}

	if creds.Me == nil || creds.Me.ID == "" {
		return nil, fmt.Errorf("walink: registered session without an account id")
	}
	jid, err := wabin.ParseJID(creds.Me.ID)
	if err != nil {
		return nil, fmt.Errorf("walink: parse account id: %w", err)
	}
	user, err := strconv.ParseUint(jid.User, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("walink: account id user %q is not numeric: %w", jid.User, err)
	}
	payload.Pull = waproto.Bool(true)
	payload.Username = waproto.Uint64(user)
	payload.Device = waproto.Uint32(uint32(jid.Device))
	return payload, nil
}

// registrationData packs the companion key material offered on a first
// connect.
func registrationData(creds *store.AuthCreds, opts *Options) *waproto.DevicePairingRegistrationData {
	regid := make([]byte, 4)
	binary.BigEndian.PutUint32(regid, creds.RegistrationID)

	skeyID := make([]byte, 3)
	skeyID[0] = byte(creds.SignedPreKey.KeyID >> 16)
	skeyID[1] = byte(creds.SignedPreKey.KeyID >> 8)
	skeyID[2] = byte(creds.SignedPreKey.KeyID)

	platformType := waproto.PlatformTypeFor(opts.OSName)
	props := &waproto.DeviceProps{
		OS: waproto.String(opts.OSName),
		Version: &waproto.AppVersion{
			Primary:   waproto.Uint32(opts.Version[0]),
			Secondary: waproto.Uint32(opts.Version[1]),
			Tertiary:  waproto.Uint32(opts.Version[2]),
		},
		PlatformType:    &platformType,
		RequireFullSync: waproto.Bool(false),
	}

	return &waproto.DevicePairingRegistrationData{
		ERegid:      regid,
		EKeytype:    []byte{0x05},
		EIdent:      creds.SignedIdentityKey.Pub[:],
		ESkeyID:     skeyID,
		ESkeyVal:    creds.SignedPreKey.KeyPair.Pub[:],
		ESkeySig:    creds.SignedPreKey.Signature[:],
		BuildHash:   crypto.MD5([]byte(versionString(opts.Version))),
		DeviceProps: props.Marshal(),
	}
}

func versionString(v [3]uint32) string {
	parts := []string{
		strconv.FormatUint(uint64(v[0]), 10),
		strconv.FormatUint(uint64(v[1]), 10),
		strconv.FormatUint(uint64(v[2]), 10),
	}
	return strings.Join(parts, ".")
}

func platformPtr(p waproto.Platform) *waproto.Platform { return &p }

func releaseChannelPtr(c waproto.ReleaseChannel) *waproto.ReleaseChannel { return &c }

func webSubPlatformPtr(p waproto.WebSubPlatform) *waproto.WebSubPlatform { return &p }
