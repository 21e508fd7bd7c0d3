package wabin

import (
	"fmt"
	"strconv"
	"strings"
)

// Known JID servers.
const (
	DefaultUserServer = "s.whatsapp.net"
	GroupServer       = "g.us"
	BroadcastServer   = "broadcast"
	HiddenUserServer  = "lid"
	NewsletterServer  = "newsletter"
)

// JID identifies an account, device, group or broadcast list. The wire
// form is user@server with an optional :device suffix for companion
// devices.
type JID struct {
	User   string
	Server string
	Device uint16
}

// NewJID builds a device-less JID.
func NewJID(user, server string) JID {
	return JID{User: user, Server: server}
}

// NewADJID builds a companion-device JID on the given server.
func NewADJID(user string, device uint16, server string) JID {
	return JID{User: user, Server: server, Device: device}
}

// ParseJID parses user@server and user@server:device forms. A string
// with no @ is treated as a bare server.
func ParseJID(raw string) (JID, error) {
	at := strings.IndexByte(raw, '@')
	if at < 0 {
		return JID{Server: raw}, nil
	}
	jid := JID{User: raw[:at], Server: raw[at+1:]}
	if colon := strings.IndexByte(jid.Server, ':'); colon >= 0 {
		devStr := jid.Server[colon+1:]
		jid.Server = jid.Server[:colon]
		dev, err := strconv.ParseUint(devStr, 10, 16)
		if err != nil {
			return JID{}, fmt.Errorf("wabin: invalid device part %q: %w", devStr, err)
		}
		jid.Device = uint16(dev)
	}
	return jid, nil
}

// String renders the canonical wire form. The device part is omitted
// when zero.
func (j JID) String() string {
	if j.User == "" {
		return j.Server
	}
	if j.Device > 0 {
		return j.User + "@" + j.Server + ":" + strconv.FormatUint(uint64(j.Device), 10)
	}
	return j.User + "@" + j.Server
}

// IsEmpty reports whether the JID has no user and no server.
func (j JID) IsEmpty() bool {
	return j.User == "" && j.Server == ""
}

// ToNonAD strips the device part, yielding the primary account JID.
func (j JID) ToNonAD() JID {
	j.Device = 0
	return j
}

// IsGroup reports whether the JID addresses a group.
func (j JID) IsGroup() bool {
	return j.Server == GroupServer
}

// IsBroadcast reports whether the JID addresses a broadcast list.
func (j JID) IsBroadcast() bool {
	return j.Server == BroadcastServer
}
