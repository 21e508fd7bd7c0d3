package walink

import (
	"time"
)

// Default endpoint and identity parameters. The server rejects
// connections whose Origin does not look like the web client.
const (
	DefaultURL    = "wss://web.whatsapp.com/ws/chat"
	DefaultOrigin = "https://web.whatsapp.com"
)

// Options configures a session. NewOptions returns the defaults; zero
// fields on a partially filled Options are replaced by them.
type Options struct {
	// URL is the upstream WebSocket endpoint.
	URL string
	// Origin is sent as the HTTP Origin header.
	Origin string
	// ProxyURL optionally routes the connection through an http(s) or
	// socks5 proxy.
	ProxyURL string

	// Country is the ISO 3166-1 alpha-2 country advertised in the
	// client payload.
	Country string
	// OSName is the device name shown on the primary phone. "Mac OS"
	// and "Windows" map to their native platform types; anything else
	// registers as a web browser.
	OSName string
	// Version is the advertised client version. Its MD5 over the
	// dotted form is the registration build hash.
	Version [3]uint32

	// HandshakeTimeout bounds the wait for each handshake frame.
	HandshakeTimeout time.Duration
	// ResponseTimeout bounds the wait for an IQ response by id.
	ResponseTimeout time.Duration
	// KeepAliveInterval is the ping cadence while authenticated. No
	// inbound data for twice this interval counts as a lost
	// connection.
	KeepAliveInterval time.Duration
	// QRTimeout is the validity window of a single pairing ref.
	QRTimeout time.Duration

	// ReconnectBase is the first reconnect delay; each further attempt
	// doubles it.
	ReconnectBase time.Duration
	// MaxReconnectAttempts caps automatic reconnection.
	MaxReconnectAttempts int

	// Clock supplies time; tests install a fake.
	Clock Clock
}

// NewOptions returns the default configuration.
func NewOptions() *Options {
	return &Options{
		URL:                  DefaultURL,
		Origin:               DefaultOrigin,
		Country:              "US",
		OSName:               "Mac OS",
		Version:              [3]uint32{2, 3000, 0},
		HandshakeTimeout:     20 * time.Second,
		ResponseTimeout:      20 * time.Second,
		KeepAliveInterval:    30 * time.Second,
		QRTimeout:            20 * time.Second,
		ReconnectBase:        3 * time.Second,
		MaxReconnectAttempts: 5,
		Clock:                SystemClock,
	}
}

// withDefaults fills zero fields from NewOptions so a caller may set
// only what it cares about.
func (o *Options) withDefaults() *Options {
	def := NewOptions()
	if o == nil {
		return def
	}
	out := *o
	if out.URL == "" {
		out.URL = def.URL
	}
	if out.Origin == "" {
		out.Origin = def.Origin
	}
	if out.Country == "" {
		out.Country = def.Country
	}
	if out.OSName == "" {
		out.OSName = def.OSName
	}
	if out.Version == ([3]uint32{}) {
		out.Version = def.Version
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.ResponseTimeout == 0 {
		out.ResponseTimeout = def.ResponseTimeout
	}
	if out.KeepAliveInterval == 0 {
		out.KeepAliveInterval = def.KeepAliveInterval
	}
	if out.QRTimeout == 0 {
		out.QRTimeout = def.QRTimeout
	}
	if out.ReconnectBase == 0 {
		out.ReconnectBase = def.ReconnectBase
	}
	if out.MaxReconnectAttempts == 0 {
		out.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	return &out
}

// VersionString renders the advertised version in dotted form.
func (o *Options) VersionString() string {
	return versionString(o.Version)
}
