package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Header is sent once, ahead of the first frame of every connection.
var Header = []byte{'W', 'A', 6, 3}

const (
	frameLengthSize = 3
	// FrameMaxSize is the largest payload the 3-byte length field can
	// describe.
	FrameMaxSize = 1<<24 - 1

	writeTimeout      = 30 * time.Second
	closeWriteTimeout = 5 * time.Second
)

var (
	// ErrConnClosed is returned by SendFrame after the connection went
	// away.
	ErrConnClosed = errors.New("transport: connection closed")
	// ErrFrameTooLarge is returned for payloads the length prefix
	// cannot represent.
	ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")
)

// Config carries the dial parameters for one connection.
type Config struct {
	// URL is the wss endpoint.
	URL string
	// Origin is sent as the HTTP Origin header; the server rejects
	// connections without a browser origin.
	Origin string
	// ProxyURL optionally routes the connection through an http(s) or
	// socks5 proxy.
	ProxyURL string
	// FrameBuffer overrides the inbound channel capacity. Zero means
	// the default of 32.
	FrameBuffer int
}

// Conn is a framed connection. Frames() delivers inbound payloads in
// order until the connection ends; SendFrame may be called from any
// goroutine.
type Conn struct {
	ws     *websocket.Conn
	frames chan []byte
	log    *logrus.Entry

	writeMu    sync.Mutex
	headerSent bool

	closeOnce sync.Once
	closed    chan struct{}

	mu          sync.Mutex
	closeCode   int
	closeReason string
	localClose  bool
}

// Dial opens the WebSocket, negotiates nothing (the protocol header
// rides on the first frame), and starts the read pump.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
	}
	if cfg.ProxyURL != "" {
		if err := configureProxy(&dialer, cfg.ProxyURL); err != nil {
			return nil, err
		}
	}

	header := http.Header{}
	if cfg.Origin != "" {
		header.Set("Origin", cfg.Origin)
	}
	ws, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (http %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", cfg.URL, err)
	}

	buffer := cfg.FrameBuffer
	if buffer <= 0 {
		buffer = 32
	}
	c := &Conn{
		ws:     ws,
		frames: make(chan []byte, buffer),
		closed: make(chan struct{}),
		log:    logrus.WithField("url", cfg.URL),
	}
	go c.readPump()
	c.log.Debug("websocket connected")
	return c, nil
}

// configureProxy wires an http(s) CONNECT proxy or a socks5 dialer into
// the websocket dialer.
func configureProxy(dialer *websocket.Dialer, proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("transport: parse proxy url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		dialer.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		socks, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return fmt.Errorf("transport: socks proxy: %w", err)
		}
		dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := socks.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return socks.Dial(network, addr)
		}
	default:
		return fmt.Errorf("transport: unsupported proxy scheme %q", u.Scheme)
	}
	return nil
}

// Frames returns the inbound frame stream. The channel closes when the
// read side ends for any reason.
func (c *Conn) Frames() <-chan []byte {
	return c.frames
}

// SendFrame writes one frame, prefixing the connection header on the
// first call.
func (c *Conn) SendFrame(payload []byte) error {
	if len(payload) > FrameMaxSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	data := make([]byte, 0, len(Header)+frameLengthSize+len(payload))
	if !c.headerSent {
		data = append(data, Header...)
		c.headerSent = true
	}
	n := len(payload)
	data = append(data, byte(n>>16), byte(n>>8), byte(n))
	data = append(data, payload...)

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	return nil
}

// Close sends a close frame with the given code and tears the
// connection down. Safe to call more than once.
func (c *Conn) Close(code int) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.localClose = true
		if c.closeCode == 0 {
			c.closeCode = code
		}
		c.mu.Unlock()
		close(c.closed)

		msg := websocket.FormatCloseMessage(code, "")
		deadline := time.Now().Add(closeWriteTimeout)
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil {
			c.log.WithError(werr).Debug("close frame write failed")
		}
		err = c.ws.Close()
	})
	return err
}

// CloseInfo reports how the connection ended: the close code from the
// peer's close frame, the locally requested code, or 1006 when the
// connection dropped without one. Zero means the connection is still
// alive.
func (c *Conn) CloseInfo() (code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// LocallyClosed reports whether Close was called on this side first.
func (c *Conn) LocallyClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localClose
}

func (c *Conn) setCloseInfo(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCode == 0 {
		c.closeCode = code
		c.closeReason = reason
	}
}

// readPump drains WebSocket messages, reassembles frames across
// message boundaries and feeds them to the frame channel.
func (c *Conn) readPump() {
	defer close(c.frames)
	var buf []byte
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.recordReadEnd(err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		buf = append(buf, data...)
		for len(buf) >= frameLengthSize {
			length := int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
			if len(buf) < frameLengthSize+length {
				break
			}
			frame := make([]byte, length)
			copy(frame, buf[frameLengthSize:frameLengthSize+length])
			buf = buf[frameLengthSize+length:]
			select {
			case c.frames <- frame:
			case <-c.closed:
				return
			}
		}
	}
}

func (c *Conn) recordReadEnd(err error) {
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		c.setCloseInfo(ce.Code, ce.Text)
		c.log.WithFields(logrus.Fields{
			"code":   ce.Code,
			"reason": ce.Text,
		}).Debug("connection closed by peer")
	case c.LocallyClosed():
		// Close() already recorded the requested code.
	default:
		c.setCloseInfo(websocket.CloseAbnormalClosure, err.Error())
		c.log.WithError(err).Debug("connection lost")
	}
}
