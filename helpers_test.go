package walink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walink/crypto"
	"github.com/opd-ai/walink/noise"
	"github.com/opd-ai/walink/store"
	"github.com/opd-ai/walink/transport"
	"github.com/opd-ai/walink/wabin"
	"github.com/opd-ai/walink/waproto"
)

// fakeClock is a manually advanced Clock. After-channels fire when
// Advance moves the clock past their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.ch <- c.now
	} else {
		c.timers = append(c.timers, t)
	}
	return t.ch
}

// Advance moves time forward and fires every due timer.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var remaining []*fakeTimer
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.deadline.After(c.now) {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	now := c.now
	c.mu.Unlock()
	for _, t := range due {
		t.ch <- now
	}
}

// fakeConn is an in-memory frameConn. Outbound frames land on sent;
// tests feed inbound frames through the frames channel.
type fakeConn struct {
	sent   chan []byte
	frames chan []byte

	mu        sync.Mutex
	closed    bool
	closeCode int
	local     bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:   make(chan []byte, 64),
		frames: make(chan []byte, 64),
	}
}

func (c *fakeConn) SendFrame(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrConnClosed
	}
	c.mu.Unlock()
	c.sent <- payload
	return nil
}

func (c *fakeConn) Frames() <-chan []byte { return c.frames }

func (c *fakeConn) Close(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.local = true
	c.closeCode = code
	close(c.frames)
	return nil
}

// peerClose simulates the server dropping the connection with the
// given close code.
func (c *fakeConn) peerClose(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	close(c.frames)
}

func (c *fakeConn) CloseInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, ""
}

func (c *fakeConn) LocallyClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// fakeServer speaks the responder half of the handshake over a
// fakeConn and exchanges encrypted stanzas afterwards.
type fakeServer struct {
	t      *testing.T
	conn   *fakeConn
	engine *noise.Engine

	mu            sync.Mutex
	clientPayload *waproto.ClientPayload
}

func newFakeServer(t *testing.T, conn *fakeConn) *fakeServer {
	return &fakeServer{t: t, conn: conn}
}

func buildTestCertChain() []byte {
	details := &waproto.NoiseCertificateDetails{
		Serial:       waproto.Uint32(1),
		IssuerSerial: waproto.Uint32(0),
		Key:          make([]byte, 32),
	}
	chain := &waproto.CertChain{
		Leaf:         &waproto.NoiseCertificate{Details: []byte{0x08, 0x01}, Signature: make([]byte, 64)},
		Intermediate: &waproto.NoiseCertificate{Details: details.Marshal(), Signature: make([]byte, 64)},
	}
	return chain.Marshal()
}

// handshake runs the responder side to completion. Call it in a
// goroutine before the session connects.
func (s *fakeServer) handshake() error {
	helloRaw := <-s.conn.sent
	var hello waproto.HandshakeMessage
	if err := hello.Unmarshal(helloRaw); err != nil {
		return err
	}
	var clientEph [32]byte
	copy(clientEph[:], hello.ClientHello.Ephemeral)

	engine, err := noise.NewEngine(noise.Responder, transport.Header)
	if err != nil {
		return err
	}
	engine.Authenticate(clientEph[:])

	serverEph, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	serverStatic, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	engine.Authenticate(serverEph.Pub[:])

	shared, err := crypto.SharedSecret(serverEph.Priv, clientEph)
	if err != nil {
		return err
	}
	if err := engine.MixIntoKey(shared); err != nil {
		return err
	}
	staticEnc := engine.Encrypt(serverStatic.Pub[:])

	shared, err = crypto.SharedSecret(serverStatic.Priv, clientEph)
	if err != nil {
		return err
	}
	if err := engine.MixIntoKey(shared); err != nil {
		return err
	}
	payloadEnc := engine.Encrypt(buildTestCertChain())

	reply := &waproto.HandshakeMessage{ServerHello: &waproto.ServerHello{
		Ephemeral: serverEph.Pub[:],
		Static:    staticEnc,
		Payload:   payloadEnc,
	}}
	s.conn.frames <- reply.Marshal()

	finishRaw := <-s.conn.sent
	var finish waproto.HandshakeMessage
	if err := finish.Unmarshal(finishRaw); err != nil {
		return err
	}
	staticDec, err := engine.Decrypt(finish.ClientFinish.Static)
	if err != nil {
		return err
	}
	var clientStatic [32]byte
	copy(clientStatic[:], staticDec)
	shared, err = crypto.SharedSecret(serverEph.Priv, clientStatic)
	if err != nil {
		return err
	}
	if err := engine.MixIntoKey(shared); err != nil {
		return err
	}
	payloadDec, err := engine.Decrypt(finish.ClientFinish.Payload)
	if err != nil {
		return err
	}
	var payload waproto.ClientPayload
	if err := payload.Unmarshal(payloadDec); err != nil {
		return err
	}
	if err := engine.FinishInit(); err != nil {
		return err
	}

	s.mu.Lock()
	s.engine = engine
	s.clientPayload = &payload
	s.mu.Unlock()
	return nil
}

func (s *fakeServer) payload() *waproto.ClientPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientPayload
}

// send encrypts and delivers one stanza to the session.
func (s *fakeServer) send(n *wabin.Node) {
	s.t.Helper()
	raw, err := wabin.Marshal(n)
	require.NoError(s.t, err)
	s.mu.Lock()
	frame := s.engine.Encrypt(raw)
	s.mu.Unlock()
	s.conn.frames <- frame
}

// expect scans outbound stanzas until one satisfies pred, failing the
// test on timeout.
func (s *fakeServer) expect(pred func(*wabin.Node) bool) *wabin.Node {
	s.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case raw := <-s.conn.sent:
			s.mu.Lock()
			plain, err := s.engine.Decrypt(raw)
			s.mu.Unlock()
			require.NoError(s.t, err)
			node, err := wabin.Unmarshal(plain)
			require.NoError(s.t, err)
			if pred(node) {
				return node
			}
		case <-deadline:
			s.t.Fatal("timed out waiting for an expected stanza")
			return nil
		}
	}
}

// connectedSession dials a session against a fakeServer and waits for
// the handshake to finish.
type testHarness struct {
	session *Session
	server  *fakeServer
	conn    *fakeConn
	clock   *fakeClock
	store   store.Store
	events  <-chan Event

	mu        sync.Mutex
	dialCount int
	dialErr   error
	nextConns []*fakeConn
}

func newHarness(t *testing.T, st store.Store) *testHarness {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	h := &testHarness{clock: newFakeClock(), store: st}
	opts := NewOptions()
	opts.Clock = h.clock
	h.session = newSession("test", st, opts, h.dialFake)
	events, cancel := h.session.Events(256)
	h.events = events
	t.Cleanup(cancel)
	t.Cleanup(h.session.Disconnect)
	return h
}

func (h *testHarness) dialFake(ctx context.Context, cfg transport.Config) (frameConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dialCount++
	if h.dialErr != nil {
		return nil, h.dialErr
	}
	if len(h.nextConns) > 0 {
		conn := h.nextConns[0]
		h.nextConns = h.nextConns[1:]
		return conn, nil
	}
	return h.conn, nil
}

// setDialErr makes every subsequent dial fail with err; nil restores
// normal dialing.
func (h *testHarness) setDialErr(err error) {
	h.mu.Lock()
	h.dialErr = err
	h.mu.Unlock()
}

func (h *testHarness) dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dialCount
}

// connect performs a full handshake against a fresh fake server.
func (h *testHarness) connect(t *testing.T) {
	t.Helper()
	h.conn = newFakeConn()
	h.server = newFakeServer(t, h.conn)
	hsDone := make(chan error, 1)
	go func() { hsDone <- h.server.handshake() }()
	require.NoError(t, h.session.Connect(context.Background()))
	require.NoError(t, <-hsDone)
}

// nextEvent waits for the next event of type E, skipping others.
func nextEvent[E Event](t *testing.T, events <-chan Event) E {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatal("event stream closed")
			}
			if typed, match := evt.(E); match {
				return typed
			}
		case <-deadline:
			var zero E
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// registeredCreds builds a saved, registered credential set for login
// tests.
func registeredCreds(t *testing.T, jid string) *store.AuthCreds {
	t.Helper()
	creds, err := store.NewCreds()
	require.NoError(t, err)
	creds.Me = &store.Contact{ID: jid}
	creds.Registered = true
	creds.Platform = "smba"
	creds.ServerHasPreKeys = true
	return creds
}
