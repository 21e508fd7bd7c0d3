package walink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walink/crypto"
	"github.com/opd-ai/walink/metrics"
	"github.com/opd-ai/walink/noise"
	"github.com/opd-ai/walink/store"
	"github.com/opd-ai/walink/transport"
	"github.com/opd-ai/walink/wabin"
)

// SessionState is the connection phase of one session.
type SessionState uint8

const (
	StateClosed SessionState = iota
	StateConnecting
	StateHandshaking
	StateAwaitingPair
	StateAuthenticated
	StateOpen
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAwaitingPair:
		return "awaiting_pair"
	case StateAuthenticated:
		return "authenticated"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	// ErrAlreadyConnected is returned by Connect on a session that is
	// not closed.
	ErrAlreadyConnected = errors.New("walink: session already connected")
	// ErrNotConnected is returned by operations that need a live
	// connection.
	ErrNotConnected = errors.New("walink: session not connected")
	// ErrNotPairing is returned by GenerateNewQR outside the pairing
	// phase.
	ErrNotPairing = errors.New("walink: session is not awaiting pairing")
	// ErrResponseTimeout is returned when an IQ response does not
	// arrive in time.
	ErrResponseTimeout = errors.New("walink: timed out waiting for response")
)

// ServerJID is the stanza address of the upstream service itself.
const ServerJID = "s.whatsapp.net"

// passiveActiveDebounce suppresses duplicate passive-active IQs fired
// close together (pair-success and the following success both request
// one).
const passiveActiveDebounce = 5 * time.Second

// frameConn is the transport surface the session drives; satisfied by
// *transport.Conn and by test fakes.
type frameConn interface {
	SendFrame(payload []byte) error
	Frames() <-chan []byte
	Close(code int) error
	CloseInfo() (code int, reason string)
	LocallyClosed() bool
}

// dialFunc opens a framed connection; tests substitute their own.
type dialFunc func(ctx context.Context, cfg transport.Config) (frameConn, error)

func defaultDial(ctx context.Context, cfg transport.Config) (frameConn, error) {
	return transport.Dial(ctx, cfg)
}

// MessageDecrypter is the pluggable per-peer decryption sub-service.
// The session routes encrypted message stanzas through it and surfaces
// whatever it returns via MessagesUpsert.
type MessageDecrypter interface {
	DecryptMessage(keys *store.Keys, node *wabin.Node) (*wabin.Node, error)
}

// sessionFlags are the once-per-lifetime guards of the state machine.
// They reset on every closed→connecting transition.
type sessionFlags struct {
	successHandled       bool
	pairSuccessHandled   bool
	passiveActiveSent    bool
	preKeyUploadInFlight bool
	streamEnded          bool
	qrStopped            bool
	openEmitted          bool
	closeEmitted         bool
}

// Session is one long-lived client connection to the upstream service.
// It exclusively owns its credentials, Noise engine and transport; the
// manager only holds it for lookup and shutdown.
type Session struct {
	// ID is the registry key and the durable-store partition key.
	ID string

	opts      *Options
	store     store.Store
	keys      *store.Keys
	clock     Clock
	log       *logrus.Entry
	bus       *eventBus
	dial      dialFunc
	decrypter MessageDecrypter

	mu      sync.Mutex
	state   SessionState
	creds   *store.AuthCreds
	conn    frameConn
	engine  *noise.Engine
	disp    *dispatcher
	cancel  context.CancelFunc
	started bool

	flags             sessionFlags
	startedUnpaired   bool
	lastDateRecv      time.Time
	lastPassiveActive time.Time
	everOpened        bool
	userStopped       bool
	qrStop            chan struct{}

	backoff           *backoff.Backoff
	reconnectAttempts int

	wg sync.WaitGroup
}

// NewSession builds a session bound to the given store partition. The
// session is created closed; Connect brings it up.
func NewSession(id string, st store.Store, opts *Options) *Session {
	return newSession(id, st, opts, defaultDial)
}

func newSession(id string, st store.Store, opts *Options, dial dialFunc) *Session {
	opts = opts.withDefaults()
	log := logrus.WithField("session_id", id)
	return &Session{
		ID:    id,
		opts:  opts,
		store: st,
		keys:  store.NewKeys(st, id),
		clock: opts.Clock,
		log:   log,
		bus:   newEventBus(log),
		dial:  dial,
		backoff: &backoff.Backoff{
			Min:    opts.ReconnectBase,
			Max:    10 * time.Minute,
			Factor: 2,
			Jitter: false,
		},
	}
}

// SetDecrypter installs the message decryption sub-service. Must be
// called before Connect.
func (s *Session) SetDecrypter(d MessageDecrypter) {
	s.mu.Lock()
	s.decrypter = d
	s.mu.Unlock()
}

// Events subscribes to the session's event stream. The cancel function
// closes the returned channel.
func (s *Session) Events(buffer int) (<-chan Event, func()) {
	return s.bus.subscribe(buffer)
}

// State returns the current connection phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Creds returns a copy of the current credentials, or nil before the
// first connect.
func (s *Session) Creds() *store.AuthCreds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.Clone()
}

// Connect loads (or creates) credentials, dials the upstream socket
// and runs the Noise handshake. On return the session is either
// awaiting pairing or authenticated; ctx bounds only the dial and
// handshake.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.flags = sessionFlags{}
	s.userStopped = false
	s.mu.Unlock()

	creds, err := s.loadOrInitCreds()
	if err != nil {
		s.transitionClosed()
		return err
	}
	s.mu.Lock()
	s.creds = creds
	s.startedUnpaired = !creds.Registered
	s.mu.Unlock()

	s.emit(ConnectionUpdate{Connection: ConnectionConnecting})

	conn, err := s.dial(ctx, transport.Config{
		URL:      s.opts.URL,
		Origin:   s.opts.Origin,
		ProxyURL: s.opts.ProxyURL,
	})
	if err != nil {
		s.transitionClosed()
		s.emitClose(&Disconnect{Error: err})
		if creds.Complete() {
			s.scheduleReconnect(0)
		}
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateHandshaking
	s.mu.Unlock()

	engine, err := s.runHandshake(ctx, conn, creds)
	if err != nil {
		metrics.Handshakes.WithLabelValues("error").Inc()
		_ = conn.Close(1000)
		s.transitionClosed()
		s.emitClose(&Disconnect{Error: err})
		if creds.Complete() {
			s.scheduleReconnect(0)
		}
		return err
	}
	metrics.Handshakes.WithLabelValues("ok").Inc()

	connCtx, cancel := context.WithCancel(context.Background())
	disp := newDispatcher()

	s.mu.Lock()
	s.engine = engine
	s.disp = disp
	s.cancel = cancel
	s.lastDateRecv = s.clock.Now()
	if creds.Registered {
		s.state = StateAuthenticated
	} else {
		s.state = StateAwaitingPair
	}
	s.started = true
	s.mu.Unlock()

	s.registerHandlers(disp)
	metrics.SessionsActive.Inc()

	s.wg.Add(2)
	go s.readLoop(connCtx, conn, engine, disp)
	go s.keepAliveLoop(connCtx)

	if creds.Registered {
		go func() {
			s.sendPresenceAvailable()
			s.sendPassiveActive(connCtx)
		}()
	}
	s.log.WithField("state", s.State().String()).Info("connected")
	return nil
}

// loadOrInitCreds fetches the stored credentials or generates and
// persists a fresh set on the first connect.
func (s *Session) loadOrInitCreds() (*store.AuthCreds, error) {
	creds, err := s.store.LoadCreds(s.ID)
	if err != nil {
		return nil, fmt.Errorf("walink: load creds: %w", err)
	}
	if creds != nil {
		return creds, nil
	}
	creds, err = store.NewCreds()
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveCreds(s.ID, creds); err != nil {
		return nil, fmt.Errorf("walink: save fresh creds: %w", err)
	}
	s.log.Info("generated fresh credentials")
	return creds, nil
}

func (s *Session) runHandshake(ctx context.Context, conn frameConn, creds *store.AuthCreds) (*noise.Engine, error) {
	payload, err := buildClientPayload(creds, s.opts)
	if err != nil {
		return nil, err
	}
	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("walink: generate handshake ephemeral: %w", err)
	}
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()
	return noise.Handshake(hctx, conn, transport.Header, &creds.NoiseKey, ephemeral, payload.Marshal())
}

// registerHandlers installs the stanza routing table. Order matters:
// first hit wins.
func (s *Session) registerHandlers(d *dispatcher) {
	d.handle(stanzaPredicate{Tag: "iq", AttrKey: "type", AttrValue: "set", ChildTag: "pair-device"}, s.handlePairDevice)
	d.handle(stanzaPredicate{Tag: "iq", AttrKey: "type", AttrValue: "set", ChildTag: "pair-success"}, s.handlePairSuccess)
	d.handle(stanzaPredicate{Tag: "iq", AttrKey: "xmlns", AttrValue: "urn:xmpp:ping"}, s.handlePing)
	d.handle(stanzaPredicate{Tag: "success"}, s.handleSuccess)
	d.handle(stanzaPredicate{Tag: "failure"}, s.handleFailure)
	d.handle(stanzaPredicate{Tag: "stream:error"}, s.handleStreamError)
	d.handle(stanzaPredicate{Tag: "xmlstreamend"}, s.handleStreamEnd)
	d.handle(stanzaPredicate{Tag: "message"}, s.handleMessage)
	d.handle(stanzaPredicate{Tag: "ib"}, s.handleIB)
}

// readLoop drains the frame stream, decrypts and decodes each frame
// and routes the stanza. It owns dispatch ordering: frames are
// processed strictly in arrival order.
func (s *Session) readLoop(ctx context.Context, conn frameConn, engine *noise.Engine, disp *dispatcher) {
	defer s.wg.Done()
	defer disp.reset()
	for {
		select {
		case frame, ok := <-conn.Frames():
			if !ok {
				s.handleConnClosed(conn)
				return
			}
			plain := frame
			if engine != nil {
				var err error
				plain, err = engine.Decrypt(frame)
				if err != nil {
					// Stray frames arrive during state transitions;
					// drop them without closing.
					metrics.DecryptFailures.Inc()
					s.log.WithError(err).Debug("dropping undecryptable frame")
					continue
				}
			}
			node, err := wabin.Unmarshal(plain)
			if err != nil {
				s.log.WithError(err).Debug("dropping undecodable frame")
				continue
			}
			metrics.FramesIn.Inc()
			s.mu.Lock()
			s.lastDateRecv = s.clock.Now()
			s.mu.Unlock()
			s.handleNode(node, disp)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleNode(n *wabin.Node, disp *dispatcher) {
	if disp.dispatch(n) {
		return
	}
	// Unexpected stanza for the current state. A direct request still
	// deserves an error reply; everything else is just logged.
	if n.Tag == "iq" && n.AttrOr("type", "") == "get" {
		reply := &wabin.Node{
			Tag: "iq",
			Attrs: map[string]string{
				"id":   n.AttrOr("id", ""),
				"type": "error",
				"to":   ServerJID,
			},
			Content: []wabin.Node{{
				Tag:   "error",
				Attrs: map[string]string{"code": "501", "text": "feature-not-implemented"},
			}},
		}
		if err := s.sendNode(reply); err != nil {
			s.log.WithError(err).Debug("error reply failed")
		}
		return
	}
	s.log.WithField("tag", n.Tag).Debug("ignoring unexpected stanza")
}

// handlePing answers every urn:xmpp:ping IQ with a result carrying the
// same id. No state transition.
func (s *Session) handlePing(n *wabin.Node) {
	if n.AttrOr("type", "") != "get" {
		return
	}
	reply := &wabin.Node{
		Tag: "iq",
		Attrs: map[string]string{
			"id":   n.AttrOr("id", ""),
			"type": "result",
			"to":   ServerJID,
		},
	}
	if err := s.sendNode(reply); err != nil {
		s.log.WithError(err).Warn("ping reply failed")
	}
}

// handleSuccess moves the session to open. A first-time login must
// have completed pair-success before success may take effect.
func (s *Session) handleSuccess(n *wabin.Node) {
	s.mu.Lock()
	if s.flags.successHandled {
		s.mu.Unlock()
		return
	}
	if s.startedUnpaired && !s.flags.pairSuccessHandled {
		s.mu.Unlock()
		s.log.Debug("ignoring success before pair-success")
		return
	}
	s.flags.successHandled = true
	s.state = StateOpen
	s.everOpened = true
	s.reconnectAttempts = 0
	s.backoff.Reset()
	creds := s.creds
	lid, hasLID := n.GetAttr("lid")
	s.mu.Unlock()

	s.log.Info("stream success, connection open")

	if hasLID && creds != nil && creds.Me != nil && creds.Me.LID != lid {
		s.mu.Lock()
		creds.Me.LID = lid
		s.mu.Unlock()
		if err := s.saveCreds(); err != nil {
			s.emit(CredsError{Err: err})
		}
	}

	go func() {
		if err := s.uploadPreKeysIfNeeded(context.Background()); err != nil {
			s.log.WithError(err).Warn("pre-key upload failed")
		}
	}()
	// Runs off the read loop: sendIQ must not block stanza dispatch.
	go s.sendPassiveActive(context.Background())
	s.emitOpen()
}

func (s *Session) handleFailure(n *wabin.Node) {
	reason := n.AttrOr("reason", "unknown")
	s.log.WithField("reason", reason).Warn("stream failure")
	s.closeConnection(&Disconnect{
		Error: fmt.Errorf("walink: connection failure (%s)", reason),
		Code:  atoiOr(reason, 500),
	}, false, 0)
}

func (s *Session) handleStreamError(n *wabin.Node) {
	streamErr, isPing := mapStreamError(n)
	if isPing {
		// Malformed pong: close quietly, never surface.
		s.log.Debug("stream error: ping, closing as pong malformed")
		s.closeConnection(nil, false, 0)
		return
	}
	s.log.WithFields(logrus.Fields{
		"reason": streamErr.Reason,
		"code":   streamErr.Code,
	}).Warn("stream error")

	// Replaced means another client owns the slot now; coming back
	// would just bounce. Conflict may resolve, but give the server
	// room first.
	var minDelay time.Duration
	if streamErr.Reason == "conflict" {
		minDelay = 5 * time.Second
	}
	reconnect := streamErr.Reason != "replaced"
	s.closeConnection(&Disconnect{Error: streamErr, Code: streamErr.Code}, reconnect, minDelay)
}

func (s *Session) handleStreamEnd(n *wabin.Node) {
	s.mu.Lock()
	s.flags.streamEnded = true
	s.mu.Unlock()
	s.log.Debug("received stream end")
	s.closeConnection(&Disconnect{Error: errors.New("walink: stream ended"), Code: 1000}, false, 0)
}

// handleMessage routes an encrypted message stanza through the
// pluggable decrypter and surfaces the result.
func (s *Session) handleMessage(n *wabin.Node) {
	s.mu.Lock()
	dec := s.decrypter
	s.mu.Unlock()

	out := n
	if dec != nil {
		decrypted, err := dec.DecryptMessage(s.keys, n)
		if err != nil {
			s.log.WithError(err).Warn("message decrypt failed")
			return
		}
		out = decrypted
	}
	s.emit(MessagesUpsert{Messages: []*wabin.Node{out}, Type: "notify"})
}

func (s *Session) handleIB(n *wabin.Node) {
	if _, ok := n.GetChildByTag("offline"); ok {
		// Connection stays unset: the open update already went out via
		// emitOpen, exactly once.
		s.emit(ConnectionUpdate{ReceivedPendingNotifications: true})
	}
}

// keepAliveLoop pings on a fixed cadence while the session is
// authenticated or open and force-closes a connection that has gone
// silent for two intervals.
func (s *Session) keepAliveLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.opts.KeepAliveInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
		}

		s.mu.Lock()
		state := s.state
		last := s.lastDateRecv
		s.mu.Unlock()
		if state != StateAuthenticated && state != StateOpen {
			continue
		}
		if !last.IsZero() && s.clock.Now().Sub(last) > 2*interval {
			s.log.Warn("no inbound data for two keep-alive intervals")
			s.closeConnection(&Disconnect{
				Error: errors.New("Connection was lost"),
				Code:  1006,
			}, true, 0)
			return
		}
		go s.sendKeepAlive(ctx)
	}
}

func (s *Session) sendKeepAlive(ctx context.Context) {
	ping := &wabin.Node{
		Tag: "iq",
		Attrs: map[string]string{
			"to":    ServerJID,
			"type":  "get",
			"xmlns": "urn:xmpp:ping",
		},
		Content: []wabin.Node{{Tag: "ping"}},
	}
	if _, err := s.sendIQ(ctx, ping); err != nil {
		// The staleness detector decides whether the connection is
		// actually gone.
		s.log.WithError(err).Debug("keep-alive ping got no response")
	}
}

func (s *Session) sendPresenceAvailable() {
	node := &wabin.Node{
		Tag:   "presence",
		Attrs: map[string]string{"type": "available"},
	}
	if err := s.sendNode(node); err != nil {
		s.log.WithError(err).Debug("presence send failed")
	}
}

// sendPassiveActive flips the server's routing mode to active, at most
// once per debounce window.
func (s *Session) sendPassiveActive(ctx context.Context) {
	s.mu.Lock()
	now := s.clock.Now()
	if s.flags.passiveActiveSent && now.Sub(s.lastPassiveActive) < passiveActiveDebounce {
		s.mu.Unlock()
		return
	}
	s.flags.passiveActiveSent = true
	s.lastPassiveActive = now
	s.mu.Unlock()

	iq := &wabin.Node{
		Tag: "iq",
		Attrs: map[string]string{
			"to":    ServerJID,
			"type":  "set",
			"xmlns": "passive",
		},
		Content: []wabin.Node{{Tag: "active"}},
	}
	if _, err := s.sendIQ(ctx, iq); err != nil {
		s.log.WithError(err).Warn("passive-active IQ failed")
	}
}

// sendNode encodes, encrypts and frames one stanza.
func (s *Session) sendNode(n *wabin.Node) error {
	s.mu.Lock()
	conn := s.conn
	engine := s.engine
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	raw, err := wabin.Marshal(n)
	if err != nil {
		return fmt.Errorf("walink: encode stanza: %w", err)
	}
	if engine != nil && engine.IsFinished() {
		raw = engine.Encrypt(raw)
	}
	if err := conn.SendFrame(raw); err != nil {
		return err
	}
	metrics.FramesOut.Inc()
	return nil
}

// sendIQ sends a request stanza and waits for the response with the
// same id. At most one waiter per id.
func (s *Session) sendIQ(ctx context.Context, n *wabin.Node) (*wabin.Node, error) {
	s.mu.Lock()
	disp := s.disp
	s.mu.Unlock()
	if disp == nil {
		return nil, ErrNotConnected
	}

	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	id, ok := n.GetAttr("id")
	if !ok || id == "" {
		id = uuid.NewString()
		n.Attrs["id"] = id
	}

	ch, err := disp.waitResponse(id)
	if err != nil {
		return nil, err
	}
	if err := s.sendNode(n); err != nil {
		disp.cancelWait(id)
		return nil, err
	}

	select {
	case resp, open := <-ch:
		if !open || resp == nil {
			return nil, ErrNotConnected
		}
		return resp, nil
	case <-s.clock.After(s.opts.ResponseTimeout):
		disp.cancelWait(id)
		return nil, fmt.Errorf("%w: id %s", ErrResponseTimeout, id)
	case <-ctx.Done():
		disp.cancelWait(id)
		return nil, ctx.Err()
	}
}

// saveCreds persists the current credentials atomically and publishes
// creds.update after the write is durable.
func (s *Session) saveCreds() error {
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()
	if creds == nil {
		return errors.New("walink: no credentials to save")
	}
	if err := s.store.SaveCreds(s.ID, creds); err != nil {
		return fmt.Errorf("walink: persist creds: %w", err)
	}
	s.mu.Lock()
	snapshot := creds.Clone()
	s.mu.Unlock()
	s.emit(CredsUpdate{Creds: snapshot})
	return nil
}

// closeConnection tears down the current connection, emits the close
// update once and optionally schedules a reconnect.
func (s *Session) closeConnection(d *Disconnect, reconnect bool, minDelay time.Duration) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	conn := s.conn
	cancel := s.cancel
	s.mu.Unlock()

	s.stopQR()
	if conn != nil {
		_ = conn.Close(1000)
	}
	if cancel != nil {
		cancel()
	}
	s.transitionClosed()
	s.emitClose(d)

	if reconnect {
		s.scheduleReconnect(minDelay)
	}
}

// handleConnClosed runs when the frame stream ends underneath us: the
// peer closed or the network dropped.
func (s *Session) handleConnClosed(conn frameConn) {
	s.mu.Lock()
	alreadyDown := s.state == StateClosed || s.state == StateClosing
	stopped := s.userStopped
	s.mu.Unlock()
	if alreadyDown || stopped || conn.LocallyClosed() {
		return
	}

	code, reason := conn.CloseInfo()
	s.log.WithFields(logrus.Fields{
		"code":   code,
		"reason": reason,
	}).Warn("connection closed by peer")

	s.mu.Lock()
	s.state = StateClosing
	cancel := s.cancel
	s.mu.Unlock()
	s.stopQR()
	if cancel != nil {
		cancel()
	}
	s.transitionClosed()
	s.emitClose(&Disconnect{
		Error: fmt.Errorf("walink: connection closed (code %d)", code),
		Code:  code,
	})
	if s.reconnectEligible(code) {
		s.scheduleReconnect(0)
	}
}

// reconnectEligible applies the close-code policy: only abnormal
// closes reconnect, capped by attempts and requiring complete creds.
// Code 1006 additionally requires a previously opened registered
// session, since an unpaired QR session dropping with 1006 is simply
// done.
func (s *Session) reconnectEligible(code int) bool {
	switch code {
	case 1006, 1011, 1012, 1013, 1014:
	default:
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectAttempts >= s.opts.MaxReconnectAttempts {
		return false
	}
	if !s.creds.Complete() {
		return false
	}
	if code == 1006 && !(s.creds.Registered && s.everOpened) {
		return false
	}
	return true
}

// scheduleReconnect arms a reconnect attempt after the exponential
// backoff delay, raised to minDelay when the server asked for room.
func (s *Session) scheduleReconnect(minDelay time.Duration) {
	s.mu.Lock()
	if s.userStopped || s.reconnectAttempts >= s.opts.MaxReconnectAttempts || !s.creds.Complete() {
		s.mu.Unlock()
		return
	}
	s.reconnectAttempts++
	attempt := s.reconnectAttempts
	delay := s.backoff.Duration()
	if delay < minDelay {
		delay = minDelay
	}
	s.mu.Unlock()

	metrics.Reconnects.Inc()
	s.log.WithFields(logrus.Fields{
		"attempt": attempt,
		"delay":   delay,
	}).Info("scheduling reconnect")

	go func() {
		<-s.clock.After(delay)
		s.mu.Lock()
		stopped := s.userStopped
		s.mu.Unlock()
		if stopped {
			return
		}
		if err := s.Connect(context.Background()); err != nil && !errors.Is(err, ErrAlreadyConnected) {
			s.log.WithError(err).Warn("reconnect failed")
		}
	}()
}

// transitionClosed finalizes the teardown bookkeeping.
func (s *Session) transitionClosed() {
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	s.state = StateClosed
	s.conn = nil
	s.engine = nil
	s.disp = nil
	s.cancel = nil
	s.mu.Unlock()
	if wasStarted {
		metrics.SessionsActive.Dec()
	}
}

// Disconnect stops timers, closes the socket with code 1000 and waits
// for the loops to drain. Idempotent; no events are emitted afterwards
// until the next Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.userStopped = true
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	conn := s.conn
	cancel := s.cancel
	s.mu.Unlock()

	s.stopQR()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(1000)
	}
	s.wg.Wait()
	s.transitionClosed()
	s.log.Info("disconnected")
}

// Logout asks the server to unlink this companion, then the caller is
// expected to Reset the session.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	var me string
	if s.creds != nil && s.creds.Me != nil {
		me = s.creds.Me.ID
	}
	s.mu.Unlock()
	if me == "" {
		return ErrNotConnected
	}
	iq := &wabin.Node{
		Tag: "iq",
		Attrs: map[string]string{
			"to":    ServerJID,
			"type":  "set",
			"xmlns": "md",
		},
		Content: []wabin.Node{{
			Tag: "remove-companion-device",
			Attrs: map[string]string{
				"jid":    me,
				"reason": "user_initiated",
			},
		}},
	}
	_, err := s.sendIQ(ctx, iq)
	return err
}

// emit publishes unless the user already tore the session down.
func (s *Session) emit(evt Event) {
	s.mu.Lock()
	stopped := s.userStopped
	s.mu.Unlock()
	if stopped {
		return
	}
	s.bus.publish(evt)
}

// emitClose publishes the close update exactly once per connection.
func (s *Session) emitClose(d *Disconnect) {
	s.mu.Lock()
	if s.flags.closeEmitted {
		s.mu.Unlock()
		return
	}
	s.flags.closeEmitted = true
	s.mu.Unlock()
	s.emit(ConnectionUpdate{Connection: ConnectionClose, LastDisconnect: d})
}

// emitOpen publishes the open update at most once per Connect.
func (s *Session) emitOpen() {
	s.mu.Lock()
	if s.flags.openEmitted {
		s.mu.Unlock()
		return
	}
	s.flags.openEmitted = true
	s.mu.Unlock()
	s.emit(ConnectionUpdate{Connection: ConnectionOpen})
}

func atoiOr(raw string, def int) int {
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return def
	}
	return n
}
