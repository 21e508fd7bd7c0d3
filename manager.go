package walink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walink/store"
)

var (
	// ErrSessionExists is returned by Create for a taken id.
	ErrSessionExists = errors.New("walink: session already exists")
	// ErrSessionNotFound is returned for lookups of unknown ids.
	ErrSessionNotFound = errors.New("walink: session not found")
	// ErrManagerClosed is returned once shutdown has begun.
	ErrManagerClosed = errors.New("walink: manager is shut down")
)

// SessionEvent pairs a session event with its origin for the manager's
// fan-in stream.
type SessionEvent struct {
	SessionID string
	Event     Event
}

// Manager is the session registry. It creates, looks up and tears down
// sessions; it never mutates their connection state beyond
// Connect/Disconnect calls on their behalf.
type Manager struct {
	store store.Store
	opts  *Options
	log   *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*Session
	cancels  map[string]func()
	closed   bool

	events chan SessionEvent
	wg     sync.WaitGroup
}

// NewManager builds an empty registry. opts supplies the defaults for
// every created session.
func NewManager(st store.Store, opts *Options) *Manager {
	return &Manager{
		store:    st,
		opts:     opts.withDefaults(),
		log:      logrus.WithField("component", "manager"),
		sessions: make(map[string]*Session),
		cancels:  make(map[string]func()),
		events:   make(chan SessionEvent, 128),
	}
}

// Events returns the fan-in of every session's event stream.
func (m *Manager) Events() <-chan SessionEvent {
	return m.events
}

// Create registers a new session. An empty id gets a generated one.
func (m *Manager) Create(id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	s := NewSession(id, m.store, m.opts)
	ch, cancel := s.Events(128)
	m.sessions[id] = s
	m.cancels[id] = cancel

	m.wg.Add(1)
	go m.forward(id, ch)

	m.log.WithField("session_id", id).Info("session created")
	return s, nil
}

// forward relays one session's events into the shared stream without
// ever blocking the session.
func (m *Manager) forward(id string, ch <-chan Event) {
	defer m.wg.Done()
	for evt := range ch {
		select {
		case m.events <- SessionEvent{SessionID: id, Event: evt}:
		default:
			m.log.WithField("session_id", id).Warn("event stream full, dropping")
		}
	}
}

// Get looks a session up by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns every registered session id, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete disconnects and unregisters a session. Its durable state is
// kept; Reset wipes it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	cancel := m.cancels[id]
	delete(m.sessions, id)
	delete(m.cancels, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Disconnect()
	if cancel != nil {
		cancel()
	}
	m.log.WithField("session_id", id).Info("session deleted")
	return nil
}

// Connect brings the session up.
func (m *Manager) Connect(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Connect(ctx)
}

// Disconnect takes the session down cleanly.
func (m *Manager) Disconnect(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Disconnect()
	return nil
}

// Restart is a disconnect followed by a fresh connect.
func (m *Manager) Restart(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Disconnect()
	return s.Connect(ctx)
}

// Reset disconnects the session and wipes every durable record it
// owns. The next connect starts from fresh credentials.
func (m *Manager) Reset(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Disconnect()
	s.mu.Lock()
	s.creds = nil
	s.everOpened = false
	s.mu.Unlock()
	if err := m.store.RemoveAll(id); err != nil {
		return fmt.Errorf("walink: reset %s: %w", id, err)
	}
	m.log.WithField("session_id", id).Info("session reset")
	return nil
}

// Logout unlinks the companion server-side, then resets the session.
func (m *Manager) Logout(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.Logout(ctx); err != nil {
		m.log.WithError(err).Warn("server-side unlink failed, resetting anyway")
	}
	return m.Reset(id)
}

// GenerateNewQR clears the session's current QR so the next
// server-driven cycle starts clean.
func (m *Manager) GenerateNewQR(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.GenerateNewQR()
}

// Shutdown stops accepting sessions, disconnects every session with a
// clean close and waits for in-flight work, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	cancels := make([]func(), 0, len(m.cancels))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	for _, c := range m.cancels {
		cancels = append(cancels, c)
	}
	m.sessions = make(map[string]*Session)
	m.cancels = make(map[string]func())
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Disconnect()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		for _, c := range cancels {
			c()
		}
		m.wg.Wait()
		close(m.events)
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("walink: shutdown interrupted: %w", ctx.Err())
	}
}
