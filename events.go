package walink

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walink/store"
	"github.com/opd-ai/walink/wabin"
)

// ConnectionState is the externally visible connection phase carried by
// ConnectionUpdate events.
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionClose      ConnectionState = "close"
)

// Event is one of the typed session events: ConnectionUpdate,
// CredsUpdate, MessagesUpsert, QRExpired or CredsError.
type Event interface {
	event()
}

// Disconnect describes how a connection ended.
type Disconnect struct {
	// Error is the mapped close reason, nil for a clean local close.
	Error error
	// Code is the WebSocket close code or stream-error status code.
	Code int
}

// ConnectionUpdate reports a connection phase change. QRRefs carries
// the full pairing list once per pair-device; QR carries the currently
// valid payload as the rotation advances.
type ConnectionUpdate struct {
	Connection                   ConnectionState
	QR                           string
	QRRefs                       []string
	LastDisconnect               *Disconnect
	IsNewLogin                   bool
	ReceivedPendingNotifications bool
}

func (ConnectionUpdate) event() {}

// CredsUpdate is published after every durable credential write.
type CredsUpdate struct {
	Creds *store.AuthCreds
}

func (CredsUpdate) event() {}

// MessagesUpsert delivers inbound message stanzas for downstream
// consumption.
type MessagesUpsert struct {
	Messages []*wabin.Node
	Type     string
}

func (MessagesUpsert) event() {}

// QRExpired signals that every pairing ref ran out unscanned; the
// session has transitioned to closed and needs a fresh connect.
type QRExpired struct{}

func (QRExpired) event() {}

// CredsError reports a persistence or pairing-verification failure
// that left the session running on its previous credential snapshot.
type CredsError struct {
	Err error
}

func (CredsError) event() {}

// eventBus is the per-session publish/subscribe fan-out. Delivery is
// in publish order per subscriber; a subscriber that stops draining
// loses events rather than blocking the session.
type eventBus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	log    *logrus.Entry
}

func newEventBus(log *logrus.Entry) *eventBus {
	return &eventBus{
		subs: make(map[int]chan Event),
		log:  log,
	}
}

// subscribe registers a buffered subscriber and returns its channel
// plus a cancel function. Cancel closes the channel.
func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// publish fans the event out to every subscriber without blocking.
func (b *eventBus) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.log.WithField("event", evt).Warn("dropping event for slow subscriber")
		}
	}
}

// close terminates every subscription.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
