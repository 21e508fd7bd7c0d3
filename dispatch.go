package walink

import (
	"errors"
	"sync"

	"github.com/opd-ai/walink/wabin"
)

var (
	// ErrDuplicateWaiter indicates two concurrent waits on the same
	// stanza id; at most one waiter per id is allowed.
	ErrDuplicateWaiter = errors.New("walink: response waiter already registered for this id")
)

// stanzaHandler consumes one inbound stanza.
type stanzaHandler func(*wabin.Node)

// stanzaPredicate matches a stanza by tag, one attribute pair and the
// tag of its first child. Empty fields match anything.
type stanzaPredicate struct {
	Tag       string
	AttrKey   string
	AttrValue string
	ChildTag  string
}

func (p stanzaPredicate) matches(n *wabin.Node) bool {
	if p.Tag != "" && n.Tag != p.Tag {
		return false
	}
	if p.AttrKey != "" {
		v, ok := n.GetAttr(p.AttrKey)
		if !ok || (p.AttrValue != "" && v != p.AttrValue) {
			return false
		}
	}
	if p.ChildTag != "" {
		children := n.GetChildren()
		if len(children) == 0 || children[0].Tag != p.ChildTag {
			return false
		}
	}
	return true
}

// dispatcher routes inbound stanzas. Id-keyed response waiters are
// checked first, then the predicate table in registration order,
// first hit wins.
type dispatcher struct {
	mu       sync.Mutex
	handlers []struct {
		pred stanzaPredicate
		fn   stanzaHandler
	}
	waiters map[string]chan *wabin.Node
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		waiters: make(map[string]chan *wabin.Node),
	}
}

// handle appends a predicate handler. Registration order is match
// order.
func (d *dispatcher) handle(pred stanzaPredicate, fn stanzaHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, struct {
		pred stanzaPredicate
		fn   stanzaHandler
	}{pred, fn})
}

// waitResponse registers a single-shot sink for the stanza with the
// given id.
func (d *dispatcher) waitResponse(id string) (<-chan *wabin.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.waiters[id]; exists {
		return nil, ErrDuplicateWaiter
	}
	ch := make(chan *wabin.Node, 1)
	d.waiters[id] = ch
	return ch, nil
}

// cancelWait removes an unresolved waiter, closing its channel.
func (d *dispatcher) cancelWait(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.waiters[id]; ok {
		delete(d.waiters, id)
		close(ch)
	}
}

// dispatch routes one stanza and reports whether anything consumed it.
// A response stanza is handed to its waiter before any predicate
// handler sees stanzas with the same id again.
func (d *dispatcher) dispatch(n *wabin.Node) bool {
	if id, ok := n.GetAttr("id"); ok && (n.Tag == "iq" || n.Tag == "ack") {
		typ := n.AttrOr("type", "")
		if typ == "result" || typ == "error" || n.Tag == "ack" {
			d.mu.Lock()
			ch, found := d.waiters[id]
			if found {
				delete(d.waiters, id)
			}
			d.mu.Unlock()
			if found {
				ch <- n
				close(ch)
				return true
			}
		}
	}

	d.mu.Lock()
	handlers := d.handlers
	d.mu.Unlock()
	for _, h := range handlers {
		if h.pred.matches(n) {
			h.fn(n)
			return true
		}
	}
	return false
}

// reset drops every pending waiter, closing their channels so blocked
// senders observe the connection loss.
func (d *dispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.waiters {
		delete(d.waiters, id)
		close(ch)
	}
}
