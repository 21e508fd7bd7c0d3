package walink

import (
	"fmt"
	"strconv"

	"github.com/opd-ai/walink/wabin"
)

// StreamError is a server-initiated close carried by a stream:error
// stanza. Conflict and replaced mean another client took over the
// account slot; 515 asks for an immediate reconnect.
type StreamError struct {
	Reason string
	Code   int
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("Stream Errored (%s)", e.Reason)
}

// mapStreamError translates a stream:error stanza into a reason and
// status code. isPing is reported separately: ping errors are closed
// with "pong malformed" and never surfaced.
func mapStreamError(n *wabin.Node) (streamErr *StreamError, isPing bool) {
	children := n.GetChildren()
	tag := ""
	if len(children) > 0 {
		tag = children[0].Tag
	}
	switch tag {
	case "conflict":
		return &StreamError{Reason: "conflict", Code: 409}, false
	case "replaced":
		return &StreamError{Reason: "replaced", Code: 409}, false
	case "shutdown":
		return &StreamError{Reason: "shutdown", Code: 503}, false
	case "system-shutdown":
		return &StreamError{Reason: "system-shutdown", Code: 515}, false
	case "ping":
		return nil, true
	}

	code := 500
	if raw, ok := n.GetAttr("code"); ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			code = parsed
		}
	}
	reason := tag
	if reason == "" {
		reason = n.AttrOr("code", "unknown")
	}
	return &StreamError{Reason: reason, Code: code}, false
}
