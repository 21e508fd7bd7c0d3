package walink

import "time"

// Clock abstracts time so tests can drive keep-alive, QR rotation and
// reconnect backoff deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that fires once after d.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall-clock implementation used outside tests.
var SystemClock Clock = systemClock{}
