// Package clock lets code that waits on time be driven deterministically
// in tests.
//
// Production code holds a Clock (Real() by default) instead of calling
// time.Now or time.After directly. Tests inject Stepping(), which never
// blocks: every wait completes immediately and advances the fake time by
// the requested duration, and every requested duration is recorded.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts the time operations used by the reconnect backoff.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after d.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SteppingClock is a Clock whose waits complete at once. Safe for
// concurrent use.
type SteppingClock struct {
	mu      sync.Mutex
	current time.Time
	waits   []time.Duration
}

// Stepping returns a SteppingClock starting at the Unix epoch.
func Stepping() *SteppingClock {
	return &SteppingClock{current: time.Unix(0, 0)}
}

func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *SteppingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waits = append(c.waits, d)
	if d > 0 {
		c.current = c.current.Add(d)
	}
	ch := make(chan time.Time, 1)
	ch <- c.current
	return ch
}

// Waits returns every duration passed to After, in call order.
func (c *SteppingClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}
