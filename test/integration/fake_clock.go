package integration

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock for deterministic tests. Every
// Now call ticks it forward one millisecond so consecutive writes never
// share a modified timestamp.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC().Truncate(time.Millisecond)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *FakeClock) Sleep(d time.Duration) {}

// Advance moves the clock forward without waking anything.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
