// Package testutil holds deterministic clocks for scenario runs.
package testutil

import (
	"sync"
	"time"
)

// SeqClock is a resettable logical clock. The first Next returns 1.
// Safe for concurrent use.
type SeqClock struct {
	mu  sync.Mutex
	seq int64
}

// NewSeqClock creates a clock at 0.
func NewSeqClock() *SeqClock {
	return &SeqClock{}
}

// Next increments and returns the sequence number.
func (c *SeqClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the sequence number without incrementing.
func (c *SeqClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset sets the clock back to 0.
func (c *SeqClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// WallClock hands out start, start+step, start+2*step, ... on successive
// Now calls. Pass Now wherever a func() time.Time is taken so timestamps
// are reproducible.
type WallClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewWallClock creates a wall clock. A zero step freezes time at start.
func NewWallClock(start time.Time, step time.Duration) *WallClock {
	return &WallClock{next: start, step: step}
}

// Now returns the current reading and advances the clock by one step.
func (c *WallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}
