package harness

import "sync"

// TraceClock is a thread-safe monotonic logical clock for trace ordering.
// Traces use sequence numbers instead of timestamps so golden comparisons
// are deterministic.
type TraceClock struct {
	mu  sync.Mutex
	seq int64
}

// NewTraceClock creates a clock starting at 0; the first Next returns 1.
func NewTraceClock() *TraceClock {
	return &TraceClock{}
}

// Next increments and returns the next sequence number.
func (c *TraceClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *TraceClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}
