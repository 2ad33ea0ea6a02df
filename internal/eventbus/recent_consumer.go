package eventbus

import (
	"context"
	"sync"

	"github.com/mkoski/entityscope/internal/event"
)

// RecentConsumer keeps the newest mutation events in a fixed-size ring
// so the explorer can show what changed lately. Oldest entries fall off
// once the ring is full.
type RecentConsumer struct {
	mu     sync.Mutex
	ring   []event.MutationEvent
	next   int
	filled bool
}

// NewRecentConsumer creates a consumer retaining up to size events.
func NewRecentConsumer(size int) *RecentConsumer {
	if size < 1 {
		size = 100
	}
	return &RecentConsumer{ring: make([]event.MutationEvent, size)}
}

func (c *RecentConsumer) HandleEvent(_ context.Context, evt event.MutationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring[c.next] = evt
	c.next = (c.next + 1) % len(c.ring)
	if c.next == 0 {
		c.filled = true
	}
	return nil
}

// Snapshot returns the retained events, newest first.
func (c *RecentConsumer) Snapshot() []event.MutationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	if c.filled {
		n = len(c.ring)
	}
	out := make([]event.MutationEvent, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, c.ring[(c.next-i+len(c.ring))%len(c.ring)])
	}
	return out
}
