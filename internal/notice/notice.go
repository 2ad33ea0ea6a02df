// Package notice delivers transient, dismissible user-facing messages.
// Every recoverable failure in the engine ends up here; there are no
// modal error dialogs and no fatal path.
package notice

import (
	"sync"

	"github.com/rs/zerolog"
)

// Notifier receives transient user-visible messages.
type Notifier interface {
	Notify(message string)
}

// Func adapts a plain function to the Notifier interface.
type Func func(message string)

func (f Func) Notify(message string) { f(message) }

// Logger is a Notifier that writes notices to a structured log. Used
// when no interactive channel is attached.
type Logger struct {
	Log zerolog.Logger
}

func (l Logger) Notify(message string) {
	l.Log.Info().Str("notice", message).Msg("user notice")
}

// Collector buffers notices for delivery over a wire channel and for
// assertions in tests. Safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	notices []string
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Notify(message string) {
	c.mu.Lock()
	c.notices = append(c.notices, message)
	c.mu.Unlock()
}

// Drain returns all buffered notices and clears the buffer.
func (c *Collector) Drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notices
	c.notices = nil
	return out
}

// Peek returns the buffered notices without clearing them.
func (c *Collector) Peek() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.notices))
	copy(out, c.notices)
	return out
}
