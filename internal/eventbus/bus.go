// Package eventbus provides an in-process pub/sub bus for mutation events.
// Handlers publish events after commit; subscribers process them
// asynchronously in a single consumer goroutine.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/event"
)

// Handler processes a mutation event. Implementations must be safe for
// concurrent calls from different goroutines.
type Handler interface {
	HandleEvent(ctx context.Context, evt event.MutationEvent) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt event.MutationEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt event.MutationEvent) error {
	return f(ctx, evt)
}

// Bus is a simple in-process event bus. Events are published to a buffered
// channel and dispatched to all subscribers in a single consumer goroutine,
// which serialises event processing.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan event.MutationEvent
	done        chan struct{}
}

type namedHandler struct {
	name    string
	handler Handler
}

// New creates a new Bus with the given channel buffer size.
func New(bufSize int) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Bus{
		events: make(chan event.MutationEvent, bufSize),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a named handler. Must be called before Start.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Publish sends an event to the bus. Non-blocking, if the buffer is full
// the event is dropped and a warning is logged.
func (b *Bus) Publish(ctx context.Context, evt event.MutationEvent) {
	select {
	case b.events <- evt:
	default:
		log.Warn().
			Str("event_type", evt.EventType).
			Str("event_id", evt.ID).
			Msg("eventbus: buffer full, dropping event")
	}
}

// Start begins the consumer goroutine. It processes events until the
// context is cancelled or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case evt := <-b.events:
				b.dispatch(ctx, evt)
			case <-ctx.Done():
				// Drain remaining events before exiting.
				for {
					select {
					case evt := <-b.events:
						b.dispatch(ctx, evt)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop waits for the consumer goroutine to finish.
func (b *Bus) Stop() {
	close(b.events)
	<-b.done
}

func (b *Bus) dispatch(ctx context.Context, evt event.MutationEvent) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, evt); err != nil {
			log.Error().
				Err(err).
				Str("handler", s.name).
				Str("event_type", evt.EventType).
				Msg("eventbus: handler error")
		}
	}
}
