package eventbus

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/event"
)

// LogConsumer logs all mutation events for observability.
type LogConsumer struct{}

func NewLogConsumer() *LogConsumer { return &LogConsumer{} }

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.MutationEvent) error {
	log.Info().
		Str("event_type", evt.EventType).
		Str("entity", evt.Entity).
		Str("row_id", evt.RowID).
		Str("summary", evt.Summary).
		Msg("mutation event")
	return nil
}
