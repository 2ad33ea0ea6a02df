// Package event defines mutation events emitted by the explorer after a
// transaction commits. Events describe what changed, not why; subscribers
// decide what to do with them.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeEntitySaved   = "entity.saved"
	TypeEntityDeleted = "entity.deleted"
)

// MutationEvent records a committed change to a single row.
type MutationEvent struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`

	// Entity is the registry name of the affected type, RowID its
	// identity rendered as text.
	Entity string `json:"entity"`
	RowID  string `json:"row_id"`

	Summary string `json:"summary"`
}

func newID() string {
	return uuid.New().String()
}

// NewEntitySaved records a create or update of the given row.
func NewEntitySaved(entity, rowID, summary string) MutationEvent {
	return MutationEvent{
		ID:         newID(),
		EventType:  TypeEntitySaved,
		OccurredAt: time.Now().UTC(),
		Entity:     entity,
		RowID:      rowID,
		Summary:    summary,
	}
}

// NewEntityDeleted records the removal of the given row.
func NewEntityDeleted(entity, rowID string) MutationEvent {
	return MutationEvent{
		ID:         newID(),
		EventType:  TypeEntityDeleted,
		OccurredAt: time.Now().UTC(),
		Entity:     entity,
		RowID:      rowID,
	}
}
