// Package store is the persistence unit-of-work boundary. A Provider
// hands out Sessions; each top-level view owns one Session, created at
// view construction and closed exactly once at view teardown. A closed
// session is never reused.
//
// Two implementations exist: SQLStore over database/sql through the ent
// dialect driver, and MemStore for tests and driverless use.
package store

import (
	"context"
	"errors"

	"github.com/mkoski/entityscope/internal/metamodel"
)

// ErrClosed is returned when a session is used, or closed again, after
// Close.
var ErrClosed = errors.New("store: session is closed")

// ErrNoTransaction is returned by Commit/Rollback without a Begin.
var ErrNoTransaction = errors.New("store: no active transaction")

// Provider opens persistence sessions.
type Provider interface {
	OpenSession() (Session, error)
}

// Session is one unit of work. Merge and Remove inside an active
// transaction are staged until Commit; outside a transaction they apply
// immediately.
type Session interface {
	// Begin starts a transaction. A session carries at most one active
	// transaction at a time.
	Begin(ctx context.Context) error
	// Commit commits the active transaction. On failure the transaction
	// stays open so the caller can Rollback exactly once.
	Commit() error
	// Rollback discards the active transaction.
	Rollback() error
	// Merge reattaches an instance to this unit of work and upserts it.
	// A zero identity is assigned on first merge. The returned instance
	// is the managed one.
	Merge(ctx context.Context, instance any) (any, error)
	// Remove deletes an instance. The instance must be managed, i.e.
	// reattached via Merge within this unit of work.
	Remove(ctx context.Context, instance any) error
	// Query fetches one offset/limit window of instances of e. The
	// fragment, when non-empty, is a trusted predicate appended verbatim
	// to the base "all instances" query.
	Query(ctx context.Context, e *metamodel.Entity, fragment string, offset, limit int) ([]any, error)
	// Close releases the session. Exactly one Close per session; a
	// second Close returns ErrClosed.
	Close() error
}

// RollbackNotice formats a transaction failure for the user notice,
// appending the wrapped cause message when one is present.
func RollbackNotice(err error) string {
	msg := err.Error()
	if cause := errors.Unwrap(err); cause != nil && cause.Error() != msg {
		msg += ":" + cause.Error()
	}
	return msg
}
