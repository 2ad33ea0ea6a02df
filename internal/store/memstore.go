package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mkoski/entityscope/internal/metamodel"
)

// MemStore is an in-memory Provider with the same unit-of-work
// semantics as SQLStore. It backs tests and driverless demo use.
type MemStore struct {
	mu       sync.Mutex
	registry *metamodel.Registry
	tables   map[string][]record

	// RemoveGuard, when set, is consulted at commit time for every
	// staged removal. Returning an error fails the commit, modelling a
	// backing constraint violation.
	RemoveGuard func(e *metamodel.Entity, rec record) error
}

// NewMem creates an empty MemStore over the given catalog.
func NewMem(reg *metamodel.Registry) *MemStore {
	return &MemStore{
		registry: reg,
		tables:   make(map[string][]record),
	}
}

// OpenSession opens a new unit of work.
func (m *MemStore) OpenSession() (Session, error) {
	return &memSession{store: m}, nil
}

// op is one staged mutation inside a transaction.
type op struct {
	remove bool
	entity *metamodel.Entity
	rec    record
}

type memSession struct {
	store  *MemStore
	mu     sync.Mutex
	inTx   bool
	staged []op
	closed bool
}

func (s *memSession) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.inTx {
		return fmt.Errorf("store: transaction already active")
	}
	s.inTx = true
	s.staged = nil
	return nil
}

func (s *memSession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.inTx {
		return ErrNoTransaction
	}
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate first: a failed commit leaves the data untouched and the
	// transaction open, so the caller rolls back exactly once.
	for _, o := range s.staged {
		if o.remove && m.RemoveGuard != nil {
			if err := m.RemoveGuard(o.entity, o.rec); err != nil {
				return fmt.Errorf("store: commit: %w", err)
			}
		}
	}
	for _, o := range s.staged {
		if o.remove {
			m.deleteLocked(o.entity, o.rec)
		} else {
			m.upsertLocked(o.entity, o.rec)
		}
	}
	s.staged = nil
	s.inTx = false
	return nil
}

func (s *memSession) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.inTx {
		return ErrNoTransaction
	}
	s.staged = nil
	s.inTx = false
	return nil
}

func (s *memSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.staged = nil
	s.inTx = false
	s.closed = true
	return nil
}

func (s *memSession) Merge(ctx context.Context, instance any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	m := s.store
	e, err := m.registry.EntityOf(instance)
	if err != nil {
		return nil, err
	}
	if err := stampIdentity(e, instance); err != nil {
		return nil, err
	}
	stampLastUpdate(e, instance)
	rec, err := dehydrate(m.registry, e, instance)
	if err != nil {
		return nil, err
	}
	if s.inTx {
		s.staged = append(s.staged, op{entity: e, rec: rec})
	} else {
		m.mu.Lock()
		m.upsertLocked(e, rec)
		m.mu.Unlock()
	}
	return instance, nil
}

func (s *memSession) Remove(ctx context.Context, instance any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m := s.store
	e, err := m.registry.EntityOf(instance)
	if err != nil {
		return err
	}
	rec, err := dehydrate(m.registry, e, instance)
	if err != nil {
		return err
	}
	if s.inTx {
		s.staged = append(s.staged, op{remove: true, entity: e, rec: rec})
		return nil
	}
	if m.RemoveGuard != nil {
		if err := m.RemoveGuard(e, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.deleteLocked(e, rec)
	m.mu.Unlock()
	return nil
}

func (s *memSession) Query(ctx context.Context, e *metamodel.Entity, fragment string, offset, limit int) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var clauses []clause
	if fragment != "" {
		var err error
		clauses, err = parseFragment(fragment)
		if err != nil {
			return nil, err
		}
	}
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	var window []record
	skipped := 0
	for _, rec := range m.tables[e.Table] {
		if clauses != nil {
			ok, err := matches(rec, clauses)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		if skipped < offset {
			skipped++
			continue
		}
		window = append(window, rec)
		if limit > 0 && len(window) >= limit {
			break
		}
	}

	out := make([]any, 0, len(window))
	for _, rec := range window {
		instance, err := hydrate(m.registry, e, rec, m.lookupLocked)
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	return out, nil
}

func (m *MemStore) lookupLocked(target *metamodel.Entity, id any) (record, error) {
	idAttr := target.ID()
	if idAttr == nil {
		return nil, nil
	}
	for _, rec := range m.tables[target.Table] {
		if valueText(rec[idAttr.Column]) == valueText(id) {
			return rec, nil
		}
	}
	return nil, nil
}

func (m *MemStore) upsertLocked(e *metamodel.Entity, rec record) {
	// Time values are stored as RFC3339 text, mirroring the SQL store's
	// column representation.
	stored := make(record, len(rec))
	for k, v := range rec {
		if t, ok := v.(time.Time); ok {
			stored[k] = t.Format(time.RFC3339Nano)
		} else {
			stored[k] = v
		}
	}
	idAttr := e.ID()
	rows := m.tables[e.Table]
	if idAttr != nil {
		id := valueText(stored[idAttr.Column])
		for i, existing := range rows {
			if valueText(existing[idAttr.Column]) == id {
				rows[i] = stored
				return
			}
		}
	}
	m.tables[e.Table] = append(rows, stored)
}

func (m *MemStore) deleteLocked(e *metamodel.Entity, rec record) {
	idAttr := e.ID()
	if idAttr == nil {
		return
	}
	id := valueText(rec[idAttr.Column])
	rows := m.tables[e.Table]
	for i, existing := range rows {
		if valueText(existing[idAttr.Column]) == id {
			m.tables[e.Table] = append(rows[:i], rows[i+1:]...)
			return
		}
	}
}

// Count returns the number of stored rows for an entity. Test helper.
func (m *MemStore) Count(e *metamodel.Entity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[e.Table])
}
