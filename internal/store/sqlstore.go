package store

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/metamodel"
)

// SQLStore is a Provider over a database/sql connection through the ent
// dialect driver. It builds all statements from the metamodel at
// runtime; no per-entity code is generated.
type SQLStore struct {
	drv      dialect.Driver
	registry *metamodel.Registry
}

// NewSQL creates a SQLStore on an open dialect driver.
func NewSQL(drv dialect.Driver, reg *metamodel.Registry) *SQLStore {
	return &SQLStore{drv: drv, registry: reg}
}

// OpenSQL opens a driver for the named dialect and DSN and wraps it.
func OpenSQL(dialectName, dsn string, reg *metamodel.Registry) (*SQLStore, error) {
	drv, err := entsql.Open(dialectName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s driver: %w", dialectName, err)
	}
	return NewSQL(drv, reg), nil
}

// WrapDB wraps an already-open *sql.DB.
func WrapDB(dialectName string, db *stdsql.DB, reg *metamodel.Registry) *SQLStore {
	return NewSQL(entsql.OpenDB(dialectName, db), reg)
}

// Close closes the underlying driver.
func (s *SQLStore) Close() error {
	return s.drv.Close()
}

// OpenSession opens a new unit of work.
func (s *SQLStore) OpenSession() (Session, error) {
	return &sqlSession{store: s}, nil
}

type sqlSession struct {
	store  *SQLStore
	mu     sync.Mutex
	tx     dialect.Tx
	closed bool
}

// conn returns the transaction when one is active, the raw driver
// otherwise.
func (s *sqlSession) conn() dialect.ExecQuerier {
	if s.tx != nil {
		return s.tx
	}
	return s.store.drv
}

func (s *sqlSession) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.tx != nil {
		return fmt.Errorf("store: transaction already active")
	}
	tx, err := s.store.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	s.tx = tx
	return nil
}

func (s *sqlSession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.tx == nil {
		return ErrNoTransaction
	}
	if err := s.tx.Commit(); err != nil {
		// Transaction stays assigned so the caller can roll back once.
		return fmt.Errorf("store: commit: %w", err)
	}
	s.tx = nil
	return nil
}

func (s *sqlSession) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.tx == nil {
		return ErrNoTransaction
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("store: rollback: %w", err)
	}
	return nil
}

func (s *sqlSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.tx != nil {
		// Abandoned transaction on teardown is discarded, never leaked.
		if err := s.tx.Rollback(); err != nil {
			log.Warn().Err(err).Msg("store: rollback on session close")
		}
		s.tx = nil
	}
	s.closed = true
	return nil
}

func (s *sqlSession) Query(ctx context.Context, e *metamodel.Entity, fragment string, offset, limit int) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	recs, err := s.queryRecords(ctx, e, fragment, offset, limit)
	if err != nil {
		return nil, err
	}
	reg := s.store.registry
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		instance, err := hydrate(reg, e, rec, func(target *metamodel.Entity, id any) (record, error) {
			return s.recordByID(ctx, target, id)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	return out, nil
}

func (s *sqlSession) queryRecords(ctx context.Context, e *metamodel.Entity, fragment string, offset, limit int) ([]record, error) {
	builder := entsql.Dialect(s.store.drv.Dialect())
	sel := builder.Select(selectColumns(e)...).From(entsql.Table(e.Table))
	if fragment != "" {
		sel.Where(entsql.ExprP(fragment))
	}
	if limit > 0 {
		sel.Limit(limit)
	}
	if offset > 0 {
		sel.Offset(offset)
	}
	query, args := sel.Query()

	var rows entsql.Rows
	if err := s.conn().Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("store: query %s: %w", e.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var recs []record
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(record, len(cols))
		for i, c := range cols {
			rec[c] = dest[i]
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *sqlSession) recordByID(ctx context.Context, e *metamodel.Entity, id any) (record, error) {
	idAttr := e.ID()
	if idAttr == nil {
		return nil, nil
	}
	builder := entsql.Dialect(s.store.drv.Dialect())
	query, args := builder.Select(selectColumns(e)...).
		From(entsql.Table(e.Table)).
		Where(entsql.EQ(idAttr.Column, id)).
		Limit(1).
		Query()

	var rows entsql.Rows
	if err := s.conn().Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, rows.Err()
	}
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(record, len(cols))
	for i, c := range cols {
		rec[c] = dest[i]
	}
	return rec, nil
}

func (s *sqlSession) Merge(ctx context.Context, instance any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	reg := s.store.registry
	e, err := reg.EntityOf(instance)
	if err != nil {
		return nil, err
	}
	if err := stampIdentity(e, instance); err != nil {
		return nil, err
	}
	stampLastUpdate(e, instance)

	rec, err := dehydrate(reg, e, instance)
	if err != nil {
		return nil, err
	}
	if s.store.drv.Dialect() == dialect.SQLite {
		// SQLite time columns are text; bind RFC3339Nano so reads parse.
		for col, v := range rec {
			if t, ok := v.(time.Time); ok {
				rec[col] = t.Format(time.RFC3339Nano)
			}
		}
	}
	idAttr := e.ID()
	if idAttr == nil {
		return nil, fmt.Errorf("store: entity %q has no identity attribute", e.Name)
	}
	idVal := rec[idAttr.Column]

	exists, err := s.exists(ctx, e, idAttr.Column, idVal)
	if err != nil {
		return nil, err
	}
	builder := entsql.Dialect(s.store.drv.Dialect())
	var query string
	var args []any
	if exists {
		upd := builder.Update(e.Table)
		for col, v := range rec {
			if col == idAttr.Column {
				continue
			}
			upd.Set(col, v)
		}
		query, args = upd.Where(entsql.EQ(idAttr.Column, idVal)).Query()
	} else {
		cols := make([]string, 0, len(rec))
		vals := make([]any, 0, len(rec))
		for _, c := range selectColumns(e) {
			cols = append(cols, c)
			vals = append(vals, rec[c])
		}
		query, args = builder.Insert(e.Table).Columns(cols...).Values(vals...).Query()
	}

	var res stdsql.Result
	if err := s.conn().Exec(ctx, query, args, &res); err != nil {
		return nil, fmt.Errorf("store: merge %s: %w", e.Name, err)
	}
	return instance, nil
}

func (s *sqlSession) Remove(ctx context.Context, instance any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	reg := s.store.registry
	e, err := reg.EntityOf(instance)
	if err != nil {
		return err
	}
	idAttr := e.ID()
	if idAttr == nil {
		return fmt.Errorf("store: entity %q has no identity attribute", e.Name)
	}
	idVal, err := e.Get(instance, idAttr)
	if err != nil {
		return err
	}
	builder := entsql.Dialect(s.store.drv.Dialect())
	query, args := builder.Delete(e.Table).Where(entsql.EQ(idAttr.Column, idVal)).Query()
	var res stdsql.Result
	if err := s.conn().Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("store: remove %s: %w", e.Name, err)
	}
	return nil
}

func (s *sqlSession) exists(ctx context.Context, e *metamodel.Entity, idCol string, idVal any) (bool, error) {
	if idVal == nil || idVal == "" {
		return false, nil
	}
	builder := entsql.Dialect(s.store.drv.Dialect())
	query, args := builder.Select(idCol).From(entsql.Table(e.Table)).Where(entsql.EQ(idCol, idVal)).Limit(1).Query()
	var rows entsql.Rows
	if err := s.conn().Query(ctx, query, args, &rows); err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// stampIdentity assigns a fresh identity to an instance whose id is
// still zero. String ids receive a UUID; integer ids are left to the
// database's own generation and must be pre-assigned otherwise.
func stampIdentity(e *metamodel.Entity, instance any) error {
	idAttr := e.ID()
	if idAttr == nil {
		return nil
	}
	cur, err := e.Get(instance, idAttr)
	if err != nil {
		return err
	}
	switch idAttr.Type {
	case metamodel.TypeString:
		if cur == "" {
			return e.Set(instance, idAttr, uuid.NewString())
		}
	case metamodel.TypeUUID:
		if cur == uuid.Nil {
			return e.Set(instance, idAttr, uuid.New())
		}
	}
	return nil
}

// stampLastUpdate refreshes a lastUpdate attribute, when the entity has
// one, on every merge.
func stampLastUpdate(e *metamodel.Entity, instance any) {
	a, err := e.Attribute("lastUpdate")
	if err != nil || a.Type != metamodel.TypeTime {
		return
	}
	_ = e.Set(instance, a, time.Now().UTC())
}
