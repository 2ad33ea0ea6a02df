// Package grid builds paged, filterable row listings from entity
// metadata alone.
package grid

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/notice"
	"github.com/mkoski/entityscope/internal/pretty"
	"github.com/mkoski/entityscope/internal/store"
)

const (
	// scalarCellMax bounds long string cells to keep row height sane.
	scalarCellMax = 40
	// associationCellMax bounds one-line association renderings.
	associationCellMax = 100
	// DefaultPageSize is the window used when the caller does not ask
	// for a specific limit.
	DefaultPageSize = 50
)

// Column describes one grid column, one per attribute in metamodel
// order. Columns named exactly "id" or "lastUpdate" are created hidden
// and can be toggled back by the user.
type Column struct {
	Attr     *metamodel.Attribute
	Key      string
	Header   string
	Subtitle string // kind:type line under the header
	Hidden   bool
}

// List is a windowed, filterable listing of one entity type. It never
// buffers more than the current window.
type List struct {
	desc     *metamodel.Entity
	sess     store.Session
	notifier notice.Notifier

	columns []Column
	filter  string
	rows    []any
	offset  int
	limit   int

	actionsSuppressed bool
}

// Build creates the listing over the base "all instances" query with no
// ordering imposed. Call Fetch to load the first window.
func Build(desc *metamodel.Entity, sess store.Session, notifier notice.Notifier) *List {
	l := &List{
		desc:     desc,
		sess:     sess,
		notifier: notifier,
		limit:    DefaultPageSize,
	}
	for _, a := range desc.Attributes() {
		c := Column{
			Attr:     a,
			Key:      a.Name,
			Header:   a.Name,
			Subtitle: a.Kind.String() + ":" + a.Type.String(),
		}
		if a.Name == "id" || a.Name == "lastUpdate" {
			c.Hidden = true
		}
		l.columns = append(l.columns, c)
	}
	return l
}

// Descriptor returns the entity descriptor the list was built for.
func (l *List) Descriptor() *metamodel.Entity { return l.desc }

// Columns returns the column set in metamodel order.
func (l *List) Columns() []Column {
	out := make([]Column, len(l.columns))
	copy(out, l.columns)
	return out
}

// SetColumnHidden toggles a column's visibility (the column selector).
func (l *List) SetColumnHidden(key string, hidden bool) error {
	for i := range l.columns {
		if l.columns[i].Key == key {
			l.columns[i].Hidden = hidden
			return nil
		}
	}
	return fmt.Errorf("grid: no column %q", key)
}

// SuppressActions removes the row-action column, used when the list is
// embedded as a picker.
func (l *List) SuppressActions() { l.actionsSuppressed = true }

// ActionsSuppressed reports whether row actions are rendered.
func (l *List) ActionsSuppressed() bool { return l.actionsSuppressed }

// Filter returns the active predicate fragment.
func (l *List) FilterText() string { return l.filter }

// Rows returns the current window.
func (l *List) Rows() []any {
	return l.rows
}

// Fetch loads one offset/limit window of the current query.
func (l *List) Fetch(ctx context.Context, offset, limit int) error {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	rows, err := l.sess.Query(ctx, l.desc, l.filter, offset, limit)
	if err != nil {
		return err
	}
	l.rows = rows
	l.offset = offset
	l.limit = limit
	return nil
}

// Refresh re-runs the current query for the current window.
func (l *List) Refresh(ctx context.Context) error {
	return l.Fetch(ctx, l.offset, l.limit)
}

// Filter applies a predicate fragment: empty text reverts to the base
// query, anything else is appended to it verbatim as a trusted
// query-language snippet. A fragment the backing engine rejects is
// reported as a transient notice and the list keeps its last good
// result set and filter.
func (l *List) Filter(ctx context.Context, predicateText string) error {
	prev := l.filter
	l.filter = predicateText
	rows, err := l.sess.Query(ctx, l.desc, l.filter, 0, l.limit)
	if err != nil {
		l.filter = prev
		l.notifier.Notify("Failed to filter: " + err.Error())
		return err
	}
	l.rows = rows
	l.offset = 0
	return nil
}

// Delete removes a row transactionally: begin, merge (the removal must
// operate on an instance reattached to the active unit of work, not a
// detached one), remove, commit. On failure the transaction is rolled
// back once and the failure message, including any wrapped cause,
// surfaces as a transient notice; the row stays. On success the list
// re-queries the current window.
func (l *List) Delete(ctx context.Context, row any) error {
	if err := l.sess.Begin(ctx); err != nil {
		l.notifier.Notify(store.RollbackNotice(err))
		return err
	}
	reattached, err := l.sess.Merge(ctx, row)
	if err == nil {
		err = l.sess.Remove(ctx, reattached)
	}
	if err == nil {
		err = l.sess.Commit()
	}
	if err != nil {
		if rbErr := l.sess.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("grid: rollback after delete failure")
		}
		l.notifier.Notify(store.RollbackNotice(err))
		if refreshErr := l.Refresh(ctx); refreshErr != nil {
			log.Warn().Err(refreshErr).Msg("grid: refresh after failed delete")
		}
		return err
	}
	if err := l.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("grid: refresh after delete")
	}
	return nil
}

// CellText renders one cell. Scalar string values are hard-truncated at
// 40 runes; association values render as a one-line pretty-print with
// the link glyph, truncated at 100. A value whose rendering fails
// degrades to a placeholder rather than aborting the row.
func (l *List) CellText(row any, col Column) string {
	v, err := l.desc.Get(row, col.Attr)
	if err != nil {
		log.Error().Err(err).Str("column", col.Key).Msg("grid: cell value read failed")
		return pretty.Placeholder
	}
	if col.Attr.IsAssociation() {
		return pretty.Association(v, associationCellMax)
	}
	if s, ok := v.(string); ok {
		return pretty.Truncate(s, scalarCellMax)
	}
	return pretty.OneLiner(v, 0)
}

// InspectText renders the full read-only detail of a row for the
// inspect popover, one line per attribute.
func (l *List) InspectText(row any) string {
	var out string
	for _, a := range l.desc.Attributes() {
		v, err := l.desc.Get(row, a)
		text := pretty.Placeholder
		if err == nil {
			if a.IsAssociation() {
				text = pretty.Association(v, associationCellMax)
			} else {
				text = pretty.OneLiner(v, 0)
			}
		}
		out += a.Name + ": " + text + "\n"
	}
	return out
}
