// Package form builds property-by-property edit forms from entity
// metadata alone.
package form

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mkoski/entityscope/internal/editor"
	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/notice"
	"github.com/mkoski/entityscope/internal/pretty"
	"github.com/mkoski/entityscope/internal/store"
)

// Form binds one entity instance to a set of generated editor widgets.
// Widget changes commit to the in-memory instance only; Save pushes the
// instance through the session's transaction.
type Form struct {
	desc     *metamodel.Entity
	instance any
	sess     store.Session
	notifier notice.Notifier
	enc      *pretty.Encoder

	bound   []string
	widgets map[string]editor.Widget
	dirty   map[string]bool
	saved   bool
}

// Build enumerates the entity's attributes in metamodel order, asks the
// resolver for each property's widget, falls back to the default widget
// for the value type, and binds current instance values. Attributes
// that both the resolver and the default mapping decline are not
// rendered. The first focusable widget receives focus.
func Build(desc *metamodel.Entity, instance any, sess store.Session, resolver *editor.Resolver, notifier notice.Notifier, enc *pretty.Encoder) (*Form, error) {
	f := &Form{
		desc:     desc,
		instance: instance,
		sess:     sess,
		notifier: notifier,
		enc:      enc,
		widgets:  make(map[string]editor.Widget),
		dirty:    make(map[string]bool),
	}
	for _, a := range desc.Attributes() {
		current, err := desc.Get(instance, a)
		if err != nil {
			return nil, err
		}
		w := resolver.Resolve(a, current)
		if w == nil {
			w = editor.DefaultWidget(a, current)
		}
		if w == nil {
			continue
		}
		f.bound = append(f.bound, a.Name)
		f.widgets[a.Name] = w
	}
	if len(f.bound) > 0 {
		if fo, ok := f.widgets[f.bound[0]].(editor.Focusable); ok {
			fo.Focus()
		}
	}
	return f, nil
}

// BoundProperties returns the attribute names actually rendered, in
// metamodel order.
func (f *Form) BoundProperties() []string {
	out := make([]string, len(f.bound))
	copy(out, f.bound)
	return out
}

// Editor returns the live widget handle for a bound property.
func (f *Form) Editor(name string) editor.Widget {
	return f.widgets[name]
}

// Instance returns the in-memory instance under edit.
func (f *Form) Instance() any { return f.instance }

// Descriptor returns the entity descriptor the form was built for.
func (f *Form) Descriptor() *metamodel.Entity { return f.desc }

// Saved reports whether the form's instance has been committed.
func (f *Form) Saved() bool { return f.saved }

// Dirty reports whether the named property has been changed.
func (f *Form) Dirty(name string) bool { return f.dirty[name] }

// SetValue applies a widget change: the widget and the in-memory
// instance are updated and the property is marked dirty. Read-only
// widgets and non-assignable widgets (one-to-one summaries) refuse the
// change. Nothing reaches storage until Save.
func (f *Form) SetValue(name string, v any) error {
	w, ok := f.widgets[name]
	if !ok {
		return fmt.Errorf("form: property %q is not bound", name)
	}
	if ro, ok := w.(editor.ReadOnlySettable); ok && ro.ReadOnly() {
		return fmt.Errorf("form: property %q is read-only", name)
	}
	if _, inline := w.(*editor.InlineSummaryField); inline {
		return fmt.Errorf("form: property %q is not assignable through its editor", name)
	}
	a, err := f.desc.Attribute(name)
	if err != nil {
		return err
	}
	if err := f.desc.Set(f.instance, a, v); err != nil {
		return err
	}
	w.SetValue(v)
	f.dirty[name] = true
	return nil
}

// Save begins a transaction, merges the in-memory instance into the
// persistence context and commits. On failure it rolls back once,
// reports the failure as a transient notice and returns the error with
// all edits preserved, so the user may retry or abandon.
func (f *Form) Save(ctx context.Context) error {
	if err := f.sess.Begin(ctx); err != nil {
		f.notifier.Notify("Error occured while saving:" + err.Error())
		return err
	}
	if _, err := f.sess.Merge(ctx, f.instance); err != nil {
		if rbErr := f.sess.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("form: rollback after merge failure")
		}
		f.notifier.Notify("Error occured while saving:" + store.RollbackNotice(err))
		return err
	}
	if err := f.sess.Commit(); err != nil {
		if rbErr := f.sess.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("form: rollback after commit failure")
		}
		f.notifier.Notify("Error occured while saving:" + store.RollbackNotice(err))
		return err
	}
	f.saved = true
	f.dirty = make(map[string]bool)
	return nil
}
