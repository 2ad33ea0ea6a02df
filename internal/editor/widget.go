// Package editor decides how each attribute is edited and provides the
// headless widget models the form builder binds to. Widgets are plain
// value holders with optional capabilities discovered by type
// assertion; there are no inheritance chains. The embedding UI layer
// renders them however it likes.
package editor

import (
	"github.com/mkoski/entityscope/internal/metamodel"
	"github.com/mkoski/entityscope/internal/pretty"
)

// ValueHolder is the core widget capability: a two-way bound value.
type ValueHolder interface {
	Value() any
	SetValue(v any)
}

// Focusable widgets can receive keyboard focus.
type Focusable interface {
	Focus()
	Focused() bool
}

// ReadOnlySettable widgets can be locked against edits.
type ReadOnlySettable interface {
	SetReadOnly(bool)
	ReadOnly() bool
}

// HelpSettable widgets carry a help/annotation text line.
type HelpSettable interface {
	SetHelp(string)
	Help() string
}

// Widget is what the form builder binds: a value holder tied to one
// attribute.
type Widget interface {
	ValueHolder
	Attribute() *metamodel.Attribute
}

// base carries the capabilities shared by the concrete widgets.
type base struct {
	attr     *metamodel.Attribute
	value    any
	focused  bool
	readOnly bool
	help     string
}

func (b *base) Attribute() *metamodel.Attribute { return b.attr }
func (b *base) Value() any                      { return b.value }
func (b *base) SetValue(v any) {
	if b.readOnly {
		return
	}
	b.value = v
}
func (b *base) Focus()              { b.focused = true }
func (b *base) Focused() bool       { return b.focused }
func (b *base) SetReadOnly(ro bool) { b.readOnly = ro }
func (b *base) ReadOnly() bool      { return b.readOnly }
func (b *base) SetHelp(h string)    { b.help = h }
func (b *base) Help() string        { return b.help }

// TextField edits string and uuid values.
type TextField struct {
	base
	Placeholder string
}

// NumberField edits int, int64 and float values.
type NumberField struct {
	base
}

// BoolField edits boolean values.
type BoolField struct {
	base
}

// TimeField edits timestamps.
type TimeField struct {
	base
}

// EnumSelect edits enumerated values from a fixed option list.
type EnumSelect struct {
	base
	Options []string
}

// PickerField edits a to-one relation: a one-line rendering of the
// current related value next to a trigger that opens a searchable,
// paged candidate list. Selection mutates the in-memory edit session
// only; nothing is persisted until the form saves.
type PickerField struct {
	base
	summary string
}

// NewPickerField creates a picker showing the current related value.
func NewPickerField(attr *metamodel.Attribute, current any) *PickerField {
	p := &PickerField{base: base{attr: attr, value: current}}
	p.refresh()
	return p
}

// SetValue replaces the related value and updates the one-line summary.
func (p *PickerField) SetValue(v any) {
	if p.readOnly {
		return
	}
	p.value = v
	p.refresh()
}

// Summary returns the current one-line rendering.
func (p *PickerField) Summary() string { return p.summary }

func (p *PickerField) refresh() {
	p.summary = pretty.Association(p.value, 400)
}

// InlineSummaryField renders a one-to-one relation as a one-line
// summary with a drill-in target. It never yields an assignable value:
// the relation itself is not edited through this widget, and a
// one-to-one pointing back at its owner renders only the summary line,
// never a nested form.
type InlineSummaryField struct {
	attr    *metamodel.Attribute
	related any
	summary string
	help    string
}

// NewInlineSummaryField creates the read-only one-to-one rendering.
func NewInlineSummaryField(attr *metamodel.Attribute, related any) *InlineSummaryField {
	f := &InlineSummaryField{attr: attr}
	f.SetValue(related)
	return f
}

func (f *InlineSummaryField) Attribute() *metamodel.Attribute { return f.attr }

// Value always returns nil: the form never assigns through this widget.
func (f *InlineSummaryField) Value() any { return nil }

// SetValue updates the presentation only.
func (f *InlineSummaryField) SetValue(v any) {
	f.related = v
	if v == nil {
		f.summary = "null"
		return
	}
	f.summary = pretty.OneLiner(v, 40)
}

// EditTarget returns the related instance for nested drill-in editing.
func (f *InlineSummaryField) EditTarget() any { return f.related }

// Summary returns the one-line rendering.
func (f *InlineSummaryField) Summary() string { return f.summary }

func (f *InlineSummaryField) SetHelp(h string) { f.help = h }
func (f *InlineSummaryField) Help() string     { return f.help }
