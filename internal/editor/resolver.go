package editor

import (
	"github.com/mkoski/entityscope/internal/metamodel"
)

// Override lets the rendering context replace the widget for an
// attribute. Returning nil falls through to the built-in policy.
type Override func(attr *metamodel.Attribute, current any) Widget

// Resolver maps an attribute classification to an editing widget. It is
// registered once per rendering context and is re-entrant: resolving an
// association renders at most a one-line summary of the related entity,
// never a nested form, so self-referential schemas terminate.
type Resolver struct {
	override Override
}

// NewResolver creates a Resolver with the built-in policy.
func NewResolver() *Resolver {
	return &Resolver{}
}

// WithOverride registers the context's override hook.
func (r *Resolver) WithOverride(o Override) *Resolver {
	r.override = o
	return r
}

// Resolve decides the editing widget for an attribute holding the given
// current value. A nil result means "use the default widget for the
// value type" (DefaultWidget). Evaluated in order, first match wins:
//
//  1. to-one association: a picker; when the foreign key is part of the
//     owning identity the picker is forced read-only, overriding any
//     override hook's say in the matter
//  2. one-to-one: an inline one-line summary with drill-in, never
//     assignable through the widget
//  3. anything else: nil
func (r *Resolver) Resolve(attr *metamodel.Attribute, current any) Widget {
	w := r.resolve(attr, current)
	// Identity-sharing keys stay immutable no matter what produced the
	// widget.
	if attr.Kind == metamodel.KindToOneSharedKey && w != nil {
		if ro, ok := w.(ReadOnlySettable); ok {
			ro.SetReadOnly(true)
		}
	}
	return w
}

func (r *Resolver) resolve(attr *metamodel.Attribute, current any) Widget {
	if r.override != nil {
		if w := r.override(attr, current); w != nil {
			return w
		}
	}
	switch attr.Kind {
	case metamodel.KindToOne:
		return NewPickerField(attr, current)
	case metamodel.KindToOneSharedKey:
		p := NewPickerField(attr, current)
		p.SetReadOnly(true)
		return p
	case metamodel.KindOneToOne:
		return NewInlineSummaryField(attr, current)
	default:
		return nil
	}
}

// DefaultWidget builds the fallback widget for a scalar attribute, or
// nil when the value type has no default editor (collections decline to
// render).
func DefaultWidget(attr *metamodel.Attribute, current any) Widget {
	switch attr.Type {
	case metamodel.TypeString, metamodel.TypeUUID:
		w := &TextField{}
		w.attr = attr
		w.value = current
		return w
	case metamodel.TypeInt, metamodel.TypeInt64, metamodel.TypeFloat:
		w := &NumberField{}
		w.attr = attr
		w.value = current
		return w
	case metamodel.TypeBool:
		w := &BoolField{}
		w.attr = attr
		w.value = current
		return w
	case metamodel.TypeTime:
		w := &TimeField{}
		w.attr = attr
		w.value = current
		return w
	case metamodel.TypeEnum:
		w := &EnumSelect{Options: attr.Enum}
		w.attr = attr
		w.value = current
		return w
	default:
		return nil
	}
}
