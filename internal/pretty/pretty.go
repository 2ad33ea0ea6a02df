// Package pretty renders entity instances and attribute values as
// bounded one-line text for grid cells, pickers and inspect popovers.
// Rendering never fails: any panic while formatting degrades to a
// placeholder so the rest of the row still renders.
package pretty

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// LinkGlyph prefixes association values in grid cells and pickers.
const LinkGlyph = "\U0001F517→ "

// Placeholder replaces a value whose rendering failed.
const Placeholder = "??"

// None is shown for absent association values.
const None = "none"

// Truncate hard-cuts s to max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// OneLiner renders any value as a single bounded line.
func OneLiner(v any, max int) (out string) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Msg("pretty: one-liner rendering failed")
			out = Placeholder
		}
	}()
	if v == nil {
		return None
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return None
		}
		rv = rv.Elem()
	}
	return Truncate(oneLine(rv), max)
}

// Association renders a related value with the link glyph prefix.
func Association(v any, max int) string {
	return LinkGlyph + OneLiner(v, max)
}

func oneLine(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.Struct:
		if t, ok := rv.Interface().(time.Time); ok {
			return t.Format(time.RFC3339)
		}
		var parts []string
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			fv := rv.Field(i)
			if fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Slice {
				continue // one level only, no descent into relations
			}
			if fv.IsZero() {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %v", f.Name, scalarText(fv)))
		}
		if len(parts) == 0 {
			return rv.Type().Name() + "{}"
		}
		return strings.Join(parts, ", ")
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf("[%d items]", rv.Len())
	default:
		return scalarText(rv)
	}
}

func scalarText(rv reflect.Value) string {
	if t, ok := rv.Interface().(time.Time); ok {
		return t.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("%v", rv.Interface())
}

// Encoder provides compact structured-value encoding for the property
// metadata debug aid. It is passed explicitly to the components that
// need it; there is no process-wide instance.
type Encoder struct{}

// NewEncoder creates an Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Compact renders a value as compact JSON, falling back to fmt when the
// value cannot be marshalled.
func (e *Encoder) Compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
