package store

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mkoski/entityscope/internal/metamodel"
)

// record is one row keyed by column name.
type record = map[string]any

// selectColumns returns the SQL columns to fetch for e: every scalar
// column plus the foreign-key column of every singular association.
func selectColumns(e *metamodel.Entity) []string {
	var cols []string
	for _, a := range e.Attributes() {
		if a.Kind == metamodel.KindToMany {
			continue
		}
		cols = append(cols, a.Column)
	}
	return cols
}

// dehydrate extracts the column map for an instance: scalar values
// directly, singular associations as the related instance's identity.
func dehydrate(reg *metamodel.Registry, e *metamodel.Entity, instance any) (record, error) {
	rec := make(record)
	for _, a := range e.Attributes() {
		switch a.Kind {
		case metamodel.KindToMany:
			continue
		case metamodel.KindScalar:
			v, err := e.Get(instance, a)
			if err != nil {
				return nil, err
			}
			rec[a.Column] = v
		default:
			related, err := e.Get(instance, a)
			if err != nil {
				return nil, err
			}
			fk, err := associationKey(reg, a, related)
			if err != nil {
				return nil, err
			}
			rec[a.Column] = fk
		}
	}
	return rec, nil
}

// associationKey returns the identity value of a related instance, or
// nil when the relation is unset.
func associationKey(reg *metamodel.Registry, a *metamodel.Attribute, related any) (any, error) {
	if isNil(related) {
		return nil, nil
	}
	target, err := reg.Target(a)
	if err != nil {
		return nil, err
	}
	idAttr := target.ID()
	if idAttr == nil {
		return nil, fmt.Errorf("store: association %q target %q has no identity attribute", a.Name, target.Name)
	}
	return target.Get(related, idAttr)
}

// hydrate builds an instance of e from a column record. Singular
// associations are resolved one level deep through lookup; the related
// instances themselves carry scalars only. This bounds recursion on
// self-referential schemas.
func hydrate(reg *metamodel.Registry, e *metamodel.Entity, rec record, lookup func(target *metamodel.Entity, id any) (record, error)) (any, error) {
	instance, err := e.New()
	if err != nil {
		return nil, err
	}
	for _, a := range e.Attributes() {
		switch a.Kind {
		case metamodel.KindToMany:
			continue
		case metamodel.KindScalar:
			v, ok := rec[a.Column]
			if !ok || v == nil {
				continue
			}
			cv, err := coerce(v, a)
			if err != nil {
				return nil, fmt.Errorf("store: column %s.%s: %w", e.Table, a.Column, err)
			}
			if err := e.Set(instance, a, cv); err != nil {
				return nil, err
			}
		default:
			fk, ok := rec[a.Column]
			if !ok || fk == nil || lookup == nil {
				continue
			}
			target, err := reg.Target(a)
			if err != nil {
				continue // unregistered target, leave the relation unset
			}
			trec, err := lookup(target, fk)
			if err != nil || trec == nil {
				continue
			}
			// Scalars only: no lookup passed down, so a one-to-one
			// pointing back at its owner stops here.
			related, err := hydrate(reg, target, trec, nil)
			if err != nil {
				continue
			}
			if err := e.Set(instance, a, related); err != nil {
				return nil, err
			}
		}
	}
	return instance, nil
}

// coerce converts a driver-provided value to the attribute's Go type.
func coerce(v any, a *metamodel.Attribute) (any, error) {
	switch a.Type {
	case metamodel.TypeString, metamodel.TypeEnum:
		return toString(v), nil
	case metamodel.TypeInt:
		n, err := toInt64(v)
		return int(n), err
	case metamodel.TypeInt64:
		return toInt64(v)
	case metamodel.TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case metamodel.TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		}
	case metamodel.TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return time.Parse(time.RFC3339Nano, x)
		case []byte:
			return time.Parse(time.RFC3339Nano, string(x))
		}
	case metamodel.TypeUUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case string:
			return uuid.Parse(x)
		case []byte:
			return uuid.ParseBytes(x)
		}
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", v, a.Type)
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to int64", v)
}

// isNil reports whether v is nil or a typed nil pointer.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
