package metamodel

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
)

// ErrNotFound is returned when a requested entity or attribute does not
// exist in the metamodel.
var ErrNotFound = errors.New("metamodel: not found")

// Registry is the metamodel catalog. It is populated once at startup by
// registering mapped struct types and is safe for concurrent read access
// afterwards.
type Registry struct {
	entities map[string]*Entity
	byType   map[reflect.Type]*Entity
	names    []string // kept sorted
}

// NewRegistry creates an empty catalog.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		byType:   make(map[reflect.Type]*Entity),
	}
}

// Option customises entity registration.
type Option func(*Entity)

// WithName overrides the derived entity name.
func WithName(name string) Option {
	return func(e *Entity) { e.Name = name }
}

// WithTable overrides the derived table name.
func WithTable(table string) Option {
	return func(e *Entity) { e.Table = table }
}

// WithConstructor overrides the default zero-value construction path.
// The constructor may fail; the failure surfaces as a transient notice.
func WithConstructor(fn func() (any, error)) Option {
	return func(e *Entity) { e.construct = fn }
}

// Register maps a struct type into the catalog. The sample may be a
// struct value or a pointer to one; only its type is inspected.
//
// Field mapping rules:
//   - exported fields only; `admin:"-"` skips a field
//   - a pointer to a struct is a to-one association; `admin:"o2o"` marks
//     it one-to-one, `admin:"mapsid"` marks the foreign key as part of
//     this entity's identity
//   - a slice of struct pointers is a to-many association
//   - `db:"name"` overrides the attribute/column name
//   - `admin:"enum=a|b|c"` declares an enumeration
func (r *Registry) Register(sample any, opts ...Option) (*Entity, error) {
	t := reflect.TypeOf(sample)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("metamodel: register expects a struct type, got %T", sample)
	}

	e := &Entity{
		Name:   t.Name(),
		Table:  snakeCase(t.Name()),
		goType: t,
		byName: make(map[string]*Attribute),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Name == "" {
		return nil, errors.New("metamodel: entity name must not be empty")
	}
	if _, dup := r.entities[e.Name]; dup {
		return nil, fmt.Errorf("metamodel: entity %q already registered", e.Name)
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		adminTag := f.Tag.Get("admin")
		if adminTag == "-" {
			continue
		}
		a, err := buildAttribute(f, i, adminTag)
		if err != nil {
			return nil, fmt.Errorf("metamodel: entity %q field %s: %w", e.Name, f.Name, err)
		}
		if _, dup := e.byName[a.Name]; dup {
			return nil, fmt.Errorf("metamodel: entity %q attribute %q mapped twice", e.Name, a.Name)
		}
		e.attributes = append(e.attributes, a)
		e.byName[a.Name] = a
		if a.Name == "id" && a.Kind == KindScalar {
			e.id = a
		}
	}

	r.entities[e.Name] = e
	r.byType[t] = e
	r.names = append(r.names, e.Name)
	sort.Strings(r.names)
	return e, nil
}

// MustRegister is Register, panicking on error. Intended for startup wiring.
func (r *Registry) MustRegister(sample any, opts ...Option) *Entity {
	e, err := r.Register(sample, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Entities returns all descriptors sorted lexicographically by name.
// The order is deterministic across calls for an unchanged metamodel.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.entities[n])
	}
	return out
}

// EntityNames returns all entity names in sorted order.
func (r *Registry) EntityNames() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Entity resolves a descriptor by name.
func (r *Registry) Entity(name string) (*Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: no entity with name %q", ErrNotFound, name)
	}
	return e, nil
}

// EntityOf resolves the descriptor for a live instance.
func (r *Registry) EntityOf(instance any) (*Entity, error) {
	t := reflect.TypeOf(instance)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	e, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: type %v is not a mapped entity", ErrNotFound, t)
	}
	return e, nil
}

// Target resolves the entity an association attribute points at.
func (r *Registry) Target(a *Attribute) (*Entity, error) {
	if !a.IsAssociation() {
		return nil, fmt.Errorf("attribute %q is not an association", a.Name)
	}
	e, ok := r.byType[a.targetType]
	if !ok {
		return nil, fmt.Errorf("%w: association %q targets unregistered type %v", ErrNotFound, a.Name, a.targetType)
	}
	return e, nil
}

func buildAttribute(f reflect.StructField, index int, adminTag string) (*Attribute, error) {
	a := &Attribute{
		Name:       attributeName(f),
		fieldIndex: index,
		goType:     f.Type,
		tag:        f.Tag,
	}

	opts := strings.Split(adminTag, ",")
	switch {
	case f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.Struct && !isScalarStruct(f.Type.Elem()):
		a.Type = TypeEntity
		a.targetType = f.Type.Elem()
		a.Kind = KindToOne
		a.Column = a.Name + "_id"
		if hasOpt(opts, "o2o") {
			a.Kind = KindOneToOne
		}
		if hasOpt(opts, "mapsid") {
			a.Kind = KindToOneSharedKey
		}
	case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Pointer && f.Type.Elem().Elem().Kind() == reflect.Struct:
		a.Type = TypeEntity
		a.targetType = f.Type.Elem().Elem()
		a.Kind = KindToMany
		a.Column = "" // owned by the target side, no local column
	default:
		vt, ok := classifyScalar(f.Type)
		if !ok {
			return nil, fmt.Errorf("unsupported field type %s", f.Type)
		}
		a.Type = vt
		a.Kind = KindScalar
		a.Column = a.Name
		if ev := optValue(opts, "enum"); ev != "" {
			a.Type = TypeEnum
			a.Enum = strings.Split(ev, "|")
		}
	}
	return a, nil
}

func hasOpt(opts []string, name string) bool {
	for _, o := range opts {
		if o == name {
			return true
		}
	}
	return false
}

func optValue(opts []string, name string) string {
	for _, o := range opts {
		if v, ok := strings.CutPrefix(o, name+"="); ok {
			return v
		}
	}
	return ""
}

// isScalarStruct recognises struct types that map to scalar columns
// rather than associations.
func isScalarStruct(t reflect.Type) bool {
	return t.PkgPath() == "time" && t.Name() == "Time"
}

// attributeName derives the catalog name of a field: the db tag when
// present, otherwise the field name with its leading initialism lowered
// (ID -> id, LastUpdate -> lastUpdate).
func attributeName(f reflect.StructField) string {
	if tag := f.Tag.Get("db"); tag != "" {
		return strings.Split(tag, ",")[0]
	}
	name := f.Name
	if name == strings.ToUpper(name) {
		return strings.ToLower(name)
	}
	return string(unicode.ToLower(rune(name[0]))) + name[1:]
}

// snakeCase converts a PascalCase type name to snake_case for table names.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
