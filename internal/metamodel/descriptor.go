package metamodel

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Attribute describes one property of an entity type.
type Attribute struct {
	Name   string    // catalog name, also the query column for scalars
	Column string    // SQL column; for to-one references this is Name + "_id"
	Type   ValueType // logical value type (TypeEntity for associations)
	Kind   Kind      // persistent kind variant
	Enum   []string  // non-nil for enum fields

	fieldIndex int               // struct field index on the owning type
	goType     reflect.Type      // declared field type
	targetType reflect.Type      // element struct type for associations
	tag        reflect.StructTag // raw struct tag, for the metadata debug aid
}

// IsAssociation reports whether the attribute references another entity.
func (a *Attribute) IsAssociation() bool {
	return a.Kind.IsAssociation()
}

// GoType returns the declared runtime type of the attribute.
func (a *Attribute) GoType() reflect.Type {
	return a.goType
}

// Tag returns the raw struct tag of the backing field.
func (a *Attribute) Tag() reflect.StructTag {
	return a.tag
}

// Entity describes one mapped entity type. Instances are read views over
// the registered metamodel and are shared by all components.
type Entity struct {
	Name  string // unique, stable; used in URLs and queries
	Table string // SQL table name

	goType     reflect.Type
	attributes []*Attribute // declaration order, as reported by the runtime type
	byName     map[string]*Attribute
	id         *Attribute
	construct  func() (any, error)
}

// Attributes returns all attributes in declaration order. Callers must
// not mutate the returned slice.
func (e *Entity) Attributes() []*Attribute {
	return e.attributes
}

// Attribute resolves an attribute by name.
func (e *Entity) Attribute(name string) (*Attribute, error) {
	a, ok := e.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: entity %q has no attribute %q", ErrNotFound, e.Name, name)
	}
	return a, nil
}

// ID returns the identity attribute, or nil when the entity has none.
func (e *Entity) ID() *Attribute {
	return e.id
}

// GoType returns the registered struct type (not a pointer).
func (e *Entity) GoType() reflect.Type {
	return e.goType
}

// New constructs a fresh zero-valued instance (a pointer to the struct
// type), or the registered constructor's result when one was supplied.
// Construction failures are reported to the user as a transient notice,
// never treated as fatal.
func (e *Entity) New() (any, error) {
	if e.construct != nil {
		return e.construct()
	}
	if e.goType == nil || e.goType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity %q has no zero-argument construction path", e.Name)
	}
	return reflect.New(e.goType).Interface(), nil
}

// Get reads the attribute's current value from an instance. The instance
// must be a pointer to the entity's struct type.
func (e *Entity) Get(instance any, a *Attribute) (any, error) {
	fv, err := e.field(instance, a)
	if err != nil {
		return nil, err
	}
	return fv.Interface(), nil
}

// Set writes a value to the attribute on an instance.
func (e *Entity) Set(instance any, a *Attribute, value any) error {
	fv, err := e.field(instance, a)
	if err != nil {
		return err
	}
	if value == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	vv := reflect.ValueOf(value)
	if !vv.Type().AssignableTo(fv.Type()) {
		if vv.Type().ConvertibleTo(fv.Type()) {
			vv = vv.Convert(fv.Type())
		} else {
			return fmt.Errorf("cannot assign %s to attribute %q (%s)", vv.Type(), a.Name, fv.Type())
		}
	}
	fv.Set(vv)
	return nil
}

func (e *Entity) field(instance any, a *Attribute) (reflect.Value, error) {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("instance of %q must be a non-nil pointer", e.Name)
	}
	rv = rv.Elem()
	if rv.Type() != e.goType {
		return reflect.Value{}, fmt.Errorf("instance type %s does not match entity %q (%s)", rv.Type(), e.Name, e.goType)
	}
	return rv.Field(a.fieldIndex), nil
}

// classifyScalar maps a Go type to its logical value type. Returns
// TypeEntity and false when the type is not a supported scalar.
func classifyScalar(t reflect.Type) (ValueType, bool) {
	switch {
	case t == reflect.TypeOf(time.Time{}):
		return TypeTime, true
	case t == reflect.TypeOf(uuid.UUID{}):
		return TypeUUID, true
	}
	switch t.Kind() {
	case reflect.String:
		return TypeString, true
	case reflect.Int, reflect.Int32:
		return TypeInt, true
	case reflect.Int64:
		return TypeInt64, true
	case reflect.Float32, reflect.Float64:
		return TypeFloat, true
	case reflect.Bool:
		return TypeBool, true
	}
	return TypeEntity, false
}
