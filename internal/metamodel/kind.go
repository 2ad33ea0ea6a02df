// Package metamodel provides the entity metadata catalog.
//
// The catalog is populated at startup by registering the application's
// mapped struct types. Every other component (form builder, grid,
// filter templates, navigation) consumes the catalog read-only; it is
// never mutated after registration.
package metamodel

// Kind classifies an attribute's persistent nature. The variant is
// derived once at registration time so downstream code never needs to
// re-inspect the runtime type.
type Kind int

const (
	// KindScalar is a plain value column.
	KindScalar Kind = iota
	// KindToOne is a many-to-one reference to another entity.
	KindToOne
	// KindToOneSharedKey is a to-one reference whose foreign key also
	// serves as this entity's identity. Always edited read-only.
	KindToOneSharedKey
	// KindOneToOne is a one-to-one reference, rendered as a one-line
	// summary with drill-in, never edited in place.
	KindOneToOne
	// KindToMany is a collection of references to another entity.
	KindToMany
)

// String returns the catalog-visible kind name.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindToOne:
		return "to_one"
	case KindToOneSharedKey:
		return "to_one_shared_key"
	case KindOneToOne:
		return "one_to_one"
	case KindToMany:
		return "to_many"
	default:
		return "unknown"
	}
}

// IsAssociation reports whether the kind references another entity.
func (k Kind) IsAssociation() bool {
	return k != KindScalar
}

// ValueType classifies a scalar attribute's value for default widget
// selection and SQL column mapping.
type ValueType int

const (
	TypeString ValueType = iota
	TypeInt
	TypeInt64
	TypeFloat
	TypeBool
	TypeTime
	TypeEnum
	TypeUUID
	// TypeEntity marks association attributes; the concrete value type
	// is the target entity's runtime type.
	TypeEntity
)

// String returns the catalog-visible type name.
func (vt ValueType) String() string {
	switch vt {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeInt64:
		return "int64"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeEnum:
		return "enum"
	case TypeUUID:
		return "uuid"
	case TypeEntity:
		return "entity"
	default:
		return "unknown"
	}
}
