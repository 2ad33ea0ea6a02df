package store

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"

	"github.com/mkoski/entityscope/internal/metamodel"
)

// CreateTables emits CREATE TABLE IF NOT EXISTS statements derived from
// the metamodel. Intended for the demo binary and throwaway databases;
// real deployments bring their own schema.
//
// Foreign keys are declared inline. SQLite resolves them lazily so
// registration order does not matter; on PostgreSQL register referenced
// entities before their referrers.
func CreateTables(ctx context.Context, drv dialect.Driver, reg *metamodel.Registry) error {
	for _, e := range reg.Entities() {
		stmt, err := createTableSQL(reg, e, drv.Dialect())
		if err != nil {
			return err
		}
		var res stdsql.Result
		if err := drv.Exec(ctx, stmt, []any{}, &res); err != nil {
			return fmt.Errorf("store: creating table %s: %w", e.Table, err)
		}
	}
	return nil
}

func createTableSQL(reg *metamodel.Registry, e *metamodel.Entity, dialectName string) (string, error) {
	var cols []string
	for _, a := range e.Attributes() {
		switch a.Kind {
		case metamodel.KindToMany:
			continue
		case metamodel.KindScalar:
			def := a.Column + " " + columnType(a.Type, dialectName)
			if id := e.ID(); id != nil && a == id {
				def += " PRIMARY KEY"
			}
			cols = append(cols, def)
		default:
			target, err := reg.Target(a)
			if err != nil {
				return "", err
			}
			tid := target.ID()
			if tid == nil {
				return "", fmt.Errorf("store: association %s.%s target has no id", e.Name, a.Name)
			}
			def := fmt.Sprintf("%s %s REFERENCES %s(%s)",
				a.Column, columnType(tid.Type, dialectName), target.Table, tid.Column)
			cols = append(cols, def)
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", e.Table, strings.Join(cols, ", ")), nil
}

func columnType(vt metamodel.ValueType, dialectName string) string {
	switch vt {
	case metamodel.TypeInt, metamodel.TypeInt64:
		if dialectName == dialect.Postgres {
			return "bigint"
		}
		return "integer"
	case metamodel.TypeFloat:
		if dialectName == dialect.Postgres {
			return "double precision"
		}
		return "real"
	case metamodel.TypeBool:
		return "boolean"
	case metamodel.TypeTime:
		if dialectName == dialect.Postgres {
			return "timestamptz"
		}
		return "text"
	default:
		return "text"
	}
}
