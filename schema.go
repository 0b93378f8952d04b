package meridian

import (
	"github.com/meridiandb/meridian/internal/engine"
	"github.com/meridiandb/meridian/internal/rql"
)

// PropertyType enumerates the value types a property may hold.
type PropertyType int

const (
	// StringType holds UTF-8 text, NFC-normalized on write.
	StringType PropertyType = iota + 1
	// IntType holds a 64-bit signed integer.
	IntType
	// FloatType holds a 64-bit float.
	FloatType
	// BoolType holds a boolean.
	BoolType
	// ObjectType holds a link to a single object of LinkTarget type.
	ObjectType
	// ListType holds an ordered link collection of LinkTarget type.
	ListType
)

// String returns the lowercase name of the property type.
func (t PropertyType) String() string {
	switch t {
	case StringType:
		return "string"
	case IntType:
		return "int"
	case FloatType:
		return "float"
	case BoolType:
		return "bool"
	case ObjectType:
		return "object"
	case ListType:
		return "list"
	default:
		return "invalid"
	}
}

// Property describes one property of an object type.
type Property struct {
	// Name is the property name, unique within its type.
	Name string

	// Type is the value type.
	Type PropertyType

	// PrimaryKey marks the property as the type's primary key.
	// At most one property per type may be a primary key, and its type
	// must be String or Int.
	PrimaryKey bool

	// LinkTarget names the target type for Object and List properties.
	LinkTarget string
}

// ObjectSchema describes one user-declared object type.
type ObjectSchema struct {
	// Name is the type name, unique within the schema set.
	Name string

	// Properties lists the type's properties in declaration order.
	Properties []Property
}

// propInfo is the resolved descriptor for one property.
type propInfo struct {
	Property
	column    string // SQL column name; empty for list properties
	linkTable string // SQL link table name; set for list properties only
}

// typeInfo is the resolved descriptor for one object type.
type typeInfo struct {
	name  string
	table string
	pk    *propInfo
	props map[string]*propInfo
	order []*propInfo
}

// registry maps user-declared type names to resolved descriptors.
// Immutable after session open.
type registry struct {
	types map[string]*typeInfo
	order []string
}

// newRegistry resolves and validates a schema set.
func newRegistry(schemas []ObjectSchema) (*registry, error) {
	if len(schemas) == 0 {
		return nil, newError(ErrCodeSchema, "schema set is empty")
	}

	reg := &registry{types: make(map[string]*typeInfo, len(schemas))}
	for _, s := range schemas {
		if s.Name == "" {
			return nil, newError(ErrCodeSchema, "object type with empty name")
		}
		if _, dup := reg.types[s.Name]; dup {
			e := newError(ErrCodeSchema, "duplicate type in schema set")
			e.Type = s.Name
			return nil, e
		}
		ti := &typeInfo{
			name:  s.Name,
			table: "obj_" + s.Name,
			props: make(map[string]*propInfo, len(s.Properties)),
		}
		for _, p := range s.Properties {
			if err := validateProperty(s.Name, p); err != nil {
				return nil, err
			}
			if _, dup := ti.props[p.Name]; dup {
				e := newError(ErrCodeSchema, "duplicate property")
				e.Type, e.Property = s.Name, p.Name
				return nil, e
			}
			pi := &propInfo{Property: p}
			if p.Type == ListType {
				pi.linkTable = "lnk_" + s.Name + "_" + p.Name
			} else {
				pi.column = p.Name
			}
			if p.PrimaryKey {
				if ti.pk != nil {
					e := newError(ErrCodeSchema, "more than one primary key")
					e.Type = s.Name
					return nil, e
				}
				ti.pk = pi
			}
			ti.props[p.Name] = pi
			ti.order = append(ti.order, pi)
		}
		reg.types[s.Name] = ti
		reg.order = append(reg.order, s.Name)
	}

	// Link targets resolve against the full set, so check after all
	// types are registered.
	for _, name := range reg.order {
		ti := reg.types[name]
		for _, pi := range ti.order {
			if pi.Type != ObjectType && pi.Type != ListType {
				continue
			}
			if _, ok := reg.types[pi.LinkTarget]; !ok {
				e := newError(ErrCodeSchema, "link target %q is not part of the schema set", pi.LinkTarget)
				e.Type, e.Property = name, pi.Name
				return nil, e
			}
		}
	}
	return reg, nil
}

func validateProperty(typeName string, p Property) error {
	fail := func(format string, args ...any) error {
		e := newError(ErrCodeSchema, format, args...)
		e.Type, e.Property = typeName, p.Name
		return e
	}
	if p.Name == "" {
		return fail("property with empty name")
	}
	if p.Name == "_rid" {
		return fail("property name %q is reserved", p.Name)
	}
	switch p.Type {
	case StringType, IntType, FloatType, BoolType:
		if p.LinkTarget != "" {
			return fail("link target on non-link property")
		}
	case ObjectType, ListType:
		if p.LinkTarget == "" {
			return fail("link property without a target type")
		}
		if p.PrimaryKey {
			return fail("link property cannot be a primary key")
		}
	default:
		return fail("invalid property type")
	}
	if p.PrimaryKey && p.Type != StringType && p.Type != IntType {
		return fail("primary key must be string or int")
	}
	return nil
}

// ValidateSchema checks a schema set without opening a store: non-empty
// set, unique type and property names, primary key rules, and link target
// resolution. Open performs the same validation.
func ValidateSchema(schemas []ObjectSchema) error {
	_, err := newRegistry(schemas)
	return err
}

// lookup returns the descriptor for a type name.
func (r *registry) lookup(typeName string) (*typeInfo, error) {
	ti, ok := r.types[typeName]
	if !ok {
		return nil, errTypeNotConfigured(typeName)
	}
	return ti, nil
}

// engineTables maps the registry onto the storage engine's table and
// link-table specs.
func (r *registry) engineTables() ([]engine.TableSpec, []engine.LinkSpec) {
	var tables []engine.TableSpec
	var links []engine.LinkSpec
	for _, name := range r.order {
		ti := r.types[name]
		spec := engine.TableSpec{Name: ti.table}
		for _, pi := range ti.order {
			switch pi.Type {
			case ListType:
				links = append(links, engine.LinkSpec{
					Table:       pi.linkTable,
					OwnerTable:  ti.table,
					TargetTable: "obj_" + pi.LinkTarget,
					OwnerProp:   pi.Name,
				})
			default:
				col := engine.ColumnSpec{
					Name:    pi.column,
					SQLType: sqlTypeFor(pi.Type),
					Unique:  pi.PrimaryKey,
				}
				if pi.Type == ObjectType {
					col.RefTable = "obj_" + pi.LinkTarget
				}
				spec.Columns = append(spec.Columns, col)
			}
		}
		tables = append(tables, spec)
	}
	return tables, links
}

func sqlTypeFor(t PropertyType) string {
	switch t {
	case StringType:
		return "TEXT"
	case FloatType:
		return "REAL"
	default:
		// Int, Bool, and Object (target row id) all store as INTEGER.
		return "INTEGER"
	}
}

// rqlSchema adapts a typeInfo to the query compiler's schema lookup.
type rqlSchema struct{ ti *typeInfo }

func (s rqlSchema) Property(name string) (rql.Kind, bool) {
	pi, ok := s.ti.props[name]
	if !ok {
		return rql.KindInvalid, false
	}
	switch pi.Type {
	case StringType:
		return rql.KindString, true
	case IntType:
		return rql.KindInt, true
	case FloatType:
		return rql.KindFloat, true
	case BoolType:
		return rql.KindBool, true
	case ObjectType:
		return rql.KindLink, true
	default:
		// List properties are not queryable as scalar columns.
		return rql.KindInvalid, false
	}
}
