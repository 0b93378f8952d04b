package meridian

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// toStored converts a user-supplied scalar value to its SQL representation
// for one property. Link properties are handled by Session.linkValue, list
// properties never reach here.
//
// nil is accepted for every property type and stores SQL NULL.
func toStored(typeName string, pi *propInfo, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	mismatch := func() error {
		e := newError(ErrCodeTypeMismatch, "value %T does not match %s property", v, pi.Type)
		e.Type, e.Property = typeName, pi.Name
		return e
	}

	switch pi.Type {
	case StringType:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch()
		}
		// NFC so equality and primary-key uniqueness are independent of
		// the caller's Unicode representation.
		return norm.NFC.String(s), nil
	case IntType:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		default:
			return nil, mismatch()
		}
	case FloatType:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		case int:
			return float64(f), nil
		case int64:
			return float64(f), nil
		default:
			return nil, mismatch()
		}
	case BoolType:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch()
		}
		return b, nil
	default:
		return nil, mismatch()
	}
}

// fromStored converts a raw SQL value back to the property's Go
// representation. Link and list properties are handled by their callers.
func fromStored(pi *propInfo, raw any) any {
	if raw == nil {
		return nil
	}
	switch pi.Type {
	case StringType:
		if b, ok := raw.([]byte); ok {
			return string(b)
		}
		return raw
	case BoolType:
		if n, ok := raw.(int64); ok {
			return n != 0
		}
		return raw
	case FloatType:
		if n, ok := raw.(int64); ok {
			return float64(n)
		}
		return raw
	default:
		return raw
	}
}

// sqlQuote quotes an identifier for inclusion in generated SQL fragments
// (sort keys and list-membership subqueries).
func sqlQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// typeNameFromTable strips the object-table prefix: "obj_Car" -> "Car".
func typeNameFromTable(table string) string {
	return strings.TrimPrefix(table, "obj_")
}
