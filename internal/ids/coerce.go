package ids

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// CoerceKind names one of the scalar rewrites a $coerce directive may apply.
type CoerceKind string

const (
	CoerceUUID    CoerceKind = "uuid"
	CoerceDate    CoerceKind = "date"
	CoerceString  CoerceKind = "string"
	CoerceNumber  CoerceKind = "number"
	CoerceBoolean CoerceKind = "boolean"
)

// coerceDirectiveKey is the top-level key a filter document carries its
// $coerce map under.
const coerceDirectiveKey = "$coerce"

// operatorKeys are the Mongo-style comparison operators whose scalar
// operands are individually coerced when their containing field is listed
// in $coerce.
var operatorKeys = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true,
	"$lt": true, "$lte": true, "$in": true, "$nin": true,
}

// Coerce rewrites the fields of filter named in its top-level $coerce map
// from request-level string representations to native typed values. It
// returns a new document; filter itself is not mutated. Coercion is
// idempotent: Coerce(Coerce(f)) == Coerce(f).
func Coerce(filter map[string]any) (map[string]any, error) {
	raw, ok := filter[coerceDirectiveKey]
	if !ok {
		return filter, nil
	}

	directive, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: $coerce must be an object", ErrCoercion)
	}

	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = v
	}
	delete(out, coerceDirectiveKey)

	for field, kindRaw := range directive {
		kindStr, ok := kindRaw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: $coerce.%s must name a coercion kind", ErrCoercion, field)
		}

		value, present := out[field]
		if !present {
			continue // missing target fields are silently ignored
		}

		coerced, err := coerceValue(value, CoerceKind(kindStr))
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrCoercion, field, err)
		}
		out[field] = coerced
	}

	return out, nil
}

// ErrCoercion is returned when a $coerce directive cannot be satisfied.
var ErrCoercion = fmt.Errorf("coercion failed")

// coerceValue applies kind to value, descending into operator objects
// ({"$in": [...]},  {"$eq": v}, ...) so each contained scalar is coerced
// individually.
func coerceValue(value any, kind CoerceKind) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for opKey, opVal := range v {
			if !operatorKeys[opKey] {
				// Not a recognized comparison operator: leave untouched.
				out[opKey] = opVal
				continue
			}
			switch operand := opVal.(type) {
			case []any:
				coercedList := make([]any, len(operand))
				for i, item := range operand {
					c, err := coerceScalar(item, kind)
					if err != nil {
						return nil, err
					}
					coercedList[i] = c
				}
				out[opKey] = coercedList
			default:
				c, err := coerceScalar(opVal, kind)
				if err != nil {
					return nil, err
				}
				out[opKey] = c
			}
		}
		return out, nil
	default:
		return coerceScalar(value, kind)
	}
}

// CoerceScalar applies kind to a single value, the way coerceValue applies
// it to a filter operand. Exported for callers outside the filter-coercion
// path (the query engine's variable injection coerces a runtime value
// before substitution, not a filter operand).
func CoerceScalar(value any, kind CoerceKind) (any, error) {
	return coerceScalar(value, kind)
}

func coerceScalar(value any, kind CoerceKind) (any, error) {
	switch kind {
	case CoerceUUID:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: value %v is not a uuid string", ErrCoercion, value)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCoercion, err)
		}
		return u, nil
	case CoerceDate:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: value %v is not a datetime string", ErrCoercion, value)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCoercion, err)
		}
		return t.UTC(), nil
	case CoerceString:
		return canonicalString(value), nil
	case CoerceNumber:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCoercion, err)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("%w: value %v is not numeric", ErrCoercion, value)
		}
	case CoerceBoolean:
		switch b := value.(type) {
		case bool:
			return b, nil
		case string:
			switch b {
			case "true":
				return true, nil
			case "false":
				return false, nil
			default:
				return nil, fmt.Errorf("%w: value %q is not a boolean", ErrCoercion, b)
			}
		default:
			return nil, fmt.Errorf("%w: value %v is not a boolean", ErrCoercion, value)
		}
	default:
		return nil, fmt.Errorf("%w: unknown coercion kind %q", ErrCoercion, kind)
	}
}

func canonicalString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
