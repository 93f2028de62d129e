package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeafType is one of the scalar (or homogeneous-array-of-scalar) types a
// pipeline variable's declared path may resolve to (spec §4.8).
type LeafType string

const (
	LeafString   LeafType = "string"
	LeafNumber   LeafType = "number"
	LeafBool     LeafType = "bool"
	LeafDatetime LeafType = "datetime"
	LeafUUID     LeafType = "uuid"
)

// ErrUnsupportedType is returned when a pipeline leaf (or variable value)
// is not one of the supported scalar types or a homogeneous array of them.
var ErrUnsupportedType = fmt.Errorf("unsupported value type")

// DetectLeafType classifies value, descending into a slice to confirm
// homogeneity. An empty slice's element type cannot be determined and is
// rejected, matching the spec's "homogeneous array" requirement.
func DetectLeafType(value any) (LeafType, error) {
	switch v := value.(type) {
	case string:
		if _, err := uuid.Parse(v); err == nil {
			return LeafUUID, nil
		}
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return LeafDatetime, nil
		}
		return LeafString, nil
	case float64, int, int64:
		return LeafNumber, nil
	case bool:
		return LeafBool, nil
	case []any:
		if len(v) == 0 {
			return "", fmt.Errorf("%w: empty array has no element type", ErrUnsupportedType)
		}
		first, err := DetectLeafType(v[0])
		if err != nil {
			return "", err
		}
		for _, item := range v[1:] {
			t, err := DetectLeafType(item)
			if err != nil {
				return "", err
			}
			if t != first {
				return "", fmt.Errorf("%w: array is not homogeneous", ErrUnsupportedType)
			}
		}
		return first, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedType, value)
	}
}

// WalkLeaves visits every scalar/array leaf reachable from node, calling fn
// with each one. Used by validateQuery to assert every leaf in a pipeline
// is of a supported type.
func WalkLeaves(node any, fn func(value any) error) error {
	switch v := node.(type) {
	case map[string]any:
		for _, val := range v {
			if err := WalkLeaves(val, fn); err != nil {
				return err
			}
		}
		return nil
	case []any:
		// An array of objects is walked element-wise; an array of scalars
		// is itself a leaf (must be homogeneous).
		if allScalar(v) {
			return fn(v)
		}
		for _, item := range v {
			if err := WalkLeaves(item, fn); err != nil {
				return err
			}
		}
		return nil
	default:
		return fn(v)
	}
}

func allScalar(items []any) bool {
	for _, item := range items {
		switch item.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}
