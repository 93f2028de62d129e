// Package pipeline implements the aggregation-pipeline shape query
// definitions carry (spec §4.8): locating and replacing a value at a
// dotted JSON path within a pipeline document, detecting the supported
// leaf type at a path, and executing the resulting stage list against an
// in-memory document set.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// splitPath breaks a dotted path ("0.$match.createdAt.$gte") into segments.
func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// FindPath walks pipeline (a []any of stage documents) along path's dotted
// segments and returns the leaf value. Numeric segments index into arrays;
// any other segment indexes into a map[string]any key. A missing segment
// is reported via ErrPathNotFound.
func FindPath(pipeline []any, path string) (any, error) {
	var cur any = pipeline
	for _, seg := range splitPath(path) {
		next, ok := descend(cur, seg)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, path)
		}
		cur = next
	}
	return cur, nil
}

// ReplacePath returns a deep copy of pipeline with the value at path
// replaced by value. pipeline itself is not mutated.
func ReplacePath(pipeline []any, path string, value any) ([]any, error) {
	cloned := cloneAny(pipeline)
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrPathNotFound)
	}

	if err := setAtPath(cloned, segs, value); err != nil {
		return nil, err
	}

	out, ok := cloned.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline root is not an array", ErrPathNotFound)
	}
	return out, nil
}

// ErrPathNotFound is returned by FindPath/ReplacePath when a segment of the
// requested path does not resolve within the pipeline document.
var ErrPathNotFound = fmt.Errorf("path not found")

func descend(cur any, seg string) (any, bool) {
	switch v := cur.(type) {
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(v) {
			return nil, false
		}
		return v[i], true
	case map[string]any:
		val, ok := v[seg]
		return val, ok
	default:
		return nil, false
	}
}

func setAtPath(cur any, segs []string, value any) error {
	seg := segs[0]
	last := len(segs) == 1

	switch v := cur.(type) {
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(v) {
			return fmt.Errorf("%w: index %q", ErrPathNotFound, seg)
		}
		if last {
			v[i] = value
			return nil
		}
		return setAtPath(v[i], segs[1:], value)
	case map[string]any:
		if last {
			if _, ok := v[seg]; !ok {
				return fmt.Errorf("%w: key %q", ErrPathNotFound, seg)
			}
			v[seg] = value
			return nil
		}
		next, ok := v[seg]
		if !ok {
			return fmt.Errorf("%w: key %q", ErrPathNotFound, seg)
		}
		return setAtPath(next, segs[1:], value)
	default:
		return fmt.Errorf("%w: cannot descend into scalar at %q", ErrPathNotFound, seg)
	}
}

func cloneAny(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneAny(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneAny(item)
		}
		return out
	default:
		return val
	}
}
