package documents

import (
	"fmt"

	"github.com/nilbase/nildb/internal/apperr"
)

// updateOperators is the closed set spec §4.7 permits on an update request;
// anything else is rejected outright.
var updateOperators = map[string]bool{
	"$set": true, "$unset": true, "$push": true, "$pull": true, "$inc": true,
}

// systemFields may never be touched through an update operator (spec §4.7:
// "any attempt to mutate _id, _created, _owner or _acl via this path fails
// with DataValidationError").
var systemFields = map[string]bool{
	"_id": true, "_created": true, "_owner": true, "_acl": true,
}

// validateUpdateOperators rejects any operator outside the permitted set
// and any target field that is system-reserved, before a single document is
// touched.
func validateUpdateOperators(update map[string]any) error {
	if len(update) == 0 {
		return apperr.DataValidation("update must specify at least one operator")
	}
	for op, rawFields := range update {
		if !updateOperators[op] {
			return apperr.DataValidation("unsupported update operator %q", op)
		}
		fields, ok := rawFields.(map[string]any)
		if !ok {
			return apperr.DataValidation("operator %q must be an object of field: value", op)
		}
		for field := range fields {
			if systemFields[field] {
				return apperr.DataValidation("operator %q may not target system field %q", op, field)
			}
		}
	}
	return nil
}

// applyUpdateOperators computes the result of applying update's operators
// to doc, returning a new document (doc is not mutated).
func applyUpdateOperators(doc map[string]any, update map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}

	if set, ok := update["$set"].(map[string]any); ok {
		for field, value := range set {
			out[field] = value
		}
	}
	if unset, ok := update["$unset"].(map[string]any); ok {
		for field := range unset {
			delete(out, field)
		}
	}
	if push, ok := update["$push"].(map[string]any); ok {
		for field, value := range push {
			list, _ := out[field].([]any)
			out[field] = append(append([]any{}, list...), value)
		}
	}
	if pull, ok := update["$pull"].(map[string]any); ok {
		for field, target := range pull {
			list, _ := out[field].([]any)
			filtered := make([]any, 0, len(list))
			for _, item := range list {
				if !equalValue(item, target) {
					filtered = append(filtered, item)
				}
			}
			out[field] = filtered
		}
	}
	if inc, ok := update["$inc"].(map[string]any); ok {
		for field, delta := range inc {
			deltaNum, ok := toFloat(delta)
			if !ok {
				return nil, apperr.DataValidation("$inc value for %q must be numeric", field)
			}
			current, _ := toFloat(out[field])
			out[field] = current + deltaNum
		}
	}

	return out, nil
}

func equalValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}
