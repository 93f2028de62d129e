package pipeline

import "fmt"

// matchesFilter evaluates a Mongo-shaped filter document against an
// in-memory doc, mirroring internal/database's FilterToSQL operator set
// ($eq, $ne, $gt, $gte, $lt, $lte, $in, $nin, $exists, $elemMatch, $and,
// $or) so a $match stage behaves identically to a top-level Find filter.
func matchesFilterImpl(doc map[string]any, filter map[string]any) (bool, error) {
	for key, value := range filter {
		switch key {
		case "$and":
			subs, ok := value.([]any)
			if !ok {
				return false, fmt.Errorf("$and must be an array of filter documents")
			}
			for _, s := range subs {
				m, ok := s.(map[string]any)
				if !ok {
					return false, fmt.Errorf("$and element must be a filter document")
				}
				ok2, err := matchesFilterImpl(doc, m)
				if err != nil {
					return false, err
				}
				if !ok2 {
					return false, nil
				}
			}
			continue

		case "$or":
			subs, ok := value.([]any)
			if !ok {
				return false, fmt.Errorf("$or must be an array of filter documents")
			}
			matched := false
			for _, s := range subs {
				m, ok := s.(map[string]any)
				if !ok {
					return false, fmt.Errorf("$or element must be a filter document")
				}
				ok2, err := matchesFilterImpl(doc, m)
				if err != nil {
					return false, err
				}
				if ok2 {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
			continue
		}

		ok, err := fieldMatches(doc[key], value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func fieldMatches(actual, expected any) (bool, error) {
	ops, isOps := expected.(map[string]any)
	if !isOps {
		return compareValues(actual, expected) == 0, nil
	}

	for op, val := range ops {
		switch op {
		case "$eq":
			if compareValues(actual, val) != 0 {
				return false, nil
			}
		case "$ne":
			if compareValues(actual, val) == 0 {
				return false, nil
			}
		case "$gt":
			if compareValues(actual, val) <= 0 {
				return false, nil
			}
		case "$gte":
			if compareValues(actual, val) < 0 {
				return false, nil
			}
		case "$lt":
			if compareValues(actual, val) >= 0 {
				return false, nil
			}
		case "$lte":
			if compareValues(actual, val) > 0 {
				return false, nil
			}
		case "$in":
			list, ok := val.([]any)
			if !ok {
				return false, fmt.Errorf("$in requires an array value")
			}
			found := false
			for _, item := range list {
				if compareValues(actual, item) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case "$nin":
			list, ok := val.([]any)
			if !ok {
				return false, fmt.Errorf("$nin requires an array value")
			}
			for _, item := range list {
				if compareValues(actual, item) == 0 {
					return false, nil
				}
			}
		case "$exists":
			want, _ := val.(bool)
			if (actual != nil) != want {
				return false, nil
			}
		case "$elemMatch":
			sub, ok := val.(map[string]any)
			if !ok {
				return false, fmt.Errorf("$elemMatch requires a filter document")
			}
			list, ok := actual.([]any)
			if !ok {
				return false, nil
			}
			matched := false
			for _, item := range list {
				elem, ok := item.(map[string]any)
				if !ok {
					continue
				}
				ok2, err := matchesFilterImpl(elem, sub)
				if err != nil {
					return false, err
				}
				if ok2 {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", op)
		}
	}
	return true, nil
}
