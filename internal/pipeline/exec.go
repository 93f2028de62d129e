package pipeline

import (
	"fmt"
	"sort"
)

// LookupFunc resolves the foreign document set for a $lookup stage's "from"
// collection. Callers gate this on the executing caller's execute-action
// ACL before returning any documents (spec.md §9, open question (c):
// "$lookup across collections the caller cannot execute" must be
// rejected).
type LookupFunc func(from string) ([]map[string]any, error)

// Execute runs stages against docs in order, returning the transformed
// document set. docs is not mutated.
func Execute(stages []any, docs []map[string]any, lookup LookupFunc) ([]map[string]any, error) {
	cur := docs
	for i, raw := range stages {
		stage, ok := raw.(map[string]any)
		if !ok || len(stage) != 1 {
			return nil, fmt.Errorf("stage %d: must be a single-key object", i)
		}
		for op, arg := range stage {
			next, err := applyStage(op, arg, cur, lookup)
			if err != nil {
				return nil, fmt.Errorf("stage %d (%s): %w", i, op, err)
			}
			cur = next
		}
	}
	return cur, nil
}

func applyStage(op string, arg any, docs []map[string]any, lookup LookupFunc) ([]map[string]any, error) {
	switch op {
	case "$match":
		filter, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("$match argument must be an object")
		}
		return matchStage(docs, filter)
	case "$sort":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("$sort argument must be an object")
		}
		return sortStage(docs, spec), nil
	case "$skip":
		n, ok := asInt(arg)
		if !ok {
			return nil, fmt.Errorf("$skip argument must be a number")
		}
		return skipStage(docs, n), nil
	case "$limit":
		n, ok := asInt(arg)
		if !ok {
			return nil, fmt.Errorf("$limit argument must be a number")
		}
		return limitStage(docs, n), nil
	case "$project":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("$project argument must be an object")
		}
		return projectStage(docs, spec), nil
	case "$addFields":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("$addFields argument must be an object")
		}
		return addFieldsStage(docs, spec), nil
	case "$unwind":
		field, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("$unwind argument must be a field path string")
		}
		return unwindStage(docs, field), nil
	case "$group":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("$group argument must be an object")
		}
		return groupStage(docs, spec)
	case "$lookup":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("$lookup argument must be an object")
		}
		return lookupStage(docs, spec, lookup)
	default:
		return nil, fmt.Errorf("unsupported stage operator %q", op)
	}
}

func matchStage(docs []map[string]any, filter map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		ok, err := matchesFilter(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// matchesFilter mirrors internal/database's SQL-filter operator semantics
// ($eq, $elemMatch, …) against an in-memory document so a $match stage
// behaves identically to a top-level Find filter.
func matchesFilter(doc map[string]any, filter map[string]any) (bool, error) {
	return matchesFilterImpl(doc, filter)
}

func sortStage(docs []map[string]any, spec map[string]any) []map[string]any {
	type key struct {
		field string
		desc  bool
	}
	var keys []key
	for field, dir := range spec {
		desc := false
		if n, ok := asInt(dir); ok && n < 0 {
			desc = true
		}
		keys = append(keys, key{field: field, desc: desc})
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].field < keys[j].field })

	out := append([]map[string]any(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			cmp := compareValues(out[i][k.field], out[j][k.field])
			if cmp == 0 {
				continue
			}
			if k.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return out
}

func skipStage(docs []map[string]any, n int) []map[string]any {
	if n <= 0 || n >= len(docs) {
		if n >= len(docs) {
			return []map[string]any{}
		}
		return docs
	}
	return docs[n:]
}

func limitStage(docs []map[string]any, n int) []map[string]any {
	if n < 0 || n >= len(docs) {
		return docs
	}
	return docs[:n]
}

func projectStage(docs []map[string]any, spec map[string]any) []map[string]any {
	include := false
	for _, v := range spec {
		if truthy(v) {
			include = true
		}
	}

	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		projected := make(map[string]any, len(spec))
		if include {
			for field, v := range spec {
				if truthy(v) {
					if val, ok := d[field]; ok {
						projected[field] = val
					}
				}
			}
		} else {
			for k, v := range d {
				projected[k] = v
			}
			for field, v := range spec {
				if !truthy(v) {
					delete(projected, field)
				}
			}
		}
		out[i] = projected
	}
	return out
}

func addFieldsStage(docs []map[string]any, spec map[string]any) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		merged := make(map[string]any, len(d)+len(spec))
		for k, v := range d {
			merged[k] = v
		}
		for k, v := range spec {
			merged[k] = v
		}
		out[i] = merged
	}
	return out
}

func unwindStage(docs []map[string]any, field string) []map[string]any {
	var out []map[string]any
	for _, d := range docs {
		list, ok := d[field].([]any)
		if !ok {
			out = append(out, d)
			continue
		}
		for _, item := range list {
			copied := make(map[string]any, len(d))
			for k, v := range d {
				copied[k] = v
			}
			copied[field] = item
			out = append(out, copied)
		}
	}
	return out
}

func groupStage(docs []map[string]any, spec map[string]any) ([]map[string]any, error) {
	idExpr, hasID := spec["_id"]
	if !hasID {
		return nil, fmt.Errorf("$group requires an _id field")
	}

	type bucket struct {
		key    any
		docs   []map[string]any
		fields map[string]any
	}
	order := []string{}
	buckets := map[string]*bucket{}

	for _, d := range docs {
		key := evalGroupKey(idExpr, d)
		keyStr := fmt.Sprintf("%v", key)
		b, ok := buckets[keyStr]
		if !ok {
			b = &bucket{key: key, fields: map[string]any{}}
			buckets[keyStr] = b
			order = append(order, keyStr)
		}
		b.docs = append(b.docs, d)
	}

	out := make([]map[string]any, 0, len(order))
	for _, keyStr := range order {
		b := buckets[keyStr]
		result := map[string]any{"_id": b.key}
		for field, accExpr := range spec {
			if field == "_id" {
				continue
			}
			accSpec, ok := accExpr.(map[string]any)
			if !ok || len(accSpec) != 1 {
				return nil, fmt.Errorf("$group field %q must name one accumulator", field)
			}
			for acc, operand := range accSpec {
				val, err := applyAccumulator(acc, operand, b.docs)
				if err != nil {
					return nil, fmt.Errorf("$group field %q: %w", field, err)
				}
				result[field] = val
			}
		}
		out = append(out, result)
	}
	return out, nil
}

func evalGroupKey(idExpr any, doc map[string]any) any {
	fieldRef, ok := idExpr.(string)
	if !ok || len(fieldRef) == 0 || fieldRef[0] != '$' {
		return idExpr
	}
	return doc[fieldRef[1:]]
}

func applyAccumulator(acc string, operand any, docs []map[string]any) (any, error) {
	fieldOf := func(d map[string]any) (any, bool) {
		ref, ok := operand.(string)
		if !ok || len(ref) == 0 || ref[0] != '$' {
			return operand, true
		}
		v, ok := d[ref[1:]]
		return v, ok
	}

	switch acc {
	case "$sum":
		var total float64
		for _, d := range docs {
			v, ok := fieldOf(d)
			if !ok {
				continue
			}
			if n, ok := asFloat(v); ok {
				total += n
			} else if operand == 1 {
				total++
			}
		}
		return total, nil
	case "$count":
		return float64(len(docs)), nil
	case "$avg":
		var total float64
		var count int
		for _, d := range docs {
			v, ok := fieldOf(d)
			if !ok {
				continue
			}
			if n, ok := asFloat(v); ok {
				total += n
				count++
			}
		}
		if count == 0 {
			return 0.0, nil
		}
		return total / float64(count), nil
	case "$min", "$max":
		var best any
		for _, d := range docs {
			v, ok := fieldOf(d)
			if !ok {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			cmp := compareValues(v, best)
			if (acc == "$min" && cmp < 0) || (acc == "$max" && cmp > 0) {
				best = v
			}
		}
		return best, nil
	case "$push":
		var out []any
		for _, d := range docs {
			if v, ok := fieldOf(d); ok {
				out = append(out, v)
			}
		}
		return out, nil
	case "$first":
		if len(docs) == 0 {
			return nil, nil
		}
		v, _ := fieldOf(docs[0])
		return v, nil
	case "$last":
		if len(docs) == 0 {
			return nil, nil
		}
		v, _ := fieldOf(docs[len(docs)-1])
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported accumulator %q", acc)
	}
}

func lookupStage(docs []map[string]any, spec map[string]any, lookup LookupFunc) ([]map[string]any, error) {
	if lookup == nil {
		return nil, fmt.Errorf("cross-collection $lookup is not permitted for this caller")
	}
	from, _ := spec["from"].(string)
	localField, _ := spec["localField"].(string)
	foreignField, _ := spec["foreignField"].(string)
	as, _ := spec["as"].(string)
	if from == "" || localField == "" || foreignField == "" || as == "" {
		return nil, fmt.Errorf("$lookup requires from, localField, foreignField, and as")
	}

	foreign, err := lookup(from)
	if err != nil {
		return nil, err
	}

	index := make(map[string][]map[string]any, len(foreign))
	for _, f := range foreign {
		key := fmt.Sprintf("%v", f[foreignField])
		index[key] = append(index[key], f)
	}

	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		merged := make(map[string]any, len(d)+1)
		for k, v := range d {
			merged[k] = v
		}
		key := fmt.Sprintf("%v", d[localField])
		matches := index[key]
		arr := make([]any, len(matches))
		for j, m := range matches {
			arr[j] = m
		}
		merged[as] = arr
		out[i] = merged
	}
	return out, nil
}

func truthy(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case float64:
		return n != 0
	case int:
		return n != 0
	default:
		return false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareValues(a, b any) int {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
