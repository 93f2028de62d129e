package database

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// systemColumns maps the reserved document fields to their dedicated SQL
// columns; every other field is addressed through json_extract against the
// doc column.
var systemColumns = map[string]string{
	"_id":      "id",
	"_owner":   "owner",
	"_created": "created_at",
	"_updated": "updated_at",
}

var comparisonOperators = map[string]string{
	"$eq":  "=",
	"$ne":  "!=",
	"$gt":  ">",
	"$gte": ">=",
	"$lt":  "<",
	"$lte": "<=",
}

// FilterToSQL compiles a Mongo-shaped filter document into a SQL WHERE
// fragment (without the leading "WHERE") and its positional arguments.
// Supported shapes: scalar equality, {$eq|$ne|$gt|$gte|$lt|$lte: v},
// {$in|$nin: [...]},  {$exists: bool}, {$elemMatch: {...}} against an
// array-valued field, and the top-level combinators $and / $or (lists of
// filter documents). An empty filter compiles to "1=1".
func FilterToSQL(filter map[string]any) (string, []any, error) {
	if len(filter) == 0 {
		return "1=1", nil, nil
	}

	// Deterministic field order keeps generated SQL (and therefore test
	// expectations) stable across map iteration.
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any

	for _, key := range keys {
		value := filter[key]

		switch key {
		case "$and", "$or":
			sub, ok := value.([]any)
			if !ok {
				return "", nil, fmt.Errorf("%s must be an array of filter documents", key)
			}
			joiner := " AND "
			if key == "$or" {
				joiner = " OR "
			}
			var parts []string
			for _, item := range sub {
				m, ok := item.(map[string]any)
				if !ok {
					return "", nil, fmt.Errorf("%s element must be a filter document", key)
				}
				clause, subArgs, err := FilterToSQL(m)
				if err != nil {
					return "", nil, err
				}
				parts = append(parts, "("+clause+")")
				args = append(args, subArgs...)
			}
			clauses = append(clauses, "("+strings.Join(parts, joiner)+")")
			continue
		}

		column, extracted := fieldExpr(key)

		clause, fieldArgs, err := fieldClause(column, extracted, key, value)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, fieldArgs...)
	}

	if len(clauses) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

// fieldExpr returns the SQL expression addressing field and whether it is a
// json_extract expression (as opposed to a native column) — elemMatch over
// a json_extract expression needs json_each(doc, path) instead of
// json_each(<expr>).
func fieldExpr(field string) (expr string, isJSON bool) {
	if col, ok := systemColumns[field]; ok {
		return col, false
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", field), true
}

func fieldClause(column string, isJSON bool, field string, value any) (string, []any, error) {
	switch v := value.(type) {
	case map[string]any:
		return operatorClause(column, isJSON, field, v)
	default:
		arg, err := normalizeArg(value)
		if err != nil {
			return "", nil, err
		}
		return column + " = ?", []any{arg}, nil
	}
}

func operatorClause(column string, isJSON bool, field string, ops map[string]any) (string, []any, error) {
	var clauses []string
	var args []any

	opKeys := make([]string, 0, len(ops))
	for k := range ops {
		opKeys = append(opKeys, k)
	}
	sort.Strings(opKeys)

	for _, op := range opKeys {
		val := ops[op]

		switch {
		case comparisonOperators[op] != "":
			arg, err := normalizeArg(val)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, fmt.Sprintf("%s %s ?", column, comparisonOperators[op]))
			args = append(args, arg)

		case op == "$in" || op == "$nin":
			list, ok := val.([]any)
			if !ok {
				return "", nil, fmt.Errorf("%s requires an array value", op)
			}
			if len(list) == 0 {
				// An empty $in matches nothing; an empty $nin matches everything.
				if op == "$in" {
					clauses = append(clauses, "1=0")
				} else {
					clauses = append(clauses, "1=1")
				}
				continue
			}
			placeholders := make([]string, len(list))
			for i, item := range list {
				arg, err := normalizeArg(item)
				if err != nil {
					return "", nil, err
				}
				placeholders[i] = "?"
				args = append(args, arg)
			}
			not := ""
			if op == "$nin" {
				not = "NOT "
			}
			clauses = append(clauses, fmt.Sprintf("%s %sIN (%s)", column, not, strings.Join(placeholders, ",")))

		case op == "$exists":
			want, _ := val.(bool)
			if isJSON {
				if want {
					clauses = append(clauses, column+" IS NOT NULL")
				} else {
					clauses = append(clauses, column+" IS NULL")
				}
			} else {
				if want {
					clauses = append(clauses, column+" IS NOT NULL")
				} else {
					clauses = append(clauses, column+" IS NULL")
				}
			}

		case op == "$elemMatch":
			sub, ok := val.(map[string]any)
			if !ok {
				return "", nil, fmt.Errorf("$elemMatch requires a filter document")
			}
			clause, subArgs, err := elemMatchClause(field, sub)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, clause)
			args = append(args, subArgs...)

		default:
			return "", nil, fmt.Errorf("unsupported operator %q", op)
		}
	}

	if len(clauses) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

// elemMatchClause compiles {field: {$elemMatch: {k: v, ...}}} into an
// EXISTS over json_each against the array at $.field. Every sub-condition
// must hold on the same array element — the ACL predicate in §4.6 relies
// on this to require one entry where grantee and the requested action both
// match.
func elemMatchClause(field string, sub map[string]any) (string, []any, error) {
	keys := make([]string, 0, len(sub))
	for k := range sub {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []string
	var args []any
	for _, k := range keys {
		arg, err := normalizeArg(sub[k])
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, fmt.Sprintf("json_extract(je.value, '$.%s') = ?", k))
		args = append(args, arg)
	}

	clause := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM json_each(doc, '$.%s') AS je WHERE %s)",
		field, strings.Join(conds, " AND "),
	)
	return clause, args, nil
}

// normalizeArg converts coerced Go values (uuid.UUID, time.Time) into the
// string representations stored in JSON documents, and booleans into
// SQLite's integer convention so comparisons against json_extract (which
// yields 0/1 for JSON booleans) succeed.
func normalizeArg(v any) (any, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return val.String(), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(val), nil
	default:
		return v, nil
	}
}
