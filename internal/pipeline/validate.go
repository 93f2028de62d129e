package pipeline

import (
	"fmt"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/ids"
)

// VariableSpec declares one variable a query definition's pipeline
// accepts: the dotted path within the pipeline its value is substituted
// at, whether a runtime value is required, and an optional $coerce kind
// applied to the runtime value before substitution (spec §4.8).
type VariableSpec struct {
	Path     string
	Optional bool
	Coerce   ids.CoerceKind
	Type     LeafType
}

// ValidateQuery implements validateQuery (spec §4.8): for each declared
// variable, locates its path in pipeline and records the leaf's type as
// the variable's expected runtime type; then walks every leaf in the
// pipeline asserting it is one of the supported scalar/homogeneous-array
// types. Returns the variable specs with Type populated.
func ValidateQuery(pipeline []any, variables map[string]VariableSpec) (map[string]VariableSpec, error) {
	resolved := make(map[string]VariableSpec, len(variables))
	for name, spec := range variables {
		value, err := FindPath(pipeline, spec.Path)
		if err != nil {
			return nil, apperr.VariableInjection("variable %q: path not found: %s", name, spec.Path)
		}
		leafType, err := DetectLeafType(value)
		if err != nil {
			return nil, apperr.DataValidation("variable %q: %v", name, err)
		}
		spec.Type = leafType
		resolved[name] = spec
	}

	for _, stage := range pipeline {
		if err := WalkLeaves(stage, func(value any) error {
			_, err := DetectLeafType(value)
			return err
		}); err != nil {
			return nil, apperr.DataValidation("%v", err)
		}
	}

	return resolved, nil
}

// ValidateVariables implements validateVariables(spec, runtime) (spec
// §4.8): the key set of runtime must equal spec's non-optional keys, plus
// any subset of its optional keys; missing required keys or unexpected
// keys both fail with DataValidationError whose issues enumerate every
// offender. Functions, nil, and objects are never valid runtime values.
func ValidateVariables(spec map[string]VariableSpec, runtime map[string]any) error {
	var issues []string

	for name := range runtime {
		if _, ok := spec[name]; !ok {
			issues = append(issues, "unexpected="+name)
		}
	}
	for name, s := range spec {
		if _, present := runtime[name]; !present && !s.Optional {
			issues = append(issues, "missing="+name)
		}
	}
	if len(issues) > 0 {
		return apperr.DataValidation("variable mismatch").WithIssues(issues...)
	}

	for name, value := range runtime {
		if value == nil {
			return apperr.DataValidation("variable %q must not be null", name)
		}
		switch value.(type) {
		case map[string]any:
			return apperr.DataValidation("variable %q must not be an object", name)
		}
	}

	return nil
}

// InjectVariablesIntoAggregation implements
// injectVariablesIntoAggregation(spec, pipeline, validated) (spec §4.8):
// for each provided runtime variable, applies its declared $coerce kind
// (if any) and replaces the value at its declared path, producing a new
// pipeline. pipeline is not mutated.
func InjectVariablesIntoAggregation(spec map[string]VariableSpec, pipeline []any, runtime map[string]any) ([]any, error) {
	out := pipeline
	for name, value := range runtime {
		s, ok := spec[name]
		if !ok {
			return nil, fmt.Errorf("no such variable %q", name)
		}

		toInject := value
		if s.Coerce != "" {
			coerced, err := ids.CoerceScalar(value, s.Coerce)
			if err != nil {
				return nil, apperr.DataValidation("variable %q: %v", name, err)
			}
			toInject = coerced
		}

		replaced, err := ReplacePath(out, s.Path, toInject)
		if err != nil {
			return nil, apperr.VariableInjection("variable %q: %v", name, err)
		}
		out = replaced
	}
	return out, nil
}
