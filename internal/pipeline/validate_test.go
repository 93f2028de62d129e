package pipeline

import (
	"testing"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/ids"
)

func variablePipeline() []any {
	return []any{
		map[string]any{"$match": map[string]any{"status": "active", "minAge": 18.0}},
	}
}

func TestValidateQueryResolvesLeafTypes(t *testing.T) {
	resolved, err := ValidateQuery(variablePipeline(), map[string]VariableSpec{
		"status": {Path: "0.$match.status"},
		"minAge": {Path: "0.$match.minAge"},
	})
	if err != nil {
		t.Fatalf("ValidateQuery: %v", err)
	}
	if resolved["status"].Type != LeafString {
		t.Fatalf("got %v, want LeafString", resolved["status"].Type)
	}
	if resolved["minAge"].Type != LeafNumber {
		t.Fatalf("got %v, want LeafNumber", resolved["minAge"].Type)
	}
}

func TestValidateQueryRejectsMissingPath(t *testing.T) {
	_, err := ValidateQuery(variablePipeline(), map[string]VariableSpec{
		"bogus": {Path: "0.$match.nonexistent"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.TagOf(err) != apperr.TagVariableInjection {
		t.Fatalf("got tag %v, want VariableInjectionError", apperr.TagOf(err))
	}
}

func TestValidateVariablesDetectsMismatch(t *testing.T) {
	spec := map[string]VariableSpec{
		"status": {},
		"limit":  {Optional: true},
	}
	err := ValidateVariables(spec, map[string]any{"status": "active", "extra": 1.0})
	if err == nil {
		t.Fatal("expected error")
	}
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	if appErr.Tag != apperr.TagDataValidation {
		t.Fatalf("got tag %v, want DataValidationError", appErr.Tag)
	}
	found := false
	for _, issue := range appErr.Issues {
		if issue == "unexpected=extra" {
			found = true
		}
	}
	if !found {
		t.Fatalf("issues %v did not report unexpected=extra", appErr.Issues)
	}
}

func TestValidateVariablesAllowsMissingOptional(t *testing.T) {
	spec := map[string]VariableSpec{
		"status": {},
		"limit":  {Optional: true},
	}
	if err := ValidateVariables(spec, map[string]any{"status": "active"}); err != nil {
		t.Fatalf("ValidateVariables: %v", err)
	}
}

func TestValidateVariablesRejectsMissingRequired(t *testing.T) {
	spec := map[string]VariableSpec{"status": {}}
	err := ValidateVariables(spec, map[string]any{})
	if err == nil {
		t.Fatal("expected error")
	}
	appErr, _ := apperr.As(err)
	if len(appErr.Issues) == 0 || appErr.Issues[0] != "missing=status" {
		t.Fatalf("issues %v did not report missing=status", appErr.Issues)
	}
}

func TestInjectVariablesIntoAggregationCoercesAndReplaces(t *testing.T) {
	spec := map[string]VariableSpec{
		"minAge": {Path: "0.$match.minAge", Coerce: ids.CoerceNumber},
	}
	injected, err := InjectVariablesIntoAggregation(spec, variablePipeline(), map[string]any{"minAge": "21"})
	if err != nil {
		t.Fatalf("InjectVariablesIntoAggregation: %v", err)
	}
	v, err := FindPath(injected, "0.$match.minAge")
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if v != 21.0 {
		t.Fatalf("got %v, want 21.0", v)
	}

	orig, _ := FindPath(variablePipeline(), "0.$match.minAge")
	if orig != 18.0 {
		t.Fatalf("original pipeline should be unaffected, got %v", orig)
	}
}
