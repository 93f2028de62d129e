package pipeline

import (
	"errors"
	"testing"
)

func samplePipeline() []any {
	return []any{
		map[string]any{"$match": map[string]any{"status": "active", "age": map[string]any{"$gte": 18.0}}},
		map[string]any{"$limit": 10.0},
	}
}

func TestFindPath(t *testing.T) {
	pipeline := samplePipeline()

	v, err := FindPath(pipeline, "0.$match.status")
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if v != "active" {
		t.Fatalf("got %v, want active", v)
	}

	v, err = FindPath(pipeline, "0.$match.age.$gte")
	if err != nil {
		t.Fatalf("FindPath nested: %v", err)
	}
	if v != 18.0 {
		t.Fatalf("got %v, want 18.0", v)
	}
}

func TestFindPathMissing(t *testing.T) {
	pipeline := samplePipeline()
	if _, err := FindPath(pipeline, "0.$match.nonexistent"); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestReplacePathDoesNotMutateOriginal(t *testing.T) {
	pipeline := samplePipeline()

	replaced, err := ReplacePath(pipeline, "0.$match.status", "inactive")
	if err != nil {
		t.Fatalf("ReplacePath: %v", err)
	}

	orig, _ := FindPath(pipeline, "0.$match.status")
	if orig != "active" {
		t.Fatalf("original pipeline mutated: got %v", orig)
	}

	got, _ := FindPath(replaced, "0.$match.status")
	if got != "inactive" {
		t.Fatalf("got %v, want inactive", got)
	}
}

func TestReplacePathNotFound(t *testing.T) {
	pipeline := samplePipeline()
	if _, err := ReplacePath(pipeline, "0.$match.missing.deep", "x"); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("got %v, want ErrPathNotFound", err)
	}
}
