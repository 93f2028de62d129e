package ids

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCoerce_UUID(t *testing.T) {
	id := uuid.New().String()
	filter := map[string]any{
		"_id":      id,
		"$coerce":  map[string]any{"_id": "uuid"},
		"untagged": "left-alone",
	}

	out, err := Coerce(filter)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}

	got, ok := out["_id"].(uuid.UUID)
	if !ok {
		t.Fatalf("expected uuid.UUID, got %T", out["_id"])
	}
	if got.String() != id {
		t.Errorf("expected %s, got %s", id, got)
	}
	if _, present := out["$coerce"]; present {
		t.Error("expected $coerce directive to be stripped from output")
	}
	if out["untagged"] != "left-alone" {
		t.Error("expected untagged field to pass through unchanged")
	}
}

func TestCoerce_InOperator(t *testing.T) {
	id1, id2 := uuid.New().String(), uuid.New().String()
	filter := map[string]any{
		"_id":     map[string]any{"$in": []any{id1, id2}},
		"$coerce": map[string]any{"_id": "uuid"},
	}

	out, err := Coerce(filter)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}

	inClause := out["_id"].(map[string]any)["$in"].([]any)
	if len(inClause) != 2 {
		t.Fatalf("expected 2 coerced elements, got %d", len(inClause))
	}
	for i, want := range []string{id1, id2} {
		got, ok := inClause[i].(uuid.UUID)
		if !ok || got.String() != want {
			t.Errorf("element %d: expected %s, got %v", i, want, inClause[i])
		}
	}
}

func TestCoerce_InvalidUUIDFails(t *testing.T) {
	filter := map[string]any{
		"_id":     "not-a-uuid",
		"$coerce": map[string]any{"_id": "uuid"},
	}

	if _, err := Coerce(filter); err == nil {
		t.Fatal("expected error for invalid uuid string")
	}
}

func TestCoerce_MissingFieldIgnored(t *testing.T) {
	filter := map[string]any{
		"$coerce": map[string]any{"createdAt": "date"},
	}

	out, err := Coerce(filter)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty output, got %v", out)
	}
}

func TestCoerce_Date(t *testing.T) {
	ts := "2025-01-02T15:04:05Z"
	filter := map[string]any{
		"createdAt": map[string]any{"$gte": ts},
		"$coerce":   map[string]any{"createdAt": "date"},
	}

	out, err := Coerce(filter)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}

	got := out["createdAt"].(map[string]any)["$gte"].(time.Time)
	want, _ := time.Parse(time.RFC3339, ts)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCoerce_Boolean(t *testing.T) {
	filter := map[string]any{
		"active":  "true",
		"$coerce": map[string]any{"active": "boolean"},
	}

	out, err := Coerce(filter)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if out["active"] != true {
		t.Errorf("expected true, got %v", out["active"])
	}
}

func TestCoerce_Idempotent(t *testing.T) {
	id := uuid.New().String()
	filter := map[string]any{
		"_id":     id,
		"$coerce": map[string]any{"_id": "uuid"},
	}

	once, err := Coerce(filter)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}

	twice, err := Coerce(once)
	if err != nil {
		t.Fatalf("second Coerce failed: %v", err)
	}

	if once["_id"].(uuid.UUID) != twice["_id"].(uuid.UUID) {
		t.Error("expected coercion to be idempotent")
	}
}

func TestParseDID(t *testing.T) {
	_, pub := mustKeypair(t)
	did := NewDID(pub)

	parsed, err := ParseDID(did.String())
	if err != nil {
		t.Fatalf("ParseDID failed: %v", err)
	}
	if parsed != did {
		t.Errorf("expected %s, got %s", did, parsed)
	}

	if _, err := ParseDID("not-a-did"); err == nil {
		t.Error("expected error for malformed did")
	}
}
