// Package jsonschema wires github.com/santhosh-tekuri/jsonschema/v6 into
// nildb's document-validation pipeline: a collection's schema is compiled
// once at creation (spec §4.5) and every subsequently inserted document is
// checked against the compiled form (spec §4.7).
package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidSchema is returned when a collection's declared schema is not
// itself a well-formed JSON-Schema document.
var ErrInvalidSchema = fmt.Errorf("invalid json schema")

// Compile validates that doc is a well-formed JSON-Schema document and
// returns its compiled form. Called once, at collection-creation time.
func Compile(doc map[string]any) (*jsonschema.Schema, error) {
	resource, err := toResource(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	compiler := jsonschema.NewCompiler()
	const resourceID = "nildb://collection-schema.json"
	if err := compiler.AddResource(resourceID, resource); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	schema, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return schema, nil
}

// Validate checks instance against a compiled schema, returning the
// library's validation error unwrapped so callers can report which
// constraint failed.
func Validate(schema *jsonschema.Schema, instance map[string]any) error {
	resource, err := toResource(instance)
	if err != nil {
		return fmt.Errorf("encoding document for validation: %w", err)
	}
	return schema.Validate(resource)
}

func toResource(doc map[string]any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// Cache holds one compiled schema per collection. A collection's schema is
// immutable after creation (spec §4.5: "validated once at creation; all
// documents inserted later are checked against it"), so entries never need
// invalidating — only population on first use and removal when the
// collection is dropped.
type Cache struct {
	mu       sync.RWMutex
	compiled map[uuid.UUID]*jsonschema.Schema
}

// NewCache returns an empty schema cache.
func NewCache() *Cache {
	return &Cache{compiled: make(map[uuid.UUID]*jsonschema.Schema)}
}

// Put compiles doc and stores it under collectionID, replacing any prior
// entry (used at collection-creation time, when the schema is fixed).
func (c *Cache) Put(collectionID uuid.UUID, doc map[string]any) (*jsonschema.Schema, error) {
	schema, err := Compile(doc)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.compiled[collectionID] = schema
	c.mu.Unlock()
	return schema, nil
}

// Get returns the compiled schema for collectionID, compiling and caching
// it from doc on a miss.
func (c *Cache) Get(collectionID uuid.UUID, doc map[string]any) (*jsonschema.Schema, error) {
	c.mu.RLock()
	schema, ok := c.compiled[collectionID]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}
	return c.Put(collectionID, doc)
}

// Drop removes a collection's compiled schema, e.g. once its collection is
// deleted.
func (c *Cache) Drop(collectionID uuid.UUID) {
	c.mu.Lock()
	delete(c.compiled, collectionID)
	c.mu.Unlock()
}
