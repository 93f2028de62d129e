// Package catalog implements the builder/collection/index lifecycle of
// spec §4.5 (C5): a typed layer over internal/database's catalog tables,
// plus the process-wide builder cache of spec §4.2's "Cached in-process
// with a fingerprint-based invalidation" rule.
package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/ids"
)

// CollectionType distinguishes builder-owned from end-user-owned
// collections (spec §4.2).
type CollectionType string

const (
	CollectionStandard CollectionType = "standard"
	CollectionOwned    CollectionType = "owned"
)

// Builder is a registered principal that defines collections and queries.
// Collections is a back-reference set, rebuilt from the collections table
// rather than stored as a graph pointer, so cascade deletes stay idempotent
// by filter (spec §9 "Ownership graphs").
type Builder struct {
	ID          ids.DID
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Collections map[uuid.UUID]struct{}
}

// Collection is the unit of schema validation and document storage.
type Collection struct {
	ID        uuid.UUID
	Owner     ids.DID
	Name      string
	Type      CollectionType
	Schema    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IndexDescriptor is one entry of a collection's declared indexes.
type IndexDescriptor struct {
	Name   string
	Keys   []IndexKeySpec
	Unique bool
}

// IndexKeySpec names one field of a compound index and its sort direction.
type IndexKeySpec struct {
	Field string
	Desc  bool
}

// CollectionMetadata is the read-side summary spec §4.5 exposes for a
// collection: document count, estimated size, first/last write timestamps,
// and its declared indexes.
type CollectionMetadata struct {
	Collection   Collection
	Count        int64
	SizeBytes    int64
	FirstWriteAt *time.Time
	LastWriteAt  *time.Time
	Indexes      []IndexDescriptor
}
