// Package queries implements the query engine (C8, spec §4.8): saved
// aggregation-pipeline definitions over a collection, variable injection,
// and the QueryRun state machine a background worker (or a synchronous
// caller) advances from pending through running to complete/error.
package queries

import (
	"time"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/pipeline"
)

// VariableDecl is a query definition's declaration for one variable: the
// path within the pipeline its runtime value is substituted at, whether a
// run may omit it, and an optional coercion kind. Type is resolved at
// definition time by validateQuery and cached so a run doesn't re-walk the
// pipeline to rediscover it.
type VariableDecl struct {
	Path     string            `json:"path"`
	Optional bool              `json:"optional,omitempty"`
	Coerce   ids.CoerceKind    `json:"coerce,omitempty"`
	Type     pipeline.LeafType `json:"type"`
}

// Query is a saved query definition (spec §4.8, `queries` table).
type Query struct {
	ID         uuid.UUID
	Owner      ids.DID
	Name       string
	Collection uuid.UUID
	Variables  map[string]VariableDecl
	Pipeline   []any
	Schedule   *string // optional cron expression; supplemented feature
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RunStatus is one of a QueryRun's four states (spec §4.8's run state
// machine).
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunError    RunStatus = "error"
)

// Run is a single execution of a Query (spec §4.8, `query_runs` table).
type Run struct {
	ID         uuid.UUID
	Query      uuid.UUID
	Requester  ids.DID
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Result     []map[string]any
	Errors     []string
}
