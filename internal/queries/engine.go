package queries

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/access"
	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/catalog"
	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/metrics"
	"github.com/nilbase/nildb/internal/pipeline"
	"github.com/nilbase/nildb/internal/scheduler"
)

// Engine wires internal/catalog (collection ownership), internal/access
// (the C6 resolver, gating both the query's own collection and any
// cross-collection $lookup on the "execute" ACL action), internal/ids
// (filter coercion), and internal/pipeline (validation, variable
// injection, stage execution) into the query-engine operations spec §4.8
// names.
type Engine struct {
	db      *database.DB
	catalog *catalog.Store
	store   *Store
	worker  *Worker
}

// NewEngine constructs a query Engine. Call SetWorker before accepting
// background run submissions.
func NewEngine(db *database.DB, catalogStore *catalog.Store, store *Store) *Engine {
	return &Engine{db: db, catalog: catalogStore, store: store}
}

// SetWorker attaches the background worker pool background Submit calls
// enqueue onto. Exists as a setter (rather than a NewEngine parameter)
// because Worker itself closes over Engine.
func (e *Engine) SetWorker(w *Worker) {
	e.worker = w
}

// CreateQuery implements `POST /v1/queries`: the caller must own
// collectionID; variables/pipelineDoc are validated via validateQuery
// before anything is persisted (spec §4.8). An optional cron schedule is
// parsed eagerly so a malformed expression fails at creation time rather
// than on the first missed tick.
func (e *Engine) CreateQuery(ctx context.Context, caller ids.DID, name string, collectionID uuid.UUID, variables map[string]VariableDecl, pipelineDoc []any, cronSchedule *string) (*Query, error) {
	collection, err := e.catalog.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, apperr.ResourceAccessDenied("collection %s is not accessible", collectionID)
	}
	if collection.Owner != caller {
		return nil, apperr.ResourceAccessDenied("caller does not own collection %s", collectionID)
	}

	specs := make(map[string]pipeline.VariableSpec, len(variables))
	for varName, decl := range variables {
		specs[varName] = pipeline.VariableSpec{Path: decl.Path, Optional: decl.Optional, Coerce: decl.Coerce}
	}
	resolved, err := pipeline.ValidateQuery(pipelineDoc, specs)
	if err != nil {
		return nil, err
	}
	for varName, decl := range variables {
		decl.Type = resolved[varName].Type
		variables[varName] = decl
	}

	if cronSchedule != nil {
		if _, err := scheduler.NewCronParser().Parse(*cronSchedule); err != nil {
			return nil, apperr.DataValidation("invalid schedule: %v", err)
		}
	}

	q := &Query{
		ID: uuid.New(), Owner: caller, Name: name, Collection: collectionID,
		Variables: variables, Pipeline: pipelineDoc, Schedule: cronSchedule,
	}
	if err := e.store.CreateQuery(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// ListQueries implements `GET /v1/queries`.
func (e *Engine) ListQueries(ctx context.Context, caller ids.DID) ([]*Query, error) {
	return e.store.ListQueries(ctx, caller)
}

// DeleteQuery implements `DELETE /v1/queries/:id`.
func (e *Engine) DeleteQuery(ctx context.Context, caller ids.DID, id uuid.UUID) error {
	return e.store.DeleteQuery(ctx, caller, id)
}

// GetRun implements `GET /v1/queries/runs/:id` (polling), scoped to the
// caller that submitted the run.
func (e *Engine) GetRun(ctx context.Context, caller ids.DID, id uuid.UUID) (*Run, error) {
	return e.store.GetRun(ctx, caller, id)
}

// Submit implements `POST /v1/queries/run`: validates runtime against the
// query's declared variables, injects them into the stored pipeline, and
// creates a pending Run. When background is false the run is executed
// synchronously before returning (still through the same state machine);
// when true the run is hand off to the caller's worker queue and the
// pending Run is returned immediately (spec §4.8: "background runs return
// the id immediately").
func (e *Engine) Submit(ctx context.Context, caller ids.DID, queryID uuid.UUID, runtime map[string]any, background bool) (*Run, error) {
	query, err := e.store.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}

	specs := make(map[string]pipeline.VariableSpec, len(query.Variables))
	for name, decl := range query.Variables {
		specs[name] = pipeline.VariableSpec{Path: decl.Path, Optional: decl.Optional, Coerce: decl.Coerce, Type: decl.Type}
	}
	if err := pipeline.ValidateVariables(specs, runtime); err != nil {
		return nil, err
	}
	injected, err := pipeline.InjectVariablesIntoAggregation(specs, query.Pipeline, runtime)
	if err != nil {
		return nil, err
	}

	run := &Run{ID: uuid.New(), Query: queryID, Requester: caller, Status: RunPending, StartedAt: time.Now().UTC()}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	metrics.RecordQueryRunEnqueued()

	if background {
		if e.worker == nil || !e.worker.Enqueue(query, run, injected) {
			return nil, apperr.Database(fmt.Errorf("background worker queue is unavailable"))
		}
		return run, nil
	}

	e.execute(ctx, caller, query, run, injected)
	return run, nil
}

// execute advances run from pending through running to complete/error,
// persisting each transition (spec §4.8's run state machine).
func (e *Engine) execute(ctx context.Context, caller ids.DID, query *Query, run *Run, injected []any) {
	start := time.Now()

	run.Status = RunRunning
	if err := e.store.UpdateRunStatus(ctx, run); err != nil {
		e.fail(ctx, run, start, err)
		return
	}

	docs, err := e.fetchCandidateDocs(ctx, caller, query.Collection)
	if err != nil {
		e.fail(ctx, run, start, err)
		return
	}

	lookup := e.lookupFunc(ctx, caller)
	result, err := pipeline.Execute(injected, docs, lookup)
	if err != nil {
		e.fail(ctx, run, start, err)
		return
	}

	now := time.Now().UTC()
	run.Status = RunComplete
	run.FinishedAt = &now
	run.Result = result
	if err := e.store.UpdateRunStatus(ctx, run); err != nil {
		e.fail(ctx, run, start, err)
		return
	}
	metrics.RecordQueryRunFinished(string(RunComplete), time.Since(start))
}

func (e *Engine) fail(ctx context.Context, run *Run, start time.Time, cause error) {
	now := time.Now().UTC()
	run.Status = RunError
	run.FinishedAt = &now
	run.Errors = []string{cause.Error()}
	_ = e.store.UpdateRunStatus(ctx, run)
	metrics.RecordQueryRunFinished(string(RunError), time.Since(start))
}

// fetchCandidateDocs resolves the query's own collection through the
// access resolver's "execute" action — the ACL capability a query run
// consumes — before coercion and execution (spec §4.6/§4.8).
func (e *Engine) fetchCandidateDocs(ctx context.Context, caller ids.DID, collectionID uuid.UUID) ([]map[string]any, error) {
	filter, err := access.ResolveFilter(ctx, e.catalog, caller, collectionID, access.ActionExecute, nil)
	if err != nil {
		return nil, err
	}
	coerced, err := ids.Coerce(filter)
	if err != nil {
		return nil, apperr.DataValidation("coercing filter: %v", err)
	}
	docs, err := e.db.FindDocuments(ctx, collectionID.String(), coerced, 0, 0)
	if err != nil {
		return nil, database.ToAppErr(err)
	}
	return toDocumentList(docs), nil
}

// lookupFunc builds the pipeline.LookupFunc a $lookup stage calls,
// resolving spec.md §9 open question (c): "from" names a collection's
// UUID, and every cross-collection fetch is gated by the same
// access.ActionExecute check as the query's primary collection, so a
// caller can never join in documents from a collection they have no
// execute grant on.
func (e *Engine) lookupFunc(ctx context.Context, caller ids.DID) pipeline.LookupFunc {
	return func(from string) ([]map[string]any, error) {
		collectionID, err := uuid.Parse(from)
		if err != nil {
			return nil, fmt.Errorf("$lookup: %q is not a collection id: %w", from, err)
		}
		return e.fetchCandidateDocs(ctx, caller, collectionID)
	}
}

// toDocumentList mirrors internal/documents's own helper of the same name:
// Data already carries the document's stamped _id/_created/_updated
// fields, so no re-wrapping is needed.
func toDocumentList(docs []database.Document) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = d.Data
	}
	return out
}
