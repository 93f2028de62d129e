package queries

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/catalog"
	"github.com/nilbase/nildb/internal/config"
	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/documents"
	"github.com/nilbase/nildb/internal/ids"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := &config.DatabaseConfig{
		PrimaryPath:  filepath.Join(tmpDir, "primary.db"),
		DataPath:     filepath.Join(tmpDir, "data.db"),
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testDID(t *testing.T) ids.DID {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return ids.NewDID(pub)
}

func widgetSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"status": map[string]any{"type": "string"}},
	}
}

type fixture struct {
	engine    *Engine
	documents *documents.Engine
	owner     ids.DID
	collection uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	catalogStore := catalog.NewStore(db)
	store := NewStore(db, 0)
	engine := NewEngine(db, catalogStore, store)
	docEngine := documents.NewEngine(db, catalogStore)
	ctx := context.Background()

	owner := testDID(t)
	if _, err := catalogStore.RegisterBuilder(ctx, owner, "acme"); err != nil {
		t.Fatalf("register builder: %v", err)
	}
	collection, err := catalogStore.CreateCollection(ctx, owner, "widgets", catalog.CollectionStandard, widgetSchema())
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}

	for i, status := range []string{"active", "active", "inactive"} {
		if err := docEngine.CreateStandard(ctx, owner, collection.ID, []map[string]any{
			{"_id": uuid.New().String(), "status": status, "seq": float64(i)},
		}); err != nil {
			t.Fatalf("seed doc %d: %v", i, err)
		}
	}

	return &fixture{engine: engine, documents: docEngine, owner: owner, collection: collection.ID}
}

func TestCreateQueryResolvesVariableType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pipelineDoc := []any{
		map[string]any{"$match": map[string]any{"status": "active"}},
	}
	q, err := f.engine.CreateQuery(ctx, f.owner, "active-widgets", f.collection,
		map[string]VariableDecl{"status": {Path: "0.$match.status"}}, pipelineDoc, nil)
	if err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}
	if q.Variables["status"].Type != "string" {
		t.Fatalf("got %v, want string leaf type", q.Variables["status"].Type)
	}
}

func TestCreateQueryRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := testDID(t)

	_, err := f.engine.CreateQuery(ctx, other, "x", f.collection, nil, []any{
		map[string]any{"$limit": 1.0},
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.TagOf(err) != apperr.TagResourceAccessDeny {
		t.Fatalf("got tag %v, want ResourceAccessDeniedError", apperr.TagOf(err))
	}
}

func TestCreateQueryRejectsInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bogus := "not a cron expression"

	_, err := f.engine.CreateQuery(ctx, f.owner, "x", f.collection, nil, []any{
		map[string]any{"$limit": 1.0},
	}, &bogus)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.TagOf(err) != apperr.TagDataValidation {
		t.Fatalf("got tag %v, want DataValidationError", apperr.TagOf(err))
	}
}

func TestSubmitSynchronousRunCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.engine.CreateQuery(ctx, f.owner, "active-widgets", f.collection,
		map[string]VariableDecl{"status": {Path: "0.$match.status"}},
		[]any{map[string]any{"$match": map[string]any{"status": "active"}}}, nil)
	if err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}

	run, err := f.engine.Submit(ctx, f.owner, q.ID, map[string]any{"status": "active"}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if run.Status != RunComplete {
		t.Fatalf("got status %v, errors %v", run.Status, run.Errors)
	}
	if len(run.Result) != 2 {
		t.Fatalf("got %d results, want 2", len(run.Result))
	}
}

func TestSubmitRejectsUnknownVariable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.engine.CreateQuery(ctx, f.owner, "active-widgets", f.collection,
		map[string]VariableDecl{"status": {Path: "0.$match.status"}},
		[]any{map[string]any{"$match": map[string]any{"status": "active"}}}, nil)
	if err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}

	_, err = f.engine.Submit(ctx, f.owner, q.ID, map[string]any{"status": "active", "bogus": 1.0}, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.TagOf(err) != apperr.TagDataValidation {
		t.Fatalf("got tag %v, want DataValidationError", apperr.TagOf(err))
	}
}

func TestSubmitBackgroundWithoutWorkerFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.engine.CreateQuery(ctx, f.owner, "active-widgets", f.collection, nil,
		[]any{map[string]any{"$limit": 10.0}}, nil)
	if err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}

	_, err = f.engine.Submit(ctx, f.owner, q.ID, map[string]any{}, true)
	if err == nil {
		t.Fatal("expected error with no worker attached")
	}
}

func TestSubmitBackgroundWithWorkerCompletesAsync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	worker := NewWorker(f.engine, 2, 8)
	f.engine.SetWorker(worker)
	workerCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	worker.Start(workerCtx)

	q, err := f.engine.CreateQuery(ctx, f.owner, "active-widgets", f.collection, nil,
		[]any{map[string]any{"$limit": 10.0}}, nil)
	if err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}

	run, err := f.engine.Submit(ctx, f.owner, q.ID, map[string]any{}, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if run.Status != RunPending {
		t.Fatalf("got status %v, want pending immediately after submit", run.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	var final *Run
	for time.Now().Before(deadline) {
		final, err = f.engine.GetRun(ctx, f.owner, run.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if final.Status == RunComplete || final.Status == RunError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if final.Status != RunComplete {
		t.Fatalf("got status %v, errors %v", final.Status, final.Errors)
	}
	if len(final.Result) != 3 {
		t.Fatalf("got %d results, want 3", len(final.Result))
	}
}

func TestFailRunningRunsOnStartup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := &Run{ID: uuid.New(), Query: uuid.New(), Requester: f.owner, Status: RunPending, StartedAt: time.Now().UTC()}
	// Insert the backing query row so the foreign key on query_runs.query is satisfied.
	q := &Query{ID: run.Query, Owner: f.owner, Name: "x", Collection: f.collection, Pipeline: []any{map[string]any{"$limit": 1.0}}}
	if err := f.engine.store.CreateQuery(ctx, q); err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}
	if err := f.engine.store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	run.Status = RunRunning
	if err := f.engine.store.UpdateRunStatus(ctx, run); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	n, err := f.engine.store.FailRunningRuns(ctx, "test restart")
	if err != nil {
		t.Fatalf("FailRunningRuns: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d, want 1", n)
	}

	got, err := f.engine.store.GetRun(ctx, f.owner, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunError {
		t.Fatalf("got status %v, want error", got.Status)
	}
}
