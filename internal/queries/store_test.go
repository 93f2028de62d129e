package queries

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/catalog"
)

// bigResult returns a result set large enough to exceed a tiny compression
// threshold once marshaled to JSON.
func bigResult(rows int) []map[string]any {
	out := make([]map[string]any, rows)
	for i := range out {
		out[i] = map[string]any{"id": i, "padding": strings.Repeat("x", 256)}
	}
	return out
}

func TestStoreCompressesLargeResults(t *testing.T) {
	db := testDB(t)
	catalogStore := catalog.NewStore(db)
	store := NewStore(db, 512)
	ctx := context.Background()

	owner := testDID(t)
	if _, err := catalogStore.RegisterBuilder(ctx, owner, "acme"); err != nil {
		t.Fatalf("register builder: %v", err)
	}
	collection, err := catalogStore.CreateCollection(ctx, owner, "widgets", catalog.CollectionStandard, widgetSchema())
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	query := &Query{ID: uuid.New(), Owner: owner, Name: "q", Collection: collection.ID, Pipeline: []any{map[string]any{"$match": map[string]any{}}}}
	if err := store.CreateQuery(ctx, query); err != nil {
		t.Fatalf("create query: %v", err)
	}

	run := &Run{ID: uuid.New(), Query: query.ID, Requester: owner, Status: RunRunning, StartedAt: time.Now()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	run.Status = RunComplete
	finished := time.Now()
	run.FinishedAt = &finished
	run.Result = bigResult(50)

	if err := store.UpdateRunStatus(ctx, run); err != nil {
		t.Fatalf("update run status: %v", err)
	}

	var stored string
	row := db.QueryRowContext(ctx, `SELECT result FROM query_runs WHERE id = ?`, run.ID.String())
	if err := row.Scan(&stored); err != nil {
		t.Fatalf("scan stored result: %v", err)
	}
	if !strings.HasPrefix(stored, resultCompressionMarker) {
		t.Fatalf("expected stored result to carry the %q marker, got %d bytes starting %q",
			resultCompressionMarker, len(stored), stored[:min(20, len(stored))])
	}

	reloaded, err := store.GetRun(ctx, owner, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if len(reloaded.Result) != len(run.Result) {
		t.Fatalf("expected %d result rows after decompression, got %d", len(run.Result), len(reloaded.Result))
	}
}

func TestStoreLeavesSmallResultsUncompressed(t *testing.T) {
	db := testDB(t)
	catalogStore := catalog.NewStore(db)
	store := NewStore(db, 512)
	ctx := context.Background()

	owner := testDID(t)
	if _, err := catalogStore.RegisterBuilder(ctx, owner, "acme"); err != nil {
		t.Fatalf("register builder: %v", err)
	}
	collection, err := catalogStore.CreateCollection(ctx, owner, "widgets", catalog.CollectionStandard, widgetSchema())
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	query := &Query{ID: uuid.New(), Owner: owner, Name: "q", Collection: collection.ID, Pipeline: []any{map[string]any{"$match": map[string]any{}}}}
	if err := store.CreateQuery(ctx, query); err != nil {
		t.Fatalf("create query: %v", err)
	}

	run := &Run{ID: uuid.New(), Query: query.ID, Requester: owner, Status: RunRunning, StartedAt: time.Now()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	run.Status = RunComplete
	finished := time.Now()
	run.FinishedAt = &finished
	run.Result = []map[string]any{{"ok": true}}

	if err := store.UpdateRunStatus(ctx, run); err != nil {
		t.Fatalf("update run status: %v", err)
	}

	var stored string
	row := db.QueryRowContext(ctx, `SELECT result FROM query_runs WHERE id = ?`, run.ID.String())
	if err := row.Scan(&stored); err != nil {
		t.Fatalf("scan stored result: %v", err)
	}
	if strings.HasPrefix(stored, resultCompressionMarker) {
		t.Fatalf("expected small result to stay uncompressed, got marker prefix")
	}

	reloaded, err := store.GetRun(ctx, owner, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if len(reloaded.Result) != 1 {
		t.Fatalf("expected 1 result row, got %d", len(reloaded.Result))
	}
}
