package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Run migrations
	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// Verify version table exists
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _nildb_internal_versions").Scan(&count)
	if err != nil {
		t.Fatalf("version table query failed: %v", err)
	}

	// Should have applied all migrations
	if count == 0 {
		t.Error("expected at least one migration to be applied")
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Run migrations twice
	if err := Run(ctx, db); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	if err := Run(ctx, db); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}

	// Verify migrations weren't duplicated
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _nildb_internal_versions").Scan(&count)
	if err != nil {
		t.Fatalf("version table query failed: %v", err)
	}

	// Count should match number of migration files
	applied, err := GetApplied(ctx, db)
	if err != nil {
		t.Fatalf("GetApplied() failed: %v", err)
	}

	if len(applied) != count {
		t.Errorf("expected %d applied migrations, got %d", count, len(applied))
	}
}

func TestCatalogMigration(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	requiredTables := []string{
		"builders", "collections", "collection_indexes",
		"users", "user_data_refs", "queries", "query_runs", "revoked_tokens",
	}
	for _, name := range requiredTables {
		var exists int
		err := db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='table' AND name=?
		`, name).Scan(&exists)
		if err != nil {
			t.Fatalf("checking %s table: %v", name, err)
		}
		if exists != 1 {
			t.Errorf("%s table does not exist", name)
		}
	}

	requiredIndexes := []string{
		"idx_collections_owner", "idx_user_data_refs_user",
		"idx_queries_owner", "idx_query_runs_query", "idx_query_runs_status",
	}
	for _, name := range requiredIndexes {
		var exists int
		err := db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='index' AND name=?
		`, name).Scan(&exists)
		if err != nil {
			t.Fatalf("checking %s index: %v", name, err)
		}
		if exists != 1 {
			t.Errorf("%s index does not exist", name)
		}
	}

	rows, err := db.QueryContext(ctx, "PRAGMA table_info(collections)")
	if err != nil {
		t.Fatalf("getting collections schema: %v", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("scanning column info: %v", err)
		}
		columns[name] = true
	}

	for _, col := range []string{"id", "owner", "name", "type", "schema", "created_at", "updated_at"} {
		if !columns[col] {
			t.Errorf("collections missing required column: %s", col)
		}
	}
}
