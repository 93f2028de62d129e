package database

import (
	"context"
	"testing"
)

func seedDocs(t *testing.T, db *DB, collectionID string, docs []Document) {
	t.Helper()
	if err := db.CreateDocTable(context.Background(), collectionID); err != nil {
		t.Fatalf("create doc table: %v", err)
	}
	if err := db.InsertDocuments(context.Background(), collectionID, docs); err != nil {
		t.Fatalf("insert documents: %v", err)
	}
}

func TestInsertAndFindDocuments(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	collectionID := "3f5c9e40-0000-4000-8000-000000000001"

	seedDocs(t, db, collectionID, []Document{
		{ID: "doc-1", Owner: "builder-1", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z",
			Data: map[string]any{"_id": "doc-1", "name": "alice", "age": float64(30)}},
		{ID: "doc-2", Owner: "builder-1", CreatedAt: "2026-01-02T00:00:00Z", UpdatedAt: "2026-01-02T00:00:00Z",
			Data: map[string]any{"_id": "doc-2", "name": "bob", "age": float64(45)}},
	})

	docs, err := db.FindDocuments(ctx, collectionID, map[string]any{"name": "alice"}, 0, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "doc-1" {
		t.Fatalf("expected doc-1, got %+v", docs)
	}

	all, err := db.FindDocuments(ctx, collectionID, nil, 0, 0)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(all))
	}

	count, err := db.CountDocuments(ctx, collectionID, map[string]any{"age": map[string]any{"$gte": 40}})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestUpdateDocuments(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	collectionID := "3f5c9e40-0000-4000-8000-000000000002"

	seedDocs(t, db, collectionID, []Document{
		{ID: "doc-1", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z",
			Data: map[string]any{"_id": "doc-1", "name": "alice"}},
	})

	updated, err := db.UpdateDocuments(ctx, collectionID, map[string]any{"_id": "doc-1"}, map[string]any{"name": "alicia"}, "2026-02-01T00:00:00Z")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 row updated, got %d", updated)
	}

	docs, err := db.FindDocuments(ctx, collectionID, map[string]any{"_id": "doc-1"}, 0, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0].Data["name"] != "alicia" {
		t.Fatalf("expected updated name, got %+v", docs)
	}
	if docs[0].UpdatedAt != "2026-02-01T00:00:00Z" {
		t.Errorf("expected updated_at to be stamped, got %s", docs[0].UpdatedAt)
	}
}

func TestDeleteAndFlush(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	collectionID := "3f5c9e40-0000-4000-8000-000000000003"

	seedDocs(t, db, collectionID, []Document{
		{ID: "doc-1", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z", Data: map[string]any{"_id": "doc-1"}},
		{ID: "doc-2", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z", Data: map[string]any{"_id": "doc-2"}},
	})

	deleted, err := db.DeleteDocuments(ctx, collectionID, map[string]any{"_id": "doc-1"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	flushed, err := db.FlushCollection(ctx, collectionID)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("expected 1 flushed, got %d", flushed)
	}

	remaining, err := db.CountDocuments(ctx, collectionID, nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", remaining)
	}
}

func TestCreateAndDropIndex(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	collectionID := "3f5c9e40-0000-4000-8000-000000000004"

	if err := db.CreateDocTable(ctx, collectionID); err != nil {
		t.Fatalf("create doc table: %v", err)
	}

	if err := db.CreateIndex(ctx, collectionID, "by_name", []IndexKey{{Field: "name"}}, true); err != nil {
		t.Fatalf("create index: %v", err)
	}

	if err := db.InsertDocuments(ctx, collectionID, []Document{
		{ID: "doc-1", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z", Data: map[string]any{"_id": "doc-1", "name": "alice"}},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := db.InsertDocuments(ctx, collectionID, []Document{
		{ID: "doc-2", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z", Data: map[string]any{"_id": "doc-2", "name": "alice"}},
	})
	if err == nil {
		t.Fatal("expected unique index violation")
	}

	if err := db.DropIndex(ctx, collectionID, "by_name"); err != nil {
		t.Fatalf("drop index: %v", err)
	}

	if err := db.InsertDocuments(ctx, collectionID, []Document{
		{ID: "doc-2", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z", Data: map[string]any{"_id": "doc-2", "name": "alice"}},
	}); err != nil {
		t.Fatalf("expected insert to succeed after dropping the unique index: %v", err)
	}
}

func TestTailDocuments(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	collectionID := "3f5c9e40-0000-4000-8000-000000000005"

	seedDocs(t, db, collectionID, []Document{
		{ID: "doc-1", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z", Data: map[string]any{"_id": "doc-1"}},
		{ID: "doc-2", CreatedAt: "2026-01-02T00:00:00Z", UpdatedAt: "2026-01-02T00:00:00Z", Data: map[string]any{"_id": "doc-2"}},
	})

	docs, err := db.TailDocuments(ctx, collectionID, nil, 1)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "doc-2" {
		t.Fatalf("expected most recently created document first, got %+v", docs)
	}
}

// TestTailDocumentsOrdersByCreatedNotUpdated seeds a document that was
// created before doc-2 but updated after it, and checks tail still orders
// by _created: an update must not bump a document to the front of the tail.
func TestTailDocumentsOrdersByCreatedNotUpdated(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	collectionID := "3f5c9e40-0000-4000-8000-000000000006"

	seedDocs(t, db, collectionID, []Document{
		{ID: "doc-1", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-03T00:00:00Z", Data: map[string]any{"_id": "doc-1"}},
		{ID: "doc-2", CreatedAt: "2026-01-02T00:00:00Z", UpdatedAt: "2026-01-02T00:00:00Z", Data: map[string]any{"_id": "doc-2"}},
	})

	docs, err := db.TailDocuments(ctx, collectionID, nil, 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "doc-2" || docs[1].ID != "doc-1" {
		t.Fatalf("expected doc-2 (created later) before doc-1 (updated later) despite doc-1's newer updated_at, got %+v", docs)
	}
}
