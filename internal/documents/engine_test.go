package documents

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/access"
	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/catalog"
	"github.com/nilbase/nildb/internal/config"
	"github.com/nilbase/nildb/internal/database"
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
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
	}
}

func newFixture(t *testing.T, typ catalog.CollectionType) (*Engine, *catalog.Store, ids.DID, uuid.UUID) {
	t.Helper()
	db := testDB(t)
	store := catalog.NewStore(db)
	engine := NewEngine(db, store)
	ctx := context.Background()

	owner := testDID(t)
	if _, err := store.RegisterBuilder(ctx, owner, "acme"); err != nil {
		t.Fatalf("register builder: %v", err)
	}
	collection, err := store.CreateCollection(ctx, owner, "widgets", typ, widgetSchema())
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	return engine, store, owner, collection.ID
}

func TestCreateStandardAndFind(t *testing.T) {
	engine, _, owner, collectionID := newFixture(t, catalog.CollectionStandard)
	ctx := context.Background()

	docID := uuid.New().String()
	err := engine.CreateStandard(ctx, owner, collectionID, []map[string]any{
		{"_id": docID, "name": "bolt"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := engine.Find(ctx, owner, collectionID, nil, 0, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if result.Total != 1 || len(result.Documents) != 1 {
		t.Fatalf("expected one document, got %+v", result)
	}
	if result.Documents[0]["name"] != "bolt" {
		t.Fatalf("unexpected document: %+v", result.Documents[0])
	}
}

func TestCreateStandardRejectsNonOwner(t *testing.T) {
	engine, _, _, collectionID := newFixture(t, catalog.CollectionStandard)
	other := testDID(t)

	err := engine.CreateStandard(context.Background(), other, collectionID, []map[string]any{
		{"_id": uuid.New().String(), "name": "bolt"},
	})
	if apperr.TagOf(err) != apperr.TagResourceAccessDeny {
		t.Fatalf("expected ResourceAccessDeniedError, got %v", err)
	}
}

func TestCreateStandardRejectsDuplicateID(t *testing.T) {
	engine, _, owner, collectionID := newFixture(t, catalog.CollectionStandard)
	id := uuid.New().String()

	err := engine.CreateStandard(context.Background(), owner, collectionID, []map[string]any{
		{"_id": id, "name": "a"},
		{"_id": id, "name": "b"},
	})
	if apperr.TagOf(err) != apperr.TagDataValidation {
		t.Fatalf("expected DataValidationError, got %v", err)
	}
}

func TestCreateStandardRejectsSchemaViolation(t *testing.T) {
	engine, _, owner, collectionID := newFixture(t, catalog.CollectionStandard)

	err := engine.CreateStandard(context.Background(), owner, collectionID, []map[string]any{
		{"_id": uuid.New().String(), "name": 42},
	})
	if apperr.TagOf(err) != apperr.TagDataValidation {
		t.Fatalf("expected DataValidationError, got %v", err)
	}
}

func TestCreateOwnedStampsACLAndUserRef(t *testing.T) {
	engine, store, owner, collectionID := newFixture(t, catalog.CollectionOwned)
	ctx := context.Background()
	endUser := testDID(t)
	docID := uuid.New().String()

	err := engine.CreateOwned(ctx, owner, collectionID, endUser, []map[string]any{
		{"_id": docID, "name": "secret"},
	}, access.Entry{Grantee: owner, Read: true, Write: true, Execute: true})
	if err != nil {
		t.Fatalf("create owned: %v", err)
	}

	result, err := engine.Find(ctx, owner, collectionID, nil, 0, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(result.Documents) != 1 {
		t.Fatalf("expected one document, got %+v", result.Documents)
	}
	if result.Documents[0]["_owner"] != string(endUser) {
		t.Fatalf("expected _owner stamped, got %+v", result.Documents[0])
	}

	count, err := store.UserDataRefCount(ctx, endUser)
	if err != nil {
		t.Fatalf("ref count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one data ref, got %d", count)
	}
}

func TestCreateOwnedRejectsAllFalseACL(t *testing.T) {
	engine, _, owner, collectionID := newFixture(t, catalog.CollectionOwned)
	endUser := testDID(t)

	err := engine.CreateOwned(context.Background(), owner, collectionID, endUser, []map[string]any{
		{"_id": uuid.New().String(), "name": "secret"},
	}, access.Entry{Grantee: owner})
	if apperr.TagOf(err) != apperr.TagAuthentication {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
}

func TestFindOwnedHonorsACL(t *testing.T) {
	engine, _, owner, collectionID := newFixture(t, catalog.CollectionOwned)
	ctx := context.Background()
	endUser := testDID(t)
	grantee := testDID(t)
	outsider := testDID(t)

	err := engine.CreateOwned(ctx, owner, collectionID, endUser, []map[string]any{
		{"_id": uuid.New().String(), "name": "secret"},
	}, access.Entry{Grantee: grantee, Read: true})
	if err != nil {
		t.Fatalf("create owned: %v", err)
	}

	result, err := engine.Find(ctx, grantee, collectionID, nil, 0, 0)
	if err != nil {
		t.Fatalf("find as grantee: %v", err)
	}
	if len(result.Documents) != 1 {
		t.Fatalf("expected grantee to see document, got %+v", result.Documents)
	}

	result, err = engine.Find(ctx, outsider, collectionID, nil, 0, 0)
	if err != nil {
		t.Fatalf("find as outsider: %v", err)
	}
	if len(result.Documents) != 0 {
		t.Fatalf("expected outsider to see nothing, got %+v", result.Documents)
	}
}

func TestUpdateAppliesRestrictedOperators(t *testing.T) {
	engine, _, owner, collectionID := newFixture(t, catalog.CollectionStandard)
	ctx := context.Background()
	id := uuid.New().String()

	if err := engine.CreateStandard(ctx, owner, collectionID, []map[string]any{
		{"_id": id, "name": "bolt", "tags": []any{"a"}},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := engine.Update(ctx, owner, collectionID, map[string]any{"_id": id}, map[string]any{
		"$set":  map[string]any{"name": "nut"},
		"$push": map[string]any{"tags": "b"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one document updated, got %d", n)
	}

	result, err := engine.Find(ctx, owner, collectionID, map[string]any{"_id": id}, 0, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	doc := result.Documents[0]
	if doc["name"] != "nut" {
		t.Fatalf("expected name updated, got %+v", doc)
	}
	tags, ok := doc["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("expected two tags after push, got %+v", doc["tags"])
	}
}

func TestUpdateRejectsSystemFieldMutation(t *testing.T) {
	engine, _, owner, collectionID := newFixture(t, catalog.CollectionStandard)
	ctx := context.Background()
	id := uuid.New().String()
	if err := engine.CreateStandard(ctx, owner, collectionID, []map[string]any{{"_id": id, "name": "bolt"}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := engine.Update(ctx, owner, collectionID, map[string]any{"_id": id}, map[string]any{
		"$set": map[string]any{"_owner": "someone-else"},
	})
	if apperr.TagOf(err) != apperr.TagDataValidation {
		t.Fatalf("expected DataValidationError, got %v", err)
	}
}

func TestDeleteRequiresNonEmptyFilter(t *testing.T) {
	engine, _, owner, collectionID := newFixture(t, catalog.CollectionStandard)
	_, err := engine.DeleteMany(context.Background(), owner, collectionID, map[string]any{})
	if apperr.TagOf(err) != apperr.TagDataValidation {
		t.Fatalf("expected DataValidationError, got %v", err)
	}
}

func TestDeleteManyRemovesMatchingAndUserRefs(t *testing.T) {
	engine, store, owner, collectionID := newFixture(t, catalog.CollectionOwned)
	ctx := context.Background()
	endUser := testDID(t)

	err := engine.CreateOwned(ctx, owner, collectionID, endUser, []map[string]any{
		{"_id": uuid.New().String(), "name": "a"},
		{"_id": uuid.New().String(), "name": "b"},
	}, access.Entry{Grantee: owner, Read: true, Write: true})
	if err != nil {
		t.Fatalf("create owned: %v", err)
	}

	n, err := engine.DeleteMany(ctx, owner, collectionID, map[string]any{"name": "a"})
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one deleted, got %d", n)
	}

	count, err := store.UserDataRefCount(ctx, endUser)
	if err != nil {
		t.Fatalf("ref count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one remaining ref, got %d", count)
	}
}

func TestFlushRequiresOwnership(t *testing.T) {
	engine, _, _, collectionID := newFixture(t, catalog.CollectionStandard)
	other := testDID(t)
	_, err := engine.Flush(context.Background(), other, collectionID)
	if apperr.TagOf(err) != apperr.TagResourceAccessDeny {
		t.Fatalf("expected ResourceAccessDeniedError, got %v", err)
	}
}

func TestFlushRemovesUserRefsForOwnedCollection(t *testing.T) {
	engine, store, owner, collectionID := newFixture(t, catalog.CollectionOwned)
	ctx := context.Background()
	endUser := testDID(t)

	err := engine.CreateOwned(ctx, owner, collectionID, endUser, []map[string]any{
		{"_id": uuid.New().String(), "name": "a"},
	}, access.Entry{Grantee: owner, Read: true})
	if err != nil {
		t.Fatalf("create owned: %v", err)
	}

	n, err := engine.Flush(ctx, owner, collectionID)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one document flushed, got %d", n)
	}

	count, err := store.UserDataRefCount(ctx, endUser)
	if err != nil {
		t.Fatalf("ref count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected user ref removed after flush, got %d", count)
	}
}

func TestTailDefaultLimitReturnsAllDocuments(t *testing.T) {
	engine, _, owner, collectionID := newFixture(t, catalog.CollectionStandard)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := engine.CreateStandard(ctx, owner, collectionID, []map[string]any{
			{"_id": uuid.New().String(), "name": "bolt"},
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	docs, err := engine.Tail(ctx, owner, collectionID, 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
}
