// Package documents implements the document engine (C7, spec §4.7): create
// (standard/owned), find, update, delete/deleteMany/flush, and tail, each
// routed through the access resolver (C6) and the persistence gateway (C2).
package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nilbase/nildb/internal/access"
	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/catalog"
	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/ids"
	jsonschemapkg "github.com/nilbase/nildb/internal/jsonschema"
)

// MaxRecordsLength bounds a single create request's document count (spec
// §4.7).
const MaxRecordsLength = 10000

// defaultTailLimit and maxTailLimit bound the tail operation (spec §4.7:
// "default 10, bounded").
const (
	defaultTailLimit = 10
	maxTailLimit     = 1000
)

// Engine ties the catalog, access resolver, and persistence gateway
// together into the document operations spec §4.7 names.
type Engine struct {
	db      *database.DB
	catalog *catalog.Store
}

// NewEngine builds a document engine over db and catalog.
func NewEngine(db *database.DB, store *catalog.Store) *Engine {
	return &Engine{db: db, catalog: store}
}

// FindResult is the paginated outcome of Find.
type FindResult struct {
	Documents []map[string]any
	Total     int64
}

// CreateStandard inserts data into collectionID, a standard collection
// caller must own. Each document is validated against the collection's
// schema; _id is required and unique within the input; _created/_updated
// are stamped to now. Any validation failure leaves the collection
// untouched (spec §4.7).
func (e *Engine) CreateStandard(ctx context.Context, caller ids.DID, collectionID uuid.UUID, data []map[string]any) error {
	collection, schema, err := e.requireSchema(ctx, collectionID)
	if err != nil {
		return err
	}
	if collection.Type != catalog.CollectionStandard {
		return apperr.DataValidation("collection %s is not a standard collection", collectionID)
	}
	if collection.Owner != caller {
		return apperr.ResourceAccessDenied("caller does not own collection %s", collectionID)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	docs, err := e.prepareDocuments(data, schema, now, "")
	if err != nil {
		return err
	}

	if err := e.db.InsertDocuments(ctx, collectionID.String(), docs); err != nil {
		return database.ToAppErr(err)
	}
	return nil
}

// CreateOwned inserts data into collectionID, an owned collection, on
// behalf of end-user owner. caller must be the collection's owner (the
// builder); acl is the builder's own initial access entry and must not be
// all-false. Every document is stamped with _owner and a single-entry
// _acl; the user's data-reference set gains one entry per document,
// creating the user record if it does not already exist (spec §4.7).
func (e *Engine) CreateOwned(ctx context.Context, caller ids.DID, collectionID uuid.UUID, owner ids.DID, data []map[string]any, acl access.Entry) error {
	collection, schema, err := e.requireSchema(ctx, collectionID)
	if err != nil {
		return err
	}
	if collection.Type != catalog.CollectionOwned {
		return apperr.DataValidation("collection %s is not an owned collection", collectionID)
	}
	if collection.Owner != caller {
		return apperr.ResourceAccessDenied("caller does not own collection %s", collectionID)
	}
	if acl.IsAllFalse() {
		return apperr.Authentication("access entry must grant at least one of read, write, execute")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	docs, err := e.prepareDocuments(data, schema, now, owner)
	if err != nil {
		return err
	}

	aclValue := []any{map[string]any{
		"grantee": string(acl.Grantee), "read": acl.Read, "write": acl.Write, "execute": acl.Execute,
	}}
	for i := range docs {
		docs[i].Data["_owner"] = string(owner)
		docs[i].Data["_acl"] = aclValue
	}

	if err := e.db.InsertDocuments(ctx, collectionID.String(), docs); err != nil {
		return database.ToAppErr(err)
	}

	for _, d := range docs {
		docID, err := uuid.Parse(d.ID)
		if err != nil {
			return apperr.Database(fmt.Errorf("parsing inserted document id: %w", err))
		}
		if err := e.catalog.AddUserDataRef(ctx, owner, collectionID, docID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) requireSchema(ctx context.Context, collectionID uuid.UUID) (*catalog.Collection, *jsonschema.Schema, error) {
	collection, schema, err := e.catalog.CompiledSchema(ctx, collectionID)
	if err != nil {
		return nil, nil, err
	}
	compiled, ok := schema.(*jsonschema.Schema)
	if !ok {
		return nil, nil, apperr.Database(fmt.Errorf("collection %s has no compiled schema", collectionID))
	}
	return collection, compiled, nil
}

func (e *Engine) prepareDocuments(data []map[string]any, schema *jsonschema.Schema, now string, owner ids.DID) ([]database.Document, error) {
	if len(data) == 0 {
		return nil, apperr.DataValidation("data must not be empty")
	}
	if len(data) > MaxRecordsLength {
		return nil, apperr.DataValidation("data exceeds the maximum of %d records", MaxRecordsLength)
	}

	seen := make(map[string]bool, len(data))
	docs := make([]database.Document, 0, len(data))
	for i, raw := range data {
		idValue, hasID := raw["_id"]
		idStr, ok := idValue.(string)
		if !hasID || !ok || idStr == "" {
			return nil, apperr.DataValidation("document %d: _id is required", i)
		}
		if _, err := uuid.Parse(idStr); err != nil {
			return nil, apperr.DataValidation("document %d: _id must be a uuid: %v", i, err)
		}
		if seen[idStr] {
			return nil, apperr.DataValidation("document %d: duplicate _id %q in input", i, idStr)
		}
		seen[idStr] = true

		doc := make(map[string]any, len(raw)+2)
		for k, v := range raw {
			doc[k] = v
		}
		doc["_created"] = now
		doc["_updated"] = now

		if err := jsonschemapkg.Validate(schema, doc); err != nil {
			return nil, apperr.DataValidation("document %d: %v", i, err)
		}

		docs = append(docs, database.Document{
			ID:        idStr,
			Owner:     string(owner),
			CreatedAt: now,
			UpdatedAt: now,
			Data:      doc,
		})
	}
	return docs, nil
}

// Find resolves caller's effective filter through the access resolver,
// coerces it, and returns the matching page of documents together with the
// total match count (spec §4.7).
func (e *Engine) Find(ctx context.Context, caller ids.DID, collectionID uuid.UUID, filter map[string]any, skip, limit int) (*FindResult, error) {
	resolved, err := access.ResolveFilter(ctx, e.catalog, caller, collectionID, access.ActionRead, filter)
	if err != nil {
		return nil, err
	}
	coerced, err := ids.Coerce(resolved)
	if err != nil {
		return nil, apperr.DataValidation("coercing filter: %v", err)
	}

	docs, err := e.db.FindDocuments(ctx, collectionID.String(), coerced, skip, limit)
	if err != nil {
		return nil, database.ToAppErr(err)
	}
	total, err := e.db.CountDocuments(ctx, collectionID.String(), coerced)
	if err != nil {
		return nil, database.ToAppErr(err)
	}

	return &FindResult{Documents: toDocumentList(docs), Total: total}, nil
}

// Update applies a restricted-operator update to every document matching
// filter that caller has write access to (spec §4.7).
func (e *Engine) Update(ctx context.Context, caller ids.DID, collectionID uuid.UUID, filter, update map[string]any) (int64, error) {
	if err := validateUpdateOperators(update); err != nil {
		return 0, err
	}

	resolved, err := access.ResolveFilter(ctx, e.catalog, caller, collectionID, access.ActionWrite, filter)
	if err != nil {
		return 0, err
	}
	coerced, err := ids.Coerce(resolved)
	if err != nil {
		return 0, apperr.DataValidation("coercing filter: %v", err)
	}

	docs, err := e.db.FindDocuments(ctx, collectionID.String(), coerced, 0, 0)
	if err != nil {
		return 0, database.ToAppErr(err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	table := database.DocTable(collectionID.String())

	err = e.db.Transaction(ctx, func(tx *database.Tx) error {
		for _, d := range docs {
			merged, err := applyUpdateOperators(d.Data, update)
			if err != nil {
				return err
			}
			merged["_updated"] = now
			body, encErr := json.Marshal(merged)
			if encErr != nil {
				return apperr.Database(encErr)
			}
			if _, execErr := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET doc = ?, updated_at = ? WHERE id = ?`, table),
				string(body), now, d.ID); execErr != nil {
				return apperr.Database(execErr)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// Delete removes the single document matching filter that caller has write
// access to. An empty filter is rejected (spec §4.7).
func (e *Engine) Delete(ctx context.Context, caller ids.DID, collectionID uuid.UUID, filter map[string]any) (int64, error) {
	return e.deleteMatching(ctx, caller, collectionID, filter, true)
}

// DeleteMany removes every document matching filter that caller has write
// access to. An empty filter is rejected (spec §4.7).
func (e *Engine) DeleteMany(ctx context.Context, caller ids.DID, collectionID uuid.UUID, filter map[string]any) (int64, error) {
	return e.deleteMatching(ctx, caller, collectionID, filter, false)
}

func (e *Engine) deleteMatching(ctx context.Context, caller ids.DID, collectionID uuid.UUID, filter map[string]any, single bool) (int64, error) {
	if len(filter) == 0 {
		return 0, apperr.DataValidation("filter must not be empty for a targeted delete")
	}

	resolved, err := access.ResolveFilter(ctx, e.catalog, caller, collectionID, access.ActionWrite, filter)
	if err != nil {
		return 0, err
	}
	coerced, err := ids.Coerce(resolved)
	if err != nil {
		return 0, apperr.DataValidation("coercing filter: %v", err)
	}

	limit := 0
	if single {
		limit = 1
	}
	matched, err := e.db.FindDocuments(ctx, collectionID.String(), coerced, 0, limit)
	if err != nil {
		return 0, database.ToAppErr(err)
	}
	if len(matched) == 0 {
		return 0, nil
	}

	var deleted int64
	for _, d := range matched {
		idFilter := map[string]any{"_id": d.ID}
		n, err := e.db.DeleteDocuments(ctx, collectionID.String(), idFilter)
		if err != nil {
			return deleted, database.ToAppErr(err)
		}
		deleted += n

		if d.Owner != "" {
			ownerDID, parseErr := ids.ParseDID(d.Owner)
			docID, idErr := uuid.Parse(d.ID)
			if parseErr == nil && idErr == nil {
				if err := e.catalog.RemoveUserDataRef(ctx, ownerDID, collectionID, docID); err != nil {
					return deleted, err
				}
			}
		}
	}
	return deleted, nil
}

// Flush drops every document in collectionID. Only the collection's owner
// may flush it.
func (e *Engine) Flush(ctx context.Context, caller ids.DID, collectionID uuid.UUID) (int64, error) {
	collection, err := e.catalog.GetCollection(ctx, collectionID)
	if err != nil {
		return 0, apperr.ResourceAccessDenied("collection %s is not accessible", collectionID)
	}
	if collection.Owner != caller {
		return 0, apperr.ResourceAccessDenied("caller does not own collection %s", collectionID)
	}

	if collection.Type == catalog.CollectionOwned {
		docs, err := e.db.FindDocuments(ctx, collectionID.String(), nil, 0, 0)
		if err != nil {
			return 0, database.ToAppErr(err)
		}
		for _, d := range docs {
			if d.Owner == "" {
				continue
			}
			ownerDID, parseErr := ids.ParseDID(d.Owner)
			docID, idErr := uuid.Parse(d.ID)
			if parseErr == nil && idErr == nil {
				if err := e.catalog.RemoveUserDataRef(ctx, ownerDID, collectionID, docID); err != nil {
					return 0, err
				}
			}
		}
	}

	n, err := e.db.FlushCollection(ctx, collectionID.String())
	if err != nil {
		return 0, database.ToAppErr(err)
	}
	return n, nil
}

// Tail returns the most recently created limit documents (default 10,
// bounded), newest first, that caller has read access to.
func (e *Engine) Tail(ctx context.Context, caller ids.DID, collectionID uuid.UUID, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = defaultTailLimit
	}
	if limit > maxTailLimit {
		limit = maxTailLimit
	}

	resolved, err := access.ResolveFilter(ctx, e.catalog, caller, collectionID, access.ActionRead, nil)
	if err != nil {
		return nil, err
	}
	coerced, err := ids.Coerce(resolved)
	if err != nil {
		return nil, apperr.DataValidation("coercing filter: %v", err)
	}

	docs, err := e.db.TailDocuments(ctx, collectionID.String(), coerced, limit)
	if err != nil {
		return nil, database.ToAppErr(err)
	}
	return toDocumentList(docs), nil
}

func toDocumentList(docs []database.Document) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = d.Data
	}
	return out
}
