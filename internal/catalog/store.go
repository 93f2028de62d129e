package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/jsonschema"
)

// Store is the typed catalog layer over internal/database: builder,
// collection, and index lifecycle, backed by a process-wide builder cache.
type Store struct {
	db     *database.DB
	cache  *BuilderCache
	schema *jsonschema.Cache
}

// NewStore wires a catalog Store over db, with its own builder and schema
// caches.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, cache: NewBuilderCache(), schema: jsonschema.NewCache()}
}

// RegisterBuilder creates a new builder from a self-signed registration
// (spec §4.5's POST /v1/builders/register: "none [token]; self-signed;
// creates builder"). Registering twice under the same DID fails with
// DataValidationError.
func (s *Store) RegisterBuilder(ctx context.Context, did ids.DID, name string) (*Builder, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builders (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		string(did), name, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if database.IsUniqueError(err) {
			return nil, apperr.DataValidation("builder %s is already registered", did)
		}
		return nil, apperr.Database(err)
	}

	builder := &Builder{ID: did, Name: name, CreatedAt: now, UpdatedAt: now, Collections: map[uuid.UUID]struct{}{}}
	s.cache.Put(builder)
	return builder, nil
}

// LoadBuilder implements authz.CallerLoader: it returns the builder record
// as `any`, satisfying the interface without this package depending on
// internal/authz.
func (s *Store) LoadBuilder(ctx context.Context, did ids.DID) (any, error) {
	return s.GetBuilder(ctx, did)
}

// LoadUser implements authz.CallerLoader for the user route family. Users
// have no registration step; presence is derived from owned-document
// references (spec §4.2 "User data reference").
func (s *Store) LoadUser(ctx context.Context, did ids.DID) (any, error) {
	var id string
	row := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ?`, string(did))
	if err := row.Scan(&id); err != nil {
		return nil, apperr.Authentication("user %s is not recognized", did)
	}
	return did, nil
}

// GetBuilder returns the builder for did, consulting the cache first.
func (s *Store) GetBuilder(ctx context.Context, did ids.DID) (*Builder, error) {
	if b, ok := s.cache.Get(did); ok {
		return b, nil
	}

	var name, createdAt, updatedAt string
	row := s.db.QueryRowContext(ctx, `SELECT name, created_at, updated_at FROM builders WHERE id = ?`, string(did))
	if err := row.Scan(&name, &createdAt, &updatedAt); err != nil {
		return nil, apperr.Authentication("builder %s is not recognized", did)
	}

	collections, err := s.builderCollectionIDs(ctx, did)
	if err != nil {
		return nil, err
	}

	builder := &Builder{
		ID:          did,
		Name:        name,
		CreatedAt:   parseTime(createdAt),
		UpdatedAt:   parseTime(updatedAt),
		Collections: collections,
	}
	s.cache.Put(builder)
	return builder, nil
}

func (s *Store) builderCollectionIDs(ctx context.Context, did ids.DID) (map[uuid.UUID]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM collections WHERE owner = ?`, string(did))
	if err != nil {
		return nil, apperr.Database(err)
	}
	defer rows.Close()

	out := map[uuid.UUID]struct{}{}
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, apperr.Database(err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperr.Database(fmt.Errorf("parsing collection id %q: %w", idStr, err))
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// UpdateBuilderName updates a builder's display name and taints its cache
// entry.
func (s *Store) UpdateBuilderName(ctx context.Context, did ids.DID, name string) (*Builder, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE builders SET name = ?, updated_at = ? WHERE id = ?`,
		name, now.Format(time.RFC3339), string(did))
	if err != nil {
		return nil, apperr.Database(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, apperr.Authentication("builder %s is not recognized", did)
	}

	s.cache.Taint(did)
	return s.GetBuilder(ctx, did)
}

// DeleteBuilder cascades to every collection the builder owns (spec §4.5:
// "Deleting a builder cascades to its collections"), then removes the
// builder row and taints its cache entry. The cascade is best-effort
// sequential and idempotent by filter: a mid-cascade failure surfaces
// DatabaseError and the caller retries.
func (s *Store) DeleteBuilder(ctx context.Context, did ids.DID) error {
	builder, err := s.GetBuilder(ctx, did)
	if err != nil {
		return err
	}

	for collectionID := range builder.Collections {
		if err := s.DeleteCollection(ctx, did, collectionID); err != nil {
			return err
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM builders WHERE id = ?`, string(did)); err != nil {
		return apperr.Database(err)
	}
	s.cache.Taint(did)
	return nil
}

// CreateCollection registers a new collection owned by caller. schema is
// compiled and cached; an invalid schema fails with DataValidationError
// before any row is written (spec §4.5).
func (s *Store) CreateCollection(ctx context.Context, caller ids.DID, name string, typ CollectionType, schema map[string]any) (*Collection, error) {
	if _, err := s.GetBuilder(ctx, caller); err != nil {
		return nil, err
	}
	if typ != CollectionStandard && typ != CollectionOwned {
		return nil, apperr.DataValidation("unknown collection type %q", typ)
	}

	id := uuid.New()
	if _, err := s.schema.Put(id, schema); err != nil {
		return nil, apperr.DataValidation("invalid schema: %v", err)
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, apperr.DataValidation("encoding schema: %v", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (id, owner, name, type, schema, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), string(caller), name, string(typ), string(schemaJSON), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		s.schema.Drop(id)
		return nil, apperr.Database(err)
	}

	if err := s.db.CreateDocTable(ctx, id.String()); err != nil {
		return nil, database.ToAppErr(err)
	}

	s.cache.Taint(caller)

	return &Collection{
		ID: id, Owner: caller, Name: name, Type: typ, Schema: schema,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetCollection returns collectionID's catalog record, failing with
// CollectionNotFoundError if it does not exist.
func (s *Store) GetCollection(ctx context.Context, collectionID uuid.UUID) (*Collection, error) {
	var owner, name, typ, schemaJSON, createdAt, updatedAt string
	row := s.db.QueryRowContext(ctx,
		`SELECT owner, name, type, schema, created_at, updated_at FROM collections WHERE id = ?`, collectionID.String())
	if err := row.Scan(&owner, &name, &typ, &schemaJSON, &createdAt, &updatedAt); err != nil {
		return nil, apperr.CollectionNotFound("collection %s not found", collectionID)
	}

	var schema map[string]any
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return nil, apperr.Database(fmt.Errorf("decoding stored schema: %w", err))
	}

	ownerDID, err := ids.ParseDID(owner)
	if err != nil {
		return nil, apperr.Database(fmt.Errorf("decoding stored owner: %w", err))
	}

	return &Collection{
		ID: collectionID, Owner: ownerDID, Name: name, Type: CollectionType(typ), Schema: schema,
		CreatedAt: parseTime(createdAt), UpdatedAt: parseTime(updatedAt),
	}, nil
}

// CompiledSchema returns the compiled JSON-Schema for collectionID,
// compiling and caching it on a miss.
func (s *Store) CompiledSchema(ctx context.Context, collectionID uuid.UUID) (*Collection, any, error) {
	collection, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, nil, err
	}
	schema, err := s.schema.Get(collectionID, collection.Schema)
	if err != nil {
		return nil, nil, apperr.Database(fmt.Errorf("recompiling cached schema: %w", err))
	}
	return collection, schema, nil
}

// ListCollections returns every collection owned by did.
func (s *Store) ListCollections(ctx context.Context, did ids.DID) ([]*Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM collections WHERE owner = ?`, string(did))
	if err != nil {
		return nil, apperr.Database(err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, apperr.Database(err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperr.Database(err)
		}
		c, err := s.GetCollection(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCollection drops the collection's document table, removes its
// catalog row and index entries, drops its cached compiled schema, and
// taints the owning builder's cache entry (spec §4.5: cascade is
// best-effort sequential and idempotent by filter). caller must be the
// collection's owner.
func (s *Store) DeleteCollection(ctx context.Context, caller ids.DID, collectionID uuid.UUID) error {
	collection, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if collection.Owner != caller {
		return apperr.ResourceAccessDenied("caller does not own collection %s", collectionID)
	}

	if _, err := s.db.FlushCollection(ctx, collectionID.String()); err != nil {
		return database.ToAppErr(err)
	}
	if err := s.db.DropDocTable(ctx, collectionID.String()); err != nil {
		return database.ToAppErr(err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collection_indexes WHERE collection = ?`, collectionID.String()); err != nil {
		return apperr.Database(err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, collectionID.String()); err != nil {
		return apperr.Database(err)
	}

	s.schema.Drop(collectionID)
	s.cache.Taint(caller)
	return nil
}

// CreateIndex creates a named index on collectionID and records it in the
// catalog so it survives process restarts.
func (s *Store) CreateIndex(ctx context.Context, collectionID uuid.UUID, name string, keys []IndexKeySpec, unique bool) error {
	if _, err := s.GetCollection(ctx, collectionID); err != nil {
		return err
	}

	dbKeys := make([]database.IndexKey, len(keys))
	for i, k := range keys {
		dbKeys[i] = database.IndexKey{Field: k.Field, Desc: k.Desc}
	}
	if err := s.db.CreateIndex(ctx, collectionID.String(), name, dbKeys, unique); err != nil {
		return database.ToAppErr(err)
	}

	keysJSON, err := json.Marshal(keys)
	if err != nil {
		return apperr.InvalidIndexOptions("encoding index keys: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collection_indexes (collection, name, keys, is_unique) VALUES (?, ?, ?, ?)`,
		collectionID.String(), name, string(keysJSON), boolToInt(unique))
	if err != nil {
		return apperr.Database(err)
	}
	return nil
}

// DropIndex removes a named index from collectionID and its catalog entry.
func (s *Store) DropIndex(ctx context.Context, collectionID uuid.UUID, name string) error {
	if err := s.db.DropIndex(ctx, collectionID.String(), name); err != nil {
		return database.ToAppErr(err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collection_indexes WHERE collection = ? AND name = ?`,
		collectionID.String(), name); err != nil {
		return apperr.Database(err)
	}
	return nil
}

// Metadata returns a collection's read-side summary (spec §4.5: count,
// size, first/last write timestamps, index list).
func (s *Store) Metadata(ctx context.Context, collectionID uuid.UUID) (*CollectionMetadata, error) {
	collection, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	count, err := s.db.CountDocuments(ctx, collectionID.String(), nil)
	if err != nil {
		return nil, database.ToAppErr(err)
	}

	table := database.DocTable(collectionID.String())
	var sizeBytes int64
	_ = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(SUM(LENGTH(doc)), 0) FROM %s`, table)).Scan(&sizeBytes)

	var firstRaw, lastRaw *string
	_ = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MIN(created_at), MAX(created_at) FROM %s`, table)).Scan(&firstRaw, &lastRaw)

	indexes, err := s.listIndexes(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	meta := &CollectionMetadata{Collection: *collection, Count: count, SizeBytes: sizeBytes, Indexes: indexes}
	if firstRaw != nil {
		t := parseTime(*firstRaw)
		meta.FirstWriteAt = &t
	}
	if lastRaw != nil {
		t := parseTime(*lastRaw)
		meta.LastWriteAt = &t
	}
	return meta, nil
}

func (s *Store) listIndexes(ctx context.Context, collectionID uuid.UUID) ([]IndexDescriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, keys, is_unique FROM collection_indexes WHERE collection = ?`, collectionID.String())
	if err != nil {
		return nil, apperr.Database(err)
	}
	defer rows.Close()

	var out []IndexDescriptor
	for rows.Next() {
		var name, keysJSON string
		var isUnique int
		if err := rows.Scan(&name, &keysJSON, &isUnique); err != nil {
			return nil, apperr.Database(err)
		}
		var keys []IndexKeySpec
		if err := json.Unmarshal([]byte(keysJSON), &keys); err != nil {
			return nil, apperr.Database(fmt.Errorf("decoding stored index keys: %w", err))
		}
		out = append(out, IndexDescriptor{Name: name, Keys: keys, Unique: isUnique != 0})
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
