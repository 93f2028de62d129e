package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is one row of a per-collection document table: the JSON blob in
// Data together with the columns projected out of it for indexing.
type Document struct {
	ID        string
	Owner     string
	CreatedAt string
	UpdatedAt string
	Data      map[string]any
}

// CreateDocTable creates the physical table backing collection id. Standard
// and owned collections share the same physical shape; ownership is
// expressed by whether Owner is populated on each row, not by a schema
// difference, so a collection can be created once and never migrated when
// its ACL model changes.
func (db *DB) CreateDocTable(ctx context.Context, collectionID string) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		owner TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		doc TEXT NOT NULL
	)`, DocTable(collectionID))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return wrapDBErr("creating document table", err)
	}

	idxStmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(owner)`,
		quoteIdent("idx_"+sanitizeTableSuffix(collectionID)+"_owner"), DocTable(collectionID))
	if _, err := db.ExecContext(ctx, idxStmt); err != nil {
		return wrapDBErr("indexing document owner column", err)
	}
	return nil
}

// DropDocTable removes the physical table backing collection id.
func (db *DB) DropDocTable(ctx context.Context, collectionID string) error {
	stmt := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, DocTable(collectionID))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return wrapDBErr("dropping document table", err)
	}
	return nil
}

// InsertDocuments writes docs into collection id's table in one transaction,
// so a partially invalid batch never leaves the collection half-written.
func (db *DB) InsertDocuments(ctx context.Context, collectionID string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (id, owner, created_at, updated_at, doc) VALUES (?, ?, ?, ?, ?)`, DocTable(collectionID))

	return db.Transaction(ctx, func(tx *Tx) error {
		for _, d := range docs {
			body, err := json.Marshal(d.Data)
			if err != nil {
				return wrapDBErr("marshaling document", err)
			}
			var owner any
			if d.Owner != "" {
				owner = d.Owner
			}
			if _, err := tx.ExecContext(ctx, stmt, d.ID, owner, d.CreatedAt, d.UpdatedAt, string(body)); err != nil {
				if classified := ClassifyError(err); IsConstraintError(classified) {
					return classified
				}
				return wrapDBErr("inserting document", err)
			}
		}
		return nil
	})
}

// FindDocuments returns the documents in collection id matching filter,
// ordered by created_at descending, with optional skip/limit (limit <= 0
// means unlimited).
func (db *DB) FindDocuments(ctx context.Context, collectionID string, filter map[string]any, skip, limit int) ([]Document, error) {
	where, args, err := FilterToSQL(filter)
	if err != nil {
		return nil, fmt.Errorf("compiling filter: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, owner, created_at, updated_at, doc FROM %s WHERE %s ORDER BY created_at DESC`,
		DocTable(collectionID), where)
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	if skip > 0 {
		if limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET " + strconv.Itoa(skip)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("querying documents", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// CountDocuments returns the number of documents in collection id matching
// filter.
func (db *DB) CountDocuments(ctx context.Context, collectionID string, filter map[string]any) (int64, error) {
	where, args, err := FilterToSQL(filter)
	if err != nil {
		return 0, fmt.Errorf("compiling filter: %w", err)
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, DocTable(collectionID), where)
	var count int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapDBErr("counting documents", err)
	}
	return count, nil
}

// UpdateDocuments applies a shallow merge of update into the JSON body of
// every document matched by filter, stamping updated_at, and returns the
// number of rows touched.
func (db *DB) UpdateDocuments(ctx context.Context, collectionID string, filter map[string]any, update map[string]any, now string) (int64, error) {
	where, args, err := FilterToSQL(filter)
	if err != nil {
		return 0, fmt.Errorf("compiling filter: %w", err)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT id, owner, created_at, updated_at, doc FROM %s WHERE %s`, DocTable(collectionID), where), args...)
	if err != nil {
		return 0, wrapDBErr("selecting documents to update", err)
	}
	docs, err := scanDocuments(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	if len(docs) == 0 {
		return 0, nil
	}

	stmt := fmt.Sprintf(`UPDATE %s SET doc = ?, updated_at = ? WHERE id = ?`, DocTable(collectionID))

	err = db.Transaction(ctx, func(tx *Tx) error {
		for _, d := range docs {
			merged := mergeDocument(d.Data, update)
			merged["_updated"] = now
			body, err := json.Marshal(merged)
			if err != nil {
				return wrapDBErr("marshaling updated document", err)
			}
			if _, err := tx.ExecContext(ctx, stmt, string(body), now, d.ID); err != nil {
				return wrapDBErr("updating document", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// mergeDocument returns a shallow copy of base with update's top-level keys
// overlaid; _id is never overwritten.
func mergeDocument(base, update map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range update {
		if k == "_id" {
			continue
		}
		merged[k] = v
	}
	return merged
}

// DeleteDocuments removes the documents in collection id matching filter
// and returns the number of rows removed.
func (db *DB) DeleteDocuments(ctx context.Context, collectionID string, filter map[string]any) (int64, error) {
	where, args, err := FilterToSQL(filter)
	if err != nil {
		return 0, fmt.Errorf("compiling filter: %w", err)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s`, DocTable(collectionID), where)
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapDBErr("deleting documents", err)
	}
	return res.RowsAffected()
}

// FlushCollection deletes every document in collection id and returns the
// number removed.
func (db *DB) FlushCollection(ctx context.Context, collectionID string) (int64, error) {
	return db.DeleteDocuments(ctx, collectionID, nil)
}

// TailDocuments returns the most recently created documents in collection
// id matching filter, newest first by _created, capped at limit. It backs
// the lightweight polling feed used in place of a push-based change stream.
func (db *DB) TailDocuments(ctx context.Context, collectionID string, filter map[string]any, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	where, args, err := FilterToSQL(filter)
	if err != nil {
		return nil, fmt.Errorf("compiling filter: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, owner, created_at, updated_at, doc FROM %s WHERE %s ORDER BY created_at DESC LIMIT ?`,
		DocTable(collectionID), where)
	rows, err := db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, wrapDBErr("tailing documents", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanDocuments(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		var owner *string
		var body string
		if err := rows.Scan(&d.ID, &owner, &d.CreatedAt, &d.UpdatedAt, &body); err != nil {
			return nil, wrapDBErr("scanning document", err)
		}
		if owner != nil {
			d.Owner = *owner
		}
		if err := json.Unmarshal([]byte(body), &d.Data); err != nil {
			return nil, wrapDBErr("unmarshaling document", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr("iterating documents", err)
	}
	return docs, nil
}

// IndexKey is one field/direction pair of a compound index.
type IndexKey struct {
	Field string
	Desc  bool
}

// CreateIndex builds a SQLite expression index over the JSON paths named by
// keys. The unique flag is recorded by the catalog layer
// alongside this call; uniqueness here is enforced by the database itself.
func (db *DB) CreateIndex(ctx context.Context, collectionID, name string, keys []IndexKey, unique bool) error {
	exprs := make([]string, len(keys))
	for i, k := range keys {
		expr, _ := fieldExpr(k.Field)
		if k.Desc {
			expr += " DESC"
		}
		exprs[i] = expr
	}

	uniqueKw := ""
	if unique {
		uniqueKw = "UNIQUE "
	}

	stmt := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)`,
		uniqueKw, quoteIdent(indexName(collectionID, name)), DocTable(collectionID), strings.Join(exprs, ", "))

	if _, err := db.ExecContext(ctx, stmt); err != nil {
		if ce := AsConstraintError(ClassifyError(err)); ce != nil {
			return ErrDuplicateIndex
		}
		return wrapDBErr("creating index", err)
	}
	return nil
}

// DropIndex removes a previously created index by name.
func (db *DB) DropIndex(ctx context.Context, collectionID, name string) error {
	stmt := fmt.Sprintf(`DROP INDEX IF EXISTS %s`, quoteIdent(indexName(collectionID, name)))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return wrapDBErr("dropping index", err)
	}
	return nil
}

func indexName(collectionID, name string) string {
	return "idx_" + sanitizeTableSuffix(collectionID) + "_" + name
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func wrapDBErr(context string, err error) error {
	return fmt.Errorf("%s: %w", context, err)
}
