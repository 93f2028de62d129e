// Package database is the persistence gateway (C2): typed wrappers over a
// document store holding two logical databases — primary, the builder /
// collection / query catalog, and data, one physical table per
// builder-defined collection, named by its UUID.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/config"
	"github.com/nilbase/nildb/internal/database/migrations"
)

// DB is the persistence gateway. It wraps a single *sql.DB connected to the
// primary catalog file, with the data file ATTACHed under the schema name
// "data" so catalog and document tables can be joined within one
// connection while remaining two named databases on disk per spec §6.
type DB struct {
	*sql.DB
	cfg    *config.DatabaseConfig
	mu     sync.RWMutex
	closed bool
}

// Open connects to the primary and data SQLite files, applies pragmas,
// attaches the data database, and runs catalog migrations.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	if err := ensureDir(cfg.PrimaryPath); err != nil {
		return nil, fmt.Errorf("creating primary database directory: %w", err)
	}
	if err := ensureDir(cfg.DataPath); err != nil {
		return nil, fmt.Errorf("creating data database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", cfg.PrimaryPath)
	if err != nil {
		return nil, fmt.Errorf("opening primary database: %w", err)
	}

	db := &DB{DB: sqlDB, cfg: cfg}

	if err := db.configure(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("configuring database: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("ATTACH DATABASE %s AS data", quoteLiteral(cfg.DataPath))); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("attaching data database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := migrations.Run(context.Background(), sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running catalog migrations: %w", err)
	}

	return db, nil
}

func quoteLiteral(path string) string {
	return "'" + strings.ReplaceAll(path, "'", "''") + "'"
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (db *DB) configure() error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", db.cfg.BusyTimeout.Milliseconds()),
	}

	if db.cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	if db.cfg.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	if db.cfg.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size = %d", db.cfg.CacheSize))
	}
	pragmas = append(pragmas, "PRAGMA temp_store = MEMORY")

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

// Close checkpoints the WAL and closes the underlying connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	if db.cfg.WALMode {
		_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return db.DB.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// Tx wraps a *sql.Tx so gateway callers never import database/sql directly.
type Tx struct {
	*sql.Tx
}

// Transaction runs fn inside a SQL transaction, rolling back on error or
// panic and wrapping any unclassified failure as apperr.Database.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Database(fmt.Errorf("beginning transaction: %w", err))
	}

	tx := &Tx{Tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return apperr.Database(fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Database(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// Row is a loosely typed result row, used for generic document scans.
type Row map[string]any

func ScanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("getting columns: %w", err)
	}

	var results []Row
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		row := make(Row)
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = val
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return results, nil
}

// Now formats the current instant the way every stamped catalog/document
// timestamp is stored: UTC, RFC3339.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// DocTable returns the quoted, schema-qualified name of the physical table
// backing collection id within the data database.
func DocTable(collectionID string) string {
	return `data."doc_` + sanitizeTableSuffix(collectionID) + `"`
}

func sanitizeTableSuffix(id string) string {
	return strings.ReplaceAll(id, "-", "")
}
