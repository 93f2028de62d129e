package queries

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/ids"
)

// resultCompressionMarker prefixes a query_runs.result value that holds
// gzip-compressed, base64-encoded JSON rather than plain JSON, so GetRun can
// tell the two apart without a dedicated column.
const resultCompressionMarker = "gz1:"

// Store is the persistence layer for query definitions and their runs,
// grounded on internal/executions/store.go's CRUD shape (Create/Update/Get/
// List over a single catalog table) but split across the two tables the
// run state machine needs.
type Store struct {
	db *database.DB

	// compressThreshold is the result-JSON byte size above which
	// UpdateRunStatus gzip-compresses the result before persisting it
	// (spec's queries.compress_result_threshold). Zero disables compression.
	compressThreshold int
}

// NewStore wires a queries Store over db. compressThreshold is the
// queries.compress_result_threshold config value; pass 0 to store every
// result as plain JSON regardless of size.
func NewStore(db *database.DB, compressThreshold int) *Store {
	return &Store{db: db, compressThreshold: compressThreshold}
}

// CreateQuery persists a new query definition. The caller (internal/queries.Engine)
// is responsible for having already run validateQuery over q.Pipeline/q.Variables.
func (s *Store) CreateQuery(ctx context.Context, q *Query) error {
	variablesJSON, err := json.Marshal(q.Variables)
	if err != nil {
		return apperr.DataValidation("encoding query variables: %v", err)
	}
	pipelineJSON, err := json.Marshal(q.Pipeline)
	if err != nil {
		return apperr.DataValidation("encoding query pipeline: %v", err)
	}

	var schedule sql.NullString
	if q.Schedule != nil {
		schedule = sql.NullString{String: *q.Schedule, Valid: true}
	}

	now := time.Now().UTC()
	q.CreatedAt, q.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queries (id, owner, name, collection, variables, pipeline, schedule, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID.String(), string(q.Owner), q.Name, q.Collection.String(),
		string(variablesJSON), string(pipelineJSON), schedule,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if database.IsUniqueError(err) {
			return apperr.DataValidation("query %s already exists", q.ID)
		}
		return apperr.Database(err)
	}
	return nil
}

// GetQuery returns a query definition by id.
func (s *Store) GetQuery(ctx context.Context, id uuid.UUID) (*Query, error) {
	var owner, name, collection, variablesJSON, pipelineJSON, createdAt, updatedAt string
	var schedule sql.NullString

	row := s.db.QueryRowContext(ctx,
		`SELECT owner, name, collection, variables, pipeline, schedule, created_at, updated_at
		 FROM queries WHERE id = ?`, id.String())
	if err := row.Scan(&owner, &name, &collection, &variablesJSON, &pipelineJSON, &schedule, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ResourceAccessDenied("query %s not found", id)
		}
		return nil, apperr.Database(err)
	}

	return decodeQuery(id, owner, name, collection, variablesJSON, pipelineJSON, schedule, createdAt, updatedAt)
}

// ListQueries returns every query owned by owner.
func (s *Store) ListQueries(ctx context.Context, owner ids.DID) ([]*Query, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, collection, variables, pipeline, schedule, created_at, updated_at
		 FROM queries WHERE owner = ? ORDER BY created_at DESC`, string(owner))
	if err != nil {
		return nil, apperr.Database(err)
	}
	defer rows.Close()

	var out []*Query
	for rows.Next() {
		var idStr, qOwner, name, collection, variablesJSON, pipelineJSON, createdAt, updatedAt string
		var schedule sql.NullString
		if err := rows.Scan(&idStr, &qOwner, &name, &collection, &variablesJSON, &pipelineJSON, &schedule, &createdAt, &updatedAt); err != nil {
			return nil, apperr.Database(err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperr.Database(err)
		}
		q, err := decodeQuery(id, qOwner, name, collection, variablesJSON, pipelineJSON, schedule, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ListScheduled returns every query carrying a non-null cron schedule, for
// the background scheduler ticker to consider.
func (s *Store) ListScheduled(ctx context.Context) ([]*Query, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, collection, variables, pipeline, schedule, created_at, updated_at
		 FROM queries WHERE schedule IS NOT NULL`)
	if err != nil {
		return nil, apperr.Database(err)
	}
	defer rows.Close()

	var out []*Query
	for rows.Next() {
		var idStr, qOwner, name, collection, variablesJSON, pipelineJSON, createdAt, updatedAt string
		var schedule sql.NullString
		if err := rows.Scan(&idStr, &qOwner, &name, &collection, &variablesJSON, &pipelineJSON, &schedule, &createdAt, &updatedAt); err != nil {
			return nil, apperr.Database(err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperr.Database(err)
		}
		q, err := decodeQuery(id, qOwner, name, collection, variablesJSON, pipelineJSON, schedule, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// DeleteQuery removes a query definition. Existing runs referencing it are
// left intact for historical lookup (no FK cascade is declared for
// query_runs.query).
func (s *Store) DeleteQuery(ctx context.Context, owner ids.DID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queries WHERE id = ? AND owner = ?`, id.String(), string(owner))
	if err != nil {
		return apperr.Database(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.ResourceAccessDenied("query %s not found", id)
	}
	return nil
}

func decodeQuery(id uuid.UUID, owner, name, collection, variablesJSON, pipelineJSON string, schedule sql.NullString, createdAt, updatedAt string) (*Query, error) {
	ownerDID, err := ids.ParseDID(owner)
	if err != nil {
		return nil, apperr.Database(err)
	}
	collectionID, err := uuid.Parse(collection)
	if err != nil {
		return nil, apperr.Database(err)
	}

	var variables map[string]VariableDecl
	if err := json.Unmarshal([]byte(variablesJSON), &variables); err != nil {
		return nil, apperr.Database(err)
	}
	var pipelineDoc []any
	if err := json.Unmarshal([]byte(pipelineJSON), &pipelineDoc); err != nil {
		return nil, apperr.Database(err)
	}

	q := &Query{
		ID: id, Owner: ownerDID, Name: name, Collection: collectionID,
		Variables: variables, Pipeline: pipelineDoc,
		CreatedAt: parseTime(createdAt), UpdatedAt: parseTime(updatedAt),
	}
	if schedule.Valid {
		s := schedule.String
		q.Schedule = &s
	}
	return q, nil
}

// CreateRun inserts a new run in RunPending.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_runs (id, query, requester, status, started_at, finished_at, result, errors)
		 VALUES (?, ?, ?, ?, ?, NULL, NULL, NULL)`,
		run.ID.String(), run.Query.String(), string(run.Requester), string(run.Status),
		run.StartedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.Database(err)
	}
	return nil
}

// UpdateRunStatus advances run's persisted status and, for a terminal
// status, its finished_at/result/errors.
func (s *Store) UpdateRunStatus(ctx context.Context, run *Run) error {
	var finishedAt sql.NullString
	if run.FinishedAt != nil {
		finishedAt = sql.NullString{String: run.FinishedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	var resultJSON, errorsJSON sql.NullString
	if run.Result != nil {
		b, err := json.Marshal(run.Result)
		if err != nil {
			return apperr.Database(err)
		}
		encoded, err := s.encodeResult(b)
		if err != nil {
			return apperr.Database(err)
		}
		resultJSON = sql.NullString{String: encoded, Valid: true}
	}
	if len(run.Errors) > 0 {
		b, err := json.Marshal(run.Errors)
		if err != nil {
			return apperr.Database(err)
		}
		errorsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE query_runs SET status = ?, finished_at = ?, result = ?, errors = ? WHERE id = ?`,
		string(run.Status), finishedAt, resultJSON, errorsJSON, run.ID.String())
	if err != nil {
		return apperr.Database(err)
	}
	return nil
}

// GetRun returns a run by id, scoped to the builder that requested it — the
// same owner-scoping idiom as ListQueries/DeleteQuery, applied to
// query_runs.requester since a run has no other owner column to join
// against.
func (s *Store) GetRun(ctx context.Context, owner ids.DID, id uuid.UUID) (*Run, error) {
	var queryID, requester, status, startedAt string
	var finishedAt, resultJSON, errorsJSON sql.NullString

	row := s.db.QueryRowContext(ctx,
		`SELECT query, requester, status, started_at, finished_at, result, errors FROM query_runs WHERE id = ? AND requester = ?`,
		id.String(), string(owner))
	if err := row.Scan(&queryID, &requester, &status, &startedAt, &finishedAt, &resultJSON, &errorsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ResourceAccessDenied("query run %s not found", id)
		}
		return nil, apperr.Database(err)
	}
	return decodeRun(id, queryID, requester, status, startedAt, finishedAt, resultJSON, errorsJSON)
}

// ListRunsByQuery returns every run of queryID, most recent first.
func (s *Store) ListRunsByQuery(ctx context.Context, queryID uuid.UUID) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, requester, status, started_at, finished_at, result, errors
		 FROM query_runs WHERE query = ? ORDER BY started_at DESC`, queryID.String())
	if err != nil {
		return nil, apperr.Database(err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListPendingRuns returns every run still in RunPending, oldest first. The
// background worker does not use it; it takes jobs from its own queue.
func (s *Store) ListPendingRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, requester, status, started_at, finished_at, result, errors
		 FROM query_runs WHERE status = ? ORDER BY started_at ASC LIMIT ?`, string(RunPending), limit)
	if err != nil {
		return nil, apperr.Database(err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// FailRunningRuns marks every run still in RunRunning as RunError with
// reason. Called once at process startup (spec §5: "runs left in running
// across a restart must be failed to error with a reason string").
func (s *Store) FailRunningRuns(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	errorsJSON, err := json.Marshal([]string{reason})
	if err != nil {
		return 0, apperr.Database(err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE query_runs SET status = ?, finished_at = ?, errors = ? WHERE status = ?`,
		string(RunError), now, string(errorsJSON), string(RunRunning))
	if err != nil {
		return 0, apperr.Database(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var out []*Run
	for rows.Next() {
		var idStr, queryID, requester, status, startedAt string
		var finishedAt, resultJSON, errorsJSON sql.NullString
		if err := rows.Scan(&idStr, &queryID, &requester, &status, &startedAt, &finishedAt, &resultJSON, &errorsJSON); err != nil {
			return nil, apperr.Database(err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperr.Database(err)
		}
		run, err := decodeRun(id, queryID, requester, status, startedAt, finishedAt, resultJSON, errorsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// encodeResult returns plain JSON for payloads at or below compressThreshold
// and a gzip-compressed, base64-encoded, resultCompressionMarker-prefixed
// string otherwise, so large aggregation results don't bloat query_runs.
func (s *Store) encodeResult(raw []byte) (string, error) {
	if s.compressThreshold <= 0 || len(raw) <= s.compressThreshold {
		return string(raw), nil
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return resultCompressionMarker + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeResult reverses encodeResult.
func decodeResult(stored string) ([]byte, error) {
	rest, compressed := strings.CutPrefix(stored, resultCompressionMarker)
	if !compressed {
		return []byte(stored), nil
	}

	compressedBytes, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return nil, err
	}
	r, err := gzip.NewReader(bytes.NewReader(compressedBytes))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func decodeRun(id uuid.UUID, queryIDStr, requester, status, startedAt string, finishedAt, resultJSON, errorsJSON sql.NullString) (*Run, error) {
	queryID, err := uuid.Parse(queryIDStr)
	if err != nil {
		return nil, apperr.Database(err)
	}
	requesterDID, err := ids.ParseDID(requester)
	if err != nil {
		return nil, apperr.Database(err)
	}

	run := &Run{
		ID: id, Query: queryID, Requester: requesterDID,
		Status: RunStatus(status), StartedAt: parseTime(startedAt),
	}
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	if resultJSON.Valid {
		raw, err := decodeResult(resultJSON.String)
		if err != nil {
			return nil, apperr.Database(err)
		}
		var result []map[string]any
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, apperr.Database(err)
		}
		run.Result = result
	}
	if errorsJSON.Valid {
		var errs []string
		if err := json.Unmarshal([]byte(errorsJSON.String), &errs); err != nil {
			return nil, apperr.Database(err)
		}
		run.Errors = errs
	}
	return run, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
