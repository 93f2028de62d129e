package handlers

import (
	"net/http"

	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/queries"
)

// QueryHandlers backs spec §6's `/v1/queries*` routes (C8).
type QueryHandlers struct {
	queries *queries.Engine
}

func NewQueryHandlers(engine *queries.Engine) *QueryHandlers {
	return &QueryHandlers{queries: engine}
}

type variableDeclRequest struct {
	Path     string `json:"path"`
	Optional bool   `json:"optional,omitempty"`
	Coerce   string `json:"coerce,omitempty"`
}

type queryResponse struct {
	ID         string                          `json:"id"`
	Owner      string                          `json:"owner"`
	Name       string                          `json:"name"`
	Collection string                          `json:"collection"`
	Variables  map[string]variableDeclResponse `json:"variables"`
	Pipeline   []any                           `json:"pipeline"`
	Schedule   *string                         `json:"schedule,omitempty"`
}

type variableDeclResponse struct {
	Path     string `json:"path"`
	Optional bool   `json:"optional,omitempty"`
	Coerce   string `json:"coerce,omitempty"`
	Type     string `json:"type"`
}

func toQueryResponse(q *queries.Query) queryResponse {
	vars := make(map[string]variableDeclResponse, len(q.Variables))
	for name, decl := range q.Variables {
		vars[name] = variableDeclResponse{Path: decl.Path, Optional: decl.Optional, Coerce: string(decl.Coerce), Type: string(decl.Type)}
	}
	return queryResponse{
		ID: q.ID.String(), Owner: string(q.Owner), Name: q.Name, Collection: q.Collection.String(),
		Variables: vars, Pipeline: q.Pipeline, Schedule: q.Schedule,
	}
}

// List implements `GET /v1/queries`.
func (h *QueryHandlers) List(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	qs, err := h.queries.ListQueries(r.Context(), did)
	if err != nil {
		Error(w, err)
		return
	}
	out := make([]queryResponse, len(qs))
	for i, q := range qs {
		out[i] = toQueryResponse(q)
	}
	JSON(w, http.StatusOK, out, nil)
}

type createQueryRequest struct {
	Name       string                         `json:"name"`
	Collection string                         `json:"collection"`
	Variables  map[string]variableDeclRequest `json:"variables"`
	Pipeline   []any                          `json:"pipeline"`
	Schedule   *string                        `json:"schedule,omitempty"`
}

// Create implements `POST /v1/queries`, validated at creation.
func (h *QueryHandlers) Create(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req createQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	collectionID, err := uuidFromField(req.Collection, "collection")
	if err != nil {
		Error(w, err)
		return
	}

	variables := make(map[string]queries.VariableDecl, len(req.Variables))
	for name, decl := range req.Variables {
		variables[name] = queries.VariableDecl{Path: decl.Path, Optional: decl.Optional, Coerce: ids.CoerceKind(decl.Coerce)}
	}

	q, err := h.queries.CreateQuery(r.Context(), did, req.Name, collectionID, variables, req.Pipeline, req.Schedule)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, toQueryResponse(q), nil)
}

// Delete implements `DELETE /v1/queries/:id`.
func (h *QueryHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.queries.DeleteQuery(r.Context(), did, id); err != nil {
		Error(w, err)
		return
	}
	NoContent(w)
}

type runResponse struct {
	ID         string           `json:"id"`
	Query      string           `json:"query"`
	Requester  string           `json:"requester"`
	Status     string           `json:"status"`
	StartedAt  string           `json:"started_at"`
	FinishedAt string           `json:"finished_at,omitempty"`
	Result     []map[string]any `json:"result,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
}

func toRunResponse(run *queries.Run) runResponse {
	resp := runResponse{
		ID: run.ID.String(), Query: run.Query.String(), Requester: string(run.Requester),
		Status: string(run.Status), StartedAt: run.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Result: run.Result, Errors: run.Errors,
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

type runQueryRequest struct {
	Query      string         `json:"query"`
	Variables  map[string]any `json:"variables"`
	Background bool           `json:"background,omitempty"`
}

// Run implements `POST /v1/queries/run`, returning the run id immediately
// for background submissions and the completed run otherwise.
func (h *QueryHandlers) Run(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req runQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	queryID, err := uuidFromField(req.Query, "query")
	if err != nil {
		Error(w, err)
		return
	}

	run, err := h.queries.Submit(r.Context(), did, queryID, req.Variables, req.Background)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusAccepted, toRunResponse(run), nil)
}

// GetRun implements `GET /v1/queries/runs/:id` (polling).
func (h *QueryHandlers) GetRun(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	run, err := h.queries.GetRun(r.Context(), did, id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, toRunResponse(run), nil)
}
