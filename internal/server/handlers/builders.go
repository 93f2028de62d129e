package handlers

import (
	"net/http"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/authz"
	"github.com/nilbase/nildb/internal/catalog"
	"github.com/nilbase/nildb/internal/ids"
)

// BuilderHandlers backs spec §6's `/v1/builders/*` routes (C5).
type BuilderHandlers struct {
	catalog *catalog.Store
}

func NewBuilderHandlers(store *catalog.Store) *BuilderHandlers {
	return &BuilderHandlers{catalog: store}
}

type registerBuilderRequest struct {
	DID  string `json:"did"`
	Name string `json:"name"`
}

type builderResponse struct {
	DID         string `json:"did"`
	Name        string `json:"name"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Collections int    `json:"collections"`
}

func toBuilderResponse(b *catalog.Builder) builderResponse {
	return builderResponse{
		DID:         string(b.ID),
		Name:        b.Name,
		CreatedAt:   b.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   b.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Collections: len(b.Collections),
	}
}

// Register implements `POST /v1/builders/register` — no bearer token: the
// caller supplies the DID it wishes to register under directly.
func (h *BuilderHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerBuilderRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	did, err := ids.ParseDID(req.DID)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	builder, err := h.catalog.RegisterBuilder(r.Context(), did, req.Name)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, toBuilderResponse(builder), nil)
}

// Me implements `GET /v1/builders/me`.
func (h *BuilderHandlers) Me(w http.ResponseWriter, r *http.Request) {
	caller := authz.CallerFromContext(r.Context())
	if caller == nil {
		Error(w, apperr.Authentication("no verified caller on request"))
		return
	}
	builder, ok := caller.Record.(*catalog.Builder)
	if !ok {
		Error(w, apperr.New(apperr.TagDatabase, "caller record is not a builder"))
		return
	}
	JSON(w, http.StatusOK, toBuilderResponse(builder), nil)
}

type updateBuilderRequest struct {
	Name string `json:"name"`
}

// UpdateMe implements `POST /v1/builders/me` — update the caller's name.
func (h *BuilderHandlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req updateBuilderRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	builder, err := h.catalog.UpdateBuilderName(r.Context(), did, req.Name)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, toBuilderResponse(builder), nil)
}

// DeleteMe implements `DELETE /v1/builders/me`, cascading to every
// collection the caller owns.
func (h *BuilderHandlers) DeleteMe(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.catalog.DeleteBuilder(r.Context(), did); err != nil {
		Error(w, err)
		return
	}
	NoContent(w)
}
