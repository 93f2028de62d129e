package handlers

import (
	"net/http"

	"github.com/nilbase/nildb/internal/catalog"
)

// CollectionHandlers backs spec §6's `/v1/collections*` routes (C5).
type CollectionHandlers struct {
	catalog *catalog.Store
}

func NewCollectionHandlers(store *catalog.Store) *CollectionHandlers {
	return &CollectionHandlers{catalog: store}
}

type indexKeyRequest struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

type indexDescriptorResponse struct {
	Name   string            `json:"name"`
	Keys   []indexKeyRequest `json:"keys"`
	Unique bool              `json:"unique"`
}

type collectionResponse struct {
	ID        string         `json:"id"`
	Owner     string         `json:"owner"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Schema    map[string]any `json:"schema"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

func toCollectionResponse(c *catalog.Collection) collectionResponse {
	return collectionResponse{
		ID: c.ID.String(), Owner: string(c.Owner), Name: c.Name, Type: string(c.Type), Schema: c.Schema,
		CreatedAt: c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

type collectionMetadataResponse struct {
	collectionResponse
	Count        int64                     `json:"count"`
	SizeBytes    int64                     `json:"size_bytes"`
	FirstWriteAt string                    `json:"first_write_at,omitempty"`
	LastWriteAt  string                    `json:"last_write_at,omitempty"`
	Indexes      []indexDescriptorResponse `json:"indexes"`
}

// List implements `GET /v1/collections` — every collection the caller owns.
func (h *CollectionHandlers) List(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	collections, err := h.catalog.ListCollections(r.Context(), did)
	if err != nil {
		Error(w, err)
		return
	}
	out := make([]collectionResponse, len(collections))
	for i, c := range collections {
		out[i] = toCollectionResponse(c)
	}
	JSON(w, http.StatusOK, out, nil)
}

type createCollectionRequest struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Schema map[string]any `json:"schema"`
}

// Create implements `POST /v1/collections`.
func (h *CollectionHandlers) Create(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req createCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	collection, err := h.catalog.CreateCollection(r.Context(), did, req.Name, catalog.CollectionType(req.Type), req.Schema)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, toCollectionResponse(collection), nil)
}

// Get implements `GET /v1/collections/:id`, returning the collection's
// metadata summary (count, size, write timestamps, indexes).
func (h *CollectionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	meta, err := h.catalog.Metadata(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}

	resp := collectionMetadataResponse{
		collectionResponse: toCollectionResponse(&meta.Collection),
		Count:              meta.Count,
		SizeBytes:          meta.SizeBytes,
		Indexes:            make([]indexDescriptorResponse, len(meta.Indexes)),
	}
	if meta.FirstWriteAt != nil {
		resp.FirstWriteAt = meta.FirstWriteAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if meta.LastWriteAt != nil {
		resp.LastWriteAt = meta.LastWriteAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	for i, idx := range meta.Indexes {
		keys := make([]indexKeyRequest, len(idx.Keys))
		for j, k := range idx.Keys {
			keys[j] = indexKeyRequest{Field: k.Field, Desc: k.Desc}
		}
		resp.Indexes[i] = indexDescriptorResponse{Name: idx.Name, Keys: keys, Unique: idx.Unique}
	}
	JSON(w, http.StatusOK, resp, nil)
}

// Delete implements `DELETE /v1/collections/:id`, cascading to its
// documents and index records. Caller must own the collection.
func (h *CollectionHandlers) Delete(w http.ResponseWriter, r *http.Request) {
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
	if err := h.catalog.DeleteCollection(r.Context(), did, id); err != nil {
		Error(w, err)
		return
	}
	NoContent(w)
}

type createIndexRequest struct {
	Name   string            `json:"name"`
	Keys   []indexKeyRequest `json:"keys"`
	Unique bool              `json:"unique,omitempty"`
}

// CreateIndex implements `POST /v1/collections/:id/indexes`.
func (h *CollectionHandlers) CreateIndex(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	var req createIndexRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	keys := make([]catalog.IndexKeySpec, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = catalog.IndexKeySpec{Field: k.Field, Desc: k.Desc}
	}
	if err := h.catalog.CreateIndex(r.Context(), id, req.Name, keys, req.Unique); err != nil {
		Error(w, err)
		return
	}
	Created(w)
}

// DropIndex implements `DELETE /v1/collections/:id/indexes/:name`.
func (h *CollectionHandlers) DropIndex(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		Error(w, err)
		return
	}
	name := r.PathValue("name")
	if err := h.catalog.DropIndex(r.Context(), id, name); err != nil {
		Error(w, err)
		return
	}
	NoContent(w)
}
