package handlers

import (
	"net/http"

	"github.com/nilbase/nildb/internal/access"
	"github.com/nilbase/nildb/internal/documents"
	"github.com/nilbase/nildb/internal/ids"
)

// DataHandlers backs spec §6's `/v1/data/*` routes (C7).
type DataHandlers struct {
	documents *documents.Engine
}

func NewDataHandlers(engine *documents.Engine) *DataHandlers {
	return &DataHandlers{documents: engine}
}

type createStandardRequest struct {
	Collection string           `json:"collection"`
	Data       []map[string]any `json:"data"`
}

// CreateStandard implements `POST /v1/data/standard`.
func (h *DataHandlers) CreateStandard(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req createStandardRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	collectionID, err := uuidFromField(req.Collection, "collection")
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.documents.CreateStandard(r.Context(), did, collectionID, req.Data); err != nil {
		Error(w, err)
		return
	}
	Created(w)
}

type aclEntryRequest struct {
	Grantee string `json:"grantee"`
	Read    bool   `json:"read"`
	Write   bool   `json:"write"`
	Execute bool   `json:"execute"`
}

type createOwnedRequest struct {
	Collection string           `json:"collection"`
	Owner      string           `json:"owner"`
	Data       []map[string]any `json:"data"`
	ACL        aclEntryRequest  `json:"acl"`
}

// CreateOwned implements `POST /v1/data/owned`.
func (h *DataHandlers) CreateOwned(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req createOwnedRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	collectionID, err := uuidFromField(req.Collection, "collection")
	if err != nil {
		Error(w, err)
		return
	}
	owner, err := ids.ParseDID(req.Owner)
	if err != nil {
		BadRequest(w, "owner must be a did: "+err.Error())
		return
	}
	acl := access.Entry{Grantee: ids.DID(req.ACL.Grantee), Read: req.ACL.Read, Write: req.ACL.Write, Execute: req.ACL.Execute}

	if err := h.documents.CreateOwned(r.Context(), did, collectionID, owner, req.Data, acl); err != nil {
		Error(w, err)
		return
	}
	Created(w)
}

type findRequest struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter"`
}

// Find implements `POST /v1/data/find`.
func (h *DataHandlers) Find(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req findRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	collectionID, err := uuidFromField(req.Collection, "collection")
	if err != nil {
		Error(w, err)
		return
	}
	limit, offset := parsePagination(r)

	result, err := h.documents.Find(r.Context(), did, collectionID, req.Filter, offset, limit)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, result.Documents, &Pagination{Limit: limit, Offset: offset, Total: result.Total})
}

type updateRequest struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter"`
	Update     map[string]any `json:"update"`
}

// Update implements `POST /v1/data/update`.
func (h *DataHandlers) Update(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	collectionID, err := uuidFromField(req.Collection, "collection")
	if err != nil {
		Error(w, err)
		return
	}
	n, err := h.documents.Update(r.Context(), did, collectionID, req.Filter, req.Update)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"matched": n}, nil)
}

type deleteRequest struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter"`
	Many       bool           `json:"many,omitempty"`
}

// Delete implements `POST /v1/data/delete`.
func (h *DataHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	collectionID, err := uuidFromField(req.Collection, "collection")
	if err != nil {
		Error(w, err)
		return
	}

	var n int64
	if req.Many {
		n, err = h.documents.DeleteMany(r.Context(), did, collectionID, req.Filter)
	} else {
		n, err = h.documents.Delete(r.Context(), did, collectionID, req.Filter)
	}
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"deleted": n}, nil)
}

// Flush implements `DELETE /v1/data/:id/flush`.
func (h *DataHandlers) Flush(w http.ResponseWriter, r *http.Request) {
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
	n, err := h.documents.Flush(r.Context(), did, id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"deleted": n}, nil)
}

// Tail implements `GET /v1/data/:id/tail?limit=`.
func (h *DataHandlers) Tail(w http.ResponseWriter, r *http.Request) {
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
	limit := parseLimit(r, 0, 1000)

	docs, err := h.documents.Tail(r.Context(), did, id, limit)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, docs, nil)
}
