package handlers

import (
	"net/http"

	"github.com/nilbase/nildb/internal/access"
	"github.com/nilbase/nildb/internal/catalog"
	"github.com/nilbase/nildb/internal/documents"
	"github.com/nilbase/nildb/internal/ids"
)

// UserHandlers backs spec §6's `/v1/users/*` routes: an end-user's view of
// their own owned-document references and the ACL grant/revoke operations
// a document's own `_owner` performs (C6, C7).
type UserHandlers struct {
	catalog   *catalog.Store
	documents *documents.Engine
}

func NewUserHandlers(store *catalog.Store, engine *documents.Engine) *UserHandlers {
	return &UserHandlers{catalog: store, documents: engine}
}

type userDataRefResponse struct {
	Collection string `json:"collection"`
	Document   string `json:"document"`
}

// MeData implements `GET /v1/users/me/data`.
func (h *UserHandlers) MeData(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	refs, err := h.catalog.ListUserDataRefs(r.Context(), did)
	if err != nil {
		Error(w, err)
		return
	}
	out := make([]userDataRefResponse, len(refs))
	for i, ref := range refs {
		out[i] = userDataRefResponse{Collection: ref.Collection.String(), Document: ref.Document.String()}
	}
	JSON(w, http.StatusOK, out, nil)
}

// GetDocument implements `GET /v1/users/data/:collection/:document`.
func (h *UserHandlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	collectionID, err := pathUUID(r, "collection")
	if err != nil {
		Error(w, err)
		return
	}
	documentID, err := pathUUID(r, "document")
	if err != nil {
		Error(w, err)
		return
	}
	doc, err := h.documents.GetOwnedDocument(r.Context(), did, collectionID, documentID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, doc, nil)
}

// DeleteDocument implements `DELETE /v1/users/data/:collection/:document`.
func (h *UserHandlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	collectionID, err := pathUUID(r, "collection")
	if err != nil {
		Error(w, err)
		return
	}
	documentID, err := pathUUID(r, "document")
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.documents.DeleteOwnedDocument(r.Context(), did, collectionID, documentID); err != nil {
		Error(w, err)
		return
	}
	NoContent(w)
}

type aclGrantRequest struct {
	Collection string `json:"collection"`
	Document   string `json:"document"`
	Grant      struct {
		Grantee string `json:"grantee"`
		Read    bool   `json:"read"`
		Write   bool   `json:"write"`
		Execute bool   `json:"execute"`
	} `json:"grant"`
}

// Grant implements `POST /v1/users/data/acl/grant` — owner-only.
func (h *UserHandlers) Grant(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req aclGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	collectionID, err := uuidFromField(req.Collection, "collection")
	if err != nil {
		Error(w, err)
		return
	}
	documentID, err := uuidFromField(req.Document, "document")
	if err != nil {
		Error(w, err)
		return
	}
	grant := access.Entry{
		Grantee: ids.DID(req.Grant.Grantee), Read: req.Grant.Read, Write: req.Grant.Write, Execute: req.Grant.Execute,
	}
	if err := h.documents.GrantAccess(r.Context(), did, collectionID, documentID, grant); err != nil {
		Error(w, err)
		return
	}
	NoContent(w)
}

type aclRevokeRequest struct {
	Collection string `json:"collection"`
	Document   string `json:"document"`
	Grantee    string `json:"grantee"`
}

// Revoke implements `POST /v1/users/data/acl/revoke` — owner-only.
func (h *UserHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	did, err := callerDID(r)
	if err != nil {
		Error(w, err)
		return
	}
	var req aclRevokeRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	collectionID, err := uuidFromField(req.Collection, "collection")
	if err != nil {
		Error(w, err)
		return
	}
	documentID, err := uuidFromField(req.Document, "document")
	if err != nil {
		Error(w, err)
		return
	}
	if err := h.documents.RevokeAccess(r.Context(), did, collectionID, documentID, ids.DID(req.Grantee)); err != nil {
		Error(w, err)
		return
	}
	NoContent(w)
}
