package documents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/access"
	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/catalog"
	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/ids"
)

// GrantAccess applies grant to an owned document's ACL. Only the
// document's own _owner may grant (spec §4.6: "Only a document's _owner
// may grant or revoke"), distinct from the collection's builder.
func (e *Engine) GrantAccess(ctx context.Context, caller ids.DID, collectionID, documentID uuid.UUID, grant access.Entry) error {
	collection, doc, err := e.loadOwnedDocument(ctx, collectionID, documentID)
	if err != nil {
		return err
	}
	if err := requireDocumentOwner(caller, doc); err != nil {
		return err
	}
	if err := access.ValidateGrant(collection.Owner, grant); err != nil {
		return err
	}
	return e.replaceDocument(ctx, collectionID, documentID, access.Grant(doc, grant))
}

// RevokeAccess removes grantee's entry from an owned document's ACL. Only
// the document's own _owner may revoke.
func (e *Engine) RevokeAccess(ctx context.Context, caller ids.DID, collectionID, documentID uuid.UUID, grantee ids.DID) error {
	collection, doc, err := e.loadOwnedDocument(ctx, collectionID, documentID)
	if err != nil {
		return err
	}
	if err := requireDocumentOwner(caller, doc); err != nil {
		return err
	}
	updated, err := access.Revoke(doc, collection.Owner, grantee)
	if err != nil {
		return err
	}
	return e.replaceDocument(ctx, collectionID, documentID, updated)
}

func requireDocumentOwner(caller ids.DID, doc map[string]any) error {
	owner, _ := doc["_owner"].(string)
	if owner == "" || ids.DID(owner) != caller {
		return apperr.ResourceAccessDenied("only the document's owner may grant or revoke access")
	}
	return nil
}

func (e *Engine) loadOwnedDocument(ctx context.Context, collectionID, documentID uuid.UUID) (*catalog.Collection, map[string]any, error) {
	collection, err := e.catalog.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, nil, apperr.ResourceAccessDenied("collection %s is not accessible", collectionID)
	}
	if collection.Type != catalog.CollectionOwned {
		return nil, nil, apperr.DataValidation("collection %s is not an owned collection", collectionID)
	}

	docs, err := e.db.FindDocuments(ctx, collectionID.String(), map[string]any{"_id": documentID.String()}, 0, 1)
	if err != nil {
		return nil, nil, database.ToAppErr(err)
	}
	if len(docs) == 0 {
		return nil, nil, apperr.DocumentNotFound("document %s not found", documentID)
	}
	return collection, docs[0].Data, nil
}

func (e *Engine) replaceDocument(ctx context.Context, collectionID, documentID uuid.UUID, doc map[string]any) error {
	now := database.Now()
	doc["_updated"] = now
	body, err := json.Marshal(doc)
	if err != nil {
		return apperr.Database(err)
	}
	table := database.DocTable(collectionID.String())
	_, err = e.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET doc = ?, updated_at = ? WHERE id = ?`, table),
		string(body), now, documentID.String())
	if err != nil {
		return apperr.Database(err)
	}
	return nil
}
