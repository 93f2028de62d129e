package documents

import (
	"context"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/ids"
)

// GetOwnedDocument returns an owned document's data to its own _owner
// (spec §6 `GET /v1/users/data/:collection/:document`). Unlike Find, this
// bypasses the ACL grantee check entirely: the data subject always sees
// their own record regardless of which other principals it has granted.
func (e *Engine) GetOwnedDocument(ctx context.Context, caller ids.DID, collectionID, documentID uuid.UUID) (map[string]any, error) {
	_, doc, err := e.loadOwnedDocument(ctx, collectionID, documentID)
	if err != nil {
		return nil, err
	}
	if err := requireDocumentOwner(caller, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteOwnedDocument removes an owned document on behalf of its own
// _owner (spec §6 `DELETE /v1/users/data/:collection/:document`), also
// clearing the owner's data-reference entry.
func (e *Engine) DeleteOwnedDocument(ctx context.Context, caller ids.DID, collectionID, documentID uuid.UUID) error {
	_, doc, err := e.loadOwnedDocument(ctx, collectionID, documentID)
	if err != nil {
		return err
	}
	if err := requireDocumentOwner(caller, doc); err != nil {
		return err
	}

	if _, err := e.db.DeleteDocuments(ctx, collectionID.String(), map[string]any{"_id": documentID.String()}); err != nil {
		return database.ToAppErr(err)
	}
	if err := e.catalog.RemoveUserDataRef(ctx, caller, collectionID, documentID); err != nil {
		return err
	}
	return nil
}
