// Package access implements the access-control resolver (C6, spec §4.6):
// turning a (caller, collection, action, userFilter) request into the
// filter actually executed against a collection's documents, and the
// grant/revoke rules governing an owned document's ACL.
package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/catalog"
	"github.com/nilbase/nildb/internal/ids"
)

// Action is one of the three capabilities an ACL entry grants.
type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionExecute Action = "execute"
)

// CollectionLoader is the narrow view of internal/catalog.Store this
// package depends on.
type CollectionLoader interface {
	GetCollection(ctx context.Context, id uuid.UUID) (*catalog.Collection, error)
}

// ResolveFilter implements spec §4.6's three-step resolution:
//  1. Load the collection; a missing collection fails with
//     ResourceAccessDeniedError rather than CollectionNotFoundError, so a
//     non-owner's probe of an unknown ID is indistinguishable from a probe
//     of one they can't see.
//  2. For a standard collection, only its owner may act; userFilter passes
//     through unchanged.
//  3. For an owned collection, build the ACL predicate
//     {_acl: {$elemMatch: {grantee: caller, <action>: true}}} and AND it
//     with userFilter when userFilter is non-empty.
func ResolveFilter(ctx context.Context, loader CollectionLoader, caller ids.DID, collectionID uuid.UUID, action Action, userFilter map[string]any) (map[string]any, error) {
	collection, err := loader.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, apperr.ResourceAccessDenied("collection %s is not accessible", collectionID)
	}

	switch collection.Type {
	case catalog.CollectionStandard:
		if caller != collection.Owner {
			return nil, apperr.ResourceAccessDenied("caller does not own collection %s", collectionID)
		}
		return userFilter, nil

	case catalog.CollectionOwned:
		aclPredicate := map[string]any{
			"_acl": map[string]any{
				"$elemMatch": map[string]any{
					"grantee":      string(caller),
					string(action): true,
				},
			},
		}
		if len(userFilter) == 0 {
			return aclPredicate, nil
		}
		return map[string]any{"$and": []any{userFilter, aclPredicate}}, nil

	default:
		return nil, apperr.Database(&unknownCollectionTypeError{typ: collection.Type})
	}
}

type unknownCollectionTypeError struct {
	typ catalog.CollectionType
}

func (e *unknownCollectionTypeError) Error() string {
	return "unknown collection type: " + string(e.typ)
}
