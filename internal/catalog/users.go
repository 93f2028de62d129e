package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/ids"
)

// EnsureUser creates a user row for did if one does not already exist
// (spec §4.7 Create-owned: "If the user record does not exist it is
// created").
func (s *Store) EnsureUser(ctx context.Context, did ids.DID) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`,
		string(did), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.Database(err)
	}
	return nil
}

// AddUserDataRef records that documentID in collectionID is owned by did
// (spec §4.2's "User data reference"), creating the user row first if
// needed.
func (s *Store) AddUserDataRef(ctx context.Context, did ids.DID, collectionID, documentID uuid.UUID) error {
	if err := s.EnsureUser(ctx, did); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_data_refs (user, collection, document) VALUES (?, ?, ?)`,
		string(did), collectionID.String(), documentID.String())
	if err != nil {
		return apperr.Database(err)
	}
	return nil
}

// RemoveUserDataRef deletes did's reference to documentID in collectionID,
// then deletes the user row entirely once no references remain (spec §4.2:
// "deleting the last owned document for that user deletes the user
// record").
func (s *Store) RemoveUserDataRef(ctx context.Context, did ids.DID, collectionID, documentID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM user_data_refs WHERE user = ? AND collection = ? AND document = ?`,
		string(did), collectionID.String(), documentID.String()); err != nil {
		return apperr.Database(err)
	}

	var remaining int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_data_refs WHERE user = ?`, string(did))
	if err := row.Scan(&remaining); err != nil {
		return apperr.Database(err)
	}
	if remaining == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, string(did)); err != nil {
			return apperr.Database(err)
		}
	}
	return nil
}

// UserDataRefCount reports how many owned-document references did
// currently has, used by tests and collection-metadata-style reporting.
func (s *Store) UserDataRefCount(ctx context.Context, did ids.DID) (int64, error) {
	var count int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_data_refs WHERE user = ?`, string(did))
	if err := row.Scan(&count); err != nil {
		return 0, apperr.Database(err)
	}
	return count, nil
}

// UserDataRef names one owned document a user has a reference to.
type UserDataRef struct {
	Collection uuid.UUID
	Document   uuid.UUID
}

// ListUserDataRefs returns every owned-document reference did currently
// holds, backing `GET /v1/users/me/data`.
func (s *Store) ListUserDataRefs(ctx context.Context, did ids.DID) ([]UserDataRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT collection, document FROM user_data_refs WHERE user = ?`, string(did))
	if err != nil {
		return nil, apperr.Database(err)
	}
	defer rows.Close()

	var refs []UserDataRef
	for rows.Next() {
		var collectionStr, documentStr string
		if err := rows.Scan(&collectionStr, &documentStr); err != nil {
			return nil, apperr.Database(err)
		}
		collectionID, err := uuid.Parse(collectionStr)
		if err != nil {
			return nil, apperr.Database(err)
		}
		documentID, err := uuid.Parse(documentStr)
		if err != nil {
			return nil, apperr.Database(err)
		}
		refs = append(refs, UserDataRef{Collection: collectionID, Document: documentID})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database(err)
	}
	return refs, nil
}
