package access

import (
	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/ids"
)

// Entry is one access-control list entry carried in an owned document's
// "_acl" array.
type Entry struct {
	Grantee ids.DID `json:"grantee"`
	Read    bool    `json:"read"`
	Write   bool    `json:"write"`
	Execute bool    `json:"execute"`
}

// IsAllFalse reports whether none of the three capabilities are granted.
func (e Entry) IsAllFalse() bool {
	return !e.Read && !e.Write && !e.Execute
}

// decodeACL converts a document's raw "_acl" field (decoded JSON: a slice
// of map[string]any) into typed entries.
func decodeACL(raw []any) []Entry {
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Grantee: ids.DID(stringField(m, "grantee")),
			Read:    boolField(m, "read"),
			Write:   boolField(m, "write"),
			Execute: boolField(m, "execute"),
		})
	}
	return entries
}

func encodeACL(entries []Entry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"grantee": string(e.Grantee),
			"read":    e.Read,
			"write":   e.Write,
			"execute": e.Execute,
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Grant applies grant to document's "_acl" list, replacing any existing
// entry for the same grantee in place (spec §4.6: "Granting to a grantee
// that already has an entry replaces that entry in place (no duplicates)").
// Only the document's owner may call this; caller must already be checked
// against document["_owner"] by the invoker.
func Grant(document map[string]any, grant Entry) map[string]any {
	raw, _ := document["_acl"].([]any)
	entries := decodeACL(raw)

	replaced := false
	for i, e := range entries {
		if e.Grantee == grant.Grantee {
			entries[i] = grant
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, grant)
	}

	out := cloneDocument(document)
	out["_acl"] = encodeACL(entries)
	return out
}

// Revoke removes grantee's entry from document's "_acl" list. Revoking the
// collection owner's entry is rejected with AuthenticationError (spec
// §4.6: "The collection owner's ACL entry may never be revoked").
func Revoke(document map[string]any, collectionOwner, grantee ids.DID) (map[string]any, error) {
	if grantee == collectionOwner {
		return nil, apperr.Authentication("the collection owner's access entry cannot be revoked")
	}

	raw, _ := document["_acl"].([]any)
	entries := decodeACL(raw)

	out := entries[:0:0]
	for _, e := range entries {
		if e.Grantee != grantee {
			out = append(out, e)
		}
	}

	doc := cloneDocument(document)
	doc["_acl"] = encodeACL(out)
	return doc, nil
}

// ValidateGrant enforces spec §4.6/§4.7's rule that the owner's entry may
// never be downgraded to all-false on grant, and that a caller's own
// initial access entry (supplied on owned-document creation) must not be
// all-false.
func ValidateGrant(collectionOwner ids.DID, grant Entry) error {
	if grant.IsAllFalse() {
		if grant.Grantee == collectionOwner {
			return apperr.Authentication("the collection owner's access entry cannot be downgraded to all-false")
		}
		return apperr.Authentication("an access entry must grant at least one of read, write, execute")
	}
	return nil
}

func cloneDocument(document map[string]any) map[string]any {
	out := make(map[string]any, len(document))
	for k, v := range document {
		out[k] = v
	}
	return out
}
