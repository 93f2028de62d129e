package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/authz"
	"github.com/nilbase/nildb/internal/ids"
)

// defaultLimit and maxLimit bound list responses that don't otherwise cap
// their page size (spec §6 pagination).
const (
	defaultLimit = 100
	maxLimit     = 1000
)

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.DataValidation("decoding request body: %v", err)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.UUID{}, apperr.DataValidation("%s must be a uuid: %v", name, err)
	}
	return id, nil
}

// uuidFromField parses a uuid carried in a decoded request body field,
// named for error reporting.
func uuidFromField(value, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.UUID{}, apperr.DataValidation("%s must be a uuid: %v", field, err)
	}
	return id, nil
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func callerDID(r *http.Request) (ids.DID, error) {
	caller := authz.CallerFromContext(r.Context())
	if caller == nil {
		return "", apperr.Authentication("no verified caller on request")
	}
	return caller.DID, nil
}
