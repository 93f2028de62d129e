// Package handlers implements the HTTP surface of spec §6: one handler per
// route, each translating a request into a call on the C5-C8 engines and
// encoding the result (or error) into the response envelopes §6 defines.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nilbase/nildb/internal/apperr"
)

// HandlerFunc is the signature every route in router.go registers.
type HandlerFunc func(http.ResponseWriter, *http.Request)

// Pagination describes a list response's page relative to the full result
// set (spec §6: `{"data": ..., "pagination": {limit, offset, total}}`).
type Pagination struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

// dataEnvelope is spec §6's success shape.
type dataEnvelope struct {
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// JSON writes data (and, for list responses, pagination) wrapped in the
// spec §6 success envelope.
func JSON(w http.ResponseWriter, status int, data any, pagination *Pagination) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dataEnvelope{Data: data, Pagination: pagination})
}

// Created writes a 201 with no body, for creates that mint server-assigned
// identity the caller already supplied (spec §6: "empty-body 201/204 for
// creates/deletes").
func Created(w http.ResponseWriter) {
	w.WriteHeader(http.StatusCreated)
}

// NoContent writes a 204 with no body, for deletes and other mutations spec
// §6 defines as returning nothing.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes spec §6's error envelope ({"errors": [tag, message, ...]})
// for err, classifying it through the C9 tagged taxonomy first. An error
// that isn't already an *apperr.Error is treated as an unclassified
// database-layer failure (internal/authz's writeAuthError instead falls
// back to an authentication failure).
func Error(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Database(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status())
	errs := make([]string, 0, 2+len(appErr.Issues))
	errs = append(errs, string(appErr.Tag), appErr.Message)
	errs = append(errs, appErr.Issues...)
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": errs})
}

// BadRequest writes a DataValidationError envelope for a request the
// handler itself rejected before reaching an engine (e.g. malformed JSON).
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, apperr.DataValidation("%s", message))
}
