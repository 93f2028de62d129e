// Package apperr defines the closed set of tagged errors nildb's public
// operations return (spec §4.9/C9) and the single HTTP status mapping for
// each. Errors are values: every component returns one of these tags,
// wrapping only to attach context, never to hide the original tag.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Tag names one of the closed set of error categories.
type Tag string

const (
	TagDataValidation     Tag = "DataValidationError"
	TagAuthentication     Tag = "AuthenticationError"
	TagResourceAccessDeny Tag = "ResourceAccessDeniedError"
	TagDocumentNotFound   Tag = "DocumentNotFoundError"
	TagCollectionNotFound Tag = "CollectionNotFoundError"
	TagIndexNotFound      Tag = "IndexNotFoundError"
	TagInvalidIndexOpts   Tag = "InvalidIndexOptionsError"
	TagVariableInjection  Tag = "VariableInjectionError"
	TagDatabase           Tag = "DatabaseError"
)

// statusByTag is the uniform HTTP mapping for the taxonomy.
var statusByTag = map[Tag]int{
	TagDataValidation:     http.StatusBadRequest,
	TagAuthentication:     http.StatusUnauthorized,
	TagResourceAccessDeny: http.StatusNotFound,
	TagDocumentNotFound:   http.StatusNotFound,
	TagCollectionNotFound: http.StatusNotFound,
	TagIndexNotFound:      http.StatusNotFound,
	TagInvalidIndexOpts:   http.StatusBadRequest,
	TagVariableInjection:  http.StatusBadRequest,
	TagDatabase:           http.StatusInternalServerError,
}

// Error is a tagged error carrying a human-readable message and, for
// validation failures, a structured list of issues (e.g. "unexpected=k",
// "missing=k").
type Error struct {
	Tag     Tag
	Message string
	Issues  []string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tag, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Status returns the HTTP status code for e's tag.
func (e *Error) Status() int {
	if s, ok := statusByTag[e.Tag]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs a tagged error.
func New(tag Tag, message string) *Error {
	return &Error{Tag: tag, Message: message}
}

// Wrap constructs a tagged error that preserves cause for errors.Unwrap,
// without changing the propagated tag.
func Wrap(tag Tag, message string, cause error) *Error {
	return &Error{Tag: tag, Message: message, Cause: cause}
}

// WithIssues attaches structured issue strings (used by variable
// validation mismatches) and returns e for chaining.
func (e *Error) WithIssues(issues ...string) *Error {
	e.Issues = issues
	return e
}

func DataValidation(format string, args ...any) *Error {
	return New(TagDataValidation, fmt.Sprintf(format, args...))
}

func Authentication(format string, args ...any) *Error {
	return New(TagAuthentication, fmt.Sprintf(format, args...))
}

func ResourceAccessDenied(format string, args ...any) *Error {
	return New(TagResourceAccessDeny, fmt.Sprintf(format, args...))
}

func DocumentNotFound(format string, args ...any) *Error {
	return New(TagDocumentNotFound, fmt.Sprintf(format, args...))
}

func CollectionNotFound(format string, args ...any) *Error {
	return New(TagCollectionNotFound, fmt.Sprintf(format, args...))
}

func IndexNotFound(format string, args ...any) *Error {
	return New(TagIndexNotFound, fmt.Sprintf(format, args...))
}

func InvalidIndexOptions(format string, args ...any) *Error {
	return New(TagInvalidIndexOpts, fmt.Sprintf(format, args...))
}

func VariableInjection(format string, args ...any) *Error {
	return New(TagVariableInjection, fmt.Sprintf(format, args...))
}

func Database(cause error) *Error {
	return Wrap(TagDatabase, "unclassified persistence failure", cause)
}

// As extracts *Error from err, following the standard errors.As contract.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// TagOf returns the tag of err if it is (or wraps) an *Error, or
// TagDatabase otherwise — the closed set's catch-all for unclassified
// failures.
func TagOf(err error) Tag {
	if e, ok := As(err); ok {
		return e.Tag
	}
	return TagDatabase
}
