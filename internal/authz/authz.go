// Package authz composes the capability-token verifier (internal/nuc) into
// the three-stage request pipeline of spec §4.4: loadToken, loadCaller,
// enforceCommand. Grounded on the teacher's internal/auth/middleware.go
// bearer-extraction-then-context-attachment shape, generalized from a
// single JWT to a verified NUC chain and from a single user lookup to a
// builder-or-user lookup keyed by route family.
package authz

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/nuc"
)

type contextKey int

const (
	chainContextKey contextKey = iota
	callerContextKey
)

// CallerKind distinguishes which principal table a caller resolves
// against; routes under /v1/builders, /v1/collections, /v1/data and
// /v1/queries resolve against builders, routes under /v1/users resolve
// against users.
type CallerKind string

const (
	CallerBuilder CallerKind = "builder"
	CallerUser    CallerKind = "user"
)

// Caller is the principal record attached to the request context once
// loadCaller succeeds.
type Caller struct {
	DID  ids.DID
	Kind CallerKind
	// Record is the builder or user record looked up for this caller,
	// typed as any because internal/authz does not import internal/catalog;
	// the catalog side is reached only through CallerLoader.
	Record any
}

// CallerLoader resolves a verified chain's caller DID into a builder or
// user record. Implemented by internal/catalog.
type CallerLoader interface {
	LoadBuilder(ctx context.Context, did ids.DID) (any, error)
	LoadUser(ctx context.Context, did ids.DID) (any, error)
}

// ChainFromContext returns the verified capability chain attached to ctx by
// loadToken, or nil if none is present.
func ChainFromContext(ctx context.Context) *nuc.VerifiedChain {
	chain, _ := ctx.Value(chainContextKey).(*nuc.VerifiedChain)
	return chain
}

func contextWithChain(ctx context.Context, chain *nuc.VerifiedChain) context.Context {
	return context.WithValue(ctx, chainContextKey, chain)
}

// CallerFromContext returns the caller record attached to ctx by
// loadCaller, or nil if none is present.
func CallerFromContext(ctx context.Context) *Caller {
	caller, _ := ctx.Value(callerContextKey).(*Caller)
	return caller
}

func contextWithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// RequestAttributes builds the map policy predicates (spec §4.3 step 6)
// are evaluated against.
func RequestAttributes(r *http.Request) map[string]any {
	headers := make(map[string]any, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"headers": headers,
		"query":   r.URL.Query(),
	}
}

// LoadToken verifies the bearer token envelope on r against requiredCommand
// and attaches the resulting chain to the request context. A missing or
// invalid envelope fails with AuthenticationError, matching spec §4.3.
func LoadToken(verifier *nuc.Verifier, requiredCommand nuc.Command) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			envelope := extractBearerEnvelope(r)
			if envelope == "" {
				writeAuthError(w, apperr.Authentication("missing bearer token"))
				return
			}

			chain, err := verifier.Verify(r.Context(), envelope, requiredCommand, RequestAttributes(r))
			if err != nil {
				writeAuthError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithChain(r.Context(), chain)))
		})
	}
}

// LoadCaller resolves the verified chain's caller DID into a builder or
// user record, based on kind, and attaches it to the request context.
// A missing record fails with AuthenticationError rather than NotFound, so
// the response never discloses which DIDs are registered (spec §4.4).
func LoadCaller(loader CallerLoader, kind CallerKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chain := ChainFromContext(r.Context())
			if chain == nil {
				writeAuthError(w, apperr.Authentication("no verified capability chain on request"))
				return
			}

			var record any
			var err error
			switch kind {
			case CallerBuilder:
				record, err = loader.LoadBuilder(r.Context(), chain.Caller)
			case CallerUser:
				record, err = loader.LoadUser(r.Context(), chain.Caller)
			default:
				err = apperr.Authentication("unknown caller kind %q", kind)
			}
			if err != nil {
				writeAuthError(w, apperr.Authentication("caller %s not recognized", chain.Caller))
				return
			}

			caller := &Caller{DID: chain.Caller, Kind: kind, Record: record}
			next.ServeHTTP(w, r.WithContext(contextWithCaller(r.Context(), caller)))
		})
	}
}

// EnforceCommand re-checks that the verified chain's effective command
// grants requiredCommand. LoadToken already verifies this against the
// command passed to it; EnforceCommand exists so a single route can be
// wrapped with one required command at token-verification time and a
// second, narrower one at a later middleware stage (e.g. an index route
// shared between read and write handlers).
func EnforceCommand(requiredCommand nuc.Command) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chain := ChainFromContext(r.Context())
			if chain == nil {
				writeAuthError(w, apperr.Authentication("no verified capability chain on request"))
				return
			}
			if !chain.Command.IsPrefixOf(requiredCommand) {
				writeAuthError(w, apperr.Authentication("effective command %q does not grant %q", chain.Command, requiredCommand))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRootAuthority fails the request unless the verified chain's root
// token was issued by rootDID. Spec §6 marks the system log-level and
// maintenance routes "admin delegation": a command namespace alone (e.g.
// `nil/db/system/update`) still lets any builder the root authority
// delegates to exercise it, so these routes additionally pin the chain's
// root issuer to the node's configured root authority, rather than any
// principal it has in turn delegated to.
func RequireRootAuthority(rootDID ids.DID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chain := ChainFromContext(r.Context())
			if chain == nil {
				writeAuthError(w, apperr.Authentication("no verified capability chain on request"))
				return
			}
			if len(chain.Tokens) == 0 || chain.Tokens[0].Issuer != rootDID {
				writeAuthError(w, apperr.Authentication("route requires a chain rooted at the node's root authority"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerEnvelope(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return ""
	}
	return header[len(prefix):]
}

// writeAuthError writes the §6 error envelope ({"errors": [tag, message]})
// for a failure at any of the three authorization stages. All three stages
// fail with AuthenticationError per spec §4.3/§4.4.
func writeAuthError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Authentication(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []string{string(appErr.Tag), appErr.Message},
	})
}
