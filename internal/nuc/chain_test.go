package nuc

import (
	"context"
	"crypto/ed25519"
	"strings"
	"testing"
	"time"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/policy"
)

type fakeJournal struct {
	revoked map[string]bool
}

func (f fakeJournal) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	return f.revoked[tokenID], nil
}

func mustDID(t *testing.T) (ids.DID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return ids.NewDID(pub), priv
}

func signLink(t *testing.T, priv ed25519.PrivateKey, issuer, subject, audience ids.DID, cmd Command, body Body, proof string, exp time.Time) string {
	t.Helper()
	raw, err := Sign(priv, issuer, subject, audience, cmd, body, proof, exp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func signature(t *testing.T, raw string) string {
	t.Helper()
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatalf("malformed jwt: %q", raw)
	}
	return parts[2]
}

func TestTokenRoundTrip(t *testing.T) {
	issuer, priv := mustDID(t)
	subject := issuer
	audience, _ := mustDID(t)

	raw := signLink(t, priv, issuer, subject, audience, Command("nil/db/data/read"), Body{Kind: BodyInvocation}, "", time.Now().Add(time.Hour))

	token, err := ParseToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if token.Issuer != issuer || token.Subject != subject || token.Audience != audience {
		t.Fatalf("round-tripped identities do not match: %+v", token)
	}
	if token.Command != "nil/db/data/read" {
		t.Fatalf("unexpected command: %q", token.Command)
	}
}

func TestParseTokenRejectsMalformedEnvelope(t *testing.T) {
	if _, err := ParseToken("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestVerifySingleLinkInvocation(t *testing.T) {
	callerDID, callerPriv := mustDID(t)
	nodeDID, _ := mustDID(t)

	raw := signLink(t, callerPriv, callerDID, callerDID, nodeDID, Command("nil/db/data/read"), Body{Kind: BodyInvocation}, "", time.Now().Add(time.Hour))

	policyEval, err := policy.NewEvaluator()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	revocation := NewRevocationCache(fakeJournal{revoked: map[string]bool{}}, time.Minute)
	defer revocation.Stop()

	v := NewVerifier(nodeDID, policyEval, revocation)
	chain, err := v.Verify(context.Background(), raw, Command("nil/db/data/read"), nil)
	if err != nil {
		t.Fatalf("expected valid chain, got: %v", err)
	}
	if chain.Caller != callerDID {
		t.Fatalf("unexpected caller: %s", chain.Caller)
	}
}

func TestVerifyChainOfTwoLinks(t *testing.T) {
	rootDID, rootPriv := mustDID(t)
	callerDID, callerPriv := mustDID(t)
	nodeDID, _ := mustDID(t)

	exp := time.Now().Add(time.Hour)
	rootRaw := signLink(t, rootPriv, rootDID, callerDID, callerDID, Command("nil/db/data"), Body{Kind: BodyDelegation}, "", exp)
	invRaw := signLink(t, callerPriv, callerDID, callerDID, nodeDID, Command("nil/db/data/read"), Body{Kind: BodyInvocation}, signature(t, rootRaw), exp)

	envelope := JoinEnvelope([]string{rootRaw, invRaw})

	policyEval, err := policy.NewEvaluator()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	revocation := NewRevocationCache(fakeJournal{revoked: map[string]bool{}}, time.Minute)
	defer revocation.Stop()

	v := NewVerifier(nodeDID, policyEval, revocation)
	chain, err := v.Verify(context.Background(), envelope, Command("nil/db/data/read"), nil)
	if err != nil {
		t.Fatalf("expected valid chain, got: %v", err)
	}
	if chain.Caller != callerDID {
		t.Fatalf("expected caller to be the final token's issuer %s, got %s", callerDID, chain.Caller)
	}
	if chain.Command != "nil/db/data/read" {
		t.Fatalf("unexpected effective command: %s", chain.Command)
	}
}

func TestVerifyRejectsBrokenProofLinkage(t *testing.T) {
	rootDID, rootPriv := mustDID(t)
	callerDID, callerPriv := mustDID(t)
	nodeDID, _ := mustDID(t)

	exp := time.Now().Add(time.Hour)
	rootRaw := signLink(t, rootPriv, rootDID, callerDID, callerDID, Command("nil/db/data"), Body{Kind: BodyDelegation}, "", exp)
	invRaw := signLink(t, callerPriv, callerDID, callerDID, nodeDID, Command("nil/db/data/read"), Body{Kind: BodyInvocation}, "wrong-proof", exp)

	envelope := JoinEnvelope([]string{rootRaw, invRaw})

	policyEval, _ := policy.NewEvaluator()
	revocation := NewRevocationCache(fakeJournal{revoked: map[string]bool{}}, time.Minute)
	defer revocation.Stop()

	v := NewVerifier(nodeDID, policyEval, revocation)
	_, err := v.Verify(context.Background(), envelope, Command("nil/db/data/read"), nil)
	if err == nil {
		t.Fatal("expected proof-linkage failure")
	}
	if apperr.TagOf(err) != apperr.TagAuthentication {
		t.Fatalf("expected AuthenticationError tag, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	callerDID, callerPriv := mustDID(t)
	nodeDID, _ := mustDID(t)

	raw := signLink(t, callerPriv, callerDID, callerDID, nodeDID, Command("nil/db/data/read"), Body{Kind: BodyInvocation}, "", time.Now().Add(-time.Hour))

	policyEval, _ := policy.NewEvaluator()
	revocation := NewRevocationCache(fakeJournal{revoked: map[string]bool{}}, time.Minute)
	defer revocation.Stop()

	v := NewVerifier(nodeDID, policyEval, revocation)
	_, err := v.Verify(context.Background(), raw, Command("nil/db/data/read"), nil)
	if err == nil {
		t.Fatal("expected expired-token rejection")
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	callerDID, callerPriv := mustDID(t)
	nodeDID, _ := mustDID(t)
	otherNodeDID, _ := mustDID(t)

	raw := signLink(t, callerPriv, callerDID, callerDID, otherNodeDID, Command("nil/db/data/read"), Body{Kind: BodyInvocation}, "", time.Now().Add(time.Hour))

	policyEval, _ := policy.NewEvaluator()
	revocation := NewRevocationCache(fakeJournal{revoked: map[string]bool{}}, time.Minute)
	defer revocation.Stop()

	v := NewVerifier(nodeDID, policyEval, revocation)
	_, err := v.Verify(context.Background(), raw, Command("nil/db/data/read"), nil)
	if err == nil {
		t.Fatal("expected audience mismatch rejection")
	}
}

func TestVerifyRejectsWidenedCommand(t *testing.T) {
	callerDID, callerPriv := mustDID(t)
	nodeDID, _ := mustDID(t)

	raw := signLink(t, callerPriv, callerDID, callerDID, nodeDID, Command("nil/db/data/read"), Body{Kind: BodyInvocation}, "", time.Now().Add(time.Hour))

	policyEval, _ := policy.NewEvaluator()
	revocation := NewRevocationCache(fakeJournal{revoked: map[string]bool{}}, time.Minute)
	defer revocation.Stop()

	v := NewVerifier(nodeDID, policyEval, revocation)
	_, err := v.Verify(context.Background(), raw, Command("nil/db/data"), nil)
	if err == nil {
		t.Fatal("expected rejection: route requires broader command than the token grants")
	}
}

func TestVerifyRejectsRevokedRoot(t *testing.T) {
	callerDID, callerPriv := mustDID(t)
	nodeDID, _ := mustDID(t)

	raw := signLink(t, callerPriv, callerDID, callerDID, nodeDID, Command("nil/db/data/read"), Body{Kind: BodyInvocation}, "", time.Now().Add(time.Hour))
	rootSig := signature(t, raw)

	policyEval, _ := policy.NewEvaluator()
	revocation := NewRevocationCache(fakeJournal{revoked: map[string]bool{rootSig: true}}, time.Minute)
	defer revocation.Stop()

	v := NewVerifier(nodeDID, policyEval, revocation)
	_, err := v.Verify(context.Background(), raw, Command("nil/db/data/read"), nil)
	if err == nil {
		t.Fatal("expected revoked-root rejection")
	}
}

func TestVerifyEnforcesPolicyPredicate(t *testing.T) {
	rootDID, rootPriv := mustDID(t)
	callerDID, callerPriv := mustDID(t)
	nodeDID, _ := mustDID(t)

	exp := time.Now().Add(time.Hour)
	rootRaw := signLink(t, rootPriv, rootDID, callerDID, callerDID, Command("nil/db/data"),
		Body{Kind: BodyDelegation, Policy: []string{`request.headers.origin == "good.com"`}}, "", exp)
	invRaw := signLink(t, callerPriv, callerDID, callerDID, nodeDID, Command("nil/db/data/read"), Body{Kind: BodyInvocation}, signature(t, rootRaw), exp)

	envelope := JoinEnvelope([]string{rootRaw, invRaw})

	policyEval, _ := policy.NewEvaluator()
	revocation := NewRevocationCache(fakeJournal{revoked: map[string]bool{}}, time.Minute)
	defer revocation.Stop()
	v := NewVerifier(nodeDID, policyEval, revocation)

	badRequest := map[string]any{"headers": map[string]any{"origin": "bad.com"}}
	if _, err := v.Verify(context.Background(), envelope, Command("nil/db/data/read"), badRequest); err == nil {
		t.Fatal("expected policy predicate rejection")
	}

	goodRequest := map[string]any{"headers": map[string]any{"origin": "good.com"}}
	if _, err := v.Verify(context.Background(), envelope, Command("nil/db/data/read"), goodRequest); err != nil {
		t.Fatalf("expected policy predicate to hold: %v", err)
	}
}
