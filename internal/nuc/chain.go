package nuc

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/nilbase/nildb/internal/apperr"
	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/metrics"
	"github.com/nilbase/nildb/internal/policy"
)

// envelopeSeparator joins the individual compact JWTs of a chain into the
// single string presented in the Authorization header, root first,
// invocation last.
const envelopeSeparator = "/"

// VerifiedChain is the result of a successful Verify: the caller identity
// and effective command a request is authorized to exercise.
type VerifiedChain struct {
	Caller     ids.DID
	Command    Command
	Invocation Body
	Tokens     []*Token
}

// Verifier checks a presented token envelope against spec §4.3's seven
// ordered steps.
type Verifier struct {
	nodeDID    ids.DID
	policy     *policy.Evaluator
	revocation *RevocationCache
}

// NewVerifier builds a Verifier for a node identified by nodeDID, evaluating
// delegation policy predicates with policyEval and consulting revocations
// wraps a short-TTL cache over the durable journal.
func NewVerifier(nodeDID ids.DID, policyEval *policy.Evaluator, revocation *RevocationCache) *Verifier {
	return &Verifier{nodeDID: nodeDID, policy: policyEval, revocation: revocation}
}

// SplitEnvelope decodes a presented Authorization value into its ordered
// compact-JWT links, root first.
func SplitEnvelope(raw string) []string {
	parts := strings.Split(raw, envelopeSeparator)
	links := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			links = append(links, p)
		}
	}
	return links
}

// JoinEnvelope is the inverse of SplitEnvelope, used by issuance flows and
// tests to assemble a presentable envelope string.
func JoinEnvelope(links []string) string {
	return strings.Join(links, envelopeSeparator)
}

// Verify validates a presented token envelope against requiredCommand and
// request, the attribute map policy predicates are evaluated against.
// Any failure returns an apperr.TagAuthentication error, per spec §4.3.
func (v *Verifier) Verify(ctx context.Context, envelope string, requiredCommand Command, request map[string]any) (chain *VerifiedChain, err error) {
	defer func() {
		if err != nil {
			metrics.RecordTokenVerification(string(apperr.TagOf(err)))
			return
		}
		metrics.RecordTokenVerification("ok")
	}()

	links := SplitEnvelope(envelope)
	if len(links) == 0 {
		return nil, apperr.Authentication("empty token envelope")
	}

	tokens := make([]*Token, len(links))
	for i, link := range links {
		token, err := ParseToken(link)
		if err != nil {
			return nil, apperr.Authentication("token %d: %v", i, err)
		}
		tokens[i] = token
	}

	// Step 1: chain linkage — each link's proof is the previous link's
	// signature, and issuer[n+1] == audience[n].
	for i := 1; i < len(tokens); i++ {
		prev, cur := tokens[i-1], tokens[i]
		if subtle.ConstantTimeCompare([]byte(cur.Proof), []byte(prev.signature)) != 1 {
			return nil, apperr.Authentication("token %d: proof does not match token %d's signature", i, i-1)
		}
		if cur.Issuer != prev.Audience {
			return nil, apperr.Authentication("token %d: issuer does not match token %d's audience", i, i-1)
		}
	}

	last := tokens[len(tokens)-1]

	// Step 2: subject agreement — every link shares one subject, and that
	// subject must equal the authenticated caller's DID, derived from the
	// signing key of the final token (i.e. its issuer).
	for i, t := range tokens {
		if t.Subject != last.Subject {
			return nil, apperr.Authentication("token %d: subject does not match chain subject", i)
		}
	}
	if last.Subject != last.Issuer {
		return nil, apperr.Authentication("final token subject %s does not match caller %s", last.Subject, last.Issuer)
	}
	caller := last.Issuer

	// Step 3: audience — the final token's audience must be this node.
	if last.Audience != v.nodeDID {
		return nil, apperr.Authentication("final token audience %s does not match node %s", last.Audience, v.nodeDID)
	}

	// Step 4: expiration.
	now := time.Now()
	for i, t := range tokens {
		if !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt) {
			return nil, apperr.Authentication("token %d: expired", i)
		}
	}

	// Step 5: command namespace narrowing.
	commands := make([]Command, len(tokens))
	for i, t := range tokens {
		commands[i] = t.Command
	}
	effective, ok := EffectiveCommand(commands)
	if !ok {
		return nil, apperr.Authentication("chain commands are mutually incompatible")
	}
	if !effective.IsPrefixOf(requiredCommand) {
		return nil, apperr.Authentication("effective command %q does not grant %q", effective, requiredCommand)
	}

	// Step 6: policy predicates attached by any delegation link.
	var predicates []string
	for _, t := range tokens {
		if t.Body.Kind == BodyDelegation {
			predicates = append(predicates, t.Body.Policy...)
		}
	}
	if v.policy != nil && len(predicates) > 0 {
		if err := v.policy.EvalAll(predicates, request); err != nil {
			return nil, apperr.Authentication("policy predicate rejected: %v", err)
		}
	}

	// Step 7: revocation — the chain's root token must not be revoked.
	root := tokens[0]
	if v.revocation != nil {
		revoked, err := v.revocation.IsRevoked(ctx, root.signature)
		if err != nil {
			return nil, apperr.Authentication("checking revocation: %v", err)
		}
		if revoked {
			return nil, apperr.Authentication("root token has been revoked")
		}
	}

	return &VerifiedChain{
		Caller:     caller,
		Command:    effective,
		Invocation: last.Body,
		Tokens:     tokens,
	}, nil
}
