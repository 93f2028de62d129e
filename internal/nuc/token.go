package nuc

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nilbase/nildb/internal/ids"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// BodyKind distinguishes the two shapes a token's body may take.
type BodyKind string

const (
	BodyDelegation BodyKind = "delegation"
	BodyInvocation BodyKind = "invocation"
)

// Body is the delegation- or invocation-specific payload of a token.
// Delegation tokens carry CEL policy predicates (spec §4.3 step 6);
// invocation tokens — the last link of a chain — carry the operation's
// arguments.
type Body struct {
	Kind   BodyKind       `json:"kind"`
	Policy []string       `json:"pol,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// claims is the JWT claim set one token in a chain signs. Audience is a
// single DID, not the list RegisteredClaims models, so the chain-linking
// shape in spec §4.3 is expressed directly rather than through
// jwt.RegisteredClaims.
type claims struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud"`
	Command   string `json:"cmd"`
	Body      Body   `json:"body"`
	Proof     string `json:"prf,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

func (c claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}
func (c claims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c claims) GetIssuer() (string, error)              { return c.Issuer, nil }
func (c claims) GetSubject() (string, error)             { return c.Subject, nil }
func (c claims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}

// Token is one parsed, signature-verified link of a capability chain.
// Chain-level rules (proof linkage, subject agreement, command narrowing,
// revocation) are enforced by Verify, not here.
type Token struct {
	Raw       string
	Issuer    ids.DID
	Subject   ids.DID
	Audience  ids.DID
	Command   Command
	Body      Body
	Proof     string
	ExpiresAt time.Time

	// signature is this token's own JWS signature segment, compared against
	// the next token's Proof during chain verification.
	signature string
}

// ParseToken decodes raw as a compact JWT and verifies its signature under
// the ed25519 public key encoded in its issuer DID.
func ParseToken(raw string) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed compact JWT", ErrInvalidToken)
	}

	var parsedClaims claims
	parsed, err := jwt.ParseWithClaims(raw, &parsedClaims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, ErrInvalidSignature
		}
		issuerDID, err := ids.ParseDID(parsedClaims.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		pub, err := issuerDID.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return pub, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	issuer, err := ids.ParseDID(parsedClaims.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: issuer: %w", ErrInvalidToken, err)
	}
	subject, err := ids.ParseDID(parsedClaims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %w", ErrInvalidToken, err)
	}
	var audience ids.DID
	if parsedClaims.Audience != "" {
		audience, err = ids.ParseDID(parsedClaims.Audience)
		if err != nil {
			return nil, fmt.Errorf("%w: audience: %w", ErrInvalidToken, err)
		}
	}

	return &Token{
		Raw:       raw,
		Issuer:    issuer,
		Subject:   subject,
		Audience:  audience,
		Command:   Command(parsedClaims.Command),
		Body:      parsedClaims.Body,
		Proof:     parsedClaims.Proof,
		ExpiresAt: time.Unix(parsedClaims.ExpiresAt, 0),
		signature: parts[2],
	}, nil
}

// Sign builds and signs a new compact-JWT token link under priv, whose
// public half must match issuer's DID.
func Sign(priv ed25519.PrivateKey, issuer, subject, audience ids.DID, command Command, body Body, proof string, expiresAt time.Time) (string, error) {
	c := claims{
		Issuer:    issuer.String(),
		Subject:   subject.String(),
		Audience:  audience.String(),
		Command:   string(command),
		Body:      body,
		Proof:     proof,
		ExpiresAt: expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	return token.SignedString(priv)
}
