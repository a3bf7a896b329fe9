package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token lifetimes. The refresh TTL is the longest default lifetime,
// so it doubles as the default retention for retired keys.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultServiceTokenTTL = time.Hour

	// DefaultLeeway absorbs clock drift between issuing and verifying hosts.
	DefaultLeeway = 30 * time.Second
)

// TokenType distinguishes what a token may be used for.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
	TokenTypeService TokenType = "service"
)

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeAccess, TokenTypeRefresh, TokenTypeService:
		return true
	}
	return false
}

// Claims is the payload every token carries. The subject ("sub") holds the
// username; the stable user id travels in "uid".
//
// Roles and Perms are always encoded, even when empty, so a verified token
// reproduces exactly what was issued.
type Claims struct {
	jwt.RegisteredClaims

	UserID string    `json:"uid"`
	Tenant string    `json:"tenant,omitempty"`
	Roles  []string  `json:"roles"`
	Perms  []string  `json:"perms"`
	Type   TokenType `json:"token_type"`
}

// Username returns the "sub" claim.
func (c Claims) Username() string { return c.Subject }

// JTI returns the token identifier.
func (c Claims) JTI() string { return c.ID }

// ExpiresAtTime returns exp or the zero time.
func (c Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// HasRole is a convenience check on the raw claim values.
func (c Claims) HasRole(role string) bool { return slices.Contains(c.Roles, role) }

// NewJTI returns a fresh random token identifier.
func NewJTI() string {
	return uuid.NewString()
}

// ValidateIssuer checks "iss" against the expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuerMismatch
	}
	return nil
}

// ValidateAudience passes when any expected audience is present in "aud".
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudienceMismatch
}

// ValidateTimes checks exp, iat and nbf against now with the given leeway.
// A token whose exp is not after its iat was issued already expired and is
// rejected regardless of leeway.
func (c *Claims) ValidateTimes(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrMalformed
	}
	exp := c.ExpiresAt.Time

	if c.IssuedAt != nil && !exp.After(c.IssuedAt.Time) {
		return ErrExpired
	}
	if now.After(exp.Add(leeway)) {
		return ErrExpired
	}

	if c.IssuedAt != nil && c.IssuedAt.After(now.Add(leeway)) {
		return ErrNotYetValid
	}
	if c.NotBefore != nil && c.NotBefore.After(now.Add(leeway)) {
		return ErrNotYetValid
	}

	return nil
}
