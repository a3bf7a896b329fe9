package jwtx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySource resolves verification material by kid. *KeyManager implements
// it, and so does authsdk.RemoteKeySet for services that only hold the JWKS.
type KeySource interface {
	VerificationKey(kid string) (VerificationKey, error)
}

// RevocationChecker answers whether a jti has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	// Issuer the token must carry. Empty disables the check.
	Issuer string

	// Audience values accepted; a token passes when any of its "aud" values
	// is listed. Empty disables the check.
	Audience []string

	// Leeway tolerates clock skew on exp, iat and nbf. Defaults to
	// DefaultLeeway; use a negative value for none.
	Leeway time.Duration

	// Revocations is consulted on every verification when set.
	Revocations RevocationChecker

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Verifier validates tokens and returns their claims.
//
// Checks run in a fixed order and stop at the first failure: header and kid,
// key lookup, signature, claim decoding, issuer, audience, timing,
// revocation. The payload is not decoded until the key is known.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience []string
	leeway   time.Duration
	revoked  RevocationChecker
	now      func() time.Time
	parser   *jwt.Parser
}

// NewVerifier returns a Verifier resolving keys through keys.
func NewVerifier(keys KeySource, opts VerifierOptions) (*Verifier, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: key source is required", ErrInvalidInput)
	}
	switch {
	case opts.Leeway == 0:
		opts.Leeway = DefaultLeeway
	case opts.Leeway < 0:
		opts.Leeway = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Verifier{
		keys:     keys,
		issuer:   opts.Issuer,
		audience: slices.Clone(opts.Audience),
		leeway:   opts.Leeway,
		revoked:  opts.Revocations,
		now:      opts.Now,
		// Time-based claims are checked by ValidateTimes against the
		// injected clock, after issuer and audience.
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}, nil
}

// Leeway returns the clock-skew tolerance applied to time claims.
func (v *Verifier) Leeway() time.Duration { return v.leeway }

// RevokeUntil is the last instant at which claims could still verify, and
// so how long a revocation of them must be kept.
func (v *Verifier) RevokeUntil(claims Claims) time.Time {
	return claims.ExpiresAtTime().Add(v.leeway)
}

// Verify parses token and returns its claims, or one of the rejection
// sentinels (ErrMalformed, ErrKeyNotFound, ErrSignatureInvalid,
// ErrIssuerMismatch, ErrAudienceMismatch, ErrExpired, ErrNotYetValid,
// ErrRevoked). A failing revocation lookup is returned wrapped and rejects
// the token.
func (v *Verifier) Verify(ctx context.Context, token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMalformed
	}

	vk, err := v.resolveKey(token)
	if err != nil {
		return Claims{}, err
	}

	var claims Claims
	_, err = v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		// The key decides the algorithm, never the token header.
		if t.Method == nil || t.Method.Alg() != vk.Algorithm {
			return nil, fmt.Errorf("%w: algorithm %v does not match key %s", ErrSignatureInvalid, t.Header["alg"], vk.KID)
		}
		return vk.Key, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	if claims.ID == "" || claims.UserID == "" || !claims.Type.Valid() {
		return Claims{}, fmt.Errorf("%w: missing required claims", ErrMalformed)
	}
	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(v.audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateTimes(v.now(), v.leeway); err != nil {
		return Claims{}, err
	}

	if v.revoked != nil {
		revoked, err := v.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("jwtx: revocation lookup: %w", err)
		}
		if revoked {
			return Claims{}, ErrRevoked
		}
	}

	if claims.Roles == nil {
		claims.Roles = []string{}
	}
	if claims.Perms == nil {
		claims.Perms = []string{}
	}
	return claims, nil
}

type header struct {
	Kid string `json:"kid"`
}

// resolveKey reads only the header segment and looks up its kid.
func (v *Verifier) resolveKey(token string) (VerificationKey, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return VerificationKey{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}
	raw, err := v.parser.DecodeSegment(parts[0])
	if err != nil {
		return VerificationKey{}, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return VerificationKey{}, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if h.Kid == "" {
		return VerificationKey{}, fmt.Errorf("%w: missing kid header", ErrMalformed)
	}
	return v.keys.VerificationKey(h.Kid)
}

// classify maps parser errors onto the package sentinels. Errors returned
// from keyFunc are wrapped by the parser and still match with errors.Is.
func classify(err error) error {
	for _, sentinel := range []error{ErrMalformed, ErrKeyNotFound, ErrSignatureInvalid} {
		if errors.Is(err, sentinel) {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
	}
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
