package jwtx

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignerSource hands out the signer for new tokens. *KeyManager implements it.
type SignerSource interface {
	ActiveSigner() (Signer, error)
}

// retentionBound is implemented by sources that drop retired keys after a
// fixed window. Tokens may not outlive that window.
type retentionBound interface {
	Retention() time.Duration
}

// IssuerOptions configures an Issuer.
type IssuerOptions struct {
	// Issuer is written to "iss".
	Issuer string

	// Audience is the default "aud" when a request names none.
	Audience []string

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Issuer mints signed tokens.
type Issuer struct {
	keys     SignerSource
	issuer   string
	audience []string
	now      func() time.Time
}

// IssueRequest describes one token to mint.
type IssueRequest struct {
	SubjectID   string
	Username    string
	TenantID    string
	Roles       []string
	Permissions []string
	// Audience overrides the issuer default when non-empty.
	Audience []string
	Type     TokenType
	TTL      time.Duration
}

// NewIssuer returns an Issuer signing with keys.
func NewIssuer(keys SignerSource, opts IssuerOptions) (*Issuer, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: signer source is required", ErrInvalidInput)
	}
	if strings.TrimSpace(opts.Issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrInvalidInput)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Issuer{
		keys:     keys,
		issuer:   opts.Issuer,
		audience: slices.Clone(opts.Audience),
		now:      opts.Now,
	}, nil
}

// Issuer returns the configured "iss" value.
func (i *Issuer) Issuer() string { return i.issuer }

// Issue signs a token with the active key and returns it together with the
// claims it carries.
//
// Roles and permissions are deduplicated and sorted. The caller must pass
// non-nil slices; an empty slice is a deliberate "no roles" and is encoded
// as such. A TTL of zero or less yields a token that is already expired.
// A TTL longer than the key source's retention is rejected, since the
// signing key could be pruned before the token expires.
func (i *Issuer) Issue(req IssueRequest) (string, Claims, error) {
	if strings.TrimSpace(req.SubjectID) == "" {
		return "", Claims{}, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Username) == "" {
		return "", Claims{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if req.Roles == nil || req.Permissions == nil {
		return "", Claims{}, fmt.Errorf("%w: roles and permissions must be provided", ErrInvalidInput)
	}
	if !req.Type.Valid() {
		return "", Claims{}, fmt.Errorf("%w: unknown token type %q", ErrInvalidInput, req.Type)
	}
	if rb, ok := i.keys.(retentionBound); ok && req.TTL > rb.Retention() {
		return "", Claims{}, fmt.Errorf("%w: ttl %s exceeds key retention %s", ErrInvalidInput, req.TTL, rb.Retention())
	}

	signer, err := i.keys.ActiveSigner()
	if err != nil {
		return "", Claims{}, err
	}

	aud := req.Audience
	if len(aud) == 0 {
		aud = i.audience
	}

	// NumericDate has second precision; truncate so the returned claims
	// match what a verifier will decode.
	now := i.now().Truncate(time.Second)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   req.Username,
			Audience:  jwt.ClaimStrings(slices.Clone(aud)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL.Truncate(time.Second))),
			ID:        NewJTI(),
		},
		UserID: req.SubjectID,
		Tenant: req.TenantID,
		Roles:  normalize(req.Roles),
		Perms:  normalize(req.Permissions),
		Type:   req.Type,
	}

	token, err := signer.Sign(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("jwtx: sign token: %w", err)
	}
	return token, claims, nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
