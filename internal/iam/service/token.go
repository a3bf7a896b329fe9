package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/obs"
	"github.com/qhomebase/iam/pkg/revocation"
	"github.com/qhomebase/iam/pkg/slogx"
)

// TokenService mints, refreshes and revokes tokens. User tokens carry the
// roles and permissions resolved at issuance.
type TokenService struct {
	Issuer      *jwtx.Issuer
	Verifier    *jwtx.Verifier
	Revocations revocation.Registry
	Permissions *PermissionResolver

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ServiceTTL time.Duration
}

// UserTokenRequest names a user who has already authenticated out of band.
type UserTokenRequest struct {
	UserID   string
	Username string
	TenantID string
	Audience []string
}

// ServiceTokenRequest describes a token for a trusted service. Its roles
// and permissions are taken as given.
type ServiceTokenRequest struct {
	ServiceID   string
	Name        string
	TenantID    string
	Roles       []string
	Permissions []string
	Audience    []string
	// TTL overrides ServiceTTL when positive.
	TTL time.Duration
}

// IssueForUser returns an access and refresh token for the user in the
// tenant.
func (s *TokenService) IssueForUser(ctx context.Context, req UserTokenRequest) (domain.TokenPair, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Username) == "" {
		return domain.TokenPair{}, fmt.Errorf("%w: user id and username are required", ErrInvalidRequest)
	}

	roles, perms := []string{}, []string{}
	if req.TenantID != "" {
		rs, err := s.Permissions.Roles(ctx, req.UserID, req.TenantID)
		if err != nil {
			return domain.TokenPair{}, err
		}
		ps, err := s.Permissions.EffectivePermissions(ctx, req.UserID, req.TenantID)
		if err != nil {
			return domain.TokenPair{}, err
		}
		roles = authz.NewRoleSet(rs...).Strings()
		perms = ps.Strings()
	}

	access, accessClaims, err := s.Issuer.Issue(jwtx.IssueRequest{
		SubjectID:   req.UserID,
		Username:    req.Username,
		TenantID:    req.TenantID,
		Roles:       roles,
		Permissions: perms,
		Audience:    req.Audience,
		Type:        jwtx.TokenTypeAccess,
		TTL:         s.accessTTL(),
	})
	if err != nil {
		return domain.TokenPair{}, mapIssueErr(err)
	}

	// The refresh token only identifies the session; permissions are
	// resolved again when it is used.
	refresh, _, err := s.Issuer.Issue(jwtx.IssueRequest{
		SubjectID:   req.UserID,
		Username:    req.Username,
		TenantID:    req.TenantID,
		Roles:       []string{},
		Permissions: []string{},
		Audience:    req.Audience,
		Type:        jwtx.TokenTypeRefresh,
		TTL:         s.refreshTTL(),
	})
	if err != nil {
		return domain.TokenPair{}, mapIssueErr(err)
	}

	obs.TokenIssued(string(jwtx.TokenTypeAccess))
	obs.TokenIssued(string(jwtx.TokenTypeRefresh))
	slogx.FromContext(ctx).Info("tokens issued",
		"user_id", req.UserID, "tenant_id", req.TenantID, "jti", accessClaims.ID, "perms", len(perms),
	)

	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessTTL().Seconds()),
		RefreshExpiresIn: int64(s.refreshTTL().Seconds()),
	}, nil
}

// IssueServiceToken mints a service token.
func (s *TokenService) IssueServiceToken(ctx context.Context, req ServiceTokenRequest) (string, jwtx.Claims, error) {
	name := req.Name
	if name == "" {
		name = req.ServiceID
	}
	ttl := s.ServiceTTL
	if req.TTL > 0 {
		ttl = req.TTL
	}
	if ttl <= 0 {
		ttl = jwtx.DefaultServiceTokenTTL
	}
	roles, perms := req.Roles, req.Permissions
	if roles == nil {
		roles = []string{}
	}
	if perms == nil {
		perms = []string{}
	}

	token, claims, err := s.Issuer.Issue(jwtx.IssueRequest{
		SubjectID:   req.ServiceID,
		Username:    name,
		TenantID:    req.TenantID,
		Roles:       roles,
		Permissions: perms,
		Audience:    req.Audience,
		Type:        jwtx.TokenTypeService,
		TTL:         ttl,
	})
	if err != nil {
		return "", jwtx.Claims{}, mapIssueErr(err)
	}

	obs.TokenIssued(string(jwtx.TokenTypeService))
	slogx.FromContext(ctx).Info("service token issued", "service_id", req.ServiceID, "jti", claims.ID, "expires_at", claims.ExpiresAtTime())
	return token, claims, nil
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token is revoked, and the new access token carries freshly resolved
// permissions. Only the caller whose revocation lands first gets a pair;
// concurrent or repeated use of the same refresh token is rejected.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	claims, err := s.Verifier.Verify(ctx, refreshToken)
	if err != nil {
		if jwtx.IsRejection(err) {
			slogx.FromContext(ctx).Warn("refresh token rejected", "reason", jwtx.Reason(err))
			return domain.TokenPair{}, fmt.Errorf("%w: %s", ErrInvalidRefresh, jwtx.Reason(err))
		}
		return domain.TokenPair{}, err
	}
	if claims.Type != jwtx.TokenTypeRefresh {
		return domain.TokenPair{}, fmt.Errorf("%w: not a refresh token", ErrInvalidRefresh)
	}

	first, err := s.revoke(ctx, claims)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if !first {
		slogx.FromContext(ctx).Warn("refresh token reused", "jti", claims.ID, "user_id", claims.UserID)
		return domain.TokenPair{}, fmt.Errorf("%w: already used", ErrInvalidRefresh)
	}

	return s.IssueForUser(ctx, UserTokenRequest{
		UserID:   claims.UserID,
		Username: claims.Username(),
		TenantID: claims.Tenant,
		Audience: claims.Audience,
	})
}

// Revoke revokes already-verified claims.
func (s *TokenService) Revoke(ctx context.Context, claims jwtx.Claims) error {
	_, err := s.revoke(ctx, claims)
	return err
}

// RevokeToken verifies and revokes a raw token. Tokens that are already
// invalid are treated as revoked.
func (s *TokenService) RevokeToken(ctx context.Context, raw string) error {
	claims, err := s.Verifier.Verify(ctx, raw)
	if err != nil {
		if jwtx.IsRejection(err) {
			return nil
		}
		return err
	}
	_, err = s.revoke(ctx, claims)
	return err
}

// Introspection is the RFC 7662-like view of a token.
type Introspection struct {
	Active    bool           `json:"active"`
	Reason    string         `json:"-"`
	Subject   string         `json:"sub,omitempty"`
	UserID    string         `json:"uid,omitempty"`
	TenantID  string         `json:"tenant,omitempty"`
	Roles     []string       `json:"roles,omitempty"`
	Perms     []string       `json:"perms,omitempty"`
	TokenType jwtx.TokenType `json:"token_type,omitempty"`
	Issuer    string         `json:"iss,omitempty"`
	Audience  []string       `json:"aud,omitempty"`
	IssuedAt  int64          `json:"iat,omitempty"`
	ExpiresAt int64          `json:"exp,omitempty"`
	JTI       string         `json:"jti,omitempty"`
}

// Introspect reports whether raw is currently valid and, if so, its claims.
func (s *TokenService) Introspect(ctx context.Context, raw string) (Introspection, error) {
	claims, err := s.Verifier.Verify(ctx, raw)
	if err != nil {
		if jwtx.IsRejection(err) {
			return Introspection{Active: false, Reason: jwtx.Reason(err)}, nil
		}
		return Introspection{}, err
	}

	out := Introspection{
		Active:    true,
		Subject:   claims.Username(),
		UserID:    claims.UserID,
		TenantID:  claims.Tenant,
		Roles:     claims.Roles,
		Perms:     claims.Perms,
		TokenType: claims.Type,
		Issuer:    claims.Issuer,
		Audience:  claims.Audience,
		JTI:       claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}

// revoke records claims until the verifier would reject them on expiry
// alone, and reports whether this call was the first to do so.
func (s *TokenService) revoke(ctx context.Context, claims jwtx.Claims) (bool, error) {
	first, err := s.Revocations.Revoke(ctx, claims.ID, s.Verifier.RevokeUntil(claims))
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", claims.ID, err)
	}
	if first {
		obs.TokenRevoked()
		slogx.FromContext(ctx).Info("token revoked", "jti", claims.ID, "token_type", claims.Type, "user_id", claims.UserID)
	}
	return first, nil
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

func mapIssueErr(err error) error {
	if errors.Is(err, jwtx.ErrInvalidInput) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return err
}
