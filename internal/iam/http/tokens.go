package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/pkg/authsdk"
	"github.com/qhomebase/iam/pkg/httpx"
	"github.com/qhomebase/iam/pkg/slogx"
)

// TokenHandler serves the token lifecycle endpoints.
type TokenHandler struct {
	TokenService *service.TokenService
}

// HandleIssue handles POST /v1/tokens
//
//	@Summary		Issue user tokens
//	@Description	Mint an access and refresh token for a user who authenticated elsewhere. Roles and permissions are resolved for the tenant at issuance.
//	@Tags			Tokens
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.TokenRequest	true	"User to issue for"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403		{object}	authsdk.ErrorResponse	"Forbidden - requires iam.token.issue"
//	@Security		BearerAuth
//	@Router			/v1/tokens [post]
func (h *TokenHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	var req authsdk.TokenRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidBody.WriteError(w)
		return
	}

	pair, err := h.TokenService.IssueForUser(r.Context(), service.UserTokenRequest{
		UserID:   req.UserID,
		Username: req.Username,
		TenantID: req.TenantID,
		Audience: req.Audience,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slogx.FromContext(r.Context()).Info("user tokens issued by service",
		"service_id", subjectOf(r).UserID, "user_id", req.UserID, "tenant_id", req.TenantID,
	)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleRefresh handles POST /v1/tokens/refresh
//
//	@Summary		Refresh tokens
//	@Description	Exchange a refresh token for a new pair. The presented refresh token is revoked and permissions are resolved again.
//	@Tags			Tokens
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Invalid refresh token"
//	@Failure		503		{object}	authsdk.ErrorResponse	"Revocation backend unavailable"
//	@Router			/v1/tokens/refresh [post]
func (h *TokenHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		authsdk.ErrInvalidRequest.WithDescription("refresh_token is required").WriteError(w)
		return
	}

	pair, err := h.TokenService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefresh) || errors.Is(err, service.ErrInvalidRequest) {
			writeServiceError(w, r, err)
			return
		}
		slogx.FromContext(r.Context()).Error("refresh could not complete", "err", err)
		authsdk.ErrUnavailable.WriteError(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleRevoke handles POST /v1/tokens/revoke
//
//	@Summary		Log out
//	@Description	Revoke the bearer access token and, when given, the refresh token. Revoking an already invalid refresh token is not an error.
//	@Tags			Tokens
//	@Accept			json
//	@Param			body	body	authsdk.RevokeRequest	false	"Optional refresh token"
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Security		BearerAuth
//	@Router			/v1/tokens/revoke [post]
func (h *TokenHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RevokeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		authsdk.ErrInvalidBody.WriteError(w)
		return
	}

	claims, _ := httpx.ClaimsFrom(r.Context())
	if err := h.TokenService.Revoke(r.Context(), claims); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.RefreshToken != "" {
		if err := h.TokenService.RevokeToken(r.Context(), req.RefreshToken); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleIntrospect handles POST /v1/tokens/introspect
//
//	@Summary		Introspect a token
//	@Description	RFC 7662-like view of a token. Invalid, expired and revoked tokens report only active=false.
//	@Tags			Tokens
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.IntrospectRequest	true	"Token to inspect"
//	@Success		200		{object}	authsdk.IntrospectionResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403		{object}	authsdk.ErrorResponse	"Forbidden - requires iam.token.introspect"
//	@Security		BearerAuth
//	@Router			/v1/tokens/introspect [post]
func (h *TokenHandler) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
	var req authsdk.IntrospectRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.Token == "" {
		authsdk.ErrInvalidRequest.WithDescription("token is required").WriteError(w)
		return
	}

	info, err := h.TokenService.Introspect(r.Context(), req.Token)
	if err != nil {
		slogx.FromContext(r.Context()).Error("introspection could not complete", "err", err)
		authsdk.ErrUnavailable.WriteError(w)
		return
	}
	if !info.Active {
		slogx.FromContext(r.Context()).Info("introspected inactive token", "reason", info.Reason)
		httpx.WriteJSON(w, http.StatusOK, authsdk.IntrospectionResponse{Active: false})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.IntrospectionResponse{
		Active:    true,
		Subject:   info.Subject,
		UserID:    info.UserID,
		TenantID:  info.TenantID,
		Roles:     info.Roles,
		Perms:     info.Perms,
		TokenType: string(info.TokenType),
		Issuer:    info.Issuer,
		Audience:  info.Audience,
		IssuedAt:  info.IssuedAt,
		ExpiresAt: info.ExpiresAt,
		JTI:       info.JTI,
	})
}

func tokenResponse(p domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		ExpiresIn:        p.ExpiresIn,
		RefreshExpiresIn: p.RefreshExpiresIn,
	}
}
