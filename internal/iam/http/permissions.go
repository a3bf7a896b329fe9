package http

import (
	"net/http"
	"time"

	"github.com/qhomebase/iam/internal/iam/domain"
	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/pkg/authsdk"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/httpx"
)

// PermissionsHandler serves permission summaries and overrides for a user
// in a tenant. Both ids come from the path.
type PermissionsHandler struct {
	Permissions *service.PermissionResolver
	Overrides   *service.OverrideService
	Now         func() time.Time
}

// HandleSummary handles GET /v1/tenants/{tenantID}/users/{userID}/permissions
//
//	@Summary		Permission summary
//	@Description	Roles, inherited permissions, overrides and the effective set of a user in a tenant. Users may read their own summary.
//	@Tags			Permissions
//	@Produce		json
//	@Param			tenantID	path		string	true	"Tenant ID"
//	@Param			userID		path		string	true	"User ID"
//	@Success		200			{object}	authsdk.PermissionSummaryResponse
//	@Failure		401			{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403			{object}	authsdk.ErrorResponse	"Forbidden - requires iam.user.permission.read"
//	@Security		BearerAuth
//	@Router			/v1/tenants/{tenantID}/users/{userID}/permissions [get]
func (h *PermissionsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Permissions.Summary(r.Context(), r.PathValue("userID"), r.PathValue("tenantID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	now := h.now()
	resp := authsdk.PermissionSummaryResponse{
		UserID:      sum.UserID,
		TenantID:    sum.TenantID,
		Roles:       roleStrings(sum.Roles),
		Inherited:   permissionStrings(sum.Inherited),
		Grants:      overrideInfos(sum.Grants, now),
		Denies:      overrideInfos(sum.Denies, now),
		Effective:   permissionStrings(sum.Effective),
		GrantCounts: authsdk.OverrideCounts(sum.GrantCounts),
		DenyCounts:  authsdk.OverrideCounts(sum.DenyCounts),
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleSetOverride handles PUT /v1/tenants/{tenantID}/users/{userID}/overrides
//
//	@Summary		Set a permission override
//	@Description	Create or replace the GRANT or DENY override for one permission. A DENY always beats a GRANT or a role.
//	@Tags			Permissions
//	@Accept			json
//	@Produce		json
//	@Param			tenantID	path		string					true	"Tenant ID"
//	@Param			userID		path		string					true	"User ID"
//	@Param			body		body		authsdk.OverrideRequest	true	"Override"
//	@Success		200			{object}	authsdk.OverrideInfo
//	@Failure		400			{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		403			{object}	authsdk.ErrorResponse	"Forbidden - requires iam.user.permission.manage"
//	@Security		BearerAuth
//	@Router			/v1/tenants/{tenantID}/users/{userID}/overrides [put]
func (h *PermissionsHandler) HandleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req authsdk.OverrideRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidBody.WriteError(w)
		return
	}
	perm, err := authz.ParsePermission(req.Permission)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	kind, err := domain.ParseOverrideKind(req.Kind)
	if err != nil {
		authsdk.ErrInvalidRequest.WithDescription(err.Error()).WriteError(w)
		return
	}

	o, err := h.Overrides.Set(r.Context(), subjectOf(r).UserID, service.OverrideRequest{
		UserID:     r.PathValue("userID"),
		TenantID:   r.PathValue("tenantID"),
		Permission: perm,
		Kind:       kind,
		ExpiresAt:  req.ExpiresAt,
		Reason:     req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, overrideInfo(o, h.now()))
}

// HandleDeleteOverride handles DELETE /v1/tenants/{tenantID}/users/{userID}/overrides/{kind}/{permission}
//
//	@Summary		Remove a permission override
//	@Tags			Permissions
//	@Param			tenantID	path	string	true	"Tenant ID"
//	@Param			userID		path	string	true	"User ID"
//	@Param			kind		path	string	true	"GRANT or DENY"
//	@Param			permission	path	string	true	"Permission code"
//	@Success		204
//	@Failure		404	{object}	authsdk.ErrorResponse	"No such override"
//	@Security		BearerAuth
//	@Router			/v1/tenants/{tenantID}/users/{userID}/overrides/{kind}/{permission} [delete]
func (h *PermissionsHandler) HandleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseOverrideKind(r.PathValue("kind"))
	if err != nil {
		authsdk.ErrInvalidRequest.WithDescription(err.Error()).WriteError(w)
		return
	}
	perm, err := authz.ParsePermission(r.PathValue("permission"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	err = h.Overrides.Remove(r.Context(), subjectOf(r).UserID, r.PathValue("userID"), r.PathValue("tenantID"), perm, kind)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func overrideInfos(in []domain.PermissionOverride, now time.Time) []authsdk.OverrideInfo {
	out := make([]authsdk.OverrideInfo, len(in))
	for i, o := range in {
		out[i] = overrideInfo(o, now)
	}
	return out
}

func overrideInfo(o domain.PermissionOverride, now time.Time) authsdk.OverrideInfo {
	return authsdk.OverrideInfo{
		Permission: string(o.Permission),
		Kind:       string(o.Kind),
		ExpiresAt:  o.ExpiresAt,
		GrantedAt:  o.GrantedAt,
		GrantedBy:  o.GrantedBy,
		Reason:     o.Reason,
		Active:     o.IsActive(now),
		Temporary:  o.IsTemporary(),
	}
}

func roleStrings(in []authz.Role) []string {
	out := make([]string, len(in))
	for i, r := range in {
		out[i] = string(r)
	}
	return out
}

func permissionStrings(in []authz.Permission) []string {
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = string(p)
	}
	return out
}
