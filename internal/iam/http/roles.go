package http

import (
	"net/http"

	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/pkg/authsdk"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/httpx"
)

// RolesHandler manages role bindings and tenant role assignments.
type RolesHandler struct {
	RolesService *service.RolesService
}

// HandleAssign handles POST /v1/tenants/{tenantID}/users/{userID}/roles
//
//	@Summary		Assign a tenant role
//	@Tags			Roles
//	@Accept			json
//	@Produce		json
//	@Param			tenantID	path		string						true	"Tenant ID"
//	@Param			userID		path		string						true	"User ID"
//	@Param			body		body		authsdk.RoleAssignRequest	true	"Role"
//	@Success		201			{object}	authsdk.TenantRoleResponse
//	@Failure		400			{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		403			{object}	authsdk.ErrorResponse	"Forbidden - requires iam.tenant.role.assign"
//	@Failure		409			{object}	authsdk.ErrorResponse	"Role already held"
//	@Security		BearerAuth
//	@Router			/v1/tenants/{tenantID}/users/{userID}/roles [post]
func (h *RolesHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RoleAssignRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidBody.WriteError(w)
		return
	}
	role, err := authz.ParseRole(req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	tr, err := h.RolesService.Assign(r.Context(), subjectOf(r).UserID, r.PathValue("userID"), r.PathValue("tenantID"), role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, authsdk.TenantRoleResponse{
		UserID:    tr.UserID,
		TenantID:  tr.TenantID,
		Role:      string(tr.Role),
		GrantedAt: tr.GrantedAt,
		GrantedBy: tr.GrantedBy,
	})
}

// HandleRemove handles DELETE /v1/tenants/{tenantID}/users/{userID}/roles/{role}
//
//	@Summary		Remove a tenant role
//	@Tags			Roles
//	@Param			tenantID	path	string	true	"Tenant ID"
//	@Param			userID		path	string	true	"User ID"
//	@Param			role		path	string	true	"Role"
//	@Success		204
//	@Failure		404	{object}	authsdk.ErrorResponse	"Role not held"
//	@Security		BearerAuth
//	@Router			/v1/tenants/{tenantID}/users/{userID}/roles/{role} [delete]
func (h *RolesHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	role, err := authz.ParseRole(r.PathValue("role"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.RolesService.Remove(r.Context(), subjectOf(r).UserID, r.PathValue("userID"), r.PathValue("tenantID"), role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetPermissions handles GET /v1/roles/{role}/permissions
//
//	@Summary		List role permissions
//	@Tags			Roles
//	@Produce		json
//	@Param			role	path		string	true	"Role"
//	@Success		200		{object}	authsdk.RolePermissionsResponse
//	@Failure		403		{object}	authsdk.ErrorResponse	"Forbidden - requires iam.role.permission.read"
//	@Security		BearerAuth
//	@Router			/v1/roles/{role}/permissions [get]
func (h *RolesHandler) HandleGetPermissions(w http.ResponseWriter, r *http.Request) {
	role, err := authz.ParseRole(r.PathValue("role"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	perms, err := h.RolesService.Permissions(r.Context(), role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.RolePermissionsResponse{
		Role:        string(role),
		Permissions: permissionStrings(perms),
	})
}

// HandlePutPermissions handles PUT /v1/roles/{role}/permissions
//
//	@Summary		Replace role permissions
//	@Description	Replace every permission bound to the role. Affects all users holding it from their next token or check.
//	@Tags			Roles
//	@Accept			json
//	@Produce		json
//	@Param			role	path		string							true	"Role"
//	@Param			body	body		authsdk.RolePermissionsRequest	true	"Permissions"
//	@Success		200		{object}	authsdk.RolePermissionsResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"Bad Request"
//	@Failure		403		{object}	authsdk.ErrorResponse	"Forbidden - requires iam.role.permission.manage"
//	@Security		BearerAuth
//	@Router			/v1/roles/{role}/permissions [put]
func (h *RolesHandler) HandlePutPermissions(w http.ResponseWriter, r *http.Request) {
	role, err := authz.ParseRole(r.PathValue("role"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req authsdk.RolePermissionsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidBody.WriteError(w)
		return
	}

	perms := make([]authz.Permission, 0, len(req.Permissions))
	for _, s := range req.Permissions {
		p, err := authz.ParsePermission(s)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		perms = append(perms, p)
	}

	saved, err := h.RolesService.SetPermissions(r.Context(), role, perms)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.RolePermissionsResponse{
		Role:        string(role),
		Permissions: permissionStrings(saved),
	})
}
