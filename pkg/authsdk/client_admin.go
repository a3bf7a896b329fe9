package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

func tenantUserPath(tenantID, userID string) string {
	return "/v1/tenants/" + url.PathEscape(tenantID) + "/users/" + url.PathEscape(userID)
}

// PermissionSummary explains userID's effective permissions in tenantID.
func (c *SDKClient) PermissionSummary(ctx context.Context, token, tenantID, userID string) (*PermissionSummaryResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, tenantUserPath(tenantID, userID)+"/permissions", token, nil)
	if err != nil {
		return nil, err
	}

	var out PermissionSummaryResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetOverride creates or replaces a GRANT or DENY override.
func (c *SDKClient) SetOverride(ctx context.Context, token, tenantID, userID string, req OverrideRequest) (*OverrideInfo, error) {
	resp, err := c.doJSON(ctx, http.MethodPut, tenantUserPath(tenantID, userID)+"/overrides", token, req)
	if err != nil {
		return nil, err
	}

	var out OverrideInfo
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteOverride removes one override.
func (c *SDKClient) DeleteOverride(ctx context.Context, token, tenantID, userID, kind, permission string) error {
	path := tenantUserPath(tenantID, userID) + "/overrides/" + url.PathEscape(kind) + "/" + url.PathEscape(permission)
	resp, err := c.doJSON(ctx, http.MethodDelete, path, token, nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// AssignRole gives userID role in tenantID.
func (c *SDKClient) AssignRole(ctx context.Context, token, tenantID, userID, role string) (*TenantRoleResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, tenantUserPath(tenantID, userID)+"/roles", token, RoleAssignRequest{Role: role})
	if err != nil {
		return nil, err
	}

	var out TenantRoleResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveRole takes role away from userID in tenantID.
func (c *SDKClient) RemoveRole(ctx context.Context, token, tenantID, userID, role string) error {
	resp, err := c.doJSON(ctx, http.MethodDelete, tenantUserPath(tenantID, userID)+"/roles/"+url.PathEscape(role), token, nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// SetRolePermissions replaces the permissions bound to role.
func (c *SDKClient) SetRolePermissions(ctx context.Context, token, role string, perms []string) (*RolePermissionsResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPut, "/v1/roles/"+url.PathEscape(role)+"/permissions", token, RolePermissionsRequest{Permissions: perms})
	if err != nil {
		return nil, err
	}

	var out RolePermissionsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
