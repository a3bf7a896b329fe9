package httpx

import (
	"net/http"

	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/obs"
	"github.com/qhomebase/iam/pkg/slogx"
)

// RequirementFunc builds the requirement for one request, typically reading
// the tenant from a path value.
type RequirementFunc func(r *http.Request) authz.Requirement

// Authorize runs the gate before next. It must be chained after
// Authenticate.
func Authorize(gate *authz.Gate, build RequirementFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			subject, ok := SubjectFrom(ctx)
			if !ok {
				Unauthenticated(w)
				return
			}

			decision, err := gate.Authorize(ctx, subject, build(r))
			if err != nil {
				obs.AuthzDecision("error")
				log.Error("authorization could not complete", "err", err)
				WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, "try again later")
				return
			}
			obs.AuthzDecision(decision.Reason)
			if !decision.Allowed {
				log.Warn("access denied", "reason", decision.Reason, "path", r.URL.Path)
				Forbidden(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole demands a global role.
func RequireRole(gate *authz.Gate, role authz.Role) Middleware {
	return Authorize(gate, func(*http.Request) authz.Requirement {
		return authz.RequireRole{Role: role}
	})
}

// RequirePermission demands perm. When tenantParam is non-empty the tenant
// comes from that path value and must match the token's tenant.
func RequirePermission(gate *authz.Gate, perm authz.Permission, tenantParam string) Middleware {
	return Authorize(gate, func(r *http.Request) authz.Requirement {
		return PermissionIn(r, perm, tenantParam)
	})
}

// PermissionIn builds a permission requirement scoped to a path value.
func PermissionIn(r *http.Request, perm authz.Permission, tenantParam string) authz.RequirePermission {
	req := authz.RequirePermission{Permission: perm}
	if tenantParam != "" {
		req.TenantID = r.PathValue(tenantParam)
	}
	return req
}
