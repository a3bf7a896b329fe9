package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/qhomebase/iam/internal/iam/service"
	"github.com/qhomebase/iam/internal/iam/store"
	"github.com/qhomebase/iam/pkg/authz"
	"github.com/qhomebase/iam/pkg/httpx"
	"github.com/qhomebase/iam/pkg/jwtx"
	"github.com/qhomebase/iam/pkg/obs"
	"github.com/qhomebase/iam/pkg/slogx"

	_ "github.com/qhomebase/iam/api/iam" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

const (
	tenantParam = "tenantID"
	userParam   = "userID"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyManager
	verifier     httpx.TokenVerifier
	gate         *authz.Gate
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	// Limits are the rate limit profiles. Zero value means DefaultLimits.
	Limits httpx.Limits
	// Revocations is reported by /readyz when it can be pinged.
	Revocations any

	TokenService       *service.TokenService
	Permissions        *service.PermissionResolver
	OverrideService    *service.OverrideService
	RolesService       *service.RolesService
	KeyRotationService *service.KeyRotationService
}

func NewRouter(
	keys *jwtx.KeyManager,
	verifier httpx.TokenVerifier,
	gate *authz.Gate,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		gate:         gate,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
		Limits:       httpx.DefaultLimits(),
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerTokens()
	r.registerPermissions()
	r.registerRoles()
	r.registerKeyRotation()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			QHome IAM Service API
//	@version		0.1.0
//	@description	Token issuance, verification material and tenant-scoped authorization for QHome services.
//	@description
//	@description				Tokens are compact JWS signed with the active key named by the kid header. Verify them with the JWKS endpoint.
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access or service token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle registers h behind mws and route metrics labelled by pattern.
func (r *Router) handle(pattern string, h http.Handler, mws ...httpx.Middleware) {
	r.Mux.Handle(pattern, obs.Instrument(pattern, httpx.Chain(h, mws...)))
}

func (r *Router) byIP(cfg httpx.RateLimit) httpx.Middleware {
	return httpx.RateLimitMiddleware(cfg, httpx.ClientIP)
}

func (r *Router) bySubject(cfg httpx.RateLimit) httpx.Middleware {
	return httpx.RateLimitMiddleware(cfg, httpx.SubjectKey)
}

func (r *Router) registerTokens() {
	h := &TokenHandler{TokenService: r.TokenService}
	authn := httpx.Authenticate(r.verifier)

	// Only trusted services mint user tokens.
	r.handle("POST /v1/tokens", http.HandlerFunc(h.HandleIssue),
		authn,
		r.bySubject(r.Limits.Token),
		httpx.RequirePermission(r.gate, authz.PermTokenIssue, ""),
	)

	// The refresh token in the body is the credential.
	r.handle("POST /v1/tokens/refresh", http.HandlerFunc(h.HandleRefresh),
		r.byIP(r.Limits.Token),
	)

	r.handle("POST /v1/tokens/revoke", http.HandlerFunc(h.HandleRevoke),
		authn,
		r.bySubject(r.Limits.Token),
	)

	r.handle("POST /v1/tokens/introspect", http.HandlerFunc(h.HandleIntrospect),
		authn,
		r.bySubject(r.Limits.Admin),
		httpx.RequirePermission(r.gate, authz.PermTokenIntrospect, ""),
	)

	r.handle("GET /.well-known/jwks.json", JWKSHandler(r.keys),
		r.byIP(r.Limits.Public),
	)
}

func (r *Router) registerPermissions() {
	h := &PermissionsHandler{
		Permissions: r.Permissions,
		Overrides:   r.OverrideService,
	}
	authn := httpx.Authenticate(r.verifier)

	r.handle("GET /v1/tenants/{tenantID}/users/{userID}/permissions", http.HandlerFunc(h.HandleSummary),
		authn,
		r.bySubject(r.Limits.Admin),
		selfOr(httpx.RequirePermission(r.gate, authz.PermUserPermissionRead, tenantParam)),
	)

	manage := httpx.RequirePermission(r.gate, authz.PermUserPermissionManage, tenantParam)
	r.handle("PUT /v1/tenants/{tenantID}/users/{userID}/overrides", http.HandlerFunc(h.HandleSetOverride),
		authn,
		r.bySubject(r.Limits.Admin),
		manage,
	)
	r.handle("DELETE /v1/tenants/{tenantID}/users/{userID}/overrides/{kind}/{permission}", http.HandlerFunc(h.HandleDeleteOverride),
		authn,
		r.bySubject(r.Limits.Admin),
		manage,
	)
}

func (r *Router) registerRoles() {
	h := &RolesHandler{RolesService: r.RolesService}
	authn := httpx.Authenticate(r.verifier)

	r.handle("POST /v1/tenants/{tenantID}/users/{userID}/roles", http.HandlerFunc(h.HandleAssign),
		authn,
		r.bySubject(r.Limits.Admin),
		httpx.RequirePermission(r.gate, authz.PermTenantRoleAssign, tenantParam),
	)
	r.handle("DELETE /v1/tenants/{tenantID}/users/{userID}/roles/{role}", http.HandlerFunc(h.HandleRemove),
		authn,
		r.bySubject(r.Limits.Admin),
		httpx.RequirePermission(r.gate, authz.PermTenantRoleRemove, tenantParam),
	)

	r.handle("GET /v1/roles/{role}/permissions", http.HandlerFunc(h.HandleGetPermissions),
		authn,
		r.bySubject(r.Limits.Admin),
		httpx.RequirePermission(r.gate, authz.PermRolePermissionRead, ""),
	)
	r.handle("PUT /v1/roles/{role}/permissions", http.HandlerFunc(h.HandlePutPermissions),
		authn,
		r.bySubject(r.Limits.Admin),
		httpx.RequirePermission(r.gate, authz.PermRolePermissionManage, ""),
	)
}

func (r *Router) registerKeyRotation() {
	// Available in both key storage modes; ephemeral rotations are lost on
	// restart.
	h := &KeyRotationHandler{KeyRotationService: r.KeyRotationService}
	authn := httpx.Authenticate(r.verifier)
	admin := httpx.RequireRole(r.gate, authz.RoleAdmin)

	r.handle("POST /v1/keys/rotate", http.HandlerFunc(h.HandleRotate),
		authn,
		r.bySubject(r.Limits.Admin),
		admin,
	)
	r.handle("GET /v1/keys", http.HandlerFunc(h.HandleListKeys),
		authn,
		r.bySubject(r.Limits.Admin),
		admin,
	)
}

func (r *Router) registerSystem() {
	// Probes and scrapes are polled often; keep them cheap.
	r.handle("GET /livez", LivezHandler(r.startTime, r.buildVersion),
		r.byIP(r.Limits.Public),
	)
	r.handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys, r.Revocations),
		r.byIP(r.Limits.Public),
	)
	r.Mux.Handle("GET /metrics", obs.Handler())
}

// selfOr lets a user read their own data in their own tenant and sends
// everyone else through guard.
func selfOr(guard httpx.Middleware) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		guarded := guard(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s, ok := httpx.SubjectFrom(req.Context())
			if ok && !s.IsService() &&
				s.UserID == req.PathValue(userParam) &&
				s.SameTenant(req.PathValue(tenantParam)) {
				next.ServeHTTP(w, req)
				return
			}
			guarded.ServeHTTP(w, req)
		})
	}
}
