package authz

// Requirement is what a protected operation demands of its caller. The set
// of implementations is closed: RequireRole, RequirePermission and AnyOf.
type Requirement interface {
	requirement()
}

// RequireRole demands a role. A non-empty TenantID also demands that the
// caller's token is scoped to that tenant.
type RequireRole struct {
	Role     Role
	TenantID string
}

// RequirePermission demands a permission code, optionally within a tenant.
type RequirePermission struct {
	Permission Permission
	TenantID   string
}

// AnyOfRequirement passes when any member passes.
type AnyOfRequirement []Requirement

// AnyOf combines requirements so that satisfying one is enough, as in
// "holds iam.user.permission.read or is the tenant owner".
func AnyOf(reqs ...Requirement) AnyOfRequirement { return AnyOfRequirement(reqs) }

func (RequireRole) requirement()       {}
func (RequirePermission) requirement() {}
func (AnyOfRequirement) requirement()  {}
