package authz

// Resolve combines role-derived permissions with user overrides:
// (base ∪ grants) − denies. A code present in both grants and denies is
// denied.
func Resolve(base, grants, denies PermissionSet) PermissionSet {
	out := base.Clone()
	out.Union(grants)
	out.Subtract(denies)
	return out
}
