package domain

// Role is a user's authorization level.
type Role string

const (
	RoleUser        Role = "user"
	RoleAdmin       Role = "admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleSuperAdmin  Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Rank orders roles; unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	case RoleTenantAdmin:
		return 3
	case RoleSuperAdmin:
		return 4
	default:
		return 0
	}
}

// IsAdmin reports whether r is admin or above.
func (r Role) IsAdmin() bool {
	return r.Rank() >= RoleAdmin.Rank()
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= min.Rank()
}

// CountsAsAdmin reports whether a user with this role occupies an admin seat.
func (r Role) CountsAsAdmin() bool {
	return r == RoleAdmin || r == RoleTenantAdmin
}

// CanAssign reports whether an actor with role actor may grant role target.
// super_admin is never assignable through tenant user management.
func CanAssign(actor, target Role) bool {
	if !target.Valid() {
		return false
	}
	switch actor {
	case RoleSuperAdmin:
		return target != RoleSuperAdmin
	case RoleTenantAdmin:
		return target.Rank() <= RoleTenantAdmin.Rank()
	case RoleAdmin:
		return target == RoleUser
	default:
		return false
	}
}
