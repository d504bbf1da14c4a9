package domain

import "github.com/google/uuid"

// Scope is the authenticated actor on whose behalf a request runs. Every
// tenant-scoped read or write is filtered through it.
type Scope struct {
	UserID   uuid.UUID
	TenantID *uuid.UUID
	Role     Role

	// ImpersonatorID is set when a privileged user acts as UserID.
	ImpersonatorID  *uuid.UUID
	ImpersonationID *uuid.UUID
}

// IsSuperAdmin reports whether the actor bypasses tenant scoping.
func (s Scope) IsSuperAdmin() bool {
	return s.Role == RoleSuperAdmin
}

// IsImpersonating reports whether the scope belongs to an impersonation session.
func (s Scope) IsImpersonating() bool {
	return s.ImpersonatorID != nil
}

// Validate rejects scopes that cannot be safely filtered: every non-super
// admin must carry a tenant.
func (s Scope) Validate() error {
	if s.UserID == uuid.Nil || !s.Role.Valid() {
		return ErrInvalidToken
	}
	if !s.IsSuperAdmin() && s.TenantID == nil {
		return ErrTenantRequired
	}
	return nil
}

// TenantFilter returns the tenant every query must be restricted to. ok is
// false only for a super admin who has not switched into a tenant. A
// tenant-less non-super-admin gets uuid.Nil, which matches no rows.
func (s Scope) TenantFilter() (tenantID uuid.UUID, ok bool) {
	if s.TenantID == nil {
		if s.IsSuperAdmin() {
			return uuid.Nil, false
		}
		return uuid.Nil, true
	}
	return *s.TenantID, true
}

// FilterArg returns the tenant filter as a nullable SQL argument.
func (s Scope) FilterArg() *uuid.UUID {
	if id, ok := s.TenantFilter(); ok {
		return &id
	}
	return nil
}

// CanAccessTenant reports whether the actor may touch records of tenantID.
func (s Scope) CanAccessTenant(tenantID uuid.UUID) bool {
	if s.IsSuperAdmin() {
		return true
	}
	return s.TenantID != nil && *s.TenantID == tenantID
}

// CanAccessRecord is CanAccessTenant for records whose tenant may be nil.
// Tenant-less records belong to super admins only.
func (s Scope) CanAccessRecord(tenantID *uuid.UUID) bool {
	if tenantID == nil {
		return s.IsSuperAdmin()
	}
	return s.CanAccessTenant(*tenantID)
}

// RequireRole returns ErrInsufficientRole if the actor ranks below min.
func (s Scope) RequireRole(min Role) error {
	if !s.Role.AtLeast(min) {
		return ErrInsufficientRole
	}
	return nil
}

// RequireTenant returns the actor's tenant or ErrTenantRequired.
func (s Scope) RequireTenant() (uuid.UUID, error) {
	if s.TenantID == nil {
		return uuid.Nil, ErrTenantRequired
	}
	return *s.TenantID, nil
}

// SystemScope is used by background jobs and bootstrap code.
func SystemScope() Scope {
	return Scope{Role: RoleSuperAdmin}
}
