package shared

import (
	"time"

	"github.com/google/uuid"
)

// Role names with special meaning to the authorization engine.
const (
	// RoleSuperadmin bypasses permission and scope checks entirely.
	RoleSuperadmin = "superadmin"
	// RoleVillageAdmin is the ordinary tenant administrator role.
	RoleVillageAdmin = "village_admin"
)

// Principal is the authenticated actor subject to authorization checks.
// It is supplied by the identity layer and trusted by the engine.
type Principal struct {
	ID                  uuid.UUID
	Username            string
	Email               string
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	Roles               []string
}

// HasRole reports whether the principal holds the named role.
func (p *Principal) HasRole(name string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// IsSuperadmin reports whether the principal holds the superadmin role.
func (p *Principal) IsSuperadmin() bool {
	return p.HasRole(RoleSuperadmin)
}

// Locked reports whether the principal is locked out at the given time.
func (p *Principal) Locked(now time.Time) bool {
	if p == nil {
		return false
	}
	return p.LockedUntil != nil && p.LockedUntil.After(now)
}
