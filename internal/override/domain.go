package override

import (
	"time"

	"github.com/google/uuid"
)

// Validity bounds for grants, in hours. Creation allows up to a day;
// extension is deliberately tighter.
const (
	MinValidityHours     = 0.1
	MaxValidityHours     = 24
	MaxExtensionHours    = 12
	MinReasonLength      = 10
	DefaultValidityHours = 1
	DefaultHistoryDays   = 30
)

// Grant is a time-bound, audited bypass of an otherwise-denied action.
// A nil TargetID is a wildcard matching any target of the resource.
type Grant struct {
	ID          uuid.UUID
	PrincipalID uuid.UUID

	TargetResource string
	TargetID       *string
	Action         string
	Reason         string

	// OriginalPermission records the permission whose denial this
	// grant was created to bypass, for forensics.
	OriginalPermission string

	// Approval fields are reserved for two-party approval; grants are
	// currently self-approved.
	RequiresApproval bool
	ApprovedBy       *uuid.UUID
	ApprovedAt       *time.Time

	IsActive  bool
	ExpiresAt time.Time

	CreatedAt time.Time
	IPAddress string
	UserAgent string
}

// Expired reports whether the grant's validity window has passed.
func (g *Grant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// Valid reports whether the grant may decide a request right now.
// Always computed live from both the flag and the expiry; the
// is_active flag alone lags behind reality until a sweep runs and is
// never trusted on its own.
func (g *Grant) Valid(now time.Time) bool {
	return g.IsActive && !g.Expired(now)
}

// TimeRemaining returns the seconds until expiry, zero when expired.
func (g *Grant) TimeRemaining(now time.Time) int {
	if g.Expired(now) {
		return 0
	}
	return int(g.ExpiresAt.Sub(now).Seconds())
}

// DurationMinutes returns the grant's total validity span in minutes.
func (g *Grant) DurationMinutes() int {
	return int(g.ExpiresAt.Sub(g.CreatedAt).Minutes())
}

// Matches reports whether the grant decides a request for the given
// resource, target and action. Resource and action must match exactly;
// a nil target id matches any id.
func (g *Grant) Matches(resource, targetID, action string, now time.Time) bool {
	return g.TargetResource == resource &&
		(g.TargetID == nil || *g.TargetID == targetID) &&
		g.Action == action &&
		g.Valid(now)
}

// Statistics summarizes grant usage over a trailing window.
type Statistics struct {
	TotalGrants  int
	ActiveGrants int
	ByResource   []ResourceCount
	ByPrincipal  []PrincipalCount
}

// ResourceCount is a per-resource grant tally.
type ResourceCount struct {
	Resource string
	Count    int
}

// PrincipalCount is a per-principal grant tally.
type PrincipalCount struct {
	PrincipalID uuid.UUID
	Count       int
}

// ListFilter narrows grant listings.
type ListFilter struct {
	Status      string // active, expired, all
	Resource    string
	PrincipalID *uuid.UUID
	Page        int
	PerPage     int
}
