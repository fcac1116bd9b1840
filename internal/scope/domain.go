package scope

import (
	"time"

	"github.com/google/uuid"
)

// Capability names the fine-grained flags carried by an assignment.
type Capability string

// Village-level capabilities.
const (
	CapManageProperties Capability = "properties"
	CapManageResidents  Capability = "residents"
	CapManageFinances   Capability = "finances"
	CapViewReports      Capability = "reports"
)

// Assignment binds a principal to a village with capability flags.
// At most one assignment exists per (principal, village) pair;
// re-assignment updates the existing row.
type Assignment struct {
	ID          uuid.UUID
	PrincipalID uuid.UUID
	VillageID   uuid.UUID

	AssignedBy     uuid.UUID
	AssignmentType string

	CanManageProperties bool
	CanManageResidents  bool
	CanManageFinances   bool
	CanViewReports      bool

	IsActive  bool
	IsPrimary bool

	AssignedAt    time.Time
	ActivatedAt   *time.Time
	DeactivatedAt *time.Time
}

// HasCapability reports whether the assignment carries the named flag.
func (a *Assignment) HasCapability(cap Capability) bool {
	switch cap {
	case CapManageProperties:
		return a.CanManageProperties
	case CapManageResidents:
		return a.CanManageResidents
	case CapManageFinances:
		return a.CanManageFinances
	case CapViewReports:
		return a.CanViewReports
	default:
		return false
	}
}

// Capabilities groups the flag values for updates and responses.
type Capabilities struct {
	ManageProperties bool `json:"can_manage_properties"`
	ManageResidents  bool `json:"can_manage_residents"`
	ManageFinances   bool `json:"can_manage_finances"`
	ViewReports      bool `json:"can_view_reports"`
}

// CapabilitySummary returns the assignment's flags as a Capabilities value.
func (a *Assignment) CapabilitySummary() Capabilities {
	return Capabilities{
		ManageProperties: a.CanManageProperties,
		ManageResidents:  a.CanManageResidents,
		ManageFinances:   a.CanManageFinances,
		ViewReports:      a.CanViewReports,
	}
}
