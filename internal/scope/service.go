package scope

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/smartvillage/gatekeeper/internal/shared"
)

// ErrNoAssignment indicates no (active) assignment exists for the pair.
var ErrNoAssignment = errors.New("scope: no assignment")

// RepositoryPort defines data access methods for assignments.
type RepositoryPort interface {
	Upsert(ctx context.Context, a Assignment) (Assignment, error)
	FindActive(ctx context.Context, principalID, villageID uuid.UUID) (Assignment, error)
	FindByID(ctx context.Context, id uuid.UUID) (Assignment, error)
	ListByPrincipal(ctx context.Context, principalID uuid.UUID, activeOnly bool) ([]Assignment, error)
	ListByVillage(ctx context.Context, villageID uuid.UUID, activeOnly bool) ([]Assignment, error)
	Activate(ctx context.Context, id uuid.UUID, at time.Time) error
	Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error
	SetPrimary(ctx context.Context, principalID, id uuid.UUID) error
	UpdateCapabilities(ctx context.Context, id uuid.UUID, caps Capabilities) error
}

// Service evaluates village scope for principals and manages
// assignments.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// HasScope reports whether the principal may act within the village.
// Superadmins pass unconditionally; everyone else needs an active
// assignment. Evaluated fresh on every call since assignments can be
// deactivated concurrently.
func (s *Service) HasScope(ctx context.Context, principal *shared.Principal, villageID uuid.UUID) (bool, error) {
	if principal.IsSuperadmin() {
		return true, nil
	}
	_, err := s.repo.FindActive(ctx, principal.ID, villageID)
	if errors.Is(err, ErrNoAssignment) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasScopeCapability reports whether the principal holds the named
// capability within the village.
func (s *Service) HasScopeCapability(ctx context.Context, principal *shared.Principal, villageID uuid.UUID, cap Capability) (bool, error) {
	if principal.IsSuperadmin() {
		return true, nil
	}
	a, err := s.repo.FindActive(ctx, principal.ID, villageID)
	if errors.Is(err, ErrNoAssignment) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.HasCapability(cap), nil
}

// AssignInput carries the fields needed to create an assignment.
type AssignInput struct {
	PrincipalID    uuid.UUID
	VillageID      uuid.UUID
	AssignedBy     uuid.UUID
	AssignmentType string
	Capabilities   Capabilities
	IsPrimary      bool
}

// Assign creates or refreshes the assignment for the pair. The new row
// starts active with activated_at stamped now; a refreshed row is
// reactivated the same way.
func (s *Service) Assign(ctx context.Context, in AssignInput) (Assignment, error) {
	now := s.now().UTC()
	assignmentType := in.AssignmentType
	if assignmentType == "" {
		assignmentType = "manual"
	}
	a := Assignment{
		ID:                  uuid.New(),
		PrincipalID:         in.PrincipalID,
		VillageID:           in.VillageID,
		AssignedBy:          in.AssignedBy,
		AssignmentType:      assignmentType,
		CanManageProperties: in.Capabilities.ManageProperties,
		CanManageResidents:  in.Capabilities.ManageResidents,
		CanManageFinances:   in.Capabilities.ManageFinances,
		CanViewReports:      in.Capabilities.ViewReports,
		IsActive:            true,
		AssignedAt:          now,
		ActivatedAt:         &now,
	}
	created, err := s.repo.Upsert(ctx, a)
	if err != nil {
		return Assignment{}, err
	}
	if in.IsPrimary {
		if err := s.repo.SetPrimary(ctx, in.PrincipalID, created.ID); err != nil {
			return Assignment{}, err
		}
		created.IsPrimary = true
	}
	return created, nil
}

// Activate turns an assignment back on.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) error {
	return s.repo.Activate(ctx, id, s.now().UTC())
}

// Deactivate turns an assignment off.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.Deactivate(ctx, id, s.now().UTC())
}

// SetPrimary marks the assignment as the principal's primary village.
func (s *Service) SetPrimary(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.SetPrimary(ctx, a.PrincipalID, id)
}

// UpdateCapabilities replaces the capability flags on an assignment.
func (s *Service) UpdateCapabilities(ctx context.Context, id uuid.UUID, caps Capabilities) error {
	return s.repo.UpdateCapabilities(ctx, id, caps)
}

// ListByPrincipal returns a principal's assignments.
func (s *Service) ListByPrincipal(ctx context.Context, principalID uuid.UUID, activeOnly bool) ([]Assignment, error) {
	return s.repo.ListByPrincipal(ctx, principalID, activeOnly)
}

// ListByVillage returns a village's assignments.
func (s *Service) ListByVillage(ctx context.Context, villageID uuid.UUID, activeOnly bool) ([]Assignment, error) {
	return s.repo.ListByVillage(ctx, villageID, activeOnly)
}
