package scope

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvillage/gatekeeper/internal/shared"
)

type pairKey struct {
	principal uuid.UUID
	village   uuid.UUID
}

type mockRepository struct {
	byID      map[uuid.UUID]*Assignment
	byPair    map[pairKey]*Assignment
	findError error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		byID:   make(map[uuid.UUID]*Assignment),
		byPair: make(map[pairKey]*Assignment),
	}
}

func (m *mockRepository) Upsert(ctx context.Context, a Assignment) (Assignment, error) {
	key := pairKey{a.PrincipalID, a.VillageID}
	if existing, ok := m.byPair[key]; ok {
		existing.AssignedBy = a.AssignedBy
		existing.AssignmentType = a.AssignmentType
		existing.CanManageProperties = a.CanManageProperties
		existing.CanManageResidents = a.CanManageResidents
		existing.CanManageFinances = a.CanManageFinances
		existing.CanViewReports = a.CanViewReports
		existing.IsActive = a.IsActive
		existing.ActivatedAt = a.ActivatedAt
		existing.DeactivatedAt = nil
		return *existing, nil
	}
	stored := a
	m.byID[stored.ID] = &stored
	m.byPair[key] = &stored
	return stored, nil
}

func (m *mockRepository) FindActive(ctx context.Context, principalID, villageID uuid.UUID) (Assignment, error) {
	if m.findError != nil {
		return Assignment{}, m.findError
	}
	a, ok := m.byPair[pairKey{principalID, villageID}]
	if !ok || !a.IsActive {
		return Assignment{}, ErrNoAssignment
	}
	return *a, nil
}

func (m *mockRepository) FindByID(ctx context.Context, id uuid.UUID) (Assignment, error) {
	a, ok := m.byID[id]
	if !ok {
		return Assignment{}, ErrNoAssignment
	}
	return *a, nil
}

func (m *mockRepository) ListByPrincipal(ctx context.Context, principalID uuid.UUID, activeOnly bool) ([]Assignment, error) {
	var out []Assignment
	for _, a := range m.byID {
		if a.PrincipalID != principalID {
			continue
		}
		if activeOnly && !a.IsActive {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (m *mockRepository) ListByVillage(ctx context.Context, villageID uuid.UUID, activeOnly bool) ([]Assignment, error) {
	return nil, nil
}

func (m *mockRepository) Activate(ctx context.Context, id uuid.UUID, at time.Time) error {
	a, ok := m.byID[id]
	if !ok {
		return ErrNoAssignment
	}
	a.IsActive = true
	a.ActivatedAt = &at
	a.DeactivatedAt = nil
	return nil
}

func (m *mockRepository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error {
	a, ok := m.byID[id]
	if !ok {
		return ErrNoAssignment
	}
	a.IsActive = false
	a.IsPrimary = false
	a.DeactivatedAt = &at
	return nil
}

func (m *mockRepository) SetPrimary(ctx context.Context, principalID, id uuid.UUID) error {
	target, ok := m.byID[id]
	if !ok || target.PrincipalID != principalID || !target.IsActive {
		return ErrNoAssignment
	}
	for _, a := range m.byID {
		if a.PrincipalID == principalID {
			a.IsPrimary = false
		}
	}
	target.IsPrimary = true
	return nil
}

func (m *mockRepository) UpdateCapabilities(ctx context.Context, id uuid.UUID, caps Capabilities) error {
	a, ok := m.byID[id]
	if !ok {
		return ErrNoAssignment
	}
	a.CanManageProperties = caps.ManageProperties
	a.CanManageResidents = caps.ManageResidents
	a.CanManageFinances = caps.ManageFinances
	a.CanViewReports = caps.ViewReports
	return nil
}

func ordinaryPrincipal() *shared.Principal {
	return &shared.Principal{ID: uuid.New(), Username: "alice", IsActive: true, Roles: []string{shared.RoleVillageAdmin}}
}

func TestHasScopeRequiresActiveAssignment(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()
	principal := ordinaryPrincipal()
	village := uuid.New()

	ok, err := svc.HasScope(ctx, principal, village)
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := svc.Assign(ctx, AssignInput{
		PrincipalID:  principal.ID,
		VillageID:    village,
		AssignedBy:   uuid.New(),
		Capabilities: Capabilities{ManageProperties: true},
	})
	require.NoError(t, err)

	ok, err = svc.HasScope(ctx, principal, village)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.Deactivate(ctx, a.ID))
	ok, err = svc.HasScope(ctx, principal, village)
	require.NoError(t, err)
	assert.False(t, ok, "deactivated assignment must not grant scope")
}

func TestHasScopeSuperadminBypass(t *testing.T) {
	svc := NewService(newMockRepository())
	admin := &shared.Principal{ID: uuid.New(), Roles: []string{shared.RoleSuperadmin}}

	ok, err := svc.HasScope(context.Background(), admin, uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasScopeCapability(context.Background(), admin, uuid.New(), CapManageFinances)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasScopeCapability(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()
	principal := ordinaryPrincipal()
	village := uuid.New()

	_, err := svc.Assign(ctx, AssignInput{
		PrincipalID:  principal.ID,
		VillageID:    village,
		AssignedBy:   uuid.New(),
		Capabilities: Capabilities{ManageProperties: true, ViewReports: true},
	})
	require.NoError(t, err)

	ok, err := svc.HasScopeCapability(ctx, principal, village, CapManageProperties)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasScopeCapability(ctx, principal, village, CapManageFinances)
	require.NoError(t, err)
	assert.False(t, ok, "missing capability flag must deny")
}

func TestAssignUpsertsExistingPair(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()
	principal := ordinaryPrincipal()
	village := uuid.New()

	first, err := svc.Assign(ctx, AssignInput{PrincipalID: principal.ID, VillageID: village, AssignedBy: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, first.ID))

	second, err := svc.Assign(ctx, AssignInput{
		PrincipalID:  principal.ID,
		VillageID:    village,
		AssignedBy:   uuid.New(),
		Capabilities: Capabilities{ManageFinances: true},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-assignment must update the existing row")
	assert.True(t, second.IsActive)
	assert.Nil(t, second.DeactivatedAt)
	assert.True(t, second.CanManageFinances)
	assert.Len(t, repo.byID, 1)
}

func TestSetPrimaryDemotesPrevious(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()
	principal := ordinaryPrincipal()

	a, err := svc.Assign(ctx, AssignInput{PrincipalID: principal.ID, VillageID: uuid.New(), AssignedBy: uuid.New(), IsPrimary: true})
	require.NoError(t, err)
	b, err := svc.Assign(ctx, AssignInput{PrincipalID: principal.ID, VillageID: uuid.New(), AssignedBy: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, svc.SetPrimary(ctx, b.ID))

	got, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPrimary)
	got, err = repo.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPrimary)
}

func TestActivateClearsDeactivatedAt(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()
	principal := ordinaryPrincipal()

	a, err := svc.Assign(ctx, AssignInput{PrincipalID: principal.ID, VillageID: uuid.New(), AssignedBy: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, a.ID))
	got, _ := repo.FindByID(ctx, a.ID)
	require.NotNil(t, got.DeactivatedAt)

	require.NoError(t, svc.Activate(ctx, a.ID))
	got, _ = repo.FindByID(ctx, a.ID)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.DeactivatedAt)
	require.NotNil(t, got.ActivatedAt)
	assert.False(t, got.ActivatedAt.Before(got.AssignedAt))
}
