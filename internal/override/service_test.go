package override

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	grants      map[uuid.UUID]*Grant
	insertError error
}

func newMockRepository() *mockRepository {
	return &mockRepository{grants: make(map[uuid.UUID]*Grant)}
}

func (m *mockRepository) Insert(ctx context.Context, g Grant) error {
	if m.insertError != nil {
		return m.insertError
	}
	stored := g
	m.grants[g.ID] = &stored
	return nil
}

func (m *mockRepository) FindByID(ctx context.Context, id uuid.UUID) (Grant, error) {
	g, ok := m.grants[id]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	return *g, nil
}

func (m *mockRepository) FindMatch(ctx context.Context, principalID uuid.UUID, resource, targetID, action string, now time.Time) (Grant, error) {
	var candidates []*Grant
	for _, g := range m.grants {
		if g.PrincipalID == principalID && g.Matches(resource, targetID, action, now) {
			candidates = append(candidates, g)
		}
	}
	if len(candidates) == 0 {
		return Grant{}, ErrGrantNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return *candidates[0], nil
}

func (m *mockRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	g, ok := m.grants[id]
	if !ok {
		return ErrGrantNotFound
	}
	if !g.IsActive {
		return ErrGrantAlreadyInvalid
	}
	g.IsActive = false
	return nil
}

func (m *mockRepository) Extend(ctx context.Context, id uuid.UUID, expiresAt time.Time) (Grant, error) {
	g, ok := m.grants[id]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	if !g.IsActive {
		return Grant{}, ErrGrantAlreadyInvalid
	}
	g.ExpiresAt = expiresAt
	return *g, nil
}

func (m *mockRepository) Sweep(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for _, g := range m.grants {
		if g.IsActive && !g.ExpiresAt.After(now) {
			g.IsActive = false
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) List(ctx context.Context, filter ListFilter, now time.Time) ([]Grant, int, error) {
	var out []Grant
	for _, g := range m.grants {
		switch filter.Status {
		case "active":
			if !g.Valid(now) {
				continue
			}
		case "expired":
			if g.Valid(now) {
				continue
			}
		}
		out = append(out, *g)
	}
	return out, len(out), nil
}

func (m *mockRepository) History(ctx context.Context, principalID *uuid.UUID, resource string, since time.Time) ([]Grant, error) {
	var out []Grant
	for _, g := range m.grants {
		if g.CreatedAt.Before(since) {
			continue
		}
		if principalID != nil && g.PrincipalID != *principalID {
			continue
		}
		if resource != "" && g.TargetResource != resource {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func (m *mockRepository) Statistics(ctx context.Context, since, now time.Time) (Statistics, error) {
	return Statistics{}, nil
}

func strPtr(s string) *string { return &s }

func newTestService(repo RepositoryPort) (*Service, *time.Time) {
	svc := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	return svc, &clock
}

func TestCreateAndMatchRoundTrip(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	alice := uuid.New()

	g, err := svc.Create(ctx, CreateInput{
		PrincipalID:    alice,
		TargetResource: "villages",
		TargetID:       strPtr("V1"),
		Action:         "update",
		Reason:         "production incident, fixing broken records",
		ValidityHours:  1,
	})
	require.NoError(t, err)

	matched, err := svc.Match(ctx, alice, "villages", "V1", "update")
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, g.ID, matched.ID)

	// Different target id does not match a concrete-target grant.
	matched, err = svc.Match(ctx, alice, "villages", "V2", "update")
	require.NoError(t, err)
	assert.Nil(t, matched)

	// Different action never matches.
	matched, err = svc.Match(ctx, alice, "villages", "V1", "delete")
	require.NoError(t, err)
	assert.Nil(t, matched)
}

func TestWildcardTargetMatchesAnyID(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	alice := uuid.New()

	_, err := svc.Create(ctx, CreateInput{
		PrincipalID:    alice,
		TargetResource: "villages",
		Action:         "update",
		Reason:         "bulk correction across all villages",
		ValidityHours:  1,
	})
	require.NoError(t, err)

	for _, target := range []string{"V1", "V2", ""} {
		matched, err := svc.Match(ctx, alice, "villages", target, "update")
		require.NoError(t, err)
		assert.NotNil(t, matched, "wildcard grant should match target %q", target)
	}
}

func TestMatchReturnsMostRecentGrant(t *testing.T) {
	repo := newMockRepository()
	svc, clock := newTestService(repo)
	ctx := context.Background()
	alice := uuid.New()

	first, err := svc.Create(ctx, CreateInput{
		PrincipalID: alice, TargetResource: "villages", Action: "update",
		Reason: "first incident grant", ValidityHours: 2,
	})
	require.NoError(t, err)

	*clock = clock.Add(10 * time.Minute)
	second, err := svc.Create(ctx, CreateInput{
		PrincipalID: alice, TargetResource: "villages", Action: "update",
		Reason: "second incident grant", ValidityHours: 2,
	})
	require.NoError(t, err)

	matched, err := svc.Match(ctx, alice, "villages", "V1", "update")
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, second.ID, matched.ID)
	assert.NotEqual(t, first.ID, matched.ID)
}

func TestMatchRejectsExpiredGrantBeforeSweep(t *testing.T) {
	repo := newMockRepository()
	svc, clock := newTestService(repo)
	ctx := context.Background()
	alice := uuid.New()

	g, err := svc.Create(ctx, CreateInput{
		PrincipalID: alice, TargetResource: "villages", Action: "update",
		Reason: "short lived incident grant", ValidityHours: 1,
	})
	require.NoError(t, err)

	*clock = clock.Add(2 * time.Hour)

	// No sweep has run: the stored flag still says active, but the
	// live check must reject.
	assert.True(t, repo.grants[g.ID].IsActive)
	matched, err := svc.Match(ctx, alice, "villages", "V1", "update")
	require.NoError(t, err)
	assert.Nil(t, matched)
}

func TestCreateValidation(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		PrincipalID: uuid.New(), TargetResource: "villages", Action: "update",
		Reason: "too short", ValidityHours: 1,
	})
	assert.ErrorIs(t, err, ErrReasonTooShort)

	_, err = svc.Create(ctx, CreateInput{
		PrincipalID: uuid.New(), TargetResource: "villages", Action: "update",
		Reason: "a perfectly valid reason", ValidityHours: 25,
	})
	assert.ErrorIs(t, err, ErrValidityOutOfBounds)

	_, err = svc.Create(ctx, CreateInput{
		PrincipalID: uuid.New(), TargetResource: "villages", Action: "update",
		Reason: "a perfectly valid reason", ValidityHours: 0.05,
	})
	assert.ErrorIs(t, err, ErrValidityOutOfBounds)
}

func TestCreateDefaultsToOneHour(t *testing.T) {
	repo := newMockRepository()
	svc, clock := newTestService(repo)

	g, err := svc.Create(context.Background(), CreateInput{
		PrincipalID: uuid.New(), TargetResource: "villages", Action: "update",
		Reason: "validity hours omitted on purpose",
	})
	require.NoError(t, err)
	assert.Equal(t, clock.Add(time.Hour), g.ExpiresAt)
}

func TestRevokeIsConflictSecondTime(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	admin := uuid.New()

	g, err := svc.Create(ctx, CreateInput{
		PrincipalID: admin, TargetResource: "villages", Action: "update",
		Reason: "incident grant to be revoked", ValidityHours: 1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, g.ID, admin))
	err = svc.Revoke(ctx, g.ID, admin)
	assert.ErrorIs(t, err, ErrGrantAlreadyInvalid)

	matched, err := svc.Match(ctx, admin, "villages", "V1", "update")
	require.NoError(t, err)
	assert.Nil(t, matched, "revoked grant must not match")
}

func TestRevokeUnknownGrant(t *testing.T) {
	svc, _ := newTestService(newMockRepository())
	err := svc.Revoke(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrGrantNotFound)
}

func TestExtendResetsExpiry(t *testing.T) {
	repo := newMockRepository()
	svc, clock := newTestService(repo)
	ctx := context.Background()
	admin := uuid.New()

	g, err := svc.Create(ctx, CreateInput{
		PrincipalID: admin, TargetResource: "villages", Action: "update",
		Reason: "incident grant to be extended", ValidityHours: 6,
	})
	require.NoError(t, err)
	originalExpiry := g.ExpiresAt

	*clock = clock.Add(time.Hour)
	extended, err := svc.Extend(ctx, g.ID, 2, admin)
	require.NoError(t, err)

	// Reset semantics: new expiry is now+2h, not old expiry + 2h.
	assert.Equal(t, clock.Add(2*time.Hour), extended.ExpiresAt)
	assert.NotEqual(t, originalExpiry.Add(2*time.Hour), extended.ExpiresAt)
}

func TestExtendRevokedGrantFails(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	admin := uuid.New()

	g, err := svc.Create(ctx, CreateInput{
		PrincipalID: admin, TargetResource: "villages", Action: "update",
		Reason: "incident grant, revoke then extend", ValidityHours: 6,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, g.ID, admin))

	// Still unexpired, but revoked grants are not extendable.
	_, err = svc.Extend(ctx, g.ID, 2, admin)
	assert.ErrorIs(t, err, ErrGrantAlreadyInvalid)
}

func TestExtendBounds(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	admin := uuid.New()

	g, err := svc.Create(ctx, CreateInput{
		PrincipalID: admin, TargetResource: "villages", Action: "update",
		Reason: "incident grant for bounds test", ValidityHours: 1,
	})
	require.NoError(t, err)

	_, err = svc.Extend(ctx, g.ID, 13, admin)
	assert.ErrorIs(t, err, ErrValidityOutOfBounds)
}

func TestSweepDeactivatesOnlyExpired(t *testing.T) {
	repo := newMockRepository()
	svc, clock := newTestService(repo)
	ctx := context.Background()
	admin := uuid.New()

	short, err := svc.Create(ctx, CreateInput{
		PrincipalID: admin, TargetResource: "villages", Action: "update",
		Reason: "short lived incident grant", ValidityHours: 1,
	})
	require.NoError(t, err)
	long, err := svc.Create(ctx, CreateInput{
		PrincipalID: admin, TargetResource: "villages", Action: "delete",
		Reason: "longer lived incident grant", ValidityHours: 12,
	})
	require.NoError(t, err)

	*clock = clock.Add(2 * time.Hour)
	count, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.False(t, repo.grants[short.ID].IsActive)
	assert.True(t, repo.grants[long.ID].IsActive)

	// Sweep is idempotent.
	count, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGrantTimeRemaining(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := Grant{IsActive: true, CreatedAt: now, ExpiresAt: now.Add(90 * time.Minute)}

	assert.Equal(t, 5400, g.TimeRemaining(now))
	assert.Equal(t, 90, g.DurationMinutes())
	assert.Zero(t, g.TimeRemaining(now.Add(2*time.Hour)))
}
