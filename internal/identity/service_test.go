package identity

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/smartvillage/gatekeeper/internal/shared"
)

type mockRepository struct {
	users map[string]*User
}

func newMockRepository() *mockRepository {
	return &mockRepository{users: map[string]*User{}}
}

func (m *mockRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	u, ok := m.users[username]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return *u, nil
}

func (m *mockRepository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return *u, nil
		}
	}
	return User{}, shared.ErrNotFound
}

func (m *mockRepository) Create(ctx context.Context, u User) (User, error) {
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.Username] = &u
	return u, nil
}

func (m *mockRepository) RecordFailedLogin(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error {
	for _, u := range m.users {
		if u.ID == id {
			u.FailedLoginAttempts = attempts
			u.LockedUntil = lockedUntil
		}
	}
	return nil
}

func (m *mockRepository) ResetFailedLogins(ctx context.Context, id uuid.UUID) error {
	for _, u := range m.users {
		if u.ID == id {
			u.FailedLoginAttempts = 0
			u.LockedUntil = nil
		}
	}
	return nil
}

func newTestService(t *testing.T, repo RepositoryPort) *Service {
	t.Helper()
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), repo)
	return svc
}

func addUser(t *testing.T, repo *mockRepository, username, password string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &User{
		ID:           uuid.New(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		IsActive:     true,
		Roles:        []string{shared.RoleVillageAdmin},
	}
	repo.users[username] = u
	return u
}

func TestAuthenticateSuccess(t *testing.T) {
	repo := newMockRepository()
	addUser(t, repo, "alice", "s3cret-pass")
	svc := newTestService(t, repo)

	p, err := svc.Authenticate(context.Background(), "alice", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, "alice", p.Username)
	require.Contains(t, p.Roles, shared.RoleVillageAdmin)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	repo := newMockRepository()
	u := addUser(t, repo, "alice", "s3cret-pass")
	svc := newTestService(t, repo)

	_, err := svc.Authenticate(context.Background(), "alice", "nope")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	require.Equal(t, 1, u.FailedLoginAttempts)
	require.Nil(t, u.LockedUntil)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc := newTestService(t, newMockRepository())

	_, err := svc.Authenticate(context.Background(), "ghost", "whatever")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestFifthFailureLocksAccount(t *testing.T) {
	repo := newMockRepository()
	u := addUser(t, repo, "alice", "s3cret-pass")
	svc := newTestService(t, repo)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < MaxFailedLogins; i++ {
		_, err := svc.Authenticate(context.Background(), "alice", "nope")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}

	require.Equal(t, MaxFailedLogins, u.FailedLoginAttempts)
	require.NotNil(t, u.LockedUntil)
	require.Equal(t, base.Add(LockoutDuration), *u.LockedUntil)

	// Even the right password is refused while the lock holds.
	_, err := svc.Authenticate(context.Background(), "alice", "s3cret-pass")
	require.ErrorIs(t, err, shared.ErrAccountLocked)
}

func TestLockExpiresAndSuccessResetsCounter(t *testing.T) {
	repo := newMockRepository()
	u := addUser(t, repo, "alice", "s3cret-pass")
	until := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	u.FailedLoginAttempts = MaxFailedLogins
	u.LockedUntil = &until
	svc := newTestService(t, repo)
	svc.now = func() time.Time { return until.Add(time.Second) }

	p, err := svc.Authenticate(context.Background(), "alice", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, "alice", p.Username)
	require.Zero(t, u.FailedLoginAttempts)
	require.Nil(t, u.LockedUntil)
}

func TestInactiveAccountRefused(t *testing.T) {
	repo := newMockRepository()
	u := addUser(t, repo, "alice", "s3cret-pass")
	u.IsActive = false
	svc := newTestService(t, repo)

	_, err := svc.Authenticate(context.Background(), "alice", "s3cret-pass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRegisterHashesPassword(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo)

	p, err := svc.Register(context.Background(), RegisterInput{
		Username: "bob",
		Email:    "Bob@Example.com",
		Password: "long-enough-pass",
	})
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", p.Email)

	stored := repo.users["bob"]
	require.NotEqual(t, "long-enough-pass", stored.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("long-enough-pass")))
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := newTestService(t, newMockRepository())

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "short",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
