package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/smartvillage/gatekeeper/internal/shared"
)

// RepositoryPort is the persistence surface Service depends on.
type RepositoryPort interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByID(ctx context.Context, id uuid.UUID) (User, error)
	Create(ctx context.Context, u User) (User, error)
	RecordFailedLogin(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error
	ResetFailedLogins(ctx context.Context, id uuid.UUID) error
}

// Service implements credential checks with progressive lockout.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort

	now func() time.Time
}

// NewService constructs a Service.
func NewService(logger *slog.Logger, repo RepositoryPort) *Service {
	return &Service{logger: logger, repo: repo, now: time.Now}
}

// Authenticate verifies a username/password pair. Wrong passwords bump
// a per-account counter; the fifth consecutive failure locks the
// account for thirty minutes. A successful login resets the counter.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*shared.Principal, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("identity: lookup %q: %w", username, err)
	}

	now := s.now().UTC()
	if user.Locked(now) {
		return nil, shared.ErrAccountLocked
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		attempts := user.FailedLoginAttempts + 1
		var lockedUntil *time.Time
		if attempts >= MaxFailedLogins {
			until := now.Add(LockoutDuration)
			lockedUntil = &until
			s.logger.Warn("account locked after repeated failures",
				slog.String("username", user.Username),
				slog.Time("locked_until", until),
			)
		}
		if err := s.repo.RecordFailedLogin(ctx, user.ID, attempts, lockedUntil); err != nil {
			s.logger.Error("record failed login", slog.Any("error", err))
		}
		return nil, shared.ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		if err := s.repo.ResetFailedLogins(ctx, user.ID); err != nil {
			s.logger.Error("reset failed logins", slog.Any("error", err))
		}
	}
	return principalOf(user), nil
}

// Lookup loads a fresh principal by id. Token middleware calls this on
// every request so role changes and lockouts take effect immediately.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*shared.Principal, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return principalOf(user), nil
}

// RegisterInput carries the fields for account creation.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Register creates a new active account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*shared.Principal, error) {
	in.Username = strings.TrimSpace(in.Username)
	if len(in.Password) < MinPasswordLength {
		return nil, shared.ErrValidation
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}
	user, err := s.repo.Create(ctx, User{
		ID:           uuid.New(),
		Username:     in.Username,
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		return nil, err
	}
	return principalOf(user), nil
}

func principalOf(u User) *shared.Principal {
	return &shared.Principal{
		ID:                  u.ID,
		Username:            u.Username,
		Email:               u.Email,
		IsActive:            u.IsActive,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockedUntil:         u.LockedUntil,
		Roles:               u.Roles,
	}
}
