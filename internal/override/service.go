package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrGrantNotFound indicates an unknown grant id.
	ErrGrantNotFound = errors.New("override: grant not found")
	// ErrGrantAlreadyInvalid indicates a revoke or extend against a
	// grant that is no longer active.
	ErrGrantAlreadyInvalid = errors.New("override: grant already invalid")
	// ErrValidityOutOfBounds indicates a validity window outside the
	// permitted range.
	ErrValidityOutOfBounds = errors.New("override: validity hours out of bounds")
	// ErrReasonTooShort indicates an insufficient justification.
	ErrReasonTooShort = errors.New("override: reason too short")
)

// RepositoryPort defines data access methods for grants.
type RepositoryPort interface {
	Insert(ctx context.Context, g Grant) error
	FindByID(ctx context.Context, id uuid.UUID) (Grant, error)
	FindMatch(ctx context.Context, principalID uuid.UUID, resource, targetID, action string, now time.Time) (Grant, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	Extend(ctx context.Context, id uuid.UUID, expiresAt time.Time) (Grant, error)
	Sweep(ctx context.Context, now time.Time) (int64, error)
	List(ctx context.Context, filter ListFilter, now time.Time) ([]Grant, int, error)
	History(ctx context.Context, principalID *uuid.UUID, resource string, since time.Time) ([]Grant, error)
	Statistics(ctx context.Context, since, now time.Time) (Statistics, error)
}

// Service manages the lifecycle of emergency override grants. This is
// the engine's only intentional back door, so every lifecycle event is
// logged at warn level for forensic visibility.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// CreateInput carries the fields needed to create a grant.
type CreateInput struct {
	PrincipalID        uuid.UUID
	TargetResource     string
	TargetID           *string
	Action             string
	Reason             string
	OriginalPermission string
	ValidityHours      float64
	IPAddress          string
	UserAgent          string
}

// Create issues a new grant. The caller must already hold the
// audit.emergency_override permission; that check belongs to the
// gateway and handler, not here.
func (s *Service) Create(ctx context.Context, in CreateInput) (Grant, error) {
	if in.TargetResource == "" || in.Action == "" {
		return Grant{}, fmt.Errorf("override: target_resource and action are required")
	}
	reason := strings.TrimSpace(in.Reason)
	if len(reason) < MinReasonLength {
		return Grant{}, fmt.Errorf("%w: need at least %d characters", ErrReasonTooShort, MinReasonLength)
	}
	hours := in.ValidityHours
	if hours == 0 {
		hours = DefaultValidityHours
	}
	if hours < MinValidityHours || hours > MaxValidityHours {
		return Grant{}, fmt.Errorf("%w: %.2f not in [%.1f, %.0f]", ErrValidityOutOfBounds, hours, MinValidityHours, float64(MaxValidityHours))
	}

	now := s.now().UTC()
	g := Grant{
		ID:                 uuid.New(),
		PrincipalID:        in.PrincipalID,
		TargetResource:     in.TargetResource,
		TargetID:           in.TargetID,
		Action:             in.Action,
		Reason:             reason,
		OriginalPermission: in.OriginalPermission,
		IsActive:           true,
		ExpiresAt:          now.Add(hoursToDuration(hours)),
		CreatedAt:          now,
		IPAddress:          in.IPAddress,
		UserAgent:          in.UserAgent,
	}
	if err := s.repo.Insert(ctx, g); err != nil {
		return Grant{}, err
	}

	s.logger.Warn("emergency override created",
		slog.String("grant_id", g.ID.String()),
		slog.String("user_id", g.PrincipalID.String()),
		slog.String("resource", g.TargetResource),
		slog.String("action", g.Action),
		slog.Any("target_id", in.TargetID),
		slog.Time("expires_at", g.ExpiresAt),
		slog.String("reason", reason),
	)
	return g, nil
}

// Match returns the live grant deciding the request, if any. The most
// recently created qualifying grant wins. Read-only.
func (s *Service) Match(ctx context.Context, principalID uuid.UUID, resource, targetID, action string) (*Grant, error) {
	g, err := s.repo.FindMatch(ctx, principalID, resource, targetID, action, s.now().UTC())
	if errors.Is(err, ErrGrantNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Revoke deactivates a grant. Irreversible; revoking an already
// invalid grant reports ErrGrantAlreadyInvalid.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, revokedBy uuid.UUID) error {
	if err := s.repo.Revoke(ctx, id); err != nil {
		return err
	}
	s.logger.Warn("emergency override revoked",
		slog.String("grant_id", id.String()),
		slog.String("revoked_by", revokedBy.String()),
	)
	return nil
}

// Extend resets a live grant's expiry to now + hours. A reset, not an
// accumulation: the previous expiry does not carry over.
func (s *Service) Extend(ctx context.Context, id uuid.UUID, hours float64, extendedBy uuid.UUID) (Grant, error) {
	if hours < MinValidityHours || hours > MaxExtensionHours {
		return Grant{}, fmt.Errorf("%w: %.2f not in [%.1f, %.0f]", ErrValidityOutOfBounds, hours, MinValidityHours, float64(MaxExtensionHours))
	}
	now := s.now().UTC()
	g, err := s.repo.Extend(ctx, id, now.Add(hoursToDuration(hours)))
	if err != nil {
		return Grant{}, err
	}
	s.logger.Warn("emergency override extended",
		slog.String("grant_id", id.String()),
		slog.String("extended_by", extendedBy.String()),
		slog.Time("expires_at", g.ExpiresAt),
	)
	return g, nil
}

// Sweep bulk-deactivates expired grants and returns the count. Purely
// housekeeping; validity is always recomputed live during Match.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	count, err := s.repo.Sweep(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("emergency override sweep", slog.Int64("deactivated", count))
	}
	return count, nil
}

// Get returns a grant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Grant, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns grants matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Grant, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}
	return s.repo.List(ctx, filter, s.now().UTC())
}

// History returns grants created within the trailing number of days.
func (s *Service) History(ctx context.Context, principalID *uuid.UUID, resource string, days int) ([]Grant, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	return s.repo.History(ctx, principalID, resource, since)
}

// Statistics aggregates grant usage over the trailing number of days.
func (s *Service) Statistics(ctx context.Context, days int) (Statistics, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	now := s.now().UTC()
	return s.repo.Statistics(ctx, now.AddDate(0, 0, -days), now)
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
