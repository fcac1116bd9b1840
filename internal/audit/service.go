package audit

import (
	"context"
	"fmt"
	"log/slog"
)

// Recorder is the append side of the sink, the only interface the
// gateway needs.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// RepositoryPort defines data access methods for entries.
type RepositoryPort interface {
	Insert(ctx context.Context, e Entry) error
	TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error)
	TimelineAll(ctx context.Context, filters TimelineFilters) ([]Entry, error)
}

// Service coordinates recording and querying of audit entries.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Record appends one entry and mirrors it to the application log.
// Decisions that rode on an emergency grant log at warn level so they
// stand out in forensics.
func (s *Service) Record(ctx context.Context, e Entry) error {
	attrs := []any{
		slog.String("actor", e.ActorName),
		slog.String("action", e.Action),
		slog.String("resource", e.Resource),
		slog.String("target_id", e.TargetID),
		slog.String("decision", e.Decision),
		slog.Bool("allowed", e.Allowed),
		slog.Float64("duration_ms", e.DurationMS),
	}
	if e.OverrideGrantID != nil {
		attrs = append(attrs, slog.String("override_grant_id", e.OverrideGrantID.String()))
		s.logger.Warn("audit", attrs...)
	} else {
		s.logger.Info("audit", attrs...)
	}
	return s.repo.Insert(ctx, e)
}

// Timeline returns audit entries with paging. One extra row is fetched
// to detect whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching entry without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.TimelineAll(ctx, filters)
}
