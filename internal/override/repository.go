package override

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const grantColumns = `id, user_id, target_resource, target_id, action, reason,
	original_permission, requires_approval, approved_by, approved_at,
	is_active, expires_at, created_at, ip_address, user_agent`

// Repository provides PostgreSQL backed persistence for grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanGrant(row pgx.Row) (Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.PrincipalID, &g.TargetResource, &g.TargetID, &g.Action, &g.Reason,
		&g.OriginalPermission, &g.RequiresApproval, &g.ApprovedBy, &g.ApprovedAt,
		&g.IsActive, &g.ExpiresAt, &g.CreatedAt, &g.IPAddress, &g.UserAgent)
	return g, err
}

// Insert stores a new grant.
func (r *Repository) Insert(ctx context.Context, g Grant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO emergency_overrides (id, user_id, target_resource, target_id, action, reason,
			original_permission, requires_approval, approved_by, approved_at,
			is_active, expires_at, created_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		g.ID, g.PrincipalID, g.TargetResource, g.TargetID, g.Action, g.Reason,
		g.OriginalPermission, g.RequiresApproval, g.ApprovedBy, g.ApprovedAt,
		g.IsActive, g.ExpiresAt, g.CreatedAt, g.IPAddress, g.UserAgent)
	if err != nil {
		return fmt.Errorf("override: insert grant: %w", err)
	}
	return nil
}

// FindByID returns a grant by id, or ErrGrantNotFound.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (Grant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+grantColumns+` FROM emergency_overrides WHERE id = $1`, id)
	g, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Grant{}, ErrGrantNotFound
	}
	return g, err
}

// FindMatch returns the most recent live grant matching the request,
// or ErrGrantNotFound. Matching never mutates grant state; expiry is
// checked against the clock here, not against the stale flag alone.
func (r *Repository) FindMatch(ctx context.Context, principalID uuid.UUID, resource, targetID, action string, now time.Time) (Grant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM emergency_overrides
		WHERE user_id = $1
		  AND target_resource = $2
		  AND action = $3
		  AND is_active
		  AND expires_at > $4
		  AND (target_id IS NULL OR target_id = $5)
		ORDER BY created_at DESC
		LIMIT 1`, principalID, resource, action, now, targetID)
	g, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Grant{}, ErrGrantNotFound
	}
	return g, err
}

// Revoke atomically deactivates a live grant. The conditional update
// makes a concurrent revoke/sweep race resolve to exactly one winner;
// the loser sees zero rows and reports the conflict.
func (r *Repository) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE emergency_overrides SET is_active = FALSE
		WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id)
	}
	return nil
}

// Extend atomically resets the expiry of a live grant to the given
// instant. Revoked grants are not extendable even when unexpired.
func (r *Repository) Extend(ctx context.Context, id uuid.UUID, expiresAt time.Time) (Grant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE emergency_overrides SET expires_at = $2
		WHERE id = $1 AND is_active
		RETURNING `+grantColumns, id, expiresAt)
	g, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Grant{}, r.conflictOrNotFound(ctx, id)
	}
	return g, err
}

func (r *Repository) conflictOrNotFound(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM emergency_overrides WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrGrantNotFound
	}
	return ErrGrantAlreadyInvalid
}

// Sweep bulk-deactivates expired-but-still-flagged grants and returns
// the number flipped. Bookkeeping only; Match never relies on it.
func (r *Repository) Sweep(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE emergency_overrides SET is_active = FALSE
		WHERE is_active AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("override: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns grants matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter, now time.Time) ([]Grant, int, error) {
	where := ` WHERE TRUE`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch filter.Status {
	case "active":
		where += ` AND is_active AND expires_at > ` + arg(now)
	case "expired":
		where += ` AND (NOT is_active OR expires_at <= ` + arg(now) + `)`
	}
	if filter.Resource != "" {
		where += ` AND target_resource = ` + arg(filter.Resource)
	}
	if filter.PrincipalID != nil {
		where += ` AND user_id = ` + arg(*filter.PrincipalID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emergency_overrides`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + grantColumns + ` FROM emergency_overrides` + where +
		` ORDER BY created_at DESC LIMIT ` + arg(filter.PerPage) + ` OFFSET ` + arg((filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, 0, err
		}
		grants = append(grants, g)
	}
	return grants, total, rows.Err()
}

// History returns grants created within the trailing window of days.
func (r *Repository) History(ctx context.Context, principalID *uuid.UUID, resource string, since time.Time) ([]Grant, error) {
	where := ` WHERE created_at >= $1`
	args := []any{since}
	if principalID != nil {
		args = append(args, *principalID)
		where += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if resource != "" {
		args = append(args, resource)
		where += fmt.Sprintf(` AND target_resource = $%d`, len(args))
	}
	rows, err := r.pool.Query(ctx, `SELECT `+grantColumns+` FROM emergency_overrides`+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Statistics aggregates grant usage since the given instant.
func (r *Repository) Statistics(ctx context.Context, since, now time.Time) (Statistics, error) {
	var stats Statistics
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_active AND expires_at > $2)
		FROM emergency_overrides WHERE created_at >= $1`, since, now).
		Scan(&stats.TotalGrants, &stats.ActiveGrants)
	if err != nil {
		return Statistics{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT target_resource, COUNT(*) FROM emergency_overrides
		WHERE created_at >= $1 GROUP BY target_resource ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var rc ResourceCount
		if err := rows.Scan(&rc.Resource, &rc.Count); err != nil {
			return Statistics{}, err
		}
		stats.ByResource = append(stats.ByResource, rc)
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, err
	}

	userRows, err := r.pool.Query(ctx, `
		SELECT user_id, COUNT(*) FROM emergency_overrides
		WHERE created_at >= $1 GROUP BY user_id ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return Statistics{}, err
	}
	defer userRows.Close()
	for userRows.Next() {
		var pc PrincipalCount
		if err := userRows.Scan(&pc.PrincipalID, &pc.Count); err != nil {
			return Statistics{}, err
		}
		stats.ByPrincipal = append(stats.ByPrincipal, pc)
	}
	return stats, userRows.Err()
}
