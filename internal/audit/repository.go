package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `id, ts, actor_id, actor_name, action, resource, target_id,
	decision, allowed, override_grant_id, duration_ms, client_ip, user_agent`

// Repository provides PostgreSQL backed persistence for audit entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one entry. There is no update or delete counterpart
// on purpose.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_entries (ts, actor_id, actor_name, action, resource, target_id,
			decision, allowed, override_grant_id, duration_ms, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.Timestamp, e.ActorID, e.ActorName, e.Action, e.Resource, e.TargetID,
		e.Decision, e.Allowed, e.OverrideGrantID, e.DurationMS, e.ClientIP, e.UserAgent)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// TimelineWindow returns up to limit entries matching the filters,
// newest first, skipping offset rows.
func (r *Repository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	query, args := timelineQuery(filters)
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	args = append(args, offset)
	query += fmt.Sprintf(` OFFSET $%d`, len(args))
	return r.query(ctx, query, args)
}

// TimelineAll returns every entry matching the filters, newest first.
func (r *Repository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	query, args := timelineQuery(filters)
	return r.query(ctx, query, args)
}

func timelineQuery(filters TimelineFilters) (string, []any) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filters.From.IsZero() {
		query += ` AND ts >= ` + arg(filters.From)
	}
	if !filters.To.IsZero() {
		query += ` AND ts <= ` + arg(filters.To)
	}
	if filters.Actor != "" {
		query += ` AND actor_name = ` + arg(filters.Actor)
	}
	if filters.Resource != "" {
		query += ` AND resource = ` + arg(filters.Resource)
	}
	if filters.Action != "" {
		query += ` AND action = ` + arg(filters.Action)
	}
	if filters.Decision != "" {
		query += ` AND decision = ` + arg(filters.Decision)
	}
	query += ` ORDER BY ts DESC`
	return query, args
}

func (r *Repository) query(ctx context.Context, query string, args []any) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.ActorName, &e.Action, &e.Resource, &e.TargetID,
		&e.Decision, &e.Allowed, &e.OverrideGrantID, &e.DurationMS, &e.ClientIP, &e.UserAgent)
	return e, err
}
