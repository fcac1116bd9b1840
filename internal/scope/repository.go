package scope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartvillage/gatekeeper/internal/platform/db"
)

const assignmentColumns = `id, user_id, village_id, assigned_by, assignment_type,
	can_manage_properties, can_manage_residents, can_manage_finances, can_view_reports,
	is_active, is_primary, assigned_at, activated_at, deactivated_at`

// Repository provides PostgreSQL backed persistence for village
// assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.PrincipalID, &a.VillageID, &a.AssignedBy, &a.AssignmentType,
		&a.CanManageProperties, &a.CanManageResidents, &a.CanManageFinances, &a.CanViewReports,
		&a.IsActive, &a.IsPrimary, &a.AssignedAt, &a.ActivatedAt, &a.DeactivatedAt)
	return a, err
}

// Upsert inserts a new assignment or refreshes the existing row for
// the (principal, village) pair. The unique constraint on the pair is
// what enforces the at-most-one invariant; re-assignment never
// duplicates.
func (r *Repository) Upsert(ctx context.Context, a Assignment) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO user_villages (id, user_id, village_id, assigned_by, assignment_type,
			can_manage_properties, can_manage_residents, can_manage_finances, can_view_reports,
			is_active, is_primary, assigned_at, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, village_id) DO UPDATE SET
			assigned_by = EXCLUDED.assigned_by,
			assignment_type = EXCLUDED.assignment_type,
			can_manage_properties = EXCLUDED.can_manage_properties,
			can_manage_residents = EXCLUDED.can_manage_residents,
			can_manage_finances = EXCLUDED.can_manage_finances,
			can_view_reports = EXCLUDED.can_view_reports,
			is_active = EXCLUDED.is_active,
			activated_at = EXCLUDED.activated_at,
			deactivated_at = NULL
		RETURNING `+assignmentColumns,
		a.ID, a.PrincipalID, a.VillageID, a.AssignedBy, a.AssignmentType,
		a.CanManageProperties, a.CanManageResidents, a.CanManageFinances, a.CanViewReports,
		a.IsActive, a.IsPrimary, a.AssignedAt, a.ActivatedAt)
	return scanAssignment(row)
}

// FindActive returns the active assignment for the pair, or
// ErrNoAssignment.
func (r *Repository) FindActive(ctx context.Context, principalID, villageID uuid.UUID) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM user_villages
		WHERE user_id = $1 AND village_id = $2 AND is_active`, principalID, villageID)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, ErrNoAssignment
	}
	return a, err
}

// FindByID returns an assignment by id, or ErrNoAssignment.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM user_villages WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, ErrNoAssignment
	}
	return a, err
}

// ListByPrincipal returns assignments for a principal, optionally only
// active ones.
func (r *Repository) ListByPrincipal(ctx context.Context, principalID uuid.UUID, activeOnly bool) ([]Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM user_villages WHERE user_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY assigned_at DESC`
	return r.list(ctx, query, principalID)
}

// ListByVillage returns assignments for a village, optionally only
// active ones.
func (r *Repository) ListByVillage(ctx context.Context, villageID uuid.UUID, activeOnly bool) ([]Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM user_villages WHERE village_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY assigned_at DESC`
	return r.list(ctx, query, villageID)
}

func (r *Repository) list(ctx context.Context, query string, arg any) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Activate flips the assignment on, stamping activated_at and clearing
// deactivated_at. Timestamp maintenance is this operation's explicit
// job, not a storage-layer hook.
func (r *Repository) Activate(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_villages
		SET is_active = TRUE, activated_at = $2, deactivated_at = NULL
		WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoAssignment
	}
	return nil
}

// Deactivate flips the assignment off, stamping deactivated_at. A
// primary assignment loses its primary flag on deactivation.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_villages
		SET is_active = FALSE, is_primary = FALSE, deactivated_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoAssignment
	}
	return nil
}

// SetPrimary marks one assignment as the principal's primary village,
// demoting any previous primary in the same transaction.
func (r *Repository) SetPrimary(ctx context.Context, principalID, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE user_villages SET is_primary = FALSE
			WHERE user_id = $1 AND is_primary AND id <> $2`, principalID, id); err != nil {
			return fmt.Errorf("scope: demote primary: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE user_villages SET is_primary = TRUE
			WHERE id = $1 AND user_id = $2 AND is_active`, id, principalID)
		if err != nil {
			return fmt.Errorf("scope: promote primary: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNoAssignment
		}
		return nil
	})
}

// UpdateCapabilities replaces the capability flags on an assignment.
func (r *Repository) UpdateCapabilities(ctx context.Context, id uuid.UUID, caps Capabilities) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_villages
		SET can_manage_properties = $2, can_manage_residents = $3,
			can_manage_finances = $4, can_view_reports = $5
		WHERE id = $1`,
		id, caps.ManageProperties, caps.ManageResidents, caps.ManageFinances, caps.ViewReports)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoAssignment
	}
	return nil
}
