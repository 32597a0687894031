// Package repository persists deal activities and duplicate-activity records.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"insight_backoffice_backend/platform/apperr"
)

// Activity is one entry in a deal's history. Stage changes carry the from/to
// stage pair; audit entries from the reconciliation routines carry a type and
// description only.
type Activity struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	DealID         uuid.UUID
	Type           string
	FromStageID    *uuid.UUID
	ToStageID      *uuid.UUID
	ActorID        *uuid.UUID
	Description    string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Activity types written by this application.
const (
	TypeStageChange = "stage_change"
	TypeDistributed = "distributed"
	TypeReplicated  = "replicated"
	TypePromoted    = "promoted"
)

// DuplicateRecord flags a stage-change recorded twice in rapid succession.
type DuplicateRecord struct {
	ID                 uuid.UUID
	OrganizationID     uuid.UUID
	DealID             uuid.UUID
	ActivityID         uuid.UUID
	PreviousActivityID uuid.UUID
	FromStageID        *uuid.UUID
	ToStageID          *uuid.UUID
	GapSeconds         int
	Status             string
	DetectedAt         time.Time
	ReviewedBy         *uuid.UUID
	ReviewedAt         *time.Time
}

// Duplicate record review statuses.
const (
	StatusPending = "pending"
	StatusIgnored = "ignored"
	StatusDeleted = "deleted"
)

// Repo implements activity persistence with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new activities repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Log appends an activity to a deal's history.
func (r *Repo) Log(ctx context.Context, a Activity) (uuid.UUID, error) {
	meta, err := json.Marshal(metaOrEmpty(a.Metadata))
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode activity metadata: %w", err)
	}

	query := `INSERT INTO deal_activities
			(organization_id, deal_id, activity_type, from_stage_id, to_stage_id, actor_id, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id uuid.UUID
	err = r.pool.QueryRow(ctx, query,
		a.OrganizationID, a.DealID, a.Type, a.FromStageID, a.ToStageID, a.ActorID, a.Description, meta,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("log activity: %w", err)
	}
	return id, nil
}

// ListStageChanges returns stage-change activities ordered for duplicate
// scanning: grouped by deal and transition, oldest first. A nil dealID scans
// the whole organization.
func (r *Repo) ListStageChanges(ctx context.Context, organizationID uuid.UUID, dealID *uuid.UUID) ([]Activity, error) {
	query := `SELECT id, organization_id, deal_id, activity_type, from_stage_id, to_stage_id, actor_id, description, created_at
		FROM deal_activities
		WHERE organization_id = $1
			AND activity_type = $2
			AND ($3::uuid IS NULL OR deal_id = $3)
		ORDER BY deal_id, from_stage_id, to_stage_id, created_at`

	rows, err := r.pool.Query(ctx, query, organizationID, TypeStageChange, dealID)
	if err != nil {
		return nil, fmt.Errorf("list stage changes: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.DealID, &a.Type, &a.FromStageID, &a.ToStageID, &a.ActorID, &a.Description, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertDuplicate records a flagged pair. The unique constraint on
// (activity_id, previous_activity_id) makes repeat scans idempotent; returns
// false when the pair was already flagged.
func (r *Repo) InsertDuplicate(ctx context.Context, d DuplicateRecord) (bool, error) {
	query := `INSERT INTO duplicate_activities
			(organization_id, deal_id, activity_id, previous_activity_id, from_stage_id, to_stage_id, gap_seconds, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (activity_id, previous_activity_id) DO NOTHING
		RETURNING id`

	var id uuid.UUID
	err := r.pool.QueryRow(ctx, query,
		d.OrganizationID, d.DealID, d.ActivityID, d.PreviousActivityID,
		d.FromStageID, d.ToStageID, d.GapSeconds, StatusPending,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert duplicate record: %w", err)
	}
	return true, nil
}

// ListDuplicates returns duplicate records, optionally filtered by status.
func (r *Repo) ListDuplicates(ctx context.Context, organizationID uuid.UUID, status string) ([]DuplicateRecord, error) {
	query := `SELECT id, organization_id, deal_id, activity_id, previous_activity_id,
			from_stage_id, to_stage_id, gap_seconds, status, detected_at, reviewed_by, reviewed_at
		FROM duplicate_activities
		WHERE organization_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY detected_at DESC`

	rows, err := r.pool.Query(ctx, query, organizationID, status)
	if err != nil {
		return nil, fmt.Errorf("list duplicate records: %w", err)
	}
	defer rows.Close()

	var out []DuplicateRecord
	for rows.Next() {
		var d DuplicateRecord
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.DealID, &d.ActivityID, &d.PreviousActivityID,
			&d.FromStageID, &d.ToStageID, &d.GapSeconds, &d.Status, &d.DetectedAt, &d.ReviewedBy, &d.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan duplicate record: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetStatus transitions a pending record to ignored or deleted.
func (r *Repo) SetStatus(ctx context.Context, organizationID, id uuid.UUID, status string, reviewer uuid.UUID) error {
	query := `UPDATE duplicate_activities
		SET status = $3, reviewed_by = $4, reviewed_at = now()
		WHERE id = $1 AND organization_id = $2 AND status = $5`

	cmd, err := r.pool.Exec(ctx, query, id, organizationID, status, reviewer, StatusPending)
	if err != nil {
		return fmt.Errorf("set duplicate status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound("pending duplicate record not found")
	}
	return nil
}

// BulkIgnore marks every pending record as ignored and returns the count.
func (r *Repo) BulkIgnore(ctx context.Context, organizationID, reviewer uuid.UUID) (int, error) {
	query := `UPDATE duplicate_activities
		SET status = $3, reviewed_by = $2, reviewed_at = now()
		WHERE organization_id = $1 AND status = $4`

	cmd, err := r.pool.Exec(ctx, query, organizationID, reviewer, StatusIgnored, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("bulk ignore duplicates: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func metaOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
