// Package repository persists background import jobs.
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

// Job states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// RowError describes one failed CSV row.
type RowError struct {
	Line       int    `json:"line"`
	ExternalID string `json:"external_id"`
	Error      string `json:"error"`
}

// Job is a persisted import run. Progress counters are updated after each
// chunk so a client polling the job sees it advance.
type Job struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	OriginID       uuid.UUID
	FileKey        string
	FileName       string
	Status         string
	TotalRows      int
	ProcessedRows  int
	ImportedRows   int
	UpdatedRows    int
	SkippedRows    int
	ErrorCount     int
	ErrorDetails   []RowError
	Error          *string
	CreatedBy      *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

const jobColumns = `id, organization_id, origin_id, file_key, file_name, status, total_rows,
	processed_rows, imported_rows, updated_rows, skipped_rows, error_count,
	error_details, error, created_by, created_at, updated_at, started_at, finished_at`

// Repo implements import job persistence with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new import jobs repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Create inserts a pending job and returns its id.
func (r *Repo) Create(ctx context.Context, organizationID, originID uuid.UUID, fileKey, fileName string, createdBy *uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO import_jobs (organization_id, origin_id, file_key, file_name, created_by)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		organizationID, originID, fileKey, fileName, createdBy).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create import job: %w", err)
	}
	return id, nil
}

// Get retrieves a job scoped to the organization.
func (r *Repo) Get(ctx context.Context, organizationID, id uuid.UUID) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1 AND organization_id = $2`

	job, err := scanJob(r.pool.QueryRow(ctx, query, id, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, apperr.NotFound("import job not found")
		}
		return Job{}, fmt.Errorf("get import job: %w", err)
	}
	return job, nil
}

// MarkProcessing transitions a pending job to processing. Returns false when
// the job was not pending, so two workers cannot both run it.
func (r *Repo) MarkProcessing(ctx context.Context, id uuid.UUID, totalRows int) (bool, error) {
	cmd, err := r.pool.Exec(ctx,
		`UPDATE import_jobs
		 SET status = $2, total_rows = $3, started_at = now(), updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, StatusProcessing, totalRows, StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark import job processing: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

// UpdateProgress persists the counters after a chunk.
func (r *Repo) UpdateProgress(ctx context.Context, id uuid.UUID, processed, imported, updated, skipped, errorCount int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE import_jobs
		 SET processed_rows = $2, imported_rows = $3, updated_rows = $4,
		     skipped_rows = $5, error_count = $6, updated_at = now()
		 WHERE id = $1`,
		id, processed, imported, updated, skipped, errorCount)
	if err != nil {
		return fmt.Errorf("update import job progress: %w", err)
	}
	return nil
}

// Finish moves a job to its terminal state with the final counters.
func (r *Repo) Finish(ctx context.Context, id uuid.UUID, status string, details []RowError, jobErr *string) error {
	encoded, err := json.Marshal(detailsOrEmpty(details))
	if err != nil {
		return fmt.Errorf("encode error details: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE import_jobs
		 SET status = $2, error_details = $3, error = $4, finished_at = now(), updated_at = now()
		 WHERE id = $1`,
		id, status, encoded, jobErr)
	if err != nil {
		return fmt.Errorf("finish import job: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	var details []byte
	err := row.Scan(
		&j.ID, &j.OrganizationID, &j.OriginID, &j.FileKey, &j.FileName, &j.Status, &j.TotalRows,
		&j.ProcessedRows, &j.ImportedRows, &j.UpdatedRows, &j.SkippedRows, &j.ErrorCount,
		&details, &j.Error, &j.CreatedBy, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &j.ErrorDetails); err != nil {
			return Job{}, fmt.Errorf("decode error details: %w", err)
		}
	}
	return j, nil
}

func detailsOrEmpty(details []RowError) []RowError {
	if details == nil {
		return []RowError{}
	}
	return details
}
