// Package transport defines the importer HTTP contracts.
package transport

import (
	"time"

	"github.com/google/uuid"

	"insight_backoffice_backend/internal/imports/repository"
)

// Stats is the aggregate outcome of one import run.
type Stats struct {
	Total           int                   `json:"total"`
	Imported        int                   `json:"imported"`
	Updated         int                   `json:"updated"`
	Skipped         int                   `json:"skipped"`
	Errors          int                   `json:"errors"`
	ErrorDetails    []repository.RowError `json:"errorDetails"`
	DurationSeconds float64               `json:"duration_seconds"`
}

// ImportResponse is returned for a synchronous import.
type ImportResponse struct {
	Success bool  `json:"success"`
	Stats   Stats `json:"stats"`
}

// AsyncResponse is returned when the file is large enough to run as a job.
type AsyncResponse struct {
	Success bool      `json:"success"`
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

// JobResponse is the polled status of a background import.
type JobResponse struct {
	Success         bool                  `json:"success"`
	JobID           uuid.UUID             `json:"job_id"`
	FileName        string                `json:"file_name"`
	Status          string                `json:"status"`
	TotalRows       int                   `json:"total_rows"`
	ProcessedRows   int                   `json:"processed_rows"`
	ImportedRows    int                   `json:"imported_rows"`
	UpdatedRows     int                   `json:"updated_rows"`
	SkippedRows     int                   `json:"skipped_rows"`
	ErrorCount      int                   `json:"error_count"`
	ErrorDetails    []repository.RowError `json:"errorDetails,omitempty"`
	Error           *string               `json:"error,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
	DurationSeconds *float64              `json:"duration_seconds,omitempty"`
}

// ToJobResponse converts a stored job into its wire form.
func ToJobResponse(job repository.Job) JobResponse {
	resp := JobResponse{
		Success:       true,
		JobID:         job.ID,
		FileName:      job.FileName,
		Status:        job.Status,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		ImportedRows:  job.ImportedRows,
		UpdatedRows:   job.UpdatedRows,
		SkippedRows:   job.SkippedRows,
		ErrorCount:    job.ErrorCount,
		ErrorDetails:  job.ErrorDetails,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		FinishedAt:    job.FinishedAt,
	}
	if job.StartedAt != nil && job.FinishedAt != nil {
		seconds := job.FinishedAt.Sub(*job.StartedAt).Seconds()
		resp.DurationSeconds = &seconds
	}
	return resp
}
