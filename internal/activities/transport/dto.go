package transport

import (
	"time"

	"github.com/google/uuid"

	"insight_backoffice_backend/internal/activities/repository"
)

// ScanRequest triggers a duplicate-activity scan.
type ScanRequest struct {
	DealID           *uuid.UUID `json:"deal_id,omitempty"`
	ThresholdSeconds *int       `json:"threshold_seconds,omitempty" validate:"omitempty,min=1,max=86400"`
}

// ScanResponse summarizes a scan run.
type ScanResponse struct {
	Success           bool `json:"success"`
	ScannedActivities int  `json:"scanned_activities"`
	CandidatePairs    int  `json:"candidate_pairs"`
	NewlyFlagged      int  `json:"newly_flagged"`
	ThresholdSeconds  int  `json:"threshold_seconds"`
}

// ReviewRequest sets the status of one duplicate record.
type ReviewRequest struct {
	Status string `json:"status" validate:"required,oneof=ignored deleted"`
}

// DuplicateResponse is one flagged record in API responses.
type DuplicateResponse struct {
	ID                 uuid.UUID  `json:"id"`
	DealID             uuid.UUID  `json:"deal_id"`
	ActivityID         uuid.UUID  `json:"activity_id"`
	PreviousActivityID uuid.UUID  `json:"previous_activity_id"`
	FromStageID        *uuid.UUID `json:"from_stage_id,omitempty"`
	ToStageID          *uuid.UUID `json:"to_stage_id,omitempty"`
	GapSeconds         int        `json:"gap_seconds"`
	Status             string     `json:"status"`
	DetectedAt         string     `json:"detected_at"`
}

// ListResponse wraps the review queue.
type ListResponse struct {
	Success bool                `json:"success"`
	Items   []DuplicateResponse `json:"items"`
	Total   int                 `json:"total"`
}

// BulkIgnoreResponse reports the bulk action outcome.
type BulkIgnoreResponse struct {
	Success bool `json:"success"`
	Ignored int  `json:"ignored"`
}

// ToDuplicateResponse maps a repository record to its API shape.
func ToDuplicateResponse(rec repository.DuplicateRecord) DuplicateResponse {
	return DuplicateResponse{
		ID:                 rec.ID,
		DealID:             rec.DealID,
		ActivityID:         rec.ActivityID,
		PreviousActivityID: rec.PreviousActivityID,
		FromStageID:        rec.FromStageID,
		ToStageID:          rec.ToStageID,
		GapSeconds:         rec.GapSeconds,
		Status:             rec.Status,
		DetectedAt:         rec.DetectedAt.Format(time.RFC3339),
	}
}
