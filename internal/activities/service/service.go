// Package service implements duplicate stage-change detection and review.
package service

import (
	"context"

	"github.com/google/uuid"

	"insight_backoffice_backend/internal/activities/repository"
	"insight_backoffice_backend/internal/activities/transport"
	"insight_backoffice_backend/platform/apperr"
	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/logger"
)

// Store is the persistence surface the service needs.
type Store interface {
	ListStageChanges(ctx context.Context, organizationID uuid.UUID, dealID *uuid.UUID) ([]repository.Activity, error)
	InsertDuplicate(ctx context.Context, d repository.DuplicateRecord) (bool, error)
	ListDuplicates(ctx context.Context, organizationID uuid.UUID, status string) ([]repository.DuplicateRecord, error)
	SetStatus(ctx context.Context, organizationID, id uuid.UUID, status string, reviewer uuid.UUID) error
	BulkIgnore(ctx context.Context, organizationID, reviewer uuid.UUID) (int, error)
}

// Service runs duplicate detection scans and handles reviewer actions.
type Service struct {
	store Store
	cfg   config.ReconciliationConfig
	log   *logger.Logger
}

// New creates the duplicate-activity service.
func New(store Store, cfg config.ReconciliationConfig, log *logger.Logger) *Service {
	return &Service{store: store, cfg: cfg, log: log}
}

// CandidatePair is a detected near-duplicate transition.
type CandidatePair struct {
	Activity   repository.Activity
	Previous   repository.Activity
	GapSeconds int
}

// DetectPairs walks stage-change activities and flags each one whose gap to
// the immediately preceding identical transition on the same deal is below the
// threshold. The input must be ordered by (deal, from, to, created_at), which
// is how the repository returns it.
func DetectPairs(activities []repository.Activity, thresholdSeconds int) []CandidatePair {
	var pairs []CandidatePair
	for i := 1; i < len(activities); i++ {
		prev, cur := activities[i-1], activities[i]
		if prev.DealID != cur.DealID {
			continue
		}
		if !uuidPtrEqual(prev.FromStageID, cur.FromStageID) || !uuidPtrEqual(prev.ToStageID, cur.ToStageID) {
			continue
		}
		gap := int(cur.CreatedAt.Sub(prev.CreatedAt).Seconds())
		if gap < thresholdSeconds {
			pairs = append(pairs, CandidatePair{Activity: cur, Previous: prev, GapSeconds: gap})
		}
	}
	return pairs
}

// Scan flags near-duplicate stage changes. This is a classification pass:
// records are inserted with status pending and nothing is removed without an
// explicit reviewer action.
func (s *Service) Scan(ctx context.Context, organizationID uuid.UUID, req transport.ScanRequest) (transport.ScanResponse, error) {
	threshold := s.cfg.GetDuplicateGapSeconds()
	if req.ThresholdSeconds != nil {
		threshold = *req.ThresholdSeconds
	}
	if threshold <= 0 {
		return transport.ScanResponse{}, apperr.Validation("threshold_seconds must be positive")
	}

	activities, err := s.store.ListStageChanges(ctx, organizationID, req.DealID)
	if err != nil {
		s.log.DatabaseError("list stage changes", err)
		return transport.ScanResponse{}, err
	}

	pairs := DetectPairs(activities, threshold)

	flagged := 0
	for _, p := range pairs {
		created, err := s.store.InsertDuplicate(ctx, repository.DuplicateRecord{
			OrganizationID:     organizationID,
			DealID:             p.Activity.DealID,
			ActivityID:         p.Activity.ID,
			PreviousActivityID: p.Previous.ID,
			FromStageID:        p.Activity.FromStageID,
			ToStageID:          p.Activity.ToStageID,
			GapSeconds:         p.GapSeconds,
		})
		if err != nil {
			// One failed insert should not lose the rest of the scan.
			s.log.RecordError("insert duplicate record", p.Activity.ID.String(), err)
			continue
		}
		if created {
			flagged++
		}
	}

	s.log.BatchRun("duplicate_activity_scan", len(activities), len(pairs)-flagged, 0)

	return transport.ScanResponse{
		Success:           true,
		ScannedActivities: len(activities),
		CandidatePairs:    len(pairs),
		NewlyFlagged:      flagged,
		ThresholdSeconds:  threshold,
	}, nil
}

// List returns duplicate records for review.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID, status string) ([]transport.DuplicateResponse, error) {
	switch status {
	case "", repository.StatusPending, repository.StatusIgnored, repository.StatusDeleted:
	default:
		return nil, apperr.Validation("invalid status filter")
	}

	records, err := s.store.ListDuplicates(ctx, organizationID, status)
	if err != nil {
		s.log.DatabaseError("list duplicate records", err)
		return nil, err
	}

	out := make([]transport.DuplicateResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, transport.ToDuplicateResponse(rec))
	}
	return out, nil
}

// Review moves a pending record to ignored or deleted.
func (s *Service) Review(ctx context.Context, organizationID, id uuid.UUID, status string, reviewer uuid.UUID) error {
	if status != repository.StatusIgnored && status != repository.StatusDeleted {
		return apperr.Validation("status must be ignored or deleted")
	}
	return s.store.SetStatus(ctx, organizationID, id, status, reviewer)
}

// BulkIgnore marks all pending records as ignored.
func (s *Service) BulkIgnore(ctx context.Context, organizationID, reviewer uuid.UUID) (int, error) {
	count, err := s.store.BulkIgnore(ctx, organizationID, reviewer)
	if err != nil {
		s.log.DatabaseError("bulk ignore duplicates", err)
		return 0, err
	}
	s.log.Info("duplicates bulk ignored", "count", count, "reviewer", reviewer.String())
	return count, nil
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
