// Package service implements the batch distributor: shuffle the ungrouped
// deals and hand them to workers by quota.
package service

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	activityrepo "insight_backoffice_backend/internal/activities/repository"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/distribution/transport"
	"insight_backoffice_backend/platform/apperr"
	"insight_backoffice_backend/platform/logger"
)

// DealStore is the slice of the deal ledger the distributor needs.
type DealStore interface {
	ListUngrouped(ctx context.Context, organizationID uuid.UUID) ([]deals.Deal, error)
	AssignOwner(ctx context.Context, organizationID, dealID, ownerID uuid.UUID, tag string) error
}

// ActivityLog writes audit activities onto deals.
type ActivityLog interface {
	Log(ctx context.Context, a activityrepo.Activity) (uuid.UUID, error)
}

// Service is the batch distributor.
type Service struct {
	store      DealStore
	activities ActivityLog
	roster     []transport.WorkerQuota
	tag        string
	rng        *rand.Rand
	log        *logger.Logger
}

// New creates the distributor. The roster is the default worker list; a
// request may override it. The random source is injectable so tests can run
// the shuffle deterministically.
func New(store DealStore, activities ActivityLog, roster []transport.WorkerQuota, tag string, src rand.Source, log *logger.Logger) *Service {
	return &Service{
		store:      store,
		activities: activities,
		roster:     roster,
		tag:        tag,
		rng:        rand.New(src),
		log:        log,
	}
}

// Distribute shuffles the organization's ungrouped deals and assigns them to
// the workers in roster order, consuming each worker's quota before advancing.
// When candidates outnumber the total quota the walk wraps around to the first
// worker. Per-item failures are collected; the batch continues.
func (s *Service) Distribute(ctx context.Context, organizationID uuid.UUID, actor *uuid.UUID, override []transport.WorkerQuota) (transport.DistributeResponse, error) {
	workers := s.roster
	if len(override) > 0 {
		workers = override
	}
	if err := validateRoster(workers); err != nil {
		return transport.DistributeResponse{}, err
	}

	candidates, err := s.store.ListUngrouped(ctx, organizationID)
	if err != nil {
		s.log.DatabaseError("list ungrouped deals", err)
		return transport.DistributeResponse{}, err
	}

	resp := transport.DistributeResponse{
		Success:      true,
		Distribution: make([]transport.WorkerAssignment, len(workers)),
	}
	for i, w := range workers {
		resp.Distribution[i] = transport.WorkerAssignment{Name: w.Name, Email: w.Email}
	}

	if len(candidates) == 0 {
		resp.Message = "no ungrouped deals to distribute"
		return resp, nil
	}

	shuffled := append([]deals.Deal(nil), candidates...)
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	idx := 0
	left := workers[0].Quota
	for _, deal := range shuffled {
		for left == 0 {
			idx++
			if idx == len(workers) {
				idx = 0
			}
			left = workers[idx].Quota
		}
		worker := workers[idx]
		left--

		if err := s.store.AssignOwner(ctx, organizationID, deal.ID, worker.ID, s.tag); err != nil {
			s.log.RecordError("assign deal owner", deal.ID.String(), err)
			resp.Errors = append(resp.Errors, transport.ItemError{DealID: deal.ID, Error: err.Error()})
			continue
		}
		resp.Updated++
		resp.Distribution[idx].Assigned++

		if _, err := s.activities.Log(ctx, activityrepo.Activity{
			OrganizationID: organizationID,
			DealID:         deal.ID,
			Type:           activityrepo.TypeDistributed,
			ActorID:        actor,
			Description:    fmt.Sprintf("assigned to %s", worker.Name),
			Metadata:       map[string]string{"owner_id": worker.ID.String(), "owner_email": worker.Email},
		}); err != nil {
			s.log.RecordError("log distribution activity", deal.ID.String(), err)
			continue
		}
		resp.ActivitiesCreated++
	}

	resp.Message = fmt.Sprintf("distributed %d of %d ungrouped deals", resp.Updated, len(candidates))
	s.log.BatchRun("distribution", len(shuffled), 0, len(resp.Errors))
	return resp, nil
}

func validateRoster(workers []transport.WorkerQuota) error {
	if len(workers) == 0 {
		return apperr.Validation("no workers configured for distribution")
	}
	total := 0
	for _, w := range workers {
		if w.ID == uuid.Nil {
			return apperr.Validation("worker id is required")
		}
		if w.Quota <= 0 {
			return apperr.Validation("worker quota must be positive")
		}
		total += w.Quota
	}
	if total <= 0 {
		return apperr.Validation("total quota must be positive")
	}
	return nil
}
