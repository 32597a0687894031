// Package service implements the replication engine: rule evaluation, replica
// creation and the persisted retry queue.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	activityrepo "insight_backoffice_backend/internal/activities/repository"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/events"
	"insight_backoffice_backend/internal/replication/repository"
	"insight_backoffice_backend/internal/replication/transport"
	"insight_backoffice_backend/platform/apperr"
	"insight_backoffice_backend/platform/logger"
)

// queueBatchSize limits how many queue items one drain claims.
const queueBatchSize = 50

// drainConcurrency bounds how many organizations drain at once.
const drainConcurrency = 4

// staleProcessingCutoff is how long an item may sit in processing before a
// drain assumes its worker died and re-pends it.
const staleProcessingCutoff = 10 * time.Minute

// Store abstracts rule, queue and audit persistence.
type Store interface {
	ListActiveRules(ctx context.Context, organizationID, sourceOriginID, sourceStageID uuid.UUID) ([]repository.Rule, error)
	ListRules(ctx context.Context, organizationID uuid.UUID) ([]repository.Rule, error)
	GetRule(ctx context.Context, organizationID, id uuid.UUID) (repository.Rule, error)
	CreateRule(ctx context.Context, rule repository.Rule) (repository.Rule, error)
	UpdateRule(ctx context.Context, rule repository.Rule) (repository.Rule, error)
	DeleteRule(ctx context.Context, organizationID, id uuid.UUID) error
	RecordAudit(ctx context.Context, organizationID, ruleID, sourceDealID, targetDealID uuid.UUID) error
	Enqueue(ctx context.Context, organizationID, dealID uuid.UUID) (uuid.UUID, error)
	ClaimPending(ctx context.Context, organizationID uuid.UUID, limit int) ([]repository.QueueItem, error)
	OrganizationsWithPending(ctx context.Context) ([]uuid.UUID, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) (string, int, error)
}

// DealStore is the slice of the deal ledger the engine needs.
type DealStore interface {
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (deals.Deal, error)
	CreateReplica(ctx context.Context, replica deals.Deal) (uuid.UUID, bool, error)
}

// ActivityLog writes audit activities onto deals.
type ActivityLog interface {
	Log(ctx context.Context, a activityrepo.Activity) (uuid.UUID, error)
}

// Service is the replication engine.
type Service struct {
	store      Store
	dealStore  DealStore
	activities ActivityLog
	bus        events.Bus
	log        *logger.Logger
}

// New creates the replication service.
func New(store Store, dealStore DealStore, activities ActivityLog, bus events.Bus, log *logger.Logger) *Service {
	return &Service{store: store, dealStore: dealStore, activities: activities, bus: bus, log: log}
}

// Run triggers the engine for a single deal or drains the retry queue.
func (s *Service) Run(ctx context.Context, organizationID uuid.UUID, req transport.RunRequest, actor *uuid.UUID) (transport.RunResponse, error) {
	switch {
	case req.ProcessQueue:
		return s.processQueue(ctx, organizationID, actor)
	case req.DealID != nil:
		result, err := s.ProcessDeal(ctx, organizationID, *req.DealID, actor)
		if err != nil {
			return transport.RunResponse{}, err
		}
		if !result.Success {
			// A later queue drain retries the failed rules.
			if itemID, qerr := s.store.Enqueue(ctx, organizationID, *req.DealID); qerr != nil {
				s.log.RecordError("enqueue replication retry", req.DealID.String(), qerr)
			} else {
				result.Details = append(result.Details, fmt.Sprintf("queued for retry (item %s)", itemID))
			}
		}
		return transport.RunResponse{
			Success:   true,
			Processed: 1,
			Results:   []transport.DealResult{result},
		}, nil
	default:
		return transport.RunResponse{}, apperr.Validation("either deal_id or process_queue is required")
	}
}

// ProcessDeal evaluates every active rule for the deal's pipeline stage and
// creates the replicas whose conditions match. Replicas are never themselves
// replication sources. Per-rule failures are reported in the result without
// aborting the remaining rules.
func (s *Service) ProcessDeal(ctx context.Context, organizationID, dealID uuid.UUID, actor *uuid.UUID) (transport.DealResult, error) {
	deal, err := s.dealStore.GetByID(ctx, organizationID, dealID)
	if err != nil {
		return transport.DealResult{}, err
	}

	result := transport.DealResult{DealID: dealID, Success: true}

	if deal.IsReplica() {
		result.Details = append(result.Details, "deal is a replica; skipped as replication source")
		return result, nil
	}

	rules, err := s.store.ListActiveRules(ctx, organizationID, deal.OriginID, deal.StageID)
	if err != nil {
		return transport.DealResult{}, err
	}

	for _, rule := range rules {
		if !Matches(rule, deal) {
			continue
		}

		replicaID, created, err := s.dealStore.CreateReplica(ctx, buildReplica(deal, rule))
		if err != nil {
			s.log.RecordError("create replica", deal.ID.String(), err)
			result.Success = false
			result.Details = append(result.Details, fmt.Sprintf("rule %q: %v", rule.Name, err))
			continue
		}
		if !created {
			result.Details = append(result.Details, fmt.Sprintf("rule %q: replica already exists", rule.Name))
			continue
		}

		result.Replications++
		result.Details = append(result.Details, fmt.Sprintf("rule %q: replicated to origin %s", rule.Name, rule.TargetOriginID))
		s.recordReplication(ctx, organizationID, rule, deal, replicaID, actor)

		if s.bus != nil {
			s.bus.Publish(ctx, events.DealReplicated{
				BaseEvent:      events.NewBaseEvent(),
				OrganizationID: organizationID,
				RuleID:         rule.ID,
				SourceDealID:   deal.ID,
				TargetDealID:   replicaID,
			})
		}
	}

	return result, nil
}

// Rules returns every rule of the organization.
func (s *Service) Rules(ctx context.Context, organizationID uuid.UUID) ([]repository.Rule, error) {
	return s.store.ListRules(ctx, organizationID)
}

// CreateRule persists a new rule.
func (s *Service) CreateRule(ctx context.Context, rule repository.Rule) (repository.Rule, error) {
	return s.store.CreateRule(ctx, rule)
}

// UpdateRule replaces an existing rule.
func (s *Service) UpdateRule(ctx context.Context, rule repository.Rule) (repository.Rule, error) {
	return s.store.UpdateRule(ctx, rule)
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, organizationID, id uuid.UUID) error {
	return s.store.DeleteRule(ctx, organizationID, id)
}

// DrainPending processes the retry queue of every organization that has
// pending items. The background worker calls this on a schedule.
func (s *Service) DrainPending(ctx context.Context) error {
	if reclaimed, err := s.store.ReclaimStale(ctx, staleProcessingCutoff); err != nil {
		s.log.DatabaseError("reclaim stale replication queue items", err)
	} else if reclaimed > 0 {
		s.log.Warn("re-pended stale replication queue items", "count", reclaimed)
	}

	orgs, err := s.store.OrganizationsWithPending(ctx)
	if err != nil {
		return fmt.Errorf("list organizations with pending replications: %w", err)
	}

	// Each organization claims its own queue rows, so draining them in
	// parallel never contends on the same items.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(drainConcurrency)
	for _, orgID := range orgs {
		orgID := orgID
		g.Go(func() error {
			if _, err := s.processQueue(gctx, orgID, nil); err != nil {
				s.log.RecordError("drain replication queue", orgID.String(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) processQueue(ctx context.Context, organizationID uuid.UUID, actor *uuid.UUID) (transport.RunResponse, error) {
	items, err := s.store.ClaimPending(ctx, organizationID, queueBatchSize)
	if err != nil {
		return transport.RunResponse{}, err
	}

	resp := transport.RunResponse{Success: true, Results: []transport.DealResult{}}
	failed := 0

	for _, item := range items {
		result, err := s.ProcessDeal(ctx, organizationID, item.DealID, actor)
		if err == nil && result.Success {
			if err := s.store.MarkCompleted(ctx, item.ID); err != nil {
				s.log.DatabaseError("complete replication queue item", err)
			}
			resp.Results = append(resp.Results, result)
			resp.Processed++
			continue
		}

		cause := "replication failed"
		if err != nil {
			cause = err.Error()
		} else if len(result.Details) > 0 {
			cause = strings.Join(result.Details, "; ")
		}

		status, attempts, ferr := s.store.MarkFailed(ctx, item.ID, cause)
		if ferr != nil {
			s.log.DatabaseError("fail replication queue item", ferr)
		} else if status == repository.QueueFailed && s.bus != nil {
			s.bus.Publish(ctx, events.ReplicationItemFailed{
				BaseEvent:      events.NewBaseEvent(),
				OrganizationID: organizationID,
				QueueItemID:    item.ID,
				DealID:         item.DealID,
				Attempts:       attempts,
				LastError:      cause,
			})
		}

		failed++
		resp.Results = append(resp.Results, transport.DealResult{
			DealID:  item.DealID,
			Success: false,
			Details: []string{cause},
		})
		resp.Processed++
	}

	s.log.BatchRun("replication_queue", resp.Processed, 0, failed)
	return resp, nil
}

func (s *Service) recordReplication(ctx context.Context, organizationID uuid.UUID, rule repository.Rule, source deals.Deal, replicaID uuid.UUID, actor *uuid.UUID) {
	if err := s.store.RecordAudit(ctx, organizationID, rule.ID, source.ID, replicaID); err != nil {
		s.log.RecordError("record replication audit", source.ID.String(), err)
	}

	entries := []activityrepo.Activity{
		{
			OrganizationID: organizationID,
			DealID:         source.ID,
			Type:           activityrepo.TypeReplicated,
			ActorID:        actor,
			Description:    fmt.Sprintf("replicated to another pipeline by rule %q", rule.Name),
			Metadata:       map[string]string{"rule_id": rule.ID.String(), "target_deal_id": replicaID.String()},
		},
		{
			OrganizationID: organizationID,
			DealID:         replicaID,
			Type:           activityrepo.TypeReplicated,
			ActorID:        actor,
			Description:    fmt.Sprintf("created by replication rule %q", rule.Name),
			Metadata:       map[string]string{"rule_id": rule.ID.String(), "source_deal_id": source.ID.String()},
		},
	}
	for _, entry := range entries {
		if _, err := s.activities.Log(ctx, entry); err != nil {
			s.log.RecordError("log replication activity", entry.DealID.String(), err)
		}
	}
}

// Matches reports whether the deal satisfies the rule's condition. A rule
// without a condition type, or with an empty value list, matches every deal.
func Matches(rule repository.Rule, deal deals.Deal) bool {
	if rule.ConditionType == nil || *rule.ConditionType == "" {
		return true
	}
	switch *rule.ConditionType {
	case repository.ConditionProductName:
		return matchText(deal.Name, rule.Condition)
	case repository.ConditionTags:
		return matchTags(deal.Tags, rule.Condition)
	case repository.ConditionCustomField:
		value, ok := deal.CustomFields[rule.Condition.Field]
		if !ok {
			return false
		}
		return matchText(value.Text(), rule.Condition)
	default:
		return false
	}
}

func matchText(subject string, cond repository.Condition) bool {
	if len(cond.Values) == 0 {
		return true
	}
	s := strings.ToLower(strings.TrimSpace(subject))
	for _, v := range cond.Values {
		want := strings.ToLower(strings.TrimSpace(v))
		if want == "" {
			continue
		}
		if cond.Operator == repository.OperatorExact {
			if s == want {
				return true
			}
			continue
		}
		if strings.Contains(s, want) {
			return true
		}
	}
	return false
}

func matchTags(tags []string, cond repository.Condition) bool {
	if len(cond.Tags) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		have[strings.ToLower(t)] = struct{}{}
	}
	if cond.Mode == repository.TagModeAll {
		for _, want := range cond.Tags {
			if _, ok := have[strings.ToLower(want)]; !ok {
				return false
			}
		}
		return true
	}
	for _, want := range cond.Tags {
		if _, ok := have[strings.ToLower(want)]; ok {
			return true
		}
	}
	return false
}

func buildReplica(source deals.Deal, rule repository.Rule) deals.Deal {
	replica := deals.Deal{
		OrganizationID:       source.OrganizationID,
		Name:                 source.Name,
		Value:                source.Value,
		ContactID:            source.ContactID,
		OriginID:             rule.TargetOriginID,
		StageID:              rule.TargetStageID,
		OwnerID:              source.OwnerID,
		Tags:                 append([]string(nil), source.Tags...),
		ReplicatedFromDealID: &source.ID,
	}
	if rule.CopyCustomFields {
		fields := make(deals.CustomFields, len(source.CustomFields))
		for k, v := range source.CustomFields {
			fields[k] = v
		}
		replica.CustomFields = fields
	}
	return replica
}
