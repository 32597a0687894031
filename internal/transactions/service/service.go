// Package service implements orphan-transaction promotion: deciding which
// speculative sale records represent real, uncounted sales.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"insight_backoffice_backend/internal/events"
	"insight_backoffice_backend/internal/match"
	"insight_backoffice_backend/internal/transactions/repository"
	"insight_backoffice_backend/internal/transactions/transport"
	"insight_backoffice_backend/platform/apperr"
	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/logger"
)

const (
	dateLayout        = "2006-01-02"
	defaultWindowDays = 30
	matchWindowDays   = 1
)

// Store is the persistence surface the promoter needs.
type Store interface {
	ListSpeculative(ctx context.Context, organizationID uuid.UUID, start, end time.Time) ([]repository.Transaction, error)
	ListAuthoritative(ctx context.Context, organizationID uuid.UUID, start, end time.Time) ([]repository.Transaction, error)
	Promote(ctx context.Context, organizationID, id uuid.UUID, netValue decimal.Decimal) (bool, error)
}

// Service runs orphan promotion batches.
type Service struct {
	store Store
	cfg   config.ReconciliationConfig
	bus   events.Bus
	log   *logger.Logger
}

// New creates the orphan promoter service.
func New(store Store, cfg config.ReconciliationConfig, bus events.Bus, log *logger.Logger) *Service {
	return &Service{store: store, cfg: cfg, bus: bus, log: log}
}

// Run executes one promotion pass. A bulk fetch failure aborts the run; a
// single record's update failure is logged and skipped. Dry-run performs the
// full classification without writing and returns the same report shape.
func (s *Service) Run(ctx context.Context, organizationID uuid.UUID, req transport.PromoteRequest) (transport.PromoteResponse, error) {
	start, end, err := resolveWindow(req.StartDate, req.EndDate)
	if err != nil {
		return transport.PromoteResponse{}, err
	}

	factor := s.cfg.GetNetValueFactor()
	if req.NetValueFactor != nil {
		factor = *req.NetValueFactor
	}
	factorDec := decimal.NewFromFloat(factor)

	speculative, err := s.store.ListSpeculative(ctx, organizationID, start, end)
	if err != nil {
		s.log.DatabaseError("list speculative transactions", err)
		return transport.PromoteResponse{}, err
	}

	authoritative, err := s.store.ListAuthoritative(ctx, organizationID, start, end)
	if err != nil {
		s.log.DatabaseError("list authoritative transactions", err)
		return transport.PromoteResponse{}, err
	}

	resp := transport.PromoteResponse{
		Success:              true,
		DryRun:               req.DryRun,
		SkippedByEmail:       []transport.SkippedDetail{},
		SkippedByName:        []transport.SkippedDetail{},
		PromotedTransactions: []transport.PromotedDetail{},
	}
	resp.Summary.TotalNewsaleCandidates = len(speculative)

	totalNet := decimal.Zero

	for _, candidate := range speculative {
		if emailHit := matchBy(candidate, authoritative, matchEmail); emailHit != nil {
			resp.SkippedByEmail = append(resp.SkippedByEmail, skippedDetail(candidate, *emailHit))
			continue
		}
		if nameHit := matchBy(candidate, authoritative, matchName); nameHit != nil {
			resp.SkippedByName = append(resp.SkippedByName, skippedDetail(candidate, *nameHit))
			continue
		}

		// True orphan: no counterpart within ±1 day.
		resp.Summary.TotalTrueOrphans++
		netValue := candidate.ProductPrice.Mul(factorDec).Round(2)

		if !req.DryRun {
			promoted, err := s.store.Promote(ctx, organizationID, candidate.ID, netValue)
			if err != nil {
				s.log.RecordError("promote transaction", candidate.ExternalID, err)
				resp.Errors = append(resp.Errors, transport.RecordError{
					TransactionID: candidate.ID,
					ExternalID:    candidate.ExternalID,
					Error:         err.Error(),
				})
				continue
			}
			if !promoted {
				// A concurrent run got there first; nothing new to count.
				continue
			}

			if s.bus != nil {
				s.bus.Publish(ctx, events.TransactionPromoted{
					BaseEvent:      events.NewBaseEvent(),
					TransactionID:  candidate.ID,
					OrganizationID: organizationID,
					ExternalID:     candidate.ExternalID,
					NetValue:       netValue.StringFixed(2),
				})
			}
		}

		resp.PromotedTransactions = append(resp.PromotedTransactions, transport.PromotedDetail{
			TransactionID: candidate.ID,
			ExternalID:    candidate.ExternalID,
			CustomerName:  strOrEmpty(candidate.CustomerName),
			Price:         candidate.ProductPrice.StringFixed(2),
			NetValue:      netValue.StringFixed(2),
			SaleDate:      candidate.SaleDate.Format(dateLayout),
		})
		totalNet = totalNet.Add(netValue)
	}

	resp.Summary.SkippedByEmailMatch = len(resp.SkippedByEmail)
	resp.Summary.SkippedByNameMatch = len(resp.SkippedByName)
	resp.Summary.TotalPromoted = len(resp.PromotedTransactions)
	resp.Summary.TotalNetValueAdded = totalNet.StringFixed(2)

	s.log.BatchRun("orphan_promotion",
		len(speculative),
		resp.Summary.SkippedByEmailMatch+resp.Summary.SkippedByNameMatch,
		len(resp.Errors),
	)

	return resp, nil
}

type matchFunc func(candidate, auth repository.Transaction) bool

// matchBy returns the first authoritative transaction in the candidate's
// category within ±1 day of its sale date that satisfies the match function.
func matchBy(candidate repository.Transaction, auths []repository.Transaction, fn matchFunc) *repository.Transaction {
	for i := range auths {
		auth := auths[i]
		if auth.ProductCategory != candidate.ProductCategory {
			continue
		}
		if !withinDays(candidate.SaleDate, auth.SaleDate, matchWindowDays) {
			continue
		}
		if fn(candidate, auth) {
			return &auth
		}
	}
	return nil
}

func matchEmail(candidate, auth repository.Transaction) bool {
	if candidate.CustomerEmail == nil || auth.CustomerEmail == nil {
		return false
	}
	return match.Emails(*candidate.CustomerEmail, *auth.CustomerEmail)
}

func matchName(candidate, auth repository.Transaction) bool {
	if candidate.CustomerName == nil || auth.CustomerName == nil {
		return false
	}
	return match.Names(*candidate.CustomerName, *auth.CustomerName)
}

func withinDays(a, b time.Time, days int) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(days)*24*time.Hour
}

func resolveWindow(startStr, endStr string) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if endStr != "" {
		parsed, err := time.Parse(dateLayout, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("invalid end_date")
		}
		end = parsed
	}

	start := end.AddDate(0, 0, -defaultWindowDays)
	if startStr != "" {
		parsed, err := time.Parse(dateLayout, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("invalid start_date")
		}
		start = parsed
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, apperr.Validation("start_date must not be after end_date")
	}
	return start, end, nil
}

func skippedDetail(candidate, matched repository.Transaction) transport.SkippedDetail {
	return transport.SkippedDetail{
		TransactionID:       candidate.ID,
		ExternalID:          candidate.ExternalID,
		CustomerName:        strOrEmpty(candidate.CustomerName),
		CustomerEmail:       strOrEmpty(candidate.CustomerEmail),
		MatchedExternalID:   matched.ExternalID,
		MatchedCustomerName: strOrEmpty(matched.CustomerName),
		SaleDate:            candidate.SaleDate.Format(dateLayout),
	}
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
