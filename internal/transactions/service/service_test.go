package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"insight_backoffice_backend/internal/transactions/repository"
	"insight_backoffice_backend/internal/transactions/transport"
	"insight_backoffice_backend/platform/logger"
)

type fakeStore struct {
	speculative []repository.Transaction
	auth        []repository.Transaction
	promoted    map[uuid.UUID]decimal.Decimal
	promoteErr  error
	listErr     error
}

func (f *fakeStore) ListSpeculative(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]repository.Transaction, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []repository.Transaction
	for _, t := range f.speculative {
		if !t.CountInDashboard {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAuthoritative(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]repository.Transaction, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.auth, nil
}

func (f *fakeStore) Promote(_ context.Context, _ uuid.UUID, id uuid.UUID, netValue decimal.Decimal) (bool, error) {
	if f.promoteErr != nil {
		return false, f.promoteErr
	}
	if f.promoted == nil {
		f.promoted = make(map[uuid.UUID]decimal.Decimal)
	}
	if _, done := f.promoted[id]; done {
		return false, nil
	}
	f.promoted[id] = netValue
	for i := range f.speculative {
		if f.speculative[i].ID == id {
			f.speculative[i].CountInDashboard = true
		}
	}
	return true, nil
}

type fixedConfig struct{}

func (fixedConfig) GetNetValueFactor() float64  { return 0.88 }
func (fixedConfig) GetDuplicateGapSeconds() int { return 60 }

func strPtr(s string) *string { return &s }

func tx(extID, name, email, category string, price float64, day time.Time) repository.Transaction {
	t := repository.Transaction{
		ID:              uuid.New(),
		ExternalID:      extID,
		ProductCategory: category,
		ProductPrice:    decimal.NewFromFloat(price),
		SaleDate:        day,
	}
	if name != "" {
		t.CustomerName = strPtr(name)
	}
	if email != "" {
		t.CustomerEmail = strPtr(email)
	}
	return t
}

func newService(store *fakeStore) *Service {
	return New(store, fixedConfig{}, nil, logger.New("development"))
}

func TestRunPromotesTrueOrphan(t *testing.T) {
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		speculative: []repository.Transaction{tx("newsale-1", "Cliente Novo", "", "solar", 100, day)},
	}

	resp, err := newService(store).Run(context.Background(), uuid.New(), transport.PromoteRequest{
		StartDate: "2026-02-01", EndDate: "2026-02-28",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if resp.Summary.TotalPromoted != 1 {
		t.Fatalf("promoted = %d, want 1", resp.Summary.TotalPromoted)
	}
	if got := resp.PromotedTransactions[0].NetValue; got != "88.00" {
		t.Errorf("net value = %s, want 88.00", got)
	}
	if got := resp.Summary.TotalNetValueAdded; got != "88.00" {
		t.Errorf("total net = %s, want 88.00", got)
	}
}

func TestRunSkipsByNameWithDiacritics(t *testing.T) {
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		speculative: []repository.Transaction{tx("newsale-1", "joao silva", "", "solar", 500, day)},
		auth:        []repository.Transaction{tx("auth-1", "JOÃO SILVA", "a@x.com", "solar", 500, day)},
	}

	resp, err := newService(store).Run(context.Background(), uuid.New(), transport.PromoteRequest{
		StartDate: "2026-02-01", EndDate: "2026-02-28",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if resp.Summary.SkippedByNameMatch != 1 {
		t.Fatalf("skipped by name = %d, want 1", resp.Summary.SkippedByNameMatch)
	}
	if resp.Summary.TotalPromoted != 0 {
		t.Errorf("promoted = %d, want 0", resp.Summary.TotalPromoted)
	}
	if resp.Summary.TotalNetValueAdded != "0.00" {
		t.Errorf("net added = %s, want 0.00", resp.Summary.TotalNetValueAdded)
	}
}

func TestRunEmailMatchTakesPrecedence(t *testing.T) {
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		speculative: []repository.Transaction{tx("newsale-1", "Nome Diferente", "A@X.COM", "solar", 300, day)},
		auth:        []repository.Transaction{tx("auth-1", "Outro Nome", "a@x.com", "solar", 300, day)},
	}

	resp, err := newService(store).Run(context.Background(), uuid.New(), transport.PromoteRequest{
		StartDate: "2026-02-01", EndDate: "2026-02-28",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if resp.Summary.SkippedByEmailMatch != 1 {
		t.Fatalf("skipped by email = %d, want 1", resp.Summary.SkippedByEmailMatch)
	}
}

func TestRunRespectsMatchWindow(t *testing.T) {
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		speculative: []repository.Transaction{tx("newsale-1", "joao silva", "", "solar", 100, day)},
		// Same name but three days earlier: outside the ±1 day window.
		auth: []repository.Transaction{tx("auth-1", "joao silva", "", "solar", 100, day.AddDate(0, 0, -3))},
	}

	resp, err := newService(store).Run(context.Background(), uuid.New(), transport.PromoteRequest{
		StartDate: "2026-02-01", EndDate: "2026-02-28",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if resp.Summary.TotalPromoted != 1 {
		t.Fatalf("promoted = %d, want 1 (counterpart outside window)", resp.Summary.TotalPromoted)
	}
}

func TestRunIgnoresOtherCategories(t *testing.T) {
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		speculative: []repository.Transaction{tx("newsale-1", "joao silva", "", "solar", 100, day)},
		auth:        []repository.Transaction{tx("auth-1", "joao silva", "", "roofing", 100, day)},
	}

	resp, err := newService(store).Run(context.Background(), uuid.New(), transport.PromoteRequest{
		StartDate: "2026-02-01", EndDate: "2026-02-28",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if resp.Summary.TotalPromoted != 1 {
		t.Fatalf("promoted = %d, want 1 (different category must not match)", resp.Summary.TotalPromoted)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		speculative: []repository.Transaction{tx("newsale-1", "Cliente", "", "solar", 100, day)},
	}
	svc := newService(store)
	req := transport.PromoteRequest{StartDate: "2026-02-01", EndDate: "2026-02-28"}

	first, err := svc.Run(context.Background(), uuid.New(), req)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Summary.TotalPromoted != 1 {
		t.Fatalf("first run promoted = %d, want 1", first.Summary.TotalPromoted)
	}

	second, err := svc.Run(context.Background(), uuid.New(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Summary.TotalPromoted != 0 {
		t.Errorf("second run promoted = %d, want 0", second.Summary.TotalPromoted)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		speculative: []repository.Transaction{tx("newsale-1", "Cliente", "", "solar", 100, day)},
	}

	resp, err := newService(store).Run(context.Background(), uuid.New(), transport.PromoteRequest{
		StartDate: "2026-02-01", EndDate: "2026-02-28", DryRun: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !resp.DryRun {
		t.Error("expected dry_run flag in response")
	}
	if resp.Summary.TotalPromoted != 1 {
		t.Errorf("dry run report promoted = %d, want 1", resp.Summary.TotalPromoted)
	}
	if len(store.promoted) != 0 {
		t.Errorf("dry run wrote %d promotions", len(store.promoted))
	}
}

func TestRunAbortsOnFetchFailure(t *testing.T) {
	store := &fakeStore{listErr: errors.New("connection refused")}

	_, err := newService(store).Run(context.Background(), uuid.New(), transport.PromoteRequest{})
	if err == nil {
		t.Fatal("expected fetch failure to abort the run")
	}
}

func TestRunContinuesPastRecordFailure(t *testing.T) {
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		speculative: []repository.Transaction{
			tx("newsale-1", "Cliente Um", "", "solar", 100, day),
			tx("newsale-2", "Cliente Dois", "", "solar", 200, day),
		},
		promoteErr: errors.New("deadlock detected"),
	}

	resp, err := newService(store).Run(context.Background(), uuid.New(), transport.PromoteRequest{
		StartDate: "2026-02-01", EndDate: "2026-02-28",
	})
	if err != nil {
		t.Fatalf("record failures must not abort the run: %v", err)
	}

	if !resp.Success {
		t.Error("expected success with partial results")
	}
	if len(resp.Errors) != 2 {
		t.Errorf("errors = %d, want 2", len(resp.Errors))
	}
	if resp.Summary.TotalPromoted != 0 {
		t.Errorf("promoted = %d, want 0", resp.Summary.TotalPromoted)
	}
}

func TestRunRejectsInvertedWindow(t *testing.T) {
	_, err := newService(&fakeStore{}).Run(context.Background(), uuid.New(), transport.PromoteRequest{
		StartDate: "2026-03-01", EndDate: "2026-02-01",
	})
	if err == nil {
		t.Fatal("expected validation error for inverted window")
	}
}
