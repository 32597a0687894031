package transport

import (
	"github.com/google/uuid"
)

// PromoteRequest triggers an orphan-promotion run. Dates use YYYY-MM-DD;
// the window defaults to the last 30 days.
type PromoteRequest struct {
	StartDate      string   `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate        string   `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DryRun         bool     `json:"dry_run,omitempty"`
	NetValueFactor *float64 `json:"net_value_factor,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// PromoteSummary carries the run's aggregate counts.
type PromoteSummary struct {
	TotalNewsaleCandidates int    `json:"total_newsale_candidates"`
	SkippedByEmailMatch    int    `json:"skipped_by_email_match"`
	SkippedByNameMatch     int    `json:"skipped_by_name_match"`
	TotalTrueOrphans       int    `json:"total_true_orphans"`
	TotalPromoted          int    `json:"total_promoted"`
	TotalNetValueAdded     string `json:"total_net_value_added"`
}

// SkippedDetail records why a speculative transaction was not promoted.
type SkippedDetail struct {
	TransactionID       uuid.UUID `json:"transaction_id"`
	ExternalID          string    `json:"external_id"`
	CustomerName        string    `json:"customer_name,omitempty"`
	CustomerEmail       string    `json:"customer_email,omitempty"`
	MatchedExternalID   string    `json:"matched_external_id"`
	MatchedCustomerName string    `json:"matched_customer_name,omitempty"`
	SaleDate            string    `json:"sale_date"`
}

// PromotedDetail records one promoted transaction.
type PromotedDetail struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ExternalID    string    `json:"external_id"`
	CustomerName  string    `json:"customer_name,omitempty"`
	Price         string    `json:"price"`
	NetValue      string    `json:"net_value"`
	SaleDate      string    `json:"sale_date"`
}

// RecordError records a per-record update failure that did not abort the run.
type RecordError struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ExternalID    string    `json:"external_id"`
	Error         string    `json:"error"`
}

// PromoteResponse is the full run report.
type PromoteResponse struct {
	Success              bool             `json:"success"`
	DryRun               bool             `json:"dry_run"`
	Summary              PromoteSummary   `json:"summary"`
	SkippedByEmail       []SkippedDetail  `json:"skipped_by_email"`
	SkippedByName        []SkippedDetail  `json:"skipped_by_name"`
	PromotedTransactions []PromotedDetail `json:"promoted_transactions"`
	Errors               []RecordError    `json:"errors,omitempty"`
}
