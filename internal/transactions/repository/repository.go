// Package repository persists external payment/sale transactions.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// SpeculativePrefix marks transactions inserted before confirmation against
// the authoritative record set.
const SpeculativePrefix = "newsale-"

// Transaction is an external payment/sale record.
type Transaction struct {
	ID               uuid.UUID
	OrganizationID   uuid.UUID
	ExternalID       string
	CustomerName     *string
	CustomerEmail    *string
	ProductCategory  string
	ProductPrice     decimal.Decimal
	SaleDate         time.Time
	CountInDashboard bool
	NetValue         *decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsSpeculative reports whether the transaction still awaits promotion.
func (t Transaction) IsSpeculative() bool {
	return strings.HasPrefix(t.ExternalID, SpeculativePrefix)
}

const txColumns = `id, organization_id, external_id, customer_name, customer_email,
	product_category, product_price, sale_date, count_in_dashboard, net_value, created_at, updated_at`

// Repo implements transaction persistence with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new transactions repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ListSpeculative returns uncounted newsale-prefixed transactions whose sale
// date falls inside the window.
func (r *Repo) ListSpeculative(ctx context.Context, organizationID uuid.UUID, start, end time.Time) ([]Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE organization_id = $1
			AND count_in_dashboard = false
			AND external_id LIKE $2
			AND sale_date BETWEEN $3 AND $4
		ORDER BY sale_date, external_id`

	rows, err := r.pool.Query(ctx, query, organizationID, SpeculativePrefix+"%", start, end)
	if err != nil {
		return nil, fmt.Errorf("list speculative transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListAuthoritative returns unprefixed transactions in the window, extended by
// one day on each side so per-record ±1-day matching has full candidates.
func (r *Repo) ListAuthoritative(ctx context.Context, organizationID uuid.UUID, start, end time.Time) ([]Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE organization_id = $1
			AND external_id NOT LIKE $2
			AND sale_date BETWEEN $3 AND $4
		ORDER BY sale_date, external_id`

	rows, err := r.pool.Query(ctx, query, organizationID, SpeculativePrefix+"%",
		start.AddDate(0, 0, -1), end.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list authoritative transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// Promote marks a speculative transaction as counted, setting its net value.
// The guard on count_in_dashboard makes this a compare-and-swap: a concurrent
// run that already promoted the row leaves this call a no-op. Returns whether
// this call performed the promotion.
func (r *Repo) Promote(ctx context.Context, organizationID, id uuid.UUID, netValue decimal.Decimal) (bool, error) {
	query := `UPDATE transactions
		SET count_in_dashboard = true, net_value = $3, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND count_in_dashboard = false`

	cmd, err := r.pool.Exec(ctx, query, id, organizationID, netValue)
	if err != nil {
		return false, fmt.Errorf("promote transaction: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

func scanTransactions(rows pgx.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.ExternalID, &t.CustomerName, &t.CustomerEmail,
			&t.ProductCategory, &t.ProductPrice, &t.SaleDate, &t.CountInDashboard, &t.NetValue,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
