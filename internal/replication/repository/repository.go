// Package repository persists replication rules, the retry queue and the
// rule-level audit trail.
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

// Condition types a rule may carry. An empty condition type matches every deal.
const (
	ConditionProductName = "product_name"
	ConditionTags        = "tags"
	ConditionCustomField = "custom_field"
)

// Condition operators and tag modes.
const (
	OperatorContains = "contains"
	OperatorExact    = "exact"
	TagModeAny       = "any"
	TagModeAll       = "all"
)

// Condition is the typed match predicate stored with a rule. Which fields are
// meaningful depends on the rule's condition type.
type Condition struct {
	Operator string   `json:"operator,omitempty"`
	Values   []string `json:"values,omitempty"`
	Field    string   `json:"field,omitempty"`
	Mode     string   `json:"mode,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Rule routes deals from a source pipeline stage into a target pipeline.
type Rule struct {
	ID               uuid.UUID
	OrganizationID   uuid.UUID
	Name             string
	SourceOriginID   uuid.UUID
	SourceStageID    uuid.UUID
	TargetOriginID   uuid.UUID
	TargetStageID    uuid.UUID
	ConditionType    *string
	Condition        Condition
	CopyCustomFields bool
	Priority         int
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Queue item states.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
)

// MaxAttempts is the retry budget of a queue item.
const MaxAttempts = 3

// QueueItem is one persisted replication retry record.
type QueueItem struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	DealID         uuid.UUID
	Status         string
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const ruleColumns = `id, organization_id, name, source_origin_id, source_stage_id,
	target_origin_id, target_stage_id, condition_type, condition, copy_custom_fields,
	priority, is_active, created_at, updated_at`

// Repo implements replication persistence with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new replication repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ListActiveRules returns the active rules for a source pipeline stage,
// ordered by ascending priority.
func (r *Repo) ListActiveRules(ctx context.Context, organizationID, sourceOriginID, sourceStageID uuid.UUID) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM replication_rules
		WHERE organization_id = $1 AND source_origin_id = $2 AND source_stage_id = $3 AND is_active
		ORDER BY priority ASC, created_at ASC`

	rows, err := r.pool.Query(ctx, query, organizationID, sourceOriginID, sourceStageID)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// ListRules returns every rule of the organization.
func (r *Repo) ListRules(ctx context.Context, organizationID uuid.UUID) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM replication_rules
		WHERE organization_id = $1 ORDER BY priority ASC, created_at ASC`

	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// GetRule retrieves a single rule scoped to the organization.
func (r *Repo) GetRule(ctx context.Context, organizationID, id uuid.UUID) (Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM replication_rules
		WHERE id = $1 AND organization_id = $2`

	rule, err := scanRule(r.pool.QueryRow(ctx, query, id, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, apperr.NotFound("replication rule not found")
		}
		return Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// CreateRule inserts a new rule and returns it with generated fields.
func (r *Repo) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	cond, err := json.Marshal(rule.Condition)
	if err != nil {
		return Rule{}, fmt.Errorf("encode rule condition: %w", err)
	}

	query := `INSERT INTO replication_rules
			(organization_id, name, source_origin_id, source_stage_id, target_origin_id,
			 target_stage_id, condition_type, condition, copy_custom_fields, priority, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + ruleColumns

	created, err := scanRule(r.pool.QueryRow(ctx, query,
		rule.OrganizationID, rule.Name, rule.SourceOriginID, rule.SourceStageID,
		rule.TargetOriginID, rule.TargetStageID, rule.ConditionType, cond,
		rule.CopyCustomFields, rule.Priority, rule.IsActive,
	))
	if err != nil {
		return Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return created, nil
}

// UpdateRule replaces a rule's mutable fields.
func (r *Repo) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	cond, err := json.Marshal(rule.Condition)
	if err != nil {
		return Rule{}, fmt.Errorf("encode rule condition: %w", err)
	}

	query := `UPDATE replication_rules
		SET name = $3, source_origin_id = $4, source_stage_id = $5, target_origin_id = $6,
			target_stage_id = $7, condition_type = $8, condition = $9,
			copy_custom_fields = $10, priority = $11, is_active = $12, updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING ` + ruleColumns

	updated, err := scanRule(r.pool.QueryRow(ctx, query,
		rule.ID, rule.OrganizationID, rule.Name, rule.SourceOriginID, rule.SourceStageID,
		rule.TargetOriginID, rule.TargetStageID, rule.ConditionType, cond,
		rule.CopyCustomFields, rule.Priority, rule.IsActive,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, apperr.NotFound("replication rule not found")
		}
		return Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return updated, nil
}

// DeleteRule removes a rule.
func (r *Repo) DeleteRule(ctx context.Context, organizationID, id uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx,
		`DELETE FROM replication_rules WHERE id = $1 AND organization_id = $2`, id, organizationID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound("replication rule not found")
	}
	return nil
}

// RecordAudit writes one rule-level audit row for a created replica.
func (r *Repo) RecordAudit(ctx context.Context, organizationID, ruleID, sourceDealID, targetDealID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO replication_audit (organization_id, rule_id, source_deal_id, target_deal_id)
		 VALUES ($1, $2, $3, $4)`,
		organizationID, ruleID, sourceDealID, targetDealID)
	if err != nil {
		return fmt.Errorf("record replication audit: %w", err)
	}
	return nil
}

// Enqueue adds a deal to the retry queue.
func (r *Repo) Enqueue(ctx context.Context, organizationID, dealID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO replication_queue (organization_id, deal_id) VALUES ($1, $2) RETURNING id`,
		organizationID, dealID).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue replication item: %w", err)
	}
	return id, nil
}

// ClaimPending atomically moves up to limit pending items to processing and
// returns them. SKIP LOCKED keeps two overlapping drains from claiming the
// same item.
func (r *Repo) ClaimPending(ctx context.Context, organizationID uuid.UUID, limit int) ([]QueueItem, error) {
	query := `UPDATE replication_queue
		SET status = $3, updated_at = now()
		WHERE id IN (
			SELECT id FROM replication_queue
			WHERE organization_id = $1 AND status = $2
			ORDER BY created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, organization_id, deal_id, status, attempts, last_error, created_at, updated_at`

	rows, err := r.pool.Query(ctx, query, organizationID, QueuePending, QueueProcessing, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending queue items: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var it QueueItem
		if err := rows.Scan(&it.ID, &it.OrganizationID, &it.DealID, &it.Status,
			&it.Attempts, &it.LastError, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// OrganizationsWithPending lists the organizations that currently have
// pending queue items.
func (r *Repo) OrganizationsWithPending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT organization_id FROM replication_queue WHERE status = $1`,
		QueuePending)
	if err != nil {
		return nil, fmt.Errorf("list organizations with pending items: %w", err)
	}
	defer rows.Close()

	var orgs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization id: %w", err)
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}

// ReclaimStale re-pends processing items whose worker never finished them,
// so a crash between claim and completion cannot strand work. Returns how
// many items were reclaimed.
func (r *Repo) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := r.pool.Exec(ctx,
		`UPDATE replication_queue SET status = $1, updated_at = now()
		WHERE status = $2 AND updated_at < $3`,
		QueuePending, QueueProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale queue items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkCompleted finishes a claimed item.
func (r *Repo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE replication_queue SET status = $2, updated_at = now() WHERE id = $1`,
		id, QueueCompleted)
	if err != nil {
		return fmt.Errorf("complete queue item: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. The item goes back to pending until the
// attempt budget is spent, then stays failed. Returns the resulting status and
// attempt count.
func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, cause string) (string, int, error) {
	query := `UPDATE replication_queue
		SET attempts = attempts + 1,
			last_error = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE $5 END,
			updated_at = now()
		WHERE id = $1
		RETURNING status, attempts`

	var status string
	var attempts int
	err := r.pool.QueryRow(ctx, query, id, cause, MaxAttempts, QueueFailed, QueuePending).
		Scan(&status, &attempts)
	if err != nil {
		return "", 0, fmt.Errorf("fail queue item: %w", err)
	}
	return status, attempts, nil
}

func scanRule(row pgx.Row) (Rule, error) {
	var rule Rule
	var cond []byte
	err := row.Scan(
		&rule.ID, &rule.OrganizationID, &rule.Name, &rule.SourceOriginID, &rule.SourceStageID,
		&rule.TargetOriginID, &rule.TargetStageID, &rule.ConditionType, &cond,
		&rule.CopyCustomFields, &rule.Priority, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return Rule{}, err
	}
	if len(cond) > 0 {
		if err := json.Unmarshal(cond, &rule.Condition); err != nil {
			return Rule{}, fmt.Errorf("decode rule condition: %w", err)
		}
	}
	return rule, nil
}

func scanRules(rows pgx.Rows) ([]Rule, error) {
	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
