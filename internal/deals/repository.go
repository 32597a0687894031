package deals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"insight_backoffice_backend/platform/apperr"
)

const dealColumns = `id, organization_id, external_id, name, value, contact_id, origin_id,
	stage_id, owner_id, tags, custom_fields, replicated_from_deal_id, created_at, updated_at`

// Repository provides the shared deal ledger queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the deals repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID retrieves a single deal scoped to the organization.
func (r *Repository) GetByID(ctx context.Context, organizationID, id uuid.UUID) (Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1 AND organization_id = $2`

	row := r.pool.QueryRow(ctx, query, id, organizationID)
	deal, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, apperr.NotFound("deal not found")
		}
		return Deal{}, fmt.Errorf("get deal by id: %w", err)
	}
	return deal, nil
}

// ListUngrouped returns deals without an owner, excluding replicas.
func (r *Repository) ListUngrouped(ctx context.Context, organizationID uuid.UUID) ([]Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals
		WHERE organization_id = $1 AND owner_id IS NULL AND replicated_from_deal_id IS NULL
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list ungrouped deals: %w", err)
	}
	defer rows.Close()

	return scanDeals(rows)
}

// AssignOwner sets the deal's owner and appends the distribution tag when it
// is not already present.
func (r *Repository) AssignOwner(ctx context.Context, organizationID, dealID, ownerID uuid.UUID, tag string) error {
	query := `UPDATE deals
		SET owner_id = $3,
			tags = CASE WHEN $4 = ANY(tags) THEN tags ELSE array_append(tags, $4) END,
			updated_at = now()
		WHERE id = $1 AND organization_id = $2`

	cmd, err := r.pool.Exec(ctx, query, dealID, organizationID, ownerID, tag)
	if err != nil {
		return fmt.Errorf("assign deal owner: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.NotFound("deal not found")
	}
	return nil
}

// CreateReplica inserts a copy of a deal into another pipeline, carrying the
// lineage pointer. The partial unique index on (replicated_from_deal_id,
// origin_id) makes the insert a no-op when a replica already exists, so two
// overlapping replication runs cannot both insert. The second return value
// reports whether a row was actually created.
func (r *Repository) CreateReplica(ctx context.Context, replica Deal) (uuid.UUID, bool, error) {
	fields, err := json.Marshal(replica.CustomFields)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("encode custom fields: %w", err)
	}

	query := `INSERT INTO deals
			(organization_id, name, value, contact_id, origin_id, stage_id, owner_id, tags, custom_fields, replicated_from_deal_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (replicated_from_deal_id, origin_id) WHERE replicated_from_deal_id IS NOT NULL
		DO NOTHING
		RETURNING id`

	var id uuid.UUID
	err = r.pool.QueryRow(ctx, query,
		replica.OrganizationID, replica.Name, replica.Value, replica.ContactID,
		replica.OriginID, replica.StageID, replica.OwnerID, replica.Tags,
		fields, replica.ReplicatedFromDealID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("create replica: %w", err)
	}
	return id, true, nil
}

// UpsertByExternalID inserts or updates a deal keyed by its external id.
// Returns true when a new row was inserted, false when an existing one was
// updated. Custom fields are merged so repeated imports never drop keys.
func (r *Repository) UpsertByExternalID(ctx context.Context, deal Deal) (bool, error) {
	fields, err := json.Marshal(deal.CustomFields)
	if err != nil {
		return false, fmt.Errorf("encode custom fields: %w", err)
	}

	query := `INSERT INTO deals
			(organization_id, external_id, name, value, contact_id, origin_id, stage_id, tags, custom_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (organization_id, external_id) WHERE external_id IS NOT NULL
		DO UPDATE SET
			name = EXCLUDED.name,
			value = EXCLUDED.value,
			contact_id = COALESCE(EXCLUDED.contact_id, deals.contact_id),
			stage_id = EXCLUDED.stage_id,
			custom_fields = deals.custom_fields || EXCLUDED.custom_fields,
			updated_at = now()
		RETURNING (xmax = 0)`

	var inserted bool
	err = r.pool.QueryRow(ctx, query,
		deal.OrganizationID, deal.ExternalID, deal.Name, deal.Value, deal.ContactID,
		deal.OriginID, deal.StageID, deal.Tags, fields,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert deal: %w", err)
	}
	return inserted, nil
}

// ListByOrganization streams every deal for export, ordered by creation time.
func (r *Repository) ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals
		WHERE organization_id = $1 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	return scanDeals(rows)
}

// ListStages returns all stages of the organization, for name-resolution caches.
func (r *Repository) ListStages(ctx context.Context, organizationID uuid.UUID) ([]Stage, error) {
	query := `SELECT id, organization_id, origin_id, name, position
		FROM stages WHERE organization_id = $1 ORDER BY origin_id, position`

	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.ID, &s.OrganizationID, &s.OriginID, &s.Name, &s.Position); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// GetOrigin retrieves an origin scoped to the organization.
func (r *Repository) GetOrigin(ctx context.Context, organizationID, id uuid.UUID) (Origin, error) {
	query := `SELECT id, organization_id, name FROM origins WHERE id = $1 AND organization_id = $2`

	var o Origin
	err := r.pool.QueryRow(ctx, query, id, organizationID).Scan(&o.ID, &o.OrganizationID, &o.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Origin{}, apperr.NotFound("origin not found")
		}
		return Origin{}, fmt.Errorf("get origin: %w", err)
	}
	return o, nil
}

func scanDeal(row pgx.Row) (Deal, error) {
	var d Deal
	var fields []byte
	err := row.Scan(
		&d.ID, &d.OrganizationID, &d.ExternalID, &d.Name, &d.Value, &d.ContactID,
		&d.OriginID, &d.StageID, &d.OwnerID, &d.Tags, &fields,
		&d.ReplicatedFromDealID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Deal{}, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &d.CustomFields); err != nil {
			return Deal{}, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	return d, nil
}

func scanDeals(rows pgx.Rows) ([]Deal, error) {
	var out []Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		out = append(out, deal)
	}
	return out, rows.Err()
}
