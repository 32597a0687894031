// Package contacts manages person records created from any intake channel.
// Contacts are created on first sighting, updated on repeat sightings, and
// never deleted by the reconciliation routines.
package contacts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"insight_backoffice_backend/platform/phone"
)

// Contact is a person record.
type Contact struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Email          *string
	Phone          *string
	Tags           []string
	OriginID       *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository provides contact persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the contacts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByOrganization returns every contact of the organization. Import runs
// load these once into an in-memory cache instead of querying per row.
func (r *Repository) ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]Contact, error) {
	query := `SELECT id, organization_id, name, email, phone, tags, origin_id, created_at, updated_at
		FROM contacts WHERE organization_id = $1`

	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Email, &c.Phone, &c.Tags, &c.OriginID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a new contact, normalizing the phone to E.164 when possible.
func (r *Repository) Create(ctx context.Context, c Contact) (uuid.UUID, error) {
	if c.Phone != nil {
		normalized := phone.NormalizeE164(*c.Phone)
		c.Phone = &normalized
	}

	query := `INSERT INTO contacts (organization_id, name, email, phone, tags, origin_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	var id uuid.UUID
	err := r.pool.QueryRow(ctx, query,
		c.OrganizationID, c.Name, normalizeEmail(c.Email), c.Phone, tagsOrEmpty(c.Tags), c.OriginID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create contact: %w", err)
	}
	return id, nil
}

// Touch updates name and phone on a repeat sighting. Empty inputs leave the
// existing values alone.
func (r *Repository) Touch(ctx context.Context, organizationID, id uuid.UUID, name, phoneNumber string) error {
	query := `UPDATE contacts
		SET name = CASE WHEN $3 <> '' THEN $3 ELSE name END,
			phone = CASE WHEN $4 <> '' THEN $4 ELSE phone END,
			updated_at = now()
		WHERE id = $1 AND organization_id = $2`

	if phoneNumber != "" {
		phoneNumber = phone.NormalizeE164(phoneNumber)
	}

	if _, err := r.pool.Exec(ctx, query, id, organizationID, strings.TrimSpace(name), phoneNumber); err != nil {
		return fmt.Errorf("touch contact: %w", err)
	}
	return nil
}

func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	trimmed := strings.ToLower(strings.TrimSpace(*email))
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
