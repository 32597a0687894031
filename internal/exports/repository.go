// Package exports streams the deal ledger as CSV for external consumers,
// authenticated by per-organization API keys.
package exports

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrAPIKeyNotFound is returned when no active key matches.
var ErrAPIKeyNotFound = errors.New("export API key not found")

const apiKeyPrefix = "exp_"

// APIKey is one export credential. Only the SHA-256 hash is stored.
type APIKey struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	KeyHash        string
	KeyPrefix      string
	IsActive       bool
	CreatedAt      time.Time
	LastUsedAt     *time.Time
}

// ExportRow is one deal flattened for CSV output.
type ExportRow struct {
	ExternalID  *string
	Name        string
	Value       decimal.Decimal
	ContactName *string
	Email       *string
	Phone       *string
	StageName   string
	Tags        []string
	CreatedAt   time.Time
}

// Repository provides data access for export operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the exports repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GenerateAPIKey creates a new random key and returns the plaintext, its hash
// and the display prefix. The plaintext is shown to the caller exactly once.
func GenerateAPIKey() (plaintext string, hash string, prefix string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}
	plaintext = apiKeyPrefix + hex.EncodeToString(bytes)
	hash = HashKey(plaintext)
	prefix = plaintext[:12]
	return plaintext, hash, prefix, nil
}

// HashKey hashes a plaintext API key for lookup.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// CreateAPIKey persists a new export API key.
func (r *Repository) CreateAPIKey(ctx context.Context, organizationID uuid.UUID, name, keyHash, keyPrefix string) (APIKey, error) {
	var key APIKey
	err := r.pool.QueryRow(ctx, `
		INSERT INTO export_api_keys (organization_id, name, key_hash, key_prefix)
		VALUES ($1, $2, $3, $4)
		RETURNING id, organization_id, name, key_hash, key_prefix, is_active, created_at, last_used_at
	`, organizationID, name, keyHash, keyPrefix).Scan(
		&key.ID, &key.OrganizationID, &key.Name, &key.KeyHash, &key.KeyPrefix, &key.IsActive, &key.CreatedAt, &key.LastUsedAt,
	)
	if err != nil {
		return APIKey{}, fmt.Errorf("create export api key: %w", err)
	}
	return key, nil
}

// GetAPIKeyByHash retrieves an active API key by its hash.
func (r *Repository) GetAPIKeyByHash(ctx context.Context, keyHash string) (APIKey, error) {
	var key APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, key_hash, key_prefix, is_active, created_at, last_used_at
		FROM export_api_keys
		WHERE key_hash = $1 AND is_active = true
	`, keyHash).Scan(
		&key.ID, &key.OrganizationID, &key.Name, &key.KeyHash, &key.KeyPrefix, &key.IsActive, &key.CreatedAt, &key.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, ErrAPIKeyNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("get export api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns every export API key of the organization.
func (r *Repository) ListAPIKeys(ctx context.Context, organizationID uuid.UUID) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, name, key_hash, key_prefix, is_active, created_at, last_used_at
		FROM export_api_keys
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list export api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]APIKey, 0)
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(
			&key.ID, &key.OrganizationID, &key.Name, &key.KeyHash, &key.KeyPrefix, &key.IsActive, &key.CreatedAt, &key.LastUsedAt,
		); err != nil {
			return nil, fmt.Errorf("scan export api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeAPIKey deactivates an export API key.
func (r *Repository) RevokeAPIKey(ctx context.Context, organizationID, keyID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE export_api_keys SET is_active = false
		WHERE id = $1 AND organization_id = $2
	`, keyID, organizationID)
	if err != nil {
		return fmt.Errorf("revoke export api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// TouchAPIKey updates the last_used_at timestamp. Best effort.
func (r *Repository) TouchAPIKey(ctx context.Context, keyID uuid.UUID) {
	_, _ = r.pool.Exec(ctx, `
		UPDATE export_api_keys SET last_used_at = now() WHERE id = $1
	`, keyID)
}

// ListDeals returns deals flattened for CSV export, oldest first. A nil
// originID exports every pipeline.
func (r *Repository) ListDeals(ctx context.Context, organizationID uuid.UUID, originID *uuid.UUID, from, to time.Time, limit int) ([]ExportRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.external_id, d.name, d.value, c.name, c.email, c.phone, s.name, d.tags, d.created_at
		FROM deals d
		JOIN stages s ON s.id = d.stage_id
		LEFT JOIN contacts c ON c.id = d.contact_id
		WHERE d.organization_id = $1
			AND ($2::uuid IS NULL OR d.origin_id = $2)
			AND d.created_at >= $3 AND d.created_at <= $4
		ORDER BY d.created_at ASC
		LIMIT $5
	`, organizationID, originID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list deals for export: %w", err)
	}
	defer rows.Close()

	items := make([]ExportRow, 0)
	for rows.Next() {
		var item ExportRow
		if err := rows.Scan(
			&item.ExternalID, &item.Name, &item.Value, &item.ContactName,
			&item.Email, &item.Phone, &item.StageName, &item.Tags, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
