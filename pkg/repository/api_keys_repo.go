package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const apiKeyColumns = `id, tenant_id, user_id, name, prefix, key_hash, scopes, expires_at, last_used_at, revoked_at, created_at`

// APIKeysRepository handles API key persistence.
type APIKeysRepository struct {
	db *sql.DB
}

// NewAPIKeysRepository creates a new API keys repository.
func NewAPIKeysRepository(db *sql.DB) *APIKeysRepository {
	return &APIKeysRepository{db: db}
}

func scanAPIKey(row interface{ Scan(...any) error }) (*domain.APIKey, error) {
	k := &domain.APIKey{}
	err := row.Scan(&k.ID, &k.TenantID, &k.UserID, &k.Name, &k.Prefix, &k.KeyHash, pq.Array(&k.Scopes),
		&k.ExpiresAt, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Create inserts an API key.
func (r *APIKeysRepository) Create(ctx context.Context, k *domain.APIKey) error {
	query := `
		INSERT INTO api_keys (id, tenant_id, user_id, name, prefix, key_hash, scopes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query,
		k.ID, k.TenantID, k.UserID, k.Name, k.Prefix, k.KeyHash, pq.Array(k.Scopes), k.ExpiresAt, k.CreatedAt)
	return err
}

// GetByPrefix retrieves a key by its public prefix. It is unscoped because
// the key itself establishes the tenant.
func (r *APIKeysRepository) GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE prefix = $1`
	return scanAPIKey(querier(ctx, r.db).QueryRowContext(ctx, query, prefix))
}

// List returns keys visible to scope.
func (r *APIKeysRepository) List(ctx context.Context, scope domain.Scope) ([]*domain.APIKey, error) {
	clause, args := tenantClause(scope, "tenant_id", nil)
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE ` + clause + ` ORDER BY created_at DESC`
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke revokes a key visible to scope.
func (r *APIKeysRepository) Revoke(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	clause, args := tenantClause(scope, "tenant_id", []any{id})
	query := `UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL AND ` + clause
	res, err := querier(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrAPIKeyNotFound)
}

// Touch stamps the key's last use.
func (r *APIKeysRepository) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := querier(ctx, r.db).ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}
