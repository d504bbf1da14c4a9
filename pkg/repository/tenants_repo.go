package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const tenantColumns = `id, name, domain, status, contact_email, contact_phone, settings,
	trial_ends_at, created_at, updated_at, deleted_at`

// TenantsRepository handles tenant persistence.
type TenantsRepository struct {
	db *sql.DB
}

// NewTenantsRepository creates a new tenants repository.
func NewTenantsRepository(db *sql.DB) *TenantsRepository {
	return &TenantsRepository{db: db}
}

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	var settings []byte
	err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.Status, &t.ContactEmail, &t.ContactPhone,
		&settings, &t.TrialEndsAt, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("decode tenant settings: %w", err)
		}
	}
	return t, nil
}

// Create creates a new tenant.
func (r *TenantsRepository) Create(ctx context.Context, t *domain.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tenants (id, name, domain, status, contact_email, contact_phone, settings,
		                     trial_ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = querier(ctx, r.db).ExecContext(ctx, query,
		t.ID, t.Name, t.Domain, t.Status, t.ContactEmail, t.ContactPhone, settings,
		t.TrialEndsAt, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrTenantDomainTaken
	}
	return err
}

// GetByID retrieves a live tenant by ID.
func (r *TenantsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1 AND deleted_at IS NULL`
	return scanTenant(querier(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetByDomain retrieves a live tenant by its domain.
func (r *TenantsRepository) GetByDomain(ctx context.Context, domainName string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE domain = $1 AND deleted_at IS NULL`
	return scanTenant(querier(ctx, r.db).QueryRowContext(ctx, query, domainName))
}

// List returns tenants matching filter and the total count.
func (r *TenantsRepository) List(ctx context.Context, filter domain.TenantFilter) ([]*domain.Tenant, int, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, likePattern(s))
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR domain ILIKE $%d)", len(args), len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := querier(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		tenantColumns, whereSQL, len(args)-1, len(args))
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, err
		}
		tenants = append(tenants, t)
	}
	return tenants, total, rows.Err()
}

// Update writes mutable tenant fields.
func (r *TenantsRepository) Update(ctx context.Context, t *domain.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}
	query := `
		UPDATE tenants
		SET name = $2, contact_email = $3, contact_phone = $4, settings = $5,
		    trial_ends_at = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := querier(ctx, r.db).ExecContext(ctx, query,
		t.ID, t.Name, t.ContactEmail, t.ContactPhone, settings, t.TrialEndsAt, time.Now())
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrTenantNotFound)
}

// SetStatus changes the tenant status.
func (r *TenantsRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.TenantStatus) error {
	query := `UPDATE tenants SET status = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrTenantNotFound)
}

// SoftDelete marks a tenant deleted.
func (r *TenantsRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE tenants SET deleted_at = NOW(), status = 'suspended' WHERE id = $1 AND deleted_at IS NULL`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrTenantNotFound)
}

// ListExpiredTrials returns trial tenants whose trial ended before now.
func (r *TenantsRepository) ListExpiredTrials(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM tenants
		WHERE status = 'trial' AND trial_ends_at IS NOT NULL AND trial_ends_at <= $1 AND deleted_at IS NULL
	`
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns live tenant counts keyed by status.
func (r *TenantsRepository) CountByStatus(ctx context.Context) (map[domain.TenantStatus]int, error) {
	rows, err := querier(ctx, r.db).QueryContext(ctx, `SELECT status, COUNT(*) FROM tenants WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.TenantStatus]int)
	for rows.Next() {
		var status domain.TenantStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
