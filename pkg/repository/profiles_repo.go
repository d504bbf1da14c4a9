package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const profileColumns = `id, user_id, tenant_id, personal, education, employment, travel, crs_inputs,
	crs_breakdown, crs_score, created_at, updated_at`

// ProfilesRepository handles immigration profiles.
type ProfilesRepository struct {
	db *sql.DB
}

// NewProfilesRepository creates a new profiles repository.
func NewProfilesRepository(db *sql.DB) *ProfilesRepository {
	return &ProfilesRepository{db: db}
}

func scanProfile(row interface{ Scan(...any) error }) (*domain.Profile, error) {
	p := &domain.Profile{}
	var personal, education, employment, travel, inputs, breakdown []byte
	err := row.Scan(&p.ID, &p.UserID, &p.TenantID, &personal, &education, &employment, &travel, &inputs,
		&breakdown, &p.CRSScore, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Personal, p.Education, p.Employment, p.Travel, p.CRSInputs = personal, education, employment, travel, inputs
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &p.CRSBreakdown); err != nil {
			return nil, fmt.Errorf("decode crs breakdown: %w", err)
		}
	}
	return p, nil
}

// nullJSON stores empty documents as NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// GetByUser retrieves the profile of userID visible to scope.
func (r *ProfilesRepository) GetByUser(ctx context.Context, scope domain.Scope, userID uuid.UUID) (*domain.Profile, error) {
	clause, args := tenantClause(scope, "tenant_id", []any{userID})
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1 AND ` + clause
	return scanProfile(querier(ctx, r.db).QueryRowContext(ctx, query, args...))
}

// List returns profiles visible to scope.
func (r *ProfilesRepository) List(ctx context.Context, scope domain.Scope, page domain.Page) ([]*domain.Profile, int, error) {
	clause, args := tenantClause(scope, "tenant_id", nil)

	var total int
	if err := querier(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page = page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM profiles WHERE %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		profileColumns, clause, len(args)-1, len(args))
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var profiles []*domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		profiles = append(profiles, p)
	}
	return profiles, total, rows.Err()
}

// Save inserts or replaces a profile. The tenant on an existing row never changes.
func (r *ProfilesRepository) Save(ctx context.Context, p *domain.Profile) error {
	breakdown, err := json.Marshal(p.CRSBreakdown)
	if err != nil {
		return err
	}
	if p.CRSBreakdown == nil {
		breakdown = []byte("{}")
	}
	query := `
		INSERT INTO profiles (id, user_id, tenant_id, personal, education, employment, travel, crs_inputs,
		                      crs_breakdown, crs_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE
		SET personal = EXCLUDED.personal, education = EXCLUDED.education,
		    employment = EXCLUDED.employment, travel = EXCLUDED.travel,
		    crs_inputs = EXCLUDED.crs_inputs, crs_breakdown = EXCLUDED.crs_breakdown,
		    crs_score = EXCLUDED.crs_score, updated_at = EXCLUDED.updated_at
		WHERE profiles.tenant_id = EXCLUDED.tenant_id
	`
	res, err := querier(ctx, r.db).ExecContext(ctx, query,
		p.ID, p.UserID, p.TenantID,
		nullJSON(p.Personal), nullJSON(p.Education), nullJSON(p.Employment), nullJSON(p.Travel), nullJSON(p.CRSInputs),
		breakdown, p.CRSScore, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrProfileNotFound)
}
