package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

type VerificationTokensRepository struct {
	db *sql.DB
}

func NewVerificationTokensRepository(db *sql.DB) *VerificationTokensRepository {
	return &VerificationTokensRepository{db: db}
}

const verificationTokenCols = `id, user_id, token_hash, kind, created_at, expires_at, consumed_at, metadata`

func scanVerificationToken(row interface{ Scan(...any) error }) (*domain.VerificationToken, error) {
	var (
		t      domain.VerificationToken
		origin []byte
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Hash, &t.Purpose, &t.IssuedAt, &t.ExpiresAt, &t.ConsumedAt, &origin); err != nil {
		return nil, err
	}
	if len(origin) > 0 {
		if err := json.Unmarshal(origin, &t.Origin); err != nil {
			return nil, fmt.Errorf("decode token origin: %w", err)
		}
	}
	return &t, nil
}

func (r *VerificationTokensRepository) Create(ctx context.Context, t *domain.VerificationToken) error {
	origin, err := json.Marshal(t.Origin)
	if err != nil {
		return err
	}
	_, err = querier(ctx, r.db).ExecContext(ctx, `
		INSERT INTO verification_tokens (id, user_id, token_hash, kind, created_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.Hash, t.Purpose, t.IssuedAt, t.ExpiresAt, origin)
	if err != nil {
		return fmt.Errorf("insert verification token: %w", err)
	}
	return nil
}

// SupersedeOutstanding consumes every live token the user holds for purpose.
func (r *VerificationTokensRepository) SupersedeOutstanding(ctx context.Context, userID uuid.UUID, purpose domain.TokenPurpose) error {
	_, err := querier(ctx, r.db).ExecContext(ctx, `
		UPDATE verification_tokens SET consumed_at = NOW()
		WHERE user_id = $1 AND kind = $2 AND consumed_at IS NULL AND expires_at > NOW()`, userID, purpose)
	if err != nil {
		return fmt.Errorf("supersede verification tokens: %w", err)
	}
	return nil
}

// Redeem consumes the token with hash in a single statement so two
// concurrent redemptions cannot both succeed. When nothing was consumed the
// stored row, if any, decides which error is returned.
func (r *VerificationTokensRepository) Redeem(ctx context.Context, hash string, purpose domain.TokenPurpose, now time.Time) (*domain.VerificationToken, error) {
	q := querier(ctx, r.db)
	t, err := scanVerificationToken(q.QueryRowContext(ctx, `
		UPDATE verification_tokens SET consumed_at = $3
		WHERE token_hash = $1 AND kind = $2 AND consumed_at IS NULL AND expires_at > $3
		RETURNING `+verificationTokenCols, hash, purpose, now))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("redeem verification token: %w", err)
	}

	t, err = scanVerificationToken(q.QueryRowContext(ctx,
		`SELECT `+verificationTokenCols+` FROM verification_tokens WHERE token_hash = $1 AND kind = $2`, hash, purpose))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVerificationTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("get verification token: %w", err)
	}
	if err := t.Redeemable(now); err != nil {
		return nil, err
	}
	return nil, domain.ErrVerificationTokenInvalid
}
