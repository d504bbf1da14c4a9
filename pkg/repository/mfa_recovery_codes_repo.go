package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/immigration-portal/pkg/domain"
)

type MFARecoveryCodesRepository struct {
	db *sql.DB
}

func NewMFARecoveryCodesRepository(db *sql.DB) *MFARecoveryCodesRepository {
	return &MFARecoveryCodesRepository{db: db}
}

// ReplaceAll swaps a user's recovery codes for codes. Run it inside
// Store.WithinTx so the delete and insert commit together.
func (r *MFARecoveryCodesRepository) ReplaceAll(ctx context.Context, userID uuid.UUID, codes []*domain.MFARecoveryCode) error {
	if err := r.DeleteForUser(ctx, userID); err != nil {
		return err
	}
	if len(codes) == 0 {
		return nil
	}

	ids := make([]string, len(codes))
	hashes := make([]string, len(codes))
	for i, c := range codes {
		ids[i] = c.ID.String()
		hashes[i] = c.CodeHash
	}
	_, err := querier(ctx, r.db).ExecContext(ctx, `
		INSERT INTO mfa_recovery_codes (id, user_id, code_hash)
		SELECT unnest($1::uuid[]), $2, unnest($3::text[])`,
		pq.Array(ids), userID, pq.Array(hashes))
	if err != nil {
		return fmt.Errorf("insert recovery codes: %w", err)
	}
	return nil
}

// Consume burns one unused code. A reused or unknown code yields
// ErrInvalidRecoveryCode.
func (r *MFARecoveryCodesRepository) Consume(ctx context.Context, userID uuid.UUID, codeHash string) error {
	res, err := querier(ctx, r.db).ExecContext(ctx, `
		UPDATE mfa_recovery_codes SET used_at = NOW()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`, userID, codeHash)
	if err != nil {
		return fmt.Errorf("consume recovery code: %w", err)
	}
	return expectOne(res, domain.ErrInvalidRecoveryCode)
}

func (r *MFARecoveryCodesRepository) CountUnused(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mfa_recovery_codes WHERE user_id = $1 AND used_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recovery codes: %w", err)
	}
	return n, nil
}

func (r *MFARecoveryCodesRepository) DeleteForUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := querier(ctx, r.db).ExecContext(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}
	return nil
}
