package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const DefaultPasswordResetTTL = time.Hour

type VerificationConfig struct {
	PasswordResetTTL time.Duration
}

// VerificationService issues and redeems single-use emailed tokens.
type VerificationService struct {
	config VerificationConfig
	tx     TxRunner
	tokens VerificationTokenStore
	now    func() time.Time
}

func NewVerificationService(config VerificationConfig, tx TxRunner, tokens VerificationTokenStore) *VerificationService {
	if config.PasswordResetTTL <= 0 {
		config.PasswordResetTTL = DefaultPasswordResetTTL
	}
	return &VerificationService{config: config, tx: tx, tokens: tokens, now: time.Now}
}

// IssuePasswordReset returns a fresh raw reset token for userID. Earlier
// reset tokens for the user stop working.
func (s *VerificationService) IssuePasswordReset(ctx context.Context, userID uuid.UUID, origin domain.TokenOrigin) (string, error) {
	raw, err := GenerateToken(32)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	now := s.now()
	token := &domain.VerificationToken{
		ID:        uuid.New(),
		UserID:    userID,
		Hash:      HashToken(raw),
		Purpose:   domain.PurposePasswordReset,
		Origin:    origin,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.PasswordResetTTL),
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.tokens.SupersedeOutstanding(ctx, userID, domain.PurposePasswordReset); err != nil {
			return err
		}
		return s.tokens.Create(ctx, token)
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

// RedeemPasswordReset consumes a raw reset token and returns its owner.
func (s *VerificationService) RedeemPasswordReset(ctx context.Context, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, domain.ErrVerificationTokenInvalid
	}
	token, err := s.tokens.Redeem(ctx, HashToken(raw), domain.PurposePasswordReset, s.now())
	if err != nil {
		return uuid.Nil, err
	}
	return token.UserID, nil
}
