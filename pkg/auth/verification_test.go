package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

func TestVerificationService_PasswordReset(t *testing.T) {
	ctx := context.Background()
	store := newFakeTokens()
	svc := NewVerificationService(VerificationConfig{PasswordResetTTL: 30 * time.Minute}, fakeTx{}, store)
	userID := uuid.New()

	first, err := svc.IssuePasswordReset(ctx, userID, domain.TokenOrigin{IP: "203.0.113.9"})
	if err != nil {
		t.Fatalf("IssuePasswordReset() error = %v", err)
	}
	second, err := svc.IssuePasswordReset(ctx, userID, domain.TokenOrigin{})
	if err != nil {
		t.Fatalf("IssuePasswordReset() error = %v", err)
	}

	if _, err := svc.RedeemPasswordReset(ctx, first); !errors.Is(err, domain.ErrVerificationTokenConsumed) {
		t.Errorf("superseded token error = %v, want ErrVerificationTokenConsumed", err)
	}
	got, err := svc.RedeemPasswordReset(ctx, second)
	if err != nil || got != userID {
		t.Fatalf("RedeemPasswordReset() = %v, %v", got, err)
	}

	for _, raw := range []string{"", "not-issued"} {
		if _, err := svc.RedeemPasswordReset(ctx, raw); !errors.Is(err, domain.ErrVerificationTokenInvalid) {
			t.Errorf("RedeemPasswordReset(%q) error = %v, want ErrVerificationTokenInvalid", raw, err)
		}
	}
}

func TestVerificationService_Expired(t *testing.T) {
	ctx := context.Background()
	svc := NewVerificationService(VerificationConfig{}, fakeTx{}, newFakeTokens())
	issued := time.Now()
	svc.now = func() time.Time { return issued }

	raw, err := svc.IssuePasswordReset(ctx, uuid.New(), domain.TokenOrigin{})
	if err != nil {
		t.Fatal(err)
	}
	svc.now = func() time.Time { return issued.Add(DefaultPasswordResetTTL) }
	if _, err := svc.RedeemPasswordReset(ctx, raw); !errors.Is(err, domain.ErrVerificationTokenExpired) {
		t.Errorf("error = %v, want ErrVerificationTokenExpired", err)
	}
}
