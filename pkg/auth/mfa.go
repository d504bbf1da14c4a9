package auth

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const (
	// TOTP parameters
	totpDigits = 6
	totpPeriod = 30
	totpWindow = 1 // Allow ±30 seconds clock drift

	// Recovery code parameters
	recoveryCodeLength = 12
	recoveryCodeCount  = 8
	recoveryCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // No ambiguous chars

	DefaultMFAMaxAttempts  = 5
	DefaultMFALockout      = 15 * time.Minute
	DefaultMFAChallengeTTL = 5 * time.Minute
)

// MFAConfig contains configuration for the MFA service
type MFAConfig struct {
	Issuer        string
	EncryptionKey []byte // 32 bytes for AES-256

	MaxFailedAttempts int
	LockoutDuration   time.Duration
	ChallengeTTL      time.Duration
}

// MFAService handles multi-factor authentication operations
type MFAService struct {
	config        MFAConfig
	tx            TxRunner
	settings      MFASettingsStore
	recoveryCodes RecoveryCodeStore
	users         UserStore
	creds         CredentialStore
	challenges    ChallengeStore
	now           func() time.Time
}

// NewMFAService creates a new MFA service
func NewMFAService(
	config MFAConfig,
	tx TxRunner,
	settings MFASettingsStore,
	recoveryCodes RecoveryCodeStore,
	users UserStore,
	creds CredentialStore,
	challenges ChallengeStore,
) *MFAService {
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = DefaultMFAMaxAttempts
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = DefaultMFALockout
	}
	if config.ChallengeTTL <= 0 {
		config.ChallengeTTL = DefaultMFAChallengeTTL
	}
	return &MFAService{
		config:        config,
		tx:            tx,
		settings:      settings,
		recoveryCodes: recoveryCodes,
		users:         users,
		creds:         creds,
		challenges:    challenges,
		now:           time.Now,
	}
}

// Setup generates a new TOTP secret and recovery codes for user. MFA stays
// disabled until Enable confirms a code. A pending factor locked by failed
// confirmations cannot be replaced until the lock passes.
func (s *MFAService) Setup(ctx context.Context, user *domain.User) (*domain.MFASetupResponse, error) {
	if user.MFAEnabled {
		return nil, domain.ErrMFAAlreadyEnabled
	}
	pending, err := s.settings.GetByUserID(ctx, user.ID)
	if err != nil && !errors.Is(err, domain.ErrMFANotSetup) {
		return nil, err
	}
	if pending != nil && pending.IsLocked(s.now()) {
		return nil, domain.ErrMFALocked
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.config.Issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	var qrBuf bytes.Buffer
	img, err := key.Image(200, 200)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code image: %w", err)
	}
	if err := png.Encode(&qrBuf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	qrDataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrBuf.Bytes())

	now := s.now()
	plain := make([]string, recoveryCodeCount)
	hashed := make([]*domain.MFARecoveryCode, recoveryCodeCount)
	for i := range plain {
		code, err := generateRecoveryCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		plain[i] = code
		hashed[i] = &domain.MFARecoveryCode{
			ID:        uuid.New(),
			UserID:    user.ID,
			CodeHash:  hashRecoveryCode(code),
			CreatedAt: now,
		}
	}

	encrypted, err := s.encryptSecret(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TOTP secret: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.settings.Upsert(ctx, &domain.MFASettings{
			UserID:          user.ID,
			TenantID:        user.TenantID,
			Method:          domain.MFAMethodTOTP,
			SecretEncrypted: encrypted,
			CreatedAt:       now,
		}); err != nil {
			return fmt.Errorf("failed to store MFA settings: %w", err)
		}
		return s.recoveryCodes.ReplaceAll(ctx, user.ID, hashed)
	})
	if err != nil {
		return nil, err
	}

	return &domain.MFASetupResponse{
		Secret:        key.Secret(),
		QRCodeDataURI: qrDataURI,
		RecoveryCodes: plain,
	}, nil
}

// Enable confirms the pending secret with a TOTP code and turns MFA on.
func (s *MFAService) Enable(ctx context.Context, userID uuid.UUID, code string) error {
	settings, err := s.settings.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if settings.Enabled {
		return domain.ErrMFAAlreadyEnabled
	}
	if settings.IsLocked(s.now()) {
		return domain.ErrMFALocked
	}

	ok, err := s.checkTOTP(settings, code)
	if err != nil {
		return err
	}
	if !ok {
		return s.recordFailure(ctx, userID, domain.ErrInvalidMFACode)
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.settings.SetEnabled(ctx, userID, true); err != nil {
			return err
		}
		if err := s.settings.RecordSuccess(ctx, userID); err != nil {
			return err
		}
		return s.users.UpdateMFAEnabled(ctx, userID, true)
	})
}

// Verify checks a TOTP or recovery code for an MFA-enabled user. Failures
// count towards the lockout threshold; while locked even a correct code is
// rejected with ErrMFALocked.
func (s *MFAService) Verify(ctx context.Context, userID uuid.UUID, code string) error {
	settings, err := s.settings.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrMFANotSetup) {
			return domain.ErrMFANotEnabled
		}
		return err
	}
	if !settings.Enabled {
		return domain.ErrMFANotEnabled
	}
	if settings.IsLocked(s.now()) {
		return domain.ErrMFALocked
	}

	code = strings.TrimSpace(code)
	if isTOTPCode(code) {
		ok, err := s.checkTOTP(settings, code)
		if err != nil {
			return err
		}
		if !ok {
			return s.recordFailure(ctx, userID, domain.ErrInvalidMFACode)
		}
	} else {
		err := s.recoveryCodes.Consume(ctx, userID, hashRecoveryCode(code))
		if errors.Is(err, domain.ErrInvalidRecoveryCode) {
			return s.recordFailure(ctx, userID, domain.ErrInvalidRecoveryCode)
		}
		if err != nil {
			return err
		}
	}

	return s.settings.RecordSuccess(ctx, userID)
}

func (s *MFAService) recordFailure(ctx context.Context, userID uuid.UUID, cause error) error {
	_, lockedUntil, err := s.settings.RecordFailure(ctx, userID, s.config.MaxFailedAttempts, s.config.LockoutDuration)
	if err != nil {
		return err
	}
	if lockedUntil != nil && s.now().Before(*lockedUntil) {
		return domain.ErrMFALocked
	}
	return cause
}

// Disable turns MFA off after re-checking the account password.
func (s *MFAService) Disable(ctx context.Context, userID uuid.UUID, password string) error {
	cred, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if !VerifyPassword(password, cred.PasswordHash) {
		return domain.ErrInvalidCredentials
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.settings.Delete(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete MFA settings: %w", err)
		}
		if err := s.recoveryCodes.DeleteForUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete recovery codes: %w", err)
		}
		return s.users.UpdateMFAEnabled(ctx, userID, false)
	})
}

// Status returns the MFA state for a user.
func (s *MFAService) Status(ctx context.Context, userID uuid.UUID) (*domain.MFAStatus, error) {
	settings, err := s.settings.GetByUserID(ctx, userID)
	if errors.Is(err, domain.ErrMFANotSetup) {
		return &domain.MFAStatus{}, nil
	}
	if err != nil {
		return nil, err
	}

	status := &domain.MFAStatus{Enabled: settings.Enabled, Method: settings.Method}
	if settings.IsLocked(s.now()) {
		status.LockedUntil = settings.LockedUntil
	}
	if settings.Enabled {
		n, err := s.recoveryCodes.CountUnused(ctx, userID)
		if err != nil {
			return nil, err
		}
		status.RecoveryCodesRemaining = n
	}
	return status, nil
}

// CreateChallenge stores a pending MFA login and returns its opaque token.
func (s *MFAService) CreateChallenge(ctx context.Context, c domain.MFAChallenge) (string, error) {
	token, err := GenerateToken(32)
	if err != nil {
		return "", err
	}
	if err := s.challenges.Put(ctx, HashToken(token), c, s.config.ChallengeTTL); err != nil {
		return "", fmt.Errorf("failed to store MFA challenge: %w", err)
	}
	return token, nil
}

// ConsumeChallenge redeems a challenge token exactly once.
func (s *MFAService) ConsumeChallenge(ctx context.Context, token string) (*domain.MFAChallenge, error) {
	if token == "" {
		return nil, domain.ErrMFAChallengeExpired
	}
	return s.challenges.Take(ctx, HashToken(token))
}

// VerifyChallenge redeems a challenge token and checks code for its user.
// A wrong code puts the challenge back so the user can retry until the
// lockout threshold. A challenge redeemed under a tenant other than the one
// it was issued for is spent.
func (s *MFAService) VerifyChallenge(ctx context.Context, token, code string, tenant *uuid.UUID) (*domain.MFAChallenge, error) {
	c, err := s.ConsumeChallenge(ctx, token)
	if err != nil {
		return nil, err
	}
	if tenant != nil && c.TenantID != "" && c.TenantID != tenant.String() {
		return nil, domain.ErrInvalidCredentials
	}

	err = s.Verify(ctx, c.UserID, code)
	if errors.Is(err, domain.ErrInvalidMFACode) || errors.Is(err, domain.ErrInvalidRecoveryCode) {
		if putErr := s.challenges.Put(ctx, HashToken(token), *c, s.config.ChallengeTTL); putErr != nil {
			return nil, fmt.Errorf("failed to restore MFA challenge: %w", putErr)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *MFAService) checkTOTP(settings *domain.MFASettings, code string) (bool, error) {
	secret, err := s.decryptSecret(settings.SecretEncrypted)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}
	valid, err := totp.ValidateCustom(code, secret, s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpWindow,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, nil
	}
	return valid, nil
}

func isTOTPCode(code string) bool {
	if len(code) != totpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// encryptSecret encrypts a plaintext secret using AES-256-GCM
func (s *MFAService) encryptSecret(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.config.EncryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptSecret decrypts an encrypted secret using AES-256-GCM
func (s *MFAService) decryptSecret(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(s.config.EncryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// hashRecoveryCode normalizes a code (no dashes or spaces, upper case) and
// hashes it.
func hashRecoveryCode(code string) string {
	normalized := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(code))
	return HashToken(normalized)
}

// generateRecoveryCode generates a random recovery code in format XXXX-XXXX-XXXX
func generateRecoveryCode() (string, error) {
	chars := make([]byte, recoveryCodeLength)
	if _, err := rand.Read(chars); err != nil {
		return "", err
	}

	for i := range chars {
		chars[i] = recoveryCodeChars[int(chars[i])%len(recoveryCodeChars)]
	}

	return fmt.Sprintf("%s-%s-%s",
		string(chars[0:4]),
		string(chars[4:8]),
		string(chars[8:12]),
	), nil
}
