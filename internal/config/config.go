package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr          string
	ServerPort          int
	AppBaseURL          string
	ShutdownTimeout     time.Duration
	MaxRequestBodyBytes int64
	LogLevel            string

	// Database
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnectAttempts int
	DBConnectDelay    time.Duration
	RunMigrations     bool

	// JWT
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Login
	MaxFailedLogins  int
	LoginLockout     time.Duration
	PasswordResetTTL time.Duration

	// Tenancy
	TrialDuration     time.Duration
	TrialPlanSlug     string
	PlanLookupTimeout time.Duration
	TenantCacheTTL    time.Duration

	// Bootstrap super admin, created on startup when both are set.
	SuperAdminEmail    string
	SuperAdminPassword string

	MFA             MFAConfig
	PasswordPolicy  PasswordPolicyConfig
	Validation      ValidationConfig
	SessionSecurity SessionSecurityConfig
	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Redis           RedisConfig
	S3              S3Config
	Documents       DocumentsConfig
	SMTP            SMTPConfig
	Jobs            JobsConfig
}

// MFAConfig holds TOTP settings. EncryptionKey is 64 hex characters.
type MFAConfig struct {
	Issuer            string
	EncryptionKey     string
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	ChallengeTTL      time.Duration
	// RequireForSensitive demands an MFA-verified session on sensitive routes.
	RequireForSensitive bool
}

// PasswordPolicyConfig holds password complexity rules.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// ValidationConfig controls input validation strictness.
type ValidationConfig struct {
	StrictEmail          bool
	BlockDisposableEmail bool
}

// SessionSecurityConfig controls refresh token binding.
type SessionSecurityConfig struct {
	FingerprintEnabled bool
	DetectReuseEnabled bool
}

// RateLimitConfig holds per endpoint class request budgets.
type RateLimitConfig struct {
	Enabled bool

	AuthRequestsPerMinute int
	AuthWindowMinutes     int

	ResetRequestsPerWindow int
	ResetWindowMinutes     int

	RefreshRequestsPerMinute int
	RefreshWindowMinutes     int

	APIRequestsPerMinute int
	APIWindowMinutes     int
}

// SecurityHeadersConfig holds response security headers.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// RedisConfig configures the tenant cache and MFA challenge store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// S3Config configures document storage. Endpoint is set for S3-compatible
// services such as MinIO.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Enabled reports whether document storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// DocumentsConfig limits document uploads.
type DocumentsConfig struct {
	MaxSizeBytes int64
	AllowedTypes []string
	PresignTTL   time.Duration
}

// SMTPConfig configures outgoing email.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// Enabled reports whether email delivery is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// JobsConfig holds cron schedules for maintenance jobs. Schedules use the
// six-field format with seconds.
type JobsConfig struct {
	Enabled               bool
	SessionPurgeSchedule  string
	SessionRetention      time.Duration
	ImpersonationSchedule string
	TrialExpirySchedule   string
	GaugeSchedule         string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr:          getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:          getEnvInt("SERVER_PORT", 8080),
		AppBaseURL:          getEnv("APP_BASE_URL", "http://localhost:3000"),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		LogLevel:            getEnv("LOG_LEVEL", "info"),

		// Database defaults (matches podman setup: make postgres-start)
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 25432),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "immigration_portal"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", 5),
		DBConnectDelay:    getEnvDuration("DB_CONNECT_DELAY", 5*time.Second),
		RunMigrations:     getEnvBool("RUN_MIGRATIONS", true),

		// JWT defaults
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTIssuer:       getEnv("JWT_ISSUER", "immigration-portal"),
		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		MaxFailedLogins:  getEnvInt("MAX_FAILED_LOGINS", 5),
		LoginLockout:     getEnvDuration("LOGIN_LOCKOUT", 15*time.Minute),
		PasswordResetTTL: getEnvDuration("PASSWORD_RESET_TTL", time.Hour),

		TrialDuration:     getEnvDuration("TRIAL_DURATION", 14*24*time.Hour),
		TrialPlanSlug:     getEnv("TRIAL_PLAN_SLUG", "trial"),
		PlanLookupTimeout: getEnvDuration("PLAN_LOOKUP_TIMEOUT", 5*time.Second),
		TenantCacheTTL:    getEnvDuration("TENANT_CACHE_TTL", 5*time.Minute),

		SuperAdminEmail:    getEnv("SUPER_ADMIN_EMAIL", ""),
		SuperAdminPassword: getEnv("SUPER_ADMIN_PASSWORD", ""),

		MFA: MFAConfig{
			Issuer:            getEnv("MFA_ISSUER", "Immigration Portal"),
			EncryptionKey:     getEnv("MFA_ENCRYPTION_KEY", ""),
			MaxFailedAttempts: getEnvInt("MFA_MAX_FAILED_ATTEMPTS", 5),
			LockoutDuration:   getEnvDuration("MFA_LOCKOUT_DURATION", 15*time.Minute),
			ChallengeTTL:      getEnvDuration("MFA_CHALLENGE_TTL", 5*time.Minute),

			RequireForSensitive: getEnvBool("MFA_REQUIRE_FOR_SENSITIVE", false),
		},

		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 8),
			RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", true),
			RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", true),
			RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", true),
			RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", false),
		},

		Validation: ValidationConfig{
			StrictEmail:          getEnvBool("VALIDATION_STRICT_EMAIL", true),
			BlockDisposableEmail: getEnvBool("VALIDATION_BLOCK_DISPOSABLE_EMAIL", false),
		},

		SessionSecurity: SessionSecurityConfig{
			FingerprintEnabled: getEnvBool("SESSION_FINGERPRINT_ENABLED", false),
			DetectReuseEnabled: getEnvBool("SESSION_DETECT_REUSE", false),
		},

		RateLimit: RateLimitConfig{
			Enabled:                  getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:    getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:        getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			ResetRequestsPerWindow:   getEnvInt("RATE_LIMIT_RESET_REQUESTS", 3),
			ResetWindowMinutes:       getEnvInt("RATE_LIMIT_RESET_WINDOW_MINUTES", 60),
			RefreshRequestsPerMinute: getEnvInt("RATE_LIMIT_REFRESH_REQUESTS", 20),
			RefreshWindowMinutes:     getEnvInt("RATE_LIMIT_REFRESH_WINDOW_MINUTES", 1),
			APIRequestsPerMinute:     getEnvInt("RATE_LIMIT_API_REQUESTS", 300),
			APIWindowMinutes:         getEnvInt("RATE_LIMIT_API_WINDOW_MINUTES", 1),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_HEADERS_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HEADERS_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_HEADERS_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_HEADERS_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_HEADERS_XSS_PROTECTION", "0"),
			ReferrerPolicy:     getEnv("SECURITY_HEADERS_REFERRER_POLICY", "no-referrer"),
			PermissionsPolicy:  getEnv("SECURITY_HEADERS_PERMISSIONS_POLICY", "camera=(), microphone=(), geolocation=()"),
		},

		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
		},

		Documents: DocumentsConfig{
			MaxSizeBytes: int64(getEnvInt("DOCUMENT_MAX_SIZE_BYTES", 25<<20)),
			AllowedTypes: getEnvList("DOCUMENT_ALLOWED_TYPES", nil),
			PresignTTL:   getEnvDuration("DOCUMENT_PRESIGN_TTL", 15*time.Minute),
		},

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
			FromName: getEnv("SMTP_FROM_NAME", "Immigration Portal"),
		},

		Jobs: JobsConfig{
			Enabled:               getEnvBool("JOBS_ENABLED", true),
			SessionPurgeSchedule:  getEnv("JOBS_SESSION_PURGE_SCHEDULE", "0 0 * * * *"),
			SessionRetention:      getEnvDuration("JOBS_SESSION_RETENTION", 24*time.Hour),
			ImpersonationSchedule: getEnv("JOBS_IMPERSONATION_SCHEDULE", "0 * * * * *"),
			TrialExpirySchedule:   getEnv("JOBS_TRIAL_EXPIRY_SCHEDULE", "0 30 * * * *"),
			GaugeSchedule:         getEnv("JOBS_GAUGE_SCHEDULE", "0 */5 * * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and formats.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.MFA.EncryptionKey != "" {
		if len(c.MFA.EncryptionKey) != 64 {
			return fmt.Errorf("MFA_ENCRYPTION_KEY must be 64 hex characters")
		}
		if _, err := hex.DecodeString(c.MFA.EncryptionKey); err != nil {
			return fmt.Errorf("MFA_ENCRYPTION_KEY must be hex encoded: %w", err)
		}
	}
	if (c.SuperAdminEmail == "") != (c.SuperAdminPassword == "") {
		return fmt.Errorf("SUPER_ADMIN_EMAIL and SUPER_ADMIN_PASSWORD must be set together")
	}
	if c.DBConnectAttempts < 1 {
		return fmt.Errorf("DB_CONNECT_ATTEMPTS must be at least 1")
	}
	return nil
}

// MFAKey returns the 32-byte key encrypting TOTP secrets. Without an
// explicit key it is derived from the JWT secret.
func (c *Config) MFAKey() []byte {
	if c.MFA.EncryptionKey != "" {
		key, err := hex.DecodeString(c.MFA.EncryptionKey)
		if err == nil {
			return key
		}
	}
	sum := sha256.Sum256([]byte("mfa:" + c.JWTSecret))
	return sum[:]
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.ServerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
