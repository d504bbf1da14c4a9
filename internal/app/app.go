// Package app assembles the portal from configuration: database, caches,
// object storage, mail, services, HTTP routes and background jobs.
//
// Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	a, err := app.New(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Close()
//	if err := a.StartJobs(); err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(cfg.ListenAddr(), a.Handler())
//
// Redis, S3 and SMTP are optional. Without Redis the tenant cache is off and
// MFA challenges live in process memory. Without S3 document endpoints answer
// 503. Without SMTP no email is sent.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/immigration-portal/internal/cache"
	"github.com/tendant/immigration-portal/internal/config"
	httpserver "github.com/tendant/immigration-portal/internal/http"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/internal/jobs"
	"github.com/tendant/immigration-portal/internal/metrics"
	"github.com/tendant/immigration-portal/internal/notification"
	"github.com/tendant/immigration-portal/internal/storage"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/repository"
	"github.com/tendant/immigration-portal/pkg/service"
)

// MetricsPrefix namespaces every exported metric.
const MetricsPrefix = "portal"

// App is a fully wired portal instance.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	redis     *redis.Client
	handler   http.Handler
	scheduler *jobs.Scheduler
	auth      *auth.AuthService
}

// New connects to every configured backend and wires the services. The
// database is required; the other backends are optional.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	dbCfg := repository.Config{
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		DBName:          cfg.DBName,
		SSLMode:         cfg.DBSSLMode,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnectAttempts: cfg.DBConnectAttempts,
		ConnectDelay:    cfg.DBConnectDelay,
	}
	db, err := repository.NewDB(ctx, dbCfg, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	logger.Info("connected to database")

	if cfg.RunMigrations {
		if err := repository.RunMigrations(dbCfg, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	// Repositories
	store := repository.NewStore(db)
	usersRepo := repository.NewUsersRepository(db)
	credsRepo := repository.NewCredentialsRepository(db)
	sessionsRepo := repository.NewSessionsRepository(db)
	tokensRepo := repository.NewVerificationTokensRepository(db)
	mfaSettingsRepo := repository.NewMFASettingsRepository(db)
	recoveryCodesRepo := repository.NewMFARecoveryCodesRepository(db)
	tenantsRepo := repository.NewTenantsRepository(db)
	subscriptionsRepo := repository.NewSubscriptionsRepository(db)
	profilesRepo := repository.NewProfilesRepository(db)
	documentsRepo := repository.NewDocumentsRepository(db)
	notificationsRepo := repository.NewNotificationsRepository(db)
	apiKeysRepo := repository.NewAPIKeysRepository(db)
	impersonationsRepo := repository.NewImpersonationsRepository(db)

	health := map[string]httpserver.HealthCheck{"database": store.Ping}

	// Redis backs the tenant cache and MFA challenges when configured.
	var tenantCache service.TenantCache
	var challenges auth.ChallengeStore = auth.NewMemoryChallengeStore()
	if cfg.Redis.Enabled() {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rdb
		tenantCache = cache.NewTenantCache(rdb, cfg.TenantCacheTTL, logger)
		challenges = cache.NewChallengeStore(rdb)
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("redis enabled", "addr", cfg.Redis.Addr)
	}

	var objects service.ObjectStorage
	if cfg.S3.Enabled() {
		s3, err := storage.NewS3(ctx, cfg.S3, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		objects = s3
		health["storage"] = s3.Ping
		logger.Info("document storage enabled", "bucket", cfg.S3.Bucket)
	}

	var mailer *notification.EmailService
	var resetMailer auth.ResetMailer
	var notifyMailer service.Mailer
	if cfg.SMTP.Enabled() {
		mailer = notification.NewEmailService(cfg.SMTP)
		resetMailer, notifyMailer = mailer, mailer
		logger.Info("email enabled", "host", cfg.SMTP.Host)
	}

	m := metrics.New(MetricsPrefix)

	// Auth
	policy := auth.NewPasswordPolicy(cfg.PasswordPolicy)
	sessionService := auth.NewSessionService(auth.SessionConfig{
		AccessTokenTTL:     cfg.AccessTokenTTL,
		RefreshTokenTTL:    cfg.RefreshTokenTTL,
		JWTSecret:          []byte(cfg.JWTSecret),
		Issuer:             cfg.JWTIssuer,
		FingerprintEnabled: cfg.SessionSecurity.FingerprintEnabled,
		DetectReuseEnabled: cfg.SessionSecurity.DetectReuseEnabled,
	}, sessionsRepo, usersRepo, tenantsRepo, subscriptionsRepo)
	verificationService := auth.NewVerificationService(auth.VerificationConfig{
		PasswordResetTTL: cfg.PasswordResetTTL,
	}, store, tokensRepo)
	mfaService := auth.NewMFAService(auth.MFAConfig{
		Issuer:            cfg.MFA.Issuer,
		EncryptionKey:     cfg.MFAKey(),
		MaxFailedAttempts: cfg.MFA.MaxFailedAttempts,
		LockoutDuration:   cfg.MFA.LockoutDuration,
		ChallengeTTL:      cfg.MFA.ChallengeTTL,
	}, store, mfaSettingsRepo, recoveryCodesRepo, usersRepo, credsRepo, challenges)
	authService := auth.NewAuthService(auth.AuthConfig{
		MaxFailedLogins:       cfg.MaxFailedLogins,
		LoginLockout:          cfg.LoginLockout,
		TrialDuration:         cfg.TrialDuration,
		TrialPlanSlug:         cfg.TrialPlanSlug,
		PlanLookupTimeout:     cfg.PlanLookupTimeout,
		StrictEmailValidation: cfg.Validation.StrictEmail,
		BlockDisposableEmail:  cfg.Validation.BlockDisposableEmail,
		AppBaseURL:            cfg.AppBaseURL,
	}, auth.AuthDeps{
		Tx:            store,
		Users:         usersRepo,
		Creds:         credsRepo,
		Tenants:       tenantsRepo,
		Subscriptions: subscriptionsRepo,
		Sessions:      sessionService,
		MFA:           mfaService,
		Verification:  verificationService,
		Policy:        policy,
		Mailer:        resetMailer,
		Logger:        logger,
	})
	a.auth = authService

	// Domain services
	userService := service.NewUserService(service.UserConfig{
		StrictEmailValidation: cfg.Validation.StrictEmail,
		BlockDisposableEmail:  cfg.Validation.BlockDisposableEmail,
		LookupTimeout:         cfg.PlanLookupTimeout,
	}, service.UserDeps{
		Tx:            store,
		Users:         usersRepo,
		Creds:         credsRepo,
		Tenants:       tenantsRepo,
		Subscriptions: subscriptionsRepo,
		Sessions:      sessionsRepo,
		Policy:        policy,
		Logger:        logger,
	})
	tenantService := service.NewTenantService(service.TenantConfig{
		TrialDuration: cfg.TrialDuration,
		TrialPlanSlug: cfg.TrialPlanSlug,
		LookupTimeout: cfg.PlanLookupTimeout,
	}, store, tenantsRepo, subscriptionsRepo, sessionsRepo, tenantCache, logger)
	subscriptionService := service.NewSubscriptionService(cfg.PlanLookupTimeout, subscriptionsRepo, tenantsRepo, logger)
	profileService := service.NewProfileService(profilesRepo)
	documentService := service.NewDocumentService(service.DocumentConfig{
		MaxSizeBytes: cfg.Documents.MaxSizeBytes,
		AllowedTypes: cfg.Documents.AllowedTypes,
		PresignTTL:   cfg.Documents.PresignTTL,
	}, documentsRepo, objects, logger)
	notificationService := service.NewNotificationService(notificationsRepo, usersRepo, notifyMailer, logger)
	apiKeyService := service.NewAPIKeyService(apiKeysRepo, usersRepo, tenantsRepo, logger)
	impersonationService := service.NewImpersonationService(store, impersonationsRepo, usersRepo, sessionService, sessionsRepo, logger)

	cookies := httputil.DefaultCookieConfig()
	cookies.Secure = strings.HasPrefix(cfg.AppBaseURL, "https://")

	a.handler = httpserver.NewRouter(httpserver.RouterConfig{
		Logger:              logger,
		Metrics:             m,
		Auth:                authService,
		Sessions:            sessionService,
		MFA:                 mfaService,
		UserLookup:          usersRepo,
		Users:               userService,
		Tenants:             tenantService,
		Subscriptions:       subscriptionService,
		Profiles:            profileService,
		Documents:           documentService,
		Notifications:       notificationService,
		APIKeys:             apiKeyService,
		APIKeyAuth:          apiKeyService,
		Impersonations:      impersonationService,
		HealthChecks:        health,
		Cookies:             cookies,
		AccessTTL:           sessionService.AccessTokenTTL(),
		RefreshTTL:          sessionService.RefreshTokenTTL(),
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		RequireMFA:          cfg.MFA.RequireForSensitive,
		RateLimitConfig:     cfg.RateLimit,
		SecurityHeaders:     cfg.SecurityHeaders,
	})

	if cfg.Jobs.Enabled {
		a.scheduler = jobs.NewScheduler(cfg.Jobs, jobs.Deps{
			Sessions:       sessionsRepo,
			Impersonations: impersonationService,
			Subscriptions:  subscriptionService,
			Tenants:        tenantsRepo,
			Metrics:        m,
			Logger:         logger,
		})
	}

	return a, nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Bootstrap creates the configured super admin if it does not exist yet.
func (a *App) Bootstrap(ctx context.Context) error {
	if a.cfg.SuperAdminEmail == "" {
		return nil
	}
	created, err := a.auth.EnsureSuperAdmin(ctx, a.cfg.SuperAdminEmail, a.cfg.SuperAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap super admin: %w", err)
	}
	if created {
		a.logger.Info("created super admin", "email", a.cfg.SuperAdminEmail)
	}
	return nil
}

// StartJobs starts the maintenance scheduler. It is a no-op when jobs are
// disabled.
func (a *App) StartJobs() error {
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.Start()
}

// Shutdown stops the scheduler and releases every connection.
func (a *App) Shutdown(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop(ctx)
	}
	a.Close()
}

// Close releases connections without waiting for jobs.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
}
