// Package jobs runs the portal's periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tendant/immigration-portal/internal/config"
	"github.com/tendant/immigration-portal/internal/metrics"
	"github.com/tendant/immigration-portal/pkg/domain"
	"github.com/tendant/immigration-portal/pkg/service"
)

// Job names, also used as the metrics label.
const (
	JobSessionPurge        = "session_purge"
	JobImpersonationExpiry = "impersonation_expiry"
	JobTrialExpiry         = "trial_expiry"
	JobTenantGauges        = "tenant_gauges"
)

const jobTimeout = time.Minute

type SessionPurger interface {
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

type ImpersonationExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

type TrialExpirer interface {
	ExpireTrials(ctx context.Context, trials service.TrialLister) (int, error)
}

// Tenants lists ended trials and counts tenants for the gauges.
type Tenants interface {
	service.TrialLister
	CountByStatus(ctx context.Context) (map[domain.TenantStatus]int, error)
}

// Deps are the stores and services the jobs act on.
type Deps struct {
	Sessions       SessionPurger
	Impersonations ImpersonationExpirer
	Subscriptions  TrialExpirer
	Tenants        Tenants
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

type Scheduler struct {
	cron *cron.Cron
	cfg  config.JobsConfig
	deps Deps
	log  *slog.Logger
}

func NewScheduler(cfg config.JobsConfig, deps Deps) *Scheduler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		cfg:  cfg,
		deps: deps,
		log:  log.With("component", "jobs"),
	}
}

// Start registers every job and starts the cron loop. An invalid schedule
// fails before anything runs.
func (s *Scheduler) Start() error {
	entries := []struct {
		spec string
		name string
		fn   func(ctx context.Context) error
	}{
		{s.cfg.SessionPurgeSchedule, JobSessionPurge, s.purgeSessions},
		{s.cfg.ImpersonationSchedule, JobImpersonationExpiry, s.expireImpersonations},
		{s.cfg.TrialExpirySchedule, JobTrialExpiry, s.expireTrials},
		{s.cfg.GaugeSchedule, JobTenantGauges, s.refreshGauges},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		name, fn := e.name, e.fn
		if _, err := s.cron.AddFunc(e.spec, func() { s.Run(name, fn) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

// Run executes one job with a timeout and records its outcome.
func (s *Scheduler) Run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.deps.Metrics.RecordJob(name, err)
	if err != nil {
		s.log.Error("job failed", "job", name, "error", err)
		return
	}
	s.log.Debug("job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) purgeSessions(ctx context.Context) error {
	retention := s.cfg.SessionRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	n, err := s.deps.Sessions.DeleteExpired(ctx, retention)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("purged sessions", "count", n)
	}
	return nil
}

func (s *Scheduler) expireImpersonations(ctx context.Context) error {
	n, err := s.deps.Impersonations.ExpireStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("expired impersonations", "count", n)
	}
	return nil
}

func (s *Scheduler) expireTrials(ctx context.Context) error {
	n, err := s.deps.Subscriptions.ExpireTrials(ctx, s.deps.Tenants)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("expired trials", "count", n)
	}
	return nil
}

func (s *Scheduler) refreshGauges(ctx context.Context) error {
	counts, err := s.deps.Tenants.CountByStatus(ctx)
	if err != nil {
		return err
	}
	s.deps.Metrics.SetTenantCounts(counts)
	return nil
}
