// Package metrics holds the Prometheus collectors of the portal.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// DefaultPrefix namespaces every metric name.
const DefaultPrefix = "portal"

// Metrics owns a registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttempts *prometheus.CounterVec

	ImpersonationsStarted *prometheus.CounterVec

	JobRuns *prometheus.CounterVec

	TenantsByStatus *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry. Go runtime and process
// collectors are included.
func New(prefix string) *Metrics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_auth_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"result"},
		),
		ImpersonationsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_impersonations_started_total",
				Help: "Impersonations started by risk level",
			},
			[]string{"risk_level"},
		),
		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_job_runs_total",
				Help: "Scheduled job runs by job and outcome",
			},
			[]string{"job", "result"},
		),
		TenantsByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "_tenants",
				Help: "Tenants by lifecycle status",
			},
			[]string{"status"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one served HTTP request. path is the route
// pattern, not the raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordAuth counts a login attempt outcome such as "success" or "failure".
// The Record methods are no-ops on a nil *Metrics.
func (m *Metrics) RecordAuth(result string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(result).Inc()
}

// RecordImpersonation counts a started impersonation.
func (m *Metrics) RecordImpersonation(riskLevel string) {
	if m == nil {
		return
	}
	m.ImpersonationsStarted.WithLabelValues(riskLevel).Inc()
}

// RecordJob counts a job run.
func (m *Metrics) RecordJob(job string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
}

// SetTenantCounts replaces the tenant gauges.
func (m *Metrics) SetTenantCounts(counts map[domain.TenantStatus]int) {
	if m == nil {
		return
	}
	for _, s := range []domain.TenantStatus{domain.TenantStatusTrial, domain.TenantStatusActive, domain.TenantStatusSuspended} {
		m.TenantsByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
