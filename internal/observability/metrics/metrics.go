// Package metrics exposes prometheus instruments for the HTTP surface
// and the period-close scheduler.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the service records. A fresh
// registry per instance keeps parallel tests isolated.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	schedulerRuns      *prometheus.CounterVec
	schedulerContracts *prometheus.CounterVec

	usageEvents     prometheus.Counter
	rateLimitDenied prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meterline_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_scheduler_runs_total",
			Help: "Period-close runs by result.",
		}, []string{"result"}),
		schedulerContracts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_scheduler_contracts_total",
			Help: "Per-contract period-close outcomes.",
		}, []string{"outcome"}),
		usageEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterline_usage_events_accepted_total",
			Help: "Usage events accepted through ingestion.",
		}),
		rateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterline_rate_limit_denied_total",
			Help: "Ingest requests denied by the rate limiter.",
		}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.schedulerRuns,
		m.schedulerContracts,
		m.usageEvents,
		m.rateLimitDenied,
	)
	return m
}

func (m *Metrics) RecordHTTPRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordSchedulerRun(failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.schedulerRuns.WithLabelValues(result).Inc()
}

// RecordContractOutcome counts one contract's terminal close outcome:
// processed, skipped or failed.
func (m *Metrics) RecordContractOutcome(outcome string) {
	if m == nil {
		return
	}
	m.schedulerContracts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordUsageAccepted(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.usageEvents.Add(float64(count))
}

func (m *Metrics) RecordRateLimitDenied() {
	if m == nil {
		return
	}
	m.rateLimitDenied.Inc()
}
