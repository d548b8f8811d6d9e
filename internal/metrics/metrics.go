// Package metrics exports cache and lease activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/systmms/leasekeeper/pkg/cache"
	"github.com/systmms/leasekeeper/pkg/lease"
)

// Metrics holds every leasekeeper collector.
type Metrics struct {
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheEvictions   prometheus.Counter
	cacheExpirations prometheus.Counter
	cacheEntries     prometheus.Gauge

	refreshTotal       *prometheus.CounterVec
	refreshDuration    *prometheus.HistogramVec
	validationFailures *prometheus.CounterVec
	drainErrors        *prometheus.CounterVec
	leaseExpiresAt     *prometheus.GaugeVec
}

var (
	_ cache.Recorder = (*Metrics)(nil)
	_ lease.Recorder = (*Metrics)(nil)
)

// New creates the collectors and registers them with reg. Passing the same
// registry twice panics, as with any duplicate Prometheus registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "leasekeeper_cache_hits_total",
			Help: "Total number of cache lookups that returned a live entry",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "leasekeeper_cache_misses_total",
			Help: "Total number of cache lookups that found nothing or an expired entry",
		}),
		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "leasekeeper_cache_evictions_total",
			Help: "Total number of live entries evicted to stay within capacity",
		}),
		cacheExpirations: factory.NewCounter(prometheus.CounterOpts{
			Name: "leasekeeper_cache_expirations_total",
			Help: "Total number of expired entries removed",
		}),
		cacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "leasekeeper_cache_entries",
			Help: "Current number of cache entries",
		}),

		refreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leasekeeper_lease_refresh_total",
				Help: "Total number of credential refreshes by outcome",
			},
			[]string{"role", "status"},
		),
		refreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leasekeeper_lease_refresh_duration_seconds",
				Help:    "Duration of credential fetch and pool rebuild in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"role"},
		),
		validationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leasekeeper_validation_failures_total",
				Help: "Total number of connections that failed the validation query",
			},
			[]string{"role"},
		),
		drainErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leasekeeper_pool_drain_errors_total",
				Help: "Total number of retired pools that failed to close cleanly",
			},
			[]string{"role"},
		),
		leaseExpiresAt: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leasekeeper_lease_expires_at_seconds",
				Help: "Unix time at which the active lease is due for refresh",
			},
			[]string{"role"},
		),
	}
}

// Cache events.

func (m *Metrics) Hit()        { m.cacheHits.Inc() }
func (m *Metrics) Miss()       { m.cacheMisses.Inc() }
func (m *Metrics) Eviction()   { m.cacheEvictions.Inc() }
func (m *Metrics) Expiration() { m.cacheExpirations.Inc() }
func (m *Metrics) Size(n int)  { m.cacheEntries.Set(float64(n)) }

// RefreshSucceeded records a completed refresh.
func (m *Metrics) RefreshSucceeded(role string, took time.Duration, expiresAt time.Time) {
	m.refreshTotal.WithLabelValues(role, "success").Inc()
	m.refreshDuration.WithLabelValues(role).Observe(took.Seconds())
	m.leaseExpiresAt.WithLabelValues(role).Set(float64(expiresAt.Unix()))
}

// RefreshFailed records a refresh that left the previous pool in place.
func (m *Metrics) RefreshFailed(role string, took time.Duration) {
	m.refreshTotal.WithLabelValues(role, "failure").Inc()
	m.refreshDuration.WithLabelValues(role).Observe(took.Seconds())
}

// ValidationFailed records a failed validation query.
func (m *Metrics) ValidationFailed(role string) {
	m.validationFailures.WithLabelValues(role).Inc()
}

// DrainFailed records a pool drain error.
func (m *Metrics) DrainFailed(role string) {
	m.drainErrors.WithLabelValues(role).Inc()
}
