package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the resolver does. A nil *Metrics records nothing.
type Metrics struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheWriteErrors prometheus.Counter
	RaceRetries      prometheus.Counter
	ProviderWins     *prometheus.CounterVec
	Failures         *prometheus.CounterVec
}

// NewMetrics registers the resolver's counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "geodoh",
			Name:      "cache_hits_total",
			Help:      "Resolutions answered from a fresh cached record.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "geodoh",
			Name:      "cache_misses_total",
			Help:      "Resolutions that found no record or a stale one.",
		}),
		CacheWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "geodoh",
			Name:      "cache_write_errors_total",
			Help:      "Resolved records that could not be stored.",
		}),
		RaceRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "geodoh",
			Name:      "race_retries_total",
			Help:      "Provider races where every wake-up lost its token.",
		}),
		ProviderWins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geodoh",
			Name:      "provider_wins_total",
			Help:      "Provider races won, by provider.",
		}, []string{"provider"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geodoh",
			Name:      "resolve_failures_total",
			Help:      "Failed resolutions, by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) cacheWriteError() {
	if m != nil {
		m.CacheWriteErrors.Inc()
	}
}

func (m *Metrics) raceRetry() {
	if m != nil {
		m.RaceRetries.Inc()
	}
}

func (m *Metrics) win(provider string) {
	if m != nil {
		m.ProviderWins.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) failure(err error) {
	if m != nil {
		m.Failures.WithLabelValues(Kind(err)).Inc()
	}
}
