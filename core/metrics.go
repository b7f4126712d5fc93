package core

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide recorder for counters the mesh exposes to an
// external scrape surface. Exposition itself (an HTTP handler) is out of
// scope for this core; Metrics only registers and updates the series.
type Metrics struct {
	MessagesReceived  *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	ParseErrors       prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	BreakerTrips      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// InitMetrics registers the mesh's series against reg and returns the
// recorder. It is idempotent: a second call (even against a different
// registry) returns the existing recorder rather than panicking on a
// duplicate-registration error, per the "global state must tolerate
// re-init" rule.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		m := &Metrics{
			MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "agoramesh_messages_received_total",
				Help: "Messages received by topic.",
			}, []string{"topic"}),
			MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "agoramesh_messages_processed_total",
				Help: "Messages successfully processed by topic.",
			}, []string{"topic"}),
			ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agoramesh_parse_errors_total",
				Help: "Messages dropped due to parse/validation errors.",
			}),
			CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agoramesh_trust_cache_hits_total",
				Help: "Trust cache hits.",
			}),
			CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "agoramesh_trust_cache_misses_total",
				Help: "Trust cache misses.",
			}),
			BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "agoramesh_circuit_breaker_trips_total",
				Help: "Circuit breaker Closed->Open transitions by breaker name.",
			}, []string{"breaker"}),
		}
		for _, c := range []prometheus.Collector{
			m.MessagesReceived, m.MessagesProcessed, m.ParseErrors,
			m.CacheHits, m.CacheMisses, m.BreakerTrips,
		} {
			if err := reg.Register(c); err != nil {
				// Already registered under a prior init (e.g. the default
				// registry across package-level tests) - ignore, keep going.
				_ = err
			}
		}
		metrics = m
	})
	return metrics
}
