package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives cache events. Use NopMetrics when metrics are disabled.
type Metrics interface {
	Hit(cache string)
	Miss(cache string)
	StaleServed(cache string)
	RefreshFailed(cache string)
	ObserveRefresh(cache string, d time.Duration)
	Invalidated(cache, reason string)
	SetEntries(cache string, n int)
	SetHeapBytes(n uint64)
}

type promMetrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	staleServed   *prometheus.CounterVec
	refreshFailed *prometheus.CounterVec
	refreshTime   *prometheus.HistogramVec
	invalidations *prometheus.CounterVec
	entries       *prometheus.GaugeVec
	heapBytes     prometheus.Gauge
}

// NewMetrics registers the cache collectors with reg.
func NewMetrics(reg prometheus.Registerer) Metrics {
	f := promauto.With(reg)
	return &promMetrics{
		hits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshinfo_cache_hits_total",
			Help: "Cache reads answered from a fresh value",
		}, []string{"cache"}),

		misses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshinfo_cache_misses_total",
			Help: "Cache reads that had to wait for a load",
		}, []string{"cache"}),

		staleServed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshinfo_cache_stale_served_total",
			Help: "Cache reads answered with a stale value",
		}, []string{"cache"}),

		refreshFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshinfo_cache_refresh_failures_total",
			Help: "Failed cache refreshes",
		}, []string{"cache"}),

		refreshTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshinfo_cache_refresh_duration_seconds",
			Help:    "Time spent loading cache values from the datastore",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache"}),

		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshinfo_cache_invalidations_total",
			Help: "Cache invalidations by reason",
		}, []string{"cache", "reason"}),

		entries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshinfo_cache_entries",
			Help: "Entries currently held per cache",
		}, []string{"cache"}),

		heapBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "meshinfo_heap_alloc_bytes",
			Help: "Heap bytes allocated at the last memory check",
		}),
	}
}

func (m *promMetrics) Hit(cache string)           { m.hits.WithLabelValues(cache).Inc() }
func (m *promMetrics) Miss(cache string)          { m.misses.WithLabelValues(cache).Inc() }
func (m *promMetrics) StaleServed(cache string)   { m.staleServed.WithLabelValues(cache).Inc() }
func (m *promMetrics) RefreshFailed(cache string) { m.refreshFailed.WithLabelValues(cache).Inc() }

func (m *promMetrics) ObserveRefresh(cache string, d time.Duration) {
	m.refreshTime.WithLabelValues(cache).Observe(d.Seconds())
}

func (m *promMetrics) Invalidated(cache, reason string) {
	m.invalidations.WithLabelValues(cache, reason).Inc()
}

func (m *promMetrics) SetEntries(cache string, n int) {
	m.entries.WithLabelValues(cache).Set(float64(n))
}

func (m *promMetrics) SetHeapBytes(n uint64) {
	m.heapBytes.Set(float64(n))
}

// NopMetrics discards every event.
func NopMetrics() Metrics { return nopMetrics{} }

type nopMetrics struct{}

func (nopMetrics) Hit(string)                           {}
func (nopMetrics) Miss(string)                          {}
func (nopMetrics) StaleServed(string)                   {}
func (nopMetrics) RefreshFailed(string)                 {}
func (nopMetrics) ObserveRefresh(string, time.Duration) {}
func (nopMetrics) Invalidated(string, string)           {}
func (nopMetrics) SetEntries(string, int)               {}
func (nopMetrics) SetHeapBytes(uint64)                  {}
