package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BlobCacheMetrics contains Prometheus metrics for the two-tier media cache
type BlobCacheMetrics struct {
	requests        *prometheus.CounterVec
	bytes           *prometheus.GaugeVec
	entries         *prometheus.GaugeVec
	evictions       *prometheus.CounterVec
	rejections      prometheus.Counter
	prefetches      *prometheus.CounterVec
	storeOperations *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewBlobCacheMetrics creates and registers new blob cache metrics
func NewBlobCacheMetrics(registry prometheus.Registerer) (*BlobCacheMetrics, error) {
	m := &BlobCacheMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BlobCacheMetrics) initMetrics() {
	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcache_requests_total",
			Help: "Total number of cache lookups by tier and result",
		},
		[]string{"tier", "result"}, // memory|persistent, hit|miss|stale
	)
	m.bytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blobcache_bytes",
			Help: "Bytes held per cache tier",
		},
		[]string{"tier"},
	)
	m.entries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blobcache_entries",
			Help: "Entries held per cache tier",
		},
		[]string{"tier"},
	)
	m.evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcache_evictions_total",
			Help: "Total number of entries evicted per tier",
		},
		[]string{"tier"},
	)
	m.rejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blobcache_oversize_rejections_total",
			Help: "Total number of puts rejected for exceeding the item size ceiling",
		},
	)
	m.prefetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcache_prefetch_total",
			Help: "Total number of prefetch attempts by result",
		},
		[]string{"result"}, // fetched, skipped, error
	)
	m.storeOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcache_store_operations_total",
			Help: "Persistent store operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.collectors = []prometheus.Collector{
		m.requests, m.bytes, m.entries, m.evictions,
		m.rejections, m.prefetches, m.storeOperations,
	}
}

// Describe implements prometheus.Collector
func (m *BlobCacheMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *BlobCacheMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordLookup records a lookup result for a tier
func (m *BlobCacheMetrics) RecordLookup(tier, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(tier, result).Inc()
}

// SetTierUsage updates the byte and entry gauges for a tier
func (m *BlobCacheMetrics) SetTierUsage(tier string, bytes int64, entries int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(tier).Set(float64(bytes))
	m.entries.WithLabelValues(tier).Set(float64(entries))
}

// RecordEvictions adds n evictions for a tier
func (m *BlobCacheMetrics) RecordEvictions(tier string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.WithLabelValues(tier).Add(float64(n))
}

// RecordOversize records a put rejected by the size ceiling
func (m *BlobCacheMetrics) RecordOversize() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}

// RecordPrefetch records a prefetch outcome
func (m *BlobCacheMetrics) RecordPrefetch(result string) {
	if m == nil {
		return
	}
	m.prefetches.WithLabelValues(result).Inc()
}

// RecordStoreOperation records a persistent store operation
func (m *BlobCacheMetrics) RecordStoreOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.storeOperations.WithLabelValues(operation, statusLabel(err == nil)).Inc()
}
