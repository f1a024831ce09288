// Package metrics provides Prometheus collectors for the audio resource core
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AudioCoreMetrics contains Prometheus metrics for the graph lock, the context
// manager and the element pool. All recording methods are nil-safe so
// components can run without a registry.
type AudioCoreMetrics struct {
	// Async lock
	lockWaitDuration *prometheus.HistogramVec
	lockTimeouts     *prometheus.CounterVec
	lockQueueLength  prometheus.Gauge

	// Context manager
	contextState    *prometheus.GaugeVec
	bindResults     *prometheus.CounterVec
	routingFallback *prometheus.CounterVec
	resumeFailures  prometheus.Counter

	// Element pool
	poolElements   *prometheus.GaugeVec
	poolEvictions  *prometheus.CounterVec
	poolRejections *prometheus.CounterVec
	poolAcquires   *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewAudioCoreMetrics creates and registers new audiocore metrics
func NewAudioCoreMetrics(registry prometheus.Registerer) (*AudioCoreMetrics, error) {
	m := &AudioCoreMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *AudioCoreMetrics) initMetrics() {
	m.lockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audiocore_lock_wait_duration_seconds",
			Help:    "Time spent waiting for the graph lock",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
		},
		[]string{"label"},
	)
	m.lockTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiocore_lock_timeouts_total",
			Help: "Total number of lock acquisitions that timed out",
		},
		[]string{"label"},
	)
	m.lockQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "audiocore_lock_queue_length",
			Help: "Number of waiters queued for the graph lock",
		},
	)

	m.contextState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audiocore_context_state",
			Help: "Processing context state (1 for the current state)",
		},
		[]string{"state"},
	)
	m.bindResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiocore_bind_results_total",
			Help: "Total number of capture bind attempts by outcome",
		},
		[]string{"outcome"},
	)
	m.routingFallback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiocore_routing_fallback_total",
			Help: "Total number of direct-connection fallbacks by result",
		},
		[]string{"result"}, // success, failure
	)
	m.resumeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audiocore_context_resume_failures_total",
			Help: "Total number of rejected context resume attempts",
		},
	)

	m.poolElements = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audiocore_pool_elements",
			Help: "Number of playback elements in the pool by state",
		},
		[]string{"state"}, // active, free
	)
	m.poolEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiocore_pool_evictions_total",
			Help: "Total number of active slots reclaimed by priority",
		},
		[]string{"evicted_priority"},
	)
	m.poolRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiocore_pool_rejections_total",
			Help: "Total number of acquisitions rejected at capacity",
		},
		[]string{"priority"},
	)
	m.poolAcquires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiocore_pool_acquires_total",
			Help: "Total number of pool acquisitions by path",
		},
		[]string{"path"}, // existing, free, created, evicted
	)

	m.collectors = []prometheus.Collector{
		m.lockWaitDuration, m.lockTimeouts, m.lockQueueLength,
		m.contextState, m.bindResults, m.routingFallback, m.resumeFailures,
		m.poolElements, m.poolEvictions, m.poolRejections, m.poolAcquires,
	}
}

// Describe implements prometheus.Collector
func (m *AudioCoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *AudioCoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordLockWait records how long a waiter waited before acquiring
func (m *AudioCoreMetrics) RecordLockWait(label string, seconds float64) {
	if m == nil {
		return
	}
	m.lockWaitDuration.WithLabelValues(labelOrDefault(label)).Observe(seconds)
}

// RecordLockTimeout records a waiter dequeued on timeout
func (m *AudioCoreMetrics) RecordLockTimeout(label string) {
	if m == nil {
		return
	}
	m.lockTimeouts.WithLabelValues(labelOrDefault(label)).Inc()
}

// SetLockQueueLength updates the waiter queue gauge
func (m *AudioCoreMetrics) SetLockQueueLength(n int) {
	if m == nil {
		return
	}
	m.lockQueueLength.Set(float64(n))
}

// SetContextState marks state as current and clears the others
func (m *AudioCoreMetrics) SetContextState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.contextState.WithLabelValues(s).Set(v)
	}
}

// RecordBindResult records the outcome tag of a bind call
func (m *AudioCoreMetrics) RecordBindResult(outcome string) {
	if m == nil {
		return
	}
	m.bindResults.WithLabelValues(outcome).Inc()
}

// RecordRoutingFallback records a direct-connection fallback attempt
func (m *AudioCoreMetrics) RecordRoutingFallback(success bool) {
	if m == nil {
		return
	}
	m.routingFallback.WithLabelValues(statusLabel(success)).Inc()
}

// RecordResumeFailure records a rejected resume
func (m *AudioCoreMetrics) RecordResumeFailure() {
	if m == nil {
		return
	}
	m.resumeFailures.Inc()
}

// SetPoolElements updates the active/free gauges
func (m *AudioCoreMetrics) SetPoolElements(active, free int) {
	if m == nil {
		return
	}
	m.poolElements.WithLabelValues("active").Set(float64(active))
	m.poolElements.WithLabelValues("free").Set(float64(free))
}

// RecordPoolAcquire records which path served an acquisition
func (m *AudioCoreMetrics) RecordPoolAcquire(path string) {
	if m == nil {
		return
	}
	m.poolAcquires.WithLabelValues(path).Inc()
}

// RecordPoolEviction records a slot reclaimed from a lower-priority consumer
func (m *AudioCoreMetrics) RecordPoolEviction(evictedPriority string) {
	if m == nil {
		return
	}
	m.poolEvictions.WithLabelValues(evictedPriority).Inc()
}

// RecordPoolRejection records an acquisition that could not be served
func (m *AudioCoreMetrics) RecordPoolRejection(priority string) {
	if m == nil {
		return
	}
	m.poolRejections.WithLabelValues(priority).Inc()
}

func labelOrDefault(label string) string {
	if label == "" {
		return "unlabeled"
	}
	return label
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
