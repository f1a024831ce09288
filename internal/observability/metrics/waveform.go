package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WaveformMetrics contains Prometheus metrics for the waveform worker pool
type WaveformMetrics struct {
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	workers      *prometheus.GaugeVec
	pending      prometheus.Gauge
	coalesced    prometheus.Counter

	collectors []prometheus.Collector
}

// NewWaveformMetrics creates and registers new waveform metrics
func NewWaveformMetrics(registry prometheus.Registerer) (*WaveformMetrics, error) {
	m := &WaveformMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *WaveformMetrics) initMetrics() {
	m.tasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waveform_tasks_total",
			Help: "Total number of waveform requests by source and outcome",
		},
		[]string{"source", "outcome"}, // cache|worker|inline, success|error|timeout|panic
	)
	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waveform_task_duration_seconds",
			Help:    "Time spent extracting a peak array",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
		},
		[]string{"source"},
	)
	m.workers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waveform_workers",
			Help: "Number of waveform workers by state",
		},
		[]string{"state"}, // busy, idle
	)
	m.pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "waveform_pending_tasks",
			Help: "Number of tasks waiting for an idle worker",
		},
	)
	m.coalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "waveform_coalesced_requests_total",
			Help: "Total number of requests attached to an in-flight task",
		},
	)

	m.collectors = []prometheus.Collector{
		m.tasks, m.taskDuration, m.workers, m.pending, m.coalesced,
	}
}

// Describe implements prometheus.Collector
func (m *WaveformMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *WaveformMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordTask records a finished request
func (m *WaveformMetrics) RecordTask(source, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(source, outcome).Inc()
	if seconds > 0 {
		m.taskDuration.WithLabelValues(source).Observe(seconds)
	}
}

// SetWorkers updates the busy/idle worker gauges
func (m *WaveformMetrics) SetWorkers(busy, idle int) {
	if m == nil {
		return
	}
	m.workers.WithLabelValues("busy").Set(float64(busy))
	m.workers.WithLabelValues("idle").Set(float64(idle))
}

// SetPending updates the pending queue gauge
func (m *WaveformMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// RecordCoalesced records a request served by an in-flight task
func (m *WaveformMetrics) RecordCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}
