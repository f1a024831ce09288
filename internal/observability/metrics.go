// Package observability wires the Prometheus registry shared by all audio core
// components.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/observability/metrics"
)

// Metrics holds all metric collectors
type Metrics struct {
	registry *prometheus.Registry

	AudioCore *metrics.AudioCoreMetrics
	BlobCache *metrics.BlobCacheMetrics
	Waveform  *metrics.WaveformMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors and
// registers every component collector on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	m := &Metrics{registry: registry}

	var err error
	if m.AudioCore, err = metrics.NewAudioCoreMetrics(registry); err != nil {
		return nil, wrapRegisterErr(err, "audiocore")
	}
	if m.BlobCache, err = metrics.NewBlobCacheMetrics(registry); err != nil {
		return nil, wrapRegisterErr(err, "blobcache")
	}
	if m.Waveform, err = metrics.NewWaveformMetrics(registry); err != nil {
		return nil, wrapRegisterErr(err, "waveform")
	}

	return m, nil
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry in exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func wrapRegisterErr(err error, collector string) error {
	return errors.New(err).
		Component("observability").
		Category(errors.CategoryConfiguration).
		Context("collector", collector).
		Build()
}
