package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioCoreBindResults(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioCoreMetrics(registry)
	require.NoError(t, err)

	m.RecordBindResult("bound")
	m.RecordBindResult("bound")
	m.RecordBindResult("already_bound_elsewhere")

	assert.InDelta(t, 2, testutil.ToFloat64(m.bindResults.WithLabelValues("bound")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.bindResults.WithLabelValues("already_bound_elsewhere")), 0)
}

func TestAudioCoreContextState(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioCoreMetrics(registry)
	require.NoError(t, err)

	all := []string{"uninitialized", "suspended", "running", "closed"}
	m.SetContextState("suspended", all)
	m.SetContextState("running", all)

	assert.InDelta(t, 1, testutil.ToFloat64(m.contextState.WithLabelValues("running")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.contextState.WithLabelValues("suspended")), 0)
}

func TestAudioCorePoolGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioCoreMetrics(registry)
	require.NoError(t, err)

	m.SetPoolElements(4, 2)
	m.RecordPoolEviction("medium")
	m.RecordPoolRejection("medium")
	m.RecordPoolRejection("low")

	assert.InDelta(t, 4, testutil.ToFloat64(m.poolElements.WithLabelValues("active")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.poolElements.WithLabelValues("free")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.poolEvictions.WithLabelValues("medium")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.poolRejections))
}

func TestLockLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioCoreMetrics(registry)
	require.NoError(t, err)

	m.RecordLockTimeout("")
	m.RecordLockTimeout("bind")

	assert.InDelta(t, 1, testutil.ToFloat64(m.lockTimeouts.WithLabelValues("unlabeled")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.lockTimeouts.WithLabelValues("bind")), 0)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var core *AudioCoreMetrics
	var cache *BlobCacheMetrics
	var wf *WaveformMetrics

	assert.NotPanics(t, func() {
		core.RecordLockWait("x", 0.1)
		core.SetPoolElements(1, 1)
		core.RecordBindResult("bound")
		cache.RecordLookup("memory", "hit")
		cache.RecordEvictions("persistent", 3)
		cache.RecordStoreOperation("put", fmt.Errorf("boom"))
		wf.RecordTask("worker", "success", 0.2)
		wf.SetWorkers(1, 3)
	})
}

func TestBlobCacheMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewBlobCacheMetrics(registry)
	require.NoError(t, err)

	m.RecordLookup("memory", "hit")
	m.RecordLookup("persistent", "stale")
	m.RecordEvictions("persistent", 20)
	m.RecordEvictions("persistent", 0)
	m.SetTierUsage("memory", 4096, 2)
	m.RecordStoreOperation("put", nil)
	m.RecordStoreOperation("put", fmt.Errorf("disk full"))

	assert.InDelta(t, 20, testutil.ToFloat64(m.evictions.WithLabelValues("persistent")), 0)
	assert.InDelta(t, 4096, testutil.ToFloat64(m.bytes.WithLabelValues("memory")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.storeOperations.WithLabelValues("put", "failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.requests.WithLabelValues("persistent", "stale")), 0)
}

func TestWaveformMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewWaveformMetrics(registry)
	require.NoError(t, err)

	m.RecordTask("worker", "success", 0.05)
	m.RecordTask("worker", "timeout", 0)
	m.RecordCoalesced()
	m.SetPending(3)

	assert.InDelta(t, 1, testutil.ToFloat64(m.tasks.WithLabelValues("worker", "timeout")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.pending), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.coalesced), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewWaveformMetrics(registry)
	require.NoError(t, err)

	_, err = NewWaveformMetrics(registry)
	assert.Error(t, err)
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestWaveformDurationHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewWaveformMetrics(registry)
	require.NoError(t, err)

	m.RecordTask("worker", "success", 0.02)
	m.RecordTask("worker", "success", 0.5)
	m.RecordTask("cache", "hit", 0)

	families, err := registry.Gather()
	require.NoError(t, err)

	hist := findFamily(families, "waveform_task_duration_seconds")
	require.NotNil(t, hist)
	require.Equal(t, dto.MetricType_HISTOGRAM, hist.GetType())
	require.Len(t, hist.GetMetric(), 1, "zero-duration cache hits are not observed")
	h := hist.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 0.52, h.GetSampleSum(), 1e-9)
}
