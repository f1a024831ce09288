package health

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/elementpool"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/graph"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform/memplatform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/blobcache"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testLogger = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)

func fixedMemory(context.Context) (*HostMemory, error) {
	return &HostMemory{Total: 8 << 30, Available: 4 << 30, Used: 4 << 30, UsedPercent: 50}, nil
}

func TestSnapshotAggregatesComponents(t *testing.T) {
	p := memplatform.New()
	g := graph.NewManager(p, graph.WithLogger(testLogger))
	pool := elementpool.New(p, 4, elementpool.WithLogger(testLogger))
	cache := blobcache.New(blobcache.DefaultConfig(), nil, blobcache.WithLogger(testLogger))
	defer func() { _ = cache.Close() }()

	el, err := pool.Acquire("track-1", elementpool.High)
	require.NoError(t, err)
	require.True(t, g.Bind(t.Context(), el, 2048, 0.8).OK())

	m := NewMonitor(Sources{Graph: g, Pool: pool, Cache: cache},
		WithMemoryReader(fixedMemory), WithLogger(testLogger))

	s := m.Snapshot(t.Context())
	require.NotNil(t, s.Context)
	assert.True(t, s.Context.Bound)
	require.NotNil(t, s.Pool)
	assert.Equal(t, 1, s.Pool.Active)
	require.NotNil(t, s.Cache)
	assert.True(t, s.Cache.MemoryOnly)
	assert.Nil(t, s.Waveform)
	require.NotNil(t, s.Host)
	assert.InDelta(t, 50.0, s.Host.UsedPercent, 0)
	assert.Positive(t, s.Goroutines)

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, s.Timestamp, last.Timestamp)
}

func TestSnapshotWithoutSources(t *testing.T) {
	m := NewMonitor(Sources{}, WithMemoryReader(func(context.Context) (*HostMemory, error) {
		return nil, fmt.Errorf("not supported")
	}), WithLogger(testLogger))

	_, ok := m.Last()
	assert.False(t, ok)

	s := m.Snapshot(t.Context())
	assert.True(t, s.Healthy)
	assert.Nil(t, s.Context)
	assert.Nil(t, s.Host)
}

func TestSnapshotReportsClosedContext(t *testing.T) {
	p := memplatform.New()
	g := graph.NewManager(p, graph.WithLogger(testLogger))
	require.NoError(t, g.Context(t.Context()).Close(t.Context()))

	m := NewMonitor(Sources{Graph: g}, WithMemoryReader(fixedMemory), WithLogger(testLogger))
	s := m.Snapshot(t.Context())
	assert.False(t, s.Healthy)
	assert.True(t, s.Report.Has(CodeContextClosed))
}

func TestRunStopsWithContext(t *testing.T) {
	m := NewMonitor(Sources{}, WithMemoryReader(fixedMemory), WithLogger(testLogger))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := m.Last()
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestReadHostMemory(t *testing.T) {
	host, err := ReadHostMemory(t.Context())
	if err != nil {
		t.Skipf("host memory unavailable: %v", err)
	}
	assert.Positive(t, host.Total)
}

func TestSnapshotReportsStoreDisk(t *testing.T) {
	dir := t.TempDir()
	m := NewMonitor(Sources{}, WithMemoryReader(fixedMemory), WithDiskPath(dir), WithLogger(testLogger))

	s := m.Snapshot(t.Context())
	require.NotNil(t, s.Disk)
	assert.Equal(t, dir, s.Disk.Path)
	assert.Positive(t, s.Disk.Total)
	if s.Disk.UsedPercent < LowDiskPercent {
		assert.False(t, s.Report.Has(CodeLowDisk))
	}
}

func TestSnapshotSkipsUnreadableDisk(t *testing.T) {
	m := NewMonitor(Sources{}, WithMemoryReader(fixedMemory),
		WithDiskPath("/nonexistent/path/for/store"), WithLogger(testLogger))

	s := m.Snapshot(t.Context())
	assert.Nil(t, s.Disk)
	assert.True(t, s.Healthy)
}
