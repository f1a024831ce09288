package health

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/elementpool"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/graph"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/blobcache"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/waveform"
)

// GraphSource reports context diagnostics
type GraphSource interface {
	Diagnostics() graph.Diagnostics
}

// PoolSource reports element pool statistics
type PoolSource interface {
	Stats() elementpool.Stats
}

// CacheSource reports blob cache statistics
type CacheSource interface {
	Stats(ctx context.Context) blobcache.Stats
}

// WaveformSource reports worker pool statistics
type WaveformSource interface {
	Stats() waveform.Stats
}

// Sources are the components a Monitor aggregates. Nil members are skipped.
type Sources struct {
	Graph    GraphSource
	Pool     PoolSource
	Cache    CacheSource
	Waveform WaveformSource
}

// HostMemory is system and process memory usage
type HostMemory struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
	ProcessRSS  uint64  `json:"process_rss,omitempty"`
}

// StoreDisk is the usage of the filesystem holding the persistent stores
type StoreDisk struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// LowDiskPercent is the usage above which a low_disk warning is raised
const LowDiskPercent = 95.0

// Snapshot is a point-in-time view of every component
type Snapshot struct {
	Timestamp  time.Time          `json:"timestamp"`
	Healthy    bool               `json:"healthy"`
	Context    *graph.Diagnostics `json:"context,omitempty"`
	Report     Report             `json:"report"`
	Pool       *elementpool.Stats `json:"pool,omitempty"`
	Cache      *blobcache.Stats   `json:"cache,omitempty"`
	Waveform   *waveform.Stats    `json:"waveform,omitempty"`
	Host       *HostMemory        `json:"host,omitempty"`
	Disk       *StoreDisk         `json:"disk,omitempty"`
	Goroutines int                `json:"goroutines"`
}

// MemoryReader returns host memory usage
type MemoryReader func(ctx context.Context) (*HostMemory, error)

// Monitor builds snapshots on demand and, when running, on an interval
type Monitor struct {
	sources  Sources
	memory   MemoryReader
	diskPath string
	logger   logger.Logger

	mu      sync.Mutex
	last    *Snapshot
	healthy bool
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithMemoryReader replaces the gopsutil reader
func WithMemoryReader(r MemoryReader) MonitorOption {
	return func(m *Monitor) {
		m.memory = r
	}
}

// WithDiskPath reports usage of the filesystem containing path
func WithDiskPath(path string) MonitorOption {
	return func(m *Monitor) {
		m.diskPath = path
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates a monitor over sources
func NewMonitor(sources Sources, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		sources: sources,
		memory:  ReadHostMemory,
		healthy: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Global().Module("audiocore.health")
	}
	return m
}

// Snapshot collects component statistics now
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	s := Snapshot{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
		Report:     CheckContext(graph.Diagnostics{State: graph.StateUninitialized}),
	}

	if m.sources.Graph != nil {
		d := m.sources.Graph.Diagnostics()
		s.Context = &d
		s.Report = CheckContext(d)
	}
	if m.sources.Pool != nil {
		ps := m.sources.Pool.Stats()
		s.Pool = &ps
	}
	if m.sources.Cache != nil {
		cs := m.sources.Cache.Stats(ctx)
		s.Cache = &cs
	}
	if m.sources.Waveform != nil {
		ws := m.sources.Waveform.Stats()
		s.Waveform = &ws
	}
	if m.memory != nil {
		host, err := m.memory(ctx)
		if err != nil {
			m.logger.Debug("reading host memory failed", logger.Error(err))
		} else {
			s.Host = host
		}
	}
	if m.diskPath != "" {
		usage, err := disk.UsageWithContext(ctx, m.diskPath)
		if err != nil {
			m.logger.Debug("reading disk usage failed", logger.String("path", m.diskPath), logger.Error(err))
		} else {
			s.Disk = &StoreDisk{Path: m.diskPath, Total: usage.Total, Free: usage.Free, UsedPercent: usage.UsedPercent}
			if usage.UsedPercent >= LowDiskPercent {
				s.Report.add(CodeLowDisk, SeverityWarning, "persistent store filesystem is nearly full")
				s.Report = s.Report.finish()
			}
		}
	}
	s.Healthy = s.Report.Healthy

	m.mu.Lock()
	m.last = &s
	m.mu.Unlock()
	return s
}

// Last returns the most recent snapshot
func (m *Monitor) Last() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Snapshot{}, false
	}
	return *m.last, true
}

// Run takes a snapshot every interval until ctx ends, logging health
// transitions
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.observe(m.Snapshot(ctx))
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) observe(s Snapshot) {
	m.mu.Lock()
	was := m.healthy
	m.healthy = s.Healthy
	m.mu.Unlock()

	switch {
	case was && !s.Healthy:
		codes := make([]string, 0, len(s.Report.Issues))
		for _, f := range s.Report.Issues {
			codes = append(codes, string(f.Code))
		}
		m.logger.Warn("audio graph unhealthy",
			logger.Any("issues", codes),
			logger.Any("recommendations", s.Report.Recommendations))
	case !was && s.Healthy:
		m.logger.Info("audio graph recovered")
	}
}

// ReadHostMemory reads system memory and the process resident set size
func ReadHostMemory(ctx context.Context) (*HostMemory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	host := &HostMemory{
		Total:       vm.Total,
		Available:   vm.Available,
		Used:        vm.Used,
		UsedPercent: vm.UsedPercent,
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			host.ProcessRSS = info.RSS
		}
	}
	return host, nil
}
