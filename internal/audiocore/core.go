package audiocore

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/elementpool"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/graph"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/health"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/lock"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/blobcache"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/datastore"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/httpclient"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/observability"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/waveform"
)

const componentCore = "audiocore"

// Platform supplies processing contexts and playback elements
type Platform interface {
	platform.ContextFactory
	platform.ElementFactory
}

// Core owns one instance of every audio resource component
type Core struct {
	Settings  *conf.Settings
	Metrics   *observability.Metrics
	Lock      *lock.Mutex
	Graph     *graph.Manager
	Pool      *elementpool.Pool
	HTTP      *httpclient.Client
	Blobs     *blobcache.Cache
	Waveforms *waveform.Pool
	Health    *health.Monitor

	logger logger.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// Option configures New
type Option func(*options)

type options struct {
	logger  logger.Logger
	metrics *observability.Metrics
	fetcher blobcache.Fetcher
}

// WithLogger sets the parent logger; components get module loggers from it
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics supplies an existing metrics registry
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithFetcher replaces the HTTP client used to fill the blob cache
func WithFetcher(f blobcache.Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// New builds every component from settings. Persistent stores that fail to
// open are logged and replaced by memory-only operation.
func New(settings *conf.Settings, plat Platform, opts ...Option) (*Core, error) {
	if settings == nil {
		settings = conf.Defaults()
	}
	if plat == nil {
		return nil, errors.Newf("audio platform is required").
			Component(componentCore).
			Category(errors.CategoryConfiguration).
			Build()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Global().Module(componentCore)
	}
	if o.metrics == nil {
		m, err := observability.NewMetrics()
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}

	c := &Core{
		Settings: settings,
		Metrics:  o.metrics,
		logger:   o.logger,
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())

	c.Lock = lock.New(
		lock.WithTimeout(settings.Audio.Lock.Timeout),
		lock.WithLogger(o.logger.Module("lock")),
		lock.WithMetrics(o.metrics.AudioCore),
	)
	c.Graph = graph.NewManager(plat,
		graph.WithLock(c.Lock),
		graph.WithLogger(o.logger.Module("graph")),
		graph.WithMetrics(o.metrics.AudioCore),
	)
	c.Pool = elementpool.New(plat, settings.Audio.Pool.Capacity,
		elementpool.WithLogger(o.logger.Module("elementpool")),
		elementpool.WithMetrics(o.metrics.AudioCore),
	)

	c.HTTP = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.HTTP.Timeout,
		UserAgent:      settings.HTTP.UserAgent,
		MaxBodyBytes:   settings.Cache.MaxItemBytes,
		Logger:         o.logger.Module("httpclient"),
	})
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = c.HTTP
	}

	c.Blobs = blobcache.New(blobConfig(settings), c.openBlobStore(),
		blobcache.WithFetcher(fetcher),
		blobcache.WithLogger(o.logger.Module("blobcache")),
		blobcache.WithMetrics(o.metrics.BlobCache),
	)

	waveCache := waveform.NewCache(c.openWaveformStore(), settings.Waveform.MemoryTTL, o.logger.Module("waveform"))
	c.Waveforms = waveform.NewPool(waveform.Config{
		Workers:     settings.Waveform.Workers,
		MaxWorkers:  settings.Waveform.MaxWorkers,
		Samples:     settings.Waveform.Samples,
		TaskTimeout: settings.Waveform.TaskTimeout,
	}, waveform.NewExtractor(c.Blobs),
		waveform.WithCache(waveCache),
		waveform.WithLogger(o.logger.Module("waveform")),
		waveform.WithMetrics(o.metrics.Waveform),
	)

	monitorOpts := []health.MonitorOption{health.WithLogger(o.logger.Module("health"))}
	if p := settings.Cache.Persistent; p.Enabled && p.Driver != datastore.DriverMySQL {
		monitorOpts = append(monitorOpts, health.WithDiskPath(filepath.Dir(p.Path)))
	}
	c.Health = health.NewMonitor(health.Sources{
		Graph:    c.Graph,
		Pool:     c.Pool,
		Cache:    c.Blobs,
		Waveform: c.Waveforms,
	}, monitorOpts...)

	return c, nil
}

func blobConfig(s *conf.Settings) blobcache.Config {
	return blobcache.Config{
		MaxMemoryBytes:     s.Cache.Memory.MaxBytes,
		MaxItemBytes:       s.Cache.MaxItemBytes,
		MaxEntries:         s.Cache.Persistent.MaxEntries,
		MaxPersistentBytes: s.Cache.Persistent.MaxBytes,
		MaxAge:             s.Cache.Persistent.MaxAge,
		PrefetchLookahead:  s.Cache.Prefetch.Lookahead,
		PrefetchRate:       s.Cache.Prefetch.RateLimit,
	}
}

func (c *Core) storeConfig(path string) datastore.Config {
	p := c.Settings.Cache.Persistent
	return datastore.Config{
		Driver: p.Driver,
		Path:   path,
		DSN:    p.DSN,
		Logger: c.logger.Module("datastore"),
	}
}

// openBlobStore returns nil, not a typed nil, when the cache must run
// memory-only
func (c *Core) openBlobStore() blobcache.Store {
	p := c.Settings.Cache.Persistent
	if !p.Enabled {
		c.logger.Info("persistent blob cache disabled")
		return nil
	}
	store, err := datastore.OpenBlobStore(c.storeConfig(p.Path))
	if err != nil {
		c.logger.Warn("blob store unavailable, cache runs memory-only", logger.Error(err))
		return nil
	}
	if store.Recreated() {
		c.logger.Warn("blob store was unreadable and has been recreated empty")
	}
	return store
}

func (c *Core) openWaveformStore() waveform.PeakStore {
	if !c.Settings.Cache.Persistent.Enabled {
		return nil
	}
	store, err := datastore.OpenWaveformStore(c.storeConfig(c.Settings.Waveform.Store.Path))
	if err != nil {
		c.logger.Warn("waveform store unavailable, results kept in memory", logger.Error(err))
		return nil
	}
	if store.Recreated() {
		c.logger.Warn("waveform store was unreadable and has been recreated empty")
	}
	return store
}

// Track is a playback element prepared for a URL
type Track struct {
	Key     string
	Element platform.MediaElement
	Bind    graph.BindResult
}

// Load acquires an element for key, points it at url and binds it to the
// processing graph. A bind that fails leaves the element usable for
// playback without visualization.
func (c *Core) Load(ctx context.Context, key, url string, priority elementpool.Priority) (*Track, error) {
	el, err := c.Pool.Acquire(key, priority)
	if err != nil {
		return nil, err
	}
	if el.Src() != url {
		el.SetSrc(url)
	}

	a := c.Settings.Audio.Analyser
	res := c.Graph.Bind(ctx, el, a.FFTSize, a.Smoothing)
	if !res.OK() {
		c.logger.Info("element playing without visualization",
			logger.String("key", key),
			logger.String("bind_result", res.Kind.String()))
	}
	return &Track{Key: key, Element: el, Bind: res}, nil
}

// PrefetchQueue warms the blob cache and the waveform cache for the items
// following index in queue. It returns immediately.
func (c *Core) PrefetchQueue(queue []string, index int) {
	lookahead := c.Settings.Cache.Prefetch.Lookahead
	c.Blobs.Prefetch(queue, index, lookahead)

	start := max(index+1, 0)
	end := min(start+lookahead, len(queue))
	if start >= end {
		return
	}
	next := append([]string(nil), queue[start:end]...)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.Waveforms.PrefetchMany(c.bgCtx, next); err != nil {
			c.logger.Debug("waveform prefetch interrupted", logger.Error(err))
		}
	}()
}

// Resume resumes the processing context, typically after a user gesture
func (c *Core) Resume(ctx context.Context) error {
	return c.Graph.Resume(ctx)
}

// Snapshot returns the aggregated component view
func (c *Core) Snapshot(ctx context.Context) health.Snapshot {
	return c.Health.Snapshot(ctx)
}

// Close stops background work, tears down the graph and pool and closes
// the persistent stores
func (c *Core) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.bgCancel()
		c.wg.Wait()
		c.Waveforms.Terminate()

		ctx, cancel := context.WithTimeout(context.Background(), c.Settings.Audio.Lock.Timeout)
		defer cancel()
		if err := c.Graph.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
		c.Pool.ReleaseAll()

		if err := c.Blobs.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.Waveforms.Cache().Close(); err != nil {
			errs = append(errs, err)
		}
		c.HTTP.Close()
		c.logger.Info("audio core closed")
	})
	return errors.Join(errs...)
}
