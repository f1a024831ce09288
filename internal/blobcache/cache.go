// Package blobcache keeps downloaded media bytes in two tiers: a byte-budgeted
// memory map in front of a persistent store bounded by entry count, total
// bytes and age.
//
// Reads never wait on maintenance. Persistent writes, access bookkeeping,
// purges and evictions run in background goroutines that Wait and Close
// drain. Downloads run detached from any single caller, so a waiter that gives
// up never fails the others sharing the download. Clear bumps an epoch;
// payloads fetched or read before it are dropped instead of cached.
package blobcache

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/datastore"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/observability/metrics"
)

const componentCache = "blobcache"

const (
	tierMemory     = "memory"
	tierPersistent = "persistent"

	// memory eviction stops at this fraction of the budget
	memoryLowWater = 0.8
	// fraction of persistent entries removed per eviction pass
	persistentEvictFraction = 5 // 1/5 = 20%
	maxEvictionPasses       = 5
)

var (
	// ErrItemTooLarge is returned by Put when a payload exceeds MaxItemBytes
	ErrItemTooLarge = errors.New(nil).
			Component(componentCache).
			Category(errors.CategoryLimit).
			Context("reason", "item_too_large").
			Build()

	// ErrNoFetcher is returned by GetOrFetch when the cache cannot download
	ErrNoFetcher = errors.New(nil).
			Component(componentCache).
			Category(errors.CategoryConfiguration).
			Context("reason", "no_fetcher").
			Build()

	// ErrClosed is returned after Close
	ErrClosed = errors.New(nil).
			Component(componentCache).
			Category(errors.CategoryState).
			Context("reason", "closed").
			Build()
)

// Priority is recorded with each entry
type Priority int

const (
	Low Priority = iota
	Medium
	High
)

// Entry is a cached payload
type Entry struct {
	URL          string
	Data         []byte
	Size         int64
	CreatedAt    time.Time
	LastAccessed time.Time
	Priority     Priority
	AccessCount  int64

	epoch uint64
}

// Store is the persistent tier. *datastore.BlobStore satisfies it.
type Store interface {
	Get(ctx context.Context, url string) (*datastore.BlobEntry, error)
	CreatedAt(ctx context.Context, url string) (time.Time, error)
	Put(ctx context.Context, entry *datastore.BlobEntry) error
	Touch(ctx context.Context, url string, at time.Time) error
	Delete(ctx context.Context, urls ...string) error
	Usage(ctx context.Context) (count, bytes int64, err error)
	LeastRecentlyAccessed(ctx context.Context, n int) ([]string, error)
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Clear(ctx context.Context) error
	Close() error
}

// Fetcher downloads a URL. *httpclient.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config bounds the cache
type Config struct {
	MaxMemoryBytes     int64
	MaxItemBytes       int64
	MaxEntries         int
	MaxPersistentBytes int64
	MaxAge             time.Duration

	PrefetchLookahead int
	PrefetchRate      float64 // fetches per second
}

// DefaultConfig returns the production limits
func DefaultConfig() Config {
	return Config{
		MaxMemoryBytes:     100 << 20,
		MaxItemBytes:       50 << 20,
		MaxEntries:         100,
		MaxPersistentBytes: 500 << 20,
		MaxAge:             7 * 24 * time.Hour,
		PrefetchLookahead:  2,
		PrefetchRate:       2,
	}
}

// Stats is a read-only view of cache effectiveness
type Stats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	MissRate       float64 `json:"miss_rate"`
	MemoryHits     int64   `json:"memory_hits"`
	PersistentHits int64   `json:"persistent_hits"`
	StaleMisses    int64   `json:"stale_misses"`

	MemoryEntries int   `json:"memory_entries"`
	MemoryBytes   int64 `json:"memory_bytes"`
	MemoryLimit   int64 `json:"memory_limit"`

	PersistentEntries int64 `json:"persistent_entries"`
	PersistentBytes   int64 `json:"persistent_bytes"`
	MemoryOnly        bool  `json:"memory_only"`

	MemoryEvictions     int64 `json:"memory_evictions"`
	PersistentEvictions int64 `json:"persistent_evictions"`
	Prefetched          int64 `json:"prefetched"`
}

// Cache is safe for concurrent use
type Cache struct {
	cfg     Config
	store   Store
	fetcher Fetcher
	now     func() time.Time
	logger  logger.Logger
	metrics *metrics.BlobCacheMetrics

	mu       sync.Mutex
	mem      map[string]*Entry
	memBytes int64
	stats    Stats
	closed   bool
	epoch    uint64

	group   singleflight.Group
	limiter *rate.Limiter
	maintMu sync.Mutex
	// held shared by persistent writes, exclusively by Clear
	writeMu sync.RWMutex

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup // persistence and maintenance
	fetchWG  sync.WaitGroup // downloads and prefetch batches
}

// Option configures a Cache
type Option func(*Cache)

// WithFetcher sets the downloader used by GetOrFetch and Prefetch
func WithFetcher(f Fetcher) Option {
	return func(c *Cache) {
		c.fetcher = f
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *metrics.BlobCacheMetrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates a cache. A nil store runs the cache memory-only.
func New(cfg Config, store Store, opts ...Option) *Cache {
	def := DefaultConfig()
	if cfg.MaxMemoryBytes <= 0 {
		cfg.MaxMemoryBytes = def.MaxMemoryBytes
	}
	if cfg.MaxItemBytes <= 0 {
		cfg.MaxItemBytes = def.MaxItemBytes
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxPersistentBytes <= 0 {
		cfg.MaxPersistentBytes = def.MaxPersistentBytes
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.PrefetchLookahead <= 0 {
		cfg.PrefetchLookahead = def.PrefetchLookahead
	}
	if cfg.PrefetchRate <= 0 {
		cfg.PrefetchRate = def.PrefetchRate
	}

	c := &Cache{
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		mem:     make(map[string]*Entry),
		limiter: rate.NewLimiter(rate.Limit(cfg.PrefetchRate), 1),
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Global().Module(componentCache)
	}
	return c
}

// MemoryOnly reports whether the cache runs without a persistent tier
func (c *Cache) MemoryOnly() bool {
	return c.store == nil
}

// Get returns the payload for url. Memory hits are served without touching
// the persistent store. A persistent entry older than MaxAge counts as a miss
// and is purged in the background.
func (c *Cache) Get(ctx context.Context, url string) ([]byte, bool) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.mem[url]; ok {
		e.LastAccessed = now
		e.AccessCount++
		c.stats.Hits++
		c.stats.MemoryHits++
		data := bytes.Clone(e.Data)
		c.mu.Unlock()

		c.metrics.RecordLookup(tierMemory, "hit")
		c.background(func(ctx context.Context) {
			c.touch(ctx, url, now)
		})
		return data, true
	}
	epoch := c.epoch
	c.mu.Unlock()
	c.metrics.RecordLookup(tierMemory, "miss")

	if c.store == nil {
		c.recordMiss(false)
		return nil, false
	}

	stored, err := c.store.Get(ctx, url)
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		c.metrics.RecordLookup(tierPersistent, "miss")
		c.recordMiss(false)
		return nil, false
	case err != nil:
		c.metrics.RecordStoreOperation("get", err)
		c.logger.Warn("persistent cache read failed, treating as miss", logger.Error(err))
		c.recordMiss(false)
		return nil, false
	}

	if now.Sub(stored.CreatedAt) > c.cfg.MaxAge {
		c.metrics.RecordLookup(tierPersistent, "stale")
		c.recordMiss(true)
		c.background(func(ctx context.Context) {
			if err := c.store.Delete(ctx, url); err != nil {
				c.logger.Debug("purging stale entry failed", logger.Error(err))
				return
			}
			c.metrics.RecordEvictions(tierPersistent, 1)
		})
		return nil, false
	}

	entry := &Entry{
		URL:          stored.URL,
		Data:         stored.Data,
		Size:         stored.Size,
		CreatedAt:    stored.CreatedAt,
		LastAccessed: now,
		Priority:     Priority(stored.Priority),
		AccessCount:  stored.AccessCount + 1,
		epoch:        epoch,
	}
	c.mu.Lock()
	c.stats.Hits++
	c.stats.PersistentHits++
	c.insertLocked(entry)
	c.mu.Unlock()

	c.metrics.RecordLookup(tierPersistent, "hit")
	c.background(func(ctx context.Context) {
		c.touch(ctx, url, now)
	})
	return bytes.Clone(entry.Data), true
}

func (c *Cache) recordMiss(stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Misses++
	if stale {
		c.stats.StaleMisses++
	}
}

// Put stores data for url in memory and schedules the persistent write.
// Payloads over MaxItemBytes are rejected with ErrItemTooLarge.
func (c *Cache) Put(_ context.Context, url string, data []byte, priority Priority) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	return c.put(url, data, priority, epoch)
}

// put caches data read or fetched during epoch. Data from before the latest
// Clear is silently dropped.
func (c *Cache) put(url string, data []byte, priority Priority, epoch uint64) error {
	size := int64(len(data))
	if size > c.cfg.MaxItemBytes {
		c.metrics.RecordOversize()
		return errors.New(fmt.Errorf("payload of %d bytes exceeds %d: %w", size, c.cfg.MaxItemBytes, ErrItemTooLarge)).
			Component(componentCache).
			Category(errors.CategoryLimit).
			Context("reason", "item_too_large").
			URLContext(url).
			Build()
	}

	now := c.now()
	entry := &Entry{
		URL:          url,
		Data:         bytes.Clone(data),
		Size:         size,
		CreatedAt:    now,
		LastAccessed: now,
		Priority:     priority,
		epoch:        epoch,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	c.insertLocked(entry)
	c.mu.Unlock()

	if c.store != nil {
		c.background(func(ctx context.Context) {
			c.persist(ctx, entry)
		})
	}
	return nil
}

// insertLocked adds or replaces an entry and enforces the memory budget
func (c *Cache) insertLocked(e *Entry) {
	if e.epoch != c.epoch {
		return
	}
	if old, ok := c.mem[e.URL]; ok {
		c.memBytes -= old.Size
	}
	c.mem[e.URL] = e
	c.memBytes += e.Size

	if c.memBytes > c.cfg.MaxMemoryBytes {
		c.evictMemoryLocked()
	}
	c.metrics.SetTierUsage(tierMemory, c.memBytes, len(c.mem))
}

// evictMemoryLocked drops least recently accessed entries until usage is at
// the low-water mark
func (c *Cache) evictMemoryLocked() {
	entries := make([]*Entry, 0, len(c.mem))
	for _, e := range c.mem {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed.Before(entries[j].LastAccessed)
	})

	target := int64(float64(c.cfg.MaxMemoryBytes) * memoryLowWater)
	evicted := 0
	for _, e := range entries {
		if c.memBytes <= target {
			break
		}
		delete(c.mem, e.URL)
		c.memBytes -= e.Size
		evicted++
	}
	c.stats.MemoryEvictions += int64(evicted)
	c.metrics.RecordEvictions(tierMemory, evicted)
	c.logger.Debug("memory tier evicted",
		logger.Int("entries", evicted),
		logger.Int64("bytes", c.memBytes))
}

func (c *Cache) persist(ctx context.Context, e *Entry) {
	c.writeMu.RLock()
	c.mu.Lock()
	stale := e.epoch != c.epoch
	c.mu.Unlock()
	if stale {
		c.writeMu.RUnlock()
		return
	}
	err := c.store.Put(ctx, &datastore.BlobEntry{
		URL:          e.URL,
		Data:         e.Data,
		Size:         e.Size,
		CreatedAt:    e.CreatedAt,
		LastAccessed: e.LastAccessed,
		Priority:     int(e.Priority),
	})
	c.writeMu.RUnlock()
	c.metrics.RecordStoreOperation("put", err)
	if err != nil {
		c.logger.Warn("persistent cache write failed", logger.Error(err))
		return
	}
	c.maintain(ctx)
}

// maintain purges expired entries and evicts a fifth of the store, least
// recently accessed first, while it is over its entry or byte limits
func (c *Cache) maintain(ctx context.Context) {
	c.maintMu.Lock()
	defer c.maintMu.Unlock()

	if purged, err := c.store.PurgeCreatedBefore(ctx, c.now().Add(-c.cfg.MaxAge)); err != nil {
		c.logger.Debug("purging expired entries failed", logger.Error(err))
	} else if purged > 0 {
		c.addPersistentEvictions(purged)
	}

	for range maxEvictionPasses {
		count, size, err := c.store.Usage(ctx)
		if err != nil {
			c.metrics.RecordStoreOperation("usage", err)
			return
		}
		c.metrics.SetTierUsage(tierPersistent, size, int(count))
		if count <= int64(c.cfg.MaxEntries) && size <= c.cfg.MaxPersistentBytes {
			return
		}

		n := max(int(count/persistentEvictFraction), 1)
		urls, err := c.store.LeastRecentlyAccessed(ctx, n)
		if err != nil {
			c.metrics.RecordStoreOperation("list_lru", err)
			return
		}
		if err := c.store.Delete(ctx, urls...); err != nil {
			c.metrics.RecordStoreOperation("delete", err)
			c.logger.Warn("persistent eviction failed", logger.Error(err))
			return
		}
		c.addPersistentEvictions(int64(len(urls)))
		c.logger.Debug("persistent tier evicted",
			logger.Int("entries", len(urls)),
			logger.Int64("count_before", count),
			logger.Int64("bytes_before", size))
	}
}

func (c *Cache) addPersistentEvictions(n int64) {
	c.mu.Lock()
	c.stats.PersistentEvictions += n
	c.mu.Unlock()
	c.metrics.RecordEvictions(tierPersistent, int(n))
}

func (c *Cache) touch(ctx context.Context, url string, at time.Time) {
	if c.store == nil {
		return
	}
	if err := c.store.Touch(ctx, url, at); err != nil {
		c.metrics.RecordStoreOperation("touch", err)
	}
}

// GetOrFetch returns the cached payload or downloads and caches it.
// Concurrent calls for one URL share a single download.
func (c *Cache) GetOrFetch(ctx context.Context, url string, priority Priority) ([]byte, error) {
	if data, ok := c.Get(ctx, url); ok {
		return data, nil
	}
	if c.fetcher == nil {
		return nil, ErrNoFetcher
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	// Held until the shared download finishes, even if this caller leaves
	c.fetchWG.Add(1)
	c.mu.Unlock()

	ch := c.group.DoChan(url, func() (any, error) {
		return c.fetch(ctx, url, priority)
	})

	select {
	case res := <-ch:
		c.fetchWG.Done()
		if res.Err != nil {
			return nil, res.Err
		}
		data, _ := res.Val.([]byte)
		if res.Shared {
			data = bytes.Clone(data)
		}
		return data, nil
	case <-ctx.Done():
		go func() {
			<-ch
			c.fetchWG.Done()
		}()
		return nil, ctx.Err()
	}
}

// fetch downloads url on a context that keeps the values of ctx but is only
// cancelled by Close, then caches the payload
func (c *Cache) fetch(ctx context.Context, url string, priority Priority) ([]byte, error) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(c.bgCtx, cancel)
	defer stop()

	data, err := c.fetcher.Fetch(fetchCtx, url)
	if err != nil {
		return nil, err
	}
	if putErr := c.put(url, data, priority, epoch); putErr != nil {
		// Still usable by the caller, just not cached
		c.logger.Warn("fetched payload not cached", logger.Error(putErr))
	}
	return data, nil
}

// Contains reports whether url is cached and fresh without recording a lookup
func (c *Cache) Contains(ctx context.Context, url string) bool {
	c.mu.Lock()
	_, ok := c.mem[url]
	c.mu.Unlock()
	if ok || c.store == nil {
		return ok
	}
	created, err := c.store.CreatedAt(ctx, url)
	return err == nil && c.now().Sub(created) <= c.cfg.MaxAge
}

// Prefetch downloads up to lookahead items following currentIndex in the
// background. Cached items are skipped and failures are only logged. A
// lookahead of zero uses the configured default.
func (c *Cache) Prefetch(urls []string, currentIndex, lookahead int) {
	if c.fetcher == nil || len(urls) == 0 {
		return
	}
	if lookahead <= 0 {
		lookahead = c.cfg.PrefetchLookahead
	}
	start := max(currentIndex+1, 0)
	end := min(start+lookahead, len(urls))
	if start >= end {
		return
	}
	batch := append([]string(nil), urls[start:end]...)

	c.spawn(&c.fetchWG, func(ctx context.Context) {
		for _, url := range batch {
			if url == "" || c.Contains(ctx, url) {
				c.metrics.RecordPrefetch("skipped")
				continue
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := c.GetOrFetch(ctx, url, Low); err != nil {
				c.metrics.RecordPrefetch("error")
				c.logger.Debug("prefetch failed", logger.Error(err))
				continue
			}
			c.mu.Lock()
			c.stats.Prefetched++
			c.mu.Unlock()
			c.metrics.RecordPrefetch("fetched")
		}
	})
}

// Clear empties both tiers. Downloads still in flight are not waited for;
// their payloads belong to the previous epoch and are never cached.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	clear(c.mem)
	c.memBytes = 0
	c.metrics.SetTierUsage(tierMemory, 0, 0)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	// Writes already past their epoch check land before the wipe
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.store.Clear(ctx); err != nil {
		c.metrics.RecordStoreOperation("clear", err)
		return err
	}
	c.metrics.SetTierUsage(tierPersistent, 0, 0)
	return nil
}

// Stats returns hit rates and tier sizes
func (c *Cache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	s := c.stats
	s.MemoryEntries = len(c.mem)
	s.MemoryBytes = c.memBytes
	s.MemoryLimit = c.cfg.MaxMemoryBytes
	c.mu.Unlock()

	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
		s.MissRate = float64(s.Misses) / float64(total)
	}

	s.MemoryOnly = c.store == nil
	if c.store != nil {
		count, size, err := c.store.Usage(ctx)
		if err != nil {
			c.logger.Debug("reading persistent usage failed", logger.Error(err))
		} else {
			s.PersistentEntries, s.PersistentBytes = count, size
		}
	}
	return s
}

// background runs fn on the cache's own context unless the cache is closed
func (c *Cache) background(fn func(ctx context.Context)) {
	c.spawn(&c.wg, fn)
}

func (c *Cache) spawn(wg *sync.WaitGroup, fn func(ctx context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer wg.Done()
		fn(c.bgCtx)
	}()
}

// Wait blocks until downloads, prefetches, background writes and maintenance
// finish
func (c *Cache) Wait() {
	c.fetchWG.Wait()
	c.wg.Wait()
}

// Close stops background work, waits for it and closes the store
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bgCancel()
	c.fetchWG.Wait()
	c.wg.Wait()
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}
