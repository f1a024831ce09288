package waveform

import (
	"context"
	"slices"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/datastore"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

// PeakStore is the persistent waveform tier. *datastore.WaveformStore
// satisfies it.
type PeakStore interface {
	Get(ctx context.Context, url string) (*datastore.WaveformEntry, error)
	Put(ctx context.Context, url string, peaks []float32) error
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Close() error
}

// Cache keeps computed waveforms in an expiring memory map in front of an
// optional persistent store
type Cache struct {
	mem    *gocache.Cache
	store  PeakStore
	logger logger.Logger
}

// NewCache creates a waveform cache. Memory entries expire after ttl; a nil
// store keeps results in memory only.
func NewCache(store PeakStore, ttl time.Duration, log logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if log == nil {
		log = logger.Global().Module(componentWaveform)
	}
	return &Cache{
		mem:    gocache.New(ttl, 2*ttl),
		store:  store,
		logger: log,
	}
}

// Get returns a copy of the cached peaks for url
func (c *Cache) Get(ctx context.Context, url string) ([]float32, bool) {
	if v, ok := c.mem.Get(url); ok {
		if peaks, ok := v.([]float32); ok {
			return slices.Clone(peaks), true
		}
	}
	if c.store == nil {
		return nil, false
	}

	entry, err := c.store.Get(ctx, url)
	if err != nil {
		if !errors.Is(err, datastore.ErrNotFound) {
			c.logger.Warn("waveform store read failed", logger.Error(err))
		}
		return nil, false
	}
	c.mem.Set(url, entry.Peaks, gocache.DefaultExpiration)
	return slices.Clone(entry.Peaks), true
}

// Contains reports whether url has a cached waveform
func (c *Cache) Contains(ctx context.Context, url string) bool {
	_, ok := c.Get(ctx, url)
	return ok
}

// Put stores peaks in memory and, when configured, in the persistent store
func (c *Cache) Put(ctx context.Context, url string, peaks []float32) error {
	stored := slices.Clone(peaks)
	c.mem.Set(url, stored, gocache.DefaultExpiration)
	if c.store == nil {
		return nil
	}
	return c.store.Put(ctx, url, stored)
}

// Len returns the number of memory entries
func (c *Cache) Len() int {
	return c.mem.ItemCount()
}

// Persisted returns the number of stored waveforms, or zero when memory-only
func (c *Cache) Persisted(ctx context.Context) int64 {
	if c.store == nil {
		return 0
	}
	n, err := c.store.Count(ctx)
	if err != nil {
		c.logger.Debug("counting stored waveforms failed", logger.Error(err))
		return 0
	}
	return n
}

// Clear empties both tiers
func (c *Cache) Clear(ctx context.Context) error {
	c.mem.Flush()
	if c.store == nil {
		return nil
	}
	return c.store.Clear(ctx)
}

// Close closes the persistent store
func (c *Cache) Close() error {
	c.mem.Flush()
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
