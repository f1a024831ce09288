// Package elementpool maintains a bounded set of playback elements shared by
// logical consumers, reclaiming lower-priority elements under pressure.
package elementpool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/observability/metrics"
)

// DefaultCapacity is the platform ceiling on concurrent playback elements
const DefaultCapacity = 6

const componentPool = "audiocore.elementpool"

// ErrPoolExhausted is returned when every slot is held at equal or higher priority
var ErrPoolExhausted = errors.New(nil).
	Component(componentPool).
	Category(errors.CategoryLimit).
	Context("reason", "exhausted").
	Build()

// Priority ranks consumers when the pool must reclaim a slot
type Priority int

const (
	Low Priority = iota
	Medium
	High
)

// String returns the lower-case priority name
func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a priority name, defaulting to Medium
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return Low
	case "high":
		return High
	default:
		return Medium
	}
}

// Slot is a pooled element. A slot is either free or owned by one key.
type Slot struct {
	ID       string
	Element  platform.MediaElement
	Key      string
	Priority Priority
	LastUsed time.Time
}

// EvictionHandler is told which consumer lost its element
type EvictionHandler func(key string, priority Priority)

// Stats describes pool occupancy
type Stats struct {
	Capacity   int            `json:"capacity"`
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Free       int            `json:"free"`
	Evictions  int64          `json:"evictions"`
	Rejections int64          `json:"rejections"`
	ByPriority map[string]int `json:"by_priority"`
}

// Pool is the bounded element pool. It is safe for concurrent use.
type Pool struct {
	factory  platform.ElementFactory
	capacity int
	now      func() time.Time
	onEvict  EvictionHandler
	logger   logger.Logger
	metrics  *metrics.AudioCoreMetrics

	mu         sync.Mutex
	active     map[string]*Slot
	free       []*Slot
	total      int
	evictions  int64
	rejections int64
}

// Option configures a Pool
type Option func(*Pool)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// WithEvictionHandler registers a callback run after a slot is reclaimed.
// It runs without the pool lock held.
func WithEvictionHandler(fn EvictionHandler) Option {
	return func(p *Pool) {
		p.onEvict = fn
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *metrics.AudioCoreMetrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// New creates a pool of at most capacity elements. The capacity cannot be
// changed afterwards.
func New(factory platform.ElementFactory, capacity int, opts ...Option) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{
		factory:  factory,
		capacity: capacity,
		now:      time.Now,
		active:   make(map[string]*Slot),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Global().Module(componentPool)
	}
	p.metrics.SetPoolElements(0, 0)
	return p
}

// Capacity returns the fixed pool size
func (p *Pool) Capacity() int {
	return p.capacity
}

// Acquire returns the element for key. An existing assignment is reused,
// then a free slot, then a newly created element while under capacity. At
// capacity the oldest slot of the lowest priority strictly below priority is
// reclaimed. ErrPoolExhausted is returned when no slot qualifies.
func (p *Pool) Acquire(key string, priority Priority) (platform.MediaElement, error) {
	p.mu.Lock()

	if slot, ok := p.active[key]; ok {
		slot.LastUsed = p.now()
		p.mu.Unlock()
		p.metrics.RecordPoolAcquire("existing")
		return slot.Element, nil
	}

	if n := len(p.free); n > 0 {
		slot := p.free[n-1]
		p.free = p.free[:n-1]
		p.assignLocked(slot, key, priority)
		p.publishLocked()
		p.mu.Unlock()
		p.metrics.RecordPoolAcquire("free")
		return slot.Element, nil
	}

	if p.total < p.capacity {
		el, err := p.factory.NewElement()
		if err != nil {
			p.mu.Unlock()
			return nil, errors.New(err).
				Component(componentPool).
				Category(errors.CategoryResource).
				Context("operation", "create_element").
				Context("key", key).
				Build()
		}
		slot := &Slot{ID: uuid.NewString(), Element: el}
		p.total++
		total := p.total
		p.assignLocked(slot, key, priority)
		p.publishLocked()
		p.mu.Unlock()
		p.metrics.RecordPoolAcquire("created")
		p.logger.Debug("pool element created",
			logger.String("slot_id", slot.ID),
			logger.Int("total", total))
		return el, nil
	}

	victim := p.evictionCandidateLocked(priority)
	if victim == nil {
		p.rejections++
		p.mu.Unlock()
		p.metrics.RecordPoolRejection(priority.String())
		p.logger.Warn("element pool exhausted",
			logger.String("key", key),
			logger.String("priority", priority.String()),
			logger.Int("capacity", p.capacity))
		return nil, ErrPoolExhausted
	}

	evictedKey, evictedPriority := victim.Key, victim.Priority
	delete(p.active, evictedKey)
	cleanup(victim.Element)
	p.assignLocked(victim, key, priority)
	p.evictions++
	p.publishLocked()
	p.mu.Unlock()

	p.metrics.RecordPoolAcquire("evicted")
	p.metrics.RecordPoolEviction(evictedPriority.String())
	p.logger.Info("reclaimed pool element",
		logger.String("evicted_key", evictedKey),
		logger.String("evicted_priority", evictedPriority.String()),
		logger.String("key", key),
		logger.String("priority", priority.String()))
	if p.onEvict != nil {
		p.onEvict(evictedKey, evictedPriority)
	}
	return victim.Element, nil
}

// evictionCandidateLocked picks the lowest priority below want, oldest first
func (p *Pool) evictionCandidateLocked(want Priority) *Slot {
	var victim *Slot
	for _, slot := range p.active {
		if slot.Priority >= want {
			continue
		}
		if victim == nil ||
			slot.Priority < victim.Priority ||
			(slot.Priority == victim.Priority && slot.LastUsed.Before(victim.LastUsed)) {
			victim = slot
		}
	}
	return victim
}

func (p *Pool) assignLocked(slot *Slot, key string, priority Priority) {
	slot.Key = key
	slot.Priority = priority
	slot.LastUsed = p.now()
	p.active[key] = slot
}

// Release cleans the element held by key and returns it to the free list.
// It reports whether key held an element.
func (p *Pool) Release(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.active[key]
	if !ok {
		return false
	}
	delete(p.active, key)
	cleanup(slot.Element)
	slot.Key = ""
	p.free = append(p.free, slot)
	p.publishLocked()
	return true
}

// UpdatePriority changes the priority of key in place
func (p *Pool) UpdatePriority(key string, priority Priority) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.active[key]
	if !ok {
		return false
	}
	slot.Priority = priority
	return true
}

// Stats returns occupancy counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Capacity:   p.capacity,
		Total:      p.total,
		Active:     len(p.active),
		Free:       len(p.free),
		Evictions:  p.evictions,
		Rejections: p.rejections,
		ByPriority: make(map[string]int, 3),
	}
	for _, slot := range p.active {
		s.ByPriority[slot.Priority.String()]++
	}
	return s
}

// ActiveElements returns copies of the active slots ordered by key
func (p *Pool) ActiveElements() []Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Slot, 0, len(p.active))
	for _, slot := range p.active {
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ReleaseAll cleans every element and empties the pool
func (p *Pool) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range p.active {
		cleanup(slot.Element)
	}
	for _, slot := range p.free {
		cleanup(slot.Element)
	}
	clear(p.active)
	p.free = nil
	p.total = 0
	p.publishLocked()
	p.logger.Info("element pool released")
}

func (p *Pool) publishLocked() {
	p.metrics.SetPoolElements(len(p.active), len(p.free))
}

// cleanup resets an element before it changes hands. Listeners go first so
// no consumer callback fires during the reset.
func cleanup(el platform.MediaElement) {
	el.RemoveAllListeners()
	el.Pause()
	el.SetCurrentTime(0)
	el.SetSrc("")
}
