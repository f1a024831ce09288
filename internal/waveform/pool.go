// Package waveform computes fixed-length peak summaries of remote audio on a
// bounded pool of worker goroutines.
//
// Results are cached in memory and in the persistent waveform store, so a
// URL is decoded once. Concurrent requests for the same URL share one task.
// A task that runs past its timeout resolves with a flat placeholder rather
// than an error, and a failing or panicking task only affects its own
// waiters.
package waveform

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/observability/metrics"
)

const componentWaveform = "waveform"

const (
	DefaultSamples     = 100
	DefaultMaxWorkers  = 4
	DefaultTaskTimeout = 30 * time.Second
)

var (
	// ErrTerminated is returned for requests made or pending when the pool stops
	ErrTerminated = errors.New(nil).
			Component(componentWaveform).
			Category(errors.CategoryWorker).
			Context("reason", "terminated").
			Build()

	// ErrWorkerPanic matches tasks whose extractor panicked
	ErrWorkerPanic = errors.New(nil).
			Component(componentWaveform).
			Category(errors.CategoryWorker).
			Context("reason", "worker_panic").
			Build()
)

// Source tells where a Result came from
type Source string

const (
	SourceCache       Source = "cache"
	SourceWorker      Source = "worker"
	SourceInline      Source = "inline"
	SourcePlaceholder Source = "placeholder"
)

// Result is a waveform summary
type Result struct {
	URL         string    `json:"url"`
	Peaks       []float32 `json:"peaks"`
	Placeholder bool      `json:"placeholder"`
	Source      Source    `json:"source"`
}

// Extractor computes the peaks of one URL
type Extractor interface {
	Extract(ctx context.Context, url string, samples int) ([]float32, error)
}

// ExtractorFunc adapts a function to Extractor
type ExtractorFunc func(ctx context.Context, url string, samples int) ([]float32, error)

// Extract calls f
func (f ExtractorFunc) Extract(ctx context.Context, url string, samples int) ([]float32, error) {
	return f(ctx, url, samples)
}

// Config sizes the pool. Workers zero means min(logical cores, MaxWorkers);
// a negative value computes every task on the calling goroutine.
type Config struct {
	Workers     int
	MaxWorkers  int
	Samples     int
	TaskTimeout time.Duration
}

// DefaultConfig returns production settings
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  DefaultMaxWorkers,
		Samples:     DefaultSamples,
		TaskTimeout: DefaultTaskTimeout,
	}
}

// WorkerCount resolves the number of workers cfg asks for
func WorkerCount(cfg Config) int {
	switch {
	case cfg.Workers < 0:
		return 0
	case cfg.Workers > 0:
		return cfg.Workers
	}
	limit := cfg.MaxWorkers
	if limit <= 0 {
		limit = DefaultMaxWorkers
	}
	return max(min(cpuid.CPU.LogicalCores, limit), 1)
}

// Stats is a snapshot of pool activity
type Stats struct {
	Workers    int   `json:"workers"`
	Busy       int   `json:"busy"`
	Pending    int   `json:"pending"`
	InFlight   int   `json:"in_flight"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Timeouts   int64 `json:"timeouts"`
	Inline     int64 `json:"inline"`
	CacheHits  int64 `json:"cache_hits"`
	Coalesced  int64 `json:"coalesced"`
	Terminated bool  `json:"terminated"`
}

type outcome struct {
	result Result
	err    error
}

// task is one URL in flight. Waiters share its outcome.
type task struct {
	id      string
	url     string
	samples int
	ctx     context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
	waiters []chan outcome
	done    bool
}

type worker struct {
	id       int
	requests chan *task
	current  *task
}

// Pool is safe for concurrent use
type Pool struct {
	cfg       Config
	extractor Extractor
	cache     *Cache
	logger    logger.Logger
	metrics   *metrics.WaveformMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	workers    []*worker
	idle       []*worker
	pending    []*task
	inflight   map[string]*task
	stats      Stats
	terminated bool
}

// Option configures a Pool
type Option func(*Pool)

// WithCache sets the waveform cache consulted before any task is created
func WithCache(c *Cache) Option {
	return func(p *Pool) {
		p.cache = c
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
func WithMetrics(m *metrics.WaveformMetrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// NewPool starts the workers
func NewPool(cfg Config, extractor Extractor, opts ...Option) *Pool {
	if cfg.Samples <= 0 {
		cfg.Samples = DefaultSamples
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}

	p := &Pool{
		cfg:       cfg,
		extractor: extractor,
		inflight:  make(map[string]*task),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Global().Module(componentWaveform)
	}
	if p.cache == nil {
		p.cache = NewCache(nil, 0, p.logger)
	}

	n := WorkerCount(cfg)
	for i := range n {
		w := &worker{id: i, requests: make(chan *task, 1)}
		p.workers = append(p.workers, w)
		p.idle = append(p.idle, w)
		p.wg.Add(1)
		go p.work(w)
	}
	p.metrics.SetWorkers(0, n)

	if n == 0 {
		p.logger.Info("waveform pool running inline")
	} else {
		p.logger.Info("waveform pool started",
			logger.Int("workers", n),
			logger.Int("samples", cfg.Samples),
			logger.Duration("task_timeout", cfg.TaskTimeout))
	}
	return p
}

// Samples returns the configured summary length
func (p *Pool) Samples() int {
	return p.cfg.Samples
}

// Cache returns the waveform cache
func (p *Pool) Cache() *Cache {
	return p.cache
}

// Generate returns the waveform for url. A cache hit never creates a task.
// On a miss the task is queued for the next idle worker; requests for a URL
// already in flight wait on that task.
func (p *Pool) Generate(ctx context.Context, url string) (Result, error) {
	if url == "" {
		return Result{}, errors.ValidationError("waveform url is empty")
	}

	if peaks, ok := p.cache.Get(ctx, url); ok {
		p.mu.Lock()
		p.stats.CacheHits++
		p.mu.Unlock()
		p.metrics.RecordTask(string(SourceCache), "hit", 0)
		return Result{URL: url, Peaks: peaks, Source: SourceCache}, nil
	}

	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return Result{}, ErrTerminated
	}
	if len(p.workers) == 0 {
		p.stats.Inline++
		p.mu.Unlock()
		return p.generateInline(ctx, url)
	}

	ch := make(chan outcome, 1)
	if t, ok := p.inflight[url]; ok {
		t.waiters = append(t.waiters, ch)
		p.stats.Coalesced++
		p.metrics.RecordCoalesced()
	} else {
		t := p.newTaskLocked(url)
		t.waiters = append(t.waiters, ch)
		p.inflight[url] = t
		p.dispatchLocked(t)
	}
	p.mu.Unlock()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pool) newTaskLocked(url string) *task {
	t := &task{
		id:      uuid.NewString(),
		url:     url,
		samples: p.cfg.Samples,
	}
	t.ctx, t.cancel = context.WithCancel(p.ctx)
	t.timer = time.AfterFunc(p.cfg.TaskTimeout, func() { p.expire(t) })
	return t
}

// dispatchLocked hands t to an idle worker or queues it
func (p *Pool) dispatchLocked(t *task) {
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		w.current = t
		w.requests <- t
	} else {
		p.pending = append(p.pending, t)
	}
	p.updateGaugesLocked()
}

func (p *Pool) nextPendingLocked() *task {
	for len(p.pending) > 0 {
		t := p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
		if !t.done {
			return t
		}
	}
	return nil
}

func (p *Pool) work(w *worker) {
	defer p.wg.Done()
	for t := range w.requests {
		start := time.Now()
		peaks, err := p.run(t.ctx, t.url, t.samples)
		p.finish(w, t, peaks, err, time.Since(start))
	}
}

// run calls the extractor and turns a panic into an error
func (p *Pool) run(ctx context.Context, url string, samples int) (peaks []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("waveform extraction panicked: %v", r).
				Component(componentWaveform).
				Category(errors.CategoryWorker).
				Context("reason", "worker_panic").
				URLContext(url).
				Build()
		}
	}()
	return p.extractor.Extract(ctx, url, samples)
}

func (p *Pool) finish(w *worker, t *task, peaks []float32, err error, elapsed time.Duration) {
	if err == nil {
		if cacheErr := p.cache.Put(p.ctx, t.url, peaks); cacheErr != nil {
			p.logger.Warn("caching waveform failed", logger.Error(cacheErr))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.current = nil
	if !t.done {
		t.done = true
		t.timer.Stop()
		p.forgetLocked(t)
		if err != nil {
			p.stats.Failed++
			p.metrics.RecordTask(string(SourceWorker), "error", elapsed.Seconds())
			p.logger.Warn("waveform task failed",
				logger.String("task_id", t.id),
				logger.Int("worker_id", w.id),
				logger.Error(err))
			resolve(t, outcome{err: taskError(err, t.url)})
		} else {
			p.stats.Completed++
			p.metrics.RecordTask(string(SourceWorker), "success", elapsed.Seconds())
			resolve(t, outcome{result: Result{URL: t.url, Peaks: peaks, Source: SourceWorker}})
		}
	}
	t.cancel()

	if p.terminated {
		return
	}
	if next := p.nextPendingLocked(); next != nil {
		w.current = next
		w.requests <- next
	} else {
		p.idle = append(p.idle, w)
	}
	p.updateGaugesLocked()
}

// expire resolves a task that outlived its timeout with a placeholder
func (p *Pool) expire(t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.cancel()
	p.forgetLocked(t)
	p.pending = slices.DeleteFunc(p.pending, func(x *task) bool { return x == t })
	p.stats.Timeouts++
	p.metrics.RecordTask(string(SourceWorker), "timeout", p.cfg.TaskTimeout.Seconds())
	p.updateGaugesLocked()

	p.logger.Warn("waveform task timed out, returning placeholder",
		logger.String("task_id", t.id),
		logger.Duration("timeout", p.cfg.TaskTimeout))
	resolve(t, outcome{result: placeholderResult(t.url, t.samples)})
}

func (p *Pool) forgetLocked(t *task) {
	if p.inflight[t.url] == t {
		delete(p.inflight, t.url)
	}
}

func (p *Pool) updateGaugesLocked() {
	busy := 0
	for _, w := range p.workers {
		if w.current != nil {
			busy++
		}
	}
	p.metrics.SetWorkers(busy, len(p.workers)-busy)
	p.metrics.SetPending(len(p.pending))
}

// generateInline computes on the calling goroutine with the same timeout
// and placeholder rules as a worker
func (p *Pool) generateInline(ctx context.Context, url string) (Result, error) {
	tctx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	peaks, err := p.run(tctx, url, p.cfg.Samples)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			p.mu.Lock()
			p.stats.Timeouts++
			p.mu.Unlock()
			p.metrics.RecordTask(string(SourceInline), "timeout", elapsed.Seconds())
			return placeholderResult(url, p.cfg.Samples), nil
		}
		p.mu.Lock()
		p.stats.Failed++
		p.mu.Unlock()
		p.metrics.RecordTask(string(SourceInline), "error", elapsed.Seconds())
		return Result{}, taskError(err, url)
	}

	if cacheErr := p.cache.Put(ctx, url, peaks); cacheErr != nil {
		p.logger.Warn("caching waveform failed", logger.Error(cacheErr))
	}
	p.mu.Lock()
	p.stats.Completed++
	p.mu.Unlock()
	p.metrics.RecordTask(string(SourceInline), "success", elapsed.Seconds())
	return Result{URL: url, Peaks: peaks, Source: SourceInline}, nil
}

// PrefetchMany generates waveforms for the uncached URLs in urls, at most as
// many at once as there are workers. Individual failures are logged and
// skipped. It returns how many real waveforms were produced.
func (p *Pool) PrefetchMany(ctx context.Context, urls []string) (int, error) {
	seen := make(map[string]struct{}, len(urls))
	var todo []string
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if p.cache.Contains(ctx, u) {
			continue
		}
		todo = append(todo, u)
	}
	if len(todo) == 0 {
		return 0, nil
	}

	var generated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(p.workers), 1))
	for _, u := range todo {
		g.Go(func() error {
			res, err := p.Generate(gctx, u)
			if err != nil {
				p.logger.Debug("waveform prefetch failed", logger.Error(err))
				return nil
			}
			if !res.Placeholder {
				generated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(generated.Load()), ctx.Err()
}

// Stats returns a snapshot of pool activity
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Workers = len(p.workers)
	for _, w := range p.workers {
		if w.current != nil {
			s.Busy++
		}
	}
	s.Pending = len(p.pending)
	s.InFlight = len(p.inflight)
	s.Terminated = p.terminated
	return s
}

// Terminate stops every worker and rejects all waiting requests with
// ErrTerminated. The pool cannot be restarted.
func (p *Pool) Terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	for _, t := range p.inflight {
		t.done = true
		t.timer.Stop()
		t.cancel()
		resolve(t, outcome{err: ErrTerminated})
	}
	clear(p.inflight)
	p.pending = nil
	p.idle = nil
	for _, w := range p.workers {
		close(w.requests)
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.metrics.SetWorkers(0, 0)
	p.metrics.SetPending(0)
	p.logger.Info("waveform pool terminated")
}

func resolve(t *task, out outcome) {
	for _, ch := range t.waiters {
		o := out
		o.result.Peaks = slices.Clone(out.result.Peaks)
		ch <- o
	}
	t.waiters = nil
}

func placeholderResult(url string, samples int) Result {
	return Result{
		URL:         url,
		Peaks:       Placeholder(samples),
		Placeholder: true,
		Source:      SourcePlaceholder,
	}
}

func taskError(err error, url string) error {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return err
	}
	return errors.New(err).
		Component(componentWaveform).
		Category(errors.CategoryWorker).
		URLContext(url).
		Build()
}
