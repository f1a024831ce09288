// Package lock provides a FIFO mutex with bounded waits for serializing
// audio graph mutations.
package lock

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/observability/metrics"
)

// DefaultTimeout is used when the mutex is constructed without a timeout
const DefaultTimeout = 5 * time.Second

const componentLock = "audiocore.lock"

// ErrAcquireTimeout is returned when a waiter is not serviced in time
var ErrAcquireTimeout = errors.New(nil).
	Component(componentLock).
	Category(errors.CategoryLock).
	Context("reason", "acquire_timeout").
	Build()

// ReleaseFunc releases a held mutex. Calling it more than once is a no-op.
type ReleaseFunc func()

type waiter struct {
	label string
	ready chan struct{}
}

// Mutex is a FIFO lock whose waiters give up after a timeout. Unlike
// sync.Mutex, a waiter that gives up leaves the queue and the current holder
// keeps the lock.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	holder  string
	gen     uint64
	waiters *list.List

	timeout time.Duration
	logger  logger.Logger
	metrics *metrics.AudioCoreMetrics
}

// Option configures a Mutex
type Option func(*Mutex)

// WithTimeout sets the default acquire timeout
func WithTimeout(d time.Duration) Option {
	return func(m *Mutex) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(m *Mutex) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *metrics.AudioCoreMetrics) Option {
	return func(mx *Mutex) {
		mx.metrics = m
	}
}

// New creates an unlocked Mutex
func New(opts ...Option) *Mutex {
	m := &Mutex{
		waiters: list.New(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Global().Module(componentLock)
	}
	return m
}

// Acquire waits for the lock using the default timeout
func (m *Mutex) Acquire(ctx context.Context, label string) (ReleaseFunc, error) {
	return m.AcquireTimeout(ctx, label, m.timeout)
}

// AcquireTimeout waits for the lock for at most d. When d elapses or ctx ends
// first, the waiter is removed from the queue and ErrAcquireTimeout (or the
// context error) is returned.
func (m *Mutex) AcquireTimeout(ctx context.Context, label string, d time.Duration) (ReleaseFunc, error) {
	if err := ctx.Err(); err != nil {
		m.metrics.RecordLockTimeout(label)
		return nil, err
	}
	start := time.Now()

	m.mu.Lock()
	if !m.locked && m.waiters.Len() == 0 {
		release := m.grantLocked(label)
		m.mu.Unlock()
		m.metrics.RecordLockWait(label, 0)
		return release, nil
	}

	w := &waiter{label: label, ready: make(chan struct{})}
	elem := m.waiters.PushBack(w)
	m.metrics.SetLockQueueLength(m.waiters.Len())
	m.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.ready:
		m.metrics.RecordLockWait(label, time.Since(start).Seconds())
		return m.releaseFor(m.currentGen()), nil
	case <-timer.C:
		if release, ok := m.abandon(elem, w); ok {
			return release, nil
		}
		m.metrics.RecordLockTimeout(label)
		m.logger.Warn("lock acquire timed out",
			logger.String("label", label),
			logger.String("holder", m.Holder()),
			logger.Duration("timeout", d))
		return nil, errors.New(fmt.Errorf("lock acquire timed out after %s: %w", d, ErrAcquireTimeout)).
			Component(componentLock).
			Category(errors.CategoryLock).
			Context("reason", "acquire_timeout").
			Context("label", label).
			Build()
	case <-ctx.Done():
		if release, ok := m.abandon(elem, w); ok {
			return release, nil
		}
		m.metrics.RecordLockTimeout(label)
		return nil, ctx.Err()
	}
}

// abandon removes a waiter from the queue. If the lock was handed to the
// waiter concurrently, the grant is kept and returned instead.
func (m *Mutex) abandon(elem *list.Element, w *waiter) (ReleaseFunc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-w.ready:
		return m.releaseFor(m.gen), true
	default:
	}
	m.waiters.Remove(elem)
	m.metrics.SetLockQueueLength(m.waiters.Len())
	return nil, false
}

// TryAcquire takes the lock only if it is free and nobody is queued
func (m *Mutex) TryAcquire(label string) (ReleaseFunc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked || m.waiters.Len() > 0 {
		return nil, false
	}
	return m.grantLocked(label), true
}

// RunExclusive runs fn while holding the lock. The lock is released when fn
// returns, fails or panics; a panic is re-raised after the release.
func (m *Mutex) RunExclusive(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	release, err := m.Acquire(ctx, label)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Locked reports whether the lock is currently held
func (m *Mutex) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// Holder returns the label of the current holder, or "" when unlocked
func (m *Mutex) Holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

// QueueLen returns the number of queued waiters
func (m *Mutex) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiters.Len()
}

func (m *Mutex) currentGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// grantLocked must be called with m.mu held
func (m *Mutex) grantLocked(label string) ReleaseFunc {
	m.locked = true
	m.holder = label
	m.gen++
	return m.releaseFor(m.gen)
}

// releaseFor returns a release bound to one grant so a stale release cannot
// unlock a later holder.
func (m *Mutex) releaseFor(gen uint64) ReleaseFunc {
	var once sync.Once
	return func() {
		released := false
		once.Do(func() {
			released = true
			m.release(gen)
		})
		if !released {
			m.logger.Warn("lock released twice")
		}
	}
}

func (m *Mutex) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked || m.gen != gen {
		m.logger.Warn("ignoring release of a lock grant that is no longer held",
			logger.String("holder", m.holder))
		return
	}

	front := m.waiters.Front()
	if front == nil {
		m.locked = false
		m.holder = ""
		return
	}

	// Hand off directly to the next waiter so ordering stays FIFO.
	w, _ := m.waiters.Remove(front).(*waiter)
	m.holder = w.label
	m.gen++
	m.metrics.SetLockQueueLength(m.waiters.Len())
	close(w.ready)
}
