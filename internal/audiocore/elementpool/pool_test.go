package elementpool

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform/memplatform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/observability/metrics"
)

// fakeClock advances one second per reading so lastUsed ordering is strict
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestPool(t *testing.T, capacity int, opts ...Option) (*Pool, *memplatform.Platform) {
	t.Helper()
	p := memplatform.New()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	base := []Option{
		WithClock(clock.Now),
		WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)),
	}
	return New(p, capacity, append(base, opts...)...), p
}

func TestAcquireReturnsExistingAssignment(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 6)

	first, err := pool.Acquire("track-1", Medium)
	require.NoError(t, err)
	second, err := pool.Acquire("track-1", Medium)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, pool.Stats().Total)
}

func TestReleaseRecyclesCleanElement(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 6)

	el, err := pool.Acquire("track-1", Medium)
	require.NoError(t, err)
	el.SetSrc("https://cdn.example.com/a.mp3")
	el.SetCurrentTime(42)
	require.NoError(t, el.Play(t.Context()))
	el.AddEventListener("ended", func() {})

	require.True(t, pool.Release("track-1"))
	assert.False(t, pool.Release("track-1"))

	assert.True(t, el.Paused())
	assert.Zero(t, el.CurrentTime())
	assert.Empty(t, el.Src())
	assert.Zero(t, el.ListenerCount())

	reused, err := pool.Acquire("track-2", Low)
	require.NoError(t, err)
	assert.Same(t, el, reused)
	assert.Equal(t, 1, pool.Stats().Total)
}

func TestActivePlusFreeEqualsTotal(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 6)

	ops := []struct {
		acquire bool
		key     string
	}{
		{true, "a"}, {true, "b"}, {true, "c"}, {false, "b"},
		{true, "d"}, {true, "e"}, {false, "a"}, {false, "zzz"},
		{true, "f"}, {true, "g"}, {true, "h"}, {false, "c"},
	}
	for _, op := range ops {
		if op.acquire {
			_, err := pool.Acquire(op.key, Medium)
			require.NoError(t, err)
		} else {
			pool.Release(op.key)
		}
		s := pool.Stats()
		assert.Equal(t, s.Total, s.Active+s.Free)
		assert.LessOrEqual(t, s.Total, 6)
	}
}

func TestEvictionScenario(t *testing.T) {
	t.Parallel()
	var evicted []string
	pool, _ := newTestPool(t, 6, WithEvictionHandler(func(key string, _ Priority) {
		evicted = append(evicted, key)
	}))

	elements := make(map[string]platform.MediaElement)
	for i := 1; i <= 6; i++ {
		key := fmt.Sprintf("key%d", i)
		el, err := pool.Acquire(key, Medium)
		require.NoError(t, err)
		elements[key] = el
	}

	el7, err := pool.Acquire("key7", High)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, "key1", evicted[0], "oldest medium slot is reclaimed")
	assert.Same(t, elements["key1"], el7)

	el8, err := pool.Acquire("key8", Medium)
	assert.Nil(t, el8)
	require.ErrorIs(t, err, ErrPoolExhausted)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))

	s := pool.Stats()
	assert.Equal(t, 6, s.Active)
	assert.Equal(t, int64(1), s.Evictions)
	assert.Equal(t, int64(1), s.Rejections)
	assert.Equal(t, 1, s.ByPriority["high"])
	assert.Equal(t, 5, s.ByPriority["medium"])
}

func TestEvictionPrefersLowestPriority(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 3)

	_, err := pool.Acquire("old-medium", Medium)
	require.NoError(t, err)
	_, err = pool.Acquire("new-low", Low)
	require.NoError(t, err)
	_, err = pool.Acquire("high", High)
	require.NoError(t, err)

	_, err = pool.Acquire("incoming", High)
	require.NoError(t, err)

	keys := activeKeys(pool)
	assert.ElementsMatch(t, []string{"old-medium", "high", "incoming"}, keys)
}

func TestEqualPriorityNeverEvicts(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 2)

	_, err := pool.Acquire("a", Low)
	require.NoError(t, err)
	_, err = pool.Acquire("b", Low)
	require.NoError(t, err)

	_, err = pool.Acquire("c", Low)
	require.ErrorIs(t, err, ErrPoolExhausted)
	assert.ElementsMatch(t, []string{"a", "b"}, activeKeys(pool))
}

func TestUpdatePriorityProtectsSlot(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 2)

	_, err := pool.Acquire("a", Low)
	require.NoError(t, err)
	_, err = pool.Acquire("b", Low)
	require.NoError(t, err)

	require.True(t, pool.UpdatePriority("a", High))
	assert.False(t, pool.UpdatePriority("missing", High))

	_, err = pool.Acquire("c", Medium)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, activeKeys(pool))
}

func TestCapacityIsFixed(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 0)
	assert.Equal(t, DefaultCapacity, pool.Capacity())
}

func TestElementCreationFailure(t *testing.T) {
	t.Parallel()
	pool, p := newTestPool(t, 2)
	p.FailElementCreation(fmt.Errorf("media element limit"))

	_, err := pool.Acquire("a", High)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryResource))
	assert.Zero(t, pool.Stats().Total)
}

func TestReleaseAllEmptiesPool(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 4)

	for _, key := range []string{"a", "b", "c"} {
		_, err := pool.Acquire(key, Medium)
		require.NoError(t, err)
	}
	pool.Release("b")

	pool.ReleaseAll()
	s := pool.Stats()
	assert.Zero(t, s.Total)
	assert.Zero(t, s.Active)
	assert.Zero(t, s.Free)
	assert.Empty(t, pool.ActiveElements())
}

func TestConcurrentAcquireRelease(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 6)

	var wg sync.WaitGroup
	for i := range 24 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%8)
			if _, err := pool.Acquire(key, Priority(i%3)); err == nil {
				pool.Release(key)
			}
		}()
	}
	wg.Wait()

	s := pool.Stats()
	assert.Equal(t, s.Total, s.Active+s.Free)
	assert.LessOrEqual(t, s.Total, 6)
}

func TestPoolPublishesMetrics(t *testing.T) {
	t.Parallel()
	m, err := metrics.NewAudioCoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	pool, _ := newTestPool(t, 1, WithMetrics(m))

	_, err = pool.Acquire("a", Low)
	require.NoError(t, err)
	_, err = pool.Acquire("b", Low)
	require.Error(t, err)

	assert.Equal(t, int64(1), pool.Stats().Rejections)
}

func TestParsePriority(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Low, ParsePriority("low"))
	assert.Equal(t, High, ParsePriority("high"))
	assert.Equal(t, Medium, ParsePriority("bogus"))
	assert.Equal(t, "high", High.String())
}

func activeKeys(pool *Pool) []string {
	var keys []string
	for _, slot := range pool.ActiveElements() {
		keys = append(keys, slot.Key)
	}
	return keys
}
