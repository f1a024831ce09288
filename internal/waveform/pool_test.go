package waveform

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/blobcache"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/httpclient"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

var testLogger = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)

// fakeExtractor returns a ramp of the requested length unless a behavior
// is registered for the URL
type fakeExtractor struct {
	calls    atomic.Int32
	mu       sync.Mutex
	behavior map[string]func(ctx context.Context) ([]float32, error)
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{behavior: make(map[string]func(ctx context.Context) ([]float32, error))}
}

func (f *fakeExtractor) on(url string, fn func(ctx context.Context) ([]float32, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.behavior[url] = fn
}

func (f *fakeExtractor) Extract(ctx context.Context, url string, samples int) ([]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	fn := f.behavior[url]
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	peaks := make([]float32, samples)
	for i := range peaks {
		peaks[i] = float32(i+1) / float32(samples)
	}
	return peaks, nil
}

func newTestPool(t *testing.T, cfg Config, ex Extractor) *Pool {
	t.Helper()
	p := NewPool(cfg, ex, WithLogger(testLogger))
	t.Cleanup(p.Terminate)
	return p
}

func blockUntilCanceled(ctx context.Context) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGenerateMissReturnsFixedLength(t *testing.T) {
	ex := newFakeExtractor()
	p := newTestPool(t, Config{Workers: 2, Samples: 64}, ex)

	res, err := p.Generate(t.Context(), "https://cdn.example.com/a.wav")
	require.NoError(t, err)
	assert.Len(t, res.Peaks, 64)
	assert.Equal(t, SourceWorker, res.Source)
	assert.False(t, res.Placeholder)

	// second request is served from the cache
	res, err = p.Generate(t.Context(), "https://cdn.example.com/a.wav")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, int32(1), ex.calls.Load())

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, 2, stats.Workers)
}

func TestGenerateCacheHitSkipsWorkers(t *testing.T) {
	ex := newFakeExtractor()
	p := newTestPool(t, Config{Workers: 1, Samples: 3}, ex)
	require.NoError(t, p.Cache().Put(t.Context(), "u", []float32{0.1, 0.2, 0.3}))

	res, err := p.Generate(t.Context(), "u")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, res.Peaks)
	assert.Zero(t, ex.calls.Load())
	assert.Zero(t, p.Stats().InFlight)
}

func TestGenerateRejectsEmptyURL(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1}, newFakeExtractor())
	_, err := p.Generate(t.Context(), "")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestWorkerPanicRejectsOnlyThatTask(t *testing.T) {
	ex := newFakeExtractor()
	release := make(chan struct{})
	ex.on("crash", func(context.Context) ([]float32, error) {
		<-release
		panic("decoder blew up")
	})
	p := newTestPool(t, Config{Workers: 1, Samples: 8}, ex)

	var crashErr, okErr error
	var okRes Result
	var wg sync.WaitGroup
	wg.Go(func() {
		_, crashErr = p.Generate(context.Background(), "crash")
	})
	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)

	wg.Go(func() {
		okRes, okErr = p.Generate(context.Background(), "fine")
	})
	require.Eventually(t, func() bool { return p.Stats().Pending == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	require.ErrorIs(t, crashErr, ErrWorkerPanic)
	require.NoError(t, okErr)
	assert.Len(t, okRes.Peaks, 8)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestExtractorErrorIsIsolated(t *testing.T) {
	ex := newFakeExtractor()
	ex.on("broken", func(context.Context) ([]float32, error) {
		return nil, fmt.Errorf("corrupt frame")
	})
	p := newTestPool(t, Config{Workers: 1, Samples: 4}, ex)

	_, err := p.Generate(t.Context(), "broken")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryWorker))

	res, err := p.Generate(t.Context(), "good")
	require.NoError(t, err)
	assert.Len(t, res.Peaks, 4)

	// failures are not cached
	_, ok := p.Cache().Get(t.Context(), "broken")
	assert.False(t, ok)
}

func TestTaskTimeoutReturnsPlaceholder(t *testing.T) {
	ex := newFakeExtractor()
	ex.on("slow", blockUntilCanceled)
	p := newTestPool(t, Config{Workers: 1, Samples: 5, TaskTimeout: 50 * time.Millisecond}, ex)

	res, err := p.Generate(t.Context(), "slow")
	require.NoError(t, err)
	assert.True(t, res.Placeholder)
	assert.Equal(t, SourcePlaceholder, res.Source)
	assert.Equal(t, Placeholder(5), res.Peaks)
	assert.Equal(t, int64(1), p.Stats().Timeouts)

	// the worker is released once the canceled extractor returns
	res, err = p.Generate(t.Context(), "after")
	require.NoError(t, err)
	assert.False(t, res.Placeholder)

	_, ok := p.Cache().Get(t.Context(), "slow")
	assert.False(t, ok, "placeholders are not cached")
}

func TestConcurrentRequestsCoalesce(t *testing.T) {
	ex := newFakeExtractor()
	gate := make(chan struct{})
	ex.on("shared", func(context.Context) ([]float32, error) {
		<-gate
		return []float32{1, 0.5}, nil
	})
	p := newTestPool(t, Config{Workers: 2, Samples: 2}, ex)

	results := make([]Result, 5)
	var wg sync.WaitGroup
	for i := range results {
		wg.Go(func() {
			res, err := p.Generate(context.Background(), "shared")
			assert.NoError(t, err)
			results[i] = res
		})
	}
	require.Eventually(t, func() bool { return p.Stats().Coalesced == 4 }, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), ex.calls.Load())
	for _, r := range results {
		assert.Equal(t, []float32{1, 0.5}, r.Peaks)
	}
}

func TestPendingTasksRunInOrder(t *testing.T) {
	ex := newFakeExtractor()
	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) ([]float32, error) {
		return func(context.Context) ([]float32, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return []float32{1}, nil
		}
	}
	ex.on("first", func(context.Context) ([]float32, error) {
		<-gate
		return []float32{1}, nil
	})
	ex.on("second", record("second"))
	ex.on("third", record("third"))
	p := newTestPool(t, Config{Workers: 1, Samples: 1}, ex)

	var wg sync.WaitGroup
	wg.Go(func() { _, _ = p.Generate(context.Background(), "first") })
	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)
	wg.Go(func() { _, _ = p.Generate(context.Background(), "second") })
	require.Eventually(t, func() bool { return p.Stats().Pending == 1 }, time.Second, 5*time.Millisecond)
	wg.Go(func() { _, _ = p.Generate(context.Background(), "third") })
	require.Eventually(t, func() bool { return p.Stats().Pending == 2 }, time.Second, 5*time.Millisecond)

	close(gate)
	wg.Wait()
	assert.Equal(t, []string{"second", "third"}, order)
}

func TestCallerContextCancel(t *testing.T) {
	ex := newFakeExtractor()
	ex.on("slow", blockUntilCanceled)
	p := newTestPool(t, Config{Workers: 1, TaskTimeout: time.Minute}, ex)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Generate(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTerminateRejectsWaiters(t *testing.T) {
	ex := newFakeExtractor()
	ex.on("slow", blockUntilCanceled)
	p := NewPool(Config{Workers: 1, TaskTimeout: time.Minute}, ex, WithLogger(testLogger))

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Generate(context.Background(), "slow")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().InFlight == 1 }, time.Second, 5*time.Millisecond)

	p.Terminate()
	assert.ErrorIs(t, <-errCh, ErrTerminated)

	_, err := p.Generate(t.Context(), "other")
	require.ErrorIs(t, err, ErrTerminated)
	assert.True(t, p.Stats().Terminated)

	p.Terminate()
}

func TestInlineFallback(t *testing.T) {
	ex := newFakeExtractor()
	p := newTestPool(t, Config{Workers: -1, Samples: 6}, ex)

	res, err := p.Generate(t.Context(), "u")
	require.NoError(t, err)
	assert.Equal(t, SourceInline, res.Source)
	assert.Len(t, res.Peaks, 6)

	stats := p.Stats()
	assert.Zero(t, stats.Workers)
	assert.Equal(t, int64(1), stats.Inline)
}

func TestInlineTimeoutReturnsPlaceholder(t *testing.T) {
	ex := newFakeExtractor()
	ex.on("slow", blockUntilCanceled)
	p := newTestPool(t, Config{Workers: -1, Samples: 3, TaskTimeout: 20 * time.Millisecond}, ex)

	res, err := p.Generate(t.Context(), "slow")
	require.NoError(t, err)
	assert.True(t, res.Placeholder)
	assert.Len(t, res.Peaks, 3)
}

func TestWorkerCount(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, WorkerCount(Config{Workers: -1}))
	assert.Equal(t, 3, WorkerCount(Config{Workers: 3}))

	auto := WorkerCount(Config{MaxWorkers: 4})
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, 4)
	assert.Equal(t, 1, WorkerCount(Config{MaxWorkers: 1}))
}

func TestPrefetchMany(t *testing.T) {
	ex := newFakeExtractor()
	ex.on("bad", func(context.Context) ([]float32, error) {
		return nil, fmt.Errorf("unsupported")
	})
	p := newTestPool(t, Config{Workers: 2, Samples: 4}, ex)
	require.NoError(t, p.Cache().Put(t.Context(), "cached", []float32{1, 1, 1, 1}))

	n, err := p.PrefetchMany(t.Context(), []string{"a", "b", "a", "cached", "bad", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(3), ex.calls.Load())
	assert.True(t, p.Cache().Contains(t.Context(), "a"))
	assert.True(t, p.Cache().Contains(t.Context(), "b"))
}

func TestExtractorThroughBlobCache(t *testing.T) {
	client := httpclient.New(&httpclient.Config{Logger: testLogger})
	defer client.Close()
	httpmock.ActivateNonDefault(client.StdClient())
	defer httpmock.DeactivateAndReset()

	const url = "https://cdn.example.com/ramp.wav"
	httpmock.RegisterResponder("GET", url,
		httpmock.NewBytesResponder(200, encodeWAV(t, 1, rampBlocks(4, 50))))

	blobs := blobcache.New(blobcache.DefaultConfig(), nil,
		blobcache.WithFetcher(client), blobcache.WithLogger(testLogger))
	defer func() { _ = blobs.Close() }()

	p := newTestPool(t, Config{Workers: 1, Samples: 4}, NewExtractor(blobs))
	res, err := p.Generate(t.Context(), url)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.25, 0.5, 0.75, 1}, res.Peaks, 1e-4)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())

	_, ok := blobs.Get(t.Context(), url)
	assert.True(t, ok, "media bytes are cached for playback")
}
