package audiocore

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/elementpool"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/graph"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform/memplatform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/blobcache"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

var testLogger = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	s := conf.Defaults()
	s.Cache.Persistent.Path = filepath.Join(dir, "blobs.db")
	s.Waveform.Store.Path = filepath.Join(dir, "waveforms.db")
	s.Waveform.Workers = 2
	s.Cache.Prefetch.RateLimit = 1000
	return s
}

func newTestCore(t *testing.T, s *conf.Settings) (*Core, *memplatform.Platform) {
	t.Helper()
	p := memplatform.New()
	c, err := New(s, p, WithLogger(testLogger))
	require.NoError(t, err)
	return c, p
}

func TestNewRequiresPlatform(t *testing.T) {
	_, err := New(conf.Defaults(), nil, WithLogger(testLogger))
	require.Error(t, err)
}

func TestNewWiresPersistentStores(t *testing.T) {
	c, _ := newTestCore(t, testSettings(t))
	defer func() { require.NoError(t, c.Close()) }()

	assert.False(t, c.Blobs.MemoryOnly())
	assert.Equal(t, 100, c.Waveforms.Samples())
	assert.Equal(t, 2, c.Waveforms.Stats().Workers)
}

func TestDisabledPersistenceRunsMemoryOnly(t *testing.T) {
	s := testSettings(t)
	s.Cache.Persistent.Enabled = false

	c, _ := newTestCore(t, s)
	defer func() { require.NoError(t, c.Close()) }()

	assert.True(t, c.Blobs.MemoryOnly())
}

func TestUnopenableStoreFallsBackToMemory(t *testing.T) {
	s := testSettings(t)
	s.Cache.Persistent.Driver = "postgres"

	c, _ := newTestCore(t, s)
	defer func() { require.NoError(t, c.Close()) }()

	assert.True(t, c.Blobs.MemoryOnly())
	require.NoError(t, c.Blobs.Put(t.Context(), "https://cdn.example.com/a.mp3", []byte("a"), blobcache.High))
	data, ok := c.Blobs.Get(t.Context(), "https://cdn.example.com/a.mp3")
	require.True(t, ok)
	assert.Equal(t, []byte("a"), data)
}

func TestLoadBindsElement(t *testing.T) {
	c, _ := newTestCore(t, testSettings(t))
	defer func() { require.NoError(t, c.Close()) }()

	const url = "https://cdn.example.com/track-1.mp3"
	track, err := c.Load(t.Context(), "track-1", url, elementpool.High)
	require.NoError(t, err)

	assert.True(t, track.Bind.OK())
	assert.Equal(t, graph.Bound, track.Bind.Kind)
	assert.Equal(t, url, track.Element.Src())

	again, err := c.Load(t.Context(), "track-1", url, elementpool.High)
	require.NoError(t, err)
	assert.Same(t, track.Element, again.Element)
	assert.Same(t, track.Bind.Binding, again.Bind.Binding)

	snap := c.Snapshot(t.Context())
	require.NotNil(t, snap.Context)
	assert.True(t, snap.Context.Bound)
	require.NotNil(t, snap.Pool)
	assert.Equal(t, 1, snap.Pool.Active)
	require.NotNil(t, snap.Waveform)
	require.NotNil(t, snap.Cache)
	require.NotNil(t, snap.Disk, "store directory usage is reported")
}

func TestBlobsSurviveRestart(t *testing.T) {
	s := testSettings(t)
	const url = "https://cdn.example.com/persisted.mp3"

	first, _ := newTestCore(t, s)
	require.NoError(t, first.Blobs.Put(t.Context(), url, []byte("audio"), blobcache.Medium))
	first.Blobs.Wait()
	require.NoError(t, first.Close())

	second, _ := newTestCore(t, s)
	defer func() { require.NoError(t, second.Close()) }()

	data, ok := second.Blobs.Get(t.Context(), url)
	require.True(t, ok)
	assert.Equal(t, []byte("audio"), data)
	assert.Equal(t, int64(1), second.Blobs.Stats(t.Context()).PersistentHits)
}

func TestPrefetchQueueWarmsLookahead(t *testing.T) {
	c, _ := newTestCore(t, testSettings(t))
	defer func() { require.NoError(t, c.Close()) }()

	httpmock.ActivateNonDefault(c.HTTP.StdClient())
	defer httpmock.DeactivateAndReset()

	queue := []string{
		"https://cdn.example.com/0.mp3",
		"https://cdn.example.com/1.mp3",
		"https://cdn.example.com/2.mp3",
		"https://cdn.example.com/3.mp3",
	}
	for _, u := range queue {
		httpmock.RegisterResponder("GET", u, httpmock.NewBytesResponder(200, []byte(u)))
	}

	c.PrefetchQueue(queue, 0)
	c.wg.Wait()
	c.Blobs.Wait()

	assert.False(t, c.Blobs.Contains(t.Context(), queue[0]))
	assert.True(t, c.Blobs.Contains(t.Context(), queue[1]))
	assert.True(t, c.Blobs.Contains(t.Context(), queue[2]))
	assert.False(t, c.Blobs.Contains(t.Context(), queue[3]))
}

func TestResumeRunsContext(t *testing.T) {
	c, _ := newTestCore(t, testSettings(t))
	defer func() { require.NoError(t, c.Close()) }()

	require.NoError(t, c.Resume(t.Context()))
	assert.Equal(t, graph.StateRunning, c.Graph.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := newTestCore(t, testSettings(t))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
