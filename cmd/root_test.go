package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/cmd/cache"
	wf "github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/waveform"
)

// isolate points both stores into a temp dir and quiets console logging
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AIMV_CACHE_PERSISTENT_PATH", filepath.Join(dir, "blobs.db"))
	t.Setenv("AIMV_WAVEFORM_STORE_PATH", filepath.Join(dir, "waveforms.db"))
	t.Setenv("AIMV_LOGGING_CONSOLE_LEVEL", "error")
	t.Setenv("AIMV_LOGGING_DEFAULT_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeWAV(t *testing.T, path string) {
	t.Helper()
	data := make([]int, 0, 800)
	for b := range 10 {
		for range 80 {
			data = append(data, (b+1)*1000)
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestConfigInitWritesOnce(t *testing.T) {
	path := filepath.Join(isolate(t), "config.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err, "existing config must not be overwritten")
}

func TestWaveformLocalFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "ramp.wav")
	writeWAV(t, path)

	out, err := execute(t, "waveform", "--samples", "10", path)
	require.NoError(t, err)

	var res wf.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Peaks, 10)
	assert.InDelta(t, 0.1, res.Peaks[0], 1e-6)
	assert.InDelta(t, 1.0, res.Peaks[9], 1e-6)
	assert.Equal(t, wf.SourceInline, res.Source)
}

func TestWaveformRejectsUndecodableFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o600))

	_, err := execute(t, "waveform", path)
	require.Error(t, err)
}

func TestCacheStatsAndClear(t *testing.T) {
	isolate(t)

	out, err := execute(t, "cache", "stats")
	require.NoError(t, err)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.False(t, stats.Blobs.MemoryOnly)
	assert.Zero(t, stats.Blobs.PersistentEntries)

	out, err = execute(t, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "caches cleared")
}

func TestBadConfigFileFails(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  analyser:\n    fftsize: 1000\n"), 0o600))

	_, err := execute(t, "--config", path, "cache", "stats")
	require.Error(t, err)
}
