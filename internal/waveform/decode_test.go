package waveform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
)

// encodeWAV writes interleaved 16-bit samples to a WAV file and returns its bytes
func encodeWAV(t *testing.T, channels int, data []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, 8000, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: 8000},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	return out
}

// rampBlocks returns blocks of n mono samples whose amplitude grows per block
func rampBlocks(blocks, n int) []int {
	data := make([]int, 0, blocks*n)
	for b := range blocks {
		amp := (b + 1) * 1000
		for i := range n {
			if i%2 == 0 {
				data = append(data, amp)
			} else {
				data = append(data, -amp/2)
			}
		}
	}
	return data
}

func TestSniff(t *testing.T) {
	t.Parallel()

	wavHeader := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	format, err := Sniff(wavHeader)
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, format)

	format, err = Sniff([]byte("fLaC\x00\x00\x00\x22"))
	require.NoError(t, err)
	assert.Equal(t, FormatFLAC, format)

	_, err = Sniff([]byte("ID3\x04\x00"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.True(t, errors.IsCategory(err, errors.CategoryDecode))

	_, err = Sniff(nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDecodeWAVMono(t *testing.T) {
	t.Parallel()
	data := encodeWAV(t, 1, rampBlocks(10, 100))

	pcm, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 8000, pcm.SampleRate)
	assert.Equal(t, 1, pcm.Channels)
	require.Len(t, pcm.Samples, 1000)
	assert.InDelta(t, 1000.0/32768.0, pcm.Samples[0], 1e-6)

	peaks := Peaks(pcm.Samples, 10)
	for i, p := range peaks {
		assert.InDelta(t, float32(i+1)/10, p, 1e-4, "block %d", i)
	}
}

func TestDecodeWAVStereoUsesLoudestChannel(t *testing.T) {
	t.Parallel()
	var data []int
	for range 200 {
		data = append(data, 100, -20000)
	}

	pcm, err := Decode(encodeWAV(t, 2, data))
	require.NoError(t, err)
	assert.Equal(t, 2, pcm.Channels)
	require.Len(t, pcm.Samples, 200)
	assert.InDelta(t, -20000.0/32768.0, pcm.Samples[10], 1e-6)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("not audio at all"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode([]byte("RIFF\x00\x00\x00\x00WAVE"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDecode))
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	peaks, err := Summarize(encodeWAV(t, 1, rampBlocks(4, 50)), 4)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.25, 0.5, 0.75, 1}, peaks, 1e-4)
}
