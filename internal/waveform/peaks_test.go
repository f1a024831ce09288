package waveform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeaks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		k       int
		want    []float32
	}{
		{"empty input", nil, 4, []float32{0, 0, 0, 0}},
		{"silence", []float32{0, 0, 0, 0}, 2, []float32{0, 0}},
		{"normalized by global max", []float32{0.1, -0.2, 0.4, 0.1}, 2, []float32{0.5, 1}},
		{"negative peak counts", []float32{-0.8, 0.2, 0.4, 0.0}, 2, []float32{1, 0.5}},
		{"fewer samples than blocks", []float32{0.5, 1}, 4, []float32{0, 0.5, 0, 1}},
		{"zero blocks", []float32{1}, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Peaks(tt.samples, tt.k)
			require.Len(t, got, len(tt.want))
			assert.InDeltaSlice(t, tt.want, got, 1e-6)
		})
	}
}

func TestPeaksFixedLength(t *testing.T) {
	t.Parallel()
	samples := make([]float32, 44100)
	for i := range samples {
		samples[i] = float32(i%100) / 100
	}
	assert.Len(t, Peaks(samples, DefaultSamples), DefaultSamples)
}

func TestPlaceholder(t *testing.T) {
	t.Parallel()
	p := Placeholder(3)
	assert.Equal(t, []float32{PlaceholderLevel, PlaceholderLevel, PlaceholderLevel}, p)
	assert.Nil(t, Placeholder(0))
}
