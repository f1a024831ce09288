package waveform

import "math"

// PlaceholderLevel fills synthetic waveforms returned on timeout
const PlaceholderLevel float32 = 0.1

// Peaks splits samples into k equal blocks, takes the largest absolute
// sample of each block and normalizes the result by the global maximum.
// Silence and empty input yield k zeros.
func Peaks(samples []float32, k int) []float32 {
	if k <= 0 {
		return nil
	}
	peaks := make([]float32, k)
	n := len(samples)
	if n == 0 {
		return peaks
	}

	var globalMax float32
	for i := range k {
		start := i * n / k
		end := (i + 1) * n / k
		var blockMax float32
		for _, s := range samples[start:end] {
			if a := float32(math.Abs(float64(s))); a > blockMax {
				blockMax = a
			}
		}
		peaks[i] = blockMax
		globalMax = max(globalMax, blockMax)
	}

	if globalMax > 0 {
		for i := range peaks {
			peaks[i] /= globalMax
		}
	}
	return peaks
}

// Placeholder returns a flat waveform of k samples
func Placeholder(k int) []float32 {
	if k <= 0 {
		return nil
	}
	peaks := make([]float32, k)
	for i := range peaks {
		peaks[i] = PlaceholderLevel
	}
	return peaks
}
