package waveform

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/tphakala/flac"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
)

// Format identifies a container by its magic bytes
type Format string

const (
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
)

// ErrUnsupportedFormat is returned for payloads no decoder recognizes
var ErrUnsupportedFormat = errors.New(nil).
	Component(componentWaveform).
	Category(errors.CategoryDecode).
	Context("reason", "unsupported_format").
	Build()

// PCM is decoded audio reduced to one value per frame. Each value is the
// channel sample with the largest magnitude, scaled to [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Sniff detects the container format
func Sniff(data []byte) (Format, error) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV, nil
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FormatFLAC, nil
	}
	return "", ErrUnsupportedFormat
}

// Decode sniffs data and decodes it with the matching codec
func Decode(data []byte) (*PCM, error) {
	format, err := Sniff(data)
	if err != nil {
		return nil, err
	}

	var pcm *PCM
	switch format {
	case FormatWAV:
		pcm, err = decodeWAV(data)
	case FormatFLAC:
		pcm, err = decodeFLAC(data)
	}
	if err != nil {
		return nil, errors.New(err).
			Component(componentWaveform).
			Category(errors.CategoryDecode).
			Context("format", string(format)).
			Context("bytes", len(data)).
			Build()
	}
	return pcm, nil
}

func decodeWAV(data []byte) (*PCM, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file format")
	}

	bitDepth := int(decoder.BitDepth)
	divisor, err := sampleDivisor(bitDepth)
	if err != nil {
		return nil, err
	}
	channels := int(decoder.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}

	samples := make([]float32, 0, len(buf.Data)/channels)
	for i := 0; i+channels <= len(buf.Data); i += channels {
		samples = append(samples, loudest(buf.Data[i:i+channels], divisor))
	}
	return &PCM{
		Samples:    samples,
		SampleRate: int(decoder.SampleRate),
		Channels:   channels,
	}, nil
}

func decodeFLAC(data []byte) (*PCM, error) {
	decoder, err := flac.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	divisor, err := sampleDivisor(decoder.BitsPerSample)
	if err != nil {
		return nil, err
	}
	channels := decoder.NChannels
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	width := decoder.BitsPerSample / 8
	frameBytes := width * channels

	var samples []float32
	frame := make([]int, channels)
	for {
		block, err := decoder.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for i := 0; i+frameBytes <= len(block); i += frameBytes {
			for ch := range channels {
				frame[ch] = int(readSample(block[i+ch*width:], width))
			}
			samples = append(samples, loudest(frame, divisor))
		}
	}
	return &PCM{
		Samples:    samples,
		SampleRate: decoder.SampleRate,
		Channels:   channels,
	}, nil
}

// readSample decodes one little-endian signed sample
func readSample(b []byte, width int) int32 {
	switch width {
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return v << 8 >> 8
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}

func sampleDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

func loudest(frame []int, divisor float32) float32 {
	var best int
	for _, v := range frame {
		if abs(v) > abs(best) {
			best = v
		}
	}
	return float32(best) / divisor
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
