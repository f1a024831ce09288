package waveform

import (
	"context"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/blobcache"
)

// BlobSource supplies media bytes. *blobcache.Cache satisfies it.
type BlobSource interface {
	GetOrFetch(ctx context.Context, url string, priority blobcache.Priority) ([]byte, error)
}

// NewExtractor reads media through blobs, decodes it and computes peaks
func NewExtractor(blobs BlobSource) Extractor {
	return ExtractorFunc(func(ctx context.Context, url string, samples int) ([]float32, error) {
		data, err := blobs.GetOrFetch(ctx, url, blobcache.Medium)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Summarize(data, samples)
	})
}

// Summarize decodes an encoded audio file and returns samples peaks
func Summarize(data []byte, samples int) ([]float32, error) {
	pcm, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Peaks(pcm.Samples, samples), nil
}
