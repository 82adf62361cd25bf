//go:build !fastembed

package embed

import (
	"context"
	"fmt"
)

type FastEmbedOptions struct {
	CacheDir  string
	MaxLength int
	BatchSize int
}

func defaultFastEmbedOptions() *FastEmbedOptions { return nil }

type FastEmbedder struct{}

func NewFastEmbedder(ctx context.Context, opt *FastEmbedOptions) (Embedder, error) {
	return nil, fmt.Errorf("fastembed support not included; rebuild with -tags fastembed")
}

func (FastEmbedder) Close() error { return nil }

func (FastEmbedder) Embed(ctx context.Context, q string) ([]float32, error) {
	return nil, fmt.Errorf("fastembed support not included")
}
