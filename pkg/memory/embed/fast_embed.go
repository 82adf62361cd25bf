//go:build fastembed

package embed

import (
	"context"
	"fmt"
	"runtime"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedOptions configures the local ONNX embedding model.
type FastEmbedOptions struct {
	Model     fastembed.EmbeddingModel // zero value picks bge-small-en-v1.5
	CacheDir  string                   // e.g. ".fastembed"
	MaxLength int                      // token limit, 0 = default
	BatchSize int
}

func defaultFastEmbedOptions() *FastEmbedOptions { return &FastEmbedOptions{} }

type FastEmbedder struct {
	m  *fastembed.FlagEmbedding
	bs int
}

// NewFastEmbedder loads a local embedding model. No network calls at embed
// time, which makes it the preferred provider for offline agents.
func NewFastEmbedder(ctx context.Context, opt *FastEmbedOptions) (Embedder, error) {
	var init *fastembed.InitOptions
	if opt != nil {
		init = &fastembed.InitOptions{
			Model:     opt.Model,
			CacheDir:  opt.CacheDir,
			MaxLength: opt.MaxLength,
		}
	}
	m, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, fmt.Errorf("%w: fastembed: %v", ErrUnavailable, err)
	}
	// Batch heuristic: keep it modest for desktop CPUs.
	bs := 64
	if opt != nil && opt.BatchSize > 0 {
		bs = opt.BatchSize
	}
	if bs > 4*runtime.GOMAXPROCS(0) {
		bs = 4 * runtime.GOMAXPROCS(0)
	}
	return &FastEmbedder{m: m, bs: bs}, nil
}

func (e *FastEmbedder) Close() error {
	if e.m != nil {
		e.m.Destroy()
	}
	return nil
}

func (e *FastEmbedder) Embed(ctx context.Context, q string) ([]float32, error) {
	return e.m.QueryEmbed(q)
}
