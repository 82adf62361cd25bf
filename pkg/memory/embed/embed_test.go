package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestDummyEmbeddingDeterministic(t *testing.T) {
	a := DummyEmbedding("hello world")
	b := DummyEmbedding("hello world")
	if len(a) != 256 || len(b) != 256 {
		t.Fatalf("unexpected dimensions: %d %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("dummy embedding not deterministic at %d", i)
		}
	}
	c := DummyEmbedding("different text")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts should not produce identical vectors")
	}
}

type countingEmbedder struct {
	calls atomic.Int64
	fail  bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, ErrUnavailable
	}
	return DummyEmbedding(text), nil
}

func TestCachedEmbedderMemoizes(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 1<<20)
	if err != nil {
		t.Fatalf("new cached embedder: %v", err)
	}
	defer cached.Close()
	ctx := context.Background()

	first, err := cached.Embed(ctx, "likes apples")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	cached.Wait()

	second, err := cached.Embed(ctx, "likes apples")
	if err != nil {
		t.Fatalf("embed cached: %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("expected one provider call, got %d", inner.calls.Load())
	}
	if len(first) != len(second) {
		t.Fatalf("cached vector length mismatch: %d vs %d", len(first), len(second))
	}

	// Returned slices must not alias the cached copy.
	second[0] = 42
	third, _ := cached.Embed(ctx, "likes apples")
	if third[0] == 42 {
		t.Fatal("cache returned an aliased slice")
	}
}

func TestCachedEmbedderPropagatesErrors(t *testing.T) {
	inner := &countingEmbedder{fail: true}
	cached, err := NewCachedEmbedder(inner, 1<<20)
	if err != nil {
		t.Fatalf("new cached embedder: %v", err)
	}
	defer cached.Close()

	if _, err := cached.Embed(context.Background(), "anything"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAutoEmbedderFallsBack(t *testing.T) {
	t.Setenv("ENGRAM_EMBED_PROVIDER", "")
	e := AutoEmbedder()
	if _, ok := e.(DummyEmbedder); !ok {
		t.Fatalf("expected dummy fallback, got %T", e)
	}
}
