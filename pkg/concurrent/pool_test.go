package concurrent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParallelMapOrderAndConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	results, err := ParallelMap(context.Background(), items, func(n int) (int, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return n * 2, nil
	}, 2)
	if err != nil {
		t.Fatalf("parallel map: %v", err)
	}
	for i, n := range items {
		if results[i] != n*2 {
			t.Fatalf("result %d = %d, want %d", i, results[i], n*2)
		}
	}
	if peak.Load() > 2 {
		t.Fatalf("concurrency bound exceeded: %d", peak.Load())
	}
}

func TestParallelMapSettledKeepsPartialResults(t *testing.T) {
	boom := errors.New("boom")
	results, errs := ParallelMapSettled(context.Background(), []int{1, 2, 3}, func(n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	}, 3)
	if errs[0] != nil || errs[2] != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !errors.Is(errs[1], boom) {
		t.Fatalf("expected boom at index 1, got %v", errs[1])
	}
	if results[0] != 1 || results[2] != 3 {
		t.Fatalf("successful results lost: %v", results)
	}
}

func TestParallelForEachPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := ParallelForEach(context.Background(), []int{1, 2, 3}, func(n int) error {
		if n == 3 {
			return boom
		}
		return nil
	}, 2)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestWorkerPoolHonorsContext(t *testing.T) {
	wp := NewWorkerPool(1)
	release := make(chan struct{})
	go wp.Do(context.Background(), func() error {
		<-release
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := wp.Do(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	close(release)
}
