// Package concurrent provides the small fan-out primitives the retrieval
// engine and the decay sweeper are built on.
package concurrent

import (
	"context"
	"sync"
)

// WorkerPool bounds concurrent operations with a semaphore channel.
type WorkerPool struct {
	maxWorkers int
	sem        chan struct{}
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		sem:        make(chan struct{}, maxWorkers),
	}
}

// Do runs fn once a worker slot is free, or fails with the context error.
func (wp *WorkerPool) Do(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case wp.sem <- struct{}{}:
		defer func() { <-wp.sem }()
		return fn()
	}
}

// ParallelMap runs fn over items with bounded concurrency and returns the
// results in input order. The first error wins.
func ParallelMap[T, R any](ctx context.Context, items []T, fn func(T) (R, error), maxConcurrency int) ([]R, error) {
	results, errs := ParallelMapSettled(ctx, items, fn, maxConcurrency)
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// ParallelMapSettled runs fn over items with bounded concurrency and returns
// every result and every error, index-aligned with the input. No error short
// circuits the rest; callers that can degrade gracefully inspect the error
// slice and keep whatever succeeded.
func ParallelMapSettled[T, R any](ctx context.Context, items []T, fn func(T) (R, error), maxConcurrency int) ([]R, []error) {
	if len(items) == 0 {
		return nil, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrency)
	for i, item := range items {
		wg.Add(1)
		go func(idx int, val T) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
				results[idx], errs[idx] = fn(val)
			}
		}(i, item)
	}
	wg.Wait()
	return results, errs
}

// ParallelForEach runs fn over items with bounded concurrency and returns the
// first error, if any.
func ParallelForEach[T any](ctx context.Context, items []T, fn func(T) error, maxConcurrency int) error {
	_, errs := ParallelMapSettled(ctx, items, func(item T) (struct{}, error) {
		return struct{}{}, fn(item)
	}, maxConcurrency)
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
