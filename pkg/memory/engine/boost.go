package engine

import (
	"context"
	"sync"
)

// boostQueue collects ids of recalled records so their strength boosts can be
// applied in batches off the retrieval path.
type boostQueue struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func newBoostQueue() *boostQueue {
	return &boostQueue{pending: make(map[string]struct{})}
}

// add enqueues ids and, when the threshold is crossed, drains and returns the
// batch for immediate application.
func (q *boostQueue) add(ids []string, threshold int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.pending[id] = struct{}{}
	}
	if threshold > 0 && len(q.pending) >= threshold {
		return q.drainLocked()
	}
	return nil
}

func (q *boostQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked()
}

func (q *boostQueue) drainLocked() []string {
	if len(q.pending) == 0 {
		return nil
	}
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	q.pending = make(map[string]struct{})
	return ids
}

// noteAccess queues recalled ids for a strength boost. A full batch is
// applied asynchronously so retrieval never waits on writes.
func (m *Manager) noteAccess(ids []string) {
	batch := m.boosts.add(ids, m.opts.BoostFlushSize)
	if batch == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.applyBoosts(context.Background(), batch)
	}()
}

// FlushBoosts applies all queued boosts synchronously. The background flusher
// calls it on a timer; tests call it for determinism.
func (m *Manager) FlushBoosts(ctx context.Context) {
	m.applyBoosts(ctx, m.boosts.drain())
}

func (m *Manager) applyBoosts(ctx context.Context, ids []string) {
	if len(ids) == 0 || m.store == nil {
		return
	}
	now := m.clock().UTC()
	applied := 0
	for _, id := range ids {
		rec, err := m.store.Get(ctx, id)
		if err != nil {
			// Evicted or superseded between recall and flush; nothing to boost.
			continue
		}
		rec.Strength = clamp01(rec.Strength + m.opts.AccessBoost)
		rec.LastAccessedAt = now
		if err := m.store.Upsert(ctx, rec); err != nil {
			m.logf("boost %s: %v", id, err)
			continue
		}
		applied++
	}
	if applied > 0 {
		m.metrics.IncBoostsApplied(applied)
	}
}
