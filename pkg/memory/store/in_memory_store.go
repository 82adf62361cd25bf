package store

import (
	"context"
	"sort"
	"sync"

	"github.com/synaptiq/engram/pkg/memory/model"
)

// InMemoryStore is the reference VectorStore used by tests and by agents that
// do not need persistence. Exact cosine scan; fine for conversational scale.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[string]model.MemoryRecord
	byEntity map[string]map[string]struct{} // entity -> record ids
	order    []string                       // insertion order for Iterate/Recent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:  make(map[string]model.MemoryRecord),
		byEntity: make(map[string]map[string]struct{}),
	}
}

func (s *InMemoryStore) Upsert(_ context.Context, rec model.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.records[rec.ID]; ok {
		s.unlinkLocked(old)
	} else {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	for _, entity := range rec.Entities {
		ids, ok := s.byEntity[entity]
		if !ok {
			ids = make(map[string]struct{})
			s.byEntity[entity] = ids
		}
		ids[rec.ID] = struct{}{}
	}
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, tier model.Tier, embedding []float32, k int) ([]model.MemoryRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	scored := make([]model.MemoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Tier != tier {
			continue
		}
		cp := rec.Clone()
		cp.Score = model.CosineSimilarity(embedding, rec.Embedding)
		scored = append(scored, cp)
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return model.MemoryRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) Delete(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		s.unlinkLocked(rec)
		delete(s.records, id)
		for i, ordered := range s.order {
			if ordered == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *InMemoryStore) ByEntity(_ context.Context, tier model.Tier, entity string, limit int) ([]model.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MemoryRecord, 0, limit)
	for id := range s.byEntity[entity] {
		rec, ok := s.records[id]
		if !ok || rec.Tier != tier {
			continue
		}
		out = append(out, rec.Clone())
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) Recent(_ context.Context, tier model.Tier, limit int) ([]model.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MemoryRecord, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		rec, ok := s.records[s.order[i]]
		if !ok || rec.Tier != tier {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *InMemoryStore) Iterate(_ context.Context, fn func(model.MemoryRecord) bool) error {
	s.mu.RLock()
	snapshot := make([]model.MemoryRecord, 0, len(s.order))
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok {
			snapshot = append(snapshot, rec.Clone())
		}
	}
	s.mu.RUnlock()
	for _, rec := range snapshot {
		if !fn(rec) {
			break
		}
	}
	return nil
}

func (s *InMemoryStore) Count(_ context.Context, tier model.Tier) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.Tier == tier {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) unlinkLocked(rec model.MemoryRecord) {
	for _, entity := range rec.Entities {
		if ids, ok := s.byEntity[entity]; ok {
			delete(ids, rec.ID)
			if len(ids) == 0 {
				delete(s.byEntity, entity)
			}
		}
	}
}
