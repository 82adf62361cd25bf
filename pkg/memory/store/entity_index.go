package store

import (
	"context"
	"sync"

	"github.com/synaptiq/engram/pkg/memory/model"
)

// MemoryEntityIndex is the in-process EntityIndex. It mirrors the graph
// shape the Neo4j index persists (entity postings plus supersession edges)
// in two maps, and is the default when no graph database is configured.
type MemoryEntityIndex struct {
	mu         sync.RWMutex
	byEntity   map[string]map[string]struct{}
	entities   map[string][]string
	superseded map[string]string
}

func NewMemoryEntityIndex() *MemoryEntityIndex {
	return &MemoryEntityIndex{
		byEntity:   make(map[string]map[string]struct{}),
		entities:   make(map[string][]string),
		superseded: make(map[string]string),
	}
}

var _ EntityIndex = (*MemoryEntityIndex)(nil)

func (idx *MemoryEntityIndex) Link(_ context.Context, rec model.MemoryRecord) error {
	if rec.ID == "" {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.unlinkLocked(rec.ID)
	idx.entities[rec.ID] = append([]string(nil), rec.Entities...)
	for _, entity := range rec.Entities {
		set, ok := idx.byEntity[entity]
		if !ok {
			set = make(map[string]struct{})
			idx.byEntity[entity] = set
		}
		set[rec.ID] = struct{}{}
	}
	return nil
}

func (idx *MemoryEntityIndex) Unlink(_ context.Context, ids ...string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		idx.unlinkLocked(id)
		delete(idx.superseded, id)
	}
	return nil
}

// Supersede records that newID replaced oldIDs and drops the old postings so
// candidate lookups stop returning stale generations.
func (idx *MemoryEntityIndex) Supersede(_ context.Context, newID string, oldIDs []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, oldID := range oldIDs {
		idx.unlinkLocked(oldID)
		idx.superseded[oldID] = newID
	}
	return nil
}

func (idx *MemoryEntityIndex) RelatedIDs(_ context.Context, entities []string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, entity := range entities {
		for id := range idx.byEntity[entity] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// SupersededBy reports the record that replaced id, if any.
func (idx *MemoryEntityIndex) SupersededBy(id string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	newID, ok := idx.superseded[id]
	return newID, ok
}

func (idx *MemoryEntityIndex) Close() error { return nil }

func (idx *MemoryEntityIndex) unlinkLocked(id string) {
	for _, entity := range idx.entities[id] {
		if set, ok := idx.byEntity[entity]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(idx.byEntity, entity)
			}
		}
	}
	delete(idx.entities, id)
}
