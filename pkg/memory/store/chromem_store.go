package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/synaptiq/engram/pkg/memory/model"
)

// ChromemStore wraps chromem-go, a pure-Go embedded vector database. It is the
// default backend: persistent on disk, no external service, survives process
// restart. Each tier maps to its own collection; a catalog collection with
// constant one-dimensional embeddings carries the metadata needed for listing,
// recency, and counting, since chromem only answers vector queries.
type ChromemStore struct {
	db      *chromem.DB
	mu      sync.RWMutex
	tiers   map[model.Tier]*chromem.Collection
	catalog *chromem.Collection
}

const catalogCollection = "engram_catalog"

var catalogProbe = []float32{1}

// NewChromemStore creates an in-process, non-persistent store.
func NewChromemStore() (*ChromemStore, error) {
	return newChromemStore(chromem.NewDB())
}

// NewPersistentChromemStore creates or reopens a store persisted under path.
func NewPersistentChromemStore(path string, compress bool) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem open: %v", ErrUnavailable, err)
	}
	return newChromemStore(db)
}

func newChromemStore(db *chromem.DB) (*ChromemStore, error) {
	s := &ChromemStore{db: db, tiers: make(map[model.Tier]*chromem.Collection)}
	catalog, err := db.GetOrCreateCollection(catalogCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem catalog: %v", ErrUnavailable, err)
	}
	s.catalog = catalog
	return s, nil
}

func (s *ChromemStore) collection(tier model.Tier) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.tiers[tier]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.tiers[tier]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection("engram_"+string(tier), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem collection %s: %v", ErrUnavailable, tier, err)
	}
	s.tiers[tier] = col
	return col, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, rec model.MemoryRecord) error {
	col, err := s.collection(rec.Tier)
	if err != nil {
		return err
	}
	// Replace-by-id; a record that moved tiers must not linger in the old one.
	if old, err := s.catalogEntry(ctx, rec.ID); err == nil && old.Tier != rec.Tier {
		if oldCol, cErr := s.collection(old.Tier); cErr == nil {
			_ = oldCol.Delete(ctx, nil, nil, rec.ID)
		}
	}
	_ = col.Delete(ctx, nil, nil, rec.ID)
	_ = s.catalog.Delete(ctx, nil, nil, rec.ID)

	if err := col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Embedding,
		Metadata:  model.RecordToStringMeta(rec),
	}); err != nil {
		return fmt.Errorf("%w: chromem add: %v", ErrUnavailable, err)
	}
	if err := s.catalog.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: catalogProbe,
		Metadata:  model.RecordToStringMeta(rec),
	}); err != nil {
		return fmt.Errorf("%w: chromem catalog add: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, tier model.Tier, embedding []float32, k int) ([]model.MemoryRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	col, err := s.collection(tier)
	if err != nil {
		return nil, err
	}
	results, err := queryShrinking(ctx, col, embedding, k, nil)
	if err != nil {
		return nil, err
	}
	records := make([]model.MemoryRecord, 0, len(results))
	for _, res := range results {
		rec := model.RecordFromStringMeta(res.ID, res.Content, res.Embedding, res.Metadata)
		rec.Score = float64(res.Similarity)
		records = append(records, rec)
	}
	return records, nil
}

func (s *ChromemStore) Get(ctx context.Context, id string) (model.MemoryRecord, error) {
	entry, err := s.catalogEntry(ctx, id)
	if err != nil {
		return model.MemoryRecord{}, err
	}
	col, err := s.collection(entry.Tier)
	if err != nil {
		return model.MemoryRecord{}, err
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return model.MemoryRecord{}, ErrNotFound
	}
	return model.RecordFromStringMeta(doc.ID, doc.Content, doc.Embedding, doc.Metadata), nil
}

func (s *ChromemStore) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		entry, err := s.catalogEntry(ctx, id)
		if err != nil {
			continue // already gone
		}
		if col, cErr := s.collection(entry.Tier); cErr == nil {
			_ = col.Delete(ctx, nil, nil, id)
		}
		_ = s.catalog.Delete(ctx, nil, nil, id)
	}
	return nil
}

func (s *ChromemStore) ByEntity(ctx context.Context, tier model.Tier, entity string, limit int) ([]model.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := s.catalogScan(ctx, &tier)
	if err != nil {
		return nil, err
	}
	out := make([]model.MemoryRecord, 0, limit)
	for _, entry := range entries {
		if !entry.SharesEntity([]string{entity}) {
			continue
		}
		if full, err := s.Get(ctx, entry.ID); err == nil {
			out = append(out, full)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *ChromemStore) Recent(ctx context.Context, tier model.Tier, limit int) ([]model.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := s.catalogScan(ctx, &tier)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]model.MemoryRecord, 0, len(entries))
	for _, entry := range entries {
		if full, err := s.Get(ctx, entry.ID); err == nil {
			out = append(out, full)
		}
	}
	return out, nil
}

func (s *ChromemStore) Iterate(ctx context.Context, fn func(model.MemoryRecord) bool) error {
	entries, err := s.catalogScan(ctx, nil)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	for _, entry := range entries {
		// Catalog entries carry everything except the embedding, which the
		// decay sweep does not need.
		if !fn(entry) {
			break
		}
	}
	return nil
}

func (s *ChromemStore) Count(ctx context.Context, tier model.Tier) (int, error) {
	entries, err := s.catalogScan(ctx, &tier)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *ChromemStore) Close() error { return nil }

func (s *ChromemStore) catalogEntry(ctx context.Context, id string) (model.MemoryRecord, error) {
	doc, err := s.catalog.GetByID(ctx, id)
	if err != nil {
		return model.MemoryRecord{}, ErrNotFound
	}
	return model.RecordFromStringMeta(doc.ID, doc.Content, nil, doc.Metadata), nil
}

func (s *ChromemStore) catalogScan(ctx context.Context, tier *model.Tier) ([]model.MemoryRecord, error) {
	total := s.catalog.Count()
	if total == 0 {
		return nil, nil
	}
	var where map[string]string
	if tier != nil {
		where = map[string]string{"tier": string(*tier)}
	}
	results, err := queryShrinking(ctx, s.catalog, catalogProbe, total, where)
	if err != nil {
		return nil, err
	}
	entries := make([]model.MemoryRecord, 0, len(results))
	for _, res := range results {
		entries = append(entries, model.RecordFromStringMeta(res.ID, res.Content, nil, res.Metadata))
	}
	return entries, nil
}

// queryShrinking retries with smaller limits because chromem rejects queries
// asking for more results than the collection holds.
func queryShrinking(ctx context.Context, col *chromem.Collection, embedding []float32, limit int, where map[string]string) ([]chromem.Result, error) {
	if max := col.Count(); limit > max {
		limit = max
	}
	for ; limit >= 1; limit-- {
		results, err := col.QueryEmbedding(ctx, embedding, limit, where, nil)
		if err == nil {
			return results, nil
		}
		if isInsufficientDocsError(err) {
			continue
		}
		return nil, fmt.Errorf("%w: chromem query: %v", ErrUnavailable, err)
	}
	return nil, nil
}

func isInsufficientDocsError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "nResults")
}
