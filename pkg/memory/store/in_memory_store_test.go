package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/synaptiq/engram/pkg/memory/model"
)

func testRecord(id string, tier model.Tier, text string, embedding []float32, entities ...string) model.MemoryRecord {
	return model.MemoryRecord{
		ID:             id,
		Text:           text,
		Embedding:      embedding,
		Tier:           tier,
		Entities:       entities,
		Category:       "food",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LastAccessedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Strength:       1.0,
	}
}

func seedStore(t *testing.T, s *InMemoryStore, records ...model.MemoryRecord) {
	t.Helper()
	for _, rec := range records {
		if err := s.Upsert(context.Background(), rec); err != nil {
			t.Fatalf("upsert %s: %v", rec.ID, err)
		}
	}
}

func TestInMemoryStoreQueryRanksBySimilarity(t *testing.T) {
	s := NewInMemoryStore()
	seedStore(t, s,
		testRecord("a", model.LongTerm, "likes sushi", []float32{1, 0, 0}, "user"),
		testRecord("b", model.LongTerm, "plays chess", []float32{0, 1, 0}, "user"),
		testRecord("c", model.ShortTerm, "said hello", []float32{1, 0, 0}, "user"),
	)

	got, err := s.Query(context.Background(), model.LongTerm, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 long-term records, got %d", len(got))
	}
	if got[0].ID != "a" {
		t.Fatalf("expected closest record first, got %s", got[0].ID)
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("scores not descending: %v then %v", got[0].Score, got[1].Score)
	}
}

func TestInMemoryStoreUpsertReplacesAndReindexes(t *testing.T) {
	s := NewInMemoryStore()
	seedStore(t, s, testRecord("a", model.LongTerm, "likes sushi", []float32{1, 0, 0}, "alice"))

	updated := testRecord("a", model.LongTerm, "likes ramen", []float32{0, 1, 0}, "bob")
	seedStore(t, s, updated)

	if n, _ := s.Count(context.Background(), model.LongTerm); n != 1 {
		t.Fatalf("expected 1 record after replace, got %d", n)
	}
	byAlice, err := s.ByEntity(context.Background(), model.LongTerm, "alice", 10)
	if err != nil {
		t.Fatalf("by entity: %v", err)
	}
	if len(byAlice) != 0 {
		t.Fatalf("stale entity postings survived replace: %#v", byAlice)
	}
	byBob, _ := s.ByEntity(context.Background(), model.LongTerm, "bob", 10)
	if len(byBob) != 1 || byBob[0].Text != "likes ramen" {
		t.Fatalf("expected replaced record under new entity, got %#v", byBob)
	}
}

func TestInMemoryStoreRecentNewestFirst(t *testing.T) {
	s := NewInMemoryStore()
	seedStore(t, s,
		testRecord("a", model.ShortTerm, "first", []float32{1, 0}, "user"),
		testRecord("b", model.ShortTerm, "second", []float32{0, 1}, "user"),
		testRecord("c", model.ShortTerm, "third", []float32{1, 1}, "user"),
	)

	got, err := s.Recent(context.Background(), model.ShortTerm, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected recent order: %#v", got)
	}
}

func TestInMemoryStoreDeleteMissingIsNoop(t *testing.T) {
	s := NewInMemoryStore()
	seedStore(t, s, testRecord("a", model.LongTerm, "likes sushi", []float32{1, 0}, "user"))

	if err := s.Delete(context.Background(), "a", "ghost"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(context.Background(), "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestInMemoryStoreIterateStopsEarly(t *testing.T) {
	s := NewInMemoryStore()
	seedStore(t, s,
		testRecord("a", model.LongTerm, "one", []float32{1, 0}, "user"),
		testRecord("b", model.LongTerm, "two", []float32{0, 1}, "user"),
	)

	var visited []string
	err := s.Iterate(context.Background(), func(rec model.MemoryRecord) bool {
		visited = append(visited, rec.ID)
		return false
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(visited) != 1 || visited[0] != "a" {
		t.Fatalf("expected iteration to stop after first record, got %v", visited)
	}
}

func TestInMemoryStoreStoredRecordsDoNotAlias(t *testing.T) {
	s := NewInMemoryStore()
	rec := testRecord("a", model.LongTerm, "likes sushi", []float32{1, 0}, "user")
	seedStore(t, s, rec)

	rec.Embedding[0] = 42
	got, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Embedding[0] == 42 {
		t.Fatalf("stored embedding aliases caller slice")
	}
}
