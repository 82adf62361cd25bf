package store

import (
	"context"
	"testing"

	"github.com/synaptiq/engram/pkg/memory/model"
)

func TestMemoryEntityIndexLinkAndRelated(t *testing.T) {
	idx := NewMemoryEntityIndex()
	ctx := context.Background()

	link(t, idx, "a", "alice", "sushi")
	link(t, idx, "b", "alice")
	link(t, idx, "c", "bob")

	ids, err := idx.RelatedIDs(ctx, []string{"alice"}, 10)
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 records for alice, got %v", ids)
	}

	ids, _ = idx.RelatedIDs(ctx, []string{"alice", "bob"}, 2)
	if len(ids) != 2 {
		t.Fatalf("limit not honored: %v", ids)
	}
}

func TestMemoryEntityIndexRelinkDropsOldEntities(t *testing.T) {
	idx := NewMemoryEntityIndex()
	ctx := context.Background()

	link(t, idx, "a", "alice")
	link(t, idx, "a", "bob")

	ids, _ := idx.RelatedIDs(ctx, []string{"alice"}, 10)
	if len(ids) != 0 {
		t.Fatalf("stale posting after relink: %v", ids)
	}
	ids, _ = idx.RelatedIDs(ctx, []string{"bob"}, 10)
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("expected record under new entity, got %v", ids)
	}
}

func TestMemoryEntityIndexSupersede(t *testing.T) {
	idx := NewMemoryEntityIndex()
	ctx := context.Background()

	link(t, idx, "old", "alice")
	link(t, idx, "new", "alice")
	if err := idx.Supersede(ctx, "new", []string{"old"}); err != nil {
		t.Fatalf("supersede: %v", err)
	}

	ids, _ := idx.RelatedIDs(ctx, []string{"alice"}, 10)
	if len(ids) != 1 || ids[0] != "new" {
		t.Fatalf("superseded record still listed: %v", ids)
	}
	if by, ok := idx.SupersededBy("old"); !ok || by != "new" {
		t.Fatalf("missing supersession edge, got %q %v", by, ok)
	}
}

func TestMemoryEntityIndexUnlink(t *testing.T) {
	idx := NewMemoryEntityIndex()
	ctx := context.Background()

	link(t, idx, "a", "alice")
	if err := idx.Unlink(ctx, "a", "ghost"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	ids, _ := idx.RelatedIDs(ctx, []string{"alice"}, 10)
	if len(ids) != 0 {
		t.Fatalf("posting survived unlink: %v", ids)
	}
}

func link(t *testing.T, idx *MemoryEntityIndex, id string, entities ...string) {
	t.Helper()
	rec := model.MemoryRecord{ID: id, Tier: model.LongTerm, Entities: entities}
	if err := idx.Link(context.Background(), rec); err != nil {
		t.Fatalf("link %s: %v", id, err)
	}
}
