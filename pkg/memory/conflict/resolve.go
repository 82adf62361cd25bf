package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/synaptiq/engram/pkg/memory/model"
	"github.com/synaptiq/engram/pkg/memory/store"
)

// ErrWriteConflict reports that a matched record vanished between
// classification and commit; the caller should re-fetch candidates and
// classify again.
var ErrWriteConflict = errors.New("concurrent write collision")

// Outcome is what a resolution committed.
type Outcome struct {
	// Committed is the record now canonical for the draft's key: the draft
	// itself, or the boosted existing record for duplicates.
	Committed model.MemoryRecord
	// Discarded is true when the draft was dropped in favor of an existing
	// record.
	Discarded bool
	// Superseded lists the ids deleted by an overwrite.
	Superseded []string
}

// Resolver executes classifications against the store. Overwrites follow
// insert-before-delete ordering: the new generation is visible before the old
// one disappears, so a concurrent reader always sees at least one of the two
// and picks the higher generation when it sees both.
type Resolver struct {
	Store store.VectorStore
	Index store.EntityIndex
	Clock func() time.Time

	// BoostAmount is added to a duplicate's strength instead of storing the
	// restated draft.
	BoostAmount float64
}

const defaultBoostAmount = 0.1

func NewResolver(vs store.VectorStore, index store.EntityIndex, clock func() time.Time) *Resolver {
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{Store: vs, Index: index, Clock: clock, BoostAmount: defaultBoostAmount}
}

func (r *Resolver) Resolve(ctx context.Context, draft model.MemoryRecord, cls Classification) (Outcome, error) {
	switch cls.Kind {
	case Duplicate:
		return r.boostExisting(ctx, cls)
	case Update, PreferenceContradiction, CategoryPreferenceUpdate:
		return r.overwrite(ctx, draft, cls)
	default:
		return r.insert(ctx, draft)
	}
}

func (r *Resolver) boostExisting(ctx context.Context, cls Classification) (Outcome, error) {
	if len(cls.Matched) == 0 {
		return Outcome{}, fmt.Errorf("duplicate classification with no matched record")
	}
	existing, err := r.Store.Get(ctx, cls.Matched[0].ID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, fmt.Errorf("%w: duplicate target %s vanished", ErrWriteConflict, cls.Matched[0].ID)
	}
	if err != nil {
		return Outcome{}, err
	}
	existing.Strength = clampStrength(existing.Strength + r.BoostAmount)
	existing.LastAccessedAt = r.Clock().UTC()
	if err := r.Store.Upsert(ctx, existing); err != nil {
		return Outcome{}, err
	}
	return Outcome{Committed: existing, Discarded: true}, nil
}

func (r *Resolver) overwrite(ctx context.Context, draft model.MemoryRecord, cls Classification) (Outcome, error) {
	if len(cls.Matched) == 0 {
		return r.insert(ctx, draft)
	}
	var maxGen int64
	oldIDs := make([]string, 0, len(cls.Matched))
	for _, matched := range cls.Matched {
		current, err := r.Store.Get(ctx, matched.ID)
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: matched record %s vanished", ErrWriteConflict, matched.ID)
		}
		if err != nil {
			return Outcome{}, err
		}
		if current.Generation > maxGen {
			maxGen = current.Generation
		}
		oldIDs = append(oldIDs, current.ID)
	}
	draft.Generation = maxGen + 1

	// Insert first. Until the deletes land, readers of this key may see both
	// generations; the read path keeps the higher one.
	if err := r.Store.Upsert(ctx, draft); err != nil {
		return Outcome{}, err
	}
	if r.Index != nil {
		_ = r.Index.Link(ctx, draft)
		_ = r.Index.Supersede(ctx, draft.ID, oldIDs)
	}
	// Missing ids here mean another writer finished the removal; that still
	// satisfies the overwrite.
	if err := r.Store.Delete(ctx, oldIDs...); err != nil {
		return Outcome{}, err
	}
	return Outcome{Committed: draft, Superseded: oldIDs}, nil
}

func (r *Resolver) insert(ctx context.Context, draft model.MemoryRecord) (Outcome, error) {
	if err := r.Store.Upsert(ctx, draft); err != nil {
		return Outcome{}, err
	}
	if r.Index != nil {
		_ = r.Index.Link(ctx, draft)
	}
	return Outcome{Committed: draft}, nil
}

func clampStrength(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s <= 0 {
		return 0.01
	}
	return s
}
