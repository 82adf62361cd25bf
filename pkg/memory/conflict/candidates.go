package conflict

import (
	"context"
	"sort"

	"github.com/synaptiq/engram/pkg/memory/model"
	"github.com/synaptiq/engram/pkg/memory/store"
)

// Retriever assembles the candidate set a new fact is classified against.
// Candidates come from three sources: entity-overlap lookups, a loose
// similarity query (so differently-worded conflicts are not missed), and the
// optional entity graph. Only conflict tiers are searched; short-term and
// working records are never overwrite targets.
type Retriever struct {
	Store store.VectorStore
	Index store.EntityIndex

	// K bounds the candidate set.
	K int
	// CandidateDistance is the loose recall bar for the similarity source.
	CandidateDistance float64
	// PerEntityLimit bounds each ByEntity lookup.
	PerEntityLimit int
}

const (
	defaultCandidateK     = 8
	defaultPerEntityLimit = 16
)

func NewRetriever(vs store.VectorStore, index store.EntityIndex, k int, candidateDistance float64) *Retriever {
	if k <= 0 {
		k = defaultCandidateK
	}
	if candidateDistance <= 0 {
		candidateDistance = DefaultThresholds().CandidateDistance
	}
	return &Retriever{
		Store:             vs,
		Index:             index,
		K:                 k,
		CandidateDistance: candidateDistance,
		PerEntityLimit:    defaultPerEntityLimit,
	}
}

// Find returns up to K candidate records ordered by ascending distance to
// embedding. Store errors propagate so the write path can degrade explicitly.
func (r *Retriever) Find(ctx context.Context, embedding []float32, entities []string) ([]model.MemoryRecord, error) {
	seen := make(map[string]model.MemoryRecord)

	for _, tier := range model.ConflictTiers() {
		for _, entity := range entities {
			records, err := r.Store.ByEntity(ctx, tier, entity, r.PerEntityLimit)
			if err != nil {
				return nil, err
			}
			for _, rec := range records {
				seen[rec.ID] = rec
			}
		}

		records, err := r.Store.Query(ctx, tier, embedding, r.K)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if model.CosineDistance(embedding, rec.Embedding) <= r.CandidateDistance {
				seen[rec.ID] = rec
			}
		}
	}

	if r.Index != nil && len(entities) > 0 {
		ids, err := r.Index.RelatedIDs(ctx, entities, r.K)
		if err == nil {
			for _, id := range ids {
				if _, ok := seen[id]; ok {
					continue
				}
				rec, getErr := r.Store.Get(ctx, id)
				if getErr != nil {
					continue // index may lag behind deletions
				}
				if rec.Tier.ConflictEligible() {
					seen[rec.ID] = rec
				}
			}
		}
	}

	candidates := make([]model.MemoryRecord, 0, len(seen))
	for _, rec := range seen {
		candidates = append(candidates, rec)
	}
	sort.Slice(candidates, func(i, j int) bool {
		di := model.CosineDistance(embedding, candidates[i].Embedding)
		dj := model.CosineDistance(embedding, candidates[j].Embedding)
		if di != dj {
			return di < dj
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > r.K {
		candidates = candidates[:r.K]
	}
	return candidates, nil
}
