package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/synaptiq/engram/pkg/concurrent"
	"github.com/synaptiq/engram/pkg/memory/model"
)

// ScoredRecord is a retrieved record with its merged rank score.
type ScoredRecord struct {
	model.MemoryRecord
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

// Bundle is the result of one retrieval pass across all tiers.
type Bundle struct {
	Records []ScoredRecord `json:"records"`
	// Degraded lists tiers that errored or missed their deadline and so
	// contributed nothing to the merge.
	Degraded []model.Tier `json:"degraded,omitempty"`
	// RecencyOnly is true when the embedder was unavailable and results were
	// ranked without similarity.
	RecencyOnly bool `json:"recency_only,omitempty"`
}

// Retrieve queries every tier in parallel and merges the results into a
// single ranked list of at most topN records. Each tier runs under its own
// deadline; a slow or failing tier degrades the bundle instead of failing it.
// Returned records are queued for an asynchronous strength boost.
func (m *Manager) Retrieve(ctx context.Context, query string, topN int) (Bundle, error) {
	if m.store == nil {
		return Bundle{}, ErrNoStore
	}
	if topN <= 0 {
		topN = m.opts.TopN
	}
	normalized := normalizeTurn(query)
	if normalized == "" {
		return Bundle{}, nil
	}
	m.metrics.IncRetrieval()

	embedding, err := m.embedder.Embed(ctx, normalized)
	recencyOnly := false
	if err != nil {
		m.metrics.IncEmbedFailure()
		m.logf("retrieval degraded to recency ranking, embedding unavailable: %v", err)
		recencyOnly = true
		embedding = nil
	}

	overfetch := topN * m.opts.OverfetchFactor
	tiers := model.Tiers()
	perTier, errs := concurrent.ParallelMapSettled(ctx, tiers, func(tier model.Tier) ([]model.MemoryRecord, error) {
		tctx, cancel := context.WithTimeout(ctx, m.opts.tierPolicy(tier).Timeout)
		defer cancel()
		// The short-term tier is a conversation window; recency is its only
		// meaningful order. The other tiers rank by similarity when we have a
		// query vector.
		if tier == model.ShortTerm || recencyOnly {
			return m.store.Recent(tctx, tier, overfetch)
		}
		return m.store.Query(tctx, tier, embedding, overfetch)
	}, len(tiers))

	bundle := Bundle{RecencyOnly: recencyOnly}
	var merged []model.MemoryRecord
	for i, records := range perTier {
		if errs[i] != nil {
			bundle.Degraded = append(bundle.Degraded, tiers[i])
			m.metrics.IncDegradedTierRead()
			m.logf("tier %s degraded: %v", tiers[i], errs[i])
			continue
		}
		merged = append(merged, records...)
	}

	now := m.clock().UTC()
	scored := m.scoreRecords(merged, embedding, now, recencyOnly)
	scored = dedupeGenerations(scored)
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	scored = m.dedupeNearIdentical(scored, topN)

	bundle.Records = scored
	m.metrics.IncRetrieved(len(scored))
	if len(scored) > 0 {
		ids := make([]string, 0, len(scored))
		for _, rec := range scored {
			ids = append(ids, rec.ID)
		}
		m.noteAccess(ids)
	}
	return bundle, nil
}

// scoreRecords ranks records by the weighted blend of similarity, recency,
// tier priority and effective strength.
func (m *Manager) scoreRecords(records []model.MemoryRecord, embedding []float32, now time.Time, recencyOnly bool) []ScoredRecord {
	weights := m.opts.normalizedWeights()
	if recencyOnly {
		weights.Similarity = 0
		total := weights.Recency + weights.TierPriority + weights.Strength
		if total > 0 {
			weights.Recency /= total
			weights.TierPriority /= total
			weights.Strength /= total
		}
	}

	scored := make([]ScoredRecord, 0, len(records))
	for _, rec := range records {
		policy := m.opts.tierPolicy(rec.Tier)
		sim := 0.0
		if !recencyOnly && len(rec.Embedding) > 0 {
			sim = clamp01((model.CosineSimilarity(embedding, rec.Embedding) + 1) / 2)
		}
		score := weights.Similarity*sim +
			weights.Recency*recencyScore(rec, now, policy.HalfLife) +
			weights.TierPriority*rec.Tier.Priority() +
			weights.Strength*effectiveStrength(rec, now, policy.HalfLife)
		scored = append(scored, ScoredRecord{MemoryRecord: rec, Score: score, Similarity: sim})
	}
	return scored
}

// dedupeGenerations keeps only the newest generation per canonical
// (entity, category) slot, so a reader racing an overwrite never sees both
// the old and the new fact. Category-less records hold no slot and pass
// through.
func dedupeGenerations(records []ScoredRecord) []ScoredRecord {
	best := make(map[string]int, len(records))
	out := records[:0]
	for _, rec := range records {
		key := rec.Key()
		if key == "" || rec.Category == "" || !rec.Tier.ConflictEligible() {
			out = append(out, rec)
			continue
		}
		idx, seen := best[key]
		if !seen {
			best[key] = len(out)
			out = append(out, rec)
			continue
		}
		prev := out[idx]
		if rec.Generation > prev.Generation ||
			(rec.Generation == prev.Generation && rec.Score > prev.Score) {
			out[idx] = rec
		}
	}
	return out
}

// dedupeNearIdentical drops records whose embedding nearly matches an
// already kept higher-ranked record, then truncates to topN. Records without
// embeddings are kept as-is.
func (m *Manager) dedupeNearIdentical(records []ScoredRecord, topN int) []ScoredRecord {
	kept := make([]ScoredRecord, 0, topN)
	for _, rec := range records {
		if len(kept) >= topN {
			break
		}
		dup := false
		if len(rec.Embedding) > 0 {
			for _, prev := range kept {
				if len(prev.Embedding) == 0 {
					continue
				}
				if model.CosineSimilarity(rec.Embedding, prev.Embedding) >= m.opts.DedupSimilarity {
					dup = true
					break
				}
			}
		}
		if !dup {
			kept = append(kept, rec)
		}
	}
	return kept
}

// recencyScore halves for every half-life elapsed since the record was last
// touched.
func recencyScore(rec model.MemoryRecord, now time.Time, halfLife time.Duration) float64 {
	ref := rec.LastAccessedAt
	if ref.IsZero() {
		ref = rec.CreatedAt
	}
	if ref.IsZero() || halfLife <= 0 {
		return 0
	}
	age := now.Sub(ref)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Seconds()/halfLife.Seconds())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
