package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/synaptiq/engram/pkg/memory/conflict"
	"github.com/synaptiq/engram/pkg/memory/model"
)

// DigestCategory keys the rolling conversation digest, so each new digest
// supersedes the previous one instead of piling up.
const DigestCategory = "conversation-digest"

// Summarizer condenses a batch of memories into one digest line.
type Summarizer interface {
	Summarize(ctx context.Context, records []model.MemoryRecord) (string, error)
}

// HeuristicSummarizer joins record texts into a clause list. It is the
// zero-dependency fallback when no model-backed summarizer is configured.
type HeuristicSummarizer struct {
	// MaxLen truncates the digest; 0 means the default of 280.
	MaxLen int
}

func (h HeuristicSummarizer) Summarize(_ context.Context, records []model.MemoryRecord) (string, error) {
	maxLen := h.MaxLen
	if maxLen <= 0 {
		maxLen = 280
	}
	parts := make([]string, 0, len(records))
	for _, rec := range records {
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			continue
		}
		parts = append(parts, strings.TrimRight(text, "."))
	}
	if len(parts) == 0 {
		return "", nil
	}
	digest := strings.Join(parts, "; ")
	if len(digest) > maxLen {
		digest = strings.TrimSpace(digest[:maxLen-3]) + "..."
	}
	return digest, nil
}

// DailySummary condenses the recent conversation window into one long-term
// digest record. The digest carries the speaker's digest category, so each
// run overwrites the previous digest through the normal conflict pipeline.
// An empty window is a no-op.
func (m *Manager) DailySummary(ctx context.Context) (RememberResult, error) {
	if m.store == nil {
		return RememberResult{}, ErrNoStore
	}
	now := m.clock().UTC()
	cutoff := now.Add(-m.opts.SummaryWindow)

	var window []model.MemoryRecord
	err := m.store.Iterate(ctx, func(rec model.MemoryRecord) bool {
		if rec.Tier != model.ShortTerm && rec.Tier != model.Working {
			return true
		}
		if rec.CreatedAt.Before(cutoff) {
			return true
		}
		window = append(window, rec)
		return true
	})
	if err != nil {
		return RememberResult{}, err
	}
	if len(window) == 0 {
		return RememberResult{Skipped: true, SkipReason: "nothing to summarize"}, nil
	}

	sort.Slice(window, func(i, j int) bool {
		wi := effectiveStrength(window[i], now, m.opts.tierPolicy(window[i].Tier).HalfLife)
		wj := effectiveStrength(window[j], now, m.opts.tierPolicy(window[j].Tier).HalfLife)
		if wi != wj {
			return wi > wj
		}
		return window[i].CreatedAt.After(window[j].CreatedAt)
	})
	if len(window) > m.opts.SummaryTopK {
		window = window[:m.opts.SummaryTopK]
	}

	digest, err := m.summarizer.Summarize(ctx, window)
	if err != nil {
		return RememberResult{}, err
	}
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return RememberResult{Skipped: true, SkipReason: "empty digest"}, nil
	}

	embedding, err := m.embedder.Embed(ctx, digest)
	if err != nil {
		m.metrics.IncEmbedFailure()
		return RememberResult{}, err
	}
	draft := model.MemoryRecord{
		ID:             uuid.New().String(),
		Text:           digest,
		Embedding:      embedding,
		Tier:           model.LongTerm,
		Entities:       []string{strings.ToLower(m.opts.Speaker)},
		Category:       DigestCategory,
		CreatedAt:      now,
		LastAccessedAt: now,
		Strength:       m.opts.InitialStrength,
	}

	// Replace strictly by digest key. Digest prose would confuse the marker
	// heuristics, so the general classifier is bypassed here.
	unlock := m.keys.lock(draft.Key())
	defer unlock()
	candidates, err := m.retriever.Find(ctx, draft.Embedding, draft.Entities)
	if err != nil {
		return RememberResult{}, err
	}
	var matched []model.MemoryRecord
	for _, cand := range candidates {
		if cand.Key() == draft.Key() {
			matched = append(matched, cand)
		}
	}
	cls := conflict.Classification{Kind: conflict.NoConflict, Confidence: 1}
	if len(matched) > 0 {
		cls = conflict.Classification{Kind: conflict.CategoryPreferenceUpdate, Matched: matched, Confidence: 1}
	}
	outcome, err := m.resolver.Resolve(ctx, draft, cls)
	if err != nil {
		return RememberResult{}, err
	}
	m.metrics.IncConflict(cls.Kind)
	m.metrics.IncStored()
	return RememberResult{
		Committed:  outcome.Committed,
		Kind:       cls.Kind,
		Tier:       outcome.Committed.Tier,
		Superseded: outcome.Superseded,
	}, nil
}
