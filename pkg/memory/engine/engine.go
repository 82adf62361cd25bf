// Package engine orchestrates the tiered memory subsystem: the conflict-aware
// write pipeline, parallel multi-tier retrieval, decay, and status reporting.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synaptiq/engram/pkg/memory/conflict"
	"github.com/synaptiq/engram/pkg/memory/embed"
	"github.com/synaptiq/engram/pkg/memory/model"
	"github.com/synaptiq/engram/pkg/memory/session"
	"github.com/synaptiq/engram/pkg/memory/store"
)

// ErrNoStore is returned when the manager was built without a vector store.
var ErrNoStore = errors.New("memory manager has no store")

// Turn is one utterance handed to Remember.
type Turn struct {
	Text      string
	SessionID string
	// Speaker overrides the configured default speaker entity.
	Speaker string
}

// RememberResult reports what a write committed.
type RememberResult struct {
	// Committed is the canonical record after the write: the new record, or
	// the boosted existing one when the turn was a duplicate.
	Committed model.MemoryRecord
	Kind      conflict.Kind
	Tier      model.Tier
	// Skipped is true when the turn was kept only as short-term context
	// (recall questions, empty turns).
	Skipped    bool
	SkipReason string
	// Discarded is true when the draft was dropped in favor of an existing
	// record.
	Discarded  bool
	Superseded []string
	// ShortTermID is the id of the raw-turn record, when one was kept.
	ShortTermID string
}

// TierStatus summarizes one tier.
type TierStatus struct {
	Count       int     `json:"count"`
	AvgStrength float64 `json:"avg_strength"`
}

// StatusReport is the externally visible health and shape of the store.
type StatusReport struct {
	Available   bool                      `json:"available"`
	Tiers       map[model.Tier]TierStatus `json:"tiers"`
	Sessions    []string                  `json:"sessions"`
	Conflicts   MetricsSnapshot           `json:"conflicts"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Manager coordinates the write pipeline, retrieval, decay and sessions. It
// is the only entry point the rest of the agent calls.
type Manager struct {
	store      store.VectorStore
	index      store.EntityIndex
	opts       Options
	embedder   embed.Embedder
	summarizer Summarizer
	locator    *conflict.Locator
	classifier *conflict.Classifier
	retriever  *conflict.Retriever
	resolver   *conflict.Resolver
	sessions   *session.Registry
	metrics    *Metrics
	logger     *log.Logger
	clock      func() time.Time
	keys       *keyedMutex
	boosts     *boostQueue

	mu        sync.Mutex
	sweepStop chan struct{}
	wg        sync.WaitGroup
}

// NewManager constructs a memory manager on top of a VectorStore.
func NewManager(vs store.VectorStore, opts Options) *Manager {
	opts = opts.withDefaults()
	locator := conflict.NewLocator()
	locator.MaxEntities = opts.MaxEntities
	m := &Manager{
		store:      vs,
		opts:       opts,
		embedder:   embed.AutoEmbedder(),
		summarizer: HeuristicSummarizer{},
		locator:    locator,
		classifier: conflict.NewClassifier(opts.Thresholds, opts.Rules),
		sessions:   session.NewRegistry(opts.SessionTTL),
		metrics:    &Metrics{},
		logger:     log.New(os.Stderr, "memory-manager: ", log.LstdFlags),
		clock:      opts.Clock,
		keys:       newKeyedMutex(),
		boosts:     newBoostQueue(),
	}
	m.retriever = conflict.NewRetriever(vs, nil, opts.CandidateK, opts.Thresholds.CandidateDistance)
	m.resolver = conflict.NewResolver(vs, nil, m.clock)
	m.resolver.BoostAmount = opts.AccessBoost
	return m
}

// WithEmbedder overrides the default embedder.
func (m *Manager) WithEmbedder(embedder embed.Embedder) *Manager {
	if embedder != nil {
		m.embedder = embedder
	}
	return m
}

// WithSummarizer overrides the default digest summarizer.
func (m *Manager) WithSummarizer(s Summarizer) *Manager {
	if s != nil {
		m.summarizer = s
	}
	return m
}

// WithLogger overrides the default logger.
func (m *Manager) WithLogger(logger *log.Logger) *Manager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithEntityIndex attaches an entity graph used for candidate lookup and
// supersession lineage.
func (m *Manager) WithEntityIndex(index store.EntityIndex) *Manager {
	if index != nil {
		m.index = index
		m.retriever.Index = index
		m.resolver.Index = index
	}
	return m
}

// WithClock overrides the clock, used by tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	if clock != nil {
		m.clock = clock
		m.resolver.Clock = clock
		m.sessions.WithClock(clock)
	}
	return m
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// MetricsSnapshot returns a copy of the runtime counters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// Remember runs the full write pipeline for one turn. The raw turn is always
// kept as short-term context; fact-like content additionally flows through
// entity location, candidate lookup, conflict classification and resolution
// into its routed tier.
//
// An embedding failure aborts the write and leaves existing memory untouched.
func (m *Manager) Remember(ctx context.Context, turn Turn) (RememberResult, error) {
	if m.store == nil {
		return RememberResult{}, ErrNoStore
	}
	a := m.analyze(turn.Text, turn.Speaker)
	if a.Normalized == "" {
		return RememberResult{Skipped: true, SkipReason: a.Reason}, nil
	}
	if turn.SessionID != "" {
		m.sessions.Open(turn.SessionID)
		if err := m.sessions.Touch(turn.SessionID); err != nil {
			m.logf("touch session %s: %v", turn.SessionID, err)
		}
	}

	embedding, err := m.embedder.Embed(ctx, a.Normalized)
	if err != nil {
		m.metrics.IncEmbedFailure()
		m.logf("remember aborted, embedding unavailable: %v", err)
		return RememberResult{}, fmt.Errorf("embed turn: %w", err)
	}

	now := m.clock().UTC()
	shortRec := model.MemoryRecord{
		ID:             uuid.New().String(),
		Text:           a.Normalized,
		Embedding:      embedding,
		Tier:           model.ShortTerm,
		Entities:       a.Entities,
		SessionID:      turn.SessionID,
		CreatedAt:      now,
		LastAccessedAt: now,
		Strength:       m.opts.InitialStrength,
	}
	if err := m.store.Upsert(ctx, shortRec); err != nil {
		return RememberResult{}, fmt.Errorf("store turn: %w", err)
	}
	if err := m.trimShortTerm(ctx); err != nil {
		m.logf("trim short-term: %v", err)
	}

	if !a.Memorable {
		return RememberResult{Skipped: true, SkipReason: a.Reason, ShortTermID: shortRec.ID, Tier: model.ShortTerm}, nil
	}

	draft := model.MemoryRecord{
		ID:             uuid.New().String(),
		Text:           a.Normalized,
		Embedding:      embedding,
		Tier:           a.Tier,
		Entities:       a.Entities,
		Category:       a.Category,
		Polarity:       a.Polarity,
		SessionID:      turn.SessionID,
		CreatedAt:      now,
		LastAccessedAt: now,
		Strength:       m.opts.InitialStrength,
	}

	if !draft.Tier.ConflictEligible() {
		// Working records accumulate freely and are consolidated when their
		// session closes.
		if err := m.store.Upsert(ctx, draft); err != nil {
			return RememberResult{}, fmt.Errorf("store working record: %w", err)
		}
		if m.index != nil {
			_ = m.index.Link(ctx, draft)
		}
		m.metrics.IncStored()
		m.metrics.IncConflict(conflict.NoConflict)
		return RememberResult{Committed: draft, Kind: conflict.NoConflict, Tier: draft.Tier, ShortTermID: shortRec.ID}, nil
	}

	result, err := m.commit(ctx, draft)
	if err != nil {
		return RememberResult{}, err
	}
	result.ShortTermID = shortRec.ID
	return result, nil
}

// commit serializes the conflict pipeline per (entity, category) key and
// retries when a concurrent writer invalidates the classification.
func (m *Manager) commit(ctx context.Context, draft model.MemoryRecord) (RememberResult, error) {
	if key := draft.Key(); key != "" {
		unlock := m.keys.lock(key)
		defer unlock()
	}

	attempts := m.opts.WriteRetries + 1
	for attempt := 1; ; attempt++ {
		candidates, err := m.retriever.Find(ctx, draft.Embedding, draft.Entities)
		if err != nil {
			return RememberResult{}, fmt.Errorf("find candidates: %w", err)
		}
		cls := m.classifier.Classify(draft, candidates)
		if cls.Downgraded {
			m.metrics.IncAmbiguousDowngrade()
		}

		outcome, err := m.resolver.Resolve(ctx, draft, cls)
		if errors.Is(err, conflict.ErrWriteConflict) && attempt < attempts {
			m.metrics.IncWriteConflictRetry()
			m.logf("write conflict on %q, retrying (%d/%d)", draft.Key(), attempt, attempts)
			continue
		}
		if err != nil {
			return RememberResult{}, err
		}

		m.metrics.IncConflict(cls.Kind)
		if !outcome.Discarded {
			m.metrics.IncStored()
		}
		return RememberResult{
			Committed:  outcome.Committed,
			Kind:       cls.Kind,
			Tier:       outcome.Committed.Tier,
			Discarded:  outcome.Discarded,
			Superseded: outcome.Superseded,
		}, nil
	}
}

// ForceRemember bypasses classification: close matches under the same key are
// overwritten, anything else is inserted. Used for explicit "remember this"
// commands where the user has already decided.
func (m *Manager) ForceRemember(ctx context.Context, turn Turn) (RememberResult, error) {
	if m.store == nil {
		return RememberResult{}, ErrNoStore
	}
	a := m.analyze(turn.Text, turn.Speaker)
	if a.Normalized == "" {
		return RememberResult{Skipped: true, SkipReason: "empty turn"}, nil
	}
	embedding, err := m.embedder.Embed(ctx, a.Normalized)
	if err != nil {
		m.metrics.IncEmbedFailure()
		return RememberResult{}, fmt.Errorf("embed turn: %w", err)
	}

	now := m.clock().UTC()
	tier := a.Tier
	if !tier.ConflictEligible() {
		tier = model.LongTerm
	}
	draft := model.MemoryRecord{
		ID:             uuid.New().String(),
		Text:           a.Normalized,
		Embedding:      embedding,
		Tier:           tier,
		Entities:       a.Entities,
		Category:       a.Category,
		Polarity:       a.Polarity,
		SessionID:      turn.SessionID,
		CreatedAt:      now,
		LastAccessedAt: now,
		Strength:       m.opts.InitialStrength,
	}

	if key := draft.Key(); key != "" {
		unlock := m.keys.lock(key)
		defer unlock()
	}
	candidates, err := m.retriever.Find(ctx, draft.Embedding, draft.Entities)
	if err != nil {
		return RememberResult{}, fmt.Errorf("find candidates: %w", err)
	}
	var matched []model.MemoryRecord
	for _, cand := range candidates {
		if cand.Key() != draft.Key() {
			continue
		}
		if model.CosineDistance(draft.Embedding, cand.Embedding) <= m.opts.ForceUpdateDistance {
			matched = append(matched, cand)
		}
	}
	cls := conflict.Classification{Kind: conflict.NoConflict, Confidence: 1}
	if len(matched) > 0 {
		cls = conflict.Classification{Kind: conflict.Update, Matched: matched, Confidence: 1}
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

// Forget removes conflict-tier memories about the given subject: records
// sharing an extracted entity, plus records within ForgetDistance of the
// subject embedding. Returns how many records were removed; ids that are
// already gone count as forgotten.
func (m *Manager) Forget(ctx context.Context, about string) (int, error) {
	if m.store == nil {
		return 0, ErrNoStore
	}
	normalized := normalizeTurn(about)
	if normalized == "" {
		return 0, nil
	}
	embedding, err := m.embedder.Embed(ctx, normalized)
	if err != nil {
		m.metrics.IncEmbedFailure()
		return 0, fmt.Errorf("embed subject: %w", err)
	}
	entities := m.locator.Locate(normalized)

	targets := make(map[string]struct{})
	for _, tier := range model.ConflictTiers() {
		for _, entity := range entities {
			records, err := m.store.ByEntity(ctx, tier, entity, m.opts.CandidateK*4)
			if err != nil {
				return 0, fmt.Errorf("forget lookup: %w", err)
			}
			for _, rec := range records {
				targets[rec.ID] = struct{}{}
			}
		}
		records, err := m.store.Query(ctx, tier, embedding, m.opts.CandidateK*4)
		if err != nil {
			return 0, fmt.Errorf("forget query: %w", err)
		}
		for _, rec := range records {
			if model.CosineDistance(embedding, rec.Embedding) <= m.opts.ForgetDistance {
				targets[rec.ID] = struct{}{}
			}
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if err := m.store.Delete(ctx, ids...); err != nil {
		return 0, fmt.Errorf("forget delete: %w", err)
	}
	if m.index != nil {
		_ = m.index.Unlink(ctx, ids...)
	}
	m.metrics.IncEvicted(len(ids))
	return len(ids), nil
}

// OpenSession registers (or refreshes) a session and returns its id.
func (m *Manager) OpenSession(id string) string {
	return m.sessions.Open(id).ID
}

// CloseSession consolidates the session's working memory: records whose
// effective strength reaches PromoteFloor are re-committed through the
// conflict pipeline as long-term facts, the rest are dropped. Returns how
// many records were promoted and how many were discarded.
func (m *Manager) CloseSession(ctx context.Context, id string) (promoted, dropped int, err error) {
	if m.store == nil {
		return 0, 0, ErrNoStore
	}
	if _, err := m.sessions.Close(id); err != nil {
		return 0, 0, err
	}

	now := m.clock().UTC()
	policy := m.opts.tierPolicy(model.Working)
	var working []model.MemoryRecord
	iterErr := m.store.Iterate(ctx, func(rec model.MemoryRecord) bool {
		if rec.Tier == model.Working && rec.SessionID == id {
			working = append(working, rec)
		}
		return true
	})
	if iterErr != nil {
		return 0, 0, fmt.Errorf("collect working records: %w", iterErr)
	}

	for _, rec := range working {
		eff := effectiveStrength(rec, now, policy.HalfLife)
		if eff >= m.opts.PromoteFloor {
			draft := rec.Clone()
			draft.ID = uuid.New().String()
			draft.Tier = model.LongTerm
			draft.SessionID = ""
			draft.CreatedAt = now
			draft.LastAccessedAt = now
			draft.Strength = m.opts.InitialStrength
			draft.Generation = 0
			if _, err := m.commit(ctx, draft); err != nil {
				m.logf("promote %s: %v", rec.ID, err)
				continue
			}
			promoted++
		} else {
			dropped++
		}
		if err := m.store.Delete(ctx, rec.ID); err != nil {
			m.logf("drop working record %s: %v", rec.ID, err)
		}
		if m.index != nil {
			_ = m.index.Unlink(ctx, rec.ID)
		}
	}
	return promoted, dropped, nil
}

// Status reports per-tier counts and average effective strength plus the
// conflict counters. When the store is unreachable the report is marked
// unavailable instead of failing.
func (m *Manager) Status(ctx context.Context) StatusReport {
	report := StatusReport{
		Available:   true,
		Tiers:       make(map[model.Tier]TierStatus, len(model.Tiers())),
		Sessions:    m.sessions.Active(),
		Conflicts:   m.metrics.Snapshot(),
		GeneratedAt: m.clock().UTC(),
	}
	if m.store == nil {
		report.Available = false
		return report
	}

	now := m.clock().UTC()
	type accum struct {
		count int
		sum   float64
	}
	sums := make(map[model.Tier]*accum, len(model.Tiers()))
	for _, tier := range model.Tiers() {
		sums[tier] = &accum{}
	}
	err := m.store.Iterate(ctx, func(rec model.MemoryRecord) bool {
		acc, ok := sums[rec.Tier]
		if !ok {
			return true
		}
		acc.count++
		acc.sum += effectiveStrength(rec, now, m.opts.tierPolicy(rec.Tier).HalfLife)
		return true
	})
	if err != nil {
		m.logf("status unavailable: %v", err)
		report.Available = false
		return report
	}
	for _, tier := range model.Tiers() {
		acc := sums[tier]
		status := TierStatus{Count: acc.count}
		if acc.count > 0 {
			status.AvgStrength = acc.sum / float64(acc.count)
		}
		report.Tiers[tier] = status
	}
	return report
}

// trimShortTerm drops the oldest short-term records beyond the cap.
func (m *Manager) trimShortTerm(ctx context.Context) error {
	count, err := m.store.Count(ctx, model.ShortTerm)
	if err != nil {
		return err
	}
	if count <= m.opts.ShortTermCap {
		return nil
	}
	all, err := m.store.Recent(ctx, model.ShortTerm, count)
	if err != nil {
		return err
	}
	if len(all) <= m.opts.ShortTermCap {
		return nil
	}
	excess := all[m.opts.ShortTermCap:]
	ids := make([]string, 0, len(excess))
	for _, rec := range excess {
		ids = append(ids, rec.ID)
	}
	if err := m.store.Delete(ctx, ids...); err != nil {
		return err
	}
	m.metrics.IncEvicted(len(ids))
	return nil
}

// Close stops background work, flushes pending boosts and releases the store.
func (m *Manager) Close() error {
	m.StopSweeper()
	m.wg.Wait()
	m.FlushBoosts(context.Background())
	var errs []error
	if m.index != nil {
		if err := m.index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
