package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/synaptiq/engram/pkg/memory/conflict"
	"github.com/synaptiq/engram/pkg/memory/model"
	"github.com/synaptiq/engram/pkg/memory/session"
	"github.com/synaptiq/engram/pkg/memory/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubEmbedder returns registered vectors for known texts and a deterministic
// hash-derived unit vector otherwise.
type stubEmbedder struct {
	mu   sync.Mutex
	vecs map[string][]float32
	fail error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	if vec, ok := s.vecs[text]; ok {
		return append([]float32(nil), vec...), nil
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	return unit(float64(h.Sum32()%628) / 100), nil
}

func (s *stubEmbedder) set(text string, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vecs[text] = vec
}

func (s *stubEmbedder) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func unit(angle float64) []float32 {
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
}

// atDistance returns a unit vector at the given cosine distance from unit(0).
func atDistance(d float64) []float32 {
	return unit(math.Acos(1 - d))
}

func newTestManager(t *testing.T) (*Manager, *store.InMemoryStore, *stubEmbedder, *testClock) {
	t.Helper()
	vs := store.NewInMemoryStore()
	m, emb, clock := newTestManagerOn(t, vs)
	return m, vs, emb, clock
}

// newTestManagerOn wires a manager over an arbitrary store so tests can
// interpose failures.
func newTestManagerOn(t *testing.T, vs store.VectorStore) (*Manager, *stubEmbedder, *testClock) {
	t.Helper()
	emb := &stubEmbedder{vecs: make(map[string][]float32)}
	clock := &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(vs, DefaultOptions()).
		WithEmbedder(emb).
		WithEntityIndex(store.NewMemoryEntityIndex()).
		WithLogger(log.New(io.Discard, "", 0)).
		WithClock(clock.Now)
	t.Cleanup(func() { _ = m.Close() })
	return m, emb, clock
}

func tierCount(t *testing.T, vs store.VectorStore, tier model.Tier) int {
	t.Helper()
	n, err := vs.Count(context.Background(), tier)
	if err != nil {
		t.Fatalf("count %s: %v", tier, err)
	}
	return n
}

func TestRememberRoutesDurableFact(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.set("my favorite color is blue", atDistance(0))

	res, err := m.Remember(ctx, Turn{Text: "my favorite color is blue", SessionID: "s1"})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if res.Skipped {
		t.Fatalf("durable fact was skipped: %s", res.SkipReason)
	}
	if res.Kind != conflict.NoConflict {
		t.Fatalf("expected no_conflict, got %s", res.Kind)
	}
	if res.Tier != model.LongTerm {
		t.Fatalf("expected long_term routing, got %s", res.Tier)
	}
	if res.ShortTermID == "" {
		t.Fatal("raw turn was not kept as short-term context")
	}
	if res.Committed.Category != "color-preference" {
		t.Fatalf("expected color-preference category, got %q", res.Committed.Category)
	}
	if res.Committed.PrimaryEntity() != "user" {
		t.Fatalf("expected speaker as primary entity, got %q", res.Committed.PrimaryEntity())
	}
	if got := tierCount(t, vs, model.ShortTerm); got != 1 {
		t.Fatalf("short-term count = %d, want 1", got)
	}
	if got := tierCount(t, vs, model.LongTerm); got != 1 {
		t.Fatalf("long-term count = %d, want 1", got)
	}
}

func TestRememberKeepsRecallQuestionsOutOfFacts(t *testing.T) {
	ctx := context.Background()
	m, vs, _, _ := newTestManager(t)

	res, err := m.Remember(ctx, Turn{Text: "do you remember my favorite color?"})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if !res.Skipped {
		t.Fatal("recall question should not become a fact")
	}
	if res.ShortTermID == "" {
		t.Fatal("recall question should still be short-term context")
	}
	if got := tierCount(t, vs, model.LongTerm); got != 0 {
		t.Fatalf("long-term count = %d, want 0", got)
	}
}

func TestRememberEmptyTurnIsNoop(t *testing.T) {
	ctx := context.Background()
	m, vs, _, _ := newTestManager(t)

	res, err := m.Remember(ctx, Turn{Text: "   "})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if !res.Skipped || res.ShortTermID != "" {
		t.Fatalf("empty turn should store nothing, got %+v", res)
	}
	if got := tierCount(t, vs, model.ShortTerm); got != 0 {
		t.Fatalf("short-term count = %d, want 0", got)
	}
}

func TestRememberAbortsWhenEmbedderDown(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.setFailure(errors.New("provider offline"))

	if _, err := m.Remember(ctx, Turn{Text: "i love sushi"}); err == nil {
		t.Fatal("expected error when embedder is down")
	}
	if got := tierCount(t, vs, model.ShortTerm); got != 0 {
		t.Fatalf("aborted write left %d short-term records", got)
	}
	if snap := m.MetricsSnapshot(); snap.EmbedFailures != 1 {
		t.Fatalf("embed failures = %d, want 1", snap.EmbedFailures)
	}
}

func TestDuplicateTurnBoostsCanonical(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.set("i love sushi", atDistance(0))

	first, err := m.Remember(ctx, Turn{Text: "i love sushi"})
	if err != nil {
		t.Fatalf("first remember: %v", err)
	}
	second, err := m.Remember(ctx, Turn{Text: "i love sushi"})
	if err != nil {
		t.Fatalf("second remember: %v", err)
	}
	if second.Kind != conflict.Duplicate {
		t.Fatalf("expected duplicate, got %s", second.Kind)
	}
	if !second.Discarded {
		t.Fatal("duplicate draft should be discarded")
	}
	if second.Committed.ID != first.Committed.ID {
		t.Fatal("duplicate should resolve to the original record")
	}
	if second.Committed.Strength <= first.Committed.Strength {
		t.Fatalf("duplicate should boost strength: %v -> %v", first.Committed.Strength, second.Committed.Strength)
	}
	if got := tierCount(t, vs, model.LongTerm); got != 1 {
		t.Fatalf("long-term count = %d, want 1", got)
	}
	if snap := m.MetricsSnapshot(); snap.Duplicates != 1 || snap.Stored != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestUpdateMarkerReplacesFact(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.set("my favorite color is blue", atDistance(0))
	emb.set("my favorite color is actually green", atDistance(0.3))

	first, err := m.Remember(ctx, Turn{Text: "my favorite color is blue"})
	if err != nil {
		t.Fatalf("first remember: %v", err)
	}
	second, err := m.Remember(ctx, Turn{Text: "my favorite color is actually green"})
	if err != nil {
		t.Fatalf("second remember: %v", err)
	}
	if second.Kind != conflict.Update {
		t.Fatalf("expected update, got %s", second.Kind)
	}
	if second.Committed.Generation != first.Committed.Generation+1 {
		t.Fatalf("generation = %d, want %d", second.Committed.Generation, first.Committed.Generation+1)
	}
	if len(second.Superseded) != 1 || second.Superseded[0] != first.Committed.ID {
		t.Fatalf("superseded = %v, want [%s]", second.Superseded, first.Committed.ID)
	}
	if _, err := vs.Get(ctx, first.Committed.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old record should be gone, got err %v", err)
	}
	if got := tierCount(t, vs, model.LongTerm); got != 1 {
		t.Fatalf("long-term count = %d, want 1", got)
	}
}

func TestOppositePolarityContradictionReplacesFact(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.set("i love hiking", atDistance(0))
	emb.set("i hate hiking", atDistance(0.44))

	first, err := m.Remember(ctx, Turn{Text: "i love hiking"})
	if err != nil {
		t.Fatalf("first remember: %v", err)
	}
	second, err := m.Remember(ctx, Turn{Text: "i hate hiking"})
	if err != nil {
		t.Fatalf("second remember: %v", err)
	}
	if second.Kind != conflict.PreferenceContradiction {
		t.Fatalf("expected preference_contradiction, got %s", second.Kind)
	}
	if second.Committed.Polarity != model.Negative {
		t.Fatalf("committed polarity = %v, want negative", second.Committed.Polarity)
	}
	if _, err := vs.Get(ctx, first.Committed.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("contradicted record should be gone, got err %v", err)
	}
	if got := tierCount(t, vs, model.LongTerm); got != 1 {
		t.Fatalf("long-term count = %d, want 1", got)
	}
}

func TestSameCategoryPreferenceUpdate(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.set("i love sushi", atDistance(0))
	emb.set("i love pizza", atDistance(0.6))

	first, err := m.Remember(ctx, Turn{Text: "i love sushi"})
	if err != nil {
		t.Fatalf("first remember: %v", err)
	}
	second, err := m.Remember(ctx, Turn{Text: "i love pizza"})
	if err != nil {
		t.Fatalf("second remember: %v", err)
	}
	if second.Kind != conflict.CategoryPreferenceUpdate {
		t.Fatalf("expected category_preference_update, got %s", second.Kind)
	}
	if _, err := vs.Get(ctx, first.Committed.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old category holder should be gone, got err %v", err)
	}
	if got := tierCount(t, vs, model.LongTerm); got != 1 {
		t.Fatalf("one canonical record per category, got %d", got)
	}
}

func TestAmbiguousMatchNeverDeletes(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.set("i love sushi", atDistance(0))
	// Just under the duplicate gate: the match holds but its confidence falls
	// below the ambiguity floor.
	emb.set("i really love sushi", atDistance(0.14))

	if _, err := m.Remember(ctx, Turn{Text: "i love sushi"}); err != nil {
		t.Fatalf("first remember: %v", err)
	}
	second, err := m.Remember(ctx, Turn{Text: "i really love sushi"})
	if err != nil {
		t.Fatalf("second remember: %v", err)
	}
	if second.Kind != conflict.NoConflict {
		t.Fatalf("ambiguous match should downgrade to no_conflict, got %s", second.Kind)
	}
	if got := tierCount(t, vs, model.LongTerm); got != 2 {
		t.Fatalf("both records should survive, got %d", got)
	}
	if snap := m.MetricsSnapshot(); snap.AmbiguousDowngrades != 1 {
		t.Fatalf("ambiguous downgrades = %d, want 1", snap.AmbiguousDowngrades)
	}
}

func TestForceRememberOverwritesCloseMatch(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.set("my favorite color is blue", atDistance(0))
	// Too far for the update rule, close enough for a forced overwrite.
	emb.set("my favorite color is teal", atDistance(0.6))

	first, err := m.Remember(ctx, Turn{Text: "my favorite color is blue"})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	forced, err := m.ForceRemember(ctx, Turn{Text: "my favorite color is teal"})
	if err != nil {
		t.Fatalf("force remember: %v", err)
	}
	if forced.Kind != conflict.Update {
		t.Fatalf("expected forced update, got %s", forced.Kind)
	}
	if _, err := vs.Get(ctx, first.Committed.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("overwritten record should be gone, got err %v", err)
	}
	if forced.Committed.Generation != first.Committed.Generation+1 {
		t.Fatalf("generation = %d, want %d", forced.Committed.Generation, first.Committed.Generation+1)
	}
}

func TestForgetRemovesSubjectOnly(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.set("i love sushi", atDistance(0))
	emb.set("sushi", atDistance(0.05))
	emb.set("my dog is rex", unit(2.8))

	if _, err := m.Remember(ctx, Turn{Text: "i love sushi"}); err != nil {
		t.Fatalf("remember sushi: %v", err)
	}
	if _, err := m.Remember(ctx, Turn{Text: "my dog is rex"}); err != nil {
		t.Fatalf("remember dog: %v", err)
	}

	n, err := m.Forget(ctx, "sushi")
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if n != 1 {
		t.Fatalf("forgot %d records, want 1", n)
	}
	if got := tierCount(t, vs, model.LongTerm); got != 1 {
		t.Fatalf("long-term count = %d, want 1", got)
	}
	left, err := vs.Recent(ctx, model.LongTerm, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(left) != 1 || left[0].Text != "my dog is rex" {
		t.Fatalf("wrong survivor: %+v", left)
	}
}

func TestConcurrentSameFactWritesKeepOneCanonical(t *testing.T) {
	ctx := context.Background()
	m, vs, emb, _ := newTestManager(t)
	emb.set("i love sushi", atDistance(0))

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Remember(ctx, Turn{Text: "i love sushi"})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}
	if got := tierCount(t, vs, model.LongTerm); got != 1 {
		t.Fatalf("long-term count = %d, want 1", got)
	}
	snap := m.MetricsSnapshot()
	if snap.Stored != 1 || snap.Duplicates != writers-1 {
		t.Fatalf("stored = %d duplicates = %d, want 1 and %d", snap.Stored, snap.Duplicates, writers-1)
	}
}

func TestShortTermCapDropsOldest(t *testing.T) {
	ctx := context.Background()
	vs := store.NewInMemoryStore()
	opts := DefaultOptions()
	opts.ShortTermCap = 3
	clock := &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(vs, opts).
		WithEmbedder(&stubEmbedder{vecs: make(map[string][]float32)}).
		WithLogger(log.New(io.Discard, "", 0)).
		WithClock(clock.Now)
	t.Cleanup(func() { _ = m.Close() })

	turns := []string{"ok", "ok ok", "ok ok ok", "so ok", "ah ok"}
	for _, text := range turns {
		if _, err := m.Remember(ctx, Turn{Text: text}); err != nil {
			t.Fatalf("remember %q: %v", text, err)
		}
		clock.Advance(time.Minute)
	}
	if got := tierCount(t, vs, model.ShortTerm); got != 3 {
		t.Fatalf("short-term count = %d, want 3", got)
	}
	recent, err := vs.Recent(ctx, model.ShortTerm, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for _, rec := range recent {
		if rec.Text == "ok" || rec.Text == "ok ok" {
			t.Fatalf("oldest turn %q should have been dropped", rec.Text)
		}
	}
}

func TestCloseSessionPromotesStrongWorkingRecords(t *testing.T) {
	ctx := context.Background()
	m, vs, _, clock := newTestManager(t)
	id := m.OpenSession("weekend-chat")

	now := clock.Now().UTC()
	strong := model.MemoryRecord{
		ID: "w-strong", Text: "planning a trip to kyoto", Embedding: unit(0.2),
		Tier: model.Working, Entities: []string{"user", "kyoto", "trip"},
		SessionID: id, CreatedAt: now, LastAccessedAt: now, Strength: 0.9,
	}
	faded := model.MemoryRecord{
		ID: "w-faded", Text: "screen brightness felt off", Embedding: unit(1.4),
		Tier: model.Working, Entities: []string{"user", "brightness"},
		SessionID: id, CreatedAt: now.Add(-24 * time.Hour), LastAccessedAt: now.Add(-24 * time.Hour), Strength: 0.9,
	}
	other := model.MemoryRecord{
		ID: "w-other", Text: "note from another session", Embedding: unit(2.1),
		Tier: model.Working, Entities: []string{"user", "note"},
		SessionID: "elsewhere", CreatedAt: now, LastAccessedAt: now, Strength: 0.9,
	}
	for _, rec := range []model.MemoryRecord{strong, faded, other} {
		if err := vs.Upsert(ctx, rec); err != nil {
			t.Fatalf("seed %s: %v", rec.ID, err)
		}
	}

	promoted, dropped, err := m.CloseSession(ctx, id)
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if promoted != 1 || dropped != 1 {
		t.Fatalf("promoted = %d dropped = %d, want 1 and 1", promoted, dropped)
	}
	if got := tierCount(t, vs, model.LongTerm); got != 1 {
		t.Fatalf("long-term count = %d, want 1", got)
	}
	longTerm, err := vs.Recent(ctx, model.LongTerm, 1)
	if err != nil || len(longTerm) != 1 {
		t.Fatalf("recent long-term: %v (%d records)", err, len(longTerm))
	}
	if longTerm[0].Text != strong.Text {
		t.Fatalf("promoted text = %q, want %q", longTerm[0].Text, strong.Text)
	}
	if longTerm[0].SessionID != "" {
		t.Fatal("promoted record should not stay session-scoped")
	}
	if got := tierCount(t, vs, model.Working); got != 1 {
		t.Fatalf("working count = %d, want only the foreign session record", got)
	}
	if _, err := m.sessions.Get(id); !errors.Is(err, session.ErrSessionUnknown) {
		t.Fatalf("session should be closed, got err %v", err)
	}
}

func TestCloseSessionUnknownID(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if _, _, err := m.CloseSession(context.Background(), "never-opened"); !errors.Is(err, session.ErrSessionUnknown) {
		t.Fatalf("expected ErrSessionUnknown, got %v", err)
	}
}

type haltedStore struct {
	store.VectorStore
}

func (h *haltedStore) Iterate(context.Context, func(model.MemoryRecord) bool) error {
	return store.ErrUnavailable
}

func TestStatusReportsTiersAndDegradesExplicitly(t *testing.T) {
	ctx := context.Background()
	m, _, emb, _ := newTestManager(t)
	emb.set("i love sushi", atDistance(0))
	if _, err := m.Remember(ctx, Turn{Text: "i love sushi", SessionID: "s1"}); err != nil {
		t.Fatalf("remember: %v", err)
	}

	report := m.Status(ctx)
	if !report.Available {
		t.Fatal("status should be available")
	}
	if report.Tiers[model.ShortTerm].Count != 1 || report.Tiers[model.LongTerm].Count != 1 {
		t.Fatalf("unexpected tier counts: %+v", report.Tiers)
	}
	if report.Tiers[model.LongTerm].AvgStrength <= 0 {
		t.Fatal("average strength should be positive")
	}
	if len(report.Sessions) != 1 || report.Sessions[0] != "s1" {
		t.Fatalf("sessions = %v, want [s1]", report.Sessions)
	}
	if report.Conflicts.Stored != 1 {
		t.Fatalf("conflict counters missing from status: %+v", report.Conflicts)
	}

	down, _, _ := newTestManagerOn(t, &haltedStore{VectorStore: store.NewInMemoryStore()})
	if report := down.Status(ctx); report.Available {
		t.Fatal("status over an unreachable store should be marked unavailable")
	}
}

func TestAnalyzeRouting(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	cases := []struct {
		text      string
		tier      model.Tier
		memorable bool
	}{
		{"i feel anxious about the move", model.Emotional, true},
		{"my favorite color is blue", model.LongTerm, true},
		{"ok ok", model.Working, true},
		{"do you remember my favorite color?", model.Working, false},
	}
	for _, tc := range cases {
		a := m.analyze(tc.text, "")
		if a.Memorable != tc.memorable {
			t.Fatalf("%q memorable = %v, want %v", tc.text, a.Memorable, tc.memorable)
		}
		if tc.memorable && a.Tier != tc.tier {
			t.Fatalf("%q routed to %s, want %s", tc.text, a.Tier, tc.tier)
		}
	}
}
