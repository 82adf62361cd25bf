package conflict

import (
	"strings"

	"github.com/synaptiq/engram/pkg/memory/model"
)

// Kind labels the relationship between a new fact and the existing canon.
type Kind string

const (
	Duplicate                Kind = "duplicate"
	Update                   Kind = "update"
	PreferenceContradiction  Kind = "preference_contradiction"
	CategoryPreferenceUpdate Kind = "category_preference_update"
	NoConflict               Kind = "no_conflict"
)

// Kinds lists every classification outcome, in rule priority order.
func Kinds() []Kind {
	return []Kind{Duplicate, Update, PreferenceContradiction, CategoryPreferenceUpdate, NoConflict}
}

// Classification is the classifier verdict for one (draft, candidates) pair.
type Classification struct {
	Kind       Kind
	Matched    []model.MemoryRecord
	Confidence float64
	// Downgraded marks a verdict that fell below the ambiguity floor and was
	// rewritten to NoConflict.
	Downgraded bool
}

// Thresholds gate each rule by cosine distance. The defaults come from the
// tuning of the agent this subsystem was built for; they are configuration,
// not behavior.
type Thresholds struct {
	// DuplicateDistance is the near-identical bar: any candidate closer than
	// this is the same fact restated.
	DuplicateDistance float64
	// UpdateDistance bounds how far an update-marked statement may drift from
	// the record it corrects.
	UpdateDistance float64
	// ContradictionDistance bounds opposite-polarity matches. Contradictory
	// statements embed further apart than rephrasings, so this sits looser
	// than UpdateDistance.
	ContradictionDistance float64
	// CategoryDistance gates same-category matches. 1.0 means any candidate
	// under the same (entity, category) key qualifies.
	CategoryDistance float64
	// CandidateDistance is the loose recall bar for candidate lookup, not a
	// classification gate.
	CandidateDistance float64
	// AmbiguityFloor downgrades any verdict whose confidence falls below it
	// to NoConflict. Ambiguity must never destroy a memory.
	AmbiguityFloor float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DuplicateDistance:     0.15,
		UpdateDistance:        0.40,
		ContradictionDistance: 0.50,
		CategoryDistance:      1.0,
		CandidateDistance:     0.75,
		AmbiguityFloor:        0.55,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	def := DefaultThresholds()
	if t.DuplicateDistance <= 0 {
		t.DuplicateDistance = def.DuplicateDistance
	}
	if t.UpdateDistance <= 0 {
		t.UpdateDistance = def.UpdateDistance
	}
	if t.ContradictionDistance <= 0 {
		t.ContradictionDistance = def.ContradictionDistance
	}
	if t.CategoryDistance <= 0 {
		t.CategoryDistance = def.CategoryDistance
	}
	if t.CandidateDistance <= 0 {
		t.CandidateDistance = def.CandidateDistance
	}
	if t.AmbiguityFloor <= 0 {
		t.AmbiguityFloor = def.AmbiguityFloor
	}
	return t
}

// CategoryRule maps trigger keywords to a coarse category label such as
// "food-preference". The taxonomy is caller configuration.
type CategoryRule struct {
	Name     string
	Keywords []string
}

// Rules carries the lexical knowledge the classifier and the turn analyzer
// share: update-intent markers, the polarity lexicon, and the category
// taxonomy.
type Rules struct {
	UpdateMarkers   []string
	PositiveMarkers []string
	NegativeMarkers []string
	NegationMarkers []string
	Categories      []CategoryRule
}

func DefaultRules() Rules {
	return Rules{
		UpdateMarkers: []string{
			"actually", "now i", "these days", "no longer", "not anymore",
			"changed", "instead", "from now on", "correction", "nowadays",
			"used to",
		},
		PositiveMarkers: []string{
			"love", "loves", "like", "likes", "enjoy", "enjoys", "adore",
			"prefer", "prefers", "favorite", "favourite",
		},
		NegativeMarkers: []string{
			"hate", "hates", "dislike", "dislikes", "loathe", "avoid",
			"avoids", "fear", "fears", "scared",
		},
		NegationMarkers: []string{
			"not", "no", "never", "don't", "doesn't", "didn't", "won't",
			"can't", "cannot", "stopped",
		},
		Categories: []CategoryRule{
			{Name: "food-preference", Keywords: []string{"eat", "eats", "food", "meal", "dish", "cook", "sushi", "pizza", "pasta", "ramen", "coffee", "tea", "drink"}},
			{Name: "music-preference", Keywords: []string{"music", "song", "songs", "band", "album", "listen", "listening", "jazz", "rock", "classical"}},
			{Name: "color-preference", Keywords: []string{"color", "colour", "colors", "colours"}},
			{Name: "activity-preference", Keywords: []string{"hobby", "hobbies", "play", "plays", "playing", "game", "games", "sport", "sports", "watch", "watching", "read", "reading"}},
		},
	}
}

// HasUpdateMarker reports whether text carries correction or
// negation-of-staleness phrasing.
func (r Rules) HasUpdateMarker(text string) bool {
	lowered := strings.ToLower(text)
	for _, marker := range r.UpdateMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// DetectPolarity scores the sentiment direction of text. A negation marker
// within the two tokens before a sentiment word flips that word.
func (r Rules) DetectPolarity(text string) model.Polarity {
	tokens := Tokenize(text)
	score := 0
	for i, tok := range tokens {
		direction := 0
		if containsToken(r.PositiveMarkers, tok) {
			direction = 1
		} else if containsToken(r.NegativeMarkers, tok) {
			direction = -1
		}
		if direction == 0 {
			continue
		}
		for back := 1; back <= 2 && i-back >= 0; back++ {
			if containsToken(r.NegationMarkers, tokens[i-back]) {
				direction = -direction
				break
			}
		}
		score += direction
	}
	switch {
	case score > 0:
		return model.Positive
	case score < 0:
		return model.Negative
	default:
		return model.Neutral
	}
}

// DetectCategory returns the first taxonomy entry whose keywords appear in
// text, or "" when nothing matches.
func (r Rules) DetectCategory(text string) string {
	tokens := Tokenize(text)
	present := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		present[tok] = struct{}{}
	}
	for _, rule := range r.Categories {
		for _, kw := range rule.Keywords {
			if _, ok := present[kw]; ok {
				return rule.Name
			}
		}
	}
	return ""
}

func containsToken(list []string, tok string) bool {
	for _, item := range list {
		if item == tok {
			return true
		}
	}
	return false
}

// Classifier applies the conflict rules in fixed priority order.
type Classifier struct {
	Thresholds Thresholds
	Rules      Rules
}

func NewClassifier(thresholds Thresholds, rules Rules) *Classifier {
	return &Classifier{Thresholds: thresholds.withDefaults(), Rules: rules}
}

// Classify labels draft against candidates. Rule order is fixed: duplicate,
// update, preference contradiction, category preference update, no conflict.
// Confidence decays linearly from 1 at distance zero to 0.5 at the rule gate;
// verdicts under the ambiguity floor downgrade to NoConflict so borderline
// matches never delete anything.
func (c *Classifier) Classify(draft model.MemoryRecord, candidates []model.MemoryRecord) Classification {
	if len(candidates) == 0 {
		return Classification{Kind: NoConflict, Confidence: 1}
	}

	if cls, ok := c.duplicateOf(draft, candidates); ok {
		return c.applyFloor(cls)
	}
	if cls, ok := c.updateOf(draft, candidates); ok {
		return c.applyFloor(cls)
	}
	if cls, ok := c.contradictionOf(draft, candidates); ok {
		return c.applyFloor(cls)
	}
	if cls, ok := c.categoryUpdateOf(draft, candidates); ok {
		return c.applyFloor(cls)
	}
	return Classification{Kind: NoConflict, Confidence: 1}
}

func (c *Classifier) duplicateOf(draft model.MemoryRecord, candidates []model.MemoryRecord) (Classification, bool) {
	bestDist := c.Thresholds.DuplicateDistance
	var best *model.MemoryRecord
	for i := range candidates {
		dist := model.CosineDistance(draft.Embedding, candidates[i].Embedding)
		if dist < bestDist {
			bestDist = dist
			best = &candidates[i]
		}
	}
	if best == nil {
		return Classification{}, false
	}
	return Classification{
		Kind:       Duplicate,
		Matched:    []model.MemoryRecord{*best},
		Confidence: gateConfidence(bestDist, c.Thresholds.DuplicateDistance),
	}, true
}

func (c *Classifier) updateOf(draft model.MemoryRecord, candidates []model.MemoryRecord) (Classification, bool) {
	if !c.Rules.HasUpdateMarker(draft.Text) {
		return Classification{}, false
	}
	matched, minDist := matchWithin(draft, candidates, c.Thresholds.UpdateDistance, func(cand model.MemoryRecord) bool {
		return cand.SharesEntity(draft.Entities)
	})
	if len(matched) == 0 {
		return Classification{}, false
	}
	return Classification{
		Kind:       Update,
		Matched:    matched,
		Confidence: gateConfidence(minDist, c.Thresholds.UpdateDistance),
	}, true
}

func (c *Classifier) contradictionOf(draft model.MemoryRecord, candidates []model.MemoryRecord) (Classification, bool) {
	if draft.Polarity == model.Neutral {
		return Classification{}, false
	}
	matched, minDist := matchWithin(draft, candidates, c.Thresholds.ContradictionDistance, func(cand model.MemoryRecord) bool {
		return cand.Polarity != model.Neutral &&
			cand.Polarity != draft.Polarity &&
			cand.SharesEntity(draft.Entities)
	})
	if len(matched) == 0 {
		return Classification{}, false
	}
	return Classification{
		Kind:       PreferenceContradiction,
		Matched:    matched,
		Confidence: gateConfidence(minDist, c.Thresholds.ContradictionDistance),
	}, true
}

func (c *Classifier) categoryUpdateOf(draft model.MemoryRecord, candidates []model.MemoryRecord) (Classification, bool) {
	if draft.Category == "" || draft.PrimaryEntity() == "" {
		return Classification{}, false
	}
	matched, minDist := matchWithin(draft, candidates, c.Thresholds.CategoryDistance, func(cand model.MemoryRecord) bool {
		return cand.Category == draft.Category && cand.PrimaryEntity() == draft.PrimaryEntity()
	})
	if len(matched) == 0 {
		return Classification{}, false
	}
	return Classification{
		Kind:       CategoryPreferenceUpdate,
		Matched:    matched,
		Confidence: gateConfidence(minDist, c.Thresholds.CategoryDistance),
	}, true
}

func (c *Classifier) applyFloor(cls Classification) Classification {
	if cls.Confidence < c.Thresholds.AmbiguityFloor {
		return Classification{Kind: NoConflict, Matched: nil, Confidence: cls.Confidence, Downgraded: true}
	}
	return cls
}

func matchWithin(draft model.MemoryRecord, candidates []model.MemoryRecord, gate float64, accept func(model.MemoryRecord) bool) ([]model.MemoryRecord, float64) {
	var matched []model.MemoryRecord
	minDist := gate
	for _, cand := range candidates {
		if !accept(cand) {
			continue
		}
		dist := model.CosineDistance(draft.Embedding, cand.Embedding)
		if dist > gate {
			continue
		}
		if dist < minDist {
			minDist = dist
		}
		matched = append(matched, cand)
	}
	return matched, minDist
}

func gateConfidence(dist, gate float64) float64 {
	if gate <= 0 {
		return 0
	}
	conf := 1 - 0.5*dist/gate
	if conf < 0 {
		return 0
	}
	return conf
}
