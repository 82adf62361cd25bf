package engine

import (
	"time"

	"github.com/synaptiq/engram/pkg/memory/conflict"
	"github.com/synaptiq/engram/pkg/memory/model"
)

// ScoreWeights controls the contribution of each component when merged
// retrieval results are ranked.
type ScoreWeights struct {
	Similarity   float64
	Recency      float64
	TierPriority float64
	Strength     float64
}

// TierPolicy is the per-tier lifecycle configuration.
type TierPolicy struct {
	// HalfLife drives the pure time-based strength decay. Short tiers fade in
	// hours, emotional memories in months.
	HalfLife time.Duration
	// StrengthFloor is the effective strength below which the sweeper evicts
	// (or demotes, for the emotional tier).
	StrengthFloor float64
	// Timeout bounds this tier's retrieval task. A tier that misses its
	// deadline contributes nothing to the merge.
	Timeout time.Duration
}

// Options configures the memory manager.
type Options struct {
	Weights    ScoreWeights
	Tiers      map[model.Tier]TierPolicy
	Thresholds conflict.Thresholds
	Rules      conflict.Rules

	// CandidateK bounds the conflict candidate set.
	CandidateK int
	// TopN is the default retrieval bound when the caller passes none.
	TopN int
	// OverfetchFactor widens per-tier reads before merge and dedup.
	OverfetchFactor int
	// DedupSimilarity is the near-duplicate bar at read time; of two records
	// at least this similar, only the higher scored survives the merge.
	DedupSimilarity float64

	// InitialStrength seeds new records; AccessBoost is added on recall.
	InitialStrength float64
	AccessBoost     float64

	// ShortTermCap bounds the short-term tier; oldest records beyond the cap
	// are dropped on write.
	ShortTermCap int

	// BoostFlushSize and BoostFlushInterval batch read-time strength boosts
	// so retrieval never blocks on writes.
	BoostFlushSize     int
	BoostFlushInterval time.Duration

	// SweepInterval paces the background decay sweep.
	SweepInterval time.Duration
	// PromoteFloor is the effective strength a working record needs to be
	// consolidated into long-term memory when its session closes.
	PromoteFloor float64
	// SessionTTL expires idle sessions.
	SessionTTL time.Duration

	// WriteRetries bounds re-classification after a write conflict.
	WriteRetries int

	// MaxEntities caps per-utterance entity extraction.
	MaxEntities int
	// Speaker is the implicit primary entity for first-person statements.
	Speaker string

	// ForceUpdateDistance scopes ForceRemember's overwrite to close matches;
	// ForgetDistance scopes Forget's similarity deletes.
	ForceUpdateDistance float64
	ForgetDistance      float64

	// SummaryWindow and SummaryTopK shape the periodic digest.
	SummaryWindow time.Duration
	SummaryTopK   int

	Clock func() time.Time
}

// DefaultOptions returns the recommended defaults for the memory manager.
func DefaultOptions() Options {
	return Options{
		Weights: ScoreWeights{
			Similarity:   0.45,
			Recency:      0.20,
			TierPriority: 0.15,
			Strength:     0.20,
		},
		Tiers: map[model.Tier]TierPolicy{
			model.ShortTerm: {HalfLife: time.Hour, StrengthFloor: 0.05, Timeout: 2 * time.Second},
			model.Working:   {HalfLife: 6 * time.Hour, StrengthFloor: 0.05, Timeout: 2 * time.Second},
			model.LongTerm:  {HalfLife: 720 * time.Hour, StrengthFloor: 0.10, Timeout: 2 * time.Second},
			model.Emotional: {HalfLife: 2160 * time.Hour, StrengthFloor: 0.10, Timeout: 2 * time.Second},
		},
		Thresholds:          conflict.DefaultThresholds(),
		Rules:               conflict.DefaultRules(),
		CandidateK:          8,
		TopN:                8,
		OverfetchFactor:     4,
		DedupSimilarity:     0.97,
		InitialStrength:     0.9,
		AccessBoost:         0.1,
		ShortTermCap:        50,
		BoostFlushSize:      10,
		BoostFlushInterval:  time.Second,
		SweepInterval:       5 * time.Minute,
		PromoteFloor:        0.5,
		SessionTTL:          30 * time.Minute,
		WriteRetries:        2,
		MaxEntities:         5,
		Speaker:             "user",
		ForceUpdateDistance: 0.8,
		ForgetDistance:      0.7,
		SummaryWindow:       24 * time.Hour,
		SummaryTopK:         5,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.Weights.Similarity == 0 && o.Weights.Recency == 0 && o.Weights.TierPriority == 0 && o.Weights.Strength == 0 {
		o.Weights = defaults.Weights
	}
	if o.Tiers == nil {
		o.Tiers = defaults.Tiers
	} else {
		for _, tier := range model.Tiers() {
			policy, ok := o.Tiers[tier]
			if !ok {
				o.Tiers[tier] = defaults.Tiers[tier]
				continue
			}
			def := defaults.Tiers[tier]
			if policy.HalfLife <= 0 {
				policy.HalfLife = def.HalfLife
			}
			if policy.StrengthFloor <= 0 {
				policy.StrengthFloor = def.StrengthFloor
			}
			if policy.Timeout <= 0 {
				policy.Timeout = def.Timeout
			}
			o.Tiers[tier] = policy
		}
	}
	if o.Rules.UpdateMarkers == nil && o.Rules.PositiveMarkers == nil && o.Rules.Categories == nil {
		o.Rules = defaults.Rules
	}
	if o.CandidateK == 0 {
		o.CandidateK = defaults.CandidateK
	}
	if o.TopN == 0 {
		o.TopN = defaults.TopN
	}
	if o.OverfetchFactor == 0 {
		o.OverfetchFactor = defaults.OverfetchFactor
	}
	if o.DedupSimilarity == 0 {
		o.DedupSimilarity = defaults.DedupSimilarity
	}
	if o.InitialStrength == 0 {
		o.InitialStrength = defaults.InitialStrength
	}
	if o.AccessBoost == 0 {
		o.AccessBoost = defaults.AccessBoost
	}
	if o.ShortTermCap == 0 {
		o.ShortTermCap = defaults.ShortTermCap
	}
	if o.BoostFlushSize == 0 {
		o.BoostFlushSize = defaults.BoostFlushSize
	}
	if o.BoostFlushInterval == 0 {
		o.BoostFlushInterval = defaults.BoostFlushInterval
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = defaults.SweepInterval
	}
	if o.PromoteFloor == 0 {
		o.PromoteFloor = defaults.PromoteFloor
	}
	if o.SessionTTL == 0 {
		o.SessionTTL = defaults.SessionTTL
	}
	if o.WriteRetries == 0 {
		o.WriteRetries = defaults.WriteRetries
	}
	if o.MaxEntities == 0 {
		o.MaxEntities = defaults.MaxEntities
	}
	if o.Speaker == "" {
		o.Speaker = defaults.Speaker
	}
	if o.ForceUpdateDistance == 0 {
		o.ForceUpdateDistance = defaults.ForceUpdateDistance
	}
	if o.ForgetDistance == 0 {
		o.ForgetDistance = defaults.ForgetDistance
	}
	if o.SummaryWindow == 0 {
		o.SummaryWindow = defaults.SummaryWindow
	}
	if o.SummaryTopK == 0 {
		o.SummaryTopK = defaults.SummaryTopK
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

func (o Options) normalizedWeights() ScoreWeights {
	total := o.Weights.Similarity + o.Weights.Recency + o.Weights.TierPriority + o.Weights.Strength
	if total == 0 {
		return o.Weights
	}
	return ScoreWeights{
		Similarity:   o.Weights.Similarity / total,
		Recency:      o.Weights.Recency / total,
		TierPriority: o.Weights.TierPriority / total,
		Strength:     o.Weights.Strength / total,
	}
}

func (o Options) tierPolicy(tier model.Tier) TierPolicy {
	if policy, ok := o.Tiers[tier]; ok {
		return policy
	}
	return DefaultOptions().Tiers[tier]
}
