package model

import (
	"strings"
	"time"
)

// Tier identifies one of the four memory partitions.
type Tier string

const (
	ShortTerm Tier = "short_term"
	Working   Tier = "working"
	LongTerm  Tier = "long_term"
	Emotional Tier = "emotional"
)

// Tiers returns every tier in retrieval fan-out order.
func Tiers() []Tier {
	return []Tier{ShortTerm, Working, LongTerm, Emotional}
}

// ConflictTiers returns the tiers whose records are eligible overwrite targets.
// ShortTerm and Working accumulate freely and are never overwritten.
func ConflictTiers() []Tier {
	return []Tier{LongTerm, Emotional}
}

// ConflictEligible reports whether records in this tier may be overwritten by
// the conflict resolver.
func (t Tier) ConflictEligible() bool {
	return t == LongTerm || t == Emotional
}

// ParseTier normalizes a tier label. Unknown labels map to Working.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case ShortTerm:
		return ShortTerm
	case Working:
		return Working
	case LongTerm:
		return LongTerm
	case Emotional:
		return Emotional
	}
	return Working
}

// Priority returns the retrieval weight of the tier. Emotional memories rank
// highest, mirroring how salient events dominate human recall.
func (t Tier) Priority() float64 {
	switch t {
	case Emotional:
		return 1.0
	case LongTerm:
		return 0.85
	case Working:
		return 0.7
	case ShortTerm:
		return 0.55
	}
	return 0.5
}

// Polarity captures the sentiment direction of a preference statement.
type Polarity int

const (
	Negative Polarity = -1
	Neutral  Polarity = 0
	Positive Polarity = 1
)

// keySeparator joins the primary entity and category into a conflict key.
// U+241F (symbol for unit separator) cannot occur in extracted entities.
const keySeparator = "␟"

// MemoryRecord is a single remembered fact or utterance. Records are immutable
// once stored; every update is modeled as insert-new followed by delete-old.
type MemoryRecord struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"embedding,omitempty"`
	Tier           Tier      `json:"tier"`
	Entities       []string  `json:"entities,omitempty"`
	Category       string    `json:"category,omitempty"`
	Polarity       Polarity  `json:"polarity"`
	SessionID      string    `json:"session_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Strength       float64   `json:"strength"`
	Generation     int64     `json:"generation"`

	// Score is populated by store queries and retrieval ranking; it is not
	// persisted.
	Score float64 `json:"score,omitempty"`
}

// Clone returns a deep copy so callers can hold records without aliasing the
// store's buffers.
func (r MemoryRecord) Clone() MemoryRecord {
	cp := r
	if len(r.Embedding) > 0 {
		cp.Embedding = append([]float32(nil), r.Embedding...)
	}
	if len(r.Entities) > 0 {
		cp.Entities = append([]string(nil), r.Entities...)
	}
	return cp
}

// PrimaryEntity returns the most salient entity, or "" when none were found.
func (r MemoryRecord) PrimaryEntity() string {
	if len(r.Entities) == 0 {
		return ""
	}
	return r.Entities[0]
}

// Key returns the (primary entity, category) conflict key. Records without a
// primary entity have no key and are exempt from the canonical-record rule.
func (r MemoryRecord) Key() string {
	primary := r.PrimaryEntity()
	if primary == "" {
		return ""
	}
	return primary + keySeparator + r.Category
}

// ConflictKey builds the same key from loose parts.
func ConflictKey(primaryEntity, category string) string {
	if primaryEntity == "" {
		return ""
	}
	return primaryEntity + keySeparator + category
}

// SharesEntity reports whether the record mentions any of the given entities.
func (r MemoryRecord) SharesEntity(entities []string) bool {
	for _, have := range r.Entities {
		for _, want := range entities {
			if have == want {
				return true
			}
		}
	}
	return false
}
