package engine

import (
	"sync/atomic"

	"github.com/synaptiq/engram/pkg/memory/conflict"
)

// Metrics captures lightweight runtime counters for observability.
type Metrics struct {
	stored               atomic.Int64
	duplicates           atomic.Int64
	updates              atomic.Int64
	contradictions       atomic.Int64
	categoryUpdates      atomic.Int64
	noConflicts          atomic.Int64
	ambiguousDowngrades  atomic.Int64
	writeConflictRetries atomic.Int64
	embedFailures        atomic.Int64
	retrievals           atomic.Int64
	retrievedRecords     atomic.Int64
	degradedTierReads    atomic.Int64
	boostsApplied        atomic.Int64
	evicted              atomic.Int64
	demoted              atomic.Int64
}

func (m *Metrics) IncStored()             { m.stored.Add(1) }
func (m *Metrics) IncAmbiguousDowngrade() { m.ambiguousDowngrades.Add(1) }
func (m *Metrics) IncWriteConflictRetry() { m.writeConflictRetries.Add(1) }
func (m *Metrics) IncEmbedFailure()       { m.embedFailures.Add(1) }
func (m *Metrics) IncRetrieval()          { m.retrievals.Add(1) }
func (m *Metrics) IncRetrieved(n int)     { m.retrievedRecords.Add(int64(n)) }
func (m *Metrics) IncDegradedTierRead()   { m.degradedTierReads.Add(1) }
func (m *Metrics) IncBoostsApplied(n int) { m.boostsApplied.Add(int64(n)) }
func (m *Metrics) IncEvicted(n int)       { m.evicted.Add(int64(n)) }
func (m *Metrics) IncDemoted(n int)       { m.demoted.Add(int64(n)) }

// IncConflict records a classification verdict.
func (m *Metrics) IncConflict(kind conflict.Kind) {
	switch kind {
	case conflict.Duplicate:
		m.duplicates.Add(1)
	case conflict.Update:
		m.updates.Add(1)
	case conflict.PreferenceContradiction:
		m.contradictions.Add(1)
	case conflict.CategoryPreferenceUpdate:
		m.categoryUpdates.Add(1)
	default:
		m.noConflicts.Add(1)
	}
}

// MetricsSnapshot is the current counter values for reporting and logging.
type MetricsSnapshot struct {
	Stored               int64 `json:"stored"`
	Duplicates           int64 `json:"duplicates"`
	Updates              int64 `json:"updates"`
	Contradictions       int64 `json:"contradictions"`
	CategoryUpdates      int64 `json:"category_updates"`
	NoConflicts          int64 `json:"no_conflicts"`
	AmbiguousDowngrades  int64 `json:"ambiguous_downgrades"`
	WriteConflictRetries int64 `json:"write_conflict_retries"`
	EmbedFailures        int64 `json:"embed_failures"`
	Retrievals           int64 `json:"retrievals"`
	RetrievedRecords     int64 `json:"retrieved_records"`
	DegradedTierReads    int64 `json:"degraded_tier_reads"`
	BoostsApplied        int64 `json:"boosts_applied"`
	Evicted              int64 `json:"evicted"`
	Demoted              int64 `json:"demoted"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Stored:               m.stored.Load(),
		Duplicates:           m.duplicates.Load(),
		Updates:              m.updates.Load(),
		Contradictions:       m.contradictions.Load(),
		CategoryUpdates:      m.categoryUpdates.Load(),
		NoConflicts:          m.noConflicts.Load(),
		AmbiguousDowngrades:  m.ambiguousDowngrades.Load(),
		WriteConflictRetries: m.writeConflictRetries.Load(),
		EmbedFailures:        m.embedFailures.Load(),
		Retrievals:           m.retrievals.Load(),
		RetrievedRecords:     m.retrievedRecords.Load(),
		DegradedTierReads:    m.degradedTierReads.Load(),
		BoostsApplied:        m.boostsApplied.Load(),
		Evicted:              m.evicted.Load(),
		Demoted:              m.demoted.Load(),
	}
}
