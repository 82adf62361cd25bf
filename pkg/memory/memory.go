// Package memory re-exports the tiered memory subsystem behind a single
// import path: the manager with its conflict-aware write pipeline and
// parallel retrieval, the pluggable vector stores, the embedding providers,
// and the session registry.
package memory

import (
	conflictpkg "github.com/synaptiq/engram/pkg/memory/conflict"
	embedpkg "github.com/synaptiq/engram/pkg/memory/embed"
	memengine "github.com/synaptiq/engram/pkg/memory/engine"
	"github.com/synaptiq/engram/pkg/memory/model"
	sessionpkg "github.com/synaptiq/engram/pkg/memory/session"
	storepkg "github.com/synaptiq/engram/pkg/memory/store"
)

// Type aliases forming the public API.
type (
	Manager             = memengine.Manager
	Options             = memengine.Options
	ScoreWeights        = memengine.ScoreWeights
	TierPolicy          = memengine.TierPolicy
	Turn                = memengine.Turn
	RememberResult      = memengine.RememberResult
	Bundle              = memengine.Bundle
	ScoredRecord        = memengine.ScoredRecord
	StatusReport        = memengine.StatusReport
	TierStatus          = memengine.TierStatus
	SweepReport         = memengine.SweepReport
	Metrics             = memengine.Metrics
	MetricsSnapshot     = memengine.MetricsSnapshot
	Summarizer          = memengine.Summarizer
	HeuristicSummarizer = memengine.HeuristicSummarizer
	ClaudeSummarizer    = memengine.ClaudeSummarizer

	MemoryRecord = model.MemoryRecord
	Tier         = model.Tier
	Polarity     = model.Polarity

	ConflictKind           = conflictpkg.Kind
	ConflictClassification = conflictpkg.Classification
	ConflictThresholds     = conflictpkg.Thresholds
	ConflictRules          = conflictpkg.Rules

	Session         = sessionpkg.Session
	SessionRegistry = sessionpkg.Registry

	VectorStore       = storepkg.VectorStore
	EntityIndex       = storepkg.EntityIndex
	SchemaInitializer = storepkg.SchemaInitializer
	InMemoryStore     = storepkg.InMemoryStore
	ChromemStore      = storepkg.ChromemStore
	PostgresStore     = storepkg.PostgresStore
	MongoStore        = storepkg.MongoStore

	Embedder       = embedpkg.Embedder
	CachedEmbedder = embedpkg.CachedEmbedder
	DummyEmbedder  = embedpkg.DummyEmbedder
)

const (
	ShortTerm = model.ShortTerm
	Working   = model.Working
	LongTerm  = model.LongTerm
	Emotional = model.Emotional

	Positive = model.Positive
	Neutral  = model.Neutral
	Negative = model.Negative

	Duplicate                = conflictpkg.Duplicate
	Update                   = conflictpkg.Update
	PreferenceContradiction  = conflictpkg.PreferenceContradiction
	CategoryPreferenceUpdate = conflictpkg.CategoryPreferenceUpdate
	NoConflict               = conflictpkg.NoConflict
)

var (
	ErrWriteConflict       = conflictpkg.ErrWriteConflict
	ErrStoreUnavailable    = storepkg.ErrUnavailable
	ErrNotFound            = storepkg.ErrNotFound
	ErrEmbedderUnavailable = embedpkg.ErrUnavailable
	ErrSessionUnknown      = sessionpkg.ErrSessionUnknown
	ErrSessionExpired      = sessionpkg.ErrSessionExpired

	NewManager          = memengine.NewManager
	DefaultOptions      = memengine.DefaultOptions
	NewClaudeSummarizer = memengine.NewClaudeSummarizer
	FormatContext       = memengine.FormatContext

	NewRegistry = sessionpkg.NewRegistry

	AutoEmbedder        = embedpkg.AutoEmbedder
	NewCachedEmbedder   = embedpkg.NewCachedEmbedder
	NewOpenAIEmbedder   = embedpkg.NewOpenAIEmbedder
	NewOllamaEmbedder   = embedpkg.NewOllamaEmbedder
	NewVertexAIEmbedder = embedpkg.NewVertexAIEmbedder
	NewVoyageEmbedder   = embedpkg.NewVoyageEmbedder

	NewInMemoryStore          = storepkg.NewInMemoryStore
	NewChromemStore           = storepkg.NewChromemStore
	NewPersistentChromemStore = storepkg.NewPersistentChromemStore
	NewPostgresStore          = storepkg.NewPostgresStore
	NewMongoStore             = storepkg.NewMongoStore
	NewMemoryEntityIndex      = storepkg.NewMemoryEntityIndex
)
