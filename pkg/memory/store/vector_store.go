package store

import (
	"context"
	"errors"

	"github.com/synaptiq/engram/pkg/memory/model"
)

var (
	// ErrUnavailable marks backend connectivity failures. The engine degrades
	// every memory operation to an explicit no-op status when it sees this.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrNotFound is returned by Get for unknown ids. Delete treats missing
	// ids as already satisfied and never returns it.
	ErrNotFound = errors.New("memory record not found")
)

// VectorStore persists memory records across the four tiers and answers
// similarity, entity, and recency lookups. Implementations must be safe for
// concurrent use.
type VectorStore interface {
	// Upsert writes the record under rec.ID, replacing any previous version.
	Upsert(ctx context.Context, rec model.MemoryRecord) error

	// Query returns up to k records from the tier ranked by cosine
	// similarity to the embedding, most similar first, with Score set.
	Query(ctx context.Context, tier model.Tier, embedding []float32, k int) ([]model.MemoryRecord, error)

	// Get fetches one record by id across all tiers.
	Get(ctx context.Context, id string) (model.MemoryRecord, error)

	// Delete removes records by id. Missing ids are not an error.
	Delete(ctx context.Context, ids ...string) error

	// ByEntity returns records in the tier that mention the entity.
	ByEntity(ctx context.Context, tier model.Tier, entity string, limit int) ([]model.MemoryRecord, error)

	// Recent returns the newest records in the tier, newest first.
	Recent(ctx context.Context, tier model.Tier, limit int) ([]model.MemoryRecord, error)

	// Iterate walks every record in creation order until fn returns false.
	Iterate(ctx context.Context, fn func(model.MemoryRecord) bool) error

	// Count reports the number of records in the tier.
	Count(ctx context.Context, tier model.Tier) (int, error)

	Close() error
}

// SchemaInitializer is implemented by backends that bootstrap their schema.
type SchemaInitializer interface {
	CreateSchema(ctx context.Context, schemaPath string) error
}

// EntityIndex links records to the entities they mention so candidate lookup
// can follow entity overlap without scanning the store. Implementations may
// also track supersession edges for provenance queries.
type EntityIndex interface {
	Link(ctx context.Context, rec model.MemoryRecord) error
	Unlink(ctx context.Context, ids ...string) error
	Supersede(ctx context.Context, newID string, oldIDs []string) error
	RelatedIDs(ctx context.Context, entities []string, limit int) ([]string, error)
	Close() error
}
