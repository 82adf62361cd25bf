package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/synaptiq/engram/pkg/memory/model"
)

// Neo4jAccessMode controls whether a session is opened for read or write.
type Neo4jAccessMode string

const (
	AccessModeWrite Neo4jAccessMode = "write"
	AccessModeRead  Neo4jAccessMode = "read"
)

// Neo4jSessionConfig mirrors the subset of session configuration we need.
type Neo4jSessionConfig struct {
	AccessMode   Neo4jAccessMode
	DatabaseName string
}

// neo4jDriver abstracts the Neo4j driver capabilities the index uses. Tests
// provide lightweight fakes; the real driver lives behind the optional neo4j
// build tag so default builds carry no cgo-free-but-heavy dependency code.
type neo4jDriver interface {
	NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error)
	Close(ctx context.Context) error
}

type neo4jSession interface {
	BeginTransaction(ctx context.Context) (neo4jTransaction, error)
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Close(ctx context.Context) error
}

type neo4jTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jResult interface {
	Next(ctx context.Context) bool
	Record() neo4jRecord
	Err() error
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

// ErrNeo4jUnavailable is returned when graph operations run without a driver.
var ErrNeo4jUnavailable = errors.New("neo4j driver not configured")

const (
	neo4jLinkCypher = `
MERGE (m:Memory {id: $id})
SET m.tier = $tier, m.category = $category
WITH m
UNWIND $entities AS name
MERGE (e:Entity {name: name})
MERGE (m)-[:MENTIONS]->(e)
`

	neo4jSupersedeCypher = `
MERGE (n:Memory {id: $new_id})
WITH n
MATCH (o:Memory {id: $old_id})
MERGE (o)-[:SUPERSEDED_BY]->(n)
WITH o
OPTIONAL MATCH (o)-[r:MENTIONS]->()
DELETE r
`

	neo4jRelatedCypher = `
MATCH (m:Memory)-[:MENTIONS]->(e:Entity)
WHERE e.name IN $names AND NOT (m)-[:SUPERSEDED_BY]->()
RETURN DISTINCT m.id AS id
LIMIT $limit
`
)

// Neo4jEntityIndex persists entity links and supersession lineage in a Neo4j
// knowledge graph. Memories become (:Memory) nodes joined to (:Entity) nodes
// by MENTIONS edges; conflict resolution adds SUPERSEDED_BY edges between the
// replaced and the replacing record so provenance survives deletion from the
// vector store.
type Neo4jEntityIndex struct {
	driver   neo4jDriver
	database string
}

var _ EntityIndex = (*Neo4jEntityIndex)(nil)

func NewNeo4jEntityIndex(driver neo4jDriver, database string) (*Neo4jEntityIndex, error) {
	if driver == nil {
		return nil, ErrNeo4jUnavailable
	}
	return &Neo4jEntityIndex{driver: driver, database: database}, nil
}

// EnsureSchema creates the uniqueness constraints the MERGE statements rely on.
func (idx *Neo4jEntityIndex) EnsureSchema(ctx context.Context) error {
	session, err := idx.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	queries := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE",
	}
	for _, query := range queries {
		res, runErr := session.Run(ctx, query, nil)
		if runErr != nil {
			return fmt.Errorf("neo4j schema query: %w", runErr)
		}
		if res != nil {
			_ = res.Close(ctx)
		}
	}
	return nil
}

func (idx *Neo4jEntityIndex) Link(ctx context.Context, rec model.MemoryRecord) error {
	if rec.ID == "" || len(rec.Entities) == 0 {
		return nil
	}
	session, err := idx.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jLinkCypher, map[string]any{
		"id":       rec.ID,
		"tier":     string(rec.Tier),
		"category": rec.Category,
		"entities": rec.Entities,
	})
	if err != nil {
		return fmt.Errorf("neo4j link: %w", err)
	}
	if res != nil {
		_ = res.Close(ctx)
	}
	return nil
}

func (idx *Neo4jEntityIndex) Unlink(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	session, err := idx.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, "MATCH (m:Memory) WHERE m.id IN $ids DETACH DELETE m", map[string]any{"ids": ids})
	if err != nil {
		return fmt.Errorf("neo4j unlink: %w", err)
	}
	if res != nil {
		_ = res.Close(ctx)
	}
	return nil
}

func (idx *Neo4jEntityIndex) Supersede(ctx context.Context, newID string, oldIDs []string) error {
	if newID == "" || len(oldIDs) == 0 {
		return nil
	}
	session, err := idx.writeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("neo4j begin tx: %w", err)
	}
	defer tx.Close(ctx)
	for _, oldID := range oldIDs {
		res, runErr := tx.Run(ctx, neo4jSupersedeCypher, map[string]any{"new_id": newID, "old_id": oldID})
		if runErr != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("neo4j supersede: %w", runErr)
		}
		if res != nil {
			_ = res.Close(ctx)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("neo4j commit: %w", err)
	}
	return nil
}

func (idx *Neo4jEntityIndex) RelatedIDs(ctx context.Context, entities []string, limit int) ([]string, error) {
	if len(entities) == 0 || limit <= 0 {
		return nil, nil
	}
	session, err := idx.newSession(ctx, AccessModeRead)
	if err != nil {
		return nil, err
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, neo4jRelatedCypher, map[string]any{"names": entities, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("neo4j related: %w", err)
	}
	defer func() {
		if res != nil {
			_ = res.Close(ctx)
		}
	}()
	var ids []string
	for res.Next(ctx) {
		rec := res.Record()
		if rec == nil {
			continue
		}
		if raw, ok := rec.Get("id"); ok {
			if id, ok := raw.(string); ok {
				ids = append(ids, id)
			}
		}
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("neo4j related rows: %w", err)
	}
	return ids, nil
}

func (idx *Neo4jEntityIndex) Close() error {
	if idx.driver == nil {
		return nil
	}
	return idx.driver.Close(context.Background())
}

func (idx *Neo4jEntityIndex) writeSession(ctx context.Context) (neo4jSession, error) {
	return idx.newSession(ctx, AccessModeWrite)
}

func (idx *Neo4jEntityIndex) newSession(ctx context.Context, mode Neo4jAccessMode) (neo4jSession, error) {
	if idx.driver == nil {
		return nil, ErrNeo4jUnavailable
	}
	session, err := idx.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: mode, DatabaseName: idx.database})
	if err != nil {
		return nil, fmt.Errorf("neo4j new session: %w", err)
	}
	return session, nil
}
