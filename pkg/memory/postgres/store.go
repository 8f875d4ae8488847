// Package postgres provides the PostgreSQL-backed memory store. Edges
// live in a single table with pgvector embeddings for similarity search
// and a GIN full-text index as the fallback ranking path; episodes are
// kept alongside for provenance.
//
// The pgvector extension must be available in the target database;
// [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/starcrew-ai/starcrew/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

const ddlEpisodes = `
CREATE TABLE IF NOT EXISTS memory_episodes (
    id             TEXT         PRIMARY KEY,
    group_key      TEXT         NOT NULL,
    session_number INT          NOT NULL DEFAULT 0,
    content        TEXT         NOT NULL,
    reference_time TIMESTAMPTZ  NOT NULL,
    metadata       JSONB        NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_episodes_group
    ON memory_episodes (group_key, reference_time);
`

// ddlEdges returns the edge DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation.
func ddlEdges(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_edges (
    uuid            TEXT         PRIMARY KEY,
    fact            TEXT         NOT NULL,
    valid_at        TIMESTAMPTZ  NOT NULL,
    invalid_at      TIMESTAMPTZ,
    episode_ids     TEXT[]       NOT NULL DEFAULT '{}',
    source_uuid     TEXT         NOT NULL DEFAULT '',
    target_uuid     TEXT         NOT NULL DEFAULT '',
    group_key       TEXT         NOT NULL,
    agent_id        TEXT         NOT NULL DEFAULT '',
    memory_type     TEXT         NOT NULL,
    session_number  INT          NOT NULL DEFAULT 0,
    days_elapsed    DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence      DOUBLE PRECISION NOT NULL DEFAULT 1,
    importance      DOUBLE PRECISION NOT NULL DEFAULT 0,
    rehearsal_count INT          NOT NULL DEFAULT 0,
    corruption_type TEXT         NOT NULL DEFAULT '',
    original_uuid   TEXT         NOT NULL DEFAULT '',
    knowledge_layer TEXT         NOT NULL DEFAULT 'both',
    embedding       vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_memory_edges_group
    ON memory_edges (group_key, valid_at);

CREATE INDEX IF NOT EXISTS idx_memory_edges_fts
    ON memory_edges USING GIN (to_tsvector('english', fact));

CREATE INDEX IF NOT EXISTS idx_memory_edges_embedding
    ON memory_edges USING hnsw (embedding vector_cosine_ops);

-- At most one live corrupted variant per pristine edge.
CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_edges_original
    ON memory_edges (original_uuid)
    WHERE original_uuid <> '' AND invalid_at IS NULL;
`, embeddingDimensions)
}

// Store implements [memory.Store] over a shared [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a memory store, establishes a pool to the database at
// dsn, registers pgvector types on every connection, and runs [Migrate].
//
// embeddingDimensions must match the configured embedding model (e.g.,
// 1536 for OpenAI text-embedding-3-small). Changing it after the first
// migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool wraps an existing pool. The caller is responsible for
// pgvector type registration and migration.
func NewStoreWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates or ensures all required tables and extensions exist.
// Idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	for _, stmt := range []string{ddlEpisodes, ddlEdges(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memory migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InsertEpisode implements [memory.Store].
func (s *Store) InsertEpisode(ctx context.Context, ep memory.Episode) error {
	const q = `
		INSERT INTO memory_episodes
		    (id, group_key, session_number, content, reference_time, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		ep.ID, ep.GroupKey, ep.SessionNumber, ep.Content,
		ep.ReferenceTime, ep.Metadata, ep.CreatedAt)
	if err != nil {
		return fmt.Errorf("memory store: insert episode %s: %w", ep.ID, err)
	}
	return nil
}

const insertEdgeSQL = `
	INSERT INTO memory_edges
	    (uuid, fact, valid_at, invalid_at, episode_ids, source_uuid, target_uuid,
	     group_key, agent_id, memory_type, session_number, days_elapsed,
	     confidence, importance, rehearsal_count, corruption_type, original_uuid,
	     knowledge_layer, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

func edgeArgs(e memory.Edge) []any {
	var embedding any
	if len(e.Embedding) > 0 {
		embedding = pgvector.NewVector(e.Embedding)
	}
	return []any{
		e.UUID, e.Fact, e.ValidAt, e.InvalidAt, e.EpisodeIDs, e.SourceUUID, e.TargetUUID,
		e.GroupKey, e.AgentID, string(e.MemoryType), e.SessionNumber, e.DaysElapsed,
		e.Confidence, e.Importance, e.RehearsalCount, string(e.CorruptionType), e.OriginalUUID,
		string(e.KnowledgeLayer), embedding,
	}
}

// InsertEdges implements [memory.Store].
func (s *Store) InsertEdges(ctx context.Context, edges []memory.Edge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("memory store: begin insert edges: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range edges {
		if _, err := tx.Exec(ctx, insertEdgeSQL, edgeArgs(e)...); err != nil {
			return fmt.Errorf("memory store: insert edge %s: %w", e.UUID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("memory store: commit insert edges: %w", err)
	}
	return nil
}

const edgeColumns = `uuid, fact, valid_at, invalid_at, episode_ids, source_uuid, target_uuid,
	       group_key, agent_id, memory_type, session_number, days_elapsed,
	       confidence, importance, rehearsal_count, corruption_type, original_uuid,
	       knowledge_layer`

// SearchCandidates implements [memory.Store]. Ranking is vector cosine
// distance when an embedding is supplied, full-text relevance otherwise,
// falling back to recency when no query is given.
func (s *Store) SearchCandidates(ctx context.Context, cq memory.CandidateQuery) ([]memory.Edge, error) {
	args := []any{cq.GroupKeys, cq.AsOf}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"group_key = ANY($1)",
		"valid_at <= $2",
		"(invalid_at IS NULL OR invalid_at > $2)",
	}
	if cq.MinConfidence > 0 {
		conditions = append(conditions, "confidence >= "+next(cq.MinConfidence))
	}
	if cq.ExcludeLayer != "" {
		conditions = append(conditions, "knowledge_layer <> "+next(string(cq.ExcludeLayer)))
	}
	if !cq.IncludeCorrupted {
		conditions = append(conditions, "original_uuid = ''")
	}

	order := "valid_at DESC"
	switch {
	case len(cq.Embedding) > 0:
		order = "embedding <=> " + next(pgvector.NewVector(cq.Embedding))
		conditions = append(conditions, "embedding IS NOT NULL")
	case cq.Query != "":
		ph := next(cq.Query)
		conditions = append(conditions,
			"to_tsvector('english', fact) @@ plainto_tsquery('english', "+ph+")")
		order = "ts_rank(to_tsvector('english', fact), plainto_tsquery('english', " + ph + ")) DESC"
	}

	limit := cq.Limit
	if limit <= 0 {
		limit = 20
	}

	q := "SELECT " + edgeColumns + "\nFROM memory_edges\nWHERE "
	for i, c := range conditions {
		if i > 0 {
			q += "\n  AND "
		}
		q += c
	}
	q += "\nORDER BY " + order
	q += fmt.Sprintf("\nLIMIT %s", next(limit))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory store: search candidates: %w", err)
	}
	return collectEdges(rows)
}

// GetEdge implements [memory.Store].
func (s *Store) GetEdge(ctx context.Context, uuid string) (*memory.Edge, error) {
	q := "SELECT " + edgeColumns + " FROM memory_edges WHERE uuid = $1"

	rows, err := s.pool.Query(ctx, q, uuid)
	if err != nil {
		return nil, fmt.Errorf("memory store: get edge %s: %w", uuid, err)
	}
	edges, err := collectEdges(rows)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}
	return &edges[0], nil
}

// IncrementRehearsal implements [memory.Store].
func (s *Store) IncrementRehearsal(ctx context.Context, uuids []string) error {
	const q = `UPDATE memory_edges SET rehearsal_count = rehearsal_count + 1 WHERE uuid = ANY($1)`

	if _, err := s.pool.Exec(ctx, q, uuids); err != nil {
		return fmt.Errorf("memory store: increment rehearsal: %w", err)
	}
	return nil
}

// Invalidate implements [memory.Store].
func (s *Store) Invalidate(ctx context.Context, uuid string, at time.Time) error {
	const q = `UPDATE memory_edges SET invalid_at = $2 WHERE uuid = $1 AND invalid_at IS NULL`

	if _, err := s.pool.Exec(ctx, q, uuid, at); err != nil {
		return fmt.Errorf("memory store: invalidate %s: %w", uuid, err)
	}
	return nil
}

// InsertCorrupted implements [memory.Store]. The corrupted variant and
// the invalidation of its pristine predecessor commit atomically.
func (s *Store) InsertCorrupted(ctx context.Context, corrupted memory.Edge, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("memory store: begin corrupt: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertEdgeSQL, edgeArgs(corrupted)...); err != nil {
		return fmt.Errorf("memory store: insert corrupted %s: %w", corrupted.UUID, err)
	}

	const q = `UPDATE memory_edges SET invalid_at = $2 WHERE uuid = $1 AND invalid_at IS NULL`
	if _, err := tx.Exec(ctx, q, corrupted.OriginalUUID, at); err != nil {
		return fmt.Errorf("memory store: supersede %s: %w", corrupted.OriginalUUID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("memory store: commit corrupt: %w", err)
	}
	return nil
}

func collectEdges(rows pgx.Rows) ([]memory.Edge, error) {
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Edge, error) {
		var e memory.Edge
		err := row.Scan(
			&e.UUID, &e.Fact, &e.ValidAt, &e.InvalidAt, &e.EpisodeIDs,
			&e.SourceUUID, &e.TargetUUID, &e.GroupKey, &e.AgentID,
			&e.MemoryType, &e.SessionNumber, &e.DaysElapsed,
			&e.Confidence, &e.Importance, &e.RehearsalCount,
			&e.CorruptionType, &e.OriginalUUID, &e.KnowledgeLayer,
		)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan edges: %w", err)
	}
	if edges == nil {
		edges = []memory.Edge{}
	}
	return edges, nil
}
