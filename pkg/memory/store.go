// Package memory provides the temporal knowledge graph shared by Starcrew
// agents, with read-time corruption that models how unreliable narrators
// actually remember.
//
// Edges are scoped by group key — one per agent, one per character, and
// the party-wide campaign scope — and are bitemporally valid: every read
// is evaluated "as of" an instant, so a superseded fact stays queryable
// for the window in which it was believed. Corruption is a decorator on
// the read path: a probability derived from the owning player's
// personality decides per edge whether a degraded variant is materialized
// and returned instead of the pristine fact.
//
// [Store] is the persistence boundary; [Client] layers scope checking,
// layer filtering, rehearsal accounting, and corruption on top of it.
// Implementations of Store must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// CandidateQuery selects edges for a read before corruption is applied.
// All filters are ANDed.
type CandidateQuery struct {
	// Query is the free-text search string, used for full-text ranking
	// when Embedding is nil.
	Query string

	// Embedding, when set, switches ranking to vector similarity.
	Embedding []float32

	// GroupKeys limits the search scope. Required.
	GroupKeys []string

	// AsOf is the temporal read point: valid_at <= AsOf and
	// (invalid_at is null or invalid_at > AsOf).
	AsOf time.Time

	// MinConfidence drops edges below this confidence.
	MinConfidence float64

	// ExcludeLayer drops edges of the given knowledge layer; used to keep
	// player-only facts out of character reads and vice versa.
	ExcludeLayer KnowledgeLayer

	// IncludeCorrupted keeps already-corrupted variants in the candidate
	// set. Pristine edges superseded by a corrupted variant are excluded
	// either way.
	IncludeCorrupted bool

	// Limit caps the number of candidates. Zero applies the
	// implementation default.
	Limit int
}

// Store is the persistence backend for episodes and edges.
type Store interface {
	// InsertEpisode writes one episode record.
	InsertEpisode(ctx context.Context, ep Episode) error

	// InsertEdges writes the edges derived from an episode.
	InsertEdges(ctx context.Context, edges []Edge) error

	// SearchCandidates returns edges matching q, best match first.
	SearchCandidates(ctx context.Context, q CandidateQuery) ([]Edge, error)

	// GetEdge returns the edge with the given UUID, or (nil, nil) when it
	// does not exist.
	GetEdge(ctx context.Context, uuid string) (*Edge, error)

	// IncrementRehearsal bumps rehearsal_count for every listed edge.
	IncrementRehearsal(ctx context.Context, uuids []string) error

	// Invalidate closes an edge's validity window at the given instant.
	Invalidate(ctx context.Context, uuid string, at time.Time) error

	// InsertCorrupted writes a corrupted variant and invalidates its
	// pristine predecessor in one atomic step.
	InsertCorrupted(ctx context.Context, corrupted Edge, at time.Time) error
}

// Renderer produces the degraded text of a corrupted fact. The production
// implementation asks an LLM for a subtle, plausible degradation matching
// the selected corruption type.
type Renderer interface {
	RenderCorruption(ctx context.Context, fact string, ctype CorruptionType) (string, error)
}

// Extractor derives discrete facts from episode content. Implementations
// typically ask an LLM; a nil Extractor on the [Client] stores the episode
// content as a single fact.
type Extractor interface {
	ExtractFacts(ctx context.Context, content string) ([]string, error)
}
