package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/ids"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

// defaultSearchLimit caps candidate sets when the caller does not.
const defaultSearchLimit = 20

// Scope identifies the caller of a memory operation: the agent and the
// character it controls. Writes outside the caller's group keys are
// rejected.
type Scope struct {
	AgentID     string
	CharacterID string
}

// AllowedGroups returns the group keys this scope may write to: the
// agent's personal scope, the character's personal scope, and the shared
// campaign scope.
func (s Scope) AllowedGroups() []string {
	return []string{
		ids.AgentGroup(s.AgentID),
		ids.CharacterGroup(s.CharacterID),
		ids.GroupCampaign,
	}
}

// CallerLayer names which side of the player/character split is reading.
type CallerLayer string

const (
	// CallerPlayer reads exclude character-only knowledge.
	CallerPlayer CallerLayer = "player"

	// CallerCharacter reads exclude player-only knowledge.
	CallerCharacter CallerLayer = "character"
)

// excludedLayer maps a caller layer to the knowledge layer it must not see.
func (l CallerLayer) excludedLayer() (KnowledgeLayer, error) {
	switch l {
	case CallerPlayer:
		return LayerCharacterOnly, nil
	case CallerCharacter:
		return LayerPlayerOnly, nil
	}
	return "", fmt.Errorf("memory: caller layer %q is invalid", l)
}

// EpisodeInput describes one episode to consolidate.
type EpisodeInput struct {
	GroupKey      string
	SessionNumber int
	Content       string
	ReferenceTime time.Time
	Metadata      map[string]any

	// Facts are pre-extracted statements to store as edges. When empty,
	// the configured [Extractor] derives them; without one, the content
	// becomes a single fact.
	Facts []string

	MemoryType     MemoryType
	KnowledgeLayer KnowledgeLayer

	// Importance and Confidence seed the new edges. Zero Confidence
	// defaults to 1.
	Importance float64
	Confidence float64

	// DaysElapsed is the in-game day the episode happened on.
	DaysElapsed float64
}

// SearchRequest describes one read over the graph.
type SearchRequest struct {
	Query     string
	GroupKeys []string
	Layer     CallerLayer

	// AsOf is the temporal read point; zero means now.
	AsOf time.Time

	// DaysNow is the in-game day of the read, for the corruption time
	// factor.
	DaysNow float64

	MinConfidence    float64
	IncludeCorrupted bool
	Limit            int

	// Personality is the reading player's profile; it parameterizes
	// corruption probability and type selection only.
	Personality game.Personality
}

// Embedder maps query text to a vector for similarity search. Optional;
// without one the store falls back to full-text ranking.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Option configures a [Client].
type Option func(*Client)

// WithRenderer sets the corruption text renderer. Without one, corruption
// is disabled regardless of strength.
func WithRenderer(r Renderer) Option { return func(c *Client) { c.renderer = r } }

// WithExtractor sets the fact extractor used by [Client.AddEpisode].
func WithExtractor(e Extractor) Option { return func(c *Client) { c.extractor = e } }

// WithEmbedder enables vector search for reads.
func WithEmbedder(e Embedder) Option { return func(c *Client) { c.embedder = e } }

// WithRandSource fixes the corruption draw source, for deterministic tests.
func WithRandSource(src rand.Source) Option {
	return func(c *Client) { c.rng = rand.New(src) }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(c *Client) { c.log = log } }

// Client is the memory API used by phase nodes. It layers scope checking,
// knowledge-layer filtering, rehearsal accounting, and read-time
// corruption over a [Store].
//
// Safe for concurrent use.
type Client struct {
	store     Store
	renderer  Renderer
	extractor Extractor
	embedder  Embedder

	// strength is the global corruption multiplier; zero disables
	// corruption entirely.
	strength float64

	mu  sync.Mutex
	rng *rand.Rand
	log *slog.Logger
}

// NewClient creates a memory client over store. strength is the global
// corruption strength from config (zero disables corruption).
func NewClient(store Store, strength float64, opts ...Option) *Client {
	c := &Client{
		store:    store,
		strength: strength,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddEpisode consolidates one episode and its derived edges under
// in.GroupKey. The group key must be one of the caller's allowed scopes.
func (c *Client) AddEpisode(ctx context.Context, scope Scope, in EpisodeInput) (Episode, error) {
	if !slices.Contains(scope.AllowedGroups(), in.GroupKey) {
		return Episode{}, errs.Permission("memory: add_episode: scope %s/%s may not write to group %q",
			scope.AgentID, scope.CharacterID, in.GroupKey)
	}
	if !ids.ValidGroupKey(in.GroupKey) {
		return Episode{}, errs.Validation("memory: add_episode", fmt.Errorf("group key %q is invalid", in.GroupKey))
	}
	if in.Content == "" {
		return Episode{}, errs.Validation("memory: add_episode", fmt.Errorf("content is required"))
	}

	ep := Episode{
		ID:            ids.NewEdgeUUID(),
		GroupKey:      in.GroupKey,
		SessionNumber: in.SessionNumber,
		Content:       in.Content,
		ReferenceTime: in.ReferenceTime,
		Metadata:      in.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.store.InsertEpisode(ctx, ep); err != nil {
		return Episode{}, fmt.Errorf("memory: insert episode: %w", err)
	}

	facts := in.Facts
	if len(facts) == 0 && c.extractor != nil {
		extracted, err := c.extractor.ExtractFacts(ctx, in.Content)
		if err != nil {
			return Episode{}, fmt.Errorf("memory: extract facts: %w", err)
		}
		facts = extracted
	}
	if len(facts) == 0 {
		facts = []string{in.Content}
	}

	edges := make([]Edge, 0, len(facts))
	for _, fact := range facts {
		edge := Edge{
			UUID:           ids.NewEdgeUUID(),
			Fact:           fact,
			ValidAt:        in.ReferenceTime,
			EpisodeIDs:     []string{ep.ID},
			GroupKey:       in.GroupKey,
			AgentID:        scope.AgentID,
			MemoryType:     in.MemoryType,
			SessionNumber:  in.SessionNumber,
			DaysElapsed:    in.DaysElapsed,
			Confidence:     in.Confidence,
			Importance:     in.Importance,
			KnowledgeLayer: in.KnowledgeLayer,
		}
		if edge.MemoryType == "" {
			edge.MemoryType = Episodic
		}
		if edge.KnowledgeLayer == "" {
			edge.KnowledgeLayer = LayerBoth
		}
		if edge.Confidence == 0 {
			edge.Confidence = 1
		}
		if in.GroupKey == ids.GroupCampaign {
			edge.AgentID = ""
		}
		if err := edge.Validate(); err != nil {
			return Episode{}, errs.Validation("memory: add_episode edge", err)
		}
		if c.embedder != nil {
			embedding, err := c.embedder.Embed(ctx, fact)
			if err != nil {
				c.log.WarnContext(ctx, "fact embedding failed, storing without vector", "error", err)
			} else {
				edge.Embedding = embedding
			}
		}
		edges = append(edges, edge)
	}
	if err := c.store.InsertEdges(ctx, edges); err != nil {
		return Episode{}, fmt.Errorf("memory: insert edges: %w", err)
	}

	c.log.DebugContext(ctx, "episode consolidated",
		"group_key", in.GroupKey, "episode_id", ep.ID, "edges", len(edges))
	return ep, nil
}

// Search retrieves memories matching req, applying the knowledge-layer
// filter for the caller and read-time corruption per edge. Rehearsal
// counts increment for every returned edge, corrupted variants included.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]QueryResult, error) {
	excluded, err := req.Layer.excludedLayer()
	if err != nil {
		return nil, errs.Validation("memory: search", err)
	}
	if len(req.GroupKeys) == 0 {
		return nil, errs.Validation("memory: search", fmt.Errorf("at least one group key is required"))
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	cq := CandidateQuery{
		Query:            req.Query,
		GroupKeys:        req.GroupKeys,
		AsOf:             asOf,
		MinConfidence:    req.MinConfidence,
		ExcludeLayer:     excluded,
		IncludeCorrupted: req.IncludeCorrupted,
		Limit:            limit,
	}
	if c.embedder != nil && req.Query != "" {
		embedding, err := c.embedder.Embed(ctx, req.Query)
		if err != nil {
			c.log.WarnContext(ctx, "embedding failed, falling back to full-text search", "error", err)
		} else {
			cq.Embedding = embedding
		}
	}

	candidates, err := c.store.SearchCandidates(ctx, cq)
	if err != nil {
		return nil, fmt.Errorf("memory: search candidates: %w", err)
	}

	results := make([]QueryResult, 0, len(candidates))
	returnedUUIDs := make([]string, 0, len(candidates))
	for _, edge := range candidates {
		res := QueryResult{Edge: edge, Corrupted: edge.Corrupted()}
		if res.Corrupted {
			if orig, err := c.store.GetEdge(ctx, edge.OriginalUUID); err == nil && orig != nil {
				res.OriginalFact = orig.Fact
			}
		} else if corrupted, ok, err := c.maybeCorrupt(ctx, edge, req.Personality, req.DaysNow, asOf); err != nil {
			// Corruption is best effort; a render failure returns the
			// pristine fact rather than failing the read.
			c.log.WarnContext(ctx, "corruption render failed", "edge", edge.UUID, "error", err)
		} else if ok {
			res = QueryResult{Edge: corrupted, Corrupted: true, OriginalFact: edge.Fact}
		}
		results = append(results, res)
		returnedUUIDs = append(returnedUUIDs, res.Edge.UUID)
	}

	if len(returnedUUIDs) > 0 {
		if err := c.store.IncrementRehearsal(ctx, returnedUUIDs); err != nil {
			return nil, fmt.Errorf("memory: increment rehearsal: %w", err)
		}
	}
	return results, nil
}

// maybeCorrupt draws against the corruption probability for edge and, on a
// hit, materializes and returns the superseding corrupted variant.
func (c *Client) maybeCorrupt(ctx context.Context, edge Edge, personality game.Personality, daysNow float64, asOf time.Time) (Edge, bool, error) {
	if c.strength <= 0 || c.renderer == nil {
		return Edge{}, false, nil
	}

	p := CorruptionProbability(edge, personality, daysNow, c.strength)

	c.mu.Lock()
	draw := c.rng.Float64()
	var ctype CorruptionType
	if draw < p {
		ctype = SelectCorruptionType(personality, c.rng)
	}
	c.mu.Unlock()
	if draw >= p {
		return Edge{}, false, nil
	}

	degraded, err := c.renderer.RenderCorruption(ctx, edge.Fact, ctype)
	if err != nil {
		return Edge{}, false, err
	}

	corrupted := edge
	corrupted.UUID = ids.NewEdgeUUID()
	corrupted.Fact = degraded
	corrupted.ValidAt = asOf
	corrupted.InvalidAt = nil
	corrupted.CorruptionType = ctype
	corrupted.OriginalUUID = edge.UUID
	if err := c.store.InsertCorrupted(ctx, corrupted, asOf); err != nil {
		return Edge{}, false, fmt.Errorf("memory: materialize corrupted edge: %w", err)
	}

	c.log.DebugContext(ctx, "memory corrupted on read",
		"original", edge.UUID, "variant", corrupted.UUID, "type", ctype)
	return corrupted, true, nil
}

// Invalidate supersedes the edge with the given UUID at the given instant.
func (c *Client) Invalidate(ctx context.Context, uuid string, at time.Time) error {
	if err := c.store.Invalidate(ctx, uuid, at); err != nil {
		return fmt.Errorf("memory: invalidate %s: %w", uuid, err)
	}
	return nil
}
