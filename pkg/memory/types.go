package memory

import (
	"errors"
	"fmt"
	"time"
)

// MemoryType classifies what an edge encodes.
type MemoryType string

const (
	// Episodic edges record events: "Zara repaired the console in turn 4".
	Episodic MemoryType = "episodic"

	// Semantic edges record standing facts: "the captain distrusts androids".
	Semantic MemoryType = "semantic"

	// Procedural edges record how-to knowledge: "rerouting power needs two
	// successes".
	Procedural MemoryType = "procedural"
)

// IsValid reports whether t is a recognised memory type.
func (t MemoryType) IsValid() bool {
	return t == Episodic || t == Semantic || t == Procedural
}

// KnowledgeLayer restricts which side of the player/character split may
// retrieve an edge.
type KnowledgeLayer string

const (
	// LayerPlayerOnly is strategic knowledge characters must never see.
	LayerPlayerOnly KnowledgeLayer = "player_only"

	// LayerCharacterOnly is in-fiction knowledge players must never see.
	LayerCharacterOnly KnowledgeLayer = "character_only"

	// LayerBoth is visible to both layers. The default.
	LayerBoth KnowledgeLayer = "both"
)

// IsValid reports whether l is a recognised knowledge layer.
func (l KnowledgeLayer) IsValid() bool {
	return l == LayerPlayerOnly || l == LayerCharacterOnly || l == LayerBoth
}

// CorruptionType names the flavour of degradation applied to a fact.
type CorruptionType string

const (
	// CorruptionDetailDrift is a small numeric, name, or colour drift.
	CorruptionDetailDrift CorruptionType = "detail_drift"

	// CorruptionEmotionalColoring recolors emotional content by mood.
	CorruptionEmotionalColoring CorruptionType = "emotional_coloring"

	// CorruptionConflation blends elements of two events.
	CorruptionConflation CorruptionType = "conflation"

	// CorruptionSimplification loses nuance.
	CorruptionSimplification CorruptionType = "simplification"

	// CorruptionFalseConfidence adds a specific unsupported detail.
	CorruptionFalseConfidence CorruptionType = "false_confidence"
)

// Edge is one fact in the temporal memory graph. Edges are bitemporally
// valid: an edge holds from ValidAt until InvalidAt (open-ended when
// unset). Corruption never mutates an edge; it adds a superseding one that
// points back through OriginalUUID.
type Edge struct {
	UUID string    `json:"uuid"`
	Fact string    `json:"fact"`

	ValidAt   time.Time  `json:"valid_at"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`

	// EpisodeIDs are the episodes this edge was derived from.
	EpisodeIDs []string `json:"episode_ids,omitempty"`

	// SourceUUID and TargetUUID are the node endpoints in the graph.
	SourceUUID string `json:"source_uuid,omitempty"`
	TargetUUID string `json:"target_uuid,omitempty"`

	// GroupKey scopes the edge: an agent key, a character key, or the
	// shared campaign key.
	GroupKey string `json:"group_key"`

	// AgentID is the owning agent, empty for campaign-shared edges.
	AgentID string `json:"agent_id,omitempty"`

	MemoryType    MemoryType `json:"memory_type"`
	SessionNumber int        `json:"session_number"`

	// DaysElapsed is the in-game days at formation time; corruption's time
	// factor is computed from the gap to the read's in-game clock.
	DaysElapsed float64 `json:"days_elapsed"`

	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`

	// RehearsalCount increments on every successful retrieval and damps
	// future corruption.
	RehearsalCount int `json:"rehearsal_count"`

	// CorruptionType and OriginalUUID are set only on corrupted variants.
	CorruptionType CorruptionType `json:"corruption_type,omitempty"`
	OriginalUUID   string         `json:"original_uuid,omitempty"`

	KnowledgeLayer KnowledgeLayer `json:"knowledge_layer"`

	// Embedding is the fact's vector for similarity search. Not part of
	// the edge's logical identity; omitted from serialized state.
	Embedding []float32 `json:"-"`
}

// Corrupted reports whether the edge is a degraded variant.
func (e Edge) Corrupted() bool { return e.OriginalUUID != "" }

// Validate checks the edge's structural invariants.
func (e Edge) Validate() error {
	var problems []error
	if e.UUID == "" {
		problems = append(problems, errors.New("uuid is required"))
	}
	if e.Fact == "" {
		problems = append(problems, errors.New("fact is required"))
	}
	if e.GroupKey == "" {
		problems = append(problems, errors.New("group key is required"))
	}
	if e.ValidAt.IsZero() {
		problems = append(problems, errors.New("valid_at is required"))
	}
	if e.InvalidAt != nil && !e.InvalidAt.After(e.ValidAt) {
		problems = append(problems, fmt.Errorf("invalid_at %v must be after valid_at %v", e.InvalidAt, e.ValidAt))
	}
	if !e.MemoryType.IsValid() {
		problems = append(problems, fmt.Errorf("memory_type %q is invalid", e.MemoryType))
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		problems = append(problems, fmt.Errorf("confidence %.3f is out of range [0, 1]", e.Confidence))
	}
	if e.Importance < 0 || e.Importance > 1 {
		problems = append(problems, fmt.Errorf("importance %.3f is out of range [0, 1]", e.Importance))
	}
	if e.RehearsalCount < 0 {
		problems = append(problems, fmt.Errorf("rehearsal_count %d must not be negative", e.RehearsalCount))
	}
	if e.KnowledgeLayer != "" && !e.KnowledgeLayer.IsValid() {
		problems = append(problems, fmt.Errorf("knowledge_layer %q is invalid", e.KnowledgeLayer))
	}
	if e.CorruptionType != "" && e.OriginalUUID == "" {
		problems = append(problems, errors.New("corruption_type set without original_uuid"))
	}
	return errors.Join(problems...)
}

// Episode is one consolidated record written at the end of a turn.
type Episode struct {
	ID            string         `json:"id"`
	GroupKey      string         `json:"group_key"`
	SessionNumber int            `json:"session_number"`
	Content       string         `json:"content"`
	ReferenceTime time.Time      `json:"reference_time"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// QueryResult is one retrieved memory. When the edge is a corrupted
// variant, OriginalFact carries the pristine text for operator debugging;
// it is stripped before anything reaches an agent prompt.
type QueryResult struct {
	Edge         Edge    `json:"edge"`
	Score        float64 `json:"score"`
	Corrupted    bool    `json:"corrupted"`
	OriginalFact string  `json:"original_fact,omitempty"`
}
