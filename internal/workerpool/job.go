// Package workerpool executes agent work — every LLM-bearing operation —
// outside the turn state machine, with bounded retry, per-job timeouts,
// and abandoned-job recovery.
//
// The state machine treats the pool as a blocking RPC: a fan-out phase
// enqueues one job per agent, then awaits the full result set before
// transitioning. Jobs are persisted through a [Registry] so that work
// survives a process crash; [Pool.Recover] requeues jobs that were
// claimed but never finished.
package workerpool

import (
	"encoding/json"
	"time"
)

// Kind names a queue of homogeneous agent work.
type Kind string

const (
	// KindPlayerIntent produces a player's out-of-character strategic intent.
	KindPlayerIntent Kind = "player_intent"

	// KindPlayerClarifyDecision decides whether a player asks the GM a
	// clarification question this round.
	KindPlayerClarifyDecision Kind = "player_clarify_decision"

	// KindPlayerP2CDirective produces the player's directive to its character.
	KindPlayerP2CDirective Kind = "player_p2c_directive"

	// KindCharacterAction produces a character's structured action.
	KindCharacterAction Kind = "character_action"

	// KindCharacterReaction produces a character's in-fiction reaction to
	// the GM outcome.
	KindCharacterReaction Kind = "character_reaction"

	// KindValidationSemantic runs the semantic overreach check on a
	// flagged action.
	KindValidationSemantic Kind = "validation_semantic"

	// KindMemoryCorruptionRender renders the degraded text of a corrupted
	// memory.
	KindMemoryCorruptionRender Kind = "memory_corruption_render"

	// KindStanceExtraction classifies an agent's stance from the OOC log.
	KindStanceExtraction Kind = "stance_extraction"
)

// Kinds lists every queue in dispatch order.
func Kinds() []Kind {
	return []Kind{
		KindPlayerIntent, KindPlayerClarifyDecision, KindPlayerP2CDirective,
		KindCharacterAction, KindCharacterReaction, KindValidationSemantic,
		KindMemoryCorruptionRender, KindStanceExtraction,
	}
}

// IsValid reports whether k names a known queue.
func (k Kind) IsValid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Status is a job's lifecycle state.
type Status string

const (
	// StatusQueued means the job awaits a worker.
	StatusQueued Status = "queued"

	// StatusRunning means a worker has claimed the job.
	StatusRunning Status = "running"

	// StatusDone means the job finished and its result is retained.
	StatusDone Status = "done"

	// StatusFailed means the job exhausted its retry budget.
	StatusFailed Status = "failed"

	// StatusCancelled means the job was cancelled before completion,
	// usually by a rollback or an aborted turn.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Job is one unit of agent work. Payload and Result are opaque JSON owned
// by the handler for the job's kind.
type Job struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	AgentID   string          `json:"agent_id,omitempty"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	Status   Status          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	ErrorMsg string          `json:"error,omitempty"`

	// Attempts counts handler invocations, including retries inside a
	// single claim and re-claims after recovery.
	Attempts int `json:"attempts"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Retention windows for terminal jobs. Results are kept long enough for a
// replayed phase to re-read them; failures stick around for diagnostics.
const (
	ResultRetention  = time.Hour
	FailureRetention = 24 * time.Hour
)
