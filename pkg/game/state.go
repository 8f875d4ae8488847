package game

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// MarshalJSON serializes phases by name so checkpoints stay readable and
// stable across reorderings of the enum.
func (p Phase) MarshalJSON() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("game: cannot marshal invalid phase %d", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON parses a phase from its snake_case name.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("game: unmarshal phase: %w", err)
	}
	parsed, ok := PhaseByName(name)
	if !ok {
		return fmt.Errorf("game: unknown phase %q", name)
	}
	*p = parsed
	return nil
}

// GameState is the complete mutable record of one session turn. It is
// created at session start, mutated only by the state machine and its
// phase nodes, and snapshotted into the checkpoint store after every
// phase. Agents and the router see isolated views, never the state itself.
//
// Per-agent maps are keyed by agent ID; per-character maps by character ID.
type GameState struct {
	SessionID      string    `json:"session_id"`
	SessionNumber  int       `json:"session_number"`
	TurnNumber     int       `json:"turn_number"`
	CurrentPhase   Phase     `json:"current_phase"`
	PhaseStartTime time.Time `json:"phase_start_time"`

	// ActiveAgents is the stable fan-out and tie-break order for the turn.
	ActiveAgents []string `json:"active_agents"`

	DMNarration string `json:"dm_narration,omitempty"`

	// RetrievedMemories holds the player-layer memory facts attached per
	// agent by the retrieval phases. CharacterMemories holds the same
	// agents' character-layer reads, which feed character prompts only:
	// the two views differ wherever an edge is restricted to one side of
	// the player/character split.
	RetrievedMemories map[string][]string `json:"retrieved_memories,omitempty"`
	CharacterMemories map[string][]string `json:"character_memories,omitempty"`

	ClarificationRound     int               `json:"clarification_round"`
	ClarificationQuestions map[string]string `json:"clarification_questions,omitempty"`
	ClarificationAnswers   map[string]string `json:"clarification_answers,omitempty"`

	// ClarificationDone records the GM ending the question loop early; it
	// rides the checkpoint so a restored session cannot reopen the loop.
	ClarificationDone bool `json:"clarification_done,omitempty"`

	StrategicIntents map[string]string `json:"strategic_intents,omitempty"`
	OOCMessages      []OOCMessage      `json:"ooc_messages,omitempty"`

	// P2CDirectives holds each player's directive to its own character,
	// keyed by agent ID.
	P2CDirectives map[string]string `json:"p2c_directives,omitempty"`

	CharacterActions   map[string]CharacterAction  `json:"character_actions,omitempty"`
	ValidationAttempts map[string]int              `json:"validation_attempts,omitempty"`
	ValidationResults  map[string]ValidationResult `json:"validation_results,omitempty"`
	CharacterReactions map[string]string           `json:"character_reactions,omitempty"`

	// Dice bookkeeping, keyed by character ID of the main actor.
	DiceCount              map[string]int   `json:"dice_count,omitempty"`
	IndividualRolls        map[string][]int `json:"individual_rolls,omitempty"`
	DieSuccesses           map[string]int   `json:"die_successes,omitempty"`
	LaserFeelingsIndices   map[string][]int `json:"laser_feelings_indices,omitempty"`
	SuccessfulHelperCounts map[string]int   `json:"successful_helper_counts,omitempty"`

	// GMQuestion and LaserFeelingsAnswer carry the single auto-generated
	// LASER FEELINGS exchange for the turn.
	GMQuestion          string `json:"gm_question,omitempty"`
	LaserFeelingsAnswer string `json:"laser_feelings_answer,omitempty"`

	// DiceOverrideSpec is the GM's replacement roll from adjudication, in
	// dice notation. Empty when the GM accepted the proposed roll.
	DiceOverrideSpec string `json:"dice_override_spec,omitempty"`

	// AdjudicationNote carries the GM's flag note from adjudication.
	AdjudicationNote string `json:"adjudication_note,omitempty"`

	// OutcomeTier and OutcomeNarration record the GM's outcome: the hinted
	// tier (success, fail, partial, critical) and the narration text.
	OutcomeTier      string `json:"outcome_tier,omitempty"`
	OutcomeNarration string `json:"outcome_narration,omitempty"`

	RetryCount      int   `json:"retry_count"`
	LastStablePhase Phase `json:"last_stable_phase"`

	// LLMJobIDs tracks the outstanding worker jobs of the current fan-out
	// phase, for recovery and cancellation.
	LLMJobIDs []string `json:"llm_job_ids,omitempty"`

	RequiresDMIntervention bool `json:"requires_dm_intervention"`
}

// NewGameState returns the initial state for a turn. activeAgents is
// copied; its order fixes fan-out and tie-break order for the whole turn.
func NewGameState(sessionID string, sessionNumber, turnNumber int, activeAgents []string) *GameState {
	return &GameState{
		SessionID:       sessionID,
		SessionNumber:   sessionNumber,
		TurnNumber:      turnNumber,
		CurrentPhase:    PhaseDMNarration,
		PhaseStartTime:  time.Now().UTC(),
		ActiveAgents:    slices.Clone(activeAgents),
		LastStablePhase: PhaseDMNarration,
	}
}

// Clone returns a deep copy, so a checkpointed snapshot can never be
// mutated through the live state.
func (s *GameState) Clone() *GameState {
	out := *s
	out.ActiveAgents = slices.Clone(s.ActiveAgents)
	out.OOCMessages = slices.Clone(s.OOCMessages)
	out.LLMJobIDs = slices.Clone(s.LLMJobIDs)

	out.RetrievedMemories = cloneSliceMap(s.RetrievedMemories)
	out.CharacterMemories = cloneSliceMap(s.CharacterMemories)
	out.ClarificationQuestions = maps.Clone(s.ClarificationQuestions)
	out.ClarificationAnswers = maps.Clone(s.ClarificationAnswers)
	out.StrategicIntents = maps.Clone(s.StrategicIntents)
	out.P2CDirectives = maps.Clone(s.P2CDirectives)
	out.CharacterActions = maps.Clone(s.CharacterActions)
	out.ValidationAttempts = maps.Clone(s.ValidationAttempts)
	out.CharacterReactions = maps.Clone(s.CharacterReactions)
	out.DiceCount = maps.Clone(s.DiceCount)
	out.IndividualRolls = cloneSliceMap(s.IndividualRolls)
	out.DieSuccesses = maps.Clone(s.DieSuccesses)
	out.LaserFeelingsIndices = cloneSliceMap(s.LaserFeelingsIndices)
	out.SuccessfulHelperCounts = maps.Clone(s.SuccessfulHelperCounts)

	if s.ValidationResults != nil {
		out.ValidationResults = make(map[string]ValidationResult, len(s.ValidationResults))
		for k, v := range s.ValidationResults {
			v.Violations = slices.Clone(v.Violations)
			out.ValidationResults[k] = v
		}
	}
	return &out
}

func cloneSliceMap[E any](m map[string][]E) map[string][]E {
	if m == nil {
		return nil
	}
	out := make(map[string][]E, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// BeginPhase records the transition into p and stamps the phase clock.
func (s *GameState) BeginPhase(p Phase) {
	s.CurrentPhase = p
	s.PhaseStartTime = time.Now().UTC()
}

// MarkStable records p as the most recent completed phase and clears the
// rollback retry counter.
func (s *GameState) MarkStable(p Phase) {
	s.LastStablePhase = p
	s.RetryCount = 0
}

// HasLaserFeelings reports whether any actor rolled an exact match this
// turn, which routes the machine through the GM question interrupt.
func (s *GameState) HasLaserFeelings() bool {
	for _, idx := range s.LaserFeelingsIndices {
		if len(idx) > 0 {
			return true
		}
	}
	return false
}

// PendingQuestions returns the agents that asked a clarification question
// this round, in active-agent order.
func (s *GameState) PendingQuestions() []string {
	var out []string
	for _, agentID := range s.ActiveAgents {
		if q := s.ClarificationQuestions[agentID]; q != "" {
			out = append(out, agentID)
		}
	}
	return out
}
