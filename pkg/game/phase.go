package game

import "fmt"

// Phase is one atomic step of the turn cycle. Phases are checkpointed on
// completion and advance in index order; branch decisions (clarification
// loop, validation retries, LASER FEELINGS) pick the next index, they are
// not phases themselves.
type Phase int

const (
	// PhaseDMNarration blocks awaiting the GM's scene narration.
	PhaseDMNarration Phase = iota

	// PhaseMemoryRetrieval queries each agent's memories against the
	// narration.
	PhaseMemoryRetrieval

	// PhaseClarificationCollect asks each player whether it has a
	// question for the GM and accumulates this round's queries.
	PhaseClarificationCollect

	// PhaseClarificationWait blocks awaiting GM answers when questions
	// exist; the clarification round counter advances here.
	PhaseClarificationWait

	// PhaseSecondMemoryRetrieval re-queries memories with narration plus
	// clarification answers folded in.
	PhaseSecondMemoryRetrieval

	// PhaseStrategicIntent produces each player's out-of-character intent.
	PhaseStrategicIntent

	// PhaseP2CDirective routes one player-to-character directive per
	// agent through the message router.
	PhaseP2CDirective

	// PhaseCharacterAction produces each character's structured action.
	// Validation may send the machine back here.
	PhaseCharacterAction

	// PhaseValidation runs the narrative-overreach validator over every
	// proposed action.
	PhaseValidation

	// PhaseDMAdjudication blocks awaiting the GM's accept/override/flag
	// decision on the proposed actions.
	PhaseDMAdjudication

	// PhaseResolveHelpers pre-rolls every helper's dice and counts
	// successful helpers per main actor.
	PhaseResolveHelpers

	// PhaseDiceResolution builds each actor's pool, rolls it, and scores
	// successes and LASER FEELINGS matches.
	PhaseDiceResolution

	// PhaseLaserFeelingsQuestion blocks awaiting the GM's answer to the
	// auto-generated LASER FEELINGS question. Skipped when no die matched.
	PhaseLaserFeelingsQuestion

	// PhaseDMOutcome blocks awaiting the GM's outcome narration.
	PhaseDMOutcome

	// PhaseCharacterReaction produces each character's in-character
	// reaction to the outcome.
	PhaseCharacterReaction

	// PhaseMemoryConsolidation writes the turn's episodes to memory for
	// every agent and for the shared campaign scope, then ends the turn.
	PhaseMemoryConsolidation

	phaseCount
)

var phaseNames = [...]string{
	PhaseDMNarration:            "dm_narration",
	PhaseMemoryRetrieval:        "memory_retrieval",
	PhaseClarificationCollect:   "dm_clarification_collect",
	PhaseClarificationWait:      "dm_clarification_wait",
	PhaseSecondMemoryRetrieval:  "second_memory_retrieval",
	PhaseStrategicIntent:        "strategic_intent",
	PhaseP2CDirective:           "p2c_directive",
	PhaseCharacterAction:        "character_action",
	PhaseValidation:             "validation",
	PhaseDMAdjudication:         "dm_adjudication",
	PhaseResolveHelpers:         "resolve_helpers",
	PhaseDiceResolution:         "dice_resolution",
	PhaseLaserFeelingsQuestion:  "laser_feelings_question",
	PhaseDMOutcome:              "dm_outcome",
	PhaseCharacterReaction:      "character_reaction",
	PhaseMemoryConsolidation:    "memory_consolidation",
}

// String returns the snake_case phase name used in checkpoints, logs, and
// GM-facing output.
func (p Phase) String() string {
	if p < 0 || p >= phaseCount {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// IsValid reports whether p is a defined phase.
func (p Phase) IsValid() bool { return p >= 0 && p < phaseCount }

// Index returns the phase's position in the turn order, used as the
// checkpoint key component.
func (p Phase) Index() int { return int(p) }

// IsInterrupt reports whether the machine parks at p awaiting GM input.
// Exactly five phases block: narration intake and the four mid-turn
// interrupts (clarification wait, adjudication, LASER FEELINGS question,
// outcome).
func (p Phase) IsInterrupt() bool {
	switch p {
	case PhaseDMNarration, PhaseClarificationWait, PhaseDMAdjudication,
		PhaseLaserFeelingsQuestion, PhaseDMOutcome:
		return true
	}
	return false
}

// IsFanOut reports whether p dispatches per-agent jobs to the worker pool.
func (p Phase) IsFanOut() bool {
	switch p {
	case PhaseMemoryRetrieval, PhaseClarificationCollect,
		PhaseSecondMemoryRetrieval, PhaseStrategicIntent,
		PhaseCharacterAction, PhaseValidation, PhaseCharacterReaction:
		return true
	}
	return false
}

// PhaseByName returns the phase with the given snake_case name.
func PhaseByName(name string) (Phase, bool) {
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), true
		}
	}
	return 0, false
}

// Phases returns every phase in turn order.
func Phases() []Phase {
	out := make([]Phase, phaseCount)
	for i := range out {
		out[i] = Phase(i)
	}
	return out
}
