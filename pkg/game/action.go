package game

import (
	"errors"
	"fmt"

	"github.com/starcrew-ai/starcrew/internal/ids"
)

// CharacterAction is the structured action a character proposes for the
// turn. It declares intent only; outcomes are always the GM's.
type CharacterAction struct {
	// Text is the in-character description of the attempt.
	Text string `json:"text"`

	// TaskType selects the lasers/feelings success rule for the roll.
	TaskType TaskType `json:"task_type"`

	// IsPrepared claims the character prepared for this attempt (+1 die).
	IsPrepared bool `json:"is_prepared"`

	// IsExpert claims relevant expertise (+1 die).
	IsExpert bool `json:"is_expert"`

	// IsHelping marks this action as assistance to another character
	// instead of an independent attempt.
	IsHelping bool `json:"is_helping"`

	// HelpingCharacterID names the character being helped. Required when
	// IsHelping is set, empty otherwise.
	HelpingCharacterID string `json:"helping_character_id,omitempty"`

	// Justification explains the prepared/expert/helping claims for GM
	// review.
	Justification string `json:"justification,omitempty"`
}

// Validate checks the action's structural invariants. Narrative overreach
// is checked separately by the validation engine.
func (a CharacterAction) Validate() error {
	var problems []error
	if a.Text == "" {
		problems = append(problems, errors.New("action text is required"))
	}
	if !a.TaskType.IsValid() {
		problems = append(problems, fmt.Errorf("task_type %q is invalid; valid values: lasers, feelings", a.TaskType))
	}
	if a.IsHelping {
		if !ids.ValidCharacterID(a.HelpingCharacterID) {
			problems = append(problems, fmt.Errorf("helping action requires a valid helping_character_id, got %q", a.HelpingCharacterID))
		}
	} else if a.HelpingCharacterID != "" {
		problems = append(problems, fmt.Errorf("helping_character_id %q set on a non-helping action", a.HelpingCharacterID))
	}
	return errors.Join(problems...)
}

// ValidationStatus is the verdict class a validator assigns to an action.
type ValidationStatus string

const (
	// ValidationValid marks an action that passed every check unchanged.
	ValidationValid ValidationStatus = "valid"

	// ValidationAutoCorrected marks an action whose overreaching text was
	// rewritten after the retry budget ran out.
	ValidationAutoCorrected ValidationStatus = "auto_corrected"

	// ValidationFlagged marks an action passed through with a warning for
	// the GM because auto-correction was not possible.
	ValidationFlagged ValidationStatus = "flagged"
)

// ValidationResult is the sealed per-character outcome of the validation
// phase. Once sealed it is never rewritten; retries produce new results.
type ValidationResult struct {
	Status ValidationStatus `json:"status"`

	// Violations lists the overreach findings, most severe first.
	Violations []string `json:"violations,omitempty"`

	// CorrectedText holds the rewritten action when Status is
	// auto_corrected, empty otherwise.
	CorrectedText string `json:"corrected_text,omitempty"`

	// Attempt is the 1-based validation attempt that produced this result.
	Attempt int `json:"attempt"`
}

// OOCMessage is one strategic-layer message in the table discussion.
type OOCMessage struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
	Round   int    `json:"round"`
}
