// Package gmcmd translates GM input lines into typed commands and drives
// the turn machine with them. The front-end that collects the lines lives
// elsewhere; this package owns the grammar, phase admissibility, and the
// clarification answer bookkeeping.
package gmcmd

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/starcrew-ai/starcrew/internal/dice"
	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/ids"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

// Verb is one recognized GM command word.
type Verb string

const (
	VerbNarrate    Verb = "narrate"
	VerbAnswer     Verb = "answer"
	VerbFinish     Verb = "finish"
	VerbAccept     Verb = "accept"
	VerbOverride   Verb = "override"
	VerbFlag       Verb = "flag"
	VerbLFAnswer   Verb = "lf_answer"
	VerbSuccess    Verb = "success"
	VerbFail       Verb = "fail"
	VerbPartial    Verb = "partial"
	VerbCritical   Verb = "critical"
	VerbAsk        Verb = "ask"
	VerbEndSession Verb = "end_session"
	VerbAbortTurn  Verb = "abort_turn"
)

// Verbs returns every recognized verb.
func Verbs() []Verb {
	return []Verb{
		VerbNarrate, VerbAnswer, VerbFinish, VerbAccept, VerbOverride,
		VerbFlag, VerbLFAnswer, VerbSuccess, VerbFail, VerbPartial,
		VerbCritical, VerbAsk, VerbEndSession, VerbAbortTurn,
	}
}

// outcomeTiers maps the four outcome verbs to their tier hint.
var outcomeTiers = map[Verb]string{
	VerbSuccess:  "success",
	VerbFail:     "fail",
	VerbPartial:  "partial",
	VerbCritical: "critical",
}

// Command is one parsed GM command.
type Command struct {
	Verb Verb

	// Target is the asking agent for answer, or the queried character for
	// ask. Empty otherwise.
	Target string

	// Text is the free-text tail: narration, an answer, an outcome, the
	// override dice spec, or a flag note.
	Text string
}

// Parse converts one input line into a command. Unknown verbs come back
// as a validation error carrying a "did you mean" suggestion when a close
// match exists.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errs.Validation("gmcmd: parse", fmt.Errorf("empty command"))
	}

	verb := Verb(strings.ToLower(fields[0]))
	rest := fields[1:]
	if !knownVerb(verb) {
		msg := fmt.Errorf("unknown command %q", fields[0])
		if s := suggest(string(verb)); s != "" {
			msg = fmt.Errorf("unknown command %q (did you mean %q?)", fields[0], s)
		}
		return Command{}, errs.Validation("gmcmd: parse", msg)
	}

	cmd := Command{Verb: verb}
	switch verb {
	case VerbNarrate, VerbLFAnswer, VerbSuccess, VerbFail, VerbPartial, VerbCritical:
		if len(rest) == 0 {
			return Command{}, errs.Validation("gmcmd: parse", fmt.Errorf("%s requires text", verb))
		}
		cmd.Text = strings.Join(rest, " ")

	case VerbAnswer:
		if len(rest) < 2 {
			return Command{}, errs.Validation("gmcmd: parse", fmt.Errorf("usage: answer <agent_id> <text>"))
		}
		if !ids.ValidAgentID(rest[0]) {
			return Command{}, errs.Validation("gmcmd: parse", fmt.Errorf("%q is not an agent id", rest[0]))
		}
		cmd.Target = rest[0]
		cmd.Text = strings.Join(rest[1:], " ")

	case VerbAsk:
		if len(rest) < 2 {
			return Command{}, errs.Validation("gmcmd: parse", fmt.Errorf("usage: ask <character_id> <text>"))
		}
		if !ids.ValidCharacterID(rest[0]) {
			return Command{}, errs.Validation("gmcmd: parse", fmt.Errorf("%q is not a character id", rest[0]))
		}
		cmd.Target = rest[0]
		cmd.Text = strings.Join(rest[1:], " ")

	case VerbOverride:
		if len(rest) != 1 {
			return Command{}, errs.Validation("gmcmd: parse", fmt.Errorf("usage: override <dice-spec>"))
		}
		if _, err := dice.ParseOverride(rest[0]); err != nil {
			return Command{}, errs.Validation("gmcmd: parse", err)
		}
		cmd.Text = rest[0]

	case VerbFlag:
		// The note is optional.
		cmd.Text = strings.Join(rest, " ")

	case VerbFinish, VerbAccept, VerbEndSession, VerbAbortTurn:
		if len(rest) != 0 {
			return Command{}, errs.Validation("gmcmd: parse", fmt.Errorf("%s takes no arguments", verb))
		}
	}
	return cmd, nil
}

func knownVerb(v Verb) bool {
	for _, known := range Verbs() {
		if v == known {
			return true
		}
	}
	return false
}

// suggestThreshold is the minimum similarity for a "did you mean".
const suggestThreshold = 0.8

// suggest returns the closest verb to the typo, or empty when nothing is
// close enough.
func suggest(input string) string {
	best, bestScore := "", 0.0
	for _, v := range Verbs() {
		if score := matchr.JaroWinkler(input, string(v), false); score > bestScore {
			best, bestScore = string(v), score
		}
	}
	if bestScore < suggestThreshold {
		return ""
	}
	return best
}

// AdmissibleAt reports whether the verb applies at the given phase.
// ask, end_session, and abort_turn apply everywhere.
func AdmissibleAt(v Verb, ph game.Phase) bool {
	switch v {
	case VerbAsk, VerbEndSession, VerbAbortTurn:
		return true
	case VerbNarrate:
		return ph == game.PhaseDMNarration
	case VerbAnswer, VerbFinish:
		return ph == game.PhaseClarificationWait
	case VerbAccept, VerbOverride, VerbFlag:
		return ph == game.PhaseDMAdjudication
	case VerbLFAnswer:
		return ph == game.PhaseLaserFeelingsQuestion
	case VerbSuccess, VerbFail, VerbPartial, VerbCritical:
		return ph == game.PhaseDMOutcome
	}
	return false
}

// CommandsFor lists the verbs admissible at a phase, for structured
// rejections.
func CommandsFor(ph game.Phase) []Verb {
	var out []Verb
	for _, v := range Verbs() {
		if AdmissibleAt(v, ph) {
			out = append(out, v)
		}
	}
	return out
}
