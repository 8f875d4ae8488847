// Package prompt builds the system and task prompts for every LLM job in
// a turn. Player prompts carry trait directives derived from the player's
// personality; character prompts carry the sheet's voice.
//
// Every builder is pure: no I/O, no side effects, safe for concurrent
// use. Empty sections are omitted entirely rather than rendering as empty
// headers.
package prompt

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/starcrew-ai/starcrew/pkg/game"
)

const (
	// traitHigh and traitLow bound the band in which a trait is silent:
	// only pronounced traits earn a directive line.
	traitHigh = 0.7
	traitLow  = 0.3
)

// PlayerSystem renders the system prompt for one AI player's strategic
// layer: identity, ship, and the trait directives its personality earns.
func PlayerSystem(name string, p game.Personality, ship game.ShipConfig) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a player at a Lasers & Feelings table. You speak as yourself at the table, never as your character, and you treat the GM's narration as the only source of truth about the world.", name)

	if section := shipSection(ship); section != "" {
		sb.WriteString("\n\n## Your Ship\n")
		sb.WriteString(section)
	}

	if directives := traitDirectives(p); len(directives) > 0 {
		sb.WriteString("\n\n## Your Disposition\n")
		sb.WriteString(strings.Join(directives, "\n"))
	}
	return sb.String()
}

// CharacterSystem renders the system prompt for one character's roleplay
// layer: the full sheet plus the shared ship.
func CharacterSystem(sheet game.CharacterSheet, ship game.ShipConfig) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a %s %s aboard the %s. You speak and act only in character, in first person, and you describe attempts, never outcomes. Outcomes belong to the GM.",
		sheet.Name, sheet.Style, sheet.Role, ship.Name)

	sb.WriteString("\n\n## Who You Are\n")
	sb.WriteString(identitySection(sheet))

	if section := shipSection(ship); section != "" {
		sb.WriteString("\n\n## Your Ship\n")
		sb.WriteString(section)
	}
	return sb.String()
}

// Clarify renders the clarification-decision task. The model must reply
// with JSON {"question": "..."} and an empty question when nothing needs
// asking.
func Clarify(narration string, memories []string, round int) string {
	var sb strings.Builder
	sb.WriteString("The GM has set the scene. Decide whether anything is unclear enough that you need to ask the GM one question before planning.")
	if round > 0 {
		fmt.Fprintf(&sb, " This is clarification round %d; earlier answers are already in.", round+1)
	}

	writeNarration(&sb, narration)
	writeMemories(&sb, memories)

	sb.WriteString("\n\n## Your Reply\n")
	sb.WriteString(`Reply with exactly one JSON object: {"question": "<your single question>"} — or {"question": ""} if the scene is clear enough to act on.`)
	return sb.String()
}

// Intent renders the strategic-intent task: one out-of-character plan for
// the table, grounded in the scene and whatever the GM clarified.
func Intent(narration string, memories []string, clarifications map[string]string) string {
	var sb strings.Builder
	sb.WriteString("Propose your plan for this turn, out of character, to the other players.")

	writeNarration(&sb, narration)
	writeMemories(&sb, memories)

	if len(clarifications) > 0 {
		sb.WriteString("\n\n## GM Clarifications\n")
		for _, agentID := range slices.Sorted(maps.Keys(clarifications)) {
			fmt.Fprintf(&sb, "%s asked and the GM answered: %s\n", agentID, clarifications[agentID])
		}
	}

	sb.WriteString("\n\n## Your Reply\n")
	sb.WriteString(`Reply with exactly one JSON object: {"intent": "<two or three sentences: what you want the crew to do and why>"}.`)
	return sb.String()
}

// Directive renders the player-to-character instruction task. The
// consensus verdict, when present, tells the player how aligned the table
// is.
func Directive(intent, consensus string) string {
	var sb strings.Builder
	sb.WriteString("Instruct your character. Translate your table plan into one concrete direction your character can act on this turn.")

	if intent != "" {
		sb.WriteString("\n\n## Your Plan\n")
		sb.WriteString(intent)
	}
	if consensus != "" {
		sb.WriteString("\n\n## Table Consensus\n")
		fmt.Fprintf(&sb, "The table discussion ended %s. Weigh that when deciding how far to commit.", consensus)
	}

	sb.WriteString("\n\n## Your Reply\n")
	sb.WriteString(`Reply with exactly one JSON object: {"directive": "<one or two sentences addressed to your character>"}.`)
	return sb.String()
}

// Action renders the character-action task, including the escalating
// strictness directive on validation retries. The model must emit the
// structured action JSON.
func Action(directive string, memories []string, strictness string, attempt int) string {
	var sb strings.Builder
	sb.WriteString("Decide what you attempt this turn.")
	if attempt > 1 {
		fmt.Fprintf(&sb, " Your previous attempt was rejected for narrating outcomes; this is attempt %d.", attempt)
	}

	if directive != "" {
		sb.WriteString("\n\n## Your Player's Direction\n")
		sb.WriteString(directive)
	}
	writeMemories(&sb, memories)

	if strictness != "" {
		sb.WriteString("\n\n## Constraints\n")
		sb.WriteString(strictness)
	}

	sb.WriteString("\n\n## Your Reply\n")
	sb.WriteString("Reply with exactly one JSON object:\n")
	sb.WriteString(`{"text": "<your attempt, in character>", "task_type": "lasers" or "feelings", "is_prepared": bool, "is_expert": bool, "is_helping": bool, "helping_character_id": "<char_... when helping, else omit>", "justification": "<why any prepared/expert/helping claim holds>"}`)
	sb.WriteString("\nClaim prepared or expert only when your sheet or the scene supports it; the GM reviews every claim.")
	return sb.String()
}

// Reaction renders the in-character reaction to the GM's outcome.
func Reaction(outcome string) string {
	var sb strings.Builder
	sb.WriteString("The GM has narrated how the turn resolved. React in character: a line of dialogue, a gesture, or both. Do not extend the outcome with new facts.")

	if outcome != "" {
		sb.WriteString("\n\n## What Happened\n")
		sb.WriteString(outcome)
	}

	sb.WriteString("\n\n## Your Reply\n")
	sb.WriteString(`Reply with exactly one JSON object: {"reaction": "<your in-character reaction>"}.`)
	return sb.String()
}

// traitDirectives converts pronounced personality traits into behavioural
// lines. Traits inside the middle band stay silent; a flat personality
// earns no section at all.
func traitDirectives(p game.Personality) []string {
	var lines []string
	add := func(trait float64, high, low string) {
		switch {
		case trait >= traitHigh:
			lines = append(lines, high)
		case trait <= traitLow:
			lines = append(lines, low)
		}
	}

	add(p.AnalyticalScore,
		"Reason step by step and name the evidence behind every plan.",
		"Trust your gut; decide quickly and keep reasoning brief.")
	add(p.RiskTolerance,
		"Favor bold plans; a dramatic failure beats a dull success.",
		"Favor the cautious option; keep escape routes open.")
	add(p.DetailOriented,
		"Track specifics precisely: names, counts, and positions matter to you.",
		"Stay big-picture; do not get lost in specifics.")
	add(p.Assertiveness,
		"Push your position firmly and say plainly when you disagree.",
		"Offer your view once, gently, and let others carry the argument.")
	add(p.Cooperativeness,
		"Look for the plan the whole table can get behind.",
		"Your own read comes first; join the group plan only when it convinces you.")
	add(p.Openness,
		"Adopt a better idea the moment you hear one, whoever it came from.",
		"Stick with your approach unless there is a strong reason to change.")
	add(p.RuleAdherence,
		"Care about playing it by the book; ask about rules when uncertain.",
		"Fiction first; do not sweat the rules.")
	add(p.RoleplayIntensity,
		"Frame everything through your character's voice and feelings.",
		"Stay tactical; talk plans, not drama.")
	return lines
}

// identitySection renders the sheet as prompt lines.
func identitySection(sheet game.CharacterSheet) string {
	var lines []string
	line := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	line("Name: %s", sheet.Name)
	line("Style: %s", sheet.Style)
	line("Role: %s", sheet.Role)
	line("Number: %d (low favors lasers tasks, high favors feelings tasks)", sheet.Number)
	if sheet.Goal != "" {
		line("Goal: %s", sheet.Goal)
	}
	if len(sheet.Equipment) > 0 {
		line("Equipment: %s", strings.Join(sheet.Equipment, ", "))
	}
	if len(sheet.SpeechPatterns) > 0 {
		line("Speech: %s", strings.Join(sheet.SpeechPatterns, "; "))
	}
	if len(sheet.Mannerisms) > 0 {
		line("Mannerisms: %s", strings.Join(sheet.Mannerisms, "; "))
	}
	return strings.Join(lines, "\n")
}

// shipSection renders the shared ship as prompt lines.
func shipSection(ship game.ShipConfig) string {
	if ship.Name == "" {
		return ""
	}
	var lines []string
	lines = append(lines, fmt.Sprintf("Name: %s", ship.Name))
	if len(ship.Strengths) > 0 {
		parts := make([]string, len(ship.Strengths))
		for i, s := range ship.Strengths {
			parts[i] = string(s)
		}
		lines = append(lines, fmt.Sprintf("Strengths: %s", strings.Join(parts, ", ")))
	}
	if ship.Problem != "" {
		lines = append(lines, fmt.Sprintf("Problem: %s", ship.Problem))
	}
	return strings.Join(lines, "\n")
}

func writeNarration(sb *strings.Builder, narration string) {
	if narration == "" {
		return
	}
	sb.WriteString("\n\n## The Scene\n")
	sb.WriteString(narration)
}

func writeMemories(sb *strings.Builder, memories []string) {
	if len(memories) == 0 {
		return
	}
	sb.WriteString("\n\n## What You Remember\n")
	sb.WriteString("These are your memories; some may be imperfect.\n")
	for _, m := range memories {
		sb.WriteString("- ")
		sb.WriteString(m)
		sb.WriteString("\n")
	}
}
