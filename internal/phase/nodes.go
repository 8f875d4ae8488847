package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starcrew-ai/starcrew/internal/consensus"
	"github.com/starcrew-ai/starcrew/internal/dice"
	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/ids"
	"github.com/starcrew-ai/starcrew/internal/router"
	"github.com/starcrew-ai/starcrew/internal/validation"
	"github.com/starcrew-ai/starcrew/internal/workerpool"
	"github.com/starcrew-ai/starcrew/pkg/game"
	"github.com/starcrew-ai/starcrew/pkg/memory"
)

// Roster resolves the agent/character mapping and per-agent profiles for
// the session's crew.
type Roster interface {
	// CharacterFor returns the sheet of the character an agent controls.
	CharacterFor(agentID string) (game.CharacterSheet, bool)

	// PersonalityFor returns an agent's player personality.
	PersonalityFor(agentID string) (game.Personality, bool)
}

// JobDispatcher is the worker-pool surface the fan-out nodes use.
// Satisfied by *workerpool.Pool.
type JobDispatcher interface {
	Enqueue(ctx context.Context, sessionID, agentID string, kind workerpool.Kind, payload any) (string, error)
	AwaitAll(ctx context.Context, jobIDs []string, timeout time.Duration) (map[string]json.RawMessage, error)
}

// MessagePublisher is the router surface the nodes use. Satisfied by
// *router.Router.
type MessagePublisher interface {
	Publish(ctx context.Context, msg router.Message) error
}

// Job payloads and results, one pair per fan-out kind. Handlers unmarshal
// the payload, do the LLM work, and marshal the result.

// ClarifyPayload asks whether an agent has a question for the GM.
type ClarifyPayload struct {
	AgentID   string   `json:"agent_id"`
	Narration string   `json:"narration"`
	Memories  []string `json:"memories,omitempty"`
	Round     int      `json:"round"`
}

// ClarifyResult carries the question, empty when the agent declines.
type ClarifyResult struct {
	Question string `json:"question"`
}

// IntentPayload asks for an agent's strategic intent.
type IntentPayload struct {
	AgentID       string            `json:"agent_id"`
	Narration     string            `json:"narration"`
	Memories      []string          `json:"memories,omitempty"`
	Clarifications map[string]string `json:"clarifications,omitempty"`
}

// IntentResult carries the out-of-character intent.
type IntentResult struct {
	Intent string `json:"intent"`
}

// DirectivePayload asks a player to instruct its character.
type DirectivePayload struct {
	AgentID   string `json:"agent_id"`
	Intent    string `json:"intent"`
	Consensus string `json:"consensus,omitempty"`
}

// DirectiveResult carries the player-to-character directive.
type DirectiveResult struct {
	Directive string `json:"directive"`
}

// ActionPayload asks a character for its structured action.
type ActionPayload struct {
	CharacterID string   `json:"character_id"`
	Directive   string   `json:"directive"`
	Memories    []string `json:"memories,omitempty"`
	Strictness  string   `json:"strictness,omitempty"`
	Attempt     int      `json:"attempt"`
}

// ActionResult carries the proposed action.
type ActionResult struct {
	Action game.CharacterAction `json:"action"`
}

// ReactionPayload asks a character to react to the GM outcome.
type ReactionPayload struct {
	CharacterID string `json:"character_id"`
	Outcome     string `json:"outcome"`
}

// ReactionResult carries the in-character reaction.
type ReactionResult struct {
	Reaction string `json:"reaction"`
}

// fanOut dispatches one job per active agent and returns results keyed by
// agent ID. Job IDs are recorded on the state for recovery and
// cancellation.
func fanOut(ctx context.Context, pool JobDispatcher, st *game.GameState, kind workerpool.Kind, payload func(agentID string) any) (map[string]json.RawMessage, error) {
	jobToAgent := make(map[string]string, len(st.ActiveAgents))
	st.LLMJobIDs = st.LLMJobIDs[:0]
	for _, agentID := range st.ActiveAgents {
		jobID, err := pool.Enqueue(ctx, st.SessionID, agentID, kind, payload(agentID))
		if err != nil {
			return nil, fmt.Errorf("phase: dispatch %s for %s: %w", kind, agentID, err)
		}
		jobToAgent[jobID] = agentID
		st.LLMJobIDs = append(st.LLMJobIDs, jobID)
	}

	raw, err := pool.AwaitAll(ctx, st.LLMJobIDs, workerpool.DefaultJobTimeout)
	if err != nil {
		return nil, err
	}
	st.LLMJobIDs = nil

	byAgent := make(map[string]json.RawMessage, len(raw))
	for jobID, res := range raw {
		byAgent[jobToAgent[jobID]] = res
	}
	return byAgent, nil
}

func decodeResult[R any](raw json.RawMessage, kind workerpool.Kind) (R, error) {
	var out R
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errs.PhaseFailure(fmt.Sprintf("phase: decode %s result", kind), err)
	}
	return out, nil
}

// MemoryRetrievalNode runs the first and second retrieval phases: a
// player-layer and a character-layer corrupted read per agent, attached
// to the state.
type MemoryRetrievalNode struct {
	Mem    *memory.Client
	Roster Roster
	Second bool
	Log    *slog.Logger
}

// Phase implements [Node].
func (n *MemoryRetrievalNode) Phase() game.Phase {
	if n.Second {
		return game.PhaseSecondMemoryRetrieval
	}
	return game.PhaseMemoryRetrieval
}

// Run implements [Node].
func (n *MemoryRetrievalNode) Run(ctx context.Context, st *game.GameState) error {
	query := st.DMNarration
	if n.Second && len(st.ClarificationAnswers) > 0 {
		var parts []string
		parts = append(parts, st.DMNarration)
		for _, agentID := range st.ActiveAgents {
			if a := st.ClarificationAnswers[agentID]; a != "" {
				parts = append(parts, a)
			}
		}
		query = strings.Join(parts, "\n")
	}

	if st.RetrievedMemories == nil {
		st.RetrievedMemories = make(map[string][]string, len(st.ActiveAgents))
	}
	if st.CharacterMemories == nil {
		st.CharacterMemories = make(map[string][]string, len(st.ActiveAgents))
	}
	for _, agentID := range st.ActiveAgents {
		sheet, ok := n.Roster.CharacterFor(agentID)
		if !ok {
			return errs.Fatal(fmt.Sprintf("phase: agent %s has no character", agentID), nil)
		}
		personality, _ := n.Roster.PersonalityFor(agentID)
		groups := []string{
			ids.AgentGroup(agentID),
			ids.CharacterGroup(sheet.CharacterID),
			ids.GroupCampaign,
		}

		playerFacts, err := n.search(ctx, st, query, groups, memory.CallerPlayer, personality)
		if err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: memory retrieval for %s", agentID), err)
		}
		st.RetrievedMemories[agentID] = playerFacts

		// The character prompt gets its own layered read: character-only
		// knowledge appears, player-only strategy never does.
		charFacts, err := n.search(ctx, st, query, groups, memory.CallerCharacter, personality)
		if err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: character memory retrieval for %s", agentID), err)
		}
		st.CharacterMemories[agentID] = charFacts
	}
	return nil
}

func (n *MemoryRetrievalNode) search(ctx context.Context, st *game.GameState, query string, groupKeys []string, layer memory.CallerLayer, personality game.Personality) ([]string, error) {
	results, err := n.Mem.Search(ctx, memory.SearchRequest{
		Query:       query,
		GroupKeys:   groupKeys,
		Layer:       layer,
		DaysNow:     float64(st.SessionNumber),
		Personality: personality,
	})
	if err != nil {
		return nil, err
	}
	facts := make([]string, 0, len(results))
	for _, r := range results {
		facts = append(facts, r.Edge.Fact)
	}
	return facts, nil
}

// ClarificationCollectNode asks each player whether it wants to query the
// GM this round.
type ClarificationCollectNode struct {
	Pool JobDispatcher
}

// Phase implements [Node].
func (n *ClarificationCollectNode) Phase() game.Phase { return game.PhaseClarificationCollect }

// Run implements [Node].
func (n *ClarificationCollectNode) Run(ctx context.Context, st *game.GameState) error {
	results, err := fanOut(ctx, n.Pool, st, workerpool.KindPlayerClarifyDecision, func(agentID string) any {
		return ClarifyPayload{
			AgentID:   agentID,
			Narration: st.DMNarration,
			Memories:  st.RetrievedMemories[agentID],
			Round:     st.ClarificationRound,
		}
	})
	if err != nil {
		return err
	}

	st.ClarificationQuestions = make(map[string]string)
	for agentID, raw := range results {
		res, err := decodeResult[ClarifyResult](raw, workerpool.KindPlayerClarifyDecision)
		if err != nil {
			return err
		}
		if q := strings.TrimSpace(res.Question); q != "" {
			st.ClarificationQuestions[agentID] = q
		}
	}
	return nil
}

// StrategicIntentNode produces each player's out-of-character intent and
// posts it to the table talk.
type StrategicIntentNode struct {
	Pool   JobDispatcher
	Router MessagePublisher
}

// Phase implements [Node].
func (n *StrategicIntentNode) Phase() game.Phase { return game.PhaseStrategicIntent }

// Run implements [Node].
func (n *StrategicIntentNode) Run(ctx context.Context, st *game.GameState) error {
	results, err := fanOut(ctx, n.Pool, st, workerpool.KindPlayerIntent, func(agentID string) any {
		return IntentPayload{
			AgentID:        agentID,
			Narration:      st.DMNarration,
			Memories:       st.RetrievedMemories[agentID],
			Clarifications: st.ClarificationAnswers,
		}
	})
	if err != nil {
		return err
	}

	st.StrategicIntents = make(map[string]string, len(results))
	for _, agentID := range st.ActiveAgents {
		res, err := decodeResult[IntentResult](results[agentID], workerpool.KindPlayerIntent)
		if err != nil {
			return err
		}
		st.StrategicIntents[agentID] = res.Intent
		st.OOCMessages = append(st.OOCMessages, game.OOCMessage{
			AgentID: agentID,
			Text:    res.Intent,
			Round:   st.ClarificationRound,
		})

		msg := router.NewMessage(st.SessionID, router.ChannelOOC, agentID, "", res.Intent, st.TurnNumber, st.SessionNumber)
		if err := n.Router.Publish(ctx, msg); err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: publish intent for %s", agentID), err)
		}
	}
	return nil
}

// P2CDirectiveNode runs consensus over the table talk and routes one
// directive from each player to its character.
type P2CDirectiveNode struct {
	Pool      JobDispatcher
	Router    MessagePublisher
	Consensus *consensus.Detector
	Roster    Roster
}

// Phase implements [Node].
func (n *P2CDirectiveNode) Phase() game.Phase { return game.PhaseP2CDirective }

// Run implements [Node].
func (n *P2CDirectiveNode) Run(ctx context.Context, st *game.GameState) error {
	aggregate := ""
	if n.Consensus != nil && len(st.OOCMessages) > 0 {
		res, err := n.Consensus.Detect(ctx, st.OOCMessages, st.ActiveAgents,
			oocRound(st.OOCMessages), time.Since(st.PhaseStartTime))
		if err != nil {
			return errs.PhaseFailure("phase: consensus detection", err)
		}
		aggregate = string(res.Aggregate)
	}

	results, err := fanOut(ctx, n.Pool, st, workerpool.KindPlayerP2CDirective, func(agentID string) any {
		return DirectivePayload{
			AgentID:   agentID,
			Intent:    st.StrategicIntents[agentID],
			Consensus: aggregate,
		}
	})
	if err != nil {
		return err
	}

	if st.P2CDirectives == nil {
		st.P2CDirectives = make(map[string]string, len(results))
	}
	for _, agentID := range st.ActiveAgents {
		res, err := decodeResult[DirectiveResult](results[agentID], workerpool.KindPlayerP2CDirective)
		if err != nil {
			return err
		}
		st.P2CDirectives[agentID] = res.Directive
		sheet, ok := n.Roster.CharacterFor(agentID)
		if !ok {
			return errs.Fatal(fmt.Sprintf("phase: agent %s has no character", agentID), nil)
		}
		msg := router.NewMessage(st.SessionID, router.ChannelP2C, agentID, sheet.CharacterID,
			res.Directive, st.TurnNumber, st.SessionNumber)
		if err := n.Router.Publish(ctx, msg); err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: publish directive for %s", agentID), err)
		}
	}
	return nil
}

// oocRound derives the 1-based discussion round from the transcript: the
// most messages any one agent has posted. Each intent pass posts one
// message per agent, so the count grows only when the table talk
// genuinely reopens.
func oocRound(messages []game.OOCMessage) int {
	perAgent := make(map[string]int)
	round := 1
	for _, m := range messages {
		perAgent[m.AgentID]++
		if perAgent[m.AgentID] > round {
			round = perAgent[m.AgentID]
		}
	}
	return round
}

// CharacterActionNode produces each character's structured action,
// applying the escalating strictness directive on validation retries.
type CharacterActionNode struct {
	Pool   JobDispatcher
	Roster Roster
}

// Phase implements [Node].
func (n *CharacterActionNode) Phase() game.Phase { return game.PhaseCharacterAction }

// Run implements [Node].
func (n *CharacterActionNode) Run(ctx context.Context, st *game.GameState) error {
	results, err := fanOut(ctx, n.Pool, st, workerpool.KindCharacterAction, func(agentID string) any {
		sheet, _ := n.Roster.CharacterFor(agentID)
		attempt := st.ValidationAttempts[sheet.CharacterID] + 1
		return ActionPayload{
			CharacterID: sheet.CharacterID,
			Directive:   directiveText(st, agentID),
			Memories:    st.CharacterMemories[agentID],
			Strictness:  validation.StrictnessDirective(attempt),
			Attempt:     attempt,
		}
	})
	if err != nil {
		return err
	}

	if st.CharacterActions == nil {
		st.CharacterActions = make(map[string]game.CharacterAction, len(results))
	}
	for _, agentID := range st.ActiveAgents {
		res, err := decodeResult[ActionResult](results[agentID], workerpool.KindCharacterAction)
		if err != nil {
			return err
		}
		sheet, ok := n.Roster.CharacterFor(agentID)
		if !ok {
			return errs.Fatal(fmt.Sprintf("phase: agent %s has no character", agentID), nil)
		}
		if err := res.Action.Validate(); err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: malformed action from %s", sheet.CharacterID), err)
		}
		st.CharacterActions[sheet.CharacterID] = res.Action
	}
	return nil
}

// directiveText falls back to the strategic intent when no directive was
// produced, which keeps retries self-contained.
func directiveText(st *game.GameState, agentID string) string {
	if d := st.P2CDirectives[agentID]; d != "" {
		return d
	}
	return st.StrategicIntents[agentID]
}

// ValidationNode checks every proposed action for narrative overreach and
// seals a per-character verdict.
type ValidationNode struct {
	Engine *validation.Engine
	Roster Roster
}

// Phase implements [Node].
func (n *ValidationNode) Phase() game.Phase { return game.PhaseValidation }

// Run implements [Node].
func (n *ValidationNode) Run(ctx context.Context, st *game.GameState) error {
	if st.ValidationAttempts == nil {
		st.ValidationAttempts = make(map[string]int)
	}
	if st.ValidationResults == nil {
		st.ValidationResults = make(map[string]game.ValidationResult)
	}

	for _, agentID := range st.ActiveAgents {
		sheet, ok := n.Roster.CharacterFor(agentID)
		if !ok {
			return errs.Fatal(fmt.Sprintf("phase: agent %s has no character", agentID), nil)
		}
		charID := sheet.CharacterID
		action, ok := st.CharacterActions[charID]
		if !ok {
			return errs.PhaseFailure(fmt.Sprintf("phase: no action for %s at validation", charID), nil)
		}

		attempt := st.ValidationAttempts[charID] + 1
		st.ValidationAttempts[charID] = attempt

		verdict := n.Engine.Validate(ctx, action.Text, attempt)
		st.ValidationResults[charID] = verdict.Result()
		if verdict.AutoFixedText != "" {
			action.Text = verdict.AutoFixedText
			st.CharacterActions[charID] = action
		}
	}
	return nil
}

// ResolveHelpersNode pre-rolls every helper and counts successful helpers
// per main actor.
type ResolveHelpersNode struct {
	Roller *dice.Roller
	Roster Roster
}

// Phase implements [Node].
func (n *ResolveHelpersNode) Phase() game.Phase { return game.PhaseResolveHelpers }

// Run implements [Node].
//
// Helpers roll in active-agent order, so a seeded roller reproduces a
// turn exactly.
func (n *ResolveHelpersNode) Run(ctx context.Context, st *game.GameState) error {
	st.SuccessfulHelperCounts = make(map[string]int)
	for _, agentID := range st.ActiveAgents {
		sheet, ok := n.Roster.CharacterFor(agentID)
		if !ok {
			return errs.Fatal(fmt.Sprintf("phase: agent %s has no character", agentID), nil)
		}
		action, ok := st.CharacterActions[sheet.CharacterID]
		if !ok || !action.IsHelping {
			continue
		}
		result, err := n.Roller.HelperRoll(sheet.Number, action.TaskType, action.IsPrepared, action.IsExpert)
		if err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: helper roll for %s", sheet.CharacterID), err)
		}
		if result.TotalSuccesses > 0 {
			st.SuccessfulHelperCounts[action.HelpingCharacterID]++
		}
	}
	return nil
}

// DiceResolutionNode builds and rolls each main actor's pool, honouring a
// GM override from adjudication, and scores LASER FEELINGS.
type DiceResolutionNode struct {
	Roller *dice.Roller
	Roster Roster
}

// Phase implements [Node].
func (n *DiceResolutionNode) Phase() game.Phase { return game.PhaseDiceResolution }

// Run implements [Node].
func (n *DiceResolutionNode) Run(ctx context.Context, st *game.GameState) error {
	st.DiceCount = make(map[string]int)
	st.IndividualRolls = make(map[string][]int)
	st.DieSuccesses = make(map[string]int)
	st.LaserFeelingsIndices = make(map[string][]int)

	var override *dice.Override
	if st.DiceOverrideSpec != "" {
		parsed, err := dice.ParseOverride(st.DiceOverrideSpec)
		if err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: bad dice override %q", st.DiceOverrideSpec), err)
		}
		override = &parsed
	}

	// Active-agent order keeps the roll sequence deterministic and makes
	// the first LASER FEELINGS question the one that sticks.
	for _, agentID := range st.ActiveAgents {
		sheet, ok := n.Roster.CharacterFor(agentID)
		if !ok {
			return errs.Fatal(fmt.Sprintf("phase: agent %s has no character", agentID), nil)
		}
		charID := sheet.CharacterID
		action, ok := st.CharacterActions[charID]
		if !ok || action.IsHelping {
			continue
		}

		var result dice.Result
		var err error
		if override != nil {
			result, err = override.Apply(n.Roller, sheet.Number, action.TaskType)
		} else {
			result, err = n.Roller.Roll(sheet.Number, action.TaskType,
				action.IsPrepared, action.IsExpert, st.SuccessfulHelperCounts[charID])
		}
		if err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: dice resolution for %s", charID), err)
		}

		st.DiceCount[charID] = result.DiceCount
		st.IndividualRolls[charID] = result.IndividualRolls
		st.DieSuccesses[charID] = result.TotalSuccesses
		st.LaserFeelingsIndices[charID] = result.LaserFeelingsIndices
		if result.Question != "" && st.GMQuestion == "" {
			st.GMQuestion = result.Question
		}
	}
	return nil
}

// CharacterReactionNode publishes the GM outcome in character and fans
// out each character's reaction to it.
type CharacterReactionNode struct {
	Pool   JobDispatcher
	Router MessagePublisher
	Roster Roster
}

// Phase implements [Node].
func (n *CharacterReactionNode) Phase() game.Phase { return game.PhaseCharacterReaction }

// Run implements [Node].
func (n *CharacterReactionNode) Run(ctx context.Context, st *game.GameState) error {
	outcome := router.NewMessage(st.SessionID, router.ChannelIC, ids.GMSpeaker, "",
		st.OutcomeNarration, st.TurnNumber, st.SessionNumber)
	if err := n.Router.Publish(ctx, outcome); err != nil {
		return errs.PhaseFailure("phase: publish outcome", err)
	}

	results, err := fanOut(ctx, n.Pool, st, workerpool.KindCharacterReaction, func(agentID string) any {
		sheet, _ := n.Roster.CharacterFor(agentID)
		return ReactionPayload{CharacterID: sheet.CharacterID, Outcome: st.OutcomeNarration}
	})
	if err != nil {
		return err
	}

	st.CharacterReactions = make(map[string]string, len(results))
	for _, agentID := range st.ActiveAgents {
		res, err := decodeResult[ReactionResult](results[agentID], workerpool.KindCharacterReaction)
		if err != nil {
			return err
		}
		sheet, ok := n.Roster.CharacterFor(agentID)
		if !ok {
			return errs.Fatal(fmt.Sprintf("phase: agent %s has no character", agentID), nil)
		}
		st.CharacterReactions[sheet.CharacterID] = res.Reaction

		msg := router.NewMessage(st.SessionID, router.ChannelIC, sheet.CharacterID, "",
			res.Reaction, st.TurnNumber, st.SessionNumber)
		if err := n.Router.Publish(ctx, msg); err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: publish reaction for %s", sheet.CharacterID), err)
		}
	}
	return nil
}

// MemoryConsolidationNode writes the turn's episodes: one per agent scope
// and one shared campaign record.
type MemoryConsolidationNode struct {
	Mem    *memory.Client
	Roster Roster
	Log    *slog.Logger
}

// Phase implements [Node].
func (n *MemoryConsolidationNode) Phase() game.Phase { return game.PhaseMemoryConsolidation }

// Run implements [Node].
func (n *MemoryConsolidationNode) Run(ctx context.Context, st *game.GameState) error {
	now := time.Now().UTC()

	for _, agentID := range st.ActiveAgents {
		sheet, ok := n.Roster.CharacterFor(agentID)
		if !ok {
			return errs.Fatal(fmt.Sprintf("phase: agent %s has no character", agentID), nil)
		}
		scope := memory.Scope{AgentID: agentID, CharacterID: sheet.CharacterID}

		content := turnNarrative(st, sheet.CharacterID)
		if _, err := n.Mem.AddEpisode(ctx, scope, memory.EpisodeInput{
			GroupKey:      ids.AgentGroup(agentID),
			SessionNumber: st.SessionNumber,
			Content:       content,
			ReferenceTime: now,
			MemoryType:    memory.Episodic,
			DaysElapsed:   float64(st.SessionNumber),
			Importance:    0.5,
		}); err != nil {
			return errs.PhaseFailure(fmt.Sprintf("phase: consolidate for %s", agentID), err)
		}
	}

	// The campaign scope records the GM's canon once, under the first
	// active agent's write scope.
	if len(st.ActiveAgents) > 0 {
		agentID := st.ActiveAgents[0]
		sheet, _ := n.Roster.CharacterFor(agentID)
		scope := memory.Scope{AgentID: agentID, CharacterID: sheet.CharacterID}
		canon := strings.TrimSpace(st.DMNarration + "\n" + st.OutcomeNarration)
		if _, err := n.Mem.AddEpisode(ctx, scope, memory.EpisodeInput{
			GroupKey:      ids.GroupCampaign,
			SessionNumber: st.SessionNumber,
			Content:       canon,
			ReferenceTime: now,
			MemoryType:    memory.Episodic,
			DaysElapsed:   float64(st.SessionNumber),
			Importance:    0.7,
		}); err != nil {
			return errs.PhaseFailure("phase: consolidate campaign canon", err)
		}
	}
	return nil
}

// turnNarrative assembles one character's view of the turn for
// consolidation.
func turnNarrative(st *game.GameState, charID string) string {
	var b strings.Builder
	b.WriteString(st.DMNarration)
	if action, ok := st.CharacterActions[charID]; ok {
		b.WriteString("\n")
		b.WriteString(action.Text)
	}
	if st.OutcomeNarration != "" {
		b.WriteString("\n")
		b.WriteString(st.OutcomeNarration)
	}
	if reaction := st.CharacterReactions[charID]; reaction != "" {
		b.WriteString("\n")
		b.WriteString(reaction)
	}
	return b.String()
}
