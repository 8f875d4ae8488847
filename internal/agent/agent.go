// Package agent implements the crew's LLM behaviour: one worker-pool
// handler per job kind, each building its prompt from the roster's
// personalities and sheets and parsing the model's reply into the
// structured result the phase nodes expect.
//
// A [Crew] is stateless between jobs; every piece of turn state arrives
// in the job payload. Handlers classify their errors through the errs
// taxonomy so the pool retries only what is worth retrying: provider
// failures and malformed model output are transient, missing roster
// entries are fatal.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starcrew-ai/starcrew/internal/consensus"
	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/phase"
	"github.com/starcrew-ai/starcrew/internal/prompt"
	"github.com/starcrew-ai/starcrew/internal/roster"
	"github.com/starcrew-ai/starcrew/internal/validation"
	"github.com/starcrew-ai/starcrew/internal/workerpool"
	"github.com/starcrew-ai/starcrew/pkg/game"
	"github.com/starcrew-ai/starcrew/pkg/memory"
	"github.com/starcrew-ai/starcrew/pkg/provider/llm"
)

// Sampling temperatures per task class. Planning work wants some spread,
// roleplay wants more, structured output wants almost none.
const (
	tempPlanning   = 0.7
	tempRoleplay   = 0.9
	tempStructured = 0.3
)

// defaultMaxTokens caps one completion when no override is configured.
const defaultMaxTokens = 1024

// Option configures a [Crew].
type Option func(*Crew)

// WithMaxTokens caps completion tokens per call.
func WithMaxTokens(n int) Option { return func(c *Crew) { c.maxTokens = n } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(c *Crew) { c.log = log } }

// Crew runs the LLM work for every player and character in the roster.
// Safe for concurrent use.
type Crew struct {
	roster   *roster.Roster
	provider llm.Provider

	checker    *validation.LLMChecker
	renderer   *memory.LLMRenderer
	classifier *consensus.LLMClassifier

	maxTokens int
	log       *slog.Logger
}

// NewCrew creates the crew's handler set over one roster and provider.
func NewCrew(r *roster.Roster, provider llm.Provider, opts ...Option) *Crew {
	c := &Crew{
		roster:    r,
		provider:  provider,
		maxTokens: defaultMaxTokens,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.checker = validation.NewLLMChecker(provider, c.maxTokens)
	c.renderer = memory.NewLLMRenderer(provider, c.maxTokens)
	c.classifier = consensus.NewLLMClassifier(provider, c.maxTokens)
	return c
}

// Register installs a handler for every job kind on the pool.
func (c *Crew) Register(pool *workerpool.Pool) {
	pool.Register(workerpool.KindPlayerClarifyDecision, c.handleClarify)
	pool.Register(workerpool.KindPlayerIntent, c.handleIntent)
	pool.Register(workerpool.KindPlayerP2CDirective, c.handleDirective)
	pool.Register(workerpool.KindCharacterAction, c.handleAction)
	pool.Register(workerpool.KindCharacterReaction, c.handleReaction)
	pool.Register(workerpool.KindValidationSemantic, c.handleSemantic)
	pool.Register(workerpool.KindMemoryCorruptionRender, c.handleCorruption)
	pool.Register(workerpool.KindStanceExtraction, c.handleStance)
}

func (c *Crew) handleClarify(ctx context.Context, job workerpool.Job) (json.RawMessage, error) {
	payload, err := decodePayload[phase.ClarifyPayload](job)
	if err != nil {
		return nil, err
	}
	system, err := c.playerSystem(payload.AgentID)
	if err != nil {
		return nil, err
	}
	res, err := completeJSON[phase.ClarifyResult](ctx, c, system,
		prompt.Clarify(payload.Narration, payload.Memories, payload.Round), tempPlanning)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (c *Crew) handleIntent(ctx context.Context, job workerpool.Job) (json.RawMessage, error) {
	payload, err := decodePayload[phase.IntentPayload](job)
	if err != nil {
		return nil, err
	}
	system, err := c.playerSystem(payload.AgentID)
	if err != nil {
		return nil, err
	}
	res, err := completeJSON[phase.IntentResult](ctx, c, system,
		prompt.Intent(payload.Narration, payload.Memories, payload.Clarifications), tempPlanning)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Intent) == "" {
		return nil, errs.Transientf("agent: empty intent from %s", payload.AgentID)
	}
	return json.Marshal(res)
}

func (c *Crew) handleDirective(ctx context.Context, job workerpool.Job) (json.RawMessage, error) {
	payload, err := decodePayload[phase.DirectivePayload](job)
	if err != nil {
		return nil, err
	}
	system, err := c.playerSystem(payload.AgentID)
	if err != nil {
		return nil, err
	}
	res, err := completeJSON[phase.DirectiveResult](ctx, c, system,
		prompt.Directive(payload.Intent, payload.Consensus), tempPlanning)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Directive) == "" {
		return nil, errs.Transientf("agent: empty directive from %s", payload.AgentID)
	}
	return json.Marshal(res)
}

func (c *Crew) handleAction(ctx context.Context, job workerpool.Job) (json.RawMessage, error) {
	payload, err := decodePayload[phase.ActionPayload](job)
	if err != nil {
		return nil, err
	}
	system, err := c.characterSystem(payload.CharacterID)
	if err != nil {
		return nil, err
	}
	action, err := completeJSON[actionReply](ctx, c, system,
		prompt.Action(payload.Directive, payload.Memories, payload.Strictness, payload.Attempt), tempStructured)
	if err != nil {
		return nil, err
	}
	res := phase.ActionResult{Action: action.CharacterAction()}
	if err := res.Action.Validate(); err != nil {
		// Malformed structure is the model's fault; retry with the same
		// prompt rather than failing the phase.
		return nil, errs.Transient(fmt.Sprintf("agent: malformed action from %s", payload.CharacterID), err)
	}
	return json.Marshal(res)
}

func (c *Crew) handleReaction(ctx context.Context, job workerpool.Job) (json.RawMessage, error) {
	payload, err := decodePayload[phase.ReactionPayload](job)
	if err != nil {
		return nil, err
	}
	system, err := c.characterSystem(payload.CharacterID)
	if err != nil {
		return nil, err
	}
	res, err := completeJSON[phase.ReactionResult](ctx, c, system,
		prompt.Reaction(payload.Outcome), tempRoleplay)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Reaction) == "" {
		return nil, errs.Transientf("agent: empty reaction from %s", payload.CharacterID)
	}
	return json.Marshal(res)
}

// Ask poses an out-of-band GM question to a character and returns the
// in-character answer. It bypasses the pool: the turn is parked while the
// GM asks, so there is nothing to queue behind.
func (c *Crew) Ask(ctx context.Context, characterID, text string) (string, error) {
	system, err := c.characterSystem(characterID)
	if err != nil {
		return "", err
	}
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: "user", Content: "The GM asks you directly: " + text + "\nAnswer in character, briefly."}},
		Temperature:  tempRoleplay,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return "", errs.Transient(fmt.Sprintf("agent: ask %s", characterID), err)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", errs.Transientf("agent: empty answer from %s", characterID)
	}
	return answer, nil
}

// playerSystem builds the system prompt for an agent's strategic layer.
func (c *Crew) playerSystem(agentID string) (string, error) {
	profile, ok := c.roster.PlayerFor(agentID)
	if !ok {
		return "", errs.Fatal(fmt.Sprintf("agent: unknown agent %s", agentID), nil)
	}
	return prompt.PlayerSystem(profile.Name, profile.Personality, c.roster.Ship()), nil
}

// characterSystem builds the system prompt for a character's roleplay
// layer.
func (c *Crew) characterSystem(characterID string) (string, error) {
	sheet, ok := c.roster.SheetByCharacter(characterID)
	if !ok {
		return "", errs.Fatal(fmt.Sprintf("agent: unknown character %s", characterID), nil)
	}
	return prompt.CharacterSystem(sheet, c.roster.Ship()), nil
}

// actionReply is the flat action object the model is asked to emit.
type actionReply struct {
	Text               string `json:"text"`
	TaskType           string `json:"task_type"`
	IsPrepared         bool   `json:"is_prepared"`
	IsExpert           bool   `json:"is_expert"`
	IsHelping          bool   `json:"is_helping"`
	HelpingCharacterID string `json:"helping_character_id"`
	Justification      string `json:"justification"`
}

// CharacterAction converts the reply into the domain action.
func (r actionReply) CharacterAction() game.CharacterAction {
	return game.CharacterAction{
		Text:               strings.TrimSpace(r.Text),
		TaskType:           game.TaskType(strings.ToLower(strings.TrimSpace(r.TaskType))),
		IsPrepared:         r.IsPrepared,
		IsExpert:           r.IsExpert,
		IsHelping:          r.IsHelping,
		HelpingCharacterID: strings.TrimSpace(r.HelpingCharacterID),
		Justification:      strings.TrimSpace(r.Justification),
	}
}

func decodePayload[P any](job workerpool.Job) (P, error) {
	var payload P
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, errs.Fatal(fmt.Sprintf("agent: decode %s payload", job.Kind), err)
	}
	return payload, nil
}

// completeJSON sends one completion and parses the reply as a JSON object
// of type R. Provider errors and unparseable replies are transient.
func completeJSON[R any](ctx context.Context, c *Crew, system, user string, temperature float64) (R, error) {
	var out R
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: "user", Content: user}},
		Temperature:  temperature,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return out, errs.Transient("agent: completion", err)
	}
	if err := json.Unmarshal(extractJSON(resp.Content), &out); err != nil {
		return out, errs.Transient("agent: parse model reply", err)
	}
	return out, nil
}

// extractJSON trims code fences and surrounding prose down to the
// outermost JSON object. Models wrap JSON despite instructions often
// enough that tolerating it is cheaper than retrying.
func extractJSON(s string) []byte {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return []byte(strings.TrimSpace(s))
	}
	return []byte(s[start : end+1])
}
