// Package gmserver exposes the GM command surface as a Model Context
// Protocol server, so any MCP-capable front-end (a desktop client, an
// editor, a chat bridge) can run the table. One tool per command verb,
// plus a status tool for the parked prompt.
package gmserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/starcrew-ai/starcrew/internal/gmcmd"
)

const (
	serverName    = "starcrew-gm"
	serverVersion = "1.0.0"
)

// CommandResult is the shared output of every turn-driving tool.
type CommandResult struct {
	// RunState is parked_for_gm, turn_complete, or halted; empty when the
	// command did not advance the machine.
	RunState string `json:"run_state,omitempty"`

	// Phase is the phase the machine stopped at.
	Phase string `json:"phase,omitempty"`

	// Diagnostic summarizes the failure when the machine halted.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Admissible lists the commands the machine accepts next.
	Admissible []string `json:"admissible,omitempty"`

	// Note carries acknowledgements for commands with no machine effect.
	Note string `json:"note,omitempty"`

	// Ended is set once end_session ran.
	Ended bool `json:"ended,omitempty"`
}

// StatusResult describes the session for the status tool.
type StatusResult struct {
	SessionID  string   `json:"session_id"`
	Turn       int      `json:"turn"`
	Phase      string   `json:"phase"`
	Admissible []string `json:"admissible"`

	// PendingQuestions lists agents still waiting on a GM answer.
	PendingQuestions []string `json:"pending_questions,omitempty"`

	RequiresDMIntervention bool `json:"requires_dm_intervention,omitempty"`
}

// NarrateInput starts the turn's scene.
type NarrateInput struct {
	Text string `json:"text"`
}

// AnswerInput answers one agent's clarification question.
type AnswerInput struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
}

// EmptyInput is the input of argument-less tools.
type EmptyInput struct{}

// AdjudicateInput resolves the adjudication interrupt: exactly one of
// accept, override_spec, or flag_note.
type AdjudicateInput struct {
	Accept       bool   `json:"accept,omitempty"`
	OverrideSpec string `json:"override_spec,omitempty"`
	FlagNote     string `json:"flag_note,omitempty"`
}

// LFAnswerInput answers the LASER FEELINGS question.
type LFAnswerInput struct {
	Text string `json:"text"`
}

// OutcomeInput narrates the turn outcome with its hinted tier.
type OutcomeInput struct {
	// Tier is success, fail, partial, or critical.
	Tier string `json:"tier"`
	Text string `json:"text"`
}

// AskInput queries a character out of band.
type AskInput struct {
	CharacterID string `json:"character_id"`
	Text        string `json:"text"`
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(s *Server) { s.log = log } }

// WithOnEnd registers the session teardown hook run by end_session.
func WithOnEnd(fn func(context.Context) error) Option {
	return func(s *Server) { s.onEnd = fn }
}

// Server wraps one session's command adapter in an MCP server.
type Server struct {
	adapter *gmcmd.Adapter
	driver  gmcmd.TurnDriver
	log     *slog.Logger
	onEnd   func(context.Context) error
}

// New creates a GM server over one session's adapter. driver is the same
// machine the adapter drives; the status tool reads it directly.
func New(adapter *gmcmd.Adapter, driver gmcmd.TurnDriver, opts ...Option) *Server {
	s := &Server{adapter: adapter, driver: driver, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves MCP over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	s.register(server)
	s.log.InfoContext(ctx, "gm server listening", "transport", "stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("gmserver: run: %w", err)
	}
	return nil
}

func (s *Server) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "narrate",
		Description: "Set the scene narration and release the crew into the turn.",
	}, s.narrate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "answer",
		Description: "Answer one agent's clarification question. The turn resumes once every pending question is answered.",
	}, s.answer)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "finish_clarifications",
		Description: "Stop the clarification round early, flushing any answers given so far.",
	}, s.finish)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "adjudicate",
		Description: "Resolve the proposed roll: accept it, override it with a dice spec (NdM, NdM+K, or [v1,v2,...]), or flag it with a note.",
	}, s.adjudicate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "lf_answer",
		Description: "Answer the LASER FEELINGS question truthfully.",
	}, s.lfAnswer)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "outcome",
		Description: "Narrate the turn outcome with its tier hint (success, fail, partial, critical).",
	}, s.outcome)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Query a character out of band. Does not advance the turn.",
	}, s.ask)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "abort_turn",
		Description: "Cancel outstanding work and roll the session back to its last stable phase.",
	}, s.abortTurn)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "end_session",
		Description: "Persist everything and close the session.",
	}, s.endSession)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "status",
		Description: "Report the session's current phase and the commands it accepts.",
	}, s.status)
}

func (s *Server) narrate(ctx context.Context, _ *mcp.CallToolRequest, in NarrateInput) (*mcp.CallToolResult, CommandResult, error) {
	return s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbNarrate, Text: in.Text})
}

func (s *Server) answer(ctx context.Context, _ *mcp.CallToolRequest, in AnswerInput) (*mcp.CallToolResult, CommandResult, error) {
	return s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbAnswer, Target: in.AgentID, Text: in.Text})
}

func (s *Server) finish(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, CommandResult, error) {
	return s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbFinish})
}

func (s *Server) adjudicate(ctx context.Context, _ *mcp.CallToolRequest, in AdjudicateInput) (*mcp.CallToolResult, CommandResult, error) {
	switch {
	case in.OverrideSpec != "":
		return s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbOverride, Text: in.OverrideSpec})
	case in.FlagNote != "":
		return s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbFlag, Text: in.FlagNote})
	case in.Accept:
		return s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbAccept})
	}
	return nil, CommandResult{}, fmt.Errorf("adjudicate requires accept, override_spec, or flag_note")
}

func (s *Server) lfAnswer(ctx context.Context, _ *mcp.CallToolRequest, in LFAnswerInput) (*mcp.CallToolResult, CommandResult, error) {
	return s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbLFAnswer, Text: in.Text})
}

func (s *Server) outcome(ctx context.Context, _ *mcp.CallToolRequest, in OutcomeInput) (*mcp.CallToolResult, CommandResult, error) {
	verb, ok := outcomeVerbs[in.Tier]
	if !ok {
		return nil, CommandResult{}, fmt.Errorf("tier %q is not one of success, fail, partial, critical", in.Tier)
	}
	return s.run(ctx, gmcmd.Command{Verb: verb, Text: in.Text})
}

var outcomeVerbs = map[string]gmcmd.Verb{
	"success":  gmcmd.VerbSuccess,
	"fail":     gmcmd.VerbFail,
	"partial":  gmcmd.VerbPartial,
	"critical": gmcmd.VerbCritical,
}

func (s *Server) ask(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, CommandResult, error) {
	return s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbAsk, Target: in.CharacterID, Text: in.Text})
}

func (s *Server) abortTurn(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, CommandResult, error) {
	return s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbAbortTurn})
}

func (s *Server) endSession(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, CommandResult, error) {
	result, out, err := s.run(ctx, gmcmd.Command{Verb: gmcmd.VerbEndSession})
	if err != nil {
		return nil, CommandResult{}, err
	}
	if s.onEnd != nil {
		if err := s.onEnd(ctx); err != nil {
			return nil, CommandResult{}, fmt.Errorf("gmserver: end session: %w", err)
		}
	}
	return result, out, nil
}

func (s *Server) status(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, StatusResult, error) {
	st := s.driver.State()
	if st == nil {
		return nil, StatusResult{}, fmt.Errorf("no turn in flight")
	}
	return nil, StatusResult{
		SessionID:              st.SessionID,
		Turn:                   st.TurnNumber,
		Phase:                  st.CurrentPhase.String(),
		Admissible:             verbNames(gmcmd.CommandsFor(st.CurrentPhase)),
		PendingQuestions:       st.PendingQuestions(),
		RequiresDMIntervention: st.RequiresDMIntervention,
	}, nil
}

func (s *Server) run(ctx context.Context, cmd gmcmd.Command) (*mcp.CallToolResult, CommandResult, error) {
	reply, err := s.adapter.Run(ctx, cmd)
	if err != nil {
		return nil, CommandResult{}, err
	}
	out := CommandResult{Note: reply.Note, Ended: reply.Ended}
	if reply.Status.Kind != "" {
		out.RunState = string(reply.Status.Kind)
		out.Phase = reply.Status.Phase.String()
		out.Diagnostic = reply.Status.Diagnostic
		out.Admissible = reply.Status.Admissible
	}
	return nil, out, nil
}

// verbNames renders verbs for the status payload.
func verbNames(verbs []gmcmd.Verb) []string {
	out := make([]string, len(verbs))
	for i, v := range verbs {
		out[i] = string(v)
	}
	return out
}
