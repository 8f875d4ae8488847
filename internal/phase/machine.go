package phase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

// Defaults for the branch budgets.
const (
	DefaultClarificationMaxRounds = 3
	DefaultValidationMaxAttempts  = 3
)

// Node executes one non-interrupt phase against the state. Nodes may
// mutate only the state fields their phase owns; everything else goes
// through their injected dependencies.
type Node interface {
	Phase() game.Phase
	Run(ctx context.Context, st *game.GameState) error
}

// JobCanceler cancels a session's outstanding worker jobs on abort.
type JobCanceler interface {
	CancelSession(ctx context.Context, sessionID string) (int, error)
}

// RunState classifies where a run stopped.
type RunState string

const (
	// StateParked means the machine awaits GM input at an interrupt phase.
	StateParked RunState = "parked_for_gm"

	// StateComplete means the turn ran to the end of memory consolidation.
	StateComplete RunState = "turn_complete"

	// StateHalted means the session stopped with requires_dm_intervention
	// set; only GM recovery commands apply.
	StateHalted RunState = "halted"
)

// Status reports where the machine stopped and what the GM may do there.
type Status struct {
	Kind  RunState
	Phase game.Phase

	// Diagnostic summarizes the failure when Kind is StateHalted.
	Diagnostic string

	// Admissible lists the GM commands accepted in this state.
	Admissible []string
}

// GMInput is the payload a GM command supplies to resume a parked
// interrupt. Exactly the fields for the parked phase must be set.
type GMInput struct {
	// Narration resumes dm_narration.
	Narration string

	// Answers and Finish resume dm_clarification_wait: answers keyed by
	// asking agent, and the optional early exit.
	Answers map[string]string
	Finish  bool

	// Accept, OverrideSpec, and FlagNote resume dm_adjudication.
	Accept       bool
	OverrideSpec string
	FlagNote     string

	// LaserFeelingsAnswer resumes laser_feelings_question.
	LaserFeelingsAnswer string

	// OutcomeTier and OutcomeText resume dm_outcome.
	OutcomeTier string
	OutcomeText string
}

// Option configures a [Machine].
type Option func(*Machine)

// WithClarificationMaxRounds overrides the clarification loop budget.
func WithClarificationMaxRounds(n int) Option {
	return func(m *Machine) { m.clarMaxRounds = n }
}

// WithValidationMaxAttempts overrides the validation retry budget.
func WithValidationMaxAttempts(n int) Option {
	return func(m *Machine) { m.valMaxAttempts = n }
}

// WithJobCanceler wires job cancellation into abort_turn.
func WithJobCanceler(c JobCanceler) Option { return func(m *Machine) { m.canceler = c } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(m *Machine) { m.log = log } }

// Machine drives one session's turns. It is single-threaded by contract:
// one phase at a time, guarded by a session-level mutex. Create one
// machine per session.
type Machine struct {
	sessionID string
	cp        Checkpointer
	nodes     map[game.Phase]Node
	canceler  JobCanceler
	log       *slog.Logger

	clarMaxRounds  int
	valMaxAttempts int

	mu     sync.Mutex
	state  *game.GameState
	parked bool
	halted bool
}

// NewMachine creates a machine for one session. nodes must cover every
// non-interrupt phase; a missing node surfaces as a config error when its
// phase is reached.
func NewMachine(sessionID string, cp Checkpointer, nodes []Node, opts ...Option) *Machine {
	byPhase := make(map[game.Phase]Node, len(nodes))
	for _, n := range nodes {
		byPhase[n.Phase()] = n
	}
	m := &Machine{
		sessionID:      sessionID,
		cp:             cp,
		nodes:          byPhase,
		log:            slog.Default(),
		clarMaxRounds:  DefaultClarificationMaxRounds,
		valMaxAttempts: DefaultValidationMaxAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a deep copy of the current game state for inspection.
func (m *Machine) State() *game.GameState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	return m.state.Clone()
}

// StartTurn begins a fresh turn from st and runs until the machine parks,
// halts, or completes the turn.
func (m *Machine) StartTurn(ctx context.Context, st *game.GameState) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = st
	m.parked = false
	m.halted = false
	return m.run(ctx)
}

// Resume applies GM input to the parked interrupt phase and continues the
// run. Calling Resume when the machine is not parked is a validation
// error.
func (m *Machine) Resume(ctx context.Context, in GMInput) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil || !m.parked {
		return Status{}, errs.Validation("phase: resume", fmt.Errorf("session %s is not parked", m.sessionID))
	}
	if m.halted {
		return Status{}, errs.Validation("phase: resume", fmt.Errorf("session %s is halted; use abort_turn or end_session", m.sessionID))
	}

	ph := m.state.CurrentPhase
	if err := m.applyGMInput(ph, in); err != nil {
		return Status{}, err
	}
	m.parked = false

	status, done, err := m.completeAndAdvance(ctx, ph)
	if err != nil {
		return Status{}, err
	}
	if done {
		return status, nil
	}
	return m.run(ctx)
}

// Restore rehydrates the machine from the session's latest checkpoint
// after a crash and continues from the phase after the last stable one.
// A session without any checkpoint is fatal.
func (m *Machine) Restore(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.cp.Latest(ctx, m.sessionID)
	if err != nil {
		return Status{}, fmt.Errorf("phase: restore %s: %w", m.sessionID, err)
	}
	if snap == nil {
		return Status{}, errs.Fatal(fmt.Sprintf("phase: session %s has no stable checkpoint", m.sessionID), nil)
	}

	m.state = snap.State
	m.parked = false
	m.halted = m.state.RequiresDMIntervention
	if m.halted {
		return m.haltStatus("restored into a halted session"), nil
	}

	// A snapshot saved at park time has not completed its phase yet: its
	// stable marker still points at the previous phase, or, for the very
	// first park of a turn, no narration exists. Re-entering run() parks
	// the machine at the interrupt again instead of skipping the GM.
	ph := m.state.CurrentPhase
	completed := ph == m.state.LastStablePhase
	if ph == game.PhaseDMNarration && m.state.DMNarration == "" {
		completed = false
	}
	if completed {
		next, done := m.nextPhase(ph)
		if done {
			return Status{Kind: StateComplete, Phase: ph}, nil
		}
		m.state.BeginPhase(next)
	}
	m.log.InfoContext(ctx, "session restored from checkpoint",
		"session_id", m.sessionID, "version", snap.Version, "resuming_phase", m.state.CurrentPhase.String())
	return m.run(ctx)
}

// AbortTurn cancels outstanding jobs, rolls the state back to the last
// stable phase, and parks the session awaiting GM direction.
func (m *Machine) AbortTurn(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return Status{}, errs.Validation("phase: abort_turn", fmt.Errorf("session %s has no turn in flight", m.sessionID))
	}
	if m.canceler != nil {
		if n, err := m.canceler.CancelSession(ctx, m.sessionID); err != nil {
			m.log.WarnContext(ctx, "job cancellation failed during abort", "error", err)
		} else if n > 0 {
			m.log.InfoContext(ctx, "outstanding jobs cancelled", "count", n)
		}
	}

	snap, err := m.cp.Load(ctx, m.sessionID, m.state.LastStablePhase)
	if err != nil {
		return Status{}, fmt.Errorf("phase: abort rollback: %w", err)
	}
	if snap == nil {
		return Status{}, errs.Fatal(fmt.Sprintf("phase: session %s lost its stable checkpoint", m.sessionID), nil)
	}
	m.state = snap.State
	m.halted = true
	m.parked = true
	return m.haltStatus("turn aborted by GM"), nil
}

// run executes phases until the machine parks, halts, or finishes the
// turn. Caller holds the lock.
func (m *Machine) run(ctx context.Context) (Status, error) {
	for {
		ph := m.state.CurrentPhase

		if ph.IsInterrupt() {
			// Park and persist so a crash while waiting loses nothing.
			if _, err := m.cp.Save(ctx, m.sessionID, ph, m.state.Clone()); err != nil {
				return Status{}, fmt.Errorf("phase: persist parked state: %w", err)
			}
			m.parked = true
			m.log.InfoContext(ctx, "parked for GM", "session_id", m.sessionID, "phase", ph.String())
			return Status{Kind: StateParked, Phase: ph, Admissible: admissibleCommands(ph)}, nil
		}

		node, ok := m.nodes[ph]
		if !ok {
			return Status{}, errs.Config("phase: run", fmt.Errorf("no node registered for phase %s", ph))
		}

		if err := node.Run(ctx, m.state); err != nil {
			status, recovered, rerr := m.recover(ctx, ph, err)
			if rerr != nil {
				return Status{}, rerr
			}
			if !recovered {
				return status, nil
			}
			continue // retry the failed phase from restored state
		}

		status, done, err := m.completeAndAdvance(ctx, ph)
		if err != nil {
			return Status{}, err
		}
		if done {
			return status, nil
		}
	}
}

// completeAndAdvance checkpoints the finished phase and moves to the next
// one. done is true when the turn is over. Caller holds the lock.
func (m *Machine) completeAndAdvance(ctx context.Context, ph game.Phase) (Status, bool, error) {
	m.state.MarkStable(ph)
	if _, err := m.cp.Save(ctx, m.sessionID, ph, m.state.Clone()); err != nil {
		return Status{}, false, fmt.Errorf("phase: checkpoint %s: %w", ph, err)
	}

	next, done := m.nextPhase(ph)
	if done {
		m.log.InfoContext(ctx, "turn complete",
			"session_id", m.sessionID, "turn", m.state.TurnNumber)
		return Status{Kind: StateComplete, Phase: ph}, true, nil
	}
	if next == game.PhaseClarificationCollect && ph == game.PhaseClarificationWait {
		// New round: last round's questions are answered and cleared.
		m.state.ClarificationQuestions = nil
	}
	m.state.BeginPhase(next)
	return Status{}, false, nil
}

// nextPhase implements the branch table. Caller holds the lock.
func (m *Machine) nextPhase(ph game.Phase) (game.Phase, bool) {
	switch ph {
	case game.PhaseClarificationCollect:
		if len(m.state.PendingQuestions()) == 0 {
			return game.PhaseSecondMemoryRetrieval, false
		}
		return game.PhaseClarificationWait, false

	case game.PhaseClarificationWait:
		if m.state.ClarificationDone || m.state.ClarificationRound >= m.clarMaxRounds {
			return game.PhaseSecondMemoryRetrieval, false
		}
		return game.PhaseClarificationCollect, false

	case game.PhaseValidation:
		if m.needsActionRetry() {
			return game.PhaseCharacterAction, false
		}
		return game.PhaseDMAdjudication, false

	case game.PhaseDiceResolution:
		if m.state.HasLaserFeelings() {
			return game.PhaseLaserFeelingsQuestion, false
		}
		return game.PhaseDMOutcome, false

	case game.PhaseMemoryConsolidation:
		return 0, true

	default:
		return ph + 1, false
	}
}

// needsActionRetry reports whether any character's action failed
// validation with budget left.
func (m *Machine) needsActionRetry() bool {
	for charID, res := range m.state.ValidationResults {
		if res.Status == game.ValidationFlagged && m.state.ValidationAttempts[charID] < m.valMaxAttempts {
			return true
		}
	}
	return false
}

// recover applies the rollback policy after a node error. recovered is
// true when the failed phase should be retried. Caller holds the lock.
func (m *Machine) recover(ctx context.Context, ph game.Phase, cause error) (Status, bool, error) {
	kind := errs.KindOf(cause)
	m.log.ErrorContext(ctx, "phase failed",
		"session_id", m.sessionID, "phase", ph.String(), "kind", kind.String(), "error", cause)

	if kind == errs.KindPermission || kind == errs.KindFatal {
		return m.halt(ctx, fmt.Sprintf("%s failure in %s: %v", kind, ph, cause)), false, nil
	}

	if m.state.RetryCount >= 1 {
		// Second failure of the same phase: park for the GM.
		return m.halt(ctx, fmt.Sprintf("phase %s failed twice: %v", ph, cause)), false, nil
	}

	snap, err := m.cp.Load(ctx, m.sessionID, m.state.LastStablePhase)
	if err != nil {
		return Status{}, false, fmt.Errorf("phase: rollback load: %w", err)
	}
	if snap == nil {
		return Status{}, false, errs.Fatal(
			fmt.Sprintf("phase: session %s has no checkpoint at stable phase %s", m.sessionID, m.state.LastStablePhase), cause)
	}

	retries := m.state.RetryCount + 1
	m.state = snap.State
	m.state.RetryCount = retries
	m.state.BeginPhase(ph)
	m.log.WarnContext(ctx, "rolled back to stable checkpoint, retrying phase",
		"session_id", m.sessionID, "stable", m.state.LastStablePhase.String(), "retrying", ph.String())
	return Status{}, true, nil
}

// halt parks the session with requires_dm_intervention set and persists
// the halted state. Caller holds the lock.
func (m *Machine) halt(ctx context.Context, diagnostic string) Status {
	m.state.RequiresDMIntervention = true
	m.halted = true
	m.parked = true
	if _, err := m.cp.Save(ctx, m.sessionID, m.state.CurrentPhase, m.state.Clone()); err != nil {
		m.log.ErrorContext(ctx, "persisting halted state failed", "error", err)
	}
	return m.haltStatus(diagnostic)
}

func (m *Machine) haltStatus(diagnostic string) Status {
	return Status{
		Kind:       StateHalted,
		Phase:      m.state.LastStablePhase,
		Diagnostic: diagnostic,
		Admissible: []string{"abort_turn", "end_session"},
	}
}

// applyGMInput writes the resume payload into the state for the parked
// interrupt phase. Caller holds the lock.
func (m *Machine) applyGMInput(ph game.Phase, in GMInput) error {
	switch ph {
	case game.PhaseDMNarration:
		if in.Narration == "" {
			return errs.Validation("phase: resume", fmt.Errorf("dm_narration requires narration text"))
		}
		m.state.DMNarration = in.Narration

	case game.PhaseClarificationWait:
		if in.Finish {
			m.state.ClarificationDone = true
		}
		if len(in.Answers) > 0 {
			if m.state.ClarificationAnswers == nil {
				m.state.ClarificationAnswers = make(map[string]string)
			}
			for agentID, answer := range in.Answers {
				m.state.ClarificationAnswers[agentID] = answer
			}
		}
		m.state.ClarificationRound++

	case game.PhaseDMAdjudication:
		switch {
		case in.OverrideSpec != "":
			m.state.DiceOverrideSpec = in.OverrideSpec
		case in.FlagNote != "":
			m.state.AdjudicationNote = in.FlagNote
		case !in.Accept:
			return errs.Validation("phase: resume", fmt.Errorf("dm_adjudication requires accept, override, or flag"))
		}

	case game.PhaseLaserFeelingsQuestion:
		if in.LaserFeelingsAnswer == "" {
			return errs.Validation("phase: resume", fmt.Errorf("laser_feelings_question requires an answer"))
		}
		m.state.LaserFeelingsAnswer = in.LaserFeelingsAnswer

	case game.PhaseDMOutcome:
		if in.OutcomeText == "" {
			return errs.Validation("phase: resume", fmt.Errorf("dm_outcome requires narration text"))
		}
		m.state.OutcomeTier = in.OutcomeTier
		m.state.OutcomeNarration = in.OutcomeText

	default:
		return errs.Validation("phase: resume", fmt.Errorf("phase %s is not an interrupt", ph))
	}
	return nil
}

// admissibleCommands lists the GM commands accepted at an interrupt, for
// structured rejections and the parked prompt.
func admissibleCommands(ph game.Phase) []string {
	base := []string{"ask", "end_session", "abort_turn"}
	switch ph {
	case game.PhaseDMNarration:
		return append([]string{"narrate"}, base...)
	case game.PhaseClarificationWait:
		return append([]string{"answer", "finish"}, base...)
	case game.PhaseDMAdjudication:
		return append([]string{"accept", "override", "flag"}, base...)
	case game.PhaseLaserFeelingsQuestion:
		return append([]string{"lf_answer"}, base...)
	case game.PhaseDMOutcome:
		return append([]string{"success", "fail", "partial", "critical"}, base...)
	}
	return base
}
