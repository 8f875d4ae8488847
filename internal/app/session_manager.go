package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starcrew-ai/starcrew/internal/agent"
	"github.com/starcrew-ai/starcrew/internal/consensus"
	"github.com/starcrew-ai/starcrew/internal/dice"
	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/gmcmd"
	"github.com/starcrew-ai/starcrew/internal/observe"
	"github.com/starcrew-ai/starcrew/internal/phase"
	"github.com/starcrew-ai/starcrew/internal/router"
	"github.com/starcrew-ai/starcrew/internal/validation"
	"github.com/starcrew-ai/starcrew/pkg/game"
	"github.com/starcrew-ai/starcrew/pkg/memory"
)

// Session is one live campaign session: the turn machine plus every
// session-scoped collaborator. It implements [gmcmd.TurnDriver] and rolls
// a fresh turn automatically when the previous one completes, so the GM's
// next narrate always finds the machine parked at dm_narration.
type Session struct {
	ID      string
	machine *phase.Machine

	agents  []string
	metrics *observe.Metrics
	log     *slog.Logger

	mu        sync.Mutex
	turnStart time.Time
	halted    bool
}

var _ gmcmd.TurnDriver = (*Session)(nil)

// State returns a copy of the current game state.
func (s *Session) State() *game.GameState { return s.machine.State() }

// AbortTurn rolls the turn back to the last stable phase and halts the
// session for GM recovery.
func (s *Session) AbortTurn(ctx context.Context) (phase.Status, error) {
	status, err := s.machine.AbortTurn(ctx)
	s.observeStatus(ctx, status, err)
	return status, err
}

// Resume applies GM input to the parked machine. When the input finishes
// the turn, the next turn is opened immediately and parks at
// dm_narration.
func (s *Session) Resume(ctx context.Context, in phase.GMInput) (phase.Status, error) {
	status, err := s.machine.Resume(ctx, in)
	if err != nil {
		return status, err
	}
	if status.Kind == phase.StateComplete {
		return s.nextTurn(ctx, status)
	}
	s.observeStatus(ctx, status, nil)
	return status, nil
}

// nextTurn records the finished turn and starts the following one from a
// fresh state. The returned status keeps StateComplete so the GM sees the
// turn close, with the new park's admissible commands attached.
func (s *Session) nextTurn(ctx context.Context, completed phase.Status) (phase.Status, error) {
	prev := s.machine.State()

	s.mu.Lock()
	if s.metrics != nil && !s.turnStart.IsZero() {
		s.metrics.TurnDuration.Record(ctx, time.Since(s.turnStart).Seconds())
	}
	s.turnStart = time.Now()
	s.mu.Unlock()

	st := game.NewGameState(s.ID, prev.SessionNumber, prev.TurnNumber+1, s.agents)
	parked, err := s.machine.StartTurn(ctx, st)
	if err != nil {
		return phase.Status{}, fmt.Errorf("app: open turn %d: %w", st.TurnNumber, err)
	}
	s.log.InfoContext(ctx, "turn opened", "session_id", s.ID, "turn", st.TurnNumber)

	completed.Admissible = parked.Admissible
	return completed, nil
}

// Halted reports whether the session is stopped awaiting GM intervention.
func (s *Session) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return true
	}
	st := s.machine.State()
	return st != nil && st.RequiresDMIntervention
}

// observeStatus tracks halts for metrics and exit-code reporting.
func (s *Session) observeStatus(ctx context.Context, status phase.Status, err error) {
	if err != nil || status.Kind != phase.StateHalted {
		return
	}
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordPhaseFailure(ctx, status.Phase.String(), "halted")
	}
}

// SessionManager opens and closes campaign sessions. One session is
// active at a time; the session ID derives from the campaign name, so a
// restarted process resumes the same session from its checkpoints.
type SessionManager struct {
	app *App

	mu     sync.Mutex
	active *Session
}

// NewSessionManager creates a manager bound to the app's shared
// infrastructure.
func NewSessionManager(a *App) *SessionManager {
	return &SessionManager{app: a}
}

// Active returns the running session, or nil.
func (m *SessionManager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Open starts the campaign session. Abandoned jobs are requeued first;
// then the machine restores from the latest checkpoint, or, for a brand
// new session, opens turn one. Either way the machine ends parked (or
// halted) awaiting the GM.
func (m *SessionManager) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, fmt.Errorf("app: session %s is already active", m.active.ID)
	}

	a := m.app
	sessionID := sessionIDFor(a.crewRoster.Campaign().Name)
	agents := a.crewRoster.ActiveAgents()

	if _, err := a.pool.Recover(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("app: recover jobs: %w", err)
	}

	sess := &Session{
		ID:      sessionID,
		machine: m.buildMachine(sessionID),
		agents:  agents,
		metrics: a.metrics,
		log:     a.log,
	}
	sess.turnStart = time.Now()

	status, err := sess.machine.Restore(ctx)
	switch {
	case err == nil:
		a.log.InfoContext(ctx, "session resumed",
			"session_id", sessionID, "phase", status.Phase.String(), "state", string(status.Kind))
		if status.Kind == phase.StateComplete {
			if status, err = sess.nextTurn(ctx, status); err != nil {
				return nil, err
			}
		}
	case errs.KindOf(err) == errs.KindFatal:
		// No checkpoint yet: a fresh session.
		st := game.NewGameState(sessionID, 1, 1, agents)
		status, err = sess.machine.StartTurn(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("app: open session: %w", err)
		}
		a.log.InfoContext(ctx, "session opened", "session_id", sessionID, "agents", len(agents))
	default:
		return nil, fmt.Errorf("app: restore session: %w", err)
	}
	sess.observeStatus(ctx, status, nil)

	if a.metrics != nil {
		a.metrics.ActiveSessions.Add(ctx, 1)
	}
	m.active = sess
	return sess, nil
}

// End closes the active session for good: outstanding jobs are
// cancelled and the session's checkpoints and channel logs are purged.
// Long-term memory is kept; it carries across sessions.
func (m *SessionManager) End(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return fmt.Errorf("app: no active session")
	}
	a := m.app
	sessionID := m.active.ID

	if _, err := a.pool.CancelSession(ctx, sessionID); err != nil {
		a.log.WarnContext(ctx, "job cancellation failed", "session_id", sessionID, "error", err)
	}
	if err := a.cp.ClearSession(ctx, sessionID); err != nil {
		return fmt.Errorf("app: clear checkpoints: %w", err)
	}
	if err := a.msgStore.ClearSession(ctx, sessionID); err != nil {
		return fmt.Errorf("app: clear channels: %w", err)
	}

	a.log.InfoContext(ctx, "session ended", "session_id", sessionID)
	m.release(ctx)
	return nil
}

// Release detaches the active session without purging its state, so the
// next start resumes from the latest checkpoint.
func (m *SessionManager) Release(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release(ctx)
}

// release clears the active slot. Caller holds the lock.
func (m *SessionManager) release(ctx context.Context) {
	if m.active == nil {
		return
	}
	if m.app.metrics != nil {
		m.app.metrics.ActiveSessions.Add(ctx, -1)
	}
	m.active = nil
}

// buildMachine assembles the per-session collaborators and the phase
// node set.
func (m *SessionManager) buildMachine(sessionID string) *phase.Machine {
	a := m.app
	cfg := a.cfg

	rt := router.New(a.msgStore, a.crewRoster.Links(), a.log)

	memOpts := []memory.Option{
		memory.WithRenderer(&agent.QueueRenderer{Pool: a.pool, SessionID: sessionID}),
		memory.WithExtractor(memory.NewLLMExtractor(a.providers.LLM, cfg.LLM.MaxTokens)),
		memory.WithLogger(a.log),
	}
	if a.providers.Embeddings != nil {
		memOpts = append(memOpts, memory.WithEmbedder(a.providers.Embeddings))
	}
	mem := memory.NewClient(a.memStore, cfg.Corruption.EffectiveStrength(), memOpts...)

	engine := validation.NewEngine(
		validation.WithChecker(&agent.QueueChecker{Pool: a.pool, SessionID: sessionID}),
		validation.WithMaxAttempts(cfg.Validation.Attempts()),
		validation.WithLogger(a.log),
	)
	detector := consensus.NewDetector(
		&agent.QueueClassifier{Pool: a.pool, SessionID: sessionID},
		consensus.WithMaxRounds(cfg.Consensus.Rounds()),
		consensus.WithTimeout(cfg.Consensus.Timeout()),
		consensus.WithLogger(a.log),
	)
	roller := dice.NewRoller(nil)

	nodes := []phase.Node{
		&phase.MemoryRetrievalNode{Mem: mem, Roster: a.crewRoster, Log: a.log},
		&phase.ClarificationCollectNode{Pool: a.pool},
		&phase.StrategicIntentNode{Pool: a.pool, Router: rt},
		&phase.P2CDirectiveNode{Pool: a.pool, Router: rt, Consensus: detector, Roster: a.crewRoster},
		&phase.MemoryRetrievalNode{Mem: mem, Roster: a.crewRoster, Second: true, Log: a.log},
		&phase.CharacterActionNode{Pool: a.pool, Roster: a.crewRoster},
		&phase.ValidationNode{Engine: engine, Roster: a.crewRoster},
		&phase.ResolveHelpersNode{Roller: roller, Roster: a.crewRoster},
		&phase.DiceResolutionNode{Roller: roller, Roster: a.crewRoster},
		&phase.CharacterReactionNode{Pool: a.pool, Router: rt, Roster: a.crewRoster},
		&phase.MemoryConsolidationNode{Mem: mem, Roster: a.crewRoster, Log: a.log},
	}
	if a.metrics != nil {
		for i, n := range nodes {
			nodes[i] = &timedNode{inner: n, metrics: a.metrics}
		}
	}

	return phase.NewMachine(sessionID, a.cp, nodes,
		phase.WithClarificationMaxRounds(cfg.Clarification.Rounds()),
		phase.WithValidationMaxAttempts(cfg.Validation.Attempts()),
		phase.WithJobCanceler(a.pool),
		phase.WithLogger(a.log),
	)
}

// timedNode wraps a phase node with duration metrics.
type timedNode struct {
	inner   phase.Node
	metrics *observe.Metrics
}

func (t *timedNode) Phase() game.Phase { return t.inner.Phase() }

func (t *timedNode) Run(ctx context.Context, st *game.GameState) error {
	start := time.Now()
	err := t.inner.Run(ctx, st)
	t.metrics.RecordPhase(ctx, t.inner.Phase().String(), time.Since(start))
	return err
}

// sessionIDFor derives a stable session ID from the campaign name, so
// restarts resume rather than fork.
func sessionIDFor(campaign string) string {
	name := strings.ToLower(strings.TrimSpace(campaign))
	name = strings.ReplaceAll(name, " ", "-")
	if name == "" {
		name = "default"
	}
	return "session-" + name
}
