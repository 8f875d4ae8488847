package gmcmd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/phase"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

// TurnDriver is the state-machine surface the adapter drives. Satisfied
// by *phase.Machine.
type TurnDriver interface {
	Resume(ctx context.Context, in phase.GMInput) (phase.Status, error)
	AbortTurn(ctx context.Context) (phase.Status, error)
	State() *game.GameState
}

// Asker delivers an out-of-band GM question to a character and returns
// the in-character reply.
type Asker interface {
	Ask(ctx context.Context, characterID, text string) (string, error)
}

// Reply is the adapter's result for one executed command.
type Reply struct {
	// Status is the machine status after a command that advanced the
	// turn; zero-valued for commands that did not.
	Status phase.Status

	// Note is a human-readable acknowledgement for commands with no
	// machine effect (partial answers, asks).
	Note string

	// Ended is set by end_session; the caller owns session teardown.
	Ended bool
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithAsker wires the out-of-band character query transport.
func WithAsker(a Asker) Option { return func(ad *Adapter) { ad.asker = a } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(ad *Adapter) { ad.log = log } }

// Adapter executes parsed GM commands against one session's machine. It
// accumulates clarification answers and resumes the wait phase only once
// every pending question is answered or the GM finishes early.
type Adapter struct {
	machine TurnDriver
	asker   Asker
	log     *slog.Logger

	mu      sync.Mutex
	answers map[string]string
}

// NewAdapter creates an adapter over one session's machine.
func NewAdapter(machine TurnDriver, opts ...Option) *Adapter {
	a := &Adapter{
		machine: machine,
		log:     slog.Default(),
		answers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Execute parses and runs one GM input line. Commands outside their
// admissible phase return a validation error naming the current phase and
// the commands it accepts.
func (a *Adapter) Execute(ctx context.Context, line string) (Reply, error) {
	cmd, err := Parse(line)
	if err != nil {
		return Reply{}, err
	}
	return a.Run(ctx, cmd)
}

// Run executes one already-parsed command.
func (a *Adapter) Run(ctx context.Context, cmd Command) (Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.machine.State()
	if st == nil {
		return Reply{}, errs.Validation("gmcmd: run", fmt.Errorf("no turn in flight"))
	}
	ph := st.CurrentPhase
	if !AdmissibleAt(cmd.Verb, ph) {
		return Reply{}, errs.Validation("gmcmd: run",
			fmt.Errorf("%s is not accepted at %s; accepted: %v", cmd.Verb, ph, CommandsFor(ph)))
	}

	a.log.InfoContext(ctx, "gm command", "verb", string(cmd.Verb), "phase", ph.String())

	switch cmd.Verb {
	case VerbNarrate:
		return a.resume(ctx, phase.GMInput{Narration: cmd.Text})

	case VerbAnswer:
		return a.recordAnswer(ctx, st, cmd)

	case VerbFinish:
		in := phase.GMInput{Answers: maps.Clone(a.answers), Finish: true}
		clear(a.answers)
		return a.resume(ctx, in)

	case VerbAccept:
		return a.resume(ctx, phase.GMInput{Accept: true})

	case VerbOverride:
		return a.resume(ctx, phase.GMInput{OverrideSpec: cmd.Text})

	case VerbFlag:
		note := cmd.Text
		if note == "" {
			note = "flagged by GM"
		}
		return a.resume(ctx, phase.GMInput{FlagNote: note})

	case VerbLFAnswer:
		return a.resume(ctx, phase.GMInput{LaserFeelingsAnswer: cmd.Text})

	case VerbSuccess, VerbFail, VerbPartial, VerbCritical:
		return a.resume(ctx, phase.GMInput{OutcomeTier: outcomeTiers[cmd.Verb], OutcomeText: cmd.Text})

	case VerbAsk:
		if a.asker == nil {
			return Reply{}, errs.Config("gmcmd: ask", fmt.Errorf("no character query transport configured"))
		}
		reply, err := a.asker.Ask(ctx, cmd.Target, cmd.Text)
		if err != nil {
			return Reply{}, fmt.Errorf("gmcmd: ask %s: %w", cmd.Target, err)
		}
		return Reply{Note: reply}, nil

	case VerbAbortTurn:
		status, err := a.machine.AbortTurn(ctx)
		if err != nil {
			return Reply{}, err
		}
		clear(a.answers)
		return Reply{Status: status}, nil

	case VerbEndSession:
		return Reply{Ended: true}, nil
	}
	return Reply{}, errs.Validation("gmcmd: run", fmt.Errorf("unhandled verb %q", cmd.Verb))
}

// recordAnswer stores one answer and resumes the wait phase once every
// pending question has one. Caller holds the lock.
func (a *Adapter) recordAnswer(ctx context.Context, st *game.GameState, cmd Command) (Reply, error) {
	if _, asked := st.ClarificationQuestions[cmd.Target]; !asked {
		return Reply{}, errs.Validation("gmcmd: answer",
			fmt.Errorf("agent %s has no pending question", cmd.Target))
	}
	a.answers[cmd.Target] = cmd.Text

	remaining := 0
	for _, agentID := range st.PendingQuestions() {
		if _, ok := a.answers[agentID]; !ok {
			remaining++
		}
	}
	if remaining > 0 {
		return Reply{Note: fmt.Sprintf("%d question(s) still unanswered", remaining)}, nil
	}

	in := phase.GMInput{Answers: maps.Clone(a.answers)}
	clear(a.answers)
	return a.resume(ctx, in)
}

func (a *Adapter) resume(ctx context.Context, in phase.GMInput) (Reply, error) {
	status, err := a.machine.Resume(ctx, in)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Status: status}, nil
}
