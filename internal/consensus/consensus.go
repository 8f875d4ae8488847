// Package consensus classifies each active agent's stance over the
// out-of-character discussion and rolls the stances up to a table-level
// consensus state. The result is derived per round, never stored.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starcrew-ai/starcrew/pkg/game"
)

// Defaults for the round and wall-clock timeout conditions.
const (
	DefaultMaxRounds = 5
	DefaultTimeout   = 120 * time.Second

	// minConfidence is the classification confidence below which a stance
	// downgrades to neutral.
	minConfidence = 0.5
)

// Stance is one agent's position on the current plan.
type Stance string

const (
	StanceAgree    Stance = "agree"
	StanceDisagree Stance = "disagree"
	StanceNeutral  Stance = "neutral"

	// StanceSilent marks an agent with no OOC message this turn: present
	// but unaligned.
	StanceSilent Stance = "silent"
)

// Aggregate is the table-level consensus verdict.
type Aggregate string

const (
	// AggregateUnanimous means every active agent agrees.
	AggregateUnanimous Aggregate = "unanimous"

	// AggregateMajority means more than half agree and nobody disagrees.
	AggregateMajority Aggregate = "majority"

	// AggregateConflicted means active disagreement, or no majority before
	// the timeout.
	AggregateConflicted Aggregate = "conflicted"

	// AggregateTimeout means the round or wall-clock budget ran out; the
	// leading stance decides.
	AggregateTimeout Aggregate = "timeout"
)

// AgentStance is one classified position.
type AgentStance struct {
	AgentID    string  `json:"agent_id"`
	Stance     Stance  `json:"stance"`
	Confidence float64 `json:"confidence"`
}

// Result is the per-round consensus state.
type Result struct {
	// Stances lists every active agent in active-agent order.
	Stances []AgentStance `json:"stances"`

	Aggregate Aggregate `json:"aggregate"`

	// Leading is the stance that decides on timeout, empty otherwise.
	Leading Stance `json:"leading,omitempty"`

	// DecidingAgentID names the agent whose directive breaks a tie on
	// timeout, empty when no tie-break was needed.
	DecidingAgentID string `json:"deciding_agent_id,omitempty"`
}

// Classifier assigns a stance to one agent from the OOC log. The
// production implementation dispatches a stance-extraction job; see
// [LLMClassifier] for the direct form.
type Classifier interface {
	Classify(ctx context.Context, agentID string, messages []game.OOCMessage) (AgentStance, error)
}

// Option configures a [Detector].
type Option func(*Detector)

// WithMaxRounds overrides the round budget.
func WithMaxRounds(n int) Option { return func(d *Detector) { d.maxRounds = n } }

// WithTimeout overrides the wall-clock budget.
func WithTimeout(t time.Duration) Option { return func(d *Detector) { d.timeout = t } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(d *Detector) { d.log = log } }

// Detector computes consensus state. Safe for concurrent use.
type Detector struct {
	classifier Classifier
	maxRounds  int
	timeout    time.Duration
	log        *slog.Logger
}

// NewDetector creates a detector over the given classifier.
func NewDetector(classifier Classifier, opts ...Option) *Detector {
	d := &Detector{
		classifier: classifier,
		maxRounds:  DefaultMaxRounds,
		timeout:    DefaultTimeout,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect classifies every active agent and aggregates. round is 1-based;
// elapsed is the wall time spent in the discussion so far. activeAgents
// order is the tie-break order.
func (d *Detector) Detect(ctx context.Context, messages []game.OOCMessage, activeAgents []string, round int, elapsed time.Duration) (Result, error) {
	byAgent := make(map[string][]game.OOCMessage)
	for _, m := range messages {
		byAgent[m.AgentID] = append(byAgent[m.AgentID], m)
	}

	res := Result{Stances: make([]AgentStance, 0, len(activeAgents))}
	for _, agentID := range activeAgents {
		stance := AgentStance{AgentID: agentID, Stance: StanceSilent}
		if len(byAgent[agentID]) > 0 {
			classified, err := d.classifier.Classify(ctx, agentID, messages)
			if err != nil {
				return Result{}, fmt.Errorf("consensus: classify %s: %w", agentID, err)
			}
			stance = classified
			stance.AgentID = agentID
			if stance.Confidence < minConfidence && stance.Stance != StanceSilent {
				stance.Stance = StanceNeutral
			}
		}
		res.Stances = append(res.Stances, stance)
	}

	timedOut := round >= d.maxRounds || elapsed >= d.timeout
	res.Aggregate = aggregate(res.Stances, timedOut)
	if res.Aggregate == AggregateTimeout {
		res.Leading, res.DecidingAgentID = leading(res.Stances, activeAgents)
	}

	d.log.DebugContext(ctx, "consensus computed",
		"aggregate", res.Aggregate, "round", round, "elapsed", elapsed)
	return res, nil
}

// aggregate rolls the stances up. Silent agents count toward the active
// total, so they break unanimity and raise the majority bar.
func aggregate(stances []AgentStance, timedOut bool) Aggregate {
	if timedOut {
		return AggregateTimeout
	}

	var agree, disagree int
	for _, s := range stances {
		switch s.Stance {
		case StanceAgree:
			agree++
		case StanceDisagree:
			disagree++
		}
	}
	total := len(stances)
	switch {
	case total > 0 && agree == total:
		return AggregateUnanimous
	case disagree == 0 && agree*2 > total:
		return AggregateMajority
	default:
		return AggregateConflicted
	}
}

// leading finds the stance with the most holders among the non-silent
// positions. On a tie the earliest active agent holding one of the tied
// stances decides, and their ID is returned.
func leading(stances []AgentStance, activeAgents []string) (Stance, string) {
	counts := make(map[Stance]int)
	for _, s := range stances {
		if s.Stance != StanceSilent {
			counts[s.Stance]++
		}
	}
	if len(counts) == 0 {
		// Everyone silent: the earliest agent's directive carries.
		if len(activeAgents) > 0 {
			return StanceNeutral, activeAgents[0]
		}
		return StanceNeutral, ""
	}

	max := 0
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	tied := 0
	for _, n := range counts {
		if n == max {
			tied++
		}
	}

	byAgent := make(map[string]Stance, len(stances))
	for _, s := range stances {
		byAgent[s.AgentID] = s.Stance
	}
	for _, agentID := range activeAgents {
		if counts[byAgent[agentID]] == max {
			if tied > 1 {
				return byAgent[agentID], agentID
			}
			return byAgent[agentID], ""
		}
	}
	return StanceNeutral, ""
}
