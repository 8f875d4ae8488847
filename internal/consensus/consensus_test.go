package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/starcrew-ai/starcrew/pkg/game"
	"github.com/starcrew-ai/starcrew/pkg/provider/llm"
	llmmock "github.com/starcrew-ai/starcrew/pkg/provider/llm/mock"
)

// scriptClassifier returns a fixed stance per agent.
type scriptClassifier struct {
	stances map[string]AgentStance
}

func (s *scriptClassifier) Classify(ctx context.Context, agentID string, _ []game.OOCMessage) (AgentStance, error) {
	return s.stances[agentID], nil
}

func msgs(agents ...string) []game.OOCMessage {
	out := make([]game.OOCMessage, len(agents))
	for i, a := range agents {
		out[i] = game.OOCMessage{AgentID: a, Text: "plan talk", Round: 1}
	}
	return out
}

func TestDetect_Aggregates(t *testing.T) {
	t.Parallel()

	active := []string{"agent_kit", "agent_zara", "agent_vex"}

	tests := []struct {
		name    string
		stances map[string]AgentStance
		spoke   []string
		want    Aggregate
	}{
		{
			name: "unanimous",
			stances: map[string]AgentStance{
				"agent_kit":  {Stance: StanceAgree, Confidence: 0.9},
				"agent_zara": {Stance: StanceAgree, Confidence: 0.8},
				"agent_vex":  {Stance: StanceAgree, Confidence: 0.7},
			},
			spoke: active,
			want:  AggregateUnanimous,
		},
		{
			name: "majority with one neutral",
			stances: map[string]AgentStance{
				"agent_kit":  {Stance: StanceAgree, Confidence: 0.9},
				"agent_zara": {Stance: StanceAgree, Confidence: 0.8},
				"agent_vex":  {Stance: StanceNeutral, Confidence: 0.9},
			},
			spoke: active,
			want:  AggregateMajority,
		},
		{
			name: "any disagreement conflicts",
			stances: map[string]AgentStance{
				"agent_kit":  {Stance: StanceAgree, Confidence: 0.9},
				"agent_zara": {Stance: StanceAgree, Confidence: 0.9},
				"agent_vex":  {Stance: StanceDisagree, Confidence: 0.9},
			},
			spoke: active,
			want:  AggregateConflicted,
		},
		{
			name: "silent agent breaks unanimity but not majority",
			stances: map[string]AgentStance{
				"agent_kit":  {Stance: StanceAgree, Confidence: 0.9},
				"agent_zara": {Stance: StanceAgree, Confidence: 0.9},
			},
			spoke: []string{"agent_kit", "agent_zara"},
			want:  AggregateMajority,
		},
		{
			name: "lone agreement is not a majority",
			stances: map[string]AgentStance{
				"agent_kit": {Stance: StanceAgree, Confidence: 0.9},
			},
			spoke: []string{"agent_kit"},
			want:  AggregateConflicted,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := NewDetector(&scriptClassifier{stances: tc.stances})
			res, err := d.Detect(t.Context(), msgs(tc.spoke...), active, 1, 10*time.Second)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if res.Aggregate != tc.want {
				t.Errorf("aggregate = %s, want %s", res.Aggregate, tc.want)
			}
		})
	}
}

func TestDetect_LowConfidenceDowngradesToNeutral(t *testing.T) {
	t.Parallel()

	d := NewDetector(&scriptClassifier{stances: map[string]AgentStance{
		"agent_kit": {Stance: StanceDisagree, Confidence: 0.3},
	}})
	res, err := d.Detect(t.Context(), msgs("agent_kit"), []string{"agent_kit"}, 1, 0)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if got := res.Stances[0].Stance; got != StanceNeutral {
		t.Errorf("stance = %s, want neutral below confidence 0.5", got)
	}
}

func TestDetect_SilentAgentsStaySilent(t *testing.T) {
	t.Parallel()

	d := NewDetector(&scriptClassifier{stances: map[string]AgentStance{
		"agent_kit": {Stance: StanceAgree, Confidence: 0.9},
	}})
	res, err := d.Detect(t.Context(), msgs("agent_kit"), []string{"agent_kit", "agent_zara"}, 1, 0)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if res.Stances[1].AgentID != "agent_zara" || res.Stances[1].Stance != StanceSilent {
		t.Errorf("stances = %+v, want agent_zara silent", res.Stances)
	}
}

func TestDetect_Timeout(t *testing.T) {
	t.Parallel()

	stances := map[string]AgentStance{
		"agent_kit":  {Stance: StanceAgree, Confidence: 0.9},
		"agent_zara": {Stance: StanceDisagree, Confidence: 0.9},
		"agent_vex":  {Stance: StanceAgree, Confidence: 0.9},
	}
	active := []string{"agent_kit", "agent_zara", "agent_vex"}
	d := NewDetector(&scriptClassifier{stances: stances})

	t.Run("round budget", func(t *testing.T) {
		t.Parallel()
		res, err := d.Detect(t.Context(), msgs(active...), active, DefaultMaxRounds, time.Second)
		if err != nil {
			t.Fatalf("Detect() error = %v", err)
		}
		if res.Aggregate != AggregateTimeout {
			t.Fatalf("aggregate = %s, want timeout at round %d", res.Aggregate, DefaultMaxRounds)
		}
		if res.Leading != StanceAgree {
			t.Errorf("leading = %s, want agree (2 of 3)", res.Leading)
		}
		if res.DecidingAgentID != "" {
			t.Errorf("deciding agent = %q, want empty with a clear lead", res.DecidingAgentID)
		}
	})

	t.Run("wall clock budget", func(t *testing.T) {
		t.Parallel()
		res, err := d.Detect(t.Context(), msgs(active...), active, 1, DefaultTimeout)
		if err != nil {
			t.Fatalf("Detect() error = %v", err)
		}
		if res.Aggregate != AggregateTimeout {
			t.Errorf("aggregate = %s, want timeout at %s elapsed", res.Aggregate, DefaultTimeout)
		}
	})
}

func TestDetect_TimeoutTieBreaksByAgentOrder(t *testing.T) {
	t.Parallel()

	stances := map[string]AgentStance{
		"agent_kit":  {Stance: StanceDisagree, Confidence: 0.9},
		"agent_zara": {Stance: StanceAgree, Confidence: 0.9},
	}
	active := []string{"agent_kit", "agent_zara"}
	d := NewDetector(&scriptClassifier{stances: stances})

	res, err := d.Detect(t.Context(), msgs(active...), active, DefaultMaxRounds, 0)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if res.Leading != StanceDisagree {
		t.Errorf("leading = %s, want the earliest agent's stance on a tie", res.Leading)
	}
	if res.DecidingAgentID != "agent_kit" {
		t.Errorf("deciding agent = %q, want agent_kit", res.DecidingAgentID)
	}
}

func TestParseStance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		reply    string
		want     Stance
		wantConf float64
	}{
		{"plain", "agree 0.85", StanceAgree, 0.85},
		{"uppercase", "DISAGREE 0.9", StanceDisagree, 0.9},
		{"trailing period", "neutral 0.6.", StanceNeutral, 0.6},
		{"missing confidence", "agree", StanceAgree, 0},
		{"garbage", "the crew seems torn", StanceNeutral, 0},
		{"empty", "", StanceNeutral, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseStance("agent_kit", tc.reply)
			if err != nil {
				t.Fatalf("parseStance() error = %v", err)
			}
			if got.Stance != tc.want || got.Confidence != tc.wantConf {
				t.Errorf("parseStance(%q) = %s/%.2f, want %s/%.2f",
					tc.reply, got.Stance, got.Confidence, tc.want, tc.wantConf)
			}
		})
	}
}

func TestLLMClassifier_Classify(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "agree 0.8"}}
	c := NewLLMClassifier(p, 16)
	got, err := c.Classify(t.Context(), "agent_kit", msgs("agent_kit", "agent_zara"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Stance != StanceAgree || got.Confidence != 0.8 || got.AgentID != "agent_kit" {
		t.Errorf("Classify() = %+v", got)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if req.Temperature != 0 {
		t.Errorf("temperature = %v, want 0 for classification", req.Temperature)
	}
}
