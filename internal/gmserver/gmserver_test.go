package gmserver

import (
	"context"
	"testing"

	"github.com/starcrew-ai/starcrew/internal/gmcmd"
	"github.com/starcrew-ai/starcrew/internal/phase"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

// scriptDriver stands in for the turn machine behind the adapter.
type scriptDriver struct {
	state   *game.GameState
	resumes []phase.GMInput
	status  phase.Status
}

func (d *scriptDriver) Resume(_ context.Context, in phase.GMInput) (phase.Status, error) {
	d.resumes = append(d.resumes, in)
	return d.status, nil
}

func (d *scriptDriver) AbortTurn(context.Context) (phase.Status, error) {
	return phase.Status{Kind: phase.StateHalted}, nil
}

func (d *scriptDriver) State() *game.GameState { return d.state }

func stateAt(ph game.Phase) *game.GameState {
	st := game.NewGameState("sess_test", 1, 3, []string{"agent_kit"})
	st.CurrentPhase = ph
	return st
}

func newServer(driver *scriptDriver) *Server {
	return New(gmcmd.NewAdapter(driver), driver)
}

func TestNarrateTool(t *testing.T) {
	t.Parallel()

	driver := &scriptDriver{
		state:  stateAt(game.PhaseDMNarration),
		status: phase.Status{Kind: phase.StateParked, Phase: game.PhaseDMAdjudication, Admissible: []string{"accept"}},
	}
	s := newServer(driver)

	_, out, err := s.narrate(t.Context(), nil, NarrateInput{Text: "The engine room floods."})
	if err != nil {
		t.Fatalf("narrate error = %v", err)
	}
	if len(driver.resumes) != 1 || driver.resumes[0].Narration == "" {
		t.Fatalf("resumes = %+v, want one with narration", driver.resumes)
	}
	if out.RunState != string(phase.StateParked) || out.Phase != "dm_adjudication" {
		t.Errorf("result = %+v, want parked at dm_adjudication", out)
	}
}

func TestAdjudicateTool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   AdjudicateInput
		want func(phase.GMInput) bool
	}{
		{"accept", AdjudicateInput{Accept: true}, func(in phase.GMInput) bool { return in.Accept }},
		{"override", AdjudicateInput{OverrideSpec: "2d6+1"}, func(in phase.GMInput) bool { return in.OverrideSpec == "2d6+1" }},
		{"flag", AdjudicateInput{FlagNote: "expertise is a stretch"}, func(in phase.GMInput) bool { return in.FlagNote != "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			driver := &scriptDriver{state: stateAt(game.PhaseDMAdjudication)}
			s := newServer(driver)
			if _, _, err := s.adjudicate(t.Context(), nil, tc.in); err != nil {
				t.Fatalf("adjudicate error = %v", err)
			}
			if len(driver.resumes) != 1 || !tc.want(driver.resumes[0]) {
				t.Errorf("resume input = %+v", driver.resumes)
			}
		})
	}

	t.Run("empty input rejected", func(t *testing.T) {
		t.Parallel()
		s := newServer(&scriptDriver{state: stateAt(game.PhaseDMAdjudication)})
		if _, _, err := s.adjudicate(t.Context(), nil, AdjudicateInput{}); err == nil {
			t.Error("adjudicate accepted an empty decision")
		}
	})
}

func TestOutcomeTool(t *testing.T) {
	t.Parallel()

	driver := &scriptDriver{state: stateAt(game.PhaseDMOutcome)}
	s := newServer(driver)

	if _, _, err := s.outcome(t.Context(), nil, OutcomeInput{Tier: "partial", Text: "It holds, for now."}); err != nil {
		t.Fatalf("outcome error = %v", err)
	}
	if in := driver.resumes[0]; in.OutcomeTier != "partial" || in.OutcomeText == "" {
		t.Errorf("resume input = %+v, want partial tier with text", in)
	}

	if _, _, err := s.outcome(t.Context(), nil, OutcomeInput{Tier: "glorious", Text: "x"}); err == nil {
		t.Error("outcome accepted an unknown tier")
	}
}

func TestStatusTool(t *testing.T) {
	t.Parallel()

	st := stateAt(game.PhaseClarificationWait)
	st.ClarificationQuestions = map[string]string{"agent_kit": "Is it armed?"}
	s := newServer(&scriptDriver{state: st})

	_, out, err := s.status(t.Context(), nil, EmptyInput{})
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if out.Phase != "dm_clarification_wait" || out.Turn != 3 {
		t.Errorf("status = %+v", out)
	}
	if len(out.PendingQuestions) != 1 || out.PendingQuestions[0] != "agent_kit" {
		t.Errorf("pending = %v, want [agent_kit]", out.PendingQuestions)
	}
	found := false
	for _, v := range out.Admissible {
		if v == "answer" {
			found = true
		}
	}
	if !found {
		t.Errorf("admissible = %v, want answer", out.Admissible)
	}
}

func TestEndSessionRunsHook(t *testing.T) {
	t.Parallel()

	ended := 0
	driver := &scriptDriver{state: stateAt(game.PhaseStrategicIntent)}
	s := New(gmcmd.NewAdapter(driver), driver, WithOnEnd(func(context.Context) error {
		ended++
		return nil
	}))

	_, out, err := s.endSession(t.Context(), nil, EmptyInput{})
	if err != nil {
		t.Fatalf("end_session error = %v", err)
	}
	if !out.Ended || ended != 1 {
		t.Errorf("ended=%v hook=%d, want true/1", out.Ended, ended)
	}
}
