package gmcmd

import (
	"context"
	"strings"
	"testing"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/phase"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want Command
	}{
		{"narrate", "narrate The hull groans.", Command{Verb: VerbNarrate, Text: "The hull groans."}},
		{"answer", "answer agent_kit It is locked.", Command{Verb: VerbAnswer, Target: "agent_kit", Text: "It is locked."}},
		{"finish", "finish", Command{Verb: VerbFinish}},
		{"accept", "accept", Command{Verb: VerbAccept}},
		{"override dice", "override 3d6", Command{Verb: VerbOverride, Text: "3d6"}},
		{"override values", "override [2,5,6]", Command{Verb: VerbOverride, Text: "[2,5,6]"}},
		{"flag with note", "flag claims expertise twice", Command{Verb: VerbFlag, Text: "claims expertise twice"}},
		{"flag bare", "flag", Command{Verb: VerbFlag}},
		{"lf_answer", "lf_answer The captain is a clone.", Command{Verb: VerbLFAnswer, Text: "The captain is a clone."}},
		{"outcome partial", "partial You slip through, barely.", Command{Verb: VerbPartial, Text: "You slip through, barely."}},
		{"ask", "ask char_zara What do you remember?", Command{Verb: VerbAsk, Target: "char_zara", Text: "What do you remember?"}},
		{"uppercase verb", "NARRATE all hands", Command{Verb: VerbNarrate, Text: "all hands"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.line)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tc.line, err)
			}
			if got != tc.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tc.line, got, tc.want)
			}
		})
	}
}

func TestParse_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
	}{
		{"empty", "   "},
		{"narrate without text", "narrate"},
		{"answer without text", "answer agent_kit"},
		{"answer bad id", "answer kit locked"},
		{"ask bad id", "ask zara hello"},
		{"override bad spec", "override 9d9"},
		{"accept with args", "accept the roll"},
		{"unknown", "adjudicate now"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tc.line)
			if errs.KindOf(err) != errs.KindValidation {
				t.Errorf("Parse(%q) error kind = %v, want validation", tc.line, errs.KindOf(err))
			}
		})
	}
}

func TestParse_Suggestion(t *testing.T) {
	t.Parallel()

	_, err := Parse("narate The hull groans.")
	if err == nil || !strings.Contains(err.Error(), `"narrate"`) {
		t.Errorf("error = %v, want a narrate suggestion", err)
	}

	// Distant garbage gets no suggestion.
	_, err = Parse("xyzzy")
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion for garbage", err)
	}
}

func TestCommandsFor(t *testing.T) {
	t.Parallel()

	got := CommandsFor(game.PhaseDMAdjudication)
	want := map[Verb]bool{VerbAccept: true, VerbOverride: true, VerbFlag: true,
		VerbAsk: true, VerbEndSession: true, VerbAbortTurn: true}
	if len(got) != len(want) {
		t.Fatalf("CommandsFor(dm_adjudication) = %v, want %d verbs", got, len(want))
	}
	for _, v := range got {
		if !want[v] {
			t.Errorf("unexpected admissible verb %s", v)
		}
	}
}

// stubDriver records resumes against a scripted state.
type stubDriver struct {
	state   *game.GameState
	resumes []phase.GMInput
	aborted int
	status  phase.Status
}

func (d *stubDriver) Resume(_ context.Context, in phase.GMInput) (phase.Status, error) {
	d.resumes = append(d.resumes, in)
	return d.status, nil
}

func (d *stubDriver) AbortTurn(context.Context) (phase.Status, error) {
	d.aborted++
	return phase.Status{Kind: phase.StateHalted}, nil
}

func (d *stubDriver) State() *game.GameState { return d.state }

func parkedAt(ph game.Phase) *game.GameState {
	st := game.NewGameState("sess_test", 1, 1, []string{"agent_kit", "agent_zara"})
	st.CurrentPhase = ph
	return st
}

// stubAsker echoes the question back.
type stubAsker struct {
	calls []string
}

func (s *stubAsker) Ask(_ context.Context, characterID, text string) (string, error) {
	s.calls = append(s.calls, characterID+": "+text)
	return "I remember nothing.", nil
}

func TestAdapter_PhaseAdmissibility(t *testing.T) {
	t.Parallel()

	driver := &stubDriver{state: parkedAt(game.PhaseDMOutcome)}
	a := NewAdapter(driver)

	_, err := a.Execute(t.Context(), "narrate too late for that")
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("error kind = %v, want validation", errs.KindOf(err))
	}
	if !strings.Contains(err.Error(), "dm_outcome") {
		t.Errorf("rejection %q does not name the current phase", err.Error())
	}
	if len(driver.resumes) != 0 {
		t.Errorf("machine resumed %d times on a rejected command", len(driver.resumes))
	}
}

func TestAdapter_OutcomeCarriesTier(t *testing.T) {
	t.Parallel()

	driver := &stubDriver{state: parkedAt(game.PhaseDMOutcome)}
	a := NewAdapter(driver)

	if _, err := a.Execute(t.Context(), "critical The core stabilizes and the lights come back."); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(driver.resumes) != 1 {
		t.Fatalf("resumes = %d, want 1", len(driver.resumes))
	}
	in := driver.resumes[0]
	if in.OutcomeTier != "critical" || in.OutcomeText == "" {
		t.Errorf("resume input = %+v, want critical tier with text", in)
	}
}

func TestAdapter_AnswersAccumulateUntilComplete(t *testing.T) {
	t.Parallel()

	st := parkedAt(game.PhaseClarificationWait)
	st.ClarificationQuestions = map[string]string{
		"agent_kit":  "Is the door locked?",
		"agent_zara": "Any guards?",
	}
	driver := &stubDriver{state: st}
	a := NewAdapter(driver)

	reply, err := a.Execute(t.Context(), "answer agent_kit Yes, triple-bolted.")
	if err != nil {
		t.Fatalf("first answer error = %v", err)
	}
	if len(driver.resumes) != 0 {
		t.Fatal("machine resumed before all questions were answered")
	}
	if !strings.Contains(reply.Note, "1 question") {
		t.Errorf("note = %q, want the remaining count", reply.Note)
	}

	if _, err := a.Execute(t.Context(), "answer agent_zara Two, asleep."); err != nil {
		t.Fatalf("second answer error = %v", err)
	}
	if len(driver.resumes) != 1 {
		t.Fatalf("resumes = %d, want 1 after the last answer", len(driver.resumes))
	}
	in := driver.resumes[0]
	if in.Answers["agent_kit"] == "" || in.Answers["agent_zara"] == "" || in.Finish {
		t.Errorf("resume input = %+v, want both answers without finish", in)
	}
}

func TestAdapter_AnswerForUnknownQuestion(t *testing.T) {
	t.Parallel()

	st := parkedAt(game.PhaseClarificationWait)
	st.ClarificationQuestions = map[string]string{"agent_kit": "Is it locked?"}
	a := NewAdapter(&stubDriver{state: st})

	_, err := a.Execute(t.Context(), "answer agent_zara Nobody asked.")
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("error kind = %v, want validation for an unasked agent", errs.KindOf(err))
	}
}

func TestAdapter_FinishFlushesPartialAnswers(t *testing.T) {
	t.Parallel()

	st := parkedAt(game.PhaseClarificationWait)
	st.ClarificationQuestions = map[string]string{
		"agent_kit":  "Is it locked?",
		"agent_zara": "Any guards?",
	}
	driver := &stubDriver{state: st}
	a := NewAdapter(driver)

	if _, err := a.Execute(t.Context(), "answer agent_kit Yes."); err != nil {
		t.Fatalf("answer error = %v", err)
	}
	if _, err := a.Execute(t.Context(), "finish"); err != nil {
		t.Fatalf("finish error = %v", err)
	}
	if len(driver.resumes) != 1 {
		t.Fatalf("resumes = %d, want 1", len(driver.resumes))
	}
	in := driver.resumes[0]
	if !in.Finish || in.Answers["agent_kit"] != "Yes." {
		t.Errorf("resume input = %+v, want finish with the partial answer", in)
	}
}

func TestAdapter_AskDoesNotAdvance(t *testing.T) {
	t.Parallel()

	asker := &stubAsker{}
	driver := &stubDriver{state: parkedAt(game.PhaseDMAdjudication)}
	a := NewAdapter(driver, WithAsker(asker))

	reply, err := a.Execute(t.Context(), "ask char_zara What happened in the cargo bay?")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if reply.Note != "I remember nothing." {
		t.Errorf("note = %q, want the character reply", reply.Note)
	}
	if len(driver.resumes) != 0 {
		t.Error("ask advanced the machine")
	}
	if len(asker.calls) != 1 {
		t.Fatalf("asker calls = %d, want 1", len(asker.calls))
	}
}

func TestAdapter_AbortAndEnd(t *testing.T) {
	t.Parallel()

	driver := &stubDriver{state: parkedAt(game.PhaseStrategicIntent)}
	a := NewAdapter(driver)

	reply, err := a.Execute(t.Context(), "abort_turn")
	if err != nil {
		t.Fatalf("abort error = %v", err)
	}
	if driver.aborted != 1 || reply.Status.Kind != phase.StateHalted {
		t.Errorf("abort: aborted=%d status=%+v", driver.aborted, reply.Status)
	}

	reply, err = a.Execute(t.Context(), "end_session")
	if err != nil {
		t.Fatalf("end_session error = %v", err)
	}
	if !reply.Ended {
		t.Error("end_session did not mark the session ended")
	}
}
