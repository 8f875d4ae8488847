package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/starcrew-ai/starcrew/pkg/game"
	"github.com/starcrew-ai/starcrew/pkg/provider/llm"
	llmmock "github.com/starcrew-ai/starcrew/pkg/provider/llm/mock"
)

// stubChecker scripts the semantic pass.
type stubChecker struct {
	confirm func(findings []Finding) []Finding
	err     error
	calls   int
}

func (s *stubChecker) Confirm(ctx context.Context, actionText string, findings []Finding) ([]Finding, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.confirm != nil {
		return s.confirm(findings), nil
	}
	return findings, nil
}

func TestValidate_CleanText(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{}
	engine := NewEngine(WithChecker(checker))

	v := engine.Validate(t.Context(), "I try to reroute auxiliary power to the shields.", 1)
	if !v.Valid {
		t.Fatalf("clean text rejected: %+v", v)
	}
	if checker.calls != 0 {
		t.Error("semantic checker consulted with no pattern findings")
	}
}

func TestValidate_PatternDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		rule Rule
	}{
		{
			name: "success assertion",
			text: "I successfully hack the airlock controls.",
			rule: RuleSuccessAssertion,
		},
		{
			name: "manages to",
			text: "Kit manages to slip past the guard.",
			rule: RuleSuccessAssertion,
		},
		{
			name: "outcome language",
			text: "I fire and the shot hits its mark.",
			rule: RuleOutcomeLanguage,
		},
		{
			name: "door opens",
			text: "I slice the panel and the door opens.",
			rule: RuleOutcomeLanguage,
		},
		{
			name: "third-party death",
			text: "My shot kills the pirate captain instantly.",
			rule: RuleThirdPartyHarm,
		},
		{
			name: "falls unconscious",
			text: "I strike and the guard falls unconscious.",
			rule: RuleThirdPartyHarm,
		},
	}

	engine := NewEngine() // no checker: pattern findings stand
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v := engine.Validate(t.Context(), tc.text, 1)
			if v.Valid {
				t.Fatalf("overreach not detected in %q", tc.text)
			}
			found := false
			for _, viol := range v.Violations {
				if strings.HasPrefix(viol, string(tc.rule)) {
					found = true
				}
			}
			if !found {
				t.Errorf("violations %v missing rule %s", v.Violations, tc.rule)
			}
		})
	}
}

func TestValidate_SemanticSuppression(t *testing.T) {
	t.Parallel()

	// The checker clears every finding: in-context speech about succeeding
	// is not outcome narration.
	checker := &stubChecker{confirm: func([]Finding) []Finding { return nil }}
	engine := NewEngine(WithChecker(checker))

	v := engine.Validate(t.Context(), `I tell the crew "we succeed together or not at all".`, 1)
	if !v.Valid {
		t.Fatalf("suppressed finding still rejected: %+v", v)
	}
	if checker.calls != 1 {
		t.Errorf("checker calls = %d, want 1", checker.calls)
	}
}

func TestValidate_CheckerFailureKeepsFindings(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{err: errors.New("model unavailable")}
	engine := NewEngine(WithChecker(checker))

	v := engine.Validate(t.Context(), "I successfully disarm the charge.", 1)
	if v.Valid {
		t.Fatal("checker failure must not suppress pattern findings")
	}
}

func TestValidate_RetriesBeforeBudget(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	for attempt := 1; attempt < DefaultMaxAttempts; attempt++ {
		v := engine.Validate(t.Context(), "I successfully vault the railing.", attempt)
		if v.Valid || v.AutoFixedText != "" || v.WarningFlag {
			t.Errorf("attempt %d: want plain invalid verdict for retry, got %+v", attempt, v)
		}
		if v.Attempt != attempt {
			t.Errorf("attempt echoed as %d, want %d", v.Attempt, attempt)
		}
	}
}

func TestValidate_AutoCorrectOnFinalAttempt(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	v := engine.Validate(t.Context(), "I successfully vault the railing and charge the bridge.", DefaultMaxAttempts)
	if !v.Valid {
		t.Fatalf("final attempt with repairable text: %+v", v)
	}
	if v.AutoFixedText != "I vault the railing and charge the bridge." {
		t.Errorf("auto-fixed text = %q", v.AutoFixedText)
	}
	if v.WarningFlag {
		t.Error("repairable text must not carry a warning flag")
	}
	if got := v.Result().Status; got != game.ValidationAutoCorrected {
		t.Errorf("result status = %q, want auto_corrected", got)
	}
}

func TestValidate_ThirdPartyHarmAcrossRetries(t *testing.T) {
	t.Parallel()

	engine := NewEngine()

	// Killing verbs and pronoun-led death clauses are overreach in every
	// phrasing the retries cycle through.
	for attempt, text := range map[int]string{
		1: "I slay the goblin.",
		2: "I swing my blade; it dies.",
	} {
		v := engine.Validate(t.Context(), text, attempt)
		if v.Valid || v.AutoFixedText != "" {
			t.Fatalf("attempt %d: %q passed validation: %+v", attempt, text, v)
		}
		found := false
		for _, viol := range v.Violations {
			if strings.HasPrefix(viol, string(RuleThirdPartyHarm)) {
				found = true
			}
		}
		if !found {
			t.Errorf("attempt %d: violations %v missing %s", attempt, v.Violations, RuleThirdPartyHarm)
		}
	}

	// The final attempt strips the death clause, separator included.
	v := engine.Validate(t.Context(), "I attempt to strike the goblin; it falls.", DefaultMaxAttempts)
	if !v.Valid {
		t.Fatalf("final attempt not auto-corrected: %+v", v)
	}
	if v.AutoFixedText != "I attempt to strike the goblin." {
		t.Errorf("auto-fixed text = %q, want %q", v.AutoFixedText, "I attempt to strike the goblin.")
	}
	if v.WarningFlag {
		t.Error("repairable text must not carry a warning flag")
	}
}

func TestValidate_FlagsUnrepairableText(t *testing.T) {
	t.Parallel()

	engine := NewEngine()
	// Stripping leaves no verb behind.
	v := engine.Validate(t.Context(), "Successfully. It kills.", DefaultMaxAttempts)
	if v.Valid || v.AutoFixedText != "" {
		t.Fatalf("unrepairable text not flagged: %+v", v)
	}
	if !v.WarningFlag {
		t.Error("warning flag not set on unrepairable text")
	}
	if got := v.Result().Status; got != game.ValidationFlagged {
		t.Errorf("result status = %q, want flagged", got)
	}
}

func TestStrictnessDirective_Escalates(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for attempt := 1; attempt <= 3; attempt++ {
		d := StrictnessDirective(attempt)
		if d == "" {
			t.Fatalf("empty directive for attempt %d", attempt)
		}
		if seen[d] {
			t.Errorf("directive for attempt %d repeats an earlier one", attempt)
		}
		seen[d] = true
	}
	if !strings.Contains(StrictnessDirective(3), "STRICT") {
		t.Error("final directive should announce strict mode")
	}
}

func TestLLMChecker_ParsesConfirmations(t *testing.T) {
	t.Parallel()

	findings := scan("I successfully fire and the shot hits its mark.")
	if len(findings) != 2 {
		t.Fatalf("scan found %d findings, want 2", len(findings))
	}

	tests := []struct {
		name   string
		answer string
		want   int
	}{
		{"none", "none", 0},
		{"single", "2", 1},
		{"comma list", "1, 2", 2},
		{"out of range ignored", "2, 9", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{}
			p.CompleteResponse = completion(tc.answer)
			checker := NewLLMChecker(p, 64)
			got, err := checker.Confirm(t.Context(), "text", findings)
			if err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
			if len(got) != tc.want {
				t.Errorf("confirmed %d findings, want %d", len(got), tc.want)
			}
		})
	}
}

func completion(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: text}
}
