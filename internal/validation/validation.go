// Package validation detects and repairs narrative overreach in character
// actions. A character declares an attempt; outcomes belong to the GM.
//
// Checking is two-stage: a closed set of regexes flags suspect phrasing
// (success assertions, outcome language, third-party harm narration), and
// a semantic pass over the flagged spans suppresses false positives in
// context. The engine only ever touches validation verdicts; it never
// calls the router or the memory client.
package validation

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/starcrew-ai/starcrew/pkg/game"
)

// DefaultMaxAttempts is the validation retry budget per action.
const DefaultMaxAttempts = 3

// Rule names a class of narrative overreach.
type Rule string

const (
	// RuleSuccessAssertion flags text that declares the attempt succeeded.
	RuleSuccessAssertion Rule = "success_assertion"

	// RuleOutcomeLanguage flags text that narrates how the world responds.
	RuleOutcomeLanguage Rule = "outcome_language"

	// RuleThirdPartyHarm flags narrated death, injury, or collapse of
	// another party.
	RuleThirdPartyHarm Rule = "third_party_harm"
)

// Finding is one suspect span in an action text.
type Finding struct {
	Rule  Rule
	Match string

	// Start and End delimit the span in the original text.
	Start, End int
}

// String renders the finding as a violation entry.
func (f Finding) String() string {
	return string(f.Rule) + ": " + strconv.Quote(f.Match)
}

type pattern struct {
	rule Rule
	re   *regexp.Regexp
}

// overreachPatterns is the closed pattern set. Order determines violation
// ordering in verdicts: assertions first, harm narration last.
var overreachPatterns = []pattern{
	{RuleSuccessAssertion, regexp.MustCompile(`(?i)\bsuccessfully\b`)},
	{RuleSuccessAssertion, regexp.MustCompile(`(?i)\bsucceeds?\b|\bsucceeded\b`)},
	{RuleSuccessAssertion, regexp.MustCompile(`(?i)\bmanages?\s+to\b|\bmanaged\s+to\b`)},
	{RuleSuccessAssertion, regexp.MustCompile(`(?i)\bwithout\s+(?:fail|a\s+hitch|any\s+trouble|resistance)\b`)},
	{RuleOutcomeLanguage, regexp.MustCompile(`(?i)\bhits?\s+(?:the|its|their)\s+(?:mark|target)\b`)},
	{RuleOutcomeLanguage, regexp.MustCompile(`(?i)\b(?:and|so)\s+it\s+works\b`)},
	{RuleOutcomeLanguage, regexp.MustCompile(`(?i)\bthe\s+(?:door|lock|console|system|shield)s?\s+(?:opens?|yields?|gives?\s+way|shuts?\s+down)\b`)},
	{RuleThirdPartyHarm, regexp.MustCompile(`(?i)\b(?:kills?|killed|slays?|slew|slain|destroys?|destroyed|obliterates?|obliterated)\b`)},
	{RuleThirdPartyHarm, regexp.MustCompile(`(?i)\b(?:dies|drops?\s+dead|falls?\s+(?:dead|unconscious|to\s+the\s+ground))\b`)},
	{RuleThirdPartyHarm, regexp.MustCompile(`(?i)\b(?:it|he|she|they)\s+(?:dies?|falls?|collapses?)\b`)},
}

// Verdict is the outcome of one validation pass.
type Verdict struct {
	// Valid reports whether the text may proceed as written.
	Valid bool

	// Violations lists confirmed findings, pattern order preserved.
	Violations []string

	// AutoFixedText is the stripped rewrite produced once the retry budget
	// is exhausted, empty otherwise.
	AutoFixedText string

	// WarningFlag marks text that could not be repaired; it passes to GM
	// adjudication as-is with this warning attached.
	WarningFlag bool

	// Attempt echoes the 1-based attempt that produced this verdict.
	Attempt int
}

// Result projects the verdict into the sealed per-attempt record kept in
// game state.
func (v Verdict) Result() game.ValidationResult {
	res := game.ValidationResult{
		Violations: v.Violations,
		Attempt:    v.Attempt,
	}
	switch {
	case v.Valid && v.AutoFixedText == "":
		res.Status = game.ValidationValid
	case v.AutoFixedText != "":
		res.Status = game.ValidationAutoCorrected
		res.CorrectedText = v.AutoFixedText
	default:
		res.Status = game.ValidationFlagged
	}
	return res
}

// Checker confirms which pattern findings are genuine overreach in
// context. Implementations typically ask an LLM; see [LLMChecker].
type Checker interface {
	Confirm(ctx context.Context, actionText string, findings []Finding) ([]Finding, error)
}

// Option configures an [Engine].
type Option func(*Engine)

// WithChecker sets the semantic false-positive suppressor. Without one,
// every pattern match counts as a violation.
func WithChecker(c Checker) Option { return func(e *Engine) { e.checker = c } }

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option { return func(e *Engine) { e.maxAttempts = n } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(e *Engine) { e.log = log } }

// Engine runs the two-stage overreach check with the retry and
// auto-correct policy. Safe for concurrent use.
type Engine struct {
	checker     Checker
	maxAttempts int
	log         *slog.Logger
}

// NewEngine creates a validation engine with the default three-attempt
// budget.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxAttempts: DefaultMaxAttempts,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxAttempts returns the configured retry budget.
func (e *Engine) MaxAttempts() int { return e.maxAttempts }

// Validate checks actionText on the given 1-based attempt.
//
// Clean text is valid immediately. Confirmed violations on attempts below
// the budget return an invalid verdict so the action node can retry with
// a stricter directive. On the final attempt the engine strips the
// offending spans instead; if the remainder is incoherent the verdict
// carries WarningFlag and the original text passes to adjudication.
func (e *Engine) Validate(ctx context.Context, actionText string, attempt int) Verdict {
	if attempt < 1 {
		attempt = 1
	}
	verdict := Verdict{Attempt: attempt}

	findings := scan(actionText)
	if len(findings) == 0 {
		verdict.Valid = true
		return verdict
	}

	if e.checker != nil {
		confirmed, err := e.checker.Confirm(ctx, actionText, findings)
		if err != nil {
			// Semantic suppression is an optimization; on failure the
			// pattern findings stand.
			e.log.WarnContext(ctx, "semantic check failed, keeping pattern findings", "error", err)
		} else {
			findings = confirmed
		}
	}
	if len(findings) == 0 {
		verdict.Valid = true
		return verdict
	}

	for _, f := range findings {
		verdict.Violations = append(verdict.Violations, f.String())
	}
	if attempt < e.maxAttempts {
		return verdict
	}

	stripped := stripFindings(actionText, findings)
	if coherent(stripped) {
		verdict.Valid = true
		verdict.AutoFixedText = stripped
		e.log.InfoContext(ctx, "action auto-corrected after exhausted retries",
			"violations", len(findings))
		return verdict
	}

	verdict.WarningFlag = true
	e.log.WarnContext(ctx, "action unrepairable, flagging for adjudication",
		"violations", len(findings))
	return verdict
}

// scan runs the pattern set over text and returns all findings in pattern
// order.
func scan(text string) []Finding {
	var findings []Finding
	for _, p := range overreachPatterns {
		for _, span := range p.re.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{
				Rule:  p.rule,
				Match: text[span[0]:span[1]],
				Start: span[0],
				End:   span[1],
			})
		}
	}
	return findings
}

// Separators orphaned by span removal: "; ." at a sentence end, or a
// trailing "; " with nothing after it.
var (
	orphanedSeparator = regexp.MustCompile(`\s*[;,:]\s*([.!?])`)
	danglingSeparator = regexp.MustCompile(`\s*[;,:]\s*$`)
)

// stripFindings removes every finding span from text and tidies the
// whitespace and clause separators left behind.
func stripFindings(text string, findings []Finding) string {
	drop := make([]bool, len(text))
	for _, f := range findings {
		for i := f.Start; i < f.End && i < len(drop); i++ {
			drop[i] = true
		}
	}
	var b strings.Builder
	for i := range text {
		if !drop[i] {
			b.WriteByte(text[i])
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	out = orphanedSeparator.ReplaceAllString(out, "$1")
	return danglingSeparator.ReplaceAllString(out, "")
}

// actionVerbs anchors the coherence heuristic: stripped text keeps its
// meaning only if an attempt verb survives.
var actionVerbs = map[string]struct{}{
	"aim": {}, "ask": {}, "attempt": {}, "charge": {}, "climb": {},
	"close": {}, "cut": {}, "dive": {}, "dodge": {}, "draw": {},
	"fire": {}, "go": {}, "grab": {}, "hack": {}, "hide": {},
	"hold": {}, "jump": {}, "leap": {}, "lock": {}, "look": {},
	"move": {}, "open": {}, "pilot": {}, "pull": {}, "push": {},
	"reach": {}, "repair": {}, "reroute": {}, "run": {}, "say": {},
	"scan": {}, "search": {}, "shoot": {}, "slice": {}, "sneak": {},
	"speak": {}, "swing": {}, "take": {}, "talk": {}, "throw": {},
	"try": {}, "turn": {}, "vault": {}, "wire": {},
}

// coherent reports whether stripped text still reads as an attempt:
// non-empty and containing at least one recognisable verb.
func coherent(text string) bool {
	if text == "" {
		return false
	}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if _, ok := actionVerbs[word]; ok {
			return true
		}
		if base, found := strings.CutSuffix(word, "s"); found {
			if _, ok := actionVerbs[base]; ok {
				return true
			}
		}
		for _, suffix := range []string{"ing", "ed", "es"} {
			if strings.HasSuffix(word, suffix) && len(word) > len(suffix)+2 {
				return true
			}
		}
	}
	return false
}

// StrictnessDirective returns the prompt directive injected into the
// character-action retry for the given upcoming 1-based attempt. Directives
// escalate with each retry.
func StrictnessDirective(attempt int) string {
	switch {
	case attempt <= 1:
		return "Describe only what your character attempts. Never state whether it works."
	case attempt == 2:
		return "Your previous action narrated an outcome. Declare the attempt only: what your character does, aims for, or tries. The result belongs to the GM."
	default:
		return "STRICT MODE: state a single attempted action in one or two sentences. Forbidden: any success wording, any effect on another character or object, any result of any kind. Intent only."
	}
}
