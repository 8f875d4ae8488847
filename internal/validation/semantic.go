package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/pkg/provider/llm"
)

const checkerSystemPrompt = `You review declared actions in a tabletop RPG. A declared action may describe only what the character attempts; it must not narrate outcomes, assert success, or describe harm befalling anyone else. You are given an action and a numbered list of suspect phrases found in it. Some may be fine in context (a character can say "I try to succeed" or talk about a past event). Reply with the numbers of phrases that genuinely narrate an outcome, comma separated, or the single word "none".`

// LLMChecker implements [Checker] over an LLM provider. It presents the
// pattern findings to the model and keeps only the ones the model confirms
// as genuine outcome narration.
type LLMChecker struct {
	provider  llm.Provider
	maxTokens int
}

var _ Checker = (*LLMChecker)(nil)

// NewLLMChecker creates a semantic checker. maxTokens caps the
// completion; zero uses the provider default.
func NewLLMChecker(provider llm.Provider, maxTokens int) *LLMChecker {
	return &LLMChecker{provider: provider, maxTokens: maxTokens}
}

// Confirm implements [Checker].
func (c *LLMChecker) Confirm(ctx context.Context, actionText string, findings []Finding) ([]Finding, error) {
	if len(findings) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Action:\n%s\n\nSuspect phrases:\n", actionText)
	for i, f := range findings {
		fmt.Fprintf(&b, "%d. %q (%s)\n", i+1, f.Match, f.Rule)
	}

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: checkerSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: b.String()}},
		Temperature:  0,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return nil, errs.Transient("validation: semantic check", err)
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	if answer == "none" || answer == "" {
		return nil, nil
	}

	var confirmed []Finding
	for _, field := range strings.FieldsFunc(answer, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	}) {
		n, err := strconv.Atoi(strings.TrimSuffix(field, "."))
		if err != nil || n < 1 || n > len(findings) {
			continue
		}
		confirmed = append(confirmed, findings[n-1])
	}
	return confirmed, nil
}
