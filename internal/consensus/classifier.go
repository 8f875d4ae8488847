package consensus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/pkg/game"
	"github.com/starcrew-ai/starcrew/pkg/provider/llm"
)

const classifierSystemPrompt = `You read a tabletop group's out-of-character planning discussion and judge one player's stance toward the currently proposed plan. Reply with exactly one line: the word agree, disagree, or neutral, then a space, then your confidence as a decimal between 0 and 1. Example: "agree 0.85".`

// LLMClassifier implements [Classifier] over an LLM provider.
type LLMClassifier struct {
	provider  llm.Provider
	maxTokens int
}

var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier creates a stance classifier. maxTokens caps the
// completion; zero uses the provider default.
func NewLLMClassifier(provider llm.Provider, maxTokens int) *LLMClassifier {
	return &LLMClassifier{provider: provider, maxTokens: maxTokens}
}

// Classify implements [Classifier].
func (c *LLMClassifier) Classify(ctx context.Context, agentID string, messages []game.OOCMessage) (AgentStance, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Discussion so far:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.AgentID, m.Text)
	}
	fmt.Fprintf(&b, "\nStance of %s?", agentID)

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classifierSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: b.String()}},
		Temperature:  0,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return AgentStance{}, errs.Transient("consensus: stance extraction", err)
	}

	return parseStance(agentID, resp.Content)
}

// parseStance reads a "stance confidence" reply. Unparseable replies fall
// back to neutral at zero confidence rather than failing the round.
func parseStance(agentID, reply string) (AgentStance, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(reply)))
	stance := AgentStance{AgentID: agentID, Stance: StanceNeutral}
	if len(fields) == 0 {
		return stance, nil
	}

	switch Stance(strings.Trim(fields[0], ".,:")) {
	case StanceAgree:
		stance.Stance = StanceAgree
	case StanceDisagree:
		stance.Stance = StanceDisagree
	case StanceNeutral:
		stance.Stance = StanceNeutral
	default:
		return stance, nil
	}

	if len(fields) > 1 {
		if conf, err := strconv.ParseFloat(strings.Trim(fields[1], ".,"), 64); err == nil && conf >= 0 && conf <= 1 {
			stance.Confidence = conf
		}
	}
	return stance, nil
}
