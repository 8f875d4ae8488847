package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/pkg/provider/llm"
)

// corruptionInstructions maps each corruption type to the degradation the
// model is asked to perform.
var corruptionInstructions = map[CorruptionType]string{
	CorruptionDetailDrift:       "Change one small detail: a number, a name, or a color. Everything else stays identical.",
	CorruptionEmotionalColoring: "Recolor the emotional tone: make it feel slightly more dramatic, threatening, or fond than it was. The events stay the same.",
	CorruptionConflation:        "Blend in an element that plausibly belongs to a different, similar event. Keep the core of this one.",
	CorruptionSimplification:    "Drop the nuance: flatten qualifiers, merge specifics into generalities. The gist survives, the texture does not.",
	CorruptionFalseConfidence:   "Add one specific detail that was never stated, asserted with full confidence.",
}

const rendererSystemPrompt = `You degrade memories. Given a remembered fact, produce a subtly altered version a person might sincerely misremember. The alteration must be plausible and small; a reader without the original should not notice anything wrong. Reply with the altered fact only, no preamble.`

// LLMRenderer implements [Renderer] over an LLM provider.
type LLMRenderer struct {
	provider  llm.Provider
	maxTokens int
}

var _ Renderer = (*LLMRenderer)(nil)

// NewLLMRenderer creates a renderer. maxTokens caps the completion; zero
// uses the provider default.
func NewLLMRenderer(provider llm.Provider, maxTokens int) *LLMRenderer {
	return &LLMRenderer{provider: provider, maxTokens: maxTokens}
}

// RenderCorruption implements [Renderer].
func (r *LLMRenderer) RenderCorruption(ctx context.Context, fact string, ctype CorruptionType) (string, error) {
	instruction, ok := corruptionInstructions[ctype]
	if !ok {
		return "", fmt.Errorf("memory: unknown corruption type %q", ctype)
	}

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: rendererSystemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: instruction + "\n\nFact: " + fact,
		}},
		Temperature: 0.9,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return "", errs.Transient("memory: render corruption", err)
	}

	degraded := strings.TrimSpace(resp.Content)
	if degraded == "" {
		return "", fmt.Errorf("memory: renderer returned empty text")
	}
	return degraded, nil
}

const extractorSystemPrompt = `You extract atomic facts from game-session narration. Given a passage, list the discrete facts worth remembering, one per line, each a standalone sentence. No numbering, no commentary.`

// LLMExtractor implements [Extractor] over an LLM provider.
type LLMExtractor struct {
	provider  llm.Provider
	maxTokens int
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor creates a fact extractor.
func NewLLMExtractor(provider llm.Provider, maxTokens int) *LLMExtractor {
	return &LLMExtractor{provider: provider, maxTokens: maxTokens}
}

// ExtractFacts implements [Extractor].
func (e *LLMExtractor) ExtractFacts(ctx context.Context, content string) ([]string, error) {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractorSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: content}},
		Temperature:  0.2,
		MaxTokens:    e.maxTokens,
	})
	if err != nil {
		return nil, errs.Transient("memory: extract facts", err)
	}

	var facts []string
	for line := range strings.Lines(resp.Content) {
		line = strings.TrimSpace(line)
		if line != "" {
			facts = append(facts, line)
		}
	}
	return facts, nil
}
