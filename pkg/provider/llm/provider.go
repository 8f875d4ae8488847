// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform
// interface for agent completions. Every LLM-bearing operation in a
// Starcrew session — strategic intents, character actions, reactions,
// semantic validation, memory-corruption rendering, stance extraction —
// goes through this interface from inside a worker job.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name for multi-speaker contexts.
	Name string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64

	// MaxTokens caps completion tokens. Zero means the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected
	// before the conversation history.
	SystemPrompt string
}

// CompletionResponse is the full model reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelCapabilities describes the static limits of a model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens one completion may generate.
	MaxOutputTokens int
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use and must propagate
// context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages would consume in the
	// model's context window. Used to enforce context budgets before
	// sending. The result need not be exact but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata for the underlying model,
	// constant for the lifetime of the Provider instance.
	Capabilities() ModelCapabilities
}
