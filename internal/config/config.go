// Package config provides the configuration schema, loader, and provider
// registry for the Starcrew session server.
package config

import "time"

// LogLevel controls log verbosity for the Starcrew server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Starcrew.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Graph         GraphConfig         `yaml:"graph"`
	Queue         QueueConfig         `yaml:"queue"`
	Corruption    CorruptionConfig    `yaml:"corruption"`
	Validation    ValidationConfig    `yaml:"validation"`
	Clarification ClarificationConfig `yaml:"clarification"`
	Consensus     ConsensusConfig     `yaml:"consensus"`
	Log           LogConfig           `yaml:"log"`
	Roster        RosterConfig        `yaml:"roster"`
}

// LLMConfig selects the model used for all agent calls and tunes the
// transient-error retry envelope applied inside workers.
type LLMConfig struct {
	// Provider selects the LLM backend (e.g., "openai", "anthropic",
	// "ollama"). Empty defaults to "openai".
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider. Empty falls back to the
	// provider's environment variable (OPENAI_API_KEY, …).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the LLM identifier for agent calls (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// MaxTokens is the hard per-call completion cap. Values above 5000
	// are rejected at load time.
	MaxTokens int `yaml:"max_tokens"`

	// Retry tunes the worker-level backoff for transient errors.
	Retry RetryConfig `yaml:"retry"`

	// EmbeddingsModel selects the embedding model for memory search.
	// Empty disables vector search (full-text search is used instead).
	EmbeddingsModel string `yaml:"embeddings_model"`

	// Fallback optionally names a second backend. When the primary's
	// circuit opens, agent calls fail over to it.
	Fallback *FallbackLLMConfig `yaml:"fallback"`
}

// FallbackLLMConfig describes the secondary LLM backend.
type FallbackLLMConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// RetryConfig is the backoff schedule applied to each LLM call.
type RetryConfig struct {
	// Delays is the sequence of backoff delays in seconds.
	// Defaults to [1, 2, 4, 8, 10].
	Delays []int `yaml:"delays"`

	// MaxAttempts caps the number of attempts per call. Defaults to 5.
	MaxAttempts int `yaml:"max_attempts"`
}

// DelayDurations returns the configured (or default) backoff schedule as
// time.Duration values.
func (r RetryConfig) DelayDurations() []time.Duration {
	delays := r.Delays
	if len(delays) == 0 {
		delays = []int{1, 2, 4, 8, 10}
	}
	out := make([]time.Duration, len(delays))
	for i, d := range delays {
		out[i] = time.Duration(d) * time.Second
	}
	return out
}

// Attempts returns MaxAttempts or its default of 5.
func (r RetryConfig) Attempts() int {
	if r.MaxAttempts <= 0 {
		return 5
	}
	return r.MaxAttempts
}

// GraphConfig holds the memory backend connection. The backend is
// PostgreSQL with pgvector; URI is a standard postgres:// DSN. User and
// Password, when set, override any credentials embedded in the URI.
type GraphConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// EmbeddingDimensions is the vector dimension for the fact-embedding
	// column. Must match the configured embeddings model. Defaults to 1536.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// QueueConfig holds the worker-pool backend address. The job registry
// shares the PostgreSQL instance; Host/Port override the graph DSN's
// host and port when set.
type QueueConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// WorkersPerAgent is the number of pool workers per active agent.
	// Valid range is 1–2; defaults to 2.
	WorkersPerAgent int `yaml:"workers_per_agent"`
}

// CorruptionConfig tunes read-time memory degradation.
type CorruptionConfig struct {
	// Enabled is the global on/off switch.
	Enabled bool `yaml:"enabled"`

	// Strength is the global corruption multiplier in [0, 1].
	// Defaults to 0.3.
	Strength *float64 `yaml:"strength"`
}

// EffectiveStrength returns Strength or its default of 0.3, clamped to
// [0, 1]. A disabled config always yields 0.
func (c CorruptionConfig) EffectiveStrength() float64 {
	if !c.Enabled {
		return 0
	}
	if c.Strength == nil {
		return 0.3
	}
	s := *c.Strength
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// ValidationConfig tunes the narrative-overreach validator.
type ValidationConfig struct {
	// MaxAttempts is the number of character-action retries before
	// auto-correction kicks in. Defaults to 3.
	MaxAttempts int `yaml:"max_attempts"`
}

// Attempts returns MaxAttempts or its default of 3.
func (v ValidationConfig) Attempts() int {
	if v.MaxAttempts <= 0 {
		return 3
	}
	return v.MaxAttempts
}

// ClarificationConfig tunes the GM clarification Q&A loop.
type ClarificationConfig struct {
	// MaxRounds caps the number of question rounds per turn. Defaults to 3.
	MaxRounds int `yaml:"max_rounds"`
}

// Rounds returns MaxRounds or its default of 3.
func (c ClarificationConfig) Rounds() int {
	if c.MaxRounds <= 0 {
		return 3
	}
	return c.MaxRounds
}

// ConsensusConfig tunes the multi-agent consensus detector.
type ConsensusConfig struct {
	// MaxRounds is the OOC discussion round limit. Defaults to 5.
	MaxRounds int `yaml:"max_rounds"`

	// TimeoutSeconds is the wall-clock discussion limit. Defaults to 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Rounds returns MaxRounds or its default of 5.
func (c ConsensusConfig) Rounds() int {
	if c.MaxRounds <= 0 {
		return 5
	}
	return c.MaxRounds
}

// Timeout returns the wall-clock limit as a duration, defaulting to 120s.
func (c ConsensusConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LogConfig holds observability verbosity.
type LogConfig struct {
	Level LogLevel `yaml:"level"`
}

// RosterConfig lists the YAML files defining the crew: player
// personalities, character sheets, and the shared ship.
type RosterConfig struct {
	Files []string `yaml:"files"`
}
