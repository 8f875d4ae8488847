package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/starcrew-ai/starcrew/internal/errs"
)

// maxCompletionTokens is the hard ceiling on llm.max_tokens.
const maxCompletionTokens = 5000

// ValidLLMProviders lists the provider names the registry knows how to build.
var ValidLLMProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
	"llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Config(fmt.Sprintf("config: open %q", path), err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errs.Config("config: decode yaml", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a [errs.KindConfig] error joining all validation failures found.
func Validate(cfg *Config) error {
	var problems []error

	// LLM
	if cfg.LLM.Model == "" {
		problems = append(problems, fmt.Errorf("llm.model is required"))
	}
	if cfg.LLM.Provider != "" && !slices.Contains(ValidLLMProviders, cfg.LLM.Provider) {
		problems = append(problems, fmt.Errorf("llm.provider %q is unknown; valid values: %v", cfg.LLM.Provider, ValidLLMProviders))
	}
	if cfg.LLM.MaxTokens > maxCompletionTokens {
		problems = append(problems, fmt.Errorf("llm.max_tokens %d exceeds the hard cap of %d", cfg.LLM.MaxTokens, maxCompletionTokens))
	}
	if cfg.LLM.MaxTokens < 0 {
		problems = append(problems, fmt.Errorf("llm.max_tokens must not be negative"))
	}
	for i, d := range cfg.LLM.Retry.Delays {
		if d <= 0 {
			problems = append(problems, fmt.Errorf("llm.retry.delays[%d] must be positive, got %d", i, d))
		}
	}
	if cfg.LLM.Retry.MaxAttempts < 0 {
		problems = append(problems, fmt.Errorf("llm.retry.max_attempts must not be negative"))
	}
	if fb := cfg.LLM.Fallback; fb != nil {
		if fb.Model == "" {
			problems = append(problems, fmt.Errorf("llm.fallback.model is required when a fallback is declared"))
		}
		if fb.Provider != "" && !slices.Contains(ValidLLMProviders, fb.Provider) {
			problems = append(problems, fmt.Errorf("llm.fallback.provider %q is unknown; valid values: %v", fb.Provider, ValidLLMProviders))
		}
	}

	// Graph
	if cfg.Graph.URI == "" {
		problems = append(problems, fmt.Errorf("graph.uri is required"))
	} else if _, err := url.Parse(cfg.Graph.URI); err != nil {
		problems = append(problems, fmt.Errorf("graph.uri is not a valid URI: %v", err))
	}
	if cfg.Graph.EmbeddingDimensions < 0 {
		problems = append(problems, fmt.Errorf("graph.embedding_dimensions must not be negative"))
	}

	// Queue
	if cfg.Queue.Port < 0 || cfg.Queue.Port > 65535 {
		problems = append(problems, fmt.Errorf("queue.port %d is out of range [0, 65535]", cfg.Queue.Port))
	}
	if w := cfg.Queue.WorkersPerAgent; w != 0 && (w < 1 || w > 2) {
		problems = append(problems, fmt.Errorf("queue.workers_per_agent %d is out of range [1, 2]", w))
	}

	// Corruption
	if s := cfg.Corruption.Strength; s != nil && (*s < 0 || *s > 1) {
		problems = append(problems, fmt.Errorf("corruption.strength %.2f is out of range [0, 1]", *s))
	}

	// Bounded loop knobs
	if cfg.Validation.MaxAttempts < 0 {
		problems = append(problems, fmt.Errorf("validation.max_attempts must not be negative"))
	}
	if cfg.Clarification.MaxRounds < 0 {
		problems = append(problems, fmt.Errorf("clarification.max_rounds must not be negative"))
	}
	if cfg.Consensus.MaxRounds < 0 {
		problems = append(problems, fmt.Errorf("consensus.max_rounds must not be negative"))
	}
	if cfg.Consensus.TimeoutSeconds < 0 {
		problems = append(problems, fmt.Errorf("consensus.timeout_seconds must not be negative"))
	}

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		problems = append(problems, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	if len(problems) > 0 {
		return errs.Config("config: validate", errors.Join(problems...))
	}
	return nil
}

// GraphDSN assembles the effective Postgres DSN from graph.uri with
// graph.user / graph.password overrides applied.
func (c *Config) GraphDSN() (string, error) {
	u, err := url.Parse(c.Graph.URI)
	if err != nil {
		return "", errs.Config("config: graph.uri", err)
	}
	if c.Graph.User != "" {
		if c.Graph.Password != "" {
			u.User = url.UserPassword(c.Graph.User, c.Graph.Password)
		} else {
			u.User = url.User(c.Graph.User)
		}
	}
	return u.String(), nil
}

// QueueDSN assembles the job-registry DSN: the graph DSN with queue.host
// and queue.port substituted when provided.
func (c *Config) QueueDSN() (string, error) {
	dsn, err := c.GraphDSN()
	if err != nil {
		return "", err
	}
	if c.Queue.Host == "" && c.Queue.Port == 0 {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", errs.Config("config: queue dsn", err)
	}
	host := c.Queue.Host
	if host == "" {
		host = u.Hostname()
	}
	port := c.Queue.Port
	if port == 0 {
		u.Host = host
	} else {
		u.Host = fmt.Sprintf("%s:%d", host, port)
	}
	return u.String(), nil
}
