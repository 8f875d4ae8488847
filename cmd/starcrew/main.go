// Command starcrew runs the AI crew for a Lasers & Feelings table: the
// turn state machine, the worker pool, and the GM-facing MCP server on
// stdio. Health and metrics are served over HTTP on -listen.
//
// Exit codes: 0 clean shutdown, 1 runtime error, 2 invalid
// configuration, 3 infrastructure unreachable, 4 stopped while the
// session still required GM intervention.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/starcrew-ai/starcrew/internal/app"
	"github.com/starcrew-ai/starcrew/internal/config"
	"github.com/starcrew-ai/starcrew/internal/observe"
	"github.com/starcrew-ai/starcrew/internal/resilience"
	ollamaembed "github.com/starcrew-ai/starcrew/pkg/provider/embeddings/ollama"
	oaembed "github.com/starcrew-ai/starcrew/pkg/provider/embeddings/openai"
	"github.com/starcrew-ai/starcrew/pkg/provider/llm"
	"github.com/starcrew-ai/starcrew/pkg/provider/llm/anyllm"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listenAddr := flag.String("listen", ":8080", "health and metrics HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starcrew: %v\n", err)
		return app.ExitConfig
	}

	// The GM transport owns stdout; everything else goes to stderr.
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "starcrew",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		return app.ExitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("provider setup failed", "error", err)
		return app.ExitConfig
	}

	slog.Info("starcrew starting",
		"version", version,
		"config", *configPath,
		"llm", cfg.LLM.Model,
		"listen", *listenAddr,
	)

	application, err := app.New(ctx, cfg, providers, app.WithListenAddr(*listenAddr))
	if err != nil {
		slog.Error("initialisation failed", "error", err)
		return app.ExitCode(err)
	}

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	return app.ExitCode(runErr)
}

// buildProviders constructs the LLM stack (primary plus optional
// fallback) and the optional embeddings backend from config.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	primary, err := buildLLM(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	ps := &app.Providers{LLM: primary}

	if fb := cfg.LLM.Fallback; fb != nil {
		secondary, err := buildLLM(fb.Provider, fb.Model, fb.APIKey, fb.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("llm fallback provider: %w", err)
		}
		group := resilience.NewLLMFallback(primary, providerName(cfg.LLM.Provider), resilience.FallbackConfig{})
		group.AddFallback(providerName(fb.Provider), secondary)
		ps.LLM = group
		slog.Info("llm failover enabled",
			"primary", cfg.LLM.Model, "fallback", fb.Model)
	}

	if model := cfg.LLM.EmbeddingsModel; model != "" {
		switch providerName(cfg.LLM.Provider) {
		case "ollama":
			p, err := ollamaembed.New(cfg.LLM.BaseURL, model)
			if err != nil {
				return nil, fmt.Errorf("embeddings provider: %w", err)
			}
			ps.Embeddings = p
		default:
			var opts []oaembed.Option
			if cfg.LLM.BaseURL != "" {
				opts = append(opts, oaembed.WithBaseURL(cfg.LLM.BaseURL))
			}
			p, err := oaembed.New(cfg.LLM.APIKey, model, opts...)
			if err != nil {
				return nil, fmt.Errorf("embeddings provider: %w", err)
			}
			ps.Embeddings = p
		}
		slog.Info("vector memory search enabled", "model", model)
	}

	return ps, nil
}

// buildLLM creates one any-llm backend.
func buildLLM(provider, model, apiKey, baseURL string) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(baseURL))
	}
	return anyllm.New(providerName(provider), model, opts...)
}

// providerName applies the config default.
func providerName(name string) string {
	if name == "" {
		return "openai"
	}
	return name
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
