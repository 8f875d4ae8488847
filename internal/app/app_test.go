package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starcrew-ai/starcrew/internal/config"
	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/phase"
	"github.com/starcrew-ai/starcrew/internal/roster"
	routermock "github.com/starcrew-ai/starcrew/internal/router/mock"
	"github.com/starcrew-ai/starcrew/internal/workerpool"
	"github.com/starcrew-ai/starcrew/pkg/game"
	memmock "github.com/starcrew-ai/starcrew/pkg/memory/mock"
	llmmock "github.com/starcrew-ai/starcrew/pkg/provider/llm/mock"
)

func testRoster(t *testing.T) *roster.Roster {
	t.Helper()
	r, err := roster.New(&roster.CrewFile{
		Campaign: roster.CampaignMeta{Name: "Signals from the Rim"},
		Ship: game.ShipConfig{
			Name:      "Raptor",
			Strengths: []game.ShipStrength{game.ShipFastShip, game.ShipNimble},
			Problem:   game.ProblemFuelHog,
		},
		Players: []roster.PlayerProfile{
			{AgentID: "agent_kit", Name: "Kit", Personality: game.Personality{RiskTolerance: 0.9}},
			{AgentID: "agent_mara", Name: "Mara", Personality: game.Personality{RiskTolerance: 0.2}},
		},
		Characters: []game.CharacterSheet{
			{
				CharacterID: "char_tess", AgentID: "agent_kit", Name: "Tess",
				Style: game.StyleSavvy, Role: game.RoleEngineer, Number: 2,
			},
			{
				CharacterID: "char_vex", AgentID: "agent_mara", Name: "Vex",
				Style: game.StyleIntrepid, Role: game.RolePilot, Number: 4,
			},
		},
	})
	if err != nil {
		t.Fatalf("roster.New() error = %v", err)
	}
	return r
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{Model: "gpt-4o"},
	}
}

// newTestApp builds an App on in-memory stores. Extra options override
// the defaults.
func newTestApp(t *testing.T, extra ...Option) *App {
	t.Helper()
	opts := append([]Option{
		WithRoster(testRoster(t)),
		WithRegistry(workerpool.NewMemoryRegistry()),
		WithCheckpointer(phase.NewMemoryCheckpointer()),
		WithMessageStore(routermock.NewStore()),
		WithMemoryStore(&memmock.Store{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, extra...)

	a, err := New(t.Context(), testConfig(), &Providers{LLM: &llmmock.Provider{}}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitError},
		{"infra wrapped", fmt.Errorf("app: graph database: %w", ErrInfra), ExitInfra},
		{"halted", ErrHalted, ExitHalted},
		{"config kind", errs.Config("config: validate", errors.New("llm.model is required")), ExitConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewRequiresLLMProvider(t *testing.T) {
	t.Parallel()

	for _, providers := range []*Providers{nil, {}} {
		_, err := New(t.Context(), testConfig(), providers)
		if err == nil {
			t.Fatal("New() with no LLM provider succeeded")
		}
		if ExitCode(err) != ExitConfig {
			t.Errorf("ExitCode(%v) = %d, want %d", err, ExitCode(err), ExitConfig)
		}
	}
}

func TestNewRequiresRosterFiles(t *testing.T) {
	t.Parallel()

	_, err := New(t.Context(), testConfig(), &Providers{LLM: &llmmock.Provider{}},
		WithRegistry(workerpool.NewMemoryRegistry()),
		WithCheckpointer(phase.NewMemoryCheckpointer()),
		WithMessageStore(routermock.NewStore()),
		WithMemoryStore(&memmock.Store{}),
	)
	if err == nil {
		t.Fatal("New() without roster files succeeded")
	}
	if errs.KindOf(err) != errs.KindConfig {
		t.Errorf("error kind = %v, want %v", errs.KindOf(err), errs.KindConfig)
	}
}

func TestNewWiresSubsystems(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	if a.Sessions() == nil {
		t.Error("Sessions() = nil")
	}
	if a.pool == nil || a.crew == nil || a.health == nil {
		t.Errorf("incomplete wiring: pool=%v crew=%v health=%v", a.pool, a.crew, a.health)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	srv := httptest.NewServer(a.httpServer().Handler)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}
