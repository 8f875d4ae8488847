// Package app wires all Starcrew subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects PostgreSQL, loads
// the crew roster, builds the worker pool and agent handlers, and
// prepares the GM-facing MCP server. Run executes everything until the
// context is cancelled or the GM ends the session, and Shutdown tears it
// all down in order.
//
// For testing, inject in-memory stores via functional options
// (WithRegistry, WithCheckpointer, etc.). When an option is not provided,
// New creates the real PostgreSQL implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starcrew-ai/starcrew/internal/agent"
	"github.com/starcrew-ai/starcrew/internal/config"
	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/gmcmd"
	"github.com/starcrew-ai/starcrew/internal/gmserver"
	"github.com/starcrew-ai/starcrew/internal/health"
	"github.com/starcrew-ai/starcrew/internal/observe"
	"github.com/starcrew-ai/starcrew/internal/phase"
	phasepg "github.com/starcrew-ai/starcrew/internal/phase/postgres"
	"github.com/starcrew-ai/starcrew/internal/resilience"
	"github.com/starcrew-ai/starcrew/internal/roster"
	rosterpg "github.com/starcrew-ai/starcrew/internal/roster/postgres"
	"github.com/starcrew-ai/starcrew/internal/router"
	routerpg "github.com/starcrew-ai/starcrew/internal/router/postgres"
	"github.com/starcrew-ai/starcrew/internal/workerpool"
	workerpoolpg "github.com/starcrew-ai/starcrew/internal/workerpool/postgres"
	"github.com/starcrew-ai/starcrew/pkg/memory"
	memorypg "github.com/starcrew-ai/starcrew/pkg/memory/postgres"
	"github.com/starcrew-ai/starcrew/pkg/provider/embeddings"
	"github.com/starcrew-ai/starcrew/pkg/provider/llm"
)

// ErrInfra marks a required backing service (PostgreSQL) that could not
// be reached at startup. Distinct from configuration errors: the config
// is fine, the world is not.
var ErrInfra = errors.New("infrastructure unreachable")

// ErrHalted is returned from Run when the application stops while the
// active session still requires GM intervention.
var ErrHalted = errors.New("session halted awaiting GM intervention")

// Exit codes for main. Config problems and unreachable infrastructure
// get distinct codes so supervisors can tell "fix the YAML" from "start
// the database".
const (
	ExitOK     = 0
	ExitError  = 1
	ExitConfig = 2
	ExitInfra  = 3
	ExitHalted = 4
)

// ExitCode maps an error from [New] or [App.Run] to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInfra):
		return ExitInfra
	case errors.Is(err, ErrHalted):
		return ExitHalted
	case errs.KindOf(err) == errs.KindConfig:
		return ExitConfig
	default:
		return ExitError
	}
}

// Providers holds the model backends the application talks to. LLM is
// required; Embeddings is optional and switches memory search from
// full-text to vector ranking when present.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	listenAddr string
	metrics    *observe.Metrics

	db       *pgxpool.Pool
	queueDB  *pgxpool.Pool
	registry workerpool.Registry
	cp       phase.Checkpointer
	msgStore router.Store
	memStore memory.Store

	crewRoster *roster.Roster
	crewFile   *roster.CrewFile
	pool       *workerpool.Pool
	crew       *agent.Crew
	sessions   *SessionManager
	health     *health.Handler

	closers  []func()
	stopOnce sync.Once
}

// Option is a functional option for [New]. Use these to inject test
// doubles for the persistence layer.
type Option func(*App)

// WithListenAddr sets the health/metrics HTTP listen address.
// Default: ":8080".
func WithListenAddr(addr string) Option { return func(a *App) { a.listenAddr = addr } }

// WithRegistry injects a job registry instead of the PostgreSQL one.
func WithRegistry(r workerpool.Registry) Option { return func(a *App) { a.registry = r } }

// WithCheckpointer injects a checkpointer instead of the PostgreSQL one.
func WithCheckpointer(cp phase.Checkpointer) Option { return func(a *App) { a.cp = cp } }

// WithMessageStore injects a channel-log store instead of the PostgreSQL one.
func WithMessageStore(s router.Store) Option { return func(a *App) { a.msgStore = s } }

// WithMemoryStore injects a memory store instead of the PostgreSQL one.
func WithMemoryStore(s memory.Store) Option { return func(a *App) { a.memStore = s } }

// WithRoster injects an already-built roster instead of loading
// cfg.roster.files.
func WithRoster(r *roster.Roster) Option { return func(a *App) { a.crewRoster = r } }

// WithMetrics injects a metrics instance; tests use one backed by a
// manual reader.
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option { return func(a *App) { a.log = log } }

// New wires all subsystems together. Initialisation order: roster,
// PostgreSQL, worker pool, crew handlers, session manager, health.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errs.Config("app: new", fmt.Errorf("an LLM provider is required"))
	}

	a := &App{
		cfg:        cfg,
		providers:  providers,
		log:        slog.Default(),
		listenAddr: ":8080",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initRoster(); err != nil {
		return nil, err
	}
	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	a.initPool()
	a.initCrew()

	a.sessions = NewSessionManager(a)
	a.initHealth()

	return a, nil
}

// initRoster loads the crew definition from cfg.roster.files unless one
// was injected.
func (a *App) initRoster() error {
	if a.crewRoster != nil {
		return nil
	}
	if len(a.cfg.Roster.Files) == 0 {
		return errs.Config("app: init roster", fmt.Errorf("roster.files must list at least one crew file"))
	}
	cf, err := roster.LoadFile(a.cfg.Roster.Files[0])
	if err != nil {
		return fmt.Errorf("app: init roster: %w", err)
	}
	r, err := roster.New(cf)
	if err != nil {
		return fmt.Errorf("app: init roster: %w", err)
	}
	a.crewRoster = r
	a.crewFile = cf
	a.log.Info("crew loaded",
		"campaign", r.Campaign().Name,
		"ship", r.Ship().Name,
		"agents", len(r.ActiveAgents()))
	return nil
}

// initStores connects PostgreSQL and builds every store that was not
// injected. A connection failure wraps [ErrInfra].
func (a *App) initStores(ctx context.Context) error {
	needGraph := a.cp == nil || a.msgStore == nil || a.memStore == nil
	needQueue := a.registry == nil

	if !needGraph && !needQueue {
		return nil
	}

	graphDSN, err := a.cfg.GraphDSN()
	if err != nil {
		return err
	}

	if needGraph {
		db, err := connect(ctx, graphDSN)
		if err != nil {
			return fmt.Errorf("app: graph database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)

		if a.memStore == nil {
			dims := a.cfg.Graph.EmbeddingDimensions
			if dims == 0 {
				dims = 1536
			}
			if err := memorypg.Migrate(ctx, db, dims); err != nil {
				return fmt.Errorf("app: memory schema: %w", err)
			}
			a.memStore = memorypg.NewStoreWithPool(db)
		}
		if a.cp == nil {
			cp, err := phasepg.NewCheckpointer(ctx, db)
			if err != nil {
				return fmt.Errorf("app: checkpoint schema: %w", err)
			}
			a.cp = cp
		}
		if a.msgStore == nil {
			ms, err := routerpg.NewStore(ctx, db)
			if err != nil {
				return fmt.Errorf("app: channel schema: %w", err)
			}
			a.msgStore = ms
		}

		// Persist the crew definition so inspection tooling can read it
		// without the YAML files.
		if a.crewFile != nil {
			if rs, err := rosterpg.NewStore(ctx, db); err != nil {
				a.log.Warn("roster store unavailable", "error", err)
			} else if err := rs.SaveCrew(ctx, a.crewFile); err != nil {
				a.log.Warn("crew snapshot not persisted", "error", err)
			}
		}
	}

	if needQueue {
		queueDB := a.db
		if a.cfg.Queue.Host != "" || a.cfg.Queue.Port != 0 {
			dsn, err := a.cfg.QueueDSN()
			if err != nil {
				return err
			}
			queueDB, err = connect(ctx, dsn)
			if err != nil {
				return fmt.Errorf("app: queue database: %w", err)
			}
			a.queueDB = queueDB
			a.closers = append(a.closers, queueDB.Close)
		}
		if queueDB == nil {
			db, err := connect(ctx, graphDSN)
			if err != nil {
				return fmt.Errorf("app: queue database: %w", err)
			}
			queueDB = db
			a.queueDB = db
			a.closers = append(a.closers, db.Close)
		}
		reg, err := workerpoolpg.NewRegistry(ctx, queueDB)
		if err != nil {
			return fmt.Errorf("app: job schema: %w", err)
		}
		a.registry = reg
	}

	return nil
}

// initPool sizes and builds the worker pool. Every worker handles every
// job kind; sizing follows the per-agent multiplier from config.
func (a *App) initPool() {
	perAgent := a.cfg.Queue.WorkersPerAgent
	if perAgent < 1 || perAgent > 2 {
		perAgent = 2
	}
	workers := perAgent * len(a.crewRoster.ActiveAgents())
	if workers < 1 {
		workers = 1
	}

	met := a.metrics
	a.pool = workerpool.New(a.registry,
		workerpool.WithWorkers(workers),
		workerpool.WithRetry(resilience.RetryConfig{
			Delays:      a.cfg.LLM.Retry.DelayDurations(),
			MaxAttempts: a.cfg.LLM.Retry.Attempts(),
			Retryable: func(err error) bool {
				if errs.IsRetryable(err) {
					met.JobRetries.Add(context.Background(), 1)
					return true
				}
				return false
			},
		}),
		workerpool.WithObserver(func(kind workerpool.Kind, status workerpool.Status, elapsed time.Duration) {
			met.RecordJob(context.Background(), string(kind), string(status), elapsed)
		}),
		workerpool.WithLogger(a.log),
	)
}

// initCrew builds the agent layer and registers a handler for every job
// kind on the pool.
func (a *App) initCrew() {
	var opts []agent.Option
	if a.cfg.LLM.MaxTokens > 0 {
		opts = append(opts, agent.WithMaxTokens(a.cfg.LLM.MaxTokens))
	}
	opts = append(opts, agent.WithLogger(a.log))
	a.crew = agent.NewCrew(a.crewRoster, a.providers.LLM, opts...)
	a.crew.Register(a.pool)
}

// initHealth registers readiness checks for the database and the LLM
// backend.
func (a *App) initHealth() {
	var checkers []health.Checker
	if a.db != nil {
		db := a.db
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: func(ctx context.Context) error { return db.Ping(ctx) },
		})
	}
	provider := a.providers.LLM
	checkers = append(checkers, health.Checker{
		Name: "llm",
		Check: func(context.Context) error {
			_, err := provider.CountTokens([]llm.Message{{Role: "user", Content: "ping"}})
			return err
		},
	})
	a.health = health.New(checkers...)
}

// Sessions exposes the session manager, mainly for tests and tooling.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Run opens (or resumes) the campaign session and blocks serving the GM
// until ctx is cancelled or the GM ends the session. It returns
// [ErrHalted] when the application stops with the session still parked in
// a halted state.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: worker pool: %w", err)
		}
		return nil
	})

	httpSrv := a.httpServer()
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		sess, err := a.sessions.Open(ctx)
		if err != nil {
			return err
		}
		defer a.sessions.Release(context.WithoutCancel(ctx))

		adapter := gmcmd.NewAdapter(sess,
			gmcmd.WithAsker(a.crew),
			gmcmd.WithLogger(a.log),
		)
		srv := gmserver.New(adapter, sess,
			gmserver.WithLogger(a.log),
			gmserver.WithOnEnd(func(ctx context.Context) error {
				return a.sessions.End(ctx)
			}),
		)
		if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if sess.Halted() {
			return ErrHalted
		}
		return context.Canceled // stop the other goroutines
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// httpServer builds the health + metrics endpoint with tracing and
// request metrics middleware.
func (a *App) httpServer() *http.Server {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              a.listenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Shutdown closes connection pools. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				return
			default:
			}
			a.closers[i]()
		}
		a.log.Info("shutdown complete")
	})
	return nil
}

// connect opens a pgx pool, registers pgvector types on every
// connection, and verifies reachability with a ping.
func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.Config("app: parse dsn", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInfra, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrInfra, redactDSN(dsn), err)
	}
	return pool, nil
}

// redactDSN strips credentials from a DSN for log and error output.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable dsn>"
	}
	u.User = nil
	return u.String()
}
