package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/ids"
	"github.com/starcrew-ai/starcrew/internal/resilience"
)

const (
	// DefaultJobTimeout bounds one handler invocation including its
	// retries.
	DefaultJobTimeout = 2 * time.Minute

	// defaultPollInterval paces idle workers and result polling.
	defaultPollInterval = 100 * time.Millisecond
)

// Handler executes one job and returns its JSON result. Handlers must be
// safe for concurrent use and should classify their errors through the
// errs taxonomy: only transient errors are retried.
type Handler func(ctx context.Context, job Job) (json.RawMessage, error)

// Option configures a [Pool].
type Option func(*Pool)

// WithWorkers sets the number of concurrent workers. The default of four
// covers one to two workers per active agent plus one for validation and
// corruption work.
func WithWorkers(n int) Option { return func(p *Pool) { p.workers = n } }

// WithJobTimeout overrides the per-job deadline.
func WithJobTimeout(d time.Duration) Option { return func(p *Pool) { p.jobTimeout = d } }

// WithRetry overrides the backoff schedule for transient handler errors.
func WithRetry(cfg resilience.RetryConfig) Option { return func(p *Pool) { p.retry = cfg } }

// WithPollInterval overrides the idle and await polling pace. For tests.
func WithPollInterval(d time.Duration) Option { return func(p *Pool) { p.poll = d } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(p *Pool) { p.log = log } }

// WithObserver installs a callback invoked after every processed job with
// its kind, terminal status, and handler wall time. Used for metrics.
func WithObserver(fn func(kind Kind, status Status, elapsed time.Duration)) Option {
	return func(p *Pool) { p.observe = fn }
}

// Pool dispatches jobs to registered handlers. Create with [New], register
// a handler per kind, then start the workers with [Pool.Run].
type Pool struct {
	reg      Registry
	handlers map[Kind]Handler

	workers    int
	jobTimeout time.Duration
	retry      resilience.RetryConfig
	poll       time.Duration
	log        *slog.Logger
	observe    func(kind Kind, status Status, elapsed time.Duration)
}

// New creates a pool over the given registry.
func New(reg Registry, opts ...Option) *Pool {
	p := &Pool{
		reg:        reg,
		handlers:   make(map[Kind]Handler),
		workers:    4,
		jobTimeout: DefaultJobTimeout,
		poll:       defaultPollInterval,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register installs the handler for a job kind. Must be called before
// [Pool.Run]; registering a kind twice panics.
func (p *Pool) Register(kind Kind, h Handler) {
	if !kind.IsValid() {
		panic(fmt.Sprintf("workerpool: unknown job kind %q", kind))
	}
	if _, dup := p.handlers[kind]; dup {
		panic(fmt.Sprintf("workerpool: handler for %q already registered", kind))
	}
	p.handlers[kind] = h
}

// Enqueue persists a new job and returns its ID. payload is marshalled to
// JSON.
func (p *Pool) Enqueue(ctx context.Context, sessionID, agentID string, kind Kind, payload any) (string, error) {
	if !kind.IsValid() {
		return "", errs.Validation("workerpool: enqueue", fmt.Errorf("unknown job kind %q", kind))
	}
	if sessionID == "" {
		return "", errs.Validation("workerpool: enqueue", fmt.Errorf("session id is required"))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("workerpool: marshal payload: %w", err)
	}
	job := Job{
		ID:        ids.NewJobID(),
		SessionID: sessionID,
		AgentID:   agentID,
		Kind:      kind,
		Payload:   raw,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.reg.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("workerpool: enqueue %s: %w", kind, err)
	}
	p.log.DebugContext(ctx, "job enqueued", "job_id", job.ID, "kind", kind, "session_id", sessionID)
	return job.ID, nil
}

// Await blocks until the job reaches a terminal status or timeout elapses,
// returning the result on success. Failed and cancelled jobs return a
// phase failure; the job already spent its own retry budget.
func (p *Pool) Await(ctx context.Context, jobID string, timeout time.Duration) (json.RawMessage, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		job, err := p.reg.Get(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("workerpool: await %s: %w", jobID, err)
		}
		if job == nil {
			return nil, errs.Fatal(fmt.Sprintf("workerpool: job %s unknown to registry", jobID), nil)
		}
		switch job.Status {
		case StatusDone:
			return job.Result, nil
		case StatusFailed:
			return nil, errs.PhaseFailure(fmt.Sprintf("workerpool: job %s (%s) failed", jobID, job.Kind),
				fmt.Errorf("%s", job.ErrorMsg))
		case StatusCancelled:
			return nil, errs.PhaseFailure(fmt.Sprintf("workerpool: job %s (%s) cancelled", jobID, job.Kind), nil)
		}

		if time.Now().After(deadline) {
			return nil, errs.PhaseFailure(fmt.Sprintf("workerpool: job %s (%s) timed out after %s",
				jobID, job.Kind, timeout), nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AwaitAll awaits every listed job concurrently and returns results keyed
// by job ID. The first failure cancels the remaining waits.
func (p *Pool) AwaitAll(ctx context.Context, jobIDs []string, timeout time.Duration) (map[string]json.RawMessage, error) {
	results := make(map[string]json.RawMessage, len(jobIDs))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for _, id := range jobIDs {
		g.Go(func() error {
			res, err := p.Await(gctx, id, timeout)
			if err != nil {
				return err
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Run starts the worker loops and blocks until ctx is cancelled. Workers
// drain every kind with a registered handler.
func (p *Pool) Run(ctx context.Context) error {
	kinds := make([]Kind, 0, len(p.handlers))
	for kind := range p.handlers {
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return errs.Config("workerpool: run", fmt.Errorf("no handlers registered"))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.workers {
		g.Go(func() error { return p.workerLoop(gctx, i, kinds) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil // orderly shutdown
	}
	return err
}

func (p *Pool) workerLoop(ctx context.Context, worker int, kinds []Kind) error {
	for {
		job, err := p.reg.Claim(ctx, kinds)
		if err != nil {
			p.log.ErrorContext(ctx, "claim failed", "worker", worker, "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.poll):
			}
			continue
		}
		p.process(ctx, *job)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// process runs one claimed job to a terminal status.
func (p *Pool) process(ctx context.Context, job Job) {
	handler := p.handlers[job.Kind]
	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	start := time.Now()
	result, err := resilience.RetryWithResult(jobCtx, p.retry, func(ctx context.Context) (json.RawMessage, error) {
		return handler(ctx, job)
	})
	if p.observe != nil {
		status := StatusDone
		if err != nil {
			status = StatusFailed
		}
		p.observe(job.Kind, status, time.Since(start))
	}
	if err != nil {
		p.log.WarnContext(ctx, "job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		if ferr := p.reg.Fail(ctx, job.ID, err.Error()); ferr != nil {
			p.log.ErrorContext(ctx, "recording job failure failed", "job_id", job.ID, "error", ferr)
		}
		return
	}
	if cerr := p.reg.Complete(ctx, job.ID, result); cerr != nil {
		p.log.ErrorContext(ctx, "recording job result failed", "job_id", job.ID, "error", cerr)
	}
}

// Recover requeues the session's abandoned running jobs, returning their
// IDs. Call once on startup before accepting new work.
func (p *Pool) Recover(ctx context.Context, sessionID string) ([]string, error) {
	abandoned, err := p.reg.Abandoned(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("workerpool: recover %s: %w", sessionID, err)
	}
	if len(abandoned) == 0 {
		return nil, nil
	}
	idsToRequeue := make([]string, len(abandoned))
	for i, j := range abandoned {
		idsToRequeue[i] = j.ID
	}
	if err := p.reg.Requeue(ctx, idsToRequeue); err != nil {
		return nil, fmt.Errorf("workerpool: requeue: %w", err)
	}
	p.log.InfoContext(ctx, "abandoned jobs requeued", "session_id", sessionID, "count", len(idsToRequeue))
	return idsToRequeue, nil
}

// CancelSession best-effort cancels the session's outstanding jobs.
// Workers still running a cancelled job finish, but their results are
// discarded by the terminal status already in place.
func (p *Pool) CancelSession(ctx context.Context, sessionID string) (int, error) {
	n, err := p.reg.CancelSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("workerpool: cancel session %s: %w", sessionID, err)
	}
	if n > 0 {
		p.log.InfoContext(ctx, "session jobs cancelled", "session_id", sessionID, "count", n)
	}
	return n, nil
}
