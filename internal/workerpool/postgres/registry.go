// Package postgres provides the PostgreSQL-backed job registry. Claims use
// FOR UPDATE SKIP LOCKED so that any number of worker processes can drain
// the same queues without double-dispatch.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starcrew-ai/starcrew/internal/workerpool"
)

var _ workerpool.Registry = (*Registry)(nil)

const ddlJobs = `
CREATE TABLE IF NOT EXISTS worker_jobs (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    agent_id    TEXT         NOT NULL DEFAULT '',
    kind        TEXT         NOT NULL,
    payload     JSONB,
    status      TEXT         NOT NULL DEFAULT 'queued',
    result      JSONB,
    error       TEXT         NOT NULL DEFAULT '',
    attempts    INT          NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    started_at  TIMESTAMPTZ,
    finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_worker_jobs_claim
    ON worker_jobs (kind, created_at)
    WHERE status = 'queued';

CREATE INDEX IF NOT EXISTS idx_worker_jobs_session
    ON worker_jobs (session_id, status);
`

// Registry implements workerpool.Registry over a shared pool.
type Registry struct {
	pool *pgxpool.Pool
}

// NewRegistry creates a job registry and ensures its schema exists.
func NewRegistry(ctx context.Context, pool *pgxpool.Pool) (*Registry, error) {
	if _, err := pool.Exec(ctx, ddlJobs); err != nil {
		return nil, fmt.Errorf("job registry: migrate: %w", err)
	}
	return &Registry{pool: pool}, nil
}

// Enqueue implements workerpool.Registry.
func (r *Registry) Enqueue(ctx context.Context, job workerpool.Job) error {
	const q = `
		INSERT INTO worker_jobs (id, session_id, agent_id, kind, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, q,
		job.ID, job.SessionID, job.AgentID, string(job.Kind), job.Payload,
		string(workerpool.StatusQueued), job.CreatedAt)
	if err != nil {
		return fmt.Errorf("job registry: enqueue %s: %w", job.ID, err)
	}
	return nil
}

// Claim implements workerpool.Registry. The oldest queued job of any
// listed kind moves to running under a row lock; concurrent claimers skip
// locked rows.
func (r *Registry) Claim(ctx context.Context, kinds []workerpool.Kind) (*workerpool.Job, error) {
	const q = `
		UPDATE worker_jobs
		SET status = 'running', started_at = now(), attempts = attempts + 1
		WHERE id = (
		    SELECT id FROM worker_jobs
		    WHERE status = 'queued' AND kind = ANY($1)
		    ORDER BY created_at
		    FOR UPDATE SKIP LOCKED
		    LIMIT 1
		)
		RETURNING ` + jobColumns

	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	row := r.pool.QueryRow(ctx, q, names)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job registry: claim: %w", err)
	}
	return job, nil
}

// Get implements workerpool.Registry.
func (r *Registry) Get(ctx context.Context, id string) (*workerpool.Job, error) {
	q := "SELECT " + jobColumns + " FROM worker_jobs WHERE id = $1"
	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job registry: get %s: %w", id, err)
	}
	return job, nil
}

// Complete implements workerpool.Registry.
func (r *Registry) Complete(ctx context.Context, id string, result []byte) error {
	const q = `
		UPDATE worker_jobs
		SET status = 'done', result = $2, finished_at = now()
		WHERE id = $1 AND status = 'running'`

	if _, err := r.pool.Exec(ctx, q, id, result); err != nil {
		return fmt.Errorf("job registry: complete %s: %w", id, err)
	}
	return nil
}

// Fail implements workerpool.Registry.
func (r *Registry) Fail(ctx context.Context, id string, msg string) error {
	const q = `
		UPDATE worker_jobs
		SET status = 'failed', error = $2, finished_at = now()
		WHERE id = $1 AND status = 'running'`

	if _, err := r.pool.Exec(ctx, q, id, msg); err != nil {
		return fmt.Errorf("job registry: fail %s: %w", id, err)
	}
	return nil
}

// CancelSession implements workerpool.Registry.
func (r *Registry) CancelSession(ctx context.Context, sessionID string) (int, error) {
	const q = `
		UPDATE worker_jobs
		SET status = 'cancelled', finished_at = now()
		WHERE session_id = $1 AND status IN ('queued', 'running')`

	tag, err := r.pool.Exec(ctx, q, sessionID)
	if err != nil {
		return 0, fmt.Errorf("job registry: cancel session %s: %w", sessionID, err)
	}
	return int(tag.RowsAffected()), nil
}

// Abandoned implements workerpool.Registry.
func (r *Registry) Abandoned(ctx context.Context, sessionID string) ([]workerpool.Job, error) {
	q := "SELECT " + jobColumns + `
		FROM worker_jobs
		WHERE session_id = $1 AND status = 'running'
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("job registry: abandoned %s: %w", sessionID, err)
	}
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (workerpool.Job, error) {
		j, err := scanJob(row)
		if err != nil {
			return workerpool.Job{}, err
		}
		return *j, nil
	})
	if err != nil {
		return nil, fmt.Errorf("job registry: scan abandoned: %w", err)
	}
	return jobs, nil
}

// Requeue implements workerpool.Registry.
func (r *Registry) Requeue(ctx context.Context, ids []string) error {
	const q = `
		UPDATE worker_jobs
		SET status = 'queued', started_at = NULL
		WHERE id = ANY($1) AND status = 'running'`

	if _, err := r.pool.Exec(ctx, q, ids); err != nil {
		return fmt.Errorf("job registry: requeue: %w", err)
	}
	return nil
}

// PurgeExpired implements workerpool.Registry.
func (r *Registry) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	const q = `
		DELETE FROM worker_jobs
		WHERE (status IN ('done', 'cancelled') AND finished_at < $1)
		   OR (status = 'failed' AND finished_at < $2)`

	tag, err := r.pool.Exec(ctx, q,
		now.Add(-workerpool.ResultRetention), now.Add(-workerpool.FailureRetention))
	if err != nil {
		return 0, fmt.Errorf("job registry: purge: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const jobColumns = `id, session_id, agent_id, kind, payload, status, result, error,
	       attempts, created_at, started_at, finished_at`

func scanJob(row pgx.Row) (*workerpool.Job, error) {
	var j workerpool.Job
	err := row.Scan(
		&j.ID, &j.SessionID, &j.AgentID, &j.Kind, &j.Payload, &j.Status,
		&j.Result, &j.ErrorMsg, &j.Attempts, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
