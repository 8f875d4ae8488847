// Package postgres provides the PostgreSQL-backed checkpoint store. One
// row per (session, phase), with a per-session monotonic version so a
// delayed write can never clobber a newer snapshot.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starcrew-ai/starcrew/internal/phase"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

var _ phase.Checkpointer = (*Checkpointer)(nil)

const ddlCheckpoints = `
CREATE TABLE IF NOT EXISTS phase_checkpoints (
    session_id  TEXT         NOT NULL,
    phase_index INT          NOT NULL,
    version     BIGINT       NOT NULL,
    state       JSONB        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, phase_index)
);

CREATE INDEX IF NOT EXISTS idx_phase_checkpoints_latest
    ON phase_checkpoints (session_id, version DESC);
`

// Checkpointer implements phase.Checkpointer over a shared pool.
type Checkpointer struct {
	pool *pgxpool.Pool
}

// NewCheckpointer creates a checkpoint store and ensures its schema
// exists.
func NewCheckpointer(ctx context.Context, pool *pgxpool.Pool) (*Checkpointer, error) {
	if _, err := pool.Exec(ctx, ddlCheckpoints); err != nil {
		return nil, fmt.Errorf("checkpointer: migrate: %w", err)
	}
	return &Checkpointer{pool: pool}, nil
}

// Save implements phase.Checkpointer. The version is one past the
// session's current maximum; the guard on the upsert drops a write whose
// row already carries a newer version.
func (c *Checkpointer) Save(ctx context.Context, sessionID string, ph game.Phase, state *game.GameState) (int64, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("checkpointer: encode state: %w", err)
	}

	const q = `
		INSERT INTO phase_checkpoints (session_id, phase_index, version, state, created_at)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, now()
		FROM phase_checkpoints WHERE session_id = $1
		ON CONFLICT (session_id, phase_index) DO UPDATE
		SET version = EXCLUDED.version, state = EXCLUDED.state, created_at = EXCLUDED.created_at
		WHERE phase_checkpoints.version < EXCLUDED.version
		RETURNING version`

	var version int64
	if err := c.pool.QueryRow(ctx, q, sessionID, ph.Index(), encoded).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("checkpointer: save %s/%s: stale version rejected", sessionID, ph)
		}
		return 0, fmt.Errorf("checkpointer: save %s/%s: %w", sessionID, ph, err)
	}
	return version, nil
}

// Load implements phase.Checkpointer.
func (c *Checkpointer) Load(ctx context.Context, sessionID string, ph game.Phase) (*phase.Snapshot, error) {
	const q = `
		SELECT session_id, phase_index, version, state, created_at
		FROM phase_checkpoints
		WHERE session_id = $1 AND phase_index = $2`

	snap, err := scanSnapshot(c.pool.QueryRow(ctx, q, sessionID, ph.Index()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpointer: load %s/%s: %w", sessionID, ph, err)
	}
	return snap, nil
}

// Latest implements phase.Checkpointer.
func (c *Checkpointer) Latest(ctx context.Context, sessionID string) (*phase.Snapshot, error) {
	const q = `
		SELECT session_id, phase_index, version, state, created_at
		FROM phase_checkpoints
		WHERE session_id = $1
		ORDER BY version DESC
		LIMIT 1`

	snap, err := scanSnapshot(c.pool.QueryRow(ctx, q, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpointer: latest %s: %w", sessionID, err)
	}
	return snap, nil
}

// ClearSession implements phase.Checkpointer.
func (c *Checkpointer) ClearSession(ctx context.Context, sessionID string) error {
	const q = "DELETE FROM phase_checkpoints WHERE session_id = $1"
	if _, err := c.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("checkpointer: clear %s: %w", sessionID, err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (*phase.Snapshot, error) {
	var (
		snap    phase.Snapshot
		encoded []byte
		created time.Time
	)
	if err := row.Scan(&snap.SessionID, &snap.PhaseIndex, &snap.Version, &encoded, &created); err != nil {
		return nil, err
	}
	snap.CreatedAt = created

	var st game.GameState
	if err := json.Unmarshal(encoded, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	snap.State = &st
	return &snap, nil
}
