// Package postgres provides the PostgreSQL-backed channel store for the
// message router. IC bodies and their summaries commit in one transaction,
// and the active-P2C-channel index is maintained inside the same
// transaction as each P2C append.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starcrew-ai/starcrew/internal/router"
)

var _ router.Store = (*Store)(nil)

const ddlChannels = `
CREATE TABLE IF NOT EXISTS channel_messages (
    message_id     TEXT         PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    channel        TEXT         NOT NULL,
    sender         TEXT         NOT NULL,
    recipient      TEXT         NOT NULL DEFAULT '',
    content        TEXT         NOT NULL,
    turn_number    INT          NOT NULL DEFAULT 0,
    session_number INT          NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_channel_messages_session_channel
    ON channel_messages (session_id, channel, created_at);

CREATE INDEX IF NOT EXISTS idx_channel_messages_recipient
    ON channel_messages (session_id, recipient, created_at)
    WHERE channel = 'p2c';

CREATE INDEX IF NOT EXISTS idx_channel_messages_created_at
    ON channel_messages (created_at);

CREATE TABLE IF NOT EXISTS ic_summaries (
    message_id      TEXT         PRIMARY KEY
                    REFERENCES channel_messages (message_id) ON DELETE CASCADE,
    session_id      TEXT         NOT NULL,
    character_id    TEXT         NOT NULL,
    action_summary  TEXT         NOT NULL,
    outcome_summary TEXT         NOT NULL DEFAULT '',
    turn_number     INT          NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ic_summaries_session
    ON ic_summaries (session_id, created_at);

CREATE TABLE IF NOT EXISTS p2c_channels (
    session_id   TEXT NOT NULL,
    character_id TEXT NOT NULL,
    PRIMARY KEY (session_id, character_id)
);
`

// Store implements [router.Store] over a shared [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates the channel store over pool and runs [Migrate].
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := Migrate(ctx, pool); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate creates or ensures the channel tables exist. Idempotent and safe
// to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlChannels); err != nil {
		return fmt.Errorf("channel store: migrate: %w", err)
	}
	return nil
}

// AppendIC implements [router.Store]. The body and its summary commit in a
// single transaction; a duplicate message ID fails the whole append.
func (s *Store) AppendIC(ctx context.Context, msg router.Message, summary router.ICSummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("channel store: begin ic append: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := appendMessage(ctx, tx, msg); err != nil {
		return err
	}

	const q = `
		INSERT INTO ic_summaries
		    (message_id, session_id, character_id, action_summary, outcome_summary, turn_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = tx.Exec(ctx, q,
		summary.MessageID,
		summary.SessionID,
		summary.CharacterID,
		summary.ActionSummary,
		summary.OutcomeSummary,
		summary.TurnNumber,
		summary.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("channel store: append summary %s: %w", summary.MessageID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("channel store: commit ic append: %w", err)
	}
	return nil
}

// Append implements [router.Store]. P2C appends register the channel key
// in the same transaction.
func (s *Store) Append(ctx context.Context, msg router.Message) error {
	if msg.Channel != router.ChannelP2C {
		return appendMessage(ctx, s.pool, msg)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("channel store: begin p2c append: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := appendMessage(ctx, tx, msg); err != nil {
		return err
	}

	const q = `
		INSERT INTO p2c_channels (session_id, character_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := tx.Exec(ctx, q, msg.SessionID, msg.Recipient); err != nil {
		return fmt.Errorf("channel store: register p2c channel: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("channel store: commit p2c append: %w", err)
	}
	return nil
}

// execer abstracts pool vs transaction for the shared insert;
// *pgxpool.Pool and pgx.Tx both satisfy it.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func appendMessage(ctx context.Context, db execer, msg router.Message) error {
	const q = `
		INSERT INTO channel_messages
		    (message_id, session_id, channel, sender, recipient, content, turn_number, session_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.Exec(ctx, q,
		msg.ID,
		msg.SessionID,
		string(msg.Channel),
		msg.From,
		msg.Recipient,
		msg.Content,
		msg.TurnNumber,
		msg.SessionNumber,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("channel store: append message %s: %w", msg.ID, err)
	}
	return nil
}

// RecentIC implements [router.Store].
func (s *Store) RecentIC(ctx context.Context, sessionID string, limit int) ([]router.Message, error) {
	return s.recentMessages(ctx, sessionID, router.ChannelIC, "", limit)
}

// RecentOOC implements [router.Store].
func (s *Store) RecentOOC(ctx context.Context, sessionID string, limit int) ([]router.Message, error) {
	return s.recentMessages(ctx, sessionID, router.ChannelOOC, "", limit)
}

// RecentP2C implements [router.Store].
func (s *Store) RecentP2C(ctx context.Context, sessionID, characterID string, limit int) ([]router.Message, error) {
	return s.recentMessages(ctx, sessionID, router.ChannelP2C, characterID, limit)
}

func (s *Store) recentMessages(ctx context.Context, sessionID string, channel router.Channel, recipient string, limit int) ([]router.Message, error) {
	q := `
		SELECT message_id, session_id, channel, sender, recipient, content, turn_number, session_number, created_at
		FROM   channel_messages
		WHERE  session_id = $1
		  AND  channel    = $2`
	args := []any{sessionID, string(channel)}
	if recipient != "" {
		args = append(args, recipient)
		q += fmt.Sprintf("\n\t\t  AND  recipient  = $%d", len(args))
	}
	q += "\n\t\tORDER  BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\n\t\tLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("channel store: recent %s: %w", channel, err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (router.Message, error) {
		var m router.Message
		err := row.Scan(&m.ID, &m.SessionID, &m.Channel, &m.From, &m.Recipient,
			&m.Content, &m.TurnNumber, &m.SessionNumber, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("channel store: scan %s rows: %w", channel, err)
	}

	// The query returns newest first for the LIMIT; callers want oldest first.
	reverse(msgs)
	return msgs, nil
}

// RecentSummaries implements [router.Store].
func (s *Store) RecentSummaries(ctx context.Context, sessionID string, limit int) ([]router.ICSummary, error) {
	q := `
		SELECT message_id, session_id, character_id, action_summary, outcome_summary, turn_number, created_at
		FROM   ic_summaries
		WHERE  session_id = $1
		ORDER  BY created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("channel store: recent summaries: %w", err)
	}
	sums, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (router.ICSummary, error) {
		var sm router.ICSummary
		err := row.Scan(&sm.MessageID, &sm.SessionID, &sm.CharacterID,
			&sm.ActionSummary, &sm.OutcomeSummary, &sm.TurnNumber, &sm.CreatedAt)
		return sm, err
	})
	if err != nil {
		return nil, fmt.Errorf("channel store: scan summary rows: %w", err)
	}
	reverse(sums)
	return sums, nil
}

// ActiveP2CChannels implements [router.Store].
func (s *Store) ActiveP2CChannels(ctx context.Context, sessionID string) ([]string, error) {
	const q = `
		SELECT character_id
		FROM   p2c_channels
		WHERE  session_id = $1
		ORDER  BY character_id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("channel store: active p2c channels: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("channel store: scan p2c channels: %w", err)
	}
	return keys, nil
}

// ClearSession implements [router.Store]. Atomic across all three tables.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("channel store: begin clear: %w", err)
	}
	defer tx.Rollback(ctx)

	// ic_summaries cascades from channel_messages.
	for _, q := range []string{
		`DELETE FROM channel_messages WHERE session_id = $1`,
		`DELETE FROM p2c_channels WHERE session_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, sessionID); err != nil {
			return fmt.Errorf("channel store: clear session %s: %w", sessionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("channel store: commit clear: %w", err)
	}
	return nil
}

// PurgeOlderThan implements [router.Store]. Summaries cascade with their
// bodies.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM channel_messages WHERE created_at < $1`

	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("channel store: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func reverse[E any](s []E) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
