// Package postgres persists campaign crews so a roster survives between
// sessions. Structured sub-fields (personality, sheet, ship) live in
// JSONB columns; the YAML crew file remains the authoring format and the
// store its durable mirror.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starcrew-ai/starcrew/internal/roster"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

const ddlRoster = `
CREATE TABLE IF NOT EXISTS roster_ships (
    campaign    TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    ship        JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS roster_players (
    campaign    TEXT NOT NULL,
    agent_id    TEXT NOT NULL,
    name        TEXT NOT NULL,
    personality JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (campaign, agent_id)
);

CREATE TABLE IF NOT EXISTS roster_characters (
    campaign     TEXT NOT NULL,
    character_id TEXT NOT NULL,
    agent_id     TEXT NOT NULL,
    sheet        JSONB NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (campaign, character_id)
);
`

// Store persists crews in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a crew store and ensures its schema exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, ddlRoster); err != nil {
		return nil, fmt.Errorf("roster store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveCrew upserts the full crew of one campaign in a single transaction,
// replacing any previously stored players and characters.
func (s *Store) SaveCrew(ctx context.Context, cf *roster.CrewFile) error {
	if cf == nil || cf.Campaign.Name == "" {
		return errors.New("roster store: crew file with a campaign name is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("roster store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	campaign := cf.Campaign.Name
	for _, q := range []string{
		"DELETE FROM roster_players WHERE campaign = $1",
		"DELETE FROM roster_characters WHERE campaign = $1",
	} {
		if _, err := tx.Exec(ctx, q, campaign); err != nil {
			return fmt.Errorf("roster store: clear %s: %w", campaign, err)
		}
	}

	shipJSON, err := json.Marshal(cf.Ship)
	if err != nil {
		return fmt.Errorf("roster store: marshal ship: %w", err)
	}
	const shipQ = `
		INSERT INTO roster_ships (campaign, description, ship, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (campaign) DO UPDATE
		SET description = EXCLUDED.description, ship = EXCLUDED.ship, updated_at = now()`
	if _, err := tx.Exec(ctx, shipQ, campaign, cf.Campaign.Description, shipJSON); err != nil {
		return fmt.Errorf("roster store: save ship: %w", err)
	}

	const playerQ = `
		INSERT INTO roster_players (campaign, agent_id, name, personality)
		VALUES ($1, $2, $3, $4)`
	for _, p := range cf.Players {
		personalityJSON, err := json.Marshal(p.Personality)
		if err != nil {
			return fmt.Errorf("roster store: marshal personality %s: %w", p.AgentID, err)
		}
		if _, err := tx.Exec(ctx, playerQ, campaign, p.AgentID, p.Name, personalityJSON); err != nil {
			return fmt.Errorf("roster store: save player %s: %w", p.AgentID, err)
		}
	}

	const charQ = `
		INSERT INTO roster_characters (campaign, character_id, agent_id, sheet)
		VALUES ($1, $2, $3, $4)`
	for _, c := range cf.Characters {
		sheetJSON, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("roster store: marshal sheet %s: %w", c.CharacterID, err)
		}
		if _, err := tx.Exec(ctx, charQ, campaign, c.CharacterID, c.AgentID, sheetJSON); err != nil {
			return fmt.Errorf("roster store: save character %s: %w", c.CharacterID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("roster store: commit: %w", err)
	}
	return nil
}

// LoadCrew reads the full crew of one campaign, or (nil, nil) when the
// campaign has never been saved.
func (s *Store) LoadCrew(ctx context.Context, campaign string) (*roster.CrewFile, error) {
	cf := &roster.CrewFile{Campaign: roster.CampaignMeta{Name: campaign}}

	const shipQ = "SELECT description, ship FROM roster_ships WHERE campaign = $1"
	var shipJSON []byte
	err := s.pool.QueryRow(ctx, shipQ, campaign).Scan(&cf.Campaign.Description, &shipJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("roster store: load ship %s: %w", campaign, err)
	}
	if err := json.Unmarshal(shipJSON, &cf.Ship); err != nil {
		return nil, fmt.Errorf("roster store: decode ship %s: %w", campaign, err)
	}

	const playerQ = `
		SELECT agent_id, name, personality
		FROM roster_players WHERE campaign = $1 ORDER BY agent_id`
	rows, err := s.pool.Query(ctx, playerQ, campaign)
	if err != nil {
		return nil, fmt.Errorf("roster store: load players %s: %w", campaign, err)
	}
	cf.Players, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (roster.PlayerProfile, error) {
		var p roster.PlayerProfile
		var personalityJSON []byte
		if err := row.Scan(&p.AgentID, &p.Name, &personalityJSON); err != nil {
			return p, err
		}
		return p, json.Unmarshal(personalityJSON, &p.Personality)
	})
	if err != nil {
		return nil, fmt.Errorf("roster store: scan players %s: %w", campaign, err)
	}

	const charQ = `
		SELECT sheet FROM roster_characters WHERE campaign = $1 ORDER BY character_id`
	rows, err = s.pool.Query(ctx, charQ, campaign)
	if err != nil {
		return nil, fmt.Errorf("roster store: load characters %s: %w", campaign, err)
	}
	cf.Characters, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.CharacterSheet, error) {
		var sheetJSON []byte
		if err := row.Scan(&sheetJSON); err != nil {
			return game.CharacterSheet{}, err
		}
		var c game.CharacterSheet
		return c, json.Unmarshal(sheetJSON, &c)
	})
	if err != nil {
		return nil, fmt.Errorf("roster store: scan characters %s: %w", campaign, err)
	}
	return cf, nil
}
