package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSchema creates the battle tables. Safe to call repeatedly.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS battles (
    id TEXT PRIMARY KEY,
    creator_id TEXT NOT NULL,
    opponent_id TEXT,
    status TEXT NOT NULL DEFAULT 'waiting' CHECK (status IN ('waiting', 'active', 'voting', 'completed')),
    winner_id TEXT,
    completed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_battles_status ON battles(status);

-- One row per battle, owned by the voting engine.
CREATE TABLE IF NOT EXISTS battle_vote_states (
    battle_id TEXT PRIMARY KEY,
    creator_id TEXT NOT NULL,
    opponent_id TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('voting', 'completed')),
    votes JSONB NOT NULL DEFAULT '[]'::jsonb,
    voting_started_at TIMESTAMPTZ NOT NULL,
    vote_deadline_at TIMESTAMPTZ NOT NULL,
    winner_id TEXT,
    processed_event_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_battle_vote_states_deadline
    ON battle_vote_states(vote_deadline_at) WHERE status = 'voting';

CREATE TABLE IF NOT EXISTS battle_votes (
    battle_id TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    choice TEXT NOT NULL CHECK (choice IN ('clean', 'sketch', 'redo')),
    voted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (battle_id, participant_id)
);
`
