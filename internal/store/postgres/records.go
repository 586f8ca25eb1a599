package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/voting"
)

type ContestRepository struct{ db *sql.DB }

var _ voting.ContestRepository = (*ContestRepository)(nil)

func NewContestRepository(db *sql.DB) *ContestRepository { return &ContestRepository{db: db} }

// CreateContest inserts a battle record. The wider application owns battle creation;
// this exists for seeding and tests.
func (r *ContestRepository) CreateContest(ctx context.Context, c *domain.Contest) error {
	if c == nil || c.ID == "" || c.CreatorID == "" {
		return domain.ErrInvalidArgs
	}
	status := c.Status
	if status == "" {
		status = domain.ContestWaiting
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO battles (id, creator_id, opponent_id, status)
        VALUES ($1, $2, $3, $4)`, c.ID, c.CreatorID, nullString(c.OpponentID), string(status))
	if err != nil {
		return fmt.Errorf("insert battle: %w", err)
	}
	return nil
}

func (r *ContestRepository) GetContest(ctx context.Context, battleID string) (*domain.Contest, error) {
	var (
		c         domain.Contest
		status    string
		opponent  sql.NullString
		winner    sql.NullString
		completed sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, creator_id, opponent_id, status, winner_id, completed_at, created_at
        FROM battles WHERE id = $1`, battleID).
		Scan(&c.ID, &c.CreatorID, &opponent, &status, &winner, &completed, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get battle: %w", err)
	}
	c.Status = domain.ContestStatus(status)
	c.OpponentID = opponent.String
	c.WinnerID = winner.String
	if completed.Valid {
		t := completed.Time.UTC()
		c.CompletedAt = &t
	}
	return &c, nil
}

// MarkVoting never moves a completed battle backwards.
func (r *ContestRepository) MarkVoting(ctx context.Context, battleID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE battles SET status = 'voting'
        WHERE id = $1 AND status <> 'completed'`, battleID)
	if err != nil {
		return fmt.Errorf("mark voting: %w", err)
	}
	return nil
}

func (r *ContestRepository) MarkCompleted(ctx context.Context, battleID, winnerID string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE battles
        SET status = 'completed', winner_id = $2, completed_at = $3
        WHERE id = $1`, battleID, nullString(winnerID), completedAt)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

type VoteRepository struct{ db *sql.DB }

var _ voting.VoteRepository = (*VoteRepository)(nil)

func NewVoteRepository(db *sql.DB) *VoteRepository { return &VoteRepository{db: db} }

func (r *VoteRepository) UpsertVote(ctx context.Context, v *domain.Vote) error {
	if v == nil || v.BattleID == "" || v.ParticipantID == "" {
		return domain.ErrInvalidArgs
	}
	votedAt := v.VotedAt
	if votedAt.IsZero() {
		votedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO battle_votes (battle_id, participant_id, choice, voted_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (battle_id, participant_id)
        DO UPDATE SET choice = EXCLUDED.choice, voted_at = EXCLUDED.voted_at`,
		v.BattleID, v.ParticipantID, string(v.Choice), votedAt)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

func (r *VoteRepository) ListVotes(ctx context.Context, battleID string) ([]*domain.Vote, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT battle_id, participant_id, choice, voted_at
        FROM battle_votes WHERE battle_id = $1
        ORDER BY voted_at, participant_id`, battleID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Vote, 0, 2)
	for rows.Next() {
		var (
			v      domain.Vote
			choice string
		)
		if err := rows.Scan(&v.BattleID, &v.ParticipantID, &choice, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Choice = domain.Choice(choice)
		v.VotedAt = v.VotedAt.UTC()
		out = append(out, &v)
	}
	return out, rows.Err()
}
