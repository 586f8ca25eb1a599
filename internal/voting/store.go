package voting

import (
	"context"
	"time"

	"github.com/park285/trick-battle/internal/domain"
)

// StateTx is the view of a single locked VoteState row. Writes become visible only
// after the enclosing WithLock call returns without error.
type StateTx interface {
	// Load returns the row, or nil when the battle has no vote state.
	Load(ctx context.Context) (*domain.VoteState, error)
	// Insert creates the row if absent and reports whether it did.
	Insert(ctx context.Context, st *domain.VoteState) (bool, error)
	Update(ctx context.Context, st *domain.VoteState) error
}

// ExpiredRow is one entry of an expired listing. Err is set when the stored row could not
// be decoded; BattleID and Deadline still come from the index or key columns.
type ExpiredRow struct {
	BattleID string
	Deadline time.Time
	Err      error
}

// StateStore owns VoteState rows and the per-battle exclusive lock.
type StateStore interface {
	// WithLock runs fn while holding the battle's lock. A non-nil error from fn rolls back.
	WithLock(ctx context.Context, battleID string, fn func(tx StateTx) error) error
	// Get is an unlocked read for display; nil when absent.
	Get(ctx context.Context, battleID string) (*domain.VoteState, error)
	// ListExpired returns rows still voting whose deadline is before now, oldest first.
	// An unreadable row is returned with Err set; only a listing failure returns an error.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]ExpiredRow, error)
}

// ContestRepository is the slice of the battle table the engine touches.
type ContestRepository interface {
	// GetContest returns nil when the battle does not exist.
	GetContest(ctx context.Context, battleID string) (*domain.Contest, error)
	MarkVoting(ctx context.Context, battleID string) error
	MarkCompleted(ctx context.Context, battleID, winnerID string, completedAt time.Time) error
}

// VoteRepository stores the durable per-participant vote records.
type VoteRepository interface {
	UpsertVote(ctx context.Context, v *domain.Vote) error
	ListVotes(ctx context.Context, battleID string) ([]*domain.Vote, error)
}
