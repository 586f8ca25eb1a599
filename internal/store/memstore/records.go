package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/voting"
)

// ContestRepository is an in-memory battle table.
type ContestRepository struct {
	mu          sync.RWMutex
	contests    map[string]*domain.Contest
	completions map[string]int
}

var _ voting.ContestRepository = (*ContestRepository)(nil)

func NewContestRepository() *ContestRepository {
	return &ContestRepository{
		contests:    make(map[string]*domain.Contest),
		completions: make(map[string]int),
	}
}

// PutContest inserts or replaces a battle record.
func (r *ContestRepository) PutContest(_ context.Context, c *domain.Contest) error {
	if c == nil || c.ID == "" {
		return domain.ErrInvalidArgs
	}
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.mu.Lock()
	r.contests[c.ID] = &cp
	r.mu.Unlock()
	return nil
}

func (r *ContestRepository) GetContest(_ context.Context, battleID string) (*domain.Contest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contests[battleID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// MarkVoting is a no-op for unknown or completed battles.
func (r *ContestRepository) MarkVoting(_ context.Context, battleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contests[battleID]; ok && c.Status != domain.ContestCompleted {
		c.Status = domain.ContestVoting
	}
	return nil
}

func (r *ContestRepository) MarkCompleted(_ context.Context, battleID, winnerID string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions[battleID]++
	c, ok := r.contests[battleID]
	if !ok {
		return nil
	}
	at := completedAt
	c.Status = domain.ContestCompleted
	c.WinnerID = winnerID
	c.CompletedAt = &at
	return nil
}

// Completions reports how many times MarkCompleted ran for a battle.
func (r *ContestRepository) Completions(battleID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completions[battleID]
}

// VoteRepository is an in-memory vote table keyed by battle and participant.
type VoteRepository struct {
	mu    sync.RWMutex
	votes map[string]map[string]*domain.Vote
}

var _ voting.VoteRepository = (*VoteRepository)(nil)

func NewVoteRepository() *VoteRepository {
	return &VoteRepository{votes: make(map[string]map[string]*domain.Vote)}
}

func (r *VoteRepository) UpsertVote(_ context.Context, v *domain.Vote) error {
	if v == nil || v.BattleID == "" || v.ParticipantID == "" {
		return domain.ErrInvalidArgs
	}
	cp := *v
	r.mu.Lock()
	defer r.mu.Unlock()
	byUser, ok := r.votes[v.BattleID]
	if !ok {
		byUser = make(map[string]*domain.Vote)
		r.votes[v.BattleID] = byUser
	}
	byUser[v.ParticipantID] = &cp
	return nil
}

// ListVotes returns a battle's votes oldest first.
func (r *VoteRepository) ListVotes(_ context.Context, battleID string) ([]*domain.Vote, error) {
	r.mu.RLock()
	items := make([]*domain.Vote, 0, len(r.votes[battleID]))
	for _, v := range r.votes[battleID] {
		cp := *v
		items = append(items, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].VotedAt.Equal(items[j].VotedAt) {
			return items[i].VotedAt.Before(items[j].VotedAt)
		}
		return items[i].ParticipantID < items[j].ParticipantID
	})
	return items, nil
}
