// Package memstore keeps battles, vote records and vote state in process memory.
// It backs the memory state backend for local development and the engine tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/voting"
)

// StateStore serializes access per battle with a dedicated mutex. Writes are staged on the
// transaction and applied only when the callback succeeds.
type StateStore struct {
	mu     sync.Mutex
	rows   map[string]*domain.VoteState
	locks  map[string]*sync.Mutex
	writes map[string]int
}

var _ voting.StateStore = (*StateStore)(nil)

func NewStateStore() *StateStore {
	return &StateStore{
		rows:   make(map[string]*domain.VoteState),
		locks:  make(map[string]*sync.Mutex),
		writes: make(map[string]int),
	}
}

func (s *StateStore) battleLock(battleID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[battleID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[battleID] = l
	}
	return l
}

func (s *StateStore) WithLock(ctx context.Context, battleID string, fn func(tx voting.StateTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.battleLock(battleID)
	l.Lock()
	defer l.Unlock()

	tx := &stateTx{store: s, battleID: battleID}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.staged != nil {
		s.mu.Lock()
		s.rows[battleID] = tx.staged
		s.writes[battleID]++
		s.mu.Unlock()
	}
	return nil
}

func (s *StateStore) Get(_ context.Context, battleID string) (*domain.VoteState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[battleID].Clone(), nil
}

func (s *StateStore) ListExpired(_ context.Context, now time.Time, limit int) ([]voting.ExpiredRow, error) {
	s.mu.Lock()
	out := make([]voting.ExpiredRow, 0)
	for _, st := range s.rows {
		if st.Status == domain.VoteStatusVoting && st.VoteDeadlineAt.Before(now) {
			out = append(out, voting.ExpiredRow{BattleID: st.BattleID, Deadline: st.VoteDeadlineAt})
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].BattleID < out[j].BattleID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Writes reports how many committed writes a battle's row has received.
func (s *StateStore) Writes(battleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[battleID]
}

type stateTx struct {
	store    *StateStore
	battleID string
	staged   *domain.VoteState
}

func (t *stateTx) Load(context.Context) (*domain.VoteState, error) {
	if t.staged != nil {
		return t.staged.Clone(), nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.rows[t.battleID].Clone(), nil
}

func (t *stateTx) Insert(ctx context.Context, st *domain.VoteState) (bool, error) {
	cur, _ := t.Load(ctx)
	if cur != nil {
		return false, nil
	}
	t.staged = st.Clone()
	return true, nil
}

func (t *stateTx) Update(_ context.Context, st *domain.VoteState) error {
	t.staged = st.Clone()
	return nil
}
