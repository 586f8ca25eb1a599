package voting_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/park285/trick-battle/internal/analytics"
	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/store/memstore"
	"github.com/park285/trick-battle/internal/voting"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (s *recordingSink) Emit(_ context.Context, ev analytics.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Named(name string) []analytics.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []analytics.Event
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	engine   *voting.Engine
	states   *memstore.StateStore
	contests *memstore.ContestRepository
	votes    *memstore.VoteRepository
	sink     *recordingSink
	clock    *fakeClock
}

func newHarness(t *testing.T, opts ...voting.Option) *harness {
	t.Helper()
	h := &harness{
		states:   memstore.NewStateStore(),
		contests: memstore.NewContestRepository(),
		votes:    memstore.NewVoteRepository(),
		sink:     &recordingSink{},
		clock:    newFakeClock(),
	}
	base := []voting.Option{voting.WithClock(h.clock.Now), voting.WithLogger(zap.NewNop())}
	h.engine = voting.NewEngine(h.states, h.contests, h.votes, h.sink, append(base, opts...)...)
	return h
}

func (h *harness) seedContest(t *testing.T, id, creator, opponent string, status domain.ContestStatus) {
	t.Helper()
	err := h.contests.PutContest(context.Background(), &domain.Contest{
		ID: id, CreatorID: creator, OpponentID: opponent, Status: status,
	})
	if err != nil {
		t.Fatalf("seed contest: %v", err)
	}
}
