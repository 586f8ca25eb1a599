package voting_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/trick-battle/internal/analytics"
	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/voting"
)

func TestSweepTimeoutReasons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.True(t, h.engine.Initialize(ctx, "i1", "only-creator", "C", "O").Success)
	require.True(t, h.engine.Initialize(ctx, "i2", "only-opponent", "C", "O").Success)
	require.True(t, h.engine.Initialize(ctx, "i3", "nobody", "C", "O").Success)
	require.True(t, h.engine.CastVote(ctx, "v1", "only-creator", "C", domain.ChoiceSketch).Success)
	require.True(t, h.engine.CastVote(ctx, "v2", "only-opponent", "O", domain.ChoiceRedo).Success)

	h.clock.Advance(voting.DefaultVotingWindow + time.Second)
	report := voting.NewSweeper(h.engine, 10).ProcessExpired(ctx)
	require.Empty(t, report.Error)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 3, report.Resolved)

	byID := map[string]voting.SweepItem{}
	for _, it := range report.Items {
		byID[it.BattleID] = it
	}
	assert.Equal(t, "C", byID["only-creator"].WinnerID)
	assert.Equal(t, voting.ReasonOpponentTimeout, byID["only-creator"].Reason)
	assert.Equal(t, "O", byID["only-opponent"].WinnerID)
	assert.Equal(t, voting.ReasonCreatorTimeout, byID["only-opponent"].Reason)
	assert.Equal(t, "C", byID["nobody"].WinnerID)
	assert.Equal(t, voting.ReasonBothTimeout, byID["nobody"].Reason)

	st, _ := h.engine.State(ctx, "nobody")
	assert.Equal(t, domain.VoteStatusCompleted, st.Status)
	assert.Contains(t, st.ProcessedEventIDs,
		voting.GenerateEventID(voting.EventKindTimeout, voting.SystemParticipant, "nobody", voting.DeadlineSequenceKey(st.VoteDeadlineAt)))

	reasons := map[string]any{}
	for _, ev := range h.sink.Named(analytics.EventBattleCompleted) {
		reasons[ev.BattleID] = ev.Properties["reason"]
	}
	assert.Equal(t, "opponent_timeout", reasons["only-creator"])
	assert.Equal(t, "both_timeout", reasons["nobody"])
}

func TestSweepIgnoresLiveAndCompletedBattles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.True(t, h.engine.Initialize(ctx, "i1", "done", "C", "O").Success)
	require.True(t, h.engine.CastVote(ctx, "v1", "done", "C", domain.ChoiceClean).Success)
	require.True(t, h.engine.CastVote(ctx, "v2", "done", "O", domain.ChoiceClean).Success)
	h.clock.Advance(30 * time.Second)
	require.True(t, h.engine.Initialize(ctx, "i2", "fresh", "C", "O").Success)

	h.clock.Advance(31 * time.Second)
	report := voting.NewSweeper(h.engine, 10).ProcessExpired(ctx)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 1, h.contests.Completions("done"))
	assert.Equal(t, 0, h.contests.Completions("fresh"))
}

func TestRepeatedSweepsResolveOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.engine.Initialize(ctx, "i1", "B1", "C", "O").Success)
	h.clock.Advance(2 * voting.DefaultVotingWindow)

	sweeper := voting.NewSweeper(h.engine, 10)
	var wg sync.WaitGroup
	reports := make(chan voting.SweepReport, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports <- sweeper.ProcessExpired(ctx)
		}()
	}
	wg.Wait()
	close(reports)

	resolved := 0
	for r := range reports {
		resolved += r.Resolved
		assert.Equal(t, 0, r.Failed)
	}
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 1, h.contests.Completions("B1"))

	late := h.engine.CastVote(ctx, "v-late", "B1", "O", domain.ChoiceClean)
	assert.False(t, late.Success)
	assert.ErrorIs(t, late.Err, domain.ErrVotingNotActive)
}

func TestSweepRacingLiveVoteResolvesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.engine.Initialize(ctx, "i1", "B1", "C", "O").Success)
	require.True(t, h.engine.CastVote(ctx, "v1", "B1", "C", domain.ChoiceClean).Success)
	h.clock.Advance(voting.DefaultVotingWindow)

	sweeper := voting.NewSweeper(h.engine, 10)
	var wg sync.WaitGroup
	wg.Add(2)
	var vote voting.VoteResult
	go func() {
		defer wg.Done()
		vote = h.engine.CastVote(ctx, "v2", "B1", "O", domain.ChoiceSketch)
	}()
	go func() {
		defer wg.Done()
		h.clock.Advance(time.Millisecond)
		sweeper.ProcessExpired(ctx)
	}()
	wg.Wait()

	st, _ := h.engine.State(ctx, "B1")
	assert.Equal(t, domain.VoteStatusCompleted, st.Status)
	assert.Equal(t, 1, h.contests.Completions("B1"))
	if vote.Success {
		assert.Equal(t, "O", st.WinnerID)
	} else {
		assert.Equal(t, "C", st.WinnerID)
	}
}

// flakyStore fails or panics for selected battles and defers to the real store otherwise.
type flakyStore struct {
	voting.StateStore
	fail   string
	panics string
}

func (f *flakyStore) WithLock(ctx context.Context, battleID string, fn func(tx voting.StateTx) error) error {
	switch battleID {
	case f.fail:
		return errors.New("deadlock detected")
	case f.panics:
		panic("corrupt row")
	}
	return f.StateStore.WithLock(ctx, battleID, fn)
}

func TestSweepIsolatesRowFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, h.engine.Initialize(ctx, "i-"+id, id, "C", "O").Success)
		h.clock.Advance(time.Second)
	}
	h.clock.Advance(voting.DefaultVotingWindow)

	store := &flakyStore{StateStore: h.states, fail: "a", panics: "b"}
	engine := voting.NewEngine(store, h.contests, h.votes, h.sink, voting.WithClock(h.clock.Now))
	report := voting.NewSweeper(engine, 10).ProcessExpired(ctx)

	require.Len(t, report.Items, 3)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, voting.SweepResolved, report.Items[2].Status)
	assert.Equal(t, "c", report.Items[2].BattleID)
	assert.Equal(t, 1, h.contests.Completions("c"))
}

func TestSweepHoldsBackFailingBattles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, h.engine.Initialize(ctx, "i-"+id, id, "C", "O").Success)
		h.clock.Advance(time.Second)
	}
	h.clock.Advance(voting.DefaultVotingWindow)

	store := &flakyStore{StateStore: h.states, fail: "a", panics: "b"}
	engine := voting.NewEngine(store, h.contests, h.votes, h.sink, voting.WithClock(h.clock.Now))
	sweeper := voting.NewSweeper(engine, 2)

	first := sweeper.ProcessExpired(ctx)
	assert.Equal(t, 2, first.Failed)
	assert.Equal(t, 0, first.Resolved)
	assert.Equal(t, 0, h.contests.Completions("c"))

	second := sweeper.ProcessExpired(ctx)
	assert.Equal(t, 2, second.Deferred)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "c", second.Items[0].BattleID)
	assert.Equal(t, voting.SweepResolved, second.Items[0].Status)
	assert.Equal(t, 1, h.contests.Completions("c"))

	h.clock.Advance(voting.DefaultRetryBackoff)
	third := sweeper.ProcessExpired(ctx)
	assert.Equal(t, 0, third.Deferred)
	assert.Equal(t, 2, third.Failed)
}

// unreadableStore lists one battle whose stored row cannot be decoded.
type unreadableStore struct{ voting.StateStore }

func (u unreadableStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]voting.ExpiredRow, error) {
	rows, err := u.StateStore.ListExpired(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	bad := voting.ExpiredRow{BattleID: "bad", Deadline: now.Add(-time.Hour), Err: errors.New("decode vote state: invalid character")}
	return append([]voting.ExpiredRow{bad}, rows...), nil
}

func TestSweepReportsUnreadableRowAndContinues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.engine.Initialize(ctx, "i1", "B1", "C", "O").Success)
	h.clock.Advance(2 * voting.DefaultVotingWindow)

	engine := voting.NewEngine(unreadableStore{h.states}, h.contests, h.votes, h.sink, voting.WithClock(h.clock.Now))
	report := voting.NewSweeper(engine, 10).ProcessExpired(ctx)

	require.Empty(t, report.Error)
	require.Len(t, report.Items, 2)
	assert.Equal(t, "bad", report.Items[0].BattleID)
	assert.Equal(t, voting.SweepFailed, report.Items[0].Status)
	assert.Equal(t, voting.SweepResolved, report.Items[1].Status)
	assert.Equal(t, 1, h.contests.Completions("B1"))
}

type listFailStore struct{ voting.StateStore }

func (listFailStore) ListExpired(context.Context, time.Time, int) ([]voting.ExpiredRow, error) {
	return nil, errors.New("connection reset")
}

func TestSweepListFailureEndsCycle(t *testing.T) {
	h := newHarness(t)
	engine := voting.NewEngine(listFailStore{h.states}, h.contests, h.votes, h.sink)
	report := voting.NewSweeper(engine, 10).ProcessExpired(context.Background())
	assert.NotEmpty(t, report.Error)
	assert.Equal(t, 0, report.Scanned)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, h.engine.Initialize(ctx, "i1", "B1", "C", "O").Success)
	h.clock.Advance(2 * voting.DefaultVotingWindow)

	done := make(chan struct{})
	go func() {
		voting.NewSweeper(h.engine, 10).Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.contests.Completions("B1") == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
