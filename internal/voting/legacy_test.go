package voting_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/trick-battle/internal/analytics"
	"github.com/park285/trick-battle/internal/domain"
)

func TestLegacyPathCompletesFromStoredVotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedContest(t, "old", "C", "O", domain.ContestActive)

	res := h.engine.CastVote(ctx, "e1", "old", "C", domain.ChoiceClean)
	require.True(t, res.Success, res.Error)
	assert.False(t, res.BattleComplete)

	res = h.engine.CastVote(ctx, "e2", "old", "O", domain.ChoiceRedo)
	require.True(t, res.Success, res.Error)
	assert.True(t, res.BattleComplete)
	assert.Equal(t, "O", res.WinnerID)
	assert.Equal(t, map[string]int{"C": 0, "O": 1}, res.FinalScore)

	c, _ := h.contests.GetContest(ctx, "old")
	assert.Equal(t, domain.ContestCompleted, c.Status)
	assert.Equal(t, "O", c.WinnerID)

	st, _ := h.engine.State(ctx, "old")
	assert.Nil(t, st)
	assert.Len(t, h.sink.Named(analytics.EventBattleCompleted), 1)
}

func TestLegacyPathReplacesVote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedContest(t, "old", "C", "O", domain.ContestActive)

	require.True(t, h.engine.CastVote(ctx, "e1", "old", "C", domain.ChoiceSketch).Success)
	require.True(t, h.engine.CastVote(ctx, "e2", "old", "C", domain.ChoiceClean).Success)

	stored, _ := h.votes.ListVotes(ctx, "old")
	require.Len(t, stored, 1)
	assert.Equal(t, domain.ChoiceClean, stored[0].Choice)
}

func TestLegacyPathValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.engine.CastVote(ctx, "e1", "missing", "C", domain.ChoiceClean)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrBattleNotFound)
	assert.Equal(t, "Battle not found", res.Error)

	h.seedContest(t, "old", "C", "", domain.ContestWaiting)
	res = h.engine.CastVote(ctx, "e2", "old", "O", domain.ChoiceClean)
	assert.ErrorIs(t, res.Err, domain.ErrNotParticipant)
}

func TestLegacyPathDoesNotRefinalize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedContest(t, "old", "C", "O", domain.ContestActive)
	require.True(t, h.engine.CastVote(ctx, "e1", "old", "C", domain.ChoiceClean).Success)
	require.True(t, h.engine.CastVote(ctx, "e2", "old", "O", domain.ChoiceRedo).Success)

	retry := h.engine.CastVote(ctx, "e2", "old", "O", domain.ChoiceRedo)
	assert.True(t, retry.Success)
	assert.True(t, retry.AlreadyProcessed)
	assert.Equal(t, "O", retry.WinnerID)

	flip := h.engine.CastVote(ctx, "e3", "old", "O", domain.ChoiceClean)
	assert.False(t, flip.Success)
	assert.ErrorIs(t, flip.Err, domain.ErrVotingNotActive)
	assert.Equal(t, 1, h.contests.Completions("old"))
}
