package voting

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/trick-battle/internal/analytics"
	"github.com/park285/trick-battle/internal/domain"
)

// castLegacy handles battles that predate vote state rows. Votes go straight to the vote
// table and completion is recomputed from what is stored there. There is no deadline and
// no per-battle lock on this path; two racing votes may both finalize with the same result.
func (e *Engine) castLegacy(ctx context.Context, eventID, battleID, participantID string, choice domain.Choice) VoteResult {
	logFields := []zap.Field{
		zap.String("battle_id", battleID),
		zap.String("participant_id", participantID),
		zap.String("event_id", eventID),
		zap.Bool("legacy", true),
	}

	contest, err := e.contests.GetContest(ctx, battleID)
	if err != nil {
		e.log().Error("vote_cast_failed", append(logFields, zap.Error(err))...)
		return internalVoteFailure(err)
	}
	if contest == nil {
		return voteFailure(domain.ErrBattleNotFound)
	}
	if !contest.IsParticipant(participantID) {
		return voteFailure(domain.ErrNotParticipant)
	}
	if contest.Status == domain.ContestCompleted {
		return e.legacyCompleted(ctx, contest, participantID, choice, logFields)
	}

	now := e.now()
	if err := e.votes.UpsertVote(ctx, &domain.Vote{
		BattleID: battleID, ParticipantID: participantID, Choice: choice, VotedAt: now,
	}); err != nil {
		e.log().Error("vote_cast_failed", append(logFields, zap.Error(err))...)
		return internalVoteFailure(err)
	}
	e.log().Info("vote_cast", logFields...)

	sctx, cancel := e.sideEffectContext(ctx)
	defer cancel()
	e.emit(sctx, analytics.NewEvent(analytics.EventBattleVoted, battleID, participantID, map[string]any{
		"choice": string(choice),
		"legacy": true,
	}))

	stored, err := e.votes.ListVotes(ctx, battleID)
	if err != nil {
		e.log().Error("vote_cast_failed", append(logFields, zap.Error(err))...)
		return internalVoteFailure(err)
	}
	entries := toEntries(stored)
	if contest.OpponentID == "" || !hasVote(entries, contest.CreatorID) || !hasVote(entries, contest.OpponentID) {
		return VoteResult{Success: true}
	}

	outcome := CalculateWinner(entries, contest.CreatorID, contest.OpponentID)
	if err := e.contests.MarkCompleted(ctx, battleID, outcome.WinnerID, e.now()); err != nil {
		e.log().Error("vote_cast_failed", append(logFields, zap.Error(err))...)
		return internalVoteFailure(err)
	}
	if outcome.Tie {
		e.log().Info("battle_tiebreak", append(logFields, zap.String("winner_id", outcome.WinnerID))...)
	} else {
		e.log().Info("battle_completed", append(logFields, zap.String("winner_id", outcome.WinnerID))...)
	}
	e.emit(sctx, analytics.NewEvent(analytics.EventBattleCompleted, battleID, outcome.WinnerID, map[string]any{
		"winner_id": outcome.WinnerID,
		"reason":    string(ReasonVotes),
		"tiebreak":  outcome.Tie,
		"scores":    outcome.Scores,
		"legacy":    true,
	}))

	return VoteResult{
		Success:        true,
		BattleComplete: true,
		WinnerID:       outcome.WinnerID,
		FinalScore:     outcome.Scores,
	}
}

// legacyCompleted treats a repeat of an already recorded vote as a retry and anything else
// as a late vote. The recorded winner is never recomputed.
func (e *Engine) legacyCompleted(ctx context.Context, contest *domain.Contest, participantID string, choice domain.Choice, logFields []zap.Field) VoteResult {
	stored, err := e.votes.ListVotes(ctx, contest.ID)
	if err != nil {
		e.log().Error("vote_cast_failed", append(logFields, zap.Error(err))...)
		return internalVoteFailure(err)
	}
	for _, v := range stored {
		if v.ParticipantID == participantID && v.Choice == choice {
			return VoteResult{Success: true, AlreadyProcessed: true, BattleComplete: true, WinnerID: contest.WinnerID}
		}
	}
	return voteFailure(domain.ErrVotingNotActive)
}

func toEntries(votes []*domain.Vote) []domain.VoteEntry {
	out := make([]domain.VoteEntry, 0, len(votes))
	for _, v := range votes {
		if v == nil {
			continue
		}
		out = append(out, domain.VoteEntry{ParticipantID: v.ParticipantID, Choice: v.Choice, VotedAt: v.VotedAt})
	}
	return out
}

func hasVote(entries []domain.VoteEntry, participantID string) bool {
	for _, v := range entries {
		if v.ParticipantID == participantID {
			return true
		}
	}
	return false
}
