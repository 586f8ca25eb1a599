package voting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/trick-battle/internal/analytics"
	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/obslog"
)

const (
	DefaultVotingWindow       = 60 * time.Second
	DefaultMaxProcessedEvents = 50

	sideEffectTimeout = 5 * time.Second
)

// Engine resolves trick battles from vote and timeout events. Every state transition for a
// battle happens under that battle's StateStore lock; persistence of vote records, contest
// finalization and analytics run after commit and are best-effort.
type Engine struct {
	states   StateStore
	contests ContestRepository
	votes    VoteRepository
	sink     analytics.Sink

	now       func() time.Time
	window    time.Duration
	maxEvents int
	logger    *zap.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithVotingWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

func WithMaxProcessedEvents(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxEvents = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(states StateStore, contests ContestRepository, votes VoteRepository, sink analytics.Sink, opts ...Option) *Engine {
	if sink == nil {
		sink = analytics.Nop{}
	}
	e := &Engine{
		states:    states,
		contests:  contests,
		votes:     votes,
		sink:      sink,
		now:       time.Now,
		window:    DefaultVotingWindow,
		maxEvents: DefaultMaxProcessedEvents,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) log() *zap.Logger {
	if e.logger != nil {
		return e.logger
	}
	return obslog.L()
}

// State returns the current vote state without taking the lock. Nil when the battle has none.
func (e *Engine) State(ctx context.Context, battleID string) (*domain.VoteState, error) {
	battleID = strings.TrimSpace(battleID)
	if battleID == "" {
		return nil, domain.ErrInvalidArgs
	}
	return e.states.Get(ctx, battleID)
}

// Initialize creates the battle's vote state once and moves the contest into voting.
// Repeated calls report AlreadyInitialized and change nothing.
func (e *Engine) Initialize(ctx context.Context, eventID, battleID, creatorID, opponentID string) (res InitResult) {
	eventID = strings.TrimSpace(eventID)
	battleID = strings.TrimSpace(battleID)
	creatorID = strings.TrimSpace(creatorID)
	opponentID = strings.TrimSpace(opponentID)

	logFields := []zap.Field{
		zap.String("battle_id", battleID),
		zap.String("creator_id", creatorID),
		zap.String("opponent_id", opponentID),
		zap.String("event_id", eventID),
	}
	defer func() {
		if r := recover(); r != nil {
			e.log().Error("voting_init_panic", append(logFields, zap.Any("panic", r))...)
			res = InitResult{Error: msgInitFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if eventID == "" || battleID == "" || creatorID == "" || opponentID == "" {
		return initFailure(domain.ErrInvalidArgs)
	}
	if creatorID == opponentID {
		return initFailure(domain.ErrSelfMatch)
	}

	// Read outside the lock so a state transaction never waits on a second connection.
	contest, err := e.contests.GetContest(ctx, battleID)
	if err != nil {
		e.log().Error("voting_init_failed", append(logFields, zap.Error(err))...)
		return InitResult{Error: msgInitFailed, Err: err}
	}
	contestDone := contest != nil && contest.Status == domain.ContestCompleted

	var already, finished bool
	err = e.states.WithLock(ctx, battleID, func(tx StateTx) error {
		already, finished = false, false
		st, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			already = true
			return nil
		}
		// A completed contest whose vote state expired must not be voted on again.
		if contestDone {
			finished = true
			return nil
		}
		fresh := domain.NewVoteState(battleID, creatorID, opponentID, eventID, e.now(), e.window)
		inserted, err := tx.Insert(ctx, fresh)
		if err != nil {
			return err
		}
		already = !inserted
		return nil
	})
	if err != nil {
		e.log().Error("voting_init_failed", append(logFields, zap.Error(err))...)
		return InitResult{Error: msgInitFailed, Err: err}
	}
	if finished {
		e.log().Debug("voting_init_rejected", append(logFields, zap.Error(domain.ErrBattleCompleted))...)
		return initFailure(domain.ErrBattleCompleted)
	}

	sctx, cancel := e.sideEffectContext(ctx)
	defer cancel()
	if err := e.contests.MarkVoting(sctx, battleID); err != nil {
		e.log().Error("contest_mark_voting_failed", append(logFields, zap.Error(err))...)
		return InitResult{Error: msgInitFailed, Err: err}
	}

	if already {
		e.log().Debug("voting_already_initialized", logFields...)
	} else {
		e.log().Info("voting_initialized", logFields...)
	}
	return InitResult{Success: true, AlreadyInitialized: already}
}

// castOutcome collects what the locked section decided so side effects can run after commit.
type castOutcome struct {
	result    VoteResult
	legacy    bool
	votedAt   time.Time
	replaced  bool
	completed bool
	tie       bool
}

// CastVote applies one participant vote. The same eventID is applied at most once; a retry
// returns the battle's current completion state instead of an error.
func (e *Engine) CastVote(ctx context.Context, eventID, battleID, participantID string, choice domain.Choice) (res VoteResult) {
	eventID = strings.TrimSpace(eventID)
	battleID = strings.TrimSpace(battleID)
	participantID = strings.TrimSpace(participantID)

	logFields := []zap.Field{
		zap.String("battle_id", battleID),
		zap.String("participant_id", participantID),
		zap.String("event_id", eventID),
		zap.String("choice", string(choice)),
	}
	defer func() {
		if r := recover(); r != nil {
			e.log().Error("vote_cast_panic", append(logFields, zap.Any("panic", r))...)
			res = internalVoteFailure(fmt.Errorf("panic: %v", r))
		}
	}()

	if eventID == "" || battleID == "" || participantID == "" {
		return voteFailure(domain.ErrInvalidArgs)
	}
	if !choice.Valid() {
		return voteFailure(domain.ErrInvalidChoice)
	}

	var out castOutcome
	err := e.states.WithLock(ctx, battleID, func(tx StateTx) error {
		out = castOutcome{}
		st, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			out.legacy = true
			return nil
		}
		if st.HasProcessed(eventID) {
			out.result = VoteResult{
				Success:          true,
				AlreadyProcessed: true,
				BattleComplete:   st.Status == domain.VoteStatusCompleted,
				WinnerID:         st.WinnerID,
			}
			return nil
		}
		if st.Status != domain.VoteStatusVoting {
			return domain.ErrVotingNotActive
		}
		now := e.now()
		if now.After(st.VoteDeadlineAt) {
			return domain.ErrDeadlinePassed
		}
		if !st.IsParticipant(participantID) {
			return domain.ErrNotParticipant
		}

		out.votedAt = now
		out.replaced = st.PutVote(domain.VoteEntry{ParticipantID: participantID, Choice: choice, VotedAt: now})
		st.RecordEvent(eventID, e.maxEvents)

		if !st.BothVoted() {
			out.result = VoteResult{Success: true}
			return tx.Update(ctx, st)
		}

		outcome := CalculateWinner(st.Votes, st.CreatorID, st.OpponentID)
		st.Status = domain.VoteStatusCompleted
		st.WinnerID = outcome.WinnerID
		out.completed = true
		out.tie = outcome.Tie
		out.result = VoteResult{
			Success:        true,
			BattleComplete: true,
			WinnerID:       outcome.WinnerID,
			FinalScore:     outcome.Scores,
		}
		return tx.Update(ctx, st)
	})
	if err != nil {
		if IsValidation(err) {
			e.log().Debug("vote_rejected", append(logFields, zap.Error(err))...)
			return voteFailure(err)
		}
		e.log().Error("vote_cast_failed", append(logFields, zap.Error(err))...)
		return internalVoteFailure(err)
	}

	if out.legacy {
		return e.castLegacy(ctx, eventID, battleID, participantID, choice)
	}
	if out.result.AlreadyProcessed {
		e.log().Debug("vote_already_processed", logFields...)
		return out.result
	}

	e.log().Info("vote_cast", append(logFields, zap.Bool("replaced", out.replaced), zap.Bool("battle_complete", out.completed))...)
	e.afterCast(ctx, battleID, participantID, choice, out)
	return out.result
}

// afterCast runs the post-commit side effects of a fresh vote. Failures are logged and dropped.
func (e *Engine) afterCast(ctx context.Context, battleID, participantID string, choice domain.Choice, out castOutcome) {
	sctx, cancel := e.sideEffectContext(ctx)
	defer cancel()

	vote := &domain.Vote{BattleID: battleID, ParticipantID: participantID, Choice: choice, VotedAt: out.votedAt}
	if err := e.votes.UpsertVote(sctx, vote); err != nil {
		e.log().Warn("vote_record_upsert_failed",
			zap.String("battle_id", battleID), zap.String("participant_id", participantID), zap.Error(err))
	}
	e.emit(sctx, analytics.NewEvent(analytics.EventBattleVoted, battleID, participantID, map[string]any{
		"choice":   string(choice),
		"replaced": out.replaced,
	}))

	if !out.completed {
		return
	}
	e.finalize(sctx, battleID, out.result.WinnerID, string(ReasonVotes), out.result.FinalScore, out.tie)
}

// finalize marks the contest completed and emits the completion event.
func (e *Engine) finalize(ctx context.Context, battleID, winnerID, reason string, scores map[string]int, tie bool) {
	completedAt := e.now()
	if err := e.contests.MarkCompleted(ctx, battleID, winnerID, completedAt); err != nil {
		e.log().Warn("contest_mark_completed_failed",
			zap.String("battle_id", battleID), zap.String("winner_id", winnerID), zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("battle_id", battleID),
		zap.String("winner_id", winnerID),
		zap.String("reason", reason),
	}
	if tie {
		e.log().Info("battle_tiebreak", append(fields, zap.Any("scores", scores))...)
	} else {
		e.log().Info("battle_completed", fields...)
	}

	props := map[string]any{
		"winner_id": winnerID,
		"reason":    reason,
		"tiebreak":  tie,
	}
	if scores != nil {
		props["scores"] = scores
	}
	e.emit(ctx, analytics.NewEvent(analytics.EventBattleCompleted, battleID, winnerID, props))
}

func (e *Engine) emit(ctx context.Context, ev analytics.Event) {
	if err := e.sink.Emit(ctx, ev); err != nil {
		e.log().Warn("analytics_emit_failed",
			zap.String("event", ev.Name), zap.String("battle_id", ev.BattleID), zap.Error(err))
	}
}

// sideEffectContext survives the caller's cancellation so a disconnecting client cannot
// cut off work for a transition that already committed.
func (e *Engine) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

