package voting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/trick-battle/internal/domain"
)

const (
	DefaultSweepBatchSize = 100
	// DefaultRetryBackoff is how long a battle that failed to resolve sits out of later cycles.
	DefaultRetryBackoff = time.Minute
)

// SweepStatus is the per-row result of a sweep cycle.
type SweepStatus string

const (
	SweepResolved SweepStatus = "resolved"
	SweepSkipped  SweepStatus = "skipped"
	SweepFailed   SweepStatus = "failed"
)

type SweepItem struct {
	BattleID string        `json:"battle_id"`
	Status   SweepStatus   `json:"status"`
	WinnerID string        `json:"winner_id,omitempty"`
	Reason   TimeoutReason `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// SweepReport summarizes one ProcessExpired cycle. Error is set only when the expired
// rows could not be listed at all.
type SweepReport struct {
	StartedAt time.Time   `json:"started_at"`
	Scanned   int         `json:"scanned"`
	Resolved  int         `json:"resolved"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	Deferred  int         `json:"deferred"`
	Items     []SweepItem `json:"items"`
	Error     string      `json:"error,omitempty"`
}

func (r *SweepReport) add(item SweepItem) {
	r.Items = append(r.Items, item)
	switch item.Status {
	case SweepResolved:
		r.Resolved++
	case SweepSkipped:
		r.Skipped++
	case SweepFailed:
		r.Failed++
	}
}

// Sweeper resolves battles whose voting deadline passed without both votes.
// Battles that fail are held back for a backoff so they cannot fill every batch.
type Sweeper struct {
	engine  *Engine
	batch   int
	backoff time.Duration

	mu       sync.Mutex
	deferred map[string]time.Time
}

type SweeperOption func(*Sweeper)

// WithRetryBackoff sets how long a failed battle is skipped. Zero retries it every cycle.
func WithRetryBackoff(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

func NewSweeper(engine *Engine, batch int, opts ...SweeperOption) *Sweeper {
	if batch <= 0 {
		batch = DefaultSweepBatchSize
	}
	s := &Sweeper{engine: engine, batch: batch, backoff: DefaultRetryBackoff, deferred: map[string]time.Time{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ProcessExpired runs one sweep cycle. A failing row is recorded and the rest still run.
func (s *Sweeper) ProcessExpired(ctx context.Context) (report SweepReport) {
	e := s.engine
	report.StartedAt = e.now()
	report.Items = []SweepItem{}
	defer func() {
		if r := recover(); r != nil {
			e.log().Error("sweep_panic", zap.Any("panic", r))
			report.Error = "sweep aborted"
		}
	}()

	held := s.heldBack(report.StartedAt)
	rows, err := e.states.ListExpired(ctx, report.StartedAt, s.batch+len(held))
	if err != nil {
		e.log().Error("sweep_list_failed", zap.Error(err))
		report.Error = "failed to list expired battles"
		return report
	}

	for _, row := range rows {
		if len(report.Items) >= s.batch || ctx.Err() != nil {
			break
		}
		if _, ok := held[row.BattleID]; ok {
			report.Deferred++
			continue
		}
		var item SweepItem
		if row.Err != nil {
			e.log().Error("sweep_row_unreadable", zap.String("battle_id", row.BattleID), zap.Error(row.Err))
			item = SweepItem{BattleID: row.BattleID, Status: SweepFailed, Error: "unreadable vote state"}
		} else {
			item = s.sweepOne(ctx, row.BattleID, row.Deadline)
		}
		s.track(item, report.StartedAt)
		report.add(item)
	}
	report.Scanned = len(report.Items)

	if report.Scanned > 0 || report.Deferred > 0 {
		e.log().Info("sweep_done",
			zap.Int("scanned", report.Scanned),
			zap.Int("resolved", report.Resolved),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
			zap.Int("deferred", report.Deferred),
		)
	}
	return report
}

// heldBack drops expired backoffs and returns the battles still sitting out.
func (s *Sweeper) heldBack(now time.Time) map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.deferred))
	for id, until := range s.deferred {
		if !now.Before(until) {
			delete(s.deferred, id)
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

func (s *Sweeper) track(item SweepItem, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.Status == SweepFailed && s.backoff > 0 {
		s.deferred[item.BattleID] = now.Add(s.backoff)
		return
	}
	delete(s.deferred, item.BattleID)
}

func (s *Sweeper) sweepOne(ctx context.Context, battleID string, deadline time.Time) (item SweepItem) {
	e := s.engine
	item = SweepItem{BattleID: battleID}
	eventID := GenerateEventID(EventKindTimeout, SystemParticipant, battleID, DeadlineSequenceKey(deadline))

	defer func() {
		if r := recover(); r != nil {
			e.log().Error("sweep_row_failed", zap.String("battle_id", battleID), zap.String("event_id", eventID), zap.Any("panic", r))
			item = SweepItem{BattleID: battleID, Status: SweepFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	var (
		resolved bool
		winnerID string
		reason   TimeoutReason
		outcome  Outcome
	)
	err := e.states.WithLock(ctx, battleID, func(tx StateTx) error {
		resolved, winnerID, reason, outcome = false, "", "", Outcome{}
		st, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		if st == nil || st.HasProcessed(eventID) || st.Status != domain.VoteStatusVoting {
			return nil
		}
		if !e.now().After(st.VoteDeadlineAt) {
			return nil
		}
		winnerID, reason, outcome = DecideTimeout(st)
		st.Status = domain.VoteStatusCompleted
		st.WinnerID = winnerID
		st.RecordEvent(eventID, e.maxEvents)
		resolved = true
		return tx.Update(ctx, st)
	})
	if err != nil {
		e.log().Error("sweep_row_failed", zap.String("battle_id", battleID), zap.String("event_id", eventID), zap.Error(err))
		item.Status = SweepFailed
		item.Error = "failed to resolve battle"
		return item
	}
	if !resolved {
		item.Status = SweepSkipped
		return item
	}

	sctx, cancel := e.sideEffectContext(ctx)
	defer cancel()
	e.finalize(sctx, battleID, winnerID, string(reason), outcome.Scores, outcome.Tie)

	item.Status = SweepResolved
	item.WinnerID = winnerID
	item.Reason = reason
	return item
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.ProcessExpired(ctx)
		}
	}
}
