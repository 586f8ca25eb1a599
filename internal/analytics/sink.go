package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event names emitted by the voting engine.
const (
	EventBattleVoted     = "battle_voted"
	EventBattleCompleted = "battle_completed"
)

// Event is one fire-and-forget analytics record.
type Event struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	BattleID      string         `json:"battle_id"`
	ParticipantID string         `json:"participant_id,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// NewEvent stamps a fresh ID and timestamp.
func NewEvent(name, battleID, participantID string, props map[string]any) Event {
	return Event{
		ID:            uuid.NewString(),
		Name:          name,
		BattleID:      battleID,
		ParticipantID: participantID,
		Properties:    props,
		OccurredAt:    time.Now().UTC(),
	}
}

// Sink accepts analytics events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// LogSink writes events to a zap logger.
type LogSink struct{ logger *zap.Logger }

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, ev Event) error {
	s.logger.Info("analytics_event",
		zap.String("event_id", ev.ID),
		zap.String("name", ev.Name),
		zap.String("battle_id", ev.BattleID),
		zap.String("participant_id", ev.ParticipantID),
		zap.Any("properties", ev.Properties),
	)
	return nil
}

// Multi fans an event out to every sink. All sinks are attempted; errors are joined.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
