package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 100_000

// RedisStreamSink appends events to a capped Redis stream for downstream consumers.
type RedisStreamSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(rdb *redis.Client, stream string) *RedisStreamSink {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = "battle:analytics"
	}
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: defaultStreamMaxLen}
}

func (s *RedisStreamSink) Emit(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("redis stream sink not initialized")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":        ev.ID,
			"name":      ev.Name,
			"battle_id": ev.BattleID,
			"payload":   string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
