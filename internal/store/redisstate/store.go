// Package redisstate keeps vote state rows in Redis. The per-battle lock is optimistic:
// the row key is WATCHed and the callback re-runs on a fresh read if another writer won.
package redisstate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/voting"
)

const (
	defaultMaxAttempts  = 32
	defaultCompletedTTL = 7 * 24 * time.Hour
	deadlinesKey        = "battle:voting:deadlines"
)

// ErrContention is returned when every optimistic attempt lost to a concurrent writer.
var ErrContention = errors.New("vote state contention: too many concurrent writers")

type Store struct {
	rdb          *redis.Client
	maxAttempts  int
	completedTTL time.Duration
}

var _ voting.StateStore = (*Store)(nil)

type Option func(*Store)

// WithCompletedTTL sets how long completed rows are kept. Zero keeps them forever.
func WithCompletedTTL(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.completedTTL = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewStore(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, maxAttempts: defaultMaxAttempts, completedTTL: defaultCompletedTTL}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect parses a redis:// or rediss:// URL and pings the server.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis state backend")
	}
	opts, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}

func stateKey(battleID string) string { return "battle:vote:" + strings.TrimSpace(battleID) }

func (s *Store) WithLock(ctx context.Context, battleID string, fn func(tx voting.StateTx) error) error {
	key := stateKey(battleID)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &stateTx{rtx: rtx, key: key}
			if err := fn(tx); err != nil {
				return err
			}
			if tx.staged == nil {
				return nil
			}
			raw, err := json.Marshal(tx.staged)
			if err != nil {
				return fmt.Errorf("encode vote state: %w", err)
			}
			_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if tx.staged.Status == domain.VoteStatusCompleted {
					pipe.Set(ctx, key, raw, s.completedTTL)
					pipe.ZRem(ctx, deadlinesKey, tx.staged.BattleID)
				} else {
					pipe.Set(ctx, key, raw, 0)
					pipe.ZAdd(ctx, deadlinesKey, redis.Z{
						Score:  float64(tx.staged.VoteDeadlineAt.UnixMilli()),
						Member: tx.staged.BattleID,
					})
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			if werr := backoff(ctx, attempt); werr != nil {
				return werr
			}
			continue
		}
		return err
	}
	return ErrContention
}

func backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt+1) * time.Millisecond
	if d > 20*time.Millisecond {
		d = 20 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Store) Get(ctx context.Context, battleID string) (*domain.VoteState, error) {
	raw, err := s.rdb.Get(ctx, stateKey(battleID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeState(raw)
}

// ListExpired reads the deadline index. Index entries whose row is gone or already
// completed are pruned as they are found. Rows that fail to decode stay indexed and are
// returned with Err set.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]voting.ExpiredRow, error) {
	if limit <= 0 {
		limit = voting.DefaultSweepBatchSize
	}
	entries, err := s.rdb.ZRangeByScoreWithScores(ctx, deadlinesKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	if len(entries) == 0 {
		return []voting.ExpiredRow{}, nil
	}

	ids := make([]string, len(entries))
	keys := make([]string, len(entries))
	for i, z := range entries {
		id, _ := z.Member.(string)
		ids[i] = id
		keys[i] = stateKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load expired: %w", err)
	}

	out := make([]voting.ExpiredRow, 0, len(entries))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		st, err := decodeState([]byte(str))
		if err != nil {
			out = append(out, voting.ExpiredRow{
				BattleID: ids[i],
				Deadline: time.UnixMilli(int64(entries[i].Score)).UTC(),
				Err:      fmt.Errorf("battle %s: %w", ids[i], err),
			})
			continue
		}
		if st.Status != domain.VoteStatusVoting {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, voting.ExpiredRow{BattleID: st.BattleID, Deadline: st.VoteDeadlineAt})
	}
	if len(stale) > 0 {
		_ = s.rdb.ZRem(ctx, deadlinesKey, stale...).Err()
	}
	return out, nil
}

type stateTx struct {
	rtx    *redis.Tx
	key    string
	staged *domain.VoteState
}

func (t *stateTx) Load(ctx context.Context) (*domain.VoteState, error) {
	if t.staged != nil {
		return t.staged.Clone(), nil
	}
	raw, err := t.rtx.Get(ctx, t.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeState(raw)
}

func (t *stateTx) Insert(ctx context.Context, st *domain.VoteState) (bool, error) {
	cur, err := t.Load(ctx)
	if err != nil {
		return false, err
	}
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

func decodeState(raw []byte) (*domain.VoteState, error) {
	var st domain.VoteState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode vote state: %w", err)
	}
	if st.Votes == nil {
		st.Votes = []domain.VoteEntry{}
	}
	return &st, nil
}
