// Package app wires stores, sinks and the voting engine from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/trick-battle/internal/analytics"
	"github.com/park285/trick-battle/internal/config"
	"github.com/park285/trick-battle/internal/store/memstore"
	"github.com/park285/trick-battle/internal/store/postgres"
	"github.com/park285/trick-battle/internal/store/redisstate"
	"github.com/park285/trick-battle/internal/voting"
)

const pgLockTimeout = 10 * time.Second

type Deps struct {
	Engine  *voting.Engine
	Sweeper *voting.Sweeper
	Sink    analytics.Sink

	DB    *sql.DB
	Redis *redis.Client
}

// New builds the dependency graph for cfg. Callers must Close the result.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	if strings.TrimSpace(cfg.RedisURL) != "" {
		rdb, err := redisstate.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		d.Redis = rdb
	}
	if cfg.StateBackend != config.BackendMemory {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		d.DB = db
		if err := postgres.CreateSchema(ctx, db); err != nil {
			return nil, err
		}
	}

	var (
		states   voting.StateStore
		contests voting.ContestRepository
		votes    voting.VoteRepository
	)
	switch cfg.StateBackend {
	case config.BackendMemory:
		states = memstore.NewStateStore()
		contests = memstore.NewContestRepository()
		votes = memstore.NewVoteRepository()
	case config.BackendPostgres:
		states = postgres.NewStateStore(d.DB, postgres.WithLockTimeout(pgLockTimeout))
		contests = postgres.NewContestRepository(d.DB)
		votes = postgres.NewVoteRepository(d.DB)
	case config.BackendRedis:
		if d.Redis == nil {
			return nil, fmt.Errorf("REDIS_URL is required for the redis state backend")
		}
		states = redisstate.NewStore(d.Redis, redisstate.WithCompletedTTL(cfg.CompletedStateTTL))
		contests = postgres.NewContestRepository(d.DB)
		votes = postgres.NewVoteRepository(d.DB)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}

	d.Sink = buildSink(cfg, d.Redis, logger)
	d.Engine = voting.NewEngine(states, contests, votes, d.Sink,
		voting.WithVotingWindow(cfg.VotingWindow),
		voting.WithMaxProcessedEvents(cfg.MaxProcessedEvents),
		voting.WithLogger(logger),
	)
	d.Sweeper = voting.NewSweeper(d.Engine, cfg.SweepBatchSize)

	logger.Info("deps_ready",
		zap.String("state_backend", string(cfg.StateBackend)),
		zap.Bool("redis", d.Redis != nil),
		zap.Bool("analytics_http", cfg.AnalyticsURL != ""),
	)
	ok = true
	return d, nil
}

// buildSink always logs events and adds the stream and HTTP sinks when configured.
func buildSink(cfg *config.AppConfig, rdb *redis.Client, logger *zap.Logger) analytics.Sink {
	sinks := analytics.Multi{analytics.NewLogSink(logger.Named("analytics"))}
	if rdb != nil && strings.TrimSpace(cfg.AnalyticsStream) != "" {
		sinks = append(sinks, analytics.NewRedisStreamSink(rdb, cfg.AnalyticsStream))
	}
	if strings.TrimSpace(cfg.AnalyticsURL) != "" {
		sinks = append(sinks, analytics.NewHTTPSink(cfg.AnalyticsURL))
	}
	return sinks
}

func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	return errors.Join(errs...)
}
