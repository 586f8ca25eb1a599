package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// StateBackend selects where VoteState rows live.
type StateBackend string

const (
	BackendPostgres StateBackend = "postgres"
	BackendRedis    StateBackend = "redis"
	BackendMemory   StateBackend = "memory"
)

type AppConfig struct {
	HTTPAddr string

	DatabaseURL  string
	RedisURL     string
	StateBackend StateBackend

	AnalyticsURL    string
	AnalyticsStream string

	VotingWindow       time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
	MaxProcessedEvents int
	CompletedStateTTL  time.Duration
}

// fileConfig mirrors AppConfig for the optional YAML overlay. Durations use Go syntax ("60s").
type fileConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	DatabaseURL        string `yaml:"database_url"`
	RedisURL           string `yaml:"redis_url"`
	StateBackend       string `yaml:"state_backend"`
	AnalyticsURL       string `yaml:"analytics_url"`
	AnalyticsStream    string `yaml:"analytics_stream"`
	VotingWindow       string `yaml:"voting_window"`
	SweepInterval      string `yaml:"sweep_interval"`
	SweepBatchSize     int    `yaml:"sweep_batch_size"`
	MaxProcessedEvents int    `yaml:"max_processed_events"`
	CompletedStateTTL  string `yaml:"completed_state_ttl"`
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr:           ":8080",
		StateBackend:       BackendPostgres,
		AnalyticsStream:    "battle:analytics",
		VotingWindow:       60 * time.Second,
		SweepInterval:      5 * time.Second,
		SweepBatchSize:     100,
		MaxProcessedEvents: 50,
		CompletedStateTTL:  7 * 24 * time.Hour,
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then environment variables.
// Later sources override earlier ones.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	setString(&c.RedisURL, fc.RedisURL)
	if v := strings.TrimSpace(fc.StateBackend); v != "" {
		c.StateBackend = StateBackend(strings.ToLower(v))
	}
	setString(&c.AnalyticsURL, fc.AnalyticsURL)
	setString(&c.AnalyticsStream, fc.AnalyticsStream)
	if err := setDuration(&c.VotingWindow, fc.VotingWindow, "voting_window"); err != nil {
		return err
	}
	if err := setDuration(&c.SweepInterval, fc.SweepInterval, "sweep_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.CompletedStateTTL, fc.CompletedStateTTL, "completed_state_ttl"); err != nil {
		return err
	}
	if fc.SweepBatchSize > 0 {
		c.SweepBatchSize = fc.SweepBatchSize
	}
	if fc.MaxProcessedEvents > 0 {
		c.MaxProcessedEvents = fc.MaxProcessedEvents
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	setString(&c.HTTPAddr, os.Getenv("HTTP_ADDR"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.RedisURL, os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("STATE_BACKEND")); v != "" {
		c.StateBackend = StateBackend(strings.ToLower(v))
	}
	setString(&c.AnalyticsURL, os.Getenv("ANALYTICS_URL"))
	setString(&c.AnalyticsStream, os.Getenv("ANALYTICS_STREAM"))

	if err := setDuration(&c.VotingWindow, os.Getenv("VOTING_WINDOW"), "VOTING_WINDOW"); err != nil {
		return err
	}
	if err := setDuration(&c.SweepInterval, os.Getenv("SWEEP_INTERVAL"), "SWEEP_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.CompletedStateTTL, os.Getenv("COMPLETED_STATE_TTL"), "COMPLETED_STATE_TTL"); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("SWEEP_BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SweepBatchSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_PROCESSED_EVENTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxProcessedEvents = n
		}
	}
	return nil
}

// Validate checks that the selected backend has what it needs.
func (c *AppConfig) Validate() error {
	switch c.StateBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres state backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis state backend")
		}
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for battle and vote records")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend)
	}
	if c.VotingWindow <= 0 {
		return errors.New("VOTING_WINDOW must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	return nil
}

func setString(dst *string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = s
	}
}

// setDuration accepts Go durations ("90s") or a bare number of seconds.
func setDuration(dst *time.Duration, v, name string) error {
	s := strings.TrimSpace(v)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}
