package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/rickgao/market-feed/internal/model"
)

// identifier matches table names safe to interpolate into SQL.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// channelName matches NOTIFY channels that LISTEN sees unchanged.
var channelName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.Token == "" && c.API.TokenEnv == "" && c.API.TokenFile == "" {
		return errors.New("api.token, api.token_env or api.token_file is required")
	}

	if _, err := model.ParseMode(c.Feed.Mode); err != nil {
		return fmt.Errorf("feed.mode: %w", err)
	}
	if c.Feed.BatchLimit < 1 {
		return errors.New("feed.batch_limit must be >= 1")
	}
	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}
	for name, d := range map[string]time.Duration{
		"feed.handshake_timeout": c.Feed.HandshakeTimeout,
		"feed.ping_interval":     c.Feed.PingInterval,
		"feed.write_timeout":     c.Feed.WriteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}

	if c.Reconcile.Interval <= 0 {
		return errors.New("reconcile.interval must be > 0")
	}
	if c.Reconcile.SubscribeDelay < 0 {
		return errors.New("reconcile.subscribe_delay must be >= 0")
	}
	if c.Reconcile.ReconnectBaseDelay <= 0 {
		return errors.New("reconcile.reconnect_base_delay must be > 0")
	}
	if c.Reconcile.ChunksPerTick < 0 {
		return errors.New("reconcile.chunks_per_tick must be >= 0")
	}
	if c.Reconcile.MaxReconnectAttempts < 0 {
		return errors.New("reconcile.max_reconnect_attempts must be >= 0")
	}
	if c.Reconcile.ReconnectMaxDelay < c.Reconcile.ReconnectBaseDelay {
		return fmt.Errorf("reconcile.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Reconcile.ReconnectMaxDelay, c.Reconcile.ReconnectBaseDelay)
	}
	if (c.Reconcile.BaseSegment == "") != (c.Reconcile.BaseInstrumentType == "") {
		return errors.New("reconcile.base_segment and reconcile.base_instrument_type must be set together")
	}
	for i, k := range c.Reconcile.BaseKeys {
		if !strings.Contains(k, "|") {
			return fmt.Errorf("reconcile.base_keys[%d] %q is not a segment|id key", i, k)
		}
	}

	if err := c.Database.Postgres.validate("database.postgres"); err != nil {
		return err
	}
	// The watch-list listener holds one connection for its lifetime.
	if c.Database.Postgres.MaxConns < 2 {
		return errors.New("database.postgres.max_conns must be >= 2")
	}
	for name, table := range map[string]string{
		"database.tick_table":    c.Database.TickTable,
		"database.watch_table":   c.Database.WatchTable,
		"database.catalog_table": c.Database.CatalogTable,
	} {
		if !identifier.MatchString(table) {
			return fmt.Errorf("%s %q is not a valid table name", name, table)
		}
	}
	if !channelName.MatchString(c.Database.WatchChannel) {
		return fmt.Errorf("database.watch_channel %q must be a lowercase identifier", c.Database.WatchChannel)
	}

	if c.Redis.Enabled() && c.Redis.TTL < 0 {
		return errors.New("redis.ttl must be >= 0")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}
	if c.Health.StaleAfter <= 0 {
		return errors.New("health.stale_after must be > 0")
	}
	if c.Health.ReportInterval <= 0 {
		return errors.New("health.report_interval must be > 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if c.Metrics.Port == c.Health.Port {
		return fmt.Errorf("metrics.port and health.port must differ, both are %d", c.Metrics.Port)
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}
