// Package config loads the feed's YAML configuration.
package config

import "time"

// Config is the root configuration for a feed instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	API       APIConfig       `yaml:"api"`
	Feed      StreamConfig    `yaml:"feed"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Health    HealthConfig    `yaml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this feed process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds provider REST settings and where to find the access token.
// Exactly one of Token, TokenEnv or TokenFile is needed.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Token      string        `yaml:"token"`
	TokenEnv   string        `yaml:"token_env"`
	TokenFile  string        `yaml:"token_file"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig holds WebSocket feed settings.
type StreamConfig struct {
	// WSURL skips provider authorization and dials this URL directly.
	WSURL            string        `yaml:"ws_url"`
	Mode             string        `yaml:"mode"` // standard | full
	BatchLimit       int           `yaml:"batch_limit"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// ReconcileConfig holds subscription reconciler settings.
type ReconcileConfig struct {
	Interval       time.Duration `yaml:"interval"`
	SubscribeDelay time.Duration `yaml:"subscribe_delay"`
	ChunksPerTick  int           `yaml:"chunks_per_tick"` // 0 = all chunks every tick

	// Base set: fixed keys plus the active catalog rows matching segment/type.
	BaseKeys           []string `yaml:"base_keys"`
	BaseSegment        string   `yaml:"base_segment"`
	BaseInstrumentType string   `yaml:"base_instrument_type"`

	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = unlimited
}

// DatabaseConfig holds the relational store and table names.
type DatabaseConfig struct {
	Postgres     DBConfig `yaml:"postgres"`
	TickTable    string   `yaml:"tick_table"`
	WatchTable   string   `yaml:"watch_table"`
	CatalogTable string   `yaml:"catalog_table"`
	EnsureSchema bool     `yaml:"ensure_schema"`

	// WatchChannel is the NOTIFY channel raised on watch-list changes.
	WatchChannel string `yaml:"watch_channel"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the optional latest-tick mirror. Empty Addr disables it.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// Enabled reports whether the mirror is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// HealthConfig holds the health endpoint and heartbeat log settings.
type HealthConfig struct {
	Port           int           `yaml:"port"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds log level and the optional rotating log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}
