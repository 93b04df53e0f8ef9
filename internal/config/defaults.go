package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "https://api.upstox.com"
	DefaultTokenEnv           = "UPSTOX_ACCESS_TOKEN"
	DefaultAPITimeout         = 10 * time.Second
	DefaultMaxRetries         = 2
	DefaultMode               = "full"
	DefaultBatchLimit         = 50
	DefaultHandshakeTimeout   = 15 * time.Second
	DefaultPingInterval       = 20 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultBufferSize         = 64
	DefaultReconcileInterval  = 3 * time.Second
	DefaultSubscribeDelay     = 100 * time.Millisecond
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 5
	DefaultMinConns           = 1
	DefaultTickTable          = "websocket_ticks_v3"
	DefaultWatchTable         = "watched_instruments"
	DefaultWatchChannel       = "watch_list_changed"
	DefaultCatalogTable       = "instrument_master"
	DefaultRedisKeyPrefix     = "tick:"
	DefaultRedisTTL           = 24 * time.Hour
	DefaultHealthPort         = 8080
	DefaultStaleAfter         = 30 * time.Second
	DefaultReportInterval     = 30 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogMaxSizeMB       = 100
	DefaultLogMaxBackups      = 5
	DefaultLogMaxAgeDays      = 14
)

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Token == "" && c.API.TokenEnv == "" && c.API.TokenFile == "" {
		c.API.TokenEnv = DefaultTokenEnv
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Feed defaults
	if c.Feed.Mode == "" {
		c.Feed.Mode = DefaultMode
	}
	if c.Feed.BatchLimit == 0 {
		c.Feed.BatchLimit = DefaultBatchLimit
	}
	if c.Feed.HandshakeTimeout == 0 {
		c.Feed.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultBufferSize
	}

	// Reconcile defaults
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = DefaultReconcileInterval
	}
	if c.Reconcile.SubscribeDelay == 0 {
		c.Reconcile.SubscribeDelay = DefaultSubscribeDelay
	}
	if c.Reconcile.ReconnectBaseDelay == 0 {
		c.Reconcile.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconcile.ReconnectMaxDelay == 0 {
		c.Reconcile.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)
	if c.Database.TickTable == "" {
		c.Database.TickTable = DefaultTickTable
	}
	if c.Database.WatchTable == "" {
		c.Database.WatchTable = DefaultWatchTable
	}
	if c.Database.WatchChannel == "" {
		c.Database.WatchChannel = DefaultWatchChannel
	}
	if c.Database.CatalogTable == "" {
		c.Database.CatalogTable = DefaultCatalogTable
	}

	// Redis defaults
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.StaleAfter == 0 {
		c.Health.StaleAfter = DefaultStaleAfter
	}
	if c.Health.ReportInterval == 0 {
		c.Health.ReportInterval = DefaultReportInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
