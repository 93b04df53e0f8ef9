// feed streams live market data into the latest-tick table and keeps the
// provider subscriptions in step with the watch list.
// Usage: go run ./cmd/feed --config configs/feed.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rickgao/market-feed/internal/api"
	"github.com/rickgao/market-feed/internal/auth"
	"github.com/rickgao/market-feed/internal/cache"
	"github.com/rickgao/market-feed/internal/config"
	"github.com/rickgao/market-feed/internal/connection"
	"github.com/rickgao/market-feed/internal/database"
	"github.com/rickgao/market-feed/internal/health"
	"github.com/rickgao/market-feed/internal/metrics"
	"github.com/rickgao/market-feed/internal/model"
	"github.com/rickgao/market-feed/internal/reconciler"
	"github.com/rickgao/market-feed/internal/router"
	"github.com/rickgao/market-feed/internal/session"
	"github.com/rickgao/market-feed/internal/version"
	"github.com/rickgao/market-feed/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/feed.example.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg.Logging)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting feed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("feed stopped", "error", err)
		closeLog()
		os.Exit(1)
	}
	logger.Info("feed stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode, err := model.ParseMode(cfg.Feed.Mode)
	if err != nil {
		return err
	}

	tokens, err := auth.NewProvider(cfg.API.Token, cfg.API.TokenEnv, cfg.API.TokenFile)
	if err != nil {
		return fmt.Errorf("token provider: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pools, err := database.NewPools(ctx, cfg.Database, "market-feed-"+cfg.Instance.ID)
	if err != nil {
		return err
	}
	defer pools.Close()

	if cfg.Database.EnsureSchema {
		if err := database.EnsureSchema(ctx, pools.Postgres, cfg.Database.TickTable, cfg.Database.WatchTable, cfg.Database.WatchChannel); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	baseKeys, err := loadBaseKeys(ctx, cfg.Reconcile, database.NewCatalog(pools.Postgres, cfg.Database.CatalogTable))
	if err != nil {
		return err
	}
	logger.Info("base set loaded", "keys", len(baseKeys))

	checks := map[string]health.Pinger{"postgres": pools}

	// Tick store
	writerOpts := []writer.Option{writer.WithMetrics(m), writer.WithLogger(logger)}
	if cfg.Redis.Enabled() {
		mirror := cache.NewTickMirror(cache.NewClient(cfg.Redis), cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		defer mirror.Close()
		if err := mirror.Ping(ctx); err != nil {
			logger.Warn("redis unreachable at startup, mirror writes will be retried per frame", "error", err)
		}
		writerOpts = append(writerOpts, writer.WithMirror(mirror))
		checks["redis"] = mirror
	}
	ticks := writer.NewTickWriter(pools.Postgres, cfg.Database.TickTable, writerOpts...)

	// Feed
	sess := session.New()
	rt := router.New(ticks, sess.ActiveMode, m, logger)

	feedCfg := connection.FeedConfig{
		URL:              cfg.Feed.WSURL,
		BatchLimit:       cfg.Feed.BatchLimit,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		Client: connection.ClientConfig{
			PingInterval:     cfg.Feed.PingInterval,
			WriteTimeout:     cfg.Feed.WriteTimeout,
			HandshakeTimeout: cfg.Feed.HandshakeTimeout,
			BufferSize:       cfg.Feed.BufferSize,
		},
	}
	feedOpts := []connection.FeedOption{connection.WithMetrics(m), connection.WithLogger(logger)}
	if cfg.Feed.WSURL == "" {
		apiClient := api.NewClient(
			cfg.API.RestURL,
			api.WithLogger(logger),
			api.WithTimeout(cfg.API.Timeout),
			api.WithRetries(cfg.API.MaxRetries, 500*time.Millisecond),
		)
		feedOpts = append(feedOpts, connection.WithAuthorizer(apiClient))
	}
	feed := connection.NewFeed(feedCfg, sess, tokens, rt, feedOpts...)
	defer feed.Disconnect()

	recCfg := reconciler.Config{
		Interval:             cfg.Reconcile.Interval,
		SubscribeDelay:       cfg.Reconcile.SubscribeDelay,
		BatchSize:            cfg.Feed.BatchLimit,
		MaxChunksPerTick:     cfg.Reconcile.ChunksPerTick,
		Mode:                 mode,
		BaseKeys:             baseKeys,
		ReconnectBaseDelay:   cfg.Reconcile.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Reconcile.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Reconcile.MaxReconnectAttempts,
	}
	rec := reconciler.New(recCfg, feed, database.NewWatchList(pools.Postgres, cfg.Database.WatchTable), sess,
		reconciler.WithMetrics(m),
		reconciler.WithLogger(logger),
		reconciler.OnUnsubscribed(rt.Forget),
	)

	// Health
	monitor := health.NewMonitor(feed, rec, cfg.Health.StaleAfter)
	reporter := health.NewReporter(monitor, cfg.Health.ReportInterval, logger)
	reporter.Start(ctx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reporter.Stop(shutdownCtx)
	}()

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           health.NewHandler(monitor, sess, checks, logger, health.WithReconcileTrigger(rec.Trigger)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("feed running",
		"mode", mode,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
		"metrics_url", fmt.Sprintf("http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path),
	)

	// Watch-list changes wake the reconciler ahead of its interval.
	listener := database.NewListener(database.PoolAcquirer(pools.Postgres), cfg.Database.WatchChannel, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error { return listener.Listen(gctx, rec.Trigger) })
	g.Go(func() error { return serve(gctx, healthServer, "health", logger) })
	g.Go(func() error { return serve(gctx, metricsServer, "metrics", logger) })

	err = g.Wait()

	logger.Info("shutting down...")
	feed.Disconnect()

	stats := rt.Stats()
	logger.Info("final stats",
		"frames", stats.FramesReceived,
		"dropped", stats.FramesDropped,
		"merged", stats.UpdatesMerged,
		"write_errors", stats.WriteErrors,
		"upserts", ticks.Stats().Upserts,
	)
	return err
}

// loadBaseKeys returns the configured fixed keys plus, when a segment filter
// is set, the active catalog instruments matching it.
func loadBaseKeys(ctx context.Context, cfg config.ReconcileConfig, catalog *database.Catalog) ([]model.InstrumentKey, error) {
	keys := model.Keys(cfg.BaseKeys...)
	if cfg.BaseSegment == "" {
		return keys, nil
	}
	fromCatalog, err := catalog.ActiveKeys(ctx, cfg.BaseSegment, cfg.BaseInstrumentType)
	if err != nil {
		return nil, err
	}
	return append(keys, fromCatalog...), nil
}

// serve runs srv until ctx is done, then shuts it down.
func serve(ctx context.Context, srv *http.Server, name string, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newLogger builds a text logger on stdout, teed to a rotating file when
// logging.file is set.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, func()) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(os.Stdout, file)
		closeFn = func() { file.Close() }
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeFn
}
