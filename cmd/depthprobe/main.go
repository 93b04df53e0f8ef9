// depthprobe subscribes instruments in FULL mode for a while and reports how
// many bid/ask levels each one actually delivered.
// Usage: go run ./cmd/depthprobe --config configs/feed.example.yaml --keys "MCX_FO|472789,NSE_INDEX|Nifty 50"
//
// With --selftest it decodes a locally built 30-level frame instead of
// connecting, which checks the decode and merge path end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rickgao/market-feed/internal/api"
	"github.com/rickgao/market-feed/internal/auth"
	"github.com/rickgao/market-feed/internal/config"
	"github.com/rickgao/market-feed/internal/connection"
	"github.com/rickgao/market-feed/internal/decoder/decodertest"
	"github.com/rickgao/market-feed/internal/model"
	"github.com/rickgao/market-feed/internal/router"
	"github.com/rickgao/market-feed/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/feed.example.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	keysFlag := flag.String("keys", "", "comma-separated instrument keys")
	duration := flag.Duration("duration", 30*time.Second, "how long to listen")
	selftest := flag.Bool("selftest", false, "decode a locally built frame instead of connecting")
	verbose := flag.Bool("verbose", false, "log every frame")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	keys := parseKeys(*keysFlag)

	if *selftest {
		if len(keys) == 0 {
			keys = model.Keys("MCX_FO|472789", "NSE_INDEX|Nifty 50")
		}
		report, err := runSelfTest(keys, logger)
		printReport(report)
		if err != nil {
			logger.Error("selftest failed", "error", err)
			os.Exit(1)
		}
		logger.Info("selftest passed")
		return
	}

	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "--keys is required")
		os.Exit(2)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		logger.Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.ApplyDefaults()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := probe(ctx, cfg, keys, *duration, logger)
	printReport(report)
	if err != nil {
		logger.Error("probe failed", "error", err)
		os.Exit(1)
	}
}

// probe connects, subscribes keys in FULL mode and collects depth until
// duration elapses or ctx is cancelled.
func probe(ctx context.Context, cfg *config.Config, keys []model.InstrumentKey, duration time.Duration, logger *slog.Logger) (map[model.InstrumentKey]depthReach, error) {
	tokens, err := auth.NewProvider(cfg.API.Token, cfg.API.TokenEnv, cfg.API.TokenFile)
	if err != nil {
		return nil, err
	}

	sink := newDepthSink()
	sess := session.New()
	rt := router.New(sink, sess.ActiveMode, nil, logger)

	feedCfg := connection.DefaultFeedConfig()
	feedCfg.URL = cfg.Feed.WSURL
	feedCfg.BatchLimit = cfg.Feed.BatchLimit

	var opts []connection.FeedOption
	opts = append(opts, connection.WithLogger(logger))
	if cfg.Feed.WSURL == "" {
		opts = append(opts, connection.WithAuthorizer(api.NewClient(cfg.API.RestURL, api.WithLogger(logger))))
	}
	feed := connection.NewFeed(feedCfg, sess, tokens, rt, opts...)

	if err := feed.Connect(ctx); err != nil {
		return nil, err
	}
	defer feed.Disconnect()

	epoch := sess.Epoch()
	for start := 0; start < len(keys); start += feed.BatchLimit() {
		chunk := keys[start:min(start+feed.BatchLimit(), len(keys))]
		if err := feed.Subscribe(ctx, chunk, model.ModeFull); err != nil {
			return sink.Report(), fmt.Errorf("subscribe: %w", err)
		}
		if !sess.AddActive(epoch, chunk, model.ModeFull) {
			return sink.Report(), errors.New("connection lost while subscribing")
		}
	}
	logger.Info("subscribed, listening", "keys", len(keys), "duration", duration)

	timer := time.NewTimer(duration)
	defer timer.Stop()

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()

	for {
		select {
		case <-ctx.Done():
			return sink.Report(), nil
		case <-timer.C:
			return sink.Report(), nil
		case <-progress.C:
			st := rt.Stats()
			logger.Info("progress", "frames", st.FramesReceived, "dropped", st.FramesDropped, "state", feed.State())
			if feed.State() != model.StateConnected {
				return sink.Report(), errors.New("connection lost")
			}
		}
	}
}

// runSelfTest pushes a 30-level frame for each key through the router and
// checks that FULL records come out with exactly the FULL depth populated.
func runSelfTest(keys []model.InstrumentKey, logger *slog.Logger) (map[model.InstrumentKey]depthReach, error) {
	sink := newDepthSink()
	rt := router.New(sink, nil, nil, logger)

	fb := decodertest.NewFrame(time.Now().UnixMilli())
	for i, k := range keys {
		fb.Add(string(k), decodertest.Feed{
			RequestMode: decodertest.RequestFullD30,
			MarketFull: &decodertest.MarketFull{
				LTPC:   decodertest.LTPC{LTP: 100 + float64(i), LTT: time.Now().UnixMilli()},
				Quotes: decodertest.Ladder(30, 100+float64(i)),
				OHLC:   decodertest.DayCandle(99, 101, 98, 100, 1000),
			},
		})
	}

	msg := connection.RawMessage{Data: fb.Bytes(), ReceivedAt: time.Now()}
	if err := rt.HandleFrame(context.Background(), msg); err != nil {
		return nil, err
	}

	report := sink.Report()
	for _, k := range keys {
		r := report[k]
		if r.Bids != model.FullDepth || r.Asks != model.FullDepth {
			return report, fmt.Errorf("%s: got %d/%d levels, want %d", k, r.Bids, r.Asks, model.FullDepth)
		}
	}
	return report, nil
}

// depthReach is the deepest populated level seen per side.
type depthReach struct {
	Updates int
	Bids    int
	Asks    int
}

// depthSink is a router.TickSink that records depth reach instead of storing.
type depthSink struct {
	mu    sync.Mutex
	reach map[model.InstrumentKey]depthReach
}

func newDepthSink() *depthSink {
	return &depthSink{reach: make(map[model.InstrumentKey]depthReach)}
}

func (s *depthSink) WriteTicks(_ context.Context, recs []model.TickRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		cur := s.reach[r.Key]
		cur.Updates++
		bids, asks := populated(r.Depth)
		cur.Bids = max(cur.Bids, bids)
		cur.Asks = max(cur.Asks, asks)
		s.reach[r.Key] = cur
	}
	return nil
}

func (s *depthSink) Report() map[model.InstrumentKey]depthReach {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.InstrumentKey]depthReach, len(s.reach))
	for k, v := range s.reach {
		out[k] = v
	}
	return out
}

// populated counts levels with a non-zero quantity on each side.
func populated(depth []model.DepthLevel) (bids, asks int) {
	for _, l := range depth {
		if l.BidQty > 0 {
			bids++
		}
		if l.AskQty > 0 {
			asks++
		}
	}
	return bids, asks
}

func parseKeys(s string) []model.InstrumentKey {
	var keys []model.InstrumentKey
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, model.InstrumentKey(part))
		}
	}
	return keys
}

func printReport(report map[model.InstrumentKey]depthReach) {
	keys := make([]model.InstrumentKey, 0, len(report))
	for k := range report {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	fmt.Printf("%-32s %8s %5s %5s\n", "instrument", "updates", "bids", "asks")
	for _, k := range keys {
		r := report[k]
		fmt.Printf("%-32s %8d %5d %5d\n", k, r.Updates, r.Bids, r.Asks)
	}
}
