package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/rickgao/market-feed/internal/connection"
	"github.com/rickgao/market-feed/internal/metrics"
	"github.com/rickgao/market-feed/internal/model"
)

// Reconciler keeps the feed's subscriptions equal to base ∪ watch list.
// It is the only writer of the active set.
type Reconciler struct {
	cfg     Config
	feed    Feed
	watch   WatchList
	active  ActiveSet
	logger  *slog.Logger
	metrics *metrics.Metrics

	limiter        *rate.Limiter
	trigger        chan struct{}
	onUnsubscribed func([]model.InstrumentKey)

	// tickMu serializes Tick.
	tickMu sync.Mutex

	statsMu sync.Mutex
	stats   ReconcilerStats
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithMetrics records tick and subscription outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// OnUnsubscribed registers fn to run with every successfully unsubscribed chunk.
func OnUnsubscribed(fn func([]model.InstrumentKey)) Option {
	return func(r *Reconciler) { r.onUnsubscribed = fn }
}

// New creates a Reconciler.
func New(cfg Config, feed Feed, watch WatchList, active ActiveSet, opts ...Option) *Reconciler {
	limit := rate.Inf
	if cfg.SubscribeDelay > 0 {
		limit = rate.Every(cfg.SubscribeDelay)
	}
	r := &Reconciler{
		cfg:     cfg,
		feed:    feed,
		watch:   watch,
		active:  active,
		limiter: rate.NewLimiter(limit, 1),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "reconciler")
	return r
}

// Run connects the feed, then reconciles every Interval and on Trigger until
// ctx is cancelled. A lost connection is re-established with exponential
// backoff, followed by an immediate reconcile. Run returns nil on
// cancellation and ErrReconnectExhausted when reconnecting gives up.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started",
		"interval", r.cfg.Interval,
		"mode", r.cfg.Mode,
		"base_keys", len(r.cfg.BaseKeys),
	)

	for {
		if r.feed.State() == model.StateDisconnected {
			if err := r.reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		if res := r.Tick(ctx); res.Abandoned {
			r.Trigger()
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
		case <-r.trigger:
		}
	}
}

// Trigger requests a reconcile ahead of the next interval. It never blocks.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stats returns cumulative counters.
func (r *Reconciler) Stats() ReconcilerStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// reconnect calls Connect until it succeeds, ctx ends, or the attempt limit
// is reached.
func (r *Reconciler) reconnect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	if r.cfg.ReconnectBaseDelay > 0 {
		bo.InitialInterval = r.cfg.ReconnectBaseDelay
	}
	if r.cfg.ReconnectMaxDelay > 0 {
		bo.MaxInterval = r.cfg.ReconnectMaxDelay
	}

	for attempt := 1; ; attempt++ {
		err := r.feed.Connect(ctx)
		if err == nil || errors.Is(err, connection.ErrAlreadyConnected) {
			r.statsMu.Lock()
			r.stats.Connects++
			r.statsMu.Unlock()
			r.logger.Info("feed connected", "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.recordError(err)
		if r.cfg.MaxReconnectAttempts > 0 && attempt >= r.cfg.MaxReconnectAttempts {
			r.logger.Error("giving up on feed connection", "attempts", attempt, "error", err)
			return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, attempt, err)
		}

		wait := bo.NextBackOff()
		r.logger.Warn("feed connect failed", "attempt", attempt, "retry_in", wait, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Operation names, also used as metric labels.
const (
	opSubscribe   = "subscribe"
	opChangeMode  = "change_mode"
	opUnsubscribe = "unsubscribe"
)

// batchCall is one subscription call of a pass.
type batchCall struct {
	op   string
	mode model.SubscriptionMode
	keys []model.InstrumentKey
}

// Tick runs one reconciliation pass:
//  1. skip unless the feed is connected
//  2. desired = base ∪ watch list, read fresh; a read error skips the tick.
//     A watch-list mode overrides the default mode of its key.
//  3. subscribe desired − active in sorted chunks per mode, marking each
//     chunk active as it succeeds
//  4. change the mode of active keys whose desired mode differs
//  5. unsubscribe active − desired, removing keys as they succeed
//
// A failed chunk is logged and counted and does not stop the pass. Active-set
// updates are bound to the connection seen at the start; if it dropped in the
// meantime the rest of the pass is abandoned.
func (r *Reconciler) Tick(ctx context.Context) TickResult {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	var res TickResult
	if r.feed.State() != model.StateConnected {
		res.Skipped = true
		r.finish(res)
		return res
	}
	epoch := r.active.Epoch()

	watched, err := r.watch.Entries(ctx)
	if err != nil {
		r.logger.Error("watch list read failed, skipping tick", "error", err)
		res.Err = err
		r.finish(res)
		return res
	}

	desired := make(map[model.InstrumentKey]model.SubscriptionMode, len(r.cfg.BaseKeys)+len(watched))
	for _, k := range r.cfg.BaseKeys {
		desired[k] = r.cfg.Mode
	}
	for _, e := range watched {
		if e.Mode != nil {
			desired[e.Key] = *e.Mode
		} else if _, ok := desired[e.Key]; !ok {
			desired[e.Key] = r.cfg.Mode
		}
	}
	res.Desired = len(desired)

	active := r.active.ActiveModes()
	var toSub, toChange, toUnsub []model.InstrumentKey
	for k, want := range desired {
		have, ok := active[k]
		switch {
		case !ok:
			toSub = append(toSub, k)
		case have != want:
			toChange = append(toChange, k)
		}
	}
	for k := range active {
		if _, ok := desired[k]; !ok {
			toUnsub = append(toUnsub, k)
		}
	}
	slices.Sort(toSub)
	slices.Sort(toChange)
	slices.Sort(toUnsub)

	batch := r.batchSize()
	calls := r.plan(opSubscribe, toSub, desired, batch)
	if limit := r.cfg.MaxChunksPerTick; limit > 0 && len(calls) > limit {
		for _, c := range calls[limit:] {
			res.Deferred += len(c.keys)
		}
		calls = calls[:limit]
	}
	calls = append(calls, r.plan(opChangeMode, toChange, desired, batch)...)
	calls = append(calls, r.plan(opUnsubscribe, toUnsub, nil, batch)...)

	for _, c := range calls {
		if !r.call(ctx, epoch, &res, c) {
			break
		}
	}

	if len(res.Subscribed) > 0 || len(res.ModeChanged) > 0 || len(res.Unsubscribed) > 0 || len(res.Failed) > 0 {
		r.logger.Info("reconciled",
			"desired", res.Desired,
			"active", r.active.ActiveCount(),
			"subscribed", len(res.Subscribed),
			"mode_changed", len(res.ModeChanged),
			"unsubscribed", len(res.Unsubscribed),
			"failed_chunks", len(res.Failed),
			"deferred", res.Deferred,
		)
	}
	r.finish(res)
	return res
}

// plan splits sorted keys into calls of at most size keys. Subscribe and
// change-mode calls carry one mode each, the default mode first; modes is
// nil for unsubscribe.
func (r *Reconciler) plan(op string, keys []model.InstrumentKey, modes map[model.InstrumentKey]model.SubscriptionMode, size int) []batchCall {
	var out []batchCall
	if modes == nil {
		for _, c := range chunk(keys, size) {
			out = append(out, batchCall{op: op, keys: c})
		}
		return out
	}

	groups := make(map[model.SubscriptionMode][]model.InstrumentKey)
	for _, k := range keys {
		groups[modes[k]] = append(groups[modes[k]], k)
	}
	order := []model.SubscriptionMode{r.cfg.Mode}
	for _, m := range []model.SubscriptionMode{model.ModeStandard, model.ModeFull} {
		if m != r.cfg.Mode {
			order = append(order, m)
		}
	}
	for _, m := range order {
		for _, c := range chunk(groups[m], size) {
			out = append(out, batchCall{op: op, mode: m, keys: c})
		}
	}
	return out
}

// call issues one paced subscription call and records its effect on the
// active set of connection epoch. It returns false when the remaining calls
// of this pass should be abandoned.
func (r *Reconciler) call(ctx context.Context, epoch uint64, res *TickResult, c batchCall) bool {
	if err := r.limiter.Wait(ctx); err != nil {
		return false
	}

	var err error
	switch c.op {
	case opSubscribe:
		err = r.feed.Subscribe(ctx, c.keys, c.mode)
	case opChangeMode:
		err = r.feed.ChangeMode(ctx, c.keys, c.mode)
	default:
		err = r.feed.Unsubscribe(ctx, c.keys)
	}
	r.metrics.SubscriptionOp(c.op, err)

	if err != nil {
		terr := &TransientSubscriptionError{Op: c.op, Keys: c.keys, Err: err}
		res.Failed = append(res.Failed, terr)
		r.logger.Warn("subscription chunk failed",
			"op", c.op,
			"count", len(c.keys),
			"first", c.keys[0],
			"error", err,
		)
		// The connection is gone; later chunks would fail the same way.
		return !errors.Is(err, connection.ErrNotConnected) && ctx.Err() == nil
	}

	var applied bool
	if c.op == opUnsubscribe {
		applied = r.active.RemoveActive(epoch, c.keys)
	} else {
		applied = r.active.AddActive(epoch, c.keys, c.mode)
	}
	if !applied {
		// The call went to a connection that has since closed. Its active
		// set is already reset, so the keys are picked up on the next pass.
		res.Abandoned = true
		r.logger.Warn("connection changed during reconcile, abandoning pass",
			"op", c.op,
			"count", len(c.keys),
		)
		return false
	}

	switch c.op {
	case opSubscribe:
		res.Subscribed = append(res.Subscribed, c.keys...)
	case opChangeMode:
		res.ModeChanged = append(res.ModeChanged, c.keys...)
	default:
		res.Unsubscribed = append(res.Unsubscribed, c.keys...)
		if r.onUnsubscribed != nil {
			r.onUnsubscribed(c.keys)
		}
	}
	return true
}

func (r *Reconciler) finish(res TickResult) {
	r.statsMu.Lock()
	r.stats.LastTickAt = time.Now()
	switch {
	case res.Skipped:
		r.stats.Skipped++
	case res.Err != nil:
		r.stats.Ticks++
		r.stats.LastError = res.Err.Error()
	default:
		r.stats.Ticks++
		r.stats.Subscribed += int64(len(res.Subscribed))
		r.stats.ModeChanged += int64(len(res.ModeChanged))
		r.stats.Unsubscribed += int64(len(res.Unsubscribed))
		r.stats.FailedChunks += int64(len(res.Failed))
		if len(res.Failed) > 0 {
			r.stats.LastError = res.Failed[len(res.Failed)-1].Error()
		}
	}
	r.statsMu.Unlock()

	switch {
	case res.Skipped:
		r.metrics.ReconcileTick("skipped")
	case res.Err != nil:
		r.metrics.ReconcileTick("error")
	case res.Abandoned:
		r.metrics.ReconcileTick("abandoned")
	case len(res.Failed) > 0:
		r.metrics.ReconcileTick("partial")
	default:
		r.metrics.ReconcileTick("ok")
	}
	if !res.Skipped {
		r.metrics.SetActiveSubscriptions(r.active.ActiveCount())
	}
}

func (r *Reconciler) recordError(err error) {
	r.statsMu.Lock()
	r.stats.LastError = err.Error()
	r.statsMu.Unlock()
}

func (r *Reconciler) batchSize() int {
	if r.cfg.BatchSize > 0 {
		return r.cfg.BatchSize
	}
	if n := r.feed.BatchLimit(); n > 0 {
		return n
	}
	return connection.DefaultBatchLimit
}

// chunk splits keys into consecutive slices of at most size.
func chunk(keys []model.InstrumentKey, size int) [][]model.InstrumentKey {
	var out [][]model.InstrumentKey
	for len(keys) > 0 {
		n := min(size, len(keys))
		out = append(out, keys[:n:n])
		keys = keys[n:]
	}
	return out
}
