package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reporter logs the feed status at a fixed interval and warns when the feed
// is stale or disconnected.
type Reporter struct {
	monitor  *Monitor
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReporter creates a Reporter.
func NewReporter(m *Monitor, interval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		monitor:  m,
		interval: interval,
		logger:   logger.With("component", "health"),
	}
}

// Start begins the reporting loop.
func (r *Reporter) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()
}

// Stop ends the loop and waits for it.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report logs one status line.
func (r *Reporter) Report() Status {
	st := r.monitor.Status()

	attrs := []any{
		"state", st.State,
		"active", st.ActiveSubscriptionCount,
		"reconnects", st.ReconnectCount,
		"since_last_message", st.Since.Round(time.Millisecond),
	}
	if st.Reconciler != nil {
		attrs = append(attrs,
			"reconcile_ticks", st.Reconciler.Ticks,
			"failed_chunks", st.Reconciler.FailedChunks,
		)
	}

	switch {
	case st.Stale:
		r.logger.Warn("feed stale", attrs...)
	case !st.Healthy():
		r.logger.Warn("feed not connected", attrs...)
	default:
		r.logger.Info("feed health", attrs...)
	}
	return st
}
