package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/market-feed/internal/model"
)

const namespace = "market_feed"

// Metrics holds the feed's collectors.
type Metrics struct {
	FramesReceived      prometheus.Counter
	DecodeErrors        prometheus.Counter
	UpdatesMerged       *prometheus.CounterVec // by shape
	Upserts             prometheus.Counter
	UpsertErrors        prometheus.Counter
	MirrorErrors        prometheus.Counter
	WriteLatency        prometheus.Histogram
	SubscriptionOps     *prometheus.CounterVec // by op, result
	ActiveSubscriptions prometheus.Gauge
	Reconnects          prometheus.Counter
	ConnectionState     prometheus.Gauge
	ReconcileTicks      *prometheus.CounterVec // by result
}

// New registers collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Binary frames received from the provider",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Frames dropped because they could not be decoded",
		}),
		UpdatesMerged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_merged_total",
			Help:      "Per-instrument updates merged into tick snapshots",
		}, []string{"shape"}),
		Upserts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_upserts_total",
			Help:      "Latest-tick rows upserted",
		}),
		UpsertErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_upsert_errors_total",
			Help:      "Failed latest-tick batch writes",
		}),
		MirrorErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_mirror_errors_total",
			Help:      "Failed latest-tick cache mirror writes",
		}),
		WriteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_write_duration_seconds",
			Help:      "Latency of one frame's tick batch write",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		SubscriptionOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_ops_total",
			Help:      "Subscribe and unsubscribe calls by outcome",
		}, []string{"op", "result"}),
		ActiveSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Instruments currently subscribed",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Unexpected connection losses",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "0=disconnected 1=connecting 2=connected",
		}),
		ReconcileTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_ticks_total",
			Help:      "Reconciliation ticks by outcome",
		}, []string{"result"}),
	}
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) UpdateMerged(shape string) {
	if m == nil {
		return
	}
	m.UpdatesMerged.WithLabelValues(shape).Inc()
}

// TicksWritten records one batch write of n rows.
func (m *Metrics) TicksWritten(n int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.WriteLatency.Observe(d.Seconds())
	if err != nil {
		m.UpsertErrors.Inc()
		return
	}
	m.Upserts.Add(float64(n))
}

func (m *Metrics) MirrorError() {
	if m == nil {
		return
	}
	m.MirrorErrors.Inc()
}

// SubscriptionOp records one call; op is "subscribe", "change_mode" or "unsubscribe".
func (m *Metrics) SubscriptionOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SubscriptionOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Set(float64(n))
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) SetConnectionState(s model.ConnectionState) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(s))
}

// ReconcileTick records a tick outcome: "ok", "partial", "abandoned", "skipped" or "error".
func (m *Metrics) ReconcileTick(result string) {
	if m == nil {
		return
	}
	m.ReconcileTicks.WithLabelValues(result).Inc()
}
