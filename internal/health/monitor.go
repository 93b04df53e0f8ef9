package health

import (
	"time"

	"github.com/rickgao/market-feed/internal/model"
	"github.com/rickgao/market-feed/internal/reconciler"
)

// ConnectionSource reports connection health. *connection.Feed implements it.
type ConnectionSource interface {
	Health() model.ConnectionHealth
}

// StatsSource reports reconciler counters. *reconciler.Reconciler implements it.
type StatsSource interface {
	Stats() reconciler.ReconcilerStats
}

// Status is a point-in-time view of the feed.
type Status struct {
	model.ConnectionHealth

	Stale bool `json:"stale"`
	// Since is the time since the last frame, or since connecting when no
	// frame has arrived. Zero when disconnected.
	Since        time.Duration `json:"-"`
	SinceSeconds float64       `json:"since_last_message_seconds"`

	Reconciler *reconciler.ReconcilerStats `json:"reconciler,omitempty"`
}

// Healthy reports whether the feed is connected and receiving frames.
func (s Status) Healthy() bool {
	return s.State == model.StateConnected && !s.Stale
}

// Monitor derives Status from its sources.
type Monitor struct {
	conn       ConnectionSource
	stats      StatsSource
	staleAfter time.Duration
	now        func() time.Time
}

// NewMonitor creates a Monitor. stats may be nil.
func NewMonitor(conn ConnectionSource, stats StatsSource, staleAfter time.Duration) *Monitor {
	return &Monitor{
		conn:       conn,
		stats:      stats,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	st := Status{ConnectionHealth: m.conn.Health()}

	if st.State == model.StateConnected {
		var ref *time.Time
		switch {
		case st.LastMessageAt != nil:
			ref = st.LastMessageAt
		case st.ConnectedAt != nil:
			ref = st.ConnectedAt
		}
		if ref != nil {
			st.Since = m.now().Sub(*ref)
			st.SinceSeconds = st.Since.Seconds()
			st.Stale = m.staleAfter > 0 && st.Since > m.staleAfter
		}
	}

	if m.stats != nil {
		rs := m.stats.Stats()
		st.Reconciler = &rs
	}
	return st
}
