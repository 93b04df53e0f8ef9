package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/rickgao/market-feed/internal/model"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ActiveLister lists subscribed keys. *session.Session implements it.
type ActiveLister interface {
	ActiveKeys() []model.InstrumentKey
}

// debugLimit caps the keys listed by /debug/subscriptions.
const debugLimit = 100

// Response is the /health body.
type Response struct {
	Status     string         `json:"status"` // healthy | degraded | unhealthy
	Feed       Status         `json:"feed"`
	Components map[string]any `json:"components"`
}

// HandlerOption adds routes to the health handler.
type HandlerOption func(*http.ServeMux)

// WithReconcileTrigger serves POST /reconcile, which calls trigger and
// returns 202 without waiting for the pass.
func WithReconcileTrigger(trigger func()) HandlerOption {
	return func(mux *http.ServeMux) {
		mux.HandleFunc("POST /reconcile", func(w http.ResponseWriter, r *http.Request) {
			trigger()
			w.WriteHeader(http.StatusAccepted)
		})
	}
}

// NewHandler serves /health and /debug/subscriptions. checks maps a component
// name to its dependency ping; a failing check makes the feed unhealthy.
func NewHandler(m *Monitor, active ActiveLister, checks map[string]Pinger, logger *slog.Logger, opts ...HandlerOption) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	for _, opt := range opts {
		opt(mux)
	}

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := Response{
			Status:     "healthy",
			Feed:       m.Status(),
			Components: make(map[string]any, len(checks)),
		}

		for _, name := range names {
			if err := checks[name].Ping(ctx); err != nil {
				resp.Status = "unhealthy"
				resp.Components[name] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
				continue
			}
			resp.Components[name] = "connected"
		}

		switch {
		case resp.Feed.State != model.StateConnected:
			resp.Status = "unhealthy"
		case resp.Feed.Stale && resp.Status == "healthy":
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("write health response", "error", err)
		}
	})

	mux.HandleFunc("/debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		keys := active.ActiveKeys()
		total := len(keys)
		if len(keys) > debugLimit {
			keys = keys[:debugLimit]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":   total,
			"showing": len(keys),
			"keys":    keys,
		})
	})

	return mux
}
