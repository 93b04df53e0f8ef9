// Package session holds the state shared between the feed receive loop,
// the reconciler, and health readers: connection lifecycle fields and the
// active subscription set. All of it is guarded by a single RWMutex so a
// health read always sees a consistent snapshot.
package session

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/market-feed/internal/model"
)

// Session is the single owner of connection health and the active subscription set.
type Session struct {
	mu sync.RWMutex

	state          model.ConnectionState
	connectedAt    time.Time
	lastMessageAt  time.Time
	reconnectCount int

	// epoch identifies the current connection; MarkConnected increments it.
	epoch uint64

	// Keys the provider is believed to be streaming, with their mode.
	active map[model.InstrumentKey]model.SubscriptionMode
}

// New returns a DISCONNECTED session with no subscriptions.
func New() *Session {
	return &Session{
		active: make(map[model.InstrumentKey]model.SubscriptionMode),
	}
}

// State returns the current connection state.
func (s *Session) State() model.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BeginConnect moves DISCONNECTED to CONNECTING. It reports false, leaving the
// state unchanged, when a connection is already up or being established.
func (s *Session) BeginConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.StateDisconnected {
		return false
	}
	s.state = model.StateConnecting
	return true
}

// MarkConnected moves CONNECTING to CONNECTED. It reports false when the
// attempt was abandoned by a disconnect in the meantime.
func (s *Session) MarkConnected(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.StateConnecting {
		return false
	}
	s.state = model.StateConnected
	s.connectedAt = at
	s.lastMessageAt = time.Time{}
	s.epoch++
	clear(s.active)
	return true
}

// Epoch returns the identifier of the current connection. Capture it before
// issuing subscription calls and pass it to AddActive or RemoveActive.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// MarkDisconnected returns to DISCONNECTED and clears the active set.
// An unexpected loss of a live connection increments the reconnect count.
// It reports whether the state changed.
func (s *Session) MarkDisconnected(unexpected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == model.StateDisconnected {
		return false
	}
	if unexpected && s.state == model.StateConnected {
		s.reconnectCount++
	}
	s.state = model.StateDisconnected
	s.connectedAt = time.Time{}
	clear(s.active)
	return true
}

// MarkMessage records the receive time of an inbound frame.
func (s *Session) MarkMessage(at time.Time) {
	s.mu.Lock()
	s.lastMessageAt = at
	s.mu.Unlock()
}

// AddActive marks keys as subscribed in mode. It applies only while the
// connection identified by epoch is still CONNECTED and reports whether it did.
func (s *Session) AddActive(epoch uint64, keys []model.InstrumentKey, mode model.SubscriptionMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(epoch) {
		return false
	}
	for _, k := range keys {
		s.active[k] = mode
	}
	return true
}

// RemoveActive drops keys from the active set, under the same epoch rule as AddActive.
func (s *Session) RemoveActive(epoch uint64, keys []model.InstrumentKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(epoch) {
		return false
	}
	for _, k := range keys {
		delete(s.active, k)
	}
	return true
}

func (s *Session) currentLocked(epoch uint64) bool {
	return s.state == model.StateConnected && s.epoch == epoch
}

// FilterActive returns the subset of keys that are currently active, in input order.
func (s *Session) FilterActive(keys []model.InstrumentKey) []model.InstrumentKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.InstrumentKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := s.active[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// IsActive reports whether key is in the active set.
func (s *Session) IsActive(key model.InstrumentKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.active[key]
	return ok
}

// ActiveMode returns the mode key was subscribed with.
func (s *Session) ActiveMode(key model.InstrumentKey) (model.SubscriptionMode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.active[key]
	return m, ok
}

// ActiveModes returns a copy of the active set with each key's mode.
func (s *Session) ActiveModes() map[model.InstrumentKey]model.SubscriptionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.active)
}

// ActiveKeys returns a sorted copy of the active set.
func (s *Session) ActiveKeys() []model.InstrumentKey {
	s.mu.RLock()
	keys := make([]model.InstrumentKey, 0, len(s.active))
	for k := range s.active {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ActiveCount returns the size of the active set.
func (s *Session) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Health returns a consistent snapshot of the connection.
func (s *Session) Health() model.ConnectionHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := model.ConnectionHealth{
		State:                   s.state,
		ReconnectCount:          s.reconnectCount,
		ActiveSubscriptionCount: len(s.active),
	}
	if !s.lastMessageAt.IsZero() {
		t := s.lastMessageAt
		h.LastMessageAt = &t
	}
	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		h.ConnectedAt = &t
	}
	return h
}
