package session

import (
	"sync"
	"testing"
	"time"

	"github.com/rickgao/market-feed/internal/model"
)

func TestSession_Lifecycle(t *testing.T) {
	s := New()

	if s.State() != model.StateDisconnected {
		t.Fatalf("initial state = %v", s.State())
	}
	if !s.BeginConnect() {
		t.Fatal("BeginConnect() = false from DISCONNECTED")
	}
	if s.BeginConnect() {
		t.Error("BeginConnect() = true while CONNECTING")
	}

	now := time.Now()
	if !s.MarkConnected(now) {
		t.Fatal("MarkConnected() = false from CONNECTING")
	}
	if s.State() != model.StateConnected {
		t.Errorf("state = %v, want CONNECTED", s.State())
	}
	if s.BeginConnect() {
		t.Error("BeginConnect() = true while CONNECTED")
	}

	if !s.AddActive(s.Epoch(), model.Keys("A", "B"), model.ModeFull) {
		t.Fatal("AddActive() = false on the current connection")
	}
	if !s.MarkDisconnected(true) {
		t.Error("MarkDisconnected() = false for a live connection")
	}

	h := s.Health()
	if h.State != model.StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", h.State)
	}
	if h.ActiveSubscriptionCount != 0 {
		t.Errorf("active = %d, want 0", h.ActiveSubscriptionCount)
	}
	if h.ReconnectCount != 1 {
		t.Errorf("reconnect count = %d, want 1", h.ReconnectCount)
	}
	if h.ConnectedAt != nil {
		t.Errorf("ConnectedAt = %v, want nil", h.ConnectedAt)
	}

	if s.MarkDisconnected(true) {
		t.Error("second MarkDisconnected() = true")
	}
	if s.Health().ReconnectCount != 1 {
		t.Error("reconnect count changed on repeated disconnect")
	}
}

func TestSession_FailedConnectDoesNotCount(t *testing.T) {
	s := New()
	s.BeginConnect()
	s.MarkDisconnected(true)

	if got := s.Health().ReconnectCount; got != 0 {
		t.Errorf("reconnect count = %d, want 0 after failed handshake", got)
	}
}

func TestSession_ConnectAbandoned(t *testing.T) {
	s := New()
	s.BeginConnect()
	s.MarkDisconnected(false)

	if s.MarkConnected(time.Now()) {
		t.Error("MarkConnected() = true after the attempt was abandoned")
	}
	if s.State() != model.StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", s.State())
	}
}

func TestSession_ExpectedDisconnect(t *testing.T) {
	s := New()
	s.BeginConnect()
	s.MarkConnected(time.Now())
	s.MarkDisconnected(false)

	if got := s.Health().ReconnectCount; got != 0 {
		t.Errorf("reconnect count = %d, want 0", got)
	}
}

func connected(t *testing.T) *Session {
	t.Helper()
	s := New()
	if !s.BeginConnect() || !s.MarkConnected(time.Now()) {
		t.Fatal("could not connect session")
	}
	return s
}

func TestSession_ActiveSet(t *testing.T) {
	s := connected(t)
	epoch := s.Epoch()
	s.AddActive(epoch, model.Keys("C", "A"), model.ModeStandard)
	s.AddActive(epoch, model.Keys("B"), model.ModeFull)

	keys := s.ActiveKeys()
	want := model.Keys("A", "B", "C")
	if len(keys) != len(want) {
		t.Fatalf("ActiveKeys() = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("ActiveKeys()[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	if m, ok := s.ActiveMode("B"); !ok || m != model.ModeFull {
		t.Errorf("ActiveMode(B) = %v, %v", m, ok)
	}

	got := s.FilterActive(model.Keys("X", "C", "Y", "A"))
	if len(got) != 2 || got[0] != "C" || got[1] != "A" {
		t.Errorf("FilterActive() = %v, want [C A]", got)
	}

	modes := s.ActiveModes()
	if len(modes) != 3 || modes["A"] != model.ModeStandard || modes["B"] != model.ModeFull {
		t.Errorf("ActiveModes() = %v", modes)
	}
	modes["Z"] = model.ModeFull
	if s.IsActive("Z") {
		t.Error("ActiveModes() returned the live map")
	}

	s.RemoveActive(epoch, model.Keys("A", "Z"))
	if s.IsActive("A") {
		t.Error("A still active after RemoveActive")
	}
	if s.ActiveCount() != 2 {
		t.Errorf("ActiveCount() = %d, want 2", s.ActiveCount())
	}
}

func TestSession_StaleEpochIgnored(t *testing.T) {
	s := connected(t)
	old := s.Epoch()
	s.AddActive(old, model.Keys("A"), model.ModeFull)

	// The connection drops between a send and its bookkeeping.
	s.MarkDisconnected(true)
	if s.AddActive(old, model.Keys("B"), model.ModeFull) {
		t.Error("AddActive() = true while DISCONNECTED")
	}
	if s.RemoveActive(old, model.Keys("A")) {
		t.Error("RemoveActive() = true while DISCONNECTED")
	}
	if got := s.Health(); got.State != model.StateDisconnected || got.ActiveSubscriptionCount != 0 {
		t.Errorf("health = %+v, want DISCONNECTED with no subscriptions", got)
	}

	s.BeginConnect()
	s.MarkConnected(time.Now())
	if s.Epoch() == old {
		t.Fatal("epoch unchanged after reconnect")
	}
	if s.AddActive(old, model.Keys("B"), model.ModeFull) {
		t.Error("AddActive() = true with the previous connection's epoch")
	}
	if s.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0 on a new connection", s.ActiveCount())
	}
	if !s.AddActive(s.Epoch(), model.Keys("B"), model.ModeFull) || !s.IsActive("B") {
		t.Error("AddActive() rejected the current epoch")
	}
}

func TestSession_MarkConnectedClearsActive(t *testing.T) {
	s := connected(t)
	s.AddActive(s.Epoch(), model.Keys("A"), model.ModeFull)

	// Force a CONNECTING state without going through MarkDisconnected.
	s.mu.Lock()
	s.state = model.StateConnecting
	s.mu.Unlock()

	s.MarkConnected(time.Now())
	if s.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0 after MarkConnected", s.ActiveCount())
	}
}

func TestSession_HealthLastMessage(t *testing.T) {
	s := New()
	if s.Health().LastMessageAt != nil {
		t.Error("LastMessageAt set before any frame")
	}

	at := time.Date(2026, 1, 2, 9, 15, 0, 0, time.UTC)
	s.MarkMessage(at)

	h := s.Health()
	if h.LastMessageAt == nil || !h.LastMessageAt.Equal(at) {
		t.Errorf("LastMessageAt = %v, want %v", h.LastMessageAt, at)
	}
}

func TestSession_ConcurrentAccess(t *testing.T) {
	s := connected(t)
	epoch := s.Epoch()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := model.InstrumentKey(string(rune('A' + i)))
			for j := 0; j < 100; j++ {
				s.AddActive(epoch, []model.InstrumentKey{key}, model.ModeFull)
				s.MarkMessage(time.Now())
				_ = s.Health()
				s.RemoveActive(epoch, []model.InstrumentKey{key})
			}
		}(i)
	}
	wg.Wait()

	if s.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", s.ActiveCount())
	}
}
