package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestInstrumentKey_Segment(t *testing.T) {
	tests := []struct {
		key  InstrumentKey
		want string
	}{
		{"MCX_FO|472789", "MCX_FO"},
		{"NSE_INDEX|Nifty 50", "NSE_INDEX"},
		{"bare", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := tt.key.Segment(); got != tt.want {
			t.Errorf("Segment(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestSubscriptionMode(t *testing.T) {
	if ModeStandard.MaxDepth() != 5 {
		t.Errorf("STANDARD MaxDepth = %d, want 5", ModeStandard.MaxDepth())
	}
	if ModeFull.MaxDepth() != 15 {
		t.Errorf("FULL MaxDepth = %d, want 15", ModeFull.MaxDepth())
	}
	if ModeStandard.WireMode() != "full" {
		t.Errorf("STANDARD WireMode = %q, want full", ModeStandard.WireMode())
	}
	if ModeFull.WireMode() != "full_d30" {
		t.Errorf("FULL WireMode = %q, want full_d30", ModeFull.WireMode())
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SubscriptionMode
		wantErr bool
	}{
		{"", ModeStandard, false},
		{"standard", ModeStandard, false},
		{"full_d5", ModeStandard, false},
		{"FULL", ModeFull, false},
		{"full_d30", ModeFull, false},
		{" extended ", ModeFull, false},
		{"ltpc", ModeStandard, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewTickRecord_FixedWidth(t *testing.T) {
	std := NewTickRecord("NSE_EQ|A", ModeStandard)
	if len(std.Depth) != 5 {
		t.Errorf("STANDARD depth len = %d, want 5", len(std.Depth))
	}

	full := NewTickRecord("NSE_EQ|A", ModeFull)
	if len(full.Depth) != 15 {
		t.Errorf("FULL depth len = %d, want 15", len(full.Depth))
	}
	for i, lvl := range full.Depth {
		if lvl != (DepthLevel{}) {
			t.Errorf("level %d = %+v, want zero", i, lvl)
		}
	}
}

func TestTickRecord_Normalize(t *testing.T) {
	t.Run("pads thin book", func(t *testing.T) {
		r := TickRecord{Mode: ModeFull, Depth: []DepthLevel{{BidPrice: 10, BidQty: 1}}}
		r.Normalize()
		if len(r.Depth) != 15 {
			t.Fatalf("len = %d, want 15", len(r.Depth))
		}
		if r.Depth[0].BidPrice != 10 {
			t.Errorf("level 1 bid = %v, want 10", r.Depth[0].BidPrice)
		}
	})

	t.Run("truncates deep book", func(t *testing.T) {
		r := TickRecord{Mode: ModeStandard, Depth: make([]DepthLevel, 9)}
		r.Normalize()
		if len(r.Depth) != 5 {
			t.Errorf("len = %d, want 5", len(r.Depth))
		}
	})
}

func TestTickRecord_Clone(t *testing.T) {
	r := NewTickRecord("K", ModeStandard)
	r.Depth[0].BidPrice = 100

	c := r.Clone()
	c.Depth[0].BidPrice = 200

	if r.Depth[0].BidPrice != 100 {
		t.Errorf("clone shares depth with original")
	}
	if r.BestBid() != 100 || c.BestBid() != 200 {
		t.Errorf("BestBid original=%v clone=%v", r.BestBid(), c.BestBid())
	}
}

func TestConnectionHealth_JSON(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	h := ConnectionHealth{
		State:                   StateConnected,
		LastMessageAt:           &now,
		ReconnectCount:          2,
		ActiveSubscriptionCount: 17,
	}

	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"state":"CONNECTED"`) {
		t.Errorf("state not rendered by name: %s", s)
	}
	if !strings.Contains(s, `"active_subscription_count":17`) {
		t.Errorf("missing subscription count: %s", s)
	}

	h.LastMessageAt = nil
	data, _ = json.Marshal(h)
	if strings.Contains(string(data), "last_message_at") {
		t.Errorf("absent last_message_at should be omitted: %s", data)
	}
}
