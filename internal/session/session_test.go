package session

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// S5: paper -> live gate.
func TestScenarioS5_PaperToLiveGate(t *testing.T) {
	m := New(dec(-100))
	m.UpdatePaperPnl(dec(-0.5))
	m.UpdatePaperPnl(dec(0.7))

	if m.Mode() != Live {
		t.Fatalf("expected LIVE after cumulative paper pnl turns positive, got %s", m.Mode())
	}
	snap := m.GetSnapshot()
	if !snap.LiveCumulativePnl.IsZero() {
		t.Fatalf("expected liveCumulativePnl reset to 0, got %s", snap.LiveCumulativePnl)
	}
	if !snap.PaperCumulativePnl.Equal(dec(0.2)) {
		t.Fatalf("expected paperCumulativePnl 0.2, got %s", snap.PaperCumulativePnl)
	}
}

// S6: live-negative fallback.
func TestScenarioS6_LiveNegativeFallback(t *testing.T) {
	m := New(dec(-100))
	m.UpdatePaperPnl(dec(0.1)) // flip to LIVE
	m.UpdateLivePnl(dec(1.0))
	m.UpdateLivePnl(dec(-1.5))

	if m.Mode() != Paper {
		t.Fatalf("expected PAPER after live cumulative turns negative, got %s", m.Mode())
	}
	if !m.DailyStopActive() {
		t.Fatalf("expected dailyStopActive=true after live-negative fallback")
	}
}

func TestUpdatePaperPnl_IgnoredOutsidePaperMode(t *testing.T) {
	m := New(dec(-100))
	m.UpdatePaperPnl(dec(0.1)) // flip to LIVE
	before := m.GetSnapshot().PaperCumulativePnl
	m.UpdatePaperPnl(dec(5))
	after := m.GetSnapshot().PaperCumulativePnl
	if !before.Equal(after) {
		t.Fatalf("expected UpdatePaperPnl to be a no-op outside PAPER mode")
	}
}

func TestDailyLossLimitActivatesStop(t *testing.T) {
	m := New(dec(-10))
	m.UpdatePaperPnl(dec(0.1)) // flip to LIVE
	m.UpdateLivePnl(dec(-12))

	if !m.DailyStopActive() {
		t.Fatalf("expected dailyStopActive when dailyRealisedPnl <= dailyLossLimit")
	}
}

func TestResetDailyStats(t *testing.T) {
	m := New(dec(-10))
	m.UpdatePaperPnl(dec(0.1))
	m.UpdateLivePnl(dec(-12))
	m.ResetDailyStats()

	snap := m.GetSnapshot()
	if snap.DailyStopActive || !snap.DailyRealisedPnl.IsZero() {
		t.Fatalf("expected daily stats cleared, got %+v", snap)
	}
}

func TestTradesRingCapsAt50(t *testing.T) {
	m := New(dec(-100))
	for i := 0; i < 60; i++ {
		m.RecordTrade(TradeRecord{Mode: Paper, Side: "LONG", RealizedPnl: dec(1), TS: int64(i)})
	}
	if len(m.GetSnapshot().Trades) != tradesCap {
		t.Fatalf("expected trades ring capped at %d, got %d", tradesCap, len(m.GetSnapshot().Trades))
	}
}

func TestMarshalRestoreRoundTrip(t *testing.T) {
	m := New(dec(-100))
	m.UpdatePaperPnl(dec(0.1))
	m.UpdateLivePnl(dec(0.5))

	raw, err := m.MarshalState()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	restored := New(dec(0))
	if err := restored.RestoreState(raw); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Mode() != m.Mode() {
		t.Fatalf("expected mode to round-trip, want %s got %s", m.Mode(), restored.Mode())
	}
}
