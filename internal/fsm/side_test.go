package fsm

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/dualfsm-engine/internal/broker"
	"github.com/chidi150c/dualfsm-engine/internal/clock"
	"github.com/chidi150c/dualfsm-engine/internal/pnl"
	"github.com/chidi150c/dualfsm-engine/internal/session"
)

func newTestDual() (*Dual, *pnl.Context, *pnl.Context) {
	longPnl := pnl.NewContext("BTCUSDT", pnl.Long, decimal.NewFromInt(1000))
	shortPnl := pnl.NewContext("BTCUSDT", pnl.Short, decimal.NewFromInt(1000))
	sess := session.New(decimal.NewFromInt(-100))
	b := broker.NewPaperBroker(longPnl, shortPnl, sess)
	return New(b, decimal.NewFromFloat(0.5)), longPnl, shortPnl
}

func tick(p float64, ts int64) clock.Tick {
	return clock.NewTick(decimal.NewFromFloat(p), ts)
}

// S1: long entry & take, stop-out.
func TestScenarioS1_EntryAndStopOut(t *testing.T) {
	d, longPnl, _ := newTestDual()
	d.OnBuySignal(0)

	d.OnTick(tick(100.0, 1000))
	if d.Long.st.State != EntryWindow {
		t.Fatalf("expected ENTRY_WINDOW, got %s", d.Long.st.State)
	}
	if !d.Long.st.Anchors.EntryTrigger.Equal(decimal.NewFromFloat(100.5)) {
		t.Fatalf("expected trigger 100.5, got %s", d.Long.st.Anchors.EntryTrigger)
	}
	if !d.Long.st.Anchors.Stop.Equal(decimal.NewFromFloat(99.5)) {
		t.Fatalf("expected stop 99.5, got %s", d.Long.st.Anchors.Stop)
	}

	d.OnTick(tick(100.6, 2000))
	if d.Long.st.State != ProfitWindow {
		t.Fatalf("expected PROFIT_WINDOW, got %s", d.Long.st.State)
	}
	if d.Long.st.Position == nil || !d.Long.st.Position.EntryPrice.Equal(decimal.NewFromFloat(100.6)) {
		t.Fatalf("expected long opened at 100.6, got %+v", d.Long.st.Position)
	}

	d.OnTick(tick(99.4, 3000))
	if d.Long.st.State != WaitWindow {
		t.Fatalf("expected WAIT_WINDOW, got %s", d.Long.st.State)
	}
	if d.Long.st.Timers.WaitWindowDuration != 59000 {
		t.Fatalf("expected wait window duration 59000, got %d", d.Long.st.Timers.WaitWindowDuration)
	}
	if d.Long.st.WaitCall != CallerProfit {
		t.Fatalf("expected caller=PROFIT, got %s", d.Long.st.WaitCall)
	}

	snap := longPnl.GetSnapshot()
	want := decimal.NewFromFloat(-1.2)
	if !snap.RealizedPnl.Equal(want) {
		t.Fatalf("expected realized pnl -1.2, got %s", snap.RealizedPnl)
	}
}

// S2: entry miss then retry at the same anchors.
func TestScenarioS2_EntryMissThenRetry(t *testing.T) {
	d, _, _ := newTestDual()
	d.OnBuySignal(0)

	d.OnTick(tick(200.0, 500))
	d.OnTick(tick(199.8, 1500))
	if d.Long.st.State != WaitWindow {
		t.Fatalf("expected WAIT_WINDOW, got %s", d.Long.st.State)
	}
	if d.Long.st.Timers.WaitWindowDuration != 59000 {
		t.Fatalf("expected duration 59000, got %d", d.Long.st.Timers.WaitWindowDuration)
	}
	if d.Long.st.WaitCall != CallerEntry {
		t.Fatalf("expected caller=ENTRY, got %s", d.Long.st.WaitCall)
	}

	d.OnTick(tick(199.9, 60500))
	if d.Long.st.State != EntryWindow {
		t.Fatalf("expected ENTRY_WINDOW resumed, got %s", d.Long.st.State)
	}

	d.OnTick(tick(200.6, 61500))
	if d.Long.st.State != ProfitWindow {
		t.Fatalf("expected PROFIT_WINDOW, got %s", d.Long.st.State)
	}
	if !d.Long.st.Position.EntryPrice.Equal(decimal.NewFromFloat(200.6)) {
		t.Fatalf("expected open at 200.6, got %s", d.Long.st.Position.EntryPrice)
	}
}

// S3: wait-for-entry re-arm loop, following a stop-out.
func TestScenarioS3_WaitForEntryRearm(t *testing.T) {
	d, _, _ := newTestDual()
	d.OnBuySignal(0)
	d.OnTick(tick(100.0, 1000))
	d.OnTick(tick(100.6, 2000))
	d.OnTick(tick(99.4, 3000)) // stop-out, WAIT_WINDOW dur=59000, caller=PROFIT

	d.OnTick(tick(99.4, 62000)) // 62000-3000=59000 >= 59000, resolves to WAIT_FOR_ENTRY
	if d.Long.st.State != WaitForEntry {
		t.Fatalf("expected WAIT_FOR_ENTRY, got %s", d.Long.st.State)
	}

	d.OnTick(tick(99.4, 62500)) // first tick, 99.4 < 100.5, no open
	if d.Long.st.State != WaitForEntry || d.Long.st.Position != nil {
		t.Fatalf("expected to remain in WAIT_FOR_ENTRY with no position")
	}

	d.OnTick(tick(99.5, 122000)) // window restarts, firstTickSeen=false
	if !d.Long.st.FirstTick {
		t.Fatalf("expected first-tick re-armed at window restart")
	}

	d.OnTick(tick(100.7, 122500)) // first tick of new window triggers open
	if d.Long.st.State != ProfitWindow {
		t.Fatalf("expected PROFIT_WINDOW, got %s", d.Long.st.State)
	}
	if !d.Long.st.Position.EntryPrice.Equal(decimal.NewFromFloat(100.7)) {
		t.Fatalf("expected open at 100.7, got %s", d.Long.st.Position.EntryPrice)
	}
	if d.Long.st.Timers.ProfitWindowStartTs != 122500 {
		t.Fatalf("expected profit window start 122500, got %d", d.Long.st.Timers.ProfitWindowStartTs)
	}
}

// S4: dual-side concurrency — both sides advance independently off the
// same tick stream.
func TestScenarioS4_DualSideConcurrency(t *testing.T) {
	d, _, _ := newTestDual()
	d.OnBuySignal(0)
	d.OnSellSignal(0)

	d.OnTick(tick(100.0, 1))
	if !d.Long.st.Anchors.EntryTrigger.Equal(decimal.NewFromFloat(100.5)) {
		t.Fatalf("expected long trigger 100.5, got %s", d.Long.st.Anchors.EntryTrigger)
	}
	if !d.Short.st.Anchors.EntryTrigger.Equal(decimal.NewFromFloat(99.5)) {
		t.Fatalf("expected short trigger 99.5, got %s", d.Short.st.Anchors.EntryTrigger)
	}

	d.OnTick(tick(100.6, 2))
	if d.Long.st.State != ProfitWindow {
		t.Fatalf("expected long side opened, got %s", d.Long.st.State)
	}
	if d.Short.st.State != WaitWindow {
		t.Fatalf("expected short side entry miss into WAIT_WINDOW, got %s", d.Short.st.State)
	}
}

// Invariant 3: trigger-stop spread is always exactly the configured
// offset doubled (2 * anchorOffset == 1.0 at the default offset).
func TestInvariant_AnchorSpread(t *testing.T) {
	d, _, _ := newTestDual()
	d.OnBuySignal(0)
	d.OnTick(tick(50.0, 10))

	spread := d.Long.st.Anchors.EntryTrigger.Sub(d.Long.st.Anchors.Stop)
	if !spread.Equal(decimal.NewFromFloat(1.0)) {
		t.Fatalf("expected buyEntryTrigger - buyStop == 1.0, got %s", spread)
	}

	d.OnSellSignal(0)
	d.OnTick(tick(50.0, 11))
	spread = d.Short.st.Anchors.Stop.Sub(d.Short.st.Anchors.EntryTrigger)
	if !spread.Equal(decimal.NewFromFloat(1.0)) {
		t.Fatalf("expected sellStop - sellEntryTrigger == 1.0, got %s", spread)
	}
}

// Invariant 1: a side never opens a second position while one is open.
func TestInvariant_NeverDoubleOpen(t *testing.T) {
	d, longPnl, _ := newTestDual()
	d.OnBuySignal(0)
	d.OnTick(tick(100.0, 1000))
	d.OnTick(tick(100.6, 2000))
	if d.Long.st.Position == nil {
		t.Fatal("expected an open long position")
	}
	qtyBefore := d.Long.st.Position.Qty

	// A fresh signal mid-cycle resets phase/anchors but must not touch
	// the already-open position.
	d.OnBuySignal(2500)
	if d.Long.st.Position == nil || !d.Long.st.Position.Qty.Equal(qtyBefore) {
		t.Fatalf("expected open position to survive OnSignal, got %+v", d.Long.st.Position)
	}
	if d.Long.st.State != Signal {
		t.Fatalf("expected state reset to SIGNAL, got %s", d.Long.st.State)
	}

	// The re-latched anchors trigger again; the open must be dropped.
	d.OnTick(tick(100.0, 3000))
	d.OnTick(tick(100.6, 4000))
	if !longPnl.Qty().Equal(qtyBefore) {
		t.Fatalf("expected a second open to be dropped, book qty %s", longPnl.Qty())
	}
}

func TestManualOverride_ClosesOpenPositionsAndResets(t *testing.T) {
	d, longPnl, _ := newTestDual()
	d.OnBuySignal(0)
	d.OnTick(tick(100.0, 1000))
	d.OnTick(tick(100.6, 2000))

	d.ManualOverride()

	if d.Long.st.Position != nil {
		t.Fatalf("expected position closed by manual override, got %+v", d.Long.st.Position)
	}
	if d.Long.st.State != WaitForSignal {
		t.Fatalf("expected WAIT_FOR_SIGNAL after override, got %s", d.Long.st.State)
	}
	if longPnl.Qty().Sign() != 0 {
		t.Fatalf("expected pnl book flattened, got qty %s", longPnl.Qty())
	}
}
