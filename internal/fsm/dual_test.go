package fsm

import "testing"

// Invariant 6: snapshot round-trip preserves observable state.
func TestDualMarshalRestoreRoundTrip(t *testing.T) {
	d, _, _ := newTestDual()
	d.OnBuySignal(0)
	d.OnTick(tick(100.0, 1000))
	d.OnTick(tick(100.6, 2000))

	raw, err := d.MarshalState()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	restored, _, _ := newTestDual()
	if err := restored.RestoreState(raw); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if restored.Long.st.State != d.Long.st.State {
		t.Fatalf("expected state to round-trip, want %s got %s", d.Long.st.State, restored.Long.st.State)
	}
	if restored.Long.st.Position == nil || !restored.Long.st.Position.EntryPrice.Equal(d.Long.st.Position.EntryPrice) {
		t.Fatalf("expected position to round-trip, want %+v got %+v", d.Long.st.Position, restored.Long.st.Position)
	}
}

// ReconcileClock resolves an expired WAIT_WINDOW across a restart gap
// without needing a live tick price.
func TestReconcileClock_ResolvesExpiredWaitWindow(t *testing.T) {
	d, _, _ := newTestDual()
	d.OnBuySignal(0)
	d.OnTick(tick(100.0, 1000))
	d.OnTick(tick(100.6, 2000))
	d.OnTick(tick(99.4, 3000)) // stop-out -> WAIT_WINDOW, dur=59000, caller=PROFIT

	if d.Long.st.State != WaitWindow {
		t.Fatalf("expected WAIT_WINDOW before reconcile, got %s", d.Long.st.State)
	}

	d.ReconcileClock(3000 + 59000)

	if d.Long.st.State != WaitForEntry {
		t.Fatalf("expected WAIT_FOR_ENTRY after reconciling an expired window, got %s", d.Long.st.State)
	}
}

func TestOnBuySignal_RecordsHistory(t *testing.T) {
	d, _, _ := newTestDual()
	d.OnBuySignal(100)
	d.OnSellSignal(200)

	view := d.Status()
	if len(view.SignalHistory) != 2 {
		t.Fatalf("expected 2 recorded signals, got %d", len(view.SignalHistory))
	}
}
