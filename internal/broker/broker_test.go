package broker

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/dualfsm-engine/internal/pnl"
	"github.com/chidi150c/dualfsm-engine/internal/session"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newTestBroker() (*PaperBroker, *pnl.Context, *pnl.Context, *session.Manager) {
	long := pnl.NewContext("BTCUSDT", pnl.Long, dec(1000))
	short := pnl.NewContext("BTCUSDT", pnl.Short, dec(1000))
	sess := session.New(dec(-100))
	return NewPaperBroker(long, short, sess), long, short, sess
}

func TestOpenLongDelegatesToLongBook(t *testing.T) {
	b, long, _, _ := newTestBroker()
	b.OpenLong(dec(1), dec(100), "BUY_TRIGGER_HIT", 1000)
	if !long.Qty().Equal(dec(1)) {
		t.Fatalf("expected long book qty 1, got %s", long.Qty())
	}
}

func TestCloseLongReportsRealizedPnlToSession(t *testing.T) {
	b, _, _, sess := newTestBroker()
	b.OpenLong(dec(1), dec(100), "BUY_TRIGGER_HIT", 1000)
	b.CloseLong(dec(1), dec(110), "BUY_CLOSE", 2000)

	snap := sess.GetSnapshot()
	if !snap.PaperCumulativePnl.Equal(dec(10)) {
		t.Fatalf("expected session paper pnl updated to 10, got %s", snap.PaperCumulativePnl)
	}
	if len(snap.Trades) != 1 {
		t.Fatalf("expected one recorded trade, got %d", len(snap.Trades))
	}
}

func TestOpenShortDelegatesToShortBook(t *testing.T) {
	b, _, short, _ := newTestBroker()
	b.OpenShort(dec(1), dec(100), "SELL_TRIGGER_HIT", 1000)
	if !short.Qty().Equal(dec(1)) {
		t.Fatalf("expected short book qty 1, got %s", short.Qty())
	}
}

func TestReasonClassification(t *testing.T) {
	cases := []struct {
		reason  string
		isOpen  bool
		isClose bool
	}{
		{"BUY_TRIGGER_HIT", true, false},
		{"OPEN_LONG", true, false},
		{"SELL_STOP_HIT", false, true},
		{"CLOSE_LONG", false, true},
		{"MANUAL_OVERRIDE", false, true},
	}
	for _, c := range cases {
		if got := isOpenReason(c.reason); got != c.isOpen {
			t.Errorf("isOpenReason(%q) = %v, want %v", c.reason, got, c.isOpen)
		}
		if got := isCloseReason(c.reason); got != c.isClose {
			t.Errorf("isCloseReason(%q) = %v, want %v", c.reason, got, c.isClose)
		}
	}
}
