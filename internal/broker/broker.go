// Package broker implements the simulated paper broker that the FSM
// drives to open and close positions.
//
// Reason-string classification is kept as a defensive check inside the
// order-side entry points rather than as the sole routing mechanism,
// since the FSM's own open/close calls already name which book and
// action apply.
package broker

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/dualfsm-engine/internal/metrics"
	"github.com/chidi150c/dualfsm-engine/internal/pnl"
	"github.com/chidi150c/dualfsm-engine/internal/session"
)

// Broker is the minimal surface the FSM needs to turn a trigger/stop hit
// into a position change.
type Broker interface {
	OpenLong(qty, price decimal.Decimal, reason string, ts int64)
	CloseLong(qty, price decimal.Decimal, reason string, ts int64) decimal.Decimal
	OpenShort(qty, price decimal.Decimal, reason string, ts int64)
	CloseShort(qty, price decimal.Decimal, reason string, ts int64) decimal.Decimal
}

// PaperBroker fills every order instantly at the given price against two
// independent per-side P&L books. No network calls, no slippage. Every
// closing fill with a non-zero realized P&L is also reported to the
// session manager (break-even closes are not), which is what
// actually drives the paper-to-live gate and the daily-loss halt.
type PaperBroker struct {
	Long  *pnl.Context
	Short *pnl.Context
	sess  *session.Manager
}

// NewPaperBroker wires a paper broker to the long and short P&L books and
// the session manager it reports realized closes to.
func NewPaperBroker(long, short *pnl.Context, sess *session.Manager) *PaperBroker {
	return &PaperBroker{Long: long, Short: short, sess: sess}
}

// tradeResult buckets a realized P&L delta into the win/loss label the
// Trades counter is keyed by.
func tradeResult(delta decimal.Decimal) string {
	if delta.IsPositive() {
		return "win"
	}
	return "loss"
}

func (b *PaperBroker) reportClose(side string, delta decimal.Decimal, ts int64) {
	if b.sess == nil || delta.IsZero() {
		return
	}
	switch b.sess.Mode() {
	case session.Paper:
		b.sess.UpdatePaperPnl(delta)
	case session.Live:
		b.sess.UpdateLivePnl(delta)
	}
	b.sess.RecordTrade(session.TradeRecord{Mode: b.sess.Mode(), Side: side, RealizedPnl: delta, TS: ts})
}

// isOpenReason reports whether reason classifies as an opening fill:
// strings containing TRIGGER_HIT or OPEN.
func isOpenReason(reason string) bool {
	u := strings.ToUpper(reason)
	return strings.Contains(u, "TRIGGER_HIT") || strings.Contains(u, "OPEN")
}

// isCloseReason reports whether reason classifies as a closing fill:
// strings containing STOP_HIT or CLOSE. A manual override always closes.
func isCloseReason(reason string) bool {
	u := strings.ToUpper(reason)
	return strings.Contains(u, "STOP_HIT") || strings.Contains(u, "CLOSE") || strings.Contains(u, "MANUAL_OVERRIDE")
}

func (b *PaperBroker) OpenLong(qty, price decimal.Decimal, reason string, ts int64) {
	if !isOpenReason(reason) {
		log.Warn().Str("reason", reason).Msg("paper broker: OpenLong called with a non-open reason tag")
	}
	b.Long.Open(qty, price, reason, ts)
}

func (b *PaperBroker) CloseLong(qty, price decimal.Decimal, reason string, ts int64) decimal.Decimal {
	if !isCloseReason(reason) {
		log.Warn().Str("reason", reason).Msg("paper broker: CloseLong called with a non-close reason tag")
	}
	delta := b.Long.Close(qty, price, reason, ts)
	metrics.Trades.WithLabelValues("LONG", tradeResult(delta)).Inc()
	b.reportClose("LONG", delta, ts)
	return delta
}

func (b *PaperBroker) OpenShort(qty, price decimal.Decimal, reason string, ts int64) {
	if !isOpenReason(reason) {
		log.Warn().Str("reason", reason).Msg("paper broker: OpenShort called with a non-open reason tag")
	}
	b.Short.Open(qty, price, reason, ts)
}

func (b *PaperBroker) CloseShort(qty, price decimal.Decimal, reason string, ts int64) decimal.Decimal {
	if !isCloseReason(reason) {
		log.Warn().Str("reason", reason).Msg("paper broker: CloseShort called with a non-close reason tag")
	}
	delta := b.Short.Close(qty, price, reason, ts)
	metrics.Trades.WithLabelValues("SHORT", tradeResult(delta)).Inc()
	b.reportClose("SHORT", delta, ts)
	return delta
}
