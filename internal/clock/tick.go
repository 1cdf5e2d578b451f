// Package clock defines the market tick type and the window duration
// constants the FSM measures against. TS is always epoch-milliseconds
// and is the only clock the FSM core trusts — wall-clock time never
// enters a decision.
package clock

import "github.com/shopspring/decimal"

// WindowMs is the fixed duration of an ENTRY_WINDOW, PROFIT_WINDOW
// segment, and WAIT_FOR_ENTRY re-arm cycle.
const WindowMs int64 = 60000

// Tick is a single market trade event: price and millisecond timestamp.
// Immutable once constructed.
type Tick struct {
	Price decimal.Decimal
	TS    int64
}

// NewTick builds a Tick from a decimal price and an epoch-ms timestamp.
func NewTick(price decimal.Decimal, ts int64) Tick {
	return Tick{Price: price, TS: ts}
}
