package fsm

import (
	"encoding/json"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/dualfsm-engine/internal/broker"
	"github.com/chidi150c/dualfsm-engine/internal/clock"
	"github.com/chidi150c/dualfsm-engine/internal/signalbus"
)

// Dual owns the two independent sides of the engine plus the one record
// they legitimately share: the append-only signal history. All mutation
// — signal delivery, tick processing, manual override, and state reads
// for /status or snapshotting — is serialized through mu, so the engine
// behaves as a single logical execution context regardless of how many
// goroutines are feeding it signals and ticks.
type Dual struct {
	mu sync.Mutex

	Long  *Side
	Short *Side

	history *signalHistory
	broker  broker.Broker

	lastTick Tick
	hasTick  bool
}

// Tick re-exports clock.Tick so callers of this package don't need to
// import internal/clock directly for the common case.
type Tick = clock.Tick

// New creates a Dual FSM wired to broker b, with the given anchor offset
// (0.5 price units by default).
func New(b broker.Broker, anchorOffset decimal.Decimal) *Dual {
	return &Dual{
		Long:    newSide(DirLong, anchorOffset),
		Short:   newSide(DirShort, anchorOffset),
		history: newSignalHistory(),
		broker:  b,
	}
}

// OnBuySignal accepts a BUY signal for the long side.
func (d *Dual) OnBuySignal(ts int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Long.OnSignal(ts)
	d.history.record(string(signalbus.Buy), ts)
}

// OnSellSignal accepts a SELL signal for the short side.
func (d *Dual) OnSellSignal(ts int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Short.OnSignal(ts)
	d.history.record(string(signalbus.Sell), ts)
}

// OnTick advances both sides by exactly one tick, long side first then
// short side, then updates the last-known tick used by ManualOverride.
func (d *Dual) OnTick(tick clock.Tick) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Long.OnTick(tick, d.broker)
	d.Short.OnTick(tick, d.broker)
	d.lastTick = tick
	d.hasTick = true
}

// ManualOverride closes any open long and/or short position at the
// last-known tick price, then resets both sides to WAIT_FOR_SIGNAL and
// clears all window timers. Fails silently if no tick has yet been
// observed.
func (d *Dual) ManualOverride() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasTick {
		return
	}
	d.Long.closeIfOpen(d.lastTick, d.broker)
	d.Short.closeIfOpen(d.lastTick, d.broker)
	d.Long.reset()
	d.Short.reset()
}

// ReconcileClock re-evaluates every purely time-based window transition
// against now, without consuming a tick price. Call once on startup
// after restoring from a snapshot, before the first live tick is
// processed, so a restart gap doesn't leave an expired window stuck.
func (d *Dual) ReconcileClock(now int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Long.reconcileClock(now)
	d.Short.reconcileClock(now)
}

// StatusView is the read-only combined state returned by GET /status.
type StatusView struct {
	BuyState      State         `json:"buyState"`
	SellState     State         `json:"sellState"`
	LongPosition  *Position     `json:"longPosition"`
	ShortPosition *Position     `json:"shortPosition"`
	Anchors       StatusAnchors `json:"anchors"`
	SignalHistory []SignalEvent `json:"signalHistory"`
	Timers        StatusTimers  `json:"timers"`
}

// StatusAnchors groups both sides' anchors for the /status payload.
type StatusAnchors struct {
	Buy  Anchors `json:"buy"`
	Sell Anchors `json:"sell"`
}

// StatusTimers groups both sides' timer views for the /status payload.
type StatusTimers struct {
	Buy  Timers `json:"buy"`
	Sell Timers `json:"sell"`
}

// Status returns the combined, consistent snapshot of both sides and
// the shared signal history, truncated to the last 10 signals.
func (d *Dual) Status() StatusView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return StatusView{
		BuyState:      d.Long.st.State,
		SellState:     d.Short.st.State,
		LongPosition:  d.Long.st.Position,
		ShortPosition: d.Short.st.Position,
		Anchors: StatusAnchors{
			Buy:  d.Long.st.Anchors,
			Sell: d.Short.st.Anchors,
		},
		SignalHistory: d.history.last(10),
		Timers: StatusTimers{
			Buy:  d.Long.st.Timers,
			Sell: d.Short.st.Timers,
		},
	}
}

// dualState is the serializable snapshot of the full dual FSM.
type dualState struct {
	Long    sideState     `json:"long"`
	Short   sideState     `json:"short"`
	History []SignalEvent `json:"history"`
}

// MarshalState returns the JSON-serialized internal state for snapshotting.
func (d *Dual) MarshalState() (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(dualState{
		Long:    d.Long.st,
		Short:   d.Short.st,
		History: d.history.all(),
	})
}

// RestoreState loads a previously-serialized snapshot back into the
// Dual FSM. Unknown fields are ignored by encoding/json by default, so
// older snapshots stay loadable after the state struct grows new fields.
func (d *Dual) RestoreState(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var st dualState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Long.st = st.Long
	d.Short.st = st.Short
	d.history.restore(st.History)
	return nil
}
