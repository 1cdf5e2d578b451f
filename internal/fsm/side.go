// Package fsm implements the dual finite-state-machine core: one
// long-side engine reacting to BUY signals, one short-side engine
// reacting to SELL signals, fully independent except for the shared
// append-only signal history.
//
// Tick processing is a single deterministic handler over mutex-guarded
// state with no error return from the decision path — I/O failures never
// feed back into FSM state.
package fsm

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/dualfsm-engine/internal/broker"
	"github.com/chidi150c/dualfsm-engine/internal/clock"
)

// State is one of the six phases a side can be in.
type State string

const (
	WaitForSignal State = "WAIT_FOR_SIGNAL"
	Signal        State = "SIGNAL"
	EntryWindow   State = "ENTRY_WINDOW"
	ProfitWindow  State = "PROFIT_WINDOW"
	WaitWindow    State = "WAIT_WINDOW"
	WaitForEntry  State = "WAIT_FOR_ENTRY"
)

// AllStates enumerates every phase, in declaration order, for metrics
// and status rendering that need to iterate the full state space.
var AllStates = []State{WaitForSignal, Signal, EntryWindow, ProfitWindow, WaitWindow, WaitForEntry}

// WaitCaller names which window a WAIT_WINDOW cooldown was entered from.
// WAIT_WINDOW resolves differently depending on it: back to ENTRY_WINDOW
// with the same anchors, or on to WAIT_FOR_ENTRY's re-arm loop.
type WaitCaller string

const (
	CallerNone   WaitCaller = ""
	CallerEntry  WaitCaller = "ENTRY"
	CallerProfit WaitCaller = "PROFIT"
)

// Direction is which half of the dual FSM a Side implements.
type Direction string

const (
	DirLong  Direction = "LONG"
	DirShort Direction = "SHORT"
)

// Position is an open long or short lot held by one side.
type Position struct {
	Side       Direction       `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	Stop       decimal.Decimal `json:"stop"`
}

// Anchors are the prices latched from the first tick after a signal.
type Anchors struct {
	SavedLtp     decimal.Decimal `json:"savedLtp"`
	EntryTrigger decimal.Decimal `json:"entryTrigger"`
	Stop         decimal.Decimal `json:"stop"`
}

// Timers is the read-only timer view returned over /status.
type Timers struct {
	EntryWindowStartTs  int64      `json:"entryWindowStartTs"`
	ProfitWindowStartTs int64      `json:"profitWindowStartTs"`
	WaitWindowStartTs   int64      `json:"waitWindowStartTs"`
	WaitWindowDuration  int64      `json:"waitWindowDurationMs"`
	WaitWindowSource    WaitCaller `json:"waitWindowSource"`
	WaitForEntryStartTs int64      `json:"waitForEntryStartTs"`
}

// sideState is the serializable internal state of one Side, used for
// both /status rendering and snapshot persistence.
type sideState struct {
	State     State      `json:"state"`
	Anchors   Anchors    `json:"anchors"`
	Position  *Position  `json:"position"`
	Timers    Timers     `json:"timers"`
	FirstTick bool       `json:"firstTickPending"`
	WaitCall  WaitCaller `json:"waitWindowCaller"`
}

// Side is one independent half of the dual FSM: either the long side
// (reacting to BUY, opening LONG) or the short side (reacting to SELL,
// opening SHORT). The transition tables mirror each other exactly, with
// comparisons reversed and signs negated, expressed here as explicit
// if/else branches on dir rather than a sign trick, to keep each branch
// legible on its own.
type Side struct {
	dir          Direction
	reasonPrefix string // "BUY" or "SELL", used to build reason tags
	anchorOffset decimal.Decimal

	st sideState
}

func newSide(dir Direction, anchorOffset decimal.Decimal) *Side {
	prefix := "BUY"
	if dir == DirShort {
		prefix = "SELL"
	}
	return &Side{
		dir:          dir,
		reasonPrefix: prefix,
		anchorOffset: anchorOffset,
		st:           sideState{State: WaitForSignal},
	}
}

// OnSignal accepts a fresh signal for this side at any time: resets
// anchors/phase to SIGNAL with the first tick pending, discarding any
// prior anchors/phase. An existing open position is left untouched —
// the signal governs window state, not the broker position.
func (s *Side) OnSignal(ts int64) {
	s.st.State = Signal
	s.st.Anchors = Anchors{}
	s.st.Timers = Timers{}
	s.st.FirstTick = true
	s.st.WaitCall = CallerNone
}

// favorable reports whether tick price crosses the entry trigger in this
// side's favor (>= for long, <= for short).
func (s *Side) favorable(price decimal.Decimal) bool {
	if s.dir == DirLong {
		return price.GreaterThanOrEqual(s.st.Anchors.EntryTrigger)
	}
	return price.LessThanOrEqual(s.st.Anchors.EntryTrigger)
}

// adverse reports whether tick price has crossed the stop against an
// open position (<= stop for long, >= stop for short).
func (s *Side) adverse(price decimal.Decimal) bool {
	if s.dir == DirLong {
		return price.LessThanOrEqual(s.st.Position.Stop)
	}
	return price.GreaterThanOrEqual(s.st.Position.Stop)
}

func (s *Side) latchAnchors(price decimal.Decimal) {
	if s.dir == DirLong {
		s.st.Anchors = Anchors{
			SavedLtp:     price,
			EntryTrigger: price.Add(s.anchorOffset),
			Stop:         price.Sub(s.anchorOffset),
		}
	} else {
		s.st.Anchors = Anchors{
			SavedLtp:     price,
			EntryTrigger: price.Sub(s.anchorOffset),
			Stop:         price.Add(s.anchorOffset),
		}
	}
}

func (s *Side) openReason(suffix string) string { return s.reasonPrefix + "_" + suffix }

func (s *Side) open(tick clock.Tick, b broker.Broker) {
	if s.st.Position != nil {
		log.Warn().Str("dir", string(s.dir)).Msg("fsm: open dropped, side already holds a position")
		return
	}
	qty := decimal.NewFromInt(1)
	reason := s.openReason("TRIGGER_HIT")
	if s.dir == DirLong {
		b.OpenLong(qty, tick.Price, reason, tick.TS)
	} else {
		b.OpenShort(qty, tick.Price, reason, tick.TS)
	}
	s.st.Position = &Position{Side: s.dir, Qty: qty, EntryPrice: tick.Price, Stop: s.st.Anchors.Stop}
	s.st.Timers.ProfitWindowStartTs = tick.TS
	s.st.State = ProfitWindow
}

func (s *Side) closeOnStop(tick clock.Tick, b broker.Broker) {
	reason := s.openReason("STOP_HIT")
	qty := s.st.Position.Qty
	if s.dir == DirLong {
		b.CloseLong(qty, tick.Price, reason, tick.TS)
	} else {
		b.CloseShort(qty, tick.Price, reason, tick.TS)
	}
	s.st.Position = nil
}

// enterWaitWindow computes the residual of callerStartTs's 60s budget and
// either enters WAIT_WINDOW with that residual, or — if the caller
// consumed the full budget already — resolves immediately.
func (s *Side) enterWaitWindow(tick clock.Tick, callerStartTs int64, caller WaitCaller) {
	elapsed := tick.TS - callerStartTs
	residual := clock.WindowMs - elapsed
	if residual <= 0 {
		s.resolveWait(tick, caller)
		return
	}
	s.st.State = WaitWindow
	s.st.Timers.WaitWindowStartTs = tick.TS
	s.st.Timers.WaitWindowDuration = residual
	s.st.WaitCall = caller
}

// resolveWait applies what happens when a WAIT_WINDOW (real or skipped)
// ends, which differs by the phase that triggered it.
func (s *Side) resolveWait(tick clock.Tick, caller WaitCaller) {
	switch caller {
	case CallerEntry:
		s.st.State = EntryWindow
		s.st.Timers.EntryWindowStartTs = tick.TS
		s.st.FirstTick = true
	case CallerProfit:
		s.st.State = WaitForEntry
		s.st.Timers.WaitForEntryStartTs = tick.TS
		s.st.FirstTick = true
	}
	s.st.WaitCall = CallerNone
}

// OnTick advances this side by exactly one tick. Dispatch order between
// sides is handled by the caller (Dual.OnTick); this method only ever
// touches its own state.
func (s *Side) OnTick(tick clock.Tick, b broker.Broker) {
	switch s.st.State {
	case WaitForSignal:
		// idle

	case Signal:
		if !s.st.FirstTick {
			return
		}
		s.st.FirstTick = false
		s.latchAnchors(tick.Price)
		s.st.Timers.EntryWindowStartTs = tick.TS
		s.st.State = EntryWindow
		s.st.FirstTick = true

	case EntryWindow:
		if !s.st.FirstTick {
			return
		}
		s.st.FirstTick = false
		if s.favorable(tick.Price) {
			s.open(tick, b)
		} else {
			s.enterWaitWindow(tick, s.st.Timers.EntryWindowStartTs, CallerEntry)
		}

	case ProfitWindow:
		if s.st.Position == nil {
			log.Warn().Str("dir", string(s.dir)).Msg("fsm: PROFIT_WINDOW with no open position, resetting")
			s.reset()
			return
		}
		if s.adverse(tick.Price) {
			s.closeOnStop(tick, b)
			s.enterWaitWindow(tick, s.st.Timers.ProfitWindowStartTs, CallerProfit)
		} else if tick.TS-s.st.Timers.ProfitWindowStartTs >= clock.WindowMs {
			s.st.Timers.ProfitWindowStartTs = tick.TS
		}

	case WaitWindow:
		if tick.TS-s.st.Timers.WaitWindowStartTs >= s.st.Timers.WaitWindowDuration {
			s.resolveWait(tick, s.st.WaitCall)
		}

	case WaitForEntry:
		if s.st.FirstTick {
			s.st.FirstTick = false
			if s.favorable(tick.Price) {
				s.open(tick, b)
			}
			// else: remain in WAIT_FOR_ENTRY; no re-evaluation until the
			// 60s window restarts below.
		} else if tick.TS-s.st.Timers.WaitForEntryStartTs >= clock.WindowMs {
			s.st.Timers.WaitForEntryStartTs = tick.TS
			s.st.FirstTick = true
		}
	}
}

// reconcileClock evaluates the purely time-based transitions against
// now, without a tick price. Used on snapshot resume so a restart gap
// doesn't leave an already-expired window stuck. ENTRY_WINDOW and the
// first-tick decision in WAIT_FOR_ENTRY need an actual price and are left
// untouched; they resolve on the next real tick.
func (s *Side) reconcileClock(now int64) {
	switch s.st.State {
	case ProfitWindow:
		if s.st.Position != nil && now-s.st.Timers.ProfitWindowStartTs >= clock.WindowMs {
			s.st.Timers.ProfitWindowStartTs = now
		}
	case WaitWindow:
		if now-s.st.Timers.WaitWindowStartTs >= s.st.Timers.WaitWindowDuration {
			caller := s.st.WaitCall
			switch caller {
			case CallerEntry:
				s.st.State = EntryWindow
				s.st.Timers.EntryWindowStartTs = now
				s.st.FirstTick = true
			case CallerProfit:
				s.st.State = WaitForEntry
				s.st.Timers.WaitForEntryStartTs = now
				s.st.FirstTick = true
			}
			s.st.WaitCall = CallerNone
		}
	case WaitForEntry:
		if !s.st.FirstTick && now-s.st.Timers.WaitForEntryStartTs >= clock.WindowMs {
			s.st.Timers.WaitForEntryStartTs = now
			s.st.FirstTick = true
		}
	}
}

// reset clears this side back to WAIT_FOR_SIGNAL with no anchors, no
// timers, and no pending position (used by manual override and as a
// defensive recovery from an invariant violation).
func (s *Side) reset() {
	s.st = sideState{State: WaitForSignal}
}

// closeIfOpen closes any open position at price (used by manual
// override). Returns true if a position was closed.
func (s *Side) closeIfOpen(tick clock.Tick, b broker.Broker) bool {
	if s.st.Position == nil {
		return false
	}
	reason := "MANUAL_OVERRIDE"
	qty := s.st.Position.Qty
	if s.dir == DirLong {
		b.CloseLong(qty, tick.Price, reason, tick.TS)
	} else {
		b.CloseShort(qty, tick.Price, reason, tick.TS)
	}
	s.st.Position = nil
	return true
}
