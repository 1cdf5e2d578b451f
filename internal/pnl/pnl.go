// Package pnl implements the position and profit-and-loss accounting
// shared by both sides of the dual FSM, built on github.com/shopspring/decimal
// for exact money math rather than float64.
package pnl

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the book this Context accounts for. A Context is permanently
// bound to one side at construction — the dual-FSM model keeps long and
// short books fully independent.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// TradeKind distinguishes an opening fill from a closing fill.
type TradeKind string

const (
	TradeOpen  TradeKind = "OPEN"
	TradeClose TradeKind = "CLOSE"
)

// Trade is one recorded fill against this book. ID lets consumers
// correlate a fill across the /status history and the persisted snapshot
// without relying on TS, which ticks can share under test fixtures.
type Trade struct {
	ID          string          `json:"id"`
	Kind        TradeKind       `json:"kind"`
	Qty         decimal.Decimal `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
	Reason      string          `json:"reason"`
	TS          int64           `json:"ts"`
}

// Metrics summarizes closed-trade performance for this book.
type Metrics struct {
	WinRate       decimal.Decimal `json:"winRate"`
	ProfitFactor  decimal.Decimal `json:"profitFactor"`
	BestTrade     decimal.Decimal `json:"bestTrade"`
	WorstTrade    decimal.Decimal `json:"worstTrade"`
	AvgTradePnl   decimal.Decimal `json:"avgTradePnl"`
	PnlPercentage decimal.Decimal `json:"pnlPercentage"`
	TotalWins     decimal.Decimal `json:"totalWins"`
	TotalLosses   decimal.Decimal `json:"totalLosses"`
	WinCount      int             `json:"winCount"`
	LossCount     int             `json:"lossCount"`
}

// Snapshot is the read-only view returned by GetSnapshot, numeric fields
// rounded to 2 decimals as specified.
type Snapshot struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	PositionQty   decimal.Decimal `json:"positionQty"`
	PositionSide  Side            `json:"positionSide"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	RealizedPnl   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
	TotalPnl      decimal.Decimal `json:"totalPnl"`
	TradeCount    int             `json:"tradeCount"`
	Trades        []Trade         `json:"trades"`
	Metrics       Metrics         `json:"metrics"`
}

// state is the JSON-serializable internals, used both for GetSnapshot's
// business fields and for snapshot/resume persistence.
type state struct {
	PositionQty decimal.Decimal `json:"positionQty"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
	Trades      []Trade         `json:"trades"`
}

// Context is the aggregated position and realized/unrealized P&L tracker
// for one side (LONG or SHORT) of one symbol.
type Context struct {
	mu sync.Mutex

	symbol       string
	side         Side
	notionalBase decimal.Decimal

	st state
}

// NewContext creates an empty P&L book for one side of symbol.
func NewContext(symbol string, side Side, notionalBase decimal.Decimal) *Context {
	return &Context{
		symbol:       symbol,
		side:         side,
		notionalBase: notionalBase,
		st: state{
			PositionQty: decimal.Zero,
			AvgPrice:    decimal.Zero,
			LastPrice:   decimal.Zero,
			RealizedPnl: decimal.Zero,
		},
	}
}

// Open increases the position by qty at price, updating the weighted
// average entry price. Appends an OPEN trade.
func (c *Context) Open(qty, price decimal.Decimal, reason string, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldQty := c.st.PositionQty
	newQty := oldQty.Add(qty)
	if newQty.IsZero() {
		c.st.AvgPrice = decimal.Zero
	} else {
		weighted := c.st.AvgPrice.Mul(oldQty).Add(price.Mul(qty))
		c.st.AvgPrice = weighted.Div(newQty)
	}
	c.st.PositionQty = newQty

	c.st.Trades = append(c.st.Trades, Trade{
		ID:     uuid.NewString(),
		Kind:   TradeOpen,
		Qty:    qty,
		Price:  price,
		Reason: reason,
		TS:     ts,
	})
}

// Close reduces the position by qty (clamped to the open quantity) at
// price, realizing P&L with the sign convention for this book's side.
// Returns the realized P&L delta for this close. When the position
// reaches zero, avgPrice resets (positionSide reporting follows qty).
func (c *Context) Close(qty, price decimal.Decimal, reason string, ts int64) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if qty.GreaterThan(c.st.PositionQty) {
		qty = c.st.PositionQty
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	var delta decimal.Decimal
	if c.side == Long {
		delta = price.Sub(c.st.AvgPrice).Mul(qty)
	} else {
		delta = c.st.AvgPrice.Sub(price).Mul(qty)
	}

	c.st.RealizedPnl = c.st.RealizedPnl.Add(delta)
	c.st.PositionQty = c.st.PositionQty.Sub(qty)
	if c.st.PositionQty.IsZero() {
		c.st.AvgPrice = decimal.Zero
	}

	c.st.Trades = append(c.st.Trades, Trade{
		ID:          uuid.NewString(),
		Kind:        TradeClose,
		Qty:         qty,
		Price:       price,
		RealizedPnl: delta,
		Reason:      reason,
		TS:          ts,
	})

	return delta
}

// UpdateMarkPrice records the latest trade price used for unrealized P&L.
func (c *Context) UpdateMarkPrice(price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.LastPrice = price
}

// PositionSide returns this book's side while a position is open, or ""
// once the position has been fully closed.
func (c *Context) PositionSide() Side {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.PositionQty.IsZero() {
		return ""
	}
	return c.side
}

// Qty returns the current open quantity (always >= 0).
func (c *Context) Qty() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.PositionQty
}

// EntryPrice returns the current weighted average entry price.
func (c *Context) EntryPrice() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.AvgPrice
}

// GetSnapshot computes unrealized P&L from the last mark price and
// returns the full read-only view, including performance metrics.
func (c *Context) GetSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var unrealized decimal.Decimal
	if !c.st.PositionQty.IsZero() {
		if c.side == Long {
			unrealized = c.st.LastPrice.Sub(c.st.AvgPrice).Mul(c.st.PositionQty)
		} else {
			unrealized = c.st.AvgPrice.Sub(c.st.LastPrice).Mul(c.st.PositionQty)
		}
	}
	total := c.st.RealizedPnl.Add(unrealized)

	posSide := c.side
	if c.st.PositionQty.IsZero() {
		posSide = ""
	}

	return Snapshot{
		Symbol:        c.symbol,
		Side:          c.side,
		PositionQty:   c.st.PositionQty.Round(2),
		PositionSide:  posSide,
		AvgPrice:      c.st.AvgPrice.Round(2),
		LastPrice:     c.st.LastPrice.Round(2),
		RealizedPnl:   c.st.RealizedPnl.Round(2),
		UnrealizedPnl: unrealized.Round(2),
		TotalPnl:      total.Round(2),
		TradeCount:    len(c.st.Trades),
		Trades:        append([]Trade(nil), c.st.Trades...),
		Metrics:       c.computeMetrics(total),
	}
}

// computeMetrics must be called with mu held.
func (c *Context) computeMetrics(total decimal.Decimal) Metrics {
	var totalWins, totalLosses, best, worst decimal.Decimal
	winCount, lossCount := 0, 0
	closedCount := 0
	realizedSum := decimal.Zero

	for _, t := range c.st.Trades {
		if t.Kind != TradeClose {
			continue
		}
		closedCount++
		realizedSum = realizedSum.Add(t.RealizedPnl)
		if closedCount == 1 {
			best, worst = t.RealizedPnl, t.RealizedPnl
		} else {
			if t.RealizedPnl.GreaterThan(best) {
				best = t.RealizedPnl
			}
			if t.RealizedPnl.LessThan(worst) {
				worst = t.RealizedPnl
			}
		}
		if t.RealizedPnl.GreaterThan(decimal.Zero) {
			winCount++
			totalWins = totalWins.Add(t.RealizedPnl)
		} else if t.RealizedPnl.LessThan(decimal.Zero) {
			lossCount++
			totalLosses = totalLosses.Add(t.RealizedPnl.Abs())
		}
	}

	var winRate, profitFactor, avgTradePnl decimal.Decimal
	if closedCount > 0 {
		winRate = decimal.NewFromInt(int64(winCount)).
			Div(decimal.NewFromInt(int64(closedCount))).
			Mul(decimal.NewFromInt(100))
		avgTradePnl = realizedSum.Div(decimal.NewFromInt(int64(closedCount)))
	}
	if totalLosses.GreaterThan(decimal.Zero) {
		profitFactor = totalWins.Div(totalLosses)
	}

	var pnlPct decimal.Decimal
	if c.notionalBase.GreaterThan(decimal.Zero) {
		pnlPct = total.Div(c.notionalBase).Mul(decimal.NewFromInt(100))
	}

	return Metrics{
		WinRate:       winRate.Round(2),
		ProfitFactor:  profitFactor.Round(2),
		BestTrade:     best.Round(2),
		WorstTrade:    worst.Round(2),
		AvgTradePnl:   avgTradePnl.Round(2),
		PnlPercentage: pnlPct.Round(2),
		TotalWins:     totalWins.Round(2),
		TotalLosses:   totalLosses.Round(2),
		WinCount:      winCount,
		LossCount:     lossCount,
	}
}

// MarshalState returns the JSON-serialized internal state for snapshotting.
func (c *Context) MarshalState() (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(c.st)
}

// RestoreState loads a previously-serialized state back into the Context.
func (c *Context) RestoreState(raw json.RawMessage) error {
	var st state
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st = st
	return nil
}

