// Package session implements the Session Manager: the cumulative-P&L
// gate that progresses trading from paper to live, and the daily-loss
// risk gate layered on top of it. The gate is mutex-guarded, built on
// github.com/shopspring/decimal, and logs every mode transition and
// daily-stop change through github.com/rs/zerolog.
package session

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Mode is the current trading mode. Monotone PAPER -> LIVE via the gate;
// may regress LIVE -> PAPER only via the live-negative circuit breaker.
type Mode string

const (
	Paper Mode = "PAPER"
	Live  Mode = "LIVE"
)

// TradeRecord is one realized close kept in the last-50 ring for
// /status.
type TradeRecord struct {
	Mode        Mode            `json:"mode"`
	Side        string          `json:"side"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
	TS          int64           `json:"ts"`
}

const tradesCap = 50

// state is the serializable internal state, used for both GetSnapshot()
// and snapshot persistence.
type state struct {
	Mode                 Mode            `json:"mode"`
	PaperCumulativePnl   decimal.Decimal `json:"paperCumulativePnl"`
	LiveCumulativePnl    decimal.Decimal `json:"liveCumulativePnl"`
	TotalLiveRealisedPnl decimal.Decimal `json:"totalLiveRealisedPnl"`
	DailyRealisedPnl     decimal.Decimal `json:"dailyRealisedPnl"`
	DailyLossLimit       decimal.Decimal `json:"dailyLossLimit"`
	DailyStopActive      bool            `json:"dailyStopActive"`
	Trades               []TradeRecord   `json:"trades"`
}

// Manager tracks cumulative paper/live P&L, enforces the one-way
// paper-to-live gate, and the daily-loss halt.
type Manager struct {
	mu sync.Mutex
	st state
}

// New creates a Session Manager starting in PAPER mode. dailyLossLimit
// must be negative.
func New(dailyLossLimit decimal.Decimal) *Manager {
	return &Manager{
		st: state{
			Mode:           Paper,
			DailyLossLimit: dailyLossLimit,
		},
	}
}

// UpdatePaperPnl is accepted only in PAPER mode: adds delta to the
// cumulative paper P&L, then gates — once cumulative paper P&L turns
// positive, mode flips to LIVE and the live cumulative counter resets.
// No-op (logged) outside PAPER mode.
func (m *Manager) UpdatePaperPnl(delta decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.Mode != Paper {
		log.Debug().Str("mode", string(m.st.Mode)).Msg("session: updatePaperPnl ignored outside PAPER mode")
		return
	}
	m.st.PaperCumulativePnl = m.st.PaperCumulativePnl.Add(delta)
	if m.st.PaperCumulativePnl.GreaterThan(decimal.Zero) {
		m.st.Mode = Live
		m.st.LiveCumulativePnl = decimal.Zero
		log.Info().
			Str("paperCumulativePnl", m.st.PaperCumulativePnl.String()).
			Msg("session: gate passed, mode changed to LIVE")
	}
}

// UpdateLivePnl is accepted only in LIVE mode: increments the live
// cumulative counter, the total-realized counter, and the daily
// counter, then applies the live-negative fallback and the daily-loss
// halt. No-op (logged) outside LIVE mode.
func (m *Manager) UpdateLivePnl(delta decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.Mode != Live {
		log.Debug().Str("mode", string(m.st.Mode)).Msg("session: updateLivePnl ignored outside LIVE mode")
		return
	}
	m.st.LiveCumulativePnl = m.st.LiveCumulativePnl.Add(delta)
	m.st.TotalLiveRealisedPnl = m.st.TotalLiveRealisedPnl.Add(delta)
	m.st.DailyRealisedPnl = m.st.DailyRealisedPnl.Add(delta)

	if m.st.LiveCumulativePnl.LessThan(decimal.Zero) {
		m.st.Mode = Paper
		m.st.DailyStopActive = true
		log.Warn().
			Str("liveCumulativePnl", m.st.LiveCumulativePnl.String()).
			Msg("session: live-negative fallback, mode changed back to PAPER")
	}
	if m.st.DailyRealisedPnl.LessThanOrEqual(m.st.DailyLossLimit) {
		m.st.DailyStopActive = true
		log.Warn().
			Str("dailyRealisedPnl", m.st.DailyRealisedPnl.String()).
			Str("dailyLossLimit", m.st.DailyLossLimit.String()).
			Msg("session: daily loss limit hit, daily stop activated")
	}
}

// RecordTrade appends a realized close to the last-50 ring.
func (m *Manager) RecordTrade(rec TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Trades = append(m.st.Trades, rec)
	if len(m.st.Trades) > tradesCap {
		m.st.Trades = m.st.Trades[len(m.st.Trades)-tradesCap:]
	}
}

// ResetDailyStats clears the daily counters, called once per day by an
// external scheduler.
func (m *Manager) ResetDailyStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.DailyRealisedPnl = decimal.Zero
	m.st.DailyStopActive = false
	log.Info().Msg("session: daily stats reset")
}

// Mode returns the current mode.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Mode
}

// DailyStopActive reports whether the daily loss halt is in effect.
func (m *Manager) DailyStopActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DailyStopActive
}

// Snapshot is the read-only view returned over /status.
type Snapshot struct {
	Mode                 Mode            `json:"mode"`
	PaperCumulativePnl   decimal.Decimal `json:"paperCumulativePnl"`
	LiveCumulativePnl    decimal.Decimal `json:"liveCumulativePnl"`
	TotalLiveRealisedPnl decimal.Decimal `json:"totalLiveRealisedPnl"`
	DailyRealisedPnl     decimal.Decimal `json:"dailyRealisedPnl"`
	DailyLossLimit       decimal.Decimal `json:"dailyLossLimit"`
	DailyStopActive      bool            `json:"dailyStopActive"`
	Trades               []TradeRecord   `json:"trades"`
}

// GetSnapshot returns the current session state.
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Mode:                 m.st.Mode,
		PaperCumulativePnl:   m.st.PaperCumulativePnl.Round(2),
		LiveCumulativePnl:    m.st.LiveCumulativePnl.Round(2),
		TotalLiveRealisedPnl: m.st.TotalLiveRealisedPnl.Round(2),
		DailyRealisedPnl:     m.st.DailyRealisedPnl.Round(2),
		DailyLossLimit:       m.st.DailyLossLimit,
		DailyStopActive:      m.st.DailyStopActive,
		Trades:               append([]TradeRecord(nil), m.st.Trades...),
	}
}

// MarshalState returns the JSON-serialized internal state for
// snapshotting.
func (m *Manager) MarshalState() (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(m.st)
}

// RestoreState loads a previously-serialized snapshot back into the
// Manager.
func (m *Manager) RestoreState(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st
	return nil
}
