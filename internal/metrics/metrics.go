// Package metrics exposes Prometheus metrics for the engine: CounterVec
// and GaugeVec series registered at init and served by promhttp at
// /metrics (wired in cmd/engine/main.go).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Accepted webhook signals by side.",
		},
		[]string{"side"},
	)

	// FSMState holds one labeled series per possible state, set to 1 for
	// the side's current state and 0 for every other, so dashboards can
	// chart state occupancy over time.
	FSMState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_fsm_state",
			Help: "Current FSM state indicator (1 for the active state, 0 otherwise).",
		},
		[]string{"side", "state"},
	)

	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Closed trades by side and result.",
		},
		[]string{"side", "result"},
	)

	PnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_pnl_usd",
			Help: "Realized/unrealized P&L by side and kind.",
		},
		[]string{"side", "kind"},
	)

	Mode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_mode",
			Help: "Session mode indicator (1 for the active mode, 0 otherwise).",
		},
		[]string{"mode"},
	)

	DailyStopActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_daily_stop_active",
			Help: "1 when the daily loss halt is in effect, else 0.",
		},
	)
)

func init() {
	prometheus.MustRegister(Signals, FSMState, Trades, PnL, Mode, DailyStopActive)
}
