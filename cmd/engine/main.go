// Command engine runs the dual-FSM tick-driven trading engine for a
// single instrument.
//
// Boot sequence:
//   1) config.LoadDotEnv()     – read .env (no shell exports required)
//   2) cfg := config.LoadFromEnv()
//   3) wire PnL books, paper broker, dual FSM, session manager
//   4) restore from snapshot if one exists; reconcile in-flight timers
//   5) start HTTP server (webhook/status/relays + /healthz + /metrics)
//   6) start market data client, snapshot timer
//   7) block on signal, then persist once more and shut down
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/dualfsm-engine/internal/broker"
	"github.com/chidi150c/dualfsm-engine/internal/clock"
	"github.com/chidi150c/dualfsm-engine/internal/config"
	"github.com/chidi150c/dualfsm-engine/internal/fsm"
	"github.com/chidi150c/dualfsm-engine/internal/marketdata"
	"github.com/chidi150c/dualfsm-engine/internal/metrics"
	"github.com/chidi150c/dualfsm-engine/internal/pnl"
	"github.com/chidi150c/dualfsm-engine/internal/session"
	"github.com/chidi150c/dualfsm-engine/internal/signalbus"
	"github.com/chidi150c/dualfsm-engine/internal/snapshot"
	"github.com/chidi150c/dualfsm-engine/internal/webhook"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadFromEnv()
	configureLogging(cfg.LogLevel)

	longPnl := pnl.NewContext(cfg.Symbol, pnl.Long, cfg.NotionalBase)
	shortPnl := pnl.NewContext(cfg.Symbol, pnl.Short, cfg.NotionalBase)
	sess := session.New(cfg.DailyLossLimitUSD)
	paperBroker := broker.NewPaperBroker(longPnl, shortPnl, sess)
	dual := fsm.New(paperBroker, cfg.AnchorOffset)
	bus := signalbus.New()
	bus.Subscribe(signalbus.Buy, dual.OnBuySignal)
	bus.Subscribe(signalbus.Sell, dual.OnSellSignal)

	store, err := snapshot.NewStore(cfg.StateDir)
	if err != nil {
		log.Fatal().Err(err).Msg("engine: cannot initialize state directory")
	}
	restoreFromSnapshot(store, cfg.Symbol, dual, sess, longPnl, shortPnl)
	dual.ReconcileClock(time.Now().UnixMilli())

	srv := webhook.New(cfg.Symbol, bus, dual, sess, longPnl, shortPnl, cfg.RelayTimeout, cfg.RelaysEnabled)
	srv.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	srv.Mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: srv.Mux}
	go func() {
		log.Info().Int("port", cfg.Port).Msg("engine: serving webhook/status/relays/metrics")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("engine: http server failed")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// tickMu makes each tick's FSM + P&L update and each snapshot read
	// mutually exclusive, so a snapshot never captures half a tick.
	var tickMu sync.Mutex
	mdClient := marketdata.New(cfg.MarketDataWSURL, cfg.WSMaxReconnects, cfg.WSBackoff)
	go func() {
		err := mdClient.Run(ctx, func(tick clock.Tick) {
			tickMu.Lock()
			defer tickMu.Unlock()
			dual.OnTick(tick)
			longPnl.UpdateMarkPrice(tick.Price)
			shortPnl.UpdateMarkPrice(tick.Price)
			updateMetrics(dual, sess, longPnl, shortPnl)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("engine: market data client stopped")
		}
	}()

	snapStop := make(chan struct{})
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		snapshot.RunPeriodic(snapStop, cfg.SnapshotInterval, cfg.Symbol, store, func() snapshot.SourceStates {
			tickMu.Lock()
			defer tickMu.Unlock()
			return collectSnapshotState(dual, sess, longPnl, shortPnl)
		})
	}()

	<-ctx.Done()
	log.Info().Msg("engine: shutting down")
	mdClient.Close()
	close(snapStop)
	<-snapDone

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = httpSrv.Shutdown(shutdownCtx)
}

func configureLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func restoreFromSnapshot(store *snapshot.Store, symbol string, dual *fsm.Dual, sess *session.Manager, longPnl, shortPnl *pnl.Context) {
	doc, err := store.Load(symbol)
	if err != nil {
		log.Info().Str("symbol", symbol).Msg("engine: no prior snapshot, starting fresh")
		return
	}
	if err := dual.RestoreState(doc.FSM); err != nil {
		log.Error().Err(err).Msg("engine: failed to restore FSM state")
	}
	if err := sess.RestoreState(doc.Session); err != nil {
		log.Error().Err(err).Msg("engine: failed to restore session state")
	}
	if len(doc.Pnl) > 0 {
		restorePnlState(doc.Pnl, longPnl, shortPnl)
	}
	log.Info().Str("symbol", symbol).Time("snapshotTs", doc.Timestamp).Msg("engine: restored from snapshot")
}

// pnlDocument is the shape the "pnl" field of a snapshot.Document takes:
// each side's Context serialized independently, since long and short P&L
// stay two separate books rather than one aggregated position.
type pnlDocument struct {
	Long  json.RawMessage `json:"long"`
	Short json.RawMessage `json:"short"`
}

func restorePnlState(raw json.RawMessage, longPnl, shortPnl *pnl.Context) {
	var doc pnlDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		log.Error().Err(err).Msg("engine: failed to parse pnl snapshot")
		return
	}
	if len(doc.Long) > 0 {
		if err := longPnl.RestoreState(doc.Long); err != nil {
			log.Error().Err(err).Msg("engine: failed to restore long pnl state")
		}
	}
	if len(doc.Short) > 0 {
		if err := shortPnl.RestoreState(doc.Short); err != nil {
			log.Error().Err(err).Msg("engine: failed to restore short pnl state")
		}
	}
}

func marshalPnlState(longPnl, shortPnl *pnl.Context) json.RawMessage {
	longRaw, err := longPnl.MarshalState()
	if err != nil {
		log.Error().Err(err).Msg("engine: failed to marshal long pnl state")
		longRaw = json.RawMessage("null")
	}
	shortRaw, err := shortPnl.MarshalState()
	if err != nil {
		log.Error().Err(err).Msg("engine: failed to marshal short pnl state")
		shortRaw = json.RawMessage("null")
	}
	bs, err := json.Marshal(pnlDocument{Long: longRaw, Short: shortRaw})
	if err != nil {
		log.Error().Err(err).Msg("engine: failed to marshal pnl document")
		return nil
	}
	return bs
}

// collectSnapshotState gathers the three sub-states snapshot.RunPeriodic
// persists on each tick of its own ticker and on shutdown.
func collectSnapshotState(dual *fsm.Dual, sess *session.Manager, longPnl, shortPnl *pnl.Context) snapshot.SourceStates {
	fsmRaw, err := dual.MarshalState()
	if err != nil {
		log.Error().Err(err).Msg("engine: failed to marshal fsm state")
	}
	sessRaw, err := sess.MarshalState()
	if err != nil {
		log.Error().Err(err).Msg("engine: failed to marshal session state")
	}
	return snapshot.SourceStates{
		FSM:     fsmRaw,
		Session: sessRaw,
		Pnl:     marshalPnlState(longPnl, shortPnl),
	}
}

// updateMetrics refreshes the Prometheus gauges after each tick.
func updateMetrics(dual *fsm.Dual, sess *session.Manager, longPnl, shortPnl *pnl.Context) {
	view := dual.Status()
	for _, st := range fsm.AllStates {
		metrics.FSMState.WithLabelValues("long", string(st)).Set(boolToFloat(st == view.BuyState))
		metrics.FSMState.WithLabelValues("short", string(st)).Set(boolToFloat(st == view.SellState))
	}

	longSnap := longPnl.GetSnapshot()
	shortSnap := shortPnl.GetSnapshot()
	metrics.PnL.WithLabelValues("long", "realized").Set(toFloat(longSnap.RealizedPnl))
	metrics.PnL.WithLabelValues("long", "unrealized").Set(toFloat(longSnap.UnrealizedPnl))
	metrics.PnL.WithLabelValues("short", "realized").Set(toFloat(shortSnap.RealizedPnl))
	metrics.PnL.WithLabelValues("short", "unrealized").Set(toFloat(shortSnap.UnrealizedPnl))

	sessSnap := sess.GetSnapshot()
	metrics.Mode.WithLabelValues("paper").Set(boolToFloat(sessSnap.Mode == session.Paper))
	metrics.Mode.WithLabelValues("live").Set(boolToFloat(sessSnap.Mode == session.Live))
	metrics.DailyStopActive.Set(boolToFloat(sessSnap.DailyStopActive))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
