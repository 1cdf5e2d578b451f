// Package webhook implements the external interfaces: the signal
// webhook, the status endpoint, and relay CRUD.
//
// A plain net/http.ServeMux is the router — the route set is five
// handlers, and a full framework would add nothing. Relay fan-out uses
// github.com/go-resty/resty/v2 for its built-in per-request timeout.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/chidi150c/dualfsm-engine/internal/fsm"
	"github.com/chidi150c/dualfsm-engine/internal/metrics"
	"github.com/chidi150c/dualfsm-engine/internal/pnl"
	"github.com/chidi150c/dualfsm-engine/internal/session"
	"github.com/chidi150c/dualfsm-engine/internal/signalbus"
)

var (
	reEntry = regexp.MustCompile(`(?i)accepted\s+entry`)
	reExit  = regexp.MustCompile(`(?i)accepted\s+exit`)
)

// currentMillis stamps an accepted webhook signal for the history/relay
// payload. The FSM itself never compares against this value — every FSM
// time comparison uses the market tick's own TS.
func currentMillis() int64 {
	return time.Now().UnixMilli()
}

// incomingSignal is the JSON shape accepted by POST /webhook; a raw-text
// body is also accepted.
type incomingSignal struct {
	Message string `json:"message"`
	Text    string `json:"text"`
	Signal  string `json:"signal"`
}

// Server wires the webhook/status/relays HTTP surface to the engine's
// signal bus and read models.
type Server struct {
	Mux *http.ServeMux

	symbol  string
	bus     *signalbus.Bus
	dual    *fsm.Dual
	session *session.Manager
	longPnl *pnl.Context
	shortPnl *pnl.Context

	relays        *RelaySet
	relaysEnabled bool
	client        *resty.Client
}

// New builds the webhook server. relayTimeout bounds each relay POST.
// relaysEnabled gates fanOut: operators can keep relay URLs registered
// while temporarily suspending delivery, without clearing the set.
func New(symbol string, bus *signalbus.Bus, dual *fsm.Dual, sess *session.Manager, longPnl, shortPnl *pnl.Context, relayTimeout time.Duration, relaysEnabled bool) *Server {
	s := &Server{
		symbol:        symbol,
		bus:           bus,
		dual:          dual,
		session:       sess,
		longPnl:       longPnl,
		shortPnl:      shortPnl,
		relays:        newRelaySet(),
		relaysEnabled: relaysEnabled,
		client:        resty.New().SetTimeout(relayTimeout),
	}
	s.Mux = http.NewServeMux()
	s.Mux.HandleFunc("/webhook", s.handleWebhook)
	s.Mux.HandleFunc("/status", s.handleStatus)
	s.Mux.HandleFunc("/relays", s.handleRelays)
	return s
}

type relaySignal struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Side       string `json:"side"`
	RawMessage string `json:"rawMessage"`
	TS         int64  `json:"ts"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	raw := extractMessage(body)
	var side signalbus.Topic
	switch {
	case reEntry.MatchString(raw):
		side = signalbus.Buy
	case reExit.MatchString(raw):
		side = signalbus.Sell
	default:
		http.Error(w, `{"status":"rejected"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))

	ts := currentMillis()
	switch side {
	case signalbus.Buy:
		s.bus.Publish(signalbus.Buy, ts)
		metrics.Signals.WithLabelValues("LONG").Inc()
	case signalbus.Sell:
		s.bus.Publish(signalbus.Sell, ts)
		metrics.Signals.WithLabelValues("SHORT").Inc()
	}

	go s.fanOut(raw, side, ts)
}

// extractMessage tries JSON {message|text|signal}, falling back to the
// raw request body as text.
func extractMessage(body []byte) string {
	var in incomingSignal
	if err := json.Unmarshal(body, &in); err == nil {
		for _, v := range []string{in.Message, in.Text, in.Signal} {
			if strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return string(body)
}

func (s *Server) fanOut(raw string, side signalbus.Topic, ts int64) {
	if !s.relaysEnabled {
		return
	}
	urls := s.relays.List()
	if len(urls) == 0 {
		return
	}
	payload := relaySignal{
		Message:    raw,
		Type:       "tradingview-signal",
		Side:       string(side),
		RawMessage: raw,
		TS:         ts,
	}
	for _, u := range urls {
		resp, err := s.client.R().SetBody(payload).Post(u)
		if err != nil {
			log.Warn().Err(err).Str("url", u).Msg("webhook: relay fan-out failed")
			continue
		}
		if resp.IsError() {
			log.Warn().Str("url", u).Int("status", resp.StatusCode()).Msg("webhook: relay responded with an error")
		}
	}
}

type statusResponse struct {
	BuyState      fsm.State        `json:"buyState"`
	SellState     fsm.State        `json:"sellState"`
	LongPosition  *fsm.Position    `json:"longPosition"`
	ShortPosition *fsm.Position    `json:"shortPosition"`
	Anchors       fsm.StatusAnchors `json:"anchors"`
	SignalHistory []fsm.SignalEvent `json:"signalHistory"`
	PnL           struct {
		Long  pnl.Snapshot `json:"long"`
		Short pnl.Snapshot `json:"short"`
	} `json:"pnl"`
	Session session.Snapshot `json:"session"`
	Timers  fsm.StatusTimers `json:"timers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	view := s.dual.Status()
	resp := statusResponse{
		BuyState:      view.BuyState,
		SellState:     view.SellState,
		LongPosition:  view.LongPosition,
		ShortPosition: view.ShortPosition,
		Anchors:       view.Anchors,
		SignalHistory: view.SignalHistory,
		Session:       s.session.GetSnapshot(),
		Timers:        view.Timers,
	}
	resp.PnL.Long = s.longPnl.GetSnapshot()
	resp.PnL.Short = s.shortPnl.GetSnapshot()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type relayRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleRelays(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{"relays": s.relays.List()})

	case http.MethodPost:
		var req relayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !s.relays.Add(req.URL) {
			http.Error(w, "invalid relay url", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		var req relayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		s.relays.Remove(req.URL)
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
