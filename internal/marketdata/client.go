// Package marketdata subscribes to the external trade-tick stream and
// converts each frame into a clock.Tick. It is the one external-I/O
// edge the engine core owns a thin adapter for, since it feeds ticks
// directly into the dispatcher.
//
// Built on a gorilla/websocket connection with a mutex-guarded connected
// flag, a stopCh for clean shutdown, and zerolog-logged best-effort
// frame decoding — malformed frames are dropped, never fatal.
package marketdata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/dualfsm-engine/internal/clock"
)

// Frame mirrors the trade-stream wire format: "p" is a string-decimal
// price, "T" is the trade timestamp in epoch-ms.
type Frame struct {
	Price string `json:"p"`
	TS    int64  `json:"T"`
}

// OnTick is called once per decoded Frame, in order.
type OnTick func(tick clock.Tick)

// Client manages the WebSocket subscription with bounded, backed-off
// reconnection attempts.
type Client struct {
	url            string
	maxReconnects  int
	backoff        time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	stopCh    chan struct{}
}

// New creates a market data client for url with the given reconnect
// policy.
func New(url string, maxReconnects int, backoff time.Duration) *Client {
	return &Client{
		url:           url,
		maxReconnects: maxReconnects,
		backoff:       backoff,
		stopCh:        make(chan struct{}),
	}
}

// Run connects and streams frames to onTick until ctx is canceled or the
// reconnect budget is exhausted. Malformed frames are logged and
// skipped; connection failures retry with the configured backoff.
func (c *Client) Run(ctx context.Context, onTick OnTick) error {
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.connect(ctx); err != nil {
			attempts++
			log.Warn().Err(err).Int("attempt", attempts).Msg("marketdata: connect failed")
			if attempts > c.maxReconnects {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}

		attempts = 0
		err := c.readLoop(ctx, onTick)
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Msg("marketdata: connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case <-time.After(c.backoff):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) readLoop(ctx context.Context, onTick OnTick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return nil
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Msg("marketdata: malformed frame, dropped")
			continue
		}
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			log.Warn().Err(err).Str("p", f.Price).Msg("marketdata: unparsable price, dropped")
			continue
		}
		onTick(clock.NewTick(price, f.TS))
	}
}

// Close stops the client and closes any open connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
