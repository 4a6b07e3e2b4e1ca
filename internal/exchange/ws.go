// ws.go implements the authenticated broker WebSocket feed.
//
// One connection carries all subscribed channels. The consumer side of
// the engine uses two:
//
//   - orderbook_delta: book snapshots and incremental deltas for a finite
//     list of near-the-money contracts (orderbook consumer).
//
//   - market_positions: position-change triggers for the account sync.
//
// The feed auto-reconnects with a fixed 5 s back-off and replays the
// current subscription on every reconnection. A 10 s read deadline
// detects silent server failures; server pings are answered with pongs.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"strike-engine/pkg/types"
)

const (
	wsReadTimeout    = 10 * time.Second
	wsReconnectWait  = 5 * time.Second
	wsWriteTimeout   = 10 * time.Second
	deltaBufferSize  = 512
	eventBufferSize  = 64
)

// WSFeed manages the authenticated broker WebSocket connection: lifecycle,
// subscription tracking, message routing, and reconnection.
type WSFeed struct {
	url          string
	wsPathPrefix string
	auth         *Auth

	conn   *websocket.Conn
	connMu sync.Mutex

	// Current subscription, replayed on reconnect.
	subMu    sync.Mutex
	channels []string
	tickers  []string
	cmdID    int

	snapshotCh chan types.OrderbookSnapshotMsg
	deltaCh    chan types.OrderbookDeltaMsg
	positionCh chan types.MarketPositionMsg

	logger *slog.Logger
}

// NewWSFeed creates a feed for the broker socket at url. wsPathPrefix is
// the path used in the handshake signature.
func NewWSFeed(url, wsPathPrefix string, auth *Auth, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:          url,
		wsPathPrefix: wsPathPrefix,
		auth:         auth,
		snapshotCh:   make(chan types.OrderbookSnapshotMsg, eventBufferSize),
		deltaCh:      make(chan types.OrderbookDeltaMsg, deltaBufferSize),
		positionCh:   make(chan types.MarketPositionMsg, eventBufferSize),
		logger:       logger.With("component", "ws_broker"),
	}
}

// SnapshotEvents returns the channel of full orderbook snapshots.
func (f *WSFeed) SnapshotEvents() <-chan types.OrderbookSnapshotMsg { return f.snapshotCh }

// DeltaEvents returns the channel of incremental orderbook deltas.
func (f *WSFeed) DeltaEvents() <-chan types.OrderbookDeltaMsg { return f.deltaCh }

// PositionEvents returns the channel of market-position triggers.
func (f *WSFeed) PositionEvents() <-chan types.MarketPositionMsg { return f.positionCh }

// Subscribe replaces the current subscription with the given channels and
// market tickers and sends the command if connected. The same set is
// replayed automatically after reconnects.
func (f *WSFeed) Subscribe(channels, marketTickers []string) error {
	f.subMu.Lock()
	f.channels = append([]string(nil), channels...)
	f.tickers = append([]string(nil), marketTickers...)
	f.cmdID++
	cmd := types.WSCommand{
		ID:  f.cmdID,
		Cmd: "subscribe",
		Params: types.WSParams{
			Channels:      f.channels,
			MarketTickers: f.tickers,
		},
	}
	f.subMu.Unlock()

	return f.writeJSON(cmd)
}

// Run connects and maintains the connection until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", wsReconnectWait,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsReconnectWait):
		}
	}
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	sigHeaders, err := f.auth.Headers(http.MethodGet, f.wsPathPrefix)
	if err != nil {
		return fmt.Errorf("ws auth: %w", err)
	}
	header := http.Header{}
	for k, v := range sigHeaders {
		header.Set(k, v)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.replaySubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) replaySubscription() error {
	f.subMu.Lock()
	channels := append([]string(nil), f.channels...)
	tickers := append([]string(nil), f.tickers...)
	f.cmdID++
	id := f.cmdID
	f.subMu.Unlock()

	if len(channels) == 0 {
		return nil
	}
	return f.writeJSON(types.WSCommand{
		ID:  id,
		Cmd: "subscribe",
		Params: types.WSParams{
			Channels:      channels,
			MarketTickers: tickers,
		},
	})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var envelope struct {
		Type string          `json:"type"`
		Msg  json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Type {
	case "orderbook_snapshot":
		var msg types.OrderbookSnapshotMsg
		if err := json.Unmarshal(envelope.Msg, &msg); err != nil {
			f.logger.Error("unmarshal orderbook_snapshot", "error", err)
			return
		}
		select {
		case f.snapshotCh <- msg:
		default:
			f.logger.Warn("snapshot channel full, dropping", "ticker", msg.MarketTicker)
		}

	case "orderbook_delta":
		var msg types.OrderbookDeltaMsg
		if err := json.Unmarshal(envelope.Msg, &msg); err != nil {
			f.logger.Error("unmarshal orderbook_delta", "error", err)
			return
		}
		select {
		case f.deltaCh <- msg:
		default:
			f.logger.Warn("delta channel full, dropping", "ticker", msg.MarketTicker)
		}

	case "market_position":
		var msg types.MarketPositionMsg
		if err := json.Unmarshal(envelope.Msg, &msg); err != nil {
			f.logger.Error("unmarshal market_position", "error", err)
			return
		}
		select {
		case f.positionCh <- msg:
		default:
			f.logger.Warn("position channel full, dropping", "ticker", msg.MarketTicker)
		}

	case "ping":
		if err := f.writeMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
			f.logger.Warn("pong failed", "error", err)
		}

	case "subscribed", "ok":
		f.logger.Debug("subscription acknowledged")

	case "error":
		f.logger.Error("broker ws error", "payload", string(data))

	default:
		f.logger.Debug("unknown ws message type", "type", envelope.Type)
	}
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
