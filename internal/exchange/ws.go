// ws.go implements WebSocket feeds for real-time Bybit v5 linear-futures data.
//
// Two independent feeds run concurrently:
//
//   - Public feed: subscribes to "tickers.<symbol>" and "publicTrade.<symbol>"
//     topics, emitting normalized Tick and PublicTrade events.
//
//   - Private feed (authenticated): dispatches the "execution" and "order"
//     topics, emitting normalized Execution and OrderUpdate events for our
//     own account. Other topics (e.g. "position") are logged and ignored.
//
// Both feeds auto-reconnect with exponential backoff (1s → 30s max) and
// re-subscribe to all tracked topics on reconnection. A read deadline (90s)
// ensures silent server failures are detected within ~4 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

const (
	pingInterval     = 20 * time.Second // Bybit recommends a ping every 20s
	readTimeout      = 90 * time.Second // ~4 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	tickBufferSize   = 256              // buffer for ticker/trade events
	eventBufferSize  = 64               // buffer for execution/order events
)

// WSFeed manages a single WebSocket connection (public or private channel).
// It handles connection lifecycle, subscription tracking, message routing,
// and automatic reconnection with exponential backoff.
type WSFeed struct {
	url     string
	conn    *websocket.Conn
	connMu  sync.Mutex // protects conn reads/writes
	auth    *Auth      // nil for public channel, set for private channel
	private bool

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // topic strings, e.g. "tickers.BTCUSDT"

	tickCh      chan types.Tick
	tradeCh     chan types.PublicTrade
	execCh      chan types.Execution
	orderCh     chan types.OrderUpdate

	logger *slog.Logger
}

// NewPublicFeed creates a WebSocket feed for the public channel.
func NewPublicFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:        wsURL,
		private:    false,
		subscribed: make(map[string]bool),
		tickCh:     make(chan types.Tick, tickBufferSize),
		tradeCh:    make(chan types.PublicTrade, tickBufferSize),
		execCh:     make(chan types.Execution, eventBufferSize),
		orderCh:    make(chan types.OrderUpdate, eventBufferSize),
		logger:     logger.With("component", "ws_public"),
	}
}

// NewPrivateFeed creates a WebSocket feed for the authenticated private
// channel (execution and order topics).
func NewPrivateFeed(wsURL string, auth *Auth, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:        wsURL,
		auth:       auth,
		private:    true,
		subscribed: make(map[string]bool),
		tickCh:     make(chan types.Tick, tickBufferSize),
		tradeCh:    make(chan types.PublicTrade, tickBufferSize),
		execCh:     make(chan types.Execution, eventBufferSize),
		orderCh:    make(chan types.OrderUpdate, eventBufferSize),
		logger:     logger.With("component", "ws_private"),
	}
}

// TickEvents returns a read-only channel of ticker snapshots (public channel).
func (f *WSFeed) TickEvents() <-chan types.Tick { return f.tickCh }

// TradeEvents returns a read-only channel of public trade prints (public channel).
func (f *WSFeed) TradeEvents() <-chan types.PublicTrade { return f.tradeCh }

// ExecutionEvents returns a read-only channel of our own fills (private channel).
func (f *WSFeed) ExecutionEvents() <-chan types.Execution { return f.execCh }

// OrderEvents returns a read-only channel of our own order lifecycle updates
// (private channel).
func (f *WSFeed) OrderEvents() <-chan types.OrderUpdate { return f.orderCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds topic strings, e.g. "tickers.BTCUSDT" or "publicTrade.ETHUSDT".
func (f *WSFeed) Subscribe(topics []string) error {
	f.subscribedMu.Lock()
	for _, t := range topics {
		f.subscribed[t] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(map[string]any{"op": "subscribe", "args": topics})
}

// Unsubscribe removes topics from the subscription.
func (f *WSFeed) Unsubscribe(topics []string) error {
	f.subscribedMu.Lock()
	for _, t := range topics {
		delete(f.subscribed, t)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(map[string]any{"op": "unsubscribe", "args": topics})
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
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
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

	if f.private {
		if err := f.writeJSON(map[string]any{"op": "auth", "args": f.auth.WSAuthArgs()}); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "private", f.private)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	topics := make([]string, 0, len(f.subscribed))
	for t := range f.subscribed {
		topics = append(topics, t)
	}
	f.subscribedMu.RUnlock()

	if len(topics) == 0 {
		return nil
	}
	return f.writeJSON(map[string]any{"op": "subscribe", "args": topics})
}

// envelope is Bybit's common WS push shape: "topic" identifies the stream,
// "data" carries the payload (shape depends on topic), "ts" is the server
// timestamp in epoch milliseconds.
type envelope struct {
	Topic string          `json:"topic"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}
	if env.Topic == "" {
		// op acks (subscribe/auth/pong) carry no topic.
		return
	}

	localTS := time.Now()
	exchangeTS := time.UnixMilli(env.TS)

	switch {
	case strings.HasPrefix(env.Topic, "tickers."):
		f.dispatchTicker(env.Data, exchangeTS, localTS)
	case strings.HasPrefix(env.Topic, "publicTrade."):
		f.dispatchPublicTrade(env.Data, localTS)
	case env.Topic == "execution" || env.Topic == "execution.linear":
		f.dispatchExecution(env.Data, localTS)
	case env.Topic == "order" || env.Topic == "order.linear":
		f.dispatchOrder(env.Data, exchangeTS)
	default:
		f.logger.Debug("unhandled ws topic", "topic", env.Topic)
	}
}

func (f *WSFeed) dispatchTicker(data []byte, exchangeTS, localTS time.Time) {
	var wire struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		MarkPrice   string `json:"markPrice"`
		Bid1Price   string `json:"bid1Price"`
		Ask1Price   string `json:"ask1Price"`
		FundingRate string `json:"fundingRate"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		f.logger.Error("unmarshal ticker", "error", err)
		return
	}
	tick := types.Tick{
		Symbol:      wire.Symbol,
		ExchangeTS:  exchangeTS,
		LocalTS:     localTS,
		LastPrice:   decimalOrZero(wire.LastPrice),
		MarkPrice:   decimalOrZero(wire.MarkPrice),
		Bid1Price:   decimalOrZero(wire.Bid1Price),
		Ask1Price:   decimalOrZero(wire.Ask1Price),
		FundingRate: decimalOrZero(wire.FundingRate),
	}
	select {
	case f.tickCh <- tick:
	default:
		f.logger.Warn("tick channel full, dropping event", "symbol", tick.Symbol)
	}
}

func (f *WSFeed) dispatchPublicTrade(data []byte, localTS time.Time) {
	var wire []struct {
		Symbol string `json:"s"`
		Time   int64  `json:"T"`
		TradeID string `json:"i"`
		Side   string `json:"S"`
		Price  string `json:"p"`
		Size   string `json:"v"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		f.logger.Error("unmarshal public trade", "error", err)
		return
	}
	for _, t := range wire {
		trade := types.PublicTrade{
			Symbol:     t.Symbol,
			ExchangeTS: time.UnixMilli(t.Time),
			LocalTS:    localTS,
			TradeID:    t.TradeID,
			Side:       types.Side(t.Side),
			Price:      decimalOrZero(t.Price),
			Size:       decimalOrZero(t.Size),
		}
		select {
		case f.tradeCh <- trade:
		default:
			f.logger.Warn("trade channel full, dropping event", "symbol", trade.Symbol)
		}
	}
}

func (f *WSFeed) dispatchExecution(data []byte, localTS time.Time) {
	var wire []struct {
		Symbol      string `json:"symbol"`
		ExecTime    string `json:"execTime"`
		ExecID      string `json:"execId"`
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		Side        string `json:"side"`
		ExecPrice   string `json:"execPrice"`
		ExecQty     string `json:"execQty"`
		ExecFee     string `json:"execFee"`
		ClosedPnl   string `json:"closedPnl"`
		LeavesQty   string `json:"leavesQty"`
		ExecType    string `json:"execType"`
		Category    string `json:"category"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		f.logger.Error("unmarshal execution", "error", err)
		return
	}
	for _, e := range wire {
		if e.ExecType != "" && e.ExecType != "Trade" {
			continue
		}
		if e.Category != "" && e.Category != "linear" {
			continue
		}
		execTimeMs, _ := strconv.ParseInt(e.ExecTime, 10, 64)
		exec := types.Execution{
			Symbol:      e.Symbol,
			ExchangeTS:  time.UnixMilli(execTimeMs),
			LocalTS:     localTS,
			ExecID:      e.ExecID,
			OrderID:     e.OrderID,
			OrderLinkID: e.OrderLinkID,
			Side:        types.Side(e.Side),
			Price:       decimalOrZero(e.ExecPrice),
			Qty:         decimalOrZero(e.ExecQty),
			Fee:         decimalOrZero(e.ExecFee),
			ClosedPnL:   decimalOrZero(e.ClosedPnl),
			LeavesQty:   decimalOrZero(e.LeavesQty),
		}
		select {
		case f.execCh <- exec:
		default:
			f.logger.Warn("execution channel full, dropping event", "exec_id", exec.ExecID)
		}
	}
}

func (f *WSFeed) dispatchOrder(data []byte, exchangeTS time.Time) {
	var wire []struct {
		Symbol      string `json:"symbol"`
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		OrderStatus string `json:"orderStatus"`
		Side        string `json:"side"`
		Price       string `json:"price"`
		Qty         string `json:"qty"`
		LeavesQty   string `json:"leavesQty"`
		OrderType   string `json:"orderType"`
		Category    string `json:"category"`
		UpdatedTime string `json:"updatedTime"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		f.logger.Error("unmarshal order update", "error", err)
		return
	}
	for _, o := range wire {
		if o.OrderType != "" && o.OrderType != "Limit" {
			continue
		}
		if o.Category != "" && o.Category != "linear" {
			continue
		}
		ts := exchangeTS
		if ms, err := strconv.ParseInt(o.UpdatedTime, 10, 64); err == nil && ms > 0 {
			ts = time.UnixMilli(ms)
		}
		ou := types.OrderUpdate{
			Symbol:      o.Symbol,
			ExchangeTS:  ts,
			OrderID:     o.OrderID,
			OrderLinkID: o.OrderLinkID,
			Status:      types.OrderStatus(o.OrderStatus),
			Side:        types.Side(o.Side),
			Price:       decimalOrZero(o.Price),
			Qty:         decimalOrZero(o.Qty),
			LeavesQty:   decimalOrZero(o.LeavesQty),
		}
		select {
		case f.orderCh <- ou:
		default:
			f.logger.Warn("order channel full, dropping event", "order_id", ou.OrderID)
		}
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]any{"op": "ping"}); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func decimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
