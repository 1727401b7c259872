// Package exchange implements the Bybit v5 linear-futures REST and
// WebSocket clients.
//
// The REST client (Client) talks to the Bybit v5 unified-account API for
// order management and reference data:
//   - PlaceOrder:         POST /v5/order/create         — place a single limit order
//   - CancelOrder:        POST /v5/order/cancel          — cancel one order
//   - CancelAllOrders:    POST /v5/order/cancel-all      — emergency cancel everything for a symbol
//   - GetOpenOrders:      GET  /v5/order/realtime        — list resting orders
//   - GetInstrumentsInfo: GET  /v5/market/instruments-info — tick size, qty step, min qty
//   - GetRiskLimit:       GET  /v5/market/risk-limit     — tiered margin table
//
// Every request is rate-limited via per-category TokenBuckets, automatically
// retried on 5xx errors, and authenticated with HMAC-SHA256 headers via Auth.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/pkg/types"
)

// apiResponse is the common Bybit v5 response envelope.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Client is the Bybit v5 REST API client. It wraps a resty HTTP client with
// rate limiting, retry, and HMAC auth.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.RESTBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

// PlaceOrderRequest is the subset of Bybit's order/create fields the grid
// engine needs: a GTC limit order tagged with a client-supplied link ID.
type PlaceOrderRequest struct {
	Symbol        string
	Side          types.Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	OrderLinkID   string
	ReduceOnly    bool
	PositionIdx   int // 1 = long hedge leg, 2 = short hedge leg
}

// PlaceOrderResult is the accepted-order acknowledgement.
type PlaceOrderResult struct {
	OrderID     string
	OrderLinkID string
}

// PlaceOrder places a single GTC limit order. In dry-run mode it returns a
// synthetic acknowledgement without any HTTP call.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"symbol", req.Symbol, "side", req.Side, "price", req.Price, "qty", req.Qty, "link_id", req.OrderLinkID)
		return &PlaceOrderResult{OrderID: "dry-run-" + req.OrderLinkID, OrderLinkID: req.OrderLinkID}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"orderType":   "Limit",
		"qty":         req.Qty.String(),
		"price":       req.Price.String(),
		"timeInForce": "GTC",
		"orderLinkId": req.OrderLinkID,
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.PositionIdx != 0 {
		body["positionIdx"] = req.PositionIdx
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := c.post(ctx, "/v5/order/create", body, &result); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	return &PlaceOrderResult{OrderID: result.OrderID, OrderLinkID: result.OrderLinkID}, nil
}

// CancelOrder cancels a single order by exchange order ID or client link ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID, orderLinkID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "symbol", symbol, "order_id", orderID, "link_id", orderLinkID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := map[string]any{
		"category": "linear",
		"symbol":   symbol,
	}
	if orderID != "" {
		body["orderId"] = orderID
	}
	if orderLinkID != "" {
		body["orderLinkId"] = orderLinkID
	}

	if err := c.post(ctx, "/v5/order/cancel", body, nil); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// CancelAllOrders cancels every open order for a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders", "symbol", symbol)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := map[string]any{"category": "linear", "symbol": symbol}
	if err := c.post(ctx, "/v5/order/cancel-all", body, nil); err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	c.logger.Warn("all orders cancelled", "symbol", symbol)
	return nil
}

// OpenOrder is one row of GetOpenOrders' result.
type OpenOrder struct {
	OrderID     string
	OrderLinkID string
	Side        types.Side
	Price       decimal.Decimal
	Qty         decimal.Decimal
	LeavesQty   decimal.Decimal
}

// GetOpenOrders lists currently resting orders for a symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			Side        string `json:"side"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			LeavesQty   string `json:"leavesQty"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/order/realtime", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}, &result); err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}

	orders := make([]OpenOrder, 0, len(result.List))
	for _, o := range result.List {
		orders = append(orders, OpenOrder{
			OrderID:     o.OrderID,
			OrderLinkID: o.OrderLinkID,
			Side:        types.Side(o.Side),
			Price:       mustDecimal(o.Price),
			Qty:         mustDecimal(o.Qty),
			LeavesQty:   mustDecimal(o.LeavesQty),
		})
	}
	return orders, nil
}

// InstrumentInfo is the trading-rule subset of GetInstrumentsInfo needed by
// the grid engine and quantity calculator.
type InstrumentInfo struct {
	Symbol   string
	TickSize decimal.Decimal
	QtyStep  decimal.Decimal
	MinQty   decimal.Decimal
}

// GetInstrumentsInfo fetches tick size, quantity step, and minimum order
// quantity for a linear symbol.
func (c *Client) GetInstrumentsInfo(ctx context.Context, symbol string) (*InstrumentInfo, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
				MinQty  string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/instruments-info", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}, &result); err != nil {
		return nil, fmt.Errorf("get instruments info: %w", err)
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("get instruments info: no data for %s", symbol)
	}

	item := result.List[0]
	return &InstrumentInfo{
		Symbol:   item.Symbol,
		TickSize: mustDecimal(item.PriceFilter.TickSize),
		QtyStep:  mustDecimal(item.LotSizeFilter.QtyStep),
		MinQty:   mustDecimal(item.LotSizeFilter.MinQty),
	}, nil
}

// GetRiskLimit fetches the tiered maintenance-margin table for a symbol.
func (c *Client) GetRiskLimit(ctx context.Context, symbol string) ([]types.RiskLimitTier, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			RiskLimitValue string `json:"riskLimitValue"`
			MaxLeverage    string `json:"maxLeverage"`
			MaintainMargin string `json:"maintainMargin"`
			InitialMargin  string `json:"initialMargin"`
			IsLowestRisk   int    `json:"isLowestRisk"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/risk-limit", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}, &result); err != nil {
		return nil, fmt.Errorf("get risk limit: %w", err)
	}

	tiers := make([]types.RiskLimitTier, 0, len(result.List))
	for _, t := range result.List {
		tiers = append(tiers, types.RiskLimitTier{
			MaxPositionValue: mustDecimal(t.RiskLimitValue),
			MMRRate:          mustDecimal(t.MaintainMargin),
			IMRRate:          mustDecimal(t.InitialMargin),
		})
	}
	return tiers, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	headers := c.auth.RESTHeaders(string(raw))

	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(raw).
		SetResult(&env).
		Post(path)
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, env, out)
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	headers := c.auth.RESTHeaders("")

	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(query).
		SetResult(&env).
		Get(path)
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, env, out)
}

func decodeEnvelope(resp *resty.Response, env apiResponse, out any) error {
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	if env.RetCode != 0 {
		return fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
