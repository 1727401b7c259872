// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — ticks, execution and
// order-update events, ladder levels, tracked orders, position snapshots,
// and strategy configuration. It has no dependencies on internal packages,
// so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or fill: Buy or Sell.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction identifies which leg of a linked long/short pair a position
// belongs to.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// LevelSide classifies a ladder level.
type LevelSide string

const (
	LevelBuy  LevelSide = "Buy"
	LevelSell LevelSide = "Sell"
	LevelWait LevelSide = "Wait"
)

// OrderStatus is the lifecycle state of a tracked order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPlaced          OrderStatus = "placed"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
	OrderNew             OrderStatus = "New"
	OrderPartiallyFilled OrderStatus = "PartiallyFilled"
)

// WindDownMode describes how an orchestrator run treats open positions
// once the tick stream ends.
type WindDownMode string

const (
	WindDownLeaveOpen WindDownMode = "leave_open"
	WindDownCloseAll  WindDownMode = "close_all"
)

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Tick is a normalized ticker snapshot. Immutable once produced by
// ingestion or replay.
type Tick struct {
	Symbol      string
	ExchangeTS  time.Time
	LocalTS     time.Time
	LastPrice   decimal.Decimal
	MarkPrice   decimal.Decimal
	Bid1Price   decimal.Decimal
	Ask1Price   decimal.Decimal
	FundingRate decimal.Decimal
}

// PublicTrade is a normalized public trade print.
type PublicTrade struct {
	Symbol     string
	ExchangeTS time.Time
	LocalTS    time.Time
	TradeID    string // globally unique
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
}

// Execution is a normalized fill on one of our own orders. ExecID is
// globally unique; emitted only for (category=linear, execType=Trade) on
// the wire.
type Execution struct {
	Symbol      string
	ExchangeTS  time.Time
	LocalTS     time.Time
	ExecID      string
	OrderID     string
	OrderLinkID string
	Side        Side
	Price       decimal.Decimal
	Qty         decimal.Decimal
	Fee         decimal.Decimal
	ClosedPnL   decimal.Decimal
	LeavesQty   decimal.Decimal
	ClosedSize  decimal.Decimal
}

// OrderUpdate is a normalized order lifecycle snapshot, emitted only for
// (category=linear, orderType=Limit) on the wire.
type OrderUpdate struct {
	Symbol      string
	ExchangeTS  time.Time
	OrderID     string
	OrderLinkID string
	Status      OrderStatus
	Side        Side
	Price       decimal.Decimal
	Qty         decimal.Decimal
	LeavesQty   decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Grid ladder
// ————————————————————————————————————————————————————————————————————————

// Level is a single price rung in a grid ladder, ordered by price ascending.
type Level struct {
	Side  LevelSide
	Price decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Orders and intents
// ————————————————————————————————————————————————————————————————————————

// TrackedOrder is the engine/executor's view of a single working order.
type TrackedOrder struct {
	ClientOrderID string
	OrderID       string // empty until the exchange accepts it
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Direction     Direction
	GridLevel     int
	Status        OrderStatus
	CreatedTS     time.Time
}

// IntentKind distinguishes the two actions the grid engine can request.
type IntentKind string

const (
	IntentPlaceLimit IntentKind = "place_limit"
	IntentCancel     IntentKind = "cancel"
)

// Intent is an action the grid engine wants the executor to carry out.
// For IntentCancel, OrderID identifies the order to cancel and Reason
// documents why ("outside_grid", "side_mismatch", "rebuild").
// For IntentPlaceLimit, Qty is always zero — the executor's quantity
// calculator fills it in from the amount expression and risk multiplier.
type Intent struct {
	Kind      IntentKind
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Direction Direction
	GridLevel int
	OrderID   string
	Reason    string
}

// ————————————————————————————————————————————————————————————————————————
// Position
// ————————————————————————————————————————————————————————————————————————

// Position is the per-direction, per-strategy state tracked by the engine.
type Position struct {
	Direction         Direction
	Size              decimal.Decimal // always >= 0
	AvgEntryPrice     decimal.Decimal
	RealizedPnL       decimal.Decimal
	CommissionPaid    decimal.Decimal
	FundingPaid       decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	PositionValue     decimal.Decimal
	InitialMargin     decimal.Decimal
	MaintenanceMargin decimal.Decimal
	IMRRate           decimal.Decimal
	MMRRate           decimal.Decimal
	LiquidationPrice  decimal.Decimal
}

// IsEmpty reports whether the position has been fully closed.
func (p Position) IsEmpty() bool {
	return p.Size.IsZero()
}

// ————————————————————————————————————————————————————————————————————————
// Strategy configuration
// ————————————————————————————————————————————————————————————————————————

// RiskLimitTier is one row of an exchange's tiered margin table. The last
// tier in a valid table has MaxPositionValue = +Inf (decimal.Decimal has no
// native infinity, so callers use the sentinel margin.InfiniteCap).
type RiskLimitTier struct {
	MaxPositionValue decimal.Decimal
	MMRRate          decimal.Decimal
	Deduction        decimal.Decimal
	IMRRate          decimal.Decimal
}

// StrategyConfig is immutable for the lifetime of a run.
type StrategyConfig struct {
	StratID               string
	Symbol                string
	TickSize              decimal.Decimal
	QtyStep               decimal.Decimal
	MinQty                decimal.Decimal
	GridCount             int
	GridStep              decimal.Decimal // percent, e.g. 0.5 means 0.5%
	RebalanceThreshold    decimal.Decimal // percent; ladder.update shift threshold
	AmountExpression      string          // "N" | "xF" | "bN"
	CommissionRate        decimal.Decimal
	Leverage              decimal.Decimal
	MaintenanceMarginRate decimal.Decimal
	MinLiqRatio           decimal.Decimal
	MaxLiqRatio           decimal.Decimal
	MinTotalMargin        decimal.Decimal
	MaxMargin             decimal.Decimal
	EnableRiskMultipliers bool
	WindDownMode          WindDownMode
	EnableFunding         bool
	FundingRate           decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Session (run-scoped aggregate)
// ————————————————————————————————————————————————————————————————————————

// BacktestTrade is one recorded fill against the session's running totals.
type BacktestTrade struct {
	TS            time.Time
	Symbol        string
	ClientOrderID string
	OrderID       string
	Side          Side
	Direction     Direction
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Fee           decimal.Decimal
	RealizedPnL   decimal.Decimal
	GridLevel     int
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	TS     time.Time
	Equity decimal.Decimal
}
