// Package gridengine implements the grid engine: a pure, event-driven state
// machine that maintains a price ladder around a reference price, emits
// place/cancel intents, and enforces consistency between the ladder and
// known open orders. No I/O.
package gridengine

import (
	"sort"

	"github.com/shopspring/decimal"

	"gridbot/internal/ladder"
	"gridbot/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// EventKind is the closed sum type over the three event kinds the engine
// consumes (ticker, execution, order update), replacing dynamic dispatch by
// runtime type. Public trades have no kind here and never reach the engine.
type EventKind int

const (
	EventTicker EventKind = iota
	EventExecution
	EventOrderUpdate
)

// Event is a tagged union: exactly one of Ticker, Execution, OrderUpd is
// populated, selected by Kind.
type Event struct {
	Kind      EventKind
	Ticker    *types.Tick
	Execution *types.Execution
	OrderUpd  *types.OrderUpdate
}

// TickerEvent wraps a Tick as an Event.
func TickerEvent(t types.Tick) Event { return Event{Kind: EventTicker, Ticker: &t} }

// ExecutionEvent wraps an Execution as an Event.
func ExecutionEvent(e types.Execution) Event { return Event{Kind: EventExecution, Execution: &e} }

// OrderUpdateEvent wraps an OrderUpdate as an Event.
func OrderUpdateEvent(o types.OrderUpdate) Event { return Event{Kind: EventOrderUpdate, OrderUpd: &o} }

// OpenOrder is the minimal view of a resting order the diff procedure
// needs: its price, side, and an identifier to cancel by.
type OpenOrder struct {
	OrderID string
	Price   decimal.Decimal
	Side    types.Side
}

// OpenOrdersBySide groups currently-open orders by direction, matching the
// {long: [...], short: [...]} shape the original engine consumed.
type OpenOrdersBySide struct {
	Long  []OpenOrder
	Short []OpenOrder
}

// Engine is the pure grid-ladder state machine for a single symbol.
type Engine struct {
	symbol    string
	tickSize  decimal.Decimal
	gridCount int
	gridStep  decimal.Decimal // percent

	ladder *ladder.Ladder

	lastClose        decimal.Decimal
	lastFilledPrice  decimal.Decimal
	startupAnchor    decimal.Decimal
	hasStartupAnchor bool

	// order_link_id -> order_id, tracked for visibility; the diff
	// procedure itself works off the caller-supplied OpenOrdersBySide.
	pendingOrders map[string]string
}

// Config configures a new Engine instance.
type Config struct {
	Symbol             string
	TickSize           decimal.Decimal
	GridCount          int
	GridStepPct        decimal.Decimal
	RebalanceThreshold decimal.Decimal
	// StartupAnchor, when set, seeds the first ladder build instead of
	// using the first observed last_close (grid restoration on restart).
	StartupAnchor    decimal.Decimal
	HasStartupAnchor bool
}

// New constructs an Engine with an empty ladder.
func New(cfg Config) *Engine {
	return &Engine{
		symbol:           cfg.Symbol,
		tickSize:         cfg.TickSize,
		gridCount:        cfg.GridCount,
		gridStep:         cfg.GridStepPct,
		ladder:           ladder.New(cfg.TickSize, cfg.GridCount, cfg.GridStepPct, cfg.RebalanceThreshold),
		startupAnchor:    cfg.StartupAnchor,
		hasStartupAnchor: cfg.HasStartupAnchor,
		pendingOrders:    make(map[string]string),
	}
}

// AnchorPrice exposes the ladder's current anchor for persistence.
func (e *Engine) AnchorPrice() decimal.Decimal {
	return e.ladder.AnchorPrice()
}

// OnEvent processes one event and returns the intents it produces.
// Deterministic: given identical event sequence, identical internal state,
// and identical openOrders snapshots, repeated calls emit identical
// intent sequences.
func (e *Engine) OnEvent(ev Event, openOrders OpenOrdersBySide) []types.Intent {
	switch ev.Kind {
	case EventTicker:
		return e.handleTicker(*ev.Ticker, openOrders)
	case EventExecution:
		return e.handleExecution(*ev.Execution)
	case EventOrderUpdate:
		return e.handleOrderUpdate(*ev.OrderUpd)
	default:
		return nil
	}
}

func (e *Engine) handleTicker(tick types.Tick, openOrders OpenOrdersBySide) []types.Intent {
	e.lastClose = tick.LastPrice

	if e.ladder.IsEmpty() {
		if e.hasStartupAnchor {
			e.ladder.Build(e.startupAnchor)
		} else {
			e.ladder.Build(e.lastClose)
		}
	}

	var intents []types.Intent
	intents = append(intents, e.diff(types.Long, openOrders.Long)...)
	intents = append(intents, e.diff(types.Short, openOrders.Short)...)
	return intents
}

func (e *Engine) handleExecution(exec types.Execution) []types.Intent {
	e.lastFilledPrice = exec.Price
	e.ladder.Update(e.lastFilledPrice, e.lastClose)
	return nil
}

func (e *Engine) handleOrderUpdate(ou types.OrderUpdate) []types.Intent {
	switch ou.Status {
	case types.OrderNew, types.OrderPartiallyFilled:
		e.pendingOrders[ou.OrderLinkID] = ou.OrderID
	case types.OrderFilled, types.OrderCancelled, types.OrderRejected:
		delete(e.pendingOrders, ou.OrderLinkID)
	}
	return nil
}

// diff implements the center-outward, price-tiebreak reconciliation
// between the ladder's desired non-Wait levels and the direction's open
// orders.
func (e *Engine) diff(direction types.Direction, openOrders []OpenOrder) []types.Intent {
	var intents []types.Intent

	if len(openOrders) > e.gridCount+10 {
		e.ladder.Rebuild(e.lastClose)
		for _, o := range openOrders {
			intents = append(intents, cancelIntent(e.symbol, o, "rebuild"))
		}
		return intents
	}

	if len(openOrders) > 0 && len(openOrders) < e.gridCount {
		e.ladder.Update(e.lastFilledPrice, e.lastClose)
	}

	levels := e.ladder.Levels()
	center := e.ladder.CenterIndex()

	// price (rounded to 8 decimals) -> open order at that price
	byPrice := make(map[string]OpenOrder, len(openOrders))
	for _, o := range openOrders {
		byPrice[roundKey(o.Price)] = o
	}

	type indexedLevel struct {
		idx   int
		level types.Level
	}
	var tradeLevels []indexedLevel
	for i, lv := range levels {
		if lv.Side != types.LevelWait {
			tradeLevels = append(tradeLevels, indexedLevel{i, lv})
		}
	}
	sort.SliceStable(tradeLevels, func(i, j int) bool {
		di := abs(tradeLevels[i].idx - center)
		dj := abs(tradeLevels[j].idx - center)
		if di != dj {
			return di < dj
		}
		return tradeLevels[i].level.Price.LessThan(tradeLevels[j].level.Price)
	})

	levelSide := func(ls types.LevelSide) types.Side {
		if ls == types.LevelBuy {
			return types.Buy
		}
		return types.Sell
	}

	for _, il := range tradeLevels {
		lv := il.level
		wantSide := levelSide(lv.Side)
		key := roundKey(lv.Price)
		order, exists := byPrice[key]

		if exists {
			if order.Side != wantSide {
				intents = append(intents, cancelIntent(e.symbol, order, "side_mismatch"))
				if pi, ok := e.placeIntent(lv, direction, il.idx, wantSide); ok {
					intents = append(intents, pi)
				}
			}
			continue
		}
		if pi, ok := e.placeIntent(lv, direction, il.idx, wantSide); ok {
			intents = append(intents, pi)
		}
	}

	ladderPrices := make(map[string]bool, len(levels))
	for _, lv := range levels {
		ladderPrices[roundKey(lv.Price)] = true
	}
	for _, o := range openOrders {
		if !ladderPrices[roundKey(o.Price)] {
			intents = append(intents, cancelIntent(e.symbol, o, "outside_grid"))
		}
	}

	return intents
}

// placeIntent evaluates place-intent eligibility for a single level:
// non-Wait side, correctly-signed distance from last_close, and far
// enough from the market to pass the too-close safety check.
func (e *Engine) placeIntent(lv types.Level, direction types.Direction, gridLevel int, side types.Side) (types.Intent, bool) {
	if lv.Side == types.LevelWait || e.lastClose.IsZero() {
		return types.Intent{}, false
	}

	diffPct := e.lastClose.Sub(lv.Price).Div(e.lastClose).Mul(hundred)

	if side == types.Buy && diffPct.Sign() <= 0 {
		return types.Intent{}, false
	}
	if side == types.Sell && diffPct.Sign() >= 0 {
		return types.Intent{}, false
	}
	if diffPct.Abs().LessThanOrEqual(e.gridStep.Div(decimal.NewFromInt(2))) {
		return types.Intent{}, false
	}

	return types.Intent{
		Kind:      types.IntentPlaceLimit,
		Symbol:    e.symbol,
		Side:      side,
		Price:     lv.Price,
		Qty:       decimal.Zero,
		Direction: direction,
		GridLevel: gridLevel,
	}, true
}

func cancelIntent(symbol string, o OpenOrder, reason string) types.Intent {
	return types.Intent{
		Kind:    types.IntentCancel,
		Symbol:  symbol,
		Side:    o.Side,
		Price:   o.Price,
		OrderID: o.OrderID,
		Reason:  reason,
	}
}

func roundKey(d decimal.Decimal) string {
	return d.Round(8).String()
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
