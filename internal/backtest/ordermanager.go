package backtest

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/errs"
	"gridbot/internal/gridengine"
	"gridbot/pkg/types"
)

// SimulatedOrder is one resting or terminal order tracked by OrderManager.
type SimulatedOrder struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          types.Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Direction     types.Direction
	GridLevel     int
	Status        types.OrderStatus
	CreatedTS     time.Time
}

// Fill is one simulated execution, including the commission fee charged.
type Fill struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          types.Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Fee           decimal.Decimal
	Direction     types.Direction
	GridLevel     int
	TS            time.Time
}

// OrderManager tracks simulated orders by both order_id and client_order_id.
// Terminal orders move out of the dual index into a history log that the
// manager keeps for the whole run; the history is not bounded.
type OrderManager struct {
	mu sync.Mutex

	commissionRate decimal.Decimal

	active     map[string]*SimulatedOrder // orderID -> order
	byClientID map[string]*SimulatedOrder // clientOrderID -> order (only while pending/live)
	history    []*SimulatedOrder

	nextOrderID int
}

// NewOrderManager constructs an empty manager charging commissionRate per
// fill.
func NewOrderManager(commissionRate decimal.Decimal) *OrderManager {
	return &OrderManager{
		commissionRate: commissionRate,
		active:         make(map[string]*SimulatedOrder),
		byClientID:     make(map[string]*SimulatedOrder),
	}
}

// Place creates a new simulated order. Rejects a client_order_id that is
// still live with errs.DuplicateClientId; a terminal (filled/cancelled)
// client_order_id may be reused.
func (om *OrderManager) Place(clientOrderID, symbol string, side types.Side, price, qty decimal.Decimal, direction types.Direction, gridLevel int, ts time.Time) (*SimulatedOrder, error) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if _, live := om.byClientID[clientOrderID]; live {
		return nil, fmt.Errorf("%w: client_order_id %q is still live", errs.DuplicateClientId, clientOrderID)
	}

	om.nextOrderID++
	order := &SimulatedOrder{
		OrderID:       "sim-" + strconv.Itoa(om.nextOrderID),
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Qty:           qty,
		Direction:     direction,
		GridLevel:     gridLevel,
		Status:        types.OrderNew,
		CreatedTS:     ts,
	}
	om.active[order.OrderID] = order
	om.byClientID[clientOrderID] = order
	return order, nil
}

// CancelByOrderID moves a live order to history as cancelled. Returns false
// if no such live order exists.
func (om *OrderManager) CancelByOrderID(orderID string, ts time.Time) bool {
	om.mu.Lock()
	defer om.mu.Unlock()

	order, ok := om.active[orderID]
	if !ok {
		return false
	}
	om.terminalLocked(order, types.OrderCancelled)
	return true
}

// CancelByClientOrderID is CancelByOrderID keyed by client_order_id.
func (om *OrderManager) CancelByClientOrderID(clientOrderID string, ts time.Time) bool {
	om.mu.Lock()
	defer om.mu.Unlock()

	order, ok := om.byClientID[clientOrderID]
	if !ok {
		return false
	}
	om.terminalLocked(order, types.OrderCancelled)
	return true
}

// terminalLocked removes order from the active indexes, stamps its final
// status, and appends it to history. Caller holds om.mu.
func (om *OrderManager) terminalLocked(order *SimulatedOrder, status types.OrderStatus) {
	order.Status = status
	delete(om.active, order.OrderID)
	delete(om.byClientID, order.ClientOrderID)
	om.history = append(om.history, order)
}

// CheckFills scans active orders against the trade-through rule at price,
// optionally restricted to one symbol. Matching orders move to history as
// filled; their Fill records (with commission fee) are returned in no
// particular order.
func (om *OrderManager) CheckFills(price decimal.Decimal, ts time.Time, symbol string) []Fill {
	om.mu.Lock()
	defer om.mu.Unlock()

	var fills []Fill
	for _, order := range om.active {
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		if !WouldFill(order.Side, order.Price, price) {
			continue
		}
		fee := order.Qty.Mul(order.Price).Mul(om.commissionRate)
		fills = append(fills, Fill{
			OrderID:       order.OrderID,
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Price:         order.Price,
			Qty:           order.Qty,
			Fee:           fee,
			Direction:     order.Direction,
			GridLevel:     order.GridLevel,
			TS:            ts,
		})
		om.terminalLocked(order, types.OrderFilled)
	}
	return fills
}

// GetLimitOrders projects active orders into the shape the grid engine's
// diff procedure expects, grouped by direction.
func (om *OrderManager) GetLimitOrders(symbol string) gridengine.OpenOrdersBySide {
	om.mu.Lock()
	defer om.mu.Unlock()

	var out gridengine.OpenOrdersBySide
	for _, order := range om.active {
		if order.Symbol != symbol {
			continue
		}
		oo := gridengine.OpenOrder{OrderID: order.OrderID, Price: order.Price, Side: order.Side}
		if order.Direction == types.Long {
			out.Long = append(out.Long, oo)
		} else {
			out.Short = append(out.Short, oo)
		}
	}
	return out
}
