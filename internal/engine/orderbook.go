package engine

import (
	"sync"

	"gridbot/internal/gridengine"
	"gridbot/pkg/types"
)

// liveOrderBook is the engine's local mirror of one symbol's resting orders,
// split by hedge-mode direction. It is the real-exchange analogue of the
// simulated backtest order manager: the grid engine's diff procedure needs
// the same OpenOrdersBySide shape regardless of whether the orders are
// simulated or real.
type liveOrderBook struct {
	mu sync.Mutex

	byDirection map[types.Direction]map[string]gridengine.OpenOrder // direction -> orderID -> order
	linkToOrder map[string]string                                   // orderLinkID -> orderID
	linkToDir   map[string]types.Direction                          // orderLinkID -> direction
	orderToLink map[string]string                                   // orderID -> orderLinkID
}

func newLiveOrderBook() *liveOrderBook {
	return &liveOrderBook{
		byDirection: map[types.Direction]map[string]gridengine.OpenOrder{
			types.Long:  make(map[string]gridengine.OpenOrder),
			types.Short: make(map[string]gridengine.OpenOrder),
		},
		linkToOrder: make(map[string]string),
		linkToDir:   make(map[string]types.Direction),
		orderToLink: make(map[string]string),
	}
}

// Add registers a newly placed order under its direction, keyed by both the
// exchange-assigned order ID and the client-supplied link ID.
func (b *liveOrderBook) Add(direction types.Direction, orderLinkID string, order gridengine.OpenOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.byDirection[direction][order.OrderID] = order
	b.linkToOrder[orderLinkID] = order.OrderID
	b.linkToDir[orderLinkID] = direction
	b.orderToLink[order.OrderID] = orderLinkID
}

// Remove drops an order by its exchange order ID, wherever it is tracked.
func (b *liveOrderBook) Remove(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(orderID)
}

func (b *liveOrderBook) removeLocked(orderID string) {
	for _, orders := range b.byDirection {
		delete(orders, orderID)
	}
	if link, ok := b.orderToLink[orderID]; ok {
		delete(b.linkToOrder, link)
		delete(b.linkToDir, link)
		delete(b.orderToLink, orderID)
	}
}

// Apply folds a private-feed order-update event into the book: terminal
// statuses remove the order, non-terminal statuses keep it tracked (the
// order is already present from Add, placed by this same engine).
func (b *liveOrderBook) Apply(ou types.OrderUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ou.Status {
	case types.OrderFilled, types.OrderCancelled, types.OrderRejected:
		b.removeLocked(ou.OrderID)
	case types.OrderNew, types.OrderPartiallyFilled:
		direction, ok := b.linkToDir[ou.OrderLinkID]
		if !ok {
			return
		}
		b.byDirection[direction][ou.OrderID] = gridengine.OpenOrder{
			OrderID: ou.OrderID,
			Price:   ou.Price,
			Side:    ou.Side,
		}
		b.linkToOrder[ou.OrderLinkID] = ou.OrderID
		b.orderToLink[ou.OrderID] = ou.OrderLinkID
	}
}

// DirectionOf returns which hedge-mode leg an order link ID belongs to.
// Defaults to Long if the link ID is unknown (should not happen for orders
// this engine placed itself).
func (b *liveOrderBook) DirectionOf(orderLinkID string) types.Direction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.linkToDir[orderLinkID]; ok {
		return d
	}
	return types.Long
}

// Snapshot returns a point-in-time copy of open orders grouped by direction,
// the shape gridengine.Engine.OnEvent's diff procedure consumes.
func (b *liveOrderBook) Snapshot() gridengine.OpenOrdersBySide {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out gridengine.OpenOrdersBySide
	for _, o := range b.byDirection[types.Long] {
		out.Long = append(out.Long, o)
	}
	for _, o := range b.byDirection[types.Short] {
		out.Short = append(out.Short, o)
	}
	return out
}

// Clear drops every tracked order, used after a kill-switch cancel-all.
func (b *liveOrderBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byDirection[types.Long] = make(map[string]gridengine.OpenOrder)
	b.byDirection[types.Short] = make(map[string]gridengine.OpenOrder)
	b.linkToOrder = make(map[string]string)
	b.linkToDir = make(map[string]types.Direction)
	b.orderToLink = make(map[string]string)
}
