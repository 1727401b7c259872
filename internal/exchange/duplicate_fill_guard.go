package exchange

import (
	"sync"

	"github.com/shopspring/decimal"
)

// duplicateFillBufferSize is how many recent fills per symbol DuplicateFillGuard
// retains to detect the same_order_error recovery pattern.
const duplicateFillBufferSize = 2

type recentFill struct {
	orderID string
	price   decimal.Decimal
}

// DuplicateFillGuard detects Bybit's documented same_order_error recovery
// heuristic: after a network blip, a retried order/create can be accepted
// twice by the exchange under two different order IDs, producing two
// executions at the same price in quick succession. It flags the condition
// so the caller can suppress a duplicate position update, then clears once
// the price moves, signalling the exchange has resumed normal fills.
//
// Grounded on the rolling-eviction idiom of a toxic-flow fill tracker: a
// small mutex-protected buffer per symbol, evicted as new fills arrive.
type DuplicateFillGuard struct {
	mu      sync.Mutex
	buffers map[string][]recentFill // symbol -> last duplicateFillBufferSize fills
	flagged map[string]bool
}

// NewDuplicateFillGuard creates an empty guard.
func NewDuplicateFillGuard() *DuplicateFillGuard {
	return &DuplicateFillGuard{
		buffers: make(map[string][]recentFill),
		flagged: make(map[string]bool),
	}
}

// Observe records a fill and reports whether it looks like a duplicate of
// the immediately preceding fill for the same symbol (same price, different
// order ID). The guard auto-clears once a fill at a different price arrives.
func (g *DuplicateFillGuard) Observe(symbol, orderID string, price decimal.Decimal) (isDuplicate bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	buf := g.buffers[symbol]

	if len(buf) > 0 {
		last := buf[len(buf)-1]
		if last.price.Equal(price) && last.orderID != orderID {
			g.flagged[symbol] = true
			isDuplicate = true
		} else if !last.price.Equal(price) {
			g.flagged[symbol] = false
		}
	}

	buf = append(buf, recentFill{orderID: orderID, price: price})
	if len(buf) > duplicateFillBufferSize {
		buf = buf[len(buf)-duplicateFillBufferSize:]
	}
	g.buffers[symbol] = buf

	return isDuplicate
}

// IsFlagged reports whether the symbol is currently in a suspected
// duplicate-fill condition.
func (g *DuplicateFillGuard) IsFlagged(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flagged[symbol]
}
