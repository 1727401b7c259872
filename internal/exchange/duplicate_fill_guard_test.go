package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDuplicateFillGuardFlagsSamePriceDifferentOrder(t *testing.T) {
	t.Parallel()

	g := NewDuplicateFillGuard()
	price := decimal.RequireFromString("60000")

	if g.Observe("BTCUSDT", "order-1", price) {
		t.Error("first fill should never be flagged")
	}
	if !g.Observe("BTCUSDT", "order-2", price) {
		t.Error("second fill at the same price under a different order id should be flagged")
	}
	if !g.IsFlagged("BTCUSDT") {
		t.Error("IsFlagged should report true after a duplicate")
	}
}

func TestDuplicateFillGuardClearsOnPriceMove(t *testing.T) {
	t.Parallel()

	g := NewDuplicateFillGuard()
	p1 := decimal.RequireFromString("60000")
	p2 := decimal.RequireFromString("60010")

	g.Observe("BTCUSDT", "order-1", p1)
	g.Observe("BTCUSDT", "order-2", p1)
	if !g.IsFlagged("BTCUSDT") {
		t.Fatal("expected flagged after duplicate pair")
	}

	g.Observe("BTCUSDT", "order-3", p2)
	if g.IsFlagged("BTCUSDT") {
		t.Error("expected flag cleared once price moved")
	}
}

func TestDuplicateFillGuardSameOrderIDNotFlagged(t *testing.T) {
	t.Parallel()

	g := NewDuplicateFillGuard()
	price := decimal.RequireFromString("60000")

	g.Observe("BTCUSDT", "order-1", price)
	if g.Observe("BTCUSDT", "order-1", price) {
		t.Error("repeated fills under the same order id should not be flagged")
	}
}

func TestDuplicateFillGuardIndependentPerSymbol(t *testing.T) {
	t.Parallel()

	g := NewDuplicateFillGuard()
	price := decimal.RequireFromString("3000")

	g.Observe("BTCUSDT", "order-1", price)
	g.Observe("BTCUSDT", "order-2", price)
	if g.IsFlagged("ETHUSDT") {
		t.Error("flag for one symbol should not leak to another")
	}
}
