package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"gridbot/internal/gridengine"
	"gridbot/pkg/types"
)

func TestLiveOrderBook_AddAndSnapshot(t *testing.T) {
	t.Parallel()

	b := newLiveOrderBook()
	b.Add(types.Long, "link-1", gridengine.OpenOrder{OrderID: "o1", Price: decimal.NewFromInt(100), Side: types.Buy})
	b.Add(types.Short, "link-2", gridengine.OpenOrder{OrderID: "o2", Price: decimal.NewFromInt(110), Side: types.Sell})

	snap := b.Snapshot()
	if len(snap.Long) != 1 || snap.Long[0].OrderID != "o1" {
		t.Errorf("Long = %+v, want one order o1", snap.Long)
	}
	if len(snap.Short) != 1 || snap.Short[0].OrderID != "o2" {
		t.Errorf("Short = %+v, want one order o2", snap.Short)
	}

	if dir := b.DirectionOf("link-1"); dir != types.Long {
		t.Errorf("DirectionOf(link-1) = %s, want long", dir)
	}
	if dir := b.DirectionOf("link-2"); dir != types.Short {
		t.Errorf("DirectionOf(link-2) = %s, want short", dir)
	}
}

func TestLiveOrderBook_DirectionOfUnknownDefaultsLong(t *testing.T) {
	t.Parallel()

	b := newLiveOrderBook()
	if dir := b.DirectionOf("never-seen"); dir != types.Long {
		t.Errorf("DirectionOf(unknown) = %s, want long", dir)
	}
}

func TestLiveOrderBook_Remove(t *testing.T) {
	t.Parallel()

	b := newLiveOrderBook()
	b.Add(types.Long, "link-1", gridengine.OpenOrder{OrderID: "o1", Price: decimal.NewFromInt(100), Side: types.Buy})
	b.Remove("o1")

	snap := b.Snapshot()
	if len(snap.Long) != 0 {
		t.Errorf("Long = %+v, want empty after Remove", snap.Long)
	}
	if dir := b.DirectionOf("link-1"); dir != types.Long {
		t.Errorf("DirectionOf(link-1) after Remove = %s, want default long (link forgotten)", dir)
	}
}

func TestLiveOrderBook_ApplyTerminalStatusRemoves(t *testing.T) {
	t.Parallel()

	b := newLiveOrderBook()
	b.Add(types.Long, "link-1", gridengine.OpenOrder{OrderID: "o1", Price: decimal.NewFromInt(100), Side: types.Buy})

	b.Apply(types.OrderUpdate{OrderID: "o1", OrderLinkID: "link-1", Status: types.OrderFilled})

	snap := b.Snapshot()
	if len(snap.Long) != 0 {
		t.Errorf("Long = %+v, want empty after fill", snap.Long)
	}
}

func TestLiveOrderBook_ApplyNonTerminalStatusUpserts(t *testing.T) {
	t.Parallel()

	b := newLiveOrderBook()
	b.Add(types.Long, "link-1", gridengine.OpenOrder{OrderID: "o1", Price: decimal.NewFromInt(100), Side: types.Buy})

	b.Apply(types.OrderUpdate{
		OrderID:     "o1",
		OrderLinkID: "link-1",
		Status:      types.OrderPartiallyFilled,
		Price:       decimal.NewFromInt(100),
		Side:        types.Buy,
	})

	snap := b.Snapshot()
	if len(snap.Long) != 1 || snap.Long[0].OrderID != "o1" {
		t.Errorf("Long = %+v, want order o1 still tracked", snap.Long)
	}
}

func TestLiveOrderBook_Clear(t *testing.T) {
	t.Parallel()

	b := newLiveOrderBook()
	b.Add(types.Long, "link-1", gridengine.OpenOrder{OrderID: "o1", Price: decimal.NewFromInt(100), Side: types.Buy})
	b.Add(types.Short, "link-2", gridengine.OpenOrder{OrderID: "o2", Price: decimal.NewFromInt(110), Side: types.Sell})

	b.Clear()

	snap := b.Snapshot()
	if len(snap.Long) != 0 || len(snap.Short) != 0 {
		t.Errorf("Snapshot after Clear = %+v, want empty", snap)
	}
	if dir := b.DirectionOf("link-1"); dir != types.Long {
		t.Errorf("DirectionOf(link-1) after Clear = %s, want default long", dir)
	}
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	got := dedupe([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("dedupe = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dedupe[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
