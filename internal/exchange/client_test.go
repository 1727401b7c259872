package exchange

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/pkg/types"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := NewAuth(config.APIConfig{APIKey: "k", APISecret: "s"})
	return NewClient(config.Config{DryRun: true, API: config.APIConfig{RESTBaseURL: "https://api-testnet.bybit.com"}}, auth, logger)
}

func TestDryRunPlaceOrder(t *testing.T) {
	t.Parallel()

	c := newDryRunClient()
	res, err := c.PlaceOrder(context.Background(), PlaceOrderRequest{
		Symbol:      "BTCUSDT",
		Side:        types.Buy,
		Price:       decimal.RequireFromString("60000"),
		Qty:         decimal.RequireFromString("0.01"),
		OrderLinkID: "grid-1-0",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.OrderLinkID != "grid-1-0" {
		t.Errorf("OrderLinkID = %s, want grid-1-0", res.OrderLinkID)
	}
	if res.OrderID == "" {
		t.Error("expected a synthetic order id in dry-run mode")
	}
}

func TestDryRunCancelOrder(t *testing.T) {
	t.Parallel()

	c := newDryRunClient()
	if err := c.CancelOrder(context.Background(), "BTCUSDT", "order-1", ""); err != nil {
		t.Errorf("CancelOrder: %v", err)
	}
}

func TestDryRunCancelAllOrders(t *testing.T) {
	t.Parallel()

	c := newDryRunClient()
	if err := c.CancelAllOrders(context.Background(), "BTCUSDT"); err != nil {
		t.Errorf("CancelAllOrders: %v", err)
	}
}

func TestMustDecimalInvalidReturnsZero(t *testing.T) {
	t.Parallel()

	got := mustDecimal("not-a-number")
	if !got.IsZero() {
		t.Errorf("mustDecimal(invalid) = %s, want 0", got)
	}
}

func TestMustDecimalEmptyReturnsZero(t *testing.T) {
	t.Parallel()

	got := mustDecimal("")
	if !got.IsZero() {
		t.Errorf("mustDecimal(\"\") = %s, want 0", got)
	}
}
