package replay

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gridbot/internal/errs"
)

// QtyCalculator derives an order's base quantity from a strategy's
// amount_expression (one of "N" fixed USDT, "xF" wallet fraction, "bN"
// fixed base quantity), applies the risk-multiplier manager's per-side
// multiplier, and rounds up to the instrument's qty_step.
type QtyCalculator struct {
	kind    amountKind
	amount  decimal.Decimal
	qtyStep decimal.Decimal
}

type amountKind int

const (
	amountFixedUSDT amountKind = iota
	amountWalletFraction
	amountFixedBase
)

// NewQtyCalculator parses expr and binds it to qtyStep.
func NewQtyCalculator(expr string, qtyStep decimal.Decimal) (*QtyCalculator, error) {
	switch {
	case strings.HasPrefix(expr, "x"):
		v, err := decimal.NewFromString(strings.TrimPrefix(expr, "x"))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid wallet-fraction amount expression %q: %v", errs.InvalidInput, expr, err)
		}
		return &QtyCalculator{kind: amountWalletFraction, amount: v, qtyStep: qtyStep}, nil
	case strings.HasPrefix(expr, "b"):
		v, err := decimal.NewFromString(strings.TrimPrefix(expr, "b"))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid fixed-base amount expression %q: %v", errs.InvalidInput, expr, err)
		}
		return &QtyCalculator{kind: amountFixedBase, amount: v, qtyStep: qtyStep}, nil
	default:
		v, err := decimal.NewFromString(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid fixed-USDT amount expression %q: %v", errs.InvalidInput, expr, err)
		}
		return &QtyCalculator{kind: amountFixedUSDT, amount: v, qtyStep: qtyStep}, nil
	}
}

// BaseQty computes the unmultiplied base quantity for an order at
// lastPrice given the account's wallet balance.
func (c *QtyCalculator) BaseQty(lastPrice, walletBalance decimal.Decimal) decimal.Decimal {
	switch c.kind {
	case amountFixedBase:
		return c.amount
	case amountWalletFraction:
		if lastPrice.IsZero() {
			return decimal.Zero
		}
		return walletBalance.Mul(c.amount).Div(lastPrice)
	default: // amountFixedUSDT
		if lastPrice.IsZero() {
			return decimal.Zero
		}
		return c.amount.Div(lastPrice)
	}
}

// Calculate applies multiplier to the base quantity and rounds up to
// qty_step.
func (c *QtyCalculator) Calculate(lastPrice, walletBalance, multiplier decimal.Decimal) decimal.Decimal {
	qty := c.BaseQty(lastPrice, walletBalance).Mul(multiplier)
	return roundUpToStep(qty, c.qtyStep)
}

// roundUpToStep rounds qty up to the nearest multiple of step.
func roundUpToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	units := qty.Div(step)
	rounded := units.Ceil()
	return rounded.Mul(step)
}
