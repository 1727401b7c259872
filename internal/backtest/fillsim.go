// Package backtest implements the fill simulator, order manager, and
// backtest session: trade-through fill matching against a simulated tick
// stream, commission and fee accounting, and the equity/drawdown/Sharpe
// metrics computed at the end of a run.
package backtest

import (
	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

// WouldFill implements the trade-through rule: a resting limit order fills
// against a tick at price p if a Buy's limit is at or above p, or a Sell's
// limit is at or below p. No slippage, no partial fills.
func WouldFill(side types.Side, limit, price decimal.Decimal) bool {
	switch side {
	case types.Buy:
		return price.LessThanOrEqual(limit)
	case types.Sell:
		return price.GreaterThanOrEqual(limit)
	default:
		return false
	}
}
