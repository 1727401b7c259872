// Package position implements the position tracker and risk-multiplier
// manager: per-direction fill accounting, unrealized PnL/margin caching via
// internal/margin, funding settlement, and the amount-multiplier cascade
// that feeds the executor's quantity calculator.
//
// The long and short side of a hedge-mode pair are tracked as two
// independent Trackers with no back-reference cycle: Pair methods take the
// opposite Tracker explicitly.
package position

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"gridbot/internal/errs"
	"gridbot/internal/margin"
	"gridbot/pkg/types"
)

var (
	hundred        = decimal.NewFromInt(100)
	pointZeroFive  = decimal.NewFromFloat(0.05)
	pointTwo       = decimal.NewFromFloat(0.20)
	pointFive      = decimal.NewFromFloat(0.5)
	oneOhFive      = decimal.NewFromFloat(1.05)
	multiplierLow  = decimal.NewFromFloat(0.5)
	multiplierHigh = decimal.NewFromFloat(2.0)
	multiplierVHi  = decimal.NewFromFloat(1.5)
)

// Tracker holds the per-direction, per-symbol position state.
type Tracker struct {
	Direction types.Direction

	Size           decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	RealizedPnL    decimal.Decimal
	CommissionPaid decimal.Decimal
	FundingPaid    decimal.Decimal

	UnrealizedPnL     decimal.Decimal
	PositionValue     decimal.Decimal
	InitialMargin     decimal.Decimal
	MaintenanceMargin decimal.Decimal
	IMRRate           decimal.Decimal
	MMRRate           decimal.Decimal

	// Strict changes ProcessFill's behavior on an over-reduce (qty greater
	// than the current position size): when true, ProcessFill returns
	// errs.InvalidInput instead of clamping. Defaults to false, which
	// matches the source's clamp-and-continue behavior. See spec design
	// note on clamp vs. error semantics.
	Strict bool

	leverage       decimal.Decimal
	commissionRate decimal.Decimal
	tiers          []types.RiskLimitTier
}

// New constructs an empty Tracker for one direction.
func New(direction types.Direction, leverage, commissionRate decimal.Decimal, tiers []types.RiskLimitTier) *Tracker {
	return &Tracker{
		Direction:      direction,
		leverage:       leverage,
		commissionRate: commissionRate,
		tiers:          tiers,
	}
}

// increases reports whether a fill on this side grows the position.
func (t *Tracker) increases(side types.Side) bool {
	if t.Direction == types.Long {
		return side == types.Buy
	}
	return side == types.Sell
}

// ProcessFill applies one fill and returns the realized PnL booked by the
// call (zero for a pure increase).
func (t *Tracker) ProcessFill(side types.Side, qty, price decimal.Decimal) (decimal.Decimal, error) {
	if qty.Sign() < 0 || price.Sign() < 0 {
		return decimal.Zero, errs.InvalidInput
	}

	commission := qty.Mul(price).Mul(t.commissionRate)

	if t.increases(side) {
		newSize := t.Size.Add(qty)
		if newSize.Sign() > 0 {
			weighted := t.Size.Mul(t.AvgEntryPrice).Add(qty.Mul(price))
			t.AvgEntryPrice = weighted.Div(newSize)
		}
		t.Size = newSize
		t.CommissionPaid = t.CommissionPaid.Add(commission)
		return decimal.Zero, nil
	}

	// Reducing: clamp qty > size to size (source behavior) and log a warning.
	// Strict mode rejects the over-reduce instead, for tests that want to
	// assert callers never ask to close more than is open.
	reduceQty := qty
	if reduceQty.GreaterThan(t.Size) {
		if t.Strict {
			return decimal.Zero, errs.InvalidInput
		}
		slog.Warn("over-reduce clamped to position size", "direction", t.Direction, "qty", qty.String(), "size", t.Size.String())
		reduceQty = t.Size
	}

	var pnlPerUnit decimal.Decimal
	if t.Direction == types.Long {
		pnlPerUnit = price.Sub(t.AvgEntryPrice)
	} else {
		pnlPerUnit = t.AvgEntryPrice.Sub(price)
	}
	realized := pnlPerUnit.Mul(reduceQty).Sub(commission)

	t.Size = t.Size.Sub(reduceQty)
	if t.Size.Sign() <= 0 {
		t.Size = decimal.Zero
		t.AvgEntryPrice = decimal.Zero
	}
	t.RealizedPnL = t.RealizedPnL.Add(realized)
	t.CommissionPaid = t.CommissionPaid.Add(commission)

	return realized, nil
}

// CalculateUnrealizedPnL recomputes and caches unrealized PnL, position
// value, and margin figures at currentPrice via internal/margin.
func (t *Tracker) CalculateUnrealizedPnL(currentPrice decimal.Decimal) {
	t.UnrealizedPnL = margin.UnrealizedPnL(t.Direction, t.AvgEntryPrice, currentPrice, t.Size)
	t.PositionValue = margin.PositionValue(t.Size, currentPrice)
	t.InitialMargin, t.IMRRate = margin.InitialMargin(t.PositionValue, t.leverage, t.tiers)
	t.MaintenanceMargin, t.MMRRate = margin.MaintenanceMargin(t.PositionValue, t.tiers)
}

// ApplyFunding settles one funding payment: longs pay (negative return
// amount), shorts receive (positive). The caller adds the returned signed
// amount into session-level equity accounting.
func (t *Tracker) ApplyFunding(rate, markPrice decimal.Decimal) decimal.Decimal {
	payment := t.Size.Mul(markPrice).Mul(rate)
	var signed decimal.Decimal
	if t.Direction == types.Long {
		signed = payment.Neg()
	} else {
		signed = payment
	}
	t.FundingPaid = t.FundingPaid.Add(signed)
	return signed
}

// IsEmpty reports whether the tracked position has been fully closed.
func (t *Tracker) IsEmpty() bool {
	return t.Size.IsZero()
}

// Margin is position_value / wallet_balance, used by the risk-multiplier
// manager's position_ratio computation; zero when wallet_balance is zero.
func (t *Tracker) Margin(walletBalance decimal.Decimal) decimal.Decimal {
	if walletBalance.IsZero() {
		return decimal.Zero
	}
	return t.PositionValue.Div(walletBalance)
}

// Snapshot projects the tracker into the shared types.Position view used
// for persistence and reporting.
func (t *Tracker) Snapshot(liqPrice decimal.Decimal) types.Position {
	return types.Position{
		Direction:         t.Direction,
		Size:              t.Size,
		AvgEntryPrice:     t.AvgEntryPrice,
		RealizedPnL:       t.RealizedPnL,
		CommissionPaid:    t.CommissionPaid,
		FundingPaid:       t.FundingPaid,
		UnrealizedPnL:     t.UnrealizedPnL,
		PositionValue:     t.PositionValue,
		InitialMargin:     t.InitialMargin,
		MaintenanceMargin: t.MaintenanceMargin,
		IMRRate:           t.IMRRate,
		MMRRate:           t.MMRRate,
		LiquidationPrice:  liqPrice,
	}
}

// Pair links a long and short Tracker for the same symbol. Methods take the
// opposite Tracker explicitly rather than holding a back-reference, so the
// two trackers never form an object cycle.
type Pair struct {
	Long  *Tracker
	Short *Tracker
}

// RiskMultiplierConfig carries the bounds the multiplier cascade evaluates
// against, sourced from types.StrategyConfig.
type RiskMultiplierConfig struct {
	MinLiqRatio    decimal.Decimal
	MaxLiqRatio    decimal.Decimal
	MinTotalMargin decimal.Decimal
}

// SideMultipliers is the per-side {Buy, Sell} multiplier state for one
// direction's tracker.
type SideMultipliers struct {
	Buy  decimal.Decimal
	Sell decimal.Decimal
}

// RiskMultiplierManager evaluates the per-side amount-multiplier cascade
// that scales order quantity up or down as liquidation risk and position
// balance between the long and short side shift.
type RiskMultiplierManager struct {
	cfg RiskMultiplierConfig

	Long  SideMultipliers
	Short SideMultipliers

	// marginDeficitRule records which direction's rule 3 (thin total
	// margin with balanced sizes) fired this recalculation, so the
	// quantity calculator can call CompensateMinQty once it knows the
	// resulting order quantity.
	marginDeficitRule map[types.Direction]bool
}

// NewRiskMultiplierManager constructs a manager with both sides defaulted
// to 1.0.
func NewRiskMultiplierManager(cfg RiskMultiplierConfig) *RiskMultiplierManager {
	return &RiskMultiplierManager{
		cfg:               cfg,
		Long:              SideMultipliers{Buy: decimal.NewFromInt(1), Sell: decimal.NewFromInt(1)},
		Short:             SideMultipliers{Buy: decimal.NewFromInt(1), Sell: decimal.NewFromInt(1)},
		marginDeficitRule: make(map[types.Direction]bool),
	}
}

// CompensateMinQty implements rule 3's compensation clause: when the
// quantity calculator's resulting order quantity for direction equals the
// instrument's minimum order size, and direction's thin-margin rule fired
// this recalculation, bump the opposite side's own-side multiplier to 2.0.
func (m *RiskMultiplierManager) CompensateMinQty(direction types.Direction, resultingQty, minQty decimal.Decimal) {
	if !m.marginDeficitRule[direction] || !resultingQty.Equal(minQty) {
		return
	}
	if direction == types.Long {
		m.Short.Sell = multiplierHigh
	} else {
		m.Long.Buy = multiplierHigh
	}
}

// positionRatio is own.margin / opposite.margin, treated as 0 when
// opposite.margin is zero.
func positionRatio(ownMargin, oppositeMargin decimal.Decimal) decimal.Decimal {
	if oppositeMargin.IsZero() {
		return decimal.Zero
	}
	return ownMargin.Div(oppositeMargin)
}

// withinFivePct reports whether a and b differ by at most 5% of b.
func withinFivePct(a, b decimal.Decimal) bool {
	if b.IsZero() {
		return a.IsZero()
	}
	diff := a.Sub(b).Abs().Div(b)
	return diff.LessThanOrEqual(pointZeroFive)
}

// Recalculate evaluates the cascade for both directions and updates Long
// and Short in place. Multipliers reset to 1.0 at the start of this call,
// but only for sides whose tracker holds a non-empty position; an empty
// side keeps its prior (already-default) 1.0.
func (m *RiskMultiplierManager) Recalculate(pair Pair, longLiqPrice, shortLiqPrice, lastPrice, walletBalance decimal.Decimal) {
	if !pair.Long.IsEmpty() {
		m.Long = SideMultipliers{Buy: decimal.NewFromInt(1), Sell: decimal.NewFromInt(1)}
	}
	if !pair.Short.IsEmpty() {
		m.Short = SideMultipliers{Buy: decimal.NewFromInt(1), Sell: decimal.NewFromInt(1)}
	}

	longMargin := pair.Long.Margin(walletBalance)
	shortMargin := pair.Short.Margin(walletBalance)
	totalMargin := longMargin.Add(shortMargin)
	sizesClose := withinFivePct(pair.Long.Size, pair.Short.Size)

	m.marginDeficitRule[types.Long] = false
	m.marginDeficitRule[types.Short] = false

	m.evalLong(pair, longLiqPrice, lastPrice, longMargin, shortMargin, totalMargin, sizesClose)
	m.evalShort(pair, shortLiqPrice, lastPrice, longMargin, shortMargin, totalMargin, sizesClose)
}

// evalLong applies the cascade with own = long, opposite = short. Rules are
// evaluated in order; the first match wins.
func (m *RiskMultiplierManager) evalLong(pair Pair, liqPrice, lastPrice, longMargin, shortMargin, totalMargin decimal.Decimal, sizesClose bool) {
	liqRatio := margin.LiqRatio(liqPrice, lastPrice)
	ratio := positionRatio(longMargin, shortMargin)

	switch {
	case liqRatio.GreaterThan(m.cfg.MinLiqRatio.Mul(oneOhFive)):
		m.Long.Sell = multiplierVHi
	case liqRatio.GreaterThan(m.cfg.MinLiqRatio):
		m.Short.Buy = multiplierLow
	case sizesClose && totalMargin.LessThan(m.cfg.MinTotalMargin):
		m.Long.Sell = multiplierLow
		m.marginDeficitRule[types.Long] = true
	case ratio.LessThan(pointFive) && pair.Long.UnrealizedPnL.Sign() < 0:
		m.Long.Buy = multiplierHigh
	case ratio.LessThan(pointTwo):
		m.Long.Buy = multiplierHigh
	}
}

// evalShort mirrors evalLong (min_liq_ratio swaps for max_liq_ratio, '>'
// swaps for '<', Buy swaps for Sell): own = short, opposite = long.
func (m *RiskMultiplierManager) evalShort(pair Pair, liqPrice, lastPrice, longMargin, shortMargin, totalMargin decimal.Decimal, sizesClose bool) {
	liqRatio := margin.LiqRatio(liqPrice, lastPrice)
	ratio := positionRatio(shortMargin, longMargin)

	switch {
	case liqRatio.LessThan(m.cfg.MaxLiqRatio.Mul(oneOhFive)):
		m.Short.Buy = multiplierVHi
	case liqRatio.LessThan(m.cfg.MaxLiqRatio):
		m.Long.Sell = multiplierLow
	case sizesClose && totalMargin.LessThan(m.cfg.MinTotalMargin):
		m.Short.Buy = multiplierLow
		m.marginDeficitRule[types.Short] = true
	case ratio.LessThan(pointFive) && pair.Short.UnrealizedPnL.Sign() < 0:
		m.Short.Sell = multiplierHigh
	case ratio.LessThan(pointTwo):
		m.Short.Sell = multiplierHigh
	}
}
