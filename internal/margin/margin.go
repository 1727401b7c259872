// Package margin computes PnL, margin, and liquidation figures from raw
// position state. Every function here is pure: no I/O, no package state, no
// logging side effects beyond the caller-visible return value.
package margin

import (
	"fmt"

	"github.com/shopspring/decimal"

	"gridbot/internal/errs"
	"gridbot/pkg/types"
)

// InfiniteCap is the sentinel used for a risk-limit tier's cap once it has
// been promoted to "no upper bound" by ParseRiskLimitTiers. Decimal has no
// native infinity, so callers that need to detect the last tier compare
// against this value rather than relying on ordering alone.
var InfiniteCap = decimal.NewFromBigInt(decimal.New(1, 30).BigInt(), 0)

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// UnrealizedPnL computes absolute unrealized PnL for a direction.
// Long:  (current-entry)*size
// Short: (entry-current)*size
func UnrealizedPnL(direction types.Direction, entry, current, size decimal.Decimal) decimal.Decimal {
	if direction == types.Long {
		return current.Sub(entry).Mul(size)
	}
	return entry.Sub(current).Mul(size)
}

// UnrealizedPnLPct computes the standard Bybit ROE formula:
// Long:  (current-entry)/entry * leverage * 100
// Short: (entry-current)/entry * leverage * 100
// Returns zero when entry or current is non-positive.
func UnrealizedPnLPct(direction types.Direction, entry, current, leverage decimal.Decimal) decimal.Decimal {
	if entry.Sign() <= 0 || current.Sign() <= 0 {
		return zero
	}
	var delta decimal.Decimal
	if direction == types.Long {
		delta = current.Sub(entry)
	} else {
		delta = entry.Sub(current)
	}
	return delta.Div(entry).Mul(leverage).Mul(hundred)
}

// PositionValue is size*entry, matching Bybit's positionValue field.
func PositionValue(size, entry decimal.Decimal) decimal.Decimal {
	return size.Mul(entry)
}

// InitialMargin selects the tier whose cap is the smallest cap >=
// positionValue and returns (positionValue*imrRate, imrRate). Falls back
// to (positionValue/leverage, 1/leverage) when no tier matches or tiers is
// empty.
func InitialMargin(positionValue, leverage decimal.Decimal, tiers []types.RiskLimitTier) (decimal.Decimal, decimal.Decimal) {
	if positionValue.Sign() <= 0 {
		return zero, zero
	}
	for _, t := range tiers {
		if positionValue.Cmp(t.MaxPositionValue) <= 0 {
			return positionValue.Mul(t.IMRRate), t.IMRRate
		}
	}
	if leverage.Sign() <= 0 {
		return zero, zero
	}
	imrRate := decimal.NewFromInt(1).Div(leverage)
	return positionValue.Div(leverage), imrRate
}

// MaintenanceMargin selects the tier matching positionValue and returns
// (max(0, positionValue*mmrRate-deduction), mmrRate). Returns (0, 0) when
// no tiers are available.
func MaintenanceMargin(positionValue decimal.Decimal, tiers []types.RiskLimitTier) (decimal.Decimal, decimal.Decimal) {
	if positionValue.Sign() <= 0 || len(tiers) == 0 {
		return zero, zero
	}
	tier := tiers[len(tiers)-1]
	for _, t := range tiers {
		if positionValue.Cmp(t.MaxPositionValue) <= 0 {
			tier = t
			break
		}
	}
	mm := positionValue.Mul(tier.MMRRate).Sub(tier.Deduction)
	if mm.Sign() < 0 {
		mm = zero
	}
	return mm, tier.MMRRate
}

// IMRPercent is account-level IMR%: totalIM/marginBalance*100, or zero
// when marginBalance <= 0.
func IMRPercent(totalIM, marginBalance decimal.Decimal) decimal.Decimal {
	if marginBalance.Sign() <= 0 {
		return zero
	}
	return totalIM.Div(marginBalance).Mul(hundred)
}

// MMRPercent is account-level MMR%: totalMM/marginBalance*100, or zero
// when marginBalance <= 0.
func MMRPercent(totalMM, marginBalance decimal.Decimal) decimal.Decimal {
	if marginBalance.Sign() <= 0 {
		return zero
	}
	return totalMM.Div(marginBalance).Mul(hundred)
}

// EstimateLiquidationPrice approximates an isolated-margin liquidation
// price from entry price, leverage, and the position's maintenance margin
// rate: long = entry*(1 - 1/leverage + mmrRate), short = entry*(1 +
// 1/leverage - mmrRate). Returns zero for an empty position (zero entry or
// non-positive leverage).
func EstimateLiquidationPrice(direction types.Direction, avgEntry, leverage, mmrRate decimal.Decimal) decimal.Decimal {
	if avgEntry.Sign() <= 0 || leverage.Sign() <= 0 {
		return zero
	}
	inverseLeverage := decimal.NewFromInt(1).Div(leverage)
	if direction == types.Long {
		return avgEntry.Mul(decimal.NewFromInt(1).Sub(inverseLeverage).Add(mmrRate))
	}
	return avgEntry.Mul(decimal.NewFromInt(1).Add(inverseLeverage).Sub(mmrRate))
}

// LiqRatio computes liqPrice/currentPrice, or zero when currentPrice is
// zero.
func LiqRatio(liqPrice, currentPrice decimal.Decimal) decimal.Decimal {
	if currentPrice.IsZero() {
		return zero
	}
	return liqPrice.Div(currentPrice)
}

// RawTier is the wire shape of one entry in an exchange's risk-limit
// response, matching Bybit's /v5/market/risk-limit fields.
type RawTier struct {
	RiskLimitValue  string
	MaintenanceMargin string
	MMDeduction     string
	InitialMargin   string
}

// ParseRiskLimitTiers validates and converts raw tier rows into an
// ascending-by-cap tier table with the last cap replaced by InfiniteCap.
// Rejects empty input, out-of-range rates, non-ascending or duplicate
// caps (within epsilon 0.01).
func ParseRiskLimitTiers(raw []RawTier) ([]types.RiskLimitTier, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: risk-limit tiers must not be empty", errs.InvalidInput)
	}

	type parsed struct {
		maxVal    decimal.Decimal
		mmrRate   decimal.Decimal
		deduction decimal.Decimal
		imrRate   decimal.Decimal
	}

	rows := make([]parsed, 0, len(raw))
	for _, r := range raw {
		if r.RiskLimitValue == "" {
			return nil, fmt.Errorf("%w: missing riskLimitValue", errs.InvalidInput)
		}
		var maxVal decimal.Decimal
		if r.RiskLimitValue == "Infinity" {
			maxVal = InfiniteCap
		} else {
			v, err := decimal.NewFromString(r.RiskLimitValue)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid riskLimitValue %q: %v", errs.InvalidInput, r.RiskLimitValue, err)
			}
			if v.Sign() <= 0 {
				return nil, fmt.Errorf("%w: riskLimitValue must be positive, got %s", errs.InvalidInput, r.RiskLimitValue)
			}
			maxVal = v
		}

		mmrRate, err := decimal.NewFromString(orZero(r.MaintenanceMargin))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid maintenanceMargin %q: %v", errs.InvalidInput, r.MaintenanceMargin, err)
		}
		if mmrRate.LessThan(zero) || mmrRate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: mmr rate %s outside [0,1]", errs.InvalidInput, mmrRate)
		}

		deduction, err := decimal.NewFromString(orZero(r.MMDeduction))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid mmDeduction %q: %v", errs.InvalidInput, r.MMDeduction, err)
		}
		if deduction.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative mmDeduction %s", errs.InvalidInput, deduction)
		}

		imrRate, err := decimal.NewFromString(orZero(r.InitialMargin))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid initialMargin %q: %v", errs.InvalidInput, r.InitialMargin, err)
		}
		if imrRate.LessThan(zero) || imrRate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: imr rate %s outside [0,1]", errs.InvalidInput, imrRate)
		}

		rows = append(rows, parsed{maxVal, mmrRate, deduction, imrRate})
	}

	// sort ascending by cap (simple insertion sort; tier tables are small)
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].maxVal.LessThan(rows[j-1].maxVal); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}

	epsilon := decimal.NewFromFloat(0.01)
	for i := 1; i < len(rows); i++ {
		if rows[i].maxVal.Equal(InfiniteCap) {
			continue
		}
		diff := rows[i].maxVal.Sub(rows[i-1].maxVal).Abs()
		if rows[i].maxVal.LessThan(rows[i-1].maxVal) || diff.LessThan(epsilon) {
			return nil, fmt.Errorf("%w: duplicate or non-ascending tier boundary near %s", errs.InvalidInput, rows[i].maxVal)
		}
	}

	result := make([]types.RiskLimitTier, len(rows))
	for i, r := range rows {
		result[i] = types.RiskLimitTier{
			MaxPositionValue: r.maxVal,
			MMRRate:          r.mmrRate,
			Deduction:        r.deduction,
			IMRRate:          r.imrRate,
		}
	}
	result[len(result)-1].MaxPositionValue = InfiniteCap

	return result, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
