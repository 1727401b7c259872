package position

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"gridbot/internal/errs"
	"gridbot/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTracker(dir types.Direction) *Tracker {
	return New(dir, d("10"), d("0.0006"), nil)
}

func TestProcessFill_IncreasesWeightedAverage(t *testing.T) {
	t.Parallel()

	tr := newTracker(types.Long)
	if _, err := tr.ProcessFill(types.Buy, d("1"), d("100")); err != nil {
		t.Fatalf("ProcessFill: %v", err)
	}
	if _, err := tr.ProcessFill(types.Buy, d("1"), d("200")); err != nil {
		t.Fatalf("ProcessFill: %v", err)
	}
	if !tr.Size.Equal(d("2")) {
		t.Errorf("Size = %s, want 2", tr.Size)
	}
	if !tr.AvgEntryPrice.Equal(d("150")) {
		t.Errorf("AvgEntryPrice = %s, want 150", tr.AvgEntryPrice)
	}
}

func TestProcessFill_ReducesAndRealizesPnL(t *testing.T) {
	t.Parallel()

	tr := newTracker(types.Long)
	tr.ProcessFill(types.Buy, d("2"), d("100"))

	realized, err := tr.ProcessFill(types.Sell, d("1"), d("110"))
	if err != nil {
		t.Fatalf("ProcessFill: %v", err)
	}
	wantCommission := d("110").Mul(d("0.0006"))
	wantRealized := d("10").Sub(wantCommission)
	if !realized.Equal(wantRealized) {
		t.Errorf("realized = %s, want %s", realized, wantRealized)
	}
	if !tr.Size.Equal(d("1")) {
		t.Errorf("Size = %s, want 1", tr.Size)
	}
	if !tr.AvgEntryPrice.Equal(d("100")) {
		t.Errorf("AvgEntryPrice after partial reduce = %s, want unchanged 100", tr.AvgEntryPrice)
	}
}

func TestProcessFill_ShortSide(t *testing.T) {
	t.Parallel()

	tr := newTracker(types.Short)
	tr.ProcessFill(types.Sell, d("1"), d("100"))
	realized, err := tr.ProcessFill(types.Buy, d("1"), d("90"))
	if err != nil {
		t.Fatalf("ProcessFill: %v", err)
	}
	wantCommission := d("90").Mul(d("0.0006"))
	wantRealized := d("10").Sub(wantCommission)
	if !realized.Equal(wantRealized) {
		t.Errorf("realized = %s, want %s", realized, wantRealized)
	}
	if !tr.Size.IsZero() {
		t.Errorf("Size = %s, want 0", tr.Size)
	}
	if !tr.AvgEntryPrice.IsZero() {
		t.Errorf("AvgEntryPrice after full close = %s, want 0", tr.AvgEntryPrice)
	}
}

func TestProcessFill_ReduceClampsToSize(t *testing.T) {
	t.Parallel()

	tr := newTracker(types.Long)
	tr.ProcessFill(types.Buy, d("1"), d("100"))
	if _, err := tr.ProcessFill(types.Sell, d("5"), d("110")); err != nil {
		t.Fatalf("ProcessFill: %v", err)
	}
	if !tr.Size.IsZero() {
		t.Errorf("Size = %s, want 0 (clamped)", tr.Size)
	}
}

func TestProcessFill_StrictRejectsOverReduce(t *testing.T) {
	t.Parallel()

	tr := newTracker(types.Long)
	tr.Strict = true
	tr.ProcessFill(types.Buy, d("1"), d("100"))

	if _, err := tr.ProcessFill(types.Sell, d("5"), d("110")); !errors.Is(err, errs.InvalidInput) {
		t.Errorf("err = %v, want errs.InvalidInput", err)
	}
	if !tr.Size.Equal(d("1")) {
		t.Errorf("Size = %s, want unchanged 1 after rejected over-reduce", tr.Size)
	}
}

func TestProcessFill_RejectsNegativeInput(t *testing.T) {
	t.Parallel()

	tr := newTracker(types.Long)
	_, err := tr.ProcessFill(types.Buy, d("-1"), d("100"))
	if !errors.Is(err, errs.InvalidInput) {
		t.Errorf("err = %v, want errs.InvalidInput", err)
	}
}

func TestApplyFunding_LongPaysShortReceives(t *testing.T) {
	t.Parallel()

	long := newTracker(types.Long)
	long.ProcessFill(types.Buy, d("1"), d("100"))
	signed := long.ApplyFunding(d("0.0001"), d("50000"))
	if signed.Sign() >= 0 {
		t.Errorf("long funding payment should be negative, got %s", signed)
	}

	short := newTracker(types.Short)
	short.ProcessFill(types.Sell, d("1"), d("100"))
	signedShort := short.ApplyFunding(d("0.0001"), d("50000"))
	if signedShort.Sign() <= 0 {
		t.Errorf("short funding payment should be positive, got %s", signedShort)
	}
}

func TestCalculateUnrealizedPnL_CachesFields(t *testing.T) {
	t.Parallel()

	tr := newTracker(types.Long)
	tr.ProcessFill(types.Buy, d("1"), d("50000"))
	tr.CalculateUnrealizedPnL(d("51000"))

	if !tr.UnrealizedPnL.Equal(d("1000")) {
		t.Errorf("UnrealizedPnL = %s, want 1000", tr.UnrealizedPnL)
	}
	if !tr.PositionValue.Equal(d("51000")) {
		t.Errorf("PositionValue = %s, want 51000", tr.PositionValue)
	}
}

func riskCfg() RiskMultiplierConfig {
	return RiskMultiplierConfig{
		MinLiqRatio:    d("0.3"),
		MaxLiqRatio:    d("0.3"),
		MinTotalMargin: d("0.1"),
	}
}

func TestRiskMultiplier_DefaultsResetOnlyForNonEmptySides(t *testing.T) {
	t.Parallel()

	m := NewRiskMultiplierManager(riskCfg())
	long := newTracker(types.Long)
	long.ProcessFill(types.Buy, d("1"), d("100"))
	long.CalculateUnrealizedPnL(d("100"))
	short := newTracker(types.Short) // empty

	m.Recalculate(Pair{Long: long, Short: short}, d("50"), d("150"), d("100"), d("1000000"))

	// Short stayed empty; its multipliers remain at the default 1.0 unless
	// a rule keyed on the opposite side touched them.
	if short.IsEmpty() && (m.Short.Buy.IsZero() || m.Short.Sell.IsZero()) {
		t.Error("empty side should never have a zero multiplier")
	}
}

func TestRiskMultiplier_Rule1AggressiveReduce(t *testing.T) {
	t.Parallel()

	m := NewRiskMultiplierManager(riskCfg())
	long := newTracker(types.Long)
	long.ProcessFill(types.Buy, d("1"), d("100"))
	long.CalculateUnrealizedPnL(d("100"))
	short := newTracker(types.Short)

	// liq_ratio(own_liq_price=90, last=100) = 0.9 > 1.05*0.3 -> rule 1 fires.
	m.Recalculate(Pair{Long: long, Short: short}, d("90"), d("0"), d("100"), d("1000000"))

	if !m.Long.Sell.Equal(d("1.5")) {
		t.Errorf("Long.Sell = %s, want 1.5", m.Long.Sell)
	}
}

func TestRiskMultiplier_CompensateMinQty(t *testing.T) {
	t.Parallel()

	m := NewRiskMultiplierManager(RiskMultiplierConfig{
		MinLiqRatio:    d("0.01"),
		MaxLiqRatio:    d("0.01"),
		MinTotalMargin: d("1000"), // force rule 3 to fire
	})
	long := newTracker(types.Long)
	long.ProcessFill(types.Buy, d("1"), d("100"))
	long.CalculateUnrealizedPnL(d("100"))
	short := newTracker(types.Short)
	short.ProcessFill(types.Sell, d("1"), d("100"))
	short.CalculateUnrealizedPnL(d("100"))

	m.Recalculate(Pair{Long: long, Short: short}, d("0.0001"), d("999999"), d("100"), d("1"))

	if !m.Long.Sell.Equal(d("0.5")) {
		t.Fatalf("Long.Sell = %s, want 0.5 (rule 3 should have fired)", m.Long.Sell)
	}

	m.CompensateMinQty(types.Long, d("0.001"), d("0.001"))
	if !m.Short.Sell.Equal(d("2")) {
		t.Errorf("Short.Sell = %s, want 2 after min-qty compensation", m.Short.Sell)
	}
}
