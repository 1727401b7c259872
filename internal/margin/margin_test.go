package margin

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

func TestUnrealizedPnL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		direction types.Direction
		entry     string
		current   string
		size      string
		want      string
	}{
		{"long profit", types.Long, "50000", "51000", "0.1", "100"},
		{"long loss", types.Long, "50000", "49000", "0.1", "-100"},
		{"short profit", types.Short, "50000", "49000", "0.1", "100"},
		{"short loss", types.Short, "50000", "51000", "0.1", "-100"},
		{"breakeven", types.Long, "50000", "50000", "0.1", "0"},
		{"zero size", types.Long, "50000", "51000", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := UnrealizedPnL(tt.direction, d(tt.entry), d(tt.current), d(tt.size))
			if !got.Equal(d(tt.want)) {
				t.Errorf("UnrealizedPnL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUnrealizedPnLPct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		direction types.Direction
		entry     string
		current   string
		leverage  string
		want      string
	}{
		{"long 10x up 1%", types.Long, "50000", "50500", "10", "10"},
		{"short 10x down 1%", types.Short, "50000", "49500", "10", "10"},
		{"zero entry", types.Long, "0", "50000", "10", "0"},
		{"zero current", types.Long, "50000", "0", "10", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := UnrealizedPnLPct(tt.direction, d(tt.entry), d(tt.current), d(tt.leverage))
			if !got.Equal(d(tt.want)) {
				t.Errorf("UnrealizedPnLPct() = %s, want %s", got, tt.want)
			}
		})
	}
}

func btcTiers(t *testing.T) []types.RiskLimitTier {
	t.Helper()
	tiers, err := ParseRiskLimitTiers([]RawTier{
		{RiskLimitValue: "2000000", MaintenanceMargin: "0.005", MMDeduction: "0", InitialMargin: "0.01"},
		{RiskLimitValue: "10000000", MaintenanceMargin: "0.01", MMDeduction: "10000", InitialMargin: "0.02"},
		{RiskLimitValue: "Infinity", MaintenanceMargin: "0.15", MMDeduction: "8660000", InitialMargin: "0.3"},
	})
	if err != nil {
		t.Fatalf("ParseRiskLimitTiers: %v", err)
	}
	return tiers
}

func TestInitialMargin_TierSelection(t *testing.T) {
	t.Parallel()

	tiers := btcTiers(t)
	im, imr := InitialMargin(d("1000000"), d("10"), tiers)
	if !im.Equal(d("10000")) { // 1000000 * 0.01
		t.Errorf("im = %s, want 10000", im)
	}
	if !imr.Equal(d("0.01")) {
		t.Errorf("imr = %s, want 0.01", imr)
	}
}

func TestInitialMargin_FallbackWithoutTiers(t *testing.T) {
	t.Parallel()

	im, imr := InitialMargin(d("50000"), d("10"), nil)
	if !im.Equal(d("5000")) {
		t.Errorf("im = %s, want 5000", im)
	}
	if !imr.Equal(d("0.1")) {
		t.Errorf("imr = %s, want 0.1", imr)
	}
}

func TestMaintenanceMargin_TierSelection(t *testing.T) {
	t.Parallel()

	tiers := btcTiers(t)
	mm, mmr := MaintenanceMargin(d("5000000"), tiers)
	// tier 2: 5000000*0.01 - 10000 = 40000
	if !mm.Equal(d("40000")) {
		t.Errorf("mm = %s, want 40000", mm)
	}
	if !mmr.Equal(d("0.01")) {
		t.Errorf("mmr = %s, want 0.01", mmr)
	}
}

func TestMaintenanceMargin_NeverNegative(t *testing.T) {
	t.Parallel()

	tiers, err := ParseRiskLimitTiers([]RawTier{
		{RiskLimitValue: "Infinity", MaintenanceMargin: "0.005", MMDeduction: "1000000", InitialMargin: "0.01"},
	})
	if err != nil {
		t.Fatalf("ParseRiskLimitTiers: %v", err)
	}
	mm, _ := MaintenanceMargin(d("1000"), tiers)
	if mm.Sign() != 0 {
		t.Errorf("mm = %s, want 0 (clamped)", mm)
	}
}

func TestMaintenanceMargin_NoTiersReturnsZero(t *testing.T) {
	t.Parallel()

	mm, mmr := MaintenanceMargin(d("1000000"), nil)
	if mm.Sign() != 0 || mmr.Sign() != 0 {
		t.Errorf("mm=%s mmr=%s, want 0,0 when no tiers are configured", mm, mmr)
	}
}

func TestParseRiskLimitTiers_RoundTrip(t *testing.T) {
	t.Parallel()

	raw := []RawTier{
		{RiskLimitValue: "1000000", MaintenanceMargin: "0.01", MMDeduction: "0", InitialMargin: "0.02"},
		{RiskLimitValue: "200000", MaintenanceMargin: "0.005", MMDeduction: "0", InitialMargin: "0.01"},
	}
	tiers, err := ParseRiskLimitTiers(raw)
	if err != nil {
		t.Fatalf("ParseRiskLimitTiers: %v", err)
	}
	if len(tiers) != 2 {
		t.Fatalf("len(tiers) = %d, want 2", len(tiers))
	}
	if !tiers[0].MaxPositionValue.Equal(d("200000")) {
		t.Errorf("tiers[0].MaxPositionValue = %s, want 200000 (sorted ascending)", tiers[0].MaxPositionValue)
	}
	if !tiers[1].MaxPositionValue.Equal(InfiniteCap) {
		t.Errorf("tiers[1].MaxPositionValue = %s, want InfiniteCap (last cap promoted)", tiers[1].MaxPositionValue)
	}
}

func TestParseRiskLimitTiers_RejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := ParseRiskLimitTiers(nil)
	if !errors.Is(err, errs.InvalidInput) {
		t.Errorf("err = %v, want errs.InvalidInput", err)
	}
}

func TestParseRiskLimitTiers_RejectsDuplicateBoundary(t *testing.T) {
	t.Parallel()

	_, err := ParseRiskLimitTiers([]RawTier{
		{RiskLimitValue: "1000000", MaintenanceMargin: "0.01", MMDeduction: "0", InitialMargin: "0.02"},
		{RiskLimitValue: "1000000.001", MaintenanceMargin: "0.02", MMDeduction: "0", InitialMargin: "0.03"},
		{RiskLimitValue: "Infinity", MaintenanceMargin: "0.05", MMDeduction: "0", InitialMargin: "0.1"},
	})
	if !errors.Is(err, errs.InvalidInput) {
		t.Errorf("err = %v, want errs.InvalidInput", err)
	}
}

func TestParseRiskLimitTiers_RejectsOutOfRangeRate(t *testing.T) {
	t.Parallel()

	_, err := ParseRiskLimitTiers([]RawTier{
		{RiskLimitValue: "Infinity", MaintenanceMargin: "1.5", MMDeduction: "0", InitialMargin: "0.01"},
	})
	if !errors.Is(err, errs.InvalidInput) {
		t.Errorf("err = %v, want errs.InvalidInput", err)
	}
}

func TestLiqRatio(t *testing.T) {
	t.Parallel()

	got := LiqRatio(d("88000"), d("100000"))
	if !got.Equal(d("0.88")) {
		t.Errorf("LiqRatio() = %s, want 0.88", got)
	}
	if got := LiqRatio(d("88000"), decimal.Zero); !got.IsZero() {
		t.Errorf("LiqRatio() with zero current = %s, want 0", got)
	}
}

func TestIMRMMRPercent(t *testing.T) {
	t.Parallel()

	if got := IMRPercent(d("1000"), d("10000")); !got.Equal(d("10")) {
		t.Errorf("IMRPercent() = %s, want 10", got)
	}
	if got := IMRPercent(d("1000"), decimal.Zero); !got.IsZero() {
		t.Errorf("IMRPercent() with zero balance = %s, want 0", got)
	}
	if got := MMRPercent(d("500"), d("10000")); !got.Equal(d("5")) {
		t.Errorf("MMRPercent() = %s, want 5", got)
	}
}
