package main

import (
	"testing"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
)

func TestResolveBacktestInstrument_UsesConfiguredQtyStepAndMinQty(t *testing.T) {
	t.Parallel()

	s := config.StrategyConfig{
		GridStep:              "0.02", // unrelated ladder-spacing field; must not leak into qtyStep
		QtyStep:               "0.001",
		MinQty:                "0.01",
		MaintenanceMarginRate: "0.005",
		Leverage:              "10",
	}

	qtyStep, minQty, tiers := resolveBacktestInstrument(s)

	if !qtyStep.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("qtyStep = %s, want 0.001", qtyStep)
	}
	if !minQty.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("minQty = %s, want 0.01", minQty)
	}
	if len(tiers) != 1 {
		t.Fatalf("tiers = %v, want one uncapped tier", tiers)
	}
	if !tiers[0].MMRRate.Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("MMRRate = %s, want 0.005", tiers[0].MMRRate)
	}
}

func TestResolveBacktestInstrument_FallsBackWhenFieldsBlank(t *testing.T) {
	t.Parallel()

	qtyStep, minQty, tiers := resolveBacktestInstrument(config.StrategyConfig{})

	if !qtyStep.Equal(decimal.NewFromFloat(0.001)) {
		t.Errorf("qtyStep = %s, want default 0.001", qtyStep)
	}
	if !minQty.Equal(qtyStep) {
		t.Errorf("minQty = %s, want fallback to qtyStep %s", minQty, qtyStep)
	}
	if len(tiers) != 1 {
		t.Fatalf("tiers = %v, want one uncapped tier", tiers)
	}
	if !tiers[0].IMRRate.Equal(decimal.NewFromInt(1).Div(decimal.NewFromInt(10))) {
		t.Errorf("IMRRate = %s, want 1/10 (default leverage)", tiers[0].IMRRate)
	}
}
