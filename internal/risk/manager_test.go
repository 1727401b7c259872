package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxExposurePerSymbol: "100",
		MaxGlobalExposure:    "500",
		KillSwitchDropPct:    "0.10",
		KillSwitchWindowSec:  60,
		MaxDailyLoss:         "50",
		CooldownAfterKill:    5 * time.Minute,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testRiskConfig(), logger)
}

func TestProcessReportUnderLimits(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		Symbol:      "BTCUSDT",
		ExposureUSD: d("50"),
		LastPrice:   d("0.50"),
		Timestamp:   time.Now(),
	})

	if rm.killSwitchActive {
		t.Error("kill switch should not fire for report under limits")
	}

	select {
	case sig := <-rm.killCh:
		t.Errorf("unexpected kill signal: %+v", sig)
	default:
	}
}

func TestProcessReportPerSymbolBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		Symbol:      "BTCUSDT",
		ExposureUSD: d("150"), // exceeds 100 limit
		LastPrice:   d("0.50"),
		Timestamp:   time.Now(),
	})

	if !rm.killSwitchActive {
		t.Error("kill switch should fire for per-symbol breach")
	}

	select {
	case sig := <-rm.killCh:
		if sig.Symbol != "BTCUSDT" {
			t.Errorf("kill signal symbol = %q, want BTCUSDT", sig.Symbol)
		}
	default:
		t.Error("expected kill signal on channel")
	}
}

func TestProcessReportGlobalBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	symbols := []string{"S1", "S2", "S3", "S4", "S5", "S6"}
	for _, s := range symbols {
		rm.processReport(PositionReport{Symbol: s, ExposureUSD: d("90"), LastPrice: d("0.50"), Timestamp: time.Now()})
	}

	// Total = 540 > 500 global limit
	if !rm.killSwitchActive {
		t.Error("kill switch should fire for global exposure breach")
	}

	drained := 0
	for {
		select {
		case <-rm.killCh:
			drained++
		default:
			goto done
		}
	}
done:
	if drained == 0 {
		t.Error("expected at least one kill signal")
	}
}

func TestProcessReportDailyLossBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		Symbol:        "BTCUSDT",
		ExposureUSD:   d("10"),
		RealizedPnL:   d("-30"),
		UnrealizedPnL: d("-25"),
		LastPrice:     d("0.50"),
		Timestamp:     time.Now(),
	})

	// total PnL = -30 + -25 = -55 < -50 threshold
	if !rm.killSwitchActive {
		t.Error("kill switch should fire for daily loss breach")
	}
}

func TestCheckPriceMovementNormal(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	now := time.Now()

	rm.processReport(PositionReport{Symbol: "BTCUSDT", LastPrice: d("0.50"), Timestamp: now})
	rm.processReport(PositionReport{Symbol: "BTCUSDT", LastPrice: d("0.52"), Timestamp: now.Add(10 * time.Second)})

	select {
	case <-rm.killCh:
		t.Error("should not fire kill for a 4% move")
	default:
	}
}

func TestCheckPriceMovementSpike(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	now := time.Now()

	rm.processReport(PositionReport{Symbol: "BTCUSDT", LastPrice: d("0.50"), Timestamp: now})
	rm.processReport(PositionReport{Symbol: "BTCUSDT", LastPrice: d("0.35"), Timestamp: now.Add(10 * time.Second)})

	if !rm.killSwitchActive {
		t.Error("kill switch should fire for a 30% price spike")
	}
}

func TestRemainingBudget(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	remaining := rm.RemainingBudget("BTCUSDT")
	if !remaining.Equal(d("100")) {
		t.Errorf("remaining = %s, want 100", remaining)
	}

	rm.processReport(PositionReport{Symbol: "BTCUSDT", ExposureUSD: d("60"), LastPrice: d("0.50"), Timestamp: time.Now()})

	remaining = rm.RemainingBudget("BTCUSDT")
	if !remaining.Equal(d("40")) {
		t.Errorf("remaining = %s, want 40", remaining)
	}
}

func TestRemainingBudgetGlobalConstrained(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	for i := 0; i < 5; i++ {
		rm.processReport(PositionReport{
			Symbol:      "OTHER" + string(rune('A'+i)),
			ExposureUSD: d("95"),
			LastPrice:   d("0.50"),
			Timestamp:   time.Now(),
		})
	}
	for {
		select {
		case <-rm.killCh:
		default:
			goto done
		}
	}
done:

	// Total exposure = 475. Global remaining = 500 - 475 = 25.
	// Per-symbol BTCUSDT = 100 (no position). Min(100, 25) = 25.
	remaining := rm.RemainingBudget("BTCUSDT")
	if !remaining.Equal(d("25")) {
		t.Errorf("remaining = %s, want 25 (global constrained)", remaining)
	}
}

func TestIsKillSwitchCooldown(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.cfg.CooldownAfterKill = 100 * time.Millisecond

	rm.processReport(PositionReport{Symbol: "BTCUSDT", ExposureUSD: d("200"), LastPrice: d("0.50"), Timestamp: time.Now()})

	if !rm.IsKillSwitchActive() {
		t.Error("kill switch should be active immediately after breach")
	}

	time.Sleep(150 * time.Millisecond)

	if rm.IsKillSwitchActive() {
		t.Error("kill switch should expire after cooldown")
	}
}

func TestRemoveSymbolRecomputesTotals(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	now := time.Now()

	rm.processReport(PositionReport{Symbol: "BTCUSDT", ExposureUSD: d("60"), RealizedPnL: d("5"), LastPrice: d("0.50"), Timestamp: now})
	rm.processReport(PositionReport{Symbol: "ETHUSDT", ExposureUSD: d("70"), RealizedPnL: d("3"), LastPrice: d("0.50"), Timestamp: now})

	if got := rm.totalExposure; !got.Equal(d("130")) {
		t.Fatalf("totalExposure before remove = %s, want 130", got)
	}
	if got := rm.totalRealizedPnL; !got.Equal(d("8")) {
		t.Fatalf("totalRealizedPnL before remove = %s, want 8", got)
	}

	rm.RemoveSymbol("ETHUSDT")

	if got := rm.totalExposure; !got.Equal(d("60")) {
		t.Fatalf("totalExposure after remove = %s, want 60", got)
	}
	if got := rm.totalRealizedPnL; !got.Equal(d("5")) {
		t.Fatalf("totalRealizedPnL after remove = %s, want 5", got)
	}
}
