// Package risk enforces run-wide risk limits across all active strategies.
//
// The risk manager runs as a standalone goroutine that receives
// PositionReports from each strategy's runner and checks them against
// configured limits:
//
//   - Per-symbol exposure:  caps USD exposure in any single symbol
//   - Global exposure:      caps total USD exposure across all symbols
//   - Daily loss:           triggers kill switch if realized+unrealized PnL exceeds threshold
//   - Rapid price movement: triggers kill switch if last price moves more than
//     KillSwitchDropPct within KillSwitchWindowSec seconds
//
// When a limit is breached, the manager emits a KillSignal on KillCh(). The
// engine reads this signal and cancels all orders (globally or per-symbol).
// After a kill, the kill switch stays active for CooldownAfterKill duration,
// during which the strategy skips placing new orders.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
)

// PositionReport is sent by each strategy's runner every tick. It contains
// the current combined long+short exposure and PnL for risk evaluation.
type PositionReport struct {
	Symbol        string
	LastPrice     decimal.Decimal // used for price-movement detection
	ExposureUSD   decimal.Decimal // total position value in USD (long + short)
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	Timestamp     time.Time
}

// KillSignal tells the engine to cancel all orders. If Symbol is empty, it
// means cancel across ALL symbols (global kill).
type KillSignal struct {
	Symbol string
	Reason string
}

// priceAnchor stores a reference price at a point in time for detecting
// rapid price movements within a rolling window.
type priceAnchor struct {
	price     decimal.Decimal
	timestamp time.Time
}

// Manager enforces risk limits across all active strategies. It aggregates
// position reports, checks limits, and emits kill signals when breached.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	maxExposurePerSymbol decimal.Decimal
	maxGlobalExposure    decimal.Decimal
	maxDailyLoss         decimal.Decimal
	killSwitchDropPct    decimal.Decimal

	mu               sync.RWMutex
	positions        map[string]PositionReport // latest report per symbol
	totalExposure    decimal.Decimal
	totalRealizedPnL decimal.Decimal
	killSwitchActive bool
	killSwitchUntil  time.Time
	priceAnchors     map[string]priceAnchor

	reportCh chan PositionReport
	killCh   chan KillSignal
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:                  cfg,
		logger:               logger.With("component", "risk"),
		maxExposurePerSymbol: parseDecimalOrZero(cfg.MaxExposurePerSymbol),
		maxGlobalExposure:    parseDecimalOrZero(cfg.MaxGlobalExposure),
		maxDailyLoss:         parseDecimalOrZero(cfg.MaxDailyLoss),
		killSwitchDropPct:    parseDecimalOrZero(cfg.KillSwitchDropPct),
		positions:            make(map[string]PositionReport),
		priceAnchors:         make(map[string]priceAnchor),
		reportCh:             make(chan PositionReport, 100),
		killCh:               make(chan KillSignal, 10),
	}
}

// Run starts the risk monitoring loop. Blocks until ctx is cancelled.
func (rm *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report (non-blocking).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report", "symbol", report.Symbol)
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// RemoveSymbol cleans up state for a stopped strategy and recomputes
// aggregate totals so the removed symbol's exposure stops counting
// immediately rather than lingering until another report arrives.
func (rm *Manager) RemoveSymbol(symbol string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.positions, symbol)
	delete(rm.priceAnchors, symbol)

	rm.totalExposure = decimal.Zero
	rm.totalRealizedPnL = decimal.Zero
	for _, pos := range rm.positions {
		rm.totalExposure = rm.totalExposure.Add(pos.ExposureUSD)
		rm.totalRealizedPnL = rm.totalRealizedPnL.Add(pos.RealizedPnL)
	}
}

// IsKillSwitchActive returns whether the kill switch is engaged.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// RemainingBudget returns how much additional USD exposure is allowed for
// the given symbol. It takes the minimum of:
//   - per-symbol headroom: MaxExposurePerSymbol − current symbol exposure
//   - global headroom:     MaxGlobalExposure − total exposure across all symbols
//
// Returns 0 if either limit is already exceeded.
func (rm *Manager) RemainingBudget(symbol string) decimal.Decimal {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var currentExposure decimal.Decimal
	if pos, ok := rm.positions[symbol]; ok {
		currentExposure = pos.ExposureUSD
	}

	perSymbol := rm.maxExposurePerSymbol.Sub(currentExposure)
	global := rm.maxGlobalExposure.Sub(rm.totalExposure)

	remaining := perSymbol
	if global.LessThan(remaining) {
		remaining = global
	}
	if remaining.Sign() < 0 {
		return decimal.Zero
	}
	return remaining
}

// RiskSnapshot is the aggregate risk state exposed to operators/telemetry.
type RiskSnapshot struct {
	GlobalExposure     decimal.Decimal
	MaxGlobalExposure  decimal.Decimal
	KillSwitchActive   bool
	KillSwitchUntil    time.Time
	KillSwitchReason   string
	TotalRealizedPnL   decimal.Decimal
	TotalUnrealizedPnL decimal.Decimal
	ActiveSymbols      int
}

// GetRiskSnapshot returns current aggregate risk metrics.
func (rm *Manager) GetRiskSnapshot() RiskSnapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	totalUnrealizedPnL := decimal.Zero
	for _, pos := range rm.positions {
		totalUnrealizedPnL = totalUnrealizedPnL.Add(pos.UnrealizedPnL)
	}

	var killReason string
	if rm.killSwitchActive {
		killReason = "cooldown"
	}

	return RiskSnapshot{
		GlobalExposure:     rm.totalExposure,
		MaxGlobalExposure:  rm.maxGlobalExposure,
		KillSwitchActive:   rm.killSwitchActive,
		KillSwitchUntil:    rm.killSwitchUntil,
		KillSwitchReason:   killReason,
		TotalRealizedPnL:   rm.totalRealizedPnL,
		TotalUnrealizedPnL: totalUnrealizedPnL,
		ActiveSymbols:      len(rm.positions),
	}
}

func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.positions[report.Symbol] = report

	rm.totalExposure = decimal.Zero
	rm.totalRealizedPnL = decimal.Zero
	totalUnrealizedPnL := decimal.Zero
	for _, pos := range rm.positions {
		rm.totalExposure = rm.totalExposure.Add(pos.ExposureUSD)
		rm.totalRealizedPnL = rm.totalRealizedPnL.Add(pos.RealizedPnL)
		totalUnrealizedPnL = totalUnrealizedPnL.Add(pos.UnrealizedPnL)
	}

	if rm.maxExposurePerSymbol.Sign() > 0 && report.ExposureUSD.GreaterThan(rm.maxExposurePerSymbol) {
		rm.emitKill(report.Symbol, "per-symbol exposure limit breached")
	}

	if rm.maxGlobalExposure.Sign() > 0 && rm.totalExposure.GreaterThan(rm.maxGlobalExposure) {
		rm.emitKill("", "global exposure limit breached")
	}

	totalPnL := rm.totalRealizedPnL.Add(totalUnrealizedPnL)
	if rm.maxDailyLoss.Sign() > 0 && totalPnL.LessThan(rm.maxDailyLoss.Neg()) {
		rm.emitKill("", "max daily loss breached")
	}

	rm.checkPriceMovement(report)
}

// checkPriceMovement detects rapid price swings using a rolling anchor. On
// each report, it compares the last price to the anchor set at the start of
// the window. If the anchor is older than KillSwitchWindowSec, it resets.
// If price moved more than KillSwitchDropPct from anchor, kill switch fires.
func (rm *Manager) checkPriceMovement(report PositionReport) {
	if rm.killSwitchDropPct.Sign() <= 0 || rm.cfg.KillSwitchWindowSec <= 0 {
		return
	}
	window := time.Duration(rm.cfg.KillSwitchWindowSec) * time.Second

	anchor, ok := rm.priceAnchors[report.Symbol]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > window {
		rm.priceAnchors[report.Symbol] = priceAnchor{
			price:     report.LastPrice,
			timestamp: report.Timestamp,
		}
		return
	}

	if anchor.price.IsZero() {
		return
	}

	pctChange := report.LastPrice.Sub(anchor.price).Div(anchor.price).Abs()
	if pctChange.GreaterThan(rm.killSwitchDropPct) {
		rm.emitKill(report.Symbol, fmt.Sprintf(
			"rapid price movement: %s in %ds",
			pctChange.Mul(decimal.NewFromInt(100)).StringFixed(1), rm.cfg.KillSwitchWindowSec,
		))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.killSwitchActive && time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends
// a KillSignal to the engine. If the kill channel is full, it drains the
// stale signal first to ensure the latest kill reason is always delivered.
func (rm *Manager) emitKill(symbol, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)

	rm.logger.Error("KILL SWITCH",
		"symbol", symbol,
		"reason", reason,
		"cooldown_until", rm.killSwitchUntil,
	)

	sig := KillSignal{Symbol: symbol, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
