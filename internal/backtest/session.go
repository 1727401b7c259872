package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/margin"
	"gridbot/pkg/types"
)

// Session is the run-scoped aggregate: trades, equity curve, running
// totals, and peak/drawdown tracking. Not safe for concurrent use; the
// orchestrator owns one Session per run.
type Session struct {
	InitialBalance decimal.Decimal

	RealizedPnL    decimal.Decimal
	CommissionPaid decimal.Decimal
	FundingPaid    decimal.Decimal
	TotalVolume    decimal.Decimal

	Trades       []types.BacktestTrade
	EquityCurve  []types.EquityPoint
	peakEquity   decimal.Decimal
	maxDrawdown  decimal.Decimal // absolute
	maxDDTicks   int
	currentTicks int

	PeakIM     decimal.Decimal
	PeakMM     decimal.Decimal
	PeakIMRPct decimal.Decimal
	PeakMMRPct decimal.Decimal
}

// NewSession constructs a Session starting at initialBalance.
func NewSession(initialBalance decimal.Decimal) *Session {
	return &Session{
		InitialBalance: initialBalance,
		peakEquity:     initialBalance,
	}
}

// RecordTrade appends a fill-derived trade and updates running totals.
func (s *Session) RecordTrade(trade types.BacktestTrade) {
	s.Trades = append(s.Trades, trade)
	s.RealizedPnL = s.RealizedPnL.Add(trade.RealizedPnL)
	s.CommissionPaid = s.CommissionPaid.Add(trade.Fee)
	s.TotalVolume = s.TotalVolume.Add(trade.Qty.Mul(trade.Price))
}

// RecordFunding adds a signed funding payment to the running total.
func (s *Session) RecordFunding(amount decimal.Decimal) {
	s.FundingPaid = s.FundingPaid.Add(amount)
}

// CurrentBalance is the margin balance excluding unrealized PnL: the
// wallet figure the amount calculator and risk-multiplier manager treat as
// available margin.
func (s *Session) CurrentBalance() decimal.Decimal {
	return s.InitialBalance.Add(s.RealizedPnL).Add(s.FundingPaid).Sub(s.CommissionPaid)
}

// UpdateEquity computes equity as initial balance plus realized PnL plus
// funding paid minus commission plus unrealized PnL, pushes an equity
// point, and updates peak/drawdown and peak-margin tracking.
func (s *Session) UpdateEquity(ts time.Time, unrealizedPnL, totalIM, totalMM decimal.Decimal) decimal.Decimal {
	equity := s.InitialBalance.
		Add(s.RealizedPnL).
		Add(s.FundingPaid).
		Sub(s.CommissionPaid).
		Add(unrealizedPnL)

	s.EquityCurve = append(s.EquityCurve, types.EquityPoint{TS: ts, Equity: equity})

	if equity.GreaterThanOrEqual(s.peakEquity) {
		s.peakEquity = equity
		s.currentTicks = 0
	} else {
		drawdown := s.peakEquity.Sub(equity)
		if drawdown.GreaterThan(s.maxDrawdown) {
			s.maxDrawdown = drawdown
		}
		s.currentTicks++
		if s.currentTicks > s.maxDDTicks {
			s.maxDDTicks = s.currentTicks
		}
	}

	if totalIM.GreaterThan(s.PeakIM) {
		s.PeakIM = totalIM
	}
	if totalMM.GreaterThan(s.PeakMM) {
		s.PeakMM = totalMM
	}
	if equity.Sign() > 0 {
		if imrPct := margin.IMRPercent(totalIM, equity); imrPct.GreaterThan(s.PeakIMRPct) {
			s.PeakIMRPct = imrPct
		}
		if mmrPct := margin.MMRPercent(totalMM, equity); mmrPct.GreaterThan(s.PeakMMRPct) {
			s.PeakMMRPct = mmrPct
		}
	}

	return equity
}

// SideBreakdown is the per-direction slice of the final report.
type SideBreakdown struct {
	Trades       int
	RealizedPnL  decimal.Decimal
	ProfitFactor decimal.Decimal
}

// Report is the finalized set of session metrics.
type Report struct {
	TradeCount   int
	Wins         int
	Losses       int
	AvgWin       decimal.Decimal
	AvgLoss      decimal.Decimal
	WinRate      decimal.Decimal
	ProfitFactor decimal.Decimal

	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	CommissionPaid decimal.Decimal
	FundingPaid    decimal.Decimal
	NetPnL         decimal.Decimal

	MaxDrawdownAbs      decimal.Decimal
	MaxDrawdownPct      decimal.Decimal
	MaxDrawdownDuration int
	SharpeRatio         float64

	PeakIM     decimal.Decimal
	PeakMM     decimal.Decimal
	PeakIMRPct decimal.Decimal
	PeakMMRPct decimal.Decimal

	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal
	ReturnPct      decimal.Decimal

	TotalVolume decimal.Decimal
	Turnover    decimal.Decimal

	Long  SideBreakdown
	Short SideBreakdown
}

// Finalize computes the full metrics report. finalUnrealized is the
// mark-to-market unrealized PnL as of the run's last tick; sharpeInterval
// is the equity-curve resampling bucket width (spec default: 1 hour).
func (s *Session) Finalize(finalUnrealized decimal.Decimal, sharpeInterval time.Duration) Report {
	final := s.InitialBalance.
		Add(s.RealizedPnL).
		Add(s.FundingPaid).
		Sub(s.CommissionPaid).
		Add(finalUnrealized)

	r := Report{
		RealizedPnL:    s.RealizedPnL,
		UnrealizedPnL:  finalUnrealized,
		CommissionPaid: s.CommissionPaid,
		FundingPaid:    s.FundingPaid,
		NetPnL:         final.Sub(s.InitialBalance),

		MaxDrawdownAbs:      s.maxDrawdown,
		MaxDrawdownDuration: s.maxDDTicks,

		PeakIM:     s.PeakIM,
		PeakMM:     s.PeakMM,
		PeakIMRPct: s.PeakIMRPct,
		PeakMMRPct: s.PeakMMRPct,

		InitialBalance: s.InitialBalance,
		FinalBalance:   final,

		TotalVolume: s.TotalVolume,
	}

	if s.peakEquity.Sign() > 0 {
		r.MaxDrawdownPct = s.maxDrawdown.Div(s.peakEquity).Mul(decimal.NewFromInt(100))
	}
	if s.InitialBalance.Sign() > 0 {
		r.ReturnPct = r.NetPnL.Div(s.InitialBalance).Mul(decimal.NewFromInt(100))
		r.Turnover = s.TotalVolume.Div(s.InitialBalance)
	}

	s.computeTradeStats(&r)
	s.computeSideBreakdown(&r)
	r.SharpeRatio = s.computeSharpe(sharpeInterval)

	return r
}

func (s *Session) computeTradeStats(r *Report) {
	r.TradeCount = len(s.Trades)
	var grossWin, grossLoss decimal.Decimal
	for _, tr := range s.Trades {
		switch {
		case tr.RealizedPnL.Sign() > 0:
			r.Wins++
			grossWin = grossWin.Add(tr.RealizedPnL)
		case tr.RealizedPnL.Sign() < 0:
			r.Losses++
			grossLoss = grossLoss.Add(tr.RealizedPnL.Abs())
		}
	}
	if r.Wins > 0 {
		r.AvgWin = grossWin.Div(decimal.NewFromInt(int64(r.Wins)))
	}
	if r.Losses > 0 {
		r.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(r.Losses)))
	}
	if r.TradeCount > 0 {
		r.WinRate = decimal.NewFromInt(int64(r.Wins)).Div(decimal.NewFromInt(int64(r.TradeCount))).Mul(decimal.NewFromInt(100))
	}
	if grossLoss.Sign() > 0 {
		r.ProfitFactor = grossWin.Div(grossLoss)
	}
}

func (s *Session) computeSideBreakdown(r *Report) {
	var longWin, longLoss, shortWin, shortLoss decimal.Decimal
	for _, tr := range s.Trades {
		var win, loss *decimal.Decimal
		var breakdown *SideBreakdown
		if tr.Direction == types.Long {
			win, loss, breakdown = &longWin, &longLoss, &r.Long
		} else {
			win, loss, breakdown = &shortWin, &shortLoss, &r.Short
		}
		breakdown.Trades++
		breakdown.RealizedPnL = breakdown.RealizedPnL.Add(tr.RealizedPnL)
		if tr.RealizedPnL.Sign() > 0 {
			*win = win.Add(tr.RealizedPnL)
		} else if tr.RealizedPnL.Sign() < 0 {
			*loss = loss.Add(tr.RealizedPnL.Abs())
		}
	}
	if longLoss.Sign() > 0 {
		r.Long.ProfitFactor = longWin.Div(longLoss)
	}
	if shortLoss.Sign() > 0 {
		r.Short.ProfitFactor = shortWin.Div(shortLoss)
	}
}

// computeSharpe resamples the equity curve to fixed-width buckets (last
// value per bucket, empty buckets skipped), computes period returns, and
// annualizes assuming 24/7 trading.
func (s *Session) computeSharpe(interval time.Duration) float64 {
	if interval <= 0 || len(s.EquityCurve) == 0 {
		return 0
	}

	type bucket struct {
		key   int64
		value decimal.Decimal
	}
	var resampled []bucket
	for _, pt := range s.EquityCurve {
		key := pt.TS.Unix() / int64(interval.Seconds())
		if len(resampled) > 0 && resampled[len(resampled)-1].key == key {
			resampled[len(resampled)-1].value = pt.Equity
			continue
		}
		resampled = append(resampled, bucket{key: key, value: pt.Equity})
	}

	var returns []float64
	for i := 1; i < len(resampled); i++ {
		prev := resampled[i-1].value
		if prev.IsZero() {
			continue
		}
		ret, _ := resampled[i].value.Sub(prev).Div(prev).Float64()
		returns = append(returns, ret)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}

	const secondsPerYear = 365.25 * 86400
	periodsPerYear := secondsPerYear / interval.Seconds()
	return (mean / stddev) * math.Sqrt(periodsPerYear)
}
