package replay

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

// LiveTrade is one recorded fill from a live run, loaded from the
// persistence layer for comparison against a replayed session.
type LiveTrade struct {
	ClientOrderID string
	OrderID       string
	Symbol        string
	Side          types.Side
	Direction     types.Direction
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Fee           decimal.Decimal
	RealizedPnL   decimal.Decimal
	TS            time.Time
}

// Tolerances bounds how far a matched pair's price/qty may diverge before
// counting as a tolerance breach.
type Tolerances struct {
	PriceTolerance decimal.Decimal
	QtyTolerance   decimal.Decimal
}

// DefaultTolerances is exact price matching and a 0.001 qty tolerance.
func DefaultTolerances() Tolerances {
	return Tolerances{
		PriceTolerance: decimal.Zero,
		QtyTolerance:   decimal.RequireFromString("0.001"),
	}
}

// PairComparison is one matched (live, simulated) trade pair, keyed by
// (client_order_id, occurrence index).
type PairComparison struct {
	ClientOrderID string
	Occurrence    int
	Live          LiveTrade
	Simulated     types.BacktestTrade

	PriceDelta decimal.Decimal
	QtyDelta   decimal.Decimal
	FeeDelta   decimal.Decimal
	PnLDelta   decimal.Decimal
	TimeDelta  time.Duration

	PriceBreach bool
	QtyBreach   bool
}

// SideBreakdown is the per-direction slice of a comparison report.
type SideBreakdown struct {
	Pairs              int
	CumulativePnLDelta decimal.Decimal
}

// Report is the aggregate result of comparing a replayed session's trades
// against the live trades recorded for the same run.
type Report struct {
	Pairs []PairComparison

	MatchedCount   int
	PhantomCount   int // simulated trades with no live counterpart
	MissedCount    int // live trades with no simulated counterpart
	TotalLive      int
	TotalSimulated int

	MatchRate          decimal.Decimal
	PhantomRate        decimal.Decimal
	CumulativePnLDelta decimal.Decimal
	PnLCorrelation     float64
	ToleranceBreaches  int

	Long  SideBreakdown
	Short SideBreakdown
}

// Compare matches live and simulated trades 1:1 by (client_order_id, N-th
// occurrence of that id), computes per-pair deltas, and aggregates
// match/phantom rates, cumulative PnL delta, and the Pearson correlation of
// per-pair realized PnL.
func Compare(live []LiveTrade, simulated []types.BacktestTrade, tol Tolerances) Report {
	liveByID := groupLiveByClientID(live)
	simByID := groupSimByClientID(simulated)

	ids := make(map[string]bool)
	for id := range liveByID {
		ids[id] = true
	}
	for id := range simByID {
		ids[id] = true
	}

	var report Report
	report.TotalLive = len(live)
	report.TotalSimulated = len(simulated)

	var livePnLs, simPnLs []float64

	for id := range ids {
		liveTrades := liveByID[id]
		simTrades := simByID[id]

		matched := len(liveTrades)
		if len(simTrades) < matched {
			matched = len(simTrades)
		}

		for i := 0; i < matched; i++ {
			l, s := liveTrades[i], simTrades[i]
			pair := PairComparison{
				ClientOrderID: id,
				Occurrence:    i,
				Live:          l,
				Simulated:     s,
				PriceDelta:    s.Price.Sub(l.Price),
				QtyDelta:      s.Qty.Sub(l.Qty),
				FeeDelta:      s.Fee.Sub(l.Fee),
				PnLDelta:      s.RealizedPnL.Sub(l.RealizedPnL),
				TimeDelta:     s.TS.Sub(l.TS),
			}
			pair.PriceBreach = pair.PriceDelta.Abs().GreaterThan(tol.PriceTolerance)
			pair.QtyBreach = pair.QtyDelta.Abs().GreaterThan(tol.QtyTolerance)
			if pair.PriceBreach || pair.QtyBreach {
				report.ToleranceBreaches++
			}

			report.Pairs = append(report.Pairs, pair)
			report.MatchedCount++
			report.CumulativePnLDelta = report.CumulativePnLDelta.Add(pair.PnLDelta)

			livePnLf, _ := l.RealizedPnL.Float64()
			simPnLf, _ := s.RealizedPnL.Float64()
			livePnLs = append(livePnLs, livePnLf)
			simPnLs = append(simPnLs, simPnLf)

			breakdown := sideBreakdownFor(&report, l.Direction)
			breakdown.Pairs++
			breakdown.CumulativePnLDelta = breakdown.CumulativePnLDelta.Add(pair.PnLDelta)
		}

		report.PhantomCount += len(simTrades) - matched
		report.MissedCount += len(liveTrades) - matched
	}

	if report.TotalLive > 0 {
		report.MatchRate = decimal.NewFromInt(int64(report.MatchedCount)).Div(decimal.NewFromInt(int64(report.TotalLive)))
	}
	if report.TotalSimulated > 0 {
		report.PhantomRate = decimal.NewFromInt(int64(report.PhantomCount)).Div(decimal.NewFromInt(int64(report.TotalSimulated)))
	}
	report.PnLCorrelation = pearsonCorrelation(livePnLs, simPnLs)

	return report
}

func sideBreakdownFor(r *Report, direction types.Direction) *SideBreakdown {
	if direction == types.Long {
		return &r.Long
	}
	return &r.Short
}

func groupLiveByClientID(trades []LiveTrade) map[string][]LiveTrade {
	out := make(map[string][]LiveTrade)
	for _, t := range trades {
		out[t.ClientOrderID] = append(out[t.ClientOrderID], t)
	}
	return out
}

func groupSimByClientID(trades []types.BacktestTrade) map[string][]types.BacktestTrade {
	out := make(map[string][]types.BacktestTrade)
	for _, t := range trades {
		out[t.ClientOrderID] = append(out[t.ClientOrderID], t)
	}
	return out
}

// pearsonCorrelation returns the Pearson correlation coefficient of xs and
// ys, or 0 when fewer than two points or either series has zero variance.
func pearsonCorrelation(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
