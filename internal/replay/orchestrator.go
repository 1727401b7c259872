package replay

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/backtest"
	"gridbot/internal/gridengine"
	"gridbot/internal/margin"
	"gridbot/internal/position"
	"gridbot/pkg/types"
)

// Runner binds one strategy's ladder engine, long/short position pair, risk
// multiplier manager, and order manager together, and drives them through
// one tick at a time.
type Runner struct {
	cfg types.StrategyConfig

	engine  *gridengine.Engine
	pair    position.Pair
	riskMgr *position.RiskMultiplierManager
	orders  *backtest.OrderManager
	qtyCalc *QtyCalculator

	minQty      decimal.Decimal
	nextOrderID int
}

// NewRunner constructs a Runner for cfg, seeded with the instrument's
// qty_step/min_qty and the symbol's risk-limit tier table. startupAnchor,
// when hasStartupAnchor is true, seeds the ladder's first build instead of
// the first observed last_close.
func NewRunner(cfg types.StrategyConfig, tiers []types.RiskLimitTier, startupAnchor decimal.Decimal, hasStartupAnchor bool) (*Runner, error) {
	qtyCalc, err := NewQtyCalculator(cfg.AmountExpression, cfg.QtyStep)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", cfg.StratID, err)
	}

	eng := gridengine.New(gridengine.Config{
		Symbol:             cfg.Symbol,
		TickSize:           cfg.TickSize,
		GridCount:          cfg.GridCount,
		GridStepPct:        cfg.GridStep,
		RebalanceThreshold: cfg.RebalanceThreshold,
		StartupAnchor:      startupAnchor,
		HasStartupAnchor:   hasStartupAnchor,
	})

	return &Runner{
		cfg:    cfg,
		engine: eng,
		pair: position.Pair{
			Long:  position.New(types.Long, cfg.Leverage, cfg.CommissionRate, tiers),
			Short: position.New(types.Short, cfg.Leverage, cfg.CommissionRate, tiers),
		},
		riskMgr: position.NewRiskMultiplierManager(position.RiskMultiplierConfig{
			MinLiqRatio:    cfg.MinLiqRatio,
			MaxLiqRatio:    cfg.MaxLiqRatio,
			MinTotalMargin: cfg.MinTotalMargin,
		}),
		orders:  backtest.NewOrderManager(cfg.CommissionRate),
		qtyCalc: qtyCalc,
		minQty:  cfg.MinQty,
	}, nil
}

// processFills runs Phase 1 for this runner: drains trade-through fills at
// the tick's price, applies each to the owning tracker, feeds an
// ExecutionEvent back into the engine so last_filled_price/ladder state
// stay current, and returns the resulting trades.
func (r *Runner) processFills(tick types.Tick) []types.BacktestTrade {
	fills := r.orders.CheckFills(tick.LastPrice, tick.ExchangeTS, r.cfg.Symbol)
	trades := make([]types.BacktestTrade, 0, len(fills))

	for _, f := range fills {
		tracker := r.trackerFor(f.Direction)
		realized, err := tracker.ProcessFill(f.Side, f.Qty, f.Price)
		if err != nil {
			continue
		}

		r.engine.OnEvent(gridengine.ExecutionEvent(types.Execution{
			Symbol:      f.Symbol,
			ExchangeTS:  f.TS,
			OrderID:     f.OrderID,
			OrderLinkID: f.ClientOrderID,
			Side:        f.Side,
			Price:       f.Price,
			Qty:         f.Qty,
			Fee:         f.Fee,
		}), gridengine.OpenOrdersBySide{})

		r.engine.OnEvent(gridengine.OrderUpdateEvent(types.OrderUpdate{
			Symbol:      f.Symbol,
			ExchangeTS:  f.TS,
			OrderID:     f.OrderID,
			OrderLinkID: f.ClientOrderID,
			Status:      types.OrderFilled,
			Side:        f.Side,
			Price:       f.Price,
			Qty:         f.Qty,
		}), gridengine.OpenOrdersBySide{})

		trades = append(trades, types.BacktestTrade{
			TS:            f.TS,
			Symbol:        f.Symbol,
			ClientOrderID: f.ClientOrderID,
			OrderID:       f.OrderID,
			Side:          f.Side,
			Direction:     f.Direction,
			Price:         f.Price,
			Qty:           f.Qty,
			Fee:           f.Fee,
			RealizedPnL:   realized,
			GridLevel:     f.GridLevel,
		})
	}

	return trades
}

// trackerFor resolves which side's tracker a fill direction belongs to.
func (r *Runner) trackerFor(direction types.Direction) *position.Tracker {
	if direction == types.Long {
		return r.pair.Long
	}
	return r.pair.Short
}

// recomputeUnrealized recalculates both trackers' unrealized PnL/margin at
// lastPrice and returns the runner's aggregate unrealized PnL, IM, and MM.
func (r *Runner) recomputeUnrealized(lastPrice decimal.Decimal) (unrealized, im, mm decimal.Decimal) {
	r.pair.Long.CalculateUnrealizedPnL(lastPrice)
	r.pair.Short.CalculateUnrealizedPnL(lastPrice)

	unrealized = r.pair.Long.UnrealizedPnL.Add(r.pair.Short.UnrealizedPnL)
	im = r.pair.Long.InitialMargin.Add(r.pair.Short.InitialMargin)
	mm = r.pair.Long.MaintenanceMargin.Add(r.pair.Short.MaintenanceMargin)
	return unrealized, im, mm
}

// liquidationPrices estimates both sides' liquidation prices from their
// current average entry and maintenance margin rate.
func (r *Runner) liquidationPrices() (longLiq, shortLiq decimal.Decimal) {
	longLiq = margin.EstimateLiquidationPrice(types.Long, r.pair.Long.AvgEntryPrice, r.cfg.Leverage, r.pair.Long.MMRRate)
	shortLiq = margin.EstimateLiquidationPrice(types.Short, r.pair.Short.AvgEntryPrice, r.cfg.Leverage, r.pair.Short.MMRRate)
	return longLiq, shortLiq
}

// executeTick runs Phase 3 for this runner: asks the ladder engine for
// intents against the current open-order snapshot and carries each one out
// against the order manager, sizing placements via the qty calculator and
// the risk-multiplier manager's current per-side multipliers.
func (r *Runner) executeTick(tick types.Tick, walletBalance decimal.Decimal) {
	if r.cfg.EnableRiskMultipliers {
		longLiq, shortLiq := r.liquidationPrices()
		r.riskMgr.Recalculate(r.pair, longLiq, shortLiq, tick.LastPrice, walletBalance)
	}

	openOrders := r.orders.GetLimitOrders(r.cfg.Symbol)
	intents := r.engine.OnEvent(gridengine.TickerEvent(tick), openOrders)

	for _, intent := range intents {
		switch intent.Kind {
		case types.IntentCancel:
			r.orders.CancelByOrderID(intent.OrderID, tick.ExchangeTS)
		case types.IntentPlaceLimit:
			r.place(intent, tick, walletBalance)
		}
	}
}

func (r *Runner) place(intent types.Intent, tick types.Tick, walletBalance decimal.Decimal) {
	multiplier := r.multiplierFor(intent.Direction, intent.Side)
	qty := r.qtyCalc.Calculate(tick.LastPrice, walletBalance, multiplier)
	if qty.Sign() <= 0 {
		return
	}
	r.riskMgr.CompensateMinQty(intent.Direction, qty, r.minQty)

	r.nextOrderID++
	clientOrderID := fmt.Sprintf("%s-%d-%d", r.cfg.StratID, tick.ExchangeTS.UnixNano(), r.nextOrderID)

	order, err := r.orders.Place(clientOrderID, intent.Symbol, intent.Side, intent.Price, qty, intent.Direction, intent.GridLevel, tick.ExchangeTS)
	if err != nil {
		return
	}

	r.engine.OnEvent(gridengine.OrderUpdateEvent(types.OrderUpdate{
		Symbol:      order.Symbol,
		ExchangeTS:  tick.ExchangeTS,
		OrderID:     order.OrderID,
		OrderLinkID: order.ClientOrderID,
		Status:      types.OrderNew,
		Side:        order.Side,
		Price:       order.Price,
		Qty:         order.Qty,
	}), gridengine.OpenOrdersBySide{})
}

func (r *Runner) multiplierFor(direction types.Direction, side types.Side) decimal.Decimal {
	sm := r.riskMgr.Long
	if direction == types.Short {
		sm = r.riskMgr.Short
	}
	if side == types.Buy {
		return sm.Buy
	}
	return sm.Sell
}

// windDown applies end-of-run treatment to a non-empty position: leave_open
// does nothing; close_all synthesizes a closing fill at lastPrice and
// records the resulting trade.
func (r *Runner) windDown(lastPrice decimal.Decimal, ts time.Time) []types.BacktestTrade {
	if r.cfg.WindDownMode != types.WindDownCloseAll {
		return nil
	}

	var trades []types.BacktestTrade
	for _, tracker := range []*position.Tracker{r.pair.Long, r.pair.Short} {
		if tracker.IsEmpty() {
			continue
		}
		closeSide := types.Sell
		if tracker.Direction == types.Short {
			closeSide = types.Buy
		}
		size := tracker.Size
		realized, err := tracker.ProcessFill(closeSide, size, lastPrice)
		if err != nil {
			continue
		}
		trades = append(trades, types.BacktestTrade{
			TS:          ts,
			Symbol:      r.cfg.Symbol,
			Side:        closeSide,
			Direction:   tracker.Direction,
			Price:       lastPrice,
			Qty:         size,
			RealizedPnL: realized,
		})
	}
	return trades
}

// Orchestrator drives one run for one symbol: the funding simulator, the
// backtest session, and every strategy runner configured for that symbol.
type Orchestrator struct {
	Symbol  string
	Session *backtest.Session
	funding *FundingSimulator
	runners []*Runner
}

// NewOrchestrator constructs an orchestrator for symbol with the given
// initial balance and strategy runners. enableFunding controls whether
// Phase 0 applies funding payments at all.
func NewOrchestrator(symbol string, initialBalance decimal.Decimal, runners []*Runner, enableFunding bool) *Orchestrator {
	o := &Orchestrator{
		Symbol:  symbol,
		Session: backtest.NewSession(initialBalance),
		runners: runners,
	}
	if enableFunding {
		o.funding = NewFundingSimulator()
	}
	return o
}

// FundingRate is the per-period rate applied when the funding simulator
// signals a payment; a single rate applies across all runners on the
// symbol (mirrors Bybit's one-funding-rate-per-symbol model).
type FundingRate struct {
	Rate      decimal.Decimal
	MarkPrice decimal.Decimal
}

// ProcessTick drives one tick through the two-phase loop (three phases,
// counting the optional funding phase): funding, fills, equity, intents.
// fundingFn supplies the current funding rate/mark price; it is consulted
// only when the orchestrator has funding enabled and the simulator signals
// this tick qualifies.
func (o *Orchestrator) ProcessTick(tick types.Tick, fundingFn func() FundingRate) {
	if tick.Symbol != o.Symbol {
		return
	}

	if o.funding != nil && o.funding.ShouldApply(tick.ExchangeTS) {
		fr := fundingFn()
		for _, r := range o.runners {
			paidLong := r.pair.Long.ApplyFunding(fr.Rate, fr.MarkPrice)
			paidShort := r.pair.Short.ApplyFunding(fr.Rate, fr.MarkPrice)
			o.Session.RecordFunding(paidLong.Add(paidShort))
		}
		o.funding.MarkApplied(tick.ExchangeTS)
	}

	for _, r := range o.runners {
		for _, trade := range r.processFills(tick) {
			o.Session.RecordTrade(trade)
		}
	}

	var totalUnrealized, totalIM, totalMM decimal.Decimal
	for _, r := range o.runners {
		u, im, mm := r.recomputeUnrealized(tick.LastPrice)
		totalUnrealized = totalUnrealized.Add(u)
		totalIM = totalIM.Add(im)
		totalMM = totalMM.Add(mm)
	}
	o.Session.UpdateEquity(tick.ExchangeTS, totalUnrealized, totalIM, totalMM)

	walletBalance := o.Session.CurrentBalance()
	for _, r := range o.runners {
		r.executeTick(tick, walletBalance)
	}
}

// Finalize applies wind-down to every runner, records any resulting
// closing trades, and returns the session's final metrics report.
func (o *Orchestrator) Finalize(lastPrice decimal.Decimal, lastTS time.Time, sharpeInterval time.Duration) backtest.Report {
	for _, r := range o.runners {
		for _, trade := range r.windDown(lastPrice, lastTS) {
			o.Session.RecordTrade(trade)
		}
	}

	var finalUnrealized decimal.Decimal
	for _, r := range o.runners {
		u, _, _ := r.recomputeUnrealized(lastPrice)
		finalUnrealized = finalUnrealized.Add(u)
	}

	return o.Session.Finalize(finalUnrealized, sharpeInterval)
}

// Run drives the full ordered tick stream through ProcessTick and returns
// the finalized report. ticks must already be ordered by exchange_ts.
func (o *Orchestrator) Run(ticks []types.Tick, fundingFn func() FundingRate, sharpeInterval time.Duration) backtest.Report {
	var last types.Tick
	for _, tick := range ticks {
		o.ProcessTick(tick, fundingFn)
		last = tick
	}
	return o.Finalize(last.LastPrice, last.ExchangeTS, sharpeInterval)
}
