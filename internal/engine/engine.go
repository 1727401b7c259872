// Package engine is the central orchestrator of the live grid trading bot.
//
// It wires together all subsystems:
//
//  1. Two WebSocket feeds (public market data + private execution/order)
//     dispatch normalized events to the correct symbol slot.
//  2. Each slot owns a pure gridengine.Engine, a long/short position.Pair,
//     a risk-multiplier manager, a quantity calculator, and a local mirror
//     of its own open orders (liveOrderBook).
//  3. A run-wide risk.Manager watches exposure/PnL/price-movement across
//     all slots and can trigger a kill switch.
//  4. An executor carries out the ladder engine's place/cancel intents
//     against the Bybit REST client.
//  5. A persistence repository (optional) records every tick, execution,
//     and order update for later replay.
//
// Lifecycle: New() -> Start() -> [runs until Stop()] -> Stop().
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"gridbot/internal/config"
	"gridbot/internal/errs"
	"gridbot/internal/exchange"
	"gridbot/internal/gridengine"
	"gridbot/internal/margin"
	"gridbot/internal/position"
	"gridbot/internal/replay"
	"gridbot/internal/risk"
	"gridbot/internal/store"
	"gridbot/internal/telemetry"
	"gridbot/pkg/types"
)

// eventQueueSize bounds the per-slot tick/execution/order-update handoff
// channels between the feed dispatchers and each symbol's run loop.
const eventQueueSize = 256

// slot owns everything needed to run one strategy's symbol: the pure grid
// engine, its position pair, the risk-multiplier cascade, the quantity
// calculator, an optional funding simulator for local bookkeeping, and the
// local open-order mirror the diff procedure consumes.
type slot struct {
	cfg     types.StrategyConfig
	engine  *gridengine.Engine
	pair    position.Pair
	riskMul *position.RiskMultiplierManager
	qtyCalc *replay.QtyCalculator
	funding *replay.FundingSimulator
	book    *liveOrderBook

	tickCh  chan types.Tick
	execCh  chan types.Execution
	orderCh chan types.OrderUpdate

	nextSeq int
}

// Engine orchestrates every component of the live trading system: it owns
// the lifecycle of every goroutine and the symbol slots they drive.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	client   *exchange.Client
	auth     *exchange.Auth
	pubFeed  *exchange.WSFeed
	privFeed *exchange.WSFeed
	cache    *store.FileCache
	repo     *store.Repository // nil when database.dsn is unset
	riskMgr  *risk.Manager

	dfgMu sync.Mutex
	dfg   map[string]*exchange.DuplicateFillGuard // symbol -> guard

	slotsMu sync.RWMutex
	slots   map[string]*slot // symbol -> slot

	runID     string
	accountID string

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New constructs an Engine from configuration: it builds the exchange
// client/feeds, resolves each strategy's instrument info and risk-limit
// tiers (cache-first, REST fallback), and builds one slot per strategy.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth := exchange.NewAuth(cfg.API)
	client := exchange.NewClient(cfg, auth, logger)

	cacheDir := cfg.Store.CacheDir
	if cacheDir == "" {
		cacheDir = "./cache"
	}
	cache, err := store.NewFileCache(cacheDir, cfg.Run.InstrumentCacheTTLOrDefault())
	if err != nil {
		return nil, fmt.Errorf("create file cache: %w", err)
	}

	var repo *store.Repository
	if cfg.Database.DSN != "" {
		repo, err = store.NewRepository(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open repository: %w", err)
		}
	}

	runID := cfg.Run.RunID
	if runID == "" {
		runID = "live-" + cfg.Database.AccountID
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		auth:      auth,
		pubFeed:   exchange.NewPublicFeed(cfg.API.WSPublicURL, logger),
		privFeed:  exchange.NewPrivateFeed(cfg.API.WSPrivateURL, auth, logger),
		cache:     cache,
		repo:      repo,
		riskMgr:   risk.NewManager(cfg.Risk, logger),
		dfg:       make(map[string]*exchange.DuplicateFillGuard),
		slots:     make(map[string]*slot),
		runID:     runID,
		accountID: cfg.Database.AccountID,
	}

	ctx := context.Background()
	var subscribePublic []string
	for _, sc := range cfg.Strategies {
		qtyStep, minQty, tiers, err := e.resolveInstrument(ctx, sc.Symbol)
		if err != nil {
			return nil, fmt.Errorf("resolve instrument %s: %w", sc.Symbol, err)
		}

		fundingRate, err := cfg.Run.FundingRateDecimal()
		if err != nil {
			return nil, fmt.Errorf("%w: run.funding_rate", errs.InvalidInput)
		}
		domain, err := sc.ToDomain(qtyStep, minQty, cfg.Run.EnableFunding, fundingRate)
		if err != nil {
			return nil, err
		}

		if err := e.newSlot(domain, tiers); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", sc.StratID, err)
		}

		if repo != nil {
			raw := fmt.Sprintf("%+v", domain)
			if err := repo.UpsertStrategy(sc.StratID, cfg.Database.AccountID, sc.Symbol, raw); err != nil {
				logger.Warn("persist strategy config", "strat_id", sc.StratID, "error", err)
			}
		}

		subscribePublic = append(subscribePublic, "tickers."+sc.Symbol, "publicTrade."+sc.Symbol)
		e.dfg[sc.Symbol] = exchange.NewDuplicateFillGuard()
	}

	if err := e.pubFeed.Subscribe(dedupe(subscribePublic)); err != nil {
		logger.Warn("initial public subscribe deferred to reconnect", "error", err)
	}
	if err := e.privFeed.Subscribe([]string{"execution", "order"}); err != nil {
		logger.Warn("initial private subscribe deferred to reconnect", "error", err)
	}

	return e, nil
}

// resolveInstrument loads qty_step/min_qty and risk-limit tiers
// for symbol, preferring a fresh file-cache entry over a REST round trip.
func (e *Engine) resolveInstrument(ctx context.Context, symbol string) (qtyStep, minQty decimal.Decimal, tiers []types.RiskLimitTier, err error) {
	if entry, ok, cerr := e.cache.LoadInstrumentInfo(symbol); cerr == nil && ok {
		qtyStep, minQty = entry.QtyStep, entry.MinQty
	} else {
		info, ierr := e.client.GetInstrumentsInfo(ctx, symbol)
		if ierr != nil {
			return decimal.Zero, decimal.Zero, nil, fmt.Errorf("%w: %v", errs.ExchangeError, ierr)
		}
		qtyStep, minQty = info.QtyStep, info.MinQty
		if serr := e.cache.SaveInstrumentInfo(symbol, info.TickSize, info.QtyStep, info.MinQty); serr != nil {
			e.logger.Warn("cache instrument info", "symbol", symbol, "error", serr)
		}
	}

	if cached, ok, cerr := e.cache.LoadRiskLimitTiers(symbol); cerr == nil && ok {
		tiers = cached
	} else {
		tiers, err = e.client.GetRiskLimit(ctx, symbol)
		if err != nil {
			return decimal.Zero, decimal.Zero, nil, fmt.Errorf("%w: %v", errs.ExchangeError, err)
		}
		if serr := e.cache.SaveRiskLimitTiers(symbol, tiers); serr != nil {
			e.logger.Warn("cache risk limit tiers", "symbol", symbol, "error", serr)
		}
	}
	return qtyStep, minQty, tiers, nil
}

// newSlot constructs and registers the slot for one strategy.
func (e *Engine) newSlot(cfg types.StrategyConfig, tiers []types.RiskLimitTier) error {
	qtyCalc, err := replay.NewQtyCalculator(cfg.AmountExpression, cfg.QtyStep)
	if err != nil {
		return err
	}

	s := &slot{
		cfg: cfg,
		engine: gridengine.New(gridengine.Config{
			Symbol:             cfg.Symbol,
			TickSize:           cfg.TickSize,
			GridCount:          cfg.GridCount,
			GridStepPct:        cfg.GridStep,
			RebalanceThreshold: cfg.RebalanceThreshold,
		}),
		pair: position.Pair{
			Long:  position.New(types.Long, cfg.Leverage, cfg.CommissionRate, tiers),
			Short: position.New(types.Short, cfg.Leverage, cfg.CommissionRate, tiers),
		},
		riskMul: position.NewRiskMultiplierManager(position.RiskMultiplierConfig{
			MinLiqRatio:    cfg.MinLiqRatio,
			MaxLiqRatio:    cfg.MaxLiqRatio,
			MinTotalMargin: cfg.MinTotalMargin,
		}),
		qtyCalc: qtyCalc,
		book:    newLiveOrderBook(),
		tickCh:  make(chan types.Tick, eventQueueSize),
		execCh:  make(chan types.Execution, eventQueueSize),
		orderCh: make(chan types.OrderUpdate, eventQueueSize),
	}
	if cfg.EnableFunding {
		s.funding = replay.NewFundingSimulator()
	}

	e.slotsMu.Lock()
	e.slots[cfg.Symbol] = s
	e.slotsMu.Unlock()
	return nil
}

// Start launches every background goroutine (feeds, dispatchers, per-symbol
// run loops, risk monitor) and returns once they are scheduled; it does not
// block on their completion.
func (e *Engine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	eg, ctx := errgroup.WithContext(ctx)
	e.eg = eg

	eg.Go(func() error { return e.pubFeed.Run(ctx) })
	eg.Go(func() error { return e.privFeed.Run(ctx) })
	eg.Go(func() error { e.riskMgr.Run(ctx); return nil })

	eg.Go(func() error { return e.dispatchTicks(ctx) })
	eg.Go(func() error { return e.dispatchTrades(ctx) })
	eg.Go(func() error { return e.dispatchExecutions(ctx) })
	eg.Go(func() error { return e.dispatchOrderUpdates(ctx) })
	eg.Go(func() error { return e.watchKillSwitch(ctx) })

	e.slotsMu.RLock()
	for _, s := range e.slots {
		s := s
		eg.Go(func() error { return e.runSlot(ctx, s) })
	}
	e.slotsMu.RUnlock()

	e.logger.Info("grid engine started", "symbols", len(e.slots), "dry_run", e.cfg.DryRun)
	return nil
}

// Stop cancels every goroutine, waits for in-flight work to finish, applies
// each strategy's wind-down policy, and closes the feeds and repository. As
// a last safety net it cancels every resting order per symbol regardless of
// wind-down outcome.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.eg != nil {
		if err := e.eg.Wait(); err != nil {
			e.logger.Warn("engine goroutines exited with error", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.slotsMu.RLock()
	for symbol, s := range e.slots {
		e.windDown(ctx, s)
		if err := e.client.CancelAllOrders(ctx, symbol); err != nil {
			e.logger.Error("cancel-all on stop failed", "symbol", symbol, "error", err)
		}
	}
	e.slotsMu.RUnlock()

	e.pubFeed.Close()
	e.privFeed.Close()
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			e.logger.Warn("close repository", "error", err)
		}
	}
	e.logger.Info("grid engine stopped")
}

// windDown applies a strategy's end-of-run treatment. leave_open does
// nothing; close_all places a best-effort reduce-only limit order at the
// ladder's current anchor (Wait-band) price. Unlike backtest's synthetic closing fill, a
// live close is not guaranteed to execute immediately — the exchange
// adapter only exposes a limit-order placement primitive, not a market
// order, so this is a best-effort divergence from the simulated path.
func (e *Engine) windDown(ctx context.Context, s *slot) {
	if s.cfg.WindDownMode != types.WindDownCloseAll {
		return
	}
	lastClose := s.engine.AnchorPrice()
	if lastClose.IsZero() {
		return
	}
	for _, tracker := range []*position.Tracker{s.pair.Long, s.pair.Short} {
		if tracker.IsEmpty() {
			continue
		}
		closeSide := types.Sell
		positionIdx := 1
		if tracker.Direction == types.Short {
			closeSide = types.Buy
			positionIdx = 2
		}
		linkID := fmt.Sprintf("%s-winddown-%s", s.cfg.StratID, tracker.Direction)
		_, err := e.client.PlaceOrder(ctx, exchange.PlaceOrderRequest{
			Symbol:      s.cfg.Symbol,
			Side:        closeSide,
			Price:       lastClose,
			Qty:         tracker.Size,
			OrderLinkID: linkID,
			ReduceOnly:  true,
			PositionIdx: positionIdx,
		})
		if err != nil {
			e.logger.Error("wind-down close order failed", "symbol", s.cfg.Symbol, "direction", tracker.Direction, "error", err)
		}
	}
}

// dispatchTicks routes public-feed ticks to the owning symbol's slot.
func (e *Engine) dispatchTicks(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-e.pubFeed.TickEvents():
			if !ok {
				return nil
			}
			if e.repo != nil {
				if err := e.repo.InsertTickerSnapshot(e.runID, tick); err != nil {
					e.logger.Warn("persist ticker snapshot", "symbol", tick.Symbol, "error", err)
				}
			}
			s := e.slotFor(tick.Symbol)
			if s == nil {
				continue
			}
			select {
			case s.tickCh <- tick:
			default:
				e.logger.Warn("tick queue full, dropping tick", "symbol", tick.Symbol)
			}
		}
	}
}

// dispatchTrades persists public trade prints; the grid engine itself does
// not consume them.
func (e *Engine) dispatchTrades(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case trade, ok := <-e.pubFeed.TradeEvents():
			if !ok {
				return nil
			}
			if e.repo != nil {
				if err := e.repo.InsertPublicTrade(trade); err != nil {
					e.logger.Warn("persist public trade", "trade_id", trade.TradeID, "error", err)
				}
			}
		}
	}
}

func (e *Engine) dispatchExecutions(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case exec, ok := <-e.privFeed.ExecutionEvents():
			if !ok {
				return nil
			}
			s := e.slotFor(exec.Symbol)
			if s == nil {
				continue
			}
			select {
			case s.execCh <- exec:
			default:
				e.logger.Warn("execution queue full, dropping event", "exec_id", exec.ExecID)
			}
		}
	}
}

func (e *Engine) dispatchOrderUpdates(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ou, ok := <-e.privFeed.OrderEvents():
			if !ok {
				return nil
			}
			s := e.slotFor(ou.Symbol)
			if s == nil {
				continue
			}
			select {
			case s.orderCh <- ou:
			default:
				e.logger.Warn("order-update queue full, dropping event", "order_id", ou.OrderID)
			}
		}
	}
}

// watchKillSwitch cancels every order for the affected symbol (or globally,
// when Symbol is empty) whenever the risk manager fires.
func (e *Engine) watchKillSwitch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-e.riskMgr.KillCh():
			telemetry.SetKillSwitchActive(true)
			if sig.Symbol == "" {
				e.slotsMu.RLock()
				symbols := make([]string, 0, len(e.slots))
				for sym := range e.slots {
					symbols = append(symbols, sym)
				}
				e.slotsMu.RUnlock()
				for _, sym := range symbols {
					e.cancelAllForSymbol(ctx, sym, sig.Reason)
				}
				continue
			}
			e.cancelAllForSymbol(ctx, sig.Symbol, sig.Reason)
		}
	}
}

func (e *Engine) cancelAllForSymbol(ctx context.Context, symbol, reason string) {
	if err := e.client.CancelAllOrders(ctx, symbol); err != nil {
		e.logger.Error("kill-switch cancel-all failed", "symbol", symbol, "reason", reason, "error", err)
		return
	}
	if s := e.slotFor(symbol); s != nil {
		s.book.Clear()
	}
}

func (e *Engine) slotFor(symbol string) *slot {
	e.slotsMu.RLock()
	defer e.slotsMu.RUnlock()
	return e.slots[symbol]
}

// runSlot is the single-threaded run loop for one symbol: it pulls events
// off the slot's bounded channels and drives the pure grid engine, position
// trackers, and executor. Each channel is drained in FIFO order; when more
// than one of the three channels has an event ready, select picks one at
// random, so arrival order across ticks, fills and order updates is not
// preserved.
func (e *Engine) runSlot(ctx context.Context, s *slot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick := <-s.tickCh:
			e.handleTick(ctx, s, tick)
		case exec := <-s.execCh:
			e.handleExecution(ctx, s, exec)
		case ou := <-s.orderCh:
			e.handleOrderUpdate(s, ou)
		}
	}
}

func (e *Engine) handleTick(ctx context.Context, s *slot, tick types.Tick) {
	if s.funding != nil && s.funding.ShouldApply(tick.ExchangeTS) {
		paidLong := s.pair.Long.ApplyFunding(s.cfg.FundingRate, tick.MarkPrice)
		paidShort := s.pair.Short.ApplyFunding(s.cfg.FundingRate, tick.MarkPrice)
		s.funding.MarkApplied(tick.ExchangeTS)
		e.logger.Info("funding applied", "symbol", s.cfg.Symbol, "long", paidLong, "short", paidShort)
	}

	s.pair.Long.CalculateUnrealizedPnL(tick.LastPrice)
	s.pair.Short.CalculateUnrealizedPnL(tick.LastPrice)

	exposure := s.pair.Long.PositionValue.Add(s.pair.Short.PositionValue)
	e.riskMgr.Report(risk.PositionReport{
		Symbol:        s.cfg.Symbol,
		LastPrice:     tick.LastPrice,
		ExposureUSD:   exposure,
		UnrealizedPnL: s.pair.Long.UnrealizedPnL.Add(s.pair.Short.UnrealizedPnL),
		RealizedPnL:   s.pair.Long.RealizedPnL.Add(s.pair.Short.RealizedPnL),
		Timestamp:     tick.ExchangeTS,
	})

	equity := s.pair.Long.RealizedPnL.Add(s.pair.Short.RealizedPnL).
		Add(s.pair.Long.UnrealizedPnL).Add(s.pair.Short.UnrealizedPnL)
	equityF, _ := equity.Float64()
	telemetry.SetEquity(s.cfg.StratID, equityF)
	longSizeF, _ := s.pair.Long.Size.Float64()
	shortSizeF, _ := s.pair.Short.Size.Float64()
	telemetry.SetPositionSize(s.cfg.StratID, string(types.Long), longSizeF)
	telemetry.SetPositionSize(s.cfg.StratID, string(types.Short), shortSizeF)

	if e.repo != nil {
		longSnap := s.pair.Long.Snapshot(e.liqPrice(s, types.Long))
		if err := e.repo.RecordPositionSnapshot(e.accountID, longSnap, s.cfg.Symbol, tick.ExchangeTS); err != nil {
			e.logger.Warn("persist position snapshot", "error", err)
		}
		shortSnap := s.pair.Short.Snapshot(e.liqPrice(s, types.Short))
		if err := e.repo.RecordPositionSnapshot(e.accountID, shortSnap, s.cfg.Symbol, tick.ExchangeTS); err != nil {
			e.logger.Warn("persist position snapshot", "error", err)
		}
	}

	if e.riskMgr.IsKillSwitchActive() {
		return
	}

	if s.cfg.EnableRiskMultipliers {
		walletBalance := e.walletBalance(s)
		s.riskMul.Recalculate(s.pair, e.liqPrice(s, types.Long), e.liqPrice(s, types.Short), tick.LastPrice, walletBalance)
	}

	openOrders := s.book.Snapshot()
	intents := s.engine.OnEvent(gridengine.TickerEvent(tick), openOrders)
	for _, intent := range intents {
		e.executeIntent(ctx, s, intent, tick)
	}
}

func (e *Engine) liqPrice(s *slot, direction types.Direction) decimal.Decimal {
	tracker := s.pair.Long
	if direction == types.Short {
		tracker = s.pair.Short
	}
	return margin.EstimateLiquidationPrice(direction, tracker.AvgEntryPrice, s.cfg.Leverage, tracker.MMRRate)
}

// walletBalance is the margin balance the quantity calculator and
// risk-multiplier manager treat as available capital. Live mode has no
// local ledger of wallet equity (the exchange is authoritative), so this
// uses the strategy's configured max_margin as the available-capital
// ceiling, matching how the backtest orchestrator seeds its own walletBalance.
func (e *Engine) walletBalance(s *slot) decimal.Decimal {
	return s.cfg.MaxMargin
}

func (e *Engine) executeIntent(ctx context.Context, s *slot, intent types.Intent, tick types.Tick) {
	switch intent.Kind {
	case types.IntentCancel:
		if err := e.client.CancelOrder(ctx, s.cfg.Symbol, intent.OrderID, ""); err != nil {
			e.logger.Error("cancel order failed", "symbol", s.cfg.Symbol, "order_id", intent.OrderID, "reason", intent.Reason, "error", err)
			return
		}
		s.book.Remove(intent.OrderID)
		telemetry.IncOrdersCancelled(s.cfg.Symbol, intent.Reason)

	case types.IntentPlaceLimit:
		e.place(ctx, s, intent, tick)
	}
}

func (e *Engine) place(ctx context.Context, s *slot, intent types.Intent, tick types.Tick) {
	multiplier := e.multiplierFor(s, intent.Direction, intent.Side)
	walletBalance := e.walletBalance(s)
	qty := s.qtyCalc.Calculate(tick.LastPrice, walletBalance, multiplier)
	if qty.Sign() <= 0 {
		return
	}
	s.riskMul.CompensateMinQty(intent.Direction, qty, s.cfg.MinQty)

	s.nextSeq++
	orderLinkID := fmt.Sprintf("%s-%d-%d", s.cfg.StratID, tick.ExchangeTS.UnixNano(), s.nextSeq)

	positionIdx := 1
	if intent.Direction == types.Short {
		positionIdx = 2
	}
	result, err := e.client.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Price:       intent.Price,
		Qty:         qty,
		OrderLinkID: orderLinkID,
		PositionIdx: positionIdx,
	})
	if err != nil {
		e.logger.Error("place order failed", "symbol", intent.Symbol, "price", intent.Price, "error", fmt.Errorf("%w: %v", errs.ExchangeError, err))
		return
	}

	s.book.Add(intent.Direction, orderLinkID, gridengine.OpenOrder{
		OrderID: result.OrderID,
		Price:   intent.Price,
		Side:    intent.Side,
	})
	telemetry.IncOrdersPlaced(s.cfg.Symbol, string(intent.Side))
}

func (e *Engine) multiplierFor(s *slot, direction types.Direction, side types.Side) decimal.Decimal {
	sm := s.riskMul.Long
	if direction == types.Short {
		sm = s.riskMul.Short
	}
	if side == types.Buy {
		return sm.Buy
	}
	return sm.Sell
}

func (e *Engine) handleExecution(_ context.Context, s *slot, exec types.Execution) {
	e.dfgMu.Lock()
	guard := e.dfg[exec.Symbol]
	e.dfgMu.Unlock()

	direction := s.book.DirectionOf(exec.OrderLinkID)

	duplicate := guard != nil && guard.Observe(exec.Symbol, exec.OrderID, exec.Price)
	if duplicate {
		e.logger.Warn("suspected duplicate fill, skipping position update", "symbol", exec.Symbol, "order_id", exec.OrderID, "price", exec.Price)
	} else {
		tracker := s.pair.Long
		if direction == types.Short {
			tracker = s.pair.Short
		}
		if _, err := tracker.ProcessFill(exec.Side, exec.Qty, exec.Price); err != nil {
			e.logger.Error("process fill failed", "symbol", exec.Symbol, "error", err)
		} else {
			telemetry.IncFills(exec.Symbol, string(direction))
		}
	}

	if e.repo != nil {
		if err := e.repo.InsertExecution(s.cfg.StratID, direction, exec); err != nil {
			e.logger.Warn("persist execution", "exec_id", exec.ExecID, "error", err)
		}
	}

	s.engine.OnEvent(gridengine.ExecutionEvent(exec), gridengine.OpenOrdersBySide{})
}

func (e *Engine) handleOrderUpdate(s *slot, ou types.OrderUpdate) {
	s.book.Apply(ou)
	s.engine.OnEvent(gridengine.OrderUpdateEvent(ou), gridengine.OpenOrdersBySide{})
	if e.repo != nil {
		if err := e.repo.UpsertOrderUpdate(s.cfg.StratID, ou); err != nil {
			e.logger.Warn("persist order update", "order_id", ou.OrderID, "error", err)
		}
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
