// Grid Bot — a perpetual-futures grid trading bot for Bybit USDT-linear
// futures contracts.
//
// Architecture:
//
//	main.go                   — entry point: loads config, dispatches to a run mode, waits for SIGINT/SIGTERM
//	engine/engine.go          — live orchestrator: wires exchange feeds → gridengine → position tracking → risk
//	gridengine/gridengine.go  — pure price-ladder reconciliation: desired levels vs. open orders → intents
//	replay/orchestrator.go    — backtest/replay driver: feeds a recorded tick stream through a simulated runner
//	backtest/session.go       — equity curve, drawdown, Sharpe ratio, and trade-stat bookkeeping
//	position/position.go      — long/short position trackers, fill accounting, risk multipliers
//	margin/margin.go          — tiered initial/maintenance margin and liquidation price math
//	exchange/client.go        — REST client for Bybit v5 linear futures (place/cancel orders, instrument info)
//	exchange/ws.go            — WebSocket feeds (public tickers/trades, private executions/orders) with auto-reconnect
//	risk/manager.go           — run-wide kill switch on exposure, daily loss, and price-shock limits
//	store/repository.go       — GORM/MySQL persistence of ticks, fills, orders, equity, and run metadata
//
// Run modes:
//
//	live     — trades against the real Bybit API (or paper-trades if dry_run is set)
//	backtest — replays recorded ticks from the database through a simulated matching engine
//	replay   — like backtest, but additionally compares simulated fills against a prior live run
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"gridbot/internal/backtest"
	"gridbot/internal/config"
	"gridbot/internal/engine"
	"gridbot/internal/margin"
	"gridbot/internal/replay"
	"gridbot/internal/store"
	"gridbot/internal/telemetry"
	"gridbot/pkg/types"
)

func main() {
	mode := flag.String("mode", "live", "run mode: live, backtest, or replay")
	cfgPath := flag.String("config", "configs/config.yaml", "path to config YAML")
	compareStratID := flag.String("compare-strat-id", "", "replay mode only: strat_id of the live run to compare fills against")
	flag.Parse()

	if p := os.Getenv("GRID_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	switch *mode {
	case "live":
		runLive(*cfg, logger)
	case "backtest":
		runBacktest(*cfg, logger)
	case "replay":
		runReplay(*cfg, logger, *compareStratID)
	default:
		logger.Error("unknown mode", "mode", *mode)
		os.Exit(1)
	}
}

func runLive(cfg config.Config, logger *slog.Logger) {
	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eg errgroup.Group
	if cfg.Telemetry.Enabled {
		telemetrySrv := telemetry.NewServer(cfg.Telemetry.Port)
		eg.Go(func() error { return telemetrySrv.Run(ctx) })
		logger.Info("telemetry server started", "port", cfg.Telemetry.Port)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("grid bot started",
		"strategies", len(cfg.Strategies),
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
	cancel()
	if err := eg.Wait(); err != nil {
		logger.Error("telemetry server shutdown error", "error", err)
	}
}

// runBacktest replays a recorded tick stream for every configured strategy
// through a simulated matching engine and logs the resulting performance
// report. Ticks are sourced from the database under run.run_id, previously
// captured by a live run's tick-snapshot persistence.
func runBacktest(cfg config.Config, logger *slog.Logger) {
	results := runSimulation(cfg, logger)
	for symbol, res := range results {
		logReport(logger, symbol, res.report)
	}
}

// runReplay runs the same simulation as backtest mode, then compares the
// simulated fills against the executions recorded by a prior live run
// (identified by its strat_id), surfacing phantom fills, missed fills, and
// PnL drift between the two.
func runReplay(cfg config.Config, logger *slog.Logger, compareStratID string) {
	if compareStratID == "" {
		logger.Error("replay mode requires -compare-strat-id")
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		logger.Error("replay mode requires database.dsn")
		os.Exit(1)
	}

	repo, err := store.NewRepository(cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	results := runSimulation(cfg, logger)

	for symbol, res := range results {
		logReport(logger, symbol, res.report)

		liveTrades, err := loadLiveTrades(repo, compareStratID)
		if err != nil {
			logger.Error("failed to load live trades for comparison", "symbol", symbol, "error", err)
			continue
		}

		cmp := replay.Compare(liveTrades, res.trades, replay.DefaultTolerances())
		logger.Info("replay comparison",
			"symbol", symbol,
			"matched", cmp.MatchedCount,
			"phantom", cmp.PhantomCount,
			"missed", cmp.MissedCount,
			"match_rate", cmp.MatchRate,
			"phantom_rate", cmp.PhantomRate,
			"cumulative_pnl_delta", cmp.CumulativePnLDelta.String(),
			"pnl_correlation", cmp.PnLCorrelation,
			"tolerance_breaches", cmp.ToleranceBreaches,
		)
	}
}

// simResult bundles a symbol's finalized backtest report with its raw
// simulated trade list, the latter only needed by replay mode's comparison
// against live fills.
type simResult struct {
	report backtest.Report
	trades []types.BacktestTrade
}

// runSimulation builds one replay.Runner per strategy, wraps it in a
// per-symbol replay.Orchestrator, and drives it through its recorded tick
// stream. This bot's config surface is one strategy per symbol, so each
// orchestrator carries exactly one runner.
func runSimulation(cfg config.Config, logger *slog.Logger) map[string]simResult {
	if cfg.Database.DSN == "" {
		logger.Error("backtest/replay mode requires database.dsn (ticks are loaded from recorded runs)")
		os.Exit(1)
	}
	repo, err := store.NewRepository(cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	initialBalance, err := cfg.Run.InitialBalanceDecimal()
	if err != nil {
		logger.Error("invalid run.initial_balance", "error", err)
		os.Exit(1)
	}
	fundingRate, err := cfg.Run.FundingRateDecimal()
	if err != nil {
		logger.Error("invalid run.funding_rate", "error", err)
		os.Exit(1)
	}

	results := make(map[string]simResult)

	for _, s := range cfg.Strategies {
		ticks, err := repo.LoadTicksForReplay(cfg.Run.RunID, s.Symbol)
		if err != nil {
			logger.Error("failed to load ticks", "symbol", s.Symbol, "error", err)
			continue
		}
		if len(ticks) == 0 {
			logger.Warn("no ticks recorded for symbol, skipping", "symbol", s.Symbol, "run_id", cfg.Run.RunID)
			continue
		}

		qtyStep, minQty, tiers := resolveBacktestInstrument(s)

		domainCfg, err := s.ToDomain(qtyStep, minQty, cfg.Run.EnableFunding, fundingRate)
		if err != nil {
			logger.Error("invalid strategy config", "symbol", s.Symbol, "error", err)
			continue
		}

		runner, err := replay.NewRunner(domainCfg, tiers, ticks[0].LastPrice, true)
		if err != nil {
			logger.Error("failed to build runner", "symbol", s.Symbol, "error", err)
			continue
		}

		orch := replay.NewOrchestrator(s.Symbol, initialBalance, []*replay.Runner{runner}, cfg.Run.EnableFunding)

		fundingFn := func() replay.FundingRate {
			return replay.FundingRate{Rate: fundingRate, MarkPrice: decimal.Zero}
		}

		rep := orch.Run(ticks, fundingFn, cfg.Run.SharpeIntervalOrDefault())
		results[s.Symbol] = simResult{report: rep, trades: orch.Session.Trades}
	}

	return results
}

// resolveBacktestInstrument derives the lot-size step and a single
// uncapped risk-limit tier from a strategy's own YAML fields (qty_step,
// min_qty) rather than hitting the exchange REST API: a historical replay
// must not depend on current instrument metadata, which can drift from what
// was true when the ticks were recorded. Falls back to sane defaults when a
// field is blank.
func resolveBacktestInstrument(s config.StrategyConfig) (qtyStep, minQty decimal.Decimal, tiers []types.RiskLimitTier) {
	qtyStep, err := decimal.NewFromString(s.QtyStep)
	if err != nil || qtyStep.IsZero() {
		qtyStep = decimal.NewFromFloat(0.001)
	}
	minQty, err = decimal.NewFromString(s.MinQty)
	if err != nil || minQty.IsZero() {
		minQty = qtyStep
	}

	mmr, err := decimal.NewFromString(s.MaintenanceMarginRate)
	if err != nil {
		mmr = decimal.NewFromFloat(0.005)
	}
	leverage, err := decimal.NewFromString(s.Leverage)
	if err != nil || leverage.IsZero() {
		leverage = decimal.NewFromInt(10)
	}
	tiers = []types.RiskLimitTier{
		{
			MaxPositionValue: margin.InfiniteCap,
			MMRRate:          mmr,
			Deduction:        decimal.Zero,
			IMRRate:          decimal.NewFromInt(1).Div(leverage),
		},
	}
	return qtyStep, minQty, tiers
}

func logReport(logger *slog.Logger, symbol string, r backtest.Report) {
	logger.Info("backtest report",
		"symbol", symbol,
		"trades", r.TradeCount,
		"wins", r.Wins,
		"losses", r.Losses,
		"win_rate", r.WinRate.String(),
		"profit_factor", r.ProfitFactor.String(),
		"realized_pnl", r.RealizedPnL.String(),
		"unrealized_pnl", r.UnrealizedPnL.String(),
		"commission_paid", r.CommissionPaid.String(),
		"funding_paid", r.FundingPaid.String(),
		"net_pnl", r.NetPnL.String(),
		"max_drawdown_pct", r.MaxDrawdownPct.String(),
		"sharpe_ratio", r.SharpeRatio,
		"peak_imr_pct", r.PeakIMRPct.String(),
		"peak_mmr_pct", r.PeakMMRPct.String(),
		"initial_balance", r.InitialBalance.String(),
		"final_balance", r.FinalBalance.String(),
		"return_pct", r.ReturnPct.String(),
		"total_volume", r.TotalVolume.String(),
		"turnover", r.Turnover.String(),
	)
}

// loadLiveTrades fetches the recorded fills of a prior live run under
// compareStratID and reshapes them into the replay package's comparison
// vocabulary.
func loadLiveTrades(repo *store.Repository, compareStratID string) ([]replay.LiveTrade, error) {
	execs, err := repo.GetExecutionsByStratID(compareStratID)
	if err != nil {
		return nil, err
	}

	trades := make([]replay.LiveTrade, 0, len(execs))
	for _, e := range execs {
		trades = append(trades, replay.LiveTrade{
			ClientOrderID: e.OrderLinkID,
			OrderID:       e.OrderID,
			Symbol:        e.Symbol,
			Side:          types.Side(e.Side),
			Direction:     types.Direction(e.Direction),
			Price:         e.Price,
			Qty:           e.Qty,
			Fee:           e.Fee,
			RealizedPnL:   e.ClosedPnL,
			TS:            e.ExchangeTS,
		})
	}
	return trades, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
