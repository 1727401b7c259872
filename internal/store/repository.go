package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"gridbot/pkg/types"
)

// PublicTradeRecord is one normalized public trade print, keyed by the
// exchange's globally unique trade ID so a re-ingested backfill cannot
// duplicate rows.
type PublicTradeRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	TradeID    string `gorm:"uniqueIndex;size:64;not null"`
	Symbol     string `gorm:"index;size:32;not null"`
	ExchangeTS time.Time `gorm:"index;not null"`
	Side       string
	Price      decimal.Decimal `gorm:"type:decimal(24,8)"`
	Size       decimal.Decimal `gorm:"type:decimal(24,8)"`
}

func (PublicTradeRecord) TableName() string { return "public_trades" }

// ExecutionRecord is one normalized fill on our own orders, keyed by ExecID.
type ExecutionRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	ExecID      string    `gorm:"uniqueIndex;size:64;not null"`
	StratID     string    `gorm:"index;size:64;not null"`
	Symbol      string    `gorm:"index;size:32;not null"`
	ExchangeTS  time.Time `gorm:"index;not null"`
	OrderID     string    `gorm:"size:64"`
	OrderLinkID string    `gorm:"index;size:64"`
	Side        string
	Direction   string `gorm:"size:8"`
	Price       decimal.Decimal `gorm:"type:decimal(24,8)"`
	Qty         decimal.Decimal `gorm:"type:decimal(24,8)"`
	Fee         decimal.Decimal `gorm:"type:decimal(24,8)"`
	ClosedPnL   decimal.Decimal `gorm:"type:decimal(24,8)"`
}

func (ExecutionRecord) TableName() string { return "executions" }

// OrderUpdateRecord is a point-in-time order lifecycle snapshot. Unlike
// trades/executions this is upserted by (order_id, status) so a replayed
// status push updates rather than duplicates a row.
type OrderUpdateRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	StratID     string    `gorm:"index;size:64;not null"`
	Symbol      string    `gorm:"index;size:32;not null"`
	OrderID     string    `gorm:"uniqueIndex:idx_order_status;size:64;not null"`
	OrderLinkID string    `gorm:"index;size:64"`
	Status      string    `gorm:"uniqueIndex:idx_order_status;size:32;not null"`
	Side        string
	Price       decimal.Decimal `gorm:"type:decimal(24,8)"`
	Qty         decimal.Decimal `gorm:"type:decimal(24,8)"`
	LeavesQty   decimal.Decimal `gorm:"type:decimal(24,8)"`
	ExchangeTS  time.Time       `gorm:"index;not null"`
}

func (OrderUpdateRecord) TableName() string { return "order_updates" }

// EquitySnapshotRecord is one point on a run's equity curve.
type EquitySnapshotRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	RunID     string    `gorm:"index;size:64;not null"`
	Timestamp time.Time `gorm:"index;not null"`
	Equity    decimal.Decimal `gorm:"type:decimal(24,8)"`
}

func (EquitySnapshotRecord) TableName() string { return "equity_snapshots" }

// RunRecord is a single backtest or live session, identified by RunID.
type RunRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	RunID       string    `gorm:"uniqueIndex;size:64;not null"`
	StratID     string    `gorm:"index;size:64;not null"`
	Symbol      string    `gorm:"size:32;not null"`
	Mode        string    `gorm:"size:16;not null"` // "backtest" | "live"
	StartedAt   time.Time `gorm:"not null"`
	FinishedAt  *time.Time
	FinalEquity decimal.Decimal `gorm:"type:decimal(24,8)"`
}

func (RunRecord) TableName() string { return "runs" }

// TickerSnapshotRecord is one persisted public ticker tick, recorded so a
// live run's market data can be replayed later against the same engine.
type TickerSnapshotRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	RunID       string    `gorm:"index;size:64;not null"`
	Symbol      string    `gorm:"index;size:32;not null"`
	ExchangeTS  time.Time `gorm:"index;not null"`
	LastPrice   decimal.Decimal `gorm:"type:decimal(24,8)"`
	MarkPrice   decimal.Decimal `gorm:"type:decimal(24,8)"`
	Bid1Price   decimal.Decimal `gorm:"type:decimal(24,8)"`
	Ask1Price   decimal.Decimal `gorm:"type:decimal(24,8)"`
	FundingRate decimal.Decimal `gorm:"type:decimal(24,10)"`
}

func (TickerSnapshotRecord) TableName() string { return "ticker_snapshots" }

// WalletSnapshotRecord is a point-in-time account balance sample.
type WalletSnapshotRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	AccountID string    `gorm:"index;size:64;not null"`
	Timestamp time.Time `gorm:"index;not null"`
	Balance   decimal.Decimal `gorm:"type:decimal(24,8)"`
	Equity    decimal.Decimal `gorm:"type:decimal(24,8)"`
}

func (WalletSnapshotRecord) TableName() string { return "wallet_snapshots" }

// PositionSnapshotRecord is a point-in-time per-direction position sample,
// recorded for restart recovery and post-hoc inspection.
type PositionSnapshotRecord struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	AccountID     string    `gorm:"index;size:64;not null"`
	Symbol        string    `gorm:"index;size:32;not null"`
	Direction     string    `gorm:"size:8;not null"`
	Size          decimal.Decimal `gorm:"type:decimal(24,8)"`
	AvgEntryPrice decimal.Decimal `gorm:"type:decimal(24,8)"`
	Timestamp     time.Time       `gorm:"index;not null"`
}

func (PositionSnapshotRecord) TableName() string { return "position_snapshots" }

// UserRecord is the owner of one or more accounts.
type UserRecord struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	UserID   string `gorm:"uniqueIndex;size:64;not null"`
	Username string `gorm:"size:128"`
}

func (UserRecord) TableName() string { return "users" }

// AccountRecord is one exchange account belonging to a user. Repositories
// that read account-scoped data filter by UserID so one user can never see
// another's account rows.
type AccountRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID string `gorm:"uniqueIndex;size:64;not null"`
	UserID    string `gorm:"index;size:64;not null"`
	Label     string `gorm:"size:128"`
}

func (AccountRecord) TableName() string { return "accounts" }

// StrategyRecord is the persisted form of a types.StrategyConfig, keyed by
// StratID so a run can be resumed with the exact configuration it started
// with.
type StrategyRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	StratID   string `gorm:"uniqueIndex;size:64;not null"`
	AccountID string `gorm:"index;size:64;not null"`
	Symbol    string `gorm:"size:32;not null"`
	ConfigRaw string `gorm:"type:text;not null"` // JSON-encoded types.StrategyConfig
}

func (StrategyRecord) TableName() string { return "strategies" }

// Repository is the MySQL persistence layer for tick-scoped data: public
// trades, our own executions and order updates, equity curve samples, and
// run bookkeeping.
//
// Grounded on the recorder pattern of wrapping *gorm.DB with typed record
// structs and TableName() methods, auto-migrating on open, and exposing one
// method per write/read access pattern rather than a generic query surface.
type Repository struct {
	db *gorm.DB
}

// NewRepository opens a MySQL connection pool and auto-migrates the schema.
func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	if err := db.AutoMigrate(
		&PublicTradeRecord{},
		&ExecutionRecord{},
		&OrderUpdateRecord{},
		&EquitySnapshotRecord{},
		&RunRecord{},
		&TickerSnapshotRecord{},
		&WalletSnapshotRecord{},
		&PositionSnapshotRecord{},
		&UserRecord{},
		&AccountRecord{},
		&StrategyRecord{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertPublicTrade inserts a trade, silently skipping if TradeID already
// exists (a feed reconnect can redeliver the same print).
func (r *Repository) InsertPublicTrade(t types.PublicTrade) error {
	rec := PublicTradeRecord{
		TradeID:    t.TradeID,
		Symbol:     t.Symbol,
		ExchangeTS: t.ExchangeTS,
		Side:       string(t.Side),
		Price:      t.Price,
		Size:       t.Size,
	}
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

// InsertExecution inserts a fill, silently skipping if ExecID already exists.
// direction is the hedge-mode leg (Long/Short) the fill was booked against,
// resolved by the caller from its local order book since the exchange fill
// event itself only carries buy/sell side.
func (r *Repository) InsertExecution(stratID string, direction types.Direction, e types.Execution) error {
	rec := ExecutionRecord{
		ExecID:      e.ExecID,
		StratID:     stratID,
		Symbol:      e.Symbol,
		ExchangeTS:  e.ExchangeTS,
		OrderID:     e.OrderID,
		OrderLinkID: e.OrderLinkID,
		Side:        string(e.Side),
		Direction:   string(direction),
		Price:       e.Price,
		Qty:         e.Qty,
		Fee:         e.Fee,
		ClosedPnL:   e.ClosedPnL,
	}
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

// UpsertOrderUpdate inserts an order lifecycle snapshot, or updates it in
// place if a row for the same (order_id, status) pair already exists — the
// exchange can redeliver the same status push on a WS reconnect.
func (r *Repository) UpsertOrderUpdate(stratID string, o types.OrderUpdate) error {
	rec := OrderUpdateRecord{
		StratID:     stratID,
		Symbol:      o.Symbol,
		OrderID:     o.OrderID,
		OrderLinkID: o.OrderLinkID,
		Status:      string(o.Status),
		Side:        string(o.Side),
		Price:       o.Price,
		Qty:         o.Qty,
		LeavesQty:   o.LeavesQty,
		ExchangeTS:  o.ExchangeTS,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "status"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// RecordEquitySnapshot appends one point to a run's equity curve.
func (r *Repository) RecordEquitySnapshot(runID string, ts time.Time, equity decimal.Decimal) error {
	rec := EquitySnapshotRecord{RunID: runID, Timestamp: ts, Equity: equity}
	return r.db.Create(&rec).Error
}

// StartRun records the beginning of a backtest or live session.
func (r *Repository) StartRun(runID, stratID, symbol, mode string, startedAt time.Time) error {
	rec := RunRecord{
		RunID:     runID,
		StratID:   stratID,
		Symbol:    symbol,
		Mode:      mode,
		StartedAt: startedAt,
	}
	return r.db.Create(&rec).Error
}

// FinishRun records the end of a run with its final equity.
func (r *Repository) FinishRun(runID string, finishedAt time.Time, finalEquity decimal.Decimal) error {
	return r.db.Model(&RunRecord{}).
		Where("run_id = ?", runID).
		Updates(map[string]any{
			"finished_at":  finishedAt,
			"final_equity": finalEquity,
		}).Error
}

// GetEquityCurve returns every equity sample for a run, ordered by time.
func (r *Repository) GetEquityCurve(runID string) ([]EquitySnapshotRecord, error) {
	var rows []EquitySnapshotRecord
	err := r.db.Where("run_id = ?", runID).Order("timestamp ASC").Find(&rows).Error
	return rows, err
}

// GetExecutionsByOrderLinkID returns every fill recorded against a client
// order ID, used to reconcile live fills against a replayed backtest.
func (r *Repository) GetExecutionsByOrderLinkID(orderLinkID string) ([]ExecutionRecord, error) {
	var rows []ExecutionRecord
	err := r.db.Where("order_link_id = ?", orderLinkID).Order("exchange_ts ASC").Find(&rows).Error
	return rows, err
}

// GetExecutionsByStratID returns every fill recorded for a strategy across
// its lifetime, ordered by exchange time — the live trade stream that
// replay mode compares a simulated run against.
func (r *Repository) GetExecutionsByStratID(stratID string) ([]ExecutionRecord, error) {
	var rows []ExecutionRecord
	err := r.db.Where("strat_id = ?", stratID).Order("exchange_ts ASC").Find(&rows).Error
	return rows, err
}

// InsertTickerSnapshot records one public ticker tick against a run so it
// can be replayed later through the same engine.
func (r *Repository) InsertTickerSnapshot(runID string, t types.Tick) error {
	rec := TickerSnapshotRecord{
		RunID:       runID,
		Symbol:      t.Symbol,
		ExchangeTS:  t.ExchangeTS,
		LastPrice:   t.LastPrice,
		MarkPrice:   t.MarkPrice,
		Bid1Price:   t.Bid1Price,
		Ask1Price:   t.Ask1Price,
		FundingRate: t.FundingRate,
	}
	return r.db.Create(&rec).Error
}

// LoadTicksForReplay returns every ticker snapshot recorded for a run and
// symbol, ordered by exchange_ts — the ordered tick stream §4.6's
// orchestrator iterates.
func (r *Repository) LoadTicksForReplay(runID, symbol string) ([]types.Tick, error) {
	var rows []TickerSnapshotRecord
	if err := r.db.Where("run_id = ? AND symbol = ?", runID, symbol).Order("exchange_ts ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	ticks := make([]types.Tick, 0, len(rows))
	for _, row := range rows {
		ticks = append(ticks, types.Tick{
			Symbol:      row.Symbol,
			ExchangeTS:  row.ExchangeTS,
			LastPrice:   row.LastPrice,
			MarkPrice:   row.MarkPrice,
			Bid1Price:   row.Bid1Price,
			Ask1Price:   row.Ask1Price,
			FundingRate: row.FundingRate,
		})
	}
	return ticks, nil
}

// RecordWalletSnapshot appends one account balance sample.
func (r *Repository) RecordWalletSnapshot(accountID string, ts time.Time, balance, equity decimal.Decimal) error {
	rec := WalletSnapshotRecord{AccountID: accountID, Timestamp: ts, Balance: balance, Equity: equity}
	return r.db.Create(&rec).Error
}

// RecordPositionSnapshot appends one per-direction position sample.
func (r *Repository) RecordPositionSnapshot(accountID string, p types.Position, symbol string, ts time.Time) error {
	rec := PositionSnapshotRecord{
		AccountID:     accountID,
		Symbol:        symbol,
		Direction:     string(p.Direction),
		Size:          p.Size,
		AvgEntryPrice: p.AvgEntryPrice,
		Timestamp:     ts,
	}
	return r.db.Create(&rec).Error
}

// UpsertStrategy persists a strategy's configuration, keyed by StratID, so
// a restart can reload the exact configuration a run started with.
func (r *Repository) UpsertStrategy(stratID, accountID, symbol, configJSON string) error {
	rec := StrategyRecord{StratID: stratID, AccountID: accountID, Symbol: symbol, ConfigRaw: configJSON}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "strat_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// UpsertAccount registers an exchange account under a user.
func (r *Repository) UpsertAccount(accountID, userID, label string) error {
	rec := AccountRecord{AccountID: accountID, UserID: userID, Label: label}
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

// UpsertUser registers a user.
func (r *Repository) UpsertUser(userID, username string) error {
	rec := UserRecord{UserID: userID, Username: username}
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

// GetAccountsByUser lists every account owned by userID. Repositories
// enforce access by user_id: callers must never look up an account by ID
// alone without also checking it belongs to the requesting user.
func (r *Repository) GetAccountsByUser(userID string) ([]AccountRecord, error) {
	var rows []AccountRecord
	err := r.db.Where("user_id = ?", userID).Find(&rows).Error
	return rows, err
}
