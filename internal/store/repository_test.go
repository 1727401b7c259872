package store

import "testing"

func TestNewRepositoryRejectsMalformedDSN(t *testing.T) {
	t.Parallel()

	if _, err := NewRepository("not-a-valid-dsn"); err == nil {
		t.Error("expected an error opening a malformed DSN")
	}
}

func TestRecordTableNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
		got  string
	}{
		{"public trades", "public_trades", PublicTradeRecord{}.TableName()},
		{"executions", "executions", ExecutionRecord{}.TableName()},
		{"order updates", "order_updates", OrderUpdateRecord{}.TableName()},
		{"equity snapshots", "equity_snapshots", EquitySnapshotRecord{}.TableName()},
		{"runs", "runs", RunRecord{}.TableName()},
		{"ticker snapshots", "ticker_snapshots", TickerSnapshotRecord{}.TableName()},
		{"wallet snapshots", "wallet_snapshots", WalletSnapshotRecord{}.TableName()},
		{"position snapshots", "position_snapshots", PositionSnapshotRecord{}.TableName()},
		{"users", "users", UserRecord{}.TableName()},
		{"accounts", "accounts", AccountRecord{}.TableName()},
		{"strategies", "strategies", StrategyRecord{}.TableName()},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: TableName() = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
