package store

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

func TestSaveAndLoadInstrumentInfo(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := NewFileCache(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	if err := c.SaveInstrumentInfo("BTCUSDT", decimal.RequireFromString("0.5"), decimal.RequireFromString("0.001"), decimal.RequireFromString("0.001")); err != nil {
		t.Fatalf("SaveInstrumentInfo: %v", err)
	}

	entry, ok, err := c.LoadInstrumentInfo("BTCUSDT")
	if err != nil {
		t.Fatalf("LoadInstrumentInfo: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if !entry.TickSize.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("TickSize = %s, want 0.5", entry.TickSize)
	}
}

func TestLoadInstrumentInfoMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := NewFileCache(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	_, ok, err := c.LoadInstrumentInfo("NONEXISTENT")
	if err != nil {
		t.Fatalf("LoadInstrumentInfo: %v", err)
	}
	if ok {
		t.Error("expected a cache miss for an unknown symbol")
	}
}

func TestLoadInstrumentInfoExpired(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := NewFileCache(dir, time.Millisecond)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	if err := c.SaveInstrumentInfo("BTCUSDT", decimal.RequireFromString("0.5"), decimal.RequireFromString("0.001"), decimal.RequireFromString("0.001")); err != nil {
		t.Fatalf("SaveInstrumentInfo: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.LoadInstrumentInfo("BTCUSDT")
	if err != nil {
		t.Fatalf("LoadInstrumentInfo: %v", err)
	}
	if ok {
		t.Error("expected the entry to have expired")
	}
}

func TestSaveInstrumentInfoOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := NewFileCache(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	_ = c.SaveInstrumentInfo("BTCUSDT", decimal.RequireFromString("0.5"), decimal.RequireFromString("0.001"), decimal.RequireFromString("0.001"))
	_ = c.SaveInstrumentInfo("BTCUSDT", decimal.RequireFromString("0.1"), decimal.RequireFromString("0.001"), decimal.RequireFromString("0.001"))

	entry, ok, err := c.LoadInstrumentInfo("BTCUSDT")
	if err != nil {
		t.Fatalf("LoadInstrumentInfo: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if !entry.TickSize.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("TickSize = %s, want 0.1 (latest save)", entry.TickSize)
	}
}

func TestSaveAndLoadRiskLimitTiers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := NewFileCache(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	tiers := []types.RiskLimitTier{
		{MaxPositionValue: decimal.RequireFromString("2000000"), MMRRate: decimal.RequireFromString("0.005"), IMRRate: decimal.RequireFromString("0.01")},
		{MaxPositionValue: decimal.RequireFromString("5000000"), MMRRate: decimal.RequireFromString("0.01"), IMRRate: decimal.RequireFromString("0.02")},
	}
	if err := c.SaveRiskLimitTiers("BTCUSDT", tiers); err != nil {
		t.Fatalf("SaveRiskLimitTiers: %v", err)
	}

	got, ok, err := c.LoadRiskLimitTiers("BTCUSDT")
	if err != nil {
		t.Fatalf("LoadRiskLimitTiers: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if len(got) != 2 {
		t.Fatalf("len(tiers) = %d, want 2", len(got))
	}
	if !got[1].MaxPositionValue.Equal(tiers[1].MaxPositionValue) {
		t.Errorf("tiers[1].MaxPositionValue = %s, want %s", got[1].MaxPositionValue, tiers[1].MaxPositionValue)
	}
}

func TestRejectSymlinkRefusesWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := NewFileCache(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	target := dir + "/real_target.json"
	if err := os.WriteFile(target, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	if err := os.Symlink(target, c.instrumentPath("LINKED")); err != nil {
		t.Skipf("symlink unsupported in this environment: %v", err)
	}

	if err := c.SaveInstrumentInfo("LINKED", decimal.Zero, decimal.Zero, decimal.Zero); err == nil {
		t.Error("expected SaveInstrumentInfo to refuse writing through a symlink")
	}
}
