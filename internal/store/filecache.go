// Package store provides crash-safe persistence: small JSON caches for
// slow-changing exchange reference data (instrument info, risk-limit
// tiers), and a GORM/MySQL repository for everything tick-scoped (ticks,
// executions, order updates, equity snapshots, runs).
//
// Cache writes use atomic file replacement (write to .tmp, then rename) to
// prevent corruption from partial writes or crashes mid-save, the same
// pattern a position-persistence store would use. Writes are additionally
// serialized across processes with an advisory flock so two bot instances
// sharing a cache directory never interleave writes; reads take no flock.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

// maxCacheFileBytes caps the size of any single cache file this package
// will read, guarding against a corrupted or maliciously large file being
// loaded wholesale into memory.
const maxCacheFileBytes = 10 << 20 // 10 MiB

// FileCache persists instrument-info and risk-limit-tier lookups to JSON
// files in a designated directory, keyed by symbol, with a configurable TTL.
type FileCache struct {
	dir string
	mu  sync.Mutex
	ttl time.Duration
}

// NewFileCache creates a cache backed by the given directory.
func NewFileCache(dir string, ttl time.Duration) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{dir: dir, ttl: ttl}, nil
}

type InstrumentInfoEntry struct {
	CachedAt time.Time               `json:"cached_at"`
	Symbol   string                  `json:"symbol"`
	TickSize decimal.Decimal         `json:"tick_size"`
	QtyStep  decimal.Decimal         `json:"qty_step"`
	MinQty   decimal.Decimal         `json:"min_qty"`
}

// SaveInstrumentInfo atomically persists instrument trading rules for a symbol.
func (c *FileCache) SaveInstrumentInfo(symbol string, tickSize, qtyStep, minQty decimal.Decimal) error {
	entry := InstrumentInfoEntry{
		CachedAt: time.Now(),
		Symbol:   symbol,
		TickSize: tickSize,
		QtyStep:  qtyStep,
		MinQty:   minQty,
	}
	return c.writeJSON(c.instrumentPath(symbol), entry)
}

// LoadInstrumentInfo returns the cached trading rules for symbol if present
// and not older than the configured TTL. ok is false on a cache miss or expiry.
func (c *FileCache) LoadInstrumentInfo(symbol string) (entry InstrumentInfoEntry, ok bool, err error) {
	var e InstrumentInfoEntry
	found, err := c.readJSON(c.instrumentPath(symbol), &e)
	if err != nil || !found {
		return InstrumentInfoEntry{}, false, err
	}
	if c.ttl > 0 && time.Since(e.CachedAt) > c.ttl {
		return InstrumentInfoEntry{}, false, nil
	}
	return e, true, nil
}

type RiskLimitEntry struct {
	CachedAt time.Time              `json:"cached_at"`
	Symbol   string                 `json:"symbol"`
	Tiers    []types.RiskLimitTier  `json:"tiers"`
}

// SaveRiskLimitTiers atomically persists a symbol's tiered margin table.
func (c *FileCache) SaveRiskLimitTiers(symbol string, tiers []types.RiskLimitTier) error {
	entry := RiskLimitEntry{CachedAt: time.Now(), Symbol: symbol, Tiers: tiers}
	return c.writeJSON(c.riskLimitPath(symbol), entry)
}

// LoadRiskLimitTiers returns the cached risk-limit table for symbol if
// present and not older than the configured TTL.
func (c *FileCache) LoadRiskLimitTiers(symbol string) (tiers []types.RiskLimitTier, ok bool, err error) {
	var e RiskLimitEntry
	found, err := c.readJSON(c.riskLimitPath(symbol), &e)
	if err != nil || !found {
		return nil, false, err
	}
	if c.ttl > 0 && time.Since(e.CachedAt) > c.ttl {
		return nil, false, nil
	}
	return e.Tiers, true, nil
}

func (c *FileCache) instrumentPath(symbol string) string {
	return filepath.Join(c.dir, "instrument_"+symbol+".json")
}

func (c *FileCache) riskLimitPath(symbol string) string {
	return filepath.Join(c.dir, "risklimit_"+symbol+".json")
}

func (c *FileCache) writeJSON(path string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := rejectSymlink(path); err != nil {
		return err
	}

	lockPath := path + ".lock"
	lock, err := lockFile(lockPath)
	if err != nil {
		return err
	}
	defer lock.unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if len(data) > maxCacheFileBytes {
		return fmt.Errorf("cache entry exceeds %d bytes", maxCacheFileBytes)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return os.Rename(tmp, path)
}

func (c *FileCache) readJSON(path string, v any) (found bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := rejectSymlink(path); err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat cache entry: %w", err)
	}
	if info.Size() > maxCacheFileBytes {
		return false, fmt.Errorf("cache entry %s exceeds %d bytes", path, maxCacheFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read cache entry: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return true, nil
}

// rejectSymlink refuses to operate on a path whose final component is a
// symlink, closing off a classic cache-poisoning vector where a writable
// cache directory is used to redirect reads/writes outside it.
func rejectSymlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("lstat: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("refusing to operate on symlink: %s", path)
	}
	return nil
}
