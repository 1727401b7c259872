// Package ladder implements the grid ladder: a symmetric price ladder
// around an anchor price, with a contiguous Wait band at its center, Buy
// levels below, and Sell levels above — a small mutex-protected struct with
// pure accessor methods, no hidden global state.
package ladder

import (
	"sync"

	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Ladder is a symmetric grid of price levels around an anchor, with one
// contiguous Wait band at the center. Safe for concurrent reads and a
// single writer.
type Ladder struct {
	mu sync.RWMutex

	tickSize           decimal.Decimal
	gridCount          int
	gridStepPct        decimal.Decimal // percent, e.g. 0.5 = 0.5%
	rebalanceThreshold decimal.Decimal // percent

	levels []types.Level // sorted ascending by price
}

// New constructs an empty ladder; call Build before using it.
func New(tickSize decimal.Decimal, gridCount int, gridStepPct, rebalanceThreshold decimal.Decimal) *Ladder {
	return &Ladder{
		tickSize:           tickSize,
		gridCount:          gridCount,
		gridStepPct:        gridStepPct,
		rebalanceThreshold: rebalanceThreshold,
	}
}

// IsEmpty reports whether the ladder has not yet been built (or holds only
// the degenerate single-level case).
func (l *Ladder) IsEmpty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.levels) <= 1
}

// Levels returns a copy of the current level set, sorted ascending by
// price.
func (l *Ladder) Levels() []types.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Level, len(l.levels))
	copy(out, l.levels)
	return out
}

// GridCount returns the configured grid_count.
func (l *Ladder) GridCount() int {
	return l.gridCount
}

// GridStepPct returns the configured grid_step percent.
func (l *Ladder) GridStepPct() decimal.Decimal {
	return l.gridStepPct
}

// snapToTick rounds price to the nearest multiple of tickSize.
func snapToTick(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	units := price.Div(tickSize).Round(0)
	return units.Mul(tickSize)
}

// Build produces gridCount+1 levels spaced by gridStepPct percent,
// symmetric around anchor. A single central level is assigned Wait; levels
// below are Buy, levels above are Sell. Every price is snapped to the
// nearest multiple of tickSize.
func (l *Ladder) Build(anchor decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buildLocked(anchor)
}

func (l *Ladder) buildLocked(anchor decimal.Decimal) {
	// Adjacent levels are spaced by half of grid_step percent: a grid_step
	// of 0.5% places levels at ±0.25%, ±0.5%, ... from the anchor. The
	// levels immediately adjacent to the Wait band therefore sit exactly at
	// the grid_step/2 too-close threshold, so the engine does not place them
	// while last_close equals the anchor.
	step := l.gridStepPct.Div(two).Div(hundred).Mul(anchor)
	n := l.gridCount
	half := n / 2

	levels := make([]types.Level, 0, n+1)
	for i := -half; i <= n-half; i++ {
		price := snapToTick(anchor.Add(step.Mul(decimal.NewFromInt(int64(i)))), l.tickSize)
		side := types.LevelBuy
		switch {
		case i == 0:
			side = types.LevelWait
		case i > 0:
			side = types.LevelSell
		}
		levels = append(levels, types.Level{Side: side, Price: price})
	}
	l.levels = levels
}

// AnchorPrice returns the price of the (middle) Wait-band level, used for
// persistence across restarts. Returns the zero Decimal when the ladder is
// empty.
func (l *Ladder) AnchorPrice() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.anchorPriceLocked()
}

func (l *Ladder) anchorPriceLocked() decimal.Decimal {
	waitIdx := l.waitIndicesLocked()
	if len(waitIdx) == 0 {
		if len(l.levels) == 0 {
			return decimal.Zero
		}
		return l.levels[len(l.levels)/2].Price
	}
	mid := (waitIdx[0] + waitIdx[len(waitIdx)-1]) / 2
	return l.levels[mid].Price
}

func (l *Ladder) waitIndicesLocked() []int {
	var idx []int
	for i, lv := range l.levels {
		if lv.Side == types.LevelWait {
			idx = append(idx, i)
		}
	}
	return idx
}

// CenterIndex returns the index used as the center of the ladder for
// distance-ordered iteration: the midpoint of the Wait band, or the
// midpoint of the whole level list when there is no Wait band.
func (l *Ladder) CenterIndex() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.centerIndexLocked()
}

func (l *Ladder) centerIndexLocked() int {
	waitIdx := l.waitIndicesLocked()
	if len(waitIdx) == 0 {
		if len(l.levels) == 0 {
			return 0
		}
		return len(l.levels) / 2
	}
	return (waitIdx[0] + waitIdx[len(waitIdx)-1]) / 2
}

// Update shifts the Wait band toward filledPrice by at most one level if
// filledPrice is more than the rebalance threshold (percent of the anchor)
// away from the anchor, preserving total level count and re-classifying
// sides. lastPrice is not used. It is a no-op when the ladder is empty.
func (l *Ladder) Update(filledPrice, lastPrice decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.levels) == 0 {
		return
	}

	anchor := l.anchorPriceLocked()
	if anchor.IsZero() {
		return
	}
	diffPct := filledPrice.Sub(anchor).Abs().Div(anchor).Mul(hundred)
	if diffPct.LessThanOrEqual(l.rebalanceThreshold) {
		return
	}

	// Shift the whole ladder by one level spacing toward filledPrice, then
	// re-snap and re-classify, preserving level count.
	step := l.gridStepPct.Div(two).Div(hundred).Mul(anchor)
	var newAnchor decimal.Decimal
	if filledPrice.GreaterThan(anchor) {
		newAnchor = anchor.Add(step)
	} else {
		newAnchor = anchor.Sub(step)
	}
	l.buildLocked(newAnchor)
}

// Rebuild discards the current ladder and builds fresh at lastPrice.
// Triggered externally when the engine detects a ladder/order mismatch
// beyond threshold.
func (l *Ladder) Rebuild(lastPrice decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buildLocked(lastPrice)
}

// IsCorrect reports whether the ladder's structural invariants hold:
// exactly one contiguous Wait band, all Buy below every Wait, all Sell
// above every Wait, strictly increasing prices, and level count of
// gridCount+1.
func (l *Ladder) IsCorrect() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.levels) != l.gridCount+1 {
		return false
	}
	for i := 1; i < len(l.levels); i++ {
		if !l.levels[i].Price.GreaterThan(l.levels[i-1].Price) {
			return false
		}
	}

	waitIdx := l.waitIndicesLocked()
	if len(waitIdx) == 0 {
		return false
	}
	for i := 1; i < len(waitIdx); i++ {
		if waitIdx[i] != waitIdx[i-1]+1 {
			return false // not contiguous
		}
	}
	lo, hi := waitIdx[0], waitIdx[len(waitIdx)-1]
	for i, lv := range l.levels {
		switch {
		case i < lo:
			if lv.Side != types.LevelBuy {
				return false
			}
		case i > hi:
			if lv.Side != types.LevelSell {
				return false
			}
		default:
			if lv.Side != types.LevelWait {
				return false
			}
		}
	}
	return true
}
