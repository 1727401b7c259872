// Package replay implements the backtest orchestrator: the per-symbol
// runner that wires the grid engine, position trackers, and order
// manager/session into a deterministic tick loop, plus the funding
// simulator and the live-vs-simulated trade comparator.
package replay

import "time"

// fundingHours are the UTC hours at which an exchange applies a funding
// payment.
var fundingHours = map[int]bool{0: true, 8: true, 16: true}

// FundingSimulator decides, for each tick timestamp, whether a funding
// payment should be applied: the hour must be a funding hour, and either no
// payment has been applied yet or the previous application was in a
// different funding period (distance >= 7h and a different hour).
type FundingSimulator struct {
	lastApplied time.Time
	hasApplied  bool
}

// NewFundingSimulator constructs a simulator with no prior application.
func NewFundingSimulator() *FundingSimulator {
	return &FundingSimulator{}
}

// ShouldApply reports whether ts qualifies for a funding application.
func (f *FundingSimulator) ShouldApply(ts time.Time) bool {
	h := ts.UTC().Hour()
	if !fundingHours[h] {
		return false
	}
	if !f.hasApplied {
		return true
	}
	distance := ts.Sub(f.lastApplied)
	return distance >= 7*time.Hour && f.lastApplied.UTC().Hour() != h
}

// MarkApplied records ts as the last funding application time.
func (f *FundingSimulator) MarkApplied(ts time.Time) {
	f.lastApplied = ts
	f.hasApplied = true
}
