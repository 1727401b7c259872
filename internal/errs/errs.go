// Package errs defines the error-kind taxonomy shared by every layer of the
// core. Kinds are sentinel errors usable with errors.Is/errors.As instead of
// ad hoc string checks.
package errs

import "errors"

var (
	// InvalidInput: malformed number, negative qty/price where forbidden,
	// malformed risk-limit tier table.
	InvalidInput = errors.New("invalid input")

	// NotFound: missing order_id, missing cached entry, missing run.
	NotFound = errors.New("not found")

	// DuplicateClientId: placing an order whose client_order_id is live.
	DuplicateClientId = errors.New("duplicate client order id")

	// StateInvariantViolation: ladder invariants break. Must not happen in
	// steady state; fatal in tests, logged-and-rebuilt in live.
	StateInvariantViolation = errors.New("state invariant violation")

	// ExchangeError: recoverable REST failure (timeout, 5xx, rate limit).
	ExchangeError = errors.New("exchange error")

	// DataQualityWarning: non-fatal issue (zero MM for non-zero position,
	// near-zero position_im). Logged, surfaced in a quality-error list,
	// execution continues.
	DataQualityWarning = errors.New("data quality warning")

	// CachePermissionError: cache file unwritable. Logged; execution
	// continues without caching.
	CachePermissionError = errors.New("cache permission error")
)
