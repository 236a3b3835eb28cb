package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Bid rule errors — returned synchronously so the caller can re-quote.
var (
	// ErrValidation is returned for malformed input (bad coordinate, non-positive
	// amount, missing signature reference).
	ErrValidation = errors.New("invalid input")

	// ErrBidTooLow is returned when the amount does not reach the parcel's base
	// price or the minimum raise over the current leading bid.
	ErrBidTooLow = errors.New("bid amount is below the required minimum")

	// ErrAuctionClosed is returned when a bid arrives at or past the parcel's
	// effective close time.
	ErrAuctionClosed = errors.New("auction is closed for this parcel")

	// ErrParcelOutOfBounds is returned for coordinates outside the auction grid.
	ErrParcelOutOfBounds = errors.New("parcel is outside the auction grid")

	// ErrInsufficientBalance is returned when an address's available balance
	// (balance − locked) cannot cover the bid amount.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrConcurrentBidConflict is returned when a submission loses the
	// per-parcel race to another submission between read and commit.
	ErrConcurrentBidConflict = errors.New("lost parcel race to a concurrent bid")
)

// Lookup errors
var (
	// ErrAddressNotFound is returned when no ledger state exists for an address.
	ErrAddressNotFound = errors.New("address state not found")

	// ErrBidNotFound is returned when no bid matches the given criteria.
	ErrBidNotFound = errors.New("bid not found")

	// ErrBidGroupNotFound is returned when no bid group matches the given id.
	ErrBidGroupNotFound = errors.New("bid group not found")
)

// Auth errors
var (
	// ErrUnauthorized is returned when no valid credential accompanies a request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenInvalid is returned for expired or malformed tokens.
	ErrTokenInvalid = errors.New("token invalid or expired")

	// ErrForbidden is returned when the caller may not act for the address.
	ErrForbidden = errors.New("forbidden")
)

// Infrastructure errors
var (
	// ErrPersistence wraps transient persistence failures. These are retried
	// with backoff a bounded number of times before being surfaced.
	ErrPersistence = errors.New("persistence unavailable")

	// ErrInvariantViolation indicates a ledger bug: locked exceeding balance,
	// negative locked totals, or two active bids on one parcel. Fatal; must be
	// alerted on, never silently recovered.
	ErrInvariantViolation = errors.New("ledger invariant violated")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// userErrors collects the rule failures that map to 4xx responses so that
// IsUserError can stay in sync automatically.
var userErrors = []error{
	ErrValidation,
	ErrBidTooLow,
	ErrAuctionClosed,
	ErrParcelOutOfBounds,
	ErrInsufficientBalance,
	ErrConcurrentBidConflict,
}

// IsUserError returns true when err (or any error in its chain) is a bid rule
// failure the caller can correct and resubmit. Use this instead of comparing
// error values directly when translating domain errors to HTTP responses.
func IsUserError(err error) bool {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true for the "entity not found" sentinel errors.
func IsNotFound(err error) bool {
	notFoundErrors := []error{
		ErrAddressNotFound,
		ErrBidNotFound,
		ErrBidGroupNotFound,
	}
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransient returns true for failures worth retrying (persistence timeouts).
// Invariant violations are deliberately NOT transient: retrying a ledger bug
// only repeats it.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsFatal returns true for invariant violations that must page an operator.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
