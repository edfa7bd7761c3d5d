/**
 * @description
 * Business-rule errors shared across the service layers. Storage lookup
 * errors (not-found sentinels) live in internal/store next to the queries
 * that produce them.
 */
package domain

import "errors"

var (
	// ErrBadOrigin means the caller lacks the privilege or ownership the
	// operation requires.
	ErrBadOrigin = errors.New("caller is not permitted to perform this operation")

	// ErrBiddingClosed means the auction's bidding window has elapsed.
	ErrBiddingClosed = errors.New("auction bidding window is over")

	// ErrBidTooLow means the bid does not beat the floor or the current best
	// price. Ties are rejected: only a strictly greater bid wins.
	ErrBidTooLow = errors.New("bid is too low")

	// ErrAlreadyClaimed means the auction has already produced a subscription.
	ErrAlreadyClaimed = errors.New("auction has already been claimed")

	// ErrClaimNotAllowed means the claim conditions are not met: the caller
	// is not the winner or the bidding window is still open.
	ErrClaimNotAllowed = errors.New("auction claim is not allowed")

	// ErrSubscriptionExpired means a daily subscription has reached its
	// expiration time and is permanently unusable.
	ErrSubscriptionExpired = errors.New("subscription is over")

	// ErrQuotaExhausted means the accrued free weight cannot cover the
	// requested cost.
	ErrQuotaExhausted = errors.New("free weight is not enough")

	// ErrInvalidAmount means a zero amount or an asset-to-throughput
	// conversion that would overflow the rate range.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNotLockBacked means a lifetime stop was attempted on a subscription
	// without a locked deposit, i.e. one won at auction. Auction wins were
	// burned and have no refund path.
	ErrNotLockBacked = errors.New("subscription is not backed by locked assets")

	// ErrClockRegression means the time source moved backwards. This is
	// fatal for the call: accrual must never under- or over-credit.
	ErrClockRegression = errors.New("clock regression detected")
)
