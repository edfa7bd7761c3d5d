/**
 * @description
 * This file defines the auction domain model. Auctions sell capacity
 * subscriptions in a sealed, ascending single round: the highest bidder when
 * the bidding window closes may claim the subscription, and the winning bid
 * is burned rather than paid to anyone.
 */
package domain

// Auction is one subscription sale, identified by a global auto-incrementing id.
type Auction struct {
	ID   uint64           `json:"id"`
	Mode SubscriptionMode `json:"mode"`
	// Winner and BestPrice are updated together on each accepted bid.
	Winner    *string `json:"winner,omitempty"`
	BestPrice uint64  `json:"best_price"`
	// FirstBidTime starts the bidding window. An auction with no bids stays
	// open indefinitely.
	FirstBidTime *int64 `json:"first_bid_time,omitempty"`
	// SubscriptionID is set exactly once on claim; after that the auction is
	// terminal.
	SubscriptionID *uint32 `json:"subscription_id,omitempty"`
}

// NewAuction creates an auction with empty bid state.
func NewAuction(id uint64, mode SubscriptionMode) *Auction {
	return &Auction{ID: id, Mode: mode}
}

// Claimed reports whether the auction has already produced a subscription.
func (a *Auction) Claimed() bool {
	return a.SubscriptionID != nil
}

// BiddingClosed reports whether the bidding window has elapsed. The window
// only starts counting from the first bid.
func (a *Auction) BiddingClosed(now int64, duration int64) bool {
	return a.FirstBidTime != nil && now >= *a.FirstBidTime+duration
}
