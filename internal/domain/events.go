/**
 * @description
 * Event payloads published to the message broker on successful state
 * transitions. Routing keys are defined next to the producer in
 * pkg/rabbitmq.
 */
package domain

// AuctionStartedEvent fires when a privileged caller opens a new auction.
type AuctionStartedEvent struct {
	AuctionID uint64           `json:"auction_id"`
	Mode      SubscriptionMode `json:"mode"`
	Timestamp int64            `json:"timestamp"`
}

// NewBidEvent fires on every accepted bid.
type NewBidEvent struct {
	AuctionID uint64 `json:"auction_id"`
	Bidder    string `json:"bidder"`
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// AuctionFinishedEvent fires when a bidding window closes with a winner.
type AuctionFinishedEvent struct {
	AuctionID uint64 `json:"auction_id"`
	Winner    string `json:"winner"`
	BestPrice uint64 `json:"best_price"`
	Timestamp int64  `json:"timestamp"`
}

// SubscriptionActivatedEvent fires when a subscription is created, either by
// claiming an auction or by locking assets.
type SubscriptionActivatedEvent struct {
	Owner     string           `json:"owner"`
	LocalID   uint32           `json:"local_id"`
	Mode      SubscriptionMode `json:"mode"`
	Timestamp int64            `json:"timestamp"`
}

// SubscriptionStoppedEvent fires when a lock-path subscription is stopped
// and its deposit returned.
type SubscriptionStoppedEvent struct {
	Owner     string `json:"owner"`
	LocalID   uint32 `json:"local_id"`
	Unlocked  uint64 `json:"unlocked"`
	Timestamp int64  `json:"timestamp"`
}

// UsageRecordedEvent fires after a successful quota debit.
type UsageRecordedEvent struct {
	Owner     string `json:"owner"`
	LocalID   uint32 `json:"local_id"`
	Cost      uint64 `json:"cost"`
	Remaining uint64 `json:"remaining"`
	Timestamp int64  `json:"timestamp"`
}

// UsageDiscrepancyEvent fires when post-dispatch settlement finds less quota
// than the executed operation consumed. The operation itself is never rolled
// back; only the ledger adjustment is surfaced.
type UsageDiscrepancyEvent struct {
	Owner     string `json:"owner"`
	LocalID   uint32 `json:"local_id"`
	Requested uint64 `json:"requested"`
	Applied   uint64 `json:"applied"`
	Timestamp int64  `json:"timestamp"`
}
