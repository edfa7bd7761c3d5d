/**
 * @description
 * This file defines the core domain models for capacity subscriptions.
 * A subscription grants its owner a continuously-accruing execution quota,
 * measured in weight units, that can be spent to run operations without
 * paying the normal per-operation fee.
 */
package domain

// SecondsPerDay is the length of one subscription day.
const SecondsPerDay = 86_400

// ModeKind discriminates the two subscription variants.
type ModeKind string

const (
	// ModeLifetime never expires and accrues at a per-subscription rate.
	ModeLifetime ModeKind = "lifetime"
	// ModeDaily accrues at the configured daily rate and expires after a
	// fixed number of days.
	ModeDaily ModeKind = "daily"
)

// SubscriptionMode describes how a subscription accrues capacity.
// Exactly one of TPS (lifetime) or Days (daily) is meaningful.
type SubscriptionMode struct {
	Kind ModeKind `json:"kind"`
	// TPS is the accrual rate in micro-operations per second (uTPS).
	// Only set for lifetime subscriptions.
	TPS uint32 `json:"tps,omitempty"`
	// Days is the subscription length. Only set for daily subscriptions.
	Days uint32 `json:"days,omitempty"`
}

// RateUTPS returns the accrual rate in uTPS. Daily subscriptions accrue at
// the fixed rate supplied by configuration.
func (m SubscriptionMode) RateUTPS(dailyRateUTPS uint32) uint32 {
	switch m.Kind {
	case ModeLifetime:
		return m.TPS
	case ModeDaily:
		return dailyRateUTPS
	default:
		return 0
	}
}

// Validate checks that the mode is well formed.
func (m SubscriptionMode) Validate() error {
	switch m.Kind {
	case ModeLifetime:
		if m.TPS == 0 {
			return ErrInvalidAmount
		}
	case ModeDaily:
		if m.Days == 0 {
			return ErrInvalidAmount
		}
	default:
		return ErrInvalidAmount
	}
	return nil
}

// Subscription is a capacity grant keyed by (owner, local id). LocalID is
// auto-incrementing per owner, so one account can hold several subscriptions.
type Subscription struct {
	Owner   string `json:"owner"`
	LocalID uint32 `json:"local_id"`
	// FreeWeight is accrued, unspent capacity in weight units.
	FreeWeight uint64           `json:"free_weight"`
	Mode       SubscriptionMode `json:"mode"`
	// IssueTime and LastUpdate are unix seconds.
	IssueTime  int64 `json:"issue_time"`
	LastUpdate int64 `json:"last_update"`
	// ExpirationTime is precomputed at issuance for daily subscriptions
	// and nil for lifetime ones.
	ExpirationTime *int64 `json:"expiration_time,omitempty"`
}

// NewSubscription builds a fresh ledger entry with zero accrued weight.
// Daily subscriptions get their expiration precomputed here.
func NewSubscription(owner string, localID uint32, mode SubscriptionMode, now int64) *Subscription {
	sub := &Subscription{
		Owner:      owner,
		LocalID:    localID,
		FreeWeight: 0,
		Mode:       mode,
		IssueTime:  now,
		LastUpdate: now,
	}
	if mode.Kind == ModeDaily {
		expiry := now + int64(mode.Days)*SecondsPerDay
		sub.ExpirationTime = &expiry
	}
	return sub
}

// ExpiredAt reports whether the subscription is permanently over. The bound
// is inclusive: a daily subscription is unusable from its expiration instant.
func (s *Subscription) ExpiredAt(now int64) bool {
	return s.ExpirationTime != nil && now >= *s.ExpirationTime
}

// LockedAssets records the deposit backing a lock-path subscription.
// Its existence is what distinguishes lock-path from auction-path
// subscriptions: auction wins are burned and have no entry here.
type LockedAssets struct {
	Owner   string `json:"owner"`
	LocalID uint32 `json:"local_id"`
	Amount  uint64 `json:"amount"`
}
