/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the service layers need. Defining an interface decouples the
 * business logic from PostgreSQL and lets tests run against in-memory fakes.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/ledgerhythm/capacity-service/internal/domain"
)

var (
	// ErrAuctionNotFound is returned when no auction exists for an id.
	ErrAuctionNotFound = errors.New("auction not found")
	// ErrSubscriptionNotFound is returned when no subscription exists for an
	// (owner, local id) pair.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrLockedAssetsNotFound is returned when a subscription has no locked
	// deposit behind it.
	ErrLockedAssetsNotFound = errors.New("locked assets not found")
)

// UsageRecord is the audit trail for one quota debit.
type UsageRecord struct {
	ID        string
	Owner     string
	LocalID   uint32
	Cost      uint64
	Remaining uint64
	CreatedAt int64
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Counter methods. Ids are allocated from explicit counter rows: one
	// global scope for auctions, one scope per owner for subscriptions.
	NextAuctionID(ctx context.Context) (uint64, error)
	NextSubscriptionID(ctx context.Context, owner string) (uint32, error)

	// Auction methods
	CreateAuction(ctx context.Context, auction *domain.Auction) error
	GetAuction(ctx context.Context, auctionID uint64) (*domain.Auction, error)
	UpdateAuction(ctx context.Context, auction *domain.Auction) error
	// ListUnnotifiedClosedAuctions returns auctions with a winner whose
	// bidding window closed at or before the given instant and for which no
	// finish notification has been sent yet.
	ListUnnotifiedClosedAuctions(ctx context.Context, closedBefore int64, duration int64) ([]domain.Auction, error)
	MarkAuctionNotified(ctx context.Context, auctionID uint64, at int64) error

	// Subscription methods
	GetSubscription(ctx context.Context, owner string, localID uint32) (*domain.Subscription, error)
	CreateSubscription(ctx context.Context, sub *domain.Subscription) error
	UpdateSubscription(ctx context.Context, sub *domain.Subscription) error

	// Locked asset methods. Creation and removal keep the subscription and
	// its deposit row in lockstep inside one transaction.
	CreateLockedSubscription(ctx context.Context, sub *domain.Subscription, amount uint64) error
	GetLockedAssets(ctx context.Context, owner string, localID uint32) (*domain.LockedAssets, error)
	DeleteLockedSubscription(ctx context.Context, owner string, localID uint32) error

	// Delegated access methods
	GrantAccess(ctx context.Context, owner string, localID uint32, delegate string) error
	RevokeAccess(ctx context.Context, owner string, localID uint32, delegate string) error
	HasAccess(ctx context.Context, owner string, localID uint32, delegate string) (bool, error)

	// Usage audit trail
	CreateUsageRecord(ctx context.Context, rec *UsageRecord) error
}
