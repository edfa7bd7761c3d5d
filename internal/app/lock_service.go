/**
 * @description
 * This file contains the business logic for lock-backed lifetime
 * subscriptions. Instead of winning an auction, an account can move a
 * deposit into custody and receive a lifetime subscription whose accrual
 * rate is proportional to the deposit. Stopping the subscription returns
 * the full deposit.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ledgerhythm/capacity-service/internal/domain"
	"github.com/ledgerhythm/capacity-service/internal/store"
	"github.com/ledgerhythm/capacity-service/pkg/rabbitmq"
)

// LockService provides the business logic for asset-backed subscriptions.
type LockService struct {
	repo             store.Repository
	ledger           CurrencyLedger
	eventProducer    rabbitmq.Publisher
	now              Clock
	assetToTPS       domain.Ratio
	custodyAccountID string
}

// NewLockService creates a new lock service instance.
func NewLockService(repo store.Repository, ledger CurrencyLedger, producer rabbitmq.Publisher, now Clock, assetToTPS domain.Ratio, custodyAccountID string) *LockService {
	return &LockService{
		repo:             repo,
		ledger:           ledger,
		eventProducer:    producer,
		now:              now,
		assetToTPS:       assetToTPS,
		custodyAccountID: custodyAccountID,
	}
}

// StartLifetime locks `amount` of the owner's assets in custody and mints a
// lifetime subscription accruing at the converted rate. The conversion
// floors, so stopping and restarting with the same deposit always yields the
// same rate.
func (s *LockService) StartLifetime(ctx context.Context, owner string, amount uint64) (*domain.Subscription, error) {
	tps, err := s.assetToTPS.MulFloor(amount)
	if err != nil {
		return nil, err
	}

	localID, err := s.repo.NextSubscriptionID(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate subscription id: %w", err)
	}

	lockReason := fmt.Sprintf("lifetime subscription %s/%d", owner, localID)
	if err := s.ledger.Transfer(ctx, owner, s.custodyAccountID, amount, lockReason); err != nil {
		log.Printf("StartLifetime: Failed to move deposit of %d into custody for %s: %v", amount, owner, err)
		return nil, fmt.Errorf("failed to lock deposit: %w", err)
	}

	now := s.now()
	mode := domain.SubscriptionMode{Kind: domain.ModeLifetime, TPS: tps}
	sub := domain.NewSubscription(owner, localID, mode, now)

	if err := s.repo.CreateLockedSubscription(ctx, sub, amount); err != nil {
		// Return the deposit, the subscription never came into existence.
		if refundErr := s.ledger.Transfer(ctx, s.custodyAccountID, owner, amount, lockReason+" (refund)"); refundErr != nil {
			log.Printf("CRITICAL: Failed to refund deposit of %d to %s after subscription creation failure: %v", amount, owner, refundErr)
		}
		return nil, fmt.Errorf("failed to create locked subscription: %w", err)
	}

	log.Printf("StartLifetime: Locked %d for %s/%d at %d uTPS", amount, owner, localID, tps)

	event := domain.SubscriptionActivatedEvent{Owner: owner, LocalID: localID, Mode: mode, Timestamp: now}
	if pubErr := s.eventProducer.Publish(ctx, rabbitmq.CapacityEventsExchange, rabbitmq.RoutingKeySubscriptionActivated, event); pubErr != nil {
		log.Printf("WARN: Failed to publish subscription activated event for %s/%d: %v", owner, localID, pubErr)
	}

	return sub, nil
}

// StopLifetime ends a lock-backed subscription and returns the full deposit
// to its owner. Subscriptions won at auction have no deposit and cannot be
// stopped this way; any accrued but unspent weight is forfeited.
func (s *LockService) StopLifetime(ctx context.Context, owner string, localID uint32) error {
	if _, err := s.repo.GetSubscription(ctx, owner, localID); err != nil {
		return err
	}

	locked, err := s.repo.GetLockedAssets(ctx, owner, localID)
	if err != nil {
		if errors.Is(err, store.ErrLockedAssetsNotFound) {
			return domain.ErrNotLockBacked
		}
		return err
	}

	if err := s.repo.DeleteLockedSubscription(ctx, owner, localID); err != nil {
		return fmt.Errorf("failed to delete locked subscription: %w", err)
	}

	unlockReason := fmt.Sprintf("lifetime subscription %s/%d stop", owner, localID)
	if err := s.ledger.Transfer(ctx, s.custodyAccountID, owner, locked.Amount, unlockReason); err != nil {
		log.Printf("CRITICAL: Failed to return deposit of %d to %s after stopping subscription %s/%d: %v", locked.Amount, owner, owner, localID, err)
		return fmt.Errorf("failed to return deposit: %w", err)
	}

	log.Printf("StopLifetime: Returned deposit of %d to %s, subscription %d removed", locked.Amount, owner, localID)

	event := domain.SubscriptionStoppedEvent{Owner: owner, LocalID: localID, Unlocked: locked.Amount, Timestamp: s.now()}
	if pubErr := s.eventProducer.Publish(ctx, rabbitmq.CapacityEventsExchange, rabbitmq.RoutingKeySubscriptionStopped, event); pubErr != nil {
		log.Printf("WARN: Failed to publish subscription stopped event for %s/%d: %v", owner, localID, pubErr)
	}

	return nil
}
