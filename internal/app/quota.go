/**
 * @description
 * Quota accounting for capacity subscriptions. A subscription continuously
 * accrues free weight at its mode's rate; spending debits against whatever
 * has accrued. The accrual math is pure and lives in accrueInPlace so it can
 * be unit tested without a database.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/ledgerhythm/capacity-service/internal/domain"
	"github.com/ledgerhythm/capacity-service/internal/store"
	"github.com/ledgerhythm/capacity-service/pkg/rabbitmq"
)

// utpsDenominator converts uTPS (micro transactions per second) into whole
// operations: rate * 1e-6 ops/sec, with weight per op, over elapsed seconds.
const utpsDenominator = 1_000_000_000

// accrueInPlace advances a subscription's free weight to `now`. It mutates
// the subscription in memory only; callers decide whether to persist.
//
// accrued = referenceWeight * rate(uTPS) * elapsed / 1e9, floored.
// All intermediate products saturate rather than wrap.
func accrueInPlace(sub *domain.Subscription, now int64, referenceWeight uint64, dailyRateUTPS uint32) error {
	if sub.ExpiredAt(now) {
		return domain.ErrSubscriptionExpired
	}
	if now < sub.LastUpdate {
		return domain.ErrClockRegression
	}

	elapsed := uint64(now - sub.LastUpdate)
	rate := uint64(sub.Mode.RateUTPS(dailyRateUTPS))
	accrued := domain.SatMul64(domain.SatMul64(referenceWeight, rate), elapsed) / utpsDenominator

	sub.FreeWeight = domain.SatAdd64(sub.FreeWeight, accrued)
	sub.LastUpdate = now
	return nil
}

// debitInPlace spends `cost` from accrued weight, failing when the balance
// cannot cover it.
func debitInPlace(sub *domain.Subscription, cost uint64) error {
	if sub.FreeWeight < cost {
		return domain.ErrQuotaExhausted
	}
	sub.FreeWeight -= cost
	return nil
}

// QuotaService applies accrual and debits against stored subscriptions.
type QuotaService struct {
	repo            store.Repository
	eventProducer   rabbitmq.Publisher
	now             Clock
	referenceWeight uint64
	dailyRateUTPS   uint32
}

// NewQuotaService creates a new quota service instance.
func NewQuotaService(repo store.Repository, producer rabbitmq.Publisher, now Clock, referenceWeight uint64, dailyRateUTPS uint32) *QuotaService {
	return &QuotaService{
		repo:            repo,
		eventProducer:   producer,
		now:             now,
		referenceWeight: referenceWeight,
		dailyRateUTPS:   dailyRateUTPS,
	}
}

// Status returns the subscription with accrual applied up to now, without
// persisting anything. Used for read-only quota checks and the status API.
func (s *QuotaService) Status(ctx context.Context, owner string, localID uint32) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, owner, localID)
	if err != nil {
		return nil, err
	}
	if err := accrueInPlace(sub, s.now(), s.referenceWeight, s.dailyRateUTPS); err != nil {
		return nil, err
	}
	return sub, nil
}

// Accrue advances a subscription to now and persists the result.
func (s *QuotaService) Accrue(ctx context.Context, owner string, localID uint32) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, owner, localID)
	if err != nil {
		return nil, err
	}
	if err := accrueInPlace(sub, s.now(), s.referenceWeight, s.dailyRateUTPS); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist accrual for %s/%d: %w", owner, localID, err)
	}
	return sub, nil
}

// Debit accrues up to now and then spends `cost` from the subscription,
// recording the spend in the usage audit trail. When the accrued balance
// cannot cover the cost the balance is drained to zero and the shortfall is
// reported through a discrepancy event instead of an error: the work the
// cost pays for has already run and cannot be taken back.
func (s *QuotaService) Debit(ctx context.Context, owner string, localID uint32, cost uint64) (applied uint64, err error) {
	sub, err := s.repo.GetSubscription(ctx, owner, localID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	if accErr := accrueInPlace(sub, now, s.referenceWeight, s.dailyRateUTPS); accErr != nil {
		// Even an expired or clock-skewed subscription must still pay for
		// completed work out of whatever balance it has.
		log.Printf("WARN: Debit accrual skipped for %s/%d: %v", owner, localID, accErr)
	}

	applied = cost
	if sub.FreeWeight < cost {
		applied = sub.FreeWeight
	}
	sub.FreeWeight -= applied

	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return 0, fmt.Errorf("failed to persist debit for %s/%d: %w", owner, localID, err)
	}

	rec := &store.UsageRecord{
		ID:        uuid.New().String(),
		Owner:     owner,
		LocalID:   localID,
		Cost:      applied,
		Remaining: sub.FreeWeight,
		CreatedAt: now,
	}
	if err := s.repo.CreateUsageRecord(ctx, rec); err != nil {
		log.Printf("WARN: Failed to create usage record for %s/%d: %v", owner, localID, err)
	}

	if applied < cost {
		log.Printf("WARN: Usage discrepancy for %s/%d: requested %d, applied %d", owner, localID, cost, applied)
		event := domain.UsageDiscrepancyEvent{
			Owner:     owner,
			LocalID:   localID,
			Requested: cost,
			Applied:   applied,
			Timestamp: now,
		}
		if pubErr := s.eventProducer.Publish(ctx, rabbitmq.CapacityEventsExchange, rabbitmq.RoutingKeyUsageDiscrepancy, event); pubErr != nil {
			log.Printf("WARN: Failed to publish usage discrepancy event for %s/%d: %v", owner, localID, pubErr)
		}
	}

	event := domain.UsageRecordedEvent{
		Owner:     owner,
		LocalID:   localID,
		Cost:      applied,
		Remaining: sub.FreeWeight,
		Timestamp: now,
	}
	if pubErr := s.eventProducer.Publish(ctx, rabbitmq.CapacityEventsExchange, rabbitmq.RoutingKeyUsageRecorded, event); pubErr != nil {
		log.Printf("WARN: Failed to publish usage recorded event for %s/%d: %v", owner, localID, pubErr)
	}

	return applied, nil
}
