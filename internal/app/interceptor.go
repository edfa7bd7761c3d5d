/**
 * @description
 * The request interceptor: a three-phase gate that lets subscription holders
 * run operations fee-free against their accrued quota.
 *
 *   Validate    - cheap, read-only admission check. Run before any work is
 *                 queued; it must not mutate the ledger.
 *   PreDispatch - runs at execution start. Re-validates and commits the
 *                 accrual so the quota snapshot the operation runs under is
 *                 persisted.
 *   PostDispatch - runs after the operation, successful or not, and settles
 *                 the actual cost against the quota.
 *
 * Call stitches the three phases around an Operation for callers that want
 * the whole pipeline in one step.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/ledgerhythm/capacity-service/internal/domain"
)

// Operation is a unit of work executed under a subscription's quota. It
// returns the actual cost in weight units, which may differ from the
// estimate admitted in Validate.
type Operation func(ctx context.Context) (actualCost uint64, err error)

// ExemptionContext carries pre-dispatch state into post-dispatch settlement.
type ExemptionContext struct {
	Owner         string
	LocalID       uint32
	EstimatedCost uint64
}

// Interceptor implements the admission pipeline on top of the quota service
// and the delegation filter.
type Interceptor struct {
	quota  *QuotaService
	access DelegationFilter
}

// NewInterceptor creates a new interceptor instance.
func NewInterceptor(quota *QuotaService, access DelegationFilter) *Interceptor {
	return &Interceptor{quota: quota, access: access}
}

// Validate admits or rejects a prospective operation without mutating
// anything. The caller must be the owner or hold a grant on exactly this
// subscription, the subscription must be live, and the accrued quota as of
// now must cover the estimated cost.
func (i *Interceptor) Validate(ctx context.Context, caller, owner string, localID uint32, estimatedCost uint64) error {
	allowed, err := i.access.MaySpend(ctx, caller, owner, localID)
	if err != nil {
		return fmt.Errorf("failed to evaluate delegation: %w", err)
	}
	if !allowed {
		return domain.ErrBadOrigin
	}

	sub, err := i.quota.Status(ctx, owner, localID)
	if err != nil {
		return err
	}

	trial := *sub
	return debitInPlace(&trial, estimatedCost)
}

// PreDispatch re-runs validation at execution time and commits the accrual.
// The returned ExemptionContext must be handed to PostDispatch.
func (i *Interceptor) PreDispatch(ctx context.Context, caller, owner string, localID uint32, estimatedCost uint64) (*ExemptionContext, error) {
	if err := i.Validate(ctx, caller, owner, localID, estimatedCost); err != nil {
		return nil, err
	}

	if _, err := i.quota.Accrue(ctx, owner, localID); err != nil {
		return nil, err
	}

	return &ExemptionContext{Owner: owner, LocalID: localID, EstimatedCost: estimatedCost}, nil
}

// PostDispatch settles the operation's actual cost. It never fails the
// already-executed operation: a shortfall drains the quota to zero and is
// reported through a discrepancy event by the quota service.
func (i *Interceptor) PostDispatch(ctx context.Context, exemption *ExemptionContext, actualCost uint64) error {
	if exemption == nil {
		return nil
	}
	_, err := i.quota.Debit(ctx, exemption.Owner, exemption.LocalID, actualCost)
	return err
}

// Call runs an operation through all three phases. The operation's own error
// is returned to the caller, but settlement happens regardless of it: work
// that ran gets paid for, estimated cost standing in when the operation
// failed before reporting a cost.
func (i *Interceptor) Call(ctx context.Context, caller, owner string, localID uint32, estimatedCost uint64, op Operation) (uint64, error) {
	exemption, err := i.PreDispatch(ctx, caller, owner, localID, estimatedCost)
	if err != nil {
		return 0, err
	}

	actualCost, opErr := op(ctx)
	if opErr != nil && actualCost == 0 {
		actualCost = estimatedCost
	}

	if err := i.PostDispatch(ctx, exemption, actualCost); err != nil {
		log.Printf("CRITICAL: Failed to settle usage of %d for %s/%d: %v", actualCost, owner, localID, err)
	}

	return actualCost, opErr
}
