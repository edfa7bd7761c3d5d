/**
 * @description
 * Delegated access management. A subscription owner can grant other accounts
 * the right to spend a specific subscription's quota; the interceptor
 * consults this service on every non-owner call.
 */

package app

import (
	"context"

	"github.com/ledgerhythm/capacity-service/internal/domain"
	"github.com/ledgerhythm/capacity-service/internal/store"
)

// DelegationFilter decides whether a caller may spend a subscription.
type DelegationFilter interface {
	MaySpend(ctx context.Context, caller, owner string, localID uint32) (bool, error)
}

// AccessService manages and evaluates delegation grants.
type AccessService struct {
	repo store.Repository
}

// NewAccessService creates a new access service instance.
func NewAccessService(repo store.Repository) *AccessService {
	return &AccessService{repo: repo}
}

// Grant lets `delegate` spend the named subscription. Only the owner may
// grant, which the transport layer enforces by matching the authenticated
// principal to `owner`. Granting to an existing delegate is a no-op.
func (s *AccessService) Grant(ctx context.Context, owner string, localID uint32, delegate string) error {
	if delegate == "" || delegate == owner {
		return domain.ErrBadOrigin
	}
	// The subscription must exist; grants to phantom subscriptions would
	// silently succeed and never match anything.
	if _, err := s.repo.GetSubscription(ctx, owner, localID); err != nil {
		return err
	}
	return s.repo.GrantAccess(ctx, owner, localID, delegate)
}

// Revoke removes a delegate's grant. Revoking an absent grant is a no-op.
func (s *AccessService) Revoke(ctx context.Context, owner string, localID uint32, delegate string) error {
	return s.repo.RevokeAccess(ctx, owner, localID, delegate)
}

// MaySpend implements DelegationFilter. The owner always may; anyone else
// needs a grant on exactly this (owner, local id) pair.
func (s *AccessService) MaySpend(ctx context.Context, caller, owner string, localID uint32) (bool, error) {
	if caller == owner {
		return true, nil
	}
	return s.repo.HasAccess(ctx, owner, localID, caller)
}
