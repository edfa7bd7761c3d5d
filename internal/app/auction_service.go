/**
 * @description
 * This file contains the core business logic for the auction lifecycle. The
 * AuctionService orchestrates the three auction operations - start, bid and
 * claim - coordinating between the database repository, the asset ledger
 * client, and the message broker.
 *
 * Key rules:
 * - Bids escrow the bidder's assets by reserving them on the ledger; an
 *   outbid bidder's reserve is released immediately.
 * - The bidding window only starts at the first bid and closes a configured
 *   duration later.
 * - Claiming burns the winning reserve and mints the subscription. The claim
 *   can name a different beneficiary than the winner.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/ledgerhythm/capacity-service/internal/domain"
	"github.com/ledgerhythm/capacity-service/internal/store"
	"github.com/ledgerhythm/capacity-service/pkg/rabbitmq"
)

// AuctionService provides the business logic for subscription auctions.
type AuctionService struct {
	repo            store.Repository
	ledger          CurrencyLedger
	eventProducer   rabbitmq.Publisher
	now             Clock
	auctionDuration int64
	minimalBid      uint64
}

// NewAuctionService creates a new auction service instance.
func NewAuctionService(repo store.Repository, ledger CurrencyLedger, producer rabbitmq.Publisher, now Clock, auctionDuration int64, minimalBid uint64) *AuctionService {
	return &AuctionService{
		repo:            repo,
		ledger:          ledger,
		eventProducer:   producer,
		now:             now,
		auctionDuration: auctionDuration,
		minimalBid:      minimalBid,
	}
}

// StartAuction opens a new auction selling a subscription with the given
// mode. Privilege is enforced at the transport layer; this method only
// validates the mode.
func (s *AuctionService) StartAuction(ctx context.Context, mode domain.SubscriptionMode) (*domain.Auction, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	id, err := s.repo.NextAuctionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate auction id: %w", err)
	}

	auction := domain.NewAuction(id, mode)
	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	log.Printf("StartAuction: Opened auction %d (mode %s)", auction.ID, mode.Kind)

	event := domain.AuctionStartedEvent{AuctionID: auction.ID, Mode: mode, Timestamp: s.now()}
	if pubErr := s.eventProducer.Publish(ctx, rabbitmq.CapacityEventsExchange, rabbitmq.RoutingKeyAuctionStarted, event); pubErr != nil {
		log.Printf("WARN: Failed to publish auction started event for auction %d: %v", auction.ID, pubErr)
	}

	return auction, nil
}

// Bid places a bid on an open auction. The first accepted bid starts the
// bidding window; after that, only bids strictly above the current best are
// accepted. The bid amount is reserved on the bidder's ledger account and a
// displaced bidder gets their reserve released.
func (s *AuctionService) Bid(ctx context.Context, auctionID uint64, bidder string, amount uint64) (*domain.Auction, error) {
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.Claimed() {
		return nil, domain.ErrAlreadyClaimed
	}

	now := s.now()
	if auction.BiddingClosed(now, s.auctionDuration) {
		return nil, domain.ErrBiddingClosed
	}

	if auction.FirstBidTime == nil {
		// Opening bid: must meet the configured floor.
		if amount < s.minimalBid {
			return nil, domain.ErrBidTooLow
		}
	} else if amount <= auction.BestPrice {
		// Ties lose: the incumbent keeps the lead.
		return nil, domain.ErrBidTooLow
	}

	reserveReason := fmt.Sprintf("auction %d bid", auctionID)
	if err := s.ledger.Reserve(ctx, bidder, amount, reserveReason); err != nil {
		log.Printf("Bid: Failed to reserve %d for bidder %s on auction %d: %v", amount, bidder, auctionID, err)
		return nil, fmt.Errorf("failed to reserve bid amount: %w", err)
	}

	previousWinner := auction.Winner
	previousPrice := auction.BestPrice

	auction.Winner = &bidder
	auction.BestPrice = amount
	if auction.FirstBidTime == nil {
		auction.FirstBidTime = &now
	}

	if err := s.repo.UpdateAuction(ctx, auction); err != nil {
		// Undo the escrow so the failed bid does not strand the bidder's assets.
		if relErr := s.ledger.Unreserve(ctx, bidder, amount, reserveReason); relErr != nil {
			log.Printf("CRITICAL: Failed to release reserve for bidder %s after auction %d update failure: %v", bidder, auctionID, relErr)
		}
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}

	if previousWinner != nil {
		if relErr := s.ledger.Unreserve(ctx, *previousWinner, previousPrice, fmt.Sprintf("auction %d outbid", auctionID)); relErr != nil {
			log.Printf("CRITICAL: Failed to release outbid reserve of %d for bidder %s on auction %d: %v", previousPrice, *previousWinner, auctionID, relErr)
		}
	}

	log.Printf("Bid: Auction %d now led by %s at %d", auctionID, bidder, amount)

	event := domain.NewBidEvent{AuctionID: auctionID, Bidder: bidder, Amount: amount, Timestamp: now}
	if pubErr := s.eventProducer.Publish(ctx, rabbitmq.CapacityEventsExchange, rabbitmq.RoutingKeyNewBid, event); pubErr != nil {
		log.Printf("WARN: Failed to publish bid event for auction %d: %v", auctionID, pubErr)
	}

	return auction, nil
}

// Claim finalizes a won auction: the winning bid is burned from the winner's
// reserve and a fresh subscription is minted for the beneficiary. Only the
// winner may claim, and only after the bidding window has closed. When
// beneficiary is empty the subscription goes to the caller.
func (s *AuctionService) Claim(ctx context.Context, auctionID uint64, caller, beneficiary string) (*domain.Subscription, error) {
	if beneficiary == "" {
		beneficiary = caller
	}

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.Claimed() {
		return nil, domain.ErrAlreadyClaimed
	}
	if auction.Winner == nil || *auction.Winner != caller {
		return nil, domain.ErrClaimNotAllowed
	}

	now := s.now()
	if !auction.BiddingClosed(now, s.auctionDuration) {
		return nil, domain.ErrClaimNotAllowed
	}

	localID, err := s.repo.NextSubscriptionID(ctx, beneficiary)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate subscription id: %w", err)
	}

	// Burn the escrowed winning bid. This is the point of no return: once
	// the assets are gone the subscription must be minted.
	burnReason := fmt.Sprintf("auction %d claim", auctionID)
	if err := s.ledger.BurnReserved(ctx, caller, auction.BestPrice, burnReason); err != nil {
		log.Printf("Claim: Failed to burn winning bid of %d for %s on auction %d: %v", auction.BestPrice, caller, auctionID, err)
		return nil, fmt.Errorf("failed to burn winning bid: %w", err)
	}

	sub := domain.NewSubscription(beneficiary, localID, auction.Mode, now)
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		log.Printf("CRITICAL: Failed to create subscription for %s after burning bid on auction %d: %v", beneficiary, auctionID, err)
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	auction.SubscriptionID = &localID
	if err := s.repo.UpdateAuction(ctx, auction); err != nil {
		log.Printf("CRITICAL: Failed to mark auction %d claimed after minting subscription %s/%d: %v", auctionID, beneficiary, localID, err)
		return nil, fmt.Errorf("failed to finalize auction: %w", err)
	}

	log.Printf("Claim: Auction %d claimed by %s for beneficiary %s (subscription %d)", auctionID, caller, beneficiary, localID)

	event := domain.SubscriptionActivatedEvent{Owner: beneficiary, LocalID: localID, Mode: auction.Mode, Timestamp: now}
	if pubErr := s.eventProducer.Publish(ctx, rabbitmq.CapacityEventsExchange, rabbitmq.RoutingKeySubscriptionActivated, event); pubErr != nil {
		log.Printf("WARN: Failed to publish subscription activated event for %s/%d: %v", beneficiary, localID, pubErr)
	}

	return sub, nil
}
