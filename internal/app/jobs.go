/**
 * @description
 * Scheduled job implementations. The only job today sweeps auctions whose
 * bidding window has closed and announces the winner on the message broker.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/ledgerhythm/capacity-service/internal/domain"
	"github.com/ledgerhythm/capacity-service/internal/store"
	"github.com/ledgerhythm/capacity-service/pkg/rabbitmq"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo            store.Repository
	eventProducer   rabbitmq.Publisher
	now             Clock
	auctionDuration int64
	logger          *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, producer rabbitmq.Publisher, now Clock, auctionDuration int64, logger *slog.Logger) *Jobs {
	return &Jobs{
		repo:            repo,
		eventProducer:   producer,
		now:             now,
		auctionDuration: auctionDuration,
		logger:          logger,
	}
}

// SweepClosedAuctions publishes an auction.finished event for every auction
// whose bidding window has elapsed with a winner and that has not been
// announced yet. The winner still has to claim; the sweep only notifies.
func (j *Jobs) SweepClosedAuctions() {
	j.logger.Info("starting closed auction sweep")
	ctx := context.Background()

	now := j.now()
	auctions, err := j.repo.ListUnnotifiedClosedAuctions(ctx, now, j.auctionDuration)
	if err != nil {
		j.logger.Error("failed to list closed auctions", "error", err)
		return
	}

	if len(auctions) == 0 {
		j.logger.Info("no closed auctions to announce")
		return
	}

	j.logger.Info("found closed auctions to announce", "count", len(auctions))

	for _, auction := range auctions {
		winner := ""
		if auction.Winner != nil {
			winner = *auction.Winner
		}

		event := domain.AuctionFinishedEvent{
			AuctionID: auction.ID,
			Winner:    winner,
			BestPrice: auction.BestPrice,
			Timestamp: now,
		}
		if err := j.eventProducer.Publish(ctx, rabbitmq.CapacityEventsExchange, rabbitmq.RoutingKeyAuctionFinished, event); err != nil {
			j.logger.Error("failed to publish auction finished event", "auction_id", auction.ID, "error", err)
			continue
		}

		if err := j.repo.MarkAuctionNotified(ctx, auction.ID, now); err != nil {
			j.logger.Error("failed to mark auction notified", "auction_id", auction.ID, "error", err)
		} else {
			j.logger.Info("announced finished auction", "auction_id", auction.ID, "winner", winner)
		}
	}

	j.logger.Info("closed auction sweep finished")
}
