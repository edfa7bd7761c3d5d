/**
 * @description
 * PostgreSQL implementation of the Repository interface on top of a pgx
 * connection pool. Schema is managed with embedded goose migrations that run
 * at startup.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 * - github.com/pressly/goose/v3: SQL migrations.
 * - internal/domain: Domain models persisted here.
 */

package store

import (
	"context"
	"embed"
	"errors"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ledgerhythm/capacity-service/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository implements Repository against PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates the repository and runs pending migrations.
func NewPostgresRepository(ctx context.Context, db *pgxpool.Pool) (*PostgresRepository, error) {
	r := &PostgresRepository{db: db}
	if err := r.runMigrations(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	sqlDB := stdlib.OpenDB(*r.db.Config().ConnConfig)
	defer sqlDB.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, sqlDB, "migrations")
}

// clampInt64 caps a saturated uint64 at the widest value BIGINT can hold.
func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// NextAuctionID allocates the next global auction id, starting at 0.
func (r *PostgresRepository) NextAuctionID(ctx context.Context) (uint64, error) {
	var next int64
	query := `
        INSERT INTO counters (scope, value) VALUES ('auction', 1)
        ON CONFLICT (scope) DO UPDATE SET value = counters.value + 1
        RETURNING value - 1
    `
	if err := r.db.QueryRow(ctx, query).Scan(&next); err != nil {
		return 0, err
	}
	return uint64(next), nil
}

// NextSubscriptionID allocates the next per-owner subscription id, starting at 0.
func (r *PostgresRepository) NextSubscriptionID(ctx context.Context, owner string) (uint32, error) {
	var next int64
	query := `
        INSERT INTO counters (scope, value) VALUES ('subscription:' || $1, 1)
        ON CONFLICT (scope) DO UPDATE SET value = counters.value + 1
        RETURNING value - 1
    `
	if err := r.db.QueryRow(ctx, query, owner).Scan(&next); err != nil {
		return 0, err
	}
	return uint32(next), nil
}

// CreateAuction inserts a fresh auction row.
func (r *PostgresRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (id, mode_kind, mode_tps, mode_days, best_price)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.db.Exec(ctx, query,
		int64(auction.ID),
		string(auction.Mode.Kind),
		int64(auction.Mode.TPS),
		int64(auction.Mode.Days),
		clampInt64(auction.BestPrice),
	)
	return err
}

// GetAuction retrieves one auction by id.
func (r *PostgresRepository) GetAuction(ctx context.Context, auctionID uint64) (*domain.Auction, error) {
	query := `
        SELECT id, mode_kind, mode_tps, mode_days, winner, best_price, first_bid_time, subscription_id
        FROM auctions
        WHERE id = $1
    `
	row := r.db.QueryRow(ctx, query, int64(auctionID))
	return scanAuction(row)
}

func scanAuction(row pgx.Row) (*domain.Auction, error) {
	var (
		a              domain.Auction
		id             int64
		kind           string
		tps, days      int64
		bestPrice      int64
		subscriptionID *int64
	)
	err := row.Scan(&id, &kind, &tps, &days, &a.Winner, &bestPrice, &a.FirstBidTime, &subscriptionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuctionNotFound
		}
		return nil, err
	}
	a.ID = uint64(id)
	a.Mode = domain.SubscriptionMode{Kind: domain.ModeKind(kind), TPS: uint32(tps), Days: uint32(days)}
	a.BestPrice = uint64(bestPrice)
	if subscriptionID != nil {
		sid := uint32(*subscriptionID)
		a.SubscriptionID = &sid
	}
	return &a, nil
}

// UpdateAuction persists the mutable bid/claim state of an auction.
func (r *PostgresRepository) UpdateAuction(ctx context.Context, auction *domain.Auction) error {
	var subscriptionID *int64
	if auction.SubscriptionID != nil {
		sid := int64(*auction.SubscriptionID)
		subscriptionID = &sid
	}
	query := `
        UPDATE auctions
        SET winner = $2, best_price = $3, first_bid_time = $4, subscription_id = $5, updated_at = NOW()
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query,
		int64(auction.ID),
		auction.Winner,
		clampInt64(auction.BestPrice),
		auction.FirstBidTime,
		subscriptionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAuctionNotFound
	}
	return nil
}

// ListUnnotifiedClosedAuctions finds auctions whose bidding window has
// elapsed, that have a winner, and that have not been announced as finished.
func (r *PostgresRepository) ListUnnotifiedClosedAuctions(ctx context.Context, closedBefore int64, duration int64) ([]domain.Auction, error) {
	query := `
        SELECT id, mode_kind, mode_tps, mode_days, winner, best_price, first_bid_time, subscription_id
        FROM auctions
        WHERE winner IS NOT NULL
          AND finish_notified_at IS NULL
          AND first_bid_time IS NOT NULL
          AND first_bid_time + $2 <= $1
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query, closedBefore, duration)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

// MarkAuctionNotified records that the finish notification was published.
func (r *PostgresRepository) MarkAuctionNotified(ctx context.Context, auctionID uint64, at int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE auctions SET finish_notified_at = $2, updated_at = NOW() WHERE id = $1`,
		int64(auctionID), at)
	return err
}

// GetSubscription retrieves a subscription ledger entry.
func (r *PostgresRepository) GetSubscription(ctx context.Context, owner string, localID uint32) (*domain.Subscription, error) {
	var (
		sub        domain.Subscription
		freeWeight int64
		kind       string
		tps, days  int64
		lid        int64
	)
	query := `
        SELECT owner, local_id, free_weight, mode_kind, mode_tps, mode_days, issue_time, last_update, expiration_time
        FROM subscriptions
        WHERE owner = $1 AND local_id = $2
    `
	err := r.db.QueryRow(ctx, query, owner, int64(localID)).Scan(
		&sub.Owner,
		&lid,
		&freeWeight,
		&kind,
		&tps,
		&days,
		&sub.IssueTime,
		&sub.LastUpdate,
		&sub.ExpirationTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	sub.LocalID = uint32(lid)
	sub.FreeWeight = uint64(freeWeight)
	sub.Mode = domain.SubscriptionMode{Kind: domain.ModeKind(kind), TPS: uint32(tps), Days: uint32(days)}
	return &sub, nil
}

// CreateSubscription inserts a new subscription ledger entry.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
        INSERT INTO subscriptions (owner, local_id, free_weight, mode_kind, mode_tps, mode_days, issue_time, last_update, expiration_time)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.db.Exec(ctx, query,
		sub.Owner,
		int64(sub.LocalID),
		clampInt64(sub.FreeWeight),
		string(sub.Mode.Kind),
		int64(sub.Mode.TPS),
		int64(sub.Mode.Days),
		sub.IssueTime,
		sub.LastUpdate,
		sub.ExpirationTime,
	)
	return err
}

// UpdateSubscription persists accrual and debit results.
func (r *PostgresRepository) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
        UPDATE subscriptions
        SET free_weight = $3, last_update = $4, updated_at = NOW()
        WHERE owner = $1 AND local_id = $2
    `
	tag, err := r.db.Exec(ctx, query,
		sub.Owner,
		int64(sub.LocalID),
		clampInt64(sub.FreeWeight),
		sub.LastUpdate,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// CreateLockedSubscription inserts the subscription and its backing deposit
// in one transaction so the two rows can never diverge.
func (r *PostgresRepository) CreateLockedSubscription(ctx context.Context, sub *domain.Subscription, amount uint64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO subscriptions (owner, local_id, free_weight, mode_kind, mode_tps, mode_days, issue_time, last_update, expiration_time)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `,
		sub.Owner,
		int64(sub.LocalID),
		clampInt64(sub.FreeWeight),
		string(sub.Mode.Kind),
		int64(sub.Mode.TPS),
		int64(sub.Mode.Days),
		sub.IssueTime,
		sub.LastUpdate,
		sub.ExpirationTime,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO locked_assets (owner, local_id, amount) VALUES ($1, $2, $3)`,
		sub.Owner, int64(sub.LocalID), clampInt64(amount))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetLockedAssets retrieves the deposit behind a lock-path subscription.
func (r *PostgresRepository) GetLockedAssets(ctx context.Context, owner string, localID uint32) (*domain.LockedAssets, error) {
	var amount int64
	err := r.db.QueryRow(ctx,
		`SELECT amount FROM locked_assets WHERE owner = $1 AND local_id = $2`,
		owner, int64(localID)).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLockedAssetsNotFound
		}
		return nil, err
	}
	return &domain.LockedAssets{Owner: owner, LocalID: localID, Amount: uint64(amount)}, nil
}

// DeleteLockedSubscription removes a subscription together with its deposit
// row in one transaction.
func (r *PostgresRepository) DeleteLockedSubscription(ctx context.Context, owner string, localID uint32) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM locked_assets WHERE owner = $1 AND local_id = $2`,
		owner, int64(localID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLockedAssetsNotFound
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM subscription_access WHERE owner = $1 AND local_id = $2`,
		owner, int64(localID))
	if err != nil {
		return err
	}

	tag, err = tx.Exec(ctx,
		`DELETE FROM subscriptions WHERE owner = $1 AND local_id = $2`,
		owner, int64(localID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}

	return tx.Commit(ctx)
}

// GrantAccess lets a delegate spend one named subscription. Granting twice
// is a no-op.
func (r *PostgresRepository) GrantAccess(ctx context.Context, owner string, localID uint32, delegate string) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO subscription_access (owner, local_id, delegate)
        VALUES ($1, $2, $3)
        ON CONFLICT (owner, local_id, delegate) DO NOTHING
    `, owner, int64(localID), delegate)
	return err
}

// RevokeAccess removes a delegate's grant. Revoking a missing grant is a no-op.
func (r *PostgresRepository) RevokeAccess(ctx context.Context, owner string, localID uint32, delegate string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM subscription_access WHERE owner = $1 AND local_id = $2 AND delegate = $3`,
		owner, int64(localID), delegate)
	return err
}

// HasAccess reports whether a delegate may spend the named subscription.
func (r *PostgresRepository) HasAccess(ctx context.Context, owner string, localID uint32, delegate string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM subscription_access
            WHERE owner = $1 AND local_id = $2 AND delegate = $3
        )
    `, owner, int64(localID), delegate).Scan(&exists)
	return exists, err
}

// CreateUsageRecord appends one debit to the audit trail.
func (r *PostgresRepository) CreateUsageRecord(ctx context.Context, rec *UsageRecord) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO usage_records (id, owner, local_id, cost, remaining, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `,
		rec.ID,
		rec.Owner,
		int64(rec.LocalID),
		clampInt64(rec.Cost),
		clampInt64(rec.Remaining),
		rec.CreatedAt,
	)
	return err
}
