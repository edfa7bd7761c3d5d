package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ledgerhythm/capacity-service/internal/domain"
	"github.com/ledgerhythm/capacity-service/internal/store"
)

// fakeRepository is a full in-memory Repository used across service tests.
type fakeRepository struct {
	mu sync.Mutex

	auctionCounter      uint64
	subscriptionCounter map[string]uint32

	auctions      map[uint64]*domain.Auction
	subscriptions map[string]*domain.Subscription
	locked        map[string]*domain.LockedAssets
	access        map[string]bool
	usage         []store.UsageRecord
	notified      map[uint64]int64

	failUpdateAuction      bool
	failCreateSubscription bool
	failCreateLocked       bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		subscriptionCounter: make(map[string]uint32),
		auctions:            make(map[uint64]*domain.Auction),
		subscriptions:       make(map[string]*domain.Subscription),
		locked:              make(map[string]*domain.LockedAssets),
		access:              make(map[string]bool),
		notified:            make(map[uint64]int64),
	}
}

func subKey(owner string, localID uint32) string {
	return fmt.Sprintf("%s/%d", owner, localID)
}

func accessKey(owner string, localID uint32, delegate string) string {
	return fmt.Sprintf("%s/%d/%s", owner, localID, delegate)
}

func (f *fakeRepository) NextAuctionID(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.auctionCounter
	f.auctionCounter++
	return id, nil
}

func (f *fakeRepository) NextSubscriptionID(ctx context.Context, owner string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.subscriptionCounter[owner]
	f.subscriptionCounter[owner] = id + 1
	return id, nil
}

func (f *fakeRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *auction
	f.auctions[auction.ID] = &copied
	return nil
}

func (f *fakeRepository) GetAuction(ctx context.Context, auctionID uint64) (*domain.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[auctionID]
	if !ok {
		return nil, store.ErrAuctionNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeRepository) UpdateAuction(ctx context.Context, auction *domain.Auction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdateAuction {
		return fmt.Errorf("simulated auction update failure")
	}
	if _, ok := f.auctions[auction.ID]; !ok {
		return store.ErrAuctionNotFound
	}
	copied := *auction
	f.auctions[auction.ID] = &copied
	return nil
}

func (f *fakeRepository) ListUnnotifiedClosedAuctions(ctx context.Context, closedBefore int64, duration int64) ([]domain.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Auction
	for _, a := range f.auctions {
		if a.Winner == nil || a.FirstBidTime == nil {
			continue
		}
		if _, done := f.notified[a.ID]; done {
			continue
		}
		if *a.FirstBidTime+duration <= closedBefore {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepository) MarkAuctionNotified(ctx context.Context, auctionID uint64, at int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified[auctionID] = at
	return nil
}

func (f *fakeRepository) GetSubscription(ctx context.Context, owner string, localID uint32) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subscriptions[subKey(owner, localID)]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeRepository) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateSubscription {
		return fmt.Errorf("simulated subscription create failure")
	}
	copied := *sub
	f.subscriptions[subKey(sub.Owner, sub.LocalID)] = &copied
	return nil
}

func (f *fakeRepository) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscriptions[subKey(sub.Owner, sub.LocalID)]; !ok {
		return store.ErrSubscriptionNotFound
	}
	copied := *sub
	f.subscriptions[subKey(sub.Owner, sub.LocalID)] = &copied
	return nil
}

func (f *fakeRepository) CreateLockedSubscription(ctx context.Context, sub *domain.Subscription, amount uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateLocked {
		return fmt.Errorf("simulated locked subscription create failure")
	}
	copied := *sub
	f.subscriptions[subKey(sub.Owner, sub.LocalID)] = &copied
	f.locked[subKey(sub.Owner, sub.LocalID)] = &domain.LockedAssets{Owner: sub.Owner, LocalID: sub.LocalID, Amount: amount}
	return nil
}

func (f *fakeRepository) GetLockedAssets(ctx context.Context, owner string, localID uint32) (*domain.LockedAssets, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locked[subKey(owner, localID)]
	if !ok {
		return nil, store.ErrLockedAssetsNotFound
	}
	copied := *l
	return &copied, nil
}

func (f *fakeRepository) DeleteLockedSubscription(ctx context.Context, owner string, localID uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := subKey(owner, localID)
	if _, ok := f.locked[key]; !ok {
		return store.ErrLockedAssetsNotFound
	}
	if _, ok := f.subscriptions[key]; !ok {
		return store.ErrSubscriptionNotFound
	}
	delete(f.locked, key)
	delete(f.subscriptions, key)
	return nil
}

func (f *fakeRepository) GrantAccess(ctx context.Context, owner string, localID uint32, delegate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access[accessKey(owner, localID, delegate)] = true
	return nil
}

func (f *fakeRepository) RevokeAccess(ctx context.Context, owner string, localID uint32, delegate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.access, accessKey(owner, localID, delegate))
	return nil
}

func (f *fakeRepository) HasAccess(ctx context.Context, owner string, localID uint32, delegate string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access[accessKey(owner, localID, delegate)], nil
}

func (f *fakeRepository) CreateUsageRecord(ctx context.Context, rec *store.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, *rec)
	return nil
}

// fakeLedger tracks free and reserved balances per account in memory.
type fakeLedger struct {
	mu       sync.Mutex
	free     map[string]uint64
	reserved map[string]uint64
	burned   uint64

	failReserve  bool
	failTransfer bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		free:     make(map[string]uint64),
		reserved: make(map[string]uint64),
	}
}

func (l *fakeLedger) Reserve(ctx context.Context, accountID string, amount uint64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failReserve {
		return fmt.Errorf("simulated reserve failure")
	}
	if l.free[accountID] < amount {
		return fmt.Errorf("insufficient free balance for %s", accountID)
	}
	l.free[accountID] -= amount
	l.reserved[accountID] += amount
	return nil
}

func (l *fakeLedger) Unreserve(ctx context.Context, accountID string, amount uint64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserved[accountID] < amount {
		return fmt.Errorf("insufficient reserved balance for %s", accountID)
	}
	l.reserved[accountID] -= amount
	l.free[accountID] += amount
	return nil
}

func (l *fakeLedger) BurnReserved(ctx context.Context, accountID string, amount uint64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserved[accountID] < amount {
		return fmt.Errorf("insufficient reserved balance for %s", accountID)
	}
	l.reserved[accountID] -= amount
	l.burned += amount
	return nil
}

func (l *fakeLedger) Transfer(ctx context.Context, sourceAccountID, destAccountID string, amount uint64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failTransfer {
		return fmt.Errorf("simulated transfer failure")
	}
	if l.free[sourceAccountID] < amount {
		return fmt.Errorf("insufficient free balance for %s", sourceAccountID)
	}
	l.free[sourceAccountID] -= amount
	l.free[destAccountID] += amount
	return nil
}

// fakePublisher records routing keys of published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	routingKey string
	body       interface{}
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *fakePublisher) Close() {}

func (p *fakePublisher) has(routingKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.routingKey == routingKey {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualClock is a settable Clock for deterministic accrual tests.
type manualClock struct {
	mu  sync.Mutex
	now int64
}

func (c *manualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *manualClock) Advance(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}
