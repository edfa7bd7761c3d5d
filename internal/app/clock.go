package app

import (
	"context"
	"time"
)

// Clock supplies the current time as unix seconds. Services take it as a
// dependency so accrual math is deterministic under test.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 {
	return time.Now().Unix()
}

// CurrencyLedger is the subset of asset-ledger operations the services need.
// The production implementation is pkg/ledgerclient.
type CurrencyLedger interface {
	Reserve(ctx context.Context, accountID string, amount uint64, reason string) error
	Unreserve(ctx context.Context, accountID string, amount uint64, reason string) error
	BurnReserved(ctx context.Context, accountID string, amount uint64, reason string) error
	Transfer(ctx context.Context, sourceAccountID, destAccountID string, amount uint64, reason string) error
}
