package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ledgerhythm/capacity-service/internal/app"
	"github.com/ledgerhythm/capacity-service/internal/domain"
	"github.com/ledgerhythm/capacity-service/internal/store"
)

const (
	testJWTSecret   = "test-secret"
	testInternalKey = "internal-key"
)

// apiRepoStub is a minimal in-memory Repository for router-level tests.
// Methods not exercised here panic through the embedded nil interface.
type apiRepoStub struct {
	store.Repository

	mu             sync.Mutex
	auctionCounter uint64
	auctions       map[uint64]*domain.Auction
	subscriptions  map[string]*domain.Subscription
}

func newAPIRepoStub() *apiRepoStub {
	return &apiRepoStub{
		auctions:      make(map[uint64]*domain.Auction),
		subscriptions: make(map[string]*domain.Subscription),
	}
}

func (s *apiRepoStub) NextAuctionID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.auctionCounter
	s.auctionCounter++
	return id, nil
}

func (s *apiRepoStub) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *auction
	s.auctions[auction.ID] = &copied
	return nil
}

func (s *apiRepoStub) GetAuction(ctx context.Context, auctionID uint64) (*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, store.ErrAuctionNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *apiRepoStub) UpdateAuction(ctx context.Context, auction *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *auction
	s.auctions[auction.ID] = &copied
	return nil
}

func (s *apiRepoStub) GetSubscription(ctx context.Context, owner string, localID uint32) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[fmt.Sprintf("%s/%d", owner, localID)]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

type apiLedgerStub struct{}

func (apiLedgerStub) Reserve(ctx context.Context, accountID string, amount uint64, reason string) error {
	return nil
}
func (apiLedgerStub) Unreserve(ctx context.Context, accountID string, amount uint64, reason string) error {
	return nil
}
func (apiLedgerStub) BurnReserved(ctx context.Context, accountID string, amount uint64, reason string) error {
	return nil
}
func (apiLedgerStub) Transfer(ctx context.Context, sourceAccountID, destAccountID string, amount uint64, reason string) error {
	return nil
}

type apiPublisherStub struct{}

func (apiPublisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}
func (apiPublisherStub) Close() {}

type stubRateLimiter struct {
	count      int
	retryAfter int
}

func (s *stubRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return s.count, s.retryAfter, nil
}

func newTestHandlers(t *testing.T, repo store.Repository, limiter RateLimiter) *Handlers {
	t.Helper()
	clockNow := func() int64 { return 1_000_000 }

	auctions := app.NewAuctionService(repo, apiLedgerStub{}, apiPublisherStub{}, clockNow, 1000, 100)
	locks := app.NewLockService(repo, apiLedgerStub{}, apiPublisherStub{}, clockNow, domain.Ratio{Num: 100, Den: 1}, "custody")
	quota := app.NewQuotaService(repo, apiPublisherStub{}, clockNow, 70_952_000, 10_000)
	access := app.NewAccessService(repo)
	interceptor := app.NewInterceptor(quota, access)
	ops := app.NewOperationRegistry()

	return NewHandlers(auctions, locks, quota, access, interceptor, ops, limiter, 30)
}

func newTestRouter(t *testing.T, repo store.Repository, limiter RateLimiter) http.Handler {
	t.Helper()
	return NewRouter(newTestHandlers(t, repo, limiter), testJWTSecret, "", "", testInternalKey)
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	return signedTokenWithClaims(t, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func signedTokenWithClaims(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, newAPIRepoStub(), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStartAuctionRequiresInternalKey(t *testing.T) {
	router := newTestRouter(t, newAPIRepoStub(), nil)
	body := bytes.NewBufferString(`{"mode":{"kind":"daily","days":30}}`)

	req := httptest.NewRequest(http.MethodPost, "/auctions", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auctions", bytes.NewBufferString(`{"mode":{"kind":"daily","days":30}}`))
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with key, got %d: %s", rec.Code, rec.Body.String())
	}

	var auction domain.Auction
	if err := json.NewDecoder(rec.Body).Decode(&auction); err != nil {
		t.Fatalf("failed to decode auction: %v", err)
	}
	if auction.ID != 0 || auction.Mode.Days != 30 {
		t.Fatalf("unexpected auction: %+v", auction)
	}
}

func TestBidRequiresValidJWT(t *testing.T) {
	router := newTestRouter(t, newAPIRepoStub(), nil)

	req := httptest.NewRequest(http.MethodPost, "/auctions/0/bid", bytes.NewBufferString(`{"amount":100}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auctions/0/bid", bytes.NewBufferString(`{"amount":100}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestAuthEnforcesConfiguredAudienceAndIssuer(t *testing.T) {
	router := NewRouter(newTestHandlers(t, newAPIRepoStub(), nil), testJWTSecret, "capacity-api", "ledgerhythm", testInternalKey)

	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   int
	}{
		{
			name: "missing audience",
			claims: jwt.MapClaims{
				"sub": "alice",
				"iss": "ledgerhythm",
				"exp": time.Now().Add(time.Hour).Unix(),
			},
			want: http.StatusUnauthorized,
		},
		{
			name: "wrong issuer",
			claims: jwt.MapClaims{
				"sub": "alice",
				"aud": "capacity-api",
				"iss": "someone-else",
				"exp": time.Now().Add(time.Hour).Unix(),
			},
			want: http.StatusUnauthorized,
		},
		{
			name: "matching claims",
			claims: jwt.MapClaims{
				"sub": "alice",
				"aud": "capacity-api",
				"iss": "ledgerhythm",
				"exp": time.Now().Add(time.Hour).Unix(),
			},
			// Auction 0 does not exist, so a well-formed token reaches the handler.
			want: http.StatusNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auctions/0/bid", bytes.NewBufferString(`{"amount":100}`))
			req.Header.Set("Authorization", "Bearer "+signedTokenWithClaims(t, tc.claims))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestBidFlowThroughRouter(t *testing.T) {
	repo := newAPIRepoStub()
	router := newTestRouter(t, repo, nil)

	// Open an auction through the internal endpoint.
	req := httptest.NewRequest(http.MethodPost, "/auctions", bytes.NewBufferString(`{"mode":{"kind":"daily","days":30}}`))
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Bid as an authenticated account.
	req = httptest.NewRequest(http.MethodPost, "/auctions/0/bid", bytes.NewBufferString(`{"amount":150}`))
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "alice"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var auction domain.Auction
	if err := json.NewDecoder(rec.Body).Decode(&auction); err != nil {
		t.Fatalf("failed to decode auction: %v", err)
	}
	if auction.Winner == nil || *auction.Winner != "alice" || auction.BestPrice != 150 {
		t.Fatalf("unexpected auction state: %+v", auction)
	}

	// A low bid maps to 400.
	req = httptest.NewRequest(http.MethodPost, "/auctions/0/bid", bytes.NewBufferString(`{"amount":150}`))
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "bob"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for tie bid, got %d", rec.Code)
	}
}

func TestBidRateLimited(t *testing.T) {
	limiter := &stubRateLimiter{count: 31, retryAfter: 12}
	router := newTestRouter(t, newAPIRepoStub(), limiter)

	req := httptest.NewRequest(http.MethodPost, "/auctions/0/bid", bytes.NewBufferString(`{"amount":100}`))
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "alice"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "12" {
		t.Fatalf("expected Retry-After header, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestGetSubscriptionReturnsAccruedState(t *testing.T) {
	repo := newAPIRepoStub()
	mode := domain.SubscriptionMode{Kind: domain.ModeLifetime, TPS: 50_000}
	sub := domain.NewSubscription("alice", 0, mode, 999_998)
	repo.subscriptions["alice/0"] = sub

	router := newTestRouter(t, repo, nil)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/alice/0", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "alice"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got domain.Subscription
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode subscription: %v", err)
	}
	// Two seconds of accrual at 50k uTPS with the default reference weight:
	// floor(70_952_000 * 50_000 * 2 / 1e9) = 7_095.
	if got.FreeWeight != 7_095 {
		t.Fatalf("expected accrued free weight 7095, got %d", got.FreeWeight)
	}
}

func TestWriteServiceErrorMapping(t *testing.T) {
	h := &Handlers{}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "auction not found", err: store.ErrAuctionNotFound, want: http.StatusNotFound},
		{name: "subscription not found", err: store.ErrSubscriptionNotFound, want: http.StatusNotFound},
		{name: "bad origin", err: domain.ErrBadOrigin, want: http.StatusForbidden},
		{name: "bid too low", err: domain.ErrBidTooLow, want: http.StatusBadRequest},
		{name: "invalid amount", err: domain.ErrInvalidAmount, want: http.StatusBadRequest},
		{name: "bidding closed", err: domain.ErrBiddingClosed, want: http.StatusConflict},
		{name: "already claimed", err: domain.ErrAlreadyClaimed, want: http.StatusConflict},
		{name: "claim not allowed", err: domain.ErrClaimNotAllowed, want: http.StatusConflict},
		{name: "not lock backed", err: domain.ErrNotLockBacked, want: http.StatusConflict},
		{name: "expired", err: domain.ErrSubscriptionExpired, want: http.StatusConflict},
		{name: "quota exhausted", err: domain.ErrQuotaExhausted, want: http.StatusPaymentRequired},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, "test", tt.err)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
