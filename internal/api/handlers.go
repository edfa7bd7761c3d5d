/**
 * @description
 * This file contains the HTTP handlers for the capacity service API.
 * Handlers parse incoming requests, call the appropriate methods on the
 * application services, and write the HTTP response. They act as the bridge
 * between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, and errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerhythm/capacity-service/internal/app"
	"github.com/ledgerhythm/capacity-service/internal/domain"
	"github.com/ledgerhythm/capacity-service/internal/store"
)

// RateLimiter throttles repeated calls per subject within a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Handlers holds the application services that handlers will use.
type Handlers struct {
	auctions *app.AuctionService
	locks    *app.LockService
	quota    *app.QuotaService
	access   *app.AccessService
	calls    *app.Interceptor
	ops      *app.OperationRegistry

	rateLimiter           RateLimiter
	bidRateLimitPerMinute int
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(
	auctions *app.AuctionService,
	locks *app.LockService,
	quota *app.QuotaService,
	access *app.AccessService,
	calls *app.Interceptor,
	ops *app.OperationRegistry,
	rateLimiter RateLimiter,
	bidRateLimitPerMinute int,
) *Handlers {
	return &Handlers{
		auctions:              auctions,
		locks:                 locks,
		quota:                 quota,
		access:                access,
		calls:                 calls,
		ops:                   ops,
		rateLimiter:           rateLimiter,
		bidRateLimitPerMinute: bidRateLimitPerMinute,
	}
}

type startAuctionRequest struct {
	Mode domain.SubscriptionMode `json:"mode"`
}

type bidRequest struct {
	Amount uint64 `json:"amount"`
}

type claimRequest struct {
	Beneficiary string `json:"beneficiary,omitempty"`
}

type startLifetimeRequest struct {
	Amount uint64 `json:"amount"`
}

type grantAccessRequest struct {
	Delegate string `json:"delegate"`
}

type callRequest struct {
	Operation     string `json:"operation"`
	EstimatedCost uint64 `json:"estimated_cost"`
}

type callResponse struct {
	Operation  string `json:"operation"`
	ActualCost uint64 `json:"actual_cost"`
}

// StartAuctionHandler opens a new auction. This endpoint is internal: only
// trusted backends holding the internal API key may start auctions.
func (h *Handlers) StartAuctionHandler(w http.ResponseWriter, r *http.Request) {
	var req startAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	auction, err := h.auctions.StartAuction(r.Context(), req.Mode)
	if err != nil {
		h.writeServiceError(w, "start_auction", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, auction)
}

// BidHandler places a bid on an auction for the authenticated account.
func (h *Handlers) BidHandler(w http.ResponseWriter, r *http.Request) {
	bidder, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	if h.rateLimiter != nil && h.bidRateLimitPerMinute > 0 {
		count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), "bid", bidder, h.bidRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Printf("WARN: bid rate limiter unavailable for %s: %v", bidder, err)
		} else if count > h.bidRateLimitPerMinute {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many bids, slow down")
			return
		}
	}

	auctionID, err := strconv.ParseUint(chi.URLParam(r, "auctionID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid auction id")
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	auction, err := h.auctions.Bid(r.Context(), auctionID, bidder, req.Amount)
	if err != nil {
		h.writeServiceError(w, "bid", err)
		return
	}

	h.writeJSON(w, http.StatusOK, auction)
}

// ClaimHandler finalizes a won auction for the authenticated winner.
func (h *Handlers) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	auctionID, err := strconv.ParseUint(chi.URLParam(r, "auctionID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid auction id")
		return
	}

	// The body is optional; an empty beneficiary means the caller.
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	sub, err := h.auctions.Claim(r.Context(), auctionID, caller, req.Beneficiary)
	if err != nil {
		h.writeServiceError(w, "claim", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, sub)
}

// StartLifetimeHandler locks a deposit and mints a lifetime subscription.
func (h *Handlers) StartLifetimeHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	var req startLifetimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	sub, err := h.locks.StartLifetime(r.Context(), owner, req.Amount)
	if err != nil {
		h.writeServiceError(w, "start_lifetime", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, sub)
}

// StopLifetimeHandler ends a lock-backed subscription and returns the deposit.
func (h *Handlers) StopLifetimeHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	localID, err := parseLocalID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	if err := h.locks.StopLifetime(r.Context(), owner, localID); err != nil {
		h.writeServiceError(w, "stop_lifetime", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// GetSubscriptionHandler returns a subscription with accrual applied up to
// now. Anyone authenticated may view; spending is what delegation guards.
func (h *Handlers) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	localID, err := parseLocalID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	sub, err := h.quota.Status(r.Context(), owner, localID)
	if err != nil {
		h.writeServiceError(w, "get_subscription", err)
		return
	}

	h.writeJSON(w, http.StatusOK, sub)
}

// GrantAccessHandler lets the authenticated owner delegate spending rights.
func (h *Handlers) GrantAccessHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}
	if caller != chi.URLParam(r, "owner") {
		h.writeError(w, http.StatusForbidden, "Only the owner may grant access")
		return
	}

	localID, err := parseLocalID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	var req grantAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.access.Grant(r.Context(), caller, localID, req.Delegate); err != nil {
		h.writeServiceError(w, "grant_access", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

// RevokeAccessHandler removes a delegate's grant.
func (h *Handlers) RevokeAccessHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}
	if caller != chi.URLParam(r, "owner") {
		h.writeError(w, http.StatusForbidden, "Only the owner may revoke access")
		return
	}

	localID, err := parseLocalID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	if err := h.access.Revoke(r.Context(), caller, localID, chi.URLParam(r, "delegate")); err != nil {
		h.writeServiceError(w, "revoke_access", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// CallHandler runs a registered operation under a subscription's quota,
// through the full validate / pre-dispatch / post-dispatch pipeline.
func (h *Handlers) CallHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	owner := chi.URLParam(r, "owner")
	localID, err := parseLocalID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	op, found := h.ops.Resolve(req.Operation)
	if !found {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown operation %q", req.Operation))
		return
	}

	actualCost, err := h.calls.Call(r.Context(), caller, owner, localID, req.EstimatedCost, op)
	if err != nil {
		h.writeServiceError(w, "call", err)
		return
	}

	h.writeJSON(w, http.StatusOK, callResponse{Operation: req.Operation, ActualCost: actualCost})
}

func parseLocalID(r *http.Request) (uint32, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "localID"), 10, 32)
	return uint32(v), err
}

// writeServiceError maps business errors onto HTTP status codes.
func (h *Handlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, store.ErrAuctionNotFound),
		errors.Is(err, store.ErrSubscriptionNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBadOrigin):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrBidTooLow),
		errors.Is(err, domain.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrBiddingClosed),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrClaimNotAllowed),
		errors.Is(err, domain.ErrNotLockBacked),
		errors.Is(err, domain.ErrSubscriptionExpired):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrQuotaExhausted):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
