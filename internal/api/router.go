/**
 * @description
 * This file sets up the HTTP router for the capacity service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, CORS, panic recovery, and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the capacity service routes.
func NewRouter(h *Handlers, jwtSecret, jwtAudience, jwtIssuer, internalAPIKey string) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Internal, server-to-server endpoints.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/auctions", h.StartAuctionHandler)
	})

	// Endpoints for authenticated account holders.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret, jwtAudience, jwtIssuer))

		r.Post("/auctions/{auctionID}/bid", h.BidHandler)
		r.Post("/auctions/{auctionID}/claim", h.ClaimHandler)

		r.Post("/subscriptions/lifetime", h.StartLifetimeHandler)
		r.Delete("/subscriptions/lifetime/{localID}", h.StopLifetimeHandler)

		r.Get("/subscriptions/{owner}/{localID}", h.GetSubscriptionHandler)
		r.Post("/subscriptions/{owner}/{localID}/access", h.GrantAccessHandler)
		r.Delete("/subscriptions/{owner}/{localID}/access/{delegate}", h.RevokeAccessHandler)
		r.Post("/subscriptions/{owner}/{localID}/call", h.CallHandler)
	})

	return r
}
