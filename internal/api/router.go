/**
 * @description
 * This file sets up the HTTP router for the approval-service. It defines the
 * API endpoints, associates them with their handlers, and applies the
 * standard middleware stack plus mandate authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ApprovalRoutes creates and returns a new router for the approval service.
func ApprovalRoutes(h *ApprovalHandlers, jwtSecret, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Scheduler tick is driven by infrastructure cron, not a mandate; it is
	// guarded by the shared internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/scheduler/tick", h.ScheduleTickHandler)
	})

	// Group routes that require an authenticated mandate.
	r.Group(func(r chi.Router) {
		r.Use(MandateAuthMiddleware(jwtSecret))

		r.Post("/transfers", h.SubmitTransferHandler)
		r.Post("/transfers/bulk", h.SubmitBulkTransferHandler)
		r.Get("/requests/{requestID}", h.GetRequestHandler)
		r.Post("/requests/{requestID}/advance", h.AdvanceHandler)

		r.Post("/mandates/otp", h.IssueOTPHandler)
		r.Post("/mandates/password", h.ChangePasswordHandler)
	})

	return r
}
