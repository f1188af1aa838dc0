/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the treasurer's frontend
  5. Context logger: zerolog logger tagged with the request ID

ROUTE GROUPS:
  /api/members/*   Members, search, statements
  /api/loans/*     Loans, threshold filter, payments
  /api/imports/*   Spreadsheet preview, publish, audit log
  /api/billing     Monthly worklists
  /healthz         Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/koperasi/loan-ledger/logger"
	"github.com/rs/zerolog"
)

// RouterOptions configures cross-cutting concerns of the router.
type RouterOptions struct {
	CORSOrigins []string
	Log         zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
		}))
	}
	r.Use(requestLogger(opts.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.SaveMember)
			r.Get("/{id}", h.GetMember)
			r.Get("/{id}/statement", h.GetStatement)
		})

		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Get("/{id}", h.GetLoan)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.RecordPayment)
		})

		r.Route("/imports", func(r chi.Router) {
			r.Get("/", h.ListImports)
			r.Post("/", h.Import)
			r.Post("/preview", h.PreviewImport)
		})

		r.Get("/billing", h.GetBilling)
	})

	return r
}

// requestLogger puts a logger tagged with the chi request ID into the
// request context, for handlers and the import pipeline.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := base.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
		})
	}
}
