/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. hlog:       Request-scoped zerolog logger and access log
  4. Metrics:    Prometheus request counter and latency
  5. CORS:       Cross-origin requests for the frontend
  6. Identity:   Caller user id from JWT or gateway header

ROUTE GROUPS:
  /api/rewards/*     Catalog and redemption (identity required)
  /api/points/*      Balances, history, leaderboard (identity required)
  /api/points/credits Internal credit append (shared token)
  /api/scenarios/*   Seed scenarios (load needs the shared token)
  /health, /metrics  Ops

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Identity, RequireUser, RequireToken
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/points-engine/metrics"
)

// RouterOptions configures the middleware around the handlers.
type RouterOptions struct {
	Logger         *zerolog.Logger // nil discards request logs
	AllowedOrigins []string
	Identity       *Identity
	RedeemLimiter  *RateLimiter // nil disables rate limiting
	CreditToken    string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Identity == nil {
		opts.Identity = NewIdentity("")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(logger))
	r.Use(requestIDField)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", HeaderUserID},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Internal credit feed from the task service
		r.With(RequireToken(opts.CreditToken)).Post("/points/credits", h.CreateCredit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(RequireToken(opts.CreditToken)).Post("/load", h.LoadScenario)
		})

		r.Group(func(r chi.Router) {
			r.Use(opts.Identity.Middleware)
			r.Use(RequireUser)

			// Reward routes
			r.Route("/rewards", func(r chi.Router) {
				r.Get("/items", h.ListRewardItems)
				r.Get("/me", h.MyRedemptions)
				if opts.RedeemLimiter != nil {
					r.With(opts.RedeemLimiter.Handler).Post("/redeem", h.Redeem)
				} else {
					r.Post("/redeem", h.Redeem)
				}
			})

			// Points routes
			r.Get("/points/me", h.MyBalance)
			r.Get("/points/me/history", h.MyLedgerHistory)
			r.Get("/points/me/breakdown", h.MyBreakdown)
			r.Get("/points/leaderboard", h.GetLeaderboard)
		})
	})

	return r
}

// requestIDField adds chi's request id to the request logger.
func requestIDField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			logger := zerolog.Ctx(r.Context()).With().Str("request_id", id).Logger()
			r = r.WithContext(logger.WithContext(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}
