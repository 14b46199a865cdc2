/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment), then apply flags
  2. Set up logging
  3. Open the store and run migrations
  4. Connect the optional Redis leaderboard cache
  5. Build the coordinator, handler and router
  6. Apply the -seed scenario, if any
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      Database path or DSN (overrides DATABASE_URL)
           Use ":memory:" for an in-memory SQLite database
  -seed    Seed scenario to apply at startup (demo, last-unit)
  -env     .env file to read (default: .env, missing is fine)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Redis and database connections
  4. Exit

EXAMPLES:
  # Run with file database and demo data
  ./server -db="./data/points.db" -seed=demo

  # Run against PostgreSQL with user-level locking
  DB_DRIVER=postgres DATABASE_URL=postgres://... POINTS_LOCK_MODE=user ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - store/sqldb/sqldb.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/cache"
	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/logging"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/sqldb"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	dbURL := flag.String("db", "", "Database path or DSN (overrides DATABASE_URL)")
	seed := flag.String("seed", "", "Seed scenario to apply at startup")
	envFile := flag.String("env", ".env", ".env file to read")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	ctx := logger.WithContext(context.Background())

	// Initialize store
	dialect, _ := cfg.Dialect()
	store, err := sqldb.Open(ctx, dialect, cfg.DatabaseURL, sqldb.Options{TxTimeout: cfg.TxTimeout})
	if err != nil {
		log.Fatal().Err(err).Str("driver", string(dialect)).Msg("failed to initialize database")
	}
	defer store.Close()

	lockMode, _ := cfg.PointsLockMode()
	if lockMode == points.LockReward {
		log.Warn().Msg("POINTS_LOCK_MODE=reward: concurrent redemptions by one user on different rewards can overspend; set POINTS_LOCK_MODE=user to serialise per user")
	}

	if cfg.CreditToken == "" {
		log.Warn().Msg("POINTS_CREDIT_TOKEN is empty: credit and scenario load endpoints accept any caller")
	}

	coordinator := points.NewCoordinator(store,
		points.WithLockMode(lockMode),
		points.WithVoucherAttempts(cfg.VoucherAttempts),
		points.WithVoucherGenerator(points.RandomVouchers{Prefix: cfg.VoucherPrefix}),
	)

	// Initialize handler
	handler := api.NewHandler(store, coordinator)

	if cfg.RedisURL != "" {
		client, err := cache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, leaderboard served without cache")
		} else {
			defer client.Close()
			handler.UseLeaderboardCache(cache.NewLeaderboard(client, handler.Reports, cfg.LeaderboardTTL))
		}
	}

	if *seed != "" {
		applied, err := handler.ApplyScenario(ctx, *seed)
		if err != nil {
			log.Fatal().Err(err).Str("scenario", *seed).Msg("failed to apply seed scenario")
		}
		log.Info().Str("scenario", *seed).Bool("applied", applied).Msg("seed scenario")
	}

	stop := make(chan struct{})
	var limiter *api.RateLimiter
	if cfg.RedeemRateLimit > 0 {
		limiter = api.NewRateLimiter(cfg.RedeemRateLimit, cfg.RedeemRateBurst)
		limiter.StartCleanup(10*time.Minute, stop)
	}

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         &logger,
		AllowedOrigins: cfg.AllowedOrigins(),
		Identity:       api.NewIdentity(cfg.JWTSecret),
		RedeemLimiter:  limiter,
		CreditToken:    cfg.CreditToken,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("driver", string(dialect)).
			Str("lock_mode", string(lockMode)).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	close(stop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}
