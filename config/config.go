/*
config.go - Process configuration

PURPOSE:
  Collects every runtime setting of the server in one struct. Values come
  from the environment, optionally seeded from a .env file; command-line
  flags in cmd/server override the few settings developers change often.

SOURCES (later wins):
  1. Defaults in the struct tags below
  2. .env file in the working directory (missing file is fine)
  3. Process environment
  4. Flags (-port, -db), applied by cmd/server

KEYS:
  PORT                     HTTP port (8080)
  DB_DRIVER                sqlite3 | postgres (sqlite3)
  DATABASE_URL             SQLite path or Postgres DSN (points.db)
  POINTS_LOCK_MODE         reward | user (reward)
  POINTS_TX_TIMEOUT        redemption transaction budget (5s)
  POINTS_VOUCHER_ATTEMPTS  voucher regenerations on collision (5)
  POINTS_VOUCHER_PREFIX    voucher code prefix (AIDA)
  POINTS_JWT_SECRET        HS256 secret; empty trusts X-User-ID
  POINTS_CREDIT_TOKEN      shared token for POST /api/points/credits
  REDIS_URL                leaderboard cache; empty disables it
  LEADERBOARD_CACHE_TTL    (30s)
  REDEEM_RATE_LIMIT        redemptions per second per user (5)
  REDEEM_RATE_BURST        (10)
  CORS_ORIGINS             comma separated (*)
  LOG_LEVEL                zerolog level (info)
  LOG_FORMAT               json | console (json)

SEE ALSO:
  - cmd/server/main.go: flag overrides and wiring
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/sqldb"
)

// Config is the decoded process configuration.
type Config struct {
	Port        int    `env:"PORT,default=8080"`
	DBDriver    string `env:"DB_DRIVER,default=sqlite3"`
	DatabaseURL string `env:"DATABASE_URL,default=points.db"`

	LockMode        string        `env:"POINTS_LOCK_MODE,default=reward"`
	TxTimeout       time.Duration `env:"POINTS_TX_TIMEOUT,default=5s"`
	VoucherAttempts int           `env:"POINTS_VOUCHER_ATTEMPTS,default=5"`
	VoucherPrefix   string        `env:"POINTS_VOUCHER_PREFIX,default=AIDA"`
	JWTSecret       string        `env:"POINTS_JWT_SECRET"`
	CreditToken     string        `env:"POINTS_CREDIT_TOKEN"`

	RedisURL       string        `env:"REDIS_URL"`
	LeaderboardTTL time.Duration `env:"LEADERBOARD_CACHE_TTL,default=30s"`

	RedeemRateLimit float64 `env:"REDEEM_RATE_LIMIT,default=5"`
	RedeemRateBurst int     `env:"REDEEM_RATE_BURST,default=10"`
	CORSOrigins     string  `env:"CORS_ORIGINS,default=*"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// Load reads the given .env files (".env" when none are named), then
// decodes the environment and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if _, err := c.Dialect(); err != nil {
		return err
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is empty")
	}
	if _, err := c.PointsLockMode(); err != nil {
		return fmt.Errorf("POINTS_LOCK_MODE: %w", err)
	}
	if c.TxTimeout <= 0 {
		return fmt.Errorf("POINTS_TX_TIMEOUT must be positive, got %s", c.TxTimeout)
	}
	if c.VoucherAttempts < 1 {
		return fmt.Errorf("POINTS_VOUCHER_ATTEMPTS must be at least 1, got %d", c.VoucherAttempts)
	}
	if c.RedeemRateLimit < 0 || c.RedeemRateBurst < 0 {
		return errors.New("REDEEM_RATE_LIMIT and REDEEM_RATE_BURST must not be negative")
	}
	if c.LeaderboardTTL < 0 {
		return fmt.Errorf("LEADERBOARD_CACHE_TTL must not be negative, got %s", c.LeaderboardTTL)
	}
	return nil
}

// Dialect returns the parsed DB_DRIVER.
func (c *Config) Dialect() (sqldb.Dialect, error) {
	return sqldb.ParseDialect(c.DBDriver)
}

// PointsLockMode returns the parsed POINTS_LOCK_MODE.
func (c *Config) PointsLockMode() (points.LockMode, error) {
	return points.ParseLockMode(c.LockMode)
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
