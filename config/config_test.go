package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/sqldb"
)

var keys = []string{
	"PORT", "DB_DRIVER", "DATABASE_URL", "POINTS_LOCK_MODE", "POINTS_TX_TIMEOUT",
	"POINTS_VOUCHER_ATTEMPTS", "POINTS_VOUCHER_PREFIX", "POINTS_JWT_SECRET",
	"POINTS_CREDIT_TOKEN", "REDIS_URL", "LEADERBOARD_CACHE_TTL", "REDEEM_RATE_LIMIT",
	"REDEEM_RATE_BURST", "CORS_ORIGINS", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv unsets every key for the duration of the test. t.Setenv restores
// the previous values, including anything godotenv writes.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(missingFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "points.db", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, 5, cfg.VoucherAttempts)
	assert.Equal(t, "AIDA", cfg.VoucherPrefix)
	assert.Equal(t, 30*time.Second, cfg.LeaderboardTTL)
	assert.Equal(t, 5.0, cfg.RedeemRateLimit)
	assert.Equal(t, 10, cfg.RedeemRateBurst)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())

	dialect, err := cfg.Dialect()
	require.NoError(t, err)
	assert.Equal(t, sqldb.SQLite, dialect)

	mode, err := cfg.PointsLockMode()
	require.NoError(t, err)
	assert.Equal(t, points.LockReward, mode)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"PORT=9090\nPOINTS_LOCK_MODE=user\nCORS_ORIGINS=http://a.test, http://b.test\n"), 0o600))
	t.Setenv("PORT", "7070")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("POINTS_TX_TIMEOUT", "1500ms")

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port, "process environment wins over .env")
	assert.Equal(t, "user", cfg.LockMode, "read from .env")
	assert.Equal(t, 1500*time.Millisecond, cfg.TxTimeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins())

	dialect, err := cfg.Dialect()
	require.NoError(t, err)
	assert.Equal(t, sqldb.Postgres, dialect)
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "70000"},
		{"DB_DRIVER", "oracle"},
		{"POINTS_LOCK_MODE", "table"},
		{"POINTS_TX_TIMEOUT", "0s"},
		{"POINTS_VOUCHER_ATTEMPTS", "0"},
		{"REDEEM_RATE_LIMIT", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load(missingFile(t))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("POINTS_TX_TIMEOUT", "soon")

	_, err := Load(missingFile(t))
	assert.ErrorContains(t, err, "decode environment")
}
