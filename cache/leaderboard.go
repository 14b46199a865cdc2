/*
leaderboard.go - Redis read-through cache for the leaderboard

PURPOSE:
  The leaderboard sums the whole ledger, which gets expensive as the ledger
  grows. This cache keeps the top rows in Redis for a short TTL.

BEHAVIOUR:
  - One key holds the top MaxLeaderboardLimit rows; smaller limits are
    sliced from it, so every limit shares one entry.
  - Redis errors never fail a read: the query runs against the store and
    the failure is logged.
  - Invalidate bumps a generation counter after writes that change
    balances. Entries record the generation they were read under, so a
    fill that races an invalidation is stored stale and ignored by the
    next read.

  Cached rows are a read-only projection. Redemption balance checks read the
  ledger inside their own transaction and never consult this cache.

SEE ALSO:
  - points/history.go: Reports.Leaderboard, the source of truth
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/warp/points-engine/points"
)

const (
	DefaultTTL     = 30 * time.Second
	leaderboardKey = "points:leaderboard"
	generationKey  = "points:leaderboard:generation"
)

// Client is the subset of *redis.Client the cache uses.
type Client interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// LeaderboardSource produces the uncached leaderboard.
type LeaderboardSource interface {
	Leaderboard(ctx context.Context, limit int) ([]points.LeaderboardRow, error)
}

// Leaderboard serves LeaderboardSource through Redis.
type Leaderboard struct {
	client Client
	source LeaderboardSource
	ttl    time.Duration
}

func NewLeaderboard(client Client, source LeaderboardSource, ttl time.Duration) *Leaderboard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Leaderboard{client: client, source: source, ttl: ttl}
}

// Dial parses a redis:// URL and verifies the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

type cachedRow struct {
	UserID      string `json:"userId"`
	TotalPoints int64  `json:"totalPoints"`
	Entries     int64  `json:"entries"`
}

type cacheEntry struct {
	Generation int64       `json:"generation"`
	Rows       []cachedRow `json:"rows"`
}

// Leaderboard returns the top limit rows, from Redis when fresh.
func (c *Leaderboard) Leaderboard(ctx context.Context, limit int) ([]points.LeaderboardRow, error) {
	limit = clampLimit(limit)
	logger := zerolog.Ctx(ctx)

	generation, cacheable := int64(0), true
	vals, err := c.client.MGet(ctx, leaderboardKey, generationKey).Result()
	if err != nil {
		logger.Warn().Err(err).Msg("leaderboard cache read failed")
		cacheable = false
	} else {
		generation = parseGeneration(vals[1])
		if raw, ok := vals[0].(string); ok {
			var entry cacheEntry
			switch err := json.Unmarshal([]byte(raw), &entry); {
			case err != nil:
				logger.Warn().Err(err).Msg("discarding undecodable leaderboard cache entry")
			case entry.Generation == generation:
				return top(fromCache(entry.Rows), limit), nil
			}
		}
	}

	rows, err := c.source.Leaderboard(ctx, points.MaxLeaderboardLimit)
	if err != nil {
		return nil, err
	}
	if !cacheable {
		return top(rows, limit), nil
	}
	if payload, err := json.Marshal(cacheEntry{Generation: generation, Rows: toCache(rows)}); err == nil {
		if err := c.client.Set(ctx, leaderboardKey, payload, c.ttl).Err(); err != nil {
			logger.Warn().Err(err).Msg("leaderboard cache write failed")
		}
	}
	return top(rows, limit), nil
}

// Invalidate marks every cached leaderboard stale.
func (c *Leaderboard) Invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("leaderboard cache invalidation failed")
		return
	}
	if err := c.client.Del(ctx, leaderboardKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("stale leaderboard entry not deleted")
	}
}

// Ping reports whether Redis is reachable.
func (c *Leaderboard) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// parseGeneration reads the MGET value of the generation key; missing is 0.
func parseGeneration(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return points.DefaultLeaderboardLimit
	}
	if limit > points.MaxLeaderboardLimit {
		return points.MaxLeaderboardLimit
	}
	return limit
}

func top(rows []points.LeaderboardRow, limit int) []points.LeaderboardRow {
	if len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func toCache(rows []points.LeaderboardRow) []cachedRow {
	out := make([]cachedRow, len(rows))
	for i, r := range rows {
		out[i] = cachedRow{UserID: string(r.UserID), TotalPoints: r.TotalPoints, Entries: r.Entries}
	}
	return out
}

func fromCache(rows []cachedRow) []points.LeaderboardRow {
	out := make([]points.LeaderboardRow, len(rows))
	for i, r := range rows {
		out[i] = points.LeaderboardRow{UserID: points.UserID(r.UserID), TotalPoints: r.TotalPoints, Entries: r.Entries}
	}
	return out
}
