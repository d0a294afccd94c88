package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tle_zone_contest/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

const leaderboardKeyPrefix = "leaderboard:"

// LeaderboardCache keeps a JSON snapshot of each contest's ranked standings.
type LeaderboardCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLeaderboardCache(rdb *redis.Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{rdb: rdb, ttl: ttl}
}

func leaderboardKey(contestID string) string {
	return leaderboardKeyPrefix + contestID
}

// Get returns ok=false on a cache miss.
func (c *LeaderboardCache) Get(ctx context.Context, contestID string) ([]model.LeaderboardEntry, bool, error) {
	data, err := c.rdb.Get(ctx, leaderboardKey(contestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("leaderboard cache get: %w", err)
	}
	var entries []model.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, fmt.Errorf("leaderboard cache decode: %w", err)
	}
	return entries, true, nil
}

func (c *LeaderboardCache) Set(ctx context.Context, contestID string, entries []model.LeaderboardEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("leaderboard cache encode: %w", err)
	}
	return c.rdb.Set(ctx, leaderboardKey(contestID), data, c.ttl).Err()
}

func (c *LeaderboardCache) Invalidate(ctx context.Context, contestID string) error {
	return c.rdb.Del(ctx, leaderboardKey(contestID)).Err()
}
