package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

// reserveSlotScript drops the caller's own slot and everything older than the window, then adds
// a slot at ARGV[4] and returns {1, 0} when one fits, or {0, oldestScoreMillis} when it does not.
var reserveSlotScript = goredis.NewScript(`
redis.call("ZREM", KEYS[1], ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
if count < tonumber(ARGV[2]) then
  redis.call("ZADD", KEYS[1], ARGV[4], ARGV[3])
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
  return {1, 0}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return {0, tonumber(oldest[2])}
`)

var _ ratelimit.FrequencyLimiter = (*RedisFrequencyLimiter)(nil)

// RedisFrequencyLimiter keeps one sorted set of reserved slots per (user, channel), scored by
// reservation time in milliseconds.
type RedisFrequencyLimiter struct {
	client *goredis.Client
	script *goredis.Script
}

func NewRedisFrequencyLimiter(client *goredis.Client) (*RedisFrequencyLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisFrequencyLimiter{client: client, script: reserveSlotScript}, nil
}

func frequencyKey(userID string, channel domain.Channel) string {
	return fmt.Sprintf("dispatch:frequency:%s:%s", strings.TrimSpace(userID), strings.ToLower(string(channel)))
}

func (f *RedisFrequencyLimiter) Reserve(ctx context.Context, userID string, channel domain.Channel, notificationID string, limit int, now time.Time) (time.Time, bool, error) {
	if limit <= 0 {
		return time.Time{}, true, nil
	}

	cutoff := now.Add(-ratelimit.FrequencyWindow).UnixMilli()
	values, err := f.script.Run(ctx, f.client, []string{frequencyKey(userID, channel)},
		cutoff, limit, notificationID, now.UnixMilli(), ratelimit.FrequencyWindow.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to reserve frequency slot: %w", err)
	}
	if len(values) != 2 {
		return time.Time{}, false, fmt.Errorf("unexpected frequency limit reply %v", values)
	}

	if values[0] == 1 {
		return time.Time{}, true, nil
	}
	return time.UnixMilli(values[1]).UTC().Add(ratelimit.FrequencyWindow), false, nil
}

func (f *RedisFrequencyLimiter) Cancel(ctx context.Context, userID string, channel domain.Channel, notificationID string) error {
	if err := f.client.ZRem(ctx, frequencyKey(userID, channel), notificationID).Err(); err != nil {
		return fmt.Errorf("failed to cancel frequency slot: %w", err)
	}
	return nil
}
