package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 100
	rateWindow         = time.Second
	// Keys outlive their window slightly so a slow clock on one process still sees the count.
	rateKeyTTL = 2 * rateWindow
	minPause   = 5 * time.Millisecond
)

// takeScript counts one send in the window key and returns the running count.
var takeScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter admits at most limit sends per channel per one-second window, counted across
// every dispatcher process sharing the Redis instance.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int64
	clock  func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limitPerSec, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int,
	clock func() time.Time,
	sleep func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}

	return &RedisRateLimiter{
		client: client,
		limit:  int64(limitPerSec),
		clock:  clock,
		sleep:  sleep,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, channel domain.Channel) (bool, error) {
	_, ok, err := r.take(ctx, channel)
	return ok, err
}

// Wait blocks until a send is admitted, sleeping to the start of the next window after each
// rejection.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	for {
		window, ok, err := r.take(ctx, channel)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		pause := window.Add(rateWindow).Sub(r.clock())
		if pause < minPause {
			pause = minPause
		}
		if err := r.sleep(ctx, pause); err != nil {
			return err
		}
	}
}

// take counts a send against the current window and returns the window start.
func (r *RedisRateLimiter) take(ctx context.Context, channel domain.Channel) (time.Time, bool, error) {
	if !channel.IsValid() {
		return time.Time{}, false, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}

	window := r.clock().UTC().Truncate(rateWindow)
	key := fmt.Sprintf("dispatch:rate:%s:%d", channel, window.Unix())

	count, err := takeScript.Run(ctx, r.client, []string{key}, rateKeyTTL.Milliseconds()).Int64()
	if err != nil {
		return window, false, fmt.Errorf("rate limit %s: %w", channel, err)
	}
	return window, count <= r.limit, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
