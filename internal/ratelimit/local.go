package ratelimit

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"golang.org/x/time/rate"
)

const defaultLimitPerSec = 100

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is a per-process token bucket per channel, used when no Redis is configured.
type LocalRateLimiter struct {
	limitPerSec int

	mu       sync.Mutex
	limiters map[domain.Channel]*rate.Limiter
}

func NewLocalRateLimiter(limitPerSec int) *LocalRateLimiter {
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	return &LocalRateLimiter{
		limitPerSec: limitPerSec,
		limiters:    make(map[domain.Channel]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) limiter(channel domain.Channel) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[channel]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.limitPerSec), l.limitPerSec)
		l.limiters[channel] = lim
	}
	return lim
}

func (l *LocalRateLimiter) Allow(_ context.Context, channel domain.Channel) (bool, error) {
	return l.limiter(channel).Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	return l.limiter(channel).Wait(ctx)
}

var _ FrequencyLimiter = (*LocalFrequencyLimiter)(nil)

type slot struct {
	notificationID string
	at             time.Time
}

// LocalFrequencyLimiter keeps rolling-hour send slots in memory. Counts are per process.
type LocalFrequencyLimiter struct {
	mu    sync.Mutex
	slots map[string][]slot
}

func NewLocalFrequencyLimiter() *LocalFrequencyLimiter {
	return &LocalFrequencyLimiter{slots: make(map[string][]slot)}
}

func frequencyKey(userID string, channel domain.Channel) string {
	return userID + ":" + string(channel)
}

func (l *LocalFrequencyLimiter) Reserve(_ context.Context, userID string, channel domain.Channel, notificationID string, limit int, now time.Time) (time.Time, bool, error) {
	if limit <= 0 {
		return time.Time{}, true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := frequencyKey(userID, channel)
	slots := without(prune(l.slots[key], now), notificationID)
	if len(slots) >= limit {
		l.slots[key] = slots
		return slots[0].at.Add(FrequencyWindow), false, nil
	}

	i, _ := slices.BinarySearchFunc(slots, now, func(s slot, t time.Time) int { return s.at.Compare(t) })
	l.slots[key] = slices.Insert(slots, i, slot{notificationID: notificationID, at: now})
	return time.Time{}, true, nil
}

func (l *LocalFrequencyLimiter) Cancel(_ context.Context, userID string, channel domain.Channel, notificationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := frequencyKey(userID, channel)
	l.slots[key] = without(l.slots[key], notificationID)
	return nil
}

// prune drops slots that fell out of the window ending at now. slots is kept in ascending order.
func prune(slots []slot, now time.Time) []slot {
	cutoff := now.Add(-FrequencyWindow)
	i := 0
	for i < len(slots) && !slots[i].at.After(cutoff) {
		i++
	}
	return slots[i:]
}

func without(slots []slot, notificationID string) []slot {
	return slices.DeleteFunc(slices.Clone(slots), func(s slot) bool { return s.notificationID == notificationID })
}
