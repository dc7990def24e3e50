package ratelimit

import (
	"context"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// RateLimiter controls provider throughput per channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	Wait(ctx context.Context, channel domain.Channel) error
}

// FrequencyLimiter counts sends per (user, channel) over a rolling hour.
type FrequencyLimiter interface {
	// Reserve takes a slot for notificationID at now when fewer than limit slots are held in the
	// window, checking and taking in one step. When the window is full, retryAt is the instant the
	// oldest slot leaves it. Reserving an id that already holds a slot moves that slot to now.
	Reserve(ctx context.Context, userID string, channel domain.Channel, notificationID string, limit int, now time.Time) (retryAt time.Time, allowed bool, err error)
	// Cancel gives back the slot held by notificationID, if any.
	Cancel(ctx context.Context, userID string, channel domain.Channel, notificationID string) error
}

// FrequencyWindow is the rolling window frequency limits apply to.
const FrequencyWindow = time.Hour
