package service

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/worker"
	"go.uber.org/zap"
)

// Dispatcher runs one dispatch for a notification id.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string) (Outcome, error)
}

// Resubmitter re-queues a notification after a delay.
type Resubmitter interface {
	SubmitAfter(ref domain.NotificationRef, delay time.Duration) error
}

// ResubmitFunc adapts a function to Resubmitter.
type ResubmitFunc func(ref domain.NotificationRef, delay time.Duration) error

func (f ResubmitFunc) SubmitAfter(ref domain.NotificationRef, delay time.Duration) error {
	return f(ref, delay)
}

// PoolHandler runs dispatches on the local worker pool. Retries that become eligible within
// resubmitWithin are re-queued in process; longer ones wait for the scheduler.
func PoolHandler(d Dispatcher, resubmit Resubmitter, resubmitWithin time.Duration, logger *zap.Logger) worker.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context, ref domain.NotificationRef) {
		outcome, err := d.Dispatch(ctx, ref.ID)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("dispatch failed", zap.String("notificationId", ref.ID), zap.Error(err))
			}
			return
		}

		if outcome.Kind != OutcomeRetryAfter || resubmit == nil || outcome.Delay > resubmitWithin {
			return
		}
		if err := resubmit.SubmitAfter(ref, outcome.Delay); err != nil && !errors.Is(err, worker.ErrStopped) {
			logger.Warn("failed to schedule in-process retry",
				zap.String("notificationId", ref.ID),
				zap.Error(err),
			)
		}
	}
}
