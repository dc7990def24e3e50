package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// AttemptStore persists delivery attempts.
type AttemptStore interface {
	Begin(ctx context.Context, notificationID string, now time.Time) (*domain.DeliveryAttempt, error)
	Count(ctx context.Context, notificationID string) (int64, error)
}

// AttemptHandle is an attempt opened by Begin and not yet persisted as complete.
type AttemptHandle struct {
	attempt   domain.DeliveryAttempt
	completed bool
}

func (h *AttemptHandle) Number() int { return h.attempt.AttemptNumber }

// Attempt returns a copy of the attempt in its current state.
func (h *AttemptHandle) Attempt() domain.DeliveryAttempt { return h.attempt }

// AttemptResult is what a finished attempt reports. Success with At sets delivered_at.
type AttemptResult struct {
	Success      bool
	Response     map[string]any
	ErrorCode    string
	ErrorMessage string
	At           time.Time
}

// AttemptRecorder opens and closes delivery attempts. Completion only fills the handle;
// the caller persists it together with the notification outcome.
type AttemptRecorder struct {
	store AttemptStore
	now   func() time.Time
}

func NewAttemptRecorder(store AttemptStore) (*AttemptRecorder, error) {
	if store == nil {
		return nil, fmt.Errorf("attempt store is required")
	}
	return &AttemptRecorder{store: store, now: time.Now}, nil
}

// Begin inserts a processing attempt for n. The caller must hold n's processing claim.
func (r *AttemptRecorder) Begin(ctx context.Context, n *domain.Notification) (*AttemptHandle, error) {
	if n == nil || strings.TrimSpace(n.ID) == "" {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if n.Status != domain.StatusProcessing {
		return nil, fmt.Errorf("%w: notification %s is %s, not processing", domain.ErrConflict, n.ID, n.Status)
	}

	attempt, err := r.store.Begin(ctx, n.ID, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("begin attempt for %s: %w", n.ID, err)
	}
	return &AttemptHandle{attempt: *attempt}, nil
}

// Complete fills the terminal fields of the attempt. It may be called once per handle.
func (r *AttemptRecorder) Complete(h *AttemptHandle, result AttemptResult) error {
	if h == nil {
		return fmt.Errorf("%w: attempt handle is required", domain.ErrValidation)
	}
	if h.completed || !h.attempt.IsOpen() {
		return fmt.Errorf("%w: attempt %d of %s is already complete", domain.ErrConflict, h.attempt.AttemptNumber, h.attempt.NotificationID)
	}

	at := result.At
	if at.IsZero() {
		at = r.now().UTC()
	}

	h.attempt.ProviderResponse = result.Response
	h.attempt.CompletedAt = &at
	if result.Success {
		h.attempt.Status = domain.AttemptStatusDelivered
		h.attempt.DeliveredAt = &at
	} else {
		code := result.ErrorCode
		message := result.ErrorMessage
		h.attempt.Status = domain.AttemptStatusFailed
		h.attempt.ErrorCode = &code
		h.attempt.ErrorMessage = &message
	}
	h.completed = true
	return nil
}

func (r *AttemptRecorder) Count(ctx context.Context, notificationID string) (int64, error) {
	return r.store.Count(ctx, notificationID)
}
