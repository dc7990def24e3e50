package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Claim is a notification moved into processing by this caller, together with the
// status it held before so the claim can be released.
type Claim struct {
	Notification     domain.Notification
	PriorStatus      domain.Status
	PriorNextAttempt *time.Time
}

// RecoveredClaim describes one stale processing claim closed by RecoverStale.
type RecoveredClaim struct {
	NotificationID string
	AttemptNumber  int
	Status         domain.Status
}

type NotificationRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetDue(ctx context.Context, now time.Time, limit int) ([]domain.NotificationRef, error)
	Claim(ctx context.Context, id string, now time.Time) (*Claim, error)
	Release(ctx context.Context, id string, status domain.Status, nextAttemptAt *time.Time) error
	Commit(ctx context.Context, n *domain.Notification, attempt *domain.DeliveryAttempt) error
	Cancel(ctx context.Context, id string) error
	RecoverStale(ctx context.Context, cutoff, now time.Time, limit int) ([]RecoveredClaim, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// GetDue lists notifications eligible for an attempt at now, most urgent first.
func (r *GormNotificationRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.NotificationRef, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Select("id", "channel", "priority").
		Where("retry_count < max_retries").
		Where(
			r.db.Where("status = ? AND scheduled_for <= ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
				domain.StatusPending, now, now).
				Or("status = ? AND next_attempt_at <= ?", domain.StatusFailed, now),
		).
		Order("priority DESC").
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	refs := make([]domain.NotificationRef, 0, len(models))
	for i := range models {
		refs = append(refs, domain.NotificationRef{
			ID:       models[i].ID,
			Channel:  models[i].Channel,
			Priority: models[i].Priority,
		})
	}
	return refs, nil
}

// Claim locks the row without waiting and moves it to processing when it is claimable at now.
// It returns nil when the row is missing, locked by another executor, or not eligible.
func (r *GormNotificationRepo) Claim(ctx context.Context, id string, now time.Time) (*Claim, error) {
	var claim *Claim

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model NotificationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Take(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		n := notificationModelToDomain(&model)
		if !n.ClaimableAt(now) {
			return nil
		}

		result := tx.Model(&NotificationModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     domain.StatusProcessing,
				"claimed_at": now,
			})
		if result.Error != nil {
			return result.Error
		}

		prior := n.Status
		priorNext := n.NextAttemptAt
		claimedAt := now
		n.Status = domain.StatusProcessing
		n.ClaimedAt = &claimedAt

		claim = &Claim{Notification: *n, PriorStatus: prior, PriorNextAttempt: priorNext}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim notification %s: %w", id, err)
	}

	return claim, nil
}

// Release hands a processing claim back without recording an attempt.
func (r *GormNotificationRepo) Release(ctx context.Context, id string, status domain.Status, nextAttemptAt *time.Time) error {
	if status != domain.StatusPending && status != domain.StatusFailed {
		return fmt.Errorf("%w: cannot release to %s", domain.ErrValidation, status)
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":          status,
			"next_attempt_at": nextAttemptAt,
			"claimed_at":      nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Commit writes the outcome of one attempt. Both rows must still be in processing; otherwise
// nothing is written and ErrConflict is returned.
func (r *GormNotificationRepo) Commit(ctx context.Context, n *domain.Notification, attempt *domain.DeliveryAttempt) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&NotificationModel{}).
			Where("id = ? AND status = ?", n.ID, domain.StatusProcessing).
			Updates(notificationOutcomeColumns(n))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		if attempt == nil {
			return nil
		}
		return completeAttempt(tx, attempt)
	})
}

// Cancel moves a pending notification to cancelled. The conditional update waits on a
// concurrent claim's row lock, so a claimed notification is never cancelled.
func (r *GormNotificationRepo) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Update("status", domain.StatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&NotificationModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

// RecoverStale closes processing claims older than cutoff. An open attempt is failed as
// WORKER_LOST and counted against the retry budget; a claim without an attempt is handed back.
func (r *GormNotificationRepo) RecoverStale(ctx context.Context, cutoff, now time.Time, limit int) ([]RecoveredClaim, error) {
	if limit <= 0 {
		limit = 100
	}

	var recovered []RecoveredClaim

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []NotificationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND claimed_at < ?", domain.StatusProcessing, cutoff).
			Order("claimed_at ASC").
			Limit(limit).
			Find(&models).Error
		if err != nil {
			return err
		}

		for i := range models {
			n := notificationModelToDomain(&models[i])

			var open DeliveryAttemptModel
			err := tx.Where("notification_id = ? AND status = ?", n.ID, domain.AttemptStatusProcessing).
				Order("attempt_number DESC").
				Take(&open).Error
			hasOpen := err == nil
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			item := RecoveredClaim{NotificationID: n.ID}
			if hasOpen {
				attempt := attemptModelToDomain(&open)
				code := domain.ErrorCodeWorkerLost
				message := "worker stopped before completing the attempt"
				completedAt := now
				attempt.Status = domain.AttemptStatusFailed
				attempt.ErrorCode = &code
				attempt.ErrorMessage = &message
				attempt.CompletedAt = &completedAt

				n.RetryCount++
				if n.RetriesExhausted() {
					n.MarkFailedPermanent(message)
				} else {
					n.MarkFailed(message, now)
				}

				if err := completeAttempt(tx, attempt); err != nil {
					return err
				}
				item.AttemptNumber = attempt.AttemptNumber
			} else {
				n.Status = domain.StatusPending
				if n.RetryCount > 0 {
					n.Status = domain.StatusFailed
					retryAt := now
					n.NextAttemptAt = &retryAt
				}
				n.ClaimedAt = nil
			}

			if err := tx.Model(&NotificationModel{}).
				Where("id = ?", n.ID).
				Updates(notificationOutcomeColumns(n)).Error; err != nil {
				return err
			}

			item.Status = n.Status
			recovered = append(recovered, item)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recover stale claims: %w", err)
	}

	return recovered, nil
}

func notificationOutcomeColumns(n *domain.Notification) map[string]any {
	return map[string]any{
		"status":          n.Status,
		"retry_count":     n.RetryCount,
		"sent_at":         n.SentAt,
		"error_message":   n.ErrorMessage,
		"next_attempt_at": n.NextAttemptAt,
		"claimed_at":      n.ClaimedAt,
		"content":         n.Content,
	}
}
