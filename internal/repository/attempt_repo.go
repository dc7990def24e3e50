package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Begin(ctx context.Context, notificationID string, now time.Time) (*domain.DeliveryAttempt, error)
	ListByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error)
	Count(ctx context.Context, notificationID string) (int64, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

// Begin inserts a processing attempt numbered after the highest existing one. Callers must hold
// the notification's processing claim; the unique index on (notification_id, attempt_number)
// rejects a duplicate number if they do not.
func (r *GormAttemptRepo) Begin(ctx context.Context, notificationID string, now time.Time) (*domain.DeliveryAttempt, error) {
	var lastNumber int
	err := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Select("COALESCE(MAX(attempt_number), 0)").
		Where("notification_id = ?", notificationID).
		Scan(&lastNumber).Error
	if err != nil {
		return nil, fmt.Errorf("next attempt number: %w", err)
	}

	model := &DeliveryAttemptModel{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		AttemptNumber:  lastNumber + 1,
		Status:         domain.AttemptStatusProcessing,
		CreatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	return attemptModelToDomain(model), nil
}

func (r *GormAttemptRepo) ListByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	var models []DeliveryAttemptModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

func (r *GormAttemptRepo) Count(ctx context.Context, notificationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DeliveryAttemptModel{}).
		Where("notification_id = ?", notificationID).
		Count(&count).Error
	return count, err
}

// completeAttempt writes the terminal fields of an open attempt inside tx.
func completeAttempt(tx *gorm.DB, attempt *domain.DeliveryAttempt) error {
	model := attemptModelFromDomain(attempt)
	result := tx.Model(&DeliveryAttemptModel{}).
		Where("id = ? AND status = ?", model.ID, domain.AttemptStatusProcessing).
		Updates(map[string]any{
			"status":            model.Status,
			"provider_response": model.ProviderResponse,
			"error_code":        model.ErrorCode,
			"error_message":     model.ErrorMessage,
			"delivered_at":      model.DeliveredAt,
			"completed_at":      model.CompletedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("attempt %s already completed: %w", model.ID, domain.ErrConflict)
	}
	return nil
}
