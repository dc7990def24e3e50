package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"gorm.io/gorm"
)

type PreferenceRepository interface {
	Get(ctx context.Context, userID string, channel domain.Channel) (*domain.Preference, error)
}

type GormPreferenceRepo struct {
	db *gorm.DB
}

func NewGormPreferenceRepo(db *gorm.DB) *GormPreferenceRepo {
	return &GormPreferenceRepo{db: db}
}

// Get returns nil without error when the user has no preference for the channel.
func (r *GormPreferenceRepo) Get(ctx context.Context, userID string, channel domain.Channel) (*domain.Preference, error) {
	var model PreferenceModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND channel = ?", userID, channel).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return preferenceModelToDomain(&model), nil
}
