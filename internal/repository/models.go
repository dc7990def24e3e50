package repository

import (
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"gorm.io/datatypes"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID            string            `gorm:"type:uuid;primaryKey"`
	UserID        string            `gorm:"type:varchar(64);not null;index"`
	TemplateID    *string           `gorm:"type:varchar(64)"`
	Channel       domain.Channel    `gorm:"type:varchar(10);not null"`
	Content       string            `gorm:"type:text"`
	Variables     datatypes.JSONMap `gorm:"type:jsonb"`
	Priority      int               `gorm:"not null"`
	ScheduledFor  time.Time         `gorm:"type:timestamptz;not null"`
	Timezone      *string           `gorm:"type:varchar(64)"`
	SentAt        *time.Time        `gorm:"type:timestamptz"`
	Status        domain.Status     `gorm:"type:varchar(20);not null;index"`
	RetryCount    int               `gorm:"not null"`
	MaxRetries    int               `gorm:"not null"`
	ErrorMessage  *string           `gorm:"type:text"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	NextAttemptAt *time.Time        `gorm:"type:timestamptz"`
	ClaimedAt     *time.Time        `gorm:"type:timestamptz"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
// (notification_id, attempt_number) carries a unique index.
type DeliveryAttemptModel struct {
	ID               string               `gorm:"type:uuid;primaryKey"`
	NotificationID   string               `gorm:"type:uuid;not null;uniqueIndex:uix_attempt_number"`
	AttemptNumber    int                  `gorm:"not null;uniqueIndex:uix_attempt_number"`
	Status           domain.AttemptStatus `gorm:"type:varchar(20);not null"`
	ProviderResponse datatypes.JSONMap    `gorm:"type:jsonb"`
	ErrorCode        *string              `gorm:"type:varchar(64)"`
	ErrorMessage     *string              `gorm:"type:text"`
	DeliveredAt      *time.Time           `gorm:"type:timestamptz"`
	CompletedAt      *time.Time           `gorm:"type:timestamptz"`
	CreatedAt        time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// PreferenceModel is the persistence model for user_preferences.
type PreferenceModel struct {
	UserID            string         `gorm:"type:varchar(64);primaryKey"`
	Channel           domain.Channel `gorm:"type:varchar(10);primaryKey"`
	Enabled           bool           `gorm:"not null"`
	QuietHoursStart   *string        `gorm:"type:varchar(5)"`
	QuietHoursEnd     *string        `gorm:"type:varchar(5)"`
	FrequencyLimit    *int
	PriorityThreshold *int
}

func (PreferenceModel) TableName() string {
	return "user_preferences"
}

// RecipientModel maps the addressing columns of the users table.
type RecipientModel struct {
	ID       string  `gorm:"type:varchar(64);primaryKey"`
	Email    *string `gorm:"type:varchar(255)"`
	Phone    *string `gorm:"type:varchar(32)"`
	Timezone *string `gorm:"type:varchar(64)"`
}

func (RecipientModel) TableName() string {
	return "users"
}

// TemplateModel is the persistence model for notification_templates.
type TemplateModel struct {
	ID        string         `gorm:"type:varchar(64);primaryKey"`
	Name      string         `gorm:"type:varchar(100);not null"`
	Channel   domain.Channel `gorm:"type:varchar(10);not null"`
	Content   string         `gorm:"type:text;not null"`
	Version   int            `gorm:"not null"`
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "notification_templates"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:            n.ID,
		UserID:        n.UserID,
		TemplateID:    optionalString(n.TemplateID),
		Channel:       n.Channel,
		Content:       n.Content,
		Variables:     jsonMap(n.Variables),
		Priority:      n.Priority,
		ScheduledFor:  n.ScheduledFor,
		Timezone:      optionalString(n.Timezone),
		SentAt:        n.SentAt,
		Status:        n.Status,
		RetryCount:    n.RetryCount,
		MaxRetries:    n.MaxRetries,
		ErrorMessage:  n.ErrorMessage,
		Metadata:      jsonMap(n.Metadata),
		NextAttemptAt: n.NextAttemptAt,
		ClaimedAt:     n.ClaimedAt,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:            m.ID,
		UserID:        m.UserID,
		TemplateID:    derefString(m.TemplateID),
		Channel:       m.Channel,
		Content:       m.Content,
		Variables:     map[string]any(m.Variables),
		Priority:      m.Priority,
		ScheduledFor:  m.ScheduledFor.UTC(),
		Timezone:      derefString(m.Timezone),
		SentAt:        m.SentAt,
		Status:        m.Status,
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		ErrorMessage:  m.ErrorMessage,
		Metadata:      map[string]any(m.Metadata),
		NextAttemptAt: m.NextAttemptAt,
		ClaimedAt:     m.ClaimedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:               a.ID,
		NotificationID:   a.NotificationID,
		AttemptNumber:    a.AttemptNumber,
		Status:           a.Status,
		ProviderResponse: jsonMap(a.ProviderResponse),
		ErrorCode:        a.ErrorCode,
		ErrorMessage:     a.ErrorMessage,
		DeliveredAt:      a.DeliveredAt,
		CompletedAt:      a.CompletedAt,
		CreatedAt:        a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:               m.ID,
		NotificationID:   m.NotificationID,
		AttemptNumber:    m.AttemptNumber,
		Status:           m.Status,
		ProviderResponse: map[string]any(m.ProviderResponse),
		ErrorCode:        m.ErrorCode,
		ErrorMessage:     m.ErrorMessage,
		DeliveredAt:      m.DeliveredAt,
		CompletedAt:      m.CompletedAt,
		CreatedAt:        m.CreatedAt,
	}
}

func preferenceModelToDomain(m *PreferenceModel) *domain.Preference {
	if m == nil {
		return nil
	}

	return &domain.Preference{
		UserID:            m.UserID,
		Channel:           m.Channel,
		Enabled:           m.Enabled,
		QuietHoursStart:   m.QuietHoursStart,
		QuietHoursEnd:     m.QuietHoursEnd,
		FrequencyLimit:    m.FrequencyLimit,
		PriorityThreshold: m.PriorityThreshold,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		UserID:          m.ID,
		Email:           derefString(m.Email),
		Phone:           derefString(m.Phone),
		DefaultTimezone: derefString(m.Timezone),
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		ID:        m.ID,
		Name:      m.Name,
		Channel:   m.Channel,
		Content:   m.Content,
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
}

func jsonMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	return datatypes.JSONMap(m)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
