package domain

import "time"

// AttemptStatus is the state of a single delivery attempt.
type AttemptStatus string

const (
	AttemptStatusProcessing AttemptStatus = "processing"
	AttemptStatusDelivered  AttemptStatus = "delivered"
	AttemptStatusFailed     AttemptStatus = "failed"
)

func (s AttemptStatus) String() string { return string(s) }

// DeliveryAttempt records a single delivery attempt for a notification.
// It is created in processing and completed exactly once.
type DeliveryAttempt struct {
	ID               string
	NotificationID   string
	AttemptNumber    int
	Status           AttemptStatus
	ProviderResponse map[string]any
	ErrorCode        *string
	ErrorMessage     *string
	DeliveredAt      *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
}

func (a *DeliveryAttempt) IsOpen() bool {
	return a != nil && a.Status == AttemptStatusProcessing
}
