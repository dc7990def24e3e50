package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

type NotificationStore interface {
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	Cancel(ctx context.Context, id string) error
}

type AttemptLister interface {
	ListByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error)
}

type NotificationHandler struct {
	notifications NotificationStore
	attempts      AttemptLister
}

func NewNotificationHandler(notifications NotificationStore, attempts AttemptLister) (*NotificationHandler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt lister is required")
	}
	return &NotificationHandler{notifications: notifications, attempts: attempts}, nil
}

func RegisterNotificationRoutes(router fiber.Router, notifications NotificationStore, attempts AttemptLister) error {
	h, err := NewNotificationHandler(notifications, attempts)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/attempts", h.ListAttempts)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)

	return nil
}

type notificationResponse struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	TemplateID    string         `json:"templateId"`
	Channel       string         `json:"channel"`
	Priority      int            `json:"priority"`
	Status        string         `json:"status"`
	ScheduledFor  time.Time      `json:"scheduledFor"`
	Timezone      string         `json:"timezone,omitempty"`
	SentAt        *time.Time     `json:"sentAt,omitempty"`
	RetryCount    int            `json:"retryCount"`
	MaxRetries    int            `json:"maxRetries"`
	ErrorMessage  *string        `json:"errorMessage,omitempty"`
	NextAttemptAt *time.Time     `json:"nextAttemptAt,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type attemptResponse struct {
	AttemptNumber    int            `json:"attemptNumber"`
	Status           string         `json:"status"`
	ErrorCode        *string        `json:"errorCode,omitempty"`
	ErrorMessage     *string        `json:"errorMessage,omitempty"`
	ProviderResponse map[string]any `json:"providerResponse,omitempty"`
	DeliveredAt      *time.Time     `json:"deliveredAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

type listAttemptsResponse struct {
	NotificationID string            `json:"notificationId"`
	Data           []attemptResponse `json:"data"`
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id, err := notificationID(c)
	if err != nil {
		return err
	}

	notification, err := h.notifications.GetByID(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

// ListAttempts returns the attempt history oldest first. An unknown notification is a 404
// rather than an empty list.
func (h *NotificationHandler) ListAttempts(c *fiber.Ctx) error {
	id, err := notificationID(c)
	if err != nil {
		return err
	}

	if _, err := h.notifications.GetByID(c.UserContext(), id); err != nil {
		return err
	}

	attempts, err := h.attempts.ListByNotificationID(c.UserContext(), id)
	if err != nil {
		return err
	}

	data := make([]attemptResponse, 0, len(attempts))
	for i := range attempts {
		data = append(data, toAttemptResponse(&attempts[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listAttemptsResponse{NotificationID: id, Data: data})
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id, err := notificationID(c)
	if err != nil {
		return err
	}

	if err := h.notifications.Cancel(c.UserContext(), id); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.StatusCancelled.String(),
	})
}

func notificationID(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return "", fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return id, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:            n.ID,
		UserID:        n.UserID,
		TemplateID:    n.TemplateID,
		Channel:       n.Channel.String(),
		Priority:      n.Priority,
		Status:        n.Status.String(),
		ScheduledFor:  n.ScheduledFor,
		Timezone:      n.Timezone,
		SentAt:        n.SentAt,
		RetryCount:    n.RetryCount,
		MaxRetries:    n.MaxRetries,
		ErrorMessage:  n.ErrorMessage,
		NextAttemptAt: n.NextAttemptAt,
		Metadata:      n.Metadata,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func toAttemptResponse(a *domain.DeliveryAttempt) attemptResponse {
	return attemptResponse{
		AttemptNumber:    a.AttemptNumber,
		Status:           a.Status.String(),
		ErrorCode:        a.ErrorCode,
		ErrorMessage:     a.ErrorMessage,
		ProviderResponse: a.ProviderResponse,
		DeliveredAt:      a.DeliveredAt,
		CompletedAt:      a.CompletedAt,
		CreatedAt:        a.CreatedAt,
	}
}
