package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// DispatchMessage is the broker payload asking a worker to attempt one notification.
// It carries no state; the worker always re-reads and claims the row.
type DispatchMessage struct {
	NotificationID string         `json:"notificationId"`
	Channel        domain.Channel `json:"channel"`
	Priority       int            `json:"priority"`
}

func MessageFromRef(ref domain.NotificationRef) DispatchMessage {
	return DispatchMessage{NotificationID: ref.ID, Channel: ref.Channel, Priority: ref.Priority}
}

func (m DispatchMessage) Ref() domain.NotificationRef {
	return domain.NotificationRef{ID: m.NotificationID, Channel: m.Channel, Priority: m.Priority}
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if m.Priority < domain.MinPriority || m.Priority > domain.MaxPriority {
		return fmt.Errorf("invalid priority %d", m.Priority)
	}
	return nil
}
