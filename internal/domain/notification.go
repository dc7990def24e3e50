package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusSent            Status = "sent"
	StatusFailed          Status = "failed"
	StatusFailedPermanent Status = "failed_permanent"
	StatusCancelled       Status = "cancelled"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed, StatusFailedPermanent, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition can happen.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailedPermanent, StatusCancelled:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Channels lists every supported channel.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Priority bounds. Priority is a queue-ordering hint; 1 is the lowest urgency.
const (
	MinPriority = 1
	MaxPriority = 5

	DefaultMaxRetries = 3
)

// Notification is the unit of delivery work.
type Notification struct {
	ID            string
	UserID        string
	TemplateID    string
	Channel       Channel
	Content       string
	Variables     map[string]any
	Priority      int
	ScheduledFor  time.Time
	Timezone      string
	SentAt        *time.Time
	Status        Status
	RetryCount    int
	MaxRetries    int
	ErrorMessage  *string
	Metadata      map[string]any
	NextAttemptAt *time.Time
	ClaimedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NotificationRef is the minimal projection handed from the scheduler to workers.
type NotificationRef struct {
	ID       string
	Channel  Channel
	Priority int
}

func (n *Notification) Ref() NotificationRef {
	return NotificationRef{ID: n.ID, Channel: n.Channel, Priority: n.Priority}
}

// ClaimableAt reports whether the notification may be claimed for a dispatch attempt at now.
func (n *Notification) ClaimableAt(now time.Time) bool {
	if n == nil || n.RetryCount >= n.MaxRetries {
		return false
	}

	switch n.Status {
	case StatusPending:
		if n.ScheduledFor.After(now) {
			return false
		}
		return n.NextAttemptAt == nil || !n.NextAttemptAt.After(now)
	case StatusFailed:
		return n.NextAttemptAt != nil && !n.NextAttemptAt.After(now)
	}
	return false
}

// Location resolves the notification's display timezone, falling back to fallback and then UTC.
func (n *Notification) Location(fallback string) *time.Location {
	for _, name := range []string{n.Timezone, fallback} {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if n.Priority < MinPriority || n.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d (got %d)", ErrValidation, MinPriority, MaxPriority, n.Priority)
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrValidation)
	}
	if n.RetryCount < 0 {
		return fmt.Errorf("%w: retry count must not be negative", ErrValidation)
	}
	if strings.TrimSpace(n.TemplateID) == "" && strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("%w: template id or content is required", ErrValidation)
	}
	return nil
}

// MarkSent moves a claimed notification to sent.
func (n *Notification) MarkSent(at time.Time) {
	sentAt := at
	n.Status = StatusSent
	n.SentAt = &sentAt
	n.ErrorMessage = nil
	n.NextAttemptAt = nil
	n.ClaimedAt = nil
}

// MarkFailed leaves the notification waiting for another attempt at retryAt.
func (n *Notification) MarkFailed(message string, retryAt time.Time) {
	n.Status = StatusFailed
	n.ErrorMessage = &message
	n.NextAttemptAt = &retryAt
	n.ClaimedAt = nil
}

// MarkFailedPermanent ends the notification without touching retry_count.
func (n *Notification) MarkFailedPermanent(message string) {
	n.Status = StatusFailedPermanent
	n.ErrorMessage = &message
	n.NextAttemptAt = nil
	n.ClaimedAt = nil
}

// RetriesExhausted reports whether retry_count has reached max_retries.
func (n *Notification) RetriesExhausted() bool {
	return n.RetryCount >= n.MaxRetries
}
