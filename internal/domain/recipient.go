package domain

import "time"

// Recipient carries the addressing data senders need for a user.
type Recipient struct {
	UserID          string
	Email           string
	Phone           string
	DefaultTimezone string
}

// Template is the stored message template a notification is rendered from.
type Template struct {
	ID        string
	Name      string
	Channel   Channel
	Content   string
	Version   int
	UpdatedAt time.Time
}
