package sender

import (
	"context"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// Sender delivers one rendered notification over a single channel. Implementations must
// report every failure through SendResult and never panic past this boundary.
type Sender interface {
	Send(ctx context.Context, view NotificationView) SendResult
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, view NotificationView) SendResult

func (f SenderFunc) Send(ctx context.Context, view NotificationView) SendResult {
	return f(ctx, view)
}

// NotificationView is the read-only projection of a notification handed to a sender.
type NotificationView struct {
	NotificationID string
	AttemptNumber  int
	UserID         string
	Channel        domain.Channel
	Subject        string
	Content        string
	Priority       int
	Metadata       map[string]any
	Recipient      domain.Recipient
}

// SendResult is the normalized outcome of one provider call.
type SendResult struct {
	Success      bool
	Response     map[string]any
	ErrorCode    string
	ErrorMessage string
}

func Delivered(response map[string]any) SendResult {
	return SendResult{Success: true, Response: response}
}

func Failed(code, message string, response map[string]any) SendResult {
	return SendResult{Success: false, ErrorCode: code, ErrorMessage: message, Response: response}
}
