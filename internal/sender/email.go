package sender

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

type emailRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// EmailSender posts rendered notifications to a transactional mail API.
type EmailSender struct {
	http   httpEndpoint
	apiKey string
	from   string
}

func NewEmailSender(endpoint, apiKey, from string, client *resty.Client) (*EmailSender, error) {
	h, err := newHTTPEndpoint(endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("email sender: %w", err)
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("email sender: from address is required")
	}

	return &EmailSender{http: h, apiKey: strings.TrimSpace(apiKey), from: strings.TrimSpace(from)}, nil
}

func (s *EmailSender) Send(ctx context.Context, view NotificationView) SendResult {
	to := strings.TrimSpace(view.Recipient.Email)
	if to == "" {
		return Failed(domain.ErrorCodeRecipientUnavailable, fmt.Sprintf("user %s has no email address", view.UserID), nil)
	}

	body := emailRequest{
		To:      to,
		From:    s.from,
		Subject: view.Subject,
		HTML:    view.Content,
	}

	return s.http.post(ctx, body, func(req *resty.Request) {
		if s.apiKey != "" {
			req.SetAuthToken(s.apiKey)
		}
		req.SetHeader("Idempotency-Key", idempotencyKey(view))
	})
}

// idempotencyKey is stable per attempt so a provider can drop duplicate submissions of the same try.
func idempotencyKey(view NotificationView) string {
	return fmt.Sprintf("%s-%d", view.NotificationID, view.AttemptNumber)
}
