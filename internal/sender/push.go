package sender

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

type pushRequest struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PushSender forwards notifications to a push gateway keyed by user id.
type PushSender struct {
	http   httpEndpoint
	apiKey string
}

func NewPushSender(endpoint, apiKey string, client *resty.Client) (*PushSender, error) {
	h, err := newHTTPEndpoint(endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("push sender: %w", err)
	}

	return &PushSender{http: h, apiKey: strings.TrimSpace(apiKey)}, nil
}

func (s *PushSender) Send(ctx context.Context, view NotificationView) SendResult {
	body := pushRequest{
		UserID:   view.UserID,
		Title:    view.Subject,
		Body:     view.Content,
		Metadata: view.Metadata,
	}

	return s.http.post(ctx, body, func(req *resty.Request) {
		if s.apiKey != "" {
			req.SetAuthToken(s.apiKey)
		}
		req.SetHeader("Idempotency-Key", idempotencyKey(view))
	})
}
