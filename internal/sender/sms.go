package sender

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// SMSSender posts text messages to a carrier API using account credentials.
type SMSSender struct {
	http       httpEndpoint
	accountSID string
	authToken  string
	from       string
}

func NewSMSSender(endpoint, accountSID, authToken, from string, client *resty.Client) (*SMSSender, error) {
	h, err := newHTTPEndpoint(endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("sms sender: %w", err)
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("sms sender: from number is required")
	}

	return &SMSSender{
		http:       h,
		accountSID: strings.TrimSpace(accountSID),
		authToken:  authToken,
		from:       strings.TrimSpace(from),
	}, nil
}

func (s *SMSSender) Send(ctx context.Context, view NotificationView) SendResult {
	to := strings.TrimSpace(view.Recipient.Phone)
	if to == "" {
		return Failed(domain.ErrorCodeRecipientUnavailable, fmt.Sprintf("user %s has no phone number", view.UserID), nil)
	}

	body := smsRequest{To: to, From: s.from, Body: view.Content}

	return s.http.post(ctx, body, func(req *resty.Request) {
		if s.accountSID != "" {
			req.SetBasicAuth(s.accountSID, s.authToken)
		}
	})
}
