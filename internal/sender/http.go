package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// httpEndpoint is the transport shared by the HTTP-based channel senders.
type httpEndpoint struct {
	client   *resty.Client
	endpoint string
}

func newHTTPEndpoint(endpoint string, client *resty.Client) (httpEndpoint, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return httpEndpoint{}, fmt.Errorf("provider endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return httpEndpoint{}, fmt.Errorf("invalid provider endpoint: %w", err)
	}

	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	// Retries belong to the dispatch engine, never to the transport.
	client.SetRetryCount(0)

	return httpEndpoint{client: client, endpoint: trimmedEndpoint}, nil
}

func (h httpEndpoint) post(ctx context.Context, body any, configure func(*resty.Request)) SendResult {
	if h.client == nil {
		return Failed(domain.ErrorCodeInternal, "sender is not initialized", nil)
	}

	req := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(body)
	if configure != nil {
		configure(req)
	}

	response, err := req.Post(h.endpoint)
	if err != nil {
		if isTimeout(err) {
			return Failed(domain.ErrorCodeSendTimeout, fmt.Sprintf("provider request timed out: %v", err), nil)
		}
		return Failed(domain.ErrorCodeTransport, fmt.Sprintf("provider request failed: %v", err), nil)
	}
	if response == nil {
		return Failed(domain.ErrorCodeTransport, "provider returned empty response", nil)
	}

	statusCode := response.StatusCode()
	payload := decodePayload(response.Body())
	if messageID := providerMessageID(response); messageID != "" {
		payload["message_id"] = messageID
	}

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return Delivered(payload)
	}

	payload["status_code"] = statusCode
	return Failed(strconv.Itoa(statusCode), providerErrorMessage(statusCode, payload), payload)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func decodePayload(body []byte) map[string]any {
	payload := map[string]any{}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return payload
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil || payload == nil {
		return map[string]any{"body": trimmed}
	}
	return payload
}

func providerErrorMessage(statusCode int, payload map[string]any) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	for _, key := range []string{"message", "error", "body"} {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return fmt.Sprintf("%s: %s", base, strings.TrimSpace(value))
		}
	}
	return base
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Message-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}

// isTransientFailure reports whether a failed result points at provider health rather than
// the message itself; only these count against a circuit breaker.
func isTransientFailure(result SendResult) bool {
	if result.Success {
		return false
	}
	switch result.ErrorCode {
	case domain.ErrorCodeTransport, domain.ErrorCodeSendTimeout:
		return true
	}
	statusCode, err := strconv.Atoi(result.ErrorCode)
	if err != nil {
		return false
	}
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
