package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrUnsupportedChannel = errors.New("unsupported channel")
)

// Error codes written to DeliveryAttempt.ErrorCode by the dispatch engine.
// Senders may also report provider-specific codes (e.g. HTTP status codes).
const (
	ErrorCodeChannelDisabled      = "CHANNEL_DISABLED"
	ErrorCodeTemplateRender       = "TEMPLATE_RENDER_ERROR"
	ErrorCodeTemplateUnavailable  = "TEMPLATE_UNAVAILABLE"
	ErrorCodeUnsupportedChannel   = "UNSUPPORTED_CHANNEL"
	ErrorCodeInternal             = "INTERNAL_ERROR"
	ErrorCodeSendTimeout          = "SEND_TIMEOUT"
	ErrorCodeTransport            = "TRANSPORT_ERROR"
	ErrorCodeCircuitOpen          = "CIRCUIT_OPEN"
	ErrorCodeRecipientUnavailable = "RECIPIENT_UNAVAILABLE"
	ErrorCodeWorkerLost           = "WORKER_LOST"
	ErrorCodeInterrupted          = "DISPATCH_INTERRUPTED"
)
