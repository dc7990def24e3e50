package sender

import (
	"fmt"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// UnsupportedChannelError is returned when a channel outside the closed set is resolved.
type UnsupportedChannelError struct {
	Channel domain.Channel
}

func (e *UnsupportedChannelError) Error() string {
	return fmt.Sprintf("unsupported channel %q", e.Channel)
}

func (e *UnsupportedChannelError) Is(target error) bool {
	return target == domain.ErrUnsupportedChannel
}

// Registry maps every supported channel to its sender. The channel set is fixed at compile time.
type Registry struct {
	email Sender
	sms   Sender
	push  Sender
}

func NewRegistry(email, sms, push Sender) (*Registry, error) {
	if email == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	if sms == nil {
		return nil, fmt.Errorf("sms sender is required")
	}
	if push == nil {
		return nil, fmt.Errorf("push sender is required")
	}

	return &Registry{email: email, sms: sms, push: push}, nil
}

func (r *Registry) Resolve(channel domain.Channel) (Sender, error) {
	switch channel {
	case domain.ChannelEmail:
		return r.email, nil
	case domain.ChannelSMS:
		return r.sms, nil
	case domain.ChannelPush:
		return r.push, nil
	}
	return nil, &UnsupportedChannelError{Channel: channel}
}
