package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
const queueMaxPriority int32 = domain.MaxPriority

// QueueName returns the channel work queue name, e.g. dispatch.sms.
func QueueName(channel domain.Channel) string {
	return "dispatch." + channelRoutingKey(channel)
}

// DLQName returns the dead-letter queue name for a channel, e.g. dispatch.dlq.sms.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("dispatch.dlq.%s", channelRoutingKey(channel))
}

// WorkQueueNames returns one work queue per supported channel.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(domain.Channels))
	for _, channel := range domain.Channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

func DLQNames() []string {
	queues := make([]string, 0, len(domain.Channels))
	for _, channel := range domain.Channels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}

// PriorityValue maps a notification priority onto the RabbitMQ message priority.
// Out-of-range values fall back to 0, which the broker treats as lowest.
func PriorityValue(priority int) uint8 {
	if priority < domain.MinPriority || priority > domain.MaxPriority {
		return 0
	}
	return uint8(priority)
}

func channelRoutingKey(channel domain.Channel) string {
	return strings.ToLower(channel.String())
}
