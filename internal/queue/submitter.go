package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// Submitter hands due notifications to the broker so any worker process can pick them up.
type Submitter struct {
	publisher Publisher
}

func NewSubmitter(publisher Publisher) (*Submitter, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &Submitter{publisher: publisher}, nil
}

func (s *Submitter) Submit(ctx context.Context, ref domain.NotificationRef) error {
	return s.publisher.Publish(ctx, QueueName(ref.Channel), MessageFromRef(ref))
}
