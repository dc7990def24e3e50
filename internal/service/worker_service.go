package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notification-dispatcher/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// WorkerService feeds broker deliveries into the executor when dispatch runs across processes.
type WorkerService struct {
	dispatcher  Dispatcher
	consumer    queue.Consumer
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(dispatcher Dispatcher, consumer queue.Consumer, concurrency int, logger *zap.Logger) (*WorkerService, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		dispatcher:  dispatcher,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start runs concurrency consumers spread over the channel work queues until ctx is done.
// Every queue gets at least one consumer, so the effective count may exceed concurrency.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	consumers := max(s.concurrency, len(queueNames))

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		queueName := queueNames[i%len(queueNames)]
		consumerID := i + 1

		g.Go(func() error {
			logger := s.logger.With(zap.Int("consumerId", consumerID), zap.String("queue", queueName))
			logger.Info("consumer started")

			if err := s.consumer.Consume(groupCtx, queueName, s.handleMessage); err != nil {
				logger.Error("consumer stopped with error", zap.Error(err))
				return err
			}

			logger.Info("consumer stopped")
			return nil
		})
	}

	return g.Wait()
}

// handleMessage dispatches one message. Dispatch errors have already released the claim, so
// the message is acked and the scheduler rediscovers the row; only shutdown requeues.
func (s *WorkerService) handleMessage(ctx context.Context, msg queue.DispatchMessage) error {
	outcome, err := s.dispatcher.Dispatch(ctx, msg.NotificationID)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("dispatch interrupted: %w", ctx.Err())
		}
		s.logger.Error("dispatch failed",
			zap.String("notificationId", msg.NotificationID),
			zap.Error(err),
		)
		return nil
	}

	s.logger.Debug("message dispatched",
		zap.String("notificationId", msg.NotificationID),
		zap.String("outcome", outcome.Kind.String()),
	)
	return nil
}
