package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	"github.com/kursadbilgin/notification-dispatcher/internal/repository"
	"github.com/kursadbilgin/notification-dispatcher/internal/worker"
	"go.uber.org/zap"
)

const (
	defaultSchedulerInterval  = 60 * time.Second
	defaultSchedulerBatchSize = 100
)

// DueSource lists due notifications and closes stale claims.
type DueSource interface {
	GetDue(ctx context.Context, now time.Time, limit int) ([]domain.NotificationRef, error)
	RecoverStale(ctx context.Context, cutoff, now time.Time, limit int) ([]repository.RecoveredClaim, error)
}

// Submitter accepts due notifications for execution. It must not block on the dispatch itself.
type Submitter interface {
	Submit(ctx context.Context, ref domain.NotificationRef) error
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	// StaleAfter enables stale-claim recovery for processing claims older than this. Zero disables it.
	StaleAfter time.Duration
}

// Scheduler periodically hands due notifications to a Submitter.
type Scheduler struct {
	source     DueSource
	submitter  Submitter
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	now        func() time.Time
}

func NewScheduler(
	source DueSource,
	submitter Submitter,
	cfg SchedulerConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*Scheduler, error) {
	if source == nil {
		return nil, fmt.Errorf("due source is required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSchedulerInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSchedulerBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		source:     source,
		submitter:  submitter,
		logger:     logger,
		metrics:    metrics,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}, nil
}

// Start scans immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.runTick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	err := s.tick(ctx)
	if ctx.Err() != nil {
		return
	}
	s.metrics.IncSchedulerTick(err != nil)
	if err != nil {
		s.logger.Error("scheduler scan failed", zap.Error(err))
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	now := s.now().UTC()

	if s.staleAfter > 0 {
		s.recoverStale(ctx, now)
	}

	refs, err := s.source.GetDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch due notifications: %w", err)
	}

	submitted := 0
	defer func() { s.metrics.AddSubmitted(submitted) }()

	for i, ref := range refs {
		err := s.submitter.Submit(ctx, ref)
		switch {
		case err == nil:
			submitted++
		case errors.Is(err, worker.ErrDuplicate):
			s.logger.Debug("notification already queued", zap.String("notificationId", ref.ID))
		case errors.Is(err, worker.ErrQueueFull):
			s.logger.Info("worker queue full; remaining due notifications wait for the next scan",
				zap.Int("remaining", len(refs)-i),
			)
			return nil
		case errors.Is(err, worker.ErrStopped), ctx.Err() != nil:
			return nil
		default:
			s.logger.Error("failed to submit due notification",
				zap.String("notificationId", ref.ID),
				zap.String("channel", ref.Channel.String()),
				zap.Error(err),
			)
		}
	}

	if len(refs) > 0 {
		s.logger.Debug("scheduler scan submitted due notifications",
			zap.Int("due", len(refs)),
			zap.Int("submitted", submitted),
		)
	}
	return nil
}

func (s *Scheduler) recoverStale(ctx context.Context, now time.Time) {
	recovered, err := s.source.RecoverStale(ctx, now.Add(-s.staleAfter), now, s.batchSize)
	if err != nil {
		s.logger.Error("stale claim recovery failed", zap.Error(err))
		return
	}

	for _, item := range recovered {
		s.metrics.IncStaleRecovered(item.Status.String())
		s.logger.Warn("recovered stale processing claim",
			zap.String("notificationId", item.NotificationID),
			zap.Int("attemptNumber", item.AttemptNumber),
			zap.String("status", item.Status.String()),
		)
	}
}
