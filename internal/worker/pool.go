// Package worker runs dispatch jobs on a bounded, in-process pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrDuplicate = errors.New("notification is already queued or running")
	ErrStopped   = errors.New("worker pool is stopped")
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 1000
)

// Handler runs one job. It must return once ctx is cancelled.
type Handler func(ctx context.Context, ref domain.NotificationRef)

type Config struct {
	Workers   int
	QueueSize int
}

type poolState int

const (
	stateIdle poolState = iota
	stateRunning
	stateDraining
	stateStopped
)

// Pool is a fixed set of workers reading from a bounded queue. A notification id is accepted
// at most once while it is queued or running in this process.
type Pool struct {
	handler Handler
	workers int
	jobs    chan domain.NotificationRef
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	state   poolState
	pending map[string]struct{}
	timers  map[*time.Timer]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPool(cfg Config, handler Handler, logger *zap.Logger, metrics *observability.Metrics) (*Pool, error) {
	if handler == nil {
		return nil, fmt.Errorf("worker handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Pool{
		handler: handler,
		workers: cfg.Workers,
		jobs:    make(chan domain.NotificationRef, cfg.QueueSize),
		logger:  logger,
		metrics: metrics,
		pending: make(map[string]struct{}),
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the workers. Cancelling ctx has the same effect as Stop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateIdle {
		return fmt.Errorf("worker pool already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = stateRunning

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(gctx)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(p.done)
	}()

	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("queueSize", cap(p.jobs)))
	return nil
}

// Submit queues ref without blocking.
func (p *Pool) Submit(_ context.Context, ref domain.NotificationRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateDraining || p.state == stateStopped {
		return ErrStopped
	}
	if _, ok := p.pending[ref.ID]; ok {
		return ErrDuplicate
	}

	select {
	case p.jobs <- ref:
		p.pending[ref.ID] = struct{}{}
		p.metrics.SetQueueDepth(len(p.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAfter queues ref once delay has elapsed. Timers still waiting when the pool drains or
// stops are dropped; the scheduler picks those notifications up from the store instead.
func (p *Pool) SubmitAfter(ref domain.NotificationRef, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateDraining || p.state == stateStopped {
		return ErrStopped
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()

		if err := p.Submit(context.Background(), ref); err != nil && !errors.Is(err, ErrStopped) {
			p.logger.Warn("delayed resubmission dropped",
				zap.String("notificationId", ref.ID),
				zap.Error(err),
			)
		}
	})
	p.timers[timer] = struct{}{}
	return nil
}

// Drain stops intake and waits for queued jobs to finish, or for ctx to end.
func (p *Pool) Drain(ctx context.Context) error {
	if !p.closeIntake(stateDraining) {
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels running jobs, discards the queue and waits for workers to exit.
func (p *Pool) Stop() {
	started := p.closeIntake(stateStopped)

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-p.done
	}
}

// closeIntake moves the pool to next and reports whether workers were ever started.
func (p *Pool) closeIntake(next poolState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for timer := range p.timers {
		timer.Stop()
		delete(p.timers, timer)
	}

	wasStarted := p.cancel != nil
	if p.state == stateRunning || p.state == stateIdle {
		close(p.jobs)
	}
	if p.state != stateStopped {
		p.state = next
	}
	return wasStarted
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, ref)
		}
	}
}

func (p *Pool) run(ctx context.Context, ref domain.NotificationRef) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked",
				zap.String("notificationId", ref.ID),
				zap.Any("panic", r),
			)
		}

		p.mu.Lock()
		delete(p.pending, ref.ID)
		p.metrics.SetQueueDepth(len(p.jobs))
		p.mu.Unlock()
	}()

	p.handler(ctx, ref)
}

// QueueDepth returns the number of jobs waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}
