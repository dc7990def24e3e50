package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/config"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/handler"
	"github.com/kursadbilgin/notification-dispatcher/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/notification-dispatcher/internal/infra/redis"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	"github.com/kursadbilgin/notification-dispatcher/internal/queue"
	"github.com/kursadbilgin/notification-dispatcher/internal/ratelimit"
	"github.com/kursadbilgin/notification-dispatcher/internal/repository"
	"github.com/kursadbilgin/notification-dispatcher/internal/retry"
	"github.com/kursadbilgin/notification-dispatcher/internal/sender"
	"github.com/kursadbilgin/notification-dispatcher/internal/service"
	"github.com/kursadbilgin/notification-dispatcher/internal/template"
	"github.com/kursadbilgin/notification-dispatcher/internal/transport"
	"github.com/kursadbilgin/notification-dispatcher/internal/worker"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 30 * time.Second
	connMaxLifetime  = 30 * time.Minute
	consumerPrefetch = 1
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("notification dispatcher stopped with error", zap.Error(err))
	}
	logger.Info("notification dispatcher stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	var rdb *goredis.Client
	var rateLimiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter(cfg.RateLimitPerSec)
	var frequency ratelimit.FrequencyLimiter = ratelimit.NewLocalFrequencyLimiter()
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		if rateLimiter, err = infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec); err != nil {
			return err
		}
		if frequency, err = infraredis.NewRedisFrequencyLimiter(rdb); err != nil {
			return err
		}
		logger.Info("using redis-backed rate and frequency limits")
	}

	strategy, err := retry.ParseStrategy(cfg.RetryStrategy)
	if err != nil {
		return err
	}
	policy := retry.NewPolicy(retry.Config{
		Strategy:  strategy,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
		Jitter:    cfg.RetryJitter,
	})

	registry, err := newSenderRegistry(cfg, logger)
	if err != nil {
		return err
	}

	notificationRepo := repository.NewGormNotificationRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	recorder, err := service.NewAttemptRecorder(attemptRepo)
	if err != nil {
		return err
	}

	executor, err := service.NewExecutor(service.ExecutorDeps{
		Notifications: notificationRepo,
		Attempts:      recorder,
		Senders:       registry,
		Policy:        policy,
		Renderer:      template.NewRenderer(repository.NewGormTemplateRepo(db)),
		Preferences:   repository.NewGormPreferenceRepo(db),
		Recipients:    repository.NewGormRecipientRepo(db),
		RateLimiter:   rateLimiter,
		Frequency:     frequency,
	}, cfg.SendTimeout, logger, metrics)
	if err != nil {
		return err
	}

	healthDeps := handler.HealthDeps{DB: sqlDB, Redis: rdb}

	var (
		submitter     service.Submitter
		pool          *worker.Pool
		workerService *service.WorkerService
		broker        *queue.RabbitMQ
	)

	switch cfg.DispatchMode {
	case config.ModeRabbitMQ:
		broker, err = queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer broker.Close()
		healthDeps.Broker = broker

		brokerSubmitter, err := queue.NewSubmitter(queue.NewRabbitMQPublisher(broker))
		if err != nil {
			return err
		}
		submitter = brokerSubmitter

		consumer := queue.NewRabbitMQConsumer(broker, consumerPrefetch, logger)
		workerService, err = service.NewWorkerService(executor, consumer, cfg.WorkerConcurrency, logger)
		if err != nil {
			return err
		}
	default:
		handle := service.PoolHandler(executor, service.ResubmitFunc(func(ref domain.NotificationRef, delay time.Duration) error {
			return pool.SubmitAfter(ref, delay)
		}), cfg.RetryResubmitWithin, logger)

		pool, err = worker.NewPool(worker.Config{Workers: cfg.WorkerConcurrency, QueueSize: cfg.QueueSize}, handle, logger, metrics)
		if err != nil {
			return err
		}
		// Jobs outlive the signal so Drain can finish them.
		if err := pool.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		defer pool.Stop()
		submitter = pool
	}

	scheduler, err := service.NewScheduler(notificationRepo, submitter, service.SchedulerConfig{
		Interval:   cfg.SchedulerInterval,
		BatchSize:  cfg.BatchSize,
		StaleAfter: cfg.StaleClaimTimeout,
	}, logger, metrics)
	if err != nil {
		return err
	}

	app := transport.NewApp(logger, metrics)
	handler.RegisterHealthRoutes(app, healthDeps)
	if err := handler.RegisterNotificationRoutes(app, notificationRepo, attemptRepo); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Start(gctx)
	})
	if workerService != nil {
		g.Go(func() error {
			return workerService.Start(gctx)
		})
	}
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("http server listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("notification dispatcher started",
		zap.String("mode", cfg.DispatchMode),
		zap.Int("workers", cfg.WorkerConcurrency),
		zap.Duration("schedulerInterval", cfg.SchedulerInterval),
	)

	runErr := g.Wait()

	if pool != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := pool.Drain(drainCtx); err != nil {
			logger.Warn("worker pool drain interrupted, cancelling in-flight dispatches", zap.Error(err))
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func newSenderRegistry(cfg *config.Config, logger *zap.Logger) (*sender.Registry, error) {
	breakerCfg := sender.BreakerConfig{
		MaxRequests:      uint32(cfg.BreakerMaxRequests),
		Interval:         cfg.BreakerInterval,
		Timeout:          cfg.BreakerOpenTimeout,
		FailureThreshold: cfg.BreakerFailureRatio,
		MinRequests:      uint32(cfg.BreakerMinRequests),
	}
	client := func() *resty.Client {
		return resty.New().SetTimeout(cfg.SendTimeout)
	}

	email, err := sender.NewEmailSender(cfg.EmailProviderURL, cfg.EmailAPIKey, cfg.EmailFrom, client())
	if err != nil {
		return nil, fmt.Errorf("email sender: %w", err)
	}
	sms, err := sender.NewSMSSender(cfg.SMSProviderURL, cfg.SMSAccountSID, cfg.SMSAuthToken, cfg.SMSFrom, client())
	if err != nil {
		return nil, fmt.Errorf("sms sender: %w", err)
	}
	push, err := sender.NewPushSender(cfg.PushProviderURL, cfg.PushAPIKey, client())
	if err != nil {
		return nil, fmt.Errorf("push sender: %w", err)
	}

	return sender.NewRegistry(
		sender.NewBreakerSender("email", email, breakerCfg, logger),
		sender.NewBreakerSender("sms", sms, breakerCfg, logger),
		sender.NewBreakerSender("push", push, breakerCfg, logger),
	)
}
