package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Dispatch modes.
const (
	ModeLocal    = "local"
	ModeRabbitMQ = "rabbitmq"
)

// Config is read from the environment. Durations and ratios arrive as strings and are parsed
// by Load into the typed fields below them.
type Config struct {
	DatabaseDSN  string `env:"DATABASE_DSN,required=true"`
	RedisURL     string `env:"REDIS_URL"`
	RabbitMQURL  string `env:"RABBITMQ_URL"`
	DispatchMode string `env:"DISPATCH_MODE,default=local"`
	HTTPPort     int    `env:"HTTP_PORT,default=8080"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`

	DBMaxOpenConns int `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int `env:"DB_MAX_IDLE_CONNS,default=10"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=10"`
	QueueSize         int `env:"QUEUE_SIZE,default=1000"`
	BatchSize         int `env:"BATCH_SIZE,default=100"`
	RateLimitPerSec   int `env:"RATE_LIMIT_PER_SEC,default=100"`

	SchedulerIntervalRaw   string `env:"SCHEDULER_INTERVAL,default=60s"`
	SendTimeoutRaw         string `env:"SEND_TIMEOUT,default=30s"`
	StaleClaimTimeoutRaw   string `env:"STALE_CLAIM_TIMEOUT,default=5m"`
	RetryResubmitWithinRaw string `env:"RETRY_RESUBMIT_WITHIN,default=30s"`

	RetryStrategy     string `env:"RETRY_STRATEGY,default=exponential_jitter"`
	RetryBaseDelayRaw string `env:"RETRY_BASE_DELAY,default=30s"`
	RetryMaxDelayRaw  string `env:"RETRY_MAX_DELAY,default=30m"`
	RetryJitterRaw    string `env:"RETRY_JITTER,default=0.2"`

	EmailProviderURL string `env:"EMAIL_PROVIDER_URL,required=true"`
	EmailAPIKey      string `env:"EMAIL_API_KEY"`
	EmailFrom        string `env:"EMAIL_FROM,default=no-reply@localhost"`
	SMSProviderURL   string `env:"SMS_PROVIDER_URL,required=true"`
	SMSAccountSID    string `env:"SMS_ACCOUNT_SID"`
	SMSAuthToken     string `env:"SMS_AUTH_TOKEN"`
	SMSFrom          string `env:"SMS_FROM"`
	PushProviderURL  string `env:"PUSH_PROVIDER_URL,required=true"`
	PushAPIKey       string `env:"PUSH_API_KEY"`

	BreakerMaxRequests     int    `env:"BREAKER_MAX_REQUESTS,default=3"`
	BreakerMinRequests     int    `env:"BREAKER_MIN_REQUESTS,default=5"`
	BreakerFailureRatioRaw string `env:"BREAKER_FAILURE_RATIO,default=0.6"`
	BreakerIntervalRaw     string `env:"BREAKER_INTERVAL,default=30s"`
	BreakerOpenTimeoutRaw  string `env:"BREAKER_OPEN_TIMEOUT,default=60s"`

	OTLPEndpoint        string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampleRatioRaw string `env:"OTEL_TRACE_SAMPLE_RATIO,default=1"`

	SchedulerInterval   time.Duration
	SendTimeout         time.Duration
	StaleClaimTimeout   time.Duration
	RetryResubmitWithin time.Duration
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	RetryJitter         float64
	BreakerFailureRatio float64
	BreakerInterval     time.Duration
	BreakerOpenTimeout  time.Duration
	TraceSampleRatio    float64
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) parse() error {
	var errs []error

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"SCHEDULER_INTERVAL", c.SchedulerIntervalRaw, &c.SchedulerInterval},
		{"SEND_TIMEOUT", c.SendTimeoutRaw, &c.SendTimeout},
		{"STALE_CLAIM_TIMEOUT", c.StaleClaimTimeoutRaw, &c.StaleClaimTimeout},
		{"RETRY_RESUBMIT_WITHIN", c.RetryResubmitWithinRaw, &c.RetryResubmitWithin},
		{"RETRY_BASE_DELAY", c.RetryBaseDelayRaw, &c.RetryBaseDelay},
		{"RETRY_MAX_DELAY", c.RetryMaxDelayRaw, &c.RetryMaxDelay},
		{"BREAKER_INTERVAL", c.BreakerIntervalRaw, &c.BreakerInterval},
		{"BREAKER_OPEN_TIMEOUT", c.BreakerOpenTimeoutRaw, &c.BreakerOpenTimeout},
	}
	for _, d := range durations {
		value, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || value < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", d.name, d.raw))
			continue
		}
		*d.dst = value
	}

	ratios := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"RETRY_JITTER", c.RetryJitterRaw, &c.RetryJitter},
		{"BREAKER_FAILURE_RATIO", c.BreakerFailureRatioRaw, &c.BreakerFailureRatio},
		{"OTEL_TRACE_SAMPLE_RATIO", c.TraceSampleRatioRaw, &c.TraceSampleRatio},
	}
	for _, r := range ratios {
		value, err := strconv.ParseFloat(strings.TrimSpace(r.raw), 64)
		if err != nil || value < 0 || value > 1 {
			errs = append(errs, fmt.Errorf("%s: must be a number between 0 and 1, got %q", r.name, r.raw))
			continue
		}
		*r.dst = value
	}

	c.DispatchMode = strings.ToLower(strings.TrimSpace(c.DispatchMode))
	switch c.DispatchMode {
	case ModeLocal:
	case ModeRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			errs = append(errs, fmt.Errorf("RABBITMQ_URL is required when DISPATCH_MODE=%s", ModeRabbitMQ))
		}
	default:
		errs = append(errs, fmt.Errorf("DISPATCH_MODE: unknown mode %q", c.DispatchMode))
	}

	return errors.Join(errs...)
}
