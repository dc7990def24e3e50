package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig holds the circuit breaker tunables applied to one sender.
type BreakerConfig struct {
	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// FailureThreshold is the failure ratio that trips the breaker.
	FailureThreshold float64
	// MinRequests must be observed before the ratio is considered.
	MinRequests uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// errProviderUnhealthy marks a result that should count against the breaker.
var errProviderUnhealthy = errors.New("provider unhealthy")

// BreakerSender guards a Sender with a circuit breaker. Only transient provider failures trip it;
// rejections of an individual message (4xx, missing recipient) pass through as ordinary results.
type BreakerSender struct {
	next    Sender
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerSender(name string, next Sender, cfg BreakerConfig, logger *zap.Logger) *BreakerSender {
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("circuit", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &BreakerSender{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerSender) Send(ctx context.Context, view NotificationView) SendResult {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		result := b.next.Send(ctx, view)
		if isTransientFailure(result) {
			return result, errProviderUnhealthy
		}
		return result, nil
	})

	if result, ok := out.(SendResult); ok {
		return result
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Failed(domain.ErrorCodeCircuitOpen, fmt.Sprintf("circuit %s is open", b.breaker.Name()), nil)
	}
	return Failed(domain.ErrorCodeInternal, fmt.Sprintf("circuit %s: %v", b.breaker.Name(), err), nil)
}

func (b *BreakerSender) State() gobreaker.State {
	return b.breaker.State()
}
