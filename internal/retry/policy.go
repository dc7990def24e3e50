package retry

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Strategy selects how the delay grows with the retry count.
type Strategy string

const (
	StrategyFixed             Strategy = "fixed"
	StrategyExponential       Strategy = "exponential"
	StrategyExponentialJitter Strategy = "exponential_jitter"
)

const (
	defaultBaseDelay = 30 * time.Second
	defaultMaxDelay  = 30 * time.Minute
)

func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StrategyFixed, StrategyExponential, StrategyExponentialJitter:
		return st, nil
	case "":
		return StrategyExponentialJitter, nil
	}
	return "", fmt.Errorf("invalid retry strategy %q", s)
}

// Config holds the tunables of a Policy.
type Config struct {
	Strategy  Strategy
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the fraction of the current step that may be added at random, clamped to [0, 1].
	Jitter float64
}

// Policy maps a retry count to the delay before the next attempt becomes eligible.
// It never schedules anything itself.
type Policy struct {
	strategy  Strategy
	baseDelay time.Duration
	maxDelay  time.Duration
	jitter    float64
	randFloat func() float64
}

func NewPolicy(cfg Config) *Policy {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyExponentialJitter
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if maxDelay < base {
		maxDelay = base
	}

	jitter := cfg.Jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}

	return &Policy{
		strategy:  strategy,
		baseDelay: base,
		maxDelay:  maxDelay,
		jitter:    jitter,
		randFloat: rand.Float64,
	}
}

// Next returns the delay after the retryCount-th failure, or false once retries are exhausted.
// For a fixed configuration the delay is non-decreasing in retryCount: jitter never exceeds the
// current step and the cap is applied last.
func (p *Policy) Next(retryCount, maxRetries int) (time.Duration, bool) {
	if retryCount >= maxRetries {
		return 0, false
	}
	return p.Delay(retryCount), true
}

// Delay computes the backoff for retryCount without consulting a retry budget.
func (p *Policy) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}

	if p.strategy == StrategyFixed {
		return p.baseDelay
	}

	step := p.baseDelay
	for i := 1; i < retryCount; i++ {
		step *= 2
		if step >= p.maxDelay {
			return p.maxDelay
		}
	}

	delay := step
	if p.strategy == StrategyExponentialJitter && p.jitter > 0 && p.randFloat != nil {
		delay += time.Duration(p.randFloat() * p.jitter * float64(step))
	}

	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

func (p *Policy) Strategy() Strategy { return p.strategy }
