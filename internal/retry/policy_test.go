package retry

import (
	"math/rand"
	"testing"
	"time"
)

func TestPolicyNextExhausted(t *testing.T) {
	t.Parallel()

	p := NewPolicy(Config{Strategy: StrategyExponential, BaseDelay: time.Second})

	if _, ok := p.Next(3, 3); ok {
		t.Fatal("Next(3, 3) should report no further retry")
	}
	if _, ok := p.Next(4, 3); ok {
		t.Fatal("Next(4, 3) should report no further retry")
	}

	delay, ok := p.Next(2, 3)
	if !ok {
		t.Fatal("Next(2, 3) should allow a retry")
	}
	if delay != 2*time.Second {
		t.Fatalf("Next(2, 3) = %v, want 2s", delay)
	}
}

func TestPolicyStrategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cfg    Config
		counts []int
		want   []time.Duration
	}{
		{
			name:   "fixed",
			cfg:    Config{Strategy: StrategyFixed, BaseDelay: 10 * time.Second},
			counts: []int{1, 2, 5},
			want:   []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second},
		},
		{
			name:   "exponential",
			cfg:    Config{Strategy: StrategyExponential, BaseDelay: time.Second, MaxDelay: time.Minute},
			counts: []int{0, 1, 2, 3, 6, 7, 20},
			want: []time.Duration{
				time.Second, time.Second, 2 * time.Second, 4 * time.Second,
				32 * time.Second, time.Minute, time.Minute,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewPolicy(tt.cfg)
			for i, count := range tt.counts {
				if got := p.Delay(count); got != tt.want[i] {
					t.Fatalf("Delay(%d) = %v, want %v", count, got, tt.want[i])
				}
			}
		})
	}
}

func TestPolicyJitterBounds(t *testing.T) {
	t.Parallel()

	p := NewPolicy(Config{Strategy: StrategyExponentialJitter, BaseDelay: time.Second, MaxDelay: time.Hour, Jitter: 0.5})

	p.randFloat = func() float64 { return 0 }
	if got := p.Delay(2); got != 2*time.Second {
		t.Fatalf("Delay(2) with zero jitter = %v, want 2s", got)
	}

	p.randFloat = func() float64 { return 0.999 }
	got := p.Delay(2)
	if got < 2*time.Second || got >= 3*time.Second {
		t.Fatalf("Delay(2) with max jitter = %v, want within [2s, 3s)", got)
	}
}

func TestPolicyDelayNonDecreasing(t *testing.T) {
	t.Parallel()

	configs := []Config{
		{Strategy: StrategyFixed, BaseDelay: 5 * time.Second},
		{Strategy: StrategyExponential, BaseDelay: time.Second, MaxDelay: 90 * time.Second},
		{Strategy: StrategyExponentialJitter, BaseDelay: time.Second, MaxDelay: 90 * time.Second, Jitter: 1},
		{Strategy: StrategyExponentialJitter, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Minute, Jitter: 0.2},
	}

	rng := rand.New(rand.NewSource(42))
	for _, cfg := range configs {
		p := NewPolicy(cfg)
		p.randFloat = rng.Float64

		for round := 0; round < 200; round++ {
			prev := time.Duration(0)
			for count := 1; count <= 12; count++ {
				got := p.Delay(count)
				if got < prev {
					t.Fatalf("%s: Delay(%d) = %v < previous %v", cfg.Strategy, count, got, prev)
				}
				prev = got
			}
		}
	}
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	got, err := ParseStrategy(" Exponential ")
	if err != nil || got != StrategyExponential {
		t.Fatalf("ParseStrategy() = %v, %v", got, err)
	}

	got, err = ParseStrategy("")
	if err != nil || got != StrategyExponentialJitter {
		t.Fatalf("ParseStrategy(\"\") = %v, %v", got, err)
	}

	if _, err := ParseStrategy("linear"); err == nil {
		t.Fatal("ParseStrategy(linear) expected error")
	}
}
