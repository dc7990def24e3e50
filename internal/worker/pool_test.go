package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

func ref(id string) domain.NotificationRef {
	return domain.NotificationRef{ID: id, Channel: domain.ChannelEmail, Priority: 3}
}

func newTestPool(t *testing.T, cfg Config, handler Handler) *Pool {
	t.Helper()

	p, err := NewPool(cfg, handler, nil, nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func TestPoolRunsSubmittedJobs(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string

	p := newTestPool(t, Config{Workers: 3, QueueSize: 10}, func(ctx context.Context, r domain.NotificationRef) {
		mu.Lock()
		seen = append(seen, r.ID)
		mu.Unlock()
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for _, id := range []string{"n-1", "n-2", "n-3"} {
		if err := p.Submit(context.Background(), ref(id)); err != nil {
			t.Fatalf("Submit(%s) error = %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	sort.Strings(seen)
	if diff := cmp.Diff([]string{"n-1", "n-2", "n-3"}, seen); diff != "" {
		t.Fatalf("processed mismatch (-want +got):\n%s", diff)
	}

	if err := p.Submit(context.Background(), ref("n-4")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit() after Drain error = %v, want ErrStopped", err)
	}
	if err := p.SubmitAfter(ref("n-4"), time.Millisecond); !errors.Is(err, ErrStopped) {
		t.Fatalf("SubmitAfter() after Drain error = %v, want ErrStopped", err)
	}
}

func TestPoolRejectsDuplicateAndFullQueue(t *testing.T) {
	t.Parallel()

	started := make(chan string, 4)
	release := make(chan struct{})

	p := newTestPool(t, Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, r domain.NotificationRef) {
		started <- r.ID
		select {
		case <-release:
		case <-ctx.Done():
		}
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := p.Submit(context.Background(), ref("n-1")); err != nil {
		t.Fatalf("Submit(n-1) error = %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("n-1 was not picked up")
	}

	if err := p.Submit(context.Background(), ref("n-1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Submit(n-1) while running error = %v, want ErrDuplicate", err)
	}
	if err := p.Submit(context.Background(), ref("n-2")); err != nil {
		t.Fatalf("Submit(n-2) error = %v", err)
	}
	if err := p.Submit(context.Background(), ref("n-2")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Submit(n-2) while queued error = %v, want ErrDuplicate", err)
	}
	if err := p.Submit(context.Background(), ref("n-3")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit(n-3) error = %v, want ErrQueueFull", err)
	}
	if got := p.QueueDepth(); got != 1 {
		t.Fatalf("QueueDepth() = %d, want 1", got)
	}

	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
}

func TestPoolSubmitAfter(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	p := newTestPool(t, Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, r domain.NotificationRef) {
		got <- r.ID
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	submitted := time.Now()
	if err := p.SubmitAfter(ref("n-1"), 20*time.Millisecond); err != nil {
		t.Fatalf("SubmitAfter() error = %v", err)
	}

	select {
	case id := <-got:
		if id != "n-1" {
			t.Fatalf("handled %q, want n-1", id)
		}
		if elapsed := time.Since(submitted); elapsed < 20*time.Millisecond {
			t.Fatalf("handled after %v, want at least 20ms", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed job never ran")
	}
}

func TestPoolStopCancelsRunningJobs(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	delayedRan := make(chan struct{}, 1)

	p, err := NewPool(Config{Workers: 1, QueueSize: 2}, func(ctx context.Context, r domain.NotificationRef) {
		if r.ID == "delayed" {
			delayedRan <- struct{}{}
			return
		}
		close(started)
		<-ctx.Done()
		close(cancelled)
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Submit(context.Background(), ref("n-1")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.SubmitAfter(ref("delayed"), time.Hour); err != nil {
		t.Fatalf("SubmitAfter() error = %v", err)
	}
	<-started

	p.Stop()

	select {
	case <-cancelled:
	default:
		t.Fatal("Stop() returned before the running job observed cancellation")
	}
	select {
	case <-delayedRan:
		t.Fatal("delayed job should have been dropped")
	default:
	}

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start() after Stop should fail")
	}
}

func TestPoolRecoversPanickingHandler(t *testing.T) {
	t.Parallel()

	calls := make(chan int, 2)
	var n int
	var mu sync.Mutex

	p := newTestPool(t, Config{Workers: 1, QueueSize: 2}, func(ctx context.Context, r domain.NotificationRef) {
		mu.Lock()
		n++
		current := n
		mu.Unlock()

		calls <- current
		if current == 1 {
			panic("boom")
		}
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Submit(context.Background(), ref("n-1")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-calls

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := p.Submit(context.Background(), ref("n-1"))
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicate) || time.Now().After(deadline) {
			t.Fatalf("Submit() after panic error = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case got := <-calls:
		if got != 2 {
			t.Fatalf("second call = %d, want 2", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}
