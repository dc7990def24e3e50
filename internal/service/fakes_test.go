package service

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/repository"
	"github.com/kursadbilgin/notification-dispatcher/internal/sender"
	"github.com/kursadbilgin/notification-dispatcher/internal/template"
)

// memStore keeps notifications and attempts in memory with the same guards as the gorm
// repositories: claims, releases and commits only apply to rows still in processing.
type memStore struct {
	mu            sync.Mutex
	notifications map[string]*domain.Notification
	attempts      map[string][]domain.DeliveryAttempt

	releaseErr error
	beginErr   error
	// commitErrs fail the next len(commitErrs) commits in order before any write.
	commitErrs  []error
	commitCalls int
}

func newMemStore(notifications ...domain.Notification) *memStore {
	s := &memStore{
		notifications: make(map[string]*domain.Notification),
		attempts:      make(map[string][]domain.DeliveryAttempt),
	}
	for i := range notifications {
		n := notifications[i]
		s.notifications[n.ID] = &n
	}
	return s
}

func (s *memStore) get(id string) domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.notifications[id]
}

func (s *memStore) setStatus(id string, status domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[id].Status = status
}

func (s *memStore) attemptsFor(id string) []domain.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeliveryAttempt(nil), s.attempts[id]...)
}

func (s *memStore) Claim(ctx context.Context, id string, now time.Time) (*repository.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || !n.ClaimableAt(now) {
		return nil, nil
	}

	claim := &repository.Claim{PriorStatus: n.Status, PriorNextAttempt: n.NextAttemptAt}
	claimedAt := now
	n.Status = domain.StatusProcessing
	n.ClaimedAt = &claimedAt
	claim.Notification = *n
	return claim, nil
}

func (s *memStore) Release(ctx context.Context, id string, status domain.Status, nextAttemptAt *time.Time) error {
	if s.releaseErr != nil {
		return s.releaseErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Status != domain.StatusProcessing {
		return domain.ErrConflict
	}
	n.Status = status
	n.NextAttemptAt = nextAttemptAt
	n.ClaimedAt = nil
	return nil
}

func (s *memStore) Commit(ctx context.Context, n *domain.Notification, attempt *domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commitCalls++
	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		return err
	}

	current, ok := s.notifications[n.ID]
	if !ok || current.Status != domain.StatusProcessing {
		return domain.ErrConflict
	}

	idx := -1
	if attempt != nil {
		for i := range s.attempts[n.ID] {
			if s.attempts[n.ID][i].AttemptNumber == attempt.AttemptNumber {
				idx = i
			}
		}
		if idx < 0 || s.attempts[n.ID][idx].Status != domain.AttemptStatusProcessing {
			return domain.ErrConflict
		}
		s.attempts[n.ID][idx] = *attempt
	}

	updated := *n
	s.notifications[n.ID] = &updated
	return nil
}

func (s *memStore) Begin(ctx context.Context, notificationID string, now time.Time) (*domain.DeliveryAttempt, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last := 0
	for _, a := range s.attempts[notificationID] {
		if a.AttemptNumber > last {
			last = a.AttemptNumber
		}
	}

	attempt := domain.DeliveryAttempt{
		ID:             notificationID + "-" + strconv.Itoa(last+1),
		NotificationID: notificationID,
		AttemptNumber:  last + 1,
		Status:         domain.AttemptStatusProcessing,
		CreatedAt:      now,
	}
	s.attempts[notificationID] = append(s.attempts[notificationID], attempt)
	return &attempt, nil
}

func (s *memStore) Count(ctx context.Context, notificationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.attempts[notificationID])), nil
}

func (s *memStore) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.NotificationRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Notification
	for _, n := range s.notifications {
		if n.ClaimableAt(now) {
			due = append(due, *n)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})

	refs := make([]domain.NotificationRef, 0, len(due))
	for i := range due {
		if len(refs) == limit {
			break
		}
		refs = append(refs, due[i].Ref())
	}
	return refs, nil
}

func (s *memStore) RecoverStale(ctx context.Context, cutoff, now time.Time, limit int) ([]repository.RecoveredClaim, error) {
	return nil, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePreferenceStore struct {
	getFn func(ctx context.Context, userID string, channel domain.Channel) (*domain.Preference, error)
}

func (f *fakePreferenceStore) Get(ctx context.Context, userID string, channel domain.Channel) (*domain.Preference, error) {
	if f.getFn == nil {
		return nil, nil
	}
	return f.getFn(ctx, userID, channel)
}

type fakeRecipientStore struct {
	getFn func(ctx context.Context, userID string) (*domain.Recipient, error)
}

func (f *fakeRecipientStore) Get(ctx context.Context, userID string) (*domain.Recipient, error) {
	if f.getFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getFn(ctx, userID)
}

type fakeRenderer struct {
	renderFn func(ctx context.Context, templateID string, variables map[string]any) (template.Rendered, error)
}

func (f *fakeRenderer) Render(ctx context.Context, templateID string, variables map[string]any) (template.Rendered, error) {
	return f.renderFn(ctx, templateID, variables)
}

type fakeResolver struct {
	sender sender.Sender
	err    error
}

func (f *fakeResolver) Resolve(channel domain.Channel) (sender.Sender, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sender, nil
}

type fixedPolicy struct {
	delay time.Duration
}

func (p fixedPolicy) Next(retryCount, maxRetries int) (time.Duration, bool) {
	if retryCount >= maxRetries {
		return 0, false
	}
	return p.delay, true
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, channel domain.Channel) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel domain.Channel) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	if f.waitFn == nil {
		return nil
	}
	return f.waitFn(ctx, channel)
}
