package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/kursadbilgin/notification-dispatcher/internal/observability"
	"github.com/kursadbilgin/notification-dispatcher/internal/ratelimit"
	"github.com/kursadbilgin/notification-dispatcher/internal/repository"
	"github.com/kursadbilgin/notification-dispatcher/internal/sender"
	"github.com/kursadbilgin/notification-dispatcher/internal/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultSendTimeout = 30 * time.Second
	// settleTimeout bounds the writes that close a claim, which run even after ctx is cancelled.
	settleTimeout = 5 * time.Second

	commitTries   = 3
	commitBackoff = 100 * time.Millisecond
)

// NotificationStore is the part of the notification repository the executor drives.
type NotificationStore interface {
	Claim(ctx context.Context, id string, now time.Time) (*repository.Claim, error)
	Release(ctx context.Context, id string, status domain.Status, nextAttemptAt *time.Time) error
	Commit(ctx context.Context, n *domain.Notification, attempt *domain.DeliveryAttempt) error
}

type PreferenceStore interface {
	Get(ctx context.Context, userID string, channel domain.Channel) (*domain.Preference, error)
}

type RecipientStore interface {
	Get(ctx context.Context, userID string) (*domain.Recipient, error)
}

type Renderer interface {
	Render(ctx context.Context, templateID string, variables map[string]any) (template.Rendered, error)
}

type SenderResolver interface {
	Resolve(channel domain.Channel) (sender.Sender, error)
}

type RetryPolicy interface {
	Next(retryCount, maxRetries int) (time.Duration, bool)
}

// ExecutorDeps are the collaborators of an Executor. Preferences, Recipients, RateLimiter and
// Frequency are optional.
type ExecutorDeps struct {
	Notifications NotificationStore
	Attempts      *AttemptRecorder
	Senders       SenderResolver
	Policy        RetryPolicy
	Renderer      Renderer
	Preferences   PreferenceStore
	Recipients    RecipientStore
	RateLimiter   ratelimit.RateLimiter
	Frequency     ratelimit.FrequencyLimiter
}

// Executor performs one delivery attempt per Dispatch call and drives the notification
// state machine from the outcome.
type Executor struct {
	notifications NotificationStore
	attempts      *AttemptRecorder
	senders       SenderResolver
	policy        RetryPolicy
	renderer      Renderer
	preferences   PreferenceStore
	recipients    RecipientStore
	rateLimiter   ratelimit.RateLimiter
	frequency     ratelimit.FrequencyLimiter
	sendTimeout   time.Duration
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewExecutor(deps ExecutorDeps, sendTimeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) (*Executor, error) {
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if deps.Attempts == nil {
		return nil, fmt.Errorf("attempt recorder is required")
	}
	if deps.Senders == nil {
		return nil, fmt.Errorf("sender registry is required")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("retry policy is required")
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		notifications: deps.Notifications,
		attempts:      deps.Attempts,
		senders:       deps.Senders,
		policy:        deps.Policy,
		renderer:      deps.Renderer,
		preferences:   deps.Preferences,
		recipients:    deps.Recipients,
		rateLimiter:   deps.RateLimiter,
		frequency:     deps.Frequency,
		sendTimeout:   sendTimeout,
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
	}, nil
}

// Dispatch claims the notification and, when it is eligible, runs one attempt through to a
// committed outcome. A returned error means no outcome was applied: the row is back in its
// prior state, or still claimed when even the hand-back failed.
func (e *Executor) Dispatch(ctx context.Context, id string) (Outcome, error) {
	ctx, span := observability.Tracer().Start(ctx, "dispatch.notification",
		trace.WithAttributes(attribute.String("notification.id", id)))
	defer span.End()

	outcome, err := e.dispatch(ctx, id, span)

	span.SetAttributes(attribute.String("dispatch.outcome", outcome.Kind.String()))
	if outcome.Code != "" {
		span.SetAttributes(attribute.String("dispatch.error_code", outcome.Code))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (e *Executor) dispatch(ctx context.Context, id string, span trace.Span) (Outcome, error) {
	logger := observability.ContextLogger(e.logger, ctx).With(zap.String("notificationId", id))

	now := e.now().UTC()
	claim, err := e.notifications.Claim(ctx, id, now)
	if err != nil {
		return Skipped(), fmt.Errorf("claim notification %s: %w", id, err)
	}
	if claim == nil {
		logger.Debug("notification not claimable; skipping")
		e.metrics.IncOutcome("", OutcomeSkipped.String())
		return Skipped(), nil
	}

	n := claim.Notification
	span.SetAttributes(
		attribute.String("notification.channel", n.Channel.String()),
		attribute.Int("notification.priority", n.Priority),
		attribute.Int("notification.retry_count", n.RetryCount),
	)
	logger = logger.With(zap.String("channel", n.Channel.String()))

	outcome, err := e.attempt(ctx, claim, &n, now, logger)
	if err == nil {
		e.metrics.IncOutcome(n.Channel.String(), outcome.Kind.String())
	}
	return outcome, err
}

func (e *Executor) attempt(ctx context.Context, claim *repository.Claim, n *domain.Notification, now time.Time, logger *zap.Logger) (outcome Outcome, err error) {
	pref, err := e.preference(ctx, n)
	if err != nil {
		return e.release(ctx, claim, logger, fmt.Errorf("load preference: %w", err))
	}

	if !pref.Enabled {
		handle, err := e.attempts.Begin(ctx, n)
		if err != nil {
			return e.release(ctx, claim, logger, err)
		}
		result := sender.Failed(domain.ErrorCodeChannelDisabled,
			fmt.Sprintf("%s notifications are disabled for user %s", n.Channel, n.UserID), nil)
		return e.finish(ctx, n, handle, result, false, logger)
	}

	recipient, err := e.recipient(ctx, n.UserID)
	if err != nil {
		return e.release(ctx, claim, logger, fmt.Errorf("load recipient: %w", err))
	}

	if !pref.Bypasses(n.Priority) {
		if until, quiet := quietUntil(n, pref, recipient, now, logger); quiet {
			return e.deferUntil(ctx, claim, until, logger)
		}

		if limit := pref.HourlyLimit(); limit > 0 && e.frequency != nil {
			retryAt, allowed, err := e.frequency.Reserve(ctx, n.UserID, n.Channel, n.ID, limit, now)
			if err != nil {
				return e.release(ctx, claim, logger, fmt.Errorf("reserve frequency slot: %w", err))
			}
			if !allowed {
				return e.deferUntil(ctx, claim, retryAt, logger)
			}
			// Only a committed send keeps its slot.
			defer func() {
				if outcome.Kind != OutcomeSent {
					e.cancelReservation(ctx, n, logger)
				}
			}()
		}
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.Wait(ctx, n.Channel); err != nil {
			return e.release(ctx, claim, logger, fmt.Errorf("wait for %s rate limit: %w", n.Channel, err))
		}
	}

	handle, err := e.attempts.Begin(ctx, n)
	if err != nil {
		return e.release(ctx, claim, logger, err)
	}
	logger = logger.With(zap.Int("attemptNumber", handle.Number()))

	subject, failure, retryable := e.render(ctx, n)
	if failure != nil {
		if ctx.Err() != nil {
			return e.interrupt(ctx, claim, n, handle, logger)
		}
		return e.finish(ctx, n, handle, *failure, retryable, logger)
	}

	s, err := e.senders.Resolve(n.Channel)
	if err != nil {
		result := sender.Failed(domain.ErrorCodeUnsupportedChannel, err.Error(), nil)
		return e.finish(ctx, n, handle, result, false, logger)
	}

	result := e.send(ctx, s, sender.NotificationView{
		NotificationID: n.ID,
		AttemptNumber:  handle.Number(),
		UserID:         n.UserID,
		Channel:        n.Channel,
		Subject:        subject,
		Content:        n.Content,
		Priority:       n.Priority,
		Metadata:       n.Metadata,
		Recipient:      recipient,
	})
	if !result.Success && ctx.Err() != nil {
		return e.interrupt(ctx, claim, n, handle, logger)
	}
	return e.finish(ctx, n, handle, result, true, logger)
}

func (e *Executor) preference(ctx context.Context, n *domain.Notification) (domain.Preference, error) {
	if e.preferences == nil {
		return domain.DefaultPreference(n.UserID, n.Channel), nil
	}
	pref, err := e.preferences.Get(ctx, n.UserID, n.Channel)
	if err != nil {
		return domain.Preference{}, err
	}
	if pref == nil {
		return domain.DefaultPreference(n.UserID, n.Channel), nil
	}
	return *pref, nil
}

// recipient never fails for an unknown user; senders report the missing address themselves.
func (e *Executor) recipient(ctx context.Context, userID string) (domain.Recipient, error) {
	if e.recipients == nil {
		return domain.Recipient{UserID: userID}, nil
	}
	recipient, err := e.recipients.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && recipient == nil) {
		return domain.Recipient{UserID: userID}, nil
	}
	if err != nil {
		return domain.Recipient{}, err
	}
	return *recipient, nil
}

// quietUntil reports whether now falls inside the recipient's quiet hours and when they end.
func quietUntil(n *domain.Notification, pref domain.Preference, recipient domain.Recipient, now time.Time, logger *zap.Logger) (time.Time, bool) {
	until, quiet, err := pref.QuietUntil(now, n.Location(recipient.DefaultTimezone))
	if err != nil {
		logger.Warn("ignoring invalid quiet hours", zap.Error(err))
		return time.Time{}, false
	}
	return until, quiet
}

func (e *Executor) cancelReservation(ctx context.Context, n *domain.Notification, logger *zap.Logger) {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	if err := e.frequency.Cancel(settleCtx, n.UserID, n.Channel, n.ID); err != nil {
		logger.Warn("failed to cancel frequency reservation", zap.Error(err))
	}
}

// render returns the subject to send with, or the failure to record. Content is replaced by
// the rendered body so the committed row shows what was sent.
func (e *Executor) render(ctx context.Context, n *domain.Notification) (string, *sender.SendResult, bool) {
	if strings.TrimSpace(n.TemplateID) == "" {
		return "", nil, false
	}
	if e.renderer == nil {
		failure := sender.Failed(domain.ErrorCodeTemplateUnavailable, "no template renderer configured", nil)
		return "", &failure, true
	}

	rendered, err := e.renderer.Render(ctx, n.TemplateID, n.Variables)
	var renderErr *template.RenderError
	switch {
	case errors.As(err, &renderErr):
		failure := sender.Failed(domain.ErrorCodeTemplateRender, err.Error(), nil)
		return "", &failure, false
	case err != nil:
		failure := sender.Failed(domain.ErrorCodeTemplateUnavailable, err.Error(), nil)
		return "", &failure, true
	}

	n.Content = rendered.Body
	return rendered.Subject, nil, false
}

// send calls s under the per-attempt timeout. A panic or an overrun becomes a failed result.
func (e *Executor) send(ctx context.Context, s sender.Sender, view sender.NotificationView) sender.SendResult {
	ctx, span := observability.Tracer().Start(ctx, "sender.send", trace.WithAttributes(
		attribute.String("notification.channel", view.Channel.String()),
		attribute.Int("attempt.number", view.AttemptNumber),
	))
	defer span.End()

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	channel := view.Channel.String()
	e.metrics.IncInFlight(channel)
	defer e.metrics.DecInFlight(channel)

	start := time.Now()
	done := make(chan sender.SendResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sender.Failed(domain.ErrorCodeInternal, fmt.Sprintf("sender panicked: %v", r), nil)
			}
		}()
		done <- s.Send(sendCtx, view)
	}()

	var result sender.SendResult
	select {
	case result = <-done:
	case <-sendCtx.Done():
		result = sender.Failed(domain.ErrorCodeSendTimeout, fmt.Sprintf("send did not complete within %s", e.sendTimeout), nil)
	}
	e.metrics.ObserveSendDuration(channel, time.Since(start))

	if !result.Success {
		span.SetStatus(codes.Error, result.ErrorCode)
	}
	return result
}

// finish completes the attempt, applies retry accounting and commits both rows together.
// Only retryable failures count against the retry budget.
func (e *Executor) finish(
	ctx context.Context,
	n *domain.Notification,
	handle *AttemptHandle,
	result sender.SendResult,
	retryable bool,
	logger *zap.Logger,
) (Outcome, error) {
	at := e.now().UTC()
	if err := e.attempts.Complete(handle, AttemptResult{
		Success:      result.Success,
		Response:     result.Response,
		ErrorCode:    result.ErrorCode,
		ErrorMessage: result.ErrorMessage,
		At:           at,
	}); err != nil {
		return Skipped(), err
	}

	message := result.ErrorMessage
	if message == "" {
		message = result.ErrorCode
	}

	var outcome Outcome
	switch {
	case result.Success:
		n.MarkSent(at)
		outcome = Sent()
	case !retryable:
		n.MarkFailedPermanent(message)
		outcome = TerminalFailure(result.ErrorCode)
	default:
		n.RetryCount++
		if delay, ok := e.policy.Next(n.RetryCount, n.MaxRetries); ok {
			n.MarkFailed(message, at.Add(delay))
			outcome = RetryAfter(delay)
		} else {
			n.MarkFailedPermanent(message)
			outcome = TerminalFailure(result.ErrorCode)
		}
	}

	if err := e.commit(ctx, n, handle, logger); err != nil {
		return Skipped(), err
	}

	if !result.Success {
		e.metrics.IncAttemptFailed(n.Channel.String(), result.ErrorCode)
	}

	fields := []zap.Field{
		zap.String("outcome", outcome.Kind.String()),
		zap.String("status", n.Status.String()),
		zap.Int("retryCount", n.RetryCount),
	}
	switch outcome.Kind {
	case OutcomeSent:
		logger.Info("notification sent", fields...)
	case OutcomeRetryAfter:
		logger.Warn("delivery attempt failed; retry scheduled", append(fields,
			zap.String("errorCode", result.ErrorCode),
			zap.Duration("retryIn", outcome.Delay),
		)...)
	default:
		logger.Error("delivery failed permanently", append(fields,
			zap.String("errorCode", result.ErrorCode),
			zap.String("error", message),
		)...)
	}

	return outcome, nil
}

// interrupt closes an attempt cut short by ctx and hands the row back in its prior state with
// the retry budget untouched. The returned error carries ctx's cause so broker deliveries are
// requeued.
func (e *Executor) interrupt(
	ctx context.Context,
	claim *repository.Claim,
	n *domain.Notification,
	handle *AttemptHandle,
	logger *zap.Logger,
) (Outcome, error) {
	cause := ctx.Err()
	if err := e.attempts.Complete(handle, AttemptResult{
		ErrorCode:    domain.ErrorCodeInterrupted,
		ErrorMessage: "attempt interrupted: " + cause.Error(),
		At:           e.now().UTC(),
	}); err != nil {
		return Skipped(), err
	}

	n.Status = claim.PriorStatus
	n.NextAttemptAt = claim.PriorNextAttempt
	n.ClaimedAt = nil
	n.Content = claim.Notification.Content

	if err := e.commit(ctx, n, handle, logger); err != nil {
		return Skipped(), err
	}

	logger.Warn("attempt interrupted; notification handed back",
		zap.String("status", n.Status.String()),
		zap.Int("retryCount", n.RetryCount),
	)
	return Skipped(), fmt.Errorf("dispatch of %s interrupted: %w", n.ID, cause)
}

// commit writes the notification and its completed attempt together under the settle timeout.
// Store errors are retried a bounded number of times; a lost claim is not.
func (e *Executor) commit(ctx context.Context, n *domain.Notification, handle *AttemptHandle, logger *zap.Logger) error {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	attempt := handle.Attempt()
	_, err := backoff.Retry(settleCtx, func() (struct{}, error) {
		err := e.notifications.Commit(settleCtx, n, &attempt)
		if errors.Is(err, domain.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(commitBackoff)),
		backoff.WithMaxTries(commitTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("commit failed; retrying", zap.Error(err), zap.Duration("retryIn", next))
		}),
	)
	if err == nil {
		return nil
	}

	if errors.Is(err, domain.ErrConflict) {
		logger.Warn("processing claim lost before commit; attempt outcome discarded")
	} else {
		logger.Error("commit failed; claim left for stale recovery", zap.Error(err))
	}
	return fmt.Errorf("commit attempt %d of %s: %w", attempt.AttemptNumber, n.ID, err)
}

// deferUntil hands the claim back with the next eligible time pushed to until. No attempt is
// recorded and the retry budget is untouched.
func (e *Executor) deferUntil(ctx context.Context, claim *repository.Claim, until time.Time, logger *zap.Logger) (Outcome, error) {
	until = until.UTC()
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	if err := e.notifications.Release(settleCtx, claim.Notification.ID, claim.PriorStatus, &until); err != nil {
		return Skipped(), fmt.Errorf("defer notification %s: %w", claim.Notification.ID, err)
	}

	logger.Info("notification deferred by user preference", zap.Time("until", until))
	return Deferred(until), nil
}

// release returns the claim to its prior state after an infrastructure failure. If the release
// itself fails the row stays in processing until stale-claim recovery picks it up.
func (e *Executor) release(ctx context.Context, claim *repository.Claim, logger *zap.Logger, cause error) (Outcome, error) {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	if err := e.notifications.Release(settleCtx, claim.Notification.ID, claim.PriorStatus, claim.PriorNextAttempt); err != nil {
		logger.Error("failed to release claim",
			zap.NamedError("releaseError", err),
			zap.Error(cause),
		)
	} else {
		logger.Warn("claim released after dispatch error", zap.Error(cause))
	}
	return Skipped(), cause
}

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}
