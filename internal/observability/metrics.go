package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "notification_dispatcher"

// Metrics stores the Prometheus collectors used by the dispatcher and its HTTP surface.
// Every method is safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	dispatchOutcomes    *prometheus.CounterVec
	attemptFailures     *prometheus.CounterVec
	sendDuration        *prometheus.HistogramVec
	dispatchInflight    *prometheus.GaugeVec
	queueDepth          prometheus.Gauge
	schedulerTicks      *prometheus.CounterVec
	submittedTotal      prometheus.Counter
	staleRecovered      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_outcomes_total",
				Help:      "Dispatch attempts by channel and outcome (sent, retry, terminal, deferred, skipped).",
			},
			[]string{"channel", "outcome"},
		),
		attemptFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "attempt_failures_total",
				Help:      "Failed delivery attempts by channel and error code.",
			},
			[]string{"channel", "code"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "send_duration_seconds",
				Help:      "Sender call duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_inflight",
				Help:      "Dispatches currently running grouped by channel.",
			},
			[]string{"channel"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_queue_depth",
				Help:      "Jobs waiting in the local worker pool queue.",
			},
		),
		schedulerTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "scheduler_ticks_total",
				Help:      "Scheduler scans by result (ok, error).",
			},
			[]string{"result"},
		),
		submittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "scheduler_submitted_total",
				Help:      "Due notifications handed to the submitter.",
			},
		),
		staleRecovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stale_claims_recovered_total",
				Help:      "Stale processing claims closed by recovery, by resulting status.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchOutcomes,
		m.attemptFailures,
		m.sendDuration,
		m.dispatchInflight,
		m.queueDepth,
		m.schedulerTicks,
		m.submittedTotal,
		m.staleRecovered,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and latency per matched route. Scrapes of /metrics
// are not counted.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if m == nil {
			return err
		}

		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		if route == "/metrics" {
			return err
		}

		method := strings.ToUpper(c.Method())
		m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(responseStatus(c, err))).Inc()
		m.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}

func (m *Metrics) IncOutcome(channel, outcome string) {
	if m == nil {
		return
	}
	m.dispatchOutcomes.WithLabelValues(normalizeLabel(channel), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncAttemptFailed(channel, code string) {
	if m == nil {
		return
	}
	m.attemptFailures.WithLabelValues(normalizeLabel(channel), normalizeLabel(code)).Inc()
}

func (m *Metrics) ObserveSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) DecInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(channel)).Dec()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) IncSchedulerTick(failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.schedulerTicks.WithLabelValues(result).Inc()
}

func (m *Metrics) AddSubmitted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.submittedTotal.Add(float64(n))
}

func (m *Metrics) IncStaleRecovered(status string) {
	if m == nil {
		return
	}
	m.staleRecovered.WithLabelValues(normalizeLabel(status)).Inc()
}

// responseStatus is the status the error handler will write for err. The middleware runs
// before the error handler, so the response itself does not carry it yet.
func responseStatus(c *fiber.Ctx, err error) int {
	var fiberErr *fiber.Error
	switch {
	case err == nil:
		if status := c.Response().StatusCode(); status != 0 {
			return status
		}
		return fiber.StatusOK
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
