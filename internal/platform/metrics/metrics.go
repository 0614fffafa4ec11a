package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector gathers Prometheus metrics for the revenue-cycle service. All
// metrics live in a private registry so multiple collectors (e.g. in tests)
// never collide.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	transitionsTotal *prometheus.CounterVec
	transitionErrors *prometheus.CounterVec

	paymentsRecordedCents prometheus.Counter
	denialsOpenedTotal    *prometheus.CounterVec

	loginAttemptsTotal *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rcm_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcm_lifecycle_transitions_total",
				Help: "Completed lifecycle transitions by entity and action",
			},
			[]string{"entity", "action"},
		),
		transitionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcm_lifecycle_transition_errors_total",
				Help: "Rejected lifecycle transitions by entity and error code",
			},
			[]string{"entity", "code"},
		),
		paymentsRecordedCents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rcm_payments_recorded_cents_total",
				Help: "Total payment amount recorded against invoices, in cents",
			},
		),
		denialsOpenedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcm_denials_opened_total",
				Help: "Denials created during adjudication, by reason code",
			},
			[]string{"reason_code"},
		),
		loginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcm_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.transitionsTotal,
		c.transitionErrors,
		c.paymentsRecordedCents,
		c.denialsOpenedTotal,
		c.loginAttemptsTotal,
	)

	return c
}

// RecordTransition counts a completed lifecycle transition.
func (c *Collector) RecordTransition(entity, action string) {
	c.transitionsTotal.WithLabelValues(entity, action).Inc()
}

// RecordTransitionError counts a rejected lifecycle transition.
func (c *Collector) RecordTransitionError(entity, code string) {
	c.transitionErrors.WithLabelValues(entity, code).Inc()
}

// RecordPayment adds a recorded payment amount (cents) to the running total.
func (c *Collector) RecordPayment(amountCents int64) {
	c.paymentsRecordedCents.Add(float64(amountCents))
}

// RecordDenialOpened counts a denial created during adjudication.
func (c *Collector) RecordDenialOpened(reasonCode string) {
	c.denialsOpenedTotal.WithLabelValues(reasonCode).Inc()
}

// RecordLogin counts a login attempt. Outcome is "success" or "failure".
func (c *Collector) RecordLogin(outcome string) {
	c.loginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return func(ec echo.Context) error {
		h.ServeHTTP(ec.Response(), ec.Request())
		return nil
	}
}

// Middleware records request count and latency per route. The route path
// template is used rather than the raw URL so IDs do not explode cardinality.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			start := time.Now()
			err := next(ec)

			path := ec.Path()
			if path == "" {
				path = ec.Request().URL.Path
			}
			status := ec.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}

			c.httpRequestsTotal.WithLabelValues(ec.Request().Method, path, strconv.Itoa(status)).Inc()
			c.httpRequestDuration.WithLabelValues(ec.Request().Method, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
