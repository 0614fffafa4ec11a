package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMiddleware_CountsRequests(t *testing.T) {
	collector := NewCollector()

	e := echo.New()
	e.Use(collector.Middleware())
	e.GET("/charges/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", func(c echo.Context) error {
		return collector.Handler()(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/charges/abc-123", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	mreq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	e.ServeHTTP(mrec, mreq)

	body := mrec.Body.String()
	if !strings.Contains(body, `rcm_http_requests_total{method="GET",path="/charges/:id",status="200"} 1`) {
		t.Errorf("expected request counter with route template, got:\n%s", body)
	}
}

func TestCollector_DomainCounters(t *testing.T) {
	collector := NewCollector()
	collector.RecordTransition("charge", "finalize")
	collector.RecordTransitionError("claim", "stale_state")
	collector.RecordPayment(32550)
	collector.RecordDenialOpened("50")
	collector.RecordLogin("success")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := collector.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`rcm_lifecycle_transitions_total{action="finalize",entity="charge"} 1`,
		`rcm_lifecycle_transition_errors_total{code="stale_state",entity="claim"} 1`,
		`rcm_payments_recorded_cents_total 32550`,
		`rcm_denials_opened_total{reason_code="50"} 1`,
		`rcm_login_attempts_total{outcome="success"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing metric line %q", want)
		}
	}
}

func TestTwoCollectorsDoNotCollide(t *testing.T) {
	a := NewCollector()
	b := NewCollector()
	a.RecordTransition("invoice", "record_payment")
	b.RecordTransition("invoice", "mark_overdue")
}
