package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/billerly/rcm/internal/platform/auth"
)

// MeasureDefinition defines a reporting measure with its SQL query.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures. Amounts are
// in cents.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "ar-aging",
		Name:        "AR Aging",
		Description: "Outstanding patient responsibility bucketed by days past the invoice due date",
		SQL: `SELECT bucket, COUNT(*) AS invoices, COALESCE(SUM(balance), 0) AS outstanding_cents
FROM (
    SELECT CASE
        WHEN now() - due_date <= interval '30 days' THEN '0-30'
        WHEN now() - due_date <= interval '60 days' THEN '31-60'
        WHEN now() - due_date <= interval '90 days' THEN '61-90'
        ELSE '90+'
    END AS bucket,
    patient_responsibility - COALESCE((SELECT SUM((p->>'amount')::bigint) FROM jsonb_array_elements(payments) p), 0) AS balance
    FROM invoices
    WHERE status IN ('unpaid', 'partially_paid', 'overdue')
) aged
WHERE balance > 0
GROUP BY bucket
ORDER BY bucket`,
		Parameters: []string{},
	},
	{
		ID:          "claims-by-status",
		Name:        "Claims by Status",
		Description: "Claim counts and submitted amounts grouped by stored status",
		SQL: `SELECT status, COUNT(*) AS total, COALESCE(SUM(submitted_amount), 0) AS submitted_cents,
COALESCE(SUM(paid_amount), 0) AS paid_cents
FROM claims GROUP BY status ORDER BY total DESC`,
		Parameters: []string{},
	},
	{
		ID:          "denial-reasons",
		Name:        "Denial Reasons",
		Description: "Denial counts grouped by payer reason code, busiest first",
		SQL: `SELECT d.reason_code, COUNT(*) AS total, COALESCE(SUM(c.submitted_amount), 0) AS denied_cents
FROM denials d JOIN claims c ON c.id = d.claim_id
GROUP BY d.reason_code ORDER BY total DESC`,
		Parameters: []string{},
	},
	{
		ID:          "payment-volume",
		Name:        "Payment Volume",
		Description: "Posted patient payments per day over the last 30 days",
		SQL: `SELECT (p->>'date')::date AS day, COUNT(*) AS payments, COALESCE(SUM((p->>'amount')::bigint), 0) AS collected_cents
FROM invoices, jsonb_array_elements(payments) p
WHERE (p->>'date')::timestamptz > now() - interval '30 days'
GROUP BY day ORDER BY day`,
		Parameters: []string{},
	},
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates a new reporting handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// RegisterRoutes registers the reporting API routes. Measures expose
// practice-wide financials, so only admins may run them.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleAdmin))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params := map[string]string{}
	for _, p := range measure.Parameters {
		if v := c.QueryParam(p); v != "" {
			params[p] = v
		}
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now(),
		Results:     results,
		Parameters:  params,
	})
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func (h *Handler) executeSQL(ctx context.Context, sql string) ([]map[string]interface{}, error) {
	rows, err := h.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	var results []map[string]interface{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[string(fd.Name)] = values[i]
		}
		results = append(results, row)
	}

	if results == nil {
		results = []map[string]interface{}{}
	}

	return results, nil
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
