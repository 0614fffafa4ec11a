package revenue

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/billerly/rcm/internal/platform/auth"
	"github.com/billerly/rcm/internal/platform/db"
	"github.com/billerly/rcm/pkg/pagination"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes mounts the revenue cycle endpoints. Role checks live in the
// policy table, so most routes are open to any authenticated actor and the
// engine answers 403 when the role lacks the grant.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/charges", h.CreateCharge)
	api.GET("/charges", h.ListCharges)
	api.GET("/charges/:id", h.GetCharge)
	api.PUT("/charges/:id", h.UpdateCharge)
	api.POST("/charges/:id/finalize", h.FinalizeCharge)
	api.POST("/charges/:id/submit", h.SubmitCharge)
	api.GET("/charges/:id/claims", h.ClaimHistory)

	api.GET("/claims", h.ListClaims)
	api.GET("/claims/:id", h.GetClaim)
	api.POST("/claims/:id/adjudicate", h.AdjudicateClaim)

	api.GET("/denials", h.ListDenials)
	api.GET("/denials/:id", h.GetDenial)
	api.POST("/denials/:id/appeal", h.SubmitAppeal)
	api.POST("/denials/:id/decision", h.PayerDecision)
	api.POST("/denials/:id/resubmit", h.CorrectAndResubmit)

	api.POST("/invoices", h.CreateInvoice)
	api.GET("/invoices", h.ListInvoices)
	api.GET("/invoices/:id", h.GetInvoice)
	api.POST("/invoices/:id/payments", h.RecordPayment)

	api.GET("/policy/actions", h.PolicyActions)
}

func actor(c echo.Context) (auth.Actor, error) {
	a, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	return a, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps domain errors onto HTTP statuses. Stale compare-and-swap
// failures answer 409 so the caller re-reads and retries with fresh state.
func httpError(err error) error {
	var (
		httpErr *echo.HTTPError
		valErr  *ValidationError
		polErr  *PolicyError
		nfErr   *NotFoundError
		lifeErr *LifecycleError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.As(err, &valErr):
		return echo.NewHTTPError(http.StatusBadRequest, valErr.Message)
	case errors.As(err, &polErr):
		return echo.NewHTTPError(http.StatusForbidden, polErr.Error())
	case errors.As(err, &nfErr):
		return echo.NewHTTPError(http.StatusNotFound, nfErr.Error())
	case errors.As(err, &lifeErr):
		if lifeErr.Code == LifecycleStaleState {
			return echo.NewHTTPError(http.StatusConflict, lifeErr.Message)
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, lifeErr.Message)
	case db.IsPersistenceError(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// ---- Charges ----

type createChargeRequest struct {
	EncounterID uuid.UUID  `json:"encounter_id"`
	LineItems   []LineItem `json:"line_items"`
}

func (h *Handler) CreateCharge(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req createChargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := h.engine.CreateCharge(c.Request().Context(), a, req.EncounterID, req.LineItems)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) GetCharge(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	snap, err := h.engine.GetCharge(c.Request().Context(), a, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type updateChargeRequest struct {
	LineItems      []LineItem   `json:"line_items"`
	ExpectedStatus ChargeStatus `json:"expected_status,omitempty"`
}

func (h *Handler) UpdateCharge(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req updateChargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := h.engine.UpdateChargeLines(c.Request().Context(), a, id, req.LineItems, req.ExpectedStatus)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// transitionRequest is the shared body for endpoints whose only optional
// input is the status the caller last read, used for the stale-write check.
type transitionRequest struct {
	ExpectedStatus string `json:"expected_status,omitempty"`
}

func (h *Handler) FinalizeCharge(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := h.engine.FinalizeCharge(c.Request().Context(), a, id, ChargeStatus(req.ExpectedStatus))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type submitChargeRequest struct {
	Payer          string       `json:"payer"`
	ExpectedStatus ChargeStatus `json:"expected_status,omitempty"`
}

type submitChargeResponse struct {
	Charge *ChargeSnapshot `json:"charge"`
	Claim  *ClaimSnapshot  `json:"claim"`
}

func (h *Handler) SubmitCharge(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req submitChargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	chargeSnap, claimSnap, err := h.engine.SubmitCharge(c.Request().Context(), a, id, req.Payer, req.ExpectedStatus)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, submitChargeResponse{Charge: chargeSnap, Claim: claimSnap})
}

func (h *Handler) ListCharges(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)

	if raw := c.QueryParam("encounter_id"); raw != "" {
		encounterID, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter_id")
		}
		snaps, total, err := h.engine.ListChargesByEncounter(c.Request().Context(), a, encounterID, p.Limit, p.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(snaps, total, p))
	}

	status := ChargeStatus(c.QueryParam("status"))
	if status == "" {
		status = ChargeDraft
	}
	snaps, total, err := h.engine.ListChargesByStatus(c.Request().Context(), a, status, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(snaps, total, p))
}

func (h *Handler) ClaimHistory(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	snaps, err := h.engine.ClaimHistory(c.Request().Context(), a, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"claims": snaps})
}

// ---- Claims ----

func (h *Handler) GetClaim(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	snap, err := h.engine.GetClaim(c.Request().Context(), a, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListClaims(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	status := ClaimStatus(c.QueryParam("status"))
	if status == "" {
		status = ClaimSubmitted
	}
	p := pagination.FromContext(c)
	snaps, total, err := h.engine.ListClaimsByStatus(c.Request().Context(), a, status, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(snaps, total, p))
}

type adjudicateResponse struct {
	Claim  *ClaimSnapshot  `json:"claim"`
	Denial *DenialSnapshot `json:"denial,omitempty"`
}

func (h *Handler) AdjudicateClaim(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var adj Adjudication
	if err := c.Bind(&adj); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claimSnap, denialSnap, err := h.engine.AdjudicateClaim(c.Request().Context(), a, id, adj)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, adjudicateResponse{Claim: claimSnap, Denial: denialSnap})
}

// ---- Denials ----

func (h *Handler) GetDenial(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	snap, err := h.engine.GetDenial(c.Request().Context(), a, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListDenials(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	status := DenialStatus(c.QueryParam("status"))
	if status == "" {
		status = DenialOpen
	}
	p := pagination.FromContext(c)
	snaps, total, err := h.engine.ListDenialsByStatus(c.Request().Context(), a, status, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(snaps, total, p))
}

func (h *Handler) SubmitAppeal(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := h.engine.SubmitAppeal(c.Request().Context(), a, id, DenialStatus(req.ExpectedStatus))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type payerDecisionRequest struct {
	Approve        bool         `json:"approve"`
	PaidAmount     Cents        `json:"paid_amount"`
	ExpectedStatus DenialStatus `json:"expected_status,omitempty"`
}

type denialDecisionResponse struct {
	Denial *DenialSnapshot `json:"denial"`
	Claim  *ClaimSnapshot  `json:"claim,omitempty"`
}

func (h *Handler) PayerDecision(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req payerDecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	denialSnap, claimSnap, err := h.engine.PayerDecision(c.Request().Context(), a, id, req.Approve, req.PaidAmount, req.ExpectedStatus)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, denialDecisionResponse{Denial: denialSnap, Claim: claimSnap})
}

func (h *Handler) CorrectAndResubmit(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	denialSnap, claimSnap, err := h.engine.CorrectAndResubmit(c.Request().Context(), a, id, DenialStatus(req.ExpectedStatus))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, denialDecisionResponse{Denial: denialSnap, Claim: claimSnap})
}

// ---- Invoices ----

type createInvoiceRequest struct {
	ClaimID                 *uuid.UUID `json:"claim_id,omitempty"`
	PatientID               uuid.UUID  `json:"patient_id"`
	TotalAmount             Cents      `json:"total_amount"`
	PatientResponsibility   Cents      `json:"patient_responsibility"`
	InsuranceResponsibility Cents      `json:"insurance_responsibility"`
	DueDate                 time.Time  `json:"due_date"`
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req createInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := h.engine.CreateInvoice(c.Request().Context(), a, req.ClaimID, req.PatientID,
		req.TotalAmount, req.PatientResponsibility, req.InsuranceResponsibility, req.DueDate)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

// GetInvoice scopes patients to their own statements: someone else's invoice
// answers 404, not 403, so existence is not leaked.
func (h *Handler) GetInvoice(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	snap, err := h.engine.GetInvoice(c.Request().Context(), a, id)
	if err != nil {
		return httpError(err)
	}
	if a.Role == auth.RolePatient && snap.Invoice.PatientID.String() != a.ID {
		return echo.NewHTTPError(http.StatusNotFound, "invoice not found")
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}

	var patientID uuid.UUID
	if a.Role == auth.RolePatient {
		patientID, err = uuid.Parse(a.ID)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "actor has no patient record")
		}
	} else {
		patientID, err = uuid.Parse(c.QueryParam("patient_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
		}
	}

	p := pagination.FromContext(c)
	snaps, total, err := h.engine.ListInvoicesByPatient(c.Request().Context(), a, patientID, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(snaps, total, p))
}

type recordPaymentRequest struct {
	Amount         Cents         `json:"amount"`
	Method         string        `json:"method"`
	ExpectedStatus InvoiceStatus `json:"expected_status,omitempty"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req recordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := h.engine.RecordPayment(c.Request().Context(), a, id, req.Amount, req.Method, req.ExpectedStatus)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// ---- Policy ----

type policyActionsResponse struct {
	Role    auth.Role     `json:"role"`
	Entity  auth.Entity   `json:"entity"`
	Status  string        `json:"status"`
	Actions []auth.Action `json:"actions"`
}

// PolicyActions answers which actions the caller's role may take on an
// entity in a given status, so clients can render controls without guessing.
func (h *Handler) PolicyActions(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	entity := auth.Entity(c.QueryParam("entity"))
	status := c.QueryParam("status")
	if entity == "" || status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entity and status are required")
	}
	return c.JSON(http.StatusOK, policyActionsResponse{
		Role:    a.Role,
		Entity:  entity,
		Status:  status,
		Actions: auth.PermittedActions(a.Role, entity, status),
	})
}
