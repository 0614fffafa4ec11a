package encounter

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/billerly/rcm/internal/platform/auth"
	"github.com/billerly/rcm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleDoctor))
	g.POST("/encounters", h.Create)
	g.GET("/encounters/:id", h.Get)
	g.PUT("/encounters/:id/coding", h.UpdateCoding)
	g.GET("/encounters", h.List)
	g.GET("/coding-queue", h.CodingQueue)
}

type createRequest struct {
	PatientID      uuid.UUID `json:"patient_id"`
	ProviderID     uuid.UUID `json:"provider_id"`
	ServiceDate    time.Time `json:"service_date"`
	DiagnosisCodes []string  `json:"diagnosis_codes"`
	ProcedureCodes []string  `json:"procedure_codes"`
	Notes          string    `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	e := &Encounter{
		PatientID:      req.PatientID,
		ProviderID:     req.ProviderID,
		ServiceDate:    req.ServiceDate,
		DiagnosisCodes: req.DiagnosisCodes,
		ProcedureCodes: req.ProcedureCodes,
		Notes:          req.Notes,
	}
	if err := h.svc.Create(c.Request().Context(), e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "encounter lookup unavailable")
	}
	if e == nil {
		return echo.NewHTTPError(http.StatusNotFound, "encounter not found")
	}
	return c.JSON(http.StatusOK, e)
}

type updateCodingRequest struct {
	DiagnosisCodes []string     `json:"diagnosis_codes"`
	ProcedureCodes []string     `json:"procedure_codes"`
	CodingStatus   CodingStatus `json:"coding_status"`
}

func (h *Handler) UpdateCoding(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateCodingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	e, err := h.svc.UpdateCoding(c.Request().Context(), id, req.DiagnosisCodes, req.ProcedureCodes, req.CodingStatus)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)

	if raw := c.QueryParam("patient_id"); raw != "" {
		patientID, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		encounters, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, p.Limit, p.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "encounter listing unavailable")
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(encounters, total, p))
	}

	a, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var providerID uuid.UUID
	if a.Role == auth.RoleAdmin {
		id, err := uuid.Parse(c.QueryParam("provider_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id or provider_id query parameter is required")
		}
		providerID = id
	} else {
		// Doctors without an explicit filter see their own roster.
		id, err := uuid.Parse(a.ID)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "actor has no provider record")
		}
		providerID = id
	}

	encounters, total, err := h.svc.ListByProvider(c.Request().Context(), providerID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "encounter listing unavailable")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encounters, total, p))
}

func (h *Handler) CodingQueue(c echo.Context) error {
	status := CodingStatus(c.QueryParam("status"))
	if status == "" {
		status = CodingPendingReview
	}
	p := pagination.FromContext(c)
	encounters, total, err := h.svc.CodingQueue(c.Request().Context(), status, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encounters, total, p))
}
