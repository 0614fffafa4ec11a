package identity

import (
	"errors"
	"net/http"
	"strings"

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

// RegisterPublicRoutes mounts the unauthenticated session endpoints.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.POST("/auth/login", h.Login)
	g.GET("/auth/session", h.Session)
	g.POST("/auth/logout", h.Logout)
}

// RegisterRoutes mounts endpoints that require an authenticated session.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.GET("/users", h.ListUsers)
	adminGroup.POST("/users", h.CreateUser)
}

type loginRequest struct {
	Email      string `json:"email"`
	Credential string `json:"credential"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" || req.Credential == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and credential are required")
	}

	result, err := h.svc.Login(c.Request().Context(), req.Email, req.Credential)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return echo.NewHTTPError(http.StatusUnauthorized, authErr.Message)
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "login unavailable")
	}
	return c.JSON(http.StatusOK, result)
}

// Session restores the actor behind a bearer token. Responds 200 with a null
// actor when no valid session exists; absence is not an error.
func (h *Handler) Session(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{"actor": nil})
	}

	actor, err := h.svc.RestoreSession(c.Request().Context(), token)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session restore unavailable")
	}
	if actor == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"actor": nil})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"actor": actor})
}

func (h *Handler) Logout(c echo.Context) error {
	token := bearerToken(c)
	if token != "" {
		if err := h.svc.Logout(c.Request().Context(), token); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "logout unavailable")
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "user listing unavailable")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, p))
}

type createUserRequest struct {
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       auth.Role `json:"role"`
	Credential string    `json:"credential"`
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" || req.Credential == "" || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name, email and credential are required")
	}

	user, err := h.svc.Register(c.Request().Context(), req.Name, req.Email, req.Role, req.Credential)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return echo.NewHTTPError(http.StatusBadRequest, authErr.Message)
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "user creation unavailable")
	}
	return c.JSON(http.StatusCreated, user)
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
