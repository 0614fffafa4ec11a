package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/billerly/rcm/internal/platform/auth"
)

// Logger emits one structured line per request. Billing operations need an
// audit trail keyed on who acted, so when the session middleware has attached
// an actor the line carries its ID and role. The actor is read after the
// handler runs because session auth sits further down the chain.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			req := c.Request()
			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			if a, ok := auth.ActorFromContext(req.Context()); ok {
				evt.Str("actor_id", a.ID).Str("actor_role", string(a.Role))
			}

			evt.Msg("request")
			return err
		}
	}
}
