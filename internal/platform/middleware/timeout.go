package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/apperr"
)

// RequestTimeout bounds each request with a context deadline. The handler
// runs on the calling goroutine, so panics still reach Recovery and nothing
// touches the echo.Context after the middleware returns. Store work observes
// the deadline through the request context; once it has passed and nothing
// was written, the client gets a 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if c.Response().Committed {
				return err
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return echo.NewHTTPError(http.StatusGatewayTimeout,
					apperr.Body{Error: "request processing exceeded the allowed time limit", Code: "timeout"}).SetInternal(err)
			}
			return err
		}
	}
}
