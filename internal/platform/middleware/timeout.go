package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const timeoutMessage = "le délai de traitement de la requête est dépassé"

// RequestTimeout puts a deadline on the request context. The handler runs
// on the request goroutine and observes the deadline through pgx and the
// storage client. When it gives up without writing a response, or returns
// a deadline error, the client gets a 504. A response already written is
// left alone.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if c.Response().Committed {
				return err
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return echo.NewHTTPError(http.StatusGatewayTimeout, timeoutMessage).SetInternal(err)
			}
			return err
		}
	}
}
