package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxPanicStack = 8 << 10

// Recovery turns a panic into the 500 error envelope. The panic value and
// stack go to the log only.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				stack := make([]byte, maxPanicStack)
				stack = stack[:runtime.Stack(stack, false)]
				logger.Error().
					Str("request_id", RequestIDFrom(c)).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack).
					Msg("panic recovered")

				if c.Response().Committed {
					err = nil
					return
				}
				err = writeEnvelope(c, http.StatusInternalServerError, internalErrorMessage, internalErrorCode)
			}()
			return next(c)
		}
	}
}
