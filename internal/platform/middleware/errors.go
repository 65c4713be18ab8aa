package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	internalErrorMessage = "Erreur interne du serveur"
	internalErrorCode    = "internal_error"
)

// errorCodes maps HTTP statuses produced by the framework and by these
// middlewares to the opaque codes clients see.
var errorCodes = map[int]string{
	http.StatusBadRequest:            "invalid_input",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusTooManyRequests:       "too_many_attempts",
	http.StatusGatewayTimeout:        "timeout",
	http.StatusServiceUnavailable:    "unavailable",
}

// ErrorHandler renders errors that escape handlers as the
// {success:false, error, error_code} envelope. Messages of 5xx errors are
// replaced with a generic text; the detail goes to the log only.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := internalErrorMessage
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if status < http.StatusInternalServerError {
				if s, ok := he.Message.(string); ok {
					msg = s
				} else {
					msg = http.StatusText(status)
				}
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", RequestIDFrom(c)).
				Int("status", status).
				Msg("request failed")
		}

		code, ok := errorCodes[status]
		if !ok {
			code = internalErrorCode
		}

		if werr := writeEnvelope(c, status, msg, code); werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}

func writeEnvelope(c echo.Context, status int, msg, code string) error {
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, map[string]interface{}{
		"success":    false,
		"error":      msg,
		"error_code": code,
	})
}
