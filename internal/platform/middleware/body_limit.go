package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	defaultBodyLimit    = 1 << 20
	bodyTooLargeMessage = "corps de requête trop volumineux"
)

// BodyLimit caps request bodies at a size such as "64K" or "1M". A declared
// Content-Length over the cap is refused before the handler runs; a body
// that grows past it while being read surfaces as a 413 as well.
func BodyLimit(limit string) echo.MiddlewareFunc {
	maxBytes := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > maxBytes {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, bodyTooLargeMessage)
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)

			err := next(c)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) && !c.Response().Committed {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, bodyTooLargeMessage).SetInternal(err)
			}
			return err
		}
	}
}

// parseLimit reads "512K", "1M", "1MB" or "2G"; a bare number is bytes.
// Anything unparsable falls back to 1 MB.
func parseLimit(s string) int64 {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "B")
	if s == "" {
		return defaultBodyLimit
	}

	shift := 0
	switch s[len(s)-1] {
	case 'G':
		shift = 30
	case 'M':
		shift = 20
	case 'K':
		shift = 10
	}
	if shift > 0 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return n << shift
}
