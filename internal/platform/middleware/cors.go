package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// CORSConfig lists what browsers may send cross-origin.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
}

// CORS writes the allow headers on every response, preflight or not, with
// or without an Origin header. OPTIONS requests continue to their route.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	wildcard := len(cfg.AllowOrigins) == 0
	allowed := make(map[string]bool, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			if wildcard {
				h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			} else {
				h.Add(echo.HeaderVary, echo.HeaderOrigin)
				if origin := c.Request().Header.Get(echo.HeaderOrigin); allowed[origin] {
					h.Set(echo.HeaderAccessControlAllowOrigin, origin)
				}
			}
			h.Set(echo.HeaderAccessControlAllowMethods, methods)
			h.Set(echo.HeaderAccessControlAllowHeaders, headers)
			return next(c)
		}
	}
}
