package access

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/directivesplus/dossier/internal/platform/auth"
	"github.com/directivesplus/dossier/internal/platform/middleware"
)

const (
	FunctionPath = "/functions/v1/verifierCodeAcces"
	APIPath      = "/api/v1/access/verify"
)

type Handler struct {
	svc *Service
	// requireToken makes the authenticated-user path accept only the
	// bearer token's own subject as userId.
	requireToken bool
	logger       zerolog.Logger
}

func NewHandler(svc *Service, requireToken bool, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, requireToken: requireToken, logger: logger}
}

// RegisterRoutes mounts the verification endpoint under both paths. mw runs
// on the POST routes only.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	for _, path := range []string{FunctionPath, APIPath} {
		e.POST(path, h.Verify, mw...)
		e.OPTIONS(path, h.Preflight)
	}
}

// Preflight answers CORS preflight requests. The allow headers themselves
// are written by the server's CORS middleware.
func (h *Handler) Preflight(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *Handler) Verify(c echo.Context) error {
	var req RequestBody
	if err := c.Bind(&req); err != nil {
		return h.fail(c, fmt.Errorf("%w: decode body: %v", ErrInvalidInput, err))
	}
	ctx := c.Request().Context()

	var (
		d   *Dossier
		err error
	)
	if req.IsAuthUserRequest {
		if err = h.authorize(ctx, req); err == nil {
			d, err = h.svc.ResolveForUser(ctx, req)
		}
	} else {
		d, err = h.svc.VerifyCode(ctx, req)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, StandardResponse{Success: true, Dossier: d})
}

func (h *Handler) authorize(ctx context.Context, req RequestBody) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: userId is empty", ErrInvalidInput)
	}
	if !h.requireToken {
		return nil
	}
	sub := auth.UserIDFromContext(ctx)
	if sub == "" {
		if role := auth.RoleFromContext(ctx); role != "" {
			return fmt.Errorf("%w: %s token has no user", ErrUnauthorized, role)
		}
		return fmt.Errorf("%w: no bearer token", ErrUnauthorized)
	}
	if sub != req.UserID {
		return fmt.Errorf("%w: token subject does not match userId", ErrUnauthorized)
	}
	return nil
}

func (h *Handler) fail(c echo.Context, err error) error {
	kind := Classify(err)
	ev := h.logger.Warn()
	if kind.Status >= http.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(err).
		Str("request_id", middleware.RequestIDFrom(c)).
		Str("role", auth.RoleFromContext(c.Request().Context())).
		Int("status", kind.Status).
		Str("error_code", kind.Code).
		Msg("access verification failed")

	return c.JSON(kind.Status, StandardResponse{
		Success:   false,
		Error:     kind.Message,
		ErrorCode: kind.Code,
	})
}
