package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
)

// Claims are the fields of a platform access token this service reads.
// Anonymous client keys carry role "anon" and no subject.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

type JWTConfig struct {
	// Secret is the platform's HS256 JWT secret.
	Secret []byte
	// Issuer and Audience are checked on user tokens only. The project's
	// anonymous client key is signed by the same secret but carries
	// neither.
	Issuer   string
	Audience string
}

const roleAnon = "anon"

// ParseToken validates an HS256 token signed with cfg.Secret.
func ParseToken(cfg JWTConfig, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.Secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	var userOpts []jwt.ParserOption
	if cfg.Issuer != "" {
		userOpts = append(userOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		userOpts = append(userOpts, jwt.WithAudience(cfg.Audience))
	}
	if claims.Role != roleAnon && len(userOpts) > 0 {
		if err := jwt.NewValidator(userOpts...).Validate(claims); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

// JWTMiddleware authenticates bearer tokens when present. Requests without
// an Authorization header pass through anonymously: access-code holders
// have no account. A header that is present but invalid is rejected.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return next(c)
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := ParseToken(cfg, strings.TrimSpace(tokenStr))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			if claims.Role != roleAnon {
				ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			}
			ctx = context.WithValue(ctx, UserRoleKey, claims.Role)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// RoleFromContext returns the token role, "anon" for the client key and
// "" when no token was sent.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}

// WithUserID returns ctx carrying an authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
