package main

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/directivesplus/dossier/internal/config"
	"github.com/directivesplus/dossier/internal/domain/access"
	"github.com/directivesplus/dossier/internal/platform/auth"
	"github.com/directivesplus/dossier/internal/platform/middleware"
	"github.com/directivesplus/dossier/internal/platform/policy"
	"github.com/directivesplus/dossier/internal/platform/storage"
)

const version = "0.1.0"

// corsHeaders are the request headers browsers may send cross-origin.
var corsHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

func buildService(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) *access.Service {
	docRepo := access.NewDocumentRepo(pool)
	dossierRepo := access.NewDossierRepo(pool)

	agg := access.NewAggregator(docRepo, logger)
	if cfg.StorageEnabled() {
		agg.WithSigner(storage.NewSupabaseSigner(storage.SupabaseConfig{
			BaseURL:        cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.StorageBucket,
			TTL:            cfg.SignedURLTTL,
		}))
	}

	store := access.NewDossierStore(dossierRepo, docRepo, policy.MustSectionPolicy(), logger)
	audit := access.NewAccessLogger(access.NewAccessLogRepo(pool), logger)

	return access.NewService(
		access.NewGrantRepo(pool),
		access.NewProfileRepo(pool),
		dossierRepo,
		agg, store, audit, logger,
	).WithTxBeginner(pool)
}

// attemptLimiter returns the limiter guarding code submissions: shared in
// Redis when REDIS_URL is set, per process otherwise. A nil limiter means
// attempt limiting is disabled.
func attemptLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (middleware.Limiter, func(), error) {
	noop := func() {}
	if cfg.AttemptLimitBurst <= 0 {
		logger.Warn().Msg("code attempt limiting disabled")
		return nil, noop, nil
	}
	limitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.AttemptLimitRate,
		BurstSize:         cfg.AttemptLimitBurst,
	}
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(limitCfg), noop, nil
	}

	client, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, noop, err
	}
	logger.Info().Msg("code attempts limited through redis")
	return middleware.NewRedisLimiter(client, limitCfg), func() { _ = client.Close() }, nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, h *access.Handler, attempts middleware.Limiter, dbHealth echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.IPExtractor = ipExtractor(cfg.TrustedProxies)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.CORS(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: corsHeaders,
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.SupabaseJWTSecret != "" {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Secret:   []byte(cfg.SupabaseJWTSecret),
			Issuer:   cfg.ResolvedJWTIssuer(),
			Audience: cfg.JWTAudience,
		}))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))

	var verifyMW []echo.MiddlewareFunc
	if attempts != nil {
		verifyMW = append(verifyMW, middleware.Limit(attempts, middleware.LimitOptions{
			Prefix:      "verify:",
			HeaderLimit: float64(cfg.AttemptLimitBurst),
			Message:     access.Classify(access.ErrRateLimited).Message,
			Logger:      logger,
		}))
	}
	h.RegisterRoutes(e, verifyMW...)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}
	return e
}

// ipExtractor decides which address keys the rate and attempt limiters.
// X-Forwarded-For is only read when the connection comes from a listed proxy
// range; otherwise the socket peer address is used.
func ipExtractor(trustedProxies []string) echo.IPExtractor {
	var opts []echo.TrustOption
	for _, cidr := range trustedProxies {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // rejected by config.Validate
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	if len(opts) == 0 {
		return echo.ExtractIPDirect()
	}
	opts = append(opts, echo.TrustLoopback(false), echo.TrustLinkLocal(false), echo.TrustPrivateNet(false))
	return echo.ExtractIPFromXFFHeader(opts...)
}
