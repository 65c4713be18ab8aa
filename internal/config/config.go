package config

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	AuthMode               string        `mapstructure:"AUTH_MODE"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	SupabaseURL            string        `mapstructure:"SUPABASE_URL"`
	SupabaseServiceRoleKey string        `mapstructure:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseJWTSecret      string        `mapstructure:"SUPABASE_JWT_SECRET"`
	JWTIssuer              string        `mapstructure:"JWT_ISSUER"`
	JWTAudience            string        `mapstructure:"JWT_AUDIENCE"`
	StorageBucket          string        `mapstructure:"STORAGE_BUCKET"`
	SignedURLTTL           time.Duration `mapstructure:"SIGNED_URL_TTL"`
	RedisURL               string        `mapstructure:"REDIS_URL"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	TrustedProxies         []string      `mapstructure:"TRUSTED_PROXIES"`
	RateLimitRPS           float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `mapstructure:"RATE_LIMIT_BURST"`
	AttemptLimitRate       float64       `mapstructure:"ATTEMPT_LIMIT_RATE"`
	AttemptLimitBurst      int           `mapstructure:"ATTEMPT_LIMIT_BURST"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit              string        `mapstructure:"BODY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_AUDIENCE", "authenticated")
	v.SetDefault("STORAGE_BUCKET", "documents")
	v.SetDefault("SIGNED_URL_TTL", "10m")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	// Code submissions: one token every 6 seconds, 10 in a row.
	v.SetDefault("ATTEMPT_LIMIT_RATE", 0.1666)
	v.SetDefault("ATTEMPT_LIMIT_BURST", 10)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "64K")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("SUPABASE_URL")
	v.BindEnv("SUPABASE_SERVICE_ROLE_KEY")
	v.BindEnv("SUPABASE_JWT_SECRET")
	v.BindEnv("JWT_ISSUER")
	v.BindEnv("JWT_AUDIENCE")
	v.BindEnv("STORAGE_BUCKET")
	v.BindEnv("SIGNED_URL_TTL")
	v.BindEnv("REDIS_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("TRUSTED_PROXIES")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("ATTEMPT_LIMIT_RATE")
	v.BindEnv("ATTEMPT_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("BODY_LIMIT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if len(cfg.TrustedProxies) == 0 {
		if proxies := v.GetString("TRUSTED_PROXIES"); proxies != "" {
			cfg.TrustedProxies = strings.Split(proxies, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ENV=development, bearer tokens are not checked on the authenticated-user path.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development yields "development" (the
// userId in the body is trusted) and anything else yields "jwt".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// ResolvedJWTIssuer returns JWT_ISSUER, or the platform's auth endpoint
// under SUPABASE_URL when only that is set.
func (c *Config) ResolvedJWTIssuer() string {
	if c.JWTIssuer != "" {
		return c.JWTIssuer
	}
	if c.SupabaseURL != "" {
		return strings.TrimRight(c.SupabaseURL, "/") + "/auth/v1"
	}
	return ""
}

// StorageEnabled reports whether PDF documents can be given signed URLs.
func (c *Config) StorageEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceRoleKey != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "jwt" && c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET must be set when AUTH_MODE is \"jwt\" (current ENV=%q)", c.Env)
	}
	if c.IsProduction() && mode == "development" {
		return fmt.Errorf("AUTH_MODE=development is not allowed in production")
	}
	if (c.SupabaseURL == "") != (c.SupabaseServiceRoleKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY must be set together")
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not a CIDR: %w", cidr, err)
		}
	}
	if c.AttemptLimitBurst < 0 || c.AttemptLimitRate < 0 {
		return fmt.Errorf("ATTEMPT_LIMIT_RATE and ATTEMPT_LIMIT_BURST must not be negative")
	}
	return nil
}
