package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	AutoMigrate bool
	DBSlowQuery time.Duration
	RedisURL    string

	JWTSecret         string
	JWTIssuer         string
	JWTAudience       string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	AccessCookieName  string
	RefreshCookieName string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
	LoginRateLimit    string

	CORSAllowedOrigins []string

	CatalogCacheTTL     time.Duration
	CategoryCacheTTL    time.Duration
	CatalogDefaultLimit int
	CatalogMaxLimit     int

	DeliveryFee             int64
	CheckoutLockTTL         time.Duration
	CheckoutRateLimitWindow time.Duration
	CheckoutRateLimitMax    int
	IdempotencyTTL          time.Duration

	MediaDriver         string
	MediaDir            string
	MediaBaseURL        string
	MediaS3Bucket       string
	MediaS3Region       string
	MediaS3Endpoint     string
	MediaS3AccessKey    string
	MediaS3SecretKey    string
	MediaS3PathStyle    bool
	MediaMaxDimension   int
	MediaMaxUploadBytes int64

	NotifyEmailEnabled bool
	NotifyEmailFrom    string
	WorkerConcurrency  int
	WorkerQueue        string

	AuditEnabled      bool
	AuditSamplingRate float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		AutoMigrate: parseBoolDefault(k.String("DB_AUTO_MIGRATE"), true),
		DBSlowQuery: parseDuration(k.String("DB_SLOW_QUERY"), "250ms"),
		RedisURL:    k.String("REDIS_URL"),

		JWTSecret:         k.String("JWT_SECRET"),
		JWTIssuer:         valueOrDefault(k.String("JWT_ISSUER"), "grocery-api"),
		JWTAudience:       valueOrDefault(k.String("JWT_AUDIENCE"), "grocery-clients"),
		AccessTokenTTL:    parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		RefreshTokenTTL:   parseDuration(k.String("REFRESH_TOKEN_TTL"), "720h"),
		AccessCookieName:  valueOrDefault(k.String("ACCESS_COOKIE_NAME"), "access_token"),
		RefreshCookieName: valueOrDefault(k.String("REFRESH_COOKIE_NAME"), "refresh_token"),
		CookieDomain:      strings.TrimSpace(k.String("COOKIE_DOMAIN")),
		CookieSecure:      parseBool(k.String("COOKIE_SECURE")),
		CookieSameSite:    parseSameSite(k.String("COOKIE_SAMESITE")),
		LoginRateLimit:    valueOrDefault(k.String("LOGIN_RATE_LIMIT"), "10-M"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CatalogCacheTTL:     parseDuration(k.String("CATALOG_CACHE_TTL"), "60s"),
		CategoryCacheTTL:    parseDuration(k.String("CATEGORY_CACHE_TTL"), "5m"),
		CatalogDefaultLimit: parseInt(k.String("CATALOG_DEFAULT_LIMIT"), 20),
		CatalogMaxLimit:     parseInt(k.String("CATALOG_MAX_LIMIT"), 100),

		DeliveryFee:             parseInt64(k.String("DELIVERY_FEE"), 10000),
		CheckoutLockTTL:         parseDuration(k.String("CHECKOUT_LOCK_TTL"), "10s"),
		CheckoutRateLimitWindow: parseDuration(k.String("CHECKOUT_RATE_LIMIT_WINDOW"), "1m"),
		CheckoutRateLimitMax:    parseInt(k.String("CHECKOUT_RATE_LIMIT_MAX"), 5),
		IdempotencyTTL:          parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		MediaDriver:         strings.ToLower(valueOrDefault(k.String("MEDIA_DRIVER"), "local")),
		MediaDir:            valueOrDefault(k.String("MEDIA_DIR"), "./data/media"),
		MediaBaseURL:        strings.TrimRight(valueOrDefault(k.String("MEDIA_BASE_URL"), "/media"), "/"),
		MediaS3Bucket:       strings.TrimSpace(k.String("MEDIA_S3_BUCKET")),
		MediaS3Region:       valueOrDefault(k.String("MEDIA_S3_REGION"), "us-east-1"),
		MediaS3Endpoint:     strings.TrimSpace(k.String("MEDIA_S3_ENDPOINT")),
		MediaS3AccessKey:    strings.TrimSpace(k.String("MEDIA_S3_ACCESS_KEY")),
		MediaS3SecretKey:    strings.TrimSpace(k.String("MEDIA_S3_SECRET_KEY")),
		MediaS3PathStyle:    parseBool(k.String("MEDIA_S3_PATH_STYLE")),
		MediaMaxDimension:   parseInt(k.String("MEDIA_MAX_DIMENSION"), 1024),
		MediaMaxUploadBytes: parseInt64(k.String("MEDIA_MAX_UPLOAD_BYTES"), 5<<20),

		NotifyEmailEnabled: parseBoolDefault(k.String("NOTIFY_EMAIL_ENABLED"), true),
		NotifyEmailFrom:    valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "no-reply@grocery.local"),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 5),
		WorkerQueue:        valueOrDefault(k.String("WORKER_QUEUE"), "notifications"),

		AuditEnabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),
	}

	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.DeliveryFee < 0 {
		return nil, errors.New("DELIVERY_FEE must not be negative")
	}
	switch cfg.MediaDriver {
	case "local":
	case "s3":
		if cfg.MediaS3Bucket == "" {
			return nil, errors.New("MEDIA_S3_BUCKET is required when MEDIA_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported MEDIA_DRIVER %q", cfg.MediaDriver)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
