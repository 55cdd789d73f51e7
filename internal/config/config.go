package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env   string
	Port  int
	DBURL string

	// Store selects the credential store: "postgres" or "memory".
	Store string

	JWTSecret     string
	JWTExpiresIn  time.Duration
	CookieDays    int
	BcryptCost    int
	SignupFields  []string
	ResetURLBase  string
	CORSOrigins   []string
	OTLPEndpoint  string
	SweepInterval time.Duration
	WorkerAddr    string

	Email     EmailConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Admin     AdminConfig
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Enabled reports whether an SMTP relay is configured; without one the
// binaries fall back to the log notifier.
func (e EmailConfig) Enabled() bool {
	return e.Host != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Login  int
	Forgot int
	Window time.Duration
}

type AdminConfig struct {
	Name     string
	Email    string
	Password string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set win over it.
func Load() Config {
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "dev")

	return Config{
		Env:   env,
		Port:  getEnvInt("PORT", 8080),
		DBURL: buildDBURL(),
		Store: getEnv("USER_STORE", "postgres"),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTExpiresIn:  getEnvDuration("JWT_EXPIRES_IN", 90*24*time.Hour),
		CookieDays:    getEnvInt("JWT_COOKIE_EXPIRES_IN", 90),
		BcryptCost:    getEnvInt("BCRYPT_COST", 12),
		SignupFields:  getEnvList("SIGNUP_CLIENT_FIELDS", "role,passwordChangedAt"),
		ResetURLBase:  getEnv("RESET_URL_BASE", ""),
		CORSOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", ""),
		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		WorkerAddr:    getEnv("WORKER_HTTP_ADDR", ":8081"),

		Email: EmailConfig{
			Host:     getEnv("EMAIL_HOST", ""),
			Port:     getEnvInt("EMAIL_PORT", 587),
			Username: getEnv("EMAIL_USERNAME", ""),
			Password: getEnv("EMAIL_PASSWORD", ""),
			From:     getEnv("EMAIL_FROM", "Authcore <noreply@authcore.local>"),
			Timeout:  getEnvDuration("EMAIL_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Login:  getEnvInt("RATE_LIMIT_LOGIN", 10),
			Forgot: getEnvInt("RATE_LIMIT_FORGOT", 5),
			Window: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Admin: AdminConfig{
			Name:     getEnv("ADMIN_NAME", "Administrator"),
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}
}

// Validate rejects configurations the API must not start with.
func (c Config) Validate() error {
	var errs []error

	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.JWTExpiresIn <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRES_IN must be positive"))
	}
	if c.CookieDays <= 0 {
		errs = append(errs, errors.New("JWT_COOKIE_EXPIRES_IN must be positive"))
	}
	if c.Store != "postgres" && c.Store != "memory" {
		errs = append(errs, fmt.Errorf("USER_STORE %q: want postgres or memory", c.Store))
	}
	if c.Store == "memory" && c.IsProduction() {
		errs = append(errs, errors.New("USER_STORE=memory is not allowed in production"))
	}
	// the log notifier writes reset links to the log
	if c.IsProduction() && !c.Email.Enabled() {
		errs = append(errs, errors.New("EMAIL_HOST is required in production"))
	}
	// otherwise reset links are built from the request Host header
	if c.IsProduction() && c.ResetURLBase == "" {
		errs = append(errs, errors.New("RESET_URL_BASE is required in production"))
	}
	if c.ResetURLBase != "" && !strings.HasPrefix(c.ResetURLBase, "https://") && !strings.HasPrefix(c.ResetURLBase, "http://") {
		errs = append(errs, fmt.Errorf("RESET_URL_BASE %q: want an http(s) URL", c.ResetURLBase))
	}

	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "authcore")
	pass := getEnv("DB_PASSWORD", "authcore")
	name := getEnv("DB_NAME", "authcore")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}

		return num
	}
	return fallback
}

// getEnvDuration accepts Go durations ("15m") or a bare number of days ("90"),
// matching how JWT_EXPIRES_IN is usually written.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	if days, err := strconv.Atoi(v); err == nil {
		return time.Duration(days) * 24 * time.Hour
	}

	if strings.HasSuffix(v, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(v, "d")); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key, fallback string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		raw = fallback
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
