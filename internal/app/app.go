// Package app assembles the stores, notifier and services shared by the
// binaries from a config.Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/authcore/internal/account"
	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/config"
	"github.com/geocoder89/authcore/internal/db"
	"github.com/geocoder89/authcore/internal/http/handlers"
	"github.com/geocoder89/authcore/internal/notifications"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/geocoder89/authcore/internal/ratelimit"
	"github.com/geocoder89/authcore/internal/redisclient"
	"github.com/geocoder89/authcore/internal/repo/memory"
	"github.com/geocoder89/authcore/internal/repo/postgres"
	"github.com/geocoder89/authcore/internal/security"
)

// UserStore is what every binary needs from the credential store.
type UserStore interface {
	account.Store
	ClearExpiredResets(ctx context.Context, now time.Time) (int64, error)
}

type Store struct {
	Users  UserStore
	Checks []handlers.Check
	Close  func()
}

// Ping runs every store check; the memory store always answers.
func (s Store) Ping(ctx context.Context) error {
	for _, c := range s.Checks {
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

// OpenStore connects the configured store. Postgres is migrated on open when
// migrate is set.
func OpenStore(ctx context.Context, cfg config.Config, prom *observability.Prom, migrate bool) (Store, error) {
	hasher := security.NewBcryptHasher(cfg.BcryptCost)

	if cfg.Store == "memory" {
		return Store{Users: memory.NewUsersRepo(hasher), Close: func() {}}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return Store{}, fmt.Errorf("db connect: %w", err)
	}

	if migrate {
		err = db.RunMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return Store{}, err
		}
	}

	return Store{
		Users:  postgres.NewUsersRepo(pool, hasher, prom),
		Checks: []handlers.Check{{Name: "postgres", Ping: pool.Ping}},
		Close:  pool.Close,
	}, nil
}

// NewNotifier returns the SMTP notifier when a relay is configured and the log
// notifier otherwise, both behind the timeout and circuit breaker.
func NewNotifier(cfg config.Config, log *slog.Logger) notifications.Notifier {
	if log == nil {
		log = slog.Default()
	}

	var inner notifications.Notifier = notifications.NewLogNotifier(log)

	if cfg.Email.Enabled() {
		inner = notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		})
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout: cfg.Email.Timeout,
		Log:     log,
	})
}

type Auth struct {
	Accounts *account.Service
	Gate     *auth.Gate
}

func NewAuth(cfg config.Config, users UserStore, notifier notifications.Notifier, log *slog.Logger) Auth {
	jwt := auth.NewManager(auth.TokenConfig{Secret: cfg.JWTSecret, TTL: cfg.JWTExpiresIn})
	issuer := auth.NewIssuer(jwt, auth.SessionConfig{
		CookieDays: cfg.CookieDays,
		Secure:     cfg.IsProduction(),
	})

	svc := account.NewService(users, security.NewBcryptHasher(cfg.BcryptCost), issuer, notifier, log, account.Options{
		SignupFields: cfg.SignupFields,
	})

	return Auth{Accounts: svc, Gate: auth.NewGate(jwt, users)}
}

type Limiters struct {
	Login  ratelimit.Limiter
	Forgot ratelimit.Limiter
	Checks []handlers.Check
	Close  func()
}

// NewLimiters uses redis when REDIS_ADDR is set, falling back to per-process
// windows whenever redis errors.
func NewLimiters(cfg config.Config, log *slog.Logger) Limiters {
	loginRule := ratelimit.Rule{Limit: cfg.RateLimit.Login, Window: cfg.RateLimit.Window}
	forgotRule := ratelimit.Rule{Limit: cfg.RateLimit.Forgot, Window: cfg.RateLimit.Window}

	out := Limiters{
		Login:  ratelimit.NewMemory(loginRule),
		Forgot: ratelimit.NewMemory(forgotRule),
		Close:  func() {},
	}

	if cfg.Redis.Addr == "" {
		return out
	}

	rc := redisclient.New(redisclient.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	out.Login = ratelimit.NewFallback(ratelimit.NewRedis(rc.Raw(), rc.Key("rl", "login"), loginRule), out.Login, log)
	out.Forgot = ratelimit.NewFallback(ratelimit.NewRedis(rc.Raw(), rc.Key("rl", "forgot"), forgotRule), out.Forgot, log)
	out.Checks = []handlers.Check{{Name: "redis", Ping: rc.Ping}}
	out.Close = func() { _ = rc.Close() }

	return out
}
