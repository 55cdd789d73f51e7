// Package ratelimit implements fixed-window request limits keyed by caller,
// backed by redis when available and by process memory otherwise.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	// Allow counts one hit against key within the current window.
	Allow(ctx context.Context, key string) (Decision, error)
}

type Rule struct {
	Limit  int
	Window time.Duration
}

func decide(rule Rule, count int64, ttl time.Duration) Decision {
	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{Allowed: count <= int64(rule.Limit), Remaining: remaining}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d
}

// Fallback consults primary and switches to secondary for the call when
// primary errors, so a redis outage degrades to per-process limits instead
// of failing requests.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	log       *slog.Logger
}

func NewFallback(primary, secondary Limiter, log *slog.Logger) *Fallback {
	if log == nil {
		log = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, log: log}
}

func (f *Fallback) Allow(ctx context.Context, key string) (Decision, error) {
	d, err := f.primary.Allow(ctx, key)
	if err == nil {
		return d, nil
	}

	f.log.WarnContext(ctx, "rate limiter degraded to memory", "err", err)
	return f.secondary.Allow(ctx, key)
}
