// Package worker runs the background reset-token sweeper.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/authcore/internal/observability"
)

type ResetStore interface {
	ClearExpiredResets(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	Interval   time.Duration
	RunTimeout time.Duration
}

// Sweeper periodically clears reset token fields whose expiry has passed.
// Lookups already reject expired tokens; sweeping keeps stale hashes from
// lingering in the table.
type Sweeper struct {
	cfg   Config
	store ResetStore
	log   *slog.Logger
	prom  *observability.Prom
	stats *observability.SweepStats

	now     func() time.Time
	backoff func(attempt int) time.Duration

	readyMu sync.RWMutex
	ready   bool
}

func NewSweeper(cfg Config, store ResetStore, log *slog.Logger, prom *observability.Prom) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{
		cfg:     cfg,
		store:   store,
		log:     log,
		prom:    prom,
		stats:   observability.NewSweepStats(),
		now:     time.Now,
		backoff: ExponentialBackoff,
	}
}

// SweepOnce runs a single pass and reports how many users were cleared.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	start := s.now()
	cleared, err := s.store.ClearExpiredResets(ctx, start)
	elapsed := time.Since(start)

	s.prom.ObserveSweep(elapsed, cleared, err)
	s.stats.Record(start, elapsed, cleared, err)

	return cleared, err
}

// Run sweeps every Interval until ctx is cancelled. Consecutive failures back
// off exponentially instead of hammering an unhealthy database.
func (s *Sweeper) Run(ctx context.Context) error {
	s.setReady(true)
	defer s.setReady(false)

	failures := 0
	wait := time.Duration(0) // first pass immediately

	for {
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("sweeper received shutdown signal")
			return nil

		case <-timer.C:
		}

		cleared, err := s.SweepOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			wait = s.backoff(failures)
			failures++
			s.log.Error("reset sweep failed", "err", err, "attempt", failures, "retry_in", wait)
			continue
		}

		failures = 0
		wait = s.cfg.Interval

		if cleared > 0 {
			s.log.Info("expired reset tokens cleared", "count", cleared)
		} else {
			s.log.Debug("reset sweep found nothing")
		}
	}
}

func (s *Sweeper) Stats() observability.SweepStatsSnapshot {
	return s.stats.Snapshot()
}

func (s *Sweeper) Ready() bool {
	s.readyMu.RLock()
	defer s.readyMu.RUnlock()
	return s.ready
}

func (s *Sweeper) setReady(v bool) {
	s.readyMu.Lock()
	s.ready = v
	s.readyMu.Unlock()
}
