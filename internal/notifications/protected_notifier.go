package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

type ProtectedNotifierConfig struct {
	Timeout          time.Duration // hard timeout per send
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // trial calls allowed while half-open

	// Log receives state transitions; nil means slog.Default.
	Log *slog.Logger
}

// ProtectedNotifier wraps a Notifier with a per-send timeout and a circuit
// breaker so a dead mail relay fails forgotPassword fast instead of holding
// the request for the whole timeout.
type ProtectedNotifier struct {
	inner Notifier
	cfg   ProtectedNotifierConfig
	log   *slog.Logger
	now   func() time.Time

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialsInFlight      int
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &ProtectedNotifier{
		inner: inner,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		state: StateClosed,
	}
}

func (n *ProtectedNotifier) Send(ctx context.Context, msg Message) error {
	if !n.acquire() {
		return ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	err := n.inner.Send(sendCtx, msg)

	// the caller gave up; that says nothing about the relay
	if err != nil && ctx.Err() != nil {
		n.release()
		return err
	}

	n.record(err)

	return err
}

func (n *ProtectedNotifier) State() BreakerState {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.state
}

func (n *ProtectedNotifier) acquire() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateOpen {
		if n.now().Sub(n.openedAt) < n.cfg.Cooldown {
			return false
		}
		n.transition(StateHalfOpen)
		n.trialsInFlight = 0
	}

	if n.state == StateHalfOpen {
		if n.trialsInFlight >= n.cfg.HalfOpenMaxCalls {
			return false
		}
		n.trialsInFlight++
	}

	return true
}

func (n *ProtectedNotifier) release() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateHalfOpen && n.trialsInFlight > 0 {
		n.trialsInFlight--
	}
}

func (n *ProtectedNotifier) record(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateHalfOpen && n.trialsInFlight > 0 {
		n.trialsInFlight--
	}

	if err == nil {
		n.consecutiveFailures = 0
		n.transition(StateClosed)
		return
	}

	n.consecutiveFailures++

	if n.state == StateHalfOpen || n.consecutiveFailures >= n.cfg.FailureThreshold {
		n.openedAt = n.now()
		n.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (n *ProtectedNotifier) transition(to BreakerState) {
	if n.state == to {
		return
	}

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	n.log.Log(context.Background(), level, "notifier circuit state changed",
		"from", string(n.state), "to", string(to), "consecutive_failures", n.consecutiveFailures)

	n.state = to
}
