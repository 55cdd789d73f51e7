package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrSimulatedOutage = errors.New("provider down (simulated)")

// LogNotifier writes messages to the log instead of sending them. Used in dev
// when no SMTP host is configured.
type LogNotifier struct {
	log *slog.Logger

	// optional knobs for exercising slow or failing providers locally
	Delay time.Duration
	Fail  bool
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n.Fail {
		return ErrSimulatedOutage
	}

	// the body carries the reset link, which is the point of this notifier in dev
	n.log.InfoContext(ctx, "notification.email",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
