package alert

import (
	"context"
	"time"
)

// Send statuses returned by a Notifier.
const (
	StatusSent   = "sent"
	StatusDryRun = "dry-run"
	StatusCooled = "cooldown"
)

// Notifier is the outbound alert transport. Implementations must be safe for
// concurrent use; a failure never propagates into the caller's cycle.
type Notifier interface {
	Send(ctx context.Context, message string, dedupeKey string, cooldown time.Duration) (string, error)
}
