package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a built notification. Implementations own formatting and
// transport; the core never constructs transport payloads.
type Notifier interface {
	Emit(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. Used in development and as a
// fallback when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Emit(_ context.Context, n Notification) error {
	ev := log.Info().
		Str("id", n.ID).
		Str("kind", string(n.Kind)).
		Str("title", n.Title).
		Str("severity", string(n.Severity))
	if n.Domain != "" {
		ev = ev.Str("domain", n.Domain)
	}
	ev.Msg("Notification")
	return nil
}
