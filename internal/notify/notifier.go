// Package notify delivers operator alerts for trade lifecycle events.
// Notifications fan out to every configured channel (Telegram, Discord) and
// can be filtered by event so operators only hear about the transitions they
// care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event names emitted by the engine and policy layers.
const (
	EventEntryFilled   = "entry_filled"
	EventExitConfirmed = "exit_confirmed"
	EventGraduated     = "graduated"
	EventGaveUp        = "gave_up"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches trade lifecycle events to one or more Senders. An
// allow-list of event names restricts delivery; an empty list allows all.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// named in allowedEvents are forwarded; an empty slice forwards everything.
func NewNotifier(senders []Sender, allowedEvents []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(allowedEvents))
	for _, e := range allowedEvents {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the event to all senders unless the allow-list filters it
// out. Individual sender failures do not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
