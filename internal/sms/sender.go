// README: Fire-and-forget SMS sender contract and the default log-only sender.
package sms

import (
	"context"
	"log/slog"
)

// Sender delivers a text message to a phone number. Callers treat delivery
// as best-effort: failures are logged, never surfaced.
type Sender interface {
	SendMessage(ctx context.Context, destination, text string) error
}

// LogSender records outgoing messages instead of delivering them. Used in
// development and as the default until a provider is configured.
type LogSender struct{}

func (LogSender) SendMessage(_ context.Context, destination, text string) error {
	slog.Info("sms (not delivered, log-only sender)", "to", destination, "len", len(text))
	return nil
}
