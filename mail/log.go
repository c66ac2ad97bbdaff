package mail

import (
	"context"
	"log/slog"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// LogMailer writes notifications to a logger instead of delivering them.
// Codes and links are only logged at debug level.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer returns a LogMailer. A nil logger uses slog.Default.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, n clinicAuth.Notification) error {
	m.logger.InfoContext(ctx, "notification",
		slog.String("kind", string(n.Kind)),
		slog.String("role", n.Role.String()),
		slog.String("to", n.To),
	)
	m.logger.DebugContext(ctx, "notification payload",
		slog.String("kind", string(n.Kind)),
		slog.String("otp", n.OTP),
		slog.String("link", n.Link),
	)
	return nil
}
