package notify

import (
	"context"
	"log/slog"
)

// LogNotifier renders messages and logs them instead of sending. Used when no
// mail provider is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, to string, kind Kind, data Data) error {
	email, err := Render(to, kind, data)
	if err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "notification",
		"to", email.To,
		"kind", string(kind),
		"subject", email.Subject,
	)
	return nil
}
