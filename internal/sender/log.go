package sender

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/leadflow/pkg/schema"
)

// LogSender records messages in the log instead of delivering them. It is the
// default for local runs where no provider is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender writing to logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg *schema.EmailMessage) (string, error) {
	if err := CheckMessage(msg); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.logger.InfoContext(ctx, "email send (log only)",
		slog.String("message_id", id),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("html_bytes", len(msg.HTMLBody)),
		slog.Int("text_bytes", len(msg.TextBody)),
	)
	return id, nil
}
