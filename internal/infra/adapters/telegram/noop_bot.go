package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier logs messages instead of sending them. Used when no bot
// token is configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	n.log.Info().Int64("user_id", userID).Str("text", text).Msg("notify user")
	return ctx.Err()
}

func (n *NoopNotifier) NotifyAdmins(ctx context.Context, text string) error {
	n.log.Info().Str("text", text).Msg("notify admins")
	return ctx.Err()
}
