package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/config"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*TelegramNotifier)(nil)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends plain-text messages through the Bot API.
type TelegramNotifier struct {
	bot    sender
	admins []int64
	log    *zerolog.Logger
}

func NewTelegramNotifier(cfg *config.BotConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramNotifierWithAPI(bot, cfg.AdminIDs, logger), nil
}

// NewTelegramNotifierWithAPI wraps an existing client, e.g. one built with
// tgbotapi.NewBotAPIWithClient against a custom endpoint.
func NewTelegramNotifierWithAPI(bot *tgbotapi.BotAPI, admins []int64, logger *zerolog.Logger) *TelegramNotifier {
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	return &TelegramNotifier{bot: bot, admins: admins, log: &l}
}

func (n *TelegramNotifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(userID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn().Err(err).Int64("user_id", userID).Msg("send failed")
		return err
	}
	return nil
}

// NotifyAdmins tries every admin and reports the failures together.
func (n *TelegramNotifier) NotifyAdmins(ctx context.Context, text string) error {
	var errs []error
	for _, id := range n.admins {
		if err := n.NotifyUser(ctx, id, text); err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
