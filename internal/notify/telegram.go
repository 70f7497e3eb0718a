package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vacbot/internal/config"
)

// Telegram sends events to a single chat through the Bot API.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
	logger *zap.Logger
}

// NewTelegram creates a Telegram notifier. Extra bot options are appended
// after the defaults.
func NewTelegram(cfg config.TelegramConfig, logger *zap.Logger, opts ...bot.Option) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: cfg.ChatID, logger: logger.Named("telegram")}, nil
}

func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   ev.Text(),
	})
	if err != nil {
		return fmt.Errorf("telegram send %s: %w", ev.Kind, err)
	}
	t.logger.Debug("Notification delivered.", zap.Stringer("kind", ev.Kind))
	return nil
}

// FromConfig builds the notifier chain for a run: events are always logged
// and, when enabled, forwarded to Telegram.
func FromConfig(cfg config.NotifyConfig, logger *zap.Logger) (Notifier, error) {
	chain := Multi{NewLog(logger)}
	if cfg.Telegram.Enabled {
		tg, err := NewTelegram(cfg.Telegram, logger)
		if err != nil {
			return nil, err
		}
		chain = append(chain, tg)
	}
	return chain, nil
}
