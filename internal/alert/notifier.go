package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"
)

// Notifier delivers a formatted alert.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// ServerURL overrides the Bot API endpoint (tests, local bot servers).
	ServerURL string
}

// Enabled reports whether both credentials are present.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// TelegramNotifier sends HTML messages to a single chat.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID string
}

// NewTelegramNotifier creates a notifier. No network call is made here.
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	if !cfg.Enabled() {
		return nil, errors.New("telegram: bot token and chat id are required")
	}
	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.ServerURL))
	}
	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramNotifier{bot: b, chatID: cfg.ChatID}, nil
}

func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             n.chatID,
		Text:               text,
		ParseMode:          models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// LogNotifier writes alerts to the log. Used when Telegram is not configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, text string) error {
	log.Info().Str("text", text).Msg("alert: (log only)")
	return nil
}

// New picks the Telegram notifier when credentials are present, otherwise
// the log notifier.
func New(cfg TelegramConfig) (Notifier, error) {
	if !cfg.Enabled() {
		log.Warn().Msg("alert: telegram not configured, alerts go to the log")
		return LogNotifier{}, nil
	}
	return NewTelegramNotifier(cfg)
}
