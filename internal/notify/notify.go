// Package notify delivers operator alerts.
package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Telegram posts alerts to a single admin chat.
type Telegram struct {
	bot    *telego.Bot
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	_, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(t.chatID), text))
	return err
}

// Log writes alerts to the process log. It is used when no bot is configured.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, text string) error {
	l.Logger.Warn("operator alert", zap.String("text", text))
	return nil
}
