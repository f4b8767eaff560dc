package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botAPI is the part of tgbotapi.BotAPI the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers notifications through the Telegram Bot API.
type TelegramSender struct {
	bot        botAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

// NewTelegramSender authenticates the bot token and returns a sender for
// chatID.
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return newTelegramSender(bot, chatID), nil
}

func newTelegramSender(bot botAPI, chatID int64) *TelegramSender {
	return &TelegramSender{bot: bot, chatID: chatID, maxRetries: 3, retryDelay: time.Second}
}

// Send posts the title in bold followed by the message, retrying with a
// linear backoff.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("*%s*\n%s", escapeMarkdownV2(title), escapeMarkdownV2(message)))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == t.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("telegram: send: %w", ctx.Err())
		case <-time.After(t.retryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("telegram: send after %d attempts: %w", t.maxRetries, lastErr)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

var markdownV2Replacer = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
	"\\", "\\\\",
)

// escapeMarkdownV2 escapes the characters MarkdownV2 reserves.
func escapeMarkdownV2(s string) string {
	return markdownV2Replacer.Replace(s)
}
