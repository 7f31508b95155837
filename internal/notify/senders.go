// ABOUTME: Matrix and Telegram push senders and the backend factory
// ABOUTME: The push id is a Matrix room id or a Telegram chat id respectively

package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/parley/internal/config"
)

type matrixClient interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// MatrixSender posts the notification text into the user's Matrix room
type MatrixSender struct {
	client matrixClient
}

// NewMatrixSender logs in with an access token
func NewMatrixSender(cfg config.MatrixConfig) (*MatrixSender, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &MatrixSender{client: client}, nil
}

// Send posts message into room pushID
func (m *MatrixSender) Send(ctx context.Context, pushID, message string) error {
	if _, err := m.client.SendText(ctx, id.RoomID(pushID), message); err != nil {
		return fmt.Errorf("matrix send: %w", err)
	}
	return nil
}

type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender messages the user's Telegram chat
type TelegramSender struct {
	bot telegramBot
}

// NewTelegramSender connects the bot
func NewTelegramSender(cfg config.TelegramConfig) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

// Send messages chat pushID
func (t *TelegramSender) Send(ctx context.Context, pushID, message string) error {
	chatID, err := strconv.ParseInt(pushID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram push id %q is not a chat id: %w", pushID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, message)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// NewSender builds the configured push backend. The OneSignal client is also
// returned so the task runner can refresh push ids from its directory; it is
// nil for other backends.
func NewSender(cfg config.NotificationsConfig) (Sender, *OneSignal, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Backend {
	case config.NotifyOneSignal:
		client := NewOneSignal(cfg.OneSignal, timeout)
		return client, client, nil
	case config.NotifyMatrix:
		s, err := NewMatrixSender(cfg.Matrix)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.NotifyTelegram:
		s, err := NewTelegramSender(cfg.Telegram)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.NotifyNone, "":
		return NopSender{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notification backend %q", cfg.Backend)
	}
}
