// Package notify forwards operator-relevant sync events to chat.
package notify

import (
	"fmt"
	"strings"
	"time"

	"bookingsync/internal/config"
	"bookingsync/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of the Bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotSender connects to the Bot API.
func NewBotSender(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// TelegramNotifier posts exhausted retries and failed runs to one chat.
type TelegramNotifier struct {
	sender Sender
	chatID int64
	logger zerolog.Logger
}

func NewTelegramNotifier(sender Sender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "telegram_notifier").Logger()
	}
	return &TelegramNotifier{sender: sender, chatID: chatID, logger: l}
}

// Attach subscribes the notifier to the bus.
func (n *TelegramNotifier) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventRetryExhausted, n.onRetryExhausted)
	bus.Subscribe(events.EventSyncFailed, n.onRunFinished)
	bus.Subscribe(events.EventSyncCompleted, n.onRunFinished)
}

func (n *TelegramNotifier) onRetryExhausted(ev *events.Event) error {
	var p events.OrderEventPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Type, err)
	}
	return n.SendText(FormatRetryExhausted(p))
}

func (n *TelegramNotifier) onRunFinished(ev *events.Event) error {
	var p events.RunEventPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Type, err)
	}
	// Clean runs are not worth a message.
	if ev.Type == events.EventSyncCompleted && p.Failed == 0 {
		return nil
	}
	return n.SendText(FormatRun(p))
}

// SendText posts a plain message to the configured chat.
func (n *TelegramNotifier) SendText(text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", n.chatID).Msg("failed to send notification")
		return err
	}
	return nil
}

func FormatRetryExhausted(p events.OrderEventPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%s (id %s) needs manual review\n", p.OrderNumber, p.OrderID)
	fmt.Fprintf(&b, "Retries: %d/%d\n", p.RetryCount, p.MaxRetries)
	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}
	if p.Error != "" {
		fmt.Fprintf(&b, "Last error: %s\n", p.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatRun(p events.RunEventPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync run %s %s (%s)\n", shortID(p.RunID), p.Status, p.Source)
	fmt.Fprintf(&b, "Checked %d, synced %d, failed %d, skipped %d, retried %d\n",
		p.Checked, p.Successful, p.Failed, p.Skipped, p.Retried)
	fmt.Fprintf(&b, "Duration: %s", p.Duration.Round(time.Second))
	if p.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", p.Error)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
