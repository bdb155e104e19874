package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"marketplace-billing/internal/config"
	"marketplace-billing/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*OpsNotifier)(nil)

// sender is the slice of tgbotapi.BotAPI we use.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// OpsNotifier posts billing events to the operations chat.
type OpsNotifier struct {
	bot    sender
	chatID int64
}

func NewOpsNotifier(cfg *config.NotifyConfig) (*OpsNotifier, error) {
	if cfg == nil {
		return nil, errors.New("notify config is nil")
	}
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == 0 {
		return nil, errors.New("telegram bot token and ops chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, err
	}
	return &OpsNotifier{bot: bot, chatID: cfg.TelegramChatID}, nil
}

func (n *OpsNotifier) Notify(ctx context.Context, ev adapter.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	msg := tgbotapi.NewMessage(n.chatID, FormatEvent(ev))
	msg.DisableWebPagePreview = true
	_, err := n.bot.Send(msg)
	return err
}

// FormatEvent renders ev as a short plain-text message.
func FormatEvent(ev adapter.Event) string {
	var b strings.Builder
	b.WriteString(eventTitle(ev.Kind))
	if ev.PaymentID != "" {
		fmt.Fprintf(&b, "\npayment: %s", ev.PaymentID)
	}
	if ev.AccountID != "" {
		fmt.Fprintf(&b, "\naccount: %s", ev.AccountID)
	}
	if ev.PlanID != "" {
		fmt.Fprintf(&b, "\nplan: %s", ev.PlanID)
	}
	if ev.Amount != 0 {
		fmt.Fprintf(&b, "\namount: %s %s", formatMinor(ev.Amount), ev.Currency)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, "\n%s", ev.Detail)
	}
	return b.String()
}

func eventTitle(k adapter.EventKind) string {
	switch k {
	case adapter.EventPaymentSucceeded:
		return "✅ Payment succeeded"
	case adapter.EventPaymentFailed:
		return "❌ Payment failed"
	case adapter.EventLateSuccess:
		return "⚠️ Late gateway success, needs review"
	case adapter.EventAmountMismatch:
		return "⚠️ Amount mismatch, needs review"
	case adapter.EventPaymentReopened:
		return "🔁 Payment reopened"
	case adapter.EventPaymentRefunded:
		return "↩️ Payment refunded"
	case adapter.EventCouponOverdrawn:
		return "⚠️ Coupon ceiling reached at commit"
	case adapter.EventSubscriptionLapse:
		return "⏳ Subscription lapsed"
	default:
		return string(k)
	}
}

func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
