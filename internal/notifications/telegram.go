package notifications

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	domain "github.com/hanko-field/bookings/internal/domain"
)

type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// OwnerTelegram alerts listing owners about new bookings. Owners without a
// chat of their own are reported to the operations chat.
type OwnerTelegram struct {
	bot            telegramBot
	fallbackChatID int64
}

// NewOwnerTelegram connects the bot. An empty token disables the channel and returns nil.
func NewOwnerTelegram(token string, fallbackChatID int64) (Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &OwnerTelegram{bot: bot, fallbackChatID: fallbackChatID}, nil
}

// Name implements Sender.
func (o *OwnerTelegram) Name() string { return "owner_telegram" }

// Send implements Sender.
func (o *OwnerTelegram) Send(ctx context.Context, booking domain.Booking, listing domain.Listing) error {
	chatID := listing.Owner.TelegramChatID
	if chatID == 0 {
		chatID = o.fallbackChatID
	}
	if chatID == 0 {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, ownerAlertText(booking, listing))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := o.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func ownerAlertText(booking domain.Booking, listing domain.Listing) string {
	esc := func(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s) }

	var b strings.Builder
	fmt.Fprintf(&b, "*New booking %s*\n", esc(booking.Reference))
	fmt.Fprintf(&b, "%s: %s\n", esc(listing.Name), esc(booking.Service.Title))
	fmt.Fprintf(&b, "When: %s %s\n", esc(booking.Schedule.Date.String()), esc(booking.Schedule.Time))
	fmt.Fprintf(&b, "Customer: %s %s\n", esc(booking.Contact.Name), esc(booking.Contact.Phone))
	fmt.Fprintf(&b, "Paid online: %s\n", esc(formatAmount(booking.Pricing.AmountDueNow, booking.Pricing.Currency)))
	if booking.Pricing.AmountDeferred > 0 {
		fmt.Fprintf(&b, "Collect at venue: %s\n", esc(formatAmount(booking.Pricing.AmountDeferred, booking.Pricing.Currency)))
	}
	if booking.Coupon != nil {
		fmt.Fprintf(&b, "Coupon: %s\n", esc(booking.Coupon.Code))
	}
	if notes := strings.TrimSpace(booking.Notes); notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", esc(notes))
	}
	return b.String()
}
