package notifications

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	domain "github.com/hanko-field/bookings/internal/domain"
)

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// OwnerPush sends an FCM notification to the owner's registered device.
type OwnerPush struct {
	client messagingClient
}

// NewOwnerPush builds the FCM channel from an initialised Firebase app.
func NewOwnerPush(ctx context.Context, app *firebase.App) (Sender, error) {
	if app == nil {
		return nil, nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase messaging: %w", err)
	}
	return &OwnerPush{client: client}, nil
}

// Name implements Sender.
func (o *OwnerPush) Name() string { return "owner_push" }

// Send implements Sender.
func (o *OwnerPush) Send(ctx context.Context, booking domain.Booking, listing domain.Listing) error {
	token := strings.TrimSpace(listing.Owner.PushToken)
	if token == "" {
		return ErrNoRecipient
	}
	_, err := o.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: "New booking " + booking.Reference,
			Body:  fmt.Sprintf("%s on %s at %s", booking.Service.Title, booking.Schedule.Date.String(), booking.Schedule.Time),
		},
		Data: map[string]string{
			"bookingId": booking.ID,
			"listingId": listing.ID,
			"reference": booking.Reference,
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("owner push token unregistered for listing %s: %w", listing.ID, err)
		}
		return fmt.Errorf("send push: %w", err)
	}
	return nil
}
