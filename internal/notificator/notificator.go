package notificator

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/time/rate"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/pkg/logger"
)

// Notificator turns core events into Telegram messages for the buyer or for
// every admin, and mails admin alerts when email is configured.
type Notificator struct {
	logger *logger.Logger

	messenger Messenger
	mailer    Mailer

	adminIDs        []int64
	supportUsername string

	// broadcastLimiter keeps broadcasts under Telegram's bulk send limit.
	broadcastLimiter *rate.Limiter
}

// BroadcastRate is how many broadcast messages are sent per second.
const BroadcastRate = 20

// NewNotificator builds a notificator. mailer may be nil.
func NewNotificator(logger *logger.Logger, messenger Messenger, mailer Mailer, adminIDs []int64, supportUsername string) *Notificator {
	return &Notificator{
		logger:          logger,
		messenger:       messenger,
		mailer:          mailer,
		adminIDs:        adminIDs,
		supportUsername: supportUsername,

		broadcastLimiter: rate.NewLimiter(rate.Limit(BroadcastRate), 1),
	}
}

// safeCall runs a function with panic recovery (synchronous, no goroutine spawning)
func (n *Notificator) safeCall(fn func(), context string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Publish delivers an event. Delivery failures are logged, never returned.
func (n *Notificator) Publish(ctx context.Context, event models.Event) {
	msg, ok := render(event, n.supportUsername)
	if !ok {
		n.logger.Warn("No template for event", "kind", event.Kind, "order_id", event.Order.ID)
		return
	}

	switch event.Audience {
	case models.AudienceUser:
		n.safeCall(func() { n.deliver(ctx, event.UserID, msg, event) }, string(event.Kind))
	case models.AudienceAdmins:
		for _, adminID := range n.adminIDs {
			n.safeCall(func() { n.deliver(ctx, adminID, msg, event) }, string(event.Kind))
		}
		if n.mailer != nil && msg.subject != "" {
			n.safeCall(func() {
				if err := n.mailer.Send(msg.subject, msg.text); err != nil {
					n.logger.Error("Failed to email admin alert", "kind", event.Kind, "order_id", event.Order.ID, "error", err)
				}
			}, "emailNotification")
		}
	}
}

func (n *Notificator) deliver(ctx context.Context, chatID int64, msg message, event models.Event) {
	var err error
	if msg.photo != nil {
		err = n.messenger.SendPhoto(ctx, chatID, *msg.photo, msg.text, msg.markup)
	} else {
		err = n.messenger.SendText(ctx, chatID, msg.text, msg.markup)
	}
	if err != nil {
		n.logger.Error("Failed to deliver notification",
			"kind", event.Kind, "chat_id", chatID, "order_id", event.Order.ID, "error", err)
	}
}

// SendPaymentPrompt shows the payment QR with the upload/cancel keyboard.
func (n *Notificator) SendPaymentPrompt(ctx context.Context, chatID int64, prompt *models.PaymentPrompt) error {
	photo := Photo{FileID: prompt.QRFileID, PNG: prompt.QRImage}
	return n.messenger.SendPhoto(ctx, chatID, photo, PaymentPromptCaption(prompt), PaymentKeyboard(prompt.Order.ID))
}

// SendReview shows an admin the review card of an order: the payment proof
// with approve and reject buttons.
func (n *Notificator) SendReview(ctx context.Context, chatID int64, order models.Order) error {
	msg, _ := render(models.Event{Kind: models.EventKindVerificationRequested, Order: order}, n.supportUsername)
	if msg.photo != nil {
		return n.messenger.SendPhoto(ctx, chatID, *msg.photo, msg.text, msg.markup)
	}
	return n.messenger.SendText(ctx, chatID, msg.text, msg.markup)
}

// Broadcast sends text to every user, paced by the broadcast limiter. It
// stops early when ctx is done; unsent users count as failed.
func (n *Notificator) Broadcast(ctx context.Context, userIDs []int64, text string) (sent, failed int) {
	for i, userID := range userIDs {
		if err := n.broadcastLimiter.Wait(ctx); err != nil {
			n.logger.Warn("Broadcast interrupted", "sent", sent, "remaining", len(userIDs)-i, "error", err)
			return sent, failed + len(userIDs) - i
		}
		delivered := false
		n.safeCall(func() {
			if err := n.messenger.SendText(ctx, userID, text, nil); err != nil {
				n.logger.Debug("Broadcast not delivered", "user_id", userID, "error", err)
				return
			}
			delivered = true
		}, "broadcast")
		if !delivered {
			failed++
			continue
		}
		sent++
	}
	n.logger.Info("Broadcast complete", "sent", sent, "failed", failed)
	return sent, failed
}

// BroadcastSummary is the report shown to the admin after a broadcast.
func BroadcastSummary(sent, failed int) string {
	return fmt.Sprintf("✅ Broadcast complete!\n\nSent: %d\nFailed/Blocked: %d", sent, failed)
}
