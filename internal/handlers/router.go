package handlers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"

	"github.com/fridaybazar/bazar/internal/bazar"
	"github.com/fridaybazar/bazar/internal/catalog"
	"github.com/fridaybazar/bazar/internal/ledger"
	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/notificator"
	"github.com/fridaybazar/bazar/internal/store"
	"github.com/fridaybazar/bazar/pkg/logger"
)

// Router turns Telegram updates into shop operations.
type Router struct {
	logger *logger.Logger

	bazar     models.BazarI
	catalog   *catalog.SettingsManager
	messenger notificator.Messenger
	prompts   *notificator.Notificator

	botUsername string

	// drafts holds each admin's broadcast text until it is confirmed.
	draftsMu sync.Mutex
	drafts   map[int64]string
}

func NewRouter(
	bazar models.BazarI,
	settings *catalog.SettingsManager,
	messenger notificator.Messenger,
	prompts *notificator.Notificator,
	botUsername string,
	logger *logger.Logger,
) *Router {
	return &Router{
		logger:      logger,
		bazar:       bazar,
		catalog:     settings,
		messenger:   messenger,
		prompts:     prompts,
		botUsername: strings.TrimPrefix(botUsername, "@"),
		drafts:      map[int64]string{},
	}
}

// Handle is a bot.HandlerFunc for every update.
func (r *Router) Handle(ctx context.Context, _ *bot.Bot, update *tgModels.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Update handler panicked", "update_id", update.ID, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		r.handleMessage(ctx, update.Message)
	}
}

func userInfo(u *tgModels.User) models.UserInfo {
	return models.UserInfo{ID: u.ID, Username: u.Username, FirstName: u.FirstName}
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, markup tgModels.ReplyMarkup) {
	if err := r.messenger.SendText(ctx, chatID, text, markup); err != nil {
		r.logger.Error("Failed to reply", "chat_id", chatID, "error", err)
	}
}

// parseCommand splits "/price@FridayBazarBot spotify 1 129" into the command
// and its arguments. ok is false for plain text.
func parseCommand(text, botUsername string) (cmd string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd = strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		if botUsername != "" && !strings.EqualFold(cmd[at+1:], botUsername) {
			return "", nil, false
		}
		cmd = cmd[:at]
	}
	return cmd, fields[1:], true
}

// commandBody returns everything after the command word, line breaks included.
func commandBody(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		return strings.TrimSpace(text[i:])
	}
	return ""
}

func (r *Router) handleMessage(ctx context.Context, msg *tgModels.Message) {
	from := msg.From
	chatID := msg.Chat.ID
	if chatID == 0 {
		chatID = from.ID
	}

	if len(msg.Photo) > 0 {
		fileID := msg.Photo[len(msg.Photo)-1].FileID
		if cmd, args, ok := parseCommand(msg.Caption, r.botUsername); ok && cmd == "qr" && r.bazar.IsAdmin(from.ID) {
			r.adminQRPhoto(ctx, chatID, from.ID, fileID, args)
			return
		}
		r.screenshot(ctx, chatID, from, fileID)
		return
	}

	if cmd, args, ok := parseCommand(msg.Text, r.botUsername); ok {
		if r.userCommand(ctx, chatID, from, cmd, args) {
			return
		}
		if r.bazar.IsAdmin(from.ID) && r.adminCommand(ctx, chatID, from.ID, cmd, args, commandBody(msg.Text)) {
			return
		}
		r.reply(ctx, chatID, helpText, nil)
		return
	}

	if order, ok := r.bazar.AwaitingDetails(from.ID); ok && strings.TrimSpace(msg.Text) != "" {
		r.details(ctx, chatID, from.ID, order.ID, msg.Text)
		return
	}
	r.reply(ctx, chatID, helpText, nil)
}

func (r *Router) handleCallback(ctx context.Context, cq *tgModels.CallbackQuery) {
	from := &cq.From
	chatID := from.ID
	parts := strings.Split(cq.Data, ":")
	answer := ""

	switch parts[0] {
	case notificator.CallbackCatalog:
		r.showCatalog(ctx, chatID)
	case notificator.CallbackService:
		if len(parts) == 2 {
			r.showService(ctx, chatID, parts[1])
		}
	case notificator.CallbackBuy:
		if len(parts) == 3 {
			answer = r.buy(ctx, chatID, from, parts[1], parts[2])
		}
	case notificator.CallbackFreeTrial:
		if len(parts) == 2 {
			answer = r.freeTrial(ctx, chatID, from, parts[1])
		}
	case notificator.CallbackUploadProof:
		if len(parts) == 2 {
			answer = r.uploadProof(ctx, chatID, from.ID, parts[1])
		}
	case notificator.CallbackCancelOrder:
		if len(parts) == 2 {
			answer = r.cancel(ctx, chatID, from.ID, parts[1])
		}
	case notificator.CallbackAdminApprove:
		if len(parts) == 2 {
			answer = r.approve(ctx, from.ID, parts[1])
		}
	case notificator.CallbackAdminReject:
		if len(parts) == 2 {
			answer = r.reject(ctx, from.ID, parts[1])
		}
	case notificator.CallbackAdminVerify:
		if len(parts) == 2 {
			answer = r.verify(ctx, chatID, from.ID, parts[1])
		}
	case notificator.CallbackBroadcast:
		if len(parts) == 2 {
			answer = r.confirmBroadcast(ctx, chatID, from.ID, parts[1] == notificator.BroadcastConfirm)
		}
	case notificator.CallbackLanguage:
		if len(parts) == 2 {
			answer = r.setLanguage(ctx, chatID, from, parts[1])
		}
	default:
		r.logger.Debug("Unknown callback", "data", cq.Data, "user_id", from.ID)
	}

	if err := r.messenger.AnswerCallback(ctx, cq.ID, answer); err != nil {
		r.logger.Debug("Failed to answer callback", "error", err)
	}
}

// describe maps a business error to something a user can act on.
func (r *Router) describe(err error) string {
	var terr *store.TransitionError
	switch {
	case errors.Is(err, bazar.ErrPaymentsDisabled):
		return r.catalog.DisabledMessage()
	case errors.As(err, &terr):
		return fmt.Sprintf("Order %s is already %s.", terr.OrderID, terr.Current)
	case errors.Is(err, store.ErrOrderNotFound):
		return "Order not found."
	case errors.Is(err, bazar.ErrNotOrderOwner):
		return "That order is not yours."
	case errors.Is(err, bazar.ErrNotAdmin):
		return "Only admins can do that."
	case errors.Is(err, bazar.ErrServiceUnavailable):
		return "This service is available on request only. Please contact support."
	case errors.Is(err, bazar.ErrFreeTrialUsed):
		return "You have already claimed this free trial."
	case errors.Is(err, bazar.ErrFreeTrialUnavailable):
		return "This service has no free trial."
	case errors.Is(err, bazar.ErrNotPending):
		return "This order is no longer awaiting payment."
	case errors.Is(err, bazar.ErrNotApproved):
		return "This order has not been approved yet."
	case errors.Is(err, bazar.ErrDetailsSubmitted):
		return "Details for this order were already received."
	case errors.Is(err, ledger.ErrSelfReferral):
		return "You cannot refer yourself."
	case errors.Is(err, catalog.ErrServiceNotFound), errors.Is(err, catalog.ErrPlanNotFound):
		return "That plan no longer exists. Open the catalog again."
	}
	r.logger.Error("Unexpected error", "error", err)
	return "Something went wrong. Please try again."
}

const helpText = `Friday Bazar 🛍

/shop - browse subscriptions
/orders - your recent orders
/status - your subscription
/referral - your referral link and balance
/language - change language
/cancel - cancel your pending order`

const adminHelpText = `Admin commands

/stats
/pending - payments awaiting review
/verify <order> - show an order's review card again
/broadcast <message>
/payments on | off [message]
/qr dynamic (send a photo captioned /qr for a static QR, /qr <service> <plan> for a plan QR)
/qr clear <service> <plan>
/upi <upi-id> [name]
/price <service> <plan> <amount>
/bulk +10 | -10
/service <service> on | off
/approve <order> , /reject <order>`
