package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgModels "github.com/go-telegram/bot/models"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/notificator"
)

const (
	referralPrefix  = "ref_"
	maxListedOrders = 10
)

// userCommand handles commands open to everyone. It reports whether cmd was one.
func (r *Router) userCommand(ctx context.Context, chatID int64, from *tgModels.User, cmd string, args []string) bool {
	switch cmd {
	case "start":
		r.start(ctx, chatID, from, args)
	case "help":
		text := helpText
		if r.bazar.IsAdmin(from.ID) {
			text += "\n\n" + adminHelpText
		}
		r.reply(ctx, chatID, text, nil)
	case "shop", "catalog":
		r.showCatalog(ctx, chatID)
	case "orders":
		r.listOrders(ctx, chatID, from.ID)
	case "referral":
		r.referral(ctx, chatID, from)
	case "status":
		r.status(ctx, chatID, from.ID)
	case "language":
		r.reply(ctx, chatID, "🌐 Choose your language:", notificator.LanguageKeyboard())
	case "cancel":
		orderID, ok := r.bazar.AwaitingScreenshot(from.ID)
		if !ok {
			r.reply(ctx, chatID, "You have no order awaiting payment.", nil)
			return true
		}
		r.cancel(ctx, chatID, from.ID, orderID)
	default:
		return false
	}
	return true
}

func (r *Router) start(ctx context.Context, chatID int64, from *tgModels.User, args []string) {
	r.bazar.EnsureUser(userInfo(from))
	if len(args) > 0 && strings.HasPrefix(args[0], referralPrefix) {
		referrerID, err := strconv.ParseInt(strings.TrimPrefix(args[0], referralPrefix), 10, 64)
		if err == nil && referrerID > 0 {
			if _, err := r.bazar.RegisterReferral(from.ID, referrerID); err != nil {
				r.logger.Debug("Referral not registered", "user_id", from.ID, "referrer_id", referrerID, "error", err)
			}
		}
	}

	name := from.FirstName
	if name == "" {
		name = "there"
	}
	r.reply(ctx, chatID, fmt.Sprintf("👋 Hi %s, welcome to Friday Bazar!\n\nPick a subscription below.", name),
		notificator.CatalogKeyboard(r.catalog.Services()))
}

func (r *Router) showCatalog(ctx context.Context, chatID int64) {
	if !r.catalog.IsPaymentEnabled() {
		r.reply(ctx, chatID, r.catalog.DisabledMessage(), nil)
		return
	}
	r.reply(ctx, chatID, "🛍 Choose a service:", notificator.CatalogKeyboard(r.catalog.Services()))
}

func (r *Router) showService(ctx context.Context, chatID int64, serviceID string) {
	service, ok := r.catalog.Service(serviceID)
	if !ok {
		r.reply(ctx, chatID, "That service no longer exists.", nil)
		return
	}
	if !service.Available {
		r.reply(ctx, chatID, fmt.Sprintf("%s is available on request only. Please contact support.", service.Name), nil)
		return
	}
	text := strings.TrimSpace(service.Emoji + " " + service.Name)
	if service.Description != "" {
		text += "\n\n" + service.Description
	}
	r.reply(ctx, chatID, text, notificator.PlansKeyboard(service))
}

func (r *Router) buy(ctx context.Context, chatID int64, from *tgModels.User, serviceID, plan string) string {
	planIdx, err := strconv.Atoi(plan)
	if err != nil {
		return "Invalid plan."
	}
	prompt, err := r.bazar.StartPurchase(ctx, userInfo(from), serviceID, planIdx)
	if err != nil {
		text := r.describe(err)
		r.reply(ctx, chatID, text, nil)
		return ""
	}
	if err := r.prompts.SendPaymentPrompt(ctx, chatID, prompt); err != nil {
		r.logger.Error("Failed to send payment prompt", "order_id", prompt.Order.ID, "error", err)
		r.reply(ctx, chatID, fmt.Sprintf("Order %s created. Pay %s to %s and upload the screenshot.",
			prompt.Order.ID, notificator.Rupees(prompt.Order.Amount), prompt.UPIID),
			notificator.PaymentKeyboard(prompt.Order.ID))
	}
	return "Order " + prompt.Order.ID + " created"
}

func (r *Router) freeTrial(ctx context.Context, chatID int64, from *tgModels.User, serviceID string) string {
	if _, err := r.bazar.ClaimFreeTrial(ctx, userInfo(from), serviceID); err != nil {
		r.reply(ctx, chatID, r.describe(err), nil)
	}
	return ""
}

func (r *Router) uploadProof(ctx context.Context, chatID, userID int64, orderID string) string {
	if _, err := r.bazar.RequestScreenshot(userID, orderID); err != nil {
		r.reply(ctx, chatID, r.describe(err), nil)
		return ""
	}
	r.reply(ctx, chatID, fmt.Sprintf("📸 Send the payment screenshot for order %s as a photo.", orderID), nil)
	return ""
}

func (r *Router) screenshot(ctx context.Context, chatID int64, from *tgModels.User, fileID string) {
	orderID, ok := r.bazar.AwaitingScreenshot(from.ID)
	if !ok {
		r.reply(ctx, chatID, "You have no order awaiting payment. Use /shop to place one.", nil)
		return
	}
	if _, err := r.bazar.SubmitScreenshot(ctx, from.ID, orderID, fileID); err != nil {
		r.reply(ctx, chatID, r.describe(err), nil)
		return
	}
	r.reply(ctx, chatID, fmt.Sprintf(
		"✅ Screenshot received for order %s.\n\nYou'll be notified once it is approved (usually within 5-10 minutes).", orderID), nil)
}

// cancel replies in the chat and returns a short callback answer.
func (r *Router) cancel(ctx context.Context, chatID, userID int64, orderID string) string {
	if _, err := r.bazar.CancelOrder(ctx, userID, orderID); err != nil {
		r.reply(ctx, chatID, r.describe(err), nil)
		return ""
	}
	r.reply(ctx, chatID, fmt.Sprintf("Order %s cancelled.", orderID), nil)
	return "Cancelled"
}

func (r *Router) details(ctx context.Context, chatID, userID int64, orderID, text string) {
	if _, err := r.bazar.SubmitDetails(ctx, userID, orderID, text); err != nil {
		r.reply(ctx, chatID, r.describe(err), nil)
		return
	}
	r.reply(ctx, chatID, fmt.Sprintf(
		"📨 Thanks! Your details for order %s were sent to our team. Your subscription will be activated shortly.", orderID), nil)
}

func (r *Router) listOrders(ctx context.Context, chatID, userID int64) {
	orders := r.bazar.UserOrders(userID)
	if len(orders) == 0 {
		r.reply(ctx, chatID, "You have no orders yet. Use /shop to place one.", nil)
		return
	}
	if len(orders) > maxListedOrders {
		orders = orders[len(orders)-maxListedOrders:]
	}
	var b strings.Builder
	b.WriteString("🧾 Your orders\n")
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		fmt.Fprintf(&b, "\n%s • %s (%s) • %s • %s", o.ID, o.ServiceName, o.PlanDuration, notificator.Rupees(o.Amount), o.Status)
	}
	r.reply(ctx, chatID, b.String(), nil)
}

func (r *Router) referral(ctx context.Context, chatID int64, from *tgModels.User) {
	u := r.bazar.EnsureUser(userInfo(from))
	link := fmt.Sprintf("https://t.me/%s?start=%s%d", r.botUsername, referralPrefix, from.ID)
	r.reply(ctx, chatID, fmt.Sprintf(
		"🤝 Invite friends and earn commission on their purchases.\n\nYour link: %s\nReferral purchases: %d\nBalance: %s",
		link, u.TotalReferrals, notificator.Rupees(u.Coins)), nil)
}

func (r *Router) status(ctx context.Context, chatID, userID int64) {
	sub, ok := r.bazar.Subscription(userID)
	if !ok || sub.Status == models.SubscriptionNone || sub.Service == "" {
		r.reply(ctx, chatID, "You have no subscription yet. Use /shop to buy one.", nil)
		return
	}
	var b strings.Builder
	b.WriteString("📋 Your subscription\n\n")
	fmt.Fprintf(&b, "Service: %s", sub.Service)
	if sub.Plan != "" {
		fmt.Fprintf(&b, " (%s)", sub.Plan)
	}
	b.WriteString("\n")
	if sub.Active {
		b.WriteString("Status: ✅ active\n")
	} else {
		b.WriteString("Status: ⌛ expired\n")
	}
	if sub.Expiry != nil {
		fmt.Fprintf(&b, "Expires: %s\nDays remaining: %d", sub.Expiry.Format("2006-01-02"), sub.DaysRemaining)
	}
	if !sub.Active {
		b.WriteString("\n\nRenew any time from /shop.")
	}
	r.reply(ctx, chatID, b.String(), nil)
}

func (r *Router) setLanguage(ctx context.Context, chatID int64, from *tgModels.User, code string) string {
	name, ok := models.LanguageName(code)
	if !ok {
		return "Unknown language"
	}
	if err := r.bazar.SetLanguage(userInfo(from), code); err != nil {
		r.reply(ctx, chatID, r.describe(err), nil)
		return ""
	}
	r.reply(ctx, chatID, "🌐 Language set to "+name+".", nil)
	return ""
}
