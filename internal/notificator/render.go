package notificator

import (
	"fmt"
	"strings"
	"time"

	tgModels "github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/fridaybazar/bazar/internal/models"
)

// Callback data prefixes shared with the update router.
const (
	CallbackUploadProof  = "upload_proof"
	CallbackCancelOrder  = "cancel_order"
	CallbackAdminApprove = "admin_approve"
	CallbackAdminReject  = "admin_reject"
	CallbackBuy          = "buy"
	CallbackService      = "service"
	CallbackFreeTrial    = "trial"
	CallbackCatalog      = "catalog"
	CallbackAdminVerify  = "admin_verify"
	CallbackBroadcast    = "broadcast"
	CallbackLanguage     = "lang"
)

// Broadcast callback arguments.
const (
	BroadcastConfirm = "confirm"
	BroadcastCancel  = "cancel"
)

// CallbackData joins a prefix and its arguments, e.g. "buy:spotify:0".
func CallbackData(prefix string, args ...string) string {
	return strings.Join(append([]string{prefix}, args...), ":")
}

func button(text, data string) tgModels.InlineKeyboardButton {
	return tgModels.InlineKeyboardButton{Text: text, CallbackData: data}
}

// PaymentKeyboard is attached to payment prompts and reminders.
func PaymentKeyboard(orderID string) *tgModels.InlineKeyboardMarkup {
	return &tgModels.InlineKeyboardMarkup{InlineKeyboard: [][]tgModels.InlineKeyboardButton{
		{button("📸 Upload payment proof", CallbackData(CallbackUploadProof, orderID))},
		{button("❌ Cancel order", CallbackData(CallbackCancelOrder, orderID))},
	}}
}

// AdminReviewKeyboard is attached to verification requests.
func AdminReviewKeyboard(orderID string) *tgModels.InlineKeyboardMarkup {
	return &tgModels.InlineKeyboardMarkup{InlineKeyboard: [][]tgModels.InlineKeyboardButton{{
		button("✅ Approve", CallbackData(CallbackAdminApprove, orderID)),
		button("❌ Reject", CallbackData(CallbackAdminReject, orderID)),
	}}}
}

// PendingKeyboard lists orders awaiting review, newest first.
func PendingKeyboard(orders []*models.Order) *tgModels.InlineKeyboardMarkup {
	rows := make([][]tgModels.InlineKeyboardButton, 0, len(orders))
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		rows = append(rows, []tgModels.InlineKeyboardButton{
			button(fmt.Sprintf("🆔 %s | %s | %s", o.ID, Rupees(o.Amount), o.ServiceName), CallbackData(CallbackAdminVerify, o.ID)),
		})
	}
	return &tgModels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func BroadcastKeyboard() *tgModels.InlineKeyboardMarkup {
	return &tgModels.InlineKeyboardMarkup{InlineKeyboard: [][]tgModels.InlineKeyboardButton{
		{button("✅ Send to all users", CallbackData(CallbackBroadcast, BroadcastConfirm))},
		{button("❌ Cancel", CallbackData(CallbackBroadcast, BroadcastCancel))},
	}}
}

func LanguageKeyboard() *tgModels.InlineKeyboardMarkup {
	row := make([]tgModels.InlineKeyboardButton, 0, len(models.Languages))
	for _, l := range models.Languages {
		row = append(row, button(l.Name, CallbackData(CallbackLanguage, l.Code)))
	}
	return &tgModels.InlineKeyboardMarkup{InlineKeyboard: [][]tgModels.InlineKeyboardButton{row}}
}

// CatalogKeyboard lists services, one per row.
func CatalogKeyboard(services []*models.Service) *tgModels.InlineKeyboardMarkup {
	rows := make([][]tgModels.InlineKeyboardButton, 0, len(services))
	for _, s := range services {
		label := s.Emoji + " " + s.Name
		if !s.Available {
			label += " (on request)"
		}
		rows = append(rows, []tgModels.InlineKeyboardButton{button(strings.TrimSpace(label), CallbackData(CallbackService, s.ID))})
	}
	return &tgModels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// PlansKeyboard lists the plans of a service plus its free trial, if any.
func PlansKeyboard(s *models.Service) *tgModels.InlineKeyboardMarkup {
	rows := make([][]tgModels.InlineKeyboardButton, 0, len(s.Plans)+2)
	for i, p := range s.Plans {
		rows = append(rows, []tgModels.InlineKeyboardButton{
			button(fmt.Sprintf("%s • %s", p.Duration, Rupees(p.Price)), CallbackData(CallbackBuy, s.ID, fmt.Sprint(i))),
		})
	}
	if s.FreeTrial {
		rows = append(rows, []tgModels.InlineKeyboardButton{button("🎁 Free trial", CallbackData(CallbackFreeTrial, s.ID))})
	}
	rows = append(rows, []tgModels.InlineKeyboardButton{button("⬅️ Back", CallbackCatalog)})
	return &tgModels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// Rupees formats an amount, dropping the paise when they are zero.
func Rupees(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return "₹" + d.StringFixed(0)
	}
	return "₹" + d.StringFixed(2)
}

func minutes(d time.Duration) string {
	m := int(d.Round(time.Minute) / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

func buyer(o models.Order) string {
	if o.Username != "" {
		return fmt.Sprintf("@%s (%d)", o.Username, o.UserID)
	}
	return fmt.Sprint(o.UserID)
}

// PaymentPromptCaption is the caption under the payment QR.
func PaymentPromptCaption(p *models.PaymentPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛒 Order %s\n\n", p.Order.ID)
	fmt.Fprintf(&b, "Service: %s (%s)\n", p.Order.ServiceName, p.Order.PlanDuration)
	fmt.Fprintf(&b, "Amount: %s\n", Rupees(p.Order.Amount))
	if p.UPIID != "" {
		fmt.Fprintf(&b, "UPI: %s\n", p.UPIID)
	}
	fmt.Fprintf(&b, "\nScan the QR and pay within %s, then upload the payment screenshot.", minutes(p.Timeout))
	return b.String()
}

// message is a rendered event.
type message struct {
	text   string
	photo  *Photo
	markup tgModels.ReplyMarkup
	// subject is set for events that are also mailed to the admin address.
	subject string
}

func render(e models.Event, support string) (message, bool) {
	o := e.Order
	switch e.Kind {
	case models.EventKindPaymentWarning:
		text := fmt.Sprintf("⏰ %s remaining!\n\nOrder %s: complete your payment of %s and upload the screenshot.",
			minutes(e.Remaining), o.ID, Rupees(o.Amount))
		if e.Remaining <= time.Minute {
			text = fmt.Sprintf("🚨 Last minute!\n\nOrder %s expires in %s.", o.ID, minutes(e.Remaining))
		}
		return message{text: text, markup: PaymentKeyboard(o.ID)}, true

	case models.EventKindOrderExpired:
		return message{text: fmt.Sprintf(
			"⌛ Order %s has expired.\n\nNo payment proof arrived in time. Open the catalog to place a new order.", o.ID)}, true

	case models.EventKindOrderApproved:
		return message{text: fmt.Sprintf(
			"✅ Payment approved!\n\nOrder: %s\nService: %s (%s)\n\nReply with your account email and any details we need to activate your subscription.",
			o.ID, o.ServiceName, o.PlanDuration)}, true

	case models.EventKindOrderRejected:
		text := fmt.Sprintf("❌ Payment for order %s was rejected.", o.ID)
		if support != "" {
			text += fmt.Sprintf("\n\nIf you think this is a mistake, contact @%s.", support)
		}
		return message{text: text}, true

	case models.EventKindCommissionEarned:
		return message{text: fmt.Sprintf(
			"🎉 You earned %s referral commission from order %s!\n\nBalance: %s",
			Rupees(e.Commission), o.ID, Rupees(e.Balance))}, true

	case models.EventKindFreeTrialGranted:
		return message{text: fmt.Sprintf(
			"🎁 Free trial granted!\n\nOrder: %s\nService: %s (%s)\n\nReply with your account email to activate it.",
			o.ID, o.ServiceName, o.PlanDuration)}, true

	case models.EventKindVerificationRequested:
		caption := fmt.Sprintf("🧾 Payment verification\n\nOrder: %s\nUser: %s\nService: %s (%s)\nAmount: %s",
			o.ID, buyer(o), o.ServiceName, o.PlanDuration, Rupees(o.Amount))
		m := message{text: caption, markup: AdminReviewKeyboard(o.ID), subject: "Payment verification " + o.ID}
		if o.PaymentScreenshot != nil {
			m.photo = &Photo{FileID: *o.PaymentScreenshot}
		}
		return m, true

	case models.EventKindDetailsReceived:
		details := ""
		if o.UserDetails != nil {
			details = *o.UserDetails
		}
		return message{
			text: fmt.Sprintf("📨 Activation details\n\nOrder: %s\nUser: %s\nService: %s (%s)\n\n%s",
				o.ID, buyer(o), o.ServiceName, o.PlanDuration, details),
			subject: "Activation details " + o.ID,
		}, true

	case models.EventKindFreeTrialClaimed:
		return message{text: fmt.Sprintf("🎁 Free trial claimed\n\nOrder: %s\nUser: %s\nService: %s",
			o.ID, buyer(o), o.ServiceName)}, true
	}
	return message{}, false
}
