package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fridaybazar/bazar/internal/bazar"
	"github.com/fridaybazar/bazar/internal/catalog"
	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/notificator"
)

// adminCommand handles admin-only commands. It reports whether cmd was one.
func (r *Router) adminCommand(ctx context.Context, chatID, adminID int64, cmd string, args []string, body string) bool {
	var text string
	switch cmd {
	case "admin":
		text = adminHelpText
	case "stats":
		text = formatStats(r.bazar.Stats())
	case "pending":
		r.listPending(ctx, chatID)
	case "verify":
		if len(args) != 1 {
			text = "Usage: /verify <order>"
			break
		}
		// verify replies itself; its result is a callback answer.
		r.verify(ctx, chatID, adminID, args[0])
	case "broadcast":
		r.draftBroadcast(ctx, chatID, adminID, body)
	case "payments":
		text = r.payments(adminID, args)
	case "qr":
		text = r.qrCommand(adminID, args)
	case "upi":
		text = r.upi(adminID, args)
	case "price":
		text = r.price(args)
	case "bulk":
		text = r.bulk(args)
	case "service":
		text = r.serviceToggle(args)
	case "approve", "reject":
		if len(args) != 1 {
			text = fmt.Sprintf("Usage: /%s <order>", cmd)
			break
		}
		if cmd == "approve" {
			text = r.approve(ctx, adminID, args[0])
		} else {
			text = r.reject(ctx, adminID, args[0])
		}
	default:
		return false
	}
	if text != "" {
		r.reply(ctx, chatID, text, nil)
	}
	return true
}

func (r *Router) approve(ctx context.Context, adminID int64, orderID string) string {
	order, err := r.bazar.Approve(ctx, adminID, orderID)
	if err != nil {
		return r.describe(err)
	}
	r.logger.Info("Approved via bot", "order_id", orderID, "admin_id", adminID)
	return fmt.Sprintf("✅ Order %s approved (%s, %s).", order.ID, order.ServiceName, notificator.Rupees(order.Amount))
}

func (r *Router) reject(ctx context.Context, adminID int64, orderID string) string {
	order, err := r.bazar.Reject(ctx, adminID, orderID)
	if err != nil {
		return r.describe(err)
	}
	r.logger.Info("Rejected via bot", "order_id", orderID, "admin_id", adminID)
	return fmt.Sprintf("❌ Order %s rejected.", order.ID)
}

func (r *Router) listPending(ctx context.Context, chatID int64) {
	pending := r.bazar.PendingApprovals()
	if len(pending) == 0 {
		r.reply(ctx, chatID, "✅ No pending approvals!", nil)
		return
	}
	r.reply(ctx, chatID, fmt.Sprintf("⏳ Pending approvals (%d)\n\nSelect an order to verify:", len(pending)),
		notificator.PendingKeyboard(pending))
}

// verify re-sends the review card of an order still awaiting a decision.
func (r *Router) verify(ctx context.Context, chatID, adminID int64, orderID string) string {
	if !r.bazar.IsAdmin(adminID) {
		return r.describe(bazar.ErrNotAdmin)
	}
	order, ok := r.bazar.GetOrder(orderID)
	if !ok || order.Status != models.StatusVerification {
		r.reply(ctx, chatID, fmt.Sprintf("Order %s is not awaiting review.", orderID), nil)
		return "Already processed"
	}
	if err := r.prompts.SendReview(ctx, chatID, *order); err != nil {
		r.logger.Error("Failed to send review card", "order_id", orderID, "error", err)
		return "Failed to show order"
	}
	return ""
}

func (r *Router) draftBroadcast(ctx context.Context, chatID, adminID int64, text string) {
	if text == "" {
		r.reply(ctx, chatID, "Usage: /broadcast <message>", nil)
		return
	}
	r.draftsMu.Lock()
	r.drafts[adminID] = text
	r.draftsMu.Unlock()

	r.reply(ctx, chatID, text, nil)
	r.reply(ctx, chatID, fmt.Sprintf("👆 Preview above.\n\nSend this to %d users?", len(r.bazar.UserIDs())),
		notificator.BroadcastKeyboard())
}

func (r *Router) confirmBroadcast(ctx context.Context, chatID, adminID int64, confirmed bool) string {
	if !r.bazar.IsAdmin(adminID) {
		return r.describe(bazar.ErrNotAdmin)
	}
	r.draftsMu.Lock()
	text, ok := r.drafts[adminID]
	delete(r.drafts, adminID)
	r.draftsMu.Unlock()

	if !ok {
		return "No broadcast to send"
	}
	if !confirmed {
		r.reply(ctx, chatID, "❌ Broadcast cancelled.", nil)
		return ""
	}
	sent, failed := r.prompts.Broadcast(ctx, r.bazar.UserIDs(), text)
	r.logger.Info("Broadcast sent", "admin_id", adminID, "sent", sent, "failed", failed)
	r.reply(ctx, chatID, notificator.BroadcastSummary(sent, failed), nil)
	return ""
}

func (r *Router) payments(adminID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /payments on | off [message]"
	}
	switch strings.ToLower(args[0]) {
	case "on":
		if err := r.catalog.EnablePayments(adminID); err != nil {
			return adminFailure(err)
		}
		return "Payments enabled."
	case "off":
		message := strings.Join(args[1:], " ")
		if err := r.catalog.DisablePayments(adminID, "disabled from bot", message); err != nil {
			return adminFailure(err)
		}
		return "Payments disabled. Buyers now see:\n\n" + r.catalog.DisabledMessage()
	}
	return "Usage: /payments on | off [message]"
}

func adminFailure(err error) string {
	if errors.Is(err, catalog.ErrServiceNotFound) || errors.Is(err, catalog.ErrPlanNotFound) {
		return "Unknown service or plan."
	}
	return "Failed: " + err.Error()
}

// planRef parses a service id and a 1-based plan number.
func planRef(serviceID, plan string) (string, int, error) {
	n, err := strconv.Atoi(plan)
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("invalid plan number %q", plan)
	}
	return serviceID, n - 1, nil
}

func (r *Router) qrCommand(adminID int64, args []string) string {
	switch {
	case len(args) == 1 && strings.EqualFold(args[0], "dynamic"):
		if err := r.catalog.UseDynamicQR(adminID); err != nil {
			return adminFailure(err)
		}
		return "Dynamic UPI QR codes are now generated per order."
	case len(args) == 3 && strings.EqualFold(args[0], "clear"):
		serviceID, idx, err := planRef(args[1], args[2])
		if err != nil {
			return err.Error()
		}
		if err := r.catalog.ClearPlanQR(serviceID, idx); err != nil {
			return adminFailure(err)
		}
		return "Plan QR removed."
	}
	return "Send a photo captioned /qr to set a static QR, or /qr dynamic to switch back."
}

func (r *Router) adminQRPhoto(ctx context.Context, chatID, adminID int64, fileID string, args []string) {
	var text string
	switch len(args) {
	case 0:
		if err := r.catalog.SetStaticQR(fileID, adminID); err != nil {
			text = adminFailure(err)
			break
		}
		text = "Static QR saved. Every order without a plan QR now shows it."
	case 2:
		serviceID, idx, err := planRef(args[0], args[1])
		if err != nil {
			text = err.Error()
			break
		}
		if err := r.catalog.SetPlanQR(serviceID, idx, fileID); err != nil {
			text = adminFailure(err)
			break
		}
		text = fmt.Sprintf("QR saved for %s plan %s.", serviceID, args[1])
	default:
		text = "Caption the photo /qr or /qr <service> <plan>."
	}
	r.reply(ctx, chatID, text, nil)
}

func (r *Router) upi(adminID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /upi <upi-id> [name]"
	}
	name := strings.Join(args[1:], " ")
	if err := r.catalog.SetUPI(args[0], name, adminID); err != nil {
		return "Invalid UPI ID: " + err.Error()
	}
	return "UPI ID updated to " + args[0]
}

func (r *Router) price(args []string) string {
	if len(args) != 3 {
		return "Usage: /price <service> <plan> <amount>"
	}
	serviceID, idx, err := planRef(args[0], args[1])
	if err != nil {
		return err.Error()
	}
	amount, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Sprintf("Invalid amount %q", args[2])
	}
	if err := r.catalog.SetPlanPrice(serviceID, idx, amount); err != nil {
		return adminFailure(err)
	}
	return fmt.Sprintf("Price of %s plan %s set to %s.", serviceID, args[1], notificator.Rupees(amount))
}

// bulk parses "+10" or "-10" (percent) and applies it to every plan.
func (r *Router) bulk(args []string) string {
	if len(args) != 1 || len(args[0]) < 2 || (args[0][0] != '+' && args[0][0] != '-') {
		return "Usage: /bulk +10 | -10"
	}
	percent, err := decimal.NewFromString(strings.TrimSuffix(args[0][1:], "%"))
	if err != nil {
		return fmt.Sprintf("Invalid percentage %q", args[0])
	}
	n, err := r.catalog.BulkUpdatePrices(percent, args[0][0] == '+')
	if err != nil {
		return "Bulk update failed: " + err.Error()
	}
	return fmt.Sprintf("Updated %d plan prices by %s%%.", n, args[0])
}

func (r *Router) serviceToggle(args []string) string {
	if len(args) != 2 {
		return "Usage: /service <service> on | off"
	}
	var available bool
	switch strings.ToLower(args[1]) {
	case "on":
		available = true
	case "off":
	default:
		return "Usage: /service <service> on | off"
	}
	if err := r.catalog.SetServiceAvailable(args[0], available); err != nil {
		return adminFailure(err)
	}
	return fmt.Sprintf("%s is now %s.", args[0], map[bool]string{true: "available", false: "on request"}[available])
}

func formatStats(s models.Stats) string {
	var b strings.Builder
	b.WriteString("📊 Stats\n\n")
	fmt.Fprintf(&b, "Users: %d\nOrders: %d\n", s.Users, s.Orders)
	for _, status := range []models.OrderStatus{
		models.StatusPending, models.StatusVerification, models.StatusApproved,
		models.StatusRejected, models.StatusExpired, models.StatusCancelled,
	} {
		fmt.Fprintf(&b, "  %s: %d\n", status, s.OrdersByStatus[status])
	}
	fmt.Fprintf(&b, "Revenue: %s\nCommission paid: %s\nActive timers: %d\n",
		notificator.Rupees(s.Revenue), notificator.Rupees(s.CommissionPaid), s.ActiveTimers)
	fmt.Fprintf(&b, "Payments: %s\nUnsaved changes: users=%t orders=%t",
		map[bool]string{true: "enabled", false: "disabled"}[s.PaymentsEnabled], s.UsersDirty, s.OrdersDirty)
	return b.String()
}
