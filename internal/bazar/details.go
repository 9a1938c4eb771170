package bazar

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/store"
	"github.com/fridaybazar/bazar/pkg/validation"
)

const maxDetailsLength = 2048

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// extractEmail returns the first valid email address in text.
func extractEmail(text string) (string, bool) {
	for _, candidate := range emailPattern.FindAllString(text, -1) {
		if validation.Var(candidate, "email") == nil {
			return candidate, true
		}
	}
	return "", false
}

// subscriptionLength turns a plan label like "3 Months" or "1 Year" into a
// duration. Unknown labels count as one month.
func subscriptionLength(label string) time.Duration {
	fields := strings.Fields(strings.ToLower(label))
	if len(fields) < 2 {
		return 30 * day
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 30 * day
	}
	unit := fields[1]
	switch {
	case strings.HasPrefix(unit, "month"):
		return time.Duration(n) * 30 * day
	case strings.HasPrefix(unit, "year"):
		return time.Duration(n) * 365 * day
	case strings.HasPrefix(unit, "day"):
		return time.Duration(n) * day
	}
	return 30 * day
}

// truncateRunes cuts s to at most n runes without splitting one.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// AwaitingDetails returns the user's latest approved order that has not been
// fulfilled yet.
func (b *Bazar) AwaitingDetails(userID int64) (*models.Order, bool) {
	orders := b.db.Orders(func(o *models.Order) bool {
		return o.UserID == userID && o.Status == models.StatusApproved && o.ActivatedAt == nil
	})
	if len(orders) == 0 {
		return nil, false
	}
	return orders[len(orders)-1], true
}

// SubmitDetails records the account details a buyer sends after approval and
// activates their subscription, extending it when it renews the same service.
// Details are accepted once per order.
func (b *Bazar) SubmitDetails(ctx context.Context, userID int64, orderID, details string) (*models.Order, error) {
	details = truncateRunes(strings.TrimSpace(strings.ToValidUTF8(details, "")), maxDetailsLength)
	email, hasEmail := extractEmail(details)

	var out *models.Order
	err := b.db.Atomically(func(tx *store.Tx) error {
		order, ok := tx.Order(orderID)
		if !ok {
			return store.ErrOrderNotFound
		}
		if order.UserID != userID {
			return ErrNotOrderOwner
		}
		if order.Status != models.StatusApproved {
			return ErrNotApproved
		}
		if order.ActivatedAt != nil {
			return ErrDetailsSubmitted
		}

		u := tx.GetOrCreateUser(userID)
		expiry := renewedExpiry(u, order.ServiceName, subscriptionLength(order.PlanDuration), tx.Now())
		orderUpd := models.OrderUpdate{UserDetails: &details}
		userUpd := models.UserUpdate{
			SubscriptionService: &order.ServiceName,
			SubscriptionPlan:    &order.PlanDuration,
			SubscriptionExpiry:  &expiry,
			SubscriptionStatus:  models.Ptr(models.SubscriptionActive),
		}
		if hasEmail {
			orderUpd.UserEmail = &email
			userUpd.Email = &email
		}
		if err := validation.Struct(orderUpd); err != nil {
			return err
		}
		if err := validation.Struct(userUpd); err != nil {
			return err
		}

		tx.UpdateOrder(orderID, orderUpd)
		tx.UpdateUser(userID, userUpd)
		tx.AddPurchase(userID, orderID, order.Amount)
		tx.MarkActivated(orderID)
		out = order.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("Fulfillment details received", "order_id", orderID, "user_id", userID, "has_email", hasEmail)
	b.publish(ctx, models.Event{
		Kind:     models.EventKindDetailsReceived,
		Audience: models.AudienceAdmins,
		UserID:   userID,
		Order:    *out,
	})
	return out, nil
}
