package bazar

import (
	"context"
	"errors"
	"time"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/store"
)

// WarnIfPending tells the buyer how long is left to pay. It reports whether
// the order is still pending; the timer stops the chain otherwise.
func (b *Bazar) WarnIfPending(ctx context.Context, orderID string, remaining time.Duration) bool {
	order, ok := b.db.GetOrder(orderID)
	if !ok || order.Status != models.StatusPending {
		return false
	}
	b.publish(ctx, models.Event{
		Kind:      models.EventKindPaymentWarning,
		Audience:  models.AudienceUser,
		UserID:    order.UserID,
		Order:     *order,
		Remaining: remaining,
	})
	return true
}

// ExpireIfPending expires an unpaid order. It is a no-op for an order that
// already moved on, so a late timer can never clobber a paid order.
func (b *Bazar) ExpireIfPending(ctx context.Context, orderID string) {
	order, err := b.db.Fire(orderID, models.EventTimerExpired, 0)
	if err != nil {
		if !errors.Is(err, store.ErrAlreadyProcessed) {
			b.logger.Error("Failed to expire order", "order_id", orderID, "error", err)
		}
		return
	}
	b.clearAwaiting(order.UserID, orderID)

	b.logger.Info("Order expired", "order_id", orderID, "user_id", order.UserID)
	b.publish(ctx, models.Event{
		Kind:     models.EventKindOrderExpired,
		Audience: models.AudienceUser,
		UserID:   order.UserID,
		Order:    *order,
	})
}

// Reconcile handles orders left pending by a previous process: overdue ones
// are expired now and the rest get their timers back with the time left.
func (b *Bazar) Reconcile(ctx context.Context) (expired, resumed int) {
	now := b.clock.Now()
	timeout := b.scheduler.Timeout()
	for _, order := range b.db.PendingOrders() {
		if !order.CreatedAt.Add(timeout).After(now) {
			b.ExpireIfPending(ctx, order.ID)
			expired++
			continue
		}
		if b.scheduler.Schedule(order.ID, order.CreatedAt) {
			resumed++
		}
	}
	return expired, resumed
}
