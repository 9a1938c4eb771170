package bazar

import (
	"time"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/store"
)

const day = 24 * time.Hour

// renewedExpiry stacks a renewal of the same service onto an unexpired
// subscription. Anything else starts from now.
func renewedExpiry(u *models.User, serviceName string, length time.Duration, now time.Time) time.Time {
	if u.HasActiveSubscription(now) && u.SubscriptionService != nil && *u.SubscriptionService == serviceName {
		return u.SubscriptionExpiry.Add(length)
	}
	return now.Add(length)
}

// Subscription reports the user's subscription. An active subscription past
// its expiry is marked expired on the way.
func (b *Bazar) Subscription(userID int64) (models.SubscriptionInfo, bool) {
	var (
		info  models.SubscriptionInfo
		found bool
	)
	b.db.Atomically(func(tx *store.Tx) error {
		u, ok := tx.User(userID)
		if !ok {
			return nil
		}
		found = true
		now := tx.Now()
		if u.SubscriptionStatus == models.SubscriptionActive && !u.HasActiveSubscription(now) {
			if _, err := tx.UpdateUser(userID, models.UserUpdate{
				SubscriptionStatus: models.Ptr(models.SubscriptionExpired),
			}); err != nil {
				b.logger.Warn("Failed to expire subscription", "user_id", userID, "error", err)
			} else {
				b.logger.Info("Subscription expired", "user_id", userID)
			}
		}

		info = models.SubscriptionInfo{
			Status:   u.SubscriptionStatus,
			Active:   u.HasActiveSubscription(now),
			Language: u.Language,
		}
		if u.SubscriptionService != nil {
			info.Service = *u.SubscriptionService
		}
		if u.SubscriptionPlan != nil {
			info.Plan = *u.SubscriptionPlan
		}
		if u.SubscriptionExpiry != nil {
			expiry := *u.SubscriptionExpiry
			info.Expiry = &expiry
			if left := expiry.Sub(now); left > 0 {
				info.DaysRemaining = int(left / day)
			}
		}
		return nil
	})
	return info, found
}

// SetLanguage stores the user's preferred language.
func (b *Bazar) SetLanguage(info models.UserInfo, lang string) error {
	b.EnsureUser(info)
	if _, err := b.db.UpdateUser(info.ID, models.UserUpdate{Language: &lang}); err != nil {
		return err
	}
	b.logger.Debug("Language changed", "user_id", info.ID, "language", lang)
	return nil
}

// PendingApprovals lists the orders waiting for an admin decision, oldest first.
func (b *Bazar) PendingApprovals() []*models.Order {
	return b.db.Orders(func(o *models.Order) bool { return o.Status == models.StatusVerification })
}

// UserIDs returns every known user.
func (b *Bazar) UserIDs() []int64 {
	return b.db.UserIDs()
}
