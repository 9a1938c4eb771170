package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionNone    SubscriptionStatus = "none"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// Language is a selectable UI language.
type Language struct {
	Code string
	Name string
}

var Languages = []Language{
	{Code: "en", Name: "English"},
	{Code: "hi", Name: "हिंदी"},
	{Code: "bn", Name: "বাংলা"},
}

// LanguageName returns the display name of a language code.
func LanguageName(code string) (string, bool) {
	for _, l := range Languages {
		if l.Code == code {
			return l.Name, true
		}
	}
	return "", false
}

// User is a bot user. Users are created lazily on first access and never deleted.
type User struct {
	// ID is the Telegram user ID.
	ID int64 `json:"user_id" gorm:"column:id;primaryKey;autoIncrement:false"`
	// Username is the Telegram @username, if the user has one.
	Username string `json:"username,omitempty" gorm:"column:username"`
	// FirstName is the Telegram display name.
	FirstName string `json:"first_name,omitempty" gorm:"column:first_name"`
	// Coins is the spendable referral balance (Friday Coins).
	Coins decimal.Decimal `json:"coins" gorm:"column:coins;type:numeric(14,2);not null;default:0"`
	// TotalEarned is the lifetime sum of everything credited to Coins.
	TotalEarned decimal.Decimal `json:"total_earned" gorm:"column:total_earned;type:numeric(14,2);not null;default:0"`
	// TotalReferrals counts approved purchases made by referred users.
	TotalReferrals int `json:"total_referrals" gorm:"column:total_referrals;not null;default:0"`
	// ReferredBy is the referrer's user ID. It is set at most once.
	ReferredBy *int64 `json:"referred_by" gorm:"column:referred_by;index"`
	// Language is the preferred UI language code.
	Language string `json:"language" gorm:"column:language;default:en"`
	// Email is the latest email address the user supplied during fulfillment.
	Email *string `json:"email" gorm:"column:email"`

	SubscriptionService *string            `json:"subscription_service" gorm:"column:subscription_service"`
	SubscriptionPlan    *string            `json:"subscription_plan" gorm:"column:subscription_plan"`
	SubscriptionExpiry  *time.Time         `json:"subscription_expiry" gorm:"column:subscription_expiry"`
	SubscriptionStatus  SubscriptionStatus `json:"subscription_status" gorm:"column:subscription_status;default:none"`

	// Purchases is the append-only purchase history.
	Purchases []Purchase `json:"purchases" gorm:"column:purchases;serializer:json"`
	JoinedAt  time.Time  `json:"joined_at" gorm:"column:joined_at"`
}

func (User) TableName() string {
	return "users"
}

type Purchase struct {
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
	Date    time.Time       `json:"date"`
}

// NewUser returns a user with zero-valued defaults.
func NewUser(id int64, now time.Time) *User {
	return &User{
		ID:                 id,
		Coins:              decimal.Zero,
		TotalEarned:        decimal.Zero,
		Language:           "en",
		SubscriptionStatus: SubscriptionNone,
		Purchases:          []Purchase{},
		JoinedAt:           now,
	}
}

// Clone returns a deep copy so callers never share memory with the store.
func (u *User) Clone() *User {
	c := *u
	c.ReferredBy = clonePtr(u.ReferredBy)
	c.Email = clonePtr(u.Email)
	c.SubscriptionService = clonePtr(u.SubscriptionService)
	c.SubscriptionPlan = clonePtr(u.SubscriptionPlan)
	c.SubscriptionExpiry = clonePtr(u.SubscriptionExpiry)
	c.Purchases = make([]Purchase, len(u.Purchases))
	copy(c.Purchases, u.Purchases)
	return &c
}

// HasActiveSubscription reports whether the subscription is active at now.
func (u *User) HasActiveSubscription(now time.Time) bool {
	if u.SubscriptionStatus != SubscriptionActive || u.SubscriptionExpiry == nil {
		return false
	}
	return now.Before(*u.SubscriptionExpiry)
}

// UserUpdate is a partial update of a user. Nil fields are left unchanged.
// Referrer, balance and counters are deliberately absent: they change only
// through their dedicated operations.
type UserUpdate struct {
	Username            *string             `validate:"omitempty,max=64"`
	FirstName           *string             `validate:"omitempty,max=128"`
	Language            *string             `validate:"omitempty,oneof=en hi bn"`
	Email               *string             `validate:"omitempty,email"`
	SubscriptionService *string             `validate:"omitempty,min=1,max=128"`
	SubscriptionPlan    *string             `validate:"omitempty,min=1,max=64"`
	SubscriptionExpiry  *time.Time          `validate:"omitempty"`
	SubscriptionStatus  *SubscriptionStatus `validate:"omitempty,oneof=none active expired"`
}

// Apply merges the non-nil fields into u.
func (upd UserUpdate) Apply(u *User) {
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.Language != nil {
		u.Language = *upd.Language
	}
	if upd.Email != nil {
		u.Email = clonePtr(upd.Email)
	}
	if upd.SubscriptionService != nil {
		u.SubscriptionService = clonePtr(upd.SubscriptionService)
	}
	if upd.SubscriptionPlan != nil {
		u.SubscriptionPlan = clonePtr(upd.SubscriptionPlan)
	}
	if upd.SubscriptionExpiry != nil {
		u.SubscriptionExpiry = clonePtr(upd.SubscriptionExpiry)
	}
	if upd.SubscriptionStatus != nil {
		u.SubscriptionStatus = *upd.SubscriptionStatus
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v. Handy for building partial updates.
func Ptr[T any](v T) *T {
	return &v
}
