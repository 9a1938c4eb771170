package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UserInfo is what the messaging layer knows about whoever sent an update.
type UserInfo struct {
	ID        int64
	Username  string
	FirstName string
}

// PaymentPrompt is everything needed to ask a buyer to pay for a new order.
// Exactly one of QRFileID and QRImage is set.
type PaymentPrompt struct {
	Order *Order
	// QRFileID is a stored Telegram photo (plan-specific or static QR).
	QRFileID string
	// QRImage is a PNG generated for this order.
	QRImage []byte
	UPIID   string
	Timeout time.Duration
}

type Stats struct {
	Users           int                 `json:"users"`
	Orders          int                 `json:"orders"`
	OrdersByStatus  map[OrderStatus]int `json:"orders_by_status"`
	Revenue         decimal.Decimal     `json:"revenue"`
	CommissionPaid  decimal.Decimal     `json:"commission_paid"`
	ActiveTimers    int                 `json:"active_timers"`
	UsersDirty      bool                `json:"users_dirty"`
	OrdersDirty     bool                `json:"orders_dirty"`
	PaymentsEnabled bool                `json:"payments_enabled"`
}

// SubscriptionInfo is a user's subscription as of a point in time.
type SubscriptionInfo struct {
	Service       string
	Plan          string
	Status        SubscriptionStatus
	Expiry        *time.Time
	DaysRemaining int
	Active        bool
	Language      string
}

// BazarI serves all order business logic to the bot handlers and the HTTP API.
type BazarI interface {
	Start(ctx context.Context) error
	Stop()

	EnsureUser(info UserInfo) *User
	RegisterReferral(userID, referrerID int64) (bool, error)
	IsAdmin(userID int64) bool

	StartPurchase(ctx context.Context, info UserInfo, serviceID string, planIdx int) (*PaymentPrompt, error)
	RequestScreenshot(userID int64, orderID string) (*Order, error)
	AwaitingScreenshot(userID int64) (string, bool)
	SubmitScreenshot(ctx context.Context, userID int64, orderID, fileID string) (*Order, error)
	CancelOrder(ctx context.Context, userID int64, orderID string) (*Order, error)
	Approve(ctx context.Context, adminID int64, orderID string) (*Order, error)
	Reject(ctx context.Context, adminID int64, orderID string) (*Order, error)
	AwaitingDetails(userID int64) (*Order, bool)
	SubmitDetails(ctx context.Context, userID int64, orderID, details string) (*Order, error)
	ClaimFreeTrial(ctx context.Context, info UserInfo, serviceID string) (*Order, error)
	Subscription(userID int64) (SubscriptionInfo, bool)
	SetLanguage(info UserInfo, lang string) error
	PendingApprovals() []*Order
	UserIDs() []int64

	GetOrder(orderID string) (*Order, bool)
	UserOrders(userID int64) []*Order
	Stats() Stats
}

// APIServer is the HTTP surface of the bot.
type APIServer interface {
	Start()
	Shutdown() error
}
