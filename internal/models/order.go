package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const orderIDPrefix = "FBP"

type OrderStatus string

const (
	StatusPending      OrderStatus = "pending"
	StatusVerification OrderStatus = "verification"
	StatusApproved     OrderStatus = "approved"
	StatusRejected     OrderStatus = "rejected"
	StatusExpired      OrderStatus = "expired"
	StatusCancelled    OrderStatus = "cancelled"
)

// Terminal reports whether no further transition can leave s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// OrderEvent is something that happens to an order and may move it to a new status.
type OrderEvent string

const (
	EventScreenshotUploaded OrderEvent = "screenshot_uploaded"
	EventTimerExpired       OrderEvent = "timer_expired"
	EventUserCancelled      OrderEvent = "user_cancelled"
	EventAdminApproved      OrderEvent = "admin_approved"
	EventAdminRejected      OrderEvent = "admin_rejected"
	EventPromoApproved      OrderEvent = "promo_approved"
)

// Transition is one edge of the order state machine.
type Transition struct {
	From OrderStatus
	To   OrderStatus
	// Guard is an extra precondition on top of the source status.
	Guard func(o *Order) bool
}

var transitions = map[OrderEvent]Transition{
	EventScreenshotUploaded: {From: StatusPending, To: StatusVerification},
	EventTimerExpired:       {From: StatusPending, To: StatusExpired},
	EventUserCancelled:      {From: StatusPending, To: StatusCancelled},
	EventAdminApproved:      {From: StatusVerification, To: StatusApproved},
	EventAdminRejected:      {From: StatusVerification, To: StatusRejected},
	EventPromoApproved: {
		From:  StatusPending,
		To:    StatusApproved,
		Guard: func(o *Order) bool { return o.Amount.IsZero() },
	},
}

// TransitionFor returns the edge fired by event.
func TransitionFor(event OrderEvent) (Transition, bool) {
	t, ok := transitions[event]
	return t, ok
}

// Allows reports whether event may fire on o in its current state.
func (t Transition) Allows(o *Order) bool {
	if o.Status != t.From {
		return false
	}
	return t.Guard == nil || t.Guard(o)
}

// Order is one purchase attempt. Orders are never deleted.
type Order struct {
	ID           string          `json:"order_id" gorm:"column:id;primaryKey"`
	UserID       int64           `json:"user_id" gorm:"column:user_id;index;not null"`
	Username     string          `json:"username,omitempty" gorm:"column:username"`
	ServiceID    string          `json:"service_id" gorm:"column:service_id;not null"`
	ServiceName  string          `json:"service_name" gorm:"column:service_name"`
	PlanDuration string          `json:"plan_duration" gorm:"column:plan_duration"`
	Amount       decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(14,2);not null"`
	Status       OrderStatus     `json:"status" gorm:"column:status;index;not null"`

	// PaymentScreenshot is the Telegram file ID of the uploaded proof.
	PaymentScreenshot *string `json:"payment_screenshot" gorm:"column:payment_screenshot"`
	UserDetails       *string `json:"user_details" gorm:"column:user_details"`
	UserEmail         *string `json:"user_email" gorm:"column:user_email"`

	// ReferrerID and CommissionPaid are written once, when the commission is credited.
	ReferrerID     *int64           `json:"referrer_id" gorm:"column:referrer_id"`
	CommissionPaid *decimal.Decimal `json:"commission_paid" gorm:"column:commission_paid;type:numeric(14,2)"`

	ProcessedBy *int64     `json:"processed_by" gorm:"column:processed_by"`
	CreatedAt   time.Time  `json:"created_at" gorm:"column:created_at;index"`
	ProcessedAt *time.Time `json:"processed_at" gorm:"column:processed_at"`
	ActivatedAt *time.Time `json:"activated_at" gorm:"column:activated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.PaymentScreenshot = clonePtr(o.PaymentScreenshot)
	c.UserDetails = clonePtr(o.UserDetails)
	c.UserEmail = clonePtr(o.UserEmail)
	c.ReferrerID = clonePtr(o.ReferrerID)
	c.CommissionPaid = clonePtr(o.CommissionPaid)
	c.ProcessedBy = clonePtr(o.ProcessedBy)
	c.ProcessedAt = clonePtr(o.ProcessedAt)
	c.ActivatedAt = clonePtr(o.ActivatedAt)
	return &c
}

// NewOrder holds the caller-supplied fields of an order. ID, status and
// creation time are assigned by the store.
type NewOrder struct {
	UserID       int64           `validate:"required,gt=0"`
	Username     string          `validate:"max=128"`
	ServiceID    string          `validate:"required,max=64"`
	ServiceName  string          `validate:"required,max=128"`
	PlanDuration string          `validate:"required,max=64"`
	Amount       decimal.Decimal `validate:"gte=0"`
	UserDetails  *string         `validate:"omitempty,max=2048"`
}

// OrderUpdate is a partial update of non-lifecycle order fields. Status,
// amount, owner and commission fields are not here on purpose: they only
// change through guarded transitions.
type OrderUpdate struct {
	Username          *string `validate:"omitempty,max=128"`
	PaymentScreenshot *string `validate:"omitempty,min=1,max=256"`
	UserDetails       *string `validate:"omitempty,max=2048"`
	UserEmail         *string `validate:"omitempty,email"`
}

// Apply merges the non-nil fields into o.
func (upd OrderUpdate) Apply(o *Order) {
	if upd.Username != nil {
		o.Username = *upd.Username
	}
	if upd.PaymentScreenshot != nil {
		o.PaymentScreenshot = clonePtr(upd.PaymentScreenshot)
	}
	if upd.UserDetails != nil {
		o.UserDetails = clonePtr(upd.UserDetails)
	}
	if upd.UserEmail != nil {
		o.UserEmail = clonePtr(upd.UserEmail)
	}
}

// FormatOrderID renders a sequence number as FBP000001.
func FormatOrderID(seq int64) string {
	return fmt.Sprintf("%s%06d", orderIDPrefix, seq)
}

// ParseOrderID returns the sequence number of an order ID.
func ParseOrderID(id string) (int64, error) {
	if !strings.HasPrefix(id, orderIDPrefix) {
		return 0, fmt.Errorf("order id %q: missing %s prefix", id, orderIDPrefix)
	}
	seq, err := strconv.ParseInt(strings.TrimPrefix(id, orderIDPrefix), 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("order id %q: invalid sequence", id)
	}
	return seq, nil
}
