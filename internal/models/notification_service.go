package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	// User-facing events.
	EventKindPaymentWarning   EventKind = "payment_warning"
	EventKindOrderExpired     EventKind = "order_expired"
	EventKindOrderApproved    EventKind = "order_approved"
	EventKindOrderRejected    EventKind = "order_rejected"
	EventKindCommissionEarned EventKind = "commission_earned"
	EventKindFreeTrialGranted EventKind = "free_trial_granted"

	// Admin-facing events.
	EventKindVerificationRequested EventKind = "verification_requested"
	EventKindDetailsReceived       EventKind = "details_received"
	EventKindFreeTrialClaimed      EventKind = "free_trial_claimed"
)

// Audience says who should receive an event.
type Audience int

const (
	AudienceUser Audience = iota
	AudienceAdmins
)

// Event is an abstract notification emitted by the core. The messaging layer
// decides wording and layout.
type Event struct {
	Kind     EventKind
	Audience Audience
	// UserID is the recipient when Audience is AudienceUser.
	UserID int64
	Order  Order
	// Remaining is set on payment warnings.
	Remaining time.Duration
	// Commission and Balance are set on commission events.
	Commission decimal.Decimal
	Balance    decimal.Decimal
	// ActorID is the admin that approved/rejected, if any.
	ActorID int64
}

// EventPublisher delivers events. Implementations must not block for long
// and must never panic into the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}
