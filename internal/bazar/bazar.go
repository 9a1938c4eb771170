package bazar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fridaybazar/bazar/internal/catalog"
	"github.com/fridaybazar/bazar/internal/config"
	"github.com/fridaybazar/bazar/internal/ledger"
	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/qrcode"
	"github.com/fridaybazar/bazar/internal/store"
	"github.com/fridaybazar/bazar/internal/timer"
	"github.com/fridaybazar/bazar/pkg/logger"
	"github.com/fridaybazar/bazar/pkg/validation"
)

var (
	ErrPaymentsDisabled     = errors.New("payments are disabled")
	ErrServiceUnavailable   = errors.New("service is available on request only")
	ErrNotOrderOwner        = errors.New("order belongs to another user")
	ErrNotAdmin             = errors.New("admin rights required")
	ErrNotApproved          = errors.New("order is not approved")
	ErrDetailsSubmitted     = errors.New("details already submitted")
	ErrNotPending           = errors.New("order is not awaiting payment")
	ErrFreeTrialUnavailable = errors.New("service has no free trial")
	ErrFreeTrialUsed        = errors.New("free trial already claimed")
)

type Option func(*Bazar)

func WithClock(clock clockwork.Clock) Option {
	return func(b *Bazar) { b.clock = clock }
}

// WithWarnings overrides the remaining-time checkpoints of payment warnings.
func WithWarnings(warnings []time.Duration) Option {
	return func(b *Bazar) { b.warnings = warnings }
}

// Bazar is the main struct of the shop. It drives orders through their
// lifecycle and is the only component that fires order transitions.
type Bazar struct {
	logger *logger.Logger
	config *config.Config
	clock  clockwork.Clock

	db        *store.Database
	catalog   *catalog.SettingsManager
	ledger    *ledger.Ledger
	qr        *qrcode.Generator
	publisher models.EventPublisher
	scheduler *timer.Scheduler
	warnings  []time.Duration

	// awaitingProof maps a user to the order they pressed "upload proof" for.
	awaitingMu    sync.Mutex
	awaitingProof map[int64]string
}

func NewBazar(
	db *store.Database,
	settings *catalog.SettingsManager,
	ledger *ledger.Ledger,
	qr *qrcode.Generator,
	publisher models.EventPublisher,
	logger *logger.Logger,
	config *config.Config,
	opts ...Option,
) *Bazar {
	b := &Bazar{
		logger:        logger,
		config:        config,
		clock:         clockwork.NewRealClock(),
		db:            db,
		catalog:       settings,
		ledger:        ledger,
		qr:            qr,
		publisher:     publisher,
		warnings:      timer.DefaultWarnings,
		awaitingProof: map[int64]string{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.scheduler = timer.NewScheduler(b, config.PaymentTimeout, logger.Named("timer"),
		timer.WithClock(b.clock), timer.WithWarnings(b.warnings))
	return b
}

// Start reconciles orders left pending by a previous run.
func (b *Bazar) Start(ctx context.Context) error {
	expired, resumed := b.Reconcile(ctx)
	b.logger.Info("Bazar started", "expired", expired, "resumed", resumed)
	return nil
}

// Stop abandons all payment timers.
func (b *Bazar) Stop() {
	b.scheduler.Stop()
}

func (b *Bazar) IsAdmin(userID int64) bool {
	return b.config.IsAdmin(userID)
}

// EnsureUser returns the user, creating it on first contact and refreshing
// the Telegram names.
func (b *Bazar) EnsureUser(info models.UserInfo) *models.User {
	var out *models.User
	b.db.Atomically(func(tx *store.Tx) error {
		u := tx.GetOrCreateUser(info.ID)
		if u.Username != info.Username || u.FirstName != info.FirstName {
			if _, err := tx.UpdateUser(info.ID, models.UserUpdate{
				Username:  &info.Username,
				FirstName: &info.FirstName,
			}); err != nil {
				b.logger.Warn("Failed to refresh user names", "user_id", info.ID, "error", err)
			}
		}
		out = u.Clone()
		return nil
	})
	return out
}

func (b *Bazar) RegisterReferral(userID, referrerID int64) (bool, error) {
	return b.ledger.Refer(b.db, userID, referrerID)
}

// StartPurchase creates a pending order for a plan, picks the QR to show and
// starts the payment timer. The price always comes from the catalog.
func (b *Bazar) StartPurchase(ctx context.Context, info models.UserInfo, serviceID string, planIdx int) (*models.PaymentPrompt, error) {
	if !b.catalog.IsPaymentEnabled() {
		return nil, ErrPaymentsDisabled
	}
	service, ok := b.catalog.Service(serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrServiceNotFound, serviceID)
	}
	if !service.Available {
		return nil, ErrServiceUnavailable
	}
	plan, ok := service.Plan(planIdx)
	if !ok {
		return nil, fmt.Errorf("%w: %s #%d", catalog.ErrPlanNotFound, serviceID, planIdx)
	}

	qrSettings := b.catalog.QRSettings()
	prompt := &models.PaymentPrompt{UPIID: qrSettings.UPIID, Timeout: b.scheduler.Timeout()}
	switch {
	case plan.CustomQRFileID != nil && *plan.CustomQRFileID != "":
		prompt.QRFileID = *plan.CustomQRFileID
	case qrSettings.Static():
		prompt.QRFileID = *qrSettings.DefaultQRFileID
	case qrSettings.UPIID == "":
		return nil, qrcode.ErrMissingPayee
	}

	b.EnsureUser(info)
	orderID, err := b.db.CreateOrder(models.NewOrder{
		UserID:       info.ID,
		Username:     info.Username,
		ServiceID:    service.ID,
		ServiceName:  service.Name,
		PlanDuration: plan.Duration,
		Amount:       plan.Price,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if prompt.QRFileID == "" {
		png, err := b.qr.PNG(qrcode.Payment{
			PayeeID:   qrSettings.UPIID,
			PayeeName: qrSettings.UPIName,
			Amount:    plan.Price,
			Note:      service.Name + " " + plan.Duration,
		})
		if err != nil {
			if _, cerr := b.db.Fire(orderID, models.EventUserCancelled, 0); cerr != nil {
				b.logger.Error("Failed to cancel order after QR failure", "order_id", orderID, "error", cerr)
			}
			return nil, fmt.Errorf("failed to generate payment qr: %w", err)
		}
		prompt.QRImage = png
	}

	order, _ := b.db.GetOrder(orderID)
	prompt.Order = order
	b.scheduler.Schedule(orderID, order.CreatedAt)

	b.logger.Info("Order created",
		"order_id", orderID, "user_id", info.ID, "service_id", service.ID, "amount", plan.Price.String())
	return prompt, nil
}

func (b *Bazar) ownedOrder(userID int64, orderID string) (*models.Order, error) {
	order, ok := b.db.GetOrder(orderID)
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	return order, nil
}

// RequestScreenshot marks the user as about to send payment proof for orderID.
func (b *Bazar) RequestScreenshot(userID int64, orderID string) (*models.Order, error) {
	order, err := b.ownedOrder(userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusPending {
		return order, ErrNotPending
	}
	b.awaitingMu.Lock()
	b.awaitingProof[userID] = orderID
	b.awaitingMu.Unlock()
	return order, nil
}

// AwaitingScreenshot returns the order the user is about to send proof for:
// the one they asked to upload for, else their latest pending order.
func (b *Bazar) AwaitingScreenshot(userID int64) (string, bool) {
	b.awaitingMu.Lock()
	orderID, ok := b.awaitingProof[userID]
	b.awaitingMu.Unlock()
	if ok {
		return orderID, true
	}
	pending := b.db.Orders(func(o *models.Order) bool {
		return o.UserID == userID && o.Status == models.StatusPending
	})
	if len(pending) == 0 {
		return "", false
	}
	return pending[len(pending)-1].ID, true
}

func (b *Bazar) clearAwaiting(userID int64, orderID string) {
	b.awaitingMu.Lock()
	if b.awaitingProof[userID] == orderID {
		delete(b.awaitingProof, userID)
	}
	b.awaitingMu.Unlock()
}

// SubmitScreenshot attaches payment proof and moves the order to verification.
// It fails with store.ErrAlreadyProcessed if the order expired or was
// cancelled first; admins are notified only on success.
func (b *Bazar) SubmitScreenshot(ctx context.Context, userID int64, orderID, fileID string) (*models.Order, error) {
	var out *models.Order
	err := b.db.Atomically(func(tx *store.Tx) error {
		order, ok := tx.Order(orderID)
		if !ok {
			return store.ErrOrderNotFound
		}
		if order.UserID != userID {
			return ErrNotOrderOwner
		}
		upd := models.OrderUpdate{PaymentScreenshot: &fileID}
		if err := validation.Struct(upd); err != nil {
			return err
		}
		if _, err := tx.Fire(orderID, models.EventScreenshotUploaded, 0); err != nil {
			return err
		}
		if _, err := tx.UpdateOrder(orderID, upd); err != nil {
			return err
		}
		out = order.Clone()
		return nil
	})
	b.clearAwaiting(userID, orderID)
	if err != nil {
		return nil, err
	}

	b.logger.Info("Payment proof received", "order_id", orderID, "user_id", userID)
	b.publish(ctx, models.Event{
		Kind:     models.EventKindVerificationRequested,
		Audience: models.AudienceAdmins,
		Order:    *out,
	})
	return out, nil
}

// CancelOrder lets the buyer abandon an order that is still awaiting payment.
func (b *Bazar) CancelOrder(ctx context.Context, userID int64, orderID string) (*models.Order, error) {
	if _, err := b.ownedOrder(userID, orderID); err != nil {
		return nil, err
	}
	order, err := b.db.Fire(orderID, models.EventUserCancelled, 0)
	b.clearAwaiting(userID, orderID)
	if err != nil {
		return nil, err
	}
	b.logger.Info("Order cancelled", "order_id", orderID, "user_id", userID)
	return order, nil
}

// Approve confirms payment. The transition and the referral commission are
// applied in one store section, so a commission is paid exactly once.
func (b *Bazar) Approve(ctx context.Context, adminID int64, orderID string) (*models.Order, error) {
	if !b.IsAdmin(adminID) {
		return nil, ErrNotAdmin
	}

	var (
		out    *models.Order
		payout *ledger.Payout
	)
	err := b.db.Atomically(func(tx *store.Tx) error {
		order, err := tx.Fire(orderID, models.EventAdminApproved, adminID)
		if err != nil {
			return err
		}
		payout, err = b.ledger.PayCommission(tx, orderID)
		if err != nil {
			b.logger.Error("Failed to pay commission", "order_id", orderID, "error", err)
		}
		out = order.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("Order approved", "order_id", orderID, "admin_id", adminID)
	b.publish(ctx, models.Event{
		Kind:     models.EventKindOrderApproved,
		Audience: models.AudienceUser,
		UserID:   out.UserID,
		Order:    *out,
		ActorID:  adminID,
	})
	if payout != nil {
		b.publish(ctx, models.Event{
			Kind:       models.EventKindCommissionEarned,
			Audience:   models.AudienceUser,
			UserID:     payout.ReferrerID,
			Order:      *out,
			Commission: payout.Amount,
			Balance:    payout.Balance,
		})
	}
	return out, nil
}

func (b *Bazar) Reject(ctx context.Context, adminID int64, orderID string) (*models.Order, error) {
	if !b.IsAdmin(adminID) {
		return nil, ErrNotAdmin
	}
	order, err := b.db.Fire(orderID, models.EventAdminRejected, adminID)
	if err != nil {
		return nil, err
	}

	b.logger.Info("Order rejected", "order_id", orderID, "admin_id", adminID)
	b.publish(ctx, models.Event{
		Kind:     models.EventKindOrderRejected,
		Audience: models.AudienceUser,
		UserID:   order.UserID,
		Order:    *order,
		ActorID:  adminID,
	})
	return order, nil
}

// ClaimFreeTrial grants a zero-amount order for a service with a free trial.
// Each user gets one per service.
func (b *Bazar) ClaimFreeTrial(ctx context.Context, info models.UserInfo, serviceID string) (*models.Order, error) {
	service, ok := b.catalog.Service(serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrServiceNotFound, serviceID)
	}
	if !service.FreeTrial || len(service.Plans) == 0 {
		return nil, ErrFreeTrialUnavailable
	}

	b.EnsureUser(info)
	var out *models.Order
	err := b.db.Atomically(func(tx *store.Tx) error {
		claimed := tx.Orders(func(o *models.Order) bool {
			return o.UserID == info.ID && o.ServiceID == serviceID && o.Amount.IsZero()
		})
		if len(claimed) > 0 {
			return ErrFreeTrialUsed
		}
		order, err := tx.CreateOrder(models.NewOrder{
			UserID:       info.ID,
			Username:     info.Username,
			ServiceID:    service.ID,
			ServiceName:  service.Name,
			PlanDuration: service.Plans[0].Duration,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Fire(order.ID, models.EventPromoApproved, 0); err != nil {
			return err
		}
		out = order.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("Free trial granted", "order_id", out.ID, "user_id", info.ID, "service_id", serviceID)
	b.publish(ctx, models.Event{
		Kind:     models.EventKindFreeTrialGranted,
		Audience: models.AudienceUser,
		UserID:   info.ID,
		Order:    *out,
	})
	b.publish(ctx, models.Event{
		Kind:     models.EventKindFreeTrialClaimed,
		Audience: models.AudienceAdmins,
		Order:    *out,
	})
	return out, nil
}

func (b *Bazar) GetOrder(orderID string) (*models.Order, bool) {
	return b.db.GetOrder(orderID)
}

func (b *Bazar) UserOrders(userID int64) []*models.Order {
	return b.db.UserOrders(userID)
}

func (b *Bazar) Stats() models.Stats {
	s := b.db.Stats()
	s.ActiveTimers = b.scheduler.Active()
	s.PaymentsEnabled = b.catalog.IsPaymentEnabled()
	return s
}

// publish hands an event to the messaging layer. It never fails the caller.
func (b *Bazar) publish(ctx context.Context, event models.Event) {
	if b.publisher == nil {
		return
	}
	b.publisher.Publish(ctx, event)
}
