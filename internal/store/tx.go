package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/pkg/validation"
)

// Tx is a view of the tables while the store's exclusive section is held.
// Pointers returned by Tx are live records: mutate them only through Tx
// methods and never keep them after the section ends.
type Tx struct {
	db            *Database
	usersTouched  bool
	ordersTouched bool
}

// Now returns the store clock's current time.
func (tx *Tx) Now() time.Time {
	return tx.db.clock.Now()
}

func (tx *Tx) User(id int64) (*models.User, bool) {
	u, ok := tx.db.users[id]
	return u, ok
}

func (tx *Tx) GetOrCreateUser(id int64) *models.User {
	if u, ok := tx.db.users[id]; ok {
		return u
	}
	u := models.NewUser(id, tx.Now())
	tx.db.users[id] = u
	tx.usersTouched = true
	tx.db.logger.Debug("Created user", "user_id", id)
	return u
}

func (tx *Tx) UpdateUser(id int64, upd models.UserUpdate) (bool, error) {
	if err := validation.Struct(upd); err != nil {
		return false, err
	}
	u, ok := tx.db.users[id]
	if !ok {
		return false, nil
	}
	upd.Apply(u)
	tx.usersTouched = true
	return true, nil
}

// SetReferrer sets the user's referrer only if none is set yet.
func (tx *Tx) SetReferrer(id, referrerID int64) bool {
	u, ok := tx.db.users[id]
	if !ok || u.ReferredBy != nil {
		return false
	}
	u.ReferredBy = &referrerID
	tx.usersTouched = true
	return true
}

// AddCoins credits amount to both the balance and lifetime earnings.
// Negative amounts are refused: balances only grow.
func (tx *Tx) AddCoins(id int64, amount decimal.Decimal, reason string) bool {
	if amount.IsNegative() {
		return false
	}
	u, ok := tx.db.users[id]
	if !ok {
		return false
	}
	u.Coins = u.Coins.Add(amount)
	u.TotalEarned = u.TotalEarned.Add(amount)
	tx.usersTouched = true
	tx.db.logger.Debug("Credited coins", "user_id", id, "amount", amount.String(), "reason", reason)
	return true
}

func (tx *Tx) IncrementReferralCount(id int64) bool {
	u, ok := tx.db.users[id]
	if !ok {
		return false
	}
	u.TotalReferrals++
	tx.usersTouched = true
	return true
}

func (tx *Tx) AddPurchase(userID int64, orderID string, amount decimal.Decimal) bool {
	u, ok := tx.db.users[userID]
	if !ok {
		return false
	}
	u.Purchases = append(u.Purchases, models.Purchase{
		OrderID: orderID,
		Amount:  amount,
		Date:    tx.Now(),
	})
	tx.usersTouched = true
	return true
}

// CreateOrder assigns the next sequential ID and stores a pending order.
func (tx *Tx) CreateOrder(n models.NewOrder) (*models.Order, error) {
	if err := validation.Struct(n); err != nil {
		return nil, err
	}
	tx.db.lastSeq++
	o := &models.Order{
		ID:           models.FormatOrderID(tx.db.lastSeq),
		UserID:       n.UserID,
		Username:     n.Username,
		ServiceID:    n.ServiceID,
		ServiceName:  n.ServiceName,
		PlanDuration: n.PlanDuration,
		Amount:       n.Amount,
		Status:       models.StatusPending,
		UserDetails:  n.UserDetails,
		CreatedAt:    tx.Now(),
	}
	tx.db.orderIndex[o.ID] = len(tx.db.orders)
	tx.db.orders = append(tx.db.orders, o)
	tx.ordersTouched = true
	return o, nil
}

func (tx *Tx) Order(id string) (*models.Order, bool) {
	idx, ok := tx.db.orderIndex[id]
	if !ok {
		return nil, false
	}
	return tx.db.orders[idx], true
}

func (tx *Tx) UpdateOrder(id string, upd models.OrderUpdate) (bool, error) {
	if err := validation.Struct(upd); err != nil {
		return false, err
	}
	o, ok := tx.Order(id)
	if !ok {
		return false, nil
	}
	upd.Apply(o)
	tx.ordersTouched = true
	return true, nil
}

// SetCommission records the referrer and commission on an order. Both fields
// are write-once; a second call is refused.
func (tx *Tx) SetCommission(id string, referrerID int64, commission decimal.Decimal) bool {
	o, ok := tx.Order(id)
	if !ok || o.CommissionPaid != nil {
		return false
	}
	o.ReferrerID = &referrerID
	o.CommissionPaid = &commission
	tx.ordersTouched = true
	return true
}

// MarkActivated stamps the fulfillment time once.
func (tx *Tx) MarkActivated(id string) bool {
	o, ok := tx.Order(id)
	if !ok || o.ActivatedAt != nil {
		return false
	}
	now := tx.Now()
	o.ActivatedAt = &now
	tx.ordersTouched = true
	return true
}

// Fire applies event to the order as one check-and-set: the transition
// happens only if the order is in the event's source status and the edge
// guard holds. actorID, when non-zero, is recorded as the processor.
func (tx *Tx) Fire(id string, event models.OrderEvent, actorID int64) (*models.Order, error) {
	t, ok := models.TransitionFor(event)
	if !ok {
		return nil, ErrUnknownEvent
	}
	o, ok := tx.Order(id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	if !t.Allows(o) {
		return nil, &TransitionError{OrderID: id, Event: event, Current: o.Status}
	}

	o.Status = t.To
	if t.To.Terminal() {
		now := tx.Now()
		o.ProcessedAt = &now
	}
	if actorID != 0 {
		o.ProcessedBy = &actorID
	}
	tx.ordersTouched = true
	return o, nil
}

// Orders returns live orders matching keep, in creation order.
func (tx *Tx) Orders(keep func(*models.Order) bool) []*models.Order {
	var out []*models.Order
	for _, o := range tx.db.orders {
		if keep == nil || keep(o) {
			out = append(out, o)
		}
	}
	return out
}
