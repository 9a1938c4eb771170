package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/store"
	"github.com/fridaybazar/bazar/pkg/logger"
)

var ErrSelfReferral = errors.New("users cannot refer themselves")

var hundred = decimal.NewFromInt(100)

// Payout is a commission that was just credited.
type Payout struct {
	ReferrerID int64
	BuyerID    int64
	OrderID    string
	Amount     decimal.Decimal
	// Balance is the referrer's coin balance after the credit.
	Balance decimal.Decimal
}

// Ledger credits referral commissions. The order record is the ledger entry:
// a commission is paid only while the order's CommissionPaid is unset, and
// setting it happens in the same store section as the credit.
type Ledger struct {
	logger  *logger.Logger
	percent decimal.Decimal
}

func New(percent decimal.Decimal, logger *logger.Logger) *Ledger {
	return &Ledger{percent: percent, logger: logger}
}

func (l *Ledger) Percent() decimal.Decimal {
	return l.percent
}

// Commission returns percent of amount, rounded to paise.
func (l *Ledger) Commission(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(l.percent).Div(hundred).Round(2)
}

// PayCommission credits the buyer's referrer for an approved order. It must
// run inside store.Database.Atomically together with the approval. It
// returns nil when nothing is owed: no referrer, zero commission, or the
// commission was already paid.
func (l *Ledger) PayCommission(tx *store.Tx, orderID string) (*Payout, error) {
	order, ok := tx.Order(orderID)
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	if order.Status != models.StatusApproved {
		return nil, fmt.Errorf("order %s is %s, not approved", orderID, order.Status)
	}
	if order.CommissionPaid != nil {
		l.logger.Debug("Commission already paid", "order_id", orderID)
		return nil, nil
	}

	buyer, ok := tx.User(order.UserID)
	if !ok || buyer.ReferredBy == nil {
		return nil, nil
	}
	referrerID := *buyer.ReferredBy
	if referrerID == buyer.ID {
		return nil, nil
	}
	amount := l.Commission(order.Amount)
	if !amount.IsPositive() {
		return nil, nil
	}

	referrer := tx.GetOrCreateUser(referrerID)
	tx.AddCoins(referrerID, amount, "referral commission "+orderID)
	tx.IncrementReferralCount(referrerID)
	tx.SetCommission(orderID, referrerID, amount)

	l.logger.Info("Commission paid",
		"order_id", orderID, "referrer_id", referrerID, "buyer_id", buyer.ID, "amount", amount.String())
	return &Payout{
		ReferrerID: referrerID,
		BuyerID:    buyer.ID,
		OrderID:    orderID,
		Amount:     amount,
		Balance:    referrer.Coins,
	}, nil
}

// Refer records referrerID as the user's referrer. Both users are created if
// needed. It returns false when the user already has a referrer.
func (l *Ledger) Refer(db *store.Database, userID, referrerID int64) (bool, error) {
	if userID == referrerID {
		return false, ErrSelfReferral
	}
	var ok bool
	err := db.Atomically(func(tx *store.Tx) error {
		tx.GetOrCreateUser(userID)
		tx.GetOrCreateUser(referrerID)
		ok = tx.SetReferrer(userID, referrerID)
		return nil
	})
	if ok {
		l.logger.Info("Referral registered", "user_id", userID, "referrer_id", referrerID)
	}
	return ok, err
}
