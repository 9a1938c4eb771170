package ledger

import (
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/repository"
	"github.com/fridaybazar/bazar/internal/store"
	"github.com/fridaybazar/bazar/pkg/logger"
)

func newDB(t *testing.T) *store.Database {
	t.Helper()
	db := store.NewDatabase(repository.NewMemoryStorage(), logger.NewNop(), store.WithClock(clockwork.NewFakeClock()))
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Shutdown() })
	return db
}

func approvedOrder(t *testing.T, db *store.Database, userID int64, amount string) string {
	t.Helper()
	id, err := db.CreateOrder(models.NewOrder{
		UserID:       userID,
		ServiceID:    "spotify",
		ServiceName:  "Spotify Premium",
		PlanDuration: "1 Year",
		Amount:       decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	_, err = db.Fire(id, models.EventScreenshotUploaded, 0)
	require.NoError(t, err)
	_, err = db.Fire(id, models.EventAdminApproved, 99)
	require.NoError(t, err)
	return id
}

func TestCommission(t *testing.T) {
	l := New(decimal.NewFromInt(10), logger.NewNop())
	assert.Equal(t, "14.9", l.Commission(decimal.NewFromInt(149)).String())
	assert.Equal(t, "2.5", l.Commission(decimal.NewFromInt(25)).String())

	odd := New(decimal.RequireFromString("7.5"), logger.NewNop())
	assert.Equal(t, "9.68", odd.Commission(decimal.NewFromInt(129)).String())
}

func TestPayCommissionOnce(t *testing.T) {
	db := newDB(t)
	l := New(decimal.NewFromInt(10), logger.NewNop())

	ok, err := l.Refer(db, 2, 1)
	require.NoError(t, err)
	require.True(t, ok)
	orderID := approvedOrder(t, db, 2, "149")

	var first, second *Payout
	require.NoError(t, db.Atomically(func(tx *store.Tx) error {
		var err error
		first, err = l.PayCommission(tx, orderID)
		return err
	}))
	require.NoError(t, db.Atomically(func(tx *store.Tx) error {
		var err error
		second, err = l.PayCommission(tx, orderID)
		return err
	}))

	require.NotNil(t, first)
	assert.Nil(t, second)
	assert.Equal(t, int64(1), first.ReferrerID)
	assert.True(t, decimal.RequireFromString("14.90").Equal(first.Amount))
	assert.True(t, decimal.RequireFromString("14.90").Equal(first.Balance))

	referrer, _ := db.GetUser(1)
	assert.True(t, decimal.RequireFromString("14.90").Equal(referrer.Coins))
	assert.True(t, decimal.RequireFromString("14.90").Equal(referrer.TotalEarned))
	assert.Equal(t, 1, referrer.TotalReferrals)

	order, _ := db.GetOrder(orderID)
	require.NotNil(t, order.CommissionPaid)
	assert.Equal(t, int64(1), *order.ReferrerID)
}

func TestPayCommissionConcurrent(t *testing.T) {
	db := newDB(t)
	l := New(decimal.NewFromInt(10), logger.NewNop())
	_, err := l.Refer(db, 2, 1)
	require.NoError(t, err)
	orderID := approvedOrder(t, db, 2, "129")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db.Atomically(func(tx *store.Tx) error {
				_, err := l.PayCommission(tx, orderID)
				return err
			})
		}()
	}
	wg.Wait()

	referrer, _ := db.GetUser(1)
	assert.True(t, decimal.RequireFromString("12.90").Equal(referrer.Coins))
	assert.Equal(t, 1, referrer.TotalReferrals)
}

func TestPayCommissionNothingOwed(t *testing.T) {
	db := newDB(t)
	l := New(decimal.NewFromInt(10), logger.NewNop())
	db.GetOrCreateUser(2)
	orderID := approvedOrder(t, db, 2, "149")

	require.NoError(t, db.Atomically(func(tx *store.Tx) error {
		p, err := l.PayCommission(tx, orderID)
		assert.Nil(t, p)
		return err
	}))
	order, _ := db.GetOrder(orderID)
	assert.Nil(t, order.CommissionPaid)
}

func TestPayCommissionRequiresApproval(t *testing.T) {
	db := newDB(t)
	l := New(decimal.NewFromInt(10), logger.NewNop())
	id, err := db.CreateOrder(models.NewOrder{
		UserID: 2, ServiceID: "spotify", ServiceName: "Spotify", PlanDuration: "1 Year",
		Amount: decimal.NewFromInt(149),
	})
	require.NoError(t, err)

	err = db.Atomically(func(tx *store.Tx) error {
		_, err := l.PayCommission(tx, id)
		return err
	})
	assert.Error(t, err)

	err = db.Atomically(func(tx *store.Tx) error {
		_, err := l.PayCommission(tx, "FBP999999")
		return err
	})
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestRefer(t *testing.T) {
	db := newDB(t)
	l := New(decimal.NewFromInt(10), logger.NewNop())

	_, err := l.Refer(db, 5, 5)
	assert.ErrorIs(t, err, ErrSelfReferral)

	ok, err := l.Refer(db, 5, 6)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Refer(db, 5, 7)
	require.NoError(t, err)
	assert.False(t, ok, "first referrer wins")

	u, _ := db.GetUser(5)
	assert.Equal(t, int64(6), *u.ReferredBy)
	_, ok = db.GetUser(6)
	assert.True(t, ok)
}
