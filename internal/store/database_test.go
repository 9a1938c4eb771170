package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/repository"
	"github.com/fridaybazar/bazar/pkg/logger"
)

// flakyStorage fails saves while fail is set.
type flakyStorage struct {
	*repository.MemoryStorage
	fail atomic.Bool
}

func (f *flakyStorage) SaveUsers(users map[int64]*models.User) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.MemoryStorage.SaveUsers(users)
}

func (f *flakyStorage) SaveOrders(orders []*models.Order) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.MemoryStorage.SaveOrders(orders)
}

func newTestDatabase(t *testing.T, storage models.Storage, opts ...Option) (*Database, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clock)}, opts...)
	db := NewDatabase(storage, logger.NewNop(), opts...)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Shutdown() })
	return db, clock
}

func sampleOrder(userID int64, amount string) models.NewOrder {
	return models.NewOrder{
		UserID:       userID,
		Username:     "alice",
		ServiceID:    "yt_premium",
		ServiceName:  "YouTube Premium",
		PlanDuration: "1 Month",
		Amount:       decimal.RequireFromString(amount),
	}
}

func TestMissingCollectionsStartEmpty(t *testing.T) {
	storage := repository.NewMemoryStorage()
	db, _ := newTestDatabase(t, storage)

	assert.Equal(t, 0, db.Stats().Users)
	assert.Equal(t, 0, db.Stats().Orders)
	assert.Equal(t, 1, storage.Saves(models.CollectionUsers))
	assert.Equal(t, 1, storage.Saves(models.CollectionOrders))

	_, err := storage.LoadUsers()
	require.NoError(t, err)
	_, err = storage.LoadOrders()
	require.NoError(t, err)
}

func TestFirstStartCreatesFiles(t *testing.T) {
	dir := t.TempDir()
	storage, err := repository.NewFileStorage(dir, logger.NewNop())
	require.NoError(t, err)
	db, _ := newTestDatabase(t, storage)

	assert.Equal(t, 0, db.Stats().Users)
	assert.Equal(t, 0, db.Stats().Orders)

	raw, err := os.ReadFile(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(raw))
	raw, err = os.ReadFile(filepath.Join(dir, "orders.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))

	users, err := storage.LoadUsers()
	require.NoError(t, err)
	assert.Empty(t, users)
	orders, err := storage.LoadOrders()
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestGetOrCreateUserDefaults(t *testing.T) {
	db, clock := newTestDatabase(t, repository.NewMemoryStorage())

	u := db.GetOrCreateUser(42)
	assert.Equal(t, int64(42), u.ID)
	assert.True(t, u.Coins.IsZero())
	assert.True(t, u.TotalEarned.IsZero())
	assert.Equal(t, 0, u.TotalReferrals)
	assert.Nil(t, u.ReferredBy)
	assert.Equal(t, "en", u.Language)
	assert.Equal(t, models.SubscriptionNone, u.SubscriptionStatus)
	assert.Empty(t, u.Purchases)
	assert.Equal(t, clock.Now(), u.JoinedAt)

	dirtyUsers, _ := db.Dirty()
	assert.True(t, dirtyUsers)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	db, _ := newTestDatabase(t, repository.NewMemoryStorage())

	u := db.GetOrCreateUser(1)
	u.Coins = decimal.NewFromInt(1000)
	again, ok := db.GetUser(1)
	require.True(t, ok)
	assert.True(t, again.Coins.IsZero())

	id, err := db.CreateOrder(sampleOrder(1, "25"))
	require.NoError(t, err)
	o, ok := db.GetOrder(id)
	require.True(t, ok)
	o.Status = models.StatusApproved
	o, _ = db.GetOrder(id)
	assert.Equal(t, models.StatusPending, o.Status)
}

func TestUserMutations(t *testing.T) {
	db, _ := newTestDatabase(t, repository.NewMemoryStorage())
	db.GetOrCreateUser(1)

	ok, err := db.UpdateUser(1, models.UserUpdate{Language: models.Ptr("hi"), Username: models.Ptr("alice")})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.UpdateUser(1, models.UserUpdate{Language: models.Ptr("fr")})
	assert.Error(t, err)

	ok, err = db.UpdateUser(99, models.UserUpdate{Username: models.Ptr("ghost")})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, db.SetReferrer(1, 7))
	assert.False(t, db.SetReferrer(1, 8), "referrer is set once")
	assert.False(t, db.SetReferrer(99, 7))

	assert.True(t, db.AddCoins(1, decimal.RequireFromString("14.90"), "test"))
	assert.False(t, db.AddCoins(1, decimal.NewFromInt(-5), "test"))
	assert.False(t, db.AddCoins(99, decimal.NewFromInt(5), "test"))
	assert.True(t, db.IncrementReferralCount(1))
	assert.True(t, db.AddPurchaseToUser(1, "FBP000001", decimal.NewFromInt(25)))

	u, _ := db.GetUser(1)
	assert.Equal(t, "hi", u.Language)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, int64(7), *u.ReferredBy)
	assert.Equal(t, "14.9", u.Coins.String())
	assert.Equal(t, "14.9", u.TotalEarned.String())
	assert.Equal(t, 1, u.TotalReferrals)
	require.Len(t, u.Purchases, 1)
	assert.Equal(t, "FBP000001", u.Purchases[0].OrderID)
}

func TestCreateOrderSequentialIDs(t *testing.T) {
	db, clock := newTestDatabase(t, repository.NewMemoryStorage())

	first, err := db.CreateOrder(sampleOrder(1, "25"))
	require.NoError(t, err)
	second, err := db.CreateOrder(sampleOrder(1, "129"))
	require.NoError(t, err)
	assert.Equal(t, "FBP000001", first)
	assert.Equal(t, "FBP000002", second)

	o, ok := db.GetOrder(first)
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Equal(t, clock.Now(), o.CreatedAt)
	assert.Nil(t, o.PaymentScreenshot)
	assert.Nil(t, o.CommissionPaid)

	_, err = db.CreateOrder(models.NewOrder{UserID: 1})
	assert.Error(t, err)
}

func TestConcurrentCreateOrderUniqueIDs(t *testing.T) {
	db, _ := newTestDatabase(t, repository.NewMemoryStorage())

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			id, err := db.CreateOrder(sampleOrder(user, "25"))
			assert.NoError(t, err)
			ids <- id
		}(int64(i + 1))
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate order id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestUpdateOrderCannotTouchLifecycle(t *testing.T) {
	db, _ := newTestDatabase(t, repository.NewMemoryStorage())
	id, err := db.CreateOrder(sampleOrder(1, "25"))
	require.NoError(t, err)

	ok, err := db.UpdateOrder(id, models.OrderUpdate{UserEmail: models.Ptr("a@example.com")})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.UpdateOrder(id, models.OrderUpdate{UserEmail: models.Ptr("not-an-email")})
	assert.Error(t, err)

	ok, err = db.UpdateOrder("FBP999999", models.OrderUpdate{Username: models.Ptr("x")})
	require.NoError(t, err)
	assert.False(t, ok)

	o, _ := db.GetOrder(id)
	assert.Equal(t, "a@example.com", *o.UserEmail)
	assert.Equal(t, models.StatusPending, o.Status)
}

func TestFireTransitions(t *testing.T) {
	db, clock := newTestDatabase(t, repository.NewMemoryStorage())
	id, err := db.CreateOrder(sampleOrder(1, "25"))
	require.NoError(t, err)

	_, err = db.Fire(id, models.EventAdminApproved, 9)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.StatusPending, terr.Current)

	o, err := db.Fire(id, models.EventScreenshotUploaded, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerification, o.Status)
	assert.Nil(t, o.ProcessedAt)

	_, err = db.Fire(id, models.EventTimerExpired, 0)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	o, err = db.Fire(id, models.EventAdminApproved, 9)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, o.Status)
	assert.Equal(t, int64(9), *o.ProcessedBy)
	assert.Equal(t, clock.Now(), *o.ProcessedAt)

	_, err = db.Fire("FBP999999", models.EventAdminApproved, 9)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = db.Fire(id, models.OrderEvent("bogus"), 9)
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPromoTransitionRequiresZeroAmount(t *testing.T) {
	db, _ := newTestDatabase(t, repository.NewMemoryStorage())

	paid, err := db.CreateOrder(sampleOrder(1, "25"))
	require.NoError(t, err)
	_, err = db.Fire(paid, models.EventPromoApproved, 0)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	free, err := db.CreateOrder(sampleOrder(1, "0"))
	require.NoError(t, err)
	o, err := db.Fire(free, models.EventPromoApproved, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, o.Status)
}

func TestConcurrentFireHasOneWinner(t *testing.T) {
	db, _ := newTestDatabase(t, repository.NewMemoryStorage())
	id, err := db.CreateOrder(sampleOrder(1, "25"))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, ev := range []models.OrderEvent{
		models.EventScreenshotUploaded, models.EventTimerExpired, models.EventUserCancelled,
		models.EventScreenshotUploaded, models.EventTimerExpired, models.EventUserCancelled,
	} {
		wg.Add(1)
		go func(ev models.OrderEvent) {
			defer wg.Done()
			if _, err := db.Fire(id, ev, 0); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrAlreadyProcessed)
			}
		}(ev)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestFlushRoundTrip(t *testing.T) {
	storage := repository.NewMemoryStorage()
	db, _ := newTestDatabase(t, storage)

	db.GetOrCreateUser(1)
	db.AddCoins(1, decimal.RequireFromString("12.90"), "test")
	id, err := db.CreateOrder(sampleOrder(1, "129"))
	require.NoError(t, err)
	_, err = db.Fire(id, models.EventScreenshotUploaded, 0)
	require.NoError(t, err)
	require.NoError(t, db.Flush())

	reloaded, _ := newTestDatabase(t, storage)
	u, ok := reloaded.GetUser(1)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("12.90").Equal(u.Coins))
	o, ok := reloaded.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusVerification, o.Status)
	assert.True(t, decimal.NewFromInt(129).Equal(o.Amount))

	next, err := reloaded.CreateOrder(sampleOrder(1, "25"))
	require.NoError(t, err)
	assert.Equal(t, "FBP000002", next)
}

func TestPeriodicFlush(t *testing.T) {
	storage := repository.NewMemoryStorage()
	db, clock := newTestDatabase(t, storage, WithFlushInterval(5*time.Second))
	before := storage.Saves(models.CollectionUsers)

	db.GetOrCreateUser(1)
	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool {
		return storage.Saves(models.CollectionUsers) == before+1
	}, time.Second, 5*time.Millisecond)
	dirtyUsers, dirtyOrders := db.Dirty()
	assert.False(t, dirtyUsers)
	assert.False(t, dirtyOrders)
}

func TestFlushSkipsCleanTables(t *testing.T) {
	storage := repository.NewMemoryStorage()
	db, _ := newTestDatabase(t, storage)
	before := storage.Saves(models.CollectionOrders)

	db.GetOrCreateUser(1)
	require.NoError(t, db.Flush())
	assert.Equal(t, before, storage.Saves(models.CollectionOrders))
}

func TestFailedFlushKeepsDirty(t *testing.T) {
	storage := &flakyStorage{MemoryStorage: repository.NewMemoryStorage()}
	db, _ := newTestDatabase(t, storage)

	db.GetOrCreateUser(1)
	storage.fail.Store(true)
	assert.Error(t, db.Flush())
	dirtyUsers, _ := db.Dirty()
	assert.True(t, dirtyUsers)

	storage.fail.Store(false)
	require.NoError(t, db.Flush())
	dirtyUsers, _ = db.Dirty()
	assert.False(t, dirtyUsers)

	users, err := storage.LoadUsers()
	require.NoError(t, err)
	assert.Contains(t, users, int64(1))
}

func TestShutdownFlushes(t *testing.T) {
	storage := repository.NewMemoryStorage()
	db := NewDatabase(storage, logger.NewNop(), WithClock(clockwork.NewFakeClock()))
	require.NoError(t, db.Initialize())

	_, err := db.CreateOrder(sampleOrder(1, "25"))
	require.NoError(t, err)
	require.NoError(t, db.Shutdown())

	orders, err := storage.LoadOrders()
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestCorruptFileIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte("{not json"), 0o644))
	storage, err := repository.NewFileStorage(dir, logger.NewNop())
	require.NoError(t, err)

	db, _ := newTestDatabase(t, storage)
	assert.Equal(t, 0, db.Stats().Users)

	quarantined, err := filepath.Glob(filepath.Join(dir, "users.json.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)

	raw, err := os.ReadFile(quarantined[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))
}

func TestCorruptFileStrictLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.json"), []byte("[{"), 0o644))
	storage, err := repository.NewFileStorage(dir, logger.NewNop())
	require.NoError(t, err)

	db := NewDatabase(storage, logger.NewNop(), WithStrictLoad(true))
	assert.Error(t, db.Initialize())
}

func TestStats(t *testing.T) {
	db, _ := newTestDatabase(t, repository.NewMemoryStorage())
	id, _ := db.CreateOrder(sampleOrder(1, "25"))
	db.CreateOrder(sampleOrder(2, "129"))
	db.Fire(id, models.EventScreenshotUploaded, 0)
	db.Fire(id, models.EventAdminApproved, 9)

	s := db.Stats()
	assert.Equal(t, 2, s.Orders)
	assert.Equal(t, 1, s.OrdersByStatus[models.StatusApproved])
	assert.Equal(t, 1, s.OrdersByStatus[models.StatusPending])
	assert.True(t, decimal.NewFromInt(25).Equal(s.Revenue))
	assert.Len(t, db.PendingOrders(), 1)
	assert.Len(t, db.UserOrders(1), 1)
}
