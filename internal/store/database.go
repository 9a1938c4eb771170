package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/pkg/logger"
)

const DefaultFlushInterval = 5 * time.Second

type Option func(*Database)

func WithClock(clock clockwork.Clock) Option {
	return func(db *Database) { db.clock = clock }
}

func WithFlushInterval(d time.Duration) Option {
	return func(db *Database) {
		if d > 0 {
			db.flushInterval = d
		}
	}
}

// WithStrictLoad makes Initialize fail on an unreadable collection instead of
// quarantining it and starting empty.
func WithStrictLoad(strict bool) Option {
	return func(db *Database) { db.strictLoad = strict }
}

// Database holds users and orders in memory and writes them back to storage
// periodically. Every mutation bumps a per-table version; a table is dirty
// while its version is ahead of the last version that was saved.
type Database struct {
	logger        *logger.Logger
	storage       models.Storage
	clock         clockwork.Clock
	flushInterval time.Duration
	strictLoad    bool

	mu         sync.RWMutex
	users      map[int64]*models.User
	orders     []*models.Order
	orderIndex map[string]int
	lastSeq    int64

	usersVersion  uint64
	usersSaved    uint64
	ordersVersion uint64
	ordersSaved   uint64

	// flushMu serializes flushes so an older snapshot never overwrites a newer one.
	flushMu sync.Mutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDatabase(storage models.Storage, logger *logger.Logger, opts ...Option) *Database {
	ctx, cancel := context.WithCancel(context.Background())
	db := &Database{
		logger:        logger,
		storage:       storage,
		clock:         clockwork.NewRealClock(),
		flushInterval: DefaultFlushInterval,
		users:         map[int64]*models.User{},
		orderIndex:    map[string]int{},
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Initialize loads both tables and starts the write-back loop.
func (db *Database) Initialize() error {
	if err := db.loadUsers(); err != nil {
		return err
	}
	if err := db.loadOrders(); err != nil {
		return err
	}

	db.wg.Add(1)
	go db.persistenceLoop()

	db.logger.Info("Database initialized",
		"users", len(db.users), "orders", len(db.orders), "flush_interval", db.flushInterval)
	return nil
}

// Shutdown stops the write-back loop and flushes whatever is still dirty.
func (db *Database) Shutdown() error {
	db.cancel()
	db.wg.Wait()
	if err := db.Flush(); err != nil {
		db.logger.Error("Final flush failed", "error", err)
		return err
	}
	db.logger.Info("Database shut down")
	return nil
}

func (db *Database) persistenceLoop() {
	defer db.wg.Done()

	ticker := db.clock.NewTicker(db.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := db.Flush(); err != nil {
				db.logger.Error("Periodic flush failed", "error", err)
			}
		case <-db.ctx.Done():
			return
		}
	}
}

// Flush writes every dirty table. A table whose save fails stays dirty and is
// retried on the next flush.
func (db *Database) Flush() error {
	db.flushMu.Lock()
	defer db.flushMu.Unlock()

	return errors.Join(db.flushUsers(), db.flushOrders())
}

func (db *Database) flushUsers() error {
	db.mu.RLock()
	version := db.usersVersion
	if version == db.usersSaved {
		db.mu.RUnlock()
		return nil
	}
	snapshot := make(map[int64]*models.User, len(db.users))
	for id, u := range db.users {
		snapshot[id] = u.Clone()
	}
	db.mu.RUnlock()

	if err := db.storage.SaveUsers(snapshot); err != nil {
		return fmt.Errorf("failed to save users: %w", err)
	}

	db.mu.Lock()
	if version > db.usersSaved {
		db.usersSaved = version
	}
	db.mu.Unlock()
	db.logger.Debug("Flushed users", "count", len(snapshot))
	return nil
}

func (db *Database) flushOrders() error {
	db.mu.RLock()
	version := db.ordersVersion
	if version == db.ordersSaved {
		db.mu.RUnlock()
		return nil
	}
	snapshot := make([]*models.Order, len(db.orders))
	for i, o := range db.orders {
		snapshot[i] = o.Clone()
	}
	db.mu.RUnlock()

	if err := db.storage.SaveOrders(snapshot); err != nil {
		return fmt.Errorf("failed to save orders: %w", err)
	}

	db.mu.Lock()
	if version > db.ordersSaved {
		db.ordersSaved = version
	}
	db.mu.Unlock()
	db.logger.Debug("Flushed orders", "count", len(snapshot))
	return nil
}

// Dirty reports which tables hold changes not yet saved.
func (db *Database) Dirty() (users, orders bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.usersVersion != db.usersSaved, db.ordersVersion != db.ordersSaved
}

func (db *Database) loadUsers() error {
	users, err := db.storage.LoadUsers()
	if err != nil {
		if err := db.recoverLoad(models.CollectionUsers, err); err != nil {
			return err
		}
		users = map[int64]*models.User{}
		if err := db.storage.SaveUsers(users); err != nil {
			db.logger.Warn("Failed to create empty users collection", "error", err)
		}
	}
	if users == nil {
		users = map[int64]*models.User{}
	}
	for id, u := range users {
		if u == nil {
			delete(users, id)
			continue
		}
		if u.Purchases == nil {
			u.Purchases = []models.Purchase{}
		}
	}

	db.mu.Lock()
	db.users = users
	db.mu.Unlock()
	return nil
}

func (db *Database) loadOrders() error {
	orders, err := db.storage.LoadOrders()
	if err != nil {
		if err := db.recoverLoad(models.CollectionOrders, err); err != nil {
			return err
		}
		orders = []*models.Order{}
		if err := db.storage.SaveOrders(orders); err != nil {
			db.logger.Warn("Failed to create empty orders collection", "error", err)
		}
	}

	kept := make([]*models.Order, 0, len(orders))
	for _, o := range orders {
		if o != nil && o.ID != "" {
			kept = append(kept, o)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt.Before(kept[j].CreatedAt)
	})

	index := make(map[string]int, len(kept))
	var lastSeq int64
	for i, o := range kept {
		index[o.ID] = i
		seq, err := models.ParseOrderID(o.ID)
		if err != nil {
			db.logger.Warn("Order with foreign ID format", "order_id", o.ID)
			continue
		}
		if seq > lastSeq {
			lastSeq = seq
		}
	}

	db.mu.Lock()
	db.orders = kept
	db.orderIndex = index
	db.lastSeq = lastSeq
	db.mu.Unlock()
	return nil
}

// recoverLoad decides what a failed load means. A missing collection is an
// empty one. Anything else is fatal in strict mode; otherwise the broken
// collection is moved aside (when the storage can) and the table starts empty.
func (db *Database) recoverLoad(collection string, loadErr error) error {
	if errors.Is(loadErr, models.ErrNotExist) {
		db.logger.Info("Collection not found, starting empty", "collection", collection)
		return nil
	}

	db.logger.Error("Failed to load collection", "collection", collection, "error", loadErr)
	if db.strictLoad {
		return fmt.Errorf("failed to load %s: %w", collection, loadErr)
	}

	if q, ok := db.storage.(models.Quarantiner); ok {
		if _, err := q.Quarantine(collection); err != nil {
			return fmt.Errorf("failed to load %s and to quarantine it: %w", collection, errors.Join(loadErr, err))
		}
	}
	db.logger.Warn("Starting with an empty collection", "collection", collection)
	return nil
}

// Atomically runs fn with exclusive access to both tables. Changes made
// through tx become visible to readers only after fn returns. fn's error is
// returned as is; there is no rollback, so fn must validate before mutating.
func (db *Database) Atomically(fn func(tx *Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx := &Tx{db: db}
	err := fn(tx)
	if tx.usersTouched {
		db.usersVersion++
	}
	if tx.ordersTouched {
		db.ordersVersion++
	}
	return err
}

func (db *Database) GetUser(id int64) (*models.User, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	u, ok := db.users[id]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

// GetOrCreateUser returns the user, creating it with defaults on first access.
func (db *Database) GetOrCreateUser(id int64) *models.User {
	if u, ok := db.GetUser(id); ok {
		return u
	}
	var u *models.User
	db.Atomically(func(tx *Tx) error {
		u = tx.GetOrCreateUser(id).Clone()
		return nil
	})
	return u
}

// UpdateUser merges a partial update. It returns false if the user is unknown.
func (db *Database) UpdateUser(id int64, upd models.UserUpdate) (bool, error) {
	var ok bool
	err := db.Atomically(func(tx *Tx) error {
		var err error
		ok, err = tx.UpdateUser(id, upd)
		return err
	})
	return ok, err
}

// SetReferrer records who referred the user. It never overwrites an existing referrer.
func (db *Database) SetReferrer(id, referrerID int64) bool {
	var ok bool
	db.Atomically(func(tx *Tx) error {
		ok = tx.SetReferrer(id, referrerID)
		return nil
	})
	return ok
}

func (db *Database) AddCoins(id int64, amount decimal.Decimal, reason string) bool {
	var ok bool
	db.Atomically(func(tx *Tx) error {
		ok = tx.AddCoins(id, amount, reason)
		return nil
	})
	return ok
}

func (db *Database) IncrementReferralCount(id int64) bool {
	var ok bool
	db.Atomically(func(tx *Tx) error {
		ok = tx.IncrementReferralCount(id)
		return nil
	})
	return ok
}

func (db *Database) AddPurchaseToUser(userID int64, orderID string, amount decimal.Decimal) bool {
	var ok bool
	db.Atomically(func(tx *Tx) error {
		ok = tx.AddPurchase(userID, orderID, amount)
		return nil
	})
	return ok
}

// CreateOrder stores a new pending order and returns its ID.
func (db *Database) CreateOrder(n models.NewOrder) (string, error) {
	var id string
	err := db.Atomically(func(tx *Tx) error {
		o, err := tx.CreateOrder(n)
		if err != nil {
			return err
		}
		id = o.ID
		return nil
	})
	return id, err
}

func (db *Database) GetOrder(id string) (*models.Order, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	idx, ok := db.orderIndex[id]
	if !ok {
		return nil, false
	}
	return db.orders[idx].Clone(), true
}

// UpdateOrder merges a partial update. It returns false if the order is unknown.
func (db *Database) UpdateOrder(id string, upd models.OrderUpdate) (bool, error) {
	var ok bool
	err := db.Atomically(func(tx *Tx) error {
		var err error
		ok, err = tx.UpdateOrder(id, upd)
		return err
	})
	return ok, err
}

// Fire applies a state machine event and returns the updated order.
func (db *Database) Fire(id string, event models.OrderEvent, actorID int64) (*models.Order, error) {
	var out *models.Order
	err := db.Atomically(func(tx *Tx) error {
		o, err := tx.Fire(id, event, actorID)
		if err != nil {
			return err
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

// Orders returns copies of the orders matching keep, oldest first.
func (db *Database) Orders(keep func(*models.Order) bool) []*models.Order {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*models.Order
	for _, o := range db.orders {
		if keep == nil || keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

// UserIDs returns every user ID in ascending order.
func (db *Database) UserIDs() []int64 {
	db.mu.RLock()
	ids := make([]int64, 0, len(db.users))
	for id := range db.users {
		ids = append(ids, id)
	}
	db.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (db *Database) PendingOrders() []*models.Order {
	return db.Orders(func(o *models.Order) bool { return o.Status == models.StatusPending })
}

func (db *Database) UserOrders(userID int64) []*models.Order {
	return db.Orders(func(o *models.Order) bool { return o.UserID == userID })
}

// Stats summarizes both tables. Revenue counts approved orders only.
func (db *Database) Stats() models.Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	s := models.Stats{
		Users:          len(db.users),
		Orders:         len(db.orders),
		OrdersByStatus: map[models.OrderStatus]int{},
		Revenue:        decimal.Zero,
		CommissionPaid: decimal.Zero,
		UsersDirty:     db.usersVersion != db.usersSaved,
		OrdersDirty:    db.ordersVersion != db.ordersSaved,
	}
	for _, o := range db.orders {
		s.OrdersByStatus[o.Status]++
		if o.Status == models.StatusApproved {
			s.Revenue = s.Revenue.Add(o.Amount)
		}
		if o.CommissionPaid != nil {
			s.CommissionPaid = s.CommissionPaid.Add(*o.CommissionPaid)
		}
	}
	return s
}
