package repository

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fridaybazar/bazar/internal/models"
)

// MemoryStorage keeps encoded collections in memory. It backs the "memory"
// storage backend (nothing survives a restart) and the tests. Collections are
// stored JSON-encoded so that loads never alias the saved values.
type MemoryStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves map[string]int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: map[string][]byte{}, saves: map[string]int{}}
}

// Saves returns how many times a collection has been written.
func (m *MemoryStorage) Saves(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[collection]
}

// Put stores raw bytes for a collection, bypassing encoding.
func (m *MemoryStorage) Put(collection string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[collection] = raw
}

func (m *MemoryStorage) LoadUsers() (map[int64]*models.User, error) {
	users := map[int64]*models.User{}
	if err := m.load(models.CollectionUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (m *MemoryStorage) SaveUsers(users map[int64]*models.User) error {
	return m.save(models.CollectionUsers, users)
}

func (m *MemoryStorage) LoadOrders() ([]*models.Order, error) {
	orders := []*models.Order{}
	if err := m.load(models.CollectionOrders, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (m *MemoryStorage) SaveOrders(orders []*models.Order) error {
	return m.save(models.CollectionOrders, orders)
}

func (m *MemoryStorage) LoadSettings() (*models.Settings, error) {
	var settings models.Settings
	if err := m.load(models.CollectionSettings, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (m *MemoryStorage) SaveSettings(settings *models.Settings) error {
	return m.save(models.CollectionSettings, settings)
}

func (m *MemoryStorage) LoadServices() (map[string]*models.Service, error) {
	services := map[string]*models.Service{}
	if err := m.load(models.CollectionServices, &services); err != nil {
		return nil, err
	}
	return services, nil
}

func (m *MemoryStorage) SaveServices(services map[string]*models.Service) error {
	return m.save(models.CollectionServices, services)
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) load(collection string, dst interface{}) error {
	m.mu.Lock()
	raw, ok := m.blobs[collection]
	m.mu.Unlock()
	if !ok {
		return models.ErrNotExist
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", collection, err)
	}
	return nil
}

func (m *MemoryStorage) save(collection string, src interface{}) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", collection, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[collection] = raw
	m.saves[collection]++
	return nil
}
