package models

import "errors"

// ErrNotExist is returned by Storage loaders when a collection has never been
// written. It is a legitimate empty state, unlike a read or decode failure.
var ErrNotExist = errors.New("collection does not exist")

// Collection names used by Storage implementations.
const (
	CollectionUsers    = "users"
	CollectionOrders   = "orders"
	CollectionSettings = "settings"
	CollectionServices = "services"
)

// Storage is the durable backend behind the in-memory stores. Every Save
// replaces the whole collection and must be idempotent.
type Storage interface {
	LoadUsers() (map[int64]*User, error)
	SaveUsers(users map[int64]*User) error

	LoadOrders() ([]*Order, error)
	SaveOrders(orders []*Order) error

	LoadSettings() (*Settings, error)
	SaveSettings(settings *Settings) error

	LoadServices() (map[string]*Service, error)
	SaveServices(services map[string]*Service) error

	Close() error
}

// Quarantiner is implemented by storages that can move an unreadable
// collection aside so that the next save does not overwrite it.
type Quarantiner interface {
	Quarantine(collection string) (string, error)
}
