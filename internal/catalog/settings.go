package catalog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/pkg/logger"
	"github.com/fridaybazar/bazar/pkg/validation"
)

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrPlanNotFound    = errors.New("plan not found")
)

type Change int

const (
	ChangeSettings Change = iota
	ChangeServices
)

type Option func(*SettingsManager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *SettingsManager) { m.clock = clock }
}

func WithStrictLoad(strict bool) Option {
	return func(m *SettingsManager) { m.strictLoad = strict }
}

// WithDefaults replaces what is seeded when a collection has never been saved.
func WithDefaults(settings *models.Settings, services map[string]*models.Service) Option {
	return func(m *SettingsManager) {
		if settings != nil {
			m.defaultSettings = settings
		}
		if services != nil {
			m.defaultServices = services
		}
	}
}

// SettingsManager owns the settings singleton and the service catalog. It is
// write-through: a mutation is applied to a copy, the copy is saved, and only
// then does it replace the in-memory value. A failed save changes nothing.
type SettingsManager struct {
	logger     *logger.Logger
	storage    models.Storage
	clock      clockwork.Clock
	strictLoad bool

	defaultSettings *models.Settings
	defaultServices map[string]*models.Service

	mu       sync.RWMutex
	settings *models.Settings
	services map[string]*models.Service

	hooksMu sync.Mutex
	hooks   []func(Change)
}

// Open loads settings and catalog, seeding defaults for collections that do
// not exist yet. It returns only once both are in memory.
func Open(storage models.Storage, logger *logger.Logger, opts ...Option) (*SettingsManager, error) {
	m := &SettingsManager{
		logger:          logger,
		storage:         storage,
		clock:           clockwork.NewRealClock(),
		defaultSettings: DefaultSettings("", ""),
		defaultServices: DefaultServices(),
	}
	for _, opt := range opts {
		opt(m)
	}

	settings, err := storage.LoadSettings()
	if err != nil {
		if err := m.recoverLoad(models.CollectionSettings, err); err != nil {
			return nil, err
		}
		settings = m.defaultSettings.Clone()
		if err := storage.SaveSettings(settings); err != nil {
			m.logger.Warn("Failed to save default settings", "error", err)
		}
	}

	services, err := storage.LoadServices()
	if err != nil {
		if err := m.recoverLoad(models.CollectionServices, err); err != nil {
			return nil, err
		}
		services = cloneServices(m.defaultServices)
		if err := storage.SaveServices(services); err != nil {
			m.logger.Warn("Failed to save default services", "error", err)
		}
	}
	for id, s := range services {
		if s == nil {
			delete(services, id)
			continue
		}
		if s.ID == "" {
			s.ID = id
		}
	}

	m.settings = settings
	m.services = services
	m.logger.Info("Settings loaded", "services", len(services), "payments_enabled", settings.PaymentSystem.Enabled)
	return m, nil
}

func (m *SettingsManager) recoverLoad(collection string, loadErr error) error {
	if errors.Is(loadErr, models.ErrNotExist) {
		m.logger.Info("Collection not found, seeding defaults", "collection", collection)
		return nil
	}
	m.logger.Error("Failed to load collection", "collection", collection, "error", loadErr)
	if m.strictLoad {
		return fmt.Errorf("failed to load %s: %w", collection, loadErr)
	}
	if q, ok := m.storage.(models.Quarantiner); ok {
		if _, err := q.Quarantine(collection); err != nil {
			return fmt.Errorf("failed to load %s and to quarantine it: %w", collection, errors.Join(loadErr, err))
		}
	}
	return nil
}

// OnChange registers fn to run after every successful mutation.
func (m *SettingsManager) OnChange(fn func(Change)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *SettingsManager) notify(c Change) {
	m.hooksMu.Lock()
	hooks := append([]func(Change){}, m.hooks...)
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(c)
	}
}

func (m *SettingsManager) Settings() *models.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.Clone()
}

func (m *SettingsManager) QRSettings() models.QRSettings {
	return m.Settings().QR
}

func (m *SettingsManager) IsPaymentEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.PaymentSystem.Enabled
}

func (m *SettingsManager) DisabledMessage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if msg := m.settings.PaymentSystem.DisabledMessage; msg != "" {
		return msg
	}
	return DefaultDisabledMessage
}

func (m *SettingsManager) Service(id string) (*models.Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Services returns the catalog in menu order.
func (m *SettingsManager) Services() []*models.Service {
	m.mu.RLock()
	out := make([]*models.Service, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()
	models.SortServices(out)
	return out
}

func (m *SettingsManager) UpdateService(id string, upd models.ServiceUpdate) error {
	if err := validation.Struct(upd); err != nil {
		return err
	}
	return m.mutateService(id, func(s *models.Service) error {
		upd.Apply(s)
		return nil
	})
}

func (m *SettingsManager) SetServiceAvailable(id string, available bool) error {
	return m.UpdateService(id, models.ServiceUpdate{Available: &available})
}

func (m *SettingsManager) UpdatePlan(id string, idx int, upd models.PlanUpdate) error {
	if err := validation.Struct(upd); err != nil {
		return err
	}
	return m.mutateService(id, func(s *models.Service) error {
		if idx < 0 || idx >= len(s.Plans) {
			return fmt.Errorf("%w: %s #%d", ErrPlanNotFound, id, idx)
		}
		upd.Apply(&s.Plans[idx])
		return nil
	})
}

// SetPlanPrice is a shorthand for UpdatePlan with only a new price.
func (m *SettingsManager) SetPlanPrice(id string, idx int, price decimal.Decimal) error {
	return m.UpdatePlan(id, idx, models.PlanUpdate{Price: &price})
}

func (m *SettingsManager) SetPlanQR(id string, idx int, fileID string) error {
	return m.UpdatePlan(id, idx, models.PlanUpdate{CustomQRFileID: &fileID})
}

func (m *SettingsManager) ClearPlanQR(id string, idx int) error {
	return m.UpdatePlan(id, idx, models.PlanUpdate{ClearCustomQR: true})
}

func (m *SettingsManager) mutateService(id string, fn func(s *models.Service) error) error {
	m.mu.Lock()
	current, ok := m.services[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	updated := current.Clone()
	if err := fn(updated); err != nil {
		m.mu.Unlock()
		return err
	}
	next := shallowCopy(m.services)
	next[id] = updated
	if err := m.storage.SaveServices(next); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to save services: %w", err)
	}
	m.services = next
	m.mu.Unlock()

	m.logger.Info("Service updated", "service_id", id)
	m.notify(ChangeServices)
	return nil
}

// BulkUpdatePrices moves every plan price by percent, up or down. New prices
// are truncated to whole rupees and never drop below 1. It returns how many
// services had plans repriced.
func (m *SettingsManager) BulkUpdatePrices(percent decimal.Decimal, increase bool) (int, error) {
	if err := validation.Var(percent, "gt=0,lte=100"); err != nil {
		return 0, fmt.Errorf("percent: %w", err)
	}
	delta := percent.Div(decimal.NewFromInt(100))
	factor := decimal.NewFromInt(1).Add(delta)
	if !increase {
		factor = decimal.NewFromInt(1).Sub(delta)
	}
	one := decimal.NewFromInt(1)

	m.mu.Lock()
	next := cloneServices(m.services)
	count := 0
	for _, s := range next {
		if len(s.Plans) == 0 {
			continue
		}
		for i := range s.Plans {
			price := s.Plans[i].Price.Mul(factor).Floor()
			if price.LessThan(one) {
				price = one
			}
			s.Plans[i].Price = price
		}
		count++
	}
	if count == 0 {
		m.mu.Unlock()
		return 0, nil
	}

	if err := m.storage.SaveServices(next); err != nil {
		m.mu.Unlock()
		return 0, fmt.Errorf("failed to save services: %w", err)
	}
	m.services = next

	// Prices are committed from here on. A failed timestamp save is logged,
	// never returned.
	settings := m.settings.Clone()
	now := m.clock.Now()
	settings.Pricing.LastBulkUpdate = &now
	settingsSaved := true
	if err := m.storage.SaveSettings(settings); err != nil {
		settingsSaved = false
		m.logger.Warn("Failed to record bulk update time", "error", err)
	} else {
		m.settings = settings
	}
	m.mu.Unlock()

	m.logger.Info("Bulk price update", "percent", percent.String(), "increase", increase, "services", count)
	m.notify(ChangeServices)
	if settingsSaved {
		m.notify(ChangeSettings)
	}
	return count, nil
}

// UpdateSettings merges upd into the settings. A section left nil is
// untouched and, within a section, so is every nil field.
func (m *SettingsManager) UpdateSettings(upd models.SettingsUpdate) error {
	if err := validation.Struct(upd); err != nil {
		return err
	}

	m.mu.Lock()
	next := m.settings.Clone()
	upd.Apply(next)
	if err := m.storage.SaveSettings(next); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to save settings: %w", err)
	}
	m.settings = next
	m.mu.Unlock()

	m.notify(ChangeSettings)
	return nil
}

// DisablePayments stops new purchases. message, when non-empty, replaces the
// maintenance text shown to users.
func (m *SettingsManager) DisablePayments(adminID int64, reason, message string) error {
	now := m.clock.Now()
	upd := &models.PaymentSystemUpdate{
		Enabled:    models.Ptr(false),
		DisabledAt: &now,
		DisabledBy: &adminID,
	}
	if reason != "" {
		upd.DisabledReason = &reason
	}
	if message != "" {
		upd.DisabledMessage = &message
	}
	if err := m.UpdateSettings(models.SettingsUpdate{PaymentSystem: upd}); err != nil {
		return err
	}
	m.logger.Warn("Payments disabled", "admin_id", adminID, "reason", reason)
	return nil
}

func (m *SettingsManager) EnablePayments(adminID int64) error {
	err := m.UpdateSettings(models.SettingsUpdate{PaymentSystem: &models.PaymentSystemUpdate{
		Enabled:    models.Ptr(true),
		ClearAudit: true,
	}})
	if err != nil {
		return err
	}
	m.logger.Info("Payments enabled", "admin_id", adminID)
	return nil
}

// SetStaticQR stores an admin-uploaded QR and switches to it.
func (m *SettingsManager) SetStaticQR(fileID string, adminID int64) error {
	now := m.clock.Now()
	return m.UpdateSettings(models.SettingsUpdate{QR: &models.QRSettingsUpdate{
		UseDefaultQR:    models.Ptr(true),
		DefaultQRFileID: &fileID,
		UpdatedBy:       &adminID,
		UpdatedAt:       &now,
	}})
}

// UseDynamicQR switches back to per-order generated QR codes. The stored
// static QR is kept so it can be re-enabled.
func (m *SettingsManager) UseDynamicQR(adminID int64) error {
	now := m.clock.Now()
	return m.UpdateSettings(models.SettingsUpdate{QR: &models.QRSettingsUpdate{
		UseDefaultQR: models.Ptr(false),
		UpdatedBy:    &adminID,
		UpdatedAt:    &now,
	}})
}

// SetUPI changes the payee used for dynamic QR codes. Empty values are left as is.
func (m *SettingsManager) SetUPI(upiID, upiName string, adminID int64) error {
	now := m.clock.Now()
	upd := &models.QRSettingsUpdate{UpdatedBy: &adminID, UpdatedAt: &now}
	if upiID != "" {
		upd.UPIID = &upiID
	}
	if upiName != "" {
		upd.UPIName = &upiName
	}
	return m.UpdateSettings(models.SettingsUpdate{QR: upd})
}

func cloneServices(in map[string]*models.Service) map[string]*models.Service {
	out := make(map[string]*models.Service, len(in))
	for id, s := range in {
		out[id] = s.Clone()
	}
	return out
}

// shallowCopy copies the map; values are shared and must not be mutated.
func shallowCopy(in map[string]*models.Service) map[string]*models.Service {
	out := make(map[string]*models.Service, len(in))
	for id, s := range in {
		out[id] = s
	}
	return out
}
