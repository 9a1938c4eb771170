package catalog

import (
	"errors"
	"os"
	"path/filepath"
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

type flakyStorage struct {
	*repository.MemoryStorage
	failServices atomic.Bool
	failSettings atomic.Bool
}

func (f *flakyStorage) SaveServices(services map[string]*models.Service) error {
	if f.failServices.Load() {
		return errors.New("write failed")
	}
	return f.MemoryStorage.SaveServices(services)
}

func (f *flakyStorage) SaveSettings(settings *models.Settings) error {
	if f.failSettings.Load() {
		return errors.New("write failed")
	}
	return f.MemoryStorage.SaveSettings(settings)
}

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func openTest(t *testing.T, storage models.Storage, opts ...Option) *SettingsManager {
	t.Helper()
	opts = append([]Option{WithClock(clockwork.NewFakeClockAt(testNow))}, opts...)
	m, err := Open(storage, logger.NewNop(), opts...)
	require.NoError(t, err)
	return m
}

func price(t *testing.T, m *SettingsManager, id string, idx int) string {
	t.Helper()
	s, ok := m.Service(id)
	require.True(t, ok)
	p, ok := s.Plan(idx)
	require.True(t, ok)
	return p.Price.String()
}

func TestOpenSeedsDefaults(t *testing.T) {
	storage := repository.NewMemoryStorage()
	m := openTest(t, storage, WithDefaults(DefaultSettings("shop@upi", ""), nil))

	s := m.Settings()
	assert.True(t, s.PaymentSystem.Enabled)
	assert.Equal(t, "shop@upi", s.QR.UPIID)
	assert.Equal(t, "Friday Bazar", s.QR.UPIName)
	assert.Equal(t, DefaultDisabledMessage, m.DisabledMessage())

	services := m.Services()
	require.Len(t, services, 4)
	assert.Equal(t, "youtube", services[0].ID)
	assert.Equal(t, "25", price(t, m, "youtube", 0))

	assert.Equal(t, 1, storage.Saves(models.CollectionSettings))
	assert.Equal(t, 1, storage.Saves(models.CollectionServices))
}

func TestOpenKeepsSavedState(t *testing.T) {
	storage := repository.NewMemoryStorage()
	m := openTest(t, storage)
	require.NoError(t, m.SetPlanPrice("spotify", 0, decimal.NewFromInt(199)))

	reopened := openTest(t, storage)
	assert.Equal(t, "199", price(t, reopened, "spotify", 0))
}

func TestOpenQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "services.json"), []byte("{{"), 0o644))
	storage, err := repository.NewFileStorage(dir, logger.NewNop())
	require.NoError(t, err)

	m := openTest(t, storage)
	assert.Len(t, m.Services(), 4)

	matches, err := filepath.Glob(filepath.Join(dir, "services.json.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = Open(storage, logger.NewNop(), WithStrictLoad(true))
	assert.NoError(t, err, "the reseeded file is readable again")
}

func TestOpenReseedsEmptySettingsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), nil, 0o644))
	storage, err := repository.NewFileStorage(dir, logger.NewNop())
	require.NoError(t, err)

	m := openTest(t, storage, WithStrictLoad(true))
	assert.True(t, m.IsPaymentEnabled())

	saved, err := storage.LoadSettings()
	require.NoError(t, err)
	assert.True(t, saved.PaymentSystem.Enabled)
}

func TestOpenStrictLoadFails(t *testing.T) {
	storage := repository.NewMemoryStorage()
	storage.Put(models.CollectionSettings, []byte("nope"))
	_, err := Open(storage, logger.NewNop(), WithStrictLoad(true))
	assert.Error(t, err)
}

func TestPriceEditIsVisibleImmediately(t *testing.T) {
	storage := repository.NewMemoryStorage()
	m := openTest(t, storage)
	before := storage.Saves(models.CollectionServices)

	require.NoError(t, m.SetPlanPrice("spotify", 0, decimal.NewFromInt(129)))
	assert.Equal(t, "129", price(t, m, "spotify", 0))
	assert.Equal(t, before+1, storage.Saves(models.CollectionServices))

	saved, err := storage.LoadServices()
	require.NoError(t, err)
	assert.Equal(t, "129", saved["spotify"].Plans[0].Price.String())
}

func TestPlanUpdateValidation(t *testing.T) {
	m := openTest(t, repository.NewMemoryStorage())

	assert.Error(t, m.SetPlanPrice("spotify", 0, decimal.Zero))
	assert.ErrorIs(t, m.SetPlanPrice("spotify", 5, decimal.NewFromInt(10)), ErrPlanNotFound)
	assert.ErrorIs(t, m.SetPlanPrice("nope", 0, decimal.NewFromInt(10)), ErrServiceNotFound)
	assert.Equal(t, "149", price(t, m, "spotify", 0))
}

func TestPlanQR(t *testing.T) {
	m := openTest(t, repository.NewMemoryStorage())

	require.NoError(t, m.SetPlanQR("youtube", 0, "file-123"))
	s, _ := m.Service("youtube")
	require.NotNil(t, s.Plans[0].CustomQRFileID)
	assert.Equal(t, "file-123", *s.Plans[0].CustomQRFileID)

	require.NoError(t, m.ClearPlanQR("youtube", 0))
	s, _ = m.Service("youtube")
	assert.Nil(t, s.Plans[0].CustomQRFileID)
}

func TestSetServiceAvailable(t *testing.T) {
	m := openTest(t, repository.NewMemoryStorage())
	require.NoError(t, m.SetServiceAvailable("netflix", true))
	s, _ := m.Service("netflix")
	assert.True(t, s.Available)
}

func TestFailedSaveChangesNothing(t *testing.T) {
	storage := &flakyStorage{MemoryStorage: repository.NewMemoryStorage()}
	m := openTest(t, storage)

	storage.failServices.Store(true)
	assert.Error(t, m.SetPlanPrice("youtube", 0, decimal.NewFromInt(30)))
	assert.Equal(t, "25", price(t, m, "youtube", 0))

	_, err := m.BulkUpdatePrices(decimal.NewFromInt(10), true)
	assert.Error(t, err)
	assert.Equal(t, "25", price(t, m, "youtube", 0))
	assert.Nil(t, m.Settings().Pricing.LastBulkUpdate)

	storage.failSettings.Store(true)
	assert.Error(t, m.DisablePayments(1, "", ""))
	assert.True(t, m.IsPaymentEnabled())
}

func TestBulkUpdatePrices(t *testing.T) {
	storage := repository.NewMemoryStorage()
	m := openTest(t, storage)

	count, err := m.BulkUpdatePrices(decimal.NewFromInt(10), false)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "netflix has no plans")
	assert.Equal(t, "22", price(t, m, "youtube", 0))
	assert.Equal(t, "162", price(t, m, "zee5", 0))
	assert.Equal(t, "134", price(t, m, "spotify", 0))

	last := m.Settings().Pricing.LastBulkUpdate
	require.NotNil(t, last)
	assert.Equal(t, testNow, *last)

	count, err = m.BulkUpdatePrices(decimal.NewFromInt(100), false)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, "1", price(t, m, "youtube", 0), "prices never drop below 1")

	_, err = m.BulkUpdatePrices(decimal.Zero, true)
	assert.Error(t, err)
}

func TestBulkUpdateSurvivesTimestampFailure(t *testing.T) {
	storage := &flakyStorage{MemoryStorage: repository.NewMemoryStorage()}
	m := openTest(t, storage)
	var changes []Change
	m.OnChange(func(c Change) { changes = append(changes, c) })

	storage.failSettings.Store(true)
	count, err := m.BulkUpdatePrices(decimal.NewFromInt(10), true)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, "27", price(t, m, "youtube", 0))
	assert.Nil(t, m.Settings().Pricing.LastBulkUpdate)
	assert.Equal(t, []Change{ChangeServices}, changes)

	saved, err := storage.LoadServices()
	require.NoError(t, err)
	assert.Equal(t, "27", saved["youtube"].Plans[0].Price.String())
}

func TestBulkUpdateRounding(t *testing.T) {
	services := map[string]*models.Service{
		"a": {ID: "a", Name: "A", Available: true, Plans: []models.Plan{
			{Duration: "1 Month", Price: decimal.NewFromInt(100)},
			{Duration: "1 Year", Price: decimal.NewFromInt(3)},
		}},
	}
	cases := []struct {
		name     string
		percent  int64
		increase bool
		want     []string
	}{
		{"up 50", 50, true, []string{"150", "4"}},
		{"up 10", 10, true, []string{"110", "3"}},
		{"down 50", 50, false, []string{"50", "1"}},
		{"down 99", 99, false, []string{"1", "1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := openTest(t, repository.NewMemoryStorage(), WithDefaults(nil, services))
			count, err := m.BulkUpdatePrices(decimal.NewFromInt(tc.percent), tc.increase)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
			assert.Equal(t, tc.want[0], price(t, m, "a", 0))
			assert.Equal(t, tc.want[1], price(t, m, "a", 1))
		})
	}
}

func TestUpdateSettingsMergesTwoLevels(t *testing.T) {
	m := openTest(t, repository.NewMemoryStorage(), WithDefaults(DefaultSettings("shop@upi", "Shop"), nil))

	require.NoError(t, m.UpdateSettings(models.SettingsUpdate{
		QR: &models.QRSettingsUpdate{UPIName: models.Ptr("New Name")},
	}))
	s := m.Settings()
	assert.Equal(t, "New Name", s.QR.UPIName)
	assert.Equal(t, "shop@upi", s.QR.UPIID, "sibling field is untouched")
	assert.True(t, s.PaymentSystem.Enabled, "other sections are untouched")

	assert.Error(t, m.UpdateSettings(models.SettingsUpdate{
		QR: &models.QRSettingsUpdate{UPIID: models.Ptr("missing-at-sign")},
	}))
}

func TestPaymentToggle(t *testing.T) {
	m := openTest(t, repository.NewMemoryStorage())

	require.NoError(t, m.DisablePayments(7, "bank outage", "Back soon"))
	assert.False(t, m.IsPaymentEnabled())
	assert.Equal(t, "Back soon", m.DisabledMessage())
	ps := m.Settings().PaymentSystem
	require.NotNil(t, ps.DisabledBy)
	assert.Equal(t, int64(7), *ps.DisabledBy)
	assert.Equal(t, "bank outage", *ps.DisabledReason)

	require.NoError(t, m.EnablePayments(7))
	ps = m.Settings().PaymentSystem
	assert.True(t, ps.Enabled)
	assert.Nil(t, ps.DisabledBy)
	assert.Nil(t, ps.DisabledAt)
}

func TestQRMode(t *testing.T) {
	m := openTest(t, repository.NewMemoryStorage())
	assert.False(t, m.QRSettings().Static())

	require.NoError(t, m.SetStaticQR("qr-file", 7))
	assert.True(t, m.QRSettings().Static())

	require.NoError(t, m.UseDynamicQR(7))
	qr := m.QRSettings()
	assert.False(t, qr.Static())
	require.NotNil(t, qr.DefaultQRFileID)
	assert.Equal(t, "qr-file", *qr.DefaultQRFileID)

	require.NoError(t, m.SetUPI("pay@okbank", "", 7))
	assert.Equal(t, "pay@okbank", m.QRSettings().UPIID)
	assert.Equal(t, "Friday Bazar", m.QRSettings().UPIName)
}

func TestOnChangeHooks(t *testing.T) {
	m := openTest(t, repository.NewMemoryStorage())
	var changes []Change
	m.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, m.SetServiceAvailable("netflix", true))
	require.NoError(t, m.EnablePayments(1))
	assert.Equal(t, []Change{ChangeServices, ChangeSettings}, changes)

	assert.Error(t, m.SetPlanPrice("nope", 0, decimal.NewFromInt(5)))
	assert.Len(t, changes, 2, "failed mutations do not notify")
}

func TestReturnedValuesAreCopies(t *testing.T) {
	m := openTest(t, repository.NewMemoryStorage())
	s, _ := m.Service("youtube")
	s.Plans[0].Price = decimal.NewFromInt(1)
	assert.Equal(t, "25", price(t, m, "youtube", 0))

	settings := m.Settings()
	settings.PaymentSystem.Enabled = false
	assert.True(t, m.IsPaymentEnabled())
}
