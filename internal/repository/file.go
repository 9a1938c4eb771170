package repository

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/pkg/logger"
)

// FileStorage keeps every collection in its own JSON file under dir.
// Writes go to a temp file that is renamed over the target, so a crash
// mid-write leaves the previous version intact.
type FileStorage struct {
	logger *logger.Logger
	dir    string

	// mu serializes writers of the same directory.
	mu sync.Mutex
}

func NewFileStorage(dir string, logger *logger.Logger) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	return &FileStorage{dir: dir, logger: logger}, nil
}

func (f *FileStorage) path(collection string) string {
	return filepath.Join(f.dir, collection+".json")
}

func (f *FileStorage) LoadUsers() (map[int64]*models.User, error) {
	users := map[int64]*models.User{}
	if err := f.read(models.CollectionUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (f *FileStorage) SaveUsers(users map[int64]*models.User) error {
	return f.write(models.CollectionUsers, users)
}

func (f *FileStorage) LoadOrders() ([]*models.Order, error) {
	orders := []*models.Order{}
	if err := f.read(models.CollectionOrders, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (f *FileStorage) SaveOrders(orders []*models.Order) error {
	return f.write(models.CollectionOrders, orders)
}

func (f *FileStorage) LoadSettings() (*models.Settings, error) {
	var settings models.Settings
	if err := f.read(models.CollectionSettings, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (f *FileStorage) SaveSettings(settings *models.Settings) error {
	return f.write(models.CollectionSettings, settings)
}

func (f *FileStorage) LoadServices() (map[string]*models.Service, error) {
	services := map[string]*models.Service{}
	if err := f.read(models.CollectionServices, &services); err != nil {
		return nil, err
	}
	return services, nil
}

func (f *FileStorage) SaveServices(services map[string]*models.Service) error {
	return f.write(models.CollectionServices, services)
}

// Quarantine renames an unreadable collection file to
// <name>.json.corrupt-<unix> and returns the new path.
func (f *FileStorage) Quarantine(collection string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	src := f.path(collection)
	dst := fmt.Sprintf("%s.corrupt-%d", src, time.Now().Unix())
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to quarantine %s: %w", src, err)
	}
	f.logger.Warn("Quarantined unreadable collection", "collection", collection, "path", dst)
	return dst, nil
}

func (f *FileStorage) Close() error {
	return nil
}

func (f *FileStorage) read(collection string, dst interface{}) error {
	data, err := os.ReadFile(f.path(collection))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.ErrNotExist
		}
		return fmt.Errorf("failed to read %s: %w", collection, err)
	}
	// An empty file is what a crash between create and first write leaves
	// behind. It holds nothing, so it loads as never written and gets seeded.
	if len(bytes.TrimSpace(data)) == 0 {
		return models.ErrNotExist
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", collection, err)
	}
	return nil
}

func (f *FileStorage) write(collection string, src interface{}) error {
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", collection, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, collection+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", collection, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", collection, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", collection, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", collection, err)
	}
	if err := os.Rename(tmpName, f.path(collection)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", collection, err)
	}
	return nil
}
