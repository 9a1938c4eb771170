package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/pkg/logger"
)

const saveBatchSize = 200

// Document stores a singleton collection (settings, service catalog) as one JSON row.
type Document struct {
	Name      string `gorm:"column:name;primaryKey;size:64"`
	Body      string `gorm:"column:body;type:text;not null"`
	UpdatedAt int64  `gorm:"column:updated_at;not null"`
}

func (Document) TableName() string {
	return "documents"
}

// PostgresDB implements models.Storage on top of GORM. Users and orders get
// their own tables and are upserted row by row; they are never deleted.
type PostgresDB struct {
	logger *logger.Logger

	Conn *gorm.DB
}

func NewPostgresDB(user, password, dbname, host string, port int, logger *logger.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Order{}, &Document{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	logger.Info("Successfully connected to PostgreSQL", "host", host, "db", dbname)
	return &PostgresDB{Conn: db, logger: logger}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}

func (db *PostgresDB) LoadUsers() (map[int64]*models.User, error) {
	var rows []*models.User
	if err := db.Conn.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	users := make(map[int64]*models.User, len(rows))
	for _, u := range rows {
		users[u.ID] = u
	}
	return users, nil
}

func (db *PostgresDB) SaveUsers(users map[int64]*models.User) error {
	if len(users) == 0 {
		return nil
	}
	rows := make([]*models.User, 0, len(users))
	for _, u := range users {
		rows = append(rows, u)
	}
	err := db.Conn.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, saveBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to save users: %w", err)
	}
	return nil
}

func (db *PostgresDB) LoadOrders() ([]*models.Order, error) {
	var orders []*models.Order
	if err := db.Conn.Order("created_at, id").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	return orders, nil
}

func (db *PostgresDB) SaveOrders(orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	err := db.Conn.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(orders, saveBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to save orders: %w", err)
	}
	return nil
}

func (db *PostgresDB) LoadSettings() (*models.Settings, error) {
	var settings models.Settings
	if err := db.loadDocument(models.CollectionSettings, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (db *PostgresDB) SaveSettings(settings *models.Settings) error {
	return db.saveDocument(models.CollectionSettings, settings)
}

func (db *PostgresDB) LoadServices() (map[string]*models.Service, error) {
	services := map[string]*models.Service{}
	if err := db.loadDocument(models.CollectionServices, &services); err != nil {
		return nil, err
	}
	return services, nil
}

func (db *PostgresDB) SaveServices(services map[string]*models.Service) error {
	return db.saveDocument(models.CollectionServices, services)
}

func (db *PostgresDB) loadDocument(name string, dst interface{}) error {
	var doc Document
	if err := db.Conn.Where("name = ?", name).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrNotExist
		}
		return fmt.Errorf("failed to load %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(doc.Body), dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

func (db *PostgresDB) saveDocument(name string, src interface{}) error {
	body, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	doc := Document{Name: name, Body: string(body), UpdatedAt: time.Now().Unix()}
	err = db.Conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}
