package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Development bool
	// Bot configuration
	BotToken        string
	BotUsername     string
	SupportUsername string
	AdminIDs        []int64
	WebhookURL      string
	// WebhookSecret is echoed by Telegram in every webhook request.
	WebhookSecret string

	// Payment configuration
	UPIID                     string
	UPIName                   string
	PaymentTimeout            time.Duration
	ReferralCommissionPercent decimal.Decimal

	// Storage configuration
	StorageBackend string
	DataDir        string
	FlushInterval  time.Duration
	StrictLoad     bool
	// Postgres configuration
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string

	// API configuration
	APIPort     int
	AdminAPIKey string

	// SMTP configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSender   string
	AdminEmail   string

	// Anti-spam configuration
	RateLimitMessages int
	RateLimitWindow   time.Duration
}

// IsAdmin reports whether the Telegram user is a configured admin.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// EmailEnabled reports whether admin email copies can be sent.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != "" && c.AdminEmail != ""
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	adminIDs, err := parseIDList(getEnv("ADMIN_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}

	cfg := &Config{
		Development:     getEnvAsBool("DEVELOPMENT", false),
		BotToken:        getEnv("BOT_TOKEN", ""),
		BotUsername:     getEnv("BOT_USERNAME", "FridayBazarBot"),
		SupportUsername: getEnv("SUPPORT_USERNAME", "FridayBazarSupport"),
		AdminIDs:        adminIDs,
		WebhookURL:      getEnv("WEBHOOK_URL", ""),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),

		UPIID:                     getEnv("UPI_ID", ""),
		UPIName:                   getEnv("UPI_NAME", "Friday Bazar"),
		PaymentTimeout:            time.Duration(getEnvAsInt("PAYMENT_TIMEOUT_MINUTES", 10)) * time.Minute,
		ReferralCommissionPercent: getEnvAsDecimal("REFERRAL_COMMISSION_PERCENT", decimal.NewFromInt(10)),

		StorageBackend:   getEnv("STORAGE_BACKEND", StorageFile),
		DataDir:          getEnv("DATA_DIR", "data"),
		FlushInterval:    time.Duration(getEnvAsInt("FLUSH_INTERVAL_SECONDS", 5)) * time.Second,
		StrictLoad:       getEnvAsBool("STRICT_LOAD", false),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:       getEnv("POSTGRES_DB", "bazar"),

		APIPort:     getEnvAsInt("API_PORT", 8080),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPSender:   getEnv("SMTP_SENDER", ""),
		AdminEmail:   getEnv("ADMIN_EMAIL", ""),

		RateLimitMessages: getEnvAsInt("RATE_LIMIT_MESSAGES", 10),
		RateLimitWindow:   time.Duration(getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if c.BotToken == "" || c.BotToken == "your_bot_token_here" {
		return fmt.Errorf("BOT_TOKEN is required")
	}

	if c.WebhookURL != "" && !webhookSecretPattern.MatchString(c.WebhookSecret) {
		return fmt.Errorf("WEBHOOK_SECRET of 1-256 characters A-Z, a-z, 0-9, _ and - is required with WEBHOOK_URL")
	}

	if c.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT_MINUTES must be positive")
	}

	if c.ReferralCommissionPercent.IsNegative() || c.ReferralCommissionPercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("REFERRAL_COMMISSION_PERCENT must be between 0 and 100")
	}

	if c.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL_SECONDS must be positive")
	}

	switch c.StorageBackend {
	case StorageFile:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required")
		}
	case StoragePostgres:
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required")
		}
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.RateLimitMessages <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MESSAGES and RATE_LIMIT_WINDOW_SECONDS must be positive")
	}

	return nil
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a user id", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDecimal(name string, defaultValue decimal.Decimal) decimal.Decimal {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := decimal.NewFromString(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
