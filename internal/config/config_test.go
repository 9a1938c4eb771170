package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_IDS", "11, 22,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 22}, cfg.AdminIDs)
	assert.Equal(t, 10*time.Minute, cfg.PaymentTimeout)
	assert.True(t, decimal.NewFromInt(10).Equal(cfg.ReferralCommissionPercent))
	assert.Equal(t, StorageFile, cfg.StorageBackend)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 10, cfg.RateLimitMessages)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.True(t, cfg.IsAdmin(22))
	assert.False(t, cfg.IsAdmin(33))
	assert.False(t, cfg.EmailEnabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("PAYMENT_TIMEOUT_MINUTES", "3")
	t.Setenv("REFERRAL_COMMISSION_PERCENT", "7.5")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("STRICT_LOAD", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, "7.5", cfg.ReferralCommissionPercent.String())
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.True(t, cfg.StrictLoad)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_IDS", "abc")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("ADMIN_IDS", "")
	t.Setenv("STORAGE_BACKEND", "redis")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("STORAGE_BACKEND", "file")
	t.Setenv("REFERRAL_COMMISSION_PERCENT", "150")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestWebhookNeedsSecret(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("WEBHOOK_URL", "https://bazar.example.com/webhook")

	t.Setenv("WEBHOOK_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("WEBHOOK_SECRET", "not allowed!")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("WEBHOOK_SECRET", "s3cret_token-1")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "s3cret_token-1", cfg.WebhookSecret)
}
