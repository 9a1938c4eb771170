package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/fridaybazar/bazar/internal/models"
)

const DefaultDisabledMessage = "⚠️ Payment system is temporarily under maintenance. Please try again later or contact support."

// DefaultSettings is written when no settings have ever been saved.
func DefaultSettings(upiID, upiName string) *models.Settings {
	if upiName == "" {
		upiName = "Friday Bazar"
	}
	return &models.Settings{
		QR: models.QRSettings{
			UPIID:   upiID,
			UPIName: upiName,
		},
		PaymentSystem: models.PaymentSystem{
			Enabled:         true,
			DisabledMessage: DefaultDisabledMessage,
		},
		Pricing: models.PricingSettings{
			AllowDynamicPricing: true,
			PriceHistoryEnabled: true,
		},
		Notifications: models.NotificationSettings{
			NotifyOnPriceChange:  true,
			NotifyOnSystemToggle: true,
		},
	}
}

// DefaultServices is the catalog written when none has ever been saved.
func DefaultServices() map[string]*models.Service {
	services := []*models.Service{
		{
			ID:          "youtube",
			Name:        "YouTube Premium",
			Emoji:       "▶️",
			Description: "Ad-free videos, background playback and YouTube Music.",
			Available:   true,
			FreeTrial:   true,
			Position:    1,
			Plans: []models.Plan{
				plan("1 Month", 25, 129),
			},
		},
		{
			ID:          "zee5",
			Name:        "Zee5 Premium",
			Emoji:       "📺",
			Description: "Full HD streaming on up to 5 screens.",
			Available:   true,
			Position:    2,
			Plans: []models.Plan{
				plan("1 Year", 180, 299),
			},
		},
		{
			ID:          "spotify",
			Name:        "Spotify Premium",
			Emoji:       "🎵",
			Description: "Ad-free music with unlimited skips.",
			Available:   true,
			Position:    3,
			Plans: []models.Plan{
				plan("1 Year", 149, 1189),
			},
		},
		{
			ID:          "netflix",
			Name:        "Netflix",
			Emoji:       "🎬",
			Description: "Available on request. Contact support.",
			Available:   false,
			Position:    4,
			Plans:       []models.Plan{},
		},
	}

	out := make(map[string]*models.Service, len(services))
	for _, s := range services {
		out[s.ID] = s
	}
	return out
}

func plan(duration string, price, original int64) models.Plan {
	op := decimal.NewFromInt(original)
	return models.Plan{
		Duration:      duration,
		Price:         decimal.NewFromInt(price),
		OriginalPrice: &op,
	}
}
