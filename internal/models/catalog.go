package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Service is a sellable subscription product, e.g. YouTube Premium.
type Service struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description,omitempty"`
	// Available is false for "on request" services that cannot be bought directly.
	Available bool `json:"available"`
	// FreeTrial allows one zero-amount promotional order per user.
	FreeTrial bool `json:"free_trial,omitempty"`
	// Position orders services in the catalog menu.
	Position int `json:"position"`
	// Plans are identified by their index; never reorder them.
	Plans []Plan `json:"plans"`
}

type Plan struct {
	Duration string          `json:"duration"`
	Price    decimal.Decimal `json:"price"`
	// OriginalPrice is the reference price shown struck through.
	OriginalPrice  *decimal.Decimal `json:"original_price,omitempty"`
	CustomQRFileID *string          `json:"custom_qr_file_id,omitempty"`
}

func (s *Service) Clone() *Service {
	c := *s
	c.Plans = make([]Plan, len(s.Plans))
	for i, p := range s.Plans {
		p.OriginalPrice = clonePtr(p.OriginalPrice)
		p.CustomQRFileID = clonePtr(p.CustomQRFileID)
		c.Plans[i] = p
	}
	return &c
}

// Plan returns the plan at idx.
func (s *Service) Plan(idx int) (Plan, bool) {
	if idx < 0 || idx >= len(s.Plans) {
		return Plan{}, false
	}
	return s.Plans[idx], true
}

// SortServices orders services by Position, then ID.
func SortServices(services []*Service) {
	sort.Slice(services, func(i, j int) bool {
		if services[i].Position != services[j].Position {
			return services[i].Position < services[j].Position
		}
		return services[i].ID < services[j].ID
	})
}

// ServiceUpdate is a partial update of service-level fields.
type ServiceUpdate struct {
	Name        *string `validate:"omitempty,min=1,max=128"`
	Emoji       *string `validate:"omitempty,max=16"`
	Description *string `validate:"omitempty,max=1024"`
	Available   *bool
	FreeTrial   *bool
	Position    *int `validate:"omitempty,gte=0"`
}

func (upd ServiceUpdate) Apply(s *Service) {
	if upd.Name != nil {
		s.Name = *upd.Name
	}
	if upd.Emoji != nil {
		s.Emoji = *upd.Emoji
	}
	if upd.Description != nil {
		s.Description = *upd.Description
	}
	if upd.Available != nil {
		s.Available = *upd.Available
	}
	if upd.FreeTrial != nil {
		s.FreeTrial = *upd.FreeTrial
	}
	if upd.Position != nil {
		s.Position = *upd.Position
	}
}

// PlanUpdate edits one plan. Duration is the plan label, not its identity.
type PlanUpdate struct {
	Duration       *string          `validate:"omitempty,min=1,max=64"`
	Price          *decimal.Decimal `validate:"omitempty,gte=1"`
	OriginalPrice  *decimal.Decimal `validate:"omitempty,gte=0"`
	CustomQRFileID *string          `validate:"omitempty,min=1,max=256"`
	ClearCustomQR  bool
}

func (upd PlanUpdate) Apply(p *Plan) {
	if upd.Duration != nil {
		p.Duration = *upd.Duration
	}
	if upd.Price != nil {
		p.Price = *upd.Price
	}
	if upd.OriginalPrice != nil {
		p.OriginalPrice = clonePtr(upd.OriginalPrice)
	}
	if upd.CustomQRFileID != nil {
		p.CustomQRFileID = clonePtr(upd.CustomQRFileID)
	}
	if upd.ClearCustomQR {
		p.CustomQRFileID = nil
	}
}

// Settings is the global configuration singleton.
type Settings struct {
	QR            QRSettings           `json:"qr_settings"`
	PaymentSystem PaymentSystem        `json:"payment_system"`
	Pricing       PricingSettings      `json:"pricing"`
	Notifications NotificationSettings `json:"notifications"`
}

// QRSettings selects between one static admin-uploaded QR and a per-order
// QR generated from the UPI ID and payee name.
type QRSettings struct {
	UseDefaultQR    bool       `json:"use_default_qr"`
	DefaultQRFileID *string    `json:"default_qr_file_id"`
	UPIID           string     `json:"upi_id"`
	UPIName         string     `json:"upi_name"`
	UpdatedBy       *int64     `json:"updated_by"`
	UpdatedAt       *time.Time `json:"updated_at"`
}

// Static reports whether the static QR is in use.
func (q QRSettings) Static() bool {
	return q.UseDefaultQR && q.DefaultQRFileID != nil && *q.DefaultQRFileID != ""
}

type PaymentSystem struct {
	Enabled         bool       `json:"enabled"`
	DisabledMessage string     `json:"disabled_message"`
	DisabledAt      *time.Time `json:"disabled_at"`
	DisabledBy      *int64     `json:"disabled_by"`
	DisabledReason  *string    `json:"disabled_reason"`
}

type PricingSettings struct {
	AllowDynamicPricing bool       `json:"allow_dynamic_pricing"`
	LastBulkUpdate      *time.Time `json:"last_bulk_update"`
	PriceHistoryEnabled bool       `json:"price_history_enabled"`
}

type NotificationSettings struct {
	NotifyOnPriceChange  bool `json:"notify_on_price_change"`
	NotifyOnSystemToggle bool `json:"notify_on_system_toggle"`
}

func (s *Settings) Clone() *Settings {
	c := *s
	c.QR.DefaultQRFileID = clonePtr(s.QR.DefaultQRFileID)
	c.QR.UpdatedBy = clonePtr(s.QR.UpdatedBy)
	c.QR.UpdatedAt = clonePtr(s.QR.UpdatedAt)
	c.PaymentSystem.DisabledAt = clonePtr(s.PaymentSystem.DisabledAt)
	c.PaymentSystem.DisabledBy = clonePtr(s.PaymentSystem.DisabledBy)
	c.PaymentSystem.DisabledReason = clonePtr(s.PaymentSystem.DisabledReason)
	c.Pricing.LastBulkUpdate = clonePtr(s.Pricing.LastBulkUpdate)
	return &c
}

// SettingsUpdate merges at the top level and one level down: a nil section is
// untouched and, inside a section, nil fields keep their current value.
type SettingsUpdate struct {
	QR            *QRSettingsUpdate    `validate:"omitempty"`
	PaymentSystem *PaymentSystemUpdate `validate:"omitempty"`
	Pricing       *PricingUpdate       `validate:"omitempty"`
	Notifications *NotificationsUpdate `validate:"omitempty"`
}

type QRSettingsUpdate struct {
	UseDefaultQR    *bool
	DefaultQRFileID *string `validate:"omitempty,min=1,max=256"`
	ClearDefaultQR  bool
	UPIID           *string `validate:"omitempty,min=3,max=64,contains=@"`
	UPIName         *string `validate:"omitempty,min=1,max=64"`
	UpdatedBy       *int64
	UpdatedAt       *time.Time
}

type PaymentSystemUpdate struct {
	Enabled         *bool
	DisabledMessage *string `validate:"omitempty,min=1,max=1024"`
	DisabledAt      *time.Time
	DisabledBy      *int64
	DisabledReason  *string `validate:"omitempty,max=512"`
	// ClearAudit resets DisabledAt/By/Reason, used when re-enabling.
	ClearAudit bool
}

type PricingUpdate struct {
	AllowDynamicPricing *bool
	LastBulkUpdate      *time.Time
	PriceHistoryEnabled *bool
}

type NotificationsUpdate struct {
	NotifyOnPriceChange  *bool
	NotifyOnSystemToggle *bool
}

// Apply merges upd into s following the two-level merge rule.
func (upd SettingsUpdate) Apply(s *Settings) {
	if q := upd.QR; q != nil {
		if q.UseDefaultQR != nil {
			s.QR.UseDefaultQR = *q.UseDefaultQR
		}
		if q.DefaultQRFileID != nil {
			s.QR.DefaultQRFileID = clonePtr(q.DefaultQRFileID)
		}
		if q.ClearDefaultQR {
			s.QR.DefaultQRFileID = nil
		}
		if q.UPIID != nil {
			s.QR.UPIID = *q.UPIID
		}
		if q.UPIName != nil {
			s.QR.UPIName = *q.UPIName
		}
		if q.UpdatedBy != nil {
			s.QR.UpdatedBy = clonePtr(q.UpdatedBy)
		}
		if q.UpdatedAt != nil {
			s.QR.UpdatedAt = clonePtr(q.UpdatedAt)
		}
	}
	if p := upd.PaymentSystem; p != nil {
		if p.ClearAudit {
			s.PaymentSystem.DisabledAt = nil
			s.PaymentSystem.DisabledBy = nil
			s.PaymentSystem.DisabledReason = nil
		}
		if p.Enabled != nil {
			s.PaymentSystem.Enabled = *p.Enabled
		}
		if p.DisabledMessage != nil {
			s.PaymentSystem.DisabledMessage = *p.DisabledMessage
		}
		if p.DisabledAt != nil {
			s.PaymentSystem.DisabledAt = clonePtr(p.DisabledAt)
		}
		if p.DisabledBy != nil {
			s.PaymentSystem.DisabledBy = clonePtr(p.DisabledBy)
		}
		if p.DisabledReason != nil {
			s.PaymentSystem.DisabledReason = clonePtr(p.DisabledReason)
		}
	}
	if p := upd.Pricing; p != nil {
		if p.AllowDynamicPricing != nil {
			s.Pricing.AllowDynamicPricing = *p.AllowDynamicPricing
		}
		if p.LastBulkUpdate != nil {
			s.Pricing.LastBulkUpdate = clonePtr(p.LastBulkUpdate)
		}
		if p.PriceHistoryEnabled != nil {
			s.Pricing.PriceHistoryEnabled = *p.PriceHistoryEnabled
		}
	}
	if n := upd.Notifications; n != nil {
		if n.NotifyOnPriceChange != nil {
			s.Notifications.NotifyOnPriceChange = *n.NotifyOnPriceChange
		}
		if n.NotifyOnSystemToggle != nil {
			s.Notifications.NotifyOnSystemToggle = *n.NotifyOnSystemToggle
		}
	}
}
