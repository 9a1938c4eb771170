package qrcode

import (
	"errors"
	"fmt"
	"net/url"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultCacheSize = 100
	imageSize        = 256
)

var ErrMissingPayee = errors.New("upi id is not configured")

// Payment is what a UPI app needs to prefill a transfer.
type Payment struct {
	PayeeID   string
	PayeeName string
	Amount    decimal.Decimal
	// Note is shown to the payer. It names the plan, not the order, so every
	// order of a plan at one price shares a QR.
	Note string
}

// URI renders p as a upi://pay deep link.
func (p Payment) URI() (string, error) {
	if p.PayeeID == "" {
		return "", ErrMissingPayee
	}
	q := url.Values{}
	q.Set("pa", p.PayeeID)
	q.Set("pn", p.PayeeName)
	q.Set("am", p.Amount.StringFixed(2))
	q.Set("tn", p.Note)
	q.Set("cu", "INR")
	return "upi://pay?" + q.Encode(), nil
}

// Generator renders UPI payment QR codes as PNG. Images are cached by URI,
// which is fixed per payee, amount and plan.
type Generator struct {
	cache *lru.Cache
}

func NewGenerator(cacheSize int) (*Generator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create qr cache: %w", err)
	}
	return &Generator{cache: cache}, nil
}

// PNG returns the QR image for p.
func (g *Generator) PNG(p Payment) ([]byte, error) {
	uri, err := p.URI()
	if err != nil {
		return nil, err
	}
	if cached, ok := g.cache.Get(uri); ok {
		return cached.([]byte), nil
	}

	png, err := qrcode.Encode(uri, qrcode.Medium, imageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr: %w", err)
	}
	g.cache.Add(uri, png)
	return png, nil
}

// Cached returns the number of cached images.
func (g *Generator) Cached() int {
	return g.cache.Len()
}
