package qrcode

import (
	"bytes"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURI(t *testing.T) {
	uri, err := Payment{
		PayeeID:   "shop@okbank",
		PayeeName: "Friday Bazar",
		Amount:    decimal.NewFromInt(149),
		Note:      "Spotify Premium 1 Year",
	}.URI()
	require.NoError(t, err)

	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "upi", u.Scheme)
	assert.Equal(t, "pay", u.Host)
	q := u.Query()
	assert.Equal(t, "shop@okbank", q.Get("pa"))
	assert.Equal(t, "Friday Bazar", q.Get("pn"))
	assert.Equal(t, "149.00", q.Get("am"))
	assert.Equal(t, "Spotify Premium 1 Year", q.Get("tn"))
	assert.Equal(t, "INR", q.Get("cu"))
}

func TestURIRequiresPayee(t *testing.T) {
	_, err := Payment{Amount: decimal.NewFromInt(1)}.URI()
	assert.ErrorIs(t, err, ErrMissingPayee)
}

func TestPNGIsCached(t *testing.T) {
	g, err := NewGenerator(2)
	require.NoError(t, err)

	p := Payment{PayeeID: "shop@okbank", PayeeName: "Shop", Amount: decimal.NewFromInt(25), Note: "YouTube Premium 1 Month"}
	first, err := g.PNG(p)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(first, []byte("\x89PNG")))

	second, err := g.PNG(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, g.Cached())

	for _, amount := range []int64{129, 149} {
		p.Amount = decimal.NewFromInt(amount)
		_, err := g.PNG(p)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, g.Cached(), "cache is bounded")
}
