package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalesce_PriorityOrder(t *testing.T) {
	r := Records{Overview: map[string]any{
		"fdv":        1000.0,
		"market_cap": 2000.0,
		"marketCap":  3000.0,
	}}

	v, ok := Coalesce(r, Aliases[AttrFDV])
	require.True(t, ok)
	assert.Equal(t, 1000.0, v)

	delete(r.Overview, "fdv")
	v, _ = Coalesce(r, Aliases[AttrFDV])
	assert.Equal(t, 2000.0, v)
}

func TestCoalesce_SkipsNilAndBlank(t *testing.T) {
	r := Records{Overview: map[string]any{
		"liquidity":     nil,
		"liquidity_usd": "5000",
		"name":          "  ",
		"token_name":    "Fallback",
	}}

	v, ok := Coalesce(r, Aliases[AttrLiquidity])
	require.True(t, ok)
	assert.Equal(t, "5000", v)

	v, _ = Coalesce(r, Aliases[AttrName])
	assert.Equal(t, "Fallback", v)
}

func TestCoalesce_ZeroIsPresent(t *testing.T) {
	r := Records{Overview: map[string]any{"buyers": 0.0, "buyersCount": 50.0}}
	v, ok := Coalesce(r, Aliases[AttrBuyers])
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestCoalesce_NestedAndStringOnly(t *testing.T) {
	r := Records{
		Overview: map[string]any{"twitter": "https://x.com/ov"},
		Metadata: map[string]any{
			"links": map[string]any{"twitter_url": "https://x.com/meta"},
			"image": map[string]any{"small": "https://img/small.png"},
		},
	}

	v, _ := Coalesce(r, Aliases[AttrSocial])
	assert.Equal(t, "https://x.com/meta", v)

	_, ok := Coalesce(r, Aliases[AttrLogo])
	assert.False(t, ok, "non-string image must be ignored")

	_, ok = Coalesce(Records{}, Aliases[AttrSymbol])
	assert.False(t, ok)
}

func TestBuild(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	overview := map[string]any{
		"symbol":        "GEM",
		"liquidity_usd": "250,000",
		"marketCap":     900000.0,
		"buyersCount":   400.0,
		"sellers":       "120",
		"priceChange5m": -3.5,
		"buyTax":        "2",
		"createdAt":     float64(now.Add(-30 * time.Minute).UnixMilli()),
		"logoURI":       "https://img/gem.png",
	}
	metadata := map[string]any{
		"name":    "Gem Token",
		"holders": 812.0,
		"links":   map[string]any{"twitter": "https://x.com/gem"},
	}

	m := Build("GemMint1111", overview, metadata, now)

	assert.Equal(t, "GemMint1111", m.Address)
	assert.Equal(t, "Gem Token", m.Name)
	assert.Equal(t, "GEM", m.Symbol)
	assert.Equal(t, 250000.0, m.Liquidity)
	assert.Equal(t, 900000.0, m.FDV)
	assert.Equal(t, int64(400), m.Buyers)
	assert.Equal(t, int64(120), m.Sellers)
	require.NotNil(t, m.PriceChange5m)
	assert.Equal(t, -3.5, *m.PriceChange5m)
	require.NotNil(t, m.BuyTax)
	assert.Equal(t, 2.0, *m.BuyTax)
	assert.Nil(t, m.SellTax)
	require.NotNil(t, m.Holders)
	assert.Equal(t, int64(812), *m.Holders)
	assert.Equal(t, "https://img/gem.png", m.LogoURL)
	assert.Equal(t, "https://x.com/gem", m.SocialURL)
	assert.InDelta(t, 30.0, m.AgeMinutes(now), 0.01)
}

func TestBuild_EmptyRecords(t *testing.T) {
	now := time.Now().UTC()
	m := Build("addr", map[string]any{}, nil, now)

	assert.Equal(t, "Unknown", m.Name)
	assert.Zero(t, m.Liquidity)
	assert.Zero(t, m.FDV)
	assert.Zero(t, m.Buyers)
	assert.Nil(t, m.BuyTax)
	assert.Nil(t, m.PriceChange5m)
	assert.Nil(t, m.Holders)
	assert.Empty(t, m.LogoURL)
	assert.Equal(t, now, m.CreatedAt)
}

func TestBuild_NegativeLiquidityClamped(t *testing.T) {
	m := Build("addr", map[string]any{"liquidity": -10.0}, nil, time.Now())
	assert.Zero(t, m.Liquidity)
}
