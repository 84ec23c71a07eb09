package token

import "time"

// Metrics is the merged market snapshot for one token address.
// Numeric fields are never negative-by-error: anything upstream omits or
// malforms comes out as 0, and optional fields stay nil.
type Metrics struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`

	Liquidity float64 `json:"liquidity_usd"`
	FDV       float64 `json:"fdv"`
	Buyers    int64   `json:"buyers"`
	Sellers   int64   `json:"sellers"`

	BuyTax        *float64 `json:"buy_tax,omitempty"`
	SellTax       *float64 `json:"sell_tax,omitempty"`
	PriceChange5m *float64 `json:"price_change_5m,omitempty"`
	Holders       *int64   `json:"holders,omitempty"`

	LogoURL   string `json:"logo_url,omitempty"`
	SocialURL string `json:"social_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AgeMinutes returns the token age at now in (fractional) minutes.
func (m Metrics) AgeMinutes(now time.Time) float64 {
	return now.Sub(m.CreatedAt).Minutes()
}

// FDVLiquidityRatio returns fdv/liquidity, or +Inf when liquidity is zero.
func (m Metrics) FDVLiquidityRatio() float64 {
	if m.Liquidity <= 0 {
		return posInf
	}
	return m.FDV / m.Liquidity
}

// Label is a short human identifier for logs.
func (m Metrics) Label() string {
	if m.Symbol != "" {
		return m.Symbol
	}
	return ShortAddress(m.Address)
}

// ShortAddress trims a base58 address to its first 8 characters.
func ShortAddress(addr string) string {
	if len(addr) > 8 {
		return addr[:8]
	}
	return addr
}
