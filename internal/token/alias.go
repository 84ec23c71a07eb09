package token

import (
	"math"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Alias coalescing: one ordered table of upstream key names per attribute
// ---------------------------------------------------------------------------

// Source names which upstream record an alias is read from.
type Source int

const (
	Overview Source = iota
	Metadata
)

func (s Source) String() string {
	if s == Metadata {
		return "metadata"
	}
	return "overview"
}

// Alias is one candidate location for an attribute. Path segments walk
// nested objects ("links.twitter").
type Alias struct {
	Source Source
	Path   string
	// StringOnly skips values that are not strings (e.g. an image object).
	StringOnly bool
}

// Attribute identifies a Metrics field fed by the alias table.
type Attribute string

const (
	AttrName          Attribute = "name"
	AttrSymbol        Attribute = "symbol"
	AttrLiquidity     Attribute = "liquidity"
	AttrFDV           Attribute = "fdv"
	AttrBuyers        Attribute = "buyers"
	AttrSellers       Attribute = "sellers"
	AttrPriceChange5m Attribute = "price_change_5m"
	AttrHolders       Attribute = "holders"
	AttrBuyTax        Attribute = "buy_tax"
	AttrSellTax       Attribute = "sell_tax"
	AttrLogo          Attribute = "logo"
	AttrSocial        Attribute = "social"
	AttrCreated       Attribute = "created"
)

func ov(path string) Alias   { return Alias{Source: Overview, Path: path} }
func meta(path string) Alias { return Alias{Source: Metadata, Path: path} }

// Aliases lists, per attribute, where to look in priority order. The first
// present value wins.
var Aliases = map[Attribute][]Alias{
	AttrName:          {ov("name"), ov("token_name"), meta("name")},
	AttrSymbol:        {ov("symbol"), meta("symbol")},
	AttrLiquidity:     {ov("liquidity"), ov("liquidity_usd")},
	AttrFDV:           {ov("fdv"), ov("market_cap"), ov("marketCap"), ov("fullyDilutedValuation")},
	AttrBuyers:        {ov("buyers"), ov("buyersCount")},
	AttrSellers:       {ov("sellers"), ov("sellersCount")},
	AttrPriceChange5m: {ov("price_change_5m"), ov("priceChange5m")},
	AttrHolders:       {ov("holders"), meta("holders"), ov("holder")},
	AttrBuyTax:        {ov("buy_tax"), ov("buyTax"), ov("buyFee")},
	AttrSellTax:       {ov("sell_tax"), ov("sellTax"), ov("sellFee")},
	AttrLogo: {
		meta("logo"), ov("logo"), ov("logoURI"),
		{Source: Metadata, Path: "image", StringOnly: true},
		meta("logo_uri"),
	},
	AttrSocial: {
		meta("links.twitter"), meta("links.twitter_url"),
		ov("links.twitter"), ov("links.twitter_url"),
		ov("twitter"),
		meta("extensions.twitter"), ov("extensions.twitter"),
	},
	AttrCreated: {ov("created_at"), ov("createdAt"), ov("time"), ov("timestamp"), meta("createdAt")},
}

// Records holds the raw upstream objects for one address.
type Records struct {
	Overview map[string]any
	Metadata map[string]any
}

func (r Records) lookup(a Alias) any {
	obj := r.Overview
	if a.Source == Metadata {
		obj = r.Metadata
	}
	var cur any = obj
	for _, key := range strings.Split(a.Path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// Coalesce returns the first present value among aliases, in order. A value
// is present when it is non-nil and not a blank string; zero counts.
func Coalesce(r Records, aliases []Alias) (any, bool) {
	for _, a := range aliases {
		v := r.lookup(a)
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if strings.TrimSpace(s) == "" {
				continue
			}
		} else if a.StringOnly {
			continue
		}
		return v, true
	}
	return nil, false
}

func (r Records) get(attr Attribute) any {
	v, _ := Coalesce(r, Aliases[attr])
	return v
}

// Build merges the overview and metadata records into Metrics. It never
// fails; missing attributes fall back to zero values.
func Build(address string, overview, metadata map[string]any, now time.Time) Metrics {
	r := Records{Overview: overview, Metadata: metadata}

	name := ToString(r.get(AttrName))
	if name == "" {
		name = "Unknown"
	}

	return Metrics{
		Address:       address,
		Name:          name,
		Symbol:        ToString(r.get(AttrSymbol)),
		Liquidity:     math.Max(ToFloat(r.get(AttrLiquidity), 0), 0),
		FDV:           ToFloat(r.get(AttrFDV), 0),
		Buyers:        ToInt(r.get(AttrBuyers)),
		Sellers:       ToInt(r.get(AttrSellers)),
		BuyTax:        OptionalFloat(r.get(AttrBuyTax)),
		SellTax:       OptionalFloat(r.get(AttrSellTax)),
		PriceChange5m: OptionalFloat(r.get(AttrPriceChange5m)),
		Holders:       OptionalInt(r.get(AttrHolders)),
		LogoURL:       ToString(r.get(AttrLogo)),
		SocialURL:     ToString(r.get(AttrSocial)),
		CreatedAt:     ParseTimestamp(r.get(AttrCreated), now),
	}
}
