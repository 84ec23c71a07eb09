package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/gemwatch/internal/token"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Filter engine: ordered, short-circuiting checks over merged token metrics.
// No I/O; the only outside input is the per-address alert history.
// ---------------------------------------------------------------------------

// Check names. Stable; used as log fields and metric labels.
const (
	CheckCooldown  = "cooldown"
	CheckSanity    = "sanity"
	CheckBlacklist = "blacklist"
	CheckGreylist  = "greylist"
	CheckLiquidity = "liquidity"
	CheckFDV       = "fdv"
	CheckBuyers    = "buyers"
	CheckSellers   = "sellers"
	CheckAge       = "age"
	CheckRatio     = "ratio"
	CheckDrop5m    = "drop_5m"
	CheckBuyTax    = "buy_tax"
	CheckSellTax   = "sell_tax"
	CheckLogo      = "logo"
	CheckSocial    = "social"
)

// Checks lists every check name in evaluation order.
var Checks = []string{
	CheckCooldown, CheckSanity, CheckBlacklist, CheckGreylist,
	CheckLiquidity, CheckFDV, CheckBuyers, CheckSellers,
	CheckAge, CheckRatio, CheckDrop5m, CheckBuyTax, CheckSellTax,
	CheckLogo, CheckSocial,
}

// Config holds every threshold and toggle the engine applies.
type Config struct {
	MinLiquidity       float64 `yaml:"min_liquidity"`
	MinFDV             float64 `yaml:"min_fdv"`
	MinBuyers          int64   `yaml:"min_buyers"`
	MinSellers         int64   `yaml:"min_sellers"`
	MinTokenAgeMinutes float64 `yaml:"min_token_age_minutes"`
	MaxFDVLiqRatio     float64 `yaml:"max_fdv_liq_ratio"`
	MaxDrop5m          float64 `yaml:"max_price_drop_5m"`
	MaxTax             float64 `yaml:"max_tax"`
	RequireLogo        bool    `yaml:"require_logo"`
	RequireSocial      bool    `yaml:"require_social"`

	Blacklist []string `yaml:"blacklist"`
	Greylist  []string `yaml:"greylist"`

	// Elevated minimums for greylisted names.
	MinLiquidityGrey float64 `yaml:"min_liquidity_grey"`
	MinFDVGrey       float64 `yaml:"min_fdv_grey"`
	MinBuyersGrey    int64   `yaml:"min_buyers_grey"`

	AlertCooldown time.Duration `yaml:"-"`

	// Log every rejection at info instead of debug.
	LogReasons bool `yaml:"log_reasons"`
}

// DefaultConfig returns permissive base thresholds with the stock greylist.
func DefaultConfig() Config {
	return Config{
		MaxFDVLiqRatio:   9999,
		MaxDrop5m:        101,
		MaxTax:           100,
		Greylist:         []string{"ai", "chatgpt", "openai", "meta"},
		MinLiquidityGrey: 150000,
		MinFDVGrey:       800000,
		MinBuyersGrey:    300,
		AlertCooldown:    90 * time.Second,
	}
}

// AlertHistory exposes when an address was last alerted.
type AlertHistory interface {
	LastAlert(address string) (time.Time, bool)
}

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Check    string `json:"check,omitempty"`  // which check rejected
	Reason   string `json:"reason,omitempty"` // human-readable detail
}

func accept() Verdict { return Verdict{Accepted: true} }

func reject(check, format string, args ...any) Verdict {
	return Verdict{Check: check, Reason: fmt.Sprintf(format, args...)}
}

// Engine evaluates token metrics against a fixed Config.
type Engine struct {
	config    Config
	blacklist *regexp.Regexp // nil when the list is empty
	greylist  *regexp.Regexp

	// Stats.
	totalChecked  atomic.Int64
	totalAccepted atomic.Int64
	totalRejected atomic.Int64
	checkCounts   sync.Map // check name -> *atomic.Int64
}

// NewEngine creates an engine and compiles the word lists.
func NewEngine(config Config) *Engine {
	return &Engine{
		config:    config,
		blacklist: compileWords(config.Blacklist),
		greylist:  compileWords(config.Greylist),
	}
}

// Config returns the thresholds the engine was built with.
func (e *Engine) Config() Config { return e.config }

// compileWords builds a case-insensitive whole-word matcher. Blank terms are
// ignored; an empty list yields nil, which never matches.
func compileWords(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

func matchWords(re *regexp.Regexp, text string) string {
	if re == nil {
		return ""
	}
	return re.FindString(text)
}

// Evaluate runs all checks in order and returns the first rejection, or an
// accepting verdict. history may be nil.
func (e *Engine) Evaluate(m token.Metrics, now time.Time, history AlertHistory) Verdict {
	e.totalChecked.Add(1)

	v := e.evaluate(m, now, history)
	if v.Accepted {
		e.totalAccepted.Add(1)
		return v
	}
	e.recordReject(m, v)
	return v
}

func (e *Engine) evaluate(m token.Metrics, now time.Time, history AlertHistory) Verdict {
	c := e.config

	// 1. Cooldown.
	if history != nil {
		if last, ok := history.LastAlert(m.Address); ok {
			if since := now.Sub(last); since < c.AlertCooldown {
				return reject(CheckCooldown, "alerted %s ago, cooldown %s", since.Round(time.Second), c.AlertCooldown)
			}
		}
	}

	// 2. Sanity.
	if m.FDV <= 0 || m.Liquidity <= 0 || m.Buyers <= 0 {
		return reject(CheckSanity, "empty metrics (liq=%.0f fdv=%.0f buyers=%d)", m.Liquidity, m.FDV, m.Buyers)
	}

	text := strings.ToLower(strings.TrimSpace(m.Name + " " + m.Symbol))

	// 3. Blacklist.
	if hit := matchWords(e.blacklist, text); hit != "" {
		return reject(CheckBlacklist, "blacklisted term %q", hit)
	}

	// 4. Greylist escalation.
	if hit := matchWords(e.greylist, text); hit != "" {
		switch {
		case m.Liquidity < c.MinLiquidityGrey:
			return reject(CheckGreylist, "greylisted %q: liquidity %.0f < %.0f", hit, m.Liquidity, c.MinLiquidityGrey)
		case m.FDV < c.MinFDVGrey:
			return reject(CheckGreylist, "greylisted %q: fdv %.0f < %.0f", hit, m.FDV, c.MinFDVGrey)
		case m.Buyers < c.MinBuyersGrey:
			return reject(CheckGreylist, "greylisted %q: buyers %d < %d", hit, m.Buyers, c.MinBuyersGrey)
		}
	}

	// 5. Base thresholds.
	if m.Liquidity < c.MinLiquidity {
		return reject(CheckLiquidity, "liquidity %.0f < %.0f", m.Liquidity, c.MinLiquidity)
	}
	if m.FDV < c.MinFDV {
		return reject(CheckFDV, "fdv %.0f < %.0f", m.FDV, c.MinFDV)
	}
	if m.Buyers < c.MinBuyers {
		return reject(CheckBuyers, "buyers %d < %d", m.Buyers, c.MinBuyers)
	}
	if m.Sellers < c.MinSellers {
		return reject(CheckSellers, "sellers %d < %d", m.Sellers, c.MinSellers)
	}

	// 6. Age.
	if age := m.AgeMinutes(now); age < c.MinTokenAgeMinutes {
		return reject(CheckAge, "age %.1fm < %.0fm", age, c.MinTokenAgeMinutes)
	}

	// 7. FDV/liquidity ratio.
	if ratio := m.FDVLiquidityRatio(); ratio > c.MaxFDVLiqRatio {
		return reject(CheckRatio, "fdv/liq %.2f > %.2f", ratio, c.MaxFDVLiqRatio)
	}

	// 8. 5-minute drop.
	if m.PriceChange5m != nil && *m.PriceChange5m < -c.MaxDrop5m {
		return reject(CheckDrop5m, "5m change %.2f%% below -%.2f%%", *m.PriceChange5m, c.MaxDrop5m)
	}

	// 9. Taxes.
	if m.BuyTax != nil && *m.BuyTax > c.MaxTax {
		return reject(CheckBuyTax, "buy tax %.2f%% > %.2f%%", *m.BuyTax, c.MaxTax)
	}
	if m.SellTax != nil && *m.SellTax > c.MaxTax {
		return reject(CheckSellTax, "sell tax %.2f%% > %.2f%%", *m.SellTax, c.MaxTax)
	}

	// 10. Optional presence requirements.
	if c.RequireLogo && m.LogoURL == "" {
		return reject(CheckLogo, "no logo")
	}
	if c.RequireSocial && m.SocialURL == "" {
		return reject(CheckSocial, "no social link")
	}

	return accept()
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func (e *Engine) recordReject(m token.Metrics, v Verdict) {
	e.totalRejected.Add(1)
	val, _ := e.checkCounts.LoadOrStore(v.Check, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)

	ev := log.Debug()
	if e.config.LogReasons {
		ev = log.Info()
	}
	ev.Str("token", m.Label()).
		Str("check", v.Check).
		Str("reason", v.Reason).
		Msg("filter: rejected")
}

// Stats holds filter counters.
type Stats struct {
	TotalChecked  int64            `json:"total_checked"`
	TotalAccepted int64            `json:"total_accepted"`
	TotalRejected int64            `json:"total_rejected"`
	PassRate      float64          `json:"pass_rate_pct"`
	CheckCounts   map[string]int64 `json:"check_counts"`
}

func (e *Engine) Stats() Stats {
	checked := e.totalChecked.Load()
	accepted := e.totalAccepted.Load()
	passRate := 0.0
	if checked > 0 {
		passRate = float64(accepted) / float64(checked) * 100
	}

	counts := make(map[string]int64)
	e.checkCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	return Stats{
		TotalChecked:  checked,
		TotalAccepted: accepted,
		TotalRejected: e.totalRejected.Load(),
		PassRate:      passRate,
		CheckCounts:   counts,
	}
}
