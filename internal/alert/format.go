package alert

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/nexus-trading/gemwatch/internal/token"
	"github.com/shopspring/decimal"
)

// Format renders the alert text (Telegram HTML) for m at now.
func Format(m token.Metrics, now time.Time) string {
	social := "none"
	if m.SocialURL != "" {
		social = html.EscapeString(m.SocialURL)
	}

	var b strings.Builder
	b.WriteString("🟢 <b>New signal</b>\n")
	fmt.Fprintf(&b, "🔥 <b>Token:</b> %s (<code>%s</code>)\n", html.EscapeString(m.Name), html.EscapeString(m.Symbol))
	fmt.Fprintf(&b, "💧 Liquidity: $%s\n", groupThousands(m.Liquidity))
	fmt.Fprintf(&b, "💰 FDV: $%s\n", groupThousands(m.FDV))
	fmt.Fprintf(&b, "🤝 Buyers: %d • Sellers: %d\n", m.Buyers, m.Sellers)
	fmt.Fprintf(&b, "⏳ Age: ~%d min\n", int64(m.AgeMinutes(now)))
	fmt.Fprintf(&b, "📉 5m change: %s%%\n", percent(m.PriceChange5m))
	fmt.Fprintf(&b, "💱 Tax: buy %s%%, sell %s%%\n", percent(m.BuyTax), percent(m.SellTax))
	fmt.Fprintf(&b, "🐦 Social: %s\n", social)
	fmt.Fprintf(&b, "📍 <code>%s</code>", html.EscapeString(m.Address))
	return b.String()
}

// Greeting is sent once at startup.
func Greeting(instance string) string {
	return fmt.Sprintf("gemwatch online ✅ (<code>%s</code>)", html.EscapeString(instance))
}

// groupThousands rounds v to a whole number and inserts comma separators.
func groupThousands(v float64) string {
	s := decimal.NewFromFloat(v).Round(0).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(s[:lead])
	for i := lead; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func percent(v *float64) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromFloat(*v).Round(2).String()
}
