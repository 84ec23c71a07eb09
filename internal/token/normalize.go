package token

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Normalizer: loosely-typed upstream values into typed numbers and times
// ---------------------------------------------------------------------------

var posInf = math.Inf(1)

// ToFloat converts an upstream value to float64. nil, booleans, NaN/Inf and
// unparseable strings yield def. Strings may carry thousands separators.
func ToFloat(v any, def float64) float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return def
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		return parseNumeric(x.String(), def)
	case string:
		return parseNumeric(x, def)
	default:
		return def
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

func parseNumeric(s string, def float64) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return def
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) {
		return def
	}
	return f
}

// ToInt truncates ToFloat(v, 0) to an integer, saturating at the int64
// range.
func ToInt(v any) int64 {
	f := ToFloat(v, 0)
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// OptionalFloat keeps absence distinct from zero: nil stays nil, a present
// but malformed value becomes 0.
func OptionalFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	f := ToFloat(v, 0)
	return &f
}

// OptionalInt is OptionalFloat for counts.
func OptionalInt(v any) *int64 {
	if v == nil {
		return nil
	}
	n := ToInt(v)
	return &n
}

// ToString returns trimmed string values; anything else is "".
func ToString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// Epoch magnitude thresholds. A seconds timestamp stays below 1e11 until
// the year 5138.
const (
	nanosThreshold  = 1e17
	microsThreshold = 1e14
	millisThreshold = 1e11
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp normalizes a creation timestamp to UTC. Numeric values are
// read as seconds, milliseconds, microseconds or nanoseconds depending on
// magnitude; other strings are tried as ISO-8601. Anything else yields now.
func ParseTimestamp(v any, now time.Time) time.Time {
	now = now.UTC()
	if v == nil {
		return now
	}

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return now
		}
		if f := parseNumeric(s, math.NaN()); !math.IsNaN(f) {
			return fromEpoch(f, now)
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return now
	}

	f := ToFloat(v, math.NaN())
	if math.IsNaN(f) {
		return now
	}
	return fromEpoch(f, now)
}

func fromEpoch(x float64, now time.Time) time.Time {
	if x <= 0 {
		return now
	}
	switch {
	case x >= nanosThreshold:
		return time.Unix(0, int64(x)).UTC()
	case x >= microsThreshold:
		return time.UnixMicro(int64(x)).UTC()
	case x >= millisThreshold:
		return time.UnixMilli(int64(x)).UTC()
	default:
		sec, frac := math.Modf(x)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
}
