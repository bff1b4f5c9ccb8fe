package format

import (
	"fmt"
	"math"
	"strings"
)

// Missing is shown wherever a price or numeric field is absent.
const Missing = "—"

// Price formats an optional major-unit price. Absent prices render as Missing.
// Example: Price(ptr(1299.5), "USD") => "$1,299.50"
func Price(amount *float64, currency string) string {
	if amount == nil || math.IsNaN(*amount) || math.IsInf(*amount, 0) {
		return Missing
	}
	return Amount(*amount, currency)
}

// Amount formats a major-unit amount for the supported currencies.
func Amount(amount float64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	neg := amount < 0
	if neg {
		amount = -amount
	}
	var out string
	switch currency {
	case "JPY", "KRW":
		out = symbol(currency) + thousandSep(int64(math.Round(amount)))
	case "USD", "EUR", "GBP", "INR", "":
		minor := int64(math.Round(amount * 100))
		out = symbol(currency) + thousandSep(minor/100) + fmt.Sprintf(".%02d", minor%100)
	default:
		minor := int64(math.Round(amount * 100))
		out = fmt.Sprintf("%s %s.%02d", currency, thousandSep(minor/100), minor%100)
	}
	if neg {
		return "-" + out
	}
	return out
}

func symbol(currency string) string {
	switch currency {
	case "JPY":
		return "¥"
	case "KRW":
		return "₩"
	case "EUR":
		return "€"
	case "GBP":
		return "£"
	case "INR":
		return "₹"
	default:
		return "$"
	}
}

func thousandSep(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i != 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Discount renders a percentage badge such as "-15%". Non-positive values render empty.
func Discount(pct *float64) string {
	if pct == nil || *pct <= 0 {
		return ""
	}
	return fmt.Sprintf("-%s%%", trimFloat(*pct))
}

// Rating renders a star rating with one decimal, or Missing when absent.
func Rating(r *float64) string {
	if r == nil {
		return Missing
	}
	return fmt.Sprintf("%.1f", *r)
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}
