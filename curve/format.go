package curve

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	scientificBelow = decimal.RequireFromString("0.001")
	thousand        = decimal.NewFromInt(1_000)
	million         = decimal.NewFromInt(1_000_000)
)

// FormatPrice renders a unit price for display. Sub-0.001 prices switch to
// scientific notation so leading zeros do not swallow the signal; precision
// then steps down as the magnitude grows. Display only: the output must
// never feed back into pricing.
func FormatPrice(price decimal.Decimal) string {
	abs := price.Abs()
	switch {
	case abs.IsZero():
		return "0"
	case abs.LessThan(scientificBelow):
		f, _ := price.Float64()
		return strconv.FormatFloat(f, 'e', 2, 64)
	case abs.LessThan(one):
		return price.StringFixed(4)
	case abs.LessThan(thousand):
		return price.StringFixed(2)
	default:
		return groupThousands(price.StringFixed(0))
	}
}

// FormatAmount renders a key amount with K/M suffixes above one thousand
// and one million respectively.
func FormatAmount(amount decimal.Decimal) string {
	abs := amount.Abs()
	switch {
	case abs.GreaterThanOrEqual(million):
		return amount.Div(million).StringFixed(1) + "M"
	case abs.GreaterThanOrEqual(thousand):
		return amount.Div(thousand).StringFixed(1) + "K"
	default:
		return amount.String()
	}
}

// groupThousands inserts comma separators into a plain integer string.
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = strings.TrimPrefix(s, "-")
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}
