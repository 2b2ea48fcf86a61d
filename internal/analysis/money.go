package analysis

import (
	"github.com/shopspring/decimal"
)

// usd formats an amount as dollars and cents, e.g. "$1.35". Amounts below
// one cent keep four decimals so they do not print as "$0.00".
func usd(v float64) string {
	d := decimal.NewFromFloat(v)
	if v > 0 && v < 0.01 {
		return "$" + d.StringFixed(4)
	}
	return "$" + d.StringFixed(2)
}

// percent formats a ratio as a whole percentage, e.g. 0.423 -> "42%".
func percent(ratio float64) string {
	return decimal.NewFromFloat(ratio).Mul(decimal.NewFromInt(100)).StringFixed(0) + "%"
}
