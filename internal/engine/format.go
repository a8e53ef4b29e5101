package engine

import (
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

// FormatPercent renders a fraction as a percent label with at most one
// decimal: 0.2 -> "20%", 0.125 -> "12.5%", -0.03 -> "-3%".
func FormatPercent(fraction float64) string {
	v := math.Round(fraction*1000) / 10
	if v == 0 {
		v = 0 // drop negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

// FormatUSD renders an amount with two decimals, like "$1,234,567.89".
func FormatUSD(amount float64) string {
	if amount < 0 {
		return "-$" + humanize.FormatFloat(usdFormat, -amount)
	}
	return "$" + humanize.FormatFloat(usdFormat, amount)
}

const usdFormat = "#,###.##"
