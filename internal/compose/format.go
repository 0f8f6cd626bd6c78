package compose

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// NA marks a value the provider did not supply
const NA = "N/A"

const smallPrice = 0.01

// FormatPrice renders a price in currency. Prices below one cent keep at
// least eight decimals and four significant digits.
func FormatPrice(v float64, currency string) string {
	if v <= 0 || math.IsNaN(v) {
		return NA
	}
	var s string
	if v < smallPrice {
		s = strconv.FormatFloat(v, 'f', smallDecimals(v), 64)
		s = strings.TrimRight(s, "0")
		if dot := strings.IndexByte(s, '.'); len(s)-dot-1 < 2 {
			s += strings.Repeat("0", 2-(len(s)-dot-1))
		}
	} else {
		s = humanize.FormatFloat("#,###.##", v)
	}
	return withCurrency(s, currency)
}

func smallDecimals(v float64) int {
	n := int(math.Ceil(-math.Log10(v))) + 3
	if n < 8 {
		return 8
	}
	return n
}

// FormatPercent renders a signed percentage with two decimals
func FormatPercent(v float64) string {
	if math.IsNaN(v) {
		return NA
	}
	r := round2(v)
	if r == 0 {
		r = 0 // no "-0.00%"
	}
	return fmt.Sprintf("%+.2f%%", r)
}

// FormatLarge renders a magnitude with a K, M or B suffix. A value that
// rounds up to the next unit takes that unit, so 999,999 is "1.00M".
func FormatLarge(v float64, currency string) string {
	if v == 0 || math.IsNaN(v) {
		return NA
	}
	i := len(largeUnits) - 1
	for j, u := range largeUnits {
		if math.Abs(v) >= u.size {
			i = j
			break
		}
	}
	if i > 0 && math.Abs(round2(v/largeUnits[i].size)) >= 1000 {
		i--
	}
	u := largeUnits[i]
	return withCurrency(humanize.FormatFloat("#,###.##", v/u.size)+u.suffix, currency)
}

var largeUnits = []struct {
	size   float64
	suffix string
}{
	{1e9, "B"},
	{1e6, "M"},
	{1e3, "K"},
	{1, ""},
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatRank renders a market-cap rank
func FormatRank(rank int) string {
	if rank <= 0 {
		return NA
	}
	return "#" + strconv.Itoa(rank)
}

func withCurrency(s, currency string) string {
	switch c := strings.ToLower(currency); c {
	case "":
		return s
	case "usd":
		if strings.HasPrefix(s, "-") {
			return "-$" + s[1:]
		}
		return "$" + s
	default:
		return s + " " + strings.ToUpper(c)
	}
}
