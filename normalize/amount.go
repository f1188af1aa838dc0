/*
Package normalize turns arbitrary spreadsheet cell content into amounts and dates.

PURPOSE:
  Cooperative exports mix typed numbers, rupiah strings with thousands
  separators, Excel date serials and free-form dates in the same column.
  Every function here is best effort: a cell that cannot be read becomes
  0 (amounts) or the caller's default (dates). Nothing here returns an
  error, so one bad cell never blocks an import.

AMOUNT RULES:
  nil, "", "-", "nan", "#N/A"     -> 0
  float64, int, decimal.Decimal    -> unchanged
  "Rp 1.500.000"                   -> 1500000   (prefix, spaces and '.' removed)
  "1.234,56"                       -> 1234.56   (',' is the decimal mark)
  "1e6"                            -> 0         (no exponent notation)
  anything else unparsable         -> 0

SEE ALSO:
  - date.go: Date cells and spreadsheet serials
  - loan/reconciler.go: The only caller on the import path
*/
package normalize

import (
	"math"
	"math/big"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// currencyPrefixes are stripped from the start of text amounts, case-insensitively.
var currencyPrefixes = []string{"rp", "idr"}

// Amount normalizes a cell to a float64. Numeric input is returned unchanged,
// so Amount(Amount(x)) == Amount(x).
func Amount(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	case float32:
		return Amount(float64(v))
	}
	f, _ := Decimal(raw).Float64()
	if math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Decimal normalizes a cell to a decimal amount following the same rules
// as Amount. The reconciler sums in decimal to keep rupiah exact.
func Decimal(raw any) decimal.Decimal {
	d, _ := TryDecimal(raw)
	return d
}

// TryDecimal is Decimal that also reports whether the cell was readable.
// Blank placeholders are readable (as zero); "lunas" or a struct is not.
func TryDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, true
	case decimal.Decimal:
		return v, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, true
		}
		return decimal.NewFromFloat(v), true
	case float32:
		return TryDecimal(float64(v))
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int8:
		return decimal.NewFromInt(int64(v)), true
	case int16:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case uint8:
		return decimal.NewFromInt(int64(v)), true
	case uint16:
		return decimal.NewFromInt(int64(v)), true
	case uint32:
		return decimal.NewFromInt(int64(v)), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(v)), 0), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0), true
	case string:
		return parseText(v)
	case []byte:
		return parseText(string(v))
	}
	return decimal.Zero, false
}

// IsBlank reports whether a text cell is one of the placeholders the
// exports use for "no value".
func IsBlank(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "-", "nan", "#n/a":
		return true
	}
	return false
}

func parseText(s string) (decimal.Decimal, bool) {
	if IsBlank(s) {
		return decimal.Zero, true
	}

	t := strings.TrimSpace(s)
	lower := strings.ToLower(t)
	for _, prefix := range currencyPrefixes {
		if strings.HasPrefix(lower, prefix) {
			t = t[len(prefix):]
			break
		}
	}

	t = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '.' {
			return -1
		}
		if r == ',' {
			return '.'
		}
		return r
	}, t)

	// no exponent notation: "1e400" is not a rupiah amount
	if strings.ContainsAny(t, "eE") {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
