package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SpreadsheetEpoch is day zero of spreadsheet date serials. Using 1899-12-30
// instead of 1900-01-01 absorbs the phantom 1900-02-29 of the 1900 date system.
var SpreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31; anything larger is not a date.
const maxSerial = 2958465

// dateLayouts are tried in order for text dates. Day-first layouts come
// before month-first ones; the exports are Indonesian.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"2006/01/02",
	"02.01.2006",
	"2 January 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"02-Jan-06",
	"January 2, 2006",
	"Jan 2, 2006",
	"01-02-06",
}

// monthNames maps Indonesian month names to the English ones time.Parse knows.
var monthNames = strings.NewReplacer(
	"januari", "january",
	"februari", "february",
	"maret", "march",
	"mei", "may",
	"juni", "june",
	"juli", "july",
	"agustus", "august",
	"agu", "aug",
	"oktober", "october",
	"okt", "oct",
	"desember", "december",
	"des", "dec",
)

// Date normalizes a cell to a calendar date. Blank or unreadable cells yield
// def. The year is returned alongside for year-gated rules.
func Date(raw any, def time.Time) (time.Time, int) {
	if t, ok := ParseDate(raw); ok {
		return t, t.Year()
	}
	return def, def.Year()
}

// ParseDate is Date without the fallback: ok is false when the cell does not
// hold a usable date.
func ParseDate(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return dateOnly(v), true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return ParseDate(*v)
	case float64:
		return FromSerial(v)
	case float32:
		return FromSerial(float64(v))
	case int:
		return FromSerial(float64(v))
	case int32:
		return FromSerial(float64(v))
	case int64:
		return FromSerial(float64(v))
	case decimal.Decimal:
		f, _ := v.Float64()
		return FromSerial(f)
	case string:
		return parseDateText(v)
	}
	return time.Time{}, false
}

// FromSerial converts a spreadsheet day serial to a date. The fractional
// (time-of-day) part is dropped.
func FromSerial(serial float64) (time.Time, bool) {
	if math.IsNaN(serial) || serial < 1 || serial > maxSerial {
		return time.Time{}, false
	}
	return SpreadsheetEpoch.AddDate(0, 0, int(math.Floor(serial))), true
}

// ToSerial is the inverse of FromSerial.
func ToSerial(t time.Time) float64 {
	return math.Floor(dateOnly(t).Sub(SpreadsheetEpoch).Hours() / 24)
}

func parseDateText(s string) (time.Time, bool) {
	if IsBlank(s) {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)

	if isNumeric(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, false
		}
		return FromSerial(f)
	}

	candidates := []string{s}
	if english := monthNames.Replace(strings.ToLower(s)); english != strings.ToLower(s) {
		candidates = append(candidates, english)
	}
	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return dateOnly(t), true
			}
		}
	}
	return time.Time{}, false
}

// isNumeric accepts digit strings with at most one '.' ("46050", "46050.0").
func isNumeric(s string) bool {
	dots := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && i > 0:
			dots++
		default:
			return false
		}
	}
	return dots <= 1
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
