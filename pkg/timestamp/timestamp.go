// Package timestamp normalizes the mixed timestamp representations found in
// snapshots and upstream responses into epoch seconds plus a display string,
// always in the platform's home time zone.
package timestamp

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	// MillisecondThreshold is the magnitude above which a numeric value is read as epoch milliseconds
	MillisecondThreshold = 20_000_000_000

	// DisplayLayout is the canonical display format
	DisplayLayout = "2006/01/02 15:04"

	// DisplayLayoutSeconds is used only when the epoch is not minute aligned
	DisplayLayoutSeconds = "2006/01/02 15:04:05"

	// HomeZone is the platform's home time zone
	HomeZone = "Asia/Tokyo"
)

// layouts are tried in order for string input
var layouts = []string{
	DisplayLayout,
	"2006-01-02 15:04",
	DisplayLayoutSeconds,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006-01-02",
	"2006/1/2 15:04",
	"2006-1-2 15:04",
	"2006/1/2 15:04:05",
	"2006-1-2 15:04:05",
	"2006/1/2",
	"2006-1-2",
}

var home = loadHome()

func loadHome() *time.Location {
	loc, err := time.LoadLocation(HomeZone)
	if err != nil {
		// Japan has no DST, a fixed offset is exact
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

// Location returns the home time zone
func Location() *time.Location {
	return home
}

// Value is a normalized timestamp. Epoch is nil when the input could not be interpreted.
type Value struct {
	Epoch   *int64
	Display string
}

// Valid reports whether the value carries an epoch
func (v Value) Valid() bool {
	return v.Epoch != nil
}

// Time returns the value as a time in the home zone. The zero time is returned for invalid values.
func (v Value) Time() time.Time {
	if v.Epoch == nil {
		return time.Time{}
	}
	return time.Unix(*v.Epoch, 0).In(home)
}

// Normalize converts v into a Value. It never fails: unparseable strings keep
// their original text as Display with a nil Epoch, and empty input yields the zero Value.
func Normalize(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case int:
		return FromEpoch(int64(t))
	case int32:
		return FromEpoch(int64(t))
	case int64:
		return FromEpoch(t)
	case uint32:
		return FromEpoch(int64(t))
	case uint64:
		if t > math.MaxInt64 {
			return Value{}
		}
		return FromEpoch(int64(t))
	case float32:
		return fromFloat(float64(t))
	case float64:
		return fromFloat(t)
	case json.Number:
		return normalizeString(t.String())
	case string:
		return normalizeString(t)
	case *int64:
		if t == nil {
			return Value{}
		}
		return FromEpoch(*t)
	case time.Time:
		if t.IsZero() {
			return Value{}
		}
		return FromEpoch(t.Unix())
	default:
		return normalizeString(fmt.Sprint(t))
	}
}

// FromEpoch builds a Value from epoch seconds or epoch milliseconds
func FromEpoch(ts int64) Value {
	if ts > MillisecondThreshold {
		ts = ts / 1000
	}
	return Value{Epoch: &ts, Display: Display(ts)}
}

// Display renders epoch seconds in the home zone
func Display(epoch int64) string {
	t := time.Unix(epoch, 0).In(home)
	if t.Second() != 0 {
		return t.Format(DisplayLayoutSeconds)
	}
	return t.Format(DisplayLayout)
}

func fromFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return FromEpoch(int64(f))
}

func normalizeString(raw string) Value {
	s := strings.TrimSpace(raw)
	if isEmpty(s) {
		return Value{}
	}

	if isDigits(s) {
		if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
			return FromEpoch(ts)
		}
	}

	// spreadsheet round trips turn epochs into "1700000000.0"
	if strings.Count(s, ".") == 1 && isDigits(strings.Replace(s, ".", "", 1)) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromFloat(f)
		}
	}

	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, s, home)
		if err == nil {
			epoch := t.Unix()
			return Value{Epoch: &epoch, Display: Display(epoch)}
		}
	}

	return Value{Display: raw}
}

func isEmpty(s string) bool {
	switch strings.ToLower(s) {
	case "", "none", "nan", "null", "nat":
		return true
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// EndsToday reports whether end falls inside today's midnight-to-midnight window in the home zone
func EndsToday(end *int64, now time.Time) bool {
	if end == nil {
		return false
	}
	n := now.In(home)
	dayStart := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, home)
	dayEnd := dayStart.AddDate(0, 0, 1)
	e := time.Unix(*end, 0)
	return !e.Before(dayStart) && e.Before(dayEnd)
}

// StartOfDay returns midnight of the given calendar date in the home zone
func StartOfDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, home)
}

// ParseDate parses a YYYY-MM-DD or YYYY/MM/DD date in the home zone
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006/01/02"} {
		if t, err := time.ParseInLocation(layout, s, home); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
}
