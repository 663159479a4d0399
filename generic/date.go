package generic

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// DATE - Calendar day, no time-of-day, no zone
// =============================================================================

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

// Date is a calendar day. Internally it is midnight UTC so comparisons and
// arithmetic never cross a DST boundary. The zero value means "no date".
type Date struct {
	t time.Time
}

// NewDate builds a date. Out-of-range components are normalized the way
// time.Date normalizes them; use MakeDate to reject them instead.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// MakeDate builds a date and fails with InvalidDateError if the components do
// not name a real day (e.g. February 30).
func MakeDate(year int, month time.Month, day int) (Date, error) {
	d := NewDate(year, month, day)
	if d.Year() != year || d.Month() != month || d.Day() != day {
		return Date{}, &InvalidDateError{
			Value:  fmt.Sprintf("%04d-%02d-%02d", year, int(month), day),
			Reason: "no such calendar day",
		}
	}
	return d, nil
}

// DateOf truncates a timestamp to its calendar day in the timestamp's own
// location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &InvalidDateError{Value: s, Reason: "expected YYYY-MM-DD", Err: err}
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals. It panics on malformed input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.t.Before(o.t) }
func (d Date) IsZero() bool              { return d.t.IsZero() }

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) Time() time.Time   { return d.t }
func (d Date) String() string    { return d.t.Format(DateLayout) }

// =============================================================================
// ARITHMETIC
// =============================================================================

// AddDays moves n days forward (or back for negative n).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// SubtractDays moves n days back. Plain calendar subtraction, no business days.
func (d Date) SubtractDays(n int) Date { return d.AddDays(-n) }

// AddMonths steps n calendar months. When the source day does not exist in the
// target month it clamps to the target month's last day, so Jan 31 + 1 month is
// Feb 28 (or 29), never Mar 3.
func (d Date) AddMonths(n int) Date {
	y, m, day := d.t.Date()
	total := int(m) - 1 + n
	ty := y + floorDiv(total, 12)
	tm := time.Month(floorMod(total, 12) + 1)
	if last := DaysIn(ty, tm); day > last {
		day = last
	}
	return NewDate(ty, tm, day)
}

// AddQuarters steps n quarters (3 months each) with the same clamping as
// AddMonths.
func (d Date) AddQuarters(n int) Date { return d.AddMonths(3 * n) }

// DaysUntil returns the number of days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

// StartOfMonth returns the first day of d's month.
func (d Date) StartOfMonth() Date { return NewDate(d.Year(), d.Month(), 1) }

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// =============================================================================
// JSON
// =============================================================================

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return &InvalidDateError{Value: string(data), Reason: "expected a quoted YYYY-MM-DD string"}
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DatePtr returns a pointer to a copy of d.
func DatePtr(d Date) *Date { return &d }

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
