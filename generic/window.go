package generic

// =============================================================================
// WINDOW - Closed range of calendar days
// =============================================================================

// Window is the closed range [Start, End]. Read-side projections (cash flow,
// due-soon flags) are always asked for a window, never for an open-ended
// future.
//
// Examples:
//   - 90-day cash flow from 2025-03-01: [2025-03-01, 2025-05-30]
//   - due-soon band for a 2025-03-10 due date: [2025-03-05, 2025-03-10]
type Window struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// NextDays returns [from, from+days].
func NextDays(from Date, days int) Window {
	return Window{Start: from, End: from.AddDays(days)}
}

// Contains returns true if d lies within [Start, End].
func (w Window) Contains(d Date) bool {
	return d.AfterOrEqual(w.Start) && d.BeforeOrEqual(w.End)
}

// Valid reports whether End is not before Start.
func (w Window) Valid() bool {
	return !w.End.Before(w.Start)
}

// Days returns the number of calendar days covered, inclusive of both ends.
func (w Window) Days() int {
	if !w.Valid() {
		return 0
	}
	return w.Start.DaysUntil(w.End) + 1
}

// Months returns the first day of every month the window touches, in order.
func (w Window) Months() []Date {
	if !w.Valid() {
		return nil
	}
	var months []Date
	for m := w.Start.StartOfMonth(); m.BeforeOrEqual(w.End); m = m.AddMonths(1) {
		months = append(months, m)
	}
	return months
}

func (w Window) String() string {
	return "[" + w.Start.String() + ", " + w.End.String() + "]"
}
