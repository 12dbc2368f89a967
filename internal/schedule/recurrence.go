package schedule

import "time"

type Pattern string

const (
	// PatternOnce generates the anchor date alone.
	PatternOnce    Pattern = ""
	PatternDaily   Pattern = "daily"
	PatternWeekly  Pattern = "weekly"
	PatternMonthly Pattern = "monthly"
)

// MaxRecurrenceDays caps how far a single expansion may reach.
const MaxRecurrenceDays = 366

// Recurrence expands Anchor through Until inclusive. Until may be left zero with
// PatternOnce, and Until equal to Anchor yields the anchor alone for any pattern.
type Recurrence struct {
	Pattern Pattern `json:"pattern"`
	Anchor  Date    `json:"anchor_date"`
	Until   Date    `json:"recurrence_end_date"`
}

func (r Recurrence) Validate() error {
	switch r.Pattern {
	case PatternOnce, PatternDaily, PatternWeekly, PatternMonthly:
	default:
		return Invalid("pattern", "must be daily, weekly, monthly or empty, got %q", r.Pattern)
	}
	if r.Anchor.IsZero() {
		return Invalid("anchor_date", "is required")
	}
	if r.Pattern == PatternOnce {
		if !r.Until.IsZero() && r.Until != r.Anchor {
			return Invalid("recurrence_end_date", "must be empty or anchor_date without a pattern")
		}
		return nil
	}
	if r.Until.IsZero() {
		return Invalid("recurrence_end_date", "is required")
	}
	if r.Until.Before(r.Anchor) {
		return Invalid("recurrence_end_date", "must not be before anchor_date")
	}
	if r.Anchor.DaysUntil(r.Until) > MaxRecurrenceDays {
		return Invalid("recurrence_end_date", "must be within %d days of anchor_date", MaxRecurrenceDays)
	}
	return nil
}

// Dates lists every occurrence. Monthly occurrences keep the anchor's day of month and
// skip months that do not have it.
func (r Recurrence) Dates() []Date {
	var out []Date
	switch r.Pattern {
	case PatternOnce:
		out = append(out, r.Anchor)
	case PatternDaily, PatternWeekly:
		step := 1
		if r.Pattern == PatternWeekly {
			step = 7
		}
		for d := r.Anchor; !d.After(r.Until); d = d.AddDays(step) {
			out = append(out, d)
		}
	case PatternMonthly:
		for k := 0; ; k++ {
			t := time.Date(r.Anchor.Year, r.Anchor.Month+time.Month(k), r.Anchor.Day, 0, 0, 0, 0, time.UTC)
			d := DateOf(t)
			if d.After(r.Until) {
				break
			}
			if d.Day == r.Anchor.Day {
				out = append(out, d)
			}
		}
	}
	return out
}
