package schedule

import (
	"strings"
	"time"
)

type Kind string

const (
	KindWeekly       Kind = "weekly"
	KindSpecificDate Kind = "specific_date"
)

// Rule is one open or closed window of a provider's availability.
// Exactly one of DayOfWeek and SpecificDate is set.
type Rule struct {
	ID           int64
	ProviderID   int64
	Kind         Kind
	DayOfWeek    *time.Weekday
	SpecificDate *Date
	StartTime    TimeOfDay
	EndTime      TimeOfDay
	IsAvailable  bool
	TimeZone     string
}

// Weekly builds an open weekly rule.
func Weekly(providerID int64, day time.Weekday, start, end TimeOfDay) Rule {
	return Rule{
		ProviderID:  providerID,
		Kind:        KindWeekly,
		DayOfWeek:   &day,
		StartTime:   start,
		EndTime:     end,
		IsAvailable: true,
	}
}

// OnDate builds a specific-date rule; available=false makes it a closure.
func OnDate(providerID int64, date Date, start, end TimeOfDay, available bool) Rule {
	return Rule{
		ProviderID:   providerID,
		Kind:         KindSpecificDate,
		SpecificDate: &date,
		StartTime:    start,
		EndTime:      end,
		IsAvailable:  available,
	}
}

func (r Rule) Validate() error {
	switch r.Kind {
	case KindWeekly:
		if r.DayOfWeek == nil {
			return Invalid("day_of_week", "is required for weekly rules")
		}
		if r.SpecificDate != nil {
			return Invalid("specific_date", "must be empty for weekly rules")
		}
		if *r.DayOfWeek < time.Sunday || *r.DayOfWeek > time.Saturday {
			return Invalid("day_of_week", "is out of range")
		}
	case KindSpecificDate:
		if r.SpecificDate == nil || r.SpecificDate.IsZero() {
			return Invalid("specific_date", "is required for specific_date rules")
		}
		if r.DayOfWeek != nil {
			return Invalid("day_of_week", "must be empty for specific_date rules")
		}
	default:
		return Invalid("kind", "must be weekly or specific_date, got %q", r.Kind)
	}
	if !r.StartTime.Valid() || r.StartTime == EndOfDay {
		return Invalid("start_time", "is out of range")
	}
	if !r.EndTime.Valid() {
		return Invalid("end_time", "is out of range")
	}
	if r.StartTime >= r.EndTime {
		return Invalid("end_time", "must be after start_time")
	}
	return nil
}

// AppliesTo reports whether r governs date d.
func (r Rule) AppliesTo(d Date) bool {
	switch r.Kind {
	case KindWeekly:
		return r.DayOfWeek != nil && *r.DayOfWeek == d.Weekday()
	case KindSpecificDate:
		return r.SpecificDate != nil && *r.SpecificDate == d
	}
	return false
}

func (r Rule) Window() Window {
	return Window{Start: r.StartTime, End: r.EndTime}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or three-letter English day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	if d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return 0, Invalid("day_of_week", "unknown day %q", s)
}

// WeekdayName is the lower-case name stored for weekly rules.
func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}
