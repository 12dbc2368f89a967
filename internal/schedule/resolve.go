package schedule

import (
	"sort"
	"time"
)

// DefaultSlotDuration is the width of a resolved slot unless configured otherwise.
const DefaultSlotDuration = 30 * time.Minute

// Slot is a bookable window derived from rules. It is recomputed on every read.
type Slot struct {
	ProviderID   int64     `json:"provider_id"`
	Date         Date      `json:"date"`
	StartTime    TimeOfDay `json:"start_time"`
	EndTime      TimeOfDay `json:"end_time"`
	DisplayLabel string    `json:"display_time"`
	TimeZone     string    `json:"time_zone,omitempty"`
	Available    bool      `json:"available"`
}

// Effective picks the rules that govern date. When any specific-date rule exists for the
// date the weekly rules are ignored entirely. The result is split into open windows and
// closures.
func Effective(rules []Rule, date Date) (open, closed []Rule) {
	var weekly, specific []Rule
	for _, r := range rules {
		if !r.AppliesTo(date) {
			continue
		}
		if r.Kind == KindSpecificDate {
			specific = append(specific, r)
		} else {
			weekly = append(weekly, r)
		}
	}

	chosen := weekly
	if len(specific) > 0 {
		chosen = specific
	}
	for _, r := range chosen {
		if r.IsAvailable {
			open = append(open, r)
		} else {
			closed = append(closed, r)
		}
	}
	return open, closed
}

// Resolve computes the slots of providerID on date. Slots overlapping a closure are dropped,
// starts in occupied are reported unavailable, and the result is sorted by start with no
// duplicate starts.
func Resolve(providerID int64, rules []Rule, date Date, occupied []TimeOfDay, width time.Duration) []Slot {
	if width <= 0 {
		width = DefaultSlotDuration
	}
	open, closed := Effective(rules, date)
	if len(open) == 0 {
		return []Slot{}
	}

	taken := make(map[TimeOfDay]struct{}, len(occupied))
	for _, t := range occupied {
		taken[t] = struct{}{}
	}

	seen := make(map[TimeOfDay]struct{})
	slots := make([]Slot, 0)
	for _, r := range open {
		for _, start := range r.Window().Starts(width, 0) {
			if _, dup := seen[start]; dup {
				continue
			}
			end := start.Add(width)
			if blocked(closed, start, end) {
				continue
			}
			seen[start] = struct{}{}
			_, isTaken := taken[start]
			slots = append(slots, Slot{
				ProviderID:   providerID,
				Date:         date,
				StartTime:    start,
				EndTime:      end,
				DisplayLabel: start.Display(),
				TimeZone:     r.TimeZone,
				Available:    !isTaken,
			})
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime < slots[j].StartTime })
	return slots
}

func blocked(closed []Rule, start, end TimeOfDay) bool {
	for _, c := range closed {
		if c.Window().Overlaps(start, end) {
			return true
		}
	}
	return false
}

// Find returns the slot starting at start, if any.
func Find(slots []Slot, start TimeOfDay) (Slot, bool) {
	i := sort.Search(len(slots), func(i int) bool { return slots[i].StartTime >= start })
	if i < len(slots) && slots[i].StartTime == start {
		return slots[i], true
	}
	return Slot{}, false
}
