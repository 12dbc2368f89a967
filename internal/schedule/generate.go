package schedule

import (
	"time"
	_ "time/tzdata"
)

// MinSlotDuration is the shortest slot a definition may ask for.
const MinSlotDuration = 5 * time.Minute

// Definition describes slots to materialize: one daily window repeated over a recurrence.
// StartTime and EndTime are wall-clock times in TimeZone.
type Definition struct {
	ProviderID      int64
	Recurrence      Recurrence
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	SlotDuration    time.Duration
	BreakDuration   time.Duration
	TimeZone        string
	AppointmentType string
}

// GeneratedSlot is one concrete slot, normalized to UTC.
type GeneratedSlot struct {
	ProviderID      int64
	StartAt         time.Time
	EndAt           time.Time
	TimeZone        string
	AppointmentType string
}

func (d Definition) Validate() error {
	if err := d.Recurrence.Validate(); err != nil {
		return err
	}
	w := Window{Start: d.StartTime, End: d.EndTime}
	if !w.Start.Valid() || !w.End.Valid() || w.Start >= w.End {
		return Invalid("end_time", "must be after start_time")
	}
	if d.SlotDuration < MinSlotDuration {
		return Invalid("slot_duration", "must be at least %d minutes", int(MinSlotDuration/time.Minute))
	}
	if d.BreakDuration < 0 {
		return Invalid("break_duration", "must not be negative")
	}
	if _, err := LoadZone(d.TimeZone); err != nil {
		return err
	}
	return nil
}

// LoadZone resolves an IANA zone name. An empty name is UTC.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, Invalid("time_zone", "unknown zone %q", name)
	}
	return loc, nil
}

// Generate expands def into slots, skipping any that start at or before now. Starts that
// collapse onto the same instant across a DST jump are emitted once.
func Generate(def Definition, now time.Time) ([]GeneratedSlot, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	loc, _ := LoadZone(def.TimeZone)
	window := Window{Start: def.StartTime, End: def.EndTime}
	starts := window.Starts(def.SlotDuration, def.BreakDuration)

	seen := make(map[time.Time]struct{})
	var out []GeneratedSlot
	for _, day := range def.Recurrence.Dates() {
		for _, start := range starts {
			startAt := start.On(day, loc).UTC()
			if !startAt.After(now) {
				continue
			}
			if _, dup := seen[startAt]; dup {
				continue
			}
			seen[startAt] = struct{}{}
			out = append(out, GeneratedSlot{
				ProviderID:      def.ProviderID,
				StartAt:         startAt,
				EndAt:           startAt.Add(def.SlotDuration),
				TimeZone:        def.TimeZone,
				AppointmentType: def.AppointmentType,
			})
		}
	}
	return out, nil
}
