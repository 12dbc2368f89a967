package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(y int, m time.Month, day int) Date { return Date{Year: y, Month: m, Day: day} }

func TestRecurrenceDates(t *testing.T) {
	daily := Recurrence{Pattern: PatternDaily, Anchor: d(2026, 10, 19), Until: d(2026, 10, 22)}
	assert.Len(t, daily.Dates(), 4)

	weekly := Recurrence{Pattern: PatternWeekly, Anchor: d(2026, 10, 19), Until: d(2026, 11, 9)}
	assert.Equal(t, []Date{d(2026, 10, 19), d(2026, 10, 26), d(2026, 11, 2), d(2026, 11, 9)}, weekly.Dates())

	monthly := Recurrence{Pattern: PatternMonthly, Anchor: d(2027, 1, 31), Until: d(2027, 6, 30)}
	assert.Equal(t, []Date{d(2027, 1, 31), d(2027, 3, 31), d(2027, 5, 31)}, monthly.Dates())

	once := Recurrence{Anchor: d(2026, 10, 19)}
	assert.Equal(t, []Date{d(2026, 10, 19)}, once.Dates())

	sameDay := Recurrence{Pattern: PatternWeekly, Anchor: d(2026, 10, 19), Until: d(2026, 10, 19)}
	assert.Equal(t, []Date{d(2026, 10, 19)}, sameDay.Dates())
}

func TestRecurrenceValidate(t *testing.T) {
	tests := []struct {
		name  string
		rec   Recurrence
		field string
	}{
		{"ok", Recurrence{PatternDaily, d(2026, 10, 19), d(2026, 10, 20)}, ""},
		{"bad pattern", Recurrence{"hourly", d(2026, 10, 19), d(2026, 10, 20)}, "pattern"},
		{"until equals anchor", Recurrence{PatternDaily, d(2026, 10, 19), d(2026, 10, 19)}, ""},
		{"until before anchor", Recurrence{PatternDaily, d(2026, 10, 19), d(2026, 10, 18)}, "recurrence_end_date"},
		{"once", Recurrence{Anchor: d(2026, 10, 19)}, ""},
		{"once with matching until", Recurrence{PatternOnce, d(2026, 10, 19), d(2026, 10, 19)}, ""},
		{"once with later until", Recurrence{PatternOnce, d(2026, 10, 19), d(2026, 10, 26)}, "recurrence_end_date"},
		{"once without anchor", Recurrence{}, "anchor_date"},
		{"pattern without until", Recurrence{Pattern: PatternWeekly, Anchor: d(2026, 10, 19)}, "recurrence_end_date"},
		{"too long", Recurrence{PatternWeekly, d(2026, 10, 19), d(2027, 11, 19)}, "recurrence_end_date"},
		{"missing anchor", Recurrence{Pattern: PatternDaily, Until: d(2026, 10, 20)}, "anchor_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestGenerateWalksWithBreaks(t *testing.T) {
	def := Definition{
		ProviderID:    7,
		Recurrence:    Recurrence{PatternDaily, d(2026, 10, 19), d(2026, 10, 20)},
		StartTime:     Clock(9, 0),
		EndTime:       Clock(11, 0),
		SlotDuration:  30 * time.Minute,
		BreakDuration: 15 * time.Minute,
		TimeZone:      "UTC",
	}
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	slots, err := Generate(def, now)
	require.NoError(t, err)

	// 09:00, 09:45, 10:30 on each of two days
	require.Len(t, slots, 6)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 45, 0, 0, time.UTC), slots[1].StartAt)
	assert.Equal(t, time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC), slots[2].EndAt)
	assert.Equal(t, int64(7), slots[0].ProviderID)
}

func TestGenerateNormalizesZoneToUTC(t *testing.T) {
	def := Definition{
		Recurrence:   Recurrence{PatternDaily, d(2026, 10, 19), d(2026, 10, 20)},
		StartTime:    Clock(9, 0),
		EndTime:      Clock(9, 30),
		SlotDuration: 30 * time.Minute,
		TimeZone:     "America/New_York",
	}
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	slots, err := Generate(def, now)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	// EDT is UTC-4 in October
	assert.Equal(t, time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC), slots[0].StartAt)
	assert.Equal(t, time.UTC, slots[0].StartAt.Location())
	assert.Equal(t, "America/New_York", slots[0].TimeZone)
}

func TestGenerateSkipsPast(t *testing.T) {
	def := Definition{
		Recurrence:   Recurrence{PatternDaily, d(2026, 10, 16), d(2026, 10, 17)},
		StartTime:    Clock(11, 0),
		EndTime:      Clock(13, 0),
		SlotDuration: 30 * time.Minute,
	}
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	slots, err := Generate(def, now)
	require.NoError(t, err)

	// 12:30 today plus four tomorrow
	require.Len(t, slots, 5)
	assert.Equal(t, time.Date(2026, 10, 16, 12, 30, 0, 0, time.UTC), slots[0].StartAt)
}

func TestGenerateSingleDate(t *testing.T) {
	def := Definition{
		Recurrence:   Recurrence{Anchor: d(2026, 10, 19)},
		StartTime:    Clock(9, 0),
		EndTime:      Clock(10, 0),
		SlotDuration: 15 * time.Minute,
		TimeZone:     "America/New_York",
	}

	slots, err := Generate(def, time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, slots, 4)
	assert.Equal(t, time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC), slots[0].StartAt)
	assert.Equal(t, time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC), slots[3].EndAt)
}

func TestGenerateRejectsBadDefinitions(t *testing.T) {
	base := Definition{
		Recurrence:   Recurrence{PatternDaily, d(2026, 10, 19), d(2026, 10, 20)},
		StartTime:    Clock(9, 0),
		EndTime:      Clock(10, 0),
		SlotDuration: 30 * time.Minute,
	}

	short := base
	short.SlotDuration = 4 * time.Minute
	zone := base
	zone.TimeZone = "Mars/Olympus"
	window := base
	window.EndTime = Clock(8, 0)

	for field, def := range map[string]Definition{"slot_duration": short, "time_zone": zone, "end_time": window} {
		_, err := Generate(def, time.Time{})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, field)
		assert.Equal(t, field, verr.Field)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	def := Definition{
		Recurrence:   Recurrence{PatternWeekly, d(2026, 10, 19), d(2026, 12, 28)},
		StartTime:    Clock(9, 0),
		EndTime:      Clock(12, 0),
		SlotDuration: 20 * time.Minute,
		TimeZone:     "Europe/Berlin",
	}
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	a, err := Generate(def, now)
	require.NoError(t, err)
	b, err := Generate(def, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	seen := map[time.Time]bool{}
	for _, s := range a {
		assert.False(t, seen[s.StartAt])
		seen[s.StartAt] = true
	}
}
