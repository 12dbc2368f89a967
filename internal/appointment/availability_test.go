package appointment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/pms-scheduling/internal/events"
	"github.com/hackgods/pms-scheduling/internal/schedule"
)

func clock(h, m int) *schedule.TimeOfDay {
	t := schedule.Clock(h, m)
	return &t
}

func TestReplaceAvailabilityReplacesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))

	rules, err := f.svc.ReplaceAvailability(ctx, provider, providerID, AvailabilityRequest{
		TimeZone: "Europe/Berlin",
		Weekly:   []schedule.Rule{schedule.Weekly(0, time.Tuesday, schedule.Clock(14, 0), schedule.Clock(15, 0))},
	})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, providerID, rules[0].ProviderID)
	assert.Equal(t, "Europe/Berlin", rules[0].TimeZone)
	assert.NotZero(t, rules[0].ID)

	slots, err := f.svc.AvailableSlots(ctx, providerID, monday)
	require.NoError(t, err)
	assert.Empty(t, slots)

	slots, err = f.svc.AvailableSlots(ctx, providerID, monday.AddDays(1))
	require.NoError(t, err)
	assert.Len(t, slots, 2)

	logged := f.store.Events()
	require.Len(t, logged, 2)
	assert.Equal(t, events.AvailabilityReplaced, logged[1].EventType)
	assert.Nil(t, logged[1].AppointmentID)
}

func TestReplaceAvailabilityEmptyClearsRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))

	rules, err := f.svc.ReplaceAvailability(ctx, provider, providerID, AvailabilityRequest{})
	require.NoError(t, err)
	assert.Empty(t, rules)

	ids, err := f.store.ProviderIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReplaceAvailabilityAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := AvailabilityRequest{
		Weekly: []schedule.Rule{schedule.Weekly(0, time.Monday, schedule.Clock(9, 0), schedule.Clock(10, 0))},
	}

	_, err := f.svc.ReplaceAvailability(ctx, patient, providerID, req)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.ReplaceAvailability(ctx, Actor{ID: providerID + 1, Role: RoleProvider}, providerID, req)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.ReplaceAvailability(ctx, System, providerID, req)
	assert.NoError(t, err)
}

func TestReplaceAvailabilityValidation(t *testing.T) {
	yesterday := schedule.DateOf(fixedNow).AddDays(-1)
	bad := schedule.Weekly(0, time.Monday, schedule.Clock(10, 0), schedule.Clock(9, 0))

	tests := []struct {
		name  string
		req   AvailabilityRequest
		field string
	}{
		{"inverted window", AvailabilityRequest{Weekly: []schedule.Rule{bad}}, "end_time"},
		{"unknown zone", AvailabilityRequest{TimeZone: "Mars/Olympus"}, "time_zone"},
		{"past specific date", AvailabilityRequest{
			SpecificDates: []schedule.Rule{schedule.OnDate(0, yesterday, schedule.Clock(9, 0), schedule.Clock(10, 0), true)},
		}, "specific_date"},
		{"past block day", AvailabilityRequest{BlockDays: []BlockDay{{Date: yesterday}}}, "block_days.date"},
		{"half-open block", AvailabilityRequest{BlockDays: []BlockDay{{Date: monday, From: clock(9, 0)}}}, "block_days"},
		{"inverted block", AvailabilityRequest{BlockDays: []BlockDay{{Date: monday, From: clock(11, 0), To: clock(10, 0)}}}, "end_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))

			_, err := f.svc.ReplaceAvailability(context.Background(), provider, providerID, tt.req)

			var verr *schedule.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)

			rules, err := f.svc.ListRules(context.Background(), providerID)
			require.NoError(t, err)
			assert.Len(t, rules, 1, "a rejected replacement keeps the old rules")
		})
	}
}

func TestReplaceAvailabilityWholeDayBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.ReplaceAvailability(ctx, provider, providerID, AvailabilityRequest{
		Weekly:    []schedule.Rule{schedule.Weekly(0, time.Monday, schedule.Clock(9, 0), schedule.Clock(10, 0))},
		BlockDays: []BlockDay{{Date: monday}},
	})
	require.NoError(t, err)

	slots, err := f.svc.AvailableSlots(ctx, providerID, monday)
	require.NoError(t, err)
	assert.Empty(t, slots)

	slots, err = f.svc.AvailableSlots(ctx, providerID, monday.AddDays(7))
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestReplaceAvailabilityPartialBlockKeepsRestOfDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	rules, err := f.svc.ReplaceAvailability(ctx, provider, providerID, AvailabilityRequest{
		Weekly:    []schedule.Rule{schedule.Weekly(0, time.Monday, schedule.Clock(9, 0), schedule.Clock(12, 0))},
		BlockDays: []BlockDay{{Date: monday, From: clock(10, 0), To: clock(11, 0)}},
	})
	require.NoError(t, err)
	assert.Len(t, rules, 3)

	slots, err := f.svc.AvailableSlots(ctx, providerID, monday)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"09:00": true, "09:30": true, "11:00": true, "11:30": true}, slotStarts(slots))
}

func TestReplaceAvailabilityBlocksMaterializedRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))

	res, err := f.svc.MaterializeRange(ctx, provider, providerID, monday, monday)
	require.NoError(t, err)
	assert.Equal(t, MaterializeResult{Inserted: 2}, res)

	_, err = f.svc.Book(ctx, patient, bookingFor(patientID, schedule.Clock(9, 0)))
	require.NoError(t, err)

	_, err = f.svc.ReplaceAvailability(ctx, provider, providerID, AvailabilityRequest{
		BlockDays: []BlockDay{{Date: monday}},
	})
	require.NoError(t, err)

	assert.Equal(t, SlotBooked, slotAt(t, f.store, schedule.Clock(9, 0)).Status, "existing booking keeps its row")
	assert.Equal(t, SlotBlocked, slotAt(t, f.store, schedule.Clock(9, 30)).Status)

	_, err = f.svc.Book(ctx, Actor{ID: otherPatient, Role: RolePatient}, bookingFor(otherPatient, schedule.Clock(9, 30)))
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))
	assert.Equal(t, SlotAvailable, slotAt(t, f.store, schedule.Clock(9, 30)).Status)
}

func TestReplaceAvailabilityInvalidatesRuleCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, WithRuleCache(NewRuleCache(16, time.Minute)))
	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))

	slots, err := f.svc.AvailableSlots(ctx, providerID, monday)
	require.NoError(t, err)
	assert.Len(t, slots, 2)

	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(11, 0))

	slots, err = f.svc.AvailableSlots(ctx, providerID, monday)
	require.NoError(t, err)
	assert.Len(t, slots, 4)
}

func TestBookRejectsBlockedRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))
	_, err := f.svc.MaterializeRange(ctx, provider, providerID, monday, monday)
	require.NoError(t, err)

	row := slotAt(t, f.store, schedule.Clock(9, 0))
	require.NoError(t, f.store.SetSlotStatus(ctx, row.ID, SlotBlocked, nil))

	_, err = f.svc.Book(ctx, patient, bookingFor(patientID, schedule.Clock(9, 0)))
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestMaterializeRangeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))

	first, err := f.svc.MaterializeRange(ctx, provider, providerID, monday, monday.AddDays(7))
	require.NoError(t, err)
	assert.Equal(t, 4, first.Inserted)

	second, err := f.svc.MaterializeRange(ctx, provider, providerID, monday, monday.AddDays(7))
	require.NoError(t, err)
	assert.Equal(t, MaterializeResult{}, second)

	rows, err := f.store.ListSlots(ctx, providerID, monday.In(time.UTC), monday.AddDays(8).In(time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC), rows[0].StartAt)
	assert.Equal(t, time.Date(2026, time.October, 19, 9, 30, 0, 0, time.UTC), rows[0].EndAt)
}

func TestMaterializeRangeUsesProviderZone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.svc.ReplaceAvailability(ctx, provider, providerID, AvailabilityRequest{
		TimeZone: "America/New_York",
		Weekly:   []schedule.Rule{schedule.Weekly(0, time.Monday, schedule.Clock(9, 0), schedule.Clock(9, 30))},
	})
	require.NoError(t, err)

	res, err := f.svc.MaterializeRange(ctx, provider, providerID, monday, monday)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	// 09:00 EDT
	row, err := f.store.GetSlotAt(ctx, providerID, time.Date(2026, time.October, 19, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", row.TimeZone)
	assert.Equal(t, SlotAvailable, row.Status)
}

func TestMaterializeRangeBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))
	today := schedule.DateOf(fixedNow)

	res, err := f.svc.MaterializeRange(ctx, provider, providerID, today.AddDays(-30), today.AddDays(-1))
	require.NoError(t, err)
	assert.Equal(t, MaterializeResult{}, res)

	res, err = f.svc.MaterializeRange(ctx, provider, providerID, today.AddDays(-30), monday)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	_, err = f.svc.MaterializeRange(ctx, provider, providerID, monday, today)
	assert.Equal(t, CodeValidation, Code(err))

	_, err = f.svc.MaterializeRange(ctx, provider, providerID, today, today.AddDays(schedule.MaxRecurrenceDays+1))
	assert.Equal(t, CodeValidation, Code(err))

	_, err = f.svc.MaterializeRange(ctx, patient, providerID, today, monday)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMaterializeHorizonCoversEveryProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))
	_, err := f.svc.ReplaceAvailability(ctx, System, providerID+1, AvailabilityRequest{
		Weekly: []schedule.Rule{schedule.Weekly(0, time.Friday, schedule.Clock(8, 0), schedule.Clock(9, 0))},
	})
	require.NoError(t, err)

	res, err := f.svc.MaterializeHorizon(ctx)
	require.NoError(t, err)
	// four Mondays for the first provider; today's Friday slots have already started, so
	// the second gets three Fridays
	assert.Equal(t, 4*2+3*2, res.Inserted)

	again, err := f.svc.MaterializeHorizon(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaterializeResult{}, again)
}

func TestGenerateSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	def := schedule.Definition{
		ProviderID: providerID,
		Recurrence: schedule.Recurrence{
			Pattern: schedule.PatternDaily,
			Anchor:  monday,
			Until:   monday.AddDays(2),
		},
		StartTime:     schedule.Clock(9, 0),
		EndTime:       schedule.Clock(10, 0),
		SlotDuration:  20 * time.Minute,
		BreakDuration: 10 * time.Minute,
		TimeZone:      "America/New_York",
	}

	res, err := f.svc.GenerateSlots(ctx, provider, def)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Generated: 6, Inserted: 6}, res)

	again, err := f.svc.GenerateSlots(ctx, provider, def)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Generated: 6, Inserted: 0}, again)

	row, err := f.store.GetSlotAt(ctx, providerID, time.Date(2026, time.October, 19, 13, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 19, 13, 50, 0, 0, time.UTC), row.EndAt)
	assert.Equal(t, string(EpisodeConsultation), row.AppointmentType)
	assert.Equal(t, SlotAvailable, row.Status)
}

func TestGenerateSlotsRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	def := schedule.Definition{
		ProviderID: providerID,
		Recurrence: schedule.Recurrence{Pattern: schedule.PatternWeekly, Anchor: monday, Until: monday.AddDays(14)},
		StartTime:  schedule.Clock(9, 0),
		EndTime:    schedule.Clock(10, 0),
	}

	_, err := f.svc.GenerateSlots(ctx, patient, withDuration(def, 30*time.Minute))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.GenerateSlots(ctx, provider, withDuration(def, time.Minute))
	assert.Equal(t, CodeValidation, Code(err))

	typed := withDuration(def, 30*time.Minute)
	typed.AppointmentType = "surgery"
	_, err = f.svc.GenerateSlots(ctx, provider, typed)
	assert.Equal(t, CodeValidation, Code(err))
}

func withDuration(def schedule.Definition, d time.Duration) schedule.Definition {
	def.SlotDuration = d
	return def
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())
	f := newFixture(t, nil, WithMetrics(m))
	f.openMondays(t, schedule.Clock(9, 0), schedule.Clock(10, 0))

	appt, err := f.svc.Book(ctx, patient, bookingFor(patientID, schedule.Clock(9, 0)))
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, patient, bookingFor(patientID, schedule.Clock(9, 0)))
	require.Error(t, err)
	_, err = f.svc.Cancel(ctx, patient, appt.UUID)
	require.NoError(t, err)
	_, err = f.svc.MaterializeRange(ctx, provider, providerID, monday, monday)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("booked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("slot_already_booked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(string(StatusCancelled))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.slotsMaterialized.WithLabelValues("inserted")))
}

func TestRuleCache(t *testing.T) {
	var disabled *RuleCache
	disabled.Add(1, 0, nil)
	_, _, ok := disabled.Get(1)
	assert.False(t, ok)
	disabled.Invalidate(1)
	assert.Nil(t, NewRuleCache(0, time.Minute))

	c := NewRuleCache(2, time.Minute)
	rules := []schedule.Rule{schedule.Weekly(1, time.Monday, schedule.Clock(9, 0), schedule.Clock(10, 0))}
	_, gen, ok := c.Get(1)
	require.False(t, ok)
	c.Add(1, gen, rules)

	got, _, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, rules, got)

	c.Invalidate(1)
	_, _, ok = c.Get(1)
	assert.False(t, ok)

	// rules read before the invalidation must not be cached after it
	c.Add(1, gen, rules)
	_, newGen, ok := c.Get(1)
	assert.False(t, ok)
	assert.NotEqual(t, gen, newGen)

	c.Add(1, newGen, rules)
	_, _, ok = c.Get(1)
	assert.True(t, ok)
}

// stallingStore parks the first ListRules read after arm until released, so a replacement
// can commit while a cache miss is still loading.
type stallingStore struct {
	*MemoryStore
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func (s *stallingStore) ListRules(ctx context.Context, providerID int64) ([]schedule.Rule, error) {
	rules, err := s.MemoryStore.ListRules(ctx, providerID)
	if s.armed.CompareAndSwap(true, false) {
		close(s.reached)
		<-s.release
	}
	return rules, err
}

func TestRuleCacheDropsRulesReadBeforeReplace(t *testing.T) {
	ctx := context.Background()
	store := &stallingStore{
		MemoryStore: NewMemoryStore(),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := NewService(store, nil, testConfig(),
		WithClock(func() time.Time { return fixedNow }),
		WithRuleCache(NewRuleCache(16, time.Minute)),
	)
	weekly := AvailabilityRequest{
		Weekly: []schedule.Rule{schedule.Weekly(0, time.Monday, schedule.Clock(9, 0), schedule.Clock(10, 0))},
	}
	_, err := svc.ReplaceAvailability(ctx, provider, providerID, weekly)
	require.NoError(t, err)
	store.armed.Store(true)

	done := make(chan []schedule.Slot)
	go func() {
		slots, err := svc.AvailableSlots(ctx, providerID, monday)
		assert.NoError(t, err)
		done <- slots
	}()
	<-store.reached

	blocked := weekly
	blocked.BlockDays = []BlockDay{{Date: monday}}
	_, err = svc.ReplaceAvailability(ctx, provider, providerID, blocked)
	require.NoError(t, err)

	close(store.release)
	assert.Len(t, <-done, 2, "the read that started before the block sees the old rules")

	slots, err := svc.AvailableSlots(ctx, providerID, monday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}
