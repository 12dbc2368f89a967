//go:build integration

package appointment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hackgods/pms-scheduling/internal/db"
	"github.com/hackgods/pms-scheduling/internal/schedule"
)

// Run with: go test -tags integration ./internal/appointment/...

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pool, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	testPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func startPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "scheduling_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "testpass",
		},
		// the image restarts once after initdb
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("postgres host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("postgres port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://test:testpass@%s:%s/scheduling_test?sslmode=disable", host, port.Port())
	pool, err := db.ConnectPostgres(ctx, dsn, 32)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	if _, err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		terminate()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

// newPgService empties every table and returns a service over PgStore without a
// distributed lock.
func newPgService(t *testing.T) (*Service, *PgStore) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`TRUNCATE availability_rules, slots, appointments, event_logs RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	store := NewPgStore(testPool)
	svc := NewService(store, nil, testConfig(), WithClock(func() time.Time { return fixedNow }))
	return svc, store
}

func pgOpenMondays(t *testing.T, svc *Service) {
	t.Helper()
	_, err := svc.ReplaceAvailability(context.Background(), provider, providerID, AvailabilityRequest{
		Weekly: []schedule.Rule{schedule.Weekly(0, time.Monday, schedule.Clock(9, 0), schedule.Clock(10, 0))},
	})
	require.NoError(t, err)
}

func TestPgConcurrentBookingsOneWins(t *testing.T) {
	svc, store := newPgService(t)
	pgOpenMondays(t, svc)

	const n = 16
	var booked, taken int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(pid int64) {
			defer wg.Done()
			<-start
			_, err := svc.Book(context.Background(), Actor{ID: pid, Role: RolePatient}, bookingFor(pid, schedule.Clock(9, 0)))
			switch {
			case err == nil:
				atomic.AddInt32(&booked, 1)
			case errors.Is(err, ErrSlotAlreadyBooked):
				atomic.AddInt32(&taken, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(100 + i))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), booked)
	assert.Equal(t, int32(n-1), taken)

	occupied, err := store.Occupied(context.Background(), providerID, monday)
	require.NoError(t, err)
	assert.Len(t, occupied, 1)
}

func TestPgActiveIndexMapsToUniqueViolation(t *testing.T) {
	_, store := newPgService(t)
	ctx := context.Background()

	appt := Appointment{
		PatientID:      patientID,
		ProviderID:     providerID,
		EpisodeDate:    monday,
		StartTime:      schedule.Clock(9, 0),
		EndTime:        schedule.Clock(9, 30),
		EpisodeType:    EpisodeConsultation,
		EpisodeDetails: "persistent cough",
		Status:         StatusScheduled,
		CreatedAt:      fixedNow,
	}

	first := appt
	first.UUID = uuid.New()
	err := store.InTx(ctx, func(q Queries) error {
		_, err := q.InsertAppointment(ctx, first)
		return err
	})
	require.NoError(t, err)

	second := appt
	second.UUID = uuid.New()
	second.PatientID = otherPatient
	err = store.InTx(ctx, func(q Queries) error {
		_, err := q.InsertAppointment(ctx, second)
		return err
	})
	assert.ErrorIs(t, err, errUniqueViolation)

	// a cancelled row no longer holds the start time
	err = store.InTx(ctx, func(q Queries) error {
		_, err := q.UpdateStatus(ctx, first.UUID, StatusScheduled, StatusCancelled, fixedNow)
		if err != nil {
			return err
		}
		_, err = q.InsertAppointment(ctx, second)
		return err
	})
	assert.NoError(t, err)
}

func TestPgUpdateStatusGuardsFromStatus(t *testing.T) {
	svc, store := newPgService(t)
	pgOpenMondays(t, svc)
	ctx := context.Background()

	appt, err := svc.Book(ctx, patient, bookingFor(patientID, schedule.Clock(9, 30)))
	require.NoError(t, err)

	err = store.InTx(ctx, func(q Queries) error {
		_, err := q.UpdateStatus(ctx, appt.UUID, StatusConfirmed, StatusCancelled, fixedNow)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	var updated *Appointment
	err = store.InTx(ctx, func(q Queries) error {
		updated, err = q.UpdateStatus(ctx, appt.UUID, StatusScheduled, StatusCancelled, fixedNow)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	require.NotNil(t, updated.CancelledAt)
	assert.True(t, fixedNow.Equal(*updated.CancelledAt))
	assert.Equal(t, schedule.Clock(9, 30), updated.StartTime)
	assert.Equal(t, monday, updated.EpisodeDate)
}

func TestPgRulesKeepDatesAndEndOfDay(t *testing.T) {
	svc, store := newPgService(t)
	ctx := context.Background()

	_, err := svc.ReplaceAvailability(ctx, provider, providerID, AvailabilityRequest{
		TimeZone:  "America/Chicago",
		Weekly:    []schedule.Rule{schedule.Weekly(0, time.Monday, schedule.Clock(9, 0), schedule.Clock(10, 0))},
		BlockDays: []BlockDay{{Date: monday}},
	})
	require.NoError(t, err)

	rules, err := store.ListRules(ctx, providerID)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	weekly, closure := rules[0], rules[1]
	require.NotNil(t, weekly.DayOfWeek)
	assert.Equal(t, time.Monday, *weekly.DayOfWeek)
	assert.Equal(t, schedule.Clock(10, 0), weekly.EndTime)
	assert.Equal(t, "America/Chicago", weekly.TimeZone)

	require.NotNil(t, closure.SpecificDate)
	assert.Equal(t, monday, *closure.SpecificDate)
	assert.False(t, closure.IsAvailable)
	assert.Equal(t, schedule.TimeOfDay(0), closure.StartTime)
	assert.Equal(t, schedule.EndOfDay, closure.EndTime)

	slots, err := svc.AvailableSlots(ctx, providerID, monday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestPgGenerateSlotsIsIdempotent(t *testing.T) {
	svc, store := newPgService(t)
	ctx := context.Background()

	def := schedule.Definition{
		ProviderID:   providerID,
		Recurrence:   schedule.Recurrence{Pattern: schedule.PatternWeekly, Anchor: monday, Until: monday.AddDays(7)},
		StartTime:    schedule.Clock(9, 0),
		EndTime:      schedule.Clock(10, 0),
		SlotDuration: 30 * time.Minute,
	}

	res, err := svc.GenerateSlots(ctx, System, def)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Generated: 4, Inserted: 4}, res)

	res, err = svc.GenerateSlots(ctx, System, def)
	require.NoError(t, err)
	assert.Equal(t, GenerateResult{Generated: 4, Inserted: 0}, res)

	from := monday.In(time.UTC)
	slots, err := store.ListSlots(ctx, providerID, from, from.AddDate(0, 0, 8))
	require.NoError(t, err)
	assert.Len(t, slots, 4)
}

func TestPgBookingWaitsForReplacementLock(t *testing.T) {
	svc, store := newPgService(t)
	pgOpenMondays(t, svc)
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- store.InTx(ctx, func(q Queries) error {
			if err := q.LockRulesExclusive(ctx, providerID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	done := make(chan error, 1)
	go func() {
		_, err := svc.Book(ctx, patient, bookingFor(patientID, schedule.Clock(9, 0)))
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("booking finished while the rules lock was held: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-holder)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("booking did not resume after the rules lock was released")
	}
}
