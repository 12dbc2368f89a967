package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/pms-scheduling/internal/schedule"
)

const activeStartIndex = "appointments_active_start_uq"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type pgQueries struct {
	db querier
}

type PgStore struct {
	pgQueries
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pgQueries: pgQueries{db: pool}, pool: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(pgQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// Helpers

// storageErr maps driver errors onto the package's error set.
func storageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeStartIndex:
		return errUniqueViolation
	default:
		return &StorageError{Op: op, Err: err}
	}
}

const minuteMicros = int64(time.Minute / time.Microsecond)

func pgTime(t schedule.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * minuteMicros, Valid: true}
}

func fromPgTime(t pgtype.Time) schedule.TimeOfDay {
	return schedule.TimeOfDay(t.Microseconds / minuteMicros)
}

func pgDate(d *schedule.Date) pgtype.Date {
	if d == nil || d.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.In(time.UTC), Valid: true}
}

func fromPgDate(d pgtype.Date) *schedule.Date {
	if !d.Valid {
		return nil
	}
	v := schedule.DateOf(d.Time)
	return &v
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func marshalNullable(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

const ruleColumns = `id, provider_id, kind, day_of_week, specific_date, start_time, end_time, is_available, time_zone`

func scanRule(row pgx.Row) (schedule.Rule, error) {
	var (
		r          schedule.Rule
		dayOfWeek  *int16
		date       pgtype.Date
		start, end pgtype.Time
	)

	err := row.Scan(
		&r.ID,
		&r.ProviderID,
		&r.Kind,
		&dayOfWeek,
		&date,
		&start,
		&end,
		&r.IsAvailable,
		&r.TimeZone,
	)
	if err != nil {
		return schedule.Rule{}, err
	}

	if dayOfWeek != nil {
		d := time.Weekday(*dayOfWeek)
		r.DayOfWeek = &d
	}
	r.SpecificDate = fromPgDate(date)
	r.StartTime = fromPgTime(start)
	r.EndTime = fromPgTime(end)
	return r, nil
}

const appointmentColumns = `id, uuid, patient_id, provider_id, appointment_slot_id, episode_date,
	start_time, end_time, episode_type, episode_details, vitals, episode_occur_date, status,
	evaluation_notes, diagnosis, treatment_plan, prescriptions, follow_up_date, vital_signs,
	next_appointment_date, completed_at, cancelled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                         Appointment
		episodeDate, occurDate    pgtype.Date
		followUp, nextAppt        pgtype.Date
		start, end                pgtype.Time
		vitals                    *string
		prescriptions, vitalSigns []byte
	)

	err := row.Scan(
		&a.ID,
		&a.UUID,
		&a.PatientID,
		&a.ProviderID,
		&a.SlotID,
		&episodeDate,
		&start,
		&end,
		&a.EpisodeType,
		&a.EpisodeDetails,
		&vitals,
		&occurDate,
		&a.Status,
		&a.EvaluationNotes,
		&a.Diagnosis,
		&a.TreatmentPlan,
		&prescriptions,
		&followUp,
		&vitalSigns,
		&nextAppt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.EpisodeDate = schedule.DateOf(episodeDate.Time)
	a.StartTime = fromPgTime(start)
	a.EndTime = fromPgTime(end)
	if vitals != nil {
		a.Vitals = *vitals
	}
	a.EpisodeOccurDate = fromPgDate(occurDate)
	a.FollowUpDate = fromPgDate(followUp)
	a.NextAppointmentDate = fromPgDate(nextAppt)

	if len(prescriptions) > 0 {
		if err := json.Unmarshal(prescriptions, &a.Prescriptions); err != nil {
			return nil, fmt.Errorf("decode prescriptions: %w", err)
		}
	}
	if len(vitalSigns) > 0 {
		if err := json.Unmarshal(vitalSigns, &a.VitalSigns); err != nil {
			return nil, fmt.Errorf("decode vital signs: %w", err)
		}
	}
	return &a, nil
}

const slotColumns = `id, provider_id, start_at, end_at, status, patient_id, appointment_type, time_zone, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.StartAt,
		&s.EndAt,
		&s.Status,
		&s.PatientID,
		&s.AppointmentType,
		&s.TimeZone,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.StartAt = s.StartAt.UTC()
	s.EndAt = s.EndAt.UTC()
	return &s, nil
}

func collectAppointments(rows pgx.Rows, op string) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return result, nil
}

// Availability

func (q pgQueries) ListRules(ctx context.Context, providerID int64) ([]schedule.Rule, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE provider_id = $1
		ORDER BY id
	`, providerID)
	if err != nil {
		return nil, storageErr("list rules", err)
	}
	defer rows.Close()

	result := []schedule.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, storageErr("list rules", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list rules", err)
	}
	return result, nil
}

func (q pgQueries) DeleteRules(ctx context.Context, providerID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM availability_rules WHERE provider_id = $1`, providerID)
	return storageErr("delete rules", err)
}

func (q pgQueries) InsertRules(ctx context.Context, rules []schedule.Rule) error {
	if len(rules) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rules {
		var day *int16
		if r.DayOfWeek != nil {
			d := int16(*r.DayOfWeek)
			day = &d
		}
		batch.Queue(`
			INSERT INTO availability_rules
				(provider_id, kind, day_of_week, specific_date, start_time, end_time, is_available, time_zone)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ProviderID, r.Kind, day, pgDate(r.SpecificDate), pgTime(r.StartTime), pgTime(r.EndTime), r.IsAvailable, r.TimeZone)
	}

	results := q.db.SendBatch(ctx, batch)
	for range rules {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return storageErr("insert rules", err)
		}
	}
	return storageErr("insert rules", results.Close())
}

func (q pgQueries) LockRulesShared(ctx context.Context, providerID int64) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock_shared($1)`, providerID)
	return storageErr("lock rules shared", err)
}

func (q pgQueries) LockRulesExclusive(ctx context.Context, providerID int64) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, providerID)
	return storageErr("lock rules", err)
}

func (q pgQueries) ProviderIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT DISTINCT provider_id FROM availability_rules ORDER BY provider_id`)
	if err != nil {
		return nil, storageErr("list providers", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, storageErr("list providers", err)
	}
	return ids, nil
}

// Appointments

func (q pgQueries) Occupied(ctx context.Context, providerID int64, date schedule.Date) ([]Occupancy, error) {
	rows, err := q.db.Query(ctx, `
		SELECT start_time, patient_id
		FROM appointments
		WHERE provider_id = $1
		  AND episode_date = $2
		  AND status <> 'cancelled'
	`, providerID, pgDate(&date))
	if err != nil {
		return nil, storageErr("occupied starts", err)
	}
	defer rows.Close()

	var result []Occupancy
	for rows.Next() {
		var (
			t  pgtype.Time
			oc Occupancy
		)
		if err := rows.Scan(&t, &oc.PatientID); err != nil {
			return nil, storageErr("occupied starts", err)
		}
		oc.Start = fromPgTime(t)
		result = append(result, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("occupied starts", err)
	}
	return result, nil
}

func (q pgQueries) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO appointments
			(uuid, patient_id, provider_id, appointment_slot_id, episode_date, start_time, end_time,
			 episode_type, episode_details, vitals, episode_occur_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING `+appointmentColumns,
		a.UUID, a.PatientID, a.ProviderID, a.SlotID, pgDate(&a.EpisodeDate), pgTime(a.StartTime), pgTime(a.EndTime),
		a.EpisodeType, a.EpisodeDetails, nullableString(a.Vitals), pgDate(a.EpisodeOccurDate), a.Status, a.CreatedAt,
	)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, storageErr("insert appointment", err)
	}
	return created, nil
}

func (q pgQueries) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE uuid = $1
	`, id)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, storageErr("get appointment", err)
	}
	return a, nil
}

func (q pgQueries) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE uuid = $1
		FOR UPDATE
	`, id)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, storageErr("get appointment for update", err)
	}
	return a, nil
}

func (q pgQueries) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancelled_at = CASE WHEN $2::text = 'cancelled' THEN $4 ELSE cancelled_at END,
		    updated_at = $4
		WHERE uuid = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), at,
	)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, storageErr("update appointment status", err)
	}
	return a, nil
}

func (q pgQueries) CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, c Completion, at time.Time) (*Appointment, error) {
	prescriptions, err := marshalNullable(c.Prescriptions, len(c.Prescriptions) == 0)
	if err != nil {
		return nil, fmt.Errorf("encode prescriptions: %w", err)
	}
	vitalSigns, err := marshalNullable(c.VitalSigns, len(c.VitalSigns) == 0)
	if err != nil {
		return nil, fmt.Errorf("encode vital signs: %w", err)
	}

	row := q.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    evaluation_notes = $3,
		    diagnosis = $4,
		    treatment_plan = $5,
		    prescriptions = $6,
		    follow_up_date = $7,
		    vital_signs = $8,
		    next_appointment_date = $9,
		    completed_at = $10,
		    updated_at = $10
		WHERE uuid = $1
		  AND status = $2
		RETURNING `+appointmentColumns,
		id, string(from), c.EvaluationNotes, c.Diagnosis, c.TreatmentPlan, prescriptions,
		pgDate(c.FollowUpDate), vitalSigns, pgDate(c.NextAppointmentDate), at,
	)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, storageErr("complete appointment", err)
	}
	return a, nil
}

func (q pgQueries) ListByProvider(ctx context.Context, providerID int64, limit, offset int) ([]Appointment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		ORDER BY episode_date DESC, start_time DESC
		LIMIT $2 OFFSET $3
	`, providerID, limit, offset)
	if err != nil {
		return nil, storageErr("list provider appointments", err)
	}
	return collectAppointments(rows, "list provider appointments")
}

func (q pgQueries) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY episode_date DESC, start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, storageErr("list patient appointments", err)
	}
	return collectAppointments(rows, "list patient appointments")
}

// Materialized slots

func (q pgQueries) GetSlotAt(ctx context.Context, providerID int64, startAt time.Time) (*Slot, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND start_at = $2
	`, providerID, startAt)

	s, err := scanSlot(row)
	if err != nil {
		return nil, storageErr("get slot", err)
	}
	return s, nil
}

func (q pgQueries) ListSlots(ctx context.Context, providerID int64, from, to time.Time) ([]Slot, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at
	`, providerID, from, to)
	if err != nil {
		return nil, storageErr("list slots", err)
	}
	defer rows.Close()

	result := []Slot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, storageErr("list slots", err)
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list slots", err)
	}
	return result, nil
}

func (q pgQueries) InsertSlot(ctx context.Context, s Slot) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO slots (provider_id, start_at, end_at, status, patient_id, appointment_type, time_zone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id, start_at) DO NOTHING
	`, s.ProviderID, s.StartAt, s.EndAt, s.Status, s.PatientID, s.AppointmentType, s.TimeZone)
	if err != nil {
		return false, storageErr("insert slot", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q pgQueries) SetSlotStatus(ctx context.Context, id int64, status SlotStatus, patientID *int64) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE slots
		SET status = $2,
		    patient_id = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, status, patientID)
	if err != nil {
		return storageErr("set slot status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Event logging

func (q pgQueries) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	return storageErr("insert event log", err)
}
