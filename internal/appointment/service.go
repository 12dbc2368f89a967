package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/pms-scheduling/internal/config"
	"github.com/hackgods/pms-scheduling/internal/events"
	"github.com/hackgods/pms-scheduling/internal/lock"
	"github.com/hackgods/pms-scheduling/internal/schedule"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	publishTimeout  = 2 * time.Second
)

type Service struct {
	store     Store
	locker    lock.Locker
	cfg       config.Config
	loc       *time.Location
	now       func() time.Time
	log       zerolog.Logger
	publisher events.Publisher
	metrics   *Metrics
	rules     *RuleCache
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRuleCache(c *RuleCache) Option {
	return func(s *Service) { s.rules = c }
}

// NewService wires the scheduling core. locker may be nil, in which case bookings rely
// on the database constraint alone.
func NewService(store Store, locker lock.Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		store:     store,
		locker:    locker,
		cfg:       cfg,
		loc:       cfg.Location(),
		now:       time.Now,
		log:       zerolog.Nop(),
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.SlotDuration <= 0 {
		s.cfg.SlotDuration = schedule.DefaultSlotDuration
	}
	return s
}

// Today is the current date in the practice's default zone.
func (s *Service) Today() schedule.Date {
	return schedule.DateOf(s.now().In(s.loc))
}

// zoneOf returns the zone the provider's rules were saved in.
func (s *Service) zoneOf(rules []schedule.Rule) *time.Location {
	for _, r := range rules {
		if r.TimeZone == "" {
			continue
		}
		if loc, err := schedule.LoadZone(r.TimeZone); err == nil {
			return loc
		}
	}
	return s.loc
}

func starts(occ []Occupancy) []schedule.TimeOfDay {
	out := make([]schedule.TimeOfDay, len(occ))
	for i, o := range occ {
		out[i] = o.Start
	}
	return out
}

// AvailableSlots resolves the bookable slots of a provider on date. An unknown provider
// has no rules and therefore no slots.
func (s *Service) AvailableSlots(ctx context.Context, providerID int64, date schedule.Date) ([]schedule.Slot, error) {
	if providerID <= 0 {
		return nil, schedule.Invalid("provider_id", "must be positive")
	}
	if date.IsZero() {
		return nil, schedule.Invalid("date", "is required")
	}

	rules, gen, ok := s.rules.Get(providerID)
	if !ok {
		var err error
		rules, err = s.store.ListRules(ctx, providerID)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		s.rules.Add(providerID, gen, rules)
	}

	occupied, err := s.store.Occupied(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("load occupied slots: %w", err)
	}

	return schedule.Resolve(providerID, rules, date, starts(occupied), s.cfg.SlotDuration), nil
}

func bookingLockKey(providerID int64, date schedule.Date) string {
	return fmt.Sprintf("booking:%d:%s", providerID, date)
}

// Book converts a slot selection into a scheduled appointment. Availability is resolved
// again inside the transaction, so a slot list the caller fetched earlier is never
// trusted.
func (s *Service) Book(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	started := s.now()
	appt, err := s.book(ctx, actor, req)
	s.metrics.recordBooking(err, s.now().Sub(started))

	logEvent := s.log.Info()
	if err != nil {
		logEvent = s.log.Warn()
		if errors.Is(err, ErrStorage) {
			logEvent = s.log.Error()
		}
		logEvent = logEvent.Err(err).Str("code", Code(err))
	} else {
		logEvent = logEvent.Str("appointment_id", appt.UUID.String())
	}
	logEvent.
		Int64("provider_id", req.ProviderID).
		Int64("patient_id", req.PatientID).
		Str("date", req.Date.String()).
		Str("start_time", req.StartTime.String()).
		Str("actor", actor.String()).
		Msg("booking")

	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentBooked, appt)
	return appt, nil
}

func (s *Service) book(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	if err := req.normalize(s.Today()); err != nil {
		return nil, err
	}
	if !actor.canBook(req.PatientID, req.ProviderID) {
		return nil, ErrForbidden
	}

	var created *Appointment
	err := s.withLock(ctx, bookingLockKey(req.ProviderID, req.Date), func(lockCtx context.Context) error {
		var err error
		created, err = s.bookOnce(lockCtx, req)
		if errors.Is(err, errUniqueViolation) {
			// a concurrent booking committed between our read and insert
			created, err = s.bookOnce(lockCtx, req)
			if errors.Is(err, errUniqueViolation) {
				err = ErrSlotAlreadyBooked
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// withLock runs fn under the distributed lock for key. When the lock cannot be taken the
// booking still runs: the active-appointment unique index remains the final guard.
func (s *Service) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	ran := false
	err := s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		ran = true
		return fn(lockCtx)
	})
	if ran || ctx.Err() != nil {
		return err
	}

	s.log.Warn().Err(err).Str("key", key).Msg("booking lock unavailable, relying on database constraint")
	s.metrics.recordLockFallback()
	return fn(ctx)
}

func (s *Service) bookOnce(ctx context.Context, req BookingRequest) (*Appointment, error) {
	var created *Appointment

	err := s.store.InTx(ctx, func(q Queries) error {
		if err := q.LockRulesShared(ctx, req.ProviderID); err != nil {
			return err
		}
		rules, err := q.ListRules(ctx, req.ProviderID)
		if err != nil {
			return err
		}
		occupied, err := q.Occupied(ctx, req.ProviderID, req.Date)
		if err != nil {
			return err
		}

		slots := schedule.Resolve(req.ProviderID, rules, req.Date, starts(occupied), s.cfg.SlotDuration)
		slot, ok := schedule.Find(slots, req.StartTime)
		if !ok {
			return ErrSlotUnavailable
		}
		if !slot.Available {
			return ErrSlotAlreadyBooked
		}

		startAt := slot.StartTime.On(slot.Date, s.zoneOf(rules)).UTC()
		materialized, err := q.GetSlotAt(ctx, req.ProviderID, startAt)
		switch {
		case errors.Is(err, ErrNotFound):
			materialized = nil
		case err != nil:
			return err
		case materialized.Status == SlotBooked:
			return ErrSlotAlreadyBooked
		case materialized.Status != SlotAvailable:
			return ErrSlotUnavailable
		}

		now := s.now()
		appt := Appointment{
			UUID:             uuid.New(),
			PatientID:        req.PatientID,
			ProviderID:       req.ProviderID,
			EpisodeDate:      req.Date,
			StartTime:        slot.StartTime,
			EndTime:          slot.EndTime,
			EpisodeType:      req.EpisodeType,
			EpisodeDetails:   req.EpisodeDetails,
			Vitals:           req.Vitals,
			EpisodeOccurDate: req.EpisodeOccurDate,
			Status:           StatusScheduled,
			CreatedAt:        now,
		}
		if materialized != nil {
			appt.SlotID = &materialized.ID
		}

		created, err = q.InsertAppointment(ctx, appt)
		if err != nil {
			return err
		}

		if materialized != nil {
			patientID := req.PatientID
			if err := q.SetSlotStatus(ctx, materialized.ID, SlotBooked, &patientID); err != nil {
				return err
			}
		}

		return s.logEvent(ctx, q, created, events.AppointmentBooked, map[string]any{
			"episode_type": created.EpisodeType,
			"slot_id":      created.SlotID,
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// logEvent appends an event_logs row inside the caller's transaction.
func (s *Service) logEvent(ctx context.Context, q Queries, appt *Appointment, eventType string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = appt.Status
	payload["provider_id"] = appt.ProviderID
	payload["patient_id"] = appt.PatientID
	payload["episode_date"] = appt.EpisodeDate.String()
	payload["start_time"] = appt.StartTime.String()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	id := appt.UUID
	return q.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &id,
		Payload:       data,
		CreatedAt:     s.now(),
	})
}

// publish notifies downstream consumers after commit. Failures are logged, never returned:
// the appointment is already durable.
func (s *Service) publish(ctx context.Context, eventType string, appt *Appointment) {
	id := appt.UUID
	s.publishEvent(ctx, events.Event{
		Type:          eventType,
		AppointmentID: &id,
		ProviderID:    appt.ProviderID,
		PatientID:     appt.PatientID,
		Status:        string(appt.Status),
		EpisodeDate:   appt.EpisodeDate.String(),
		StartTime:     appt.StartTime.String(),
		OccurredAt:    s.now().UTC(),
	})
}

func (s *Service) publishEvent(ctx context.Context, ev events.Event) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, ev); err != nil {
		s.log.Error().Err(err).Str("event", ev.Type).Int64("provider_id", ev.ProviderID).Msg("publish event failed")
	}
}

// ClampPage applies the default and maximum page size.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
