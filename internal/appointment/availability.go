package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/pms-scheduling/internal/events"
	"github.com/hackgods/pms-scheduling/internal/schedule"
)

// BlockDay closes a provider for a date. Without From and To the whole day is closed.
type BlockDay struct {
	Date schedule.Date
	From *schedule.TimeOfDay
	To   *schedule.TimeOfDay
}

// AvailabilityRequest is a provider's complete availability. It replaces whatever was
// stored before.
type AvailabilityRequest struct {
	TimeZone      string
	Weekly        []schedule.Rule
	SpecificDates []schedule.Rule
	BlockDays     []BlockDay
}

// MaterializeResult counts the slot rows a projection touched.
type MaterializeResult struct {
	Inserted int `json:"inserted"`
	Booked   int `json:"booked"`
	Blocked  int `json:"blocked"`
	Reopened int `json:"reopened"`
}

func (r *MaterializeResult) add(o MaterializeResult) {
	r.Inserted += o.Inserted
	r.Booked += o.Booked
	r.Blocked += o.Blocked
	r.Reopened += o.Reopened
}

type GenerateResult struct {
	Generated int `json:"generated"`
	Inserted  int `json:"inserted"`
}

func (s *Service) horizon() int {
	if s.cfg.HorizonDays <= 0 {
		return 28
	}
	return s.cfg.HorizonDays
}

// ListRules returns the provider's stored rules.
func (s *Service) ListRules(ctx context.Context, providerID int64) ([]schedule.Rule, error) {
	if providerID <= 0 {
		return nil, schedule.Invalid("provider_id", "must be positive")
	}
	rules, err := s.store.ListRules(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// ReplaceAvailability deletes every rule of the provider and inserts the new set in one
// transaction. Existing slot rows inside the materialization horizon are re-projected
// before commit, so bookings never see rows that contradict the new rules.
func (s *Service) ReplaceAvailability(ctx context.Context, actor Actor, providerID int64, req AvailabilityRequest) ([]schedule.Rule, error) {
	if providerID <= 0 {
		return nil, schedule.Invalid("provider_id", "must be positive")
	}
	if !actor.canManageAvailability(providerID) {
		return nil, ErrForbidden
	}

	rules, err := s.buildRules(providerID, req)
	if err != nil {
		return nil, err
	}

	today := s.Today()
	var projected MaterializeResult
	err = s.store.InTx(ctx, func(q Queries) error {
		if err := q.LockRulesExclusive(ctx, providerID); err != nil {
			return err
		}
		if err := q.DeleteRules(ctx, providerID); err != nil {
			return err
		}
		if err := q.InsertRules(ctx, rules); err != nil {
			return err
		}

		projected, err = s.reproject(ctx, q, providerID, rules, today, today.AddDays(s.horizon()-1), false)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]any{
			"provider_id": providerID,
			"rules":       len(rules),
			"block_days":  len(req.BlockDays),
			"projection":  projected,
			"actor":       actor.String(),
		})
		if err != nil {
			return fmt.Errorf("marshal availability payload: %w", err)
		}
		return q.InsertEvent(ctx, EventLog{
			EventType: events.AvailabilityReplaced,
			Payload:   payload,
			CreatedAt: s.now(),
		})
	})
	if err != nil {
		s.log.Warn().Err(err).Int64("provider_id", providerID).Str("actor", actor.String()).Msg("replace availability failed")
		return nil, err
	}

	s.rules.Invalidate(providerID)
	s.metrics.recordMaterialized(projected)
	s.log.Info().
		Int64("provider_id", providerID).
		Int("rules", len(rules)).
		Int("blocked", projected.Blocked).
		Int("reopened", projected.Reopened).
		Msg("availability replaced")
	s.publishEvent(ctx, events.Event{
		Type:       events.AvailabilityReplaced,
		ProviderID: providerID,
		OccurredAt: s.now().UTC(),
	})

	return s.ListRules(ctx, providerID)
}

// buildRules validates the request and expands block days into specific-date rules.
func (s *Service) buildRules(providerID int64, req AvailabilityRequest) ([]schedule.Rule, error) {
	zone := req.TimeZone
	if zone == "" {
		zone = s.cfg.DefaultTimeZone
	}
	loc, err := schedule.LoadZone(zone)
	if err != nil {
		return nil, err
	}
	today := schedule.DateOf(s.now().In(loc))

	rules := make([]schedule.Rule, 0, len(req.Weekly)+len(req.SpecificDates)+len(req.BlockDays))
	weekly := make(map[time.Weekday][]schedule.Rule)
	openDates := make(map[schedule.Date]bool)

	for _, r := range req.Weekly {
		r.ID = 0
		r.ProviderID = providerID
		r.Kind = schedule.KindWeekly
		r.TimeZone = zone
		if err := r.Validate(); err != nil {
			return nil, err
		}
		weekly[*r.DayOfWeek] = append(weekly[*r.DayOfWeek], r)
		rules = append(rules, r)
	}

	for _, r := range req.SpecificDates {
		r.ID = 0
		r.ProviderID = providerID
		r.Kind = schedule.KindSpecificDate
		r.TimeZone = zone
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if r.SpecificDate.Before(today) {
			return nil, schedule.Invalid("specific_date", "%s is in the past", r.SpecificDate)
		}
		if r.IsAvailable {
			openDates[*r.SpecificDate] = true
		}
		rules = append(rules, r)
	}

	for _, b := range req.BlockDays {
		if b.Date.IsZero() {
			return nil, schedule.Invalid("block_days.date", "is required")
		}
		if b.Date.Before(today) {
			return nil, schedule.Invalid("block_days.date", "%s is in the past", b.Date)
		}
		if (b.From == nil) != (b.To == nil) {
			return nil, schedule.Invalid("block_days", "from and to must be given together")
		}

		if b.From == nil {
			closure := schedule.OnDate(providerID, b.Date, 0, schedule.EndOfDay, false)
			closure.TimeZone = zone
			rules = append(rules, closure)
			continue
		}

		closure := schedule.OnDate(providerID, b.Date, *b.From, *b.To, false)
		closure.TimeZone = zone
		if err := closure.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, closure)

		// A specific-date rule hides the weekly set, so the rest of the day has to be
		// carried over explicitly.
		if openDates[b.Date] {
			continue
		}
		for _, w := range weekly[b.Date.Weekday()] {
			open := schedule.OnDate(providerID, b.Date, w.StartTime, w.EndTime, true)
			open.TimeZone = zone
			rules = append(rules, open)
		}
		openDates[b.Date] = true
	}

	return rules, nil
}

// MaterializeRange projects the provider's rules into slot rows for from..to inclusive.
// Dates before today are skipped.
func (s *Service) MaterializeRange(ctx context.Context, actor Actor, providerID int64, from, to schedule.Date) (MaterializeResult, error) {
	if providerID <= 0 {
		return MaterializeResult{}, schedule.Invalid("provider_id", "must be positive")
	}
	if !actor.canManageAvailability(providerID) {
		return MaterializeResult{}, ErrForbidden
	}
	if from.IsZero() || to.IsZero() {
		return MaterializeResult{}, schedule.Invalid("date", "from and to are required")
	}
	if to.Before(from) {
		return MaterializeResult{}, schedule.Invalid("to", "must not be before from")
	}
	if from.DaysUntil(to) > schedule.MaxRecurrenceDays {
		return MaterializeResult{}, schedule.Invalid("to", "must be within %d days of from", schedule.MaxRecurrenceDays)
	}
	if today := s.Today(); from.Before(today) {
		from = today
	}
	if to.Before(from) {
		return MaterializeResult{}, nil
	}

	var res MaterializeResult
	err := s.store.InTx(ctx, func(q Queries) error {
		if err := q.LockRulesShared(ctx, providerID); err != nil {
			return err
		}
		rules, err := q.ListRules(ctx, providerID)
		if err != nil {
			return err
		}
		res, err = s.reproject(ctx, q, providerID, rules, from, to, true)
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Int64("provider_id", providerID).Msg("materialize slots failed")
		return MaterializeResult{}, err
	}

	s.metrics.recordMaterialized(res)
	s.log.Debug().
		Int64("provider_id", providerID).
		Str("from", from.String()).
		Str("to", to.String()).
		Interface("result", res).
		Msg("slots materialized")
	return res, nil
}

// MaterializeHorizon runs MaterializeRange for every provider with rules over the
// configured horizon. A failing provider does not stop the others.
func (s *Service) MaterializeHorizon(ctx context.Context) (MaterializeResult, error) {
	providers, err := s.store.ProviderIDs(ctx)
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("list providers: %w", err)
	}

	today := s.Today()
	to := today.AddDays(s.horizon() - 1)

	var total MaterializeResult
	var errs []error
	for _, providerID := range providers {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := s.MaterializeRange(ctx, System, providerID, today, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %d: %w", providerID, err))
			continue
		}
		total.add(res)
	}
	return total, errors.Join(errs...)
}

type wantedSlot struct {
	slot    schedule.Slot
	startAt time.Time
}

// reproject brings existing slot rows of from..to in line with rules and the current
// appointments. Rows held by an active appointment are booked; rows off the resolved grid
// are blocked; the rest are available. Cancelled rows are left alone. With insertMissing,
// future grid slots that have no row yet are inserted.
func (s *Service) reproject(ctx context.Context, q Queries, providerID int64, rules []schedule.Rule, from, to schedule.Date, insertMissing bool) (MaterializeResult, error) {
	var res MaterializeResult
	loc := s.zoneOf(rules)

	var ordered []wantedSlot
	wanted := make(map[time.Time]bool)
	held := make(map[time.Time]int64)
	for d := from; !d.After(to); d = d.AddDays(1) {
		occupied, err := q.Occupied(ctx, providerID, d)
		if err != nil {
			return res, err
		}
		for _, o := range occupied {
			held[o.Start.On(d, loc).UTC()] = o.PatientID
		}

		for _, slot := range schedule.Resolve(providerID, rules, d, starts(occupied), s.cfg.SlotDuration) {
			startAt := slot.StartTime.On(d, loc).UTC()
			if wanted[startAt] {
				continue
			}
			wanted[startAt] = true
			ordered = append(ordered, wantedSlot{slot: slot, startAt: startAt})
		}
	}

	rows, err := q.ListSlots(ctx, providerID, from.In(loc), to.AddDays(1).In(loc))
	if err != nil {
		return res, err
	}

	seen := make(map[time.Time]bool, len(rows))
	for _, row := range rows {
		startAt := row.StartAt.UTC()
		seen[startAt] = true
		if row.Status == SlotCancelled {
			continue
		}

		var status SlotStatus
		var patientID *int64
		if holder, ok := held[startAt]; ok {
			status, patientID = SlotBooked, &holder
		} else if wanted[startAt] {
			status = SlotAvailable
		} else {
			status = SlotBlocked
		}
		if row.Status == status && samePatient(row.PatientID, patientID) {
			continue
		}

		if err := q.SetSlotStatus(ctx, row.ID, status, patientID); err != nil {
			return res, err
		}
		switch status {
		case SlotBlocked:
			res.Blocked++
		case SlotBooked:
			res.Booked++
		case SlotAvailable:
			res.Reopened++
		}
	}

	if !insertMissing {
		return res, nil
	}

	now := s.now()
	for _, w := range ordered {
		if seen[w.startAt] || !w.startAt.After(now) {
			continue
		}
		row := Slot{
			ProviderID:      providerID,
			StartAt:         w.startAt,
			EndAt:           w.slot.EndTime.On(w.slot.Date, loc).UTC(),
			Status:          SlotAvailable,
			AppointmentType: string(EpisodeConsultation),
			TimeZone:        loc.String(),
		}
		if holder, ok := held[w.startAt]; ok {
			row.Status, row.PatientID = SlotBooked, &holder
		}
		inserted, err := q.InsertSlot(ctx, row)
		if err != nil {
			return res, err
		}
		if inserted {
			res.Inserted++
		}
	}
	return res, nil
}

func samePatient(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// GenerateSlots expands def and stores every future slot it yields. Slots that already
// exist are kept as they are.
func (s *Service) GenerateSlots(ctx context.Context, actor Actor, def schedule.Definition) (GenerateResult, error) {
	if def.ProviderID <= 0 {
		return GenerateResult{}, schedule.Invalid("provider_id", "must be positive")
	}
	if !actor.canManageAvailability(def.ProviderID) {
		return GenerateResult{}, ErrForbidden
	}
	if def.TimeZone == "" {
		def.TimeZone = s.cfg.DefaultTimeZone
	}
	if def.AppointmentType == "" {
		def.AppointmentType = string(EpisodeConsultation)
	}
	if !EpisodeType(def.AppointmentType).Valid() {
		return GenerateResult{}, schedule.Invalid("appointment_type", "unknown type %q", def.AppointmentType)
	}

	generated, err := schedule.Generate(def, s.now())
	if err != nil {
		return GenerateResult{}, err
	}

	res := GenerateResult{Generated: len(generated)}
	err = s.store.InTx(ctx, func(q Queries) error {
		res.Inserted = 0
		for _, g := range generated {
			inserted, err := q.InsertSlot(ctx, Slot{
				ProviderID:      g.ProviderID,
				StartAt:         g.StartAt,
				EndAt:           g.EndAt,
				Status:          SlotAvailable,
				AppointmentType: g.AppointmentType,
				TimeZone:        g.TimeZone,
			})
			if err != nil {
				return err
			}
			if inserted {
				res.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Int64("provider_id", def.ProviderID).Msg("generate slots failed")
		return GenerateResult{}, err
	}

	s.metrics.recordMaterialized(MaterializeResult{Inserted: res.Inserted})
	s.log.Info().
		Int64("provider_id", def.ProviderID).
		Str("pattern", string(def.Recurrence.Pattern)).
		Int("generated", res.Generated).
		Int("inserted", res.Inserted).
		Msg("slots generated")
	return res, nil
}
