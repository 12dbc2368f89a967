package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/pms-scheduling/internal/events"
	"github.com/hackgods/pms-scheduling/internal/schedule"
)

// transitions lists the statuses each status may move to. Completed, cancelled and
// no-show are terminal.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow, StatusCompleted},
	StatusConfirmed: {StatusCancelled, StatusNoShow, StatusCompleted},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition returns the error for an illegal move.
func checkTransition(from, to Status) error {
	if to == StatusCompleted && from == StatusCompleted {
		return ErrAlreadyCompleted
	}
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

var statusEvents = map[Status]string{
	StatusConfirmed: events.AppointmentConfirmed,
	StatusCancelled: events.AppointmentCancelled,
	StatusNoShow:    events.AppointmentNoShow,
	StatusCompleted: events.AppointmentCompleted,
}

// Complete attaches the clinical record and moves the appointment to completed. Only the
// owning provider may complete.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID, c Completion) (*Appointment, error) {
	if err := c.normalize(s.Today()); err != nil {
		return nil, err
	}

	var updated *Appointment
	err := s.store.InTx(ctx, func(q Queries) error {
		appt, err := q.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.isProvider(appt.ProviderID) {
			return ErrForbidden
		}
		if err := checkTransition(appt.Status, StatusCompleted); err != nil {
			return err
		}

		updated, err = q.CompleteAppointment(ctx, id, appt.Status, c, s.now())
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidTransition
		}
		if err != nil {
			return err
		}
		return s.logEvent(ctx, q, updated, events.AppointmentCompleted, map[string]any{
			"prescriptions": len(c.Prescriptions),
		})
	})
	if err != nil {
		s.log.Warn().Err(err).Str("appointment_id", id.String()).Str("actor", actor.String()).Msg("complete appointment failed")
		return nil, err
	}

	s.metrics.recordTransition(StatusCompleted)
	s.publish(ctx, events.AppointmentCompleted, updated)
	return updated, nil
}

// UpdateStatus performs a plain status move: confirm, cancel or no-show. Cancelling
// releases the start time for rebooking immediately.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, schedule.Invalid("status", "unknown status %q", to)
	}
	if to == StatusCompleted {
		return nil, schedule.Invalid("status", "completion requires the clinical record")
	}

	var updated *Appointment
	err := s.store.InTx(ctx, func(q Queries) error {
		appt, err := q.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.canSetStatus(appt, to) {
			return ErrForbidden
		}
		if err := checkTransition(appt.Status, to); err != nil {
			return err
		}

		updated, err = q.UpdateStatus(ctx, id, appt.Status, to, s.now())
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidTransition
		}
		if err != nil {
			return err
		}

		if to == StatusCancelled {
			if err := s.releaseSlot(ctx, q, appt); err != nil {
				return err
			}
		}
		return s.logEvent(ctx, q, updated, statusEvents[to], map[string]any{
			"from":  appt.Status,
			"actor": actor.String(),
		})
	})
	if err != nil {
		s.log.Warn().Err(err).Str("appointment_id", id.String()).Str("to", string(to)).Str("actor", actor.String()).Msg("status change failed")
		return nil, err
	}

	s.metrics.recordTransition(to)
	s.publish(ctx, statusEvents[to], updated)
	return updated, nil
}

// releaseSlot makes the materialized row of a cancelled appointment bookable again. Rows
// the appointment was not linked to are found by their start instant.
func (s *Service) releaseSlot(ctx context.Context, q Queries, appt *Appointment) error {
	if appt.SlotID != nil {
		err := q.SetSlotStatus(ctx, *appt.SlotID, SlotAvailable, nil)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	rules, err := q.ListRules(ctx, appt.ProviderID)
	if err != nil {
		return err
	}
	startAt := appt.StartTime.On(appt.EpisodeDate, s.zoneOf(rules)).UTC()
	row, err := q.GetSlotAt(ctx, appt.ProviderID, startAt)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case row.Status != SlotBooked || !samePatient(row.PatientID, &appt.PatientID):
		return nil
	}
	return q.SetSlotStatus(ctx, row.ID, SlotAvailable, nil)
}

func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.UpdateStatus(ctx, actor, id, StatusCancelled)
}

func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !actor.canView(appt) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// ListForProvider lists a provider's appointments, latest episode first.
func (s *Service) ListForProvider(ctx context.Context, actor Actor, providerID int64, limit, offset int) ([]Appointment, error) {
	if !actor.isProvider(providerID) && actor.Role != RoleSystem {
		return nil, ErrForbidden
	}
	limit, offset = ClampPage(limit, offset)

	appointments, err := s.store.ListByProvider(ctx, providerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by provider: %w", err)
	}
	return appointments, nil
}

// ListForPatient lists a patient's appointments, latest episode first.
func (s *Service) ListForPatient(ctx context.Context, actor Actor, patientID int64, limit, offset int) ([]Appointment, error) {
	if !actor.isPatient(patientID) && actor.Role != RoleSystem {
		return nil, ErrForbidden
	}
	limit, offset = ClampPage(limit, offset)

	appointments, err := s.store.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}
