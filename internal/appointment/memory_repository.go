package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/pms-scheduling/internal/schedule"
)

// MemoryStore is a Store kept in process memory. Transactions are serialized and work on
// a copy of the state that replaces the original only on commit. It enforces the same
// uniqueness rules as the Postgres schema.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	rules    map[int64][]schedule.Rule
	appts    []*Appointment
	slots    []*Slot
	events   []EventLog
	ruleSeq  int64
	apptSeq  int64
	slotSeq  int64
	eventSeq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{rules: make(map[int64][]schedule.Rule)}}
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}
	m.state = work
	return nil
}

// Events returns a copy of the event log.
func (m *MemoryStore) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventLog(nil), m.state.events...)
}

func (m *MemoryStore) view(fn func(s *memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (s *memState) clone() *memState {
	c := *s
	c.rules = make(map[int64][]schedule.Rule, len(s.rules))
	for k, v := range s.rules {
		c.rules[k] = append([]schedule.Rule(nil), v...)
	}
	c.appts = make([]*Appointment, len(s.appts))
	for i, a := range s.appts {
		cp := *a
		c.appts[i] = &cp
	}
	c.slots = make([]*Slot, len(s.slots))
	for i, sl := range s.slots {
		cp := *sl
		c.slots[i] = &cp
	}
	c.events = append([]EventLog(nil), s.events...)
	return &c
}

// Availability

func (s *memState) ListRules(_ context.Context, providerID int64) ([]schedule.Rule, error) {
	return append([]schedule.Rule{}, s.rules[providerID]...), nil
}

func (s *memState) DeleteRules(_ context.Context, providerID int64) error {
	delete(s.rules, providerID)
	return nil
}

func (s *memState) InsertRules(_ context.Context, rules []schedule.Rule) error {
	for _, r := range rules {
		s.ruleSeq++
		r.ID = s.ruleSeq
		s.rules[r.ProviderID] = append(s.rules[r.ProviderID], r)
	}
	return nil
}

// Transactions are already serialized, so rule locks have nothing to add.
func (s *memState) LockRulesShared(context.Context, int64) error    { return nil }
func (s *memState) LockRulesExclusive(context.Context, int64) error { return nil }

func (s *memState) ProviderIDs(context.Context) ([]int64, error) {
	ids := []int64{}
	for id, rules := range s.rules {
		if len(rules) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Appointments

func (s *memState) Occupied(_ context.Context, providerID int64, date schedule.Date) ([]Occupancy, error) {
	var out []Occupancy
	for _, a := range s.appts {
		if a.ProviderID == providerID && a.EpisodeDate == date && a.Active() {
			out = append(out, Occupancy{Start: a.StartTime, PatientID: a.PatientID})
		}
	}
	return out, nil
}

func (s *memState) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	for _, e := range s.appts {
		if a.Active() && e.Active() && e.ProviderID == a.ProviderID && e.EpisodeDate == a.EpisodeDate && e.StartTime == a.StartTime {
			return nil, errUniqueViolation
		}
		if e.UUID == a.UUID {
			return nil, &StorageError{Op: "insert appointment", Err: errDuplicateUUID}
		}
	}
	s.apptSeq++
	a.ID = s.apptSeq
	a.UpdatedAt = a.CreatedAt
	s.appts = append(s.appts, &a)
	cp := a
	return &cp, nil
}

func (s *memState) find(id uuid.UUID) *Appointment {
	for _, a := range s.appts {
		if a.UUID == id {
			return a
		}
	}
	return nil
}

func (s *memState) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a := s.find(id)
	if a == nil {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memState) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.GetAppointment(ctx, id)
}

func (s *memState) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error) {
	a := s.find(id)
	if a == nil || a.Status != from {
		return nil, ErrNotFound
	}
	a.Status = to
	a.UpdatedAt = at
	if to == StatusCancelled {
		t := at
		a.CancelledAt = &t
	}
	cp := *a
	return &cp, nil
}

func (s *memState) CompleteAppointment(_ context.Context, id uuid.UUID, from Status, c Completion, at time.Time) (*Appointment, error) {
	a := s.find(id)
	if a == nil || a.Status != from {
		return nil, ErrNotFound
	}
	a.Status = StatusCompleted
	a.EvaluationNotes = &c.EvaluationNotes
	a.Diagnosis = &c.Diagnosis
	a.TreatmentPlan = &c.TreatmentPlan
	a.Prescriptions = append([]Prescription(nil), c.Prescriptions...)
	a.FollowUpDate = c.FollowUpDate
	a.VitalSigns = c.VitalSigns
	a.NextAppointmentDate = c.NextAppointmentDate
	t := at
	a.CompletedAt = &t
	a.UpdatedAt = at
	cp := *a
	return &cp, nil
}

func (s *memState) list(match func(*Appointment) bool, limit, offset int) []Appointment {
	var out []Appointment
	for _, a := range s.appts {
		if match(a) {
			out = append(out, *a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].EpisodeDate.Compare(out[j].EpisodeDate); c != 0 {
			return c > 0
		}
		return out[i].StartTime > out[j].StartTime
	})
	if offset >= len(out) {
		return []Appointment{}
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (s *memState) ListByProvider(_ context.Context, providerID int64, limit, offset int) ([]Appointment, error) {
	return s.list(func(a *Appointment) bool { return a.ProviderID == providerID }, limit, offset), nil
}

func (s *memState) ListByPatient(_ context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	return s.list(func(a *Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

// Materialized slots

func (s *memState) GetSlotAt(_ context.Context, providerID int64, startAt time.Time) (*Slot, error) {
	for _, sl := range s.slots {
		if sl.ProviderID == providerID && sl.StartAt.Equal(startAt) {
			cp := *sl
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memState) ListSlots(_ context.Context, providerID int64, from, to time.Time) ([]Slot, error) {
	out := []Slot{}
	for _, sl := range s.slots {
		if sl.ProviderID == providerID && !sl.StartAt.Before(from) && sl.StartAt.Before(to) {
			out = append(out, *sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (s *memState) InsertSlot(ctx context.Context, sl Slot) (bool, error) {
	if _, err := s.GetSlotAt(ctx, sl.ProviderID, sl.StartAt); err == nil {
		return false, nil
	}
	s.slotSeq++
	sl.ID = s.slotSeq
	sl.StartAt = sl.StartAt.UTC()
	sl.EndAt = sl.EndAt.UTC()
	s.slots = append(s.slots, &sl)
	return true, nil
}

func (s *memState) SetSlotStatus(_ context.Context, id int64, status SlotStatus, patientID *int64) error {
	for _, sl := range s.slots {
		if sl.ID == id {
			sl.Status = status
			sl.PatientID = patientID
			return nil
		}
	}
	return ErrNotFound
}

// Event logging

func (s *memState) InsertEvent(_ context.Context, ev EventLog) error {
	s.eventSeq++
	ev.ID = s.eventSeq
	s.events = append(s.events, ev)
	return nil
}

// MemoryStore outside a transaction

func (m *MemoryStore) ListRules(ctx context.Context, providerID int64) (out []schedule.Rule, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.ListRules(ctx, providerID)
		return err
	})
	return out, err
}

func (m *MemoryStore) DeleteRules(ctx context.Context, providerID int64) error {
	return m.view(func(s *memState) error { return s.DeleteRules(ctx, providerID) })
}

func (m *MemoryStore) InsertRules(ctx context.Context, rules []schedule.Rule) error {
	return m.view(func(s *memState) error { return s.InsertRules(ctx, rules) })
}

func (m *MemoryStore) LockRulesShared(context.Context, int64) error    { return nil }
func (m *MemoryStore) LockRulesExclusive(context.Context, int64) error { return nil }

func (m *MemoryStore) ProviderIDs(ctx context.Context) (out []int64, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.ProviderIDs(ctx)
		return err
	})
	return out, err
}

func (m *MemoryStore) Occupied(ctx context.Context, providerID int64, date schedule.Date) (out []Occupancy, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.Occupied(ctx, providerID, date)
		return err
	})
	return out, err
}

func (m *MemoryStore) InsertAppointment(ctx context.Context, a Appointment) (out *Appointment, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.InsertAppointment(ctx, a)
		return err
	})
	return out, err
}

func (m *MemoryStore) GetAppointment(ctx context.Context, id uuid.UUID) (out *Appointment, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.GetAppointment(ctx, id)
		return err
	})
	return out, err
}

func (m *MemoryStore) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.GetAppointment(ctx, id)
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (out *Appointment, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.UpdateStatus(ctx, id, from, to, at)
		return err
	})
	return out, err
}

func (m *MemoryStore) CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, c Completion, at time.Time) (out *Appointment, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.CompleteAppointment(ctx, id, from, c, at)
		return err
	})
	return out, err
}

func (m *MemoryStore) ListByProvider(ctx context.Context, providerID int64, limit, offset int) (out []Appointment, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.ListByProvider(ctx, providerID, limit, offset)
		return err
	})
	return out, err
}

func (m *MemoryStore) ListByPatient(ctx context.Context, patientID int64, limit, offset int) (out []Appointment, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.ListByPatient(ctx, patientID, limit, offset)
		return err
	})
	return out, err
}

func (m *MemoryStore) GetSlotAt(ctx context.Context, providerID int64, startAt time.Time) (out *Slot, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.GetSlotAt(ctx, providerID, startAt)
		return err
	})
	return out, err
}

func (m *MemoryStore) ListSlots(ctx context.Context, providerID int64, from, to time.Time) (out []Slot, err error) {
	err = m.view(func(s *memState) error {
		out, err = s.ListSlots(ctx, providerID, from, to)
		return err
	})
	return out, err
}

func (m *MemoryStore) InsertSlot(ctx context.Context, sl Slot) (ok bool, err error) {
	err = m.view(func(s *memState) error {
		ok, err = s.InsertSlot(ctx, sl)
		return err
	})
	return ok, err
}

func (m *MemoryStore) SetSlotStatus(ctx context.Context, id int64, status SlotStatus, patientID *int64) error {
	return m.view(func(s *memState) error { return s.SetSlotStatus(ctx, id, status, patientID) })
}

func (m *MemoryStore) InsertEvent(ctx context.Context, ev EventLog) error {
	return m.view(func(s *memState) error { return s.InsertEvent(ctx, ev) })
}
