package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/pms-scheduling/internal/schedule"
)

// Occupancy is a start time held by an active appointment.
type Occupancy struct {
	Start     schedule.TimeOfDay
	PatientID int64
}

// Queries contains all storage interactions needed by the service. The same contract
// runs against the pool and inside a transaction.
type Queries interface {
	// Availability
	ListRules(ctx context.Context, providerID int64) ([]schedule.Rule, error)
	DeleteRules(ctx context.Context, providerID int64) error
	InsertRules(ctx context.Context, rules []schedule.Rule) error
	// LockRulesShared and LockRulesExclusive hold a transaction-scoped lock on a
	// provider's rule set. They are only meaningful inside InTx.
	LockRulesShared(ctx context.Context, providerID int64) error
	LockRulesExclusive(ctx context.Context, providerID int64) error
	// ProviderIDs lists every provider that has at least one rule.
	ProviderIDs(ctx context.Context) ([]int64, error)

	// Appointments
	// Occupied lists the start times held by non-cancelled appointments on date.
	Occupied(ctx context.Context, providerID int64, date schedule.Date) ([]Occupancy, error)
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus moves an appointment from one status to another and fails with
	// ErrNotFound when the row is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, c Completion, at time.Time) (*Appointment, error)
	ListByProvider(ctx context.Context, providerID int64, limit, offset int) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error)

	// Materialized slots
	GetSlotAt(ctx context.Context, providerID int64, startAt time.Time) (*Slot, error)
	ListSlots(ctx context.Context, providerID int64, from, to time.Time) ([]Slot, error)
	// InsertSlot stores s unless a row already exists for (provider, start). It reports
	// whether a row was inserted.
	InsertSlot(ctx context.Context, s Slot) (bool, error)
	SetSlotStatus(ctx context.Context, id int64, status SlotStatus, patientID *int64) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Store is Queries plus transactions. InTx commits when fn returns nil and rolls back
// otherwise, including when ctx ends first.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}
