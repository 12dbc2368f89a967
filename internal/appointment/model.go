package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/pms-scheduling/internal/schedule"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

type EpisodeType string

const (
	EpisodeConsultation EpisodeType = "consultation"
	EpisodeFollowUp     EpisodeType = "follow_up"
	EpisodeEmergency    EpisodeType = "emergency"
	EpisodeTelemedicine EpisodeType = "telemedicine"
)

func (t EpisodeType) Valid() bool {
	switch t {
	case EpisodeConsultation, EpisodeFollowUp, EpisodeEmergency, EpisodeTelemedicine:
		return true
	}
	return false
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
	SlotBlocked   SlotStatus = "blocked"
)

type Prescription struct {
	Medication   string `json:"medication"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions"`
}

// Appointment is one clinical episode. It is never deleted; cancellation is a status.
type Appointment struct {
	ID               int64
	UUID             uuid.UUID
	PatientID        int64
	ProviderID       int64
	SlotID           *int64
	EpisodeDate      schedule.Date
	StartTime        schedule.TimeOfDay
	EndTime          schedule.TimeOfDay
	EpisodeType      EpisodeType
	EpisodeDetails   string
	Vitals           string
	EpisodeOccurDate *schedule.Date
	Status           Status

	EvaluationNotes     *string
	Diagnosis           *string
	TreatmentPlan       *string
	Prescriptions       []Prescription
	FollowUpDate        *schedule.Date
	VitalSigns          map[string]string
	NextAppointmentDate *schedule.Date
	CompletedAt         *time.Time
	CancelledAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the appointment still occupies its start time.
func (a *Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// Slot is a materialized slot row. Rows are a projection of the rules, except that a
// booked row records who holds it.
type Slot struct {
	ID              int64
	ProviderID      int64
	StartAt         time.Time
	EndAt           time.Time
	Status          SlotStatus
	PatientID       *int64
	AppointmentType string
	TimeZone        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Completion carries the clinical fields attached when an appointment is completed.
type Completion struct {
	EvaluationNotes     string
	Diagnosis           string
	TreatmentPlan       string
	Prescriptions       []Prescription
	FollowUpDate        *schedule.Date
	VitalSigns          map[string]string
	NextAppointmentDate *schedule.Date
}
