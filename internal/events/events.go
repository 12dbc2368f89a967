package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentBooked    = "appointment.booked"
	AppointmentConfirmed = "appointment.confirmed"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentNoShow    = "appointment.no_show"
	AppointmentCompleted = "appointment.completed"
	AvailabilityReplaced = "availability.replaced"
)

// Event is the message published after an appointment or availability change commits.
type Event struct {
	Type          string     `json:"type"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	ProviderID    int64      `json:"provider_id"`
	PatientID     int64      `json:"patient_id,omitempty"`
	Status        string     `json:"status,omitempty"`
	EpisodeDate   string     `json:"episode_date,omitempty"`
	StartTime     string     `json:"start_time,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
