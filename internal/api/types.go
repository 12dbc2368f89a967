package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/pms-scheduling/internal/appointment"
	"github.com/hackgods/pms-scheduling/internal/schedule"
)

type WeeklyRuleRequest struct {
	DayOfWeek string             `json:"day_of_week"`
	StartTime schedule.TimeOfDay `json:"start_time"`
	EndTime   schedule.TimeOfDay `json:"end_time"`
}

type SpecificDateRuleRequest struct {
	Date        schedule.Date      `json:"date"`
	StartTime   schedule.TimeOfDay `json:"start_time"`
	EndTime     schedule.TimeOfDay `json:"end_time"`
	IsAvailable *bool              `json:"is_available,omitempty"`
}

type BlockDayRequest struct {
	Date schedule.Date       `json:"date"`
	From *schedule.TimeOfDay `json:"from,omitempty"`
	To   *schedule.TimeOfDay `json:"to,omitempty"`
}

type ReplaceAvailabilityRequest struct {
	TimeZone          string                    `json:"time_zone"`
	WeeklyRules       []WeeklyRuleRequest       `json:"weekly_rules"`
	SpecificDateRules []SpecificDateRuleRequest `json:"specific_date_rules"`
	BlockDays         []BlockDayRequest         `json:"block_days"`
}

func (r ReplaceAvailabilityRequest) toDomain() (appointment.AvailabilityRequest, error) {
	out := appointment.AvailabilityRequest{TimeZone: r.TimeZone}
	for _, w := range r.WeeklyRules {
		day, err := schedule.ParseWeekday(w.DayOfWeek)
		if err != nil {
			return out, err
		}
		out.Weekly = append(out.Weekly, schedule.Weekly(0, day, w.StartTime, w.EndTime))
	}
	for _, s := range r.SpecificDateRules {
		available := true
		if s.IsAvailable != nil {
			available = *s.IsAvailable
		}
		out.SpecificDates = append(out.SpecificDates, schedule.OnDate(0, s.Date, s.StartTime, s.EndTime, available))
	}
	for _, b := range r.BlockDays {
		out.BlockDays = append(out.BlockDays, appointment.BlockDay{Date: b.Date, From: b.From, To: b.To})
	}
	return out, nil
}

type RuleResponse struct {
	ID           int64              `json:"id"`
	ProviderID   int64              `json:"provider_id"`
	Kind         schedule.Kind      `json:"kind"`
	DayOfWeek    string             `json:"day_of_week,omitempty"`
	SpecificDate *schedule.Date     `json:"specific_date,omitempty"`
	StartTime    schedule.TimeOfDay `json:"start_time"`
	EndTime      schedule.TimeOfDay `json:"end_time"`
	IsAvailable  bool               `json:"is_available"`
	TimeZone     string             `json:"time_zone,omitempty"`
}

func newRuleResponses(rules []schedule.Rule) []RuleResponse {
	out := make([]RuleResponse, 0, len(rules))
	for _, r := range rules {
		resp := RuleResponse{
			ID:           r.ID,
			ProviderID:   r.ProviderID,
			Kind:         r.Kind,
			SpecificDate: r.SpecificDate,
			StartTime:    r.StartTime,
			EndTime:      r.EndTime,
			IsAvailable:  r.IsAvailable,
			TimeZone:     r.TimeZone,
		}
		if r.DayOfWeek != nil {
			resp.DayOfWeek = schedule.WeekdayName(*r.DayOfWeek)
		}
		out = append(out, resp)
	}
	return out
}

type SlotsResponse struct {
	ProviderID int64           `json:"provider_id"`
	Date       schedule.Date   `json:"date"`
	Slots      []schedule.Slot `json:"slots"`
}

type GenerateSlotsRequest struct {
	Pattern              schedule.Pattern   `json:"pattern"`
	AnchorDate           schedule.Date      `json:"anchor_date"`
	RecurrenceEndDate    schedule.Date      `json:"recurrence_end_date"`
	StartTime            schedule.TimeOfDay `json:"start_time"`
	EndTime              schedule.TimeOfDay `json:"end_time"`
	SlotDurationMinutes  int                `json:"slot_duration_minutes"`
	BreakDurationMinutes int                `json:"break_duration_minutes"`
	TimeZone             string             `json:"time_zone"`
	AppointmentType      string             `json:"appointment_type"`
}

func (r GenerateSlotsRequest) toDomain(providerID int64) schedule.Definition {
	return schedule.Definition{
		ProviderID: providerID,
		Recurrence: schedule.Recurrence{
			Pattern: r.Pattern,
			Anchor:  r.AnchorDate,
			Until:   r.RecurrenceEndDate,
		},
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		SlotDuration:    time.Duration(r.SlotDurationMinutes) * time.Minute,
		BreakDuration:   time.Duration(r.BreakDurationMinutes) * time.Minute,
		TimeZone:        r.TimeZone,
		AppointmentType: r.AppointmentType,
	}
}

type MaterializeRequest struct {
	From schedule.Date `json:"from"`
	To   schedule.Date `json:"to"`
}

type BookAppointmentRequest struct {
	PatientID        int64              `json:"patient_id"`
	ProviderID       int64              `json:"provider_id"`
	Date             schedule.Date      `json:"date"`
	StartTime        schedule.TimeOfDay `json:"start_time"`
	EpisodeType      string             `json:"episode_type"`
	EpisodeDetails   string             `json:"episode_details"`
	Vitals           string             `json:"vitals"`
	EpisodeOccurDate *schedule.Date     `json:"episode_occur_date,omitempty"`
}

func (r BookAppointmentRequest) toDomain() appointment.BookingRequest {
	return appointment.BookingRequest{
		PatientID:        r.PatientID,
		ProviderID:       r.ProviderID,
		Date:             r.Date,
		StartTime:        r.StartTime,
		EpisodeType:      appointment.EpisodeType(r.EpisodeType),
		EpisodeDetails:   r.EpisodeDetails,
		Vitals:           r.Vitals,
		EpisodeOccurDate: r.EpisodeOccurDate,
	}
}

type CompleteAppointmentRequest struct {
	EvaluationNotes     string                     `json:"evaluation_notes"`
	Diagnosis           string                     `json:"diagnosis"`
	TreatmentPlan       string                     `json:"treatment_plan"`
	Prescriptions       []appointment.Prescription `json:"prescriptions"`
	FollowUpDate        *schedule.Date             `json:"follow_up_date,omitempty"`
	VitalSigns          map[string]string          `json:"vital_signs,omitempty"`
	NextAppointmentDate *schedule.Date             `json:"next_appointment_date,omitempty"`
}

func (r CompleteAppointmentRequest) toDomain() appointment.Completion {
	return appointment.Completion{
		EvaluationNotes:     r.EvaluationNotes,
		Diagnosis:           r.Diagnosis,
		TreatmentPlan:       r.TreatmentPlan,
		Prescriptions:       r.Prescriptions,
		FollowUpDate:        r.FollowUpDate,
		VitalSigns:          r.VitalSigns,
		NextAppointmentDate: r.NextAppointmentDate,
	}
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID                  uuid.UUID                  `json:"id"`
	PatientID           int64                      `json:"patient_id"`
	ProviderID          int64                      `json:"provider_id"`
	SlotID              *int64                     `json:"appointment_slot_id,omitempty"`
	EpisodeDate         schedule.Date              `json:"episode_date"`
	StartTime           schedule.TimeOfDay         `json:"start_time"`
	EndTime             schedule.TimeOfDay         `json:"end_time"`
	DisplayTime         string                     `json:"display_time"`
	EpisodeType         string                     `json:"episode_type"`
	EpisodeDetails      string                     `json:"episode_details"`
	Vitals              string                     `json:"vitals,omitempty"`
	EpisodeOccurDate    *schedule.Date             `json:"episode_occur_date,omitempty"`
	Status              string                     `json:"status"`
	EvaluationNotes     *string                    `json:"evaluation_notes,omitempty"`
	Diagnosis           *string                    `json:"diagnosis,omitempty"`
	TreatmentPlan       *string                    `json:"treatment_plan,omitempty"`
	Prescriptions       []appointment.Prescription `json:"prescriptions,omitempty"`
	FollowUpDate        *schedule.Date             `json:"follow_up_date,omitempty"`
	VitalSigns          map[string]string          `json:"vital_signs,omitempty"`
	NextAppointmentDate *schedule.Date             `json:"next_appointment_date,omitempty"`
	CompletedAt         *time.Time                 `json:"completed_at,omitempty"`
	CancelledAt         *time.Time                 `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time                  `json:"created_at"`
	UpdatedAt           time.Time                  `json:"updated_at"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                  a.UUID,
		PatientID:           a.PatientID,
		ProviderID:          a.ProviderID,
		SlotID:              a.SlotID,
		EpisodeDate:         a.EpisodeDate,
		StartTime:           a.StartTime,
		EndTime:             a.EndTime,
		DisplayTime:         a.StartTime.Display(),
		EpisodeType:         string(a.EpisodeType),
		EpisodeDetails:      a.EpisodeDetails,
		Vitals:              a.Vitals,
		EpisodeOccurDate:    a.EpisodeOccurDate,
		Status:              string(a.Status),
		EvaluationNotes:     a.EvaluationNotes,
		Diagnosis:           a.Diagnosis,
		TreatmentPlan:       a.TreatmentPlan,
		Prescriptions:       a.Prescriptions,
		FollowUpDate:        a.FollowUpDate,
		VitalSigns:          a.VitalSigns,
		NextAppointmentDate: a.NextAppointmentDate,
		CompletedAt:         a.CompletedAt,
		CancelledAt:         a.CancelledAt,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

func newAppointmentList(items []appointment.Appointment, limit, offset int) AppointmentListResponse {
	out := AppointmentListResponse{
		Appointments: make([]AppointmentResponse, 0, len(items)),
		Limit:        limit,
		Offset:       offset,
	}
	for i := range items {
		out.Appointments = append(out.Appointments, newAppointmentResponse(&items[i]))
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
