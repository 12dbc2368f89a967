package appointment

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hackgods/pms-scheduling/internal/schedule"
)

const (
	maxEpisodeDetails  = 1000
	maxVitals          = 500
	maxEvaluationNotes = 2000
	maxDiagnosis       = 500
	maxTreatmentPlan   = 1000
	maxMedication      = 200
	maxDosage          = 100
	maxInstructions    = 300
	maxVitalSign       = 50
)

// vitalSignKeys are the structured vital signs recorded at completion.
var vitalSignKeys = map[string]bool{
	"blood_pressure": true,
	"heart_rate":     true,
	"temperature":    true,
	"weight":         true,
	"height":         true,
}

type BookingRequest struct {
	PatientID        int64
	ProviderID       int64
	Date             schedule.Date
	StartTime        schedule.TimeOfDay
	EpisodeType      EpisodeType
	EpisodeDetails   string
	Vitals           string
	EpisodeOccurDate *schedule.Date
}

func (r *BookingRequest) normalize(today schedule.Date) error {
	if r.PatientID <= 0 {
		return schedule.Invalid("patient_id", "is required")
	}
	if r.ProviderID <= 0 {
		return schedule.Invalid("provider_id", "is required")
	}
	if r.Date.IsZero() {
		return schedule.Invalid("date", "is required")
	}
	if r.Date.Before(today) {
		return schedule.Invalid("date", "must not be in the past")
	}
	if !r.StartTime.Valid() || r.StartTime == schedule.EndOfDay {
		return schedule.Invalid("start_time", "is out of range")
	}
	if r.EpisodeType == "" {
		r.EpisodeType = EpisodeConsultation
	}
	if !r.EpisodeType.Valid() {
		return schedule.Invalid("episode_type", "unknown type %q", r.EpisodeType)
	}

	r.EpisodeDetails = strings.TrimSpace(r.EpisodeDetails)
	if err := requireText("episode_details", r.EpisodeDetails, maxEpisodeDetails); err != nil {
		return err
	}
	r.Vitals = strings.TrimSpace(r.Vitals)
	if err := maxText("vitals", r.Vitals, maxVitals); err != nil {
		return err
	}
	if r.EpisodeOccurDate != nil && r.EpisodeOccurDate.After(today) {
		return schedule.Invalid("episode_occur_date", "must not be in the future")
	}
	return nil
}

func (c *Completion) normalize(today schedule.Date) error {
	c.EvaluationNotes = strings.TrimSpace(c.EvaluationNotes)
	c.Diagnosis = strings.TrimSpace(c.Diagnosis)
	c.TreatmentPlan = strings.TrimSpace(c.TreatmentPlan)

	if err := requireText("evaluation_notes", c.EvaluationNotes, maxEvaluationNotes); err != nil {
		return err
	}
	if err := requireText("diagnosis", c.Diagnosis, maxDiagnosis); err != nil {
		return err
	}
	if err := requireText("treatment_plan", c.TreatmentPlan, maxTreatmentPlan); err != nil {
		return err
	}

	for i, p := range c.Prescriptions {
		field := fmt.Sprintf("prescriptions[%d]", i)
		if err := requireText(field+".medication", strings.TrimSpace(p.Medication), maxMedication); err != nil {
			return err
		}
		if err := requireText(field+".dosage", strings.TrimSpace(p.Dosage), maxDosage); err != nil {
			return err
		}
		if err := requireText(field+".instructions", strings.TrimSpace(p.Instructions), maxInstructions); err != nil {
			return err
		}
	}

	if c.FollowUpDate != nil && !c.FollowUpDate.After(today) {
		return schedule.Invalid("follow_up_date", "must be after today")
	}
	if c.NextAppointmentDate != nil && !c.NextAppointmentDate.After(today) {
		return schedule.Invalid("next_appointment_date", "must be after today")
	}

	if len(c.VitalSigns) > 0 {
		kept := make(map[string]string, len(c.VitalSigns))
		for k, v := range c.VitalSigns {
			v = strings.TrimSpace(v)
			if !vitalSignKeys[k] || v == "" {
				continue
			}
			if err := maxText("vital_signs."+k, v, maxVitalSign); err != nil {
				return err
			}
			kept[k] = v
		}
		c.VitalSigns = kept
	}
	return nil
}

func requireText(field, v string, max int) error {
	if v == "" {
		return schedule.Invalid(field, "is required")
	}
	return maxText(field, v, max)
}

func maxText(field, v string, max int) error {
	if utf8.RuneCountInString(v) > max {
		return schedule.Invalid(field, "must be at most %d characters", max)
	}
	return nil
}
