package appointment

import "fmt"

type Role string

const (
	RoleProvider Role = "provider"
	RolePatient  Role = "patient"
	RoleSystem   Role = "system"
)

// Actor is the authenticated caller as established by the auth gateway.
type Actor struct {
	ID   int64
	Role Role
}

// System is the actor used by internal jobs.
var System = Actor{Role: RoleSystem}

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleProvider, RolePatient, RoleSystem:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (a Actor) isProvider(providerID int64) bool {
	return a.Role == RoleProvider && a.ID == providerID
}

func (a Actor) isPatient(patientID int64) bool {
	return a.Role == RolePatient && a.ID == patientID
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%d", a.Role, a.ID)
}

// canManageAvailability: providers own their rules, internal jobs may project them.
func (a Actor) canManageAvailability(providerID int64) bool {
	return a.isProvider(providerID) || a.Role == RoleSystem
}

// canBook: a patient books for themselves, a provider books into their own calendar.
func (a Actor) canBook(patientID, providerID int64) bool {
	return a.isPatient(patientID) || a.isProvider(providerID)
}

func (a Actor) canView(appt *Appointment) bool {
	return a.isPatient(appt.PatientID) || a.isProvider(appt.ProviderID) || a.Role == RoleSystem
}

// canSetStatus: the owning provider may confirm, cancel or mark a no-show; the booking
// patient may only cancel.
func (a Actor) canSetStatus(appt *Appointment, to Status) bool {
	if a.isProvider(appt.ProviderID) {
		return true
	}
	return a.isPatient(appt.PatientID) && to == StatusCancelled
}
