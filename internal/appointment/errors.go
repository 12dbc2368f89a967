package appointment

import (
	"errors"
	"fmt"

	"github.com/hackgods/pms-scheduling/internal/schedule"
)

var (
	ErrSlotUnavailable   = errors.New("requested time is not an open slot")
	ErrSlotAlreadyBooked = errors.New("slot already has an active appointment")
	ErrAlreadyCompleted  = errors.New("appointment is already completed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("actor may not perform this operation")
	ErrStorage           = errors.New("storage failure")

	// errUniqueViolation is returned by stores when the active-appointment index rejects
	// an insert.
	errUniqueViolation = errors.New("active appointment unique violation")
	errDuplicateUUID   = errors.New("duplicate appointment uuid")
)

// StorageError wraps a failure of the backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Stable machine-readable error codes.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeSlotUnavailable   = "SLOT_UNAVAILABLE"
	CodeSlotAlreadyBooked = "SLOT_ALREADY_BOOKED"
	CodeAlreadyCompleted  = "ALREADY_COMPLETED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeStorage           = "STORAGE_FAILURE"
)

// Code maps err to its stable code. Unrecognized errors count as storage failures.
func Code(err error) string {
	var verr *schedule.ValidationError
	switch {
	case errors.As(err, &verr):
		return CodeValidation
	case errors.Is(err, ErrSlotUnavailable):
		return CodeSlotUnavailable
	case errors.Is(err, ErrSlotAlreadyBooked):
		return CodeSlotAlreadyBooked
	case errors.Is(err, ErrAlreadyCompleted):
		return CodeAlreadyCompleted
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeStorage
	}
}
