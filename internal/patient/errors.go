package patient

import "errors"

var (
	// ErrPatientNotFound is returned when a patient does not exist.
	ErrPatientNotFound = errors.New("patient: not found")

	// ErrNoThreshold is returned when a patient has no recorded threshold.
	ErrNoThreshold = errors.New("patient: no threshold configured")

	// ErrInvalidThreshold is returned when a threshold fails validation.
	ErrInvalidThreshold = errors.New("patient: invalid threshold")
)
