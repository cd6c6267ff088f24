package audit

import "errors"

var (
	// ErrInvalidRecord is returned when a record lacks a required field.
	ErrInvalidRecord = errors.New("audit: invalid record")
)
