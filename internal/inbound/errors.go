package inbound

import "errors"

var (
	// ErrInvalidPayload is returned when a message's data does not match
	// its type.
	ErrInvalidPayload = errors.New("inbound: invalid payload")
)
