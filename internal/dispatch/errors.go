package dispatch

import "errors"

var (
	// ErrNoAddress is returned when a device has no broker address.
	ErrNoAddress = errors.New("dispatch: device has no broker address")

	// ErrPublish is returned when the broker does not accept a command.
	ErrPublish = errors.New("dispatch: publish failed")

	// ErrInvalidEnvelope is returned for a frame that is not an envelope.
	ErrInvalidEnvelope = errors.New("dispatch: invalid envelope")
)
