package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device id or number does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an id that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrAmbiguousDeviceNo is returned when more than one record carries the
	// same device number. No record is updated in that case.
	ErrAmbiguousDeviceNo = errors.New("device: ambiguous device number")

	// ErrNoDeviceNo is returned when a device has no number and so no topic address.
	ErrNoDeviceNo = errors.New("device: no device number assigned")

	// ErrInvalidDevice is returned when a record fails validation.
	ErrInvalidDevice = errors.New("device: invalid")
)
