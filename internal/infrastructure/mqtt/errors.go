package mqtt

import "errors"

// Broker channel errors. Callers match with errors.Is; the dispatcher maps
// ErrNotConnected and ErrPublishFailed onto its own publish failure.
var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")

	// ErrMalformedTopic is returned by ParseTopic for anything that is not
	// {deviceType}/{deviceNo}/{msgType}.
	ErrMalformedTopic = errors.New("mqtt: malformed device topic")
)
