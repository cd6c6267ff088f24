package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusTopic carries the service's own online/offline status. It has two
// levels so the device wildcard subscription (+/+/+) never matches it.
const StatusTopic = "therapycore/status"

// deviceTopicSegments is the number of levels in a device topic.
const deviceTopicSegments = 3

// Topic is a parsed device topic of the form {deviceType}/{deviceNo}/{msgType}.
type Topic struct {
	DeviceType string
	DeviceNo   int
	MsgType    string
}

// String renders the topic back to its wire form.
func (t Topic) String() string {
	return DeviceTopic(t.DeviceType, t.DeviceNo, t.MsgType)
}

// DeviceTopic builds the topic addressed to (or published by) a device.
//
// Example: DeviceTopic("fes", 3, "prescription") returns "fes/3/prescription".
func DeviceTopic(deviceType string, deviceNo int, msgType string) string {
	return fmt.Sprintf("%s/%d/%s", deviceType, deviceNo, msgType)
}

// ParseTopic splits a device topic into its parts.
//
// Anything after the second separator is the message type, so
// "fes/3/ack/extra" yields MsgType "ack/extra". Topics with fewer than three
// levels, an empty level, or a non-numeric device number return
// ErrMalformedTopic.
func ParseTopic(topic string) (Topic, error) {
	parts := strings.SplitN(topic, "/", deviceTopicSegments)
	if len(parts) < deviceTopicSegments {
		return Topic{}, fmt.Errorf("%w: %q has %d segments", ErrMalformedTopic, topic, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Topic{}, fmt.Errorf("%w: %q has an empty segment", ErrMalformedTopic, topic)
		}
	}

	no, err := strconv.Atoi(parts[1])
	if err != nil || no < 0 {
		return Topic{}, fmt.Errorf("%w: device number %q is not a non-negative integer", ErrMalformedTopic, parts[1])
	}

	return Topic{DeviceType: parts[0], DeviceNo: no, MsgType: parts[2]}, nil
}
