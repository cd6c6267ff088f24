package inbound

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/therapy-core/internal/device"
	"github.com/nerrad567/therapy-core/internal/dispatch"
)

// Kind is the closed set of broker message types the router knows.
type Kind int

const (
	// KindUnknown is any message type not listed below.
	KindUnknown Kind = iota
	// KindPatientInfo is a device asking for a patient's prescription.
	KindPatientInfo
	// KindThresholdResult is a device reporting a measured threshold.
	KindThresholdResult
	// KindAck is a device acknowledging a command.
	KindAck
	// KindTreatmentStatus is a device reporting its treatment flag.
	KindTreatmentStatus
	// KindOutboundEcho is our own command seen on the wildcard subscription.
	KindOutboundEcho
)

var kindNames = map[string]Kind{
	"patient_info":               KindPatientInfo,
	"threshold_result":           KindThresholdResult,
	"ack":                        KindAck,
	"treatment_status":           KindTreatmentStatus,
	dispatch.MsgTypePrescription: KindOutboundEcho,
	dispatch.MsgTypeCancel:       KindOutboundEcho,
}

// Classify maps a topic's message-type segment to a Kind.
func Classify(msgType string) Kind {
	if k, ok := kindNames[msgType]; ok {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string {
	switch k {
	case KindPatientInfo:
		return "patient_info"
	case KindThresholdResult:
		return "threshold_result"
	case KindAck:
		return "ack"
	case KindTreatmentStatus:
		return "treatment_status"
	case KindOutboundEcho:
		return "outbound_echo"
	default:
		return "unknown"
	}
}

// flexID accepts an id sent either as a JSON string or a JSON number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type patientInfoData struct {
	PatientID flexID `json:"patientId"`
}

type thresholdData struct {
	PatientID    flexID  `json:"patientId"`
	IntensityMA  float64 `json:"intensityMa"`
	FrequencyHz  float64 `json:"frequencyHz"`
	PulseWidthUS int     `json:"pulseWidthUs"`
	DurationMin  int     `json:"durationMin"`
	MeasuredAt   string  `json:"measuredAt"`
}

func (d thresholdData) measuredAt(fallback time.Time) time.Time {
	if d.MeasuredAt == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, d.MeasuredAt)
	if err != nil {
		return fallback
	}
	return t
}

type ackData struct {
	AckMsgID        string                  `json:"ackMsgId"`
	TreatmentStatus *device.TreatmentStatus `json:"treatmentStatus"`
}

type treatmentData struct {
	TreatmentStatus *device.TreatmentStatus `json:"treatmentStatus"`
}

func parsePatientID(raw flexID) (int64, error) {
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: patient id %q", ErrInvalidPayload, string(raw))
	}
	return id, nil
}
