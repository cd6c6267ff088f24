package dispatch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound message types.
const (
	MsgTypePrescription = "prescription"
	MsgTypeCancel       = "cancel"
)

// Code is the outcome code carried in an envelope's resultcode field.
type Code int

const (
	CodeOK               Code = 0
	CodeNoThreshold      Code = -1
	CodePatientNotFound  Code = -2
	CodeInvalidPatientID Code = -3
	CodeMissingPatientID Code = -4
)

// Reason returns the machine-readable token sent with a negative code.
func (c Code) Reason() string {
	switch c {
	case CodeOK:
		return ""
	case CodeNoThreshold:
		return "no_threshold"
	case CodePatientNotFound:
		return "patient_not_found"
	case CodeInvalidPatientID:
		return "invalid_patient_id"
	case CodeMissingPatientID:
		return "missing_patient_id"
	default:
		return fmt.Sprintf("error_%d", -int(c))
	}
}

// Envelope is the wire frame exchanged with devices on the broker channel.
type Envelope struct {
	MsgID      string          `json:"msgId"`
	TS         string          `json:"ts"`
	Ver        string          `json:"ver,omitempty"`
	ResultCode int             `json:"resultcode"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Time parses the envelope timestamp.
func (e Envelope) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, e.TS)
}

type reasonData struct {
	Reason string `json:"reason"`
}

// buildEnvelope assembles an outbound envelope. A negative code replaces
// the payload with {"reason": reason}.
func buildEnvelope(msgID string, at time.Time, ver string, code Code, payload any, reason string) (Envelope, error) {
	var data any = payload
	if code < 0 {
		if reason == "" {
			reason = code.Reason()
		}
		data = reasonData{Reason: reason}
	} else if data == nil {
		data = struct{}{}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshalling envelope data: %w", err)
	}
	return Envelope{
		MsgID:      msgID,
		TS:         at.UTC().Format(time.RFC3339),
		Ver:        ver,
		ResultCode: int(code),
		Data:       raw,
	}, nil
}

// DecodeEnvelope parses an inbound frame. Missing data decodes as an empty
// object.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		env.Data = json.RawMessage("{}")
	}
	return env, nil
}
