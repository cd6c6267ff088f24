package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/therapy-core/internal/patient"
)

// Sender is what the prescriber needs from a Dispatcher.
type Sender interface {
	Dispatch(ctx context.Context, deviceID int64, msgType string, payload any, code Code, reason string) (Envelope, error)
}

// Prescription is the data payload of a successful prescription envelope.
type Prescription struct {
	PatientID    int64  `json:"patientId"`
	PatientName  string `json:"patientName"`
	RequestMsgID string `json:"requestMsgId,omitempty"`

	IntensityMA  float64 `json:"intensityMa"`
	FrequencyHz  float64 `json:"frequencyHz,omitempty"`
	PulseWidthUS int     `json:"pulseWidthUs,omitempty"`
	DurationMin  int     `json:"durationMin,omitempty"`
}

// Cancellation is the data payload of a cancel envelope.
type Cancellation struct {
	Reason string `json:"reason,omitempty"`
}

// Prescriber runs the prescription flow: validate the patient id, look up
// the patient and their threshold, and dispatch the result to the device.
// Business failures are sent to the device as negative outcome codes.
type Prescriber struct {
	patients patient.Repository
	sender   Sender
	logger   Logger
}

// NewPrescriber creates a prescriber.
func NewPrescriber(patients patient.Repository, sender Sender) *Prescriber {
	return &Prescriber{patients: patients, sender: sender, logger: noopLogger{}}
}

// SetLogger sets the logger for the prescriber.
func (p *Prescriber) SetLogger(logger Logger) {
	p.logger = logger
}

// ParsePatientID validates a raw patient id as received from a device or
// an operator.
func ParsePatientID(raw string) (int64, Code) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, CodeMissingPatientID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, CodeInvalidPatientID
	}
	return id, CodeOK
}

// Resolve maps a raw patient id to an outcome code and, on success, the
// prescription payload. The error is non-nil only for infrastructure
// failures, which are not reported to the device.
func (p *Prescriber) Resolve(ctx context.Context, rawPatientID string) (Code, *Prescription, error) {
	id, code := ParsePatientID(rawPatientID)
	if code != CodeOK {
		return code, nil, nil
	}

	pat, err := p.patients.GetPatient(ctx, id)
	if errors.Is(err, patient.ErrPatientNotFound) {
		return CodePatientNotFound, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("looking up patient %d: %w", id, err)
	}

	th, err := p.patients.LatestThreshold(ctx, id)
	if errors.Is(err, patient.ErrNoThreshold) {
		return CodeNoThreshold, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("looking up threshold for patient %d: %w", id, err)
	}

	return CodeOK, &Prescription{
		PatientID:    pat.ID,
		PatientName:  pat.Name,
		IntensityMA:  th.IntensityMA,
		FrequencyHz:  th.FrequencyHz,
		PulseWidthUS: th.PulseWidthUS,
		DurationMin:  th.DurationMin,
	}, nil
}

// Prescribe resolves the patient and dispatches a prescription envelope to
// the device. requestMsgID, when set, is echoed so the device can pair the
// reply with its request.
//
// A business failure (missing, malformed or unknown patient, or no
// threshold) is still dispatched, with the negative code. Only
// infrastructure failures return an error without dispatching.
func (p *Prescriber) Prescribe(ctx context.Context, deviceID int64, rawPatientID, requestMsgID string) (Envelope, error) {
	code, rx, err := p.Resolve(ctx, rawPatientID)
	if err != nil {
		p.logger.Error("prescription lookup failed", "device_id", deviceID, "error", err)
		return Envelope{}, err
	}

	var payload any
	if rx != nil {
		rx.RequestMsgID = requestMsgID
		payload = rx
	} else {
		p.logger.Info("prescription refused", "device_id", deviceID, "resultcode", int(code), "reason", code.Reason())
	}
	return p.sender.Dispatch(ctx, deviceID, MsgTypePrescription, payload, code, "")
}

// Cancel dispatches a cancel envelope telling the device to abandon its
// current prescription.
func (p *Prescriber) Cancel(ctx context.Context, deviceID int64, reason string) (Envelope, error) {
	return p.sender.Dispatch(ctx, deviceID, MsgTypeCancel, Cancellation{Reason: reason}, CodeOK, "")
}
