package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/therapy-core/internal/audit"
	"github.com/nerrad567/therapy-core/internal/device"
	"github.com/nerrad567/therapy-core/internal/dispatch"
	"github.com/nerrad567/therapy-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/therapy-core/internal/patient"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Auditor records broker traffic. It must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, rec audit.Record)
}

// DeviceResolver maps a topic's device number to a device id.
type DeviceResolver interface {
	ResolveDeviceNo(ctx context.Context, deviceNo int) (int64, error)
}

// PrescriptionService answers patient_info requests.
type PrescriptionService interface {
	Prescribe(ctx context.Context, deviceID int64, rawPatientID, requestMsgID string) (dispatch.Envelope, error)
}

// ThresholdStore persists device-reported thresholds.
type ThresholdStore interface {
	SaveThreshold(ctx context.Context, t *patient.Threshold) error
}

// AckMatcher pairs acknowledgements with dispatched commands.
type AckMatcher interface {
	Ack(deviceID int64, ackMsgID string, at time.Time) (dispatch.Command, bool)
}

// TreatmentUpdater records a device's treatment flag.
type TreatmentUpdater interface {
	UpdateTreatment(ctx context.Context, deviceID int64, status device.TreatmentStatus)
}

// Deps are the collaborators a Router dispatches to.
type Deps struct {
	Dedup      *Deduplicator
	Auditor    Auditor
	Devices    DeviceResolver
	Prescriber PrescriptionService
	Thresholds ThresholdStore
	Acks       AckMatcher
	Treatment  TreatmentUpdater
}

// Router classifies inbound broker messages and hands them to their
// handler. Every message produces exactly one audit record, including
// duplicates and messages that could not be classified.
type Router struct {
	deps     Deps
	dedupTTL time.Duration
	timeout  time.Duration

	now    func() time.Time
	logger Logger
}

// NewRouter creates a router.
//
// Parameters:
//   - deps: Handler collaborators; all are required
//   - dedupTTL: How long a message id is remembered
//   - timeout: Upper bound on handling one message
func NewRouter(deps Deps, dedupTTL, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{
		deps:     deps,
		dedupTTL: dedupTTL,
		timeout:  timeout,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// HandleMessage handles one broker message. It matches mqtt.MessageHandler.
//
// Protocol failures (bad topic, unknown type, malformed JSON) are audited
// and dropped with a nil error. A non-nil error means a handler hit an
// infrastructure failure.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.Handle(ctx, topic, payload)
}

// Handle is HandleMessage with a caller-supplied context.
func (r *Router) Handle(ctx context.Context, topic string, payload []byte) error {
	rec := audit.Record{
		Direction: audit.DirectionInbound,
		Topic:     topic,
		Payload:   string(payload),
	}

	t, err := mqtt.ParseTopic(topic)
	if err != nil {
		r.unknown(ctx, rec, err)
		return nil
	}
	rec.MessageType = t.MsgType
	rec.DeviceNo = &t.DeviceNo

	kind := Classify(t.MsgType)
	switch kind {
	case KindUnknown:
		r.unknown(ctx, rec, fmt.Errorf("unrecognised message type %q", t.MsgType))
		return nil
	case KindOutboundEcho:
		if env, err := dispatch.DecodeEnvelope(payload); err == nil {
			rec.MessageID = env.MsgID
		}
		rec.Outcome = audit.OutcomeIgnored
		r.deps.Auditor.Record(ctx, rec)
		return nil
	}

	env, err := dispatch.DecodeEnvelope(payload)
	if err != nil {
		r.reject(ctx, rec, err)
		return nil
	}
	rec.MessageID = env.MsgID

	if !r.deps.Dedup.CheckAndMark(ctx, env.MsgID, r.dedupTTL) {
		rec.Outcome = audit.OutcomeDuplicate
		r.deps.Auditor.Record(ctx, rec)
		r.logger.Debug("duplicate message dropped", "topic", topic, "msg_id", env.MsgID)
		return nil
	}

	deviceID, err := r.deps.Devices.ResolveDeviceNo(ctx, t.DeviceNo)
	if err != nil {
		r.reject(ctx, rec, err)
		return nil
	}
	rec.DeviceID = &deviceID

	err = r.route(ctx, kind, deviceID, env)
	switch {
	case err == nil:
		rec.Outcome = audit.OutcomeProcessed
	case isProtocolError(err):
		r.reject(ctx, rec, err)
		return nil
	default:
		rec.Outcome = audit.OutcomeFailed
		rec.Error = err.Error()
	}
	r.deps.Auditor.Record(ctx, rec)
	if err != nil {
		return fmt.Errorf("handling %s from device %d: %w", kind, deviceID, err)
	}
	return nil
}

func (r *Router) route(ctx context.Context, kind Kind, deviceID int64, env dispatch.Envelope) error {
	switch kind {
	case KindPatientInfo:
		var data patientInfoData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		// Validation failures go back to the device as outcome codes.
		_, err := r.deps.Prescriber.Prescribe(ctx, deviceID, string(data.PatientID), env.MsgID)
		return err

	case KindThresholdResult:
		var data thresholdData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		patientID, err := parsePatientID(data.PatientID)
		if err != nil {
			return err
		}
		return r.deps.Thresholds.SaveThreshold(ctx, &patient.Threshold{
			PatientID:    patientID,
			DeviceID:     &deviceID,
			IntensityMA:  data.IntensityMA,
			FrequencyHz:  data.FrequencyHz,
			PulseWidthUS: data.PulseWidthUS,
			DurationMin:  data.DurationMin,
			Source:       patient.SourceDevice,
			MeasuredAt:   data.measuredAt(r.now()),
		})

	case KindAck:
		var data ackData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if cmd, ok := r.deps.Acks.Ack(deviceID, data.AckMsgID, r.now()); ok {
			r.logger.Info("command acknowledged", "device_id", deviceID, "msg_id", cmd.MsgID, "msg_type", cmd.MsgType)
		} else {
			r.logger.Debug("ack matched no pending command", "device_id", deviceID, "ack_msg_id", data.AckMsgID)
		}
		if data.TreatmentStatus != nil {
			return r.updateTreatment(ctx, deviceID, *data.TreatmentStatus)
		}
		return nil

	case KindTreatmentStatus:
		var data treatmentData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if data.TreatmentStatus == nil {
			return fmt.Errorf("%w: treatmentStatus is required", ErrInvalidPayload)
		}
		return r.updateTreatment(ctx, deviceID, *data.TreatmentStatus)
	}
	return nil
}

func (r *Router) updateTreatment(ctx context.Context, deviceID int64, status device.TreatmentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: treatmentStatus %d", ErrInvalidPayload, status)
	}
	r.deps.Treatment.UpdateTreatment(ctx, deviceID, status)
	return nil
}

func (r *Router) unknown(ctx context.Context, rec audit.Record, cause error) {
	rec.Unknown = true
	rec.Outcome = audit.OutcomeUnknown
	rec.Error = cause.Error()
	r.deps.Auditor.Record(ctx, rec)
	r.logger.Debug("unclassified message dropped", "topic", rec.Topic, "error", cause)
}

func (r *Router) reject(ctx context.Context, rec audit.Record, cause error) {
	rec.Outcome = audit.OutcomeRejected
	rec.Error = cause.Error()
	r.deps.Auditor.Record(ctx, rec)
	r.logger.Warn("inbound message rejected", "topic", rec.Topic, "msg_id", rec.MessageID, "error", cause)
}

func isProtocolError(err error) bool {
	return errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, patient.ErrInvalidThreshold) ||
		errors.Is(err, patient.ErrPatientNotFound)
}
