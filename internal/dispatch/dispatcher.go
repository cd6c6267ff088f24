package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/therapy-core/internal/audit"
	"github.com/nerrad567/therapy-core/internal/device"
	"github.com/nerrad567/therapy-core/internal/infrastructure/mqtt"
)

// Publisher sends a message on the broker channel.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// AddressResolver resolves a device id to its broker address.
type AddressResolver interface {
	AddressOf(ctx context.Context, id int64) (device.Address, error)
}

// Auditor records broker traffic. It must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, rec audit.Record)
}

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

// Config holds dispatcher settings.
type Config struct {
	// ProtocolVersion is written to every envelope's ver field.
	ProtocolVersion string
	// QoS is the broker delivery level for commands.
	QoS byte
}

// Dispatcher publishes command envelopes to devices.
//
// Dispatch is fire-and-forget: it returns once the broker has accepted
// the message. Acknowledgements arrive later on the inbound channel and
// are matched by the AckTracker.
type Dispatcher struct {
	publisher Publisher
	resolver  AddressResolver
	auditor   Auditor
	tracker   *AckTracker
	cfg       Config

	now    func() time.Time
	newID  func() string
	logger Logger
}

// NewDispatcher creates a dispatcher. tracker may be nil.
func NewDispatcher(publisher Publisher, resolver AddressResolver, auditor Auditor, tracker *AckTracker, cfg Config) *Dispatcher {
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = "1.0"
	}
	return &Dispatcher{
		publisher: publisher,
		resolver:  resolver,
		auditor:   auditor,
		tracker:   tracker,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Dispatch sends msgType to a device.
//
// Parameters:
//   - deviceID: Target device
//   - msgType: Last topic segment, e.g. "prescription"
//   - payload: Marshalled into the envelope's data field; ignored when code < 0
//   - code: Outcome code for the envelope's resultcode field
//   - reason: Reason token for negative codes; defaults to code.Reason()
//
// Every call uses a fresh message id and writes one audit record, whether
// or not the publish succeeds.
//
// Returns:
//   - Envelope: The envelope that was (or would have been) sent
//   - error: ErrNoAddress or ErrPublish on failure
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID int64, msgType string, payload any, code Code, reason string) (Envelope, error) {
	msgID := d.newID()
	codeVal := int(code)
	rec := audit.Record{
		Direction:   audit.DirectionOutbound,
		MessageID:   msgID,
		MessageType: msgType,
		DeviceID:    &deviceID,
		ResultCode:  &codeVal,
	}

	env, err := buildEnvelope(msgID, d.now(), d.cfg.ProtocolVersion, code, payload, reason)
	var body []byte
	if err == nil {
		body, err = json.Marshal(env)
		if err != nil {
			err = fmt.Errorf("marshalling envelope: %w", err)
		}
	}
	if err != nil {
		rec.Outcome = audit.OutcomePublishFailed
		rec.Error = err.Error()
		d.auditor.Record(ctx, rec)
		d.logger.Error("dispatch envelope encoding failed", "device_id", deviceID, "msg_type", msgType, "error", err)
		return Envelope{}, err
	}
	rec.Payload = string(body)

	addr, err := d.resolver.AddressOf(ctx, deviceID)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrNoAddress, err)
		rec.Outcome = audit.OutcomePublishFailed
		rec.Error = err.Error()
		d.auditor.Record(ctx, rec)
		d.logger.Warn("dispatch without address", "device_id", deviceID, "msg_type", msgType, "error", err)
		return env, err
	}

	topic := mqtt.DeviceTopic(addr.DeviceType, addr.DeviceNo, msgType)
	rec.Topic = topic
	rec.DeviceNo = &addr.DeviceNo

	if err := d.publisher.Publish(topic, body, d.cfg.QoS, false); err != nil {
		err = fmt.Errorf("%w: %w", ErrPublish, err)
		rec.Outcome = audit.OutcomePublishFailed
		rec.Error = err.Error()
		d.auditor.Record(ctx, rec)
		d.logger.Error("dispatch publish failed", "device_id", deviceID, "topic", topic, "msg_id", env.MsgID, "error", err)
		return env, err
	}

	rec.Outcome = audit.OutcomePublished
	d.auditor.Record(ctx, rec)
	if d.tracker != nil {
		d.tracker.Track(deviceID, msgType, env.MsgID, d.now())
	}
	d.logger.Info("command dispatched",
		"device_id", deviceID, "topic", topic, "msg_id", env.MsgID, "resultcode", codeVal)
	return env, nil
}
