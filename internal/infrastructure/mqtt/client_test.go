package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/therapy-core/internal/infrastructure/config"
)

// These tests exercise validation and handler wrapping without a broker.
// Broker round-trips live in integration_test.go.

func disconnectedClient() *Client {
	return newClient(config.MQTTConfig{Broker: config.MQTTBrokerConfig{ClientID: "therapycore-test"}})
}

func TestPublish_Validation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 2, ErrInvalidTopic},
		{"invalid qos", "fes/3/prescription", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "fes/3/prescription", make([]byte, maxPayloadSize+1), 2, ErrPublishFailed},
		{"disconnected", "fes/3/prescription", []byte("{}"), 2, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("+/+/+", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("+/+/+", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("+/+/+", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: error = %v, want ErrNotConnected", err)
	}
	if c.HasSubscription("+/+/+") {
		t.Error("failed subscription must not be tracked")
	}
}

func TestHealthCheck(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	if err := disconnectedClient().Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 2 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Info(string, ...any) {}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestWrapHandler(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got string
	ok := c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + ":" + string(payload)
		return nil
	})
	ok(nil, fakeMessage{topic: "fes/3/ack", payload: []byte("{}")})
	if got != "fes/3/ack:{}" {
		t.Errorf("handler received %q", got)
	}

	failing := c.wrapHandler(func(string, []byte) error { return errors.New("boom") })
	failing(nil, fakeMessage{topic: "fes/3/ack"})

	panicking := c.wrapHandler(func(string, []byte) error { panic("bad payload") })
	panicking(nil, fakeMessage{topic: "fes/3/ack"})

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one handler error", logger.warns)
	}
	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v, want one recovered panic", logger.errors)
	}
}

func TestDeviceTopic(t *testing.T) {
	if got := DeviceTopic("fes", 3, "prescription"); got != "fes/3/prescription" {
		t.Errorf("DeviceTopic() = %q", got)
	}
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    Topic
		wantErr bool
	}{
		{topic: "fes/3/patient_info", want: Topic{DeviceType: "fes", DeviceNo: 3, MsgType: "patient_info"}},
		{topic: "fes/3/ack/extra", want: Topic{DeviceType: "fes", DeviceNo: 3, MsgType: "ack/extra"}},
		{topic: "fes/3", wantErr: true},
		{topic: "fes", wantErr: true},
		{topic: "", wantErr: true},
		{topic: "fes//ack", wantErr: true},
		{topic: "fes/three/ack", wantErr: true},
		{topic: "fes/-1/ack", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := ParseTopic(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedTopic) {
					t.Errorf("ParseTopic(%q) error = %v, want ErrMalformedTopic", tt.topic, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTopic(%q) error = %v", tt.topic, err)
			}
			if got != tt.want {
				t.Errorf("ParseTopic(%q) = %+v, want %+v", tt.topic, got, tt.want)
			}
			if tt.want.MsgType == "patient_info" && got.String() != tt.topic {
				t.Errorf("String() = %q, want %q", got.String(), tt.topic)
			}
		})
	}
}

func TestStatusTopic_NotMatchedByDeviceWildcard(t *testing.T) {
	if _, err := ParseTopic(StatusTopic); err == nil {
		t.Errorf("StatusTopic %q must not parse as a device topic", StatusTopic)
	}
}

func TestStatusPayload(t *testing.T) {
	p := string(statusPayload(statusOffline, "core-1", "graceful_shutdown"))
	for _, want := range []string{`"status":"offline"`, `"client_id":"core-1"`, `"reason":"graceful_shutdown"`} {
		if !strings.Contains(p, want) {
			t.Errorf("payload %s missing %s", p, want)
		}
	}
	if strings.Contains(string(statusPayload(statusOnline, "core-1", "")), "reason") {
		t.Error("online payload should omit reason")
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		cfg  config.MQTTBrokerConfig
		want string
	}{
		{config.MQTTBrokerConfig{Host: "broker.local", Port: 1883}, "tcp://broker.local:1883"},
		{config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true}, "ssl://broker.local:8883"},
		{config.MQTTBrokerConfig{Host: "::1", Port: 1883}, "tcp://[::1]:1883"},
	}
	for _, tt := range tests {
		if got := brokerURL(tt.cfg); got != tt.want {
			t.Errorf("brokerURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestSetLogger_Nil(t *testing.T) {
	c := disconnectedClient()
	c.SetLogger(nil)
	// Must not panic with a nil logger.
	c.wrapHandler(func(string, []byte) error { return errors.New("x") })(nil, fakeMessage{topic: "fes/1/ack"})
}
