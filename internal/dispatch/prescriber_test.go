package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/therapy-core/internal/patient"
)

type mockPatients struct {
	patients   map[int64]patient.Patient
	thresholds map[int64]patient.Threshold
	err        error
}

func (m *mockPatients) GetPatient(_ context.Context, id int64) (*patient.Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	return &p, nil
}

func (m *mockPatients) CreatePatient(context.Context, *patient.Patient) error { return nil }

func (m *mockPatients) LatestThreshold(_ context.Context, id int64) (*patient.Threshold, error) {
	th, ok := m.thresholds[id]
	if !ok {
		return nil, patient.ErrNoThreshold
	}
	return &th, nil
}

func (m *mockPatients) SaveThreshold(context.Context, *patient.Threshold) error { return nil }

func newPatients() *mockPatients {
	return &mockPatients{
		patients: map[int64]patient.Patient{
			42: {ID: 42, Name: "A. Patient"},
			43: {ID: 43, Name: "B. Patient"},
		},
		thresholds: map[int64]patient.Threshold{
			42: {PatientID: 42, IntensityMA: 14, FrequencyHz: 35, PulseWidthUS: 300, DurationMin: 20},
		},
	}
}

func TestParsePatientID(t *testing.T) {
	tests := []struct {
		raw      string
		wantID   int64
		wantCode Code
	}{
		{"42", 42, CodeOK},
		{" 42 ", 42, CodeOK},
		{"", 0, CodeMissingPatientID},
		{"   ", 0, CodeMissingPatientID},
		{"abc", 0, CodeInvalidPatientID},
		{"4.2", 0, CodeInvalidPatientID},
		{"-1", 0, CodeInvalidPatientID},
		{"0", 0, CodeInvalidPatientID},
	}
	for _, tt := range tests {
		id, code := ParsePatientID(tt.raw)
		if id != tt.wantID || code != tt.wantCode {
			t.Errorf("ParsePatientID(%q) = %d, %d; want %d, %d", tt.raw, id, code, tt.wantID, tt.wantCode)
		}
	}
}

func TestPrescribe_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantCode   int
		wantReason string
	}{
		{"success", "42", 0, ""},
		{"no threshold", "43", -1, "no_threshold"},
		{"patient not found", "44", -2, "patient_not_found"},
		{"invalid id", "x42", -3, "invalid_patient_id"},
		{"missing id", "", -4, "missing_patient_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, aud := &mockPublisher{}, &mockAuditor{}
			p := NewPrescriber(newPatients(), newTestDispatcher(pub, aud, nil))

			env, err := p.Prescribe(context.Background(), 7, tt.raw, "req-1")
			if err != nil {
				t.Fatalf("Prescribe() error = %v", err)
			}
			if env.ResultCode != tt.wantCode {
				t.Errorf("resultcode = %d, want %d", env.ResultCode, tt.wantCode)
			}
			if len(pub.msgs) != 1 || pub.msgs[0].topic != "fes/3/prescription" {
				t.Fatalf("published = %+v", pub.msgs)
			}

			var data map[string]any
			if err := json.Unmarshal(env.Data, &data); err != nil {
				t.Fatalf("data is not JSON: %v", err)
			}
			if tt.wantReason != "" {
				if data["reason"] != tt.wantReason {
					t.Errorf("reason = %v, want %q", data["reason"], tt.wantReason)
				}
				return
			}
			if data["patientId"] != float64(42) || data["intensityMa"] != float64(14) || data["requestMsgId"] != "req-1" {
				t.Errorf("data = %v", data)
			}
		})
	}
}

func TestPrescribe_InfrastructureFailure(t *testing.T) {
	pub, aud := &mockPublisher{}, &mockAuditor{}
	pats := newPatients()
	pats.err = errors.New("database is locked")
	p := NewPrescriber(pats, newTestDispatcher(pub, aud, nil))

	if _, err := p.Prescribe(context.Background(), 7, "42", ""); err == nil {
		t.Fatal("Prescribe() error = nil, want failure")
	}
	if len(pub.msgs) != 0 {
		t.Errorf("published %d messages on infrastructure failure", len(pub.msgs))
	}
}

func TestCancel(t *testing.T) {
	pub, aud := &mockPublisher{}, &mockAuditor{}
	p := NewPrescriber(newPatients(), newTestDispatcher(pub, aud, nil))

	env, err := p.Cancel(context.Background(), 7, "operator")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if pub.msgs[0].topic != "fes/3/cancel" || env.ResultCode != 0 {
		t.Errorf("cancel = %s code %d", pub.msgs[0].topic, env.ResultCode)
	}
	if string(env.Data) != `{"reason":"operator"}` {
		t.Errorf("data = %s", env.Data)
	}
	if aud.records[0].MessageType != MsgTypeCancel {
		t.Errorf("audit msg_type = %q", aud.records[0].MessageType)
	}
}
