package patient

import (
	"fmt"
	"time"
)

// Patient is the subset of patient data the dispatch flow reads.
type Patient struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Source records where a threshold came from.
type Source string

const (
	SourceClinician Source = "clinician"
	SourceDevice    Source = "device"
)

// Threshold is a stimulation threshold for a patient.
type Threshold struct {
	ID        int64  `json:"id,omitempty"`
	PatientID int64  `json:"patientId"`
	DeviceID  *int64 `json:"deviceId,omitempty"`

	IntensityMA  float64 `json:"intensityMa"`
	FrequencyHz  float64 `json:"frequencyHz,omitempty"`
	PulseWidthUS int     `json:"pulseWidthUs,omitempty"`
	DurationMin  int     `json:"durationMin,omitempty"`

	Source     Source    `json:"source"`
	MeasuredAt time.Time `json:"measuredAt"`
}

// Validate checks the threshold can be stored.
func (t *Threshold) Validate() error {
	if t.PatientID <= 0 {
		return fmt.Errorf("%w: patient id must be positive", ErrInvalidThreshold)
	}
	if t.IntensityMA <= 0 {
		return fmt.Errorf("%w: intensity must be positive", ErrInvalidThreshold)
	}
	if t.FrequencyHz < 0 || t.PulseWidthUS < 0 || t.DurationMin < 0 {
		return fmt.Errorf("%w: negative stimulation parameter", ErrInvalidThreshold)
	}
	return nil
}
