package device

import (
	"fmt"
	"maps"
	"time"
)

// Status is the presence status of a device.
type Status string

const (
	// StatusUnknown means the device has never reported since registration.
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// TreatmentStatus is the tri-state treatment flag carried on the record.
type TreatmentStatus int

const (
	TreatmentIdle        TreatmentStatus = 0
	TreatmentStimulating TreatmentStatus = 1
	TreatmentPaused      TreatmentStatus = 2
)

// Valid reports whether t is one of the defined values.
func (t TreatmentStatus) Valid() bool {
	return t >= TreatmentIdle && t <= TreatmentPaused
}

// Device is the durable record of a therapy device.
type Device struct {
	// ID is the primary key used by the session channel and the cache.
	ID int64 `json:"id"`

	// DeviceNo addresses the device on the broker channel. Zero means
	// unassigned.
	DeviceNo   int    `json:"device_no"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type,omitempty"`

	Status          Status     `json:"status"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`

	// Usage counters only ever grow.
	UsageCount   int64 `json:"usage_count"`
	UsageMinutes int64 `json:"usage_minutes"`

	TreatmentStatus TreatmentStatus `json:"treatment_status"`

	// Extensions holds device-reported fields with no dedicated column.
	Extensions map[string]any `json:"extensions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields a record needs before it can be stored.
func (d *Device) Validate() error {
	if d.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidDevice)
	}
	if d.DeviceNo < 0 {
		return fmt.Errorf("%w: device number must not be negative", ErrInvalidDevice)
	}
	if !d.TreatmentStatus.Valid() {
		return fmt.Errorf("%w: treatment status %d", ErrInvalidDevice, d.TreatmentStatus)
	}
	return nil
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.LastHeartbeatAt != nil {
		t := *d.LastHeartbeatAt
		c.LastHeartbeatAt = &t
	}
	c.Extensions = maps.Clone(d.Extensions)
	return &c
}

// Metrics is the optional payload a device sends alongside a presence
// frame. Nil fields were not reported.
type Metrics struct {
	DeviceNo        *int
	UsageCount      *int64
	UsageMinutes    *int64
	TreatmentStatus *TreatmentStatus
	Extensions      map[string]any
}

// IsEmpty reports whether no metric was supplied.
func (m Metrics) IsEmpty() bool {
	return m.DeviceNo == nil && m.UsageCount == nil && m.UsageMinutes == nil &&
		m.TreatmentStatus == nil && len(m.Extensions) == 0
}

// Merge applies reported metrics to the record.
//
// Counters never move backwards: a lower reported value is ignored. A
// device number is accepted only when the record has none, so a number once
// assigned keeps mapping to the same device. Invalid treatment values are
// ignored. Extensions are merged key by key.
//
// It returns a description of every rejected field, for logging.
func (d *Device) Merge(m Metrics) (rejected []string) {
	if m.DeviceNo != nil {
		switch {
		case *m.DeviceNo <= 0:
			rejected = append(rejected, fmt.Sprintf("device_no %d is not positive", *m.DeviceNo))
		case d.DeviceNo == 0:
			d.DeviceNo = *m.DeviceNo
		case d.DeviceNo != *m.DeviceNo:
			rejected = append(rejected, fmt.Sprintf("device_no %d conflicts with assigned %d", *m.DeviceNo, d.DeviceNo))
		}
	}
	if m.UsageCount != nil {
		if *m.UsageCount >= d.UsageCount {
			d.UsageCount = *m.UsageCount
		} else {
			rejected = append(rejected, fmt.Sprintf("usage_count %d below recorded %d", *m.UsageCount, d.UsageCount))
		}
	}
	if m.UsageMinutes != nil {
		if *m.UsageMinutes >= d.UsageMinutes {
			d.UsageMinutes = *m.UsageMinutes
		} else {
			rejected = append(rejected, fmt.Sprintf("usage_minutes %d below recorded %d", *m.UsageMinutes, d.UsageMinutes))
		}
	}
	if m.TreatmentStatus != nil {
		if m.TreatmentStatus.Valid() {
			d.TreatmentStatus = *m.TreatmentStatus
		} else {
			rejected = append(rejected, fmt.Sprintf("treatment_status %d is not defined", *m.TreatmentStatus))
		}
	}
	if len(m.Extensions) > 0 {
		if d.Extensions == nil {
			d.Extensions = make(map[string]any, len(m.Extensions))
		}
		maps.Copy(d.Extensions, m.Extensions)
	}
	return rejected
}
