package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
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

// Address is where a device is reached on the broker channel.
type Address struct {
	DeviceType string
	DeviceNo   int
}

// Directory resolves between device ids and broker addresses.
//
// It keeps an in-memory copy of the id/number mapping, populated by
// RefreshCache at startup and filled on demand from the repository. Device
// numbers shared by several records stay ambiguous until the records are
// corrected and the cache refreshed.
//
// All public methods are thread-safe.
type Directory struct {
	repo              Repository
	defaultDeviceType string

	mu    sync.RWMutex
	byID  map[int64]Address
	byNo  map[int][]int64
	ready bool

	logger Logger
}

// NewDirectory creates a directory over repo. defaultDeviceType is the
// first topic segment for devices whose record has no type.
func NewDirectory(repo Repository, defaultDeviceType string) *Directory {
	return &Directory{
		repo:              repo,
		defaultDeviceType: defaultDeviceType,
		byID:              make(map[int64]Address),
		byNo:              make(map[int][]int64),
		logger:            noopLogger{},
	}
}

// SetLogger sets the logger for the directory.
func (d *Directory) SetLogger(logger Logger) {
	d.logger = logger
}

// RefreshCache reloads every device from the repository.
func (d *Directory) RefreshCache(ctx context.Context) error {
	devices, err := d.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	byID := make(map[int64]Address, len(devices))
	byNo := make(map[int][]int64, len(devices))
	for i := range devices {
		dev := &devices[i]
		byID[dev.ID] = d.addressOf(dev)
		if dev.DeviceNo > 0 {
			byNo[dev.DeviceNo] = append(byNo[dev.DeviceNo], dev.ID)
		}
	}

	for no, ids := range byNo {
		if len(ids) > 1 {
			d.logger.Warn("device number shared by several devices", "device_no", no, "device_ids", ids)
		}
	}

	d.mu.Lock()
	d.byID, d.byNo, d.ready = byID, byNo, true
	d.mu.Unlock()

	d.logger.Info("device directory refreshed", "count", len(devices))
	return nil
}

// Observe records the current address of a device, e.g. after a device
// reported its number for the first time.
func (d *Directory) Observe(dev *Device) {
	addr := d.addressOf(dev)

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.byID[dev.ID]; ok && prev.DeviceNo != addr.DeviceNo {
		d.byNo[prev.DeviceNo] = removeID(d.byNo[prev.DeviceNo], dev.ID)
		if len(d.byNo[prev.DeviceNo]) == 0 {
			delete(d.byNo, prev.DeviceNo)
		}
	}
	d.byID[dev.ID] = addr
	if addr.DeviceNo > 0 && !containsID(d.byNo[addr.DeviceNo], dev.ID) {
		d.byNo[addr.DeviceNo] = append(d.byNo[addr.DeviceNo], dev.ID)
	}
}

// AddressOf returns the broker address of a device.
// Returns ErrNoDeviceNo if the device has never been given a number, and
// ErrAmbiguousDeviceNo if another record carries the same number.
func (d *Directory) AddressOf(ctx context.Context, id int64) (Address, error) {
	d.mu.RLock()
	addr, ok := d.byID[id]
	d.mu.RUnlock()

	if !ok || addr.DeviceNo == 0 {
		dev, err := d.repo.GetByID(ctx, id)
		if err != nil {
			return Address{}, err
		}
		d.Observe(dev)
		addr = d.addressOf(dev)
	}

	if addr.DeviceNo == 0 {
		return Address{}, fmt.Errorf("%w: device %d", ErrNoDeviceNo, id)
	}
	if err := d.checkUnique(ctx, addr.DeviceNo); err != nil {
		d.logger.Warn("refusing address shared by several devices", "device_id", id, "device_no", addr.DeviceNo)
		return Address{}, fmt.Errorf("device %d: %w", id, err)
	}
	return addr, nil
}

// checkUnique fails with ErrAmbiguousDeviceNo when more than one record
// carries deviceNo. Before the first refresh the repository decides.
func (d *Directory) checkUnique(ctx context.Context, deviceNo int) error {
	d.mu.RLock()
	holders := len(d.byNo[deviceNo])
	ready := d.ready
	d.mu.RUnlock()

	if holders > 1 {
		return fmt.Errorf("%w: device number %d", ErrAmbiguousDeviceNo, deviceNo)
	}
	if ready {
		return nil
	}
	if _, err := d.repo.GetByDeviceNo(ctx, deviceNo); errors.Is(err, ErrAmbiguousDeviceNo) {
		return err
	}
	return nil
}

// ResolveDeviceNo returns the id of the single device carrying deviceNo.
//
// An ambiguous number returns ErrAmbiguousDeviceNo and is logged as a
// warning; callers must not update any record in that case.
func (d *Directory) ResolveDeviceNo(ctx context.Context, deviceNo int) (int64, error) {
	d.mu.RLock()
	ids := d.byNo[deviceNo]
	ready := d.ready
	d.mu.RUnlock()

	switch {
	case len(ids) == 1:
		return ids[0], nil
	case len(ids) > 1:
		d.logger.Warn("ambiguous device number", "device_no", deviceNo, "device_ids", ids)
		return 0, fmt.Errorf("%w: device number %d", ErrAmbiguousDeviceNo, deviceNo)
	}

	dev, err := d.repo.GetByDeviceNo(ctx, deviceNo)
	if err != nil {
		if errors.Is(err, ErrAmbiguousDeviceNo) {
			d.logger.Warn("ambiguous device number", "device_no", deviceNo)
		} else if errors.Is(err, ErrDeviceNotFound) && ready {
			d.logger.Debug("device number not registered", "device_no", deviceNo)
		}
		return 0, err
	}
	d.Observe(dev)
	return dev.ID, nil
}

func (d *Directory) addressOf(dev *Device) Address {
	t := dev.DeviceType
	if t == "" {
		t = d.defaultDeviceType
	}
	return Address{DeviceType: t, DeviceNo: dev.DeviceNo}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Seed inserts every device that does not exist yet and returns how many
// were created. Existing records are left untouched.
func Seed(ctx context.Context, repo Repository, devices []Device) (int, error) {
	created := 0
	for i := range devices {
		dev := devices[i]
		err := repo.Create(ctx, &dev)
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDeviceExists):
		default:
			return created, fmt.Errorf("seeding device %d: %w", dev.ID, err)
		}
	}
	return created, nil
}
