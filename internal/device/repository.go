package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines device persistence operations.
type Repository interface {
	// GetByID retrieves a device by its primary key.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id int64) (*Device, error)

	// GetByDeviceNo retrieves the single device carrying a device number.
	// Returns ErrDeviceNotFound when none match and ErrAmbiguousDeviceNo
	// when more than one does.
	GetByDeviceNo(ctx context.Context, deviceNo int) (*Device, error)

	// List retrieves all devices ordered by id.
	List(ctx context.Context) ([]Device, error)

	// ListByStatus retrieves all devices with the given presence status.
	ListByStatus(ctx context.Context, status Status) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the id is taken.
	Create(ctx context.Context, device *Device) error

	// SavePresence writes the presence-related columns of a device: status,
	// last heartbeat, counters, treatment flag, extensions and device number.
	// Returns ErrDeviceNotFound if the device does not exist.
	SavePresence(ctx context.Context, device *Device) error

	// SetTreatmentStatus updates only the treatment flag.
	SetTreatmentStatus(ctx context.Context, id int64, status TreatmentStatus) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
	SELECT id, device_no, name, device_type, status, last_heartbeat_at,
		usage_count, usage_minutes, treatment_status, extensions,
		created_at, updated_at
	FROM devices`

// GetByID retrieves a device by its primary key.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+` WHERE id = ?`, id)
	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetByDeviceNo retrieves the single device carrying a device number.
func (r *SQLiteRepository) GetByDeviceNo(ctx context.Context, deviceNo int) (*Device, error) {
	if deviceNo <= 0 {
		return nil, ErrDeviceNotFound
	}

	// Two rows are enough to detect ambiguity.
	devices, err := r.queryDevices(ctx, selectDevice+` WHERE device_no = ? ORDER BY id LIMIT 2`, deviceNo)
	if err != nil {
		return nil, fmt.Errorf("querying device by number: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, ErrDeviceNotFound
	case 1:
		return &devices[0], nil
	default:
		return nil, fmt.Errorf("%w: device number %d", ErrAmbiguousDeviceNo, deviceNo)
	}
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` ORDER BY id`)
}

// ListByStatus retrieves all devices with the given presence status.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` WHERE status = ? ORDER BY id`, string(status))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if err := device.Validate(); err != nil {
		return err
	}
	if device.Status == "" {
		device.Status = StatusUnknown
	}

	extJSON, err := marshalExtensions(device.Extensions)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (
			id, device_no, name, device_type, status, last_heartbeat_at,
			usage_count, usage_minutes, treatment_status, extensions,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.DeviceNo,
		device.Name,
		device.DeviceType,
		string(device.Status),
		nullableTime(device.LastHeartbeatAt),
		device.UsageCount,
		device.UsageMinutes,
		int(device.TreatmentStatus),
		extJSON,
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// SavePresence writes the presence-related columns of a device.
func (r *SQLiteRepository) SavePresence(ctx context.Context, device *Device) error {
	extJSON, err := marshalExtensions(device.Extensions)
	if err != nil {
		return err
	}

	device.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			device_no = ?, status = ?, last_heartbeat_at = ?,
			usage_count = ?, usage_minutes = ?, treatment_status = ?,
			extensions = ?, updated_at = ?
		WHERE id = ?`,
		device.DeviceNo,
		string(device.Status),
		nullableTime(device.LastHeartbeatAt),
		device.UsageCount,
		device.UsageMinutes,
		int(device.TreatmentStatus),
		extJSON,
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device presence: %w", err)
	}
	return requireOneRow(result)
}

// SetTreatmentStatus updates only the treatment flag.
func (r *SQLiteRepository) SetTreatmentStatus(ctx context.Context, id int64, status TreatmentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: treatment status %d", ErrInvalidDevice, status)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET treatment_status = ?, updated_at = ? WHERE id = ?`,
		int(status), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating treatment status: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var status, extJSON, createdAt, updatedAt string
	var lastHeartbeat sql.NullString
	var treatment int

	if err := scanner.Scan(
		&d.ID, &d.DeviceNo, &d.Name, &d.DeviceType, &status, &lastHeartbeat,
		&d.UsageCount, &d.UsageMinutes, &treatment, &extJSON,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.TreatmentStatus = TreatmentStatus(treatment)

	if lastHeartbeat.Valid {
		t, err := time.Parse(time.RFC3339, lastHeartbeat.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_heartbeat_at: %w", err)
		}
		d.LastHeartbeatAt = &t
	}

	if extJSON != "" && extJSON != "{}" {
		if err := json.Unmarshal([]byte(extJSON), &d.Extensions); err != nil {
			return nil, fmt.Errorf("unmarshalling extensions: %w", err)
		}
	}

	// Timestamps are written by this package in RFC3339.
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled

	return &d, nil
}

func marshalExtensions(ext map[string]any) (string, error) {
	if len(ext) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(ext)
	if err != nil {
		return "", fmt.Errorf("marshalling extensions: %w", err)
	}
	return string(b), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func isUniqueConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
