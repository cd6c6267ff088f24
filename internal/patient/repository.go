package patient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the patient data the dispatch flow needs.
type Repository interface {
	// GetPatient returns ErrPatientNotFound if the patient does not exist.
	GetPatient(ctx context.Context, id int64) (*Patient, error)

	// CreatePatient inserts a patient.
	CreatePatient(ctx context.Context, p *Patient) error

	// LatestThreshold returns the newest threshold for a patient, or
	// ErrNoThreshold.
	LatestThreshold(ctx context.Context, patientID int64) (*Threshold, error)

	// SaveThreshold appends a threshold. It returns ErrPatientNotFound if
	// the patient does not exist.
	SaveThreshold(ctx context.Context, t *Threshold) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new patient repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetPatient retrieves a patient by id.
func (r *SQLiteRepository) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	var (
		p         Patient
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM patients WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying patient: %w", err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

// CreatePatient inserts a patient.
func (r *SQLiteRepository) CreatePatient(ctx context.Context, p *Patient) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO patients (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting patient: %w", err)
	}
	return nil
}

// LatestThreshold returns the newest threshold for a patient.
func (r *SQLiteRepository) LatestThreshold(ctx context.Context, patientID int64) (*Threshold, error) {
	var (
		t          Threshold
		deviceID   sql.NullInt64
		source     string
		measuredAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, patient_id, device_id, intensity_ma, frequency_hz,
		       pulse_width_us, duration_min, source, measured_at
		FROM patient_thresholds
		WHERE patient_id = ?
		ORDER BY measured_at DESC, id DESC
		LIMIT 1`, patientID,
	).Scan(&t.ID, &t.PatientID, &deviceID, &t.IntensityMA, &t.FrequencyHz,
		&t.PulseWidthUS, &t.DurationMin, &source, &measuredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoThreshold
	}
	if err != nil {
		return nil, fmt.Errorf("querying threshold: %w", err)
	}

	if deviceID.Valid {
		id := deviceID.Int64
		t.DeviceID = &id
	}
	t.Source = Source(source)
	if t.MeasuredAt, err = time.Parse(time.RFC3339, measuredAt); err != nil {
		return nil, fmt.Errorf("parsing measured_at: %w", err)
	}
	return &t, nil
}

// SaveThreshold appends a threshold for a patient.
func (r *SQLiteRepository) SaveThreshold(ctx context.Context, t *Threshold) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Source == "" {
		t.Source = SourceClinician
	}
	if t.MeasuredAt.IsZero() {
		t.MeasuredAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO patient_thresholds (
			patient_id, device_id, intensity_ma, frequency_hz,
			pulse_width_us, duration_min, source, measured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PatientID, t.DeviceID, t.IntensityMA, t.FrequencyHz,
		t.PulseWidthUS, t.DurationMin, string(t.Source), t.MeasuredAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrPatientNotFound
		}
		return fmt.Errorf("inserting threshold: %w", err)
	}
	if t.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("reading threshold id: %w", err)
	}
	return nil
}

func isForeignKeyError(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
